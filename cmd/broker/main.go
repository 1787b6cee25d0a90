package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/koshedutech/market-broker/config"
	"github.com/koshedutech/market-broker/internal/adminserver"
	"github.com/koshedutech/market-broker/internal/broker"
	"github.com/koshedutech/market-broker/internal/downstream"
	"github.com/koshedutech/market-broker/internal/events"
	"github.com/koshedutech/market-broker/internal/logging"
	"github.com/koshedutech/market-broker/internal/mockexchange"
	"github.com/koshedutech/market-broker/internal/proxydial"
	"github.com/koshedutech/market-broker/internal/ratelimiter"
	"github.com/koshedutech/market-broker/internal/restclient"
	"github.com/koshedutech/market-broker/internal/statemirror"
	"github.com/koshedutech/market-broker/internal/streammanager"
	"github.com/koshedutech/market-broker/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(&logging.Config{
		Level:       cfg.Logging.Level,
		Output:      cfg.Logging.Output,
		JSONFormat:  cfg.Logging.JSONFormat,
		IncludeFile: cfg.Logging.IncludeFile,
		Component:   "main",
	})
	logger.RegisterSecret(cfg.Binance.APIKey)
	logger.RegisterSecret(cfg.Binance.SecretKey)
	logging.SetDefault(logger)
	logger.Info("structured logging initialized")

	eventBus := events.NewBus()
	eventBus.SubscribeAll(func(ev events.Event) {
		logger.Debug("event published", "type", ev.Type)
	})
	logger.Info("event bus initialized")

	httpClient, err := proxydial.NewHTTPClient(proxydial.Config{ProxyURL: cfg.Proxy.URL})
	if err != nil {
		log.Fatalf("Failed to build outbound HTTP client: %v", err)
	}

	var rest restclient.Client
	if cfg.IsMockMode() {
		rest = mockexchange.New()
		logger.Info("running in mock mode — no Binance API credentials configured")
	} else {
		rest = restclient.NewHTTPClient(cfg.Binance.APIKey, cfg.Binance.SecretKey, cfg.Binance.BaseURL, httpClient)
		logger.Info("REST client configured", "base_url", cfg.Binance.BaseURL)
	}

	limiter := ratelimiter.New(ratelimiter.DefaultConfig())

	hub := downstream.NewHub()
	hub.SetEvents(eventBus)

	state := broker.New(broker.Config{
		Rest:         rest,
		Limiter:      limiter,
		Hub:          hub,
		WSBaseURL:    cfg.Binance.WSBaseURL,
		MarketDial:   marketDial,
		UpstreamDial: upstreamDial,
		Events:       eventBus,
	})

	server := downstream.NewServer(hub, rest, limiter, marketDial, cfg.Binance.WSBaseURL, downstream.LifecycleHooks{
		OnJoined: state.OnRendererJoined,
		OnLeft:   state.OnRendererLeft,
	})

	wsAddr := fmt.Sprintf(":%d", cfg.Server.WSPort)
	wsServer := &http.Server{Addr: wsAddr, Handler: server.Handler()}

	go func() {
		logger.Info("renderer websocket listening", "addr", wsAddr)
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("websocket server failed: %v", err)
		}
	}()

	admin := adminserver.New(fmt.Sprintf(":%d", cfg.Server.WSPort+1), hub, state.TickerCache, time.Now())
	go func() {
		if err := admin.Start(); err != nil {
			logger.Warn("admin server stopped", "error", err)
		}
	}()

	var mirror *statemirror.Mirror
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		instanceID := os.Getenv("HOSTNAME")
		if instanceID == "" {
			instanceID = "standalone"
		}
		mirror = statemirror.New(redisClient, instanceID)
		mirror.Start(context.Background(), hub.Count)
		logger.Info("renderer count mirror started", "redis_addr", cfg.Redis.Addr, "instance_id", instanceID)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error shutting down websocket server", "error", err)
	}
	if err := admin.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error shutting down admin server", "error", err)
	}
	if mirror != nil {
		mirror.Stop()
	}

	logger.Info("shutdown complete")
}

// marketDial implements streammanager.Dialer over a plain gorilla/websocket
// connection, grounded on internal/binance/user_data_stream.go's
// websocket.DefaultDialer.Dial(wsURL, nil) usage.
func marketDial(ctx context.Context, url string) (streammanager.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// upstreamDial is the same dial behavior typed for the upstream package's
// global ticker/user-data supervisors.
func upstreamDial(ctx context.Context, url string) (upstream.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
