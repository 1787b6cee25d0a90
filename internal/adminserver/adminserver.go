// Package adminserver is a small HTTP surface alongside the renderer-facing
// websocket listener, exposing /healthz and /status for operators and load
// balancers. It carries no trading functionality of its own.
//
// Grounded on internal/api/server.go's gin.New + gin.Logger/gin.Recovery +
// permissive cors.New setup and its Start/Shutdown pair.
package adminserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/koshedutech/market-broker/internal/downstream"
	"github.com/koshedutech/market-broker/internal/logging"
	"github.com/koshedutech/market-broker/internal/tickercache"
)

// Server is the admin HTTP listener.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	addr       string
	log        *logging.Logger
}

// New builds a Server bound to addr, reporting on hub and cache.
func New(addr string, hub *downstream.Hub, cache *tickercache.Cache, startedAt time.Time) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true // §6: the broker's own websocket accepts any origin, same posture here
	corsConfig.AllowMethods = []string{"GET"}
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"renderers":       hub.Count(),
			"symbols_tracked": cache.Len(),
			"uptime_seconds":  time.Since(startedAt).Seconds(),
		})
	})

	return &Server{router: router, addr: addr, log: logging.WithComponent("adminserver")}
}

// Start blocks serving HTTP until the server is shut down.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	s.log.Info("admin server listening", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("adminserver: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
