// Package broker implements the process-wide BrokerState orchestrator:
// shared ownership of the REST client and the two global upstream
// supervisors (ticker, user-data), initialized on the first renderer and
// torn down once the last one disconnects, per §3's Ownership note and
// §5's shared-resource discipline.
package broker

import (
	"context"
	"sync"

	"github.com/koshedutech/market-broker/internal/downstream"
	"github.com/koshedutech/market-broker/internal/events"
	"github.com/koshedutech/market-broker/internal/logging"
	"github.com/koshedutech/market-broker/internal/ratelimiter"
	"github.com/koshedutech/market-broker/internal/restclient"
	"github.com/koshedutech/market-broker/internal/streammanager"
	"github.com/koshedutech/market-broker/internal/tickercache"
	"github.com/koshedutech/market-broker/internal/upstream"
)

// Config carries everything State needs to build per-renderer components
// and the shared upstream supervisors.
type Config struct {
	Rest         restclient.Client
	Limiter      *ratelimiter.RateLimiter
	Hub          *downstream.Hub
	WSBaseURL    string
	MarketDial   streammanager.Dialer
	UpstreamDial upstream.Dialer
	Events       *events.Bus // optional; nil disables lifecycle event publishing
}

// State is the process-wide broker orchestrator. Exactly one per process.
type State struct {
	cfg         Config
	Hub         *downstream.Hub
	TickerCache *tickercache.Cache
	gate        *upstream.Gate

	mu                       sync.Mutex
	globalSocketsInitialized bool
	ticker                   *upstream.TickerSupervisor
	userData                 *upstream.UserDataSupervisor
	ctx                      context.Context
	cancel                   context.CancelFunc

	log *logging.Logger
}

// New builds a State. Upstream sockets are not connected until the first
// renderer joins.
func New(cfg Config) *State {
	return &State{
		cfg:         cfg,
		Hub:         cfg.Hub,
		TickerCache: tickercache.New(),
		gate:        upstream.NewGate(0),
		log:         logging.WithComponent("broker"),
	}
}

// OnRendererJoined runs §4.7's "init on first renderer" step. Call this after
// registering the renderer with the Hub.
func (s *State) OnRendererJoined(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.globalSocketsInitialized {
		return
	}
	s.globalSocketsInitialized = true

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.ticker = upstream.NewTickerSupervisor(s.cfg.WSBaseURL, s.cfg.UpstreamDial, s.gate, s.TickerCache, s.Hub, s.Hub.Count)
	s.userData = upstream.NewUserDataSupervisor(s.cfg.WSBaseURL, s.cfg.UpstreamDial, s.gate, s.cfg.Rest, s.cfg.Limiter, s.Hub, s.Hub.Count)

	s.ticker.Start(s.ctx)
	s.userData.Start(s.ctx)
	s.log.Info("upstream sockets initialized on first renderer")
	s.publish(events.UpstreamConnected, nil)
}

// OnRendererLeft runs the "teardown on last renderer leaves" step. Call this
// after unregistering the renderer from the Hub.
func (s *State) OnRendererLeft() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.globalSocketsInitialized || s.Hub.Count() > 0 {
		return
	}
	s.globalSocketsInitialized = false

	if s.cancel != nil {
		s.cancel()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	if s.userData != nil {
		s.userData.Stop()
	}
	s.log.Info("upstream sockets torn down, no renderers remain")
	s.publish(events.UpstreamDisconnected, nil)
}

// publish fans out a lifecycle event if an events.Bus was configured.
func (s *State) publish(t events.Type, data map[string]interface{}) {
	if s.cfg.Events == nil {
		return
	}
	s.cfg.Events.Publish(events.Event{Type: t, Data: data})
}

// Rest returns the shared REST client, for per-renderer ChannelManagers.
func (s *State) Rest() restclient.Client { return s.cfg.Rest }

// Limiter returns the shared RateLimiter, for per-renderer ChannelManagers.
func (s *State) Limiter() *ratelimiter.RateLimiter { return s.cfg.Limiter }

// MarketDial returns the dialer each renderer's MarketStreamManager uses.
func (s *State) MarketDial() streammanager.Dialer { return s.cfg.MarketDial }

// WSBaseURL returns the upstream exchange's websocket base URL.
func (s *State) WSBaseURL() string { return s.cfg.WSBaseURL }
