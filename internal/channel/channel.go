// Package channel implements §4.4's ChannelManager: the per-renderer
// channel registry, detail/mini/global classification, and the full
// subscribe/unsubscribe protocol (parallel rate-limited REST fetches,
// MarketStreamManager registration, depth-view toggling).
//
// Grounded on internal/binance/kline_subscription_manager.go's per-symbol
// map-of-sets bookkeeping style (RWMutex-guarded map, accessor methods
// returning copies), generalized to the channelId-keyed registry §3/§4.4
// specify, with the actual stream multiplexing delegated to streammanager.
package channel

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/koshedutech/market-broker/internal/depthcache"
	"github.com/koshedutech/market-broker/internal/downstream/protocol"
	"github.com/koshedutech/market-broker/internal/logging"
	"github.com/koshedutech/market-broker/internal/ratelimiter"
	"github.com/koshedutech/market-broker/internal/restclient"
	"github.com/koshedutech/market-broker/internal/streammanager"
)

// Channel is a single renderer's named stream subscription, per §3.
type Channel struct {
	ID        string
	Type      protocol.ChannelType
	Symbol    string
	Interval  string
	CreatedAt time.Time
	Depth     *depthcache.DepthCache // non-nil only for detail channels
}

// ID builds §3's deterministic channel id: "<type>-<SYMBOL>-<interval>".
func ID(t protocol.ChannelType, symbol, interval string) string {
	return fmt.Sprintf("%s-%s-%s", t, strings.ToUpper(symbol), interval)
}

// Sender delivers an outbound frame to the owning renderer's socket.
type Sender interface {
	Send(msg protocol.Outbound)
}

// Manager is one renderer's ChannelManager, owning a MarketStreamManager.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]*Channel
	detailID string

	stream  *streammanager.Manager
	rest    restclient.Client
	limiter *ratelimiter.RateLimiter
	sender  Sender
	logger  *logging.Logger
}

// New builds a Manager. It wires itself as the MarketStreamManager's Sink.
func New(streamCfg streammanager.Config, dial streammanager.Dialer, rest restclient.Client, limiter *ratelimiter.RateLimiter, sender Sender) *Manager {
	m := &Manager{
		channels: make(map[string]*Channel),
		rest:     rest,
		limiter:  limiter,
		sender:   sender,
		logger:   logging.WithComponent("channel"),
	}
	m.stream = streammanager.New(streamCfg, dial, m)
	return m
}

// Stream returns the owned MarketStreamManager, for supervisors that need to
// drive it directly (e.g. at renderer teardown).
func (m *Manager) Stream() *streammanager.Manager { return m.stream }

// GetChannel returns the channel by id.
func (m *Manager) GetChannel(id string) (*Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.channels[id]
	return c, ok
}

// HasChannel reports whether id is registered.
func (m *Manager) HasChannel(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.channels[id]
	return ok
}

// GetChannelsByType returns every channel of the given type.
func (m *Manager) GetChannelsByType(t protocol.ChannelType) []*Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Channel
	for _, c := range m.channels {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

// GetDetailChannel returns the renderer's current detail channel, if any.
func (m *Manager) GetDetailChannel() (*Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.detailID == "" {
		return nil, false
	}
	c, ok := m.channels[m.detailID]
	return c, ok
}

// GetChannelIDs returns every registered channel id.
func (m *Manager) GetChannelIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.channels))
	for id := range m.channels {
		ids = append(ids, id)
	}
	return ids
}

// createChannel replaces any existing entry at id with a fresh Channel.
func (m *Manager) createChannel(id string, t protocol.ChannelType, symbol, interval string) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.channels, id)
	c := &Channel{ID: id, Type: t, Symbol: symbol, Interval: interval, CreatedAt: time.Now()}
	if t == protocol.ChannelDetail {
		c.Depth = depthcache.New()
	}
	m.channels[id] = c
	if t == protocol.ChannelDetail {
		m.detailID = id
	}
	return c
}

// removeChannel drops id from the registry.
func (m *Manager) removeChannel(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, id)
	if m.detailID == id {
		m.detailID = ""
	}
}

// Cleanup removes every channel and tears down the owned MarketStreamManager.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	m.channels = make(map[string]*Channel)
	m.detailID = ""
	m.mu.Unlock()
	m.stream.Close()
}
