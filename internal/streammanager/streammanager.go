// Package streammanager implements §4.3's MarketStreamManager: the single
// consolidated upstream market socket carrying the union of every kline
// stream any channel needs, plus (optionally) the trade/depth pair for one
// "depth view" symbol, with debounced reconnection whenever that union
// changes.
//
// Grounded on internal/binance/kline_subscription_manager.go's symbol/set
// bookkeeping (generalized from its per-symbol timeframe sets to the
// streamName->channelId sets §3's StreamSubscription calls for) and
// internal/binance/user_data_stream.go's dial/read/reconnect loop shape
// (mutex-protected state, stopChan, linear-backoff retry goroutine) — ported
// from a single fixed listen-key URL to a combined-stream URL that is
// recomputed on every reconnect.
package streammanager

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/koshedutech/market-broker/internal/brokererr"
	"github.com/koshedutech/market-broker/internal/depthcache"
	"github.com/koshedutech/market-broker/internal/logging"
)

// Conn is the subset of a websocket connection the manager needs, so tests
// can substitute a fake without dialing a real socket.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens a Conn to url. The production Dialer wraps
// gorilla/websocket.DefaultDialer; tests inject a fake.
type Dialer func(ctx context.Context, url string) (Conn, error)

// Candle mirrors §3's Candle shape.
type Candle struct {
	Time    int64
	Open    float64
	High    float64
	Low     float64
	Close   float64
	Volume  float64
	IsFinal bool
}

// Trade is a single public trade print.
type Trade struct {
	Price        string
	Quantity     string
	TradeTime    int64
	IsBuyerMaker bool
}

// Sink is how the manager reports routed frames and resolves the
// stale-message guard. ChannelManager implements this; the interface lives
// here (the consumer) rather than in channel, so the two packages don't
// import each other. It deliberately does not expose the current detail
// channel/symbol — §4.3 keeps that bookkeeping (detailSymbol) inside the
// manager itself via SetDetailSymbol/ClearDetailSymbol, since it governs
// routing decisions the manager makes before ever calling into Sink.
type Sink interface {
	// ChannelSymbolInterval returns the (symbol, interval) a channel is
	// currently subscribed to, for the kline stale-message guard.
	ChannelSymbolInterval(channelID string) (symbol, interval string, ok bool)
	// ApplyDepthUpdate routes u into channelID's DepthCache.
	ApplyDepthUpdate(channelID string, u depthcache.Update) (depthcache.Formatted, bool)

	EmitChart(channelID string, candle Candle)
	EmitTrade(channelID string, trade Trade)
	EmitDepth(channelID string, formatted depthcache.Formatted)
}

// Config holds the manager's timing knobs, all defaulted to §4.3's values.
type Config struct {
	WSBaseURL          string
	DebounceDelay      time.Duration // default 2000ms
	MaxConnectAttempts int           // default 3
	BackoffBase        time.Duration // default 2s (waits 2s, then 4s, between the 3 attempts)
	AbnormalCloseDelay time.Duration // default 3000ms
}

func (c *Config) setDefaults() {
	if c.DebounceDelay <= 0 {
		c.DebounceDelay = 2000 * time.Millisecond
	}
	if c.MaxConnectAttempts <= 0 {
		c.MaxConnectAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.AbnormalCloseDelay <= 0 {
		c.AbnormalCloseDelay = 3000 * time.Millisecond
	}
}

// Manager implements §4.3's MarketStreamManager.
type Manager struct {
	cfg    Config
	dial   Dialer
	sink   Sink
	logger *logging.Logger

	mu               sync.Mutex
	klineStreams     map[string]map[string]bool // streamName -> set<channelId>
	detailChannelID  string
	detailSymbol     string
	depthViewEnabled bool
	depthViewSymbol  string
	connectedStreams []string
	conn             Conn
	generation       uint64 // bumped on every reconnect to invalidate stale readLoops
	reconnectTimer   *time.Timer
	closed           bool
}

// New builds a Manager. sink must not be nil. A nil dial keeps the stream
// bookkeeping but never opens a socket.
func New(cfg Config, dial Dialer, sink Sink) *Manager {
	cfg.setDefaults()
	return &Manager{
		cfg:          cfg,
		dial:         dial,
		sink:         sink,
		logger:       logging.WithComponent("streammanager"),
		klineStreams: make(map[string]map[string]bool),
	}
}

func klineStreamName(symbol, interval string) string {
	return fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), interval)
}

func tradeStreamName(symbol string) string {
	return fmt.Sprintf("%s@trade", strings.ToLower(symbol))
}

func depthStreamName(symbol string) string {
	return fmt.Sprintf("%s@depth@100ms", strings.ToLower(symbol))
}

// AddKlineStream registers channelID's interest in (symbol, interval).
func (m *Manager) AddKlineStream(channelID, symbol, interval string) {
	name := klineStreamName(symbol, interval)

	m.mu.Lock()
	set, ok := m.klineStreams[name]
	if !ok {
		set = make(map[string]bool)
		m.klineStreams[name] = set
	}
	changed := !set[channelID]
	set[channelID] = true
	m.mu.Unlock()

	if changed {
		m.scheduleReconnect()
	}
}

// RemoveKlineStream removes channelID's interest in (symbol, interval),
// dropping the stream entry entirely once its set empties.
func (m *Manager) RemoveKlineStream(channelID, symbol, interval string) {
	name := klineStreamName(symbol, interval)

	m.mu.Lock()
	changed := false
	if set, ok := m.klineStreams[name]; ok {
		if set[channelID] {
			delete(set, channelID)
			changed = true
		}
		if len(set) == 0 {
			delete(m.klineStreams, name)
		}
	}
	m.mu.Unlock()

	if changed {
		m.scheduleReconnect()
	}
}

// RemoveChannelStreams removes channelID from every stream's subscriber set.
func (m *Manager) RemoveChannelStreams(channelID string) {
	m.mu.Lock()
	changed := false
	for name, set := range m.klineStreams {
		if set[channelID] {
			delete(set, channelID)
			changed = true
		}
		if len(set) == 0 {
			delete(m.klineStreams, name)
		}
	}
	m.mu.Unlock()

	if changed {
		m.scheduleReconnect()
	}
}

// SetDetailSymbol records the renderer's current detail channel and symbol.
// Bookkeeping only — per §4.3 it does not change the stream set or trigger
// a reconnect.
func (m *Manager) SetDetailSymbol(channelID, symbol string) {
	m.mu.Lock()
	m.detailChannelID = channelID
	m.detailSymbol = symbol
	m.mu.Unlock()
}

// ClearDetailSymbol clears the detail bookkeeping and implicitly disables
// depth view, per §4.3.
func (m *Manager) ClearDetailSymbol() {
	m.mu.Lock()
	m.detailChannelID = ""
	m.detailSymbol = ""
	m.mu.Unlock()
	m.DisableDepthView()
}

// DetailChannel returns the current detail channel id and symbol, for
// diagnostics and tests.
func (m *Manager) DetailChannel() (channelID, symbol string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.detailChannelID == "" {
		return "", "", false
	}
	return m.detailChannelID, m.detailSymbol, true
}

// EnableDepthView turns on the trade+depth pair for symbol. No-op if already
// enabled for the same symbol.
func (m *Manager) EnableDepthView(symbol string) {
	m.mu.Lock()
	if m.depthViewEnabled && m.depthViewSymbol == symbol {
		m.mu.Unlock()
		return
	}
	m.depthViewEnabled = true
	m.depthViewSymbol = symbol
	m.mu.Unlock()

	m.scheduleReconnect()
}

// DisableDepthView turns off the trade+depth pair.
func (m *Manager) DisableDepthView() {
	m.mu.Lock()
	if !m.depthViewEnabled {
		m.mu.Unlock()
		return
	}
	m.depthViewEnabled = false
	m.depthViewSymbol = ""
	m.mu.Unlock()

	m.scheduleReconnect()
}

// DepthViewEnabled reports whether the trade+depth pair is currently on.
func (m *Manager) DepthViewEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.depthViewEnabled
}

// desiredStreams returns the sorted union of kline streams plus the depth
// view pair, if enabled. Caller must hold m.mu.
func (m *Manager) desiredStreamsLocked() []string {
	streams := make([]string, 0, len(m.klineStreams)+2)
	for name := range m.klineStreams {
		streams = append(streams, name)
	}
	if m.depthViewEnabled && m.depthViewSymbol != "" {
		streams = append(streams, tradeStreamName(m.depthViewSymbol), depthStreamName(m.depthViewSymbol))
	}
	sort.Strings(streams)
	return streams
}

// DesiredStreams returns the current desired stream set, sorted. Exposed for
// tests and diagnostics.
func (m *Manager) DesiredStreams() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.desiredStreamsLocked()
}

// ConnectedStreams returns the stream set of the live socket, or nil.
func (m *Manager) ConnectedStreams() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.connectedStreams))
	copy(out, m.connectedStreams)
	return out
}

func streamsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// scheduleReconnect (re)sets the debounce timer; on fire it calls reconcile.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}
	m.reconnectTimer = time.AfterFunc(m.cfg.DebounceDelay, m.reconcile)
}

// reconcile computes the desired stream set and, if it differs from what's
// live (or nothing is live), swaps the socket.
func (m *Manager) reconcile() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	desired := m.desiredStreamsLocked()
	live := m.conn != nil
	unchanged := live && streamsEqual(desired, m.connectedStreams)
	m.mu.Unlock()

	if unchanged {
		return
	}

	m.mu.Lock()
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.generation++
	gen := m.generation
	m.mu.Unlock()

	if len(desired) == 0 {
		m.mu.Lock()
		m.connectedStreams = nil
		m.mu.Unlock()
		return
	}

	go m.connectWithRetry(gen, desired)
}

// connectWithRetry dials up to cfg.MaxConnectAttempts times with linear
// backoff (attempt n waits n*BackoffBase before the next one: 2s, then 4s
// with the defaults), retrying only on transient errors.
func (m *Manager) connectWithRetry(gen uint64, streams []string) {
	if m.dial == nil {
		return
	}
	url := m.cfg.WSBaseURL + "/stream?streams=" + strings.Join(streams, "/")

	var conn Conn
	var err error
	for attempt := 1; attempt <= m.cfg.MaxConnectAttempts; attempt++ {
		conn, err = m.dial(context.Background(), url)
		if err == nil {
			break
		}
		if !brokererr.IsTransient(brokererr.Classify(err)) {
			m.logger.Error("market socket dial failed, non-transient", "error", err.Error())
			return
		}
		if attempt == m.cfg.MaxConnectAttempts {
			m.logger.Error("market socket dial exhausted retries", "attempts", attempt, "error", err.Error())
			return
		}
		time.Sleep(time.Duration(attempt) * m.cfg.BackoffBase)
	}
	if err != nil {
		return
	}

	m.mu.Lock()
	if m.closed || gen != m.generation {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conn = conn
	m.connectedStreams = streams
	m.mu.Unlock()

	m.logger.Info("market socket connected", "streams", len(streams))
	go m.readLoop(gen, conn)
}

// readLoop reads frames from conn until it errors, then decides whether an
// abnormal close warrants a reconnect.
func (m *Manager) readLoop(gen uint64, conn Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			m.onSocketClosed(gen)
			return
		}
		m.handleMessage(message)
	}
}

func (m *Manager) onSocketClosed(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	desiredNonEmpty := len(m.desiredStreamsLocked()) > 0
	m.mu.Unlock()

	if !desiredNonEmpty {
		return
	}

	m.logger.Warn("market socket closed abnormally, scheduling reconnect")
	time.AfterFunc(m.cfg.AbnormalCloseDelay, m.reconcile)
}

// Close tears the manager down permanently; no further reconnects fire.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}
