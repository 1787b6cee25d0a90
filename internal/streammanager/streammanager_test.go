package streammanager

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/koshedutech/market-broker/internal/depthcache"
)

// fakeSink is a minimal Sink recording what the manager tells it.
type fakeSink struct {
	mu          sync.Mutex
	channels    map[string][2]string // channelID -> [symbol, interval]
	charts      []string // channelIDs that received a chart emit
	trades      []string
	depthEmits  []string
	depthCaches map[string]*depthcache.DepthCache
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		channels:    make(map[string][2]string),
		depthCaches: make(map[string]*depthcache.DepthCache),
	}
}

func (s *fakeSink) setChannel(id, symbol, interval string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[id] = [2]string{symbol, interval}
}

func (s *fakeSink) setDetail(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.depthCaches[id]; !ok {
		s.depthCaches[id] = depthcache.New()
		s.depthCaches[id].ApplySnapshot(depthcache.Snapshot{LastUpdateID: 0})
	}
}

func (s *fakeSink) ChannelSymbolInterval(channelID string) (string, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.channels[channelID]
	if !ok {
		return "", "", false
	}
	return v[0], v[1], true
}

func (s *fakeSink) ApplyDepthUpdate(channelID string, u depthcache.Update) (depthcache.Formatted, bool) {
	s.mu.Lock()
	dc := s.depthCaches[channelID]
	s.mu.Unlock()
	if dc == nil {
		return depthcache.Formatted{}, false
	}
	applied := dc.ApplyUpdate(u)
	return dc.Formatted(), applied
}

func (s *fakeSink) EmitChart(channelID string, candle Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.charts = append(s.charts, channelID)
}

func (s *fakeSink) EmitTrade(channelID string, trade Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, channelID)
}

func (s *fakeSink) EmitDepth(channelID string, formatted depthcache.Formatted) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.depthEmits = append(s.depthEmits, channelID)
}

// fakeConn is an in-memory Conn whose messages are fed from a channel.
type fakeConn struct {
	messages chan []byte
	closed   chan struct{}
	once     sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{messages: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-c.messages:
		return 1, msg, nil
	case <-c.closed:
		return 0, nil, context.Canceled
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(v interface{}) {
	data, _ := json.Marshal(v)
	combined, _ := json.Marshal(combinedFrame{Stream: "test", Data: data})
	c.messages <- combined
}

func TestDesiredStreams_DedupAndSort(t *testing.T) {
	sink := newFakeSink()
	m := New(Config{WSBaseURL: "wss://example"}, nil, sink)

	m.AddKlineStream("chan-a", "BTCUSDT", "1m")
	m.AddKlineStream("chan-b", "BTCUSDT", "1m") // same stream, different channel
	m.AddKlineStream("chan-c", "ETHUSDT", "5m")

	desired := m.DesiredStreams()
	want := []string{"btcusdt@kline_1m", "ethusdt@kline_5m"}
	if len(desired) != len(want) {
		t.Fatalf("expected %d streams, got %v", len(want), desired)
	}
	for i, s := range want {
		if desired[i] != s {
			t.Fatalf("stream %d: expected %s, got %s", i, s, desired[i])
		}
	}
}

func TestRemoveKlineStream_DropsEmptySet(t *testing.T) {
	sink := newFakeSink()
	m := New(Config{WSBaseURL: "wss://example"}, nil, sink)

	m.AddKlineStream("chan-a", "BTCUSDT", "1m")
	m.AddKlineStream("chan-b", "BTCUSDT", "1m")
	m.RemoveKlineStream("chan-a", "BTCUSDT", "1m")

	if len(m.DesiredStreams()) != 1 {
		t.Fatalf("expected stream to survive while chan-b still subscribed, got %v", m.DesiredStreams())
	}

	m.RemoveKlineStream("chan-b", "BTCUSDT", "1m")
	if len(m.DesiredStreams()) != 0 {
		t.Fatalf("expected stream set empty after last subscriber removed, got %v", m.DesiredStreams())
	}
}

func TestEnableDepthView_AddsTradeAndDepthStreams(t *testing.T) {
	sink := newFakeSink()
	m := New(Config{WSBaseURL: "wss://example"}, nil, sink)

	m.EnableDepthView("BTCUSDT")
	desired := m.DesiredStreams()
	want := map[string]bool{"btcusdt@trade": true, "btcusdt@depth@100ms": true}
	if len(desired) != 2 {
		t.Fatalf("expected 2 streams, got %v", desired)
	}
	for _, s := range desired {
		if !want[s] {
			t.Fatalf("unexpected stream %s", s)
		}
	}

	m.DisableDepthView()
	if len(m.DesiredStreams()) != 0 {
		t.Fatalf("expected no streams after disabling depth view, got %v", m.DesiredStreams())
	}
}

func TestEnableDepthView_NoOpWhenAlreadyEnabledSameSymbol(t *testing.T) {
	sink := newFakeSink()
	m := New(Config{WSBaseURL: "wss://example", DebounceDelay: 10 * time.Millisecond}, nil, sink)

	m.EnableDepthView("BTCUSDT")
	before := m.DesiredStreams()
	m.EnableDepthView("BTCUSDT")
	after := m.DesiredStreams()

	if !streamsEqual(before, after) {
		t.Fatalf("expected no change re-enabling same symbol: %v vs %v", before, after)
	}
}

func TestSetDetailSymbol_DoesNotChangeStreamSet(t *testing.T) {
	sink := newFakeSink()
	m := New(Config{WSBaseURL: "wss://example"}, nil, sink)

	before := m.DesiredStreams()
	m.SetDetailSymbol("chan-a", "BTCUSDT")
	after := m.DesiredStreams()

	if !streamsEqual(before, after) {
		t.Fatalf("SetDetailSymbol must be bookkeeping-only, streams changed: %v -> %v", before, after)
	}
	id, sym, ok := m.DetailChannel()
	if !ok || id != "chan-a" || sym != "BTCUSDT" {
		t.Fatalf("expected detail channel chan-a/BTCUSDT, got %s/%s (ok=%v)", id, sym, ok)
	}
}

func TestClearDetailSymbol_ImplicitlyDisablesDepthView(t *testing.T) {
	sink := newFakeSink()
	m := New(Config{WSBaseURL: "wss://example"}, nil, sink)

	m.SetDetailSymbol("chan-a", "BTCUSDT")
	m.EnableDepthView("BTCUSDT")
	if len(m.DesiredStreams()) != 2 {
		t.Fatalf("expected depth view streams present, got %v", m.DesiredStreams())
	}

	m.ClearDetailSymbol()
	if len(m.DesiredStreams()) != 0 {
		t.Fatalf("expected ClearDetailSymbol to disable depth view, got %v", m.DesiredStreams())
	}
	if _, _, ok := m.DetailChannel(); ok {
		t.Fatal("expected no detail channel after ClearDetailSymbol")
	}
}

// End-to-end: connect with depth view on, route a kline frame past the
// stale-message guard, a trade to the detail channel, and a depthUpdate into
// the detail channel's DepthCache.
func TestHandleMessage_RoutesKlineTradeDepth(t *testing.T) {
	sink := newFakeSink()
	sink.setChannel("chan-a", "BTCUSDT", "1m")
	sink.setDetail("chan-a")

	conn := newFakeConn()
	dial := func(ctx context.Context, url string) (Conn, error) { return conn, nil }

	m := New(Config{WSBaseURL: "wss://example", DebounceDelay: 5 * time.Millisecond}, dial, sink)
	m.AddKlineStream("chan-a", "BTCUSDT", "1m")
	m.SetDetailSymbol("chan-a", "BTCUSDT")
	m.EnableDepthView("BTCUSDT")

	time.Sleep(50 * time.Millisecond) // let debounce fire and socket connect

	conn.push(map[string]interface{}{
		"e": "kline",
		"s": "BTCUSDT",
		"k": map[string]interface{}{"t": 1000000, "i": "1m", "o": "1", "h": "2", "l": "0.5", "c": "1.5", "v": "10", "x": false},
	})
	conn.push(map[string]interface{}{
		"e": "trade",
		"s": "BTCUSDT",
		"p": "1.5",
		"q": "0.1",
		"T": 123,
		"m": false,
	})
	conn.push(map[string]interface{}{
		"e": "depthUpdate",
		"s": "BTCUSDT",
		"u": 1,
		"b": [][2]string{{"1.4", "5"}},
		"a": [][2]string{{"1.6", "3"}},
	})

	time.Sleep(50 * time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.charts) != 1 || sink.charts[0] != "chan-a" {
		t.Fatalf("expected 1 chart emit to chan-a, got %v", sink.charts)
	}
	if len(sink.trades) != 1 || sink.trades[0] != "chan-a" {
		t.Fatalf("expected 1 trade emit to chan-a, got %v", sink.trades)
	}
	if len(sink.depthEmits) != 1 || sink.depthEmits[0] != "chan-a" {
		t.Fatalf("expected 1 depth emit to chan-a, got %v", sink.depthEmits)
	}
}

// Stale-message guard: a kline frame for a (symbol, interval) the channel no
// longer subscribes to must not be emitted.
func TestHandleMessage_StaleMessageGuard(t *testing.T) {
	sink := newFakeSink()
	sink.setChannel("chan-a", "ETHUSDT", "5m") // channel has moved on to a different symbol

	conn := newFakeConn()
	dial := func(ctx context.Context, url string) (Conn, error) { return conn, nil }
	m := New(Config{WSBaseURL: "wss://example", DebounceDelay: 5 * time.Millisecond}, dial, sink)

	m.mu.Lock()
	m.klineStreams["btcusdt@kline_1m"] = map[string]bool{"chan-a": true}
	m.mu.Unlock()
	m.scheduleReconnect()

	time.Sleep(50 * time.Millisecond)
	conn.push(map[string]interface{}{
		"e": "kline",
		"s": "BTCUSDT",
		"k": map[string]interface{}{"t": 1000, "i": "1m", "o": "1", "h": "1", "l": "1", "c": "1", "v": "1", "x": false},
	})
	time.Sleep(30 * time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.charts) != 0 {
		t.Fatalf("expected stale kline frame to be dropped, got emits %v", sink.charts)
	}
}
