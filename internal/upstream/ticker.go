package upstream

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/koshedutech/market-broker/internal/downstream/protocol"
	"github.com/koshedutech/market-broker/internal/logging"
	"github.com/koshedutech/market-broker/internal/tickercache"
)

// tickerFrame mirrors one row of Binance's !ticker@arr array payload.
type tickerFrame struct {
	Symbol             string `json:"s"`
	LastPrice          string `json:"c"`
	PriceChange        string `json:"p"`
	PriceChangePercent string `json:"P"`
	HighPrice          string `json:"h"`
	LowPrice           string `json:"l"`
	Volume             string `json:"v"`
	QuoteVolume        string `json:"q"`
}

// TickerSupervisor owns the public `!ticker@arr` stream, per §4.5.
type TickerSupervisor struct {
	wsURL string
	dial  Dialer
	gate  *Gate
	cache *tickercache.Cache
	hub   Broadcaster
	count func() int
	log   *logging.Logger

	mu       sync.Mutex
	conn     Conn
	cancel   context.CancelFunc
	attempts int
}

// NewTickerSupervisor builds a TickerSupervisor. rendererCount reports the
// current number of connected renderers; a zero count suppresses reconnects.
func NewTickerSupervisor(wsURL string, dial Dialer, gate *Gate, cache *tickercache.Cache, hub Broadcaster, rendererCount func() int) *TickerSupervisor {
	return &TickerSupervisor{
		wsURL: wsURL, dial: dial, gate: gate, cache: cache, hub: hub, count: rendererCount,
		log: logging.WithComponent("upstream.ticker"),
	}
}

// Start begins the connect loop in the background.
func (s *TickerSupervisor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	go s.connectLoop(ctx)
}

// Stop cancels the supervisor's connect loop and closes its socket.
func (s *TickerSupervisor) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (s *TickerSupervisor) connectLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if s.count() == 0 {
			return
		}

		if err := s.gate.Wait(ctx); err != nil {
			return
		}
		conn, err := s.dial(ctx, s.wsURL+"/ws/!ticker@arr")
		if err != nil {
			s.mu.Lock()
			s.attempts++
			attempts := s.attempts
			s.mu.Unlock()
			if attempts > 5 {
				s.log.Warn("ticker stream connect giving up after 5 retries", "error", err)
				return
			}
			wait := time.Duration(attempts) * 3 * time.Second
			s.log.Warn("ticker stream connect failed, retrying", "attempt", attempts, "wait", wait, "error", err)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.attempts = 0
		s.mu.Unlock()

		s.readLoop(conn)

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()

		if ctx.Err() != nil || s.count() == 0 {
			return
		}
		select {
		case <-time.After(5000 * time.Millisecond):
		case <-ctx.Done():
			return
		}
	}
}

func (s *TickerSupervisor) readLoop(conn Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleMessage(msg)
	}
}

func (s *TickerSupervisor) handleMessage(msg []byte) {
	var frames []tickerFrame
	if err := json.Unmarshal(msg, &frames); err != nil {
		return
	}
	for _, f := range frames {
		if !strings.Contains(f.Symbol, "BTC") && !strings.Contains(f.Symbol, "USDT") {
			continue
		}
		t := tickercache.Ticker{
			Symbol: f.Symbol, LastPrice: f.LastPrice, PriceChange: f.PriceChange,
			PriceChangePercent: f.PriceChangePercent, HighPrice: f.HighPrice,
			LowPrice: f.LowPrice, Volume: f.Volume, QuoteVolume: f.QuoteVolume,
		}
		index, _ := s.cache.Upsert(t)
		s.hub.Broadcast(protocol.NewGlobalMessage(protocol.TypeTickerUpdate, map[string]interface{}{
			"index":  index,
			"ticker": t,
		}))
	}
}
