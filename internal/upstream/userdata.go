package upstream

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/koshedutech/market-broker/internal/brokererr"
	"github.com/koshedutech/market-broker/internal/downstream/protocol"
	"github.com/koshedutech/market-broker/internal/logging"
	"github.com/koshedutech/market-broker/internal/ratelimiter"
	"github.com/koshedutech/market-broker/internal/restclient"
)

type executionReportFrame struct {
	EventType     string `json:"e"`
	Symbol        string `json:"s"`
	Side          string `json:"S"`
	OrderType     string `json:"o"`
	ExecutionType string `json:"x"`
	Status        string `json:"X"`
	OrderID       int64  `json:"i"`
	Price         string `json:"p"`
	OrigQty       string `json:"q"`
	Filled        string `json:"z"`
	LastFilled    string `json:"l"`
	TransactTime  int64  `json:"T"`
}

type balanceFrame struct {
	Asset  string `json:"a"`
	Free   string `json:"f"`
	Locked string `json:"l"`
}

type accountPositionFrame struct {
	EventType string         `json:"e"`
	Balances  []balanceFrame `json:"B"`
}

// UserDataSupervisor owns the private user-data stream, per §4.5: obtains a
// listen key, connects, routes executionReport/outboundAccountPosition, and
// keeps the listen key alive every 30 minutes.
type UserDataSupervisor struct {
	wsURL   string
	dial    Dialer
	gate    *Gate
	rest    restclient.Client
	limiter *ratelimiter.RateLimiter
	hub     Broadcaster
	count   func() int
	log     *logging.Logger

	mu        sync.Mutex
	conn      Conn
	listenKey string
	cancel    context.CancelFunc
	attempts  int
}

// NewUserDataSupervisor builds a UserDataSupervisor.
func NewUserDataSupervisor(wsURL string, dial Dialer, gate *Gate, rest restclient.Client, limiter *ratelimiter.RateLimiter, hub Broadcaster, rendererCount func() int) *UserDataSupervisor {
	return &UserDataSupervisor{
		wsURL: wsURL, dial: dial, gate: gate, rest: rest, limiter: limiter, hub: hub, count: rendererCount,
		log: logging.WithComponent("upstream.userdata"),
	}
}

// Start begins the connect loop and the keepalive loop in the background.
func (s *UserDataSupervisor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	go s.connectLoop(ctx)
	go s.keepAliveLoop(ctx)
}

// Stop cancels the supervisor and closes its listen key.
func (s *UserDataSupervisor) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	conn := s.conn
	listenKey := s.listenKey
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	if listenKey != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.rest.CloseListenKey(ctx, listenKey)
	}
}

func (s *UserDataSupervisor) connectLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil || s.count() == 0 {
			return
		}

		listenKey, err := ratelimiter.Execute(ctx, s.limiter, func(ctx context.Context) (string, error) {
			return s.rest.CreateListenKey(ctx)
		}, restclient.WeightListenKey, 2)
		if err != nil {
			s.log.Warn("failed to obtain listen key", "error", err)
			if !brokererr.IsTransient(err) {
				return
			}
			select {
			case <-time.After(3 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		s.mu.Lock()
		s.listenKey = listenKey
		s.mu.Unlock()

		if err := s.gate.Wait(ctx); err != nil {
			return
		}
		conn, err := s.dial(ctx, s.wsURL+"/ws/"+listenKey)
		if err != nil {
			s.mu.Lock()
			s.attempts++
			attempts := s.attempts
			s.mu.Unlock()
			if attempts > 5 {
				s.log.Warn("user-data stream connect giving up after 5 retries", "error", err)
				return
			}
			wait := time.Duration(attempts) * 3 * time.Second
			s.log.Warn("user-data stream connect failed, retrying", "attempt", attempts, "wait", wait, "error", err)
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

func (s *UserDataSupervisor) readLoop(conn Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleMessage(msg)
	}
}

func (s *UserDataSupervisor) handleMessage(msg []byte) {
	var env struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		return
	}

	switch env.EventType {
	case "executionReport":
		var f executionReportFrame
		if err := json.Unmarshal(msg, &f); err != nil {
			return
		}
		exec := protocol.NewExecutionReport(f.Symbol, f.Side, f.OrderType, f.ExecutionType, f.Status,
			strconv.FormatInt(f.OrderID, 10), f.Price, f.OrigQty, f.Filled, f.LastFilled, f.TransactTime)
		s.hub.Broadcast(protocol.NewGlobalMessage(protocol.TypeExecutionUpdate, exec))

	case "outboundAccountPosition":
		var f accountPositionFrame
		if err := json.Unmarshal(msg, &f); err != nil {
			return
		}
		s.hub.Broadcast(protocol.NewGlobalMessage(protocol.TypeBalanceUpdate, f.Balances))
	}
}

// keepAliveLoop sends a PUT every 30 minutes, per §4.5.
func (s *UserDataSupervisor) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			listenKey := s.listenKey
			s.mu.Unlock()
			if listenKey == "" {
				continue
			}
			_, err := ratelimiter.Execute(ctx, s.limiter, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, s.rest.KeepAliveListenKey(ctx, listenKey)
			}, restclient.WeightListenKey, 1)
			if err != nil {
				s.log.Warn("listen key keepalive failed", "error", err)
			}
		}
	}
}
