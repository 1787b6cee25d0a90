package orderdispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/koshedutech/market-broker/internal/downstream/protocol"
	"github.com/koshedutech/market-broker/internal/ratelimiter"
	"github.com/koshedutech/market-broker/internal/restclient"
)

type fakeRest struct {
	restclient.Client
	newOrderErr error
	newOrderOut *restclient.OrderReport
	cancelOut   *restclient.OrderReport
}

func (f *fakeRest) NewOrder(ctx context.Context, p restclient.NewOrderParams) (*restclient.OrderReport, error) {
	if f.newOrderErr != nil {
		return nil, f.newOrderErr
	}
	return f.newOrderOut, nil
}
func (f *fakeRest) CancelOrder(ctx context.Context, p restclient.CancelOrderParams) (*restclient.OrderReport, error) {
	return f.cancelOut, nil
}
func (f *fakeRest) GetAccount(ctx context.Context) ([]restclient.Balance, error) { return nil, nil }
func (f *fakeRest) GetOpenOrders(ctx context.Context, symbol string) ([]restclient.OrderReport, error) {
	return nil, nil
}
func (f *fakeRest) MyTrades(ctx context.Context, symbol string, limit int) ([]restclient.Trade, error) {
	return nil, nil
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []protocol.Outbound
}

func (s *fakeSender) Send(msg protocol.Outbound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func (s *fakeSender) types() []protocol.OutboundType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.OutboundType, len(s.msgs))
	for i, m := range s.msgs {
		out[i] = m.Type
	}
	return out
}

func newTestDispatcher(rest restclient.Client) *Dispatcher {
	limiter := ratelimiter.New(ratelimiter.Config{MaxWeight: 10000, Window: time.Minute, RequestDelay: time.Millisecond})
	return New(rest, limiter)
}

func TestHandleOrder_ValidOrderEmitsExecutionAndRefresh(t *testing.T) {
	rest := &fakeRest{newOrderOut: &restclient.OrderReport{Symbol: "BTCUSDT", OrderID: 1, Status: "NEW"}}
	sender := &fakeSender{}
	d := newTestDispatcher(rest)

	d.HandleOrder(context.Background(), sender, &protocol.Action{Symbol: "BTCUSDT", Side: "BUY", Price: "50000", Quantity: "0.01"}, "")

	types := sender.types()
	if len(types) != 4 || types[0] != protocol.TypeExecutionUpdate {
		t.Fatalf("expected execution_update + 3 refresh frames, got %v", types)
	}
}

func TestHandleOrder_UsesDetailSymbolWhenOmitted(t *testing.T) {
	rest := &fakeRest{newOrderOut: &restclient.OrderReport{Symbol: "ETHUSDT", OrderID: 2}}
	sender := &fakeSender{}
	d := newTestDispatcher(rest)

	d.HandleOrder(context.Background(), sender, &protocol.Action{Side: "SELL", Price: "3000", Quantity: "1"}, "ETHUSDT")

	if len(sender.types()) == 0 {
		t.Fatal("expected order to be submitted using the renderer's detail symbol")
	}
}

func TestHandleOrder_InvalidInputDroppedSilently(t *testing.T) {
	rest := &fakeRest{}
	sender := &fakeSender{}
	d := newTestDispatcher(rest)

	d.HandleOrder(context.Background(), sender, &protocol.Action{Symbol: "BTCUSDT", Side: "HOLD", Price: "1", Quantity: "1"}, "")
	d.HandleOrder(context.Background(), sender, &protocol.Action{Symbol: "BTCUSDT", Side: "BUY", Price: "0", Quantity: "1"}, "")
	d.HandleOrder(context.Background(), sender, &protocol.Action{Symbol: "", Side: "BUY", Price: "1", Quantity: "1"}, "")

	if len(sender.types()) != 0 {
		t.Fatalf("expected no frames for invalid orders, got %v", sender.types())
	}
}

func TestHandleOrder_RejectionEmitsOrderError(t *testing.T) {
	rest := &fakeRest{newOrderErr: errors.New("insufficient balance")}
	sender := &fakeSender{}
	d := newTestDispatcher(rest)

	d.HandleOrder(context.Background(), sender, &protocol.Action{Symbol: "BTCUSDT", Side: "BUY", Price: "50000", Quantity: "0.01"}, "")

	types := sender.types()
	if len(types) != 1 || types[0] != protocol.TypeOrderError {
		t.Fatalf("expected a single order_error frame, got %v", types)
	}
}

func TestHandleCancelOrder_RequiresSymbolAndID(t *testing.T) {
	rest := &fakeRest{cancelOut: &restclient.OrderReport{Symbol: "BTCUSDT", Status: "CANCELED"}}
	sender := &fakeSender{}
	d := newTestDispatcher(rest)

	d.HandleCancelOrder(context.Background(), sender, &protocol.Action{Symbol: "BTCUSDT"})
	if len(sender.types()) != 0 {
		t.Fatalf("expected cancel with no order id to be dropped, got %v", sender.types())
	}

	d.HandleCancelOrder(context.Background(), sender, &protocol.Action{Symbol: "BTCUSDT", OrderID: "7"})
	if len(sender.types()) == 0 {
		t.Fatal("expected cancel with symbol+orderId to proceed")
	}
}
