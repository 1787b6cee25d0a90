// Package orderdispatch implements §4.7: validating, submitting, and
// reporting the result of renderer-initiated order/cancelOrder actions.
//
// Grounded on internal/binance/order_manager.go's submit-then-refresh-account
// sequencing, adapted to the broker's single-order (no position/strategy)
// scope and wired to the downstream wire format instead of a REST response.
package orderdispatch

import (
	"context"
	"strconv"

	"github.com/koshedutech/market-broker/internal/brokererr"
	"github.com/koshedutech/market-broker/internal/downstream/protocol"
	"github.com/koshedutech/market-broker/internal/logging"
	"github.com/koshedutech/market-broker/internal/ratelimiter"
	"github.com/koshedutech/market-broker/internal/restclient"
)

// Sender delivers an outbound frame to the originating renderer.
type Sender interface {
	Send(msg protocol.Outbound)
}

// Dispatcher submits orders/cancellations through the rate limiter and
// reports outcomes back to the originating renderer.
type Dispatcher struct {
	rest    restclient.Client
	limiter *ratelimiter.RateLimiter
	logger  *logging.Logger
}

// New builds a Dispatcher.
func New(rest restclient.Client, limiter *ratelimiter.RateLimiter) *Dispatcher {
	return &Dispatcher{rest: rest, limiter: limiter, logger: logging.WithComponent("orderdispatch")}
}

// HandleOrder validates and submits a new LIMIT/GTC order, per §4.7.
// detailSymbol is the renderer's currently selected detail channel's symbol,
// used when the action omits one.
func (d *Dispatcher) HandleOrder(ctx context.Context, sender Sender, a *protocol.Action, detailSymbol string) {
	symbol := a.Symbol
	if symbol == "" {
		symbol = detailSymbol
	}

	if !validOrder(symbol, a.Side, a.Price, a.Quantity) {
		d.logger.Warn("invalid order action dropped", "symbol", symbol, "side", a.Side, "price", a.Price, "quantity", a.Quantity)
		return
	}

	report, err := ratelimiter.Execute(ctx, d.limiter, func(ctx context.Context) (*restclient.OrderReport, error) {
		return d.rest.NewOrder(ctx, restclient.NewOrderParams{
			Symbol: symbol, Side: a.Side, Type: "LIMIT", TimeInForce: "GTC",
			Quantity: a.Quantity, Price: a.Price,
		})
	}, restclient.WeightNewOrder, 0)
	if err != nil {
		d.reportRejection(sender, symbol, err)
		return
	}

	exec := protocol.NewExecutionReport(report.Symbol, a.Side, report.Type, "", report.Status,
		strconv.FormatInt(report.OrderID, 10), report.Price, report.OrigQty, report.ExecutedQty, report.ExecutedQty, report.TransactTime)
	sender.Send(protocol.NewGlobalMessage(protocol.TypeExecutionUpdate, exec))

	d.refreshAccountState(ctx, sender, symbol)
}

// HandleCancelOrder validates and submits a cancellation, per §4.7.
func (d *Dispatcher) HandleCancelOrder(ctx context.Context, sender Sender, a *protocol.Action) {
	if a.Symbol == "" || (a.OrderID == "" && a.OrigClientOrderID == "") {
		d.logger.Warn("invalid cancelOrder action dropped", "symbol", a.Symbol)
		return
	}

	var orderID int64
	if a.OrderID != "" {
		orderID, _ = strconv.ParseInt(a.OrderID, 10, 64)
	}

	report, err := ratelimiter.Execute(ctx, d.limiter, func(ctx context.Context) (*restclient.OrderReport, error) {
		return d.rest.CancelOrder(ctx, restclient.CancelOrderParams{
			Symbol: a.Symbol, OrderID: orderID, OrigClientOrderID: a.OrigClientOrderID, NewClientOrderID: a.NewClientOrderID,
		})
	}, restclient.WeightCancelOrder, 0)
	if err != nil {
		d.reportRejection(sender, a.Symbol, err)
		return
	}

	exec := protocol.NewExecutionReport(report.Symbol, report.Side, report.Type, "CANCELED", "CANCELED",
		strconv.FormatInt(report.OrderID, 10), report.Price, report.OrigQty, report.ExecutedQty, report.ExecutedQty, report.TransactTime)
	sender.Send(protocol.NewGlobalMessage(protocol.TypeExecutionUpdate, exec))

	d.refreshAccountState(ctx, sender, a.Symbol)
}

// refreshAccountState re-fetches balances, open orders, and trade history
// after a successful order/cancel, each independently rate-limited.
func (d *Dispatcher) refreshAccountState(ctx context.Context, sender Sender, symbol string) {
	if balances, err := ratelimiter.Execute(ctx, d.limiter, func(ctx context.Context) ([]restclient.Balance, error) {
		return d.rest.GetAccount(ctx)
	}, restclient.WeightGetAccount, 1); err == nil {
		sender.Send(protocol.NewGlobalMessage(protocol.TypeBalances, balances))
	} else {
		d.logger.Warn("post-order balance refresh failed", "error", err)
	}

	if orders, err := ratelimiter.Execute(ctx, d.limiter, func(ctx context.Context) ([]restclient.OrderReport, error) {
		return d.rest.GetOpenOrders(ctx, symbol)
	}, restclient.WeightGetOpenOrders, 1); err == nil {
		sender.Send(protocol.NewGlobalMessage(protocol.TypeOrders, orders))
	} else {
		d.logger.Warn("post-order open-orders refresh failed", "symbol", symbol, "error", err)
	}

	if trades, err := ratelimiter.Execute(ctx, d.limiter, func(ctx context.Context) ([]restclient.Trade, error) {
		return d.rest.MyTrades(ctx, symbol, 500)
	}, restclient.WeightMyTrades, 1); err == nil {
		sender.Send(protocol.NewGlobalMessage(protocol.TypeHistory, trades))
	} else {
		d.logger.Warn("post-order trade-history refresh failed", "symbol", symbol, "error", err)
	}
}

// reportRejection logs the exchange rejection per §7's policy and emits the
// order_error extension (§9's Open Question, decided: implement it) so the
// renderer gets a structured signal instead of relying on a missing
// execution_update.
func (d *Dispatcher) reportRejection(sender Sender, symbol string, err error) {
	be := brokererr.Classify(err)
	d.logger.Error("order rejected by exchange", "symbol", symbol, "reason", be.Kind.String(), "detail", be.Error())
	sender.Send(protocol.NewGlobalMessage(protocol.TypeOrderError, protocol.OrderErrorPayload{
		Reason: be.Kind.String(),
		Detail: be.Error(),
	}))
}

func validOrder(symbol, side, price, quantity string) bool {
	if symbol == "" || (side != "BUY" && side != "SELL") {
		return false
	}
	p, err := strconv.ParseFloat(price, 64)
	if err != nil || p <= 0 {
		return false
	}
	q, err := strconv.ParseFloat(quantity, 64)
	if err != nil || q <= 0 {
		return false
	}
	return true
}
