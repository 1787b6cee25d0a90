package channel

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/koshedutech/market-broker/internal/depthcache"
	"github.com/koshedutech/market-broker/internal/downstream/protocol"
	"github.com/koshedutech/market-broker/internal/ratelimiter"
	"github.com/koshedutech/market-broker/internal/restclient"
)

// Subscribe runs §4.4's full subscribe protocol for (cid, type, sym, itv).
// requestID, when non-empty, is echoed back on the outbound chart frame
// (§6 chart.requestId) — only the legacy `request:"chart"` path ever sets it.
func (m *Manager) Subscribe(ctx context.Context, cid string, t protocol.ChannelType, symbol, interval, requestID string) {
	symbol = strings.ToUpper(symbol)

	// Step 1: tear down a stale detail channel before creating the new one.
	if t == protocol.ChannelDetail {
		if old, ok := m.GetDetailChannel(); ok && old.ID != cid {
			m.stream.RemoveChannelStreams(old.ID)
			m.removeChannel(old.ID)
		}
	}

	// Step 2.
	firstDetailForSymbol := t == protocol.ChannelDetail && !m.hasDetailForSymbol(symbol)
	m.createChannel(cid, t, symbol, interval)

	// Step 3: parallel, independently-failable REST fetches.
	if firstDetailForSymbol {
		m.fetchDetailSnapshots(ctx, cid, symbol)
	}

	// Step 4: klines for every channel type.
	m.fetchChart(ctx, cid, symbol, interval, requestID)

	// Step 5: register the kline stream; detail channels bookkeep detailSymbol
	// only (NOT enableDepthView, per §4.4 step 5).
	m.stream.AddKlineStream(cid, symbol, interval)
	if t == protocol.ChannelDetail {
		m.stream.SetDetailSymbol(cid, symbol)
	}
}

// Unsubscribe removes cid's kline stream and, if it was the detail channel,
// clears detail bookkeeping (which implicitly disables depth view).
func (m *Manager) Unsubscribe(cid string) {
	m.stream.RemoveChannelStreams(cid)

	if did, _, ok := m.stream.DetailChannel(); ok && did == cid {
		m.stream.ClearDetailSymbol()
	}
	m.removeChannel(cid)
}

// EnableDepthView turns on trade+depth streaming for the current detail
// channel's symbol.
func (m *Manager) EnableDepthView(symbol string) {
	m.stream.EnableDepthView(strings.ToUpper(symbol))
}

// DisableDepthView turns off trade+depth streaming.
func (m *Manager) DisableDepthView() {
	m.stream.DisableDepthView()
}

func (m *Manager) hasDetailForSymbol(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.channels {
		if c.Type == protocol.ChannelDetail && strings.EqualFold(c.Symbol, symbol) {
			return true
		}
	}
	return false
}

// fetchDetailSnapshots issues the six independently-failable REST fetches of
// §4.4 step 3 in parallel. Each goroutine logs and swallows its own error so
// one exchange rejection never cancels its siblings (plain errgroup.Group,
// not WithContext).
func (m *Manager) fetchDetailSnapshots(ctx context.Context, cid, symbol string) {
	var g errgroup.Group

	g.Go(func() error {
		filters, err := ratelimiter.Execute(ctx, m.limiter, func(ctx context.Context) (*restclient.Filters, error) {
			return m.rest.ExchangeInfo(ctx, symbol)
		}, restclient.WeightExchangeInfo, 2)
		if err != nil {
			m.logger.Warn("exchangeInfo fetch failed", "symbol", symbol, "error", err)
			return nil
		}
		m.sender.Send(protocol.NewGlobalMessage(protocol.TypeFilters, filters))
		return nil
	})

	g.Go(func() error {
		balances, err := ratelimiter.Execute(ctx, m.limiter, func(ctx context.Context) ([]restclient.Balance, error) {
			return m.rest.GetAccount(ctx)
		}, restclient.WeightGetAccount, 2)
		if err != nil {
			m.logger.Warn("getAccount fetch failed", "error", err)
			return nil
		}
		m.sender.Send(protocol.NewGlobalMessage(protocol.TypeBalances, balances))
		return nil
	})

	g.Go(func() error {
		orders, err := ratelimiter.Execute(ctx, m.limiter, func(ctx context.Context) ([]restclient.OrderReport, error) {
			return m.rest.GetOpenOrders(ctx, symbol)
		}, restclient.WeightGetOpenOrders, 2)
		if err != nil {
			m.logger.Warn("getOpenOrders fetch failed", "symbol", symbol, "error", err)
			return nil
		}
		m.sender.Send(protocol.NewChannelMessage(cid, protocol.TypeOrders, symbol, "", orders, nil))
		return nil
	})

	g.Go(func() error {
		trades, err := ratelimiter.Execute(ctx, m.limiter, func(ctx context.Context) ([]restclient.Trade, error) {
			return m.rest.MyTrades(ctx, symbol, 500)
		}, restclient.WeightMyTrades, 2)
		if err != nil {
			m.logger.Warn("myTrades fetch failed", "symbol", symbol, "error", err)
			return nil
		}
		m.sender.Send(protocol.NewChannelMessage(cid, protocol.TypeHistory, symbol, "", trades, nil))
		return nil
	})

	g.Go(func() error {
		trades, err := ratelimiter.Execute(ctx, m.limiter, func(ctx context.Context) ([]restclient.Trade, error) {
			return m.rest.GetTrades(ctx, symbol, 100)
		}, restclient.WeightGetTrades, 2)
		if err != nil {
			m.logger.Warn("getTrades fetch failed", "symbol", symbol, "error", err)
			return nil
		}
		m.sender.Send(protocol.NewChannelMessage(cid, protocol.TypeTrades, symbol, "", trades, nil))
		return nil
	})

	g.Go(func() error {
		snap, err := ratelimiter.Execute(ctx, m.limiter, func(ctx context.Context) (*restclient.DepthSnapshot, error) {
			return m.rest.Depth(ctx, symbol, 100)
		}, restclient.WeightDepth, 2)
		if err != nil {
			m.logger.Warn("depth fetch failed", "symbol", symbol, "error", err)
			return nil
		}
		if c, ok := m.GetChannel(cid); ok && c.Depth != nil {
			c.Depth.ApplySnapshot(depthcache.Snapshot{
				LastUpdateID: snap.LastUpdateID,
				Bids:         snap.Bids,
				Asks:         snap.Asks,
			})
			m.sender.Send(protocol.NewChannelMessage(cid, protocol.TypeDepth, symbol, "", c.Depth.Formatted(), nil))
		}
		return nil
	})

	_ = g.Wait() // every goroutine returns nil; Wait never surfaces an error
}

// fetchChart runs §4.4 step 4: klines for every channel type, regardless of
// whether it's a first-subscribe for the symbol. requestID echoes a legacy
// chart request's id back on the outbound frame (§6); it is empty for every
// new-protocol subscribe.
func (m *Manager) fetchChart(ctx context.Context, cid, symbol, interval, requestID string) {
	candles, err := ratelimiter.Execute(ctx, m.limiter, func(ctx context.Context) ([]restclient.Candle, error) {
		return m.rest.Klines(ctx, symbol, interval, 500)
	}, restclient.WeightKlines, 2)
	if err != nil {
		m.logger.Warn("klines fetch failed", "symbol", symbol, "interval", interval, "error", err)
		return
	}

	var lastTick *restclient.Candle
	if len(candles) > 0 {
		lastTick = &candles[len(candles)-1]
	}
	msg := protocol.NewChannelMessage(cid, protocol.TypeChart, symbol, interval, candles, lastTick)
	msg.RequestID = requestID
	m.sender.Send(msg)
}
