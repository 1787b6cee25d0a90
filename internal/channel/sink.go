package channel

import (
	"github.com/koshedutech/market-broker/internal/depthcache"
	"github.com/koshedutech/market-broker/internal/downstream/protocol"
	"github.com/koshedutech/market-broker/internal/streammanager"
)

// ChannelSymbolInterval implements streammanager.Sink's stale-message guard:
// it reports the (symbol, interval) the channel currently subscribes to, so
// a kline frame for a channel that has since been repurposed is dropped.
func (m *Manager) ChannelSymbolInterval(channelID string) (string, string, bool) {
	c, ok := m.GetChannel(channelID)
	if !ok {
		return "", "", false
	}
	return c.Symbol, c.Interval, true
}

// ApplyDepthUpdate implements streammanager.Sink by applying u to the detail
// channel's own DepthCache.
func (m *Manager) ApplyDepthUpdate(channelID string, u depthcache.Update) (depthcache.Formatted, bool) {
	c, ok := m.GetChannel(channelID)
	if !ok || c.Depth == nil {
		return depthcache.Formatted{}, false
	}
	applied := c.Depth.ApplyUpdate(u)
	return c.Depth.Formatted(), applied
}

// EmitChart implements streammanager.Sink, forwarding a single live candle.
func (m *Manager) EmitChart(channelID string, candle streammanager.Candle) {
	c, ok := m.GetChannel(channelID)
	if !ok {
		return
	}
	m.sender.Send(protocol.NewChannelMessage(channelID, protocol.TypeChart, c.Symbol, c.Interval, []streammanager.Candle{candle}, candle))
}

// EmitTrade implements streammanager.Sink.
func (m *Manager) EmitTrade(channelID string, trade streammanager.Trade) {
	c, ok := m.GetChannel(channelID)
	if !ok {
		return
	}
	m.sender.Send(protocol.NewChannelMessage(channelID, protocol.TypeTrades, c.Symbol, "", trade, nil))
}

// EmitDepth implements streammanager.Sink.
func (m *Manager) EmitDepth(channelID string, formatted depthcache.Formatted) {
	c, ok := m.GetChannel(channelID)
	if !ok {
		return
	}
	m.sender.Send(protocol.NewChannelMessage(channelID, protocol.TypeDepth, c.Symbol, "", formatted, nil))
}

var _ streammanager.Sink = (*Manager)(nil)
