package streammanager

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/koshedutech/market-broker/internal/depthcache"
)

type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type eventEnvelope struct {
	EventType string `json:"e"`
}

type klineFrame struct {
	Symbol string `json:"s"`
	Kline  struct {
		StartTime int64  `json:"t"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Close     string `json:"c"`
		Volume    string `json:"v"`
		IsFinal   bool   `json:"x"`
	} `json:"k"`
}

type tradeFrame struct {
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

type depthUpdateFrame struct {
	Symbol        string     `json:"s"`
	FinalUpdateID uint64     `json:"u"`
	Bids          [][2]string `json:"b"`
	Asks          [][2]string `json:"a"`
}

// handleMessage parses a combined-stream frame and classifies it by its
// payload's "e" field, per §4.3's single-handler routing table.
func (m *Manager) handleMessage(raw []byte) {
	var combined combinedFrame
	if err := json.Unmarshal(raw, &combined); err != nil || len(combined.Data) == 0 {
		return
	}

	var env eventEnvelope
	if err := json.Unmarshal(combined.Data, &env); err != nil {
		return
	}

	switch env.EventType {
	case "kline":
		m.routeKline(combined.Data)
	case "trade":
		m.routeTrade(combined.Data)
	case "depthUpdate":
		m.routeDepthUpdate(combined.Data)
	}
}

func (m *Manager) routeKline(data json.RawMessage) {
	var f klineFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return
	}
	streamName := klineStreamName(f.Symbol, f.Kline.Interval)

	m.mu.Lock()
	set := m.klineStreams[streamName]
	subscribers := make([]string, 0, len(set))
	for cid := range set {
		subscribers = append(subscribers, cid)
	}
	m.mu.Unlock()

	if len(subscribers) == 0 {
		return
	}

	candle := Candle{
		Time:    f.Kline.StartTime / 1000,
		Open:    parseFloat(f.Kline.Open),
		High:    parseFloat(f.Kline.High),
		Low:     parseFloat(f.Kline.Low),
		Close:   parseFloat(f.Kline.Close),
		Volume:  parseFloat(f.Kline.Volume),
		IsFinal: f.Kline.IsFinal,
	}

	for _, cid := range subscribers {
		// Stale-message guard: the channel may have been repurposed to a
		// different (symbol, interval) since it last subscribed to this
		// stream name (e.g. mid-teardown during a re-subscribe).
		sym, itv, ok := m.sink.ChannelSymbolInterval(cid)
		if !ok || !strings.EqualFold(sym, f.Symbol) || itv != f.Kline.Interval {
			continue
		}
		m.sink.EmitChart(cid, candle)
	}
}

func (m *Manager) routeTrade(data json.RawMessage) {
	var f tradeFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return
	}

	channelID, symbol, ok := m.DetailChannel()
	if !ok || !strings.EqualFold(symbol, f.Symbol) {
		return
	}
	// Trade/depth streams are only ever subscribed to upstream while depth
	// view is on (EnableDepthView/DisableDepthView); this guard keeps that
	// true even if desiredStreams ever grows a path that adds them some
	// other way.
	if !m.DepthViewEnabled() {
		return
	}

	m.sink.EmitTrade(channelID, Trade{
		Price:        f.Price,
		Quantity:     f.Quantity,
		TradeTime:    f.TradeTime,
		IsBuyerMaker: f.IsBuyerMaker,
	})
}

func (m *Manager) routeDepthUpdate(data json.RawMessage) {
	var f depthUpdateFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return
	}

	channelID, symbol, ok := m.DetailChannel()
	if !ok || !strings.EqualFold(symbol, f.Symbol) {
		return
	}
	// See routeTrade: depth frames are only ever subscribed to upstream
	// alongside depth view being enabled.
	if !m.DepthViewEnabled() {
		return
	}

	formatted, applied := m.sink.ApplyDepthUpdate(channelID, depthcache.Update{
		FinalUpdateID: f.FinalUpdateID,
		Bids:          f.Bids,
		Asks:          f.Asks,
	})
	if !applied {
		return
	}
	m.sink.EmitDepth(channelID, formatted)
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
