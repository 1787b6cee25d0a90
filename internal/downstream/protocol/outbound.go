package protocol

import "encoding/json"

// OutboundType enumerates §6's outbound frame `type` values, including the
// order_error extension §9's Open Question decides to add.
type OutboundType string

const (
	TypeChart            OutboundType = "chart"
	TypeDepth            OutboundType = "depth"
	TypeTrades           OutboundType = "trades"
	TypeOrders           OutboundType = "orders"
	TypeHistory          OutboundType = "history"
	TypeExecutionUpdate  OutboundType = "execution_update"
	TypeOrderError       OutboundType = "order_error"
	TypeTicker           OutboundType = "ticker"
	TypeTickerUpdate     OutboundType = "ticker_update"
	TypeFilters          OutboundType = "filters"
	TypeBalances         OutboundType = "balances"
	TypeBalanceUpdate    OutboundType = "balance_update"
)

// GlobalChannelID is the sentinel channelId used for broker-wide frames.
const GlobalChannelID = "global"

// Outbound is a single downstream frame. Channel-scoped frames set
// ChannelID to a real channel id; global frames set it to GlobalChannelID,
// which triggers the legacy `<type>:payload` duplication on marshal.
type Outbound struct {
	ChannelID string
	Type      OutboundType
	Symbol    string
	Interval  string
	Payload   interface{}
	Extra     interface{}
	RequestID string
}

// NewChannelMessage builds a channel-scoped frame.
func NewChannelMessage(channelID string, t OutboundType, symbol, interval string, payload, extra interface{}) Outbound {
	return Outbound{ChannelID: channelID, Type: t, Symbol: symbol, Interval: interval, Payload: payload, Extra: extra}
}

// NewGlobalMessage builds a broker-wide frame.
func NewGlobalMessage(t OutboundType, payload interface{}) Outbound {
	return Outbound{ChannelID: GlobalChannelID, Type: t, Payload: payload}
}

// MarshalJSON projects Outbound into §6's wire shape, duplicating payload
// under the type-named key for global frames so legacy renderers that read
// e.g. `.filters` directly keep working alongside the new `.payload` field.
func (o Outbound) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{
		"channelId": o.ChannelID,
		"type":      o.Type,
		"payload":   o.Payload,
	}
	if o.Symbol != "" {
		m["symbol"] = o.Symbol
	}
	if o.Interval != "" {
		m["interval"] = o.Interval
	}
	if o.Extra != nil {
		m["extra"] = o.Extra
	}
	if o.RequestID != "" {
		m["requestId"] = o.RequestID
	}
	if o.ChannelID == GlobalChannelID {
		m[string(o.Type)] = o.Payload
	}
	return json.Marshal(m)
}

// OrderErrorPayload is the §9 order_error extension's payload shape.
type OrderErrorPayload struct {
	Reason string `json:"reason"`
	Detail string `json:"detail"`
}

// ExecutionReport is §6's normalized execution report.
type ExecutionReport struct {
	EventType     string `json:"e"`
	Symbol        string `json:"s"`
	SymbolAlias   string `json:"symbol"`
	Side          string `json:"S"`
	SideAlias     string `json:"side"`
	OrderType     string `json:"o"`
	TypeAlias     string `json:"type"`
	ExecutionType string `json:"x"`
	Status        string `json:"X"`
	StatusAlias   string `json:"status"`
	OrderID       string `json:"i"`
	OrderIDAlias  string `json:"orderId"`
	Price         string `json:"p"`
	PriceAlias    string `json:"price"`
	OrigQty       string `json:"q"`
	OrigQtyAlias  string `json:"origQty"`
	Filled        string `json:"z"`
	LastFilled    string `json:"l"`
	TransactTime  int64  `json:"T"`
	TransactAlias int64  `json:"transactTime"`
	Time          int64  `json:"time"`
}

// NewExecutionReport builds a normalized execution report with §6's
// documented defaults: status defaults to NEW, numeric fields default to "0".
func NewExecutionReport(symbol, side, orderType, execType, status, orderID, price, origQty, filled, lastFilled string, transactTime int64) ExecutionReport {
	if status == "" {
		status = "NEW"
	}
	if execType == "" {
		execType = status
	}
	for _, s := range []*string{&price, &origQty, &filled, &lastFilled} {
		if *s == "" {
			*s = "0"
		}
	}
	return ExecutionReport{
		EventType: "executionReport", Symbol: symbol, SymbolAlias: symbol,
		Side: side, SideAlias: side, OrderType: orderType, TypeAlias: orderType,
		ExecutionType: execType, Status: status, StatusAlias: status,
		OrderID: orderID, OrderIDAlias: orderID, Price: price, PriceAlias: price,
		OrigQty: origQty, OrigQtyAlias: origQty, Filled: filled, LastFilled: lastFilled,
		TransactTime: transactTime, TransactAlias: transactTime, Time: transactTime,
	}
}
