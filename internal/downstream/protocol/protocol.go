// Package protocol implements §4.6/§6's downstream wire format: the
// renderer<->broker JSON frames, modeled as tagged unions keyed on `action`
// (inbound) or `type` (outbound), per §9's "dynamic message shape -> tagged
// variants" design note. It also normalizes the legacy `request`-keyed
// inbound frames into the same canonical Action shape the new protocol
// produces, so callers never branch on protocol generation.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ActionKind is the canonical inbound action, after legacy normalization.
type ActionKind string

const (
	ActionSubscribe        ActionKind = "subscribe"
	ActionUnsubscribe      ActionKind = "unsubscribe"
	ActionEnableDepthView  ActionKind = "enable_depth_view"
	ActionDisableDepthView ActionKind = "disable_depth_view"
	ActionOrder            ActionKind = "order"
	ActionCancelOrder      ActionKind = "cancelOrder"
)

// ChannelType mirrors §3's Channel.type.
type ChannelType string

const (
	ChannelDetail ChannelType = "detail"
	ChannelMini   ChannelType = "mini"
	ChannelGlobal ChannelType = "global"
)

// Action is the canonical form every inbound frame (new or legacy) is
// normalized into.
type Action struct {
	Kind ActionKind

	ChannelID   string
	ChannelType ChannelType
	Symbol      string
	Interval    string

	Side     string // "BUY" or "SELL"
	Price    string
	Quantity string

	OrderID           string
	OrigClientOrderID string
	NewClientOrderID  string

	// RequestID echoes the legacy chart request's requestId, if any.
	RequestID string
}

type rawInbound struct {
	Action      string          `json:"action"`
	ChannelID   string          `json:"channelId"`
	ChannelType string          `json:"channelType"`
	Symbol      string          `json:"symbol"`
	Interval    string          `json:"interval"`
	Type        string          `json:"type"`
	Price       string          `json:"price"`
	Quantity    string          `json:"quantity"`
	OrderID     string          `json:"orderId"`
	OrigClientOrderID string    `json:"origClientOrderId"`
	NewClientOrderID  string    `json:"newClientOrderId"`

	Request string          `json:"request"`
	Data    json.RawMessage `json:"data"`
}

type legacyChartData struct {
	Selected  string `json:"selected"`
	Interval  string `json:"interval"`
	RequestID string `json:"requestId"`
}

type legacyOrderData struct {
	Symbol   string `json:"symbol"`
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

type legacyCancelData struct {
	Symbol            string `json:"symbol"`
	OrderID           string `json:"orderId"`
	OrigClientOrderID string `json:"origClientOrderId"`
}

// ParseAction parses a raw inbound frame (either new-protocol `action` or
// legacy `request`) into a canonical Action.
func ParseAction(raw []byte) (*Action, error) {
	var in rawInbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("protocol: decoding inbound frame: %w", err)
	}

	if in.Action != "" {
		return parseNewProtocol(in)
	}
	if in.Request != "" {
		return parseLegacy(in)
	}
	return nil, fmt.Errorf("protocol: inbound frame has neither action nor request")
}

func parseNewProtocol(in rawInbound) (*Action, error) {
	switch ActionKind(in.Action) {
	case ActionSubscribe:
		return &Action{
			Kind: ActionSubscribe, ChannelID: in.ChannelID, ChannelType: ChannelType(in.ChannelType),
			Symbol: in.Symbol, Interval: in.Interval,
		}, nil
	case ActionUnsubscribe:
		return &Action{Kind: ActionUnsubscribe, ChannelID: in.ChannelID}, nil
	case ActionEnableDepthView:
		return &Action{Kind: ActionEnableDepthView, Symbol: in.Symbol}, nil
	case ActionDisableDepthView:
		return &Action{Kind: ActionDisableDepthView}, nil
	case ActionOrder:
		return &Action{
			Kind: ActionOrder, Side: normalizeSide(in.Type), Symbol: in.Symbol,
			Price: in.Price, Quantity: in.Quantity,
		}, nil
	case ActionCancelOrder:
		return &Action{
			Kind: ActionCancelOrder, Symbol: in.Symbol, OrderID: in.OrderID,
			OrigClientOrderID: in.OrigClientOrderID, NewClientOrderID: in.NewClientOrderID,
		}, nil
	default:
		return nil, fmt.Errorf("protocol: unknown action %q", in.Action)
	}
}

func parseLegacy(in rawInbound) (*Action, error) {
	switch in.Request {
	case "chart":
		var d legacyChartData
		if err := json.Unmarshal(in.Data, &d); err != nil {
			return nil, fmt.Errorf("protocol: decoding legacy chart data: %w", err)
		}
		return &Action{
			Kind: ActionSubscribe, ChannelType: ChannelDetail, Symbol: d.Selected,
			Interval: d.Interval, RequestID: d.RequestID,
		}, nil

	case "buyOrder", "sellOrder":
		var d legacyOrderData
		if err := json.Unmarshal(in.Data, &d); err != nil {
			return nil, fmt.Errorf("protocol: decoding legacy order data: %w", err)
		}
		side := "BUY"
		if in.Request == "sellOrder" {
			side = "SELL"
		}
		return &Action{Kind: ActionOrder, Side: side, Symbol: d.Symbol, Price: d.Price, Quantity: d.Quantity}, nil

	case "cancelOrder":
		var d legacyCancelData
		if err := json.Unmarshal(in.Data, &d); err != nil {
			return nil, fmt.Errorf("protocol: decoding legacy cancel data: %w", err)
		}
		return &Action{
			Kind: ActionCancelOrder, Symbol: d.Symbol, OrderID: d.OrderID, OrigClientOrderID: d.OrigClientOrderID,
		}, nil

	default:
		return nil, fmt.Errorf("protocol: unknown legacy request %q", in.Request)
	}
}

func normalizeSide(t string) string {
	switch t {
	case "buy", "BUY":
		return "BUY"
	case "sell", "SELL":
		return "SELL"
	default:
		return t
	}
}
