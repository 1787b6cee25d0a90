// Package restclient implements the signed REST surface §6 names: klines,
// depth, exchangeInfo, account, openOrders, myTrades, trades, order
// placement/cancellation, and listen-key lifecycle. Every method here is a
// plain (ctx) (T, error) call, left unwrapped by rate limiting or retry —
// callers route each one through ratelimiter.Execute with its documented
// weight (§6's weight table), keeping this package ignorant of §4.1's
// admission/spacing/retry policy.
package restclient

import "context"

// Candle mirrors §3's Candle shape as returned by Klines.
type Candle struct {
	Time    int64
	Open    float64
	High    float64
	Low     float64
	Close   float64
	Volume  float64
	IsFinal bool
}

// DepthLevel is one (price, qty) row of a depth snapshot.
type DepthLevel struct {
	Price string
	Qty   string
}

// DepthSnapshot is the REST response driving DepthCache.snapshot.
type DepthSnapshot struct {
	LastUpdateID uint64
	Bids         [][2]string
	Asks         [][2]string
}

// Filters is the §4.4 step-3 "filters" projection of exchangeInfo.
type Filters struct {
	Symbol            string
	Status            string
	BaseAsset         string
	QuoteAsset        string
	BasePrecision     int
	QuotePrecision    int
	PriceFilter       PriceFilter
	LotSize           LotSize
	MinNotional       string
}

type PriceFilter struct {
	MinPrice string
	MaxPrice string
	TickSize string
}

type LotSize struct {
	MinQty   string
	MaxQty   string
	StepSize string
}

// Balance is a single non-zero account balance row.
type Balance struct {
	Asset  string
	Free   string
	Locked string
}

// Trade is a single public or account trade print.
type Trade struct {
	ID           int64
	OrderID      int64
	Symbol       string
	Price        string
	Quantity     string
	QuoteQty     string
	Time         int64
	IsBuyerMaker bool
	IsBuyer      bool
	IsMaker      bool
}

// OrderReport is the exchange's view of a placed or cancelled order,
// normalized into the §6 execution-report keys by orderdispatch.
type OrderReport struct {
	Symbol              string
	OrderID             int64
	ClientOrderID       string
	TransactTime        int64
	Price               string
	OrigQty             string
	ExecutedQty         string
	CummulativeQuoteQty string
	Status              string
	TimeInForce         string
	Type                string
	Side                string
}

// NewOrderParams is the request shape for NewOrder.
type NewOrderParams struct {
	Symbol      string
	Side        string // BUY or SELL
	Type        string // LIMIT
	TimeInForce string // GTC
	Quantity    string
	Price       string
}

// CancelOrderParams is the request shape for CancelOrder; exactly one of
// OrderID or OrigClientOrderID should be set, per §6.
type CancelOrderParams struct {
	Symbol            string
	OrderID           int64
	OrigClientOrderID string
	NewClientOrderID  string
}

// Client is the broker's REST surface against a Binance-compatible exchange.
// The production implementation is *HTTPClient; mockexchange.Client
// satisfies this interface for mock mode (§4.7).
type Client interface {
	ExchangeInfo(ctx context.Context, symbol string) (*Filters, error)
	GetAccount(ctx context.Context) ([]Balance, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]OrderReport, error)
	MyTrades(ctx context.Context, symbol string, limit int) ([]Trade, error)
	GetTrades(ctx context.Context, symbol string, limit int) ([]Trade, error)
	Depth(ctx context.Context, symbol string, limit int) (*DepthSnapshot, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	NewOrder(ctx context.Context, p NewOrderParams) (*OrderReport, error)
	CancelOrder(ctx context.Context, p CancelOrderParams) (*OrderReport, error)
	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, listenKey string) error
	CloseListenKey(ctx context.Context, listenKey string) error
}

// Weight constants per §6's documented REST weight table.
const (
	WeightExchangeInfo    = 10
	WeightTicker24hr      = 40
	WeightDepth           = 5
	WeightKlines          = 2
	WeightGetTrades       = 1
	WeightGetAccount      = 10
	WeightGetOpenOrders   = 3
	WeightMyTrades        = 10
	WeightNewOrder        = 1
	WeightCancelOrder     = 1
	WeightListenKey       = 1
)
