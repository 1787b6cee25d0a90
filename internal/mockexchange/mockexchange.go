// Package mockexchange implements §4.7's mock mode: a restclient.Client that
// synthesizes chart/depth/trade/execution data instead of calling a real
// exchange, so the renderer UI can be exercised with no credentials present.
//
// Grounded on internal/binance/client.go's method shapes (same signatures,
// same weight-bearing calls), replacing the signed HTTP round trip with
// deterministic synthetic data generation.
package mockexchange

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/koshedutech/market-broker/internal/restclient"
)

// Client is a restclient.Client that synthesizes data for offline/demo use.
type Client struct {
	mu       sync.Mutex
	orderSeq int64
	basePrice map[string]float64
}

// New builds a mock Client.
func New() *Client {
	return &Client{basePrice: make(map[string]float64)}
}

var _ restclient.Client = (*Client)(nil)

func (c *Client) price(symbol string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.basePrice[symbol]
	if !ok {
		p = 100
		c.basePrice[symbol] = p
	}
	return p
}

func (c *Client) ExchangeInfo(ctx context.Context, symbol string) (*restclient.Filters, error) {
	return &restclient.Filters{
		Symbol: symbol, Status: "TRADING", BaseAsset: symbol[:len(symbol)-4], QuoteAsset: "USDT",
		BasePrecision: 8, QuotePrecision: 8,
		PriceFilter: restclient.PriceFilter{MinPrice: "0.01", MaxPrice: "1000000", TickSize: "0.01"},
		LotSize:     restclient.LotSize{MinQty: "0.0001", MaxQty: "1000", StepSize: "0.0001"},
		MinNotional: "10",
	}, nil
}

func (c *Client) GetAccount(ctx context.Context) ([]restclient.Balance, error) {
	return []restclient.Balance{
		{Asset: "USDT", Free: "10000", Locked: "0"},
		{Asset: "BTC", Free: "0.5", Locked: "0"},
	}, nil
}

func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]restclient.OrderReport, error) {
	return []restclient.OrderReport{}, nil
}

func (c *Client) MyTrades(ctx context.Context, symbol string, limit int) ([]restclient.Trade, error) {
	return c.syntheticTrades(symbol, 10), nil
}

func (c *Client) GetTrades(ctx context.Context, symbol string, limit int) ([]restclient.Trade, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return c.syntheticTrades(symbol, limit), nil
}

func (c *Client) syntheticTrades(symbol string, n int) []restclient.Trade {
	base := c.price(symbol)
	trades := make([]restclient.Trade, 0, n)
	for i := 0; i < n; i++ {
		price := base + math.Sin(float64(i))*base*0.001
		trades = append(trades, restclient.Trade{
			ID: int64(i + 1), Symbol: symbol,
			Price: strconv.FormatFloat(price, 'f', 2, 64), Quantity: "0.01",
			Time: time.Unix(int64(i), 0).Unix() * 1000, IsBuyerMaker: i%2 == 0,
		})
	}
	return trades
}

func (c *Client) Depth(ctx context.Context, symbol string, limit int) (*restclient.DepthSnapshot, error) {
	base := c.price(symbol)
	bids := make([][2]string, 0, 10)
	asks := make([][2]string, 0, 10)
	for i := 1; i <= 10; i++ {
		bids = append(bids, [2]string{strconv.FormatFloat(base-float64(i)*0.5, 'f', 2, 64), "1.0"})
		asks = append(asks, [2]string{strconv.FormatFloat(base+float64(i)*0.5, 'f', 2, 64), "1.0"})
	}
	return &restclient.DepthSnapshot{LastUpdateID: uint64(time.Now().UnixNano()), Bids: bids, Asks: asks}, nil
}

func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]restclient.Candle, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	base := c.price(symbol)
	candles := make([]restclient.Candle, 0, limit)
	for i := 0; i < limit; i++ {
		o := base + math.Sin(float64(i)/10)*base*0.01
		h := o * 1.002
		l := o * 0.998
		cl := o + math.Cos(float64(i)/7)*base*0.005
		candles = append(candles, restclient.Candle{
			Time: int64(i) * 60, Open: o, High: h, Low: l, Close: cl, Volume: 100, IsFinal: true,
		})
	}
	return candles, nil
}

func (c *Client) NewOrder(ctx context.Context, p restclient.NewOrderParams) (*restclient.OrderReport, error) {
	c.mu.Lock()
	c.orderSeq++
	id := c.orderSeq
	c.mu.Unlock()
	return &restclient.OrderReport{
		Symbol: p.Symbol, OrderID: id, ClientOrderID: fmt.Sprintf("mock-%d", id),
		TransactTime: time.Now().UnixMilli(), Price: p.Price, OrigQty: p.Quantity,
		ExecutedQty: p.Quantity, CummulativeQuoteQty: p.Quantity, Status: "FILLED",
		TimeInForce: p.TimeInForce, Type: p.Type, Side: p.Side,
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, p restclient.CancelOrderParams) (*restclient.OrderReport, error) {
	return &restclient.OrderReport{
		Symbol: p.Symbol, OrderID: p.OrderID, TransactTime: time.Now().UnixMilli(),
		Status: "CANCELED", Type: "LIMIT",
	}, nil
}

func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	return "mock-listen-key", nil
}

func (c *Client) KeepAliveListenKey(ctx context.Context, listenKey string) error { return nil }
func (c *Client) CloseListenKey(ctx context.Context, listenKey string) error    { return nil }
