package restclient

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/koshedutech/market-broker/internal/brokererr"
)

// HTTPClient is the production Client, signing authenticated requests with
// HMAC-SHA256 the way the exchange's REST API requires (this is a protocol
// requirement, not a logging/serialization concern the example pack's
// third-party stack has an alternative for — crypto/hmac is the correct
// tool here).
type HTTPClient struct {
	apiKey  string
	secret  string
	baseURL string
	http    *http.Client
}

// NewHTTPClient builds an HTTPClient. httpClient is typically built via
// proxydial.NewHTTPClient.
func NewHTTPClient(apiKey, secret, baseURL string, httpClient *http.Client) *HTTPClient {
	return &HTTPClient{apiKey: apiKey, secret: secret, baseURL: baseURL, http: httpClient}
}

func (c *HTTPClient) sign(values url.Values) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(values.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *HTTPClient) signedRequest(ctx context.Context, method, path string, params url.Values) (*http.Request, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("signature", c.sign(params))

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = params.Encode()
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	return req, nil
}

func (c *HTTPClient) publicRequest(ctx context.Context, path string, params url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if params != nil {
		req.URL.RawQuery = params.Encode()
	}
	return req, nil
}

func (c *HTTPClient) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return brokererr.NewTransient(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return brokererr.NewTransient(err)
	}

	if resp.StatusCode != http.StatusOK {
		return brokererr.NewExchangeReject(resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("restclient: decoding response from %s: %w", req.URL.Path, err)
	}
	return nil
}

func (c *HTTPClient) Klines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	params := url.Values{"symbol": {symbol}, "interval": {interval}, "limit": {strconv.Itoa(limit)}}
	req, err := c.publicRequest(ctx, "/api/v3/klines", params)
	if err != nil {
		return nil, err
	}

	var raw [][]interface{}
	if err := c.do(req, &raw); err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 7 {
			continue
		}
		openTimeMs, _ := row[0].(float64)
		candles = append(candles, Candle{
			Time:   int64(openTimeMs) / 1000,
			Open:   parseAny(row[1]),
			High:   parseAny(row[2]),
			Low:    parseAny(row[3]),
			Close:  parseAny(row[4]),
			Volume: parseAny(row[5]),
			// klines REST rows are always fully closed candles.
			IsFinal: true,
		})
	}
	return candles, nil
}

func (c *HTTPClient) Depth(ctx context.Context, symbol string, limit int) (*DepthSnapshot, error) {
	params := url.Values{"symbol": {symbol}, "limit": {strconv.Itoa(limit)}}
	req, err := c.publicRequest(ctx, "/api/v3/depth", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		LastUpdateID uint64      `json:"lastUpdateId"`
		Bids         [][2]string `json:"bids"`
		Asks         [][2]string `json:"asks"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &DepthSnapshot{LastUpdateID: resp.LastUpdateID, Bids: resp.Bids, Asks: resp.Asks}, nil
}

func (c *HTTPClient) GetTrades(ctx context.Context, symbol string, limit int) ([]Trade, error) {
	params := url.Values{"symbol": {symbol}, "limit": {strconv.Itoa(limit)}}
	req, err := c.publicRequest(ctx, "/api/v3/trades", params)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		ID           int64  `json:"id"`
		Price        string `json:"price"`
		Qty          string `json:"qty"`
		QuoteQty     string `json:"quoteQty"`
		Time         int64  `json:"time"`
		IsBuyerMaker bool   `json:"isBuyerMaker"`
	}
	if err := c.do(req, &raw); err != nil {
		return nil, err
	}

	trades := make([]Trade, len(raw))
	for i, t := range raw {
		trades[i] = Trade{ID: t.ID, Symbol: symbol, Price: t.Price, Quantity: t.Qty, QuoteQty: t.QuoteQty, Time: t.Time, IsBuyerMaker: t.IsBuyerMaker}
	}
	return trades, nil
}

func (c *HTTPClient) ExchangeInfo(ctx context.Context, symbol string) (*Filters, error) {
	params := url.Values{"symbol": {symbol}}
	req, err := c.publicRequest(ctx, "/api/v3/exchangeInfo", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Symbols []struct {
			Symbol              string `json:"symbol"`
			Status              string `json:"status"`
			BaseAsset           string `json:"baseAsset"`
			QuoteAsset          string `json:"quoteAsset"`
			BaseAssetPrecision  int    `json:"baseAssetPrecision"`
			QuoteAssetPrecision int    `json:"quoteAssetPrecision"`
			Filters             []json.RawMessage `json:"filters"`
		} `json:"symbols"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Symbols) == 0 {
		return nil, fmt.Errorf("restclient: exchangeInfo returned no symbols for %s", symbol)
	}

	s := resp.Symbols[0]
	f := &Filters{
		Symbol:         s.Symbol,
		Status:         s.Status,
		BaseAsset:      s.BaseAsset,
		QuoteAsset:     s.QuoteAsset,
		BasePrecision:  s.BaseAssetPrecision,
		QuotePrecision: s.QuoteAssetPrecision,
	}
	for _, raw := range s.Filters {
		var kind struct {
			FilterType string `json:"filterType"`
		}
		if err := json.Unmarshal(raw, &kind); err != nil {
			continue
		}
		switch kind.FilterType {
		case "PRICE_FILTER":
			var pf struct {
				MinPrice string `json:"minPrice"`
				MaxPrice string `json:"maxPrice"`
				TickSize string `json:"tickSize"`
			}
			if json.Unmarshal(raw, &pf) == nil {
				f.PriceFilter = PriceFilter{MinPrice: pf.MinPrice, MaxPrice: pf.MaxPrice, TickSize: pf.TickSize}
			}
		case "LOT_SIZE":
			var ls struct {
				MinQty   string `json:"minQty"`
				MaxQty   string `json:"maxQty"`
				StepSize string `json:"stepSize"`
			}
			if json.Unmarshal(raw, &ls) == nil {
				f.LotSize = LotSize{MinQty: ls.MinQty, MaxQty: ls.MaxQty, StepSize: ls.StepSize}
			}
		case "MIN_NOTIONAL", "NOTIONAL":
			var mn struct {
				MinNotional string `json:"minNotional"`
			}
			if json.Unmarshal(raw, &mn) == nil {
				f.MinNotional = mn.MinNotional
			}
		}
	}
	return f, nil
}

func (c *HTTPClient) GetAccount(ctx context.Context) ([]Balance, error) {
	req, err := c.signedRequest(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}

	balances := make([]Balance, 0, len(resp.Balances))
	for _, b := range resp.Balances {
		if b.Free == "0" && b.Locked == "0" {
			continue
		}
		if b.Free == "0.00000000" && b.Locked == "0.00000000" {
			continue
		}
		balances = append(balances, Balance{Asset: b.Asset, Free: b.Free, Locked: b.Locked})
	}
	return balances, nil
}

func (c *HTTPClient) GetOpenOrders(ctx context.Context, symbol string) ([]OrderReport, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	req, err := c.signedRequest(ctx, http.MethodGet, "/api/v3/openOrders", params)
	if err != nil {
		return nil, err
	}

	var raw []rawOrder
	if err := c.do(req, &raw); err != nil {
		return nil, err
	}
	return toOrderReports(raw), nil
}

func (c *HTTPClient) MyTrades(ctx context.Context, symbol string, limit int) ([]Trade, error) {
	params := url.Values{"symbol": {symbol}, "limit": {strconv.Itoa(limit)}}
	req, err := c.signedRequest(ctx, http.MethodGet, "/api/v3/myTrades", params)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		ID           int64  `json:"id"`
		OrderID      int64  `json:"orderId"`
		Price        string `json:"price"`
		Qty          string `json:"qty"`
		QuoteQty     string `json:"quoteQty"`
		Time         int64  `json:"time"`
		IsBuyer      bool   `json:"isBuyer"`
		IsMaker      bool   `json:"isMaker"`
	}
	if err := c.do(req, &raw); err != nil {
		return nil, err
	}

	trades := make([]Trade, len(raw))
	for i, t := range raw {
		trades[i] = Trade{ID: t.ID, OrderID: t.OrderID, Symbol: symbol, Price: t.Price, Quantity: t.Qty, QuoteQty: t.QuoteQty, Time: t.Time, IsBuyer: t.IsBuyer, IsMaker: t.IsMaker}
	}
	return trades, nil
}

type rawOrder struct {
	Symbol              string `json:"symbol"`
	OrderID              int64  `json:"orderId"`
	ClientOrderID        string `json:"clientOrderId"`
	TransactTime         int64  `json:"transactTime"`
	UpdateTime           int64  `json:"updateTime"`
	Price                string `json:"price"`
	OrigQty              string `json:"origQty"`
	ExecutedQty          string `json:"executedQty"`
	CummulativeQuoteQty  string `json:"cummulativeQuoteQty"`
	Status               string `json:"status"`
	TimeInForce          string `json:"timeInForce"`
	Type                 string `json:"type"`
	Side                 string `json:"side"`
}

func toOrderReports(raw []rawOrder) []OrderReport {
	reports := make([]OrderReport, len(raw))
	for i, o := range raw {
		t := o.TransactTime
		if t == 0 {
			t = o.UpdateTime
		}
		reports[i] = OrderReport{
			Symbol: o.Symbol, OrderID: o.OrderID, ClientOrderID: o.ClientOrderID, TransactTime: t,
			Price: o.Price, OrigQty: o.OrigQty, ExecutedQty: o.ExecutedQty, CummulativeQuoteQty: o.CummulativeQuoteQty,
			Status: o.Status, TimeInForce: o.TimeInForce, Type: o.Type, Side: o.Side,
		}
	}
	return reports
}

func (c *HTTPClient) NewOrder(ctx context.Context, p NewOrderParams) (*OrderReport, error) {
	params := url.Values{
		"symbol":           {p.Symbol},
		"side":             {p.Side},
		"type":             {p.Type},
		"timeInForce":      {p.TimeInForce},
		"quantity":         {p.Quantity},
		"price":            {p.Price},
		"newOrderRespType": {"FULL"},
	}
	req, err := c.signedRequest(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return nil, err
	}

	var raw rawOrder
	if err := c.do(req, &raw); err != nil {
		return nil, err
	}
	report := toOrderReports([]rawOrder{raw})[0]
	return &report, nil
}

func (c *HTTPClient) CancelOrder(ctx context.Context, p CancelOrderParams) (*OrderReport, error) {
	params := url.Values{"symbol": {p.Symbol}}
	if p.OrderID != 0 {
		params.Set("orderId", strconv.FormatInt(p.OrderID, 10))
	}
	if p.OrigClientOrderID != "" {
		params.Set("origClientOrderId", p.OrigClientOrderID)
	}
	if p.NewClientOrderID != "" {
		params.Set("newClientOrderId", p.NewClientOrderID)
	}

	req, err := c.signedRequest(ctx, http.MethodDelete, "/api/v3/order", params)
	if err != nil {
		return nil, err
	}

	var raw rawOrder
	if err := c.do(req, &raw); err != nil {
		return nil, err
	}
	report := toOrderReports([]rawOrder{raw})[0]
	return &report, nil
}

func (c *HTTPClient) CreateListenKey(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v3/userDataStream", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	return resp.ListenKey, nil
}

func (c *HTTPClient) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	params := url.Values{"listenKey": {listenKey}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/api/v3/userDataStream", nil)
	if err != nil {
		return err
	}
	req.URL.RawQuery = params.Encode()
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	return c.do(req, nil)
}

func (c *HTTPClient) CloseListenKey(ctx context.Context, listenKey string) error {
	params := url.Values{"listenKey": {listenKey}}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/v3/userDataStream", nil)
	if err != nil {
		return err
	}
	req.URL.RawQuery = params.Encode()
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	return c.do(req, nil)
}

var _ Client = (*HTTPClient)(nil)

func parseAny(v interface{}) float64 {
	switch val := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	case float64:
		return val
	default:
		return 0
	}
}
