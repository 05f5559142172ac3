package binance

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

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Client talks to the Binance spot REST API.
type Client struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(apiKey, secretKey, baseURL string) *Client {
	return &Client{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// Spot REST weight limit is 1200/min; stay well under it.
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
}

// RequestError marks transport-level failures (timeouts, connection resets,
// non-2xx responses). Callers treat these as retryable and must never map
// them onto trading state.
type RequestError struct {
	Op   string
	Code int
	Err  error
}

func (e *RequestError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("binance %s: status %d: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("binance %s: %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Kline represents a candlestick
type Kline struct {
	OpenTime  int64   `json:"openTime"`
	Open      float64 `json:"open,string"`
	High      float64 `json:"high,string"`
	Low       float64 `json:"low,string"`
	Close     float64 `json:"close,string"`
	Volume    float64 `json:"volume,string"`
	CloseTime int64   `json:"closeTime"`
}

// TradingFilters carries the exchange constraints an order must satisfy.
// Values stay decimal end to end so step-size rounding never drifts.
type TradingFilters struct {
	StepSize    decimal.Decimal
	MinQuantity decimal.Decimal
	MinNotional decimal.Decimal
}

// Valid reports whether all three constraints were actually populated.
func (f TradingFilters) Valid() bool {
	return f.StepSize.IsPositive() && f.MinQuantity.IsPositive() && f.MinNotional.IsPositive()
}

// AssetBalance represents a single asset balance
type AssetBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// FreeAmount parses the free balance; malformed input reads as zero.
func (b AssetBalance) FreeAmount() float64 {
	v, _ := strconv.ParseFloat(b.Free, 64)
	return v
}

// AccountInfo represents spot account information
type AccountInfo struct {
	CanTrade   bool           `json:"canTrade"`
	UpdateTime int64          `json:"updateTime"`
	Balances   []AssetBalance `json:"balances"`
}

// Trade is one fill from the account trade history.
type Trade struct {
	Symbol  string  `json:"symbol"`
	ID      int64   `json:"id"`
	OrderID int64   `json:"orderId"`
	Price   float64 `json:"price,string"`
	Qty     float64 `json:"qty,string"`
	Time    int64   `json:"time"`
	IsBuyer bool    `json:"isBuyer"`
}

// Fill is one execution inside an order response.
type Fill struct {
	Price float64 `json:"price,string"`
	Qty   float64 `json:"qty,string"`
}

// OrderResponse represents a response from placing an order
type OrderResponse struct {
	Symbol              string  `json:"symbol"`
	OrderID             int64   `json:"orderId"`
	ClientOrderID       string  `json:"clientOrderId"`
	TransactTime        int64   `json:"transactTime"`
	OrigQty             float64 `json:"origQty,string"`
	ExecutedQty         float64 `json:"executedQty,string"`
	CummulativeQuoteQty float64 `json:"cummulativeQuoteQty,string"`
	Status              string  `json:"status"`
	Type                string  `json:"type"`
	Side                string  `json:"side"`
	Fills               []Fill  `json:"fills"`
}

// Order statuses the bot reconciles.
const (
	StatusFilled          = "FILLED"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusRejected        = "REJECTED"
)

// GetKlines fetches candlestick data, oldest first.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, "klines", "/api/v3/klines", params)
	if err != nil {
		return nil, err
	}

	var rawKlines [][]interface{}
	if err := json.Unmarshal(body, &rawKlines); err != nil {
		return nil, fmt.Errorf("error parsing klines: %w", err)
	}

	klines := make([]Kline, len(rawKlines))
	for i, raw := range rawKlines {
		if len(raw) < 7 {
			return nil, fmt.Errorf("malformed kline row %d", i)
		}
		klines[i] = Kline{
			OpenTime:  int64(raw[0].(float64)),
			Open:      parseFloat(raw[1]),
			High:      parseFloat(raw[2]),
			Low:       parseFloat(raw[3]),
			Close:     parseFloat(raw[4]),
			Volume:    parseFloat(raw[5]),
			CloseTime: int64(raw[6].(float64)),
		}
	}

	return klines, nil
}

// GetCurrentPrice fetches the current price for a symbol
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.get(ctx, "ticker", "/api/v3/ticker/price", params)
	if err != nil {
		return 0, err
	}

	var priceResp struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price,string"`
	}
	if err := json.Unmarshal(body, &priceResp); err != nil {
		return 0, fmt.Errorf("error parsing price: %w", err)
	}

	return priceResp.Price, nil
}

// GetTradingFilters fetches the LOT_SIZE and NOTIONAL constraints for a symbol.
func (c *Client) GetTradingFilters(ctx context.Context, symbol string) (TradingFilters, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.get(ctx, "exchangeInfo", "/api/v3/exchangeInfo", params)
	if err != nil {
		return TradingFilters{}, err
	}

	var info struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType  string `json:"filterType"`
				StepSize    string `json:"stepSize"`
				MinQty      string `json:"minQty"`
				MinNotional string `json:"minNotional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return TradingFilters{}, fmt.Errorf("error parsing exchange info: %w", err)
	}

	var filters TradingFilters
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				filters.StepSize, _ = decimal.NewFromString(f.StepSize)
				filters.MinQuantity, _ = decimal.NewFromString(f.MinQty)
			case "NOTIONAL", "MIN_NOTIONAL":
				filters.MinNotional, _ = decimal.NewFromString(f.MinNotional)
			}
		}
	}

	return filters, nil
}

// GetAccountInfo fetches account balances.
func (c *Client) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	body, err := c.signedRequest(ctx, http.MethodGet, "account", "/api/v3/account", url.Values{})
	if err != nil {
		return nil, err
	}

	var account AccountInfo
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, fmt.Errorf("error parsing account info: %w", err)
	}

	return &account, nil
}

// GetMyTrades fetches the most recent account trades for a symbol, oldest first.
func (c *Client) GetMyTrades(ctx context.Context, symbol string, limit int) ([]Trade, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.signedRequest(ctx, http.MethodGet, "myTrades", "/api/v3/myTrades", params)
	if err != nil {
		return nil, err
	}

	var trades []Trade
	if err := json.Unmarshal(body, &trades); err != nil {
		return nil, fmt.Errorf("error parsing trades: %w", err)
	}

	return trades, nil
}

// CreateMarketOrder submits a MARKET order. Quantity is passed as the exact
// decimal string produced by the sizing step.
func (c *Client) CreateMarketOrder(ctx context.Context, symbol, side, quantity, clientOrderID string) (*OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", "MARKET")
	params.Set("quantity", quantity)
	if clientOrderID != "" {
		params.Set("newClientOrderId", clientOrderID)
	}

	body, err := c.signedRequest(ctx, http.MethodPost, "order", "/api/v3/order", params)
	if err != nil {
		return nil, err
	}

	var orderResp OrderResponse
	if err := json.Unmarshal(body, &orderResp); err != nil {
		return nil, fmt.Errorf("error parsing order response: %w", err)
	}

	return &orderResp, nil
}

// Ping checks connectivity to the exchange.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.get(ctx, "ping", "/api/v3/ping", url.Values{})
	return err
}

func (c *Client) get(ctx context.Context, op, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &RequestError{Op: op, Err: err}
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &RequestError{Op: op, Err: err}
	}

	return c.do(op, req)
}

func (c *Client) signedRequest(ctx context.Context, method, op, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &RequestError{Op: op, Err: err}
	}

	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("signature", c.sign(params.Encode()))

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, &RequestError{Op: op, Err: err}
	}
	req.URL.RawQuery = params.Encode()
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	return c.do(op, req)
}

func (c *Client) do(op string, req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RequestError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{Op: op, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &RequestError{Op: op, Code: resp.StatusCode, Err: fmt.Errorf("%s", string(body))}
	}

	return body, nil
}

// sign creates a signature for authenticated requests
func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseFloat(val interface{}) float64 {
	switch v := val.(type) {
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case float64:
		return v
	default:
		return 0
	}
}
