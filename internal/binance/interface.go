package binance

import "context"

// Exchange defines the connector surface the trading cycle consumes.
type Exchange interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	GetTradingFilters(ctx context.Context, symbol string) (TradingFilters, error)
	GetAccountInfo(ctx context.Context) (*AccountInfo, error)
	GetMyTrades(ctx context.Context, symbol string, limit int) ([]Trade, error)
	CreateMarketOrder(ctx context.Context, symbol, side, quantity, clientOrderID string) (*OrderResponse, error)
	Ping(ctx context.Context) error
}

// Ensure both Client and MockClient implement Exchange
var _ Exchange = (*Client)(nil)
var _ Exchange = (*MockClient)(nil)
