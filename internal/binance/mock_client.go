package binance

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"
)

// MockClient simulates the exchange for dry-run mode and tests. Responses
// are seeded through the exported fields; every order is acknowledged as
// FILLED at the configured price unless OrderStatus overrides it.
type MockClient struct {
	mu sync.Mutex

	Klines      []Kline
	Price       float64
	Filters     TradingFilters
	Account     *AccountInfo
	Trades      []Trade
	OrderStatus string // defaults to FILLED

	// Errors injected per operation; nil means success.
	KlinesErr  error
	PriceErr   error
	FiltersErr error
	AccountErr error
	TradesErr  error
	OrderErr   error

	PlacedOrders []OrderResponse
	nextOrderID  int64
}

// NewMockClient returns a mock seeded with permissive defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		Price: 100,
		Filters: TradingFilters{
			StepSize:    decimal.RequireFromString("0.01"),
			MinQuantity: decimal.RequireFromString("0.01"),
			MinNotional: decimal.RequireFromString("10"),
		},
		Account: &AccountInfo{
			CanTrade: true,
			Balances: []AssetBalance{
				{Asset: "USDT", Free: "1000", Locked: "0"},
				{Asset: "SOL", Free: "0", Locked: "0"},
			},
		},
	}
}

func (m *MockClient) GetKlines(_ context.Context, _, _ string, limit int) ([]Kline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.KlinesErr != nil {
		return nil, m.KlinesErr
	}
	if limit > 0 && limit < len(m.Klines) {
		return m.Klines[len(m.Klines)-limit:], nil
	}
	return m.Klines, nil
}

func (m *MockClient) GetCurrentPrice(_ context.Context, _ string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PriceErr != nil {
		return 0, m.PriceErr
	}
	return m.Price, nil
}

func (m *MockClient) GetTradingFilters(_ context.Context, _ string) (TradingFilters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FiltersErr != nil {
		return TradingFilters{}, m.FiltersErr
	}
	return m.Filters, nil
}

func (m *MockClient) GetAccountInfo(_ context.Context) (*AccountInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AccountErr != nil {
		return nil, m.AccountErr
	}
	return m.Account, nil
}

func (m *MockClient) GetMyTrades(_ context.Context, _ string, limit int) ([]Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TradesErr != nil {
		return nil, m.TradesErr
	}
	if limit > 0 && limit < len(m.Trades) {
		return m.Trades[len(m.Trades)-limit:], nil
	}
	return m.Trades, nil
}

func (m *MockClient) CreateMarketOrder(_ context.Context, symbol, side, quantity, clientOrderID string) (*OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OrderErr != nil {
		return nil, m.OrderErr
	}

	qty, err := strconv.ParseFloat(quantity, 64)
	if err != nil {
		return nil, fmt.Errorf("mock: bad quantity %q: %w", quantity, err)
	}

	status := m.OrderStatus
	if status == "" {
		status = StatusFilled
	}

	m.nextOrderID++
	resp := OrderResponse{
		Symbol:              symbol,
		OrderID:             m.nextOrderID,
		ClientOrderID:       clientOrderID,
		OrigQty:             qty,
		ExecutedQty:         qty,
		CummulativeQuoteQty: qty * m.Price,
		Status:              status,
		Type:                "MARKET",
		Side:                side,
		Fills:               []Fill{{Price: m.Price, Qty: qty}},
	}
	if status == StatusPartiallyFilled {
		resp.ExecutedQty = qty / 2
		resp.Fills[0].Qty = qty / 2
	}
	m.PlacedOrders = append(m.PlacedOrders, resp)
	return &resp, nil
}

func (m *MockClient) Ping(_ context.Context) error { return nil }
