package order

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spot-trading-bot/internal/binance"
)

func filters(step, minQty, minNotional string) binance.TradingFilters {
	return binance.TradingFilters{
		StepSize:    decimal.RequireFromString(step),
		MinQuantity: decimal.RequireFromString(minQty),
		MinNotional: decimal.RequireFromString(minNotional),
	}
}

func TestSizeBuyCleanMultiple(t *testing.T) {
	// 1000 USDT at price 50 buys exactly 20, already on the step grid.
	qty, err := SizeBuy(decimal.NewFromInt(1000), decimal.NewFromInt(50), filters("0.01", "0.01", "10"))
	if err != nil {
		t.Fatalf("SizeBuy: %v", err)
	}
	if !qty.Equal(decimal.NewFromInt(20)) {
		t.Errorf("expected quantity 20, got %s", qty)
	}
}

func TestSizeBuyFloorsToStep(t *testing.T) {
	// 100/3 = 33.333..., step 0.1 floors to 33.3.
	qty, err := SizeBuy(decimal.NewFromInt(100), decimal.NewFromInt(3), filters("0.1", "0.1", "1"))
	if err != nil {
		t.Fatalf("SizeBuy: %v", err)
	}
	if !qty.Equal(decimal.RequireFromString("33.3")) {
		t.Errorf("expected 33.3, got %s", qty)
	}
	if !qty.Mod(decimal.RequireFromString("0.1")).IsZero() {
		t.Errorf("quantity %s not on step grid", qty)
	}
}

func TestSizeBuyInvalidFilters(t *testing.T) {
	_, err := SizeBuy(decimal.NewFromInt(100), decimal.NewFromInt(10), binance.TradingFilters{})
	if !errors.Is(err, ErrInvalidTradingFilters) {
		t.Errorf("expected ErrInvalidTradingFilters, got %v", err)
	}
}

func TestSizeBuyNotionalCorrectionExceedsBalance(t *testing.T) {
	// 5 USDT at price 1 floors to 5, bumped toward minNotional 10, but the
	// corrected 10 costs more than the balance covers.
	_, err := SizeBuy(decimal.NewFromInt(5), decimal.NewFromInt(1), filters("1", "1", "10"))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestSizeSellDustFailsBelowMinimum(t *testing.T) {
	// Holding 0.003 with step 0.01 rounds to zero.
	_, err := SizeSell(decimal.RequireFromString("0.003"), decimal.Zero, decimal.NewFromInt(100), filters("0.01", "0.01", "1"))
	if !errors.Is(err, ErrQuantityBelowMinimum) {
		t.Errorf("expected ErrQuantityBelowMinimum, got %v", err)
	}
}

func TestSizeSellBoundedByBalance(t *testing.T) {
	qty, err := SizeSell(decimal.NewFromInt(2), decimal.NewFromInt(5), decimal.NewFromInt(100), filters("0.01", "0.01", "10"))
	if err != nil {
		t.Fatalf("SizeSell: %v", err)
	}
	if !qty.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected quantity capped at balance 2, got %s", qty)
	}
}

func TestSizeSellDesiredLimitsQuantity(t *testing.T) {
	qty, err := SizeSell(decimal.NewFromInt(10), decimal.NewFromInt(3), decimal.NewFromInt(100), filters("0.01", "0.01", "10"))
	if err != nil {
		t.Fatalf("SizeSell: %v", err)
	}
	if !qty.Equal(decimal.NewFromInt(3)) {
		t.Errorf("expected desired quantity 3, got %s", qty)
	}
}

func TestSizeSellNotionalCorrectionNeedsMoreThanHeld(t *testing.T) {
	// 0.05 at price 100 is notional 5; bumping to 0.1 clears minNotional 10
	// but exceeds the holding.
	_, err := SizeSell(decimal.RequireFromString("0.05"), decimal.Zero, decimal.NewFromInt(100), filters("0.01", "0.01", "10"))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestSizingIsDeterministic(t *testing.T) {
	f := filters("0.001", "0.001", "10")
	bal := decimal.RequireFromString("512.37")
	price := decimal.RequireFromString("41.93")
	q1, err1 := SizeBuy(bal, price, f)
	q2, err2 := SizeBuy(bal, price, f)
	if err1 != nil || err2 != nil {
		t.Fatalf("SizeBuy: %v, %v", err1, err2)
	}
	if !q1.Equal(q2) {
		t.Errorf("sizing not deterministic: %s vs %s", q1, q2)
	}
}

func TestSizeBuyCompliance(t *testing.T) {
	f := filters("0.01", "0.05", "10")
	price := decimal.RequireFromString("37.21")
	for _, balance := range []string{"11", "50", "123.456", "9999.99"} {
		qty, err := SizeBuy(decimal.RequireFromString(balance), price, f)
		if err != nil {
			t.Fatalf("SizeBuy(%s): %v", balance, err)
		}
		if !qty.Mod(f.StepSize).IsZero() {
			t.Errorf("balance %s: quantity %s not a step multiple", balance, qty)
		}
		if qty.LessThan(f.MinQuantity) {
			t.Errorf("balance %s: quantity %s under minimum", balance, qty)
		}
		if qty.Mul(price).LessThan(f.MinNotional) {
			t.Errorf("balance %s: notional %s under minimum", balance, qty.Mul(price))
		}
	}
}

func testExecutor(mock *binance.MockClient) *Executor {
	return NewExecutor(mock, "BTCUSDT", zerolog.Nop())
}

func TestBuyReconcilesEntryPriceFromFill(t *testing.T) {
	mock := &binance.MockClient{Price: 50}
	e := testExecutor(mock)

	res, err := e.Buy(context.Background(), 1000, 50, filters("0.01", "0.01", "10"))
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if res.Status != binance.StatusFilled {
		t.Errorf("expected FILLED, got %s", res.Status)
	}
	if res.EntryPrice != 50 {
		t.Errorf("expected entry price 50 from fill, got %v", res.EntryPrice)
	}
	if len(mock.PlacedOrders) != 1 {
		t.Fatalf("expected exactly one order, got %d", len(mock.PlacedOrders))
	}
	if mock.PlacedOrders[0].ClientOrderID == "" {
		t.Errorf("client order id not set")
	}
}

func TestSellComputesProfit(t *testing.T) {
	mock := &binance.MockClient{Price: 60}
	e := testExecutor(mock)

	res, err := e.Sell(context.Background(), 2, 0, 60, 50, filters("0.01", "0.01", "10"))
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}
	// (60 - 50) * 2
	if res.Profit != 20 {
		t.Errorf("expected profit 20, got %v", res.Profit)
	}
}

func TestPartialFillIsNotTerminal(t *testing.T) {
	mock := &binance.MockClient{Price: 50, OrderStatus: binance.StatusPartiallyFilled}
	e := testExecutor(mock)

	res, err := e.Buy(context.Background(), 1000, 50, filters("0.01", "0.01", "10"))
	if err != nil {
		t.Fatalf("partial fill must not be an error: %v", err)
	}
	if !res.PartiallyFilled {
		t.Errorf("expected PartiallyFilled flag")
	}
	if !res.ExecutedQty.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected executed quantity 10 (half of 20), got %s", res.ExecutedQty)
	}
}

func TestRejectedOrderPropagates(t *testing.T) {
	mock := &binance.MockClient{Price: 50, OrderStatus: binance.StatusRejected}
	e := testExecutor(mock)

	_, err := e.Buy(context.Background(), 1000, 50, filters("0.01", "0.01", "10"))
	if !errors.Is(err, ErrOrderRejected) {
		t.Errorf("expected ErrOrderRejected, got %v", err)
	}
}

func TestUndersizedSellSubmitsNothing(t *testing.T) {
	mock := &binance.MockClient{Price: 100}
	e := testExecutor(mock)

	_, err := e.Sell(context.Background(), 0.003, 0, 100, 50, filters("0.01", "0.01", "1"))
	if !errors.Is(err, ErrQuantityBelowMinimum) {
		t.Fatalf("expected ErrQuantityBelowMinimum, got %v", err)
	}
	if len(mock.PlacedOrders) != 0 {
		t.Errorf("no order must be submitted on sizing failure, got %d", len(mock.PlacedOrders))
	}
}
