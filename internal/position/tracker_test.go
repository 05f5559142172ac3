package position

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"spot-trading-bot/internal/binance"
)

func newTestTracker(mock *binance.MockClient) *Tracker {
	cache := NewCache(nil, zerolog.Nop())
	return NewTracker(mock, cache, "SOLUSDT", "SOL", "USDT", 0.001, zerolog.Nop())
}

func TestRefreshDerivesLongFromLastTrade(t *testing.T) {
	mock := binance.NewMockClient()
	mock.Account.Balances = []binance.AssetBalance{
		{Asset: "USDT", Free: "250.5"},
		{Asset: "SOL", Free: "1.5"},
	}
	mock.Trades = []binance.Trade{{Symbol: "SOLUSDT", IsBuyer: true}}

	tr := newTestTracker(mock)
	st, err := tr.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !st.IsLong {
		t.Errorf("last trade was a buy, expected long")
	}
	if st.AssetBalance != 1.5 || st.QuoteBalance != 250.5 {
		t.Errorf("unexpected balances: asset=%v quote=%v", st.AssetBalance, st.QuoteBalance)
	}
}

func TestRefreshLastTradeSellMeansFlat(t *testing.T) {
	mock := binance.NewMockClient()
	// Balance above dust, but the last trade was a sell: the trade side is
	// authoritative over the balance heuristic.
	mock.Account.Balances = []binance.AssetBalance{
		{Asset: "USDT", Free: "100"},
		{Asset: "SOL", Free: "0.02"},
	}
	mock.Trades = []binance.Trade{{Symbol: "SOLUSDT", IsBuyer: false}}

	tr := newTestTracker(mock)
	st, err := tr.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if st.IsLong {
		t.Errorf("last trade was a sell, expected flat despite balance above dust")
	}
}

func TestRefreshEmptyHistoryFallsBackToDustHeuristic(t *testing.T) {
	mock := binance.NewMockClient()
	mock.Account.Balances = []binance.AssetBalance{
		{Asset: "USDT", Free: "100"},
		{Asset: "SOL", Free: "0.5"},
	}
	mock.Trades = nil

	tr := newTestTracker(mock)
	st, err := tr.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !st.IsLong {
		t.Errorf("balance 0.5 above dust threshold, expected long")
	}
}

func TestRefreshTradeErrorKeepsLastKnownFlag(t *testing.T) {
	mock := binance.NewMockClient()
	mock.Trades = []binance.Trade{{Symbol: "SOLUSDT", IsBuyer: true}}

	tr := newTestTracker(mock)
	if _, err := tr.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// A transient failure must not downgrade long to flat.
	mock.TradesErr = errors.New("timeout")
	st, err := tr.Refresh(context.Background())
	if err != nil {
		t.Fatalf("trade history error must not fail the refresh: %v", err)
	}
	if !st.IsLong {
		t.Errorf("fetch failure treated as flat; must keep last known long flag")
	}
}

func TestRefreshAccountErrorReturnsLastKnownState(t *testing.T) {
	mock := binance.NewMockClient()
	mock.Account.Balances = []binance.AssetBalance{{Asset: "USDT", Free: "900"}}

	tr := newTestTracker(mock)
	if _, err := tr.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	mock.AccountErr = errors.New("503")
	st, err := tr.Refresh(context.Background())
	if err == nil {
		t.Fatalf("expected error from failed account fetch")
	}
	if st.QuoteBalance != 900 {
		t.Errorf("expected last known quote balance 900, got %v", st.QuoteBalance)
	}
}

func TestRecordBuyAndSellLifecycle(t *testing.T) {
	mock := binance.NewMockClient()
	tr := newTestTracker(mock)
	ctx := context.Background()

	tr.RecordBuy(ctx, 42.5, 2)
	st := tr.Current()
	if !st.IsLong || st.EntryPrice != 42.5 || st.PurchasedQuantity != 2 {
		t.Fatalf("unexpected state after buy: %+v", st)
	}

	tr.RecordSell(ctx, 15)
	st = tr.Current()
	if st.IsLong || st.EntryPrice != 0 || st.PurchasedQuantity != 0 {
		t.Errorf("entry price must be cleared after a confirmed sell: %+v", st)
	}
	if st.LastProfit != 15 {
		t.Errorf("expected last profit 15, got %v", st.LastProfit)
	}
}

func TestCacheRoundTripMemoryOnly(t *testing.T) {
	cache := NewCache(nil, zerolog.Nop())
	ctx := context.Background()

	st, err := cache.Load(ctx, "SOLUSDT")
	if err != nil || st != nil {
		t.Fatalf("expected empty cache, got %+v, %v", st, err)
	}

	want := State{IsLong: true, EntryPrice: 40, PurchasedQuantity: 1.25}
	if err := cache.Save(ctx, "SOLUSDT", want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := cache.Load(ctx, "SOLUSDT")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil || got.EntryPrice != 40 || !got.IsLong {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestTrackerSeedsFromCache(t *testing.T) {
	cache := NewCache(nil, zerolog.Nop())
	ctx := context.Background()
	if err := cache.Save(ctx, "SOLUSDT", State{IsLong: true, EntryPrice: 33}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	tr := NewTracker(binance.NewMockClient(), cache, "SOLUSDT", "SOL", "USDT", 0.001, zerolog.Nop())
	st := tr.Current()
	if !st.IsLong || st.EntryPrice != 33 {
		t.Errorf("expected restored state, got %+v", st)
	}
}
