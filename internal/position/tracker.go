// Package position tracks balances and whether the bot currently holds the
// asset. The exchange is the source of truth; local state is only a
// fallback for transient fetch failures.
package position

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"spot-trading-bot/internal/binance"
)

// State is the per-cycle account view the decision engine consumes.
type State struct {
	IsLong            bool      `json:"is_long"`
	EntryPrice        float64   `json:"entry_price"`
	PurchasedQuantity float64   `json:"purchased_quantity"`
	LastProfit        float64   `json:"last_profit"`
	AssetBalance      float64   `json:"asset_balance"`
	QuoteBalance      float64   `json:"quote_balance"`
	RefreshedAt       time.Time `json:"refreshed_at"`
}

// Tracker refreshes State from the exchange each cycle.
//
// is_long is derived from the side of the most recent trade; the
// balance-over-dust heuristic is used only when trade history is empty.
// Any fetch failure degrades to the last known value for that field and is
// reported, never silently treated as "no position".
type Tracker struct {
	client        binance.Exchange
	cache         *Cache
	symbol        string
	baseAsset     string
	quoteAsset    string
	dustThreshold float64
	logger        zerolog.Logger

	mu    sync.RWMutex
	state State
}

func NewTracker(client binance.Exchange, cache *Cache, symbol, baseAsset, quoteAsset string, dustThreshold float64, logger zerolog.Logger) *Tracker {
	t := &Tracker{
		client:        client,
		cache:         cache,
		symbol:        symbol,
		baseAsset:     baseAsset,
		quoteAsset:    quoteAsset,
		dustThreshold: dustThreshold,
		logger:        logger.With().Str("component", "position").Str("symbol", symbol).Logger(),
	}

	// Seed from the cache so a restart resumes with the persisted entry
	// price instead of a blank slate.
	if cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if st, err := cache.Load(ctx, symbol); err == nil && st != nil {
			t.state = *st
			t.logger.Info().
				Bool("is_long", st.IsLong).
				Float64("entry_price", st.EntryPrice).
				Msg("restored position state from cache")
		}
	}
	return t
}

// Current returns a copy of the last known state.
func (t *Tracker) Current() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Refresh pulls balances and the latest trade from the exchange. On error
// it returns the last known state alongside the error so the caller can
// abort the cycle without losing position knowledge.
func (t *Tracker) Refresh(ctx context.Context) (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	acct, err := t.client.GetAccountInfo(ctx)
	if err != nil {
		t.logger.Error().Err(err).Msg("account fetch failed, keeping last known balances")
		return t.state, err
	}
	for _, b := range acct.Balances {
		switch b.Asset {
		case t.baseAsset:
			t.state.AssetBalance = b.FreeAmount()
		case t.quoteAsset:
			t.state.QuoteBalance = b.FreeAmount()
		}
	}

	trades, err := t.client.GetMyTrades(ctx, t.symbol, 1)
	switch {
	case err != nil:
		// Keep the last known long/flat flag. Treating this as "flat"
		// would invite a duplicate buy right after a transient error.
		t.logger.Error().Err(err).Msg("trade history fetch failed, keeping last known position flag")
	case len(trades) == 0:
		t.state.IsLong = t.state.AssetBalance > t.dustThreshold
	default:
		t.state.IsLong = trades[len(trades)-1].IsBuyer
	}

	t.state.RefreshedAt = time.Now()
	t.persist(ctx)
	return t.state, nil
}

// RecordBuy reconciles a confirmed buy fill into the tracked state.
func (t *Tracker) RecordBuy(ctx context.Context, entryPrice, quantity float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.IsLong = true
	t.state.EntryPrice = entryPrice
	t.state.PurchasedQuantity = quantity
	t.persist(ctx)
}

// RecordSell reconciles a confirmed sell fill. The entry price is cleared
// only here, after confirmation, never speculatively.
func (t *Tracker) RecordSell(ctx context.Context, profit float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.IsLong = false
	t.state.EntryPrice = 0
	t.state.PurchasedQuantity = 0
	t.state.LastProfit = profit
	t.persist(ctx)
}

func (t *Tracker) persist(ctx context.Context) {
	if t.cache == nil {
		return
	}
	if err := t.cache.Save(ctx, t.symbol, t.state); err != nil {
		t.logger.Warn().Err(err).Msg("position cache save failed")
	}
}
