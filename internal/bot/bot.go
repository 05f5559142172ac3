// Package bot runs the poll-decide-execute cycle. One cycle per interval,
// never overlapping; a failed cycle leaves state unchanged and retries
// after a backoff cooldown.
package bot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"spot-trading-bot/config"
	"spot-trading-bot/internal/advisor"
	"spot-trading-bot/internal/api"
	"spot-trading-bot/internal/binance"
	"spot-trading-bot/internal/database"
	"spot-trading-bot/internal/history"
	"spot-trading-bot/internal/indicator"
	"spot-trading-bot/internal/order"
	"spot-trading-bot/internal/position"
	"spot-trading-bot/internal/signal"
)

// Bot owns the trading cycle for one symbol.
type Bot struct {
	client     binance.Exchange
	tracker    *position.Tracker
	executor   *order.Executor
	store      history.Store
	adv        advisor.Advisor
	repo       *database.Repository // nil when no database is configured
	board      *api.StatusBoard     // nil when the status API is disabled
	cfg        config.TradingConfig
	params     indicator.Params
	thresholds signal.Thresholds
	logger     zerolog.Logger

	sigState   signal.State
	cycleCount atomic.Int64

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(
	client binance.Exchange,
	tracker *position.Tracker,
	executor *order.Executor,
	store history.Store,
	adv advisor.Advisor,
	repo *database.Repository,
	board *api.StatusBoard,
	cfg config.TradingConfig,
	logger zerolog.Logger,
) *Bot {
	params := indicator.DefaultParams()
	params.FastWindow = cfg.FastWindow
	params.SlowWindow = cfg.SlowWindow
	params.RSIPeriod = cfg.RSIPeriod

	thresholds := signal.DefaultThresholds()
	thresholds.RSILower = cfg.RSILower
	thresholds.RSIUpper = cfg.RSIUpper
	thresholds.VolatilityFactor = cfg.VolatilityFactor
	thresholds.StopLossPct = cfg.StopLossPct

	if adv == nil {
		adv = advisor.Nop{}
	}

	return &Bot{
		client:     client,
		tracker:    tracker,
		executor:   executor,
		store:      store,
		adv:        adv,
		repo:       repo,
		board:      board,
		cfg:        cfg,
		params:     params,
		thresholds: thresholds,
		logger:     logger.With().Str("component", "bot").Str("symbol", cfg.Symbol).Logger(),
		stopChan:   make(chan struct{}),
	}
}

// Start launches the trading loop in the background.
func (b *Bot) Start() {
	b.wg.Add(1)
	go b.run()
}

// Stop signals the loop to finish the current wait and blocks until it
// exits. A cycle in flight completes before shutdown.
func (b *Bot) Stop() {
	b.stopOnce.Do(func() { close(b.stopChan) })
	b.wg.Wait()
	b.logger.Info().Msg("trading loop stopped")
}

func (b *Bot) run() {
	defer b.wg.Done()

	cooldown := backoff.NewExponentialBackOff()
	cooldown.InitialInterval = b.cfg.CooldownBase
	cooldown.MaxInterval = 10 * b.cfg.CooldownBase
	cooldown.MaxElapsedTime = 0 // never give up, the operator stops the bot

	b.logger.Info().
		Str("interval", b.cfg.Interval).
		Dur("poll_interval", b.cfg.PollInterval).
		Msg("trading loop started")

	for {
		wait := b.cfg.PollInterval
		if err := b.RunCycle(context.Background()); err != nil {
			wait = cooldown.NextBackOff()
			b.logger.Error().Err(err).Dur("cooldown", wait).Msg("cycle failed, cooling down")
		} else {
			cooldown.Reset()
		}

		select {
		case <-time.After(wait):
		case <-b.stopChan:
			return
		}
	}
}

// RunCycle executes one full poll-decide-execute pass. Exported so an
// operator can drive single cycles in tests or a dry-run harness.
//
// Ordering inside a cycle is fixed: refresh state, fetch market data,
// compute indicators, read the previous gradients, decide, execute, then
// push this cycle's gradients and publish the summary.
func (b *Bot) RunCycle(ctx context.Context) error {
	cycle := b.cycleCount.Add(1)
	logger := b.logger.With().Int64("cycle", cycle).Logger()

	st, err := b.tracker.Refresh(ctx)
	if err != nil {
		return err
	}

	klines, err := b.client.GetKlines(ctx, b.cfg.Symbol, b.cfg.Interval, b.cfg.CandleLimit)
	if err != nil {
		return err
	}
	price, err := b.client.GetCurrentPrice(ctx, b.cfg.Symbol)
	if err != nil {
		return err
	}

	snap, err := indicator.Compute(klines, price, b.params)
	if err != nil {
		if errors.Is(err, indicator.ErrInsufficientData) {
			// Not a connectivity failure: skip the decision and try again
			// next interval once more candles exist.
			logger.Warn().Int("candles", len(klines)).Msg("insufficient data, skipping decision")
			return nil
		}
		return err
	}

	// Previous gradients must be read before this cycle's pair is pushed.
	prev, err := b.store.Previous(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("gradient history read failed, treating as empty")
		prev = nil
	}

	eval, nextState := signal.Decide(*snap, prev,
		signal.Position{IsLong: st.IsLong, EntryPrice: st.EntryPrice},
		b.sigState, b.thresholds)
	b.sigState = nextState

	// A firm decision cannot be changed by a vote, so skip the round-trip
	// unless the cascade held.
	if eval.Decision == signal.Hold {
		eval = b.consultAdvisor(ctx, logger, st, snap, eval)
	}

	if execErr := b.execute(ctx, logger, eval, st, snap, price); execErr != nil {
		return execErr
	}

	if err := b.store.Push(ctx, history.Pair{Fast: snap.FastGradient, Slow: snap.SlowGradient}); err != nil {
		logger.Error().Err(err).Msg("gradient history push failed")
	}

	b.recordBalances(ctx, logger)
	b.publish(snap, eval, price)

	logger.Info().
		Str("decision", eval.Decision.String()).
		Str("rule", eval.Rule).
		Bool("is_long", st.IsLong).
		Float64("price", price).
		Float64("fast_ma", snap.FastMA).
		Float64("slow_ma", snap.SlowMA).
		Float64("rsi", snap.RSI).
		Float64("volatility", snap.Volatility).
		Float64("asset_balance", st.AssetBalance).
		Float64("quote_balance", st.QuoteBalance).
		Msg("cycle complete")
	return nil
}

func (b *Bot) consultAdvisor(ctx context.Context, logger zerolog.Logger, st position.State, snap *indicator.Snapshot, eval signal.Evaluation) signal.Evaluation {
	vote, err := b.adv.Advise(ctx, advisor.MarketSummary{
		Symbol:     b.cfg.Symbol,
		Price:      snap.Price,
		FastMA:     snap.FastMA,
		SlowMA:     snap.SlowMA,
		RSI:        snap.RSI,
		Volatility: snap.Volatility,
		IsLong:     st.IsLong,
	})
	if err != nil {
		// Advisory failure is never allowed to block the internal decision.
		logger.Warn().Err(err).Msg("advisory service failed, proceeding without it")
		return eval
	}
	combined := advisor.Combine(eval, vote)
	if combined.Rule != eval.Rule {
		logger.Info().Str("vote", vote.String()).Msg("advisory vote broke hold")
	}
	return combined
}

func (b *Bot) execute(ctx context.Context, logger zerolog.Logger, eval signal.Evaluation, st position.State, snap *indicator.Snapshot, price float64) error {
	if eval.Decision == signal.Hold {
		return nil
	}

	filters, err := b.client.GetTradingFilters(ctx, b.cfg.Symbol)
	if err != nil {
		return err
	}
	if !filters.Valid() {
		logger.Error().
			Str("side", eval.Decision.String()).
			Float64("price", price).
			Msg("unusable trading filters, skipping execution")
		return nil
	}

	var res *order.Result
	switch eval.Decision {
	case signal.Buy:
		res, err = b.executor.Buy(ctx, st.QuoteBalance, price, filters)
	case signal.Sell:
		res, err = b.executor.Sell(ctx, st.AssetBalance, st.PurchasedQuantity, price, st.EntryPrice, filters)
	}

	if err != nil {
		switch {
		case errors.Is(err, order.ErrQuantityBelowMinimum), errors.Is(err, order.ErrInsufficientBalance):
			logger.Warn().Err(err).
				Str("side", eval.Decision.String()).
				Str("rule", eval.Rule).
				Float64("price", price).
				Msg("sizing failed, no order submitted")
			return nil
		case errors.Is(err, order.ErrOrderRejected):
			logger.Error().Err(err).
				Str("side", eval.Decision.String()).
				Float64("price", price).
				Msg("order rejected, position state unchanged")
			return nil
		default:
			return err
		}
	}

	executed, _ := res.ExecutedQty.Float64()
	switch eval.Decision {
	case signal.Buy:
		b.tracker.RecordBuy(ctx, res.EntryPrice, executed)
	case signal.Sell:
		b.tracker.RecordSell(ctx, res.Profit)
	}

	b.audit(ctx, logger, res)
	return nil
}

func (b *Bot) audit(ctx context.Context, logger zerolog.Logger, res *order.Result) {
	if b.repo == nil {
		return
	}
	st := b.tracker.Current()
	executed, _ := res.ExecutedQty.Float64()
	rec := database.TradeRecord{
		Symbol:       b.cfg.Symbol,
		Side:         res.Side,
		Quantity:     executed,
		Price:        res.Price,
		Status:       res.Status,
		AssetBalance: st.AssetBalance,
		QuoteBalance: st.QuoteBalance,
	}
	if res.Side == order.SideSell {
		profit := res.Profit
		rec.Profit = &profit
	}
	if err := b.repo.AppendTrade(ctx, rec); err != nil {
		logger.Error().Err(err).Msg("trade audit append failed")
	}
}

func (b *Bot) recordBalances(ctx context.Context, logger zerolog.Logger) {
	if b.repo == nil {
		return
	}
	st := b.tracker.Current()
	if err := b.repo.UpsertBalance(ctx, b.cfg.BaseAsset, st.AssetBalance); err != nil {
		logger.Error().Err(err).Str("currency", b.cfg.BaseAsset).Msg("balance upsert failed")
	}
	if err := b.repo.UpsertBalance(ctx, b.cfg.QuoteAsset, st.QuoteBalance); err != nil {
		logger.Error().Err(err).Str("currency", b.cfg.QuoteAsset).Msg("balance upsert failed")
	}
}

func (b *Bot) publish(snap *indicator.Snapshot, eval signal.Evaluation, price float64) {
	if b.board == nil {
		return
	}
	st := b.tracker.Current()
	b.board.Publish(api.StatusSnapshot{
		Symbol:       b.cfg.Symbol,
		Price:        price,
		FastMA:       snap.FastMA,
		SlowMA:       snap.SlowMA,
		RSI:          snap.RSI,
		Volatility:   snap.Volatility,
		Decision:     eval.Decision.String(),
		Rule:         eval.Rule,
		IsLong:       st.IsLong,
		EntryPrice:   st.EntryPrice,
		AssetBalance: st.AssetBalance,
		QuoteBalance: st.QuoteBalance,
		CycleAt:      time.Now(),
		CycleCount:   b.cycleCount.Load(),
	})
}
