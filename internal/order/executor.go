// Package order sizes decisions into filter-compliant quantities and
// reconciles the resulting fills into position state.
package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spot-trading-bot/internal/binance"
)

var (
	// ErrQuantityBelowMinimum means sizing could not reach the exchange
	// minimums from the available balance.
	ErrQuantityBelowMinimum = errors.New("order quantity below exchange minimum")
	// ErrInsufficientBalance means the compliant quantity costs more than
	// the balance covers.
	ErrInsufficientBalance = errors.New("insufficient balance for compliant order")
	// ErrOrderRejected wraps an exchange rejection; position state is left
	// untouched by the caller.
	ErrOrderRejected = errors.New("order rejected by exchange")
	// ErrInvalidTradingFilters means the symbol's lot-size or notional
	// filters were missing or non-positive.
	ErrInvalidTradingFilters = errors.New("invalid trading filters")
)

// notionalCorrectionLimit bounds the step-increment loop so a degenerate
// filter set cannot spin forever.
const notionalCorrectionLimit = 10000

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Result is the reconciled outcome of one submitted order.
type Result struct {
	Side            string
	RequestedQty    decimal.Decimal
	ExecutedQty     decimal.Decimal
	Price           float64
	EntryPrice      float64
	Profit          float64
	Status          string
	PartiallyFilled bool
	ClientOrderID   string
	ExchangeOrderID int64
}

// SizeBuy computes a compliant buy quantity from the available quote
// balance. The raw quantity is floored to the step grid, clamped up to the
// minimum quantity, then bumped by whole steps until the notional clears
// the minimum. All arithmetic is exact decimal so the quantity never
// violates lot-size precision.
func SizeBuy(quoteBalance, price decimal.Decimal, f binance.TradingFilters) (decimal.Decimal, error) {
	if !f.Valid() {
		return decimal.Zero, ErrInvalidTradingFilters
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive price", ErrInvalidTradingFilters)
	}

	qty := floorToStep(quoteBalance.Div(price), f.StepSize)
	if qty.LessThan(f.MinQuantity) {
		qty = f.MinQuantity
	}

	qty, err := correctNotional(qty, price, f)
	if err != nil {
		return decimal.Zero, err
	}
	if qty.Mul(price).GreaterThan(quoteBalance) {
		return decimal.Zero, ErrInsufficientBalance
	}
	return qty, nil
}

// SizeSell computes a compliant sell quantity bounded by the asset balance.
// desired limits the quantity when positive; zero means "sell what we
// hold". Unlike buys the quantity can never be clamped above the balance,
// so an undersized holding fails instead of being rounded up.
func SizeSell(assetBalance, desired, price decimal.Decimal, f binance.TradingFilters) (decimal.Decimal, error) {
	if !f.Valid() {
		return decimal.Zero, ErrInvalidTradingFilters
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive price", ErrInvalidTradingFilters)
	}

	raw := assetBalance
	if desired.IsPositive() && desired.LessThan(raw) {
		raw = desired
	}
	qty := floorToStep(raw, f.StepSize)
	if qty.LessThan(f.MinQuantity) {
		return decimal.Zero, fmt.Errorf("%w: %s after step rounding, minimum %s",
			ErrQuantityBelowMinimum, qty, f.MinQuantity)
	}

	qty, err := correctNotional(qty, price, f)
	if err != nil {
		return decimal.Zero, err
	}
	if qty.GreaterThan(assetBalance) {
		return decimal.Zero, fmt.Errorf("%w: notional correction needs %s, holding %s",
			ErrInsufficientBalance, qty, assetBalance)
	}
	return qty, nil
}

func floorToStep(qty, step decimal.Decimal) decimal.Decimal {
	return qty.Div(step).Floor().Mul(step)
}

func correctNotional(qty, price decimal.Decimal, f binance.TradingFilters) (decimal.Decimal, error) {
	for i := 0; qty.Mul(price).LessThan(f.MinNotional); i++ {
		if i >= notionalCorrectionLimit {
			return decimal.Zero, fmt.Errorf("%w: notional %s stuck under minimum %s",
				ErrQuantityBelowMinimum, qty.Mul(price), f.MinNotional)
		}
		qty = qty.Add(f.StepSize)
	}
	return qty, nil
}

// Executor submits market orders and reconciles their fills. One order per
// decision per cycle; it never retries a submission.
type Executor struct {
	client binance.Exchange
	symbol string
	logger zerolog.Logger
}

func NewExecutor(client binance.Exchange, symbol string, logger zerolog.Logger) *Executor {
	return &Executor{
		client: client,
		symbol: symbol,
		logger: logger.With().Str("component", "order").Str("symbol", symbol).Logger(),
	}
}

// Buy sizes and submits a market buy against the quote balance. On a fill
// the result carries the entry price taken from the first fill, falling
// back to the current price when the exchange omits fills.
func (e *Executor) Buy(ctx context.Context, quoteBalance, price float64, f binance.TradingFilters) (*Result, error) {
	qty, err := SizeBuy(decimal.NewFromFloat(quoteBalance), decimal.NewFromFloat(price), f)
	if err != nil {
		return nil, err
	}
	return e.submit(ctx, SideBuy, qty, price, 0)
}

// Sell sizes and submits a market sell of the held asset. entryPrice is the
// recorded cost basis used for the realized-profit calculation; zero means
// unknown and yields zero profit.
func (e *Executor) Sell(ctx context.Context, assetBalance, desired, price, entryPrice float64, f binance.TradingFilters) (*Result, error) {
	qty, err := SizeSell(decimal.NewFromFloat(assetBalance), decimal.NewFromFloat(desired), decimal.NewFromFloat(price), f)
	if err != nil {
		return nil, err
	}
	return e.submit(ctx, SideSell, qty, price, entryPrice)
}

func (e *Executor) submit(ctx context.Context, side string, qty decimal.Decimal, price, entryPrice float64) (*Result, error) {
	clientOrderID := uuid.NewString()
	e.logger.Info().
		Str("side", side).
		Str("quantity", qty.String()).
		Float64("price", price).
		Str("client_order_id", clientOrderID).
		Msg("submitting market order")

	resp, err := e.client.CreateMarketOrder(ctx, e.symbol, side, qty.String(), clientOrderID)
	if err != nil {
		return nil, fmt.Errorf("submit %s order: %w", side, err)
	}

	res := &Result{
		Side:            side,
		RequestedQty:    qty,
		Price:           price,
		Status:          resp.Status,
		ClientOrderID:   clientOrderID,
		ExchangeOrderID: resp.OrderID,
	}

	switch resp.Status {
	case binance.StatusFilled:
		res.ExecutedQty = decimal.NewFromFloat(resp.ExecutedQty)
	case binance.StatusPartiallyFilled:
		res.ExecutedQty = decimal.NewFromFloat(resp.ExecutedQty)
		res.PartiallyFilled = true
		e.logger.Warn().
			Str("side", side).
			Str("requested", qty.String()).
			Float64("executed", resp.ExecutedQty).
			Msg("order partially filled, reconciling executed quantity")
	default:
		e.logger.Error().
			Str("side", side).
			Str("quantity", qty.String()).
			Float64("price", price).
			Str("status", resp.Status).
			Msg("order not filled")
		return nil, fmt.Errorf("%w: status %s", ErrOrderRejected, resp.Status)
	}

	fillPrice := price
	if len(resp.Fills) > 0 {
		fillPrice = resp.Fills[0].Price
	}

	switch side {
	case SideBuy:
		res.EntryPrice = fillPrice
	case SideSell:
		if entryPrice > 0 {
			executed, _ := res.ExecutedQty.Float64()
			res.Profit = (fillPrice - entryPrice) * executed
		}
	}

	e.logger.Info().
		Str("side", side).
		Str("status", resp.Status).
		Str("executed", res.ExecutedQty.String()).
		Float64("fill_price", fillPrice).
		Float64("profit", res.Profit).
		Msg("order reconciled")
	return res, nil
}
