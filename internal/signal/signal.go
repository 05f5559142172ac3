// Package signal turns an indicator snapshot plus position state into a
// buy/sell/hold decision through a priority-ordered rule cascade.
package signal

import (
	"fmt"
	"math"

	"spot-trading-bot/internal/history"
	"spot-trading-bot/internal/indicator"
)

// Decision is the ternary outcome of one evaluation cycle.
type Decision int

const (
	Hold Decision = iota
	Buy
	Sell
)

func (d Decision) String() string {
	switch d {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "HOLD"
	}
}

// Position is the slice of account state the cascade needs. The tracker
// owns the authoritative version; this copy is immutable per cycle.
type Position struct {
	IsLong     bool
	EntryPrice float64
}

// State carries the growth/correction flags across cycles. It is owned by
// the orchestrator and threaded through Decide, never mutated in place.
type State struct {
	// GrowthAlert is set when sustained gradient growth was detected and
	// no correction has cleared it yet.
	GrowthAlert bool
	// AwaitingRebound suppresses new buys after a growth correction until
	// momentum turns positive again.
	AwaitingRebound bool
}

// Thresholds parameterizes the rule cascade. Zero values are not usable,
// call DefaultThresholds and override fields as needed.
type Thresholds struct {
	RSILower float64
	RSIUpper float64

	// VolatilityFactor scales mean volatility into the minimum MA gap the
	// trend-confirmation rule demands.
	VolatilityFactor float64

	StopLossPct float64

	// Hysteresis band: max(HysteresisFloor, volatility*HysteresisScale).
	HysteresisFloor float64
	HysteresisScale float64

	// GrowthThreshold is the relative gradient average that arms the
	// rapid-growth alert; CorrectionThreshold is the fractional pullback
	// that flips an armed alert into a sell.
	GrowthThreshold     float64
	CorrectionThreshold float64

	// MinGradientDifference is the minimum fast-over-slow gradient edge
	// for trend confirmation.
	MinGradientDifference float64

	// AccelUpRatio compares upward vs downward gradient percentage change
	// in the divergence rule. AccelBasePct plus volatility scaled by
	// AccelVolScale forms the dynamic threshold of the acceleration rule.
	AccelUpRatio  float64
	AccelBasePct  float64
	AccelVolScale float64

	// VolRegimeRatio marks volatility meaningfully above its mean.
	VolRegimeRatio float64

	// MaxGradientDropPct is the downward gradient change that forces a
	// risk-off exit on its own.
	MaxGradientDropPct float64

	// OversoldMargin widens RSILower for the bottom-fishing rule.
	OversoldMargin float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		RSILower:              30,
		RSIUpper:              70,
		VolatilityFactor:      0.7,
		StopLossPct:           0.05,
		HysteresisFloor:       0.01,
		HysteresisScale:       0.1,
		GrowthThreshold:       0.002,
		CorrectionThreshold:   0.08,
		MinGradientDifference: 0.02,
		AccelUpRatio:          1.5,
		AccelBasePct:          50,
		AccelVolScale:         10,
		VolRegimeRatio:        1.2,
		MaxGradientDropPct:    50,
		OversoldMargin:        5,
	}
}

// Hysteresis returns the dynamic dead-zone band for MA crossovers.
func (t Thresholds) Hysteresis(volatility float64) float64 {
	return math.Max(t.HysteresisFloor, volatility*t.HysteresisScale)
}

// RuleStopLoss names the stop-loss verdict. Exported because the advisory
// layer keys its never-override guard on this rule.
const RuleStopLoss = "stop-loss"

// Evaluation is the cascade outcome with the rule that produced it, for
// the cycle summary log and the audit trail.
type Evaluation struct {
	Decision Decision
	Rule     string
	Reason   string
}

func verdict(d Decision, rule, format string, args ...any) Evaluation {
	return Evaluation{Decision: d, Rule: rule, Reason: fmt.Sprintf(format, args...)}
}

// Decide evaluates the rule cascade for one cycle. It is a pure function:
// identical inputs produce identical outputs, and the returned State is the
// only carried-over effect. prev is the previous cycle's gradient pair and
// may be nil on the first cycle; rules that need it are skipped, never an
// error.
//
// Order of evaluation: stop-loss first and unconditionally, then the
// growth/correction two-phase check, then buy rules while flat, then sell
// rules while long, then MACD cross tie-breakers, then hold.
func Decide(snap indicator.Snapshot, prev *history.Pair, pos Position, st State, th Thresholds) (Evaluation, State) {
	next := st

	// Stop-loss overrides every other rule, including an armed growth
	// alert. Checked before anything else so no later branch can shadow it.
	if pos.IsLong && pos.EntryPrice > 0 {
		stop := pos.EntryPrice * (1 - th.StopLossPct)
		if snap.Price < stop {
			next.GrowthAlert = false
			return verdict(Sell, RuleStopLoss,
				"price %.8f below stop %.8f (entry %.8f)", snap.Price, stop, pos.EntryPrice), next
		}
	}

	gap := snap.FastMA - snap.SlowMA
	prevGap := snap.PrevFastMA - snap.PrevSlowMA
	band := th.Hysteresis(snap.Volatility)

	var upPct, downPct float64
	if prev != nil {
		upPct, downPct = indicator.PctChange(snap.FastGradient, prev.Fast)
	}

	// Phase one: sustained growth arms the alert. Phase two: a pullback
	// beyond the correction threshold wins over the growth signal in the
	// same cycle, flipping it into an exit.
	growth := snap.PrevFastMA > 0 &&
		snap.RecentGradientAvg > th.GrowthThreshold*snap.PrevFastMA
	if growth {
		next.GrowthAlert = true
	}
	if next.GrowthAlert && prev != nil && downPct > th.CorrectionThreshold*100 {
		next.GrowthAlert = false
		next.AwaitingRebound = true
		if pos.IsLong {
			return verdict(Sell, "growth-correction",
				"fast gradient pulled back %.2f%% after growth alert", downPct), next
		}
		return verdict(Hold, "growth-correction",
			"correction after growth alert, flat, waiting for rebound"), next
	}

	// A rebound re-enables buying after a correction exit: either momentum
	// turns positive or price breaks above the recent average by more than
	// the jump threshold.
	if next.AwaitingRebound {
		rebounded := snap.FastGradient > 0 ||
			indicator.DetectPriceJump(snap.Price, snap.RecentAvgPrice, snap.JumpThreshold)
		if rebounded {
			next.AwaitingRebound = false
		} else if !pos.IsLong {
			return verdict(Hold, "awaiting-rebound",
				"buys suspended until fast gradient turns positive"), next
		}
	}

	if !pos.IsLong {
		if next.GrowthAlert && growth {
			return verdict(Buy, "rapid-growth",
				"recent gradient avg %.6f above %.4f of prev fast MA", snap.RecentGradientAvg, th.GrowthThreshold), next
		}

		// Rule 1, trend confirmation. Highest confidence: clean uptrend in
		// a calm volatility regime with mid-range RSI.
		if gap >= snap.VolatilityMean*th.VolatilityFactor &&
			snap.Volatility < snap.VolatilityMean &&
			snap.RSI >= th.RSILower && snap.RSI <= th.RSIUpper &&
			snap.FastGradient-snap.SlowGradient > th.MinGradientDifference {
			return verdict(Buy, "trend-confirmation",
				"MA gap %.6f over volatility floor %.6f, RSI %.2f", gap, snap.VolatilityMean*th.VolatilityFactor, snap.RSI), next
		}

		// Rule 2, divergence with rising RSI in a hot volatility regime.
		if prev != nil &&
			gap > band && gap > prevGap &&
			snap.Volatility > snap.VolatilityMean &&
			gap < snap.VolatilityMean*th.VolatilityFactor &&
			upPct > downPct*th.AccelUpRatio &&
			snap.RSI > snap.PrevRSI {
			return verdict(Buy, "divergence-rsi",
				"gap widening %.6f->%.6f with RSI rising %.2f->%.2f", prevGap, gap, snap.PrevRSI, snap.RSI), next
		}

		// Rule 3, raw gradient acceleration against a volatility-scaled bar.
		if prev != nil {
			dynBar := th.AccelBasePct + snap.Volatility*th.AccelVolScale
			if upPct > dynBar &&
				snap.RSI > th.RSILower && snap.RSI < th.RSIUpper &&
				snap.Volatility > snap.VolatilityMean*th.VolRegimeRatio {
				return verdict(Buy, "gradient-acceleration",
					"gradient up %.2f%% over dynamic bar %.2f%%", upPct, dynBar), next
			}
		}

		// Rule 4, oversold reversal: bottom fishing while the uptrend holds.
		if snap.RSI <= th.RSILower+th.OversoldMargin &&
			snap.RSI >= snap.PrevRSI &&
			snap.Volatility < snap.VolatilityMean &&
			gap > 0 {
			return verdict(Buy, "oversold-reversal",
				"RSI %.2f near floor and stabilizing, gap still positive", snap.RSI), next
		}

		if snap.MACDBuyCross() && snap.RSI < th.RSIUpper {
			return verdict(Buy, "macd-cross",
				"MACD %.6f crossed above signal %.6f", snap.MACD, snap.MACDSignal), next
		}
	}

	if pos.IsLong {
		// Sell 1, fast MA crossed below slow MA beyond the hysteresis band.
		if gap < -band {
			return verdict(Sell, "ma-crossdown",
				"fast MA below slow MA by %.6f, band %.6f", -gap, band), next
		}

		// Sell 2, risk-off: uptrend nominally intact but volatility hot and
		// momentum decelerating with a weak RSI or a broken slow gradient.
		if prev != nil &&
			gap > 0 && snap.Volatility > snap.VolatilityMean &&
			snap.FastGradient < prev.Fast &&
			(snap.RSI < th.RSILower || snap.SlowGradient < prev.Slow) {
			return verdict(Sell, "risk-off",
				"decelerating in hot regime, RSI %.2f", snap.RSI), next
		}

		// Sell 3, momentum failure.
		if prev != nil &&
			snap.FastGradient < prev.Fast &&
			snap.RSI < snap.PrevRSI && snap.RSI < th.RSILower {
			return verdict(Sell, "momentum-failure",
				"gradient and RSI both falling, RSI %.2f under %.2f", snap.RSI, th.RSILower), next
		}

		// Sell 4, hard gradient collapse.
		if prev != nil && downPct > th.MaxGradientDropPct {
			return verdict(Sell, "gradient-collapse",
				"fast gradient dropped %.2f%%", downPct), next
		}

		// Sell 5, support break with decelerating momentum.
		decel := snap.FastGradient < 0
		if prev != nil {
			decel = snap.FastGradient < prev.Fast
		}
		if snap.Price < snap.Support && decel {
			return verdict(Sell, "support-break",
				"price %.8f below support %.8f while decelerating", snap.Price, snap.Support), next
		}

		if snap.MACDSellCross() && snap.RSI > th.RSILower {
			return verdict(Sell, "macd-cross",
				"MACD %.6f crossed below signal %.6f", snap.MACD, snap.MACDSignal), next
		}
	}

	return verdict(Hold, "hold", "no rule matched"), next
}
