package signal

import (
	"testing"

	"spot-trading-bot/internal/history"
	"spot-trading-bot/internal/indicator"
)

// calmUptrend matches the trend-confirmation rule: wide MA gap, quiet
// volatility, mid-range RSI, fast gradient leading.
func calmUptrend() indicator.Snapshot {
	return indicator.Snapshot{
		Price:          101,
		FastMA:         102,
		PrevFastMA:     101,
		SlowMA:         98,
		PrevSlowMA:     98,
		Volatility:     1.5,
		VolatilityMean: 2,
		FastGradient:   1.2,
		SlowGradient:   0.5,
		RSI:            55,
		PrevRSI:        54,
		Support:        95,
		Resistance:     105,
	}
}

func TestTrendConfirmationBuy(t *testing.T) {
	th := DefaultThresholds()
	th.VolatilityFactor = 2

	eval, _ := Decide(calmUptrend(), nil, Position{}, State{}, th)
	if eval.Decision != Buy {
		t.Fatalf("expected BUY, got %v (%s: %s)", eval.Decision, eval.Rule, eval.Reason)
	}
	if eval.Rule != "trend-confirmation" {
		t.Errorf("expected trend-confirmation rule, got %s", eval.Rule)
	}
}

func TestNoBuyWhileLong(t *testing.T) {
	th := DefaultThresholds()
	th.VolatilityFactor = 2

	pos := Position{IsLong: true, EntryPrice: 100}
	eval, _ := Decide(calmUptrend(), nil, pos, State{}, th)
	if eval.Decision == Buy {
		t.Errorf("buy rules must not fire while already long, got %s", eval.Rule)
	}
}

func TestStopLossOverridesBullishIndicators(t *testing.T) {
	th := DefaultThresholds()
	th.VolatilityFactor = 2

	snap := calmUptrend()
	snap.Price = 94
	pos := Position{IsLong: true, EntryPrice: 100}

	eval, _ := Decide(snap, nil, pos, State{}, th)
	if eval.Decision != Sell {
		t.Fatalf("expected stop-loss SELL at price 94 with entry 100, got %v", eval.Decision)
	}
	if eval.Rule != "stop-loss" {
		t.Errorf("expected stop-loss rule, got %s", eval.Rule)
	}
}

func TestStopLossOverridesGrowthAlert(t *testing.T) {
	th := DefaultThresholds()
	snap := calmUptrend()
	snap.Price = 90
	snap.RecentGradientAvg = 10 // would arm the growth alert

	eval, st := Decide(snap, nil, Position{IsLong: true, EntryPrice: 100}, State{GrowthAlert: true}, th)
	if eval.Rule != "stop-loss" {
		t.Fatalf("expected stop-loss, got %s", eval.Rule)
	}
	if st.GrowthAlert {
		t.Errorf("stop-loss must clear the growth alert")
	}
}

func TestStopLossBoundary(t *testing.T) {
	th := DefaultThresholds()
	snap := indicator.Snapshot{Price: 95, RSI: 50, PrevRSI: 50, Support: 10}
	pos := Position{IsLong: true, EntryPrice: 100}

	// Exactly at the stop price does not trigger; strictly below does.
	eval, _ := Decide(snap, nil, pos, State{}, th)
	if eval.Rule == "stop-loss" {
		t.Errorf("price equal to stop must not trigger")
	}
	snap.Price = 94.999999
	eval, _ = Decide(snap, nil, pos, State{}, th)
	if eval.Rule != "stop-loss" {
		t.Errorf("price below stop must trigger, got %s", eval.Rule)
	}
}

func TestEmptyHistoryFallsThroughToHold(t *testing.T) {
	th := DefaultThresholds()
	// Hot volatility regime: only rules needing a previous gradient could
	// fire, and they must be skipped with no history.
	snap := indicator.Snapshot{
		Price:          100,
		FastMA:         100.05,
		PrevFastMA:     100.01,
		SlowMA:         100,
		PrevSlowMA:     100,
		Volatility:     3,
		VolatilityMean: 2,
		FastGradient:   0.04,
		SlowGradient:   0.01,
		RSI:            50,
		PrevRSI:        45,
		Support:        90,
	}
	eval, _ := Decide(snap, nil, Position{}, State{}, th)
	if eval.Decision != Hold {
		t.Errorf("expected HOLD with empty gradient history, got %v (%s)", eval.Decision, eval.Rule)
	}
}

func TestDecideIsIdempotent(t *testing.T) {
	th := DefaultThresholds()
	th.VolatilityFactor = 2
	snap := calmUptrend()
	prev := &history.Pair{Fast: 1.0, Slow: 0.4}
	pos := Position{IsLong: false}
	st := State{GrowthAlert: true}

	e1, s1 := Decide(snap, prev, pos, st, th)
	e2, s2 := Decide(snap, prev, pos, st, th)
	if e1 != e2 {
		t.Errorf("evaluations differ: %+v vs %+v", e1, e2)
	}
	if s1 != s2 {
		t.Errorf("states differ: %+v vs %+v", s1, s2)
	}
}

func TestCorrectionOverridesGrowthSameCycle(t *testing.T) {
	th := DefaultThresholds()
	snap := indicator.Snapshot{
		Price:             100,
		FastMA:            101,
		PrevFastMA:        100,
		SlowMA:            99,
		PrevSlowMA:        99,
		Volatility:        1,
		VolatilityMean:    2,
		FastGradient:      0.5, // pulled back from 2.0, a 75% drop
		SlowGradient:      0.1,
		RSI:               60,
		PrevRSI:           58,
		RecentGradientAvg: 1.5, // still arms the growth alert this cycle
		Support:           90,
	}
	prev := &history.Pair{Fast: 2.0, Slow: 0.2}

	eval, st := Decide(snap, prev, Position{IsLong: true, EntryPrice: 99}, State{}, th)
	if eval.Decision != Sell || eval.Rule != "growth-correction" {
		t.Fatalf("expected growth-correction SELL, got %v (%s)", eval.Decision, eval.Rule)
	}
	if st.GrowthAlert {
		t.Errorf("correction must clear the growth alert")
	}
	if !st.AwaitingRebound {
		t.Errorf("correction must arm the rebound wait")
	}
}

func TestAwaitingReboundSuppressesBuys(t *testing.T) {
	th := DefaultThresholds()
	th.VolatilityFactor = 2
	snap := calmUptrend()
	snap.FastGradient = -0.1 // still decelerating
	snap.SlowGradient = -0.2

	eval, st := Decide(snap, nil, Position{}, State{AwaitingRebound: true}, th)
	if eval.Decision != Hold || eval.Rule != "awaiting-rebound" {
		t.Fatalf("expected suppressed HOLD, got %v (%s)", eval.Decision, eval.Rule)
	}
	if !st.AwaitingRebound {
		t.Errorf("rebound wait must persist while gradient is negative")
	}

	// Positive gradient clears the flag and the normal cascade resumes.
	snap.FastGradient = 1.2
	snap.SlowGradient = 0.5
	eval, st = Decide(snap, nil, Position{}, State{AwaitingRebound: true}, th)
	if st.AwaitingRebound {
		t.Errorf("positive gradient must clear the rebound wait")
	}
	if eval.Decision != Buy {
		t.Errorf("cascade should resume after rebound, got %v (%s)", eval.Decision, eval.Rule)
	}
}

func TestPriceJumpClearsReboundWait(t *testing.T) {
	th := DefaultThresholds()
	snap := calmUptrend()
	snap.FastGradient = -0.1
	snap.SlowGradient = -0.2
	snap.Price = 110
	snap.RecentAvgPrice = 100
	snap.JumpThreshold = 0.05

	_, st := Decide(snap, nil, Position{}, State{AwaitingRebound: true}, th)
	if st.AwaitingRebound {
		t.Errorf("price jump above threshold must clear the rebound wait")
	}
}

func TestMACrossdownSell(t *testing.T) {
	th := DefaultThresholds()
	snap := indicator.Snapshot{
		Price:          97,
		FastMA:         96,
		SlowMA:         98,
		PrevFastMA:     97,
		PrevSlowMA:     98,
		Volatility:     1,
		VolatilityMean: 1,
		RSI:            45,
		PrevRSI:        50,
		Support:        90,
	}
	eval, _ := Decide(snap, nil, Position{IsLong: true, EntryPrice: 96}, State{}, th)
	if eval.Decision != Sell || eval.Rule != "ma-crossdown" {
		t.Errorf("expected ma-crossdown SELL, got %v (%s)", eval.Decision, eval.Rule)
	}
}

func TestSupportBreakSell(t *testing.T) {
	th := DefaultThresholds()
	snap := indicator.Snapshot{
		Price:          89,
		FastMA:         100,
		SlowMA:         99,
		PrevFastMA:     100,
		PrevSlowMA:     99,
		Volatility:     1,
		VolatilityMean: 2,
		FastGradient:   -0.5,
		RSI:            40,
		PrevRSI:        40,
		Support:        90,
	}
	eval, _ := Decide(snap, nil, Position{IsLong: true, EntryPrice: 88}, State{}, th)
	if eval.Decision != Sell || eval.Rule != "support-break" {
		t.Errorf("expected support-break SELL, got %v (%s)", eval.Decision, eval.Rule)
	}
}

func TestHysteresisBand(t *testing.T) {
	th := DefaultThresholds()
	if got := th.Hysteresis(0.001); got != th.HysteresisFloor {
		t.Errorf("low volatility must clamp to the floor, got %v", got)
	}
	if got := th.Hysteresis(5); got != 0.5 {
		t.Errorf("expected 0.5 at volatility 5, got %v", got)
	}
}

func TestDecisionString(t *testing.T) {
	if Buy.String() != "BUY" || Sell.String() != "SELL" || Hold.String() != "HOLD" {
		t.Errorf("unexpected decision labels: %s %s %s", Buy, Sell, Hold)
	}
}
