// Package advisor integrates an optional external market-commentary
// service as a typed vote. The vote can only break an internal HOLD; it
// never overrides the cascade's own buy/sell rules and never the stop-loss.
package advisor

import (
	"context"
	"fmt"
	"strings"

	"spot-trading-bot/internal/signal"
)

// Vote is the advisory verdict. Abstain covers both "service disabled" and
// "service failed"; the engine treats it as no opinion.
type Vote int

const (
	Abstain Vote = iota
	VoteBuy
	VoteSell
	VoteHold
)

func (v Vote) String() string {
	switch v {
	case VoteBuy:
		return "BUY"
	case VoteSell:
		return "SELL"
	case VoteHold:
		return "HOLD"
	default:
		return "ABSTAIN"
	}
}

// MarketSummary is the per-cycle context handed to the advisory service.
type MarketSummary struct {
	Symbol     string
	Price      float64
	FastMA     float64
	SlowMA     float64
	RSI        float64
	Volatility float64
	IsLong     bool
}

// Advisor produces one vote per cycle. Implementations must return Abstain
// with the error on failure; the caller proceeds on the internal decision
// alone.
type Advisor interface {
	Advise(ctx context.Context, summary MarketSummary) (Vote, error)
}

// Nop is the advisor used when no service is configured.
type Nop struct{}

func (Nop) Advise(context.Context, MarketSummary) (Vote, error) { return Abstain, nil }

// Combine folds the advisory vote into the cascade's evaluation. Only a
// HOLD can be broken; the stop-loss rule is inviolable even if a later
// refactor makes it reachable here.
func Combine(eval signal.Evaluation, vote Vote) signal.Evaluation {
	if eval.Rule == signal.RuleStopLoss || eval.Decision != signal.Hold {
		return eval
	}
	switch vote {
	case VoteBuy:
		return signal.Evaluation{Decision: signal.Buy, Rule: "advisory", Reason: "advisory vote broke hold"}
	case VoteSell:
		return signal.Evaluation{Decision: signal.Sell, Rule: "advisory", Reason: "advisory vote broke hold"}
	default:
		return eval
	}
}

// ParseVote maps the service's single-token reply onto a Vote. Anything
// other than an exact token is rejected; free text is never pattern-matched
// into a trading action.
func ParseVote(text string) (Vote, error) {
	switch strings.ToUpper(strings.TrimSpace(text)) {
	case "BUY":
		return VoteBuy, nil
	case "SELL":
		return VoteSell, nil
	case "HOLD":
		return VoteHold, nil
	default:
		return Abstain, fmt.Errorf("unrecognized advisory reply %q", strings.TrimSpace(text))
	}
}
