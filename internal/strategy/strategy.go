package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/memebot-trading/memebot/internal/risk"
	"github.com/memebot-trading/memebot/internal/security"
	"github.com/memebot-trading/memebot/internal/sentiment"
	"github.com/memebot-trading/memebot/internal/venue"
)

// BuyDecision is a strategy's verdict on entering a token.
type BuyDecision struct {
	Buy        bool            `json:"buy"`
	AmountBNB  decimal.Decimal `json:"amount_bnb"`
	Confidence float64         `json:"confidence"`
	Reason     string          `json:"reason"`
}

// SellDecision is a strategy's verdict on exiting a position. The stop-loss
// and take-profit engines fire independently; this covers strategy-specific
// exits such as hold timers and momentum loss.
type SellDecision struct {
	Sell   bool            `json:"sell"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

// Strategy decides entries and exits. Security and sentiment inputs may be
// nil when the corresponding gate is disabled; strategies must treat nil as
// "no signal", not as a veto.
type Strategy interface {
	// Name returns the strategy's identifier for logging.
	Name() string

	// ShouldBuy evaluates a freshly discovered token.
	ShouldBuy(ctx context.Context, token *venue.TokenInfo, analysis *security.Analysis, social *sentiment.TokenSentiment) BuyDecision

	// ShouldSell evaluates an open position for a strategy exit.
	ShouldSell(ctx context.Context, position *risk.Position) SellDecision
}

func noBuy(reason string) BuyDecision {
	return BuyDecision{Reason: reason}
}

func noSell(reason string) SellDecision {
	return SellDecision{Reason: reason}
}
