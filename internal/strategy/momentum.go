package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/memebot-trading/memebot/internal/analytics"
	"github.com/memebot-trading/memebot/internal/risk"
	"github.com/memebot-trading/memebot/internal/security"
	"github.com/memebot-trading/memebot/internal/sentiment"
	"github.com/memebot-trading/memebot/internal/venue"
)

// PriceSource exposes the windowed price change used for momentum checks.
// Satisfied by *price.Tracker.
type PriceSource interface {
	PriceChange(token common.Address, window time.Duration) decimal.Decimal
}

// ActivitySource supplies a token's recent trade summary. Satisfied by
// *analytics.Service.
type ActivitySource interface {
	Summarize(ctx context.Context, token common.Address, fromBlock uint64) (*analytics.Summary, error)
}

// MomentumConfig configures the Momentum strategy.
type MomentumConfig struct {
	// MinChangeShortPct and MinChangeLongPct are the required price moves
	// over ShortWindow and LongWindow.
	ShortWindow       time.Duration
	LongWindow        time.Duration
	MinChangeShortPct decimal.Decimal
	MinChangeLongPct  decimal.Decimal

	// MinTrades and MinActivityScore gate on recent trade flow.
	MinTrades        int
	MinActivityScore int

	// RequireBuyPressure rejects tokens whose buys are not the majority of
	// recent trades.
	RequireBuyPressure bool

	BuyAmountBNB decimal.Decimal

	// MomentumLossPct exits a position when it retraces this far from its
	// high-water mark. Zero disables the strategy exit.
	MomentumLossPct decimal.Decimal

	// LookbackBlocks bounds the activity query.
	LookbackBlocks uint64
}

// DefaultMomentumConfig returns sensible defaults.
func DefaultMomentumConfig() MomentumConfig {
	return MomentumConfig{
		ShortWindow:        5 * time.Minute,
		LongWindow:         time.Hour,
		MinChangeShortPct:  decimal.NewFromInt(5),
		MinChangeLongPct:   decimal.NewFromInt(10),
		MinTrades:          20,
		MinActivityScore:   40,
		RequireBuyPressure: true,
		BuyAmountBNB:       decimal.NewFromFloat(0.1),
		MomentumLossPct:    decimal.NewFromInt(10),
		LookbackBlocks:     28_800,
	}
}

// Momentum buys tokens that are already moving: sustained price increase
// across two windows plus healthy trade flow.
type Momentum struct {
	config   MomentumConfig
	prices   PriceSource
	activity ActivitySource

	// cursor returns the fromBlock for activity queries; wired to the
	// listener's current block minus LookbackBlocks by the caller.
	cursor func() uint64
}

// NewMomentum creates a Momentum strategy over the given sources. cursor
// yields the starting block for trade-flow queries; nil means from genesis.
func NewMomentum(config MomentumConfig, prices PriceSource, activity ActivitySource, cursor func() uint64) *Momentum {
	def := DefaultMomentumConfig()
	if config.ShortWindow <= 0 {
		config.ShortWindow = def.ShortWindow
	}
	if config.LongWindow <= 0 {
		config.LongWindow = def.LongWindow
	}
	if config.BuyAmountBNB.IsZero() {
		config.BuyAmountBNB = def.BuyAmountBNB
	}
	return &Momentum{config: config, prices: prices, activity: activity, cursor: cursor}
}

// Name returns the strategy's identifier.
func (m *Momentum) Name() string { return "momentum" }

// ShouldBuy checks trade flow and then price momentum across both windows.
func (m *Momentum) ShouldBuy(ctx context.Context, token *venue.TokenInfo, analysis *security.Analysis, social *sentiment.TokenSentiment) BuyDecision {
	if token.Migrated {
		return noBuy("token already migrated")
	}

	var fromBlock uint64
	if m.cursor != nil {
		fromBlock = m.cursor()
	}

	summary, err := m.activity.Summarize(ctx, token.Address, fromBlock)
	if err != nil {
		return noBuy(fmt.Sprintf("activity fetch failed: %v", err))
	}

	if summary.Trades < m.config.MinTrades {
		return noBuy(fmt.Sprintf("not enough trades: %d", summary.Trades))
	}
	if m.config.RequireBuyPressure && summary.BuyPressurePct.LessThanOrEqual(decimal.NewFromInt(50)) {
		return noBuy(fmt.Sprintf("buy pressure too low: %s%%", summary.BuyPressurePct.Round(0)))
	}
	if score := analytics.ActivityScore(summary); score < m.config.MinActivityScore {
		return noBuy(fmt.Sprintf("activity score too low: %d", score))
	}
	if flagged, reasons := analytics.Suspicious(summary); flagged {
		return noBuy("suspicious activity: " + reasons[0])
	}

	shortChange := m.prices.PriceChange(token.Address, m.config.ShortWindow)
	if shortChange.LessThan(m.config.MinChangeShortPct) {
		return noBuy(fmt.Sprintf("short window change too low: %s%%", shortChange.Round(2)))
	}
	longChange := m.prices.PriceChange(token.Address, m.config.LongWindow)
	if longChange.LessThan(m.config.MinChangeLongPct) {
		return noBuy(fmt.Sprintf("long window change too low: %s%%", longChange.Round(2)))
	}

	confidence := 0.5
	if shortChange.GreaterThan(decimal.NewFromInt(10)) {
		confidence += 0.1
	}
	if longChange.GreaterThan(decimal.NewFromInt(20)) {
		confidence += 0.1
	}
	if social != nil && social.Score > 60 {
		confidence += 0.1
	}
	if analysis != nil && len(analysis.Reasons) > 0 {
		confidence -= 0.1
	}

	decision := BuyDecision{
		Buy:        true,
		AmountBNB:  m.config.BuyAmountBNB,
		Confidence: confidence,
		Reason: fmt.Sprintf("momentum: +%s%% (%s), +%s%% (%s)",
			shortChange.Round(1), m.config.ShortWindow, longChange.Round(1), m.config.LongWindow),
	}
	log.Info().Str("token", token.Address.Hex()).Str("symbol", token.Symbol).
		Str("short_change_pct", shortChange.String()).Str("long_change_pct", longChange.String()).
		Msg("strategy: momentum buy signal")
	return decision
}

// ShouldSell exits when the position has retraced MomentumLossPct from its
// peak, read as the drop over the short window.
func (m *Momentum) ShouldSell(_ context.Context, position *risk.Position) SellDecision {
	if m.config.MomentumLossPct.IsZero() {
		return noSell("no sell conditions met")
	}

	change := m.prices.PriceChange(position.Token, m.config.ShortWindow)
	if change.GreaterThanOrEqual(m.config.MomentumLossPct.Neg()) {
		return noSell("no sell conditions met")
	}

	return SellDecision{
		Sell:   true,
		Amount: position.Amount,
		Reason: fmt.Sprintf("momentum lost: %s%% over %s", change.Round(1), m.config.ShortWindow),
	}
}
