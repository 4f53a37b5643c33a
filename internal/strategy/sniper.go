package strategy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/memebot-trading/memebot/internal/risk"
	"github.com/memebot-trading/memebot/internal/security"
	"github.com/memebot-trading/memebot/internal/sentiment"
	"github.com/memebot-trading/memebot/internal/venue"
)

// SniperConfig configures the Sniper strategy.
type SniperConfig struct {
	// MaxAge rejects tokens older than this at evaluation time.
	MaxAge time.Duration

	// BuyAmountBNB is the fixed entry size.
	BuyAmountBNB decimal.Decimal

	// MinReserveBNB and MaxReserveBNB bound acceptable curve liquidity.
	// Below the floor the token is too thin to exit; above the ceiling the
	// pump already happened.
	MinReserveBNB decimal.Decimal
	MaxReserveBNB decimal.Decimal

	// BlacklistedWords in the token name or symbol reject the token.
	BlacklistedWords []string

	// BlacklistedCreators are never bought. WhitelistedCreators, when
	// non-empty, becomes an allowlist.
	BlacklistedCreators []common.Address
	WhitelistedCreators []common.Address

	// MinSentimentScore gates on the social composite when > 0.
	MinSentimentScore int

	// AutoSellAfter exits a position on age alone. Zero disables.
	AutoSellAfter time.Duration
}

// DefaultSniperConfig returns sensible defaults.
func DefaultSniperConfig() SniperConfig {
	return SniperConfig{
		MaxAge:           5 * time.Minute,
		BuyAmountBNB:     decimal.NewFromFloat(0.1),
		MinReserveBNB:    decimal.NewFromFloat(0.5),
		MaxReserveBNB:    decimal.NewFromInt(10),
		BlacklistedWords: []string{"test", "scam", "rug", "fake"},
	}
}

// Sniper buys tokens minutes after launch, gated on age, curve liquidity,
// creator lists, and an optional sentiment floor.
type Sniper struct {
	config SniperConfig
}

// NewSniper creates a Sniper strategy.
func NewSniper(config SniperConfig) *Sniper {
	if config.BuyAmountBNB.IsZero() {
		config.BuyAmountBNB = DefaultSniperConfig().BuyAmountBNB
	}
	if config.MaxAge <= 0 {
		config.MaxAge = DefaultSniperConfig().MaxAge
	}
	return &Sniper{config: config}
}

// Name returns the strategy's identifier.
func (s *Sniper) Name() string { return "sniper" }

// ShouldBuy applies the sniper entry gates in order and reports the first
// failure, or a sized buy when all pass.
func (s *Sniper) ShouldBuy(_ context.Context, token *venue.TokenInfo, analysis *security.Analysis, social *sentiment.TokenSentiment) BuyDecision {
	if token.Migrated {
		return noBuy("token already migrated")
	}

	age := time.Since(token.CreatedAt)
	if age > s.config.MaxAge {
		return noBuy(fmt.Sprintf("token too old: %s", age.Truncate(time.Second)))
	}

	reserve := venue.WeiToDecimal(token.ReserveBNB)
	if !s.config.MinReserveBNB.IsZero() && reserve.LessThan(s.config.MinReserveBNB) {
		return noBuy(fmt.Sprintf("liquidity too low: %s BNB", reserve))
	}
	if !s.config.MaxReserveBNB.IsZero() && reserve.GreaterThan(s.config.MaxReserveBNB) {
		return noBuy(fmt.Sprintf("liquidity too high, already pumped: %s BNB", reserve))
	}

	for _, c := range s.config.BlacklistedCreators {
		if c == token.Creator {
			return noBuy("creator is blacklisted")
		}
	}
	if len(s.config.WhitelistedCreators) > 0 {
		allowed := false
		for _, c := range s.config.WhitelistedCreators {
			if c == token.Creator {
				allowed = true
				break
			}
		}
		if !allowed {
			return noBuy("creator not in whitelist")
		}
	}

	nameLower := strings.ToLower(token.Name)
	symbolLower := strings.ToLower(token.Symbol)
	for _, word := range s.config.BlacklistedWords {
		if strings.Contains(nameLower, word) || strings.Contains(symbolLower, word) {
			return noBuy(fmt.Sprintf("name contains blacklisted word %q", word))
		}
	}

	if s.config.MinSentimentScore > 0 {
		if social == nil {
			return noBuy("sentiment required but unavailable")
		}
		if social.Score < s.config.MinSentimentScore {
			return noBuy(fmt.Sprintf("sentiment score %d below minimum %d", social.Score, s.config.MinSentimentScore))
		}
	}

	confidence := 0.7
	if len(s.config.WhitelistedCreators) > 0 {
		confidence += 0.1
	}
	if social != nil && social.Score > 50 {
		confidence += 0.1
	}
	if analysis != nil && len(analysis.Reasons) > 0 {
		confidence -= 0.1
	}

	decision := BuyDecision{
		Buy:        true,
		AmountBNB:  s.config.BuyAmountBNB,
		Confidence: confidence,
		Reason:     fmt.Sprintf("new token %s, %s old", token.Symbol, age.Truncate(time.Second)),
	}
	log.Info().Str("token", token.Address.Hex()).Str("symbol", token.Symbol).
		Str("amount_bnb", decision.AmountBNB.String()).Float64("confidence", confidence).
		Msg("strategy: sniper buy signal")
	return decision
}

// ShouldSell exits on the hold timer when configured.
func (s *Sniper) ShouldSell(_ context.Context, position *risk.Position) SellDecision {
	if s.config.AutoSellAfter <= 0 {
		return noSell("no sell conditions met")
	}

	held := time.Since(position.OpenedAt)
	if held < s.config.AutoSellAfter {
		return noSell("no sell conditions met")
	}

	return SellDecision{
		Sell:   true,
		Amount: position.Amount,
		Reason: fmt.Sprintf("auto-sell after %s", held.Truncate(time.Second)),
	}
}
