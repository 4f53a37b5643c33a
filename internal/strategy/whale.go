package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/memebot-trading/memebot/internal/risk"
	"github.com/memebot-trading/memebot/internal/security"
	"github.com/memebot-trading/memebot/internal/sentiment"
	"github.com/memebot-trading/memebot/internal/venue"
)

// WhaleConfig configures the Whale strategy.
type WhaleConfig struct {
	// ThresholdBNB is the smallest buy counted as whale activity.
	ThresholdBNB decimal.Decimal

	// FollowPercent sizes the mirrored entry as a share of the whale's buy,
	// capped at MaxBuyAmountBNB.
	FollowPercent   float64
	MaxBuyAmountBNB decimal.Decimal

	// TrackedWallets are always followed regardless of size. TrackAnyWhale
	// additionally follows any wallet crossing the threshold.
	TrackedWallets []common.Address
	TrackAnyWhale  bool

	// MaxFollowDelay rejects whale buys older than this at evaluation time.
	MaxFollowDelay time.Duration

	// MaxDailyFollows caps entries per UTC day.
	MaxDailyFollows int

	// SellWindow is how far back whale flow is counted for the exit signal.
	SellWindow time.Duration
}

// DefaultWhaleConfig returns sensible defaults.
func DefaultWhaleConfig() WhaleConfig {
	return WhaleConfig{
		ThresholdBNB:    decimal.NewFromInt(1),
		FollowPercent:   10,
		MaxBuyAmountBNB: decimal.NewFromFloat(0.5),
		TrackAnyWhale:   true,
		MaxFollowDelay:  time.Minute,
		MaxDailyFollows: 10,
		SellWindow:      time.Hour,
	}
}

// whaleTrade is one recorded large-wallet trade.
type whaleTrade struct {
	wallet    common.Address
	amountBNB decimal.Decimal
	at        time.Time
}

// perTokenTrades caps the retained history per token.
const perTokenTrades = 10

// Whale mirrors the entries of large or explicitly tracked wallets. It
// observes the venue's trade stream directly; wire ObservePurchase and
// ObserveSale to the event listener.
type Whale struct {
	config WhaleConfig

	mu         sync.Mutex
	buys       map[common.Address][]whaleTrade
	sells      map[common.Address][]whaleTrade
	follows    int
	followsDay time.Time
}

// NewWhale creates a Whale strategy.
func NewWhale(config WhaleConfig) *Whale {
	def := DefaultWhaleConfig()
	if config.ThresholdBNB.IsZero() {
		config.ThresholdBNB = def.ThresholdBNB
	}
	if config.FollowPercent <= 0 {
		config.FollowPercent = def.FollowPercent
	}
	if config.MaxBuyAmountBNB.IsZero() {
		config.MaxBuyAmountBNB = def.MaxBuyAmountBNB
	}
	if config.MaxFollowDelay <= 0 {
		config.MaxFollowDelay = def.MaxFollowDelay
	}
	if config.MaxDailyFollows <= 0 {
		config.MaxDailyFollows = def.MaxDailyFollows
	}
	if config.SellWindow <= 0 {
		config.SellWindow = def.SellWindow
	}
	return &Whale{
		config: config,
		buys:   make(map[common.Address][]whaleTrade),
		sells:  make(map[common.Address][]whaleTrade),
	}
}

// Name returns the strategy's identifier.
func (w *Whale) Name() string { return "whale" }

func (w *Whale) tracked(wallet common.Address) bool {
	for _, t := range w.config.TrackedWallets {
		if t == wallet {
			return true
		}
	}
	return false
}

// ObservePurchase records a buy when the buyer is a whale or a tracked
// wallet. Safe for concurrent use.
func (w *Whale) ObservePurchase(e *venue.TokenPurchase) {
	amount := venue.WeiToDecimal(e.AmountIn)
	isWhale := w.config.TrackAnyWhale && amount.GreaterThanOrEqual(w.config.ThresholdBNB)
	isTracked := w.tracked(e.Buyer)
	if !isWhale && !isTracked {
		return
	}

	w.mu.Lock()
	w.buys[e.Token] = appendTrade(w.buys[e.Token], whaleTrade{
		wallet:    e.Buyer,
		amountBNB: amount,
		at:        e.Timestamp,
	})
	w.mu.Unlock()

	log.Info().Str("wallet", e.Buyer.Hex()).Str("token", e.Token.Hex()).
		Str("amount_bnb", amount.String()).Bool("tracked", isTracked).
		Msg("strategy: whale buy detected")
}

// ObserveSale records a sell by a whale or tracked wallet. AmountOut is the
// BNB leg of a sale.
func (w *Whale) ObserveSale(e *venue.TokenSale) {
	amount := venue.WeiToDecimal(e.AmountOut)
	isWhale := w.config.TrackAnyWhale && amount.GreaterThanOrEqual(w.config.ThresholdBNB)
	isTracked := w.tracked(e.Seller)
	if !isWhale && !isTracked {
		return
	}

	w.mu.Lock()
	w.sells[e.Token] = appendTrade(w.sells[e.Token], whaleTrade{
		wallet:    e.Seller,
		amountBNB: amount,
		at:        e.Timestamp,
	})
	w.mu.Unlock()
}

func appendTrade(trades []whaleTrade, t whaleTrade) []whaleTrade {
	trades = append(trades, t)
	if len(trades) > perTokenTrades {
		trades = trades[len(trades)-perTokenTrades:]
	}
	return trades
}

// ShouldBuy mirrors the freshest whale buy for the token, sized as a share
// of the whale's entry.
func (w *Whale) ShouldBuy(_ context.Context, token *venue.TokenInfo, analysis *security.Analysis, _ *sentiment.TokenSentiment) BuyDecision {
	if token.Migrated {
		return noBuy("token already migrated")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	today := startOfUTCDay(time.Now())
	if !today.Equal(w.followsDay) {
		w.follows = 0
		w.followsDay = today
	}
	if w.follows >= w.config.MaxDailyFollows {
		return noBuy(fmt.Sprintf("daily follow limit reached (%d)", w.config.MaxDailyFollows))
	}

	buys := w.buys[token.Address]
	if len(buys) == 0 {
		return noBuy("no recent whale activity")
	}

	latest := buys[len(buys)-1]
	age := time.Since(latest.at)
	if age > w.config.MaxFollowDelay {
		return noBuy(fmt.Sprintf("whale buy too old: %s ago", age.Truncate(time.Second)))
	}

	amount := latest.amountBNB.Mul(decimal.NewFromFloat(w.config.FollowPercent / 100))
	if amount.GreaterThan(w.config.MaxBuyAmountBNB) {
		amount = w.config.MaxBuyAmountBNB
	}

	confidence := 0.5
	if w.tracked(latest.wallet) {
		confidence += 0.2
	}
	if latest.amountBNB.GreaterThan(w.config.ThresholdBNB.Mul(decimal.NewFromInt(2))) {
		confidence += 0.1
	}
	if analysis != nil && len(analysis.Reasons) > 0 {
		confidence -= 0.1
	}

	w.follows++

	decision := BuyDecision{
		Buy:        true,
		AmountBNB:  amount,
		Confidence: confidence,
		Reason:     fmt.Sprintf("following whale buy of %s BNB", latest.amountBNB),
	}
	log.Info().Str("token", token.Address.Hex()).Str("wallet", latest.wallet.Hex()).
		Str("amount_bnb", amount.String()).Float64("confidence", confidence).
		Msg("strategy: whale follow signal")
	return decision
}

// ShouldSell exits when whale flow turns negative and a tracked wallet is
// among the sellers.
func (w *Whale) ShouldSell(_ context.Context, position *risk.Position) SellDecision {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := time.Now().Add(-w.config.SellWindow)
	sells := recentTrades(w.sells[position.Token], cutoff)
	buys := recentTrades(w.buys[position.Token], cutoff)

	if len(sells) <= len(buys) || len(sells) < 2 {
		return noSell("no whale sell signals")
	}

	for _, s := range sells {
		if w.tracked(s.wallet) {
			return SellDecision{
				Sell:   true,
				Amount: position.Amount,
				Reason: fmt.Sprintf("tracked wallet selling: %s", s.wallet.Hex()),
			}
		}
	}
	return noSell("no whale sell signals")
}

func recentTrades(trades []whaleTrade, cutoff time.Time) []whaleTrade {
	out := trades[:0:0]
	for _, t := range trades {
		if t.at.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func startOfUTCDay(t time.Time) time.Time {
	y, mo, d := t.UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}
