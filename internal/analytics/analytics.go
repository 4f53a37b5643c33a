package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/memebot-trading/memebot/internal/venue"
)

// TradeSource supplies the historical buy/sell log range for one token.
// Satisfied by *ingest.Listener.
type TradeSource interface {
	TokenTrades(ctx context.Context, token common.Address, fromBlock uint64) ([]venue.Event, error)
}

// Config configures the analytics service.
type Config struct {
	// LookbackBlocks is how far behind head Summarize queries. At BSC's
	// 3-second cadence 28800 blocks is roughly 24 hours.
	LookbackBlocks uint64

	// TopBuyers caps the length of Summary.TopBuyers.
	TopBuyers int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		LookbackBlocks: 28_800,
		TopBuyers:      5,
	}
}

// TraderStat is one trader's aggregate buy volume.
type TraderStat struct {
	Trader    common.Address  `json:"trader"`
	Trades    int             `json:"trades"`
	VolumeBNB decimal.Decimal `json:"volume_bnb"`
}

// Summary is the aggregate trading picture for one token over the lookback.
type Summary struct {
	Token         common.Address  `json:"token"`
	Trades        int             `json:"trades"`
	Buys          int             `json:"buys"`
	Sells         int             `json:"sells"`
	BuyVolumeBNB  decimal.Decimal `json:"buy_volume_bnb"`
	SellVolumeBNB decimal.Decimal `json:"sell_volume_bnb"`
	NetFlowBNB    decimal.Decimal `json:"net_flow_bnb"`
	UniqueTraders int             `json:"unique_traders"`

	// BuyPressurePct is buys as a share of all trades, 0-100.
	BuyPressurePct decimal.Decimal `json:"buy_pressure_pct"`

	TopBuyers []TraderStat `json:"top_buyers,omitempty"`
}

// Service computes per-token trade summaries from historical venue logs.
type Service struct {
	config Config
	source TradeSource

	mu         sync.Mutex
	summarized int64
}

// NewService creates an analytics service over the given trade source.
func NewService(config Config, source TradeSource) *Service {
	if config.LookbackBlocks == 0 {
		config.LookbackBlocks = DefaultConfig().LookbackBlocks
	}
	if config.TopBuyers <= 0 {
		config.TopBuyers = DefaultConfig().TopBuyers
	}
	return &Service{config: config, source: source}
}

// Summarize aggregates every buy and sell for token from fromBlock onward.
func (s *Service) Summarize(ctx context.Context, token common.Address, fromBlock uint64) (*Summary, error) {
	events, err := s.source.TokenTrades(ctx, token, fromBlock)
	if err != nil {
		return nil, fmt.Errorf("analytics: fetch trades: %w", err)
	}

	summary := &Summary{
		Token:          token,
		BuyVolumeBNB:   decimal.Zero,
		SellVolumeBNB:  decimal.Zero,
		NetFlowBNB:     decimal.Zero,
		BuyPressurePct: decimal.Zero,
	}
	traders := make(map[common.Address]struct{})
	buyers := make(map[common.Address]*TraderStat)

	for _, ev := range events {
		switch e := ev.(type) {
		case *venue.TokenPurchase:
			bnb := venue.WeiToDecimal(e.AmountIn)
			summary.Buys++
			summary.BuyVolumeBNB = summary.BuyVolumeBNB.Add(bnb)
			traders[e.Buyer] = struct{}{}

			stat, ok := buyers[e.Buyer]
			if !ok {
				stat = &TraderStat{Trader: e.Buyer, VolumeBNB: decimal.Zero}
				buyers[e.Buyer] = stat
			}
			stat.Trades++
			stat.VolumeBNB = stat.VolumeBNB.Add(bnb)

		case *venue.TokenSale:
			summary.Sells++
			summary.SellVolumeBNB = summary.SellVolumeBNB.Add(venue.WeiToDecimal(e.AmountOut))
			traders[e.Seller] = struct{}{}
		}
	}

	summary.Trades = summary.Buys + summary.Sells
	summary.NetFlowBNB = summary.BuyVolumeBNB.Sub(summary.SellVolumeBNB)
	summary.UniqueTraders = len(traders)
	if summary.Trades > 0 {
		summary.BuyPressurePct = decimal.NewFromInt(int64(summary.Buys)).
			Div(decimal.NewFromInt(int64(summary.Trades))).
			Mul(decimal.NewFromInt(100))
	}

	ranked := make([]TraderStat, 0, len(buyers))
	for _, stat := range buyers {
		ranked = append(ranked, *stat)
	}
	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].VolumeBNB.GreaterThan(ranked[j].VolumeBNB)
	})
	if len(ranked) > s.config.TopBuyers {
		ranked = ranked[:s.config.TopBuyers]
	}
	summary.TopBuyers = ranked

	s.mu.Lock()
	s.summarized++
	s.mu.Unlock()

	log.Debug().Str("token", token.Hex()).Int("trades", summary.Trades).
		Int("unique_traders", summary.UniqueTraders).Msg("analytics: summary computed")
	return summary, nil
}

// ActivityScore condenses a summary into 0-100: trade count, volume, and
// trader breadth each contribute a bounded share.
func ActivityScore(s *Summary) int {
	tradeScore := math.Min(float64(s.Trades), 40)

	totalVolume, _ := s.BuyVolumeBNB.Add(s.SellVolumeBNB).Float64()
	volumeScore := math.Min(math.Log10(totalVolume+1)*20, 30)

	traderScore := math.Min(float64(s.UniqueTraders)*2, 30)

	return int(math.Round(math.Min(tradeScore+volumeScore+traderScore, 100)))
}

// Suspicious flags wash-trade shaped activity: a single buyer dominating
// volume, or heavy churn from very few wallets.
func Suspicious(s *Summary) (bool, []string) {
	var reasons []string

	if len(s.TopBuyers) > 0 && s.BuyVolumeBNB.IsPositive() {
		top := s.TopBuyers[0]
		share := top.VolumeBNB.Div(s.BuyVolumeBNB).Mul(decimal.NewFromInt(100))
		if share.GreaterThan(decimal.NewFromInt(50)) {
			reasons = append(reasons, fmt.Sprintf("single buyer holds %s%% of buy volume", share.Round(1)))
		}
	}

	if s.Trades >= 20 && s.UniqueTraders > 0 && s.Trades/s.UniqueTraders >= 10 {
		reasons = append(reasons, fmt.Sprintf("%d trades from only %d wallets", s.Trades, s.UniqueTraders))
	}

	return len(reasons) > 0, reasons
}

// Stats reports how many summaries the service has computed.
func (s *Service) Stats() ServiceStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ServiceStats{Summarized: s.summarized}
}

// ServiceStats is the analytics service counter snapshot.
type ServiceStats struct {
	Summarized int64 `json:"summarized"`
}
