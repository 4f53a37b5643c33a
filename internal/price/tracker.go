package price

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/memebot-trading/memebot/internal/venue"
)

// ---------------------------------------------------------------------------
// Price Aggregator
// Maintains bounded price history and OHLC candles per tracked token. Points
// arrive from curve trades (implied price) and from periodic direct quotes
// for tokens with no recent trades.
// ---------------------------------------------------------------------------

// QuoteSource answers direct on-chain price quotes. Satisfied by venue.Reader.
type QuoteSource interface {
	TokenPrice(ctx context.Context, token common.Address) (decimal.Decimal, error)
}

// Point is one observed price.
type Point struct {
	Price decimal.Decimal `json:"price"`
	Time  time.Time       `json:"time"`
}

// Candle is one OHLC bucket. Volume is the base-currency turnover of the
// trades folded into the bucket; direct quotes contribute no volume.
type Candle struct {
	Start  time.Time       `json:"start"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// Config configures the tracker.
type Config struct {
	HistoryDepth   int           `yaml:"history_depth"`
	CandleInterval time.Duration `yaml:"candle_interval"`
	CandleDepth    int           `yaml:"candle_depth"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

// DefaultConfig returns the standard aggregation windows.
func DefaultConfig() Config {
	return Config{
		HistoryDepth:   1000,
		CandleInterval: time.Minute,
		CandleDepth:    1440,
		CacheTTL:       5 * time.Minute,
		SweepInterval:  30 * time.Second,
	}
}

// series is the per-token state. Guarded by the tracker mutex.
type series struct {
	points   []Point
	candles  []Candle
	cached   decimal.Decimal
	cachedAt time.Time
}

// Tracker aggregates prices for the tracked token set.
type Tracker struct {
	config Config
	quotes QuoteSource

	mu     sync.RWMutex
	series map[common.Address]*series
	subs   []func(token common.Address, price decimal.Decimal, at time.Time)

	sweeps atomic.Int64
	points atomic.Int64

	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
}

// NewTracker creates a tracker with no tokens.
func NewTracker(quotes QuoteSource, config Config) *Tracker {
	if config.HistoryDepth <= 0 {
		config.HistoryDepth = 1000
	}
	if config.CandleInterval <= 0 {
		config.CandleInterval = time.Minute
	}
	if config.CandleDepth <= 0 {
		config.CandleDepth = 1440
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 5 * time.Minute
	}
	return &Tracker{
		config: config,
		quotes: quotes,
		series: make(map[common.Address]*series),
		done:   make(chan struct{}),
	}
}

// Track starts aggregating a token. Idempotent.
func (t *Tracker) Track(token common.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.series[token]; !ok {
		t.series[token] = &series{}
	}
}

// Untrack drops a token and its history.
func (t *Tracker) Untrack(token common.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.series, token)
}

// Tracked returns the tracked token set.
func (t *Tracker) Tracked() []common.Address {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]common.Address, 0, len(t.series))
	for token := range t.series {
		out = append(out, token)
	}
	return out
}

// Subscribe registers a handler invoked on every new price point.
func (t *Tracker) Subscribe(fn func(token common.Address, price decimal.Decimal, at time.Time)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs, fn)
}

// Observe records a price point for a tracked token. Untracked tokens are
// ignored.
func (t *Tracker) Observe(token common.Address, price decimal.Decimal, volume decimal.Decimal, at time.Time) {
	if price.Sign() <= 0 {
		return
	}

	t.mu.Lock()
	s, ok := t.series[token]
	if !ok {
		t.mu.Unlock()
		return
	}

	s.points = append(s.points, Point{Price: price, Time: at})
	if len(s.points) > t.config.HistoryDepth {
		s.points = s.points[len(s.points)-t.config.HistoryDepth:]
	}
	t.fold(s, price, volume, at)

	s.cached = price
	s.cachedAt = at

	subs := append([]func(common.Address, decimal.Decimal, time.Time){}, t.subs...)
	t.mu.Unlock()

	t.points.Add(1)
	for _, fn := range subs {
		fn(token, price, at)
	}
}

// ObserveTrade records the implied price of one curve trade.
func (t *Tracker) ObserveTrade(token common.Address, baseWei, tokenWei *big.Int, at time.Time) {
	implied := venue.ImpliedPrice(baseWei, tokenWei)
	if implied.IsZero() {
		return
	}
	t.Observe(token, implied, venue.WeiToDecimal(baseWei), at)
}

// fold merges a point into the candle series. Holds the tracker mutex.
func (t *Tracker) fold(s *series, price, volume decimal.Decimal, at time.Time) {
	start := at.Truncate(t.config.CandleInterval)

	if n := len(s.candles); n > 0 {
		last := &s.candles[n-1]
		if start.Equal(last.Start) {
			if price.GreaterThan(last.High) {
				last.High = price
			}
			if price.LessThan(last.Low) {
				last.Low = price
			}
			last.Close = price
			last.Volume = last.Volume.Add(volume)
			return
		}
		if start.Before(last.Start) {
			// Late point from before the open bucket; fold into close only.
			last.Close = price
			last.Volume = last.Volume.Add(volume)
			return
		}
	}

	s.candles = append(s.candles, Candle{
		Start:  start,
		Open:   price,
		High:   price,
		Low:    price,
		Close:  price,
		Volume: volume,
	})
	if len(s.candles) > t.config.CandleDepth {
		s.candles = s.candles[len(s.candles)-t.config.CandleDepth:]
	}
}

// CurrentPrice returns the freshest known price, hitting the chain only when
// the cache is stale.
func (t *Tracker) CurrentPrice(ctx context.Context, token common.Address) (decimal.Decimal, error) {
	t.mu.RLock()
	s, ok := t.series[token]
	var cached decimal.Decimal
	var cachedAt time.Time
	if ok {
		cached = s.cached
		cachedAt = s.cachedAt
	}
	t.mu.RUnlock()

	if ok && !cached.IsZero() && time.Since(cachedAt) < t.config.CacheTTL {
		return cached, nil
	}

	quoted, err := t.quotes.TokenPrice(ctx, token)
	if err != nil {
		if ok && !cached.IsZero() {
			return cached, nil
		}
		return decimal.Zero, fmt.Errorf("price: quote %s: %w", token.Hex(), err)
	}

	t.mu.Lock()
	if s, ok := t.series[token]; ok {
		s.cached = quoted
		s.cachedAt = time.Now()
	}
	t.mu.Unlock()
	return quoted, nil
}

// PriceChange returns the percent change over the window, zero when the
// history cannot answer it.
func (t *Tracker) PriceChange(token common.Address, window time.Duration) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.series[token]
	if !ok || len(s.points) < 2 {
		return decimal.Zero
	}

	// Base is the most recent point at or before the window start; newer
	// points cannot anchor the comparison.
	cutoff := time.Now().Add(-window)
	var base decimal.Decimal
	for i := len(s.points) - 1; i >= 0; i-- {
		if !s.points[i].Time.After(cutoff) {
			base = s.points[i].Price
			break
		}
	}
	if base.IsZero() {
		return decimal.Zero
	}

	last := s.points[len(s.points)-1].Price
	return last.Sub(base).Div(base).Mul(decimal.NewFromInt(100))
}

// History returns up to limit most recent points, oldest first.
// limit <= 0 returns the full history.
func (t *Tracker) History(token common.Address, limit int) []Point {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.series[token]
	if !ok {
		return nil
	}
	points := s.points
	if limit > 0 && len(points) > limit {
		points = points[len(points)-limit:]
	}
	out := make([]Point, len(points))
	copy(out, points)
	return out
}

// OHLC returns up to limit most recent candles, oldest first.
func (t *Tracker) OHLC(token common.Address, limit int) []Candle {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.series[token]
	if !ok {
		return nil
	}
	candles := s.candles
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	out := make([]Candle, len(candles))
	copy(out, candles)
	return out
}

// Start launches the quiet-token sweep that quotes tokens with no recent
// trades so stops keep evaluating during lulls.
func (t *Tracker) Start(ctx context.Context) error {
	if !t.started.CompareAndSwap(false, true) {
		return fmt.Errorf("price: already started")
	}
	if t.config.SweepInterval <= 0 {
		close(t.done)
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(t.config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.sweep(runCtx)
			}
		}
	}()
	return nil
}

// Stop halts the sweep loop.
func (t *Tracker) Stop() {
	if !t.started.Load() {
		return
	}
	if t.cancel != nil {
		t.cancel()
	}
	<-t.done
}

func (t *Tracker) sweep(ctx context.Context) {
	t.sweeps.Add(1)

	cutoff := time.Now().Add(-t.config.SweepInterval)
	t.mu.RLock()
	var quiet []common.Address
	for token, s := range t.series {
		if len(s.points) == 0 || s.points[len(s.points)-1].Time.Before(cutoff) {
			quiet = append(quiet, token)
		}
	}
	t.mu.RUnlock()

	for _, token := range quiet {
		quoted, err := t.quotes.TokenPrice(ctx, token)
		if err != nil {
			log.Debug().Err(err).Str("token", token.Hex()).Msg("price: sweep quote failed")
			continue
		}
		t.Observe(token, quoted, decimal.Zero, time.Now())
	}
}

// Stats is an aggregation snapshot.
type Stats struct {
	Tracked int   `json:"tracked"`
	Points  int64 `json:"points"`
	Sweeps  int64 `json:"sweeps"`
}

func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	tracked := len(t.series)
	t.mu.RUnlock()
	return Stats{
		Tracked: tracked,
		Points:  t.points.Load(),
		Sweeps:  t.sweeps.Load(),
	}
}
