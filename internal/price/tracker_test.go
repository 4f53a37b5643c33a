package price

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testToken = common.HexToAddress("0x1111111111111111111111111111111111111111")

type stubQuotes struct {
	mu    sync.Mutex
	price decimal.Decimal
	err   error
	calls int
}

func (s *stubQuotes) TokenPrice(ctx context.Context, token common.Address) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.price, s.err
}

func (s *stubQuotes) set(p decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price = p
}

func (s *stubQuotes) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestTracker(quotes QuoteSource) *Tracker {
	cfg := DefaultConfig()
	cfg.SweepInterval = 0
	return NewTracker(quotes, cfg)
}

func TestObserveIgnoresUntracked(t *testing.T) {
	tr := newTestTracker(&stubQuotes{})
	tr.Observe(testToken, decimal.NewFromFloat(0.001), decimal.Zero, time.Now())
	assert.Empty(t, tr.History(testToken, 0))
}

func TestHistoryIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryDepth = 10
	cfg.SweepInterval = 0
	tr := NewTracker(&stubQuotes{}, cfg)
	tr.Track(testToken)

	base := time.Now()
	for i := 0; i < 25; i++ {
		tr.Observe(testToken, decimal.NewFromInt(int64(i+1)), decimal.Zero, base.Add(time.Duration(i)*time.Second))
	}

	history := tr.History(testToken, 0)
	require.Len(t, history, 10)
	assert.True(t, history[0].Price.Equal(decimal.NewFromInt(16)))
	assert.True(t, history[9].Price.Equal(decimal.NewFromInt(25)))
}

func TestCandleFolding(t *testing.T) {
	tr := newTestTracker(&stubQuotes{})
	tr.Track(testToken)

	bucket := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	tr.Observe(testToken, decimal.NewFromInt(10), decimal.NewFromInt(1), bucket.Add(5*time.Second))
	tr.Observe(testToken, decimal.NewFromInt(14), decimal.NewFromInt(2), bucket.Add(20*time.Second))
	tr.Observe(testToken, decimal.NewFromInt(8), decimal.NewFromInt(3), bucket.Add(40*time.Second))
	tr.Observe(testToken, decimal.NewFromInt(12), decimal.Zero, bucket.Add(59*time.Second))
	tr.Observe(testToken, decimal.NewFromInt(13), decimal.NewFromInt(5), bucket.Add(70*time.Second))

	candles := tr.OHLC(testToken, 0)
	require.Len(t, candles, 2)

	first := candles[0]
	assert.Equal(t, bucket, first.Start)
	assert.True(t, first.Open.Equal(decimal.NewFromInt(10)))
	assert.True(t, first.High.Equal(decimal.NewFromInt(14)))
	assert.True(t, first.Low.Equal(decimal.NewFromInt(8)))
	assert.True(t, first.Close.Equal(decimal.NewFromInt(12)))
	assert.True(t, first.Volume.Equal(decimal.NewFromInt(6)))

	second := candles[1]
	assert.Equal(t, bucket.Add(time.Minute), second.Start)
	assert.True(t, second.Open.Equal(decimal.NewFromInt(13)))
}

func TestCandleDepthIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CandleDepth = 3
	cfg.SweepInterval = 0
	tr := NewTracker(&stubQuotes{}, cfg)
	tr.Track(testToken)

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		tr.Observe(testToken, decimal.NewFromInt(int64(i+1)), decimal.Zero, base.Add(time.Duration(i)*time.Minute))
	}

	candles := tr.OHLC(testToken, 0)
	require.Len(t, candles, 3)
	assert.Equal(t, base.Add(3*time.Minute), candles[0].Start)
}

func TestObserveTradeUsesImpliedPrice(t *testing.T) {
	tr := newTestTracker(&stubQuotes{})
	tr.Track(testToken)

	// 1 BNB for 1000 tokens implies 0.001.
	oneBNB := big.NewInt(1e18)
	tokens := new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18))
	tr.ObserveTrade(testToken, oneBNB, tokens, time.Now())

	history := tr.History(testToken, 0)
	require.Len(t, history, 1)
	assert.True(t, history[0].Price.Equal(decimal.NewFromFloat(0.001)))
}

func TestCurrentPricePrefersFreshCache(t *testing.T) {
	quotes := &stubQuotes{price: decimal.NewFromFloat(0.5)}
	tr := newTestTracker(quotes)
	tr.Track(testToken)

	tr.Observe(testToken, decimal.NewFromFloat(0.002), decimal.Zero, time.Now())

	price, err := tr.CurrentPrice(context.Background(), testToken)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromFloat(0.002)))
	assert.Zero(t, quotes.callCount())
}

func TestCurrentPriceQuotesOnStaleCache(t *testing.T) {
	quotes := &stubQuotes{price: decimal.NewFromFloat(0.5)}
	cfg := DefaultConfig()
	cfg.CacheTTL = time.Millisecond
	cfg.SweepInterval = 0
	tr := NewTracker(quotes, cfg)
	tr.Track(testToken)

	tr.Observe(testToken, decimal.NewFromFloat(0.002), decimal.Zero, time.Now())
	time.Sleep(5 * time.Millisecond)

	price, err := tr.CurrentPrice(context.Background(), testToken)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromFloat(0.5)))
	assert.Equal(t, 1, quotes.callCount())
}

func TestCurrentPriceFallsBackToCacheOnQuoteError(t *testing.T) {
	quotes := &stubQuotes{err: fmt.Errorf("node down")}
	cfg := DefaultConfig()
	cfg.CacheTTL = time.Millisecond
	cfg.SweepInterval = 0
	tr := NewTracker(quotes, cfg)
	tr.Track(testToken)

	tr.Observe(testToken, decimal.NewFromFloat(0.002), decimal.Zero, time.Now())
	time.Sleep(5 * time.Millisecond)

	price, err := tr.CurrentPrice(context.Background(), testToken)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromFloat(0.002)))

	// No history at all surfaces the quote error.
	other := common.HexToAddress("0x02")
	tr.Track(other)
	_, err = tr.CurrentPrice(context.Background(), other)
	require.Error(t, err)
}

func TestPriceChange(t *testing.T) {
	tr := newTestTracker(&stubQuotes{})
	tr.Track(testToken)

	now := time.Now()
	tr.Observe(testToken, decimal.NewFromInt(100), decimal.Zero, now.Add(-10*time.Minute))
	tr.Observe(testToken, decimal.NewFromInt(200), decimal.Zero, now.Add(-2*time.Minute))
	tr.Observe(testToken, decimal.NewFromInt(150), decimal.Zero, now)

	// Base is the last point at or before the window start: 100, not the
	// 200 printed inside the window.
	change := tr.PriceChange(testToken, 5*time.Minute)
	assert.True(t, change.Equal(decimal.NewFromInt(50)), "got %s", change)

	// Unknown token and short history answer zero.
	assert.True(t, tr.PriceChange(common.HexToAddress("0x02"), time.Minute).IsZero())
}

func TestPriceChangeNeedsSpanningHistory(t *testing.T) {
	tr := newTestTracker(&stubQuotes{})
	tr.Track(testToken)

	now := time.Now()
	tr.Observe(testToken, decimal.NewFromInt(100), decimal.Zero, now.Add(-2*time.Minute))
	tr.Observe(testToken, decimal.NewFromInt(150), decimal.Zero, now)

	// No point at or before now-5m: the window cannot be answered.
	assert.True(t, tr.PriceChange(testToken, 5*time.Minute).IsZero())
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	tr := newTestTracker(&stubQuotes{})
	tr.Track(testToken)

	var mu sync.Mutex
	var got []decimal.Decimal
	tr.Subscribe(func(token common.Address, price decimal.Decimal, at time.Time) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, price)
	})

	tr.Observe(testToken, decimal.NewFromInt(1), decimal.Zero, time.Now())
	tr.Observe(testToken, decimal.NewFromInt(2), decimal.Zero, time.Now())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.True(t, got[1].Equal(decimal.NewFromInt(2)))
}

func TestUntrackDropsHistory(t *testing.T) {
	tr := newTestTracker(&stubQuotes{})
	tr.Track(testToken)
	tr.Observe(testToken, decimal.NewFromInt(1), decimal.Zero, time.Now())

	tr.Untrack(testToken)
	assert.Empty(t, tr.History(testToken, 0))
	assert.Empty(t, tr.Tracked())
}
