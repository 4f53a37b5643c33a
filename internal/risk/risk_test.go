package risk

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

	"github.com/memebot-trading/memebot/internal/trade"
	"github.com/memebot-trading/memebot/internal/venue"
)

var testToken = common.HexToAddress("0x1111111111111111111111111111111111111111")

type soldCall struct {
	token  common.Address
	amount decimal.Decimal
}

type stubSeller struct {
	mu       sync.Mutex
	sells    []soldCall
	failNext int
	err      error
}

func (s *stubSeller) SellTokens(ctx context.Context, token common.Address, amount decimal.Decimal) (*trade.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.failNext > 0 {
		s.failNext--
		return &trade.Result{Success: false, Side: "sell", Token: token, Reason: "transaction reverted"}, nil
	}
	s.sells = append(s.sells, soldCall{token: token, amount: amount})
	return &trade.Result{
		Success:   true,
		Side:      "sell",
		Token:     token,
		AmountIn:  venue.DecimalToWei(amount),
		AmountOut: big.NewInt(1e15),
	}, nil
}

func (s *stubSeller) sold() []soldCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]soldCall, len(s.sells))
	copy(out, s.sells)
	return out
}

type stubPrices struct {
	mu    sync.Mutex
	price decimal.Decimal
}

func (s *stubPrices) CurrentPrice(ctx context.Context, token common.Address) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.price.IsZero() {
		return decimal.Zero, fmt.Errorf("no price")
	}
	return s.price, nil
}

func permissiveConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxPositions = 100
	cfg.MaxPositionSize = 0
	cfg.DailyVolumeCap = 0
	cfg.MaxHoldTime = 0
	return cfg
}

func openPosition(t *testing.T, m *Manager, entry float64) *Position {
	t.Helper()
	p, err := m.Open(testToken, "TEST", decimal.NewFromFloat(0.1), decimal.NewFromInt(1000), decimal.NewFromFloat(entry))
	require.NoError(t, err)
	return p
}

// ---------- admission ----------

func TestCanOpenDailyCapCitesRemainingBudget(t *testing.T) {
	cfg := permissiveConfig()
	cfg.DailyVolumeCap = 5
	m := NewManager(cfg, nil)

	two := decimal.NewFromInt(2)
	for i := 0; i < 2; i++ {
		_, err := m.Open(testToken, "TEST", two, decimal.NewFromInt(1000), decimal.NewFromFloat(0.001))
		require.NoError(t, err)
	}

	ok, reason := m.CanOpen(two)
	assert.False(t, ok)
	assert.Contains(t, reason, "remaining budget 1")
	assert.True(t, m.DailyVolume().Equal(decimal.NewFromInt(4)))
}

func TestCanOpenPositionCountCap(t *testing.T) {
	cfg := permissiveConfig()
	cfg.MaxPositions = 2
	m := NewManager(cfg, nil)

	openPosition(t, m, 0.001)
	openPosition(t, m, 0.001)

	ok, reason := m.CanOpen(decimal.NewFromFloat(0.1))
	assert.False(t, ok)
	assert.Contains(t, reason, "max concurrent positions")
}

func TestCanOpenSizeCap(t *testing.T) {
	cfg := permissiveConfig()
	cfg.MaxPositionSize = 0.5
	m := NewManager(cfg, nil)

	ok, reason := m.CanOpen(decimal.NewFromInt(1))
	assert.False(t, ok)
	assert.Contains(t, reason, "exceeds cap")

	ok, _ = m.CanOpen(decimal.NewFromFloat(0.4))
	assert.True(t, ok)
}

// ---------- lifecycle ----------

func TestReduceScalesCostBasisProportionally(t *testing.T) {
	m := NewManager(permissiveConfig(), nil)
	p, err := m.Open(testToken, "TEST", decimal.NewFromInt(1), decimal.NewFromInt(1000), decimal.NewFromFloat(0.001))
	require.NoError(t, err)

	require.NoError(t, m.Reduce(p.ID, decimal.NewFromInt(250), decimal.NewFromFloat(0.3)))

	got, ok := m.Get(p.ID)
	require.True(t, ok)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(750)))
	assert.True(t, got.CostBasis.Equal(decimal.NewFromFloat(0.75)), "got %s", got.CostBasis)
}

func TestReduceToZeroIsClose(t *testing.T) {
	m := NewManager(permissiveConfig(), nil)
	p := openPosition(t, m, 0.001)

	var closedMu sync.Mutex
	closed := 0
	m.OnPositionClose(func(*Position, *trade.Result) {
		closedMu.Lock()
		closed++
		closedMu.Unlock()
	})

	require.NoError(t, m.Reduce(p.ID, decimal.NewFromInt(1000), decimal.NewFromFloat(1)))

	_, ok := m.Get(p.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, m.OpenCount())
	closedMu.Lock()
	assert.Equal(t, 1, closed)
	closedMu.Unlock()
}

func TestCloseUntracksTokenOnlyWhenLastPosition(t *testing.T) {
	tracker := &stubTracker{}
	m := NewManager(permissiveConfig(), tracker)

	a := openPosition(t, m, 0.001)
	b := openPosition(t, m, 0.001)

	require.NoError(t, m.Close(a.ID, nil))
	assert.Zero(t, tracker.untracks())

	require.NoError(t, m.Close(b.ID, nil))
	assert.Equal(t, 1, tracker.untracks())
}

type stubTracker struct {
	mu        sync.Mutex
	untracked int
}

func (s *stubTracker) Track(common.Address) {}
func (s *stubTracker) Untrack(common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.untracked++
}

func (s *stubTracker) untracks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.untracked
}

func TestPnLComputedNotAccumulated(t *testing.T) {
	m := NewManager(permissiveConfig(), nil)
	p := openPosition(t, m, 100)

	m.UpdatePrice(testToken, decimal.NewFromInt(150))
	m.UpdatePrice(testToken, decimal.NewFromInt(150))

	got, ok := m.Get(p.ID)
	require.True(t, ok)
	assert.True(t, got.PnLPercent().Equal(decimal.NewFromInt(50)), "got %s", got.PnLPercent())
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := DefaultConfig()
	bad.TakeProfitLevels = []Level{{Percent: 100, SellPercent: 50}, {Percent: 50, SellPercent: 25}}
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.StopLossPercent = 150
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.MaxPositions = 0
	assert.Error(t, bad.Validate())
}

// ---------- stop-loss ----------

func TestTrailingStopRaisesTriggerAndFires(t *testing.T) {
	cfg := permissiveConfig()
	cfg.TrailingStop = true
	cfg.TrailingPercent = 10
	m := NewManager(cfg, nil)
	seller := &stubSeller{}
	sl := NewStopLoss(m, seller, &stubPrices{})

	p := openPosition(t, m, 100)
	ctx := context.Background()

	sl.Evaluate(ctx, testToken, decimal.NewFromInt(150))
	_, stillOpen := m.Get(p.ID)
	require.True(t, stillOpen, "rise to 150 must not fire")

	sl.mu.Lock()
	trigger := sl.tracked[p.ID].trigger
	sl.mu.Unlock()
	assert.True(t, trigger.Equal(decimal.NewFromInt(135)), "got %s", trigger)

	sl.Evaluate(ctx, testToken, decimal.NewFromInt(120))
	_, stillOpen = m.Get(p.ID)
	assert.False(t, stillOpen)
	require.Len(t, seller.sold(), 1)
	assert.True(t, seller.sold()[0].amount.Equal(decimal.NewFromInt(1000)))
}

func TestTrailingTriggerNeverRecomputedDownward(t *testing.T) {
	cfg := permissiveConfig()
	cfg.TrailingStop = true
	cfg.TrailingPercent = 10
	m := NewManager(cfg, nil)
	sl := NewStopLoss(m, &stubSeller{}, &stubPrices{})

	p := openPosition(t, m, 100)
	ctx := context.Background()

	sl.Evaluate(ctx, testToken, decimal.NewFromInt(150))
	sl.Evaluate(ctx, testToken, decimal.NewFromInt(140))

	sl.mu.Lock()
	trigger := sl.tracked[p.ID].trigger
	sl.mu.Unlock()
	assert.True(t, trigger.Equal(decimal.NewFromInt(135)), "got %s", trigger)
}

func TestFixedStopFiresOnceDespiteRepeatedUpdates(t *testing.T) {
	cfg := permissiveConfig()
	cfg.TrailingStop = false
	cfg.StopLossPercent = 10
	m := NewManager(cfg, nil)
	seller := &stubSeller{failNext: 1}
	sl := NewStopLoss(m, seller, &stubPrices{})

	p := openPosition(t, m, 100)
	ctx := context.Background()

	// First breach fires once; the failed sell leaves the position open but
	// the trigger stays disarmed.
	sl.Evaluate(ctx, testToken, decimal.NewFromInt(80))
	sl.Evaluate(ctx, testToken, decimal.NewFromInt(70))
	sl.Evaluate(ctx, testToken, decimal.NewFromInt(60))

	assert.Equal(t, int64(1), sl.Fired())
	assert.Empty(t, seller.sold())
	_, stillOpen := m.Get(p.ID)
	assert.True(t, stillOpen)
}

func TestTimeBasedStopOnlyFiresUnderwater(t *testing.T) {
	cfg := permissiveConfig()
	cfg.TrailingStop = false
	cfg.StopLossPercent = 90
	cfg.MaxHoldTime = time.Minute
	m := NewManager(cfg, nil)
	seller := &stubSeller{}
	prices := &stubPrices{price: decimal.NewFromInt(110)}
	sl := NewStopLoss(m, seller, prices)

	p := openPosition(t, m, 100)
	sl.mu.Lock()
	sl.tracked[p.ID].openedAt = time.Now().Add(-2 * time.Hour)
	sl.mu.Unlock()

	// In profit past max hold: no exit.
	sl.sweep(context.Background())
	assert.Empty(t, seller.sold())

	// Underwater past max hold: forced exit.
	prices.mu.Lock()
	prices.price = decimal.NewFromInt(95)
	prices.mu.Unlock()
	sl.sweep(context.Background())
	require.Len(t, seller.sold(), 1)
	_, stillOpen := m.Get(p.ID)
	assert.False(t, stillOpen)
}

func TestStopLossStopIsIdempotent(t *testing.T) {
	m := NewManager(permissiveConfig(), nil)
	sl := NewStopLoss(m, &stubSeller{}, &stubPrices{})

	require.NoError(t, sl.Start(context.Background()))
	sl.Stop()
	sl.Stop()
}

// ---------- take-profit ----------

func TestTakeProfitLevelsFireAgainstRemaining(t *testing.T) {
	cfg := permissiveConfig()
	cfg.TakeProfitLevels = []Level{
		{Percent: 50, SellPercent: 25},
		{Percent: 100, SellPercent: 50},
	}
	m := NewManager(cfg, nil)
	seller := &stubSeller{}
	tp := NewTakeProfit(m, seller)

	p := openPosition(t, m, 100)
	tp.Evaluate(context.Background(), testToken, decimal.NewFromInt(151))

	sold := seller.sold()
	require.Len(t, sold, 2)
	// 25% of 1000, then 50% of the remaining 750.
	assert.True(t, sold[0].amount.Equal(decimal.NewFromInt(250)), "got %s", sold[0].amount)
	assert.True(t, sold[1].amount.Equal(decimal.NewFromInt(375)), "got %s", sold[1].amount)

	got, ok := m.Get(p.ID)
	require.True(t, ok)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(375)))
}

func TestTakeProfitLevelFiresOnce(t *testing.T) {
	cfg := permissiveConfig()
	cfg.TakeProfitLevels = []Level{{Percent: 50, SellPercent: 25}}
	m := NewManager(cfg, nil)
	seller := &stubSeller{}
	tp := NewTakeProfit(m, seller)

	openPosition(t, m, 100)
	ctx := context.Background()
	tp.Evaluate(ctx, testToken, decimal.NewFromInt(160))
	tp.Evaluate(ctx, testToken, decimal.NewFromInt(170))

	assert.Len(t, seller.sold(), 1)
}

func TestTakeProfitFailedSellRearmsLevel(t *testing.T) {
	cfg := permissiveConfig()
	cfg.TakeProfitLevels = []Level{{Percent: 50, SellPercent: 25}}
	m := NewManager(cfg, nil)
	seller := &stubSeller{failNext: 1}
	tp := NewTakeProfit(m, seller)

	p := openPosition(t, m, 100)
	ctx := context.Background()

	tp.Evaluate(ctx, testToken, decimal.NewFromInt(160))
	assert.Empty(t, seller.sold())
	got, _ := m.Get(p.ID)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(1000)), "failed sell must not change the position")

	tp.Evaluate(ctx, testToken, decimal.NewFromInt(160))
	require.Len(t, seller.sold(), 1)
	assert.True(t, seller.sold()[0].amount.Equal(decimal.NewFromInt(250)))
}

func TestTakeProfitFullExitClosesPosition(t *testing.T) {
	cfg := permissiveConfig()
	cfg.TakeProfitLevels = []Level{{Percent: 50, SellPercent: 100}}
	m := NewManager(cfg, nil)
	seller := &stubSeller{}
	tp := NewTakeProfit(m, seller)

	p := openPosition(t, m, 100)
	tp.Evaluate(context.Background(), testToken, decimal.NewFromInt(160))

	_, ok := m.Get(p.ID)
	assert.False(t, ok)

	tp.mu.Lock()
	_, tracked := tp.tracked[p.ID]
	tp.mu.Unlock()
	assert.False(t, tracked)
}
