package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/memebot-trading/memebot/internal/observability"
	"github.com/memebot-trading/memebot/internal/trade"
)

// ---------------------------------------------------------------------------
// Position & Risk Engine
// Sole owner of the open-position set. Admission control, lifecycle, and the
// shared daily-volume counter live here; stop-loss and take-profit are
// sub-engines layered on the open/close notifications.
// ---------------------------------------------------------------------------

// Level is one take-profit rung: at Percent gain, sell SellPercent of the
// remaining amount.
type Level struct {
	Percent     float64 `yaml:"percent"`
	SellPercent float64 `yaml:"sell_percent"`
}

// Config is the hot-swappable risk parameter set. Amounts are in BNB.
type Config struct {
	StopLossPercent  float64       `yaml:"stop_loss_percent"`
	TrailingStop     bool          `yaml:"trailing_stop"`
	TrailingPercent  float64       `yaml:"trailing_percent"`
	MaxHoldTime      time.Duration `yaml:"max_hold_time"`
	MaxPositions     int           `yaml:"max_positions"`
	MaxPositionSize  float64       `yaml:"max_position_size"`
	DailyVolumeCap   float64       `yaml:"daily_volume_cap"`
	TakeProfitLevels []Level       `yaml:"take_profit_levels"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
}

// DefaultConfig returns guarded defaults.
func DefaultConfig() Config {
	return Config{
		StopLossPercent: 15,
		TrailingStop:    true,
		TrailingPercent: 10,
		MaxHoldTime:     6 * time.Hour,
		MaxPositions:    5,
		MaxPositionSize: 0.5,
		DailyVolumeCap:  5,
		TakeProfitLevels: []Level{
			{Percent: 50, SellPercent: 25},
			{Percent: 100, SellPercent: 50},
			{Percent: 300, SellPercent: 100},
		},
		SweepInterval: 10 * time.Second,
	}
}

// Validate rejects nonsensical parameter sets.
func (c Config) Validate() error {
	if c.StopLossPercent < 0 || c.StopLossPercent >= 100 {
		return fmt.Errorf("risk: stop_loss_percent out of range: %.2f", c.StopLossPercent)
	}
	if c.TrailingStop && (c.TrailingPercent <= 0 || c.TrailingPercent >= 100) {
		return fmt.Errorf("risk: trailing_percent out of range: %.2f", c.TrailingPercent)
	}
	if c.MaxPositions <= 0 {
		return fmt.Errorf("risk: max_positions must be positive")
	}
	prev := -1.0
	for _, lvl := range c.TakeProfitLevels {
		if lvl.Percent <= prev {
			return fmt.Errorf("risk: take_profit_levels must be strictly ascending")
		}
		if lvl.SellPercent <= 0 || lvl.SellPercent > 100 {
			return fmt.Errorf("risk: take-profit sell_percent out of range: %.2f", lvl.SellPercent)
		}
		prev = lvl.Percent
	}
	return nil
}

// Position is one open exposure. Amounts are decimal token units; CostBasis
// is BNB. Entry price is fixed at creation; CurrentPrice mutates on ticks.
type Position struct {
	ID           string          `json:"id"`
	Token        common.Address  `json:"token"`
	Symbol       string          `json:"symbol"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	Amount       decimal.Decimal `json:"amount"`
	CostBasis    decimal.Decimal `json:"cost_basis"`
	OpenedAt     time.Time       `json:"opened_at"`
}

// PnLPercent is the live gain relative to entry.
func (p *Position) PnLPercent() decimal.Decimal {
	if p.EntryPrice.IsZero() {
		return decimal.Zero
	}
	return p.CurrentPrice.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
}

// PnL is the live gain in BNB against the remaining cost basis.
func (p *Position) PnL() decimal.Decimal {
	return p.CurrentPrice.Mul(p.Amount).Sub(p.CostBasis)
}

func (p *Position) snapshot() *Position {
	cp := *p
	return &cp
}

// PriceTracker is the aggregator surface the manager drives as positions
// come and go. Satisfied by price.Tracker.
type PriceTracker interface {
	Track(token common.Address)
	Untrack(token common.Address)
}

// Manager owns the open-position set.
type Manager struct {
	mu        sync.Mutex
	config    Config
	positions map[string]*Position

	tracker PriceTracker

	dailyVolume decimal.Decimal
	day         time.Time

	onOpen   []func(*Position)
	onReduce []func(p *Position, soldTokens, receivedBNB decimal.Decimal)
	onClose  []func(*Position, *trade.Result)
}

// NewManager creates a manager with no positions. tracker may be nil.
func NewManager(config Config, tracker PriceTracker) *Manager {
	return &Manager{
		config:    config,
		positions: make(map[string]*Position),
		tracker:   tracker,
		day:       startOfDay(time.Now()),
	}
}

// Configure hot-swaps the risk parameters. Triggers already armed for open
// positions keep their computed values.
func (m *Manager) Configure(config Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = config
	m.mu.Unlock()
	log.Info().Msg("risk: configuration updated")
	return nil
}

// Config returns the current parameter set.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// ---------- notifications ----------

func (m *Manager) OnPositionOpen(fn func(*Position)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOpen = append(m.onOpen, fn)
}

func (m *Manager) OnPositionReduce(fn func(p *Position, soldTokens, receivedBNB decimal.Decimal)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReduce = append(m.onReduce, fn)
}

func (m *Manager) OnPositionClose(fn func(*Position, *trade.Result)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = append(m.onClose, fn)
}

// ---------- admission ----------

// CanOpen reports whether a new position of the given BNB cost is admissible
// and, when not, the reason. The daily volume counter resets lazily at the
// first check after UTC midnight.
func (m *Manager) CanOpen(cost decimal.Decimal) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canOpenLocked(cost)
}

func (m *Manager) canOpenLocked(cost decimal.Decimal) (bool, string) {
	m.rolloverLocked(time.Now())

	if len(m.positions) >= m.config.MaxPositions {
		return false, fmt.Sprintf("max concurrent positions reached (%d)", m.config.MaxPositions)
	}

	maxSize := decimal.NewFromFloat(m.config.MaxPositionSize)
	if maxSize.Sign() > 0 && cost.GreaterThan(maxSize) {
		return false, fmt.Sprintf("position size %s exceeds cap %s", cost, maxSize)
	}

	dailyCap := decimal.NewFromFloat(m.config.DailyVolumeCap)
	if dailyCap.Sign() > 0 && m.dailyVolume.Add(cost).GreaterThan(dailyCap) {
		remaining := dailyCap.Sub(m.dailyVolume)
		if remaining.Sign() < 0 {
			remaining = decimal.Zero
		}
		return false, fmt.Sprintf("daily volume cap reached, remaining budget %s", remaining)
	}

	return true, ""
}

func (m *Manager) rolloverLocked(now time.Time) {
	today := startOfDay(now)
	if today.After(m.day) {
		m.day = today
		m.dailyVolume = decimal.Zero
		log.Info().Msg("risk: daily volume counter reset")
	}
}

// ---------- lifecycle ----------

// Open registers a filled buy as a new position.
func (m *Manager) Open(token common.Address, symbol string, cost, tokensReceived, entryPrice decimal.Decimal) (*Position, error) {
	if tokensReceived.Sign() <= 0 {
		return nil, fmt.Errorf("risk: open with no tokens")
	}

	m.mu.Lock()
	if ok, reason := m.canOpenLocked(cost); !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("risk: %s", reason)
	}

	p := &Position{
		ID:           uuid.NewString(),
		Token:        token,
		Symbol:       symbol,
		EntryPrice:   entryPrice,
		CurrentPrice: entryPrice,
		Amount:       tokensReceived,
		CostBasis:    cost,
		OpenedAt:     time.Now(),
	}
	m.positions[p.ID] = p
	m.dailyVolume = m.dailyVolume.Add(cost)
	snap := p.snapshot()
	handlers := append([]func(*Position){}, m.onOpen...)
	m.mu.Unlock()

	observability.OpenPositions.Inc()
	if m.tracker != nil {
		m.tracker.Track(token)
	}
	log.Info().Str("position", p.ID).Str("token", token.Hex()).Str("symbol", symbol).
		Str("cost_bnb", cost.String()).Str("tokens", tokensReceived.String()).
		Str("entry_price", entryPrice.String()).Msg("risk: position opened")

	for _, fn := range handlers {
		fn(snap)
	}
	return snap, nil
}

// Reduce applies a partial sell: the remaining cost basis is scaled by the
// surviving fraction. Selling the full remaining amount is a close.
func (m *Manager) Reduce(id string, soldTokens, receivedBNB decimal.Decimal) error {
	m.mu.Lock()
	p, ok := m.positions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("risk: unknown position %s", id)
	}
	if soldTokens.Sign() <= 0 {
		m.mu.Unlock()
		return fmt.Errorf("risk: reduce by non-positive amount")
	}

	if soldTokens.GreaterThanOrEqual(p.Amount) {
		m.mu.Unlock()
		return m.Close(id, nil)
	}

	remainingFraction := p.Amount.Sub(soldTokens).Div(p.Amount)
	p.Amount = p.Amount.Sub(soldTokens)
	p.CostBasis = p.CostBasis.Mul(remainingFraction)
	snap := p.snapshot()
	handlers := append([]func(*Position, decimal.Decimal, decimal.Decimal){}, m.onReduce...)
	m.mu.Unlock()

	log.Info().Str("position", id).Str("sold_tokens", soldTokens.String()).
		Str("received_bnb", receivedBNB.String()).Str("remaining", snap.Amount.String()).
		Msg("risk: position reduced")

	for _, fn := range handlers {
		fn(snap, soldTokens, receivedBNB)
	}
	return nil
}

// Close removes a position from the open set. result may be nil when the
// close is administrative rather than trade-driven.
func (m *Manager) Close(id string, result *trade.Result) error {
	m.mu.Lock()
	p, ok := m.positions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("risk: unknown position %s", id)
	}
	delete(m.positions, id)

	token := p.Token
	stillHeld := false
	for _, other := range m.positions {
		if other.Token == token {
			stillHeld = true
			break
		}
	}
	snap := p.snapshot()
	handlers := append([]func(*Position, *trade.Result){}, m.onClose...)
	m.mu.Unlock()

	observability.OpenPositions.Dec()
	if m.tracker != nil && !stillHeld {
		m.tracker.Untrack(token)
	}
	log.Info().Str("position", id).Str("token", token.Hex()).
		Str("pnl_percent", snap.PnLPercent().StringFixed(2)).
		Msg("risk: position closed")

	for _, fn := range handlers {
		fn(snap, result)
	}
	return nil
}

// ---------- queries ----------

// UpdatePrice refreshes the live price on every position holding the token
// and returns their snapshots.
func (m *Manager) UpdatePrice(token common.Address, price decimal.Decimal) []*Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Position
	for _, p := range m.positions {
		if p.Token == token {
			p.CurrentPrice = price
			out = append(out, p.snapshot())
		}
	}
	return out
}

// Get returns a snapshot of one position.
func (m *Manager) Get(id string) (*Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return nil, false
	}
	return p.snapshot(), true
}

// Positions returns snapshots of every open position.
func (m *Manager) Positions() []*Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p.snapshot())
	}
	return out
}

// OpenCount returns the number of open positions.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.positions)
}

// DailyVolume returns today's cumulative opened volume in BNB.
func (m *Manager) DailyVolume() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked(time.Now())
	return m.dailyVolume
}

// Seller executes exits for the risk sub-engines. Satisfied by
// trade.Executor via SellTokens.
type Seller interface {
	SellTokens(ctx context.Context, token common.Address, amount decimal.Decimal) (*trade.Result, error)
}

func startOfDay(t time.Time) time.Time {
	y, mo, d := t.UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}
