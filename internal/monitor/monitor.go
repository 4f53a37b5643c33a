package monitor

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/memebot-trading/memebot/internal/risk"
	"github.com/memebot-trading/memebot/internal/security"
	"github.com/memebot-trading/memebot/internal/sentiment"
	"github.com/memebot-trading/memebot/internal/strategy"
	"github.com/memebot-trading/memebot/internal/trade"
	"github.com/memebot-trading/memebot/internal/venue"
)

// ---------------------------------------------------------------------------
// Token Discovery
// Consume TokenCreated events, gate each candidate through security,
// sentiment, and the strategy, then hand admitted entries to the risk book.
// ---------------------------------------------------------------------------

// EventSource delivers launch events. Satisfied by *ingest.Listener.
type EventSource interface {
	OnTokenCreated(fn func(*venue.TokenCreated))
}

// TokenSource fetches venue metadata. Satisfied by *venue.Reader.
type TokenSource interface {
	TokenInfo(ctx context.Context, token common.Address) (*venue.TokenInfo, error)
}

// Buyer executes entries. Satisfied by *trade.Executor.
type Buyer interface {
	BuyWithRetry(ctx context.Context, token common.Address, baseAmount *big.Int, slippagePercent float64, maxAttempts int) (*trade.Result, error)
}

// PositionBook is the risk surface the monitor needs. Satisfied by
// *risk.Manager.
type PositionBook interface {
	CanOpen(cost decimal.Decimal) (bool, string)
	Open(token common.Address, symbol string, cost, tokensReceived, entryPrice decimal.Decimal) (*risk.Position, error)
}

// PriceTracker begins price tracking for bought tokens. Satisfied by
// *price.Tracker.
type PriceTracker interface {
	Track(token common.Address)
}

// Config configures the discovery loop.
type Config struct {
	// QueueSize bounds the pending-candidate channel; launches beyond it
	// are dropped, not blocked on.
	QueueSize int

	// SeenLimit bounds the dedup set of already-evaluated tokens.
	SeenLimit int

	// SlippagePercent and BuyAttempts parametrize the entry trade.
	SlippagePercent float64
	BuyAttempts     int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:       256,
		SeenLimit:       4096,
		SlippagePercent: 5,
		BuyAttempts:     3,
	}
}

// Monitor runs the discovery loop.
type Monitor struct {
	config    Config
	events    EventSource
	tokens    TokenSource
	scanner   security.Scanner
	social    sentiment.Provider
	strat     strategy.Strategy
	buyer     Buyer
	positions PositionBook
	tracker   PriceTracker

	queue chan *venue.TokenCreated

	mu        sync.Mutex
	seen      map[common.Address]struct{}
	seenOrder []common.Address

	onNewToken []func(*venue.TokenInfo)

	started atomic.Bool
	done    chan struct{}

	// Stats.
	discovered atomic.Int64
	evaluated  atomic.Int64
	bought     atomic.Int64
	rejected   atomic.Int64
	dropped    atomic.Int64
}

// NewMonitor wires the discovery loop. scanner and social may be the no-op
// implementations; strat decides whether anything is ever bought.
func NewMonitor(
	config Config,
	events EventSource,
	tokens TokenSource,
	scanner security.Scanner,
	social sentiment.Provider,
	strat strategy.Strategy,
	buyer Buyer,
	positions PositionBook,
	tracker PriceTracker,
) *Monitor {
	def := DefaultConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.SeenLimit <= 0 {
		config.SeenLimit = def.SeenLimit
	}
	if config.BuyAttempts <= 0 {
		config.BuyAttempts = def.BuyAttempts
	}
	return &Monitor{
		config:    config,
		events:    events,
		tokens:    tokens,
		scanner:   scanner,
		social:    social,
		strat:     strat,
		buyer:     buyer,
		positions: positions,
		tracker:   tracker,
		queue:     make(chan *venue.TokenCreated, config.QueueSize),
		seen:      make(map[common.Address]struct{}),
		done:      make(chan struct{}),
	}
}

// OnNewToken registers a callback invoked for every discovered token that
// passes the seen filter, bought or not.
func (m *Monitor) OnNewToken(fn func(*venue.TokenInfo)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onNewToken = append(m.onNewToken, fn)
}

// Start subscribes to launch events and runs the evaluation worker until ctx
// is cancelled.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return nil
	}

	m.events.OnTokenCreated(func(ev *venue.TokenCreated) {
		m.discovered.Add(1)
		select {
		case m.queue <- ev:
		default:
			m.dropped.Add(1)
			log.Warn().Str("token", ev.Token.Hex()).Msg("monitor: queue full, launch dropped")
		}
	})

	go m.worker(ctx)
	log.Info().Str("strategy", m.strat.Name()).Msg("monitor: started")
	return nil
}

// Stop waits for the worker to exit. Callers cancel the Start context first.
func (m *Monitor) Stop() {
	if !m.started.Load() {
		return
	}
	<-m.done
	log.Info().Msg("monitor: stopped")
}

func (m *Monitor) worker(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.queue:
			m.evaluate(ctx, ev)
		}
	}
}

// markSeen reports whether the token was already evaluated, recording it
// otherwise. The set is bounded FIFO.
func (m *Monitor) markSeen(token common.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.seen[token]; ok {
		return true
	}
	m.seen[token] = struct{}{}
	m.seenOrder = append(m.seenOrder, token)
	if len(m.seenOrder) > m.config.SeenLimit {
		oldest := m.seenOrder[0]
		m.seenOrder = m.seenOrder[1:]
		delete(m.seen, oldest)
	}
	return false
}

func (m *Monitor) evaluate(ctx context.Context, ev *venue.TokenCreated) {
	if m.markSeen(ev.Token) {
		return
	}
	m.evaluated.Add(1)

	info, err := m.tokens.TokenInfo(ctx, ev.Token)
	if err != nil {
		m.rejected.Add(1)
		log.Warn().Err(err).Str("token", ev.Token.Hex()).Msg("monitor: metadata fetch failed")
		return
	}

	m.mu.Lock()
	callbacks := append([]func(*venue.TokenInfo){}, m.onNewToken...)
	m.mu.Unlock()
	for _, fn := range callbacks {
		fn(info)
	}

	if ok, reason := m.scanner.QuickCheck(ctx, ev.Token); !ok {
		m.reject(ev.Token, "quick check: "+reason)
		return
	}

	analysis, err := m.scanner.Analyze(ctx, ev.Token)
	if err != nil {
		m.reject(ev.Token, "scan failed: "+err.Error())
		return
	}
	if !analysis.Safe {
		reason := "unsafe token"
		if len(analysis.Reasons) > 0 {
			reason = analysis.Reasons[0]
		}
		m.reject(ev.Token, reason)
		return
	}

	// Sentiment failures degrade to "no signal" so a provider outage never
	// blocks discovery.
	social, err := m.social.AnalyzeToken(ctx, info.Symbol, info.Name)
	if err != nil {
		log.Warn().Err(err).Str("symbol", info.Symbol).Msg("monitor: sentiment unavailable")
		social = nil
	}

	decision := m.strat.ShouldBuy(ctx, info, analysis, social)
	if !decision.Buy {
		m.reject(ev.Token, decision.Reason)
		return
	}

	if ok, reason := m.positions.CanOpen(decision.AmountBNB); !ok {
		m.reject(ev.Token, reason)
		return
	}

	result, err := m.buyer.BuyWithRetry(ctx, ev.Token, venue.DecimalToWei(decision.AmountBNB), m.config.SlippagePercent, m.config.BuyAttempts)
	if err != nil {
		m.reject(ev.Token, "buy failed: "+err.Error())
		return
	}
	if !result.Success {
		m.reject(ev.Token, "buy failed: "+result.Reason)
		return
	}

	cost := venue.WeiToDecimal(result.AmountIn)
	tokens := venue.WeiToDecimal(result.AmountOut)
	entry := venue.ImpliedPrice(result.AmountIn, result.AmountOut)

	if m.tracker != nil {
		m.tracker.Track(ev.Token)
	}
	if _, err := m.positions.Open(ev.Token, info.Symbol, cost, tokens, entry); err != nil {
		log.Error().Err(err).Str("token", ev.Token.Hex()).Msg("monitor: bought but position open failed")
		return
	}

	m.bought.Add(1)
	log.Info().Str("token", ev.Token.Hex()).Str("symbol", info.Symbol).
		Str("cost_bnb", cost.String()).Str("tokens", tokens.String()).
		Str("entry_price", entry.String()).Str("reason", decision.Reason).
		Msg("monitor: position opened")
}

func (m *Monitor) reject(token common.Address, reason string) {
	m.rejected.Add(1)
	log.Info().Str("token", token.Hex()).Str("reason", reason).Msg("monitor: token rejected")
}

// Stats is the discovery loop counter snapshot.
type Stats struct {
	Discovered int64 `json:"discovered"`
	Evaluated  int64 `json:"evaluated"`
	Bought     int64 `json:"bought"`
	Rejected   int64 `json:"rejected"`
	Dropped    int64 `json:"dropped"`
}

// Stats returns current counters.
func (m *Monitor) Stats() Stats {
	return Stats{
		Discovered: m.discovered.Load(),
		Evaluated:  m.evaluated.Load(),
		Bought:     m.bought.Load(),
		Rejected:   m.rejected.Load(),
		Dropped:    m.dropped.Load(),
	}
}
