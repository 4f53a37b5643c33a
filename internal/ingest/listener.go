package ingest

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"

	"github.com/memebot-trading/memebot/internal/observability"
	"github.com/memebot-trading/memebot/internal/venue"
)

// ---------------------------------------------------------------------------
// Event Ingestion Pipeline
// Turns raw venue logs into typed events and fans them out to registered
// handlers. Push subscriptions when the chain client has a live WS leg,
// block-range polling otherwise. Every delivered event passes the dedup
// window exactly once per run.
// ---------------------------------------------------------------------------

// ChainSource is the slice of the chain client the listener needs.
type ChainSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeLogs(q ethereum.FilterQuery, handler func(types.Log)) error
	PushAvailable() bool
}

// Mode selects the delivery transport.
type Mode string

const (
	// ModeAuto uses push when available and falls back to polling.
	ModeAuto Mode = "auto"
	ModePush Mode = "push"
	ModePoll Mode = "poll"
)

// Config configures the listener.
type Config struct {
	Mode         Mode          `yaml:"mode"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchBlocks  uint64        `yaml:"batch_blocks"`
	// StartBlock of 0 means start at the current head.
	StartBlock uint64 `yaml:"start_block"`
	DedupDepth int    `yaml:"dedup_depth"`
}

// DefaultConfig returns defaults tuned to BSC's block time.
func DefaultConfig() Config {
	return Config{
		Mode:         ModeAuto,
		PollInterval: venue.BlockTime,
		BatchBlocks:  100,
		DedupDepth:   8192,
	}
}

// Listener ingests venue events and dispatches them to typed handlers.
type Listener struct {
	source ChainSource
	config Config

	mu         sync.Mutex
	onCreated  []func(*venue.TokenCreated)
	onPurchase []func(*venue.TokenPurchase)
	onSale     []func(*venue.TokenSale)
	onMigrated []func(*venue.TokenMigrated)

	seen      map[string]struct{}
	seenOrder []string

	mode      Mode
	lastBlock atomic.Uint64
	ingested  atomic.Int64
	deduped   atomic.Int64

	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
}

// NewListener creates a stopped listener.
func NewListener(source ChainSource, config Config) *Listener {
	if config.PollInterval <= 0 {
		config.PollInterval = venue.BlockTime
	}
	if config.BatchBlocks == 0 {
		config.BatchBlocks = 100
	}
	if config.DedupDepth <= 0 {
		config.DedupDepth = 8192
	}
	return &Listener{
		source: source,
		config: config,
		seen:   make(map[string]struct{}),
		done:   make(chan struct{}),
	}
}

// ---------- handler registration ----------

func (l *Listener) OnTokenCreated(fn func(*venue.TokenCreated)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onCreated = append(l.onCreated, fn)
}

func (l *Listener) OnTokenPurchase(fn func(*venue.TokenPurchase)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onPurchase = append(l.onPurchase, fn)
}

func (l *Listener) OnTokenSale(fn func(*venue.TokenSale)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onSale = append(l.onSale, fn)
}

func (l *Listener) OnTokenMigrated(fn func(*venue.TokenMigrated)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onMigrated = append(l.onMigrated, fn)
}

// ---------- lifecycle ----------

// Start begins delivery. Push mode subscribes to the venue contract's logs;
// poll mode walks block ranges from the start cursor. ModeAuto picks push
// when the transport is up at start time.
func (l *Listener) Start(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return fmt.Errorf("ingest: already started")
	}

	start := l.config.StartBlock
	if start == 0 {
		head, err := l.source.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("ingest: head: %w", err)
		}
		start = head
	}
	l.lastBlock.Store(start)

	runCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel

	mode := l.config.Mode
	if mode == ModeAuto {
		if l.source.PushAvailable() {
			mode = ModePush
		} else {
			mode = ModePoll
		}
	}

	if mode == ModePush {
		err := l.source.SubscribeLogs(l.query(nil, nil), func(lg types.Log) {
			l.dispatch(lg, string(ModePush))
		})
		if err != nil {
			if l.config.Mode == ModePush {
				cancel()
				l.started.Store(false)
				return fmt.Errorf("ingest: subscribe: %w", err)
			}
			log.Warn().Err(err).Msg("ingest: push unavailable, polling instead")
			mode = ModePoll
		}
	}

	l.mode = mode
	if mode == ModePoll {
		go l.pollLoop(runCtx)
	} else {
		close(l.done)
	}

	log.Info().Str("mode", string(mode)).Uint64("start_block", start).Msg("ingest: started")
	return nil
}

// Stop halts delivery. Safe to call more than once.
func (l *Listener) Stop() {
	if !l.started.Load() {
		return
	}
	if l.cancel != nil {
		l.cancel()
	}
	<-l.done
}

func (l *Listener) pollLoop(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.pollOnce(ctx); err != nil {
				log.Warn().Err(err).Msg("ingest: poll failed, retrying next tick")
			}
		}
	}
}

// pollOnce walks one batch. The cursor advances to the end of the scanned
// range even when no events landed in it; it does not move on error, so a
// failed range is rescanned on the next tick.
func (l *Listener) pollOnce(ctx context.Context) error {
	head, err := l.source.BlockNumber(ctx)
	if err != nil {
		return err
	}

	last := l.lastBlock.Load()
	if head <= last {
		return nil
	}

	from := last + 1
	to := head
	if to > last+l.config.BatchBlocks {
		to = last + l.config.BatchBlocks
	}

	logs, err := l.source.FilterLogs(ctx, l.query(new(big.Int).SetUint64(from), new(big.Int).SetUint64(to)))
	if err != nil {
		return err
	}

	for _, lg := range logs {
		l.dispatch(lg, string(ModePoll))
	}

	l.lastBlock.Store(to)
	observability.LastBlock.Set(float64(to))
	return nil
}

func (l *Listener) query(from, to *big.Int) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{venue.TokenManager},
		Topics:    [][]common.Hash{venue.AllTopics()},
		FromBlock: from,
		ToBlock:   to,
	}
}

// dispatch parses one log, applies the dedup window, and fans out.
func (l *Listener) dispatch(lg types.Log, mode string) {
	if lg.Removed {
		return
	}

	event, err := venue.ParseLog(lg)
	if err != nil {
		log.Debug().Err(err).Str("tx", lg.TxHash.Hex()).Msg("ingest: skipping log")
		return
	}

	key := event.EventMeta().DedupKey()
	l.mu.Lock()
	if _, dup := l.seen[key]; dup {
		l.mu.Unlock()
		l.deduped.Add(1)
		observability.EventsDeduped.Inc()
		return
	}
	l.seen[key] = struct{}{}
	l.seenOrder = append(l.seenOrder, key)
	if len(l.seenOrder) > l.config.DedupDepth {
		evict := l.seenOrder[0]
		l.seenOrder = l.seenOrder[1:]
		delete(l.seen, evict)
	}

	var fanout func()
	switch e := event.(type) {
	case *venue.TokenCreated:
		fns := append([]func(*venue.TokenCreated){}, l.onCreated...)
		fanout = func() {
			for _, fn := range fns {
				fn(e)
			}
		}
	case *venue.TokenPurchase:
		fns := append([]func(*venue.TokenPurchase){}, l.onPurchase...)
		fanout = func() {
			for _, fn := range fns {
				fn(e)
			}
		}
	case *venue.TokenSale:
		fns := append([]func(*venue.TokenSale){}, l.onSale...)
		fanout = func() {
			for _, fn := range fns {
				fn(e)
			}
		}
	case *venue.TokenMigrated:
		fns := append([]func(*venue.TokenMigrated){}, l.onMigrated...)
		fanout = func() {
			for _, fn := range fns {
				fn(e)
			}
		}
	}
	l.mu.Unlock()

	if fanout != nil {
		fanout()
	}

	l.ingested.Add(1)
	observability.EventsIngested.WithLabelValues(string(event.Kind()), mode).Inc()
	if lg.BlockNumber > l.lastBlock.Load() {
		l.lastBlock.Store(lg.BlockNumber)
		observability.LastBlock.Set(float64(lg.BlockNumber))
	}
}

// ---------- historical queries ----------

// Events returns typed events of one kind in a closed block range.
func (l *Listener) Events(ctx context.Context, kind venue.EventKind, fromBlock, toBlock uint64) ([]venue.Event, error) {
	topic, err := topicFor(kind)
	if err != nil {
		return nil, err
	}

	logs, err := l.source.FilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{venue.TokenManager},
		Topics:    [][]common.Hash{{topic}},
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: query events: %w", err)
	}

	events := make([]venue.Event, 0, len(logs))
	for _, lg := range logs {
		event, err := venue.ParseLog(lg)
		if err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// TokenTrades returns every buy and sell for one token since fromBlock.
func (l *Listener) TokenTrades(ctx context.Context, token common.Address, fromBlock uint64) ([]venue.Event, error) {
	logs, err := l.source.FilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{venue.TokenManager},
		Topics: [][]common.Hash{
			{venue.TopicTokenPurchase, venue.TopicTokenSale},
			nil,
			{common.BytesToHash(token.Bytes())},
		},
		FromBlock: new(big.Int).SetUint64(fromBlock),
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: query trades: %w", err)
	}

	events := make([]venue.Event, 0, len(logs))
	for _, lg := range logs {
		event, err := venue.ParseLog(lg)
		if err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

func topicFor(kind venue.EventKind) (common.Hash, error) {
	switch kind {
	case venue.KindCreated:
		return venue.TopicTokenCreated, nil
	case venue.KindBought:
		return venue.TopicTokenPurchase, nil
	case venue.KindSold:
		return venue.TopicTokenSale, nil
	case venue.KindMigrated:
		return venue.TopicTokenMigrated, nil
	}
	return common.Hash{}, fmt.Errorf("ingest: unknown event kind %q", kind)
}

// ---------- stats ----------

// Stats is an ingestion snapshot.
type Stats struct {
	Mode      string `json:"mode"`
	LastBlock uint64 `json:"last_block"`
	Ingested  int64  `json:"ingested"`
	Deduped   int64  `json:"deduped"`
}

func (l *Listener) Stats() Stats {
	return Stats{
		Mode:      string(l.mode),
		LastBlock: l.lastBlock.Load(),
		Ingested:  l.ingested.Load(),
		Deduped:   l.deduped.Load(),
	}
}
