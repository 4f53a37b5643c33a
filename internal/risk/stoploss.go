package risk

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/memebot-trading/memebot/internal/observability"
	"github.com/memebot-trading/memebot/internal/trade"
)

// PriceSource answers the periodic sweep's price lookups. Satisfied by
// price.Tracker.
type PriceSource interface {
	CurrentPrice(ctx context.Context, token common.Address) (decimal.Decimal, error)
}

// stopState is the armed trigger for one position.
type stopState struct {
	positionID string
	token      common.Address
	entry      decimal.Decimal
	trigger    decimal.Decimal
	high       decimal.Decimal
	trailing   bool
	openedAt   time.Time
}

// StopLoss watches open positions and force-exits them when price falls
// through the armed trigger. A trigger fires at most once: the position is
// removed from tracking before the sell is submitted.
type StopLoss struct {
	manager *Manager
	seller  Seller
	prices  PriceSource

	mu      sync.Mutex
	tracked map[string]*stopState

	fired atomic.Int64

	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
}

// NewStopLoss creates the sub-engine and wires it to the manager's position
// lifecycle.
func NewStopLoss(manager *Manager, seller Seller, prices PriceSource) *StopLoss {
	e := &StopLoss{
		manager: manager,
		seller:  seller,
		prices:  prices,
		tracked: make(map[string]*stopState),
		done:    make(chan struct{}),
	}
	manager.OnPositionOpen(e.Register)
	manager.OnPositionClose(func(p *Position, _ *trade.Result) {
		e.Deregister(p.ID)
	})
	return e
}

// Register arms a trigger for a position using the current risk parameters.
func (e *StopLoss) Register(p *Position) {
	cfg := e.manager.Config()

	st := &stopState{
		positionID: p.ID,
		token:      p.Token,
		entry:      p.EntryPrice,
		high:       p.EntryPrice,
		trailing:   cfg.TrailingStop,
		openedAt:   p.OpenedAt,
	}

	pct := cfg.StopLossPercent
	if st.trailing {
		pct = cfg.TrailingPercent
	}
	st.trigger = p.EntryPrice.Mul(decimal.NewFromFloat(1 - pct/100))

	e.mu.Lock()
	e.tracked[p.ID] = st
	e.mu.Unlock()

	log.Debug().Str("position", p.ID).Str("trigger", st.trigger.String()).
		Bool("trailing", st.trailing).Msg("risk: stop-loss armed")
}

// Deregister disarms a position's trigger. Idempotent.
func (e *StopLoss) Deregister(positionID string) {
	e.mu.Lock()
	delete(e.tracked, positionID)
	e.mu.Unlock()
}

// Evaluate runs every armed trigger for a token against a fresh price.
// Called from the price-update subscription.
func (e *StopLoss) Evaluate(ctx context.Context, token common.Address, price decimal.Decimal) {
	if price.Sign() <= 0 {
		return
	}

	e.mu.Lock()
	var fires []*stopState
	for id, st := range e.tracked {
		if st.token != token {
			continue
		}
		if st.trailing && price.GreaterThan(st.high) {
			st.high = price
			candidate := st.high.Mul(decimal.NewFromFloat(1 - e.trailPercent()/100))
			if candidate.GreaterThan(st.trigger) {
				st.trigger = candidate
			}
		}
		if price.LessThanOrEqual(st.trigger) {
			delete(e.tracked, id)
			fires = append(fires, st)
		}
	}
	e.mu.Unlock()

	for _, st := range fires {
		e.fire(ctx, st, price, "stop-loss")
	}
}

func (e *StopLoss) trailPercent() float64 {
	return e.manager.Config().TrailingPercent
}

// fire exits the position. The trigger is already disarmed, so a failed sell
// leaves the position open but not stop-tracked.
func (e *StopLoss) fire(ctx context.Context, st *stopState, price decimal.Decimal, rule string) {
	p, ok := e.manager.Get(st.positionID)
	if !ok {
		return
	}

	e.fired.Add(1)
	observability.StopLossTriggers.Inc()
	log.Warn().Str("position", p.ID).Str("token", p.Token.Hex()).Str("rule", rule).
		Str("price", price.String()).Str("trigger", st.trigger.String()).
		Msg("risk: stop triggered, exiting position")

	result, err := e.seller.SellTokens(ctx, p.Token, p.Amount)
	if err != nil {
		log.Error().Err(err).Str("position", p.ID).Msg("risk: stop exit failed")
		return
	}
	if !result.Success {
		log.Error().Str("position", p.ID).Str("reason", result.Reason).Msg("risk: stop exit rejected")
		return
	}

	if err := e.manager.Close(p.ID, result); err != nil {
		log.Warn().Err(err).Str("position", p.ID).Msg("risk: close after stop")
	}
}

// Start launches the periodic sweep that re-checks every armed trigger with
// a direct quote, covering quiet tokens with no push updates.
func (e *StopLoss) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return fmt.Errorf("risk: stop-loss already started")
	}

	interval := e.manager.Config().SweepInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	go func() {
		defer close(e.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.sweep(runCtx)
			}
		}
	}()
	return nil
}

// Stop halts the sweep. Idempotent.
func (e *StopLoss) Stop() {
	if !e.started.Load() {
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	<-e.done
}

func (e *StopLoss) sweep(ctx context.Context) {
	e.mu.Lock()
	states := make([]*stopState, 0, len(e.tracked))
	for _, st := range e.tracked {
		states = append(states, st)
	}
	e.mu.Unlock()

	maxHold := e.manager.Config().MaxHoldTime
	for _, st := range states {
		price, err := e.prices.CurrentPrice(ctx, st.token)
		if err != nil {
			log.Debug().Err(err).Str("token", st.token.Hex()).Msg("risk: sweep price unavailable")
			continue
		}

		e.Evaluate(ctx, st.token, price)

		if maxHold > 0 && time.Since(st.openedAt) > maxHold && price.LessThan(st.entry) {
			e.mu.Lock()
			_, stillArmed := e.tracked[st.positionID]
			if stillArmed {
				delete(e.tracked, st.positionID)
			}
			e.mu.Unlock()
			if stillArmed {
				e.fire(ctx, st, price, "max-hold")
			}
		}
	}
}

// Fired returns how many triggers have fired.
func (e *StopLoss) Fired() int64 {
	return e.fired.Load()
}
