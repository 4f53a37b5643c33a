package risk

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/memebot-trading/memebot/internal/observability"
	"github.com/memebot-trading/memebot/internal/trade"
	"github.com/memebot-trading/memebot/internal/venue"
)

// tpLevel is one rung of a position's ladder. fired flips before the sell is
// submitted and rolls back if the sell fails.
type tpLevel struct {
	percent     decimal.Decimal
	sellPercent decimal.Decimal
	fired       bool
}

// tpState is the ladder for one position.
type tpState struct {
	positionID string
	token      common.Address
	entry      decimal.Decimal
	levels     []*tpLevel
}

func (s *tpState) exhausted() bool {
	for _, lvl := range s.levels {
		if !lvl.fired {
			return false
		}
	}
	return true
}

// TakeProfit scales out of winning positions level by level. Each level fires
// once against the amount remaining at fire time; a failed partial sell
// re-arms its level for the next qualifying update.
type TakeProfit struct {
	manager *Manager
	seller  Seller

	mu      sync.Mutex
	tracked map[string]*tpState

	fired atomic.Int64
}

// NewTakeProfit creates the sub-engine and wires it to the manager's
// position lifecycle.
func NewTakeProfit(manager *Manager, seller Seller) *TakeProfit {
	e := &TakeProfit{
		manager: manager,
		seller:  seller,
		tracked: make(map[string]*tpState),
	}
	manager.OnPositionOpen(e.Register)
	manager.OnPositionClose(func(p *Position, _ *trade.Result) {
		e.Deregister(p.ID)
	})
	return e
}

// Register arms the configured ladder for a position.
func (e *TakeProfit) Register(p *Position) {
	cfg := e.manager.Config()
	if len(cfg.TakeProfitLevels) == 0 {
		return
	}

	st := &tpState{
		positionID: p.ID,
		token:      p.Token,
		entry:      p.EntryPrice,
	}
	for _, lvl := range cfg.TakeProfitLevels {
		st.levels = append(st.levels, &tpLevel{
			percent:     decimal.NewFromFloat(lvl.Percent),
			sellPercent: decimal.NewFromFloat(lvl.SellPercent),
		})
	}

	e.mu.Lock()
	e.tracked[p.ID] = st
	e.mu.Unlock()

	log.Debug().Str("position", p.ID).Int("levels", len(st.levels)).Msg("risk: take-profit armed")
}

// Deregister discards a position's ladder. Idempotent.
func (e *TakeProfit) Deregister(positionID string) {
	e.mu.Lock()
	delete(e.tracked, positionID)
	e.mu.Unlock()
}

// Evaluate fires every eligible unfired level, ascending, for the token's
// positions. Levels are marked fired under the lock before any sell goes
// out; a near-simultaneous second update therefore cannot double-fire.
func (e *TakeProfit) Evaluate(ctx context.Context, token common.Address, price decimal.Decimal) {
	if price.Sign() <= 0 {
		return
	}
	hundred := decimal.NewFromInt(100)

	type firing struct {
		positionID string
		level      *tpLevel
	}

	e.mu.Lock()
	var firings []firing
	for _, st := range e.tracked {
		if st.token != token || st.entry.IsZero() {
			continue
		}
		pnl := price.Sub(st.entry).Div(st.entry).Mul(hundred)
		for _, lvl := range st.levels {
			if lvl.fired || pnl.LessThan(lvl.percent) {
				continue
			}
			lvl.fired = true
			firings = append(firings, firing{positionID: st.positionID, level: lvl})
		}
	}
	e.mu.Unlock()

	for _, f := range firings {
		p, ok := e.manager.Get(f.positionID)
		if !ok {
			e.Deregister(f.positionID)
			continue
		}

		sellAmount := p.Amount.Mul(f.level.sellPercent).Div(hundred)
		if sellAmount.Sign() <= 0 {
			continue
		}

		result, err := e.seller.SellTokens(ctx, p.Token, sellAmount)
		if err != nil || !result.Success {
			e.mu.Lock()
			f.level.fired = false
			e.mu.Unlock()
			if err != nil {
				log.Error().Err(err).Str("position", p.ID).Msg("risk: take-profit sell failed, level re-armed")
			} else {
				log.Error().Str("position", p.ID).Str("reason", result.Reason).
					Msg("risk: take-profit sell rejected, level re-armed")
			}
			continue
		}

		e.fired.Add(1)
		observability.TakeProfitTriggers.Inc()
		log.Info().Str("position", p.ID).Str("token", p.Token.Hex()).
			Str("level_percent", f.level.percent.String()).
			Str("sold_tokens", sellAmount.String()).
			Msg("risk: take-profit level filled")

		received := venue.WeiToDecimal(result.AmountOut)
		if err := e.manager.Reduce(f.positionID, sellAmount, received); err != nil {
			log.Warn().Err(err).Str("position", p.ID).Msg("risk: reduce after take-profit")
		}
	}

	// Positions whose ladder is spent need no further tracking.
	e.mu.Lock()
	for id, st := range e.tracked {
		if st.exhausted() {
			delete(e.tracked, id)
		}
	}
	e.mu.Unlock()
}

// Fired returns how many levels have filled.
func (e *TakeProfit) Fired() int64 {
	return e.fired.Load()
}
