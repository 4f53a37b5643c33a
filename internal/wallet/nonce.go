package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/memebot-trading/memebot/internal/observability"
)

// NonceSource exposes the pending-nonce read the manager reconciles against.
type NonceSource interface {
	PendingNonce(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager serializes nonce assignment for one account. Every Next call
// reconciles the local counter against the node's pending nonce, takes the
// higher of the two, and post-increments, so concurrent submitters never see
// the same nonce and an externally bumped account is absorbed automatically.
type NonceManager struct {
	mu      sync.Mutex
	source  NonceSource
	account common.Address
	local   uint64
	primed  bool
}

// NewNonceManager creates a manager for one account.
func NewNonceManager(source NonceSource, account common.Address) *NonceManager {
	return &NonceManager{source: source, account: account}
}

// Next returns the nonce to use for the next transaction and advances the
// local counter past it.
func (m *NonceManager) Next(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chainNonce, err := m.source.PendingNonce(ctx, m.account)
	if err != nil {
		return 0, fmt.Errorf("nonce: pending nonce: %w", err)
	}

	nonce := chainNonce
	if m.primed && m.local > nonce {
		nonce = m.local
	}
	m.local = nonce + 1
	m.primed = true
	return nonce, nil
}

// Reset discards the local counter. Called after a failed submission so the
// next assignment re-seeds from the chain instead of walking past a gap.
func (m *NonceManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.local = 0
	m.primed = false
	observability.NonceResets.Inc()
	log.Debug().Str("account", m.account.Hex()).Msg("nonce: reset")
}
