package wallet

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known test vector: key 0x...01 derives this address.
const (
	testKey     = "0000000000000000000000000000000000000000000000000000000000000001"
	testAddress = "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"
)

func TestNewDerivesAddress(t *testing.T) {
	w, err := New(testKey, 56)
	require.NoError(t, err)
	assert.Equal(t, testAddress, w.Address().Hex())

	prefixed, err := New("0x"+testKey, 56)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), prefixed.Address())
}

func TestNewRejectsBadKey(t *testing.T) {
	_, err := New("", 56)
	require.Error(t, err)

	_, err = New("not-hex", 56)
	require.Error(t, err)
}

func TestSignTxRecoversSender(t *testing.T) {
	w, err := New(testKey, 56)
	require.NoError(t, err)

	to := common.HexToAddress("0x5c952063c7fc8610FFDB798152D69F0B9550762b")
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    3,
		To:       &to,
		Value:    big.NewInt(1),
		Gas:      21000,
		GasPrice: big.NewInt(3_000_000_000),
	})

	signed, err := w.SignTx(tx)
	require.NoError(t, err)

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(56)), signed)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), from)
}

type stubNonceSource struct {
	mu      sync.Mutex
	pending uint64
	err     error
	calls   int
}

func (s *stubNonceSource) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.pending, s.err
}

func (s *stubNonceSource) set(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = n
}

func TestNonceManagerSeedsFromChain(t *testing.T) {
	src := &stubNonceSource{pending: 5}
	m := NewNonceManager(src, common.Address{})

	n, err := m.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), n)
}

func TestNonceManagerIncrementsPastStaleChain(t *testing.T) {
	src := &stubNonceSource{pending: 5}
	m := NewNonceManager(src, common.Address{})
	ctx := context.Background()

	// Chain view stays at 5 while three sends go out back to back.
	for want := uint64(5); want < 8; want++ {
		n, err := m.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
}

func TestNonceManagerAbsorbsExternalBump(t *testing.T) {
	src := &stubNonceSource{pending: 5}
	m := NewNonceManager(src, common.Address{})
	ctx := context.Background()

	_, err := m.Next(ctx)
	require.NoError(t, err)

	// Another signer pushed the account ahead of our local counter.
	src.set(20)
	n, err := m.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), n)
}

func TestNonceManagerResetReseeds(t *testing.T) {
	src := &stubNonceSource{pending: 5}
	m := NewNonceManager(src, common.Address{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.Next(ctx)
		require.NoError(t, err)
	}

	m.Reset()
	n, err := m.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), n)
}

func TestNonceManagerPropagatesSourceError(t *testing.T) {
	src := &stubNonceSource{err: fmt.Errorf("node down")}
	m := NewNonceManager(src, common.Address{})

	_, err := m.Next(context.Background())
	require.Error(t, err)
}

func TestNonceManagerConcurrentNextIsUnique(t *testing.T) {
	src := &stubNonceSource{pending: 0}
	m := NewNonceManager(src, common.Address{})

	const goroutines = 32
	out := make(chan uint64, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := m.Next(context.Background())
			assert.NoError(t, err)
			out <- n
		}()
	}
	wg.Wait()
	close(out)

	seen := make(map[uint64]bool)
	for n := range out {
		assert.False(t, seen[n], "nonce %d assigned twice", n)
		seen[n] = true
	}
	assert.Len(t, seen, goroutines)
}
