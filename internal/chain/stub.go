package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// StubBackend is an in-memory Backend and SubBackend used by tests and by
// dry-run mode. All state is settable and mutex-guarded.
type StubBackend struct {
	mu sync.Mutex

	height   uint64
	gasPrice *big.Int
	balances map[common.Address]*big.Int
	nonces   map[common.Address]uint64
	code     map[common.Address][]byte
	receipts map[common.Hash]*types.Receipt
	logs     []types.Log

	// callResults maps the 4-byte selector of an incoming eth_call to the
	// raw return bytes.
	callResults map[[4]byte][]byte

	failNext  int
	failErr   error
	sent      []*types.Transaction
	closed    bool
	calls     int
	subFailed bool

	subChans  map[int]chan<- types.Log
	subErrs   []chan error
	nextSubID int
}

// NewStubClient returns a client whose dialers resolve every endpoint to the
// given stub. Used for dry runs and tests.
func NewStubClient(config Config, stub *StubBackend) *Client {
	c := NewClient(config)
	c.dialHTTP = func(ctx context.Context, url string) (Backend, error) {
		return stub, nil
	}
	c.dialWS = func(ctx context.Context, url string) (SubBackend, error) {
		return stub, nil
	}
	return c
}

// NewStubBackend returns an empty stub at height 1.
func NewStubBackend() *StubBackend {
	return &StubBackend{
		height:      1,
		gasPrice:    big.NewInt(3_000_000_000),
		balances:    make(map[common.Address]*big.Int),
		nonces:      make(map[common.Address]uint64),
		code:        make(map[common.Address][]byte),
		receipts:    make(map[common.Hash]*types.Receipt),
		callResults: make(map[[4]byte][]byte),
	}
}

// ---------- test knobs ----------

// SetFailNext makes the next n calls fail with err.
func (s *StubBackend) SetFailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
	s.failErr = err
}

// SetSubscribeFail makes SubscribeFilterLogs fail.
func (s *StubBackend) SetSubscribeFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subFailed = fail
}

func (s *StubBackend) SetHeight(h uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.height = h
}

func (s *StubBackend) AdvanceHeight(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.height += n
}

func (s *StubBackend) SetBalance(account common.Address, wei *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[account] = new(big.Int).Set(wei)
}

func (s *StubBackend) SetNonce(account common.Address, nonce uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonces[account] = nonce
}

func (s *StubBackend) SetCode(account common.Address, code []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code[account] = code
}

func (s *StubBackend) SetReceipt(txHash common.Hash, r *types.Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts[txHash] = r
}

// SetCallResult registers the return bytes for calls whose data starts with
// the given 4-byte selector.
func (s *StubBackend) SetCallResult(selector [4]byte, out []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callResults[selector] = out
}

// AddLog appends a log returned by FilterLogs and delivered to any armed
// subscription.
func (s *StubBackend) AddLog(lg types.Log) {
	s.mu.Lock()
	s.logs = append(s.logs, lg)
	chans := make([]chan<- types.Log, 0, len(s.subChans))
	for _, ch := range s.subChans {
		chans = append(chans, ch)
	}
	s.mu.Unlock()
	for _, ch := range chans {
		ch <- lg
	}
}

// SentTransactions returns every transaction passed to SendTransaction.
func (s *StubBackend) SentTransactions() []*types.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Transaction, len(s.sent))
	copy(out, s.sent)
	return out
}

// Calls returns the total number of RPC calls served, including failed ones.
func (s *StubBackend) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Closed reports whether Close was called.
func (s *StubBackend) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *StubBackend) fail() error {
	s.calls++
	if s.failNext > 0 {
		s.failNext--
		if s.failErr != nil {
			return s.failErr
		}
		return fmt.Errorf("stub: injected failure")
	}
	return nil
}

// ---------- Backend ----------

func (s *StubBackend) BlockNumber(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return 0, err
	}
	return s.height, nil
}

func (s *StubBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	return new(big.Int).Set(s.gasPrice), nil
}

func (s *StubBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	if bal, ok := s.balances[account]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (s *StubBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return 0, err
	}
	return s.nonces[account], nil
}

func (s *StubBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	if len(msg.Data) >= 4 {
		var sel [4]byte
		copy(sel[:], msg.Data[:4])
		if out, ok := s.callResults[sel]; ok {
			return out, nil
		}
	}
	return nil, fmt.Errorf("stub: no call result registered")
}

func (s *StubBackend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	return s.code[account], nil
}

func (s *StubBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	s.sent = append(s.sent, tx)
	return nil
}

func (s *StubBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	if r, ok := s.receipts[txHash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (s *StubBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return nil, err
	}
	var out []types.Log
	for _, lg := range s.logs {
		if q.FromBlock != nil && lg.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && lg.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		out = append(out, lg)
	}
	return out, nil
}

func (s *StubBackend) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// ---------- SubBackend ----------

type stubSubscription struct {
	errs   chan error
	cancel func()
}

func (s *stubSubscription) Unsubscribe() { s.cancel() }

func (s *stubSubscription) Err() <-chan error { return s.errs }

func (s *StubBackend) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subFailed {
		return nil, fmt.Errorf("stub: subscribe refused")
	}
	if s.subChans == nil {
		s.subChans = make(map[int]chan<- types.Log)
	}
	id := s.nextSubID
	s.nextSubID++
	s.subChans[id] = ch
	errs := make(chan error, 1)
	s.subErrs = append(s.subErrs, errs)
	return &stubSubscription{
		errs: errs,
		cancel: func() {
			s.mu.Lock()
			delete(s.subChans, id)
			s.mu.Unlock()
		},
	}, nil
}

// DropSubscriptions fails every live subscription, simulating a WS cut.
func (s *StubBackend) DropSubscriptions(err error) {
	s.mu.Lock()
	errs := s.subErrs
	s.subErrs = nil
	s.subChans = make(map[int]chan<- types.Log)
	s.mu.Unlock()
	for _, ch := range errs {
		ch <- err
	}
}
