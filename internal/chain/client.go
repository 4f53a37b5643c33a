package chain

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
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/memebot-trading/memebot/internal/observability"
)

// ---------------------------------------------------------------------------
// Connection Manager: HTTP RPC failover + optional WS push subscriptions
// Owns every outbound link to the chain node. Reads go through a bounded
// retry; the WS leg reconnects with backoff and re-arms subscriptions.
// ---------------------------------------------------------------------------

// Backend is the request/response RPC surface the client manages.
// *ethclient.Client satisfies it; StubBackend is the test double.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	Close()
}

// SubBackend is the push-subscription surface of the WS transport.
type SubBackend interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	Close()
}

// Config configures the connection manager.
type Config struct {
	RPCURLs        []string      `yaml:"rpc_urls"`
	WSURL          string        `yaml:"ws_url"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
	MaxReconnects  int           `yaml:"max_reconnects"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// DefaultConfig returns BSC mainnet defaults.
func DefaultConfig() Config {
	return Config{
		RPCURLs: []string{
			"https://bsc-dataseed1.binance.org",
			"https://bsc-dataseed2.binance.org",
			"https://bsc-dataseed3.binance.org",
			"https://bsc-dataseed4.binance.org",
		},
		WSURL:          "wss://bsc-ws-node.nariox.org:443",
		Timeout:        10 * time.Second,
		MaxRetries:     3,
		RetryDelay:     time.Second,
		RateLimitRPS:   20,
		MaxReconnects:  5,
		ReconnectDelay: time.Second,
	}
}

// logSub is one registered push subscription, re-armed on reconnect.
type logSub struct {
	query   ethereum.FilterQuery
	handler func(types.Log)
	cancel  context.CancelFunc
}

// Client owns the transport handles. All state mutation happens under mu;
// reads rotate through the configured endpoints on failure.
type Client struct {
	config Config

	// Dialers, injectable for tests.
	dialHTTP func(ctx context.Context, url string) (Backend, error)
	dialWS   func(ctx context.Context, url string) (SubBackend, error)

	mu        sync.RWMutex
	http      Backend
	httpIndex int
	ws        SubBackend
	subs      []*logSub

	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	connected    atomic.Bool
	pushUp       atomic.Bool
	reconnecting atomic.Bool

	// Stats.
	retries    atomic.Int64
	reconnects atomic.Int64
	switches   atomic.Int64
}

// NewClient creates an unconnected client.
func NewClient(config Config) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		config: config,
		ctx:    ctx,
		cancel: cancel,
		dialHTTP: func(ctx context.Context, url string) (Backend, error) {
			return ethclient.DialContext(ctx, url)
		},
		dialWS: func(ctx context.Context, url string) (SubBackend, error) {
			return ethclient.DialContext(ctx, url)
		},
	}
	rps := config.RateLimitRPS
	if rps <= 0 {
		rps = 20
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
	return c
}

// Connect establishes the HTTP transport, rotating through endpoints until
// one answers a height probe. Failure of every endpoint is fatal to the
// caller. The WS transport is attempted independently and is non-fatal.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.connectHTTP(ctx); err != nil {
		return err
	}

	if c.config.WSURL != "" {
		if err := c.connectWS(ctx); err != nil {
			log.Warn().Err(err).Msg("chain: push transport unavailable, callers fall back to polling")
		}
	}
	return nil
}

func (c *Client) connectHTTP(ctx context.Context) error {
	c.mu.Lock()
	start := c.httpIndex
	c.mu.Unlock()

	for i := 0; i < len(c.config.RPCURLs); i++ {
		idx := (start + i) % len(c.config.RPCURLs)
		url := c.config.RPCURLs[idx]

		probeCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		backend, err := c.dialHTTP(probeCtx, url)
		if err != nil {
			cancel()
			log.Warn().Err(err).Str("endpoint", url).Msg("chain: dial failed")
			continue
		}

		height, err := backend.BlockNumber(probeCtx)
		cancel()
		if err != nil {
			backend.Close()
			log.Warn().Err(err).Str("endpoint", url).Msg("chain: liveness probe failed")
			continue
		}

		c.mu.Lock()
		if c.http != nil {
			c.http.Close()
		}
		c.http = backend
		c.httpIndex = idx
		c.mu.Unlock()
		c.connected.Store(true)

		log.Info().Str("endpoint", url).Uint64("height", height).Msg("chain: connected")
		return nil
	}

	c.connected.Store(false)
	return fmt.Errorf("chain: no RPC endpoint reachable (%d tried)", len(c.config.RPCURLs))
}

func (c *Client) connectWS(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	ws, err := c.dialWS(dialCtx, c.config.WSURL)
	if err != nil {
		return fmt.Errorf("chain: ws dial: %w", err)
	}

	c.mu.Lock()
	if c.ws != nil {
		c.ws.Close()
	}
	c.ws = ws
	c.mu.Unlock()
	c.pushUp.Store(true)

	log.Info().Str("endpoint", c.config.WSURL).Msg("chain: push transport connected")
	return nil
}

// SwitchEndpoint rotates to the next HTTP endpoint. Used when the current
// endpoint degrades at runtime.
func (c *Client) SwitchEndpoint(ctx context.Context) error {
	c.mu.Lock()
	c.httpIndex = (c.httpIndex + 1) % len(c.config.RPCURLs)
	c.mu.Unlock()

	c.switches.Add(1)
	observability.EndpointSwitches.Inc()
	return c.connectHTTP(ctx)
}

// PushAvailable reports whether the push-subscription transport is up.
func (c *Client) PushAvailable() bool {
	return c.pushUp.Load()
}

// Connected reports whether the HTTP transport is up.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

func (c *Client) backend() (Backend, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.http == nil {
		return nil, fmt.Errorf("chain: not connected")
	}
	return c.http, nil
}

// withRetry wraps a read call in the bounded fixed-delay retry that absorbs
// transient RPC errors.
func (c *Client) withRetry(ctx context.Context, op string, fn func(ctx context.Context, b Backend) error) error {
	attempts := c.config.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		backend, err := c.backend()
		if err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		lastErr = fn(callCtx, backend)
		cancel()
		if lastErr == nil {
			return nil
		}

		c.retries.Add(1)
		observability.RPCRetries.Inc()
		log.Debug().Err(lastErr).Str("op", op).Int("attempt", attempt).Msg("chain: read failed")

		if attempt < attempts {
			select {
			case <-time.After(c.config.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("chain: %s after %d attempts: %w", op, attempts, lastErr)
}

// BlockNumber returns the current chain height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.withRetry(ctx, "blockNumber", func(ctx context.Context, b Backend) error {
		h, err := b.BlockNumber(ctx)
		height = h
		return err
	})
	return height, err
}

// GasPrice returns the node's suggested gas price.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := c.withRetry(ctx, "gasPrice", func(ctx context.Context, b Backend) error {
		p, err := b.SuggestGasPrice(ctx)
		price = p
		return err
	})
	return price, err
}

// Balance returns the native-currency balance of an account.
func (c *Client) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	var bal *big.Int
	err := c.withRetry(ctx, "balance", func(ctx context.Context, b Backend) error {
		v, err := b.BalanceAt(ctx, account, nil)
		bal = v
		return err
	})
	return bal, err
}

// PendingNonce returns the account's pending nonce.
func (c *Client) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64
	err := c.withRetry(ctx, "pendingNonce", func(ctx context.Context, b Backend) error {
		n, err := b.PendingNonceAt(ctx, account)
		nonce = n
		return err
	})
	return nonce, err
}

// CallContract executes a read-only contract call.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := c.withRetry(ctx, "call", func(ctx context.Context, b Backend) error {
		v, err := b.CallContract(ctx, msg, blockNumber)
		out = v
		return err
	})
	return out, err
}

// CodeAt returns the deployed bytecode at an address.
func (c *Client) CodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	var code []byte
	err := c.withRetry(ctx, "codeAt", func(ctx context.Context, b Backend) error {
		v, err := b.CodeAt(ctx, account, nil)
		code = v
		return err
	})
	return code, err
}

// FilterLogs queries historical logs.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := c.withRetry(ctx, "filterLogs", func(ctx context.Context, b Backend) error {
		v, err := b.FilterLogs(ctx, q)
		logs = v
		return err
	})
	return logs, err
}

// SendTransaction submits a signed transaction. Writes are never retried
// here; nonce handling belongs to the caller.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	backend, err := c.backend()
	if err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	return backend.SendTransaction(callCtx, tx)
}

// Receipt fetches a transaction receipt. A missing receipt surfaces as an
// error (ethereum.NotFound from the node).
func (c *Client) Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	backend, err := c.backend()
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	return backend.TransactionReceipt(callCtx, txHash)
}

// SubscribeLogs registers a push handler for a log filter. The registration
// survives reconnects: every registered subscription is re-armed after the
// WS transport comes back. Returns an error when the push transport is down.
func (c *Client) SubscribeLogs(q ethereum.FilterQuery, handler func(types.Log)) error {
	sub := &logSub{query: q, handler: handler}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	ws := c.ws
	c.mu.Unlock()

	if ws == nil {
		return fmt.Errorf("chain: push transport not connected")
	}
	return c.arm(sub)
}

// arm opens the underlying subscription for one registration and pumps its
// logs until the subscription errors or the client closes.
func (c *Client) arm(sub *logSub) error {
	c.mu.RLock()
	ws := c.ws
	c.mu.RUnlock()
	if ws == nil {
		return fmt.Errorf("chain: push transport not connected")
	}

	subCtx, cancel := context.WithCancel(c.ctx)
	if sub.cancel != nil {
		sub.cancel()
	}
	sub.cancel = cancel

	ch := make(chan types.Log, 256)
	s, err := ws.SubscribeFilterLogs(subCtx, sub.query, ch)
	if err != nil {
		cancel()
		return fmt.Errorf("chain: subscribe: %w", err)
	}

	go func() {
		defer s.Unsubscribe()
		for {
			select {
			case <-subCtx.Done():
				return
			case err := <-s.Err():
				if err != nil {
					log.Warn().Err(err).Msg("chain: subscription dropped")
					c.pushUp.Store(false)
					go c.reconnectWS()
				}
				return
			case lg := <-ch:
				sub.handler(lg)
			}
		}
	}()
	return nil
}

// reconnectWS re-establishes the push transport with exponential backoff and
// re-arms every registered subscription. After exhausting the attempt budget
// the client stays degraded (polling-only) instead of failing the process.
func (c *Client) reconnectWS() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer c.reconnecting.Store(false)

	delay := c.config.ReconnectDelay
	if delay <= 0 {
		delay = time.Second
	}
	const maxDelay = 30 * time.Second

	for attempt := 1; c.config.MaxReconnects <= 0 || attempt <= c.config.MaxReconnects; attempt++ {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(delay):
		}

		c.reconnects.Add(1)
		observability.WSReconnects.Inc()

		if err := c.connectWS(c.ctx); err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("chain: ws reconnect failed")
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
			continue
		}

		c.mu.RLock()
		subs := make([]*logSub, len(c.subs))
		copy(subs, c.subs)
		c.mu.RUnlock()

		armed := 0
		for _, sub := range subs {
			if err := c.arm(sub); err != nil {
				log.Warn().Err(err).Msg("chain: re-arm failed")
				continue
			}
			armed++
		}
		log.Info().Int("attempt", attempt).Int("subscriptions", armed).Msg("chain: push transport recovered")
		return
	}

	log.Error().Int("max", c.config.MaxReconnects).
		Msg("chain: reconnect budget exhausted, staying in polling-only mode")
}

// Close tears down every transport and subscription.
func (c *Client) Close() {
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subs {
		if sub.cancel != nil {
			sub.cancel()
		}
	}
	c.subs = nil
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	if c.http != nil {
		c.http.Close()
		c.http = nil
	}
	c.connected.Store(false)
	c.pushUp.Store(false)
}

// Stats is a connectivity snapshot.
type Stats struct {
	Connected     bool  `json:"connected"`
	PushUp        bool  `json:"push_up"`
	EndpointIndex int   `json:"endpoint_index"`
	Retries       int64 `json:"retries"`
	Reconnects    int64 `json:"reconnects"`
	Switches      int64 `json:"switches"`
}

func (c *Client) Stats() Stats {
	c.mu.RLock()
	idx := c.httpIndex
	c.mu.RUnlock()
	return Stats{
		Connected:     c.connected.Load(),
		PushUp:        c.pushUp.Load(),
		EndpointIndex: idx,
		Retries:       c.retries.Load(),
		Reconnects:    c.reconnects.Load(),
		Switches:      c.switches.Load(),
	}
}
