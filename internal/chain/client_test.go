package chain

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RPCURLs = []string{"http://a", "http://b", "http://c"}
	cfg.WSURL = "ws://push"
	cfg.Timeout = time.Second
	cfg.MaxRetries = 3
	cfg.RetryDelay = time.Millisecond
	cfg.RateLimitRPS = 1000
	cfg.MaxReconnects = 3
	cfg.ReconnectDelay = 5 * time.Millisecond
	return cfg
}

// stubbedClient wires one stub behind every configured endpoint URL.
func stubbedClient(cfg Config, stubs map[string]*StubBackend) *Client {
	c := NewClient(cfg)
	c.dialHTTP = func(ctx context.Context, url string) (Backend, error) {
		if s, ok := stubs[url]; ok {
			return s, nil
		}
		return nil, fmt.Errorf("dial %s: refused", url)
	}
	c.dialWS = func(ctx context.Context, url string) (SubBackend, error) {
		if s, ok := stubs[url]; ok {
			return s, nil
		}
		return nil, fmt.Errorf("dial %s: refused", url)
	}
	return c
}

func TestConnectRotatesPastDeadEndpoints(t *testing.T) {
	good := NewStubBackend()
	good.SetHeight(100)

	c := stubbedClient(testConfig(), map[string]*StubBackend{"http://c": good})
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.Connected())
	assert.Equal(t, 2, c.Stats().EndpointIndex)

	height, err := c.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), height)
}

func TestConnectFailsWhenAllEndpointsDead(t *testing.T) {
	c := stubbedClient(testConfig(), nil)
	defer c.Close()

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.False(t, c.Connected())
}

func TestConnectSurvivesFailedLivenessProbe(t *testing.T) {
	bad := NewStubBackend()
	bad.SetFailNext(1, fmt.Errorf("node syncing"))
	good := NewStubBackend()

	c := stubbedClient(testConfig(), map[string]*StubBackend{
		"http://a": bad,
		"http://b": good,
	})
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 1, c.Stats().EndpointIndex)
	assert.True(t, bad.Closed())
}

func TestReadRetriesTransientFailures(t *testing.T) {
	stub := NewStubBackend()
	stub.SetHeight(42)

	cfg := testConfig()
	cfg.RPCURLs = []string{"http://a"}
	c := stubbedClient(cfg, map[string]*StubBackend{"http://a": stub})
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))

	stub.SetFailNext(2, fmt.Errorf("timeout"))
	height, err := c.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), height)
	assert.Equal(t, int64(2), c.Stats().Retries)
}

func TestReadFailsAfterRetryBudget(t *testing.T) {
	stub := NewStubBackend()

	cfg := testConfig()
	cfg.RPCURLs = []string{"http://a"}
	c := stubbedClient(cfg, map[string]*StubBackend{"http://a": stub})
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))

	stub.SetFailNext(10, fmt.Errorf("down"))
	_, err := c.BlockNumber(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "after 3 attempts")
}

func TestSwitchEndpoint(t *testing.T) {
	a := NewStubBackend()
	b := NewStubBackend()

	c := stubbedClient(testConfig(), map[string]*StubBackend{
		"http://a": a,
		"http://b": b,
	})
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 0, c.Stats().EndpointIndex)

	require.NoError(t, c.SwitchEndpoint(context.Background()))
	assert.Equal(t, 1, c.Stats().EndpointIndex)
	assert.Equal(t, int64(1), c.Stats().Switches)
	assert.True(t, a.Closed())
}

func TestSendTransactionIsNotRetried(t *testing.T) {
	stub := NewStubBackend()

	cfg := testConfig()
	cfg.RPCURLs = []string{"http://a"}
	c := stubbedClient(cfg, map[string]*StubBackend{"http://a": stub})
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))
	sentBefore := stub.Calls()

	stub.SetFailNext(1, fmt.Errorf("nonce too low"))
	tx := types.NewTx(&types.LegacyTx{Nonce: 7})
	err := c.SendTransaction(context.Background(), tx)
	require.Error(t, err)
	assert.Equal(t, sentBefore+1, stub.Calls())
	assert.Empty(t, stub.SentTransactions())
}

func TestSubscribeDeliversLogs(t *testing.T) {
	stub := NewStubBackend()

	cfg := testConfig()
	cfg.RPCURLs = []string{"http://a"}
	cfg.WSURL = "ws://push"
	c := stubbedClient(cfg, map[string]*StubBackend{
		"http://a":  stub,
		"ws://push": stub,
	})
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))
	require.True(t, c.PushAvailable())

	got := make(chan types.Log, 1)
	require.NoError(t, c.SubscribeLogs(ethereum.FilterQuery{}, func(lg types.Log) {
		got <- lg
	}))

	stub.AddLog(types.Log{BlockNumber: 9})
	select {
	case lg := <-got:
		assert.Equal(t, uint64(9), lg.BlockNumber)
	case <-time.After(time.Second):
		t.Fatal("log not delivered")
	}
}

func TestSubscriptionReconnectsAndRearms(t *testing.T) {
	stub := NewStubBackend()

	cfg := testConfig()
	cfg.RPCURLs = []string{"http://a"}
	cfg.WSURL = "ws://push"
	c := stubbedClient(cfg, map[string]*StubBackend{
		"http://a":  stub,
		"ws://push": stub,
	})
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))

	got := make(chan types.Log, 4)
	require.NoError(t, c.SubscribeLogs(ethereum.FilterQuery{}, func(lg types.Log) {
		got <- lg
	}))

	stub.DropSubscriptions(fmt.Errorf("connection reset"))

	require.Eventually(t, c.PushAvailable, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		stub.AddLog(types.Log{BlockNumber: 11})
		select {
		case <-got:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, c.Stats().Reconnects, int64(1))
}

func TestFilterLogsHonorsBlockRange(t *testing.T) {
	stub := NewStubBackend()
	stub.AddLog(types.Log{BlockNumber: 5})
	stub.AddLog(types.Log{BlockNumber: 10})
	stub.AddLog(types.Log{BlockNumber: 15})

	cfg := testConfig()
	cfg.RPCURLs = []string{"http://a"}
	c := stubbedClient(cfg, map[string]*StubBackend{"http://a": stub})
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))

	logs, err := c.FilterLogs(context.Background(), ethereum.FilterQuery{
		FromBlock: big.NewInt(6),
		ToBlock:   big.NewInt(14),
	})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, uint64(10), logs[0].BlockNumber)
}
