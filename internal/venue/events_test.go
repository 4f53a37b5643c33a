package venue

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testToken  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testWallet = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func packEventData(t *testing.T, event string, vals ...interface{}) []byte {
	t.Helper()
	data, err := managerABI.Events[event].Inputs.NonIndexed().Pack(vals...)
	require.NoError(t, err)
	return data
}

func addrTopic(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

func TestParseLogTokenCreated(t *testing.T) {
	ts := big.NewInt(1_700_000_000)
	lg := types.Log{
		Address:     TokenManager,
		Topics:      []common.Hash{TopicTokenCreated, addrTopic(testToken), addrTopic(testWallet)},
		Data:        packEventData(t, "TokenCreated", "Pepe Classic", "PEPEC", ts),
		BlockNumber: 42,
		TxHash:      common.HexToHash("0xabc1"),
		Index:       3,
	}

	event, err := ParseLog(lg)
	require.NoError(t, err)

	created, ok := event.(*TokenCreated)
	require.True(t, ok)
	assert.Equal(t, KindCreated, created.Kind())
	assert.Equal(t, testToken, created.Token)
	assert.Equal(t, testWallet, created.Creator)
	assert.Equal(t, "Pepe Classic", created.Name)
	assert.Equal(t, "PEPEC", created.Symbol)
	assert.Equal(t, uint64(42), created.BlockNumber)
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), created.Timestamp)
}

func TestParseLogTokenPurchase(t *testing.T) {
	amountIn := big.NewInt(5e17)
	amountOut := new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1e18))

	lg := types.Log{
		Topics: []common.Hash{TopicTokenPurchase, addrTopic(testWallet), addrTopic(testToken)},
		Data:   packEventData(t, "TokenPurchase", amountIn, amountOut, big.NewInt(1_700_000_100)),
		TxHash: common.HexToHash("0xabc2"),
	}

	event, err := ParseLog(lg)
	require.NoError(t, err)

	bought, ok := event.(*TokenPurchase)
	require.True(t, ok)
	assert.Equal(t, KindBought, bought.Kind())
	assert.Equal(t, testWallet, bought.Buyer)
	assert.Equal(t, testToken, bought.Token)
	assert.Equal(t, amountIn, bought.AmountIn)
	assert.Equal(t, amountOut, bought.AmountOut)
}

func TestParseLogTokenSale(t *testing.T) {
	lg := types.Log{
		Topics: []common.Hash{TopicTokenSale, addrTopic(testWallet), addrTopic(testToken)},
		Data:   packEventData(t, "TokenSale", big.NewInt(1e18), big.NewInt(4e17), big.NewInt(1_700_000_200)),
	}

	event, err := ParseLog(lg)
	require.NoError(t, err)

	sold, ok := event.(*TokenSale)
	require.True(t, ok)
	assert.Equal(t, KindSold, sold.Kind())
	assert.Equal(t, testWallet, sold.Seller)
	assert.Equal(t, big.NewInt(4e17), sold.AmountOut)
}

func TestParseLogTokenMigrated(t *testing.T) {
	pair := common.HexToAddress("0x3333333333333333333333333333333333333333")
	lg := types.Log{
		Topics: []common.Hash{TopicTokenMigrated, addrTopic(testToken), addrTopic(pair)},
		Data:   packEventData(t, "TokenMigrated", new(big.Int).Mul(big.NewInt(24), big.NewInt(1e18)), big.NewInt(1_700_000_300)),
	}

	event, err := ParseLog(lg)
	require.NoError(t, err)

	migrated, ok := event.(*TokenMigrated)
	require.True(t, ok)
	assert.Equal(t, testToken, migrated.Token)
	assert.Equal(t, pair, migrated.Pair)
	assert.Equal(t, new(big.Int).Mul(big.NewInt(24), big.NewInt(1e18)), migrated.Liquidity)
}

func TestParseLogUnknownTopic(t *testing.T) {
	_, err := ParseLog(types.Log{Topics: []common.Hash{common.HexToHash("0xdead")}})
	assert.ErrorIs(t, err, ErrUnknownEvent)

	_, err = ParseLog(types.Log{})
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestDedupKeyDistinguishesLogIndex(t *testing.T) {
	a := Meta{TxHash: common.HexToHash("0x01"), LogIndex: 0}
	b := Meta{TxHash: common.HexToHash("0x01"), LogIndex: 1}
	assert.NotEqual(t, a.DedupKey(), b.DedupKey())
	assert.Equal(t, a.DedupKey(), Meta{TxHash: common.HexToHash("0x01")}.DedupKey())
}
