package venue

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCaller answers eth_call by method selector.
type fakeCaller struct {
	results map[string][]byte
	calls   []ethereum.CallMsg
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{results: make(map[string][]byte)}
}

func (f *fakeCaller) answer(t *testing.T, method string, vals ...interface{}) {
	t.Helper()
	var m = managerABI.Methods
	if _, ok := m[method]; !ok {
		m = tokenABI.Methods
	}
	out, err := m[method].Outputs.Pack(vals...)
	require.NoError(t, err)
	f.results[string(m[method].ID)] = out
}

func (f *fakeCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.calls = append(f.calls, msg)
	if len(msg.Data) >= 4 {
		if out, ok := f.results[string(msg.Data[:4])]; ok {
			return out, nil
		}
	}
	return nil, fmt.Errorf("fake: no answer for call")
}

func TestCalculateBuyAmount(t *testing.T) {
	caller := newFakeCaller()
	caller.answer(t, "calculateBuyAmount", big.NewInt(123456))

	r := NewReader(caller)
	out, err := r.CalculateBuyAmount(context.Background(), testToken, big.NewInt(1e18))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(123456), out)

	require.Len(t, caller.calls, 1)
	assert.Equal(t, TokenManager, *caller.calls[0].To)
}

func TestTokenPrice(t *testing.T) {
	caller := newFakeCaller()
	// 0.0005 BNB per token in wei.
	caller.answer(t, "getTokenPrice", big.NewInt(5e14))

	r := NewReader(caller)
	price, err := r.TokenPrice(context.Background(), testToken)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromFloat(0.0005)), "got %s", price)
}

func TestTokenInfoMergesERC20Fields(t *testing.T) {
	caller := newFakeCaller()
	caller.answer(t, "tokens",
		testWallet,            // creator
		big.NewInt(1e18),      // totalSupply
		big.NewInt(5e17),      // reserveBNB
		big.NewInt(8e17),      // reserveToken
		big.NewInt(1_700_000_000),
		false,
	)
	caller.answer(t, "name", "Pepe Classic")
	caller.answer(t, "symbol", "PEPEC")
	caller.answer(t, "decimals", uint8(18))

	r := NewReader(caller)
	info, err := r.TokenInfo(context.Background(), testToken)
	require.NoError(t, err)
	assert.Equal(t, testWallet, info.Creator)
	assert.Equal(t, "Pepe Classic", info.Name)
	assert.Equal(t, "PEPEC", info.Symbol)
	assert.Equal(t, uint8(18), info.Decimals)
	assert.False(t, info.Migrated)
}

func TestPackBuyTokenSelector(t *testing.T) {
	data, err := PackBuyToken(testToken, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, managerABI.Methods["buyToken"].ID, data[:4])

	data, err = PackSellToken(testToken, big.NewInt(2), big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, managerABI.Methods["sellToken"].ID, data[:4])

	data, err = PackApprove(TokenManager, big.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, tokenABI.Methods["approve"].ID, data[:4])
}

func TestWeiDecimalConversion(t *testing.T) {
	half := big.NewInt(5e17)
	assert.True(t, WeiToDecimal(half).Equal(decimal.NewFromFloat(0.5)))
	assert.Equal(t, half, DecimalToWei(decimal.NewFromFloat(0.5)))
	assert.True(t, WeiToDecimal(nil).IsZero())
}

func TestImpliedPrice(t *testing.T) {
	oneBNB := big.NewInt(1e18)
	thousandTokens := new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18))

	price := ImpliedPrice(oneBNB, thousandTokens)
	assert.True(t, price.Equal(decimal.NewFromFloat(0.001)), "got %s", price)

	assert.True(t, ImpliedPrice(oneBNB, big.NewInt(0)).IsZero())
	assert.True(t, ImpliedPrice(nil, thousandTokens).IsZero())
}
