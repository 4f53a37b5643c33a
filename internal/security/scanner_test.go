package security

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memebot-trading/memebot/internal/venue"
)

var testToken = common.HexToAddress("0x1111111111111111111111111111111111111111")

type fakeVenue struct {
	sellQuote  *big.Int
	sellErr    error
	info       *venue.TokenInfo
	creatorBal *big.Int
}

func (f *fakeVenue) CalculateSellAmount(ctx context.Context, token common.Address, amountIn *big.Int) (*big.Int, error) {
	return f.sellQuote, f.sellErr
}

func (f *fakeVenue) TokenInfo(ctx context.Context, token common.Address) (*venue.TokenInfo, error) {
	return f.info, nil
}

func (f *fakeVenue) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return f.creatorBal, nil
}

type fakeCode struct {
	code []byte
	err  error
}

func (f *fakeCode) CodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return f.code, f.err
}

func healthyVenue() *fakeVenue {
	return &fakeVenue{
		sellQuote: big.NewInt(4e17),
		info: &venue.TokenInfo{
			Address:     testToken,
			TotalSupply: new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1e18)),
			ReserveBNB:  big.NewInt(2e18),
		},
		creatorBal: new(big.Int).Mul(big.NewInt(50_000), big.NewInt(1e18)),
	}
}

func TestAnalyzeHealthyTokenIsSafe(t *testing.T) {
	s := NewCurveScanner(healthyVenue(), &fakeCode{code: []byte{0x60, 0x80}}, DefaultConfig())

	a, err := s.Analyze(context.Background(), testToken)
	require.NoError(t, err)
	assert.True(t, a.Safe)
	assert.Empty(t, a.Reasons)
	assert.False(t, a.Honeypot)
}

func TestAnalyzeFlagsZeroSellQuote(t *testing.T) {
	v := healthyVenue()
	v.sellQuote = big.NewInt(0)
	s := NewCurveScanner(v, &fakeCode{code: []byte{0x60}}, DefaultConfig())

	a, err := s.Analyze(context.Background(), testToken)
	require.NoError(t, err)
	assert.False(t, a.Safe)
	assert.True(t, a.Honeypot)
}

func TestAnalyzeFlagsSuspiciousBytecode(t *testing.T) {
	code := append([]byte{0x60, 0x80}, 0xf9, 0xf9, 0x2b, 0xe4)
	s := NewCurveScanner(healthyVenue(), &fakeCode{code: code}, DefaultConfig())

	a, err := s.Analyze(context.Background(), testToken)
	require.NoError(t, err)
	assert.False(t, a.Safe)
	assert.True(t, a.SuspiciousBytecode)
}

func TestAnalyzeFlagsThinReserve(t *testing.T) {
	v := healthyVenue()
	v.info.ReserveBNB = big.NewInt(1e17)
	s := NewCurveScanner(v, &fakeCode{code: []byte{0x60}}, DefaultConfig())

	a, err := s.Analyze(context.Background(), testToken)
	require.NoError(t, err)
	assert.False(t, a.Safe)
	require.NotEmpty(t, a.Reasons)
	assert.Contains(t, a.Reasons[0], "below floor")
}

func TestAnalyzeFlagsCreatorConcentration(t *testing.T) {
	v := healthyVenue()
	// Creator holds 40% of supply.
	v.creatorBal = new(big.Int).Mul(big.NewInt(400_000), big.NewInt(1e18))
	s := NewCurveScanner(v, &fakeCode{code: []byte{0x60}}, DefaultConfig())

	a, err := s.Analyze(context.Background(), testToken)
	require.NoError(t, err)
	assert.False(t, a.Safe)
	assert.True(t, a.CreatorHoldPct.Equal(decimal.NewFromInt(40)), "got %s", a.CreatorHoldPct)
}

func TestQuickCheck(t *testing.T) {
	s := NewCurveScanner(healthyVenue(), &fakeCode{code: []byte{0x60}}, DefaultConfig())
	ok, reason := s.QuickCheck(context.Background(), testToken)
	assert.True(t, ok, reason)

	s = NewCurveScanner(healthyVenue(), &fakeCode{}, DefaultConfig())
	ok, reason = s.QuickCheck(context.Background(), testToken)
	assert.False(t, ok)
	assert.Contains(t, reason, "no contract code")

	v := healthyVenue()
	v.sellErr = fmt.Errorf("execution reverted")
	s = NewCurveScanner(v, &fakeCode{code: []byte{0x60}}, DefaultConfig())
	ok, _ = s.QuickCheck(context.Background(), testToken)
	assert.False(t, ok)
}

func TestNoopScannerAlwaysPasses(t *testing.T) {
	var s Scanner = NoopScanner{}
	ok, _ := s.QuickCheck(context.Background(), testToken)
	assert.True(t, ok)

	a, err := s.Analyze(context.Background(), testToken)
	require.NoError(t, err)
	assert.True(t, a.Safe)
}
