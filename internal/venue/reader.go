package venue

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ContractCaller is the minimal read surface the Reader needs.
// Satisfied by chain.Client.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// TokenInfo is the venue's per-token metadata plus ERC-20 identity.
type TokenInfo struct {
	Address     common.Address `json:"address"`
	Name        string         `json:"name"`
	Symbol      string         `json:"symbol"`
	Decimals    uint8          `json:"decimals"`
	TotalSupply *big.Int       `json:"total_supply"`
	Creator     common.Address `json:"creator"`
	CreatedAt   time.Time      `json:"created_at"`
	ReserveBNB  *big.Int       `json:"reserve_bnb"`
	ReserveTok  *big.Int       `json:"reserve_token"`
	Migrated    bool           `json:"migrated"`
}

// Reader exposes the venue's read-only call surface with typed results.
type Reader struct {
	caller ContractCaller
}

// NewReader creates a venue reader on top of a contract caller.
func NewReader(caller ContractCaller) *Reader {
	return &Reader{caller: caller}
}

func (r *Reader) callManager(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := managerABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("venue: pack %s: %w", method, err)
	}
	to := TokenManager
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("venue: call %s: %w", method, err)
	}
	vals, err := managerABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("venue: unpack %s: %w", method, err)
	}
	return vals, nil
}

func (r *Reader) callToken(ctx context.Context, token common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := tokenABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("venue: pack %s: %w", method, err)
	}
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("venue: call %s.%s: %w", token.Hex(), method, err)
	}
	vals, err := tokenABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("venue: unpack %s: %w", method, err)
	}
	return vals, nil
}

// CalculateBuyAmount quotes the token output for a BNB input.
func (r *Reader) CalculateBuyAmount(ctx context.Context, token common.Address, amountIn *big.Int) (*big.Int, error) {
	vals, err := r.callManager(ctx, "calculateBuyAmount", token, amountIn)
	if err != nil {
		return nil, err
	}
	return vals[0].(*big.Int), nil
}

// CalculateSellAmount quotes the BNB output for a token input.
func (r *Reader) CalculateSellAmount(ctx context.Context, token common.Address, amountIn *big.Int) (*big.Int, error) {
	vals, err := r.callManager(ctx, "calculateSellAmount", token, amountIn)
	if err != nil {
		return nil, err
	}
	return vals[0].(*big.Int), nil
}

// TokenPrice returns the current curve price in BNB per token.
func (r *Reader) TokenPrice(ctx context.Context, token common.Address) (decimal.Decimal, error) {
	vals, err := r.callManager(ctx, "getTokenPrice", token)
	if err != nil {
		return decimal.Zero, err
	}
	raw := vals[0].(*big.Int)
	return WeiToDecimal(raw), nil
}

// TokenInfo fetches venue metadata plus the ERC-20 name/symbol/decimals.
func (r *Reader) TokenInfo(ctx context.Context, token common.Address) (*TokenInfo, error) {
	vals, err := r.callManager(ctx, "tokens", token)
	if err != nil {
		return nil, err
	}

	info := &TokenInfo{
		Address:     token,
		Creator:     vals[0].(common.Address),
		TotalSupply: vals[1].(*big.Int),
		ReserveBNB:  vals[2].(*big.Int),
		ReserveTok:  vals[3].(*big.Int),
		Migrated:    vals[5].(bool),
		Decimals:    BaseDecimals,
	}
	if created, ok := vals[4].(*big.Int); ok && created.IsInt64() {
		info.CreatedAt = time.Unix(created.Int64(), 0).UTC()
	}

	// ERC-20 identity is best-effort; the curve entry is authoritative.
	if nameVals, err := r.callToken(ctx, token, "name"); err == nil {
		info.Name = nameVals[0].(string)
	}
	if symVals, err := r.callToken(ctx, token, "symbol"); err == nil {
		info.Symbol = symVals[0].(string)
	}
	if decVals, err := r.callToken(ctx, token, "decimals"); err == nil {
		info.Decimals = decVals[0].(uint8)
	}

	return info, nil
}

// BalanceOf returns the ERC-20 balance of owner.
func (r *Reader) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	vals, err := r.callToken(ctx, token, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return vals[0].(*big.Int), nil
}

// Allowance returns the ERC-20 allowance granted by owner to spender.
func (r *Reader) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	vals, err := r.callToken(ctx, token, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return vals[0].(*big.Int), nil
}

// PackBuyToken encodes the buyToken calldata.
func PackBuyToken(token common.Address, minAmountOut *big.Int) ([]byte, error) {
	return managerABI.Pack("buyToken", token, minAmountOut)
}

// PackSellToken encodes the sellToken calldata.
func PackSellToken(token common.Address, amountIn, minAmountOut *big.Int) ([]byte, error) {
	return managerABI.Pack("sellToken", token, amountIn, minAmountOut)
}

// PackApprove encodes the ERC-20 approve calldata.
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return tokenABI.Pack("approve", spender, amount)
}

var weiUnit = decimal.New(1, BaseDecimals)

// WeiToDecimal converts an 18-decimal wei amount to a decimal value.
func WeiToDecimal(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, 0).Div(weiUnit)
}

// DecimalToWei converts a decimal value to an 18-decimal wei amount,
// truncating sub-wei precision.
func DecimalToWei(d decimal.Decimal) *big.Int {
	return d.Mul(weiUnit).Truncate(0).BigInt()
}

// ImpliedPrice derives a trade's implied price (base per token) from the
// base-currency and token legs. Returns zero when either leg is empty.
func ImpliedPrice(baseWei, tokenWei *big.Int) decimal.Decimal {
	if baseWei == nil || tokenWei == nil || tokenWei.Sign() == 0 {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(baseWei, 0).Div(decimal.NewFromBigInt(tokenWei, 0))
}
