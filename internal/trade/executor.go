package trade

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/memebot-trading/memebot/internal/observability"
	"github.com/memebot-trading/memebot/internal/venue"
)

// ---------------------------------------------------------------------------
// Trade Execution
// Quote, derive minimum output from slippage, price gas with a buffer, take
// the next serialized nonce, submit, await the receipt. Any failure after
// submission resets the nonce counter so the next trade re-seeds from chain.
// ---------------------------------------------------------------------------

// Result is the outcome of one execution attempt. It is consumed immediately
// by the caller and never persisted.
type Result struct {
	Success bool           `json:"success"`
	Side    string         `json:"side"`
	Token   common.Address `json:"token"`
	TxHash  common.Hash    `json:"tx_hash"`
	// AmountIn is BNB wei for buys, token wei for sells. AmountOut is the
	// realized opposite leg.
	AmountIn  *big.Int `json:"amount_in"`
	AmountOut *big.Int `json:"amount_out"`
	GasUsed   uint64   `json:"gas_used"`
	// QuoteFallbackUsed marks AmountOut as the pre-trade quote rather than
	// the realized amount from the venue's receipt log.
	QuoteFallbackUsed bool   `json:"quote_fallback_used"`
	Reason            string `json:"reason,omitempty"`
}

// Backend is the slice of the chain client the executor needs.
type Backend interface {
	GasPrice(ctx context.Context) (*big.Int, error)
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Quoter is the venue read surface the executor quotes against.
// Satisfied by venue.Reader.
type Quoter interface {
	CalculateBuyAmount(ctx context.Context, token common.Address, amountIn *big.Int) (*big.Int, error)
	CalculateSellAmount(ctx context.Context, token common.Address, amountIn *big.Int) (*big.Int, error)
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}

// Signer signs outbound transactions for one account.
// Satisfied by wallet.Wallet.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// NonceSource serializes nonce assignment.
// Satisfied by wallet.NonceManager.
type NonceSource interface {
	Next(ctx context.Context) (uint64, error)
	Reset()
}

// Config configures execution.
type Config struct {
	SlippagePercent    float64       `yaml:"slippage_percent"`
	MaxSlippagePercent float64       `yaml:"max_slippage_percent"`
	SlippageStep       float64       `yaml:"slippage_step"`
	GasMultiplier      float64       `yaml:"gas_multiplier"`
	GasLimit           uint64        `yaml:"gas_limit"`
	ReceiptTimeout     time.Duration `yaml:"receipt_timeout"`
	ReceiptPoll        time.Duration `yaml:"receipt_poll"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
}

// DefaultConfig returns conservative execution defaults.
func DefaultConfig() Config {
	return Config{
		SlippagePercent:    5,
		MaxSlippagePercent: 25,
		SlippageStep:       2,
		GasMultiplier:      1.2,
		GasLimit:           500_000,
		ReceiptTimeout:     60 * time.Second,
		ReceiptPoll:        venue.BlockTime,
		RetryDelay:         2 * time.Second,
	}
}

// Executor submits venue trades. Submission order is serialized so nonce
// assignment and send stay coupled.
type Executor struct {
	config  Config
	backend Backend
	quoter  Quoter
	signer  Signer
	nonces  NonceSource

	// submitMu covers nonce-take through send.
	submitMu sync.Mutex
}

// NewExecutor creates an executor.
func NewExecutor(backend Backend, quoter Quoter, signer Signer, nonces NonceSource, config Config) *Executor {
	if config.GasMultiplier <= 0 {
		config.GasMultiplier = 1.2
	}
	if config.GasLimit == 0 {
		config.GasLimit = 500_000
	}
	if config.ReceiptTimeout <= 0 {
		config.ReceiptTimeout = 60 * time.Second
	}
	if config.ReceiptPoll <= 0 {
		config.ReceiptPoll = venue.BlockTime
	}
	return &Executor{
		config:  config,
		backend: backend,
		quoter:  quoter,
		signer:  signer,
		nonces:  nonces,
	}
}

// Buy swaps baseAmount of BNB (wei) into the token.
func (e *Executor) Buy(ctx context.Context, token common.Address, baseAmount *big.Int, slippagePercent float64) (*Result, error) {
	if baseAmount == nil || baseAmount.Sign() <= 0 {
		return nil, fmt.Errorf("trade: invalid buy amount")
	}
	if err := validSlippage(slippagePercent); err != nil {
		return nil, err
	}

	result := &Result{Side: "buy", Token: token, AmountIn: baseAmount}

	quote, err := e.quoter.CalculateBuyAmount(ctx, token, baseAmount)
	if err != nil {
		return nil, fmt.Errorf("trade: buy quote: %w", err)
	}
	if quote.Sign() <= 0 {
		return e.failed(result, "zero-output quote"), nil
	}

	minOut := applySlippage(quote, slippagePercent)
	data, err := venue.PackBuyToken(token, minOut)
	if err != nil {
		return nil, fmt.Errorf("trade: pack buy: %w", err)
	}

	receipt, txHash, reason := e.submitAndAwait(ctx, venue.TokenManager, baseAmount, data)
	result.TxHash = txHash
	if reason != "" {
		return e.failed(result, reason), nil
	}

	result.Success = true
	result.GasUsed = receipt.GasUsed
	result.AmountOut, result.QuoteFallbackUsed = realizedOutput(receipt, venue.TopicTokenPurchase, token, quote)

	observability.TradesTotal.WithLabelValues("buy", "success").Inc()
	log.Info().Str("token", token.Hex()).Str("tx", txHash.Hex()).
		Str("in_bnb", venue.WeiToDecimal(baseAmount).String()).
		Str("out_tokens", venue.WeiToDecimal(result.AmountOut).String()).
		Bool("quote_fallback", result.QuoteFallbackUsed).
		Msg("trade: buy confirmed")
	return result, nil
}

// Sell swaps tokenAmount (token wei) back into BNB, approving the venue
// first when the standing allowance is short.
func (e *Executor) Sell(ctx context.Context, token common.Address, tokenAmount *big.Int, slippagePercent float64) (*Result, error) {
	if tokenAmount == nil || tokenAmount.Sign() <= 0 {
		return nil, fmt.Errorf("trade: invalid sell amount")
	}
	if err := validSlippage(slippagePercent); err != nil {
		return nil, err
	}

	result := &Result{Side: "sell", Token: token, AmountIn: tokenAmount}

	quote, err := e.quoter.CalculateSellAmount(ctx, token, tokenAmount)
	if err != nil {
		return nil, fmt.Errorf("trade: sell quote: %w", err)
	}
	if quote.Sign() <= 0 {
		return e.failed(result, "zero-output quote"), nil
	}

	if reason := e.ensureAllowance(ctx, token, tokenAmount); reason != "" {
		return e.failed(result, reason), nil
	}

	minOut := applySlippage(quote, slippagePercent)
	data, err := venue.PackSellToken(token, tokenAmount, minOut)
	if err != nil {
		return nil, fmt.Errorf("trade: pack sell: %w", err)
	}

	receipt, txHash, reason := e.submitAndAwait(ctx, venue.TokenManager, nil, data)
	result.TxHash = txHash
	if reason != "" {
		return e.failed(result, reason), nil
	}

	result.Success = true
	result.GasUsed = receipt.GasUsed
	result.AmountOut, result.QuoteFallbackUsed = realizedOutput(receipt, venue.TopicTokenSale, token, quote)

	observability.TradesTotal.WithLabelValues("sell", "success").Inc()
	log.Info().Str("token", token.Hex()).Str("tx", txHash.Hex()).
		Str("in_tokens", venue.WeiToDecimal(tokenAmount).String()).
		Str("out_bnb", venue.WeiToDecimal(result.AmountOut).String()).
		Bool("quote_fallback", result.QuoteFallbackUsed).
		Msg("trade: sell confirmed")
	return result, nil
}

// SellAll sells the account's full token balance.
func (e *Executor) SellAll(ctx context.Context, token common.Address, slippagePercent float64) (*Result, error) {
	balance, err := e.quoter.BalanceOf(ctx, token, e.signer.Address())
	if err != nil {
		return nil, fmt.Errorf("trade: balance: %w", err)
	}
	if balance.Sign() <= 0 {
		return nil, fmt.Errorf("trade: nothing to sell")
	}
	return e.Sell(ctx, token, balance, slippagePercent)
}

// SellTokens sells a decimal token amount at the default slippage. Used by
// the risk engines.
func (e *Executor) SellTokens(ctx context.Context, token common.Address, amount decimal.Decimal) (*Result, error) {
	return e.Sell(ctx, token, venue.DecimalToWei(amount), e.config.SlippagePercent)
}

// BuyWithRetry retries a buy on non-terminal failures, widening the slippage
// tolerance by a fixed step per attempt up to the configured cap, with a
// linearly growing delay between attempts.
func (e *Executor) BuyWithRetry(ctx context.Context, token common.Address, baseAmount *big.Int, slippagePercent float64, maxAttempts int) (*Result, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	slippage := slippagePercent
	var last *Result
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := e.Buy(ctx, token, baseAmount, slippage)
		if err != nil {
			return nil, err
		}
		if result.Success {
			return result, nil
		}
		last = result

		if isTerminal(result.Reason) {
			log.Warn().Str("token", token.Hex()).Str("reason", result.Reason).Msg("trade: terminal failure, not retrying")
			return result, nil
		}

		if attempt < maxAttempts {
			slippage += e.config.SlippageStep
			if e.config.MaxSlippagePercent > 0 && slippage > e.config.MaxSlippagePercent {
				slippage = e.config.MaxSlippagePercent
			}
			delay := e.config.RetryDelay * time.Duration(attempt)
			log.Warn().Str("token", token.Hex()).Str("reason", result.Reason).
				Float64("next_slippage", slippage).Dur("delay", delay).
				Int("attempt", attempt).Msg("trade: buy failed, retrying")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return last, ctx.Err()
			}
		}
	}
	return last, nil
}

// submitAndAwait runs the serialized nonce-take/sign/send and then waits for
// the receipt. A non-empty reason means failure; the nonce counter has
// already been reset.
func (e *Executor) submitAndAwait(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Receipt, common.Hash, string) {
	gasPrice, err := e.backend.GasPrice(ctx)
	if err != nil {
		return nil, common.Hash{}, fmt.Sprintf("gas price: %v", err)
	}
	gasPrice = bufferGas(gasPrice, e.config.GasMultiplier)

	e.submitMu.Lock()
	nonce, err := e.nonces.Next(ctx)
	if err != nil {
		e.submitMu.Unlock()
		return nil, common.Hash{}, fmt.Sprintf("nonce: %v", err)
	}

	if value == nil {
		value = big.NewInt(0)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      e.config.GasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := e.signer.SignTx(tx)
	if err != nil {
		e.submitMu.Unlock()
		return nil, common.Hash{}, fmt.Sprintf("sign: %v", err)
	}

	err = e.backend.SendTransaction(ctx, signed)
	e.submitMu.Unlock()
	if err != nil {
		e.nonces.Reset()
		return nil, signed.Hash(), fmt.Sprintf("submit: %v", err)
	}

	receipt, err := e.awaitReceipt(ctx, signed.Hash())
	if err != nil {
		e.nonces.Reset()
		return nil, signed.Hash(), fmt.Sprintf("receipt: %v", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		e.nonces.Reset()
		return nil, signed.Hash(), "transaction reverted"
	}
	return receipt, signed.Hash(), ""
}

// awaitReceipt polls until the receipt lands or the timeout elapses. The
// on-chain outcome is unknown after a timeout.
func (e *Executor) awaitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	deadline := time.After(e.config.ReceiptTimeout)
	ticker := time.NewTicker(e.config.ReceiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := e.backend.Receipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, fmt.Errorf("timeout after %s", e.config.ReceiptTimeout)
		case <-ticker.C:
		}
	}
}

// ensureAllowance approves the venue for the account's tokens when the
// standing allowance does not cover the sale.
func (e *Executor) ensureAllowance(ctx context.Context, token common.Address, amount *big.Int) string {
	allowance, err := e.quoter.Allowance(ctx, token, e.signer.Address(), venue.TokenManager)
	if err != nil {
		return fmt.Sprintf("allowance: %v", err)
	}
	if allowance.Cmp(amount) >= 0 {
		return ""
	}

	data, err := venue.PackApprove(venue.TokenManager, maxUint256())
	if err != nil {
		return fmt.Sprintf("pack approve: %v", err)
	}

	log.Info().Str("token", token.Hex()).Msg("trade: approving venue spender")
	if _, _, reason := e.submitAndAwait(ctx, token, nil, data); reason != "" {
		return "approve: " + reason
	}
	return ""
}

func (e *Executor) failed(result *Result, reason string) *Result {
	result.Success = false
	result.Reason = reason
	observability.TradesTotal.WithLabelValues(result.Side, "failure").Inc()
	log.Warn().Str("side", result.Side).Str("token", result.Token.Hex()).
		Str("reason", reason).Msg("trade: failed")
	return result
}

// isTerminal classifies failure reasons that retrying cannot fix.
func isTerminal(reason string) bool {
	lower := strings.ToLower(reason)
	return strings.Contains(lower, "insufficient") || strings.Contains(lower, "invalid")
}

func validSlippage(percent float64) error {
	if percent < 0 || percent >= 100 {
		return fmt.Errorf("trade: invalid slippage %.2f%%", percent)
	}
	return nil
}

// applySlippage derives the minimum acceptable output from a quote, in
// basis points to stay in integer math.
func applySlippage(quote *big.Int, percent float64) *big.Int {
	bps := big.NewInt(int64(10000 - percent*100))
	out := new(big.Int).Mul(quote, bps)
	return out.Div(out, big.NewInt(10000))
}

func bufferGas(price *big.Int, multiplier float64) *big.Int {
	scaled := new(big.Float).Mul(new(big.Float).SetInt(price), big.NewFloat(multiplier))
	out, _ := scaled.Int(nil)
	return out
}

// realizedOutput extracts the realized amount from the venue's trade log in
// the receipt, falling back to the pre-trade quote when no log matches.
func realizedOutput(receipt *types.Receipt, topic common.Hash, token common.Address, quote *big.Int) (*big.Int, bool) {
	want := common.BytesToHash(token.Bytes())
	for _, lg := range receipt.Logs {
		if lg == nil || len(lg.Topics) < 3 {
			continue
		}
		if lg.Topics[0] != topic || lg.Topics[2] != want {
			continue
		}
		event, err := venue.ParseLog(*lg)
		if err != nil {
			continue
		}
		switch e := event.(type) {
		case *venue.TokenPurchase:
			return e.AmountOut, false
		case *venue.TokenSale:
			return e.AmountOut, false
		}
	}
	return quote, true
}

func maxUint256() *big.Int {
	v := new(big.Int).Lsh(big.NewInt(1), 256)
	return v.Sub(v, big.NewInt(1))
}
