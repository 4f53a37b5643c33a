package security

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/memebot-trading/memebot/internal/venue"
)

// ---------------------------------------------------------------------------
// Contract scanner
// Pre-trade safety gate: honeypot probing via the venue's own sell quote,
// bytecode marker scan, creator concentration and liquidity floor checks.
// ---------------------------------------------------------------------------

// Analysis is the result of a full token scan.
type Analysis struct {
	Token              common.Address  `json:"token"`
	Safe               bool            `json:"safe"`
	Honeypot           bool            `json:"honeypot"`
	SuspiciousBytecode bool            `json:"suspicious_bytecode"`
	CreatorHoldPct     decimal.Decimal `json:"creator_hold_pct"`
	ReserveBNB         decimal.Decimal `json:"reserve_bnb"`
	Reasons            []string        `json:"reasons,omitempty"`
	CheckedAt          time.Time       `json:"checked_at"`
}

// Scanner is the pre-trade safety gate.
type Scanner interface {
	// QuickCheck is the cheap pass/fail probe used on the hot discovery path.
	QuickCheck(ctx context.Context, token common.Address) (bool, string)
	// Analyze runs the full scan.
	Analyze(ctx context.Context, token common.Address) (*Analysis, error)
}

// NoopScanner passes everything. Used when scanning is disabled so callers
// never branch on the feature flag.
type NoopScanner struct{}

func (NoopScanner) QuickCheck(ctx context.Context, token common.Address) (bool, string) {
	return true, ""
}

func (NoopScanner) Analyze(ctx context.Context, token common.Address) (*Analysis, error) {
	return &Analysis{Token: token, Safe: true, CheckedAt: time.Now()}, nil
}

// Config configures the curve scanner.
type Config struct {
	Enabled           bool    `yaml:"enabled"`
	MinReserveBNB     float64 `yaml:"min_reserve_bnb"`
	MaxCreatorHoldPct float64 `yaml:"max_creator_hold_pct"`
	// ProbeSellTokens is the hypothetical token amount quoted to detect
	// sell-side honeypots.
	ProbeSellTokens float64 `yaml:"probe_sell_tokens"`
}

// DefaultConfig returns the standard gate thresholds.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		MinReserveBNB:     0.5,
		MaxCreatorHoldPct: 30,
		ProbeSellTokens:   1,
	}
}

// VenueSource is the venue read surface the scanner probes.
// Satisfied by venue.Reader.
type VenueSource interface {
	CalculateSellAmount(ctx context.Context, token common.Address, amountIn *big.Int) (*big.Int, error)
	TokenInfo(ctx context.Context, token common.Address) (*venue.TokenInfo, error)
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
}

// CodeSource fetches deployed bytecode. Satisfied by chain.Client.
type CodeSource interface {
	CodeAt(ctx context.Context, account common.Address) ([]byte, error)
}

// Function selectors whose presence in token bytecode marks owner powers
// that commonly precede a rug: blacklist, pause, mint, fee setter.
var suspiciousSelectors = [][]byte{
	{0xf9, 0xf9, 0x2b, 0xe4}, // blacklist(address)
	{0x84, 0x56, 0xcb, 0x59}, // pause()
	{0x40, 0xc1, 0x0f, 0x19}, // mint(address,uint256)
	{0x8c, 0x0b, 0x5e, 0x22}, // setTaxFeePercent(uint256)
}

// CurveScanner scans tokens against the curve and their bytecode.
type CurveScanner struct {
	config Config
	source VenueSource
	code   CodeSource
}

// NewCurveScanner creates a scanner.
func NewCurveScanner(source VenueSource, code CodeSource, config Config) *CurveScanner {
	return &CurveScanner{config: config, source: source, code: code}
}

// QuickCheck verifies the token has bytecode and a non-zero sell quote.
func (s *CurveScanner) QuickCheck(ctx context.Context, token common.Address) (bool, string) {
	bytecode, err := s.code.CodeAt(ctx, token)
	if err != nil {
		return false, fmt.Sprintf("code lookup failed: %v", err)
	}
	if len(bytecode) == 0 {
		return false, "no contract code at address"
	}

	if honeypot, reason := s.probeSell(ctx, token); honeypot {
		return false, reason
	}
	return true, ""
}

// Analyze runs every check and aggregates reasons.
func (s *CurveScanner) Analyze(ctx context.Context, token common.Address) (*Analysis, error) {
	a := &Analysis{Token: token, Safe: true, CheckedAt: time.Now()}

	bytecode, err := s.code.CodeAt(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("security: code: %w", err)
	}
	if len(bytecode) == 0 {
		a.Safe = false
		a.Reasons = append(a.Reasons, "no contract code at address")
		return a, nil
	}
	for _, sel := range suspiciousSelectors {
		if bytes.Contains(bytecode, sel) {
			a.SuspiciousBytecode = true
			a.Safe = false
			a.Reasons = append(a.Reasons, "bytecode exposes owner powers (blacklist/pause/mint/fee)")
			break
		}
	}

	if honeypot, reason := s.probeSell(ctx, token); honeypot {
		a.Honeypot = true
		a.Safe = false
		a.Reasons = append(a.Reasons, reason)
	}

	info, err := s.source.TokenInfo(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("security: token info: %w", err)
	}
	a.ReserveBNB = venue.WeiToDecimal(info.ReserveBNB)

	minReserve := decimal.NewFromFloat(s.config.MinReserveBNB)
	if minReserve.Sign() > 0 && a.ReserveBNB.LessThan(minReserve) {
		a.Safe = false
		a.Reasons = append(a.Reasons, fmt.Sprintf("reserve %s BNB below floor %s", a.ReserveBNB, minReserve))
	}

	if info.TotalSupply != nil && info.TotalSupply.Sign() > 0 {
		creatorBal, err := s.source.BalanceOf(ctx, token, info.Creator)
		if err == nil {
			a.CreatorHoldPct = decimal.NewFromBigInt(creatorBal, 0).
				Div(decimal.NewFromBigInt(info.TotalSupply, 0)).
				Mul(decimal.NewFromInt(100))
			maxHold := decimal.NewFromFloat(s.config.MaxCreatorHoldPct)
			if maxHold.Sign() > 0 && a.CreatorHoldPct.GreaterThan(maxHold) {
				a.Safe = false
				a.Reasons = append(a.Reasons, fmt.Sprintf("creator holds %s%% of supply", a.CreatorHoldPct.StringFixed(1)))
			}
		}
	}

	log.Debug().Str("token", token.Hex()).Bool("safe", a.Safe).
		Strs("reasons", a.Reasons).Msg("security: scan complete")
	return a, nil
}

// probeSell quotes a hypothetical sell; a zero or failing quote on a live
// curve token is the honeypot signature.
func (s *CurveScanner) probeSell(ctx context.Context, token common.Address) (bool, string) {
	probe := venue.DecimalToWei(decimal.NewFromFloat(s.config.ProbeSellTokens))
	if probe.Sign() <= 0 {
		probe = big.NewInt(1e18)
	}

	quote, err := s.source.CalculateSellAmount(ctx, token, probe)
	if err != nil {
		return true, fmt.Sprintf("sell quote failed: %v", err)
	}
	if quote.Sign() <= 0 {
		return true, "sell quote is zero (honeypot)"
	}
	return false, ""
}
