package venue

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EventKind identifies one of the four venue log types.
type EventKind string

const (
	KindCreated  EventKind = "token_created"
	KindBought   EventKind = "token_bought"
	KindSold     EventKind = "token_sold"
	KindMigrated EventKind = "token_migrated"
)

// Meta carries the log provenance shared by all venue events.
// (TxHash, LogIndex) is the dedup key within one run.
type Meta struct {
	TxHash      common.Hash `json:"tx_hash"`
	LogIndex    uint        `json:"log_index"`
	BlockNumber uint64      `json:"block_number"`
	Timestamp   time.Time   `json:"timestamp"`
}

// DedupKey returns the unique key for this log occurrence.
func (m Meta) DedupKey() string {
	return fmt.Sprintf("%s#%d", m.TxHash.Hex(), m.LogIndex)
}

// Event is one decoded venue log.
type Event interface {
	Kind() EventKind
	EventMeta() Meta
}

// TokenCreated is emitted when a new token launches on the curve.
type TokenCreated struct {
	Meta
	Token   common.Address `json:"token"`
	Creator common.Address `json:"creator"`
	Name    string         `json:"name"`
	Symbol  string         `json:"symbol"`
}

func (e TokenCreated) Kind() EventKind { return KindCreated }
func (e TokenCreated) EventMeta() Meta { return e.Meta }

// TokenPurchase is a buy against the curve. AmountIn is BNB (wei),
// AmountOut is tokens received.
type TokenPurchase struct {
	Meta
	Buyer     common.Address `json:"buyer"`
	Token     common.Address `json:"token"`
	AmountIn  *big.Int       `json:"amount_in"`
	AmountOut *big.Int       `json:"amount_out"`
}

func (e TokenPurchase) Kind() EventKind { return KindBought }
func (e TokenPurchase) EventMeta() Meta { return e.Meta }

// TokenSale is a sell against the curve. AmountIn is tokens sold,
// AmountOut is BNB (wei) received.
type TokenSale struct {
	Meta
	Seller    common.Address `json:"seller"`
	Token     common.Address `json:"token"`
	AmountIn  *big.Int       `json:"amount_in"`
	AmountOut *big.Int       `json:"amount_out"`
}

func (e TokenSale) Kind() EventKind { return KindSold }
func (e TokenSale) EventMeta() Meta { return e.Meta }

// TokenMigrated fires when a token graduates to the public DEX.
type TokenMigrated struct {
	Meta
	Token     common.Address `json:"token"`
	Pair      common.Address `json:"pair"`
	Liquidity *big.Int       `json:"liquidity"`
}

func (e TokenMigrated) Kind() EventKind { return KindMigrated }
func (e TokenMigrated) EventMeta() Meta { return e.Meta }

// ErrUnknownEvent is returned by ParseLog for logs that are not one of the
// four venue events.
var ErrUnknownEvent = fmt.Errorf("venue: unknown event topic")

// ParseLog decodes a raw contract log into a venue Event.
func ParseLog(lg types.Log) (Event, error) {
	if len(lg.Topics) == 0 {
		return nil, ErrUnknownEvent
	}

	meta := Meta{
		TxHash:      lg.TxHash,
		LogIndex:    lg.Index,
		BlockNumber: lg.BlockNumber,
	}

	switch lg.Topics[0] {
	case TopicTokenCreated:
		if len(lg.Topics) < 3 {
			return nil, fmt.Errorf("venue: TokenCreated: missing indexed topics")
		}
		vals, err := managerABI.Unpack("TokenCreated", lg.Data)
		if err != nil {
			return nil, fmt.Errorf("venue: unpack TokenCreated: %w", err)
		}
		ev := &TokenCreated{
			Meta:    meta,
			Token:   common.BytesToAddress(lg.Topics[1].Bytes()),
			Creator: common.BytesToAddress(lg.Topics[2].Bytes()),
			Name:    vals[0].(string),
			Symbol:  vals[1].(string),
		}
		ev.Timestamp = unixTime(vals[2])
		return ev, nil

	case TopicTokenPurchase:
		if len(lg.Topics) < 3 {
			return nil, fmt.Errorf("venue: TokenPurchase: missing indexed topics")
		}
		vals, err := managerABI.Unpack("TokenPurchase", lg.Data)
		if err != nil {
			return nil, fmt.Errorf("venue: unpack TokenPurchase: %w", err)
		}
		ev := &TokenPurchase{
			Meta:      meta,
			Buyer:     common.BytesToAddress(lg.Topics[1].Bytes()),
			Token:     common.BytesToAddress(lg.Topics[2].Bytes()),
			AmountIn:  vals[0].(*big.Int),
			AmountOut: vals[1].(*big.Int),
		}
		ev.Timestamp = unixTime(vals[2])
		return ev, nil

	case TopicTokenSale:
		if len(lg.Topics) < 3 {
			return nil, fmt.Errorf("venue: TokenSale: missing indexed topics")
		}
		vals, err := managerABI.Unpack("TokenSale", lg.Data)
		if err != nil {
			return nil, fmt.Errorf("venue: unpack TokenSale: %w", err)
		}
		ev := &TokenSale{
			Meta:      meta,
			Seller:    common.BytesToAddress(lg.Topics[1].Bytes()),
			Token:     common.BytesToAddress(lg.Topics[2].Bytes()),
			AmountIn:  vals[0].(*big.Int),
			AmountOut: vals[1].(*big.Int),
		}
		ev.Timestamp = unixTime(vals[2])
		return ev, nil

	case TopicTokenMigrated:
		if len(lg.Topics) < 3 {
			return nil, fmt.Errorf("venue: TokenMigrated: missing indexed topics")
		}
		vals, err := managerABI.Unpack("TokenMigrated", lg.Data)
		if err != nil {
			return nil, fmt.Errorf("venue: unpack TokenMigrated: %w", err)
		}
		ev := &TokenMigrated{
			Meta:      meta,
			Token:     common.BytesToAddress(lg.Topics[1].Bytes()),
			Pair:      common.BytesToAddress(lg.Topics[2].Bytes()),
			Liquidity: vals[0].(*big.Int),
		}
		ev.Timestamp = unixTime(vals[1])
		return ev, nil
	}

	return nil, ErrUnknownEvent
}

func unixTime(v interface{}) time.Time {
	ts, ok := v.(*big.Int)
	if !ok || !ts.IsInt64() {
		return time.Time{}
	}
	return time.Unix(ts.Int64(), 0).UTC()
}
