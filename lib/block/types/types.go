// Package types common blockchain types.
package types

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"
)

// Trans contains a simplified number of transaction fields.
type Trans struct {
	Block  string `json:"block"`
	Hash   string `json:"hash"`
	From   string `json:"from"`
	To     string `json:"to"`
	Value  string `json:"value"`
	Data   string `json:"data,omitempty"`
	Gas    string `json:"gas"`
	Price  string `json:"price"` // gas price in base units, decimal
	Status uint8  `json:"status"`
}

// Block contains a simplified list of block fields.
type Block struct {
	Hash   string `json:"hash"`
	PHash  string `json:"parentHash"`
	Number string `json:"number"`
	TS     string `json:"timestamp"`
}

// Num returns the block number.
func (b Block) Num() (uint64, error) {
	n, err := strconv.ParseUint(b.Number, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrNoBlockNumber, b.Number)
	}

	return n, nil
}

// Time returns the block timestamp.
func (b Block) Time() (time.Time, error) {
	ts, err := strconv.ParseUint(b.TS, 0, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrNoTS, b.TS)
	}

	return time.Unix(int64(ts), 0).UTC(), nil
}

// Receipt contains the receipt fields needed to reconcile an event.
type Receipt struct {
	TxHash      string `json:"transactionHash"`
	BlockHash   string `json:"blockHash"`
	BlockNumber uint64 `json:"blockNumber"`
	GasUsed     uint64 `json:"gasUsed"`
	Status      uint64 `json:"status"`
}

// Log is a contract event log as delivered by the chain.
type Log struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        []byte   `json:"data"`
	BlockNumber uint64   `json:"blockNumber"`
	BlockHash   string   `json:"blockHash"`
	TxHash      string   `json:"transactionHash"`
	TxIndex     uint     `json:"transactionIndex"`
	LogIndex    uint     `json:"logIndex"`
	Removed     bool     `json:"removed"`
}

// LogQuery filters contract logs. A nil To means up to the latest block. Topics holds the accepted topic0 values.
type LogQuery struct {
	Contract string
	Topics   []string
	From     uint64
	To       *big.Int
}

// Subscription is a live log subscription. Err delivers a value when the subscription fails and is closed when
// Unsubscribe is called.
type Subscription interface {
	Err() <-chan error
	Unsubscribe()
}

// Error codes.
var (
	ErrChainUnavailable = errors.New("chain node unavailable")
	ErrBlockDecode      = errors.New("unable to decode block data into Block type")
	ErrNoBlockNumber    = errors.New("block data does not contain a block number")
	ErrNoTS             = errors.New("block data does not contain a timestamp")
	ErrNoHash           = errors.New("block data does not contain a hash")
	ErrNoParentHash     = errors.New("block data does not contain a parenthash")
	ErrNoBlock          = errors.New("block not available yet")
	ErrNoTrx            = errors.New("transaction not found")
	ErrNoReceipt        = errors.New("transaction receipt not found")
	ErrNoNotifications  = errors.New("node does not support log subscriptions")
)
