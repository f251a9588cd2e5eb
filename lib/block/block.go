// Package block defines the interface required for the blockchain connection of the listeners.
package block

import (
	"context"
	"fmt"

	"github.com/tarancss/movo/lib/block/ethereum"
	"github.com/tarancss/movo/lib/block/types"
	"github.com/tarancss/movo/lib/config"
)

// Chain is the connection to a node plus the reads the reconcilers need. All reads honour the context deadline and
// report types.ErrChainUnavailable when the node cannot be reached.
type Chain interface {
	// member-type methods
	Name() string
	MaxBlocks() int // number of recent block hashes kept for reorg detection
	AvgBlock() int  // average block mining rate in seconds
	// methods
	Close()
	HeadBlock(ctx context.Context) (uint64, error)
	GetBlock(ctx context.Context, number uint64) (types.Block, error)
	GetTx(ctx context.Context, hash string) (types.Trans, error)
	GetReceipt(ctx context.Context, hash string) (types.Receipt, error)
	FilterLogs(ctx context.Context, q types.LogQuery) ([]types.Log, error)
	SubscribeLogs(ctx context.Context, q types.LogQuery, ch chan<- types.Log) (types.Subscription, error)
}

// Init connects to the blockchain described in the config.
func Init(ctx context.Context, bc config.BlockConfig) (Chain, error) {
	if bc.Node == "" {
		return nil, fmt.Errorf("%w: blockchain node url", config.ErrConfigurationMissing)
	}

	c, err := ethereum.Init(ctx, bc.Name, bc.Node, bc.Secret, bc.MaxBlocks)
	if err != nil {
		return nil, err
	}

	return c, nil
}
