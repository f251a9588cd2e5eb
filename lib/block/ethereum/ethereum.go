// Implements interface for ethereum networks
package ethereum

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	eth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/tarancss/ethcli"
	"go.uber.org/zap"

	"github.com/tarancss/movo/lib/block/types"
)

// Ethereum implements a connection to an ethereum-type chain (Lisk, Base, Sepolia...). Blocks are read with ethcli
// when the node speaks http(s); transactions, receipts and logs go through the go-ethereum client, which also
// provides subscriptions over websockets.
type Ethereum struct {
	name string
	c    *ethcli.EthCli
	rc   *rpc.Client
	ec   *ethclient.Client
	mb   int
}

// Transaction status constants
const (
	TrxPending uint8 = 0
	TrxFailed  uint8 = 1
	TrxSuccess uint8 = 2
)

// basicAuth adds the node secret to every http request.
type basicAuth struct {
	secret string
	next   http.RoundTripper
}

func (b basicAuth) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(b.secret)))

	return b.next.RoundTrip(r)
}

func isHTTP(node string) bool {
	return strings.HasPrefix(node, "http://") || strings.HasPrefix(node, "https://")
}

// Init returns a connection to an ethereum node, using secret if necessary for authentication. maxBlocks is
// required to indicate how many blocks will be taken into account for reorg detection.
func Init(ctx context.Context, name, node, secret string, maxBlocks int) (*Ethereum, error) {
	var (
		rc  *rpc.Client
		err error
	)

	if isHTTP(node) && secret != "" {
		rc, err = rpc.DialHTTPWithClient(node, &http.Client{Transport: basicAuth{secret: secret, next: http.DefaultTransport}})
	} else {
		rc, err = rpc.DialContext(ctx, node)
	}

	if err != nil {
		return nil, fmt.Errorf("cannot connect to ethereum blockchain in %s: %w", node, err)
	}

	e := &Ethereum{name: name, rc: rc, ec: ethclient.NewClient(rc), mb: maxBlocks}

	if isHTTP(node) {
		if e.c = ethcli.Init(node, secret); e.c == nil {
			zap.L().Warn("ethcli not available, reading blocks through ethclient", zap.String("node", node))
		}
	}

	return e, nil
}

// Name returns the configured network name.
func (e *Ethereum) Name() string {
	return e.name
}

// MaxBlocks returns how many blocks will be taken into account for reorg detection.
func (e *Ethereum) MaxBlocks() int {
	return e.mb
}

// AvgBlock returns the average time to mine a block in seconds.
func (e *Ethereum) AvgBlock() int {
	return 2 // L2 block time; we could put this in the config file...
}

// Close ends a connection
func (e *Ethereum) Close() {
	if e.c != nil {
		e.c.End()
	}

	e.rc.Close()
}

// unavailable wraps node errors so callers can classify them.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", types.ErrChainUnavailable, op, err)
}

// HeadBlock returns the latest block number.
func (e *Ethereum) HeadBlock(ctx context.Context) (uint64, error) {
	n, err := e.ec.BlockNumber(ctx)
	if err != nil {
		return 0, unavailable("blockNumber", err)
	}

	return n, nil
}

// GetBlock returns the block header fields for the given number.
func (e *Ethereum) GetBlock(ctx context.Context, number uint64) (types.Block, error) {
	if e.c == nil {
		return e.headerBlock(ctx, number)
	}

	type result struct {
		m   map[string]interface{}
		err error
	}

	// ethcli has no context support, so the call is raced against the deadline
	ch := make(chan result, 1)

	go func() {
		var m map[string]interface{}
		err := e.c.GetBlockByNumber(number, false, &m)
		ch <- result{m: m, err: err}
	}()

	select {
	case <-ctx.Done():
		return types.Block{}, unavailable("getBlockByNumber", ctx.Err())
	case r := <-ch:
		if errors.Is(r.err, ethcli.ErrNoBlock) {
			return types.Block{}, types.ErrNoBlock
		}

		if r.err != nil {
			return types.Block{}, unavailable("getBlockByNumber", r.err)
		}

		if r.m == nil {
			return types.Block{}, types.ErrNoBlock
		}

		return e.DecodeBlock(r.m)
	}
}

func (e *Ethereum) headerBlock(ctx context.Context, number uint64) (types.Block, error) {
	h, err := e.ec.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if errors.Is(err, eth.NotFound) {
		return types.Block{}, types.ErrNoBlock
	}

	if err != nil {
		return types.Block{}, unavailable("headerByNumber", err)
	}

	return types.Block{
		Hash:   h.Hash().Hex(),
		PHash:  h.ParentHash.Hex(),
		Number: hexutil.EncodeBig(h.Number),
		TS:     hexutil.EncodeUint64(h.Time),
	}, nil
}

// DecodeBlock returns a struct with the values from the block data. It is used after a call to GetBlockByNumber.
func (e *Ethereum) DecodeBlock(t interface{}) (b types.Block, err error) {
	m, ok := t.(map[string]interface{})
	if !ok {
		err = types.ErrBlockDecode

		return
	}

	if b.Hash, ok = m["hash"].(string); !ok {
		err = types.ErrNoHash

		return
	}

	if b.PHash, ok = m["parentHash"].(string); !ok {
		err = types.ErrNoParentHash

		return
	}

	if b.Number, ok = m["number"].(string); !ok {
		err = types.ErrNoBlockNumber

		return
	}

	if b.TS, ok = m["timestamp"].(string); !ok {
		err = types.ErrNoTS

		return
	}

	return
}

// GetTx returns the details of the transaction for the given hash.
func (e *Ethereum) GetTx(ctx context.Context, hash string) (types.Trans, error) {
	tx, _, err := e.ec.TransactionByHash(ctx, common.HexToHash(hash))
	if errors.Is(err, eth.NotFound) {
		return types.Trans{}, fmt.Errorf("%w: %s", types.ErrNoTrx, hash)
	}

	if err != nil {
		return types.Trans{}, unavailable("getTransactionByHash", err)
	}

	t := types.Trans{
		Hash:   tx.Hash().Hex(),
		Value:  tx.Value().String(),
		Data:   hexutil.Encode(tx.Data()),
		Gas:    fmt.Sprintf("%d", tx.Gas()),
		Price:  tx.GasPrice().String(),
		Status: TrxPending,
	}

	if to := tx.To(); to != nil {
		t.To = to.Hex()
	}

	var signer gtypes.Signer = gtypes.HomesteadSigner{}
	if tx.Protected() {
		signer = gtypes.LatestSignerForChainID(tx.ChainId())
	}

	if from, errS := gtypes.Sender(signer, tx); errS == nil {
		t.From = from.Hex()
	} else {
		zap.L().Debug("Cannot recover transaction sender", zap.String("hash", hash), zap.Error(errS))
	}

	return t, nil
}

// GetReceipt returns the receipt of the transaction for the given hash.
func (e *Ethereum) GetReceipt(ctx context.Context, hash string) (types.Receipt, error) {
	r, err := e.ec.TransactionReceipt(ctx, common.HexToHash(hash))
	if errors.Is(err, eth.NotFound) {
		return types.Receipt{}, fmt.Errorf("%w: %s", types.ErrNoReceipt, hash)
	}

	if err != nil {
		return types.Receipt{}, unavailable("getTransactionReceipt", err)
	}

	rec := types.Receipt{
		TxHash:    r.TxHash.Hex(),
		BlockHash: r.BlockHash.Hex(),
		GasUsed:   r.GasUsed,
		Status:    r.Status,
	}

	if r.BlockNumber != nil {
		rec.BlockNumber = r.BlockNumber.Uint64()
	}

	return rec, nil
}

func filterQuery(q types.LogQuery) eth.FilterQuery {
	topics := make([]common.Hash, 0, len(q.Topics))
	for _, t := range q.Topics {
		topics = append(topics, common.HexToHash(t))
	}

	fq := eth.FilterQuery{
		Addresses: []common.Address{common.HexToAddress(q.Contract)},
		FromBlock: new(big.Int).SetUint64(q.From),
		ToBlock:   q.To,
	}

	if len(topics) > 0 {
		fq.Topics = [][]common.Hash{topics}
	}

	return fq
}

func fromGethLog(l gtypes.Log) types.Log {
	topics := make([]string, len(l.Topics))
	for i, t := range l.Topics {
		topics[i] = t.Hex()
	}

	return types.Log{
		Address:     l.Address.Hex(),
		Topics:      topics,
		Data:        l.Data,
		BlockNumber: l.BlockNumber,
		BlockHash:   l.BlockHash.Hex(),
		TxHash:      l.TxHash.Hex(),
		TxIndex:     l.TxIndex,
		LogIndex:    l.Index,
		Removed:     l.Removed,
	}
}

// FilterLogs returns the contract logs matching the query.
func (e *Ethereum) FilterLogs(ctx context.Context, q types.LogQuery) ([]types.Log, error) {
	logs, err := e.ec.FilterLogs(ctx, filterQuery(q))
	if err != nil {
		return nil, unavailable("getLogs", err)
	}

	res := make([]types.Log, 0, len(logs))
	for _, l := range logs {
		res = append(res, fromGethLog(l))
	}

	return res, nil
}

// SubscribeLogs pushes new contract logs matching the query to ch until the subscription fails or is unsubscribed.
// It returns types.ErrNoNotifications when the node (ie. plain http) cannot push logs.
func (e *Ethereum) SubscribeLogs(ctx context.Context, q types.LogQuery, ch chan<- types.Log) (types.Subscription, error) {
	in := make(chan gtypes.Log, 64)

	sub, err := e.ec.SubscribeFilterLogs(ctx, filterQuery(q), in)
	if errors.Is(err, rpc.ErrNotificationsUnsupported) {
		return nil, types.ErrNoNotifications
	}

	if err != nil {
		return nil, unavailable("subscribe logs", err)
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()

		for {
			select {
			case l := <-in:
				select {
				case ch <- fromGethLog(l):
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}
