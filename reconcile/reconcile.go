// Package reconcile turns decoded contract events into document store state.
//
// The sender side links escrows to groups and records approved payrolls, crediting each receiver in the user
// account and in the group. The receiver side records approved withdrawals. Every write is idempotent: histories
// are keyed by their business id and each credit is applied at most once per document, so an event may be
// handled any number of times.
package reconcile

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tarancss/movo/lib/block/types"
	"github.com/tarancss/movo/lib/event"
	"github.com/tarancss/movo/lib/metrics"
	"github.com/tarancss/movo/lib/msg"
	mtype "github.com/tarancss/movo/lib/msg/types"
	"github.com/tarancss/movo/lib/store"
)

// ErrInvalidWithdraw is returned for a withdraw whose choice and origin currency cannot be recorded.
var ErrInvalidWithdraw = errors.New("invalid withdraw")

// Stablecoins are the origin currencies accepted for a fiat withdraw.
var Stablecoins = []string{"USDC", "USDT"}

// DefaultTimeout bounds the chain reads of one event when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// EventContext carries the chain metadata of the event being handled.
type EventContext struct {
	Listener    string
	Key         string
	TxHash      string
	BlockNumber uint64
	BlockHash   string
	LogIndex    uint
}

// NewEventContext returns the context of log l received by the named listener.
func NewEventContext(listener string, l types.Log) EventContext {
	return EventContext{
		Listener:    listener,
		Key:         event.Key(l),
		TxHash:      l.TxHash,
		BlockNumber: l.BlockNumber,
		BlockHash:   l.BlockHash,
		LogIndex:    l.LogIndex,
	}
}

// Fields returns the log fields identifying the event.
func (ec EventContext) Fields(name string) []zap.Field {
	return []zap.Field{zap.String("listener", ec.Listener), zap.String("event", name), zap.String("key", ec.Key)}
}

// Handler reconciles one decoded event.
type Handler interface {
	Handle(ctx context.Context, ec EventContext, e event.Event) error
}

// Chain is the part of the chain connector read while reconciling.
type Chain interface {
	GetTx(ctx context.Context, hash string) (types.Trans, error)
	GetBlock(ctx context.Context, number uint64) (types.Block, error)
	GetReceipt(ctx context.Context, hash string) (types.Receipt, error)
}

// Store is the part of the document store written while reconciling.
type Store interface {
	store.Accounts
	store.Histories
}

func publish(mb msg.MsgBroker, n mtype.Notification, fields []zap.Field) {
	if mb == nil {
		return
	}

	if err := mb.Publish(n); err != nil {
		zap.L().Warn("Cannot publish notification",
			append(fields, zap.String("routingKey", n.RoutingKey()), zap.Error(err))...)
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func lookupMiss(kind string) {
	metrics.LookupMiss.WithLabelValues(kind).Inc()
}
