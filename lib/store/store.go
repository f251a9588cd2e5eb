// Package store defines the interface for document store implementations used by the listeners and reconcilers.
package store

import (
	"context"
	"errors"
)

// Accounts reads users and groups and applies the balance changes driven by chain events.
type Accounts interface {
	FindUserByWallet(ctx context.Context, wallet string) (UserAccount, error)
	FindUserByEmail(ctx context.Context, email string) (UserAccount, error)
	// LatestGroupBySender returns the most recently created group of the sender.
	LatestGroupBySender(ctx context.Context, senderID string) (GroupOfUser, error)
	FindGroup(ctx context.Context, senderID, groupID string) (GroupOfUser, error)
	// LinkEscrow sets the escrow id of the group with the given document id. It returns ErrConflict when the group
	// is already linked to another escrow.
	LinkEscrow(ctx context.Context, id, escrowID string) error
	// ApplyCredit atomically increments the user and the group receiver balances, each at most once per key.
	ApplyCredit(ctx context.Context, c Credit) (CreditResult, error)
}

// Histories persists the insert-only history records. Inserts return ErrDuplicate for a known id.
type Histories interface {
	InsertTransactionHistory(ctx context.Context, h TransactionHistory) error
	GetTransactionHistory(ctx context.Context, txID string) (TransactionHistory, error)
	EachTransactionHistory(ctx context.Context, fn func(TransactionHistory) error) error
	InsertWithdrawHistory(ctx context.Context, h WithdrawHistory) error
	GetWithdrawHistory(ctx context.Context, withdrawID string) (WithdrawHistory, error)
}

// Intake is the durable log of received contract events and the listener cursors.
type Intake interface {
	// AddEvent stores the event with StatusPending unless its key is known, reporting whether it was added.
	AddEvent(ctx context.Context, e IntakeEvent) (bool, error)
	GetEvent(ctx context.Context, key string) (IntakeEvent, error)
	// SetEventStatus records the result of one processing attempt.
	SetEventStatus(ctx context.Context, key, status, errMsg string) error
	// RemoveEvent marks the event as removed from chain and drops it.
	RemoveEvent(ctx context.Context, key, errMsg string) error
	// RestoreEvent makes a removed event pending again at the block of e, reporting whether it was removed.
	RestoreEvent(ctx context.Context, e IntakeEvent) (bool, error)
	ListEvents(ctx context.Context, f EventFilter) ([]IntakeEvent, error)
	LoadCursor(ctx context.Context, listener string) (Cursor, error)
	SaveCursor(ctx context.Context, c Cursor) error
	ListCursors(ctx context.Context) ([]Cursor, error)
}

// DB defines all the required methods of a store.
type DB interface {
	Accounts
	Histories
	Intake
}

// Errors returned
var (
	ErrNotFound     = errors.New("document was not found in store")
	ErrDuplicate    = errors.New("document already exists in store")
	ErrConflict     = errors.New("document is linked to a different value")
	ErrDataNotFound = errors.New("data was not found in store")
)
