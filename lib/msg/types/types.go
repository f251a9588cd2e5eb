// Package types defines the notifications published to message brokers.
package types

import (
	"time"

	"github.com/google/uuid"
)

// Exchange is the topic exchange notifications are published to.
const Exchange = "movo"

// Kinds of notification.
const (
	PayrollApproved  = "payroll.approved"
	WithdrawApproved = "withdraw.approved"
	EscrowLinked     = "escrow.linked"
)

// Notification announces a reconciled chain event. Key is the business id of the event (txId, withdrawId or
// escrowId) and Payload the document recorded for it.
type Notification struct {
	ID      string      `json:"id"`
	Kind    string      `json:"kind"`
	Key     string      `json:"key"`
	TxHash  string      `json:"txHash,omitempty"`
	Time    time.Time   `json:"time"`
	Payload interface{} `json:"payload,omitempty"`
}

// New returns a notification with a fresh id.
func New(kind, key, txHash string, payload interface{}) Notification {
	return Notification{
		ID:      uuid.NewString(),
		Kind:    kind,
		Key:     key,
		TxHash:  txHash,
		Time:    time.Now().UTC(),
		Payload: payload,
	}
}

// RoutingKey returns the topic the notification is published under, ie "payroll.approved.<txId>".
func (n Notification) RoutingKey() string {
	return n.Kind + "." + n.Key
}
