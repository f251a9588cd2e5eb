// Package msg defines the interface for different message brokers.
package msg

import (
	"go.uber.org/zap"

	"github.com/tarancss/movo/lib/msg/types"
)

// Broker types.
const (
	AMQP = "amqp"
	NONE = ""
)

// MsgBroker publishes notifications about reconciled events.
type MsgBroker interface {
	Setup() error
	Publish(n types.Notification) error
	Close() error
}

// Nop is a MsgBroker that only logs notifications. It is used when no broker is configured.
type Nop struct{}

// Setup does nothing.
func (Nop) Setup() error { return nil }

// Publish logs the notification at debug level.
func (Nop) Publish(n types.Notification) error {
	zap.L().Debug("notification", zap.String("routingKey", n.RoutingKey()), zap.String("id", n.ID))

	return nil
}

// Close does nothing.
func (Nop) Close() error { return nil }
