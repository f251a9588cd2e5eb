// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ)
package amqp

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	mtype "github.com/tarancss/movo/lib/msg/types"
)

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	conn     *amqp.Connection
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
}

// New instantiates a new amqp broker.
func New(uri string) (*Amqp, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to amqp broker: %w", err)
	}

	zap.L().Info("connected to amqp broker")

	return &Amqp{conn: conn, exchange: mtype.Exchange}, nil
}

// Setup declares the "movo" topic exchange the listeners publish notifications to.
func (r *Amqp) Setup() error {
	// obtain a one-use channel
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()

	return channel.ExchangeDeclare(r.exchange, amqp.ExchangeTopic, true, false, false, false, nil)
}

// Close terminates gracefully the connection to the AMQP message broker
func (r *Amqp) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			zap.L().Warn("error closing amqp channel", zap.Error(err))
		}
		r.ch = nil
	}

	return r.conn.Close()
}

// Publish sends a persistent JSON notification to the exchange under its routing key. A failed channel is
// dropped and reopened on the next call.
func (r *Amqp) Publish(n mtype.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("cannot marshal notification: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// obtain channel if not present
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return fmt.Errorf("cannot open amqp channel: %w", err)
		}
	}

	msg := amqp.Publishing{
		Headers:      amqp.Table{"x-movo-kind": n.Kind},
		MessageId:    n.ID,
		Timestamp:    n.Time,
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
	}

	if err = r.ch.Publish(r.exchange, n.RoutingKey(), false, false, msg); err != nil {
		_ = r.ch.Close()
		r.ch = nil

		return fmt.Errorf("cannot publish %s: %w", n.RoutingKey(), err)
	}

	return nil
}
