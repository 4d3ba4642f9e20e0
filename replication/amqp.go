package replication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultQueue is the RabbitMQ queue used when none is configured.
const DefaultQueue = "espalier.replication"

// Channel is the subset of *amqp.Channel used here.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// AMQP carries replication messages through a durable RabbitMQ queue.
// It publishes from the API process and consumes in a separate worker process.
type AMQP struct {
	conn   *amqp.Connection
	ch     Channel
	queue  string
	logger *slog.Logger

	mu sync.Mutex // channels are not safe for concurrent publishing
}

// DialAMQP connects to the broker at url and declares queue.
func DialAMQP(url, queue string, logger *slog.Logger) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	q, err := NewAMQP(ch, queue, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	q.conn = conn
	return q, nil
}

// NewAMQP uses an open channel and declares queue on it.
func NewAMQP(ch Channel, queue string, logger *slog.Logger) (*AMQP, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &AMQP{ch: ch, queue: queue, logger: logger}, nil
}

// Publish sends msg as a persistent JSON message.
func (a *AMQP) Publish(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	err = a.ch.PublishWithContext(ctx, "", a.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.PublishedAt,
		Type:         string(msg.Operation),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", msg.ID, err)
	}
	return nil
}

// Consume reads the queue until ctx is cancelled or the channel closes, handing each
// message to next. Deliveries that cannot be decoded are rejected without requeue
// and deliveries next refuses are requeued. When next is a *Dispatcher a delivery
// is acknowledged only after the message was applied or dead-lettered, and requeued
// when it was neither; any other Publisher has finished with the message when
// Publish returns.
func (a *AMQP) Consume(ctx context.Context, prefetch int, next Publisher) error {
	if prefetch > 0 {
		if err := a.ch.Qos(prefetch, 0, false); err != nil {
			return fmt.Errorf("set prefetch: %w", err)
		}
	}
	deliveries, err := a.ch.Consume(a.queue, "espalier", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", a.queue, err)
	}

	a.logger.Info("consuming replication queue", "queue", a.queue, "prefetch", prefetch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("amqp: delivery channel closed")
			}
			a.handle(ctx, d, next)
		}
	}
}

// settler is implemented by publishers that finish messages after Publish returns.
type settler interface {
	settles()
}

func (a *AMQP) handle(ctx context.Context, d amqp.Delivery, next Publisher) {
	msg, err := Decode(d.Body)
	if err != nil {
		a.logger.Error("rejecting undecodable delivery", "message_id", d.MessageId, "error", err)
		_ = d.Nack(false, false)
		return
	}

	_, async := next.(settler)
	if async {
		msg.settle = func(err error) {
			if err != nil {
				a.logger.Warn("requeueing delivery", "message_id", msg.ID, "error", err)
				_ = d.Nack(false, true)
				return
			}
			_ = d.Ack(false)
		}
	}

	if err := next.Publish(ctx, msg); err != nil {
		a.logger.Warn("requeueing delivery", "message_id", msg.ID, "error", err)
		_ = d.Nack(false, true)
		return
	}
	if !async {
		_ = d.Ack(false)
	}
}

// Close closes the channel and, when DialAMQP opened it, the connection.
func (a *AMQP) Close() error {
	err := a.ch.Close()
	if a.conn != nil {
		err = errors.Join(err, a.conn.Close())
	}
	return err
}
