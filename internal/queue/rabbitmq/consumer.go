package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Handler processes one dispatch notification
type Handler func(ctx context.Context, msg DispatchMessage) error

// Consumer feeds dispatch notifications to a Handler, one at a time
type Consumer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewConsumer(url, queue string) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbit dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbit channel: %w", err)
	}
	if err := declare(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("qos: %w", err)
	}
	return &Consumer{conn: conn, ch: ch, queue: queue}, nil
}

// Start consumes until ctx is done or the broker closes the channel
func (c *Consumer) Start(ctx context.Context, handle Handler) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	logrus.WithField("queue", c.queue).Info("Dispatch consumer started")
	for {
		select {
		case <-ctx.Done():
			logrus.Info("Dispatch consumer shutting down")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			deliver(ctx, d, handle)
		}
	}
}

// acknowledger is the part of amqp.Delivery deliver needs
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

type delivery struct {
	body []byte
	ack  acknowledger
}

func deliver(ctx context.Context, d amqp.Delivery, handle Handler) {
	process(ctx, delivery{body: d.Body, ack: &d}, handle)
}

// process dead-letters malformed messages. Handler failures are acked: run
// state lives in the database and the periodic tick picks up what was missed.
func process(ctx context.Context, d delivery, handle Handler) {
	msg, err := decode(d.body)
	if err != nil {
		logrus.Warnf("Dropping dispatch message: %v", err)
		_ = d.ack.Nack(false, false)
		return
	}

	if err := handle(ctx, msg); err != nil {
		logrus.WithField("run_id", msg.RunID).Errorf("Dispatch handler failed: %v", err)
	}
	if err := d.ack.Ack(false); err != nil {
		logrus.WithField("run_id", msg.RunID).Warnf("Failed to ack dispatch message: %v", err)
	}
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
