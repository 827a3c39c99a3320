// Package rabbitmq carries dispatch notifications between the API, which
// enqueues runs, and worker processes, which run pipeline ticks.
package rabbitmq

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DispatchMessage asks a worker to dispatch and process work. RunID names the
// run that prompted it and is informational; any enqueued run may be picked.
type DispatchMessage struct {
	RunID string `json:"run_id"`
}

func encode(msg DispatchMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func decode(body []byte) (DispatchMessage, error) {
	var msg DispatchMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("invalid dispatch message: %w", err)
	}
	if strings.TrimSpace(msg.RunID) == "" {
		return msg, errors.New("dispatch message without run_id")
	}
	return msg, nil
}

// declare creates the durable queue and its dead-letter queue
func declare(ch *amqp.Channel, queue string) error {
	dlq := queue + ".dlq"
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare %s: %w", dlq, err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	}); err != nil {
		return fmt.Errorf("queue declare %s: %w", queue, err)
	}
	return nil
}
