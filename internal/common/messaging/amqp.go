// internal/common/messaging/amqp.go
package messaging

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPClient holds one connection and one channel for publishing.
// amqp091 channels are not safe for concurrent publishes; callers
// serialize access.
type AMQPClient struct {
	conn    *amqp.Connection
	Channel *amqp.Channel
}

// NewAMQP dials url and declares each queue as durable.
func NewAMQP(url string, queues ...string) (*AMQPClient, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial failed: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel open failed: %w", err)
	}

	for _, q := range queues {
		if _, err := ch.QueueDeclare(
			q,     // name
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,   // args
		); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("rabbitmq queue declare %s failed: %w", q, err)
		}
	}

	return &AMQPClient{conn: conn, Channel: ch}, nil
}

// Close closes the channel and the connection.
func (c *AMQPClient) Close() error {
	if c.Channel != nil {
		_ = c.Channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
