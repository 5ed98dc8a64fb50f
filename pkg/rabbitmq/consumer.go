/**
 * @description
 * A small RabbitMQ consumer: it declares a topic exchange and a durable queue,
 * binds the queue with one or more routing keys and hands every delivery to a
 * callback that decides between ack and nack-with-requeue.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The official Go client for RabbitMQ.
 */
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/rabbitmq/amqp091-go"
)

// ErrDeliveriesClosed is returned by Consume when the broker closes the delivery channel.
var ErrDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

// Consumer handles the connection and consumption of messages from RabbitMQ.
type Consumer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	logger  *slog.Logger
}

// MessageHandler processes a single message. It returns true to ack, or false to
// nack and requeue.
type MessageHandler func(body []byte) bool

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	if idx < 0 {
		return "", fmt.Errorf("not an amqp url")
	}
	if _, err := url.Parse(clean); err != nil {
		return "", err
	}
	return clean, nil
}

// NewConsumer dials the broker and opens a channel.
func NewConsumer(amqpURL string, logger *slog.Logger) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("invalid RABBITMQ_URL: %w", err)
	}

	conn, err := amqp091.Dial(cleanURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}

	return &Consumer{conn: conn, channel: channel, logger: logger}, nil
}

// Consume declares the topology and processes deliveries until ctx is done or
// the broker closes the channel. It returns nil on context cancellation.
func (c *Consumer) Consume(ctx context.Context, exchange, queueName string, routingKeys []string, handler MessageHandler) error {
	if err := c.channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	q, err := c.channel.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queueName, err)
	}

	for _, key := range routingKeys {
		if err := c.channel.QueueBind(q.Name, key, exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", q.Name, key, err)
		}
	}

	msgs, err := c.channel.Consume(
		q.Name, // queue
		"",     // consumer
		false,  // auto-ack
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return fmt.Errorf("start consuming %s: %w", q.Name, err)
	}

	c.logger.Info("consuming billing events", "exchange", exchange, "queue", q.Name, "routing_keys", routingKeys)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return ErrDeliveriesClosed
			}
			c.logger.Debug("received message", "routing_key", d.RoutingKey)
			if handler(d.Body) {
				if err := d.Ack(false); err != nil {
					c.logger.Error("failed to ack message", "error", err)
				}
			} else {
				if err := d.Nack(false, true); err != nil {
					c.logger.Error("failed to nack message", "error", err)
				}
			}
		}
	}
}

// Close gracefully closes the channel and connection.
func (c *Consumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
