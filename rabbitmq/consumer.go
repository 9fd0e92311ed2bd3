package rabbitmq

import (
	"context"
	"fmt"
	"github.com/go-logr/logr"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rafata1/order-saga-outbox/bus"
	"github.com/rafata1/order-saga-outbox/saga_event"
)

// Consumer reads a durable queue bound to the exchange for the given message types.
type Consumer struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	queue    string
	logger   logr.Logger
}

func NewConsumer(ctx context.Context, url string, exchange string, queue string, kinds []saga_event.Kind, logger logr.Logger) (*Consumer, error) {
	logger = logger.WithName("rabbitmq").WithValues("queue", queue)
	conn, err := dial(ctx, url, logger)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	c := &Consumer{conn: conn, channel: ch, exchange: exchange, queue: queue, logger: logger}

	if err = c.declare(kinds); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Consumer) declare(kinds []saga_event.Kind) error {
	if err := declareExchange(c.channel, c.exchange); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", c.exchange, err)
	}
	_, err := c.channel.QueueDeclare(
		c.queue, // name
		true,    // durable
		false,   // delete when unused
		false,   // exclusive
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare a queue: %w", err)
	}
	for _, kind := range kinds {
		if err = c.channel.QueueBind(c.queue, kind.String(), c.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind %s to %s: %w", kind, c.queue, err)
		}
	}
	// one unacknowledged delivery at a time keeps handling sequential
	return c.channel.Qos(1, 0, false)
}

func (c *Consumer) Subscribe(ctx context.Context, handler bus.Handler) error {
	deliveries, err := c.channel.ConsumeWithContext(ctx,
		c.queue, // queue
		"",      // consumer
		false,   // auto-ack: manual ack after handling
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return fmt.Errorf("failed to register a consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			if err := handler(ctx, fromDelivery(c.exchange, d)); err != nil {
				c.logger.Error(err, "Failed to process message", "messageID", d.MessageId)
				_ = d.Nack(false, true)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) Close() error {
	_ = c.channel.Close()
	return c.conn.Close()
}

func fromDelivery(exchange string, d amqp091.Delivery) bus.Message {
	msg := bus.Message{
		ID:      d.MessageId,
		Topic:   exchange,
		Type:    saga_event.Kind(d.Type),
		Payload: d.Body,
	}
	if key, ok := d.Headers[bus.HeaderKey].(string); ok {
		msg.Key = key
	}
	if msg.Type == "" {
		msg.Type = saga_event.Kind(d.RoutingKey)
	}
	return msg
}
