package rabbitmq

import (
	"context"
	"fmt"
	"github.com/ARM-software/golang-utils/utils/commonerrors"
	"github.com/avast/retry-go/v4"
	"github.com/go-logr/logr"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rafata1/order-saga-outbox/bus"
	"time"
)

// Publisher sends outbox messages to a topic exchange, routed by message type.
// The exchange is the Message.Topic.
type Publisher struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	logger  logr.Logger
}

func dial(ctx context.Context, url string, logger logr.Logger) (*amqp091.Connection, error) {
	// RabbitMQ takes a while to accept connections when started alongside us
	conn, err := retry.DoWithData(
		func() (*amqp091.Connection, error) {
			return amqp091.Dial(url)
		},
		retry.Context(ctx),
		retry.Attempts(10),
		retry.Delay(2*time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Info("Failed to connect to RabbitMQ, retrying", "attempt", n+1, "error", err.Error())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to RabbitMQ: %v", commonerrors.ErrUnavailable, err)
	}
	return conn, nil
}

func declareExchange(ch *amqp091.Channel, exchange string) error {
	return ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // delete when unused
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
}

func NewPublisher(ctx context.Context, url string, exchange string, logger logr.Logger) (*Publisher, error) {
	logger = logger.WithName("rabbitmq")
	conn, err := dial(ctx, url, logger)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	if err = declareExchange(ch, exchange); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &Publisher{conn: conn, channel: ch, logger: logger}, nil
}

func (p *Publisher) Publish(ctx context.Context, msg bus.Message) error {
	err := p.channel.PublishWithContext(ctx,
		msg.Topic,         // exchange
		msg.Type.String(), // routing key
		false,             // mandatory
		false,             // immediate
		amqp091.Publishing{
			MessageId:    msg.ID,
			Type:         msg.Type.String(),
			ContentType:  "application/json",
			Headers:      amqp091.Table{bus.HeaderKey: msg.Key},
			Body:         msg.Payload,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now().UTC(),
		})
	if err != nil {
		return fmt.Errorf("%w: failed to publish message: %v", commonerrors.ErrUnavailable, err)
	}

	p.logger.V(1).Info("Published message", "messageID", msg.ID, "exchange", msg.Topic, "type", msg.Type)
	return nil
}

func (p *Publisher) Close() error {
	_ = p.channel.Close()
	return p.conn.Close()
}
