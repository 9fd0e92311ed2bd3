package kafka

import (
	"context"
	"errors"
	"fmt"
	"github.com/ARM-software/golang-utils/utils/commonerrors"
	"github.com/Shopify/sarama"
	"github.com/avast/retry-go/v4"
	"github.com/rafata1/order-saga-outbox/bus"
	"io"
	"time"
)

type IProducer interface {
	bus.IPublisher
	Close() error
}

type producer struct {
	conn sarama.SyncProducer
	// client is not owned by conn when it was built from one.
	client io.Closer
}

func newConfig() *sarama.Config {
	saramaConf := sarama.NewConfig()
	// record headers need at least 0.11
	saramaConf.Version = sarama.V2_1_0_0
	saramaConf.Producer.Return.Successes = true
	saramaConf.Producer.Return.Errors = true
	saramaConf.Producer.RequiredAcks = sarama.WaitForAll
	saramaConf.Producer.Partitioner = sarama.NewHashPartitioner
	saramaConf.Consumer.Return.Errors = true
	saramaConf.Consumer.Offsets.Initial = sarama.OffsetOldest
	return saramaConf
}

// NewProducer connects to the brokers, retrying while they come up.
func NewProducer(ctx context.Context, brokers []string) (IProducer, error) {
	client, err := retry.DoWithData(
		func() (sarama.Client, error) {
			return sarama.NewClient(brokers, newConfig())
		},
		retry.Context(ctx),
		retry.Attempts(10),
		retry.Delay(2*time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: kafka brokers %v: %v", commonerrors.ErrUnavailable, brokers, err)
	}

	conn, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	return &producer{conn: conn, client: client}, nil
}

func (p *producer) Publish(ctx context.Context, msg bus.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := p.conn.SendMessage(toKafkaMessage(msg))
	if err != nil {
		return fmt.Errorf("%w: %v", commonerrors.ErrUnavailable, err)
	}
	return nil
}

func (p *producer) Close() error {
	err := p.conn.Close()
	if p.client == nil {
		return err
	}
	return errors.Join(err, p.client.Close())
}

func toKafkaMessage(msg bus.Message) *sarama.ProducerMessage {
	return &sarama.ProducerMessage{
		Topic: msg.Topic,
		Key:   sarama.StringEncoder(msg.Key),
		Value: sarama.ByteEncoder(msg.Payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte(bus.HeaderMessageID), Value: []byte(msg.ID)},
			{Key: []byte(bus.HeaderType), Value: []byte(msg.Type)},
		},
	}
}
