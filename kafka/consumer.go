package kafka

import (
	"context"
	"errors"
	"fmt"
	"github.com/ARM-software/golang-utils/utils/commonerrors"
	"github.com/Shopify/sarama"
	"github.com/go-logr/logr"
	"github.com/rafata1/order-saga-outbox/bus"
	"github.com/rafata1/order-saga-outbox/saga_event"
)

type IConsumer interface {
	bus.ISubscriber
	Close() error
}

type consumer struct {
	group  sarama.ConsumerGroup
	topics []string
	logger logr.Logger
}

// NewConsumer joins groupID on topics. Partitions are consumed one message at a
// time, which keeps per-key order.
func NewConsumer(brokers []string, groupID string, topics []string, logger logr.Logger) (IConsumer, error) {
	group, err := sarama.NewConsumerGroup(brokers, groupID, newConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: kafka consumer group %s: %v", commonerrors.ErrUnavailable, groupID, err)
	}
	return &consumer{
		group:  group,
		topics: topics,
		logger: logger.WithName("kafka").WithValues("group", groupID),
	}, nil
}

func (c *consumer) Subscribe(ctx context.Context, handler bus.Handler) error {
	go func() {
		for err := range c.group.Errors() {
			c.logger.Error(err, "Failed to consume message")
		}
	}()

	h := &groupHandler{handler: handler, logger: c.logger}
	for {
		err := c.group.Consume(ctx, c.topics, h)
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return nil
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *consumer) Close() error {
	return c.group.Close()
}

type groupHandler struct {
	handler bus.Handler
	logger  logr.Logger
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.logger.V(1).Info("Received message", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "key", string(msg.Key))
			if err := h.handler(session.Context(), fromKafkaMessage(msg)); err != nil {
				// offset not marked: the message is delivered again after the rebalance
				return err
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func fromKafkaMessage(msg *sarama.ConsumerMessage) bus.Message {
	res := bus.Message{
		Topic:   msg.Topic,
		Key:     string(msg.Key),
		Payload: msg.Value,
	}
	for _, header := range msg.Headers {
		if header == nil {
			continue
		}
		switch string(header.Key) {
		case bus.HeaderMessageID:
			res.ID = string(header.Value)
		case bus.HeaderType:
			res.Type = saga_event.Kind(header.Value)
		}
	}
	if res.ID == "" {
		res.ID = fmt.Sprintf("%s-%d-%d", msg.Topic, msg.Partition, msg.Offset)
	}
	return res
}
