package main

import (
	"context"
	"fmt"
	"github.com/go-logr/logr"
	"github.com/rafata1/order-saga-outbox/bus"
	"github.com/rafata1/order-saga-outbox/config"
	"github.com/rafata1/order-saga-outbox/dispatch"
	"github.com/rafata1/order-saga-outbox/kafka"
	"github.com/rafata1/order-saga-outbox/rabbitmq"
	"io"
)

type publisher interface {
	bus.IPublisher
	io.Closer
}

type subscriber interface {
	bus.ISubscriber
	io.Closer
}

func newPublisher(ctx context.Context, cfg config.BusConfig, logger logr.Logger) (publisher, error) {
	switch cfg.Kind {
	case config.BusKafka:
		return kafka.NewProducer(ctx, cfg.Kafka.Brokers)
	case config.BusRabbitMQ:
		return rabbitmq.NewPublisher(ctx, cfg.RabbitMQ.URL, cfg.Topic, logger)
	default:
		return nil, fmt.Errorf("bus %q is only available to the demo command", cfg.Kind)
	}
}

// newSubscriber joins the bus as service, receiving the message types the
// router handles. Kafka consumer groups and RabbitMQ queues are named after
// the service so that its replicas share the work.
func newSubscriber(ctx context.Context, cfg config.BusConfig, service string, router *dispatch.Router, logger logr.Logger) (subscriber, error) {
	name := fmt.Sprintf("%s-%s", cfg.Kafka.GroupPrefix, service)
	switch cfg.Kind {
	case config.BusKafka:
		return kafka.NewConsumer(cfg.Kafka.Brokers, name, []string{cfg.Topic}, logger)
	case config.BusRabbitMQ:
		return rabbitmq.NewConsumer(ctx, cfg.RabbitMQ.URL, cfg.Topic, name, router.Kinds(), logger)
	default:
		return nil, fmt.Errorf("bus %q is only available to the demo command", cfg.Kind)
	}
}
