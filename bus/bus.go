//go:generate mockgen -destination=../mocks/mock_$GOPACKAGE.go -package=mocks github.com/rafata1/order-saga-outbox/$GOPACKAGE IPublisher

package bus

import (
	"context"
	"github.com/rafata1/order-saga-outbox/saga_event"
)

const (
	HeaderMessageID = "message-id"
	HeaderType      = "message-type"
	HeaderKey       = "message-key"
)

// Message is what travels on the bus. Key is the partition/routing key (the order id),
// Type the catalog discriminator used by consumers to route.
type Message struct {
	ID      string
	Topic   string
	Key     string
	Type    saga_event.Kind
	Payload []byte
}

type IPublisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Handler processes one delivered message. A nil error acknowledges it.
type Handler func(ctx context.Context, msg Message) error

// ISubscriber delivers messages to handler until ctx is cancelled.
type ISubscriber interface {
	Subscribe(ctx context.Context, handler Handler) error
}

type IBus interface {
	IPublisher
	ISubscriber
}
