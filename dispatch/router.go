package dispatch

import (
	"context"
	"fmt"
	"github.com/ARM-software/golang-utils/utils/commonerrors"
	"github.com/go-logr/logr"
	"github.com/rafata1/order-saga-outbox/bus"
	"github.com/rafata1/order-saga-outbox/saga_event"
	"sort"
)

// MessageHandler handles one decoded catalog message. messageID is the
// outbox id the message was published with, used for deduplication.
type MessageHandler func(ctx context.Context, messageID string, msg saga_event.Message) error

// On adapts a handler of one concrete message type.
func On[T saga_event.Message](fn func(ctx context.Context, messageID string, msg T) error) MessageHandler {
	return func(ctx context.Context, messageID string, msg saga_event.Message) error {
		typed, ok := msg.(T)
		if !ok {
			return fmt.Errorf("%w: unexpected message %T", commonerrors.ErrInvalid, msg)
		}
		return fn(ctx, messageID, typed)
	}
}

// Router decodes bus messages and hands them to the handler registered for
// their type. Types without a handler are acknowledged and skipped.
type Router struct {
	handlers map[saga_event.Kind]MessageHandler
	logger   logr.Logger
}

func NewRouter(logger logr.Logger) *Router {
	return &Router{
		handlers: map[saga_event.Kind]MessageHandler{},
		logger:   logger,
	}
}

func (r *Router) Register(kind saga_event.Kind, handler MessageHandler) *Router {
	r.handlers[kind] = handler
	return r
}

// Kinds lists the registered message types, sorted.
func (r *Router) Kinds() []saga_event.Kind {
	kinds := make([]saga_event.Kind, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func (r *Router) Handle(ctx context.Context, msg bus.Message) error {
	handler, ok := r.handlers[msg.Type]
	if !ok {
		return nil
	}
	logger := r.logger.WithValues("messageID", msg.ID, "type", msg.Type, "key", msg.Key)

	decoded, err := saga_event.Decode(msg.Type, msg.Payload)
	if err != nil {
		// a payload that cannot be decoded now never will be
		logger.Error(err, "Dropping undecodable message")
		return nil
	}
	return handler(logr.NewContext(ctx, logger), msg.ID, decoded)
}

// Handler returns Handle as a bus.Handler.
func (r *Router) Handler() bus.Handler {
	return r.Handle
}
