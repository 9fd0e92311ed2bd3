package saga_event

import (
	"encoding/json"
	"fmt"
	"github.com/ARM-software/golang-utils/utils/commonerrors"
	"github.com/google/uuid"
	"github.com/rafata1/order-saga-outbox/model"
	"slices"
	"time"
)

const (
	AggregateOrder     = "Order"
	AggregateSaga      = "OrderSaga"
	AggregateInventory = "Inventory"
	AggregatePayment   = "Payment"
)

var decoders = map[Kind]func(payload []byte) (Message, error){
	KindPlaceOrder:                 decodeAs[PlaceOrder],
	KindReserveInventory:           decodeAs[ReserveInventory],
	KindReleaseInventory:           decodeAs[ReleaseInventory],
	KindProcessPayment:             decodeAs[ProcessPayment],
	KindConfirmOrder:               decodeAs[ConfirmOrder],
	KindCancelOrder:                decodeAs[CancelOrder],
	KindOrderTimeout:               decodeAs[OrderTimeout],
	KindOrderCreated:               decodeAs[OrderCreated],
	KindInventoryReserved:          decodeAs[InventoryReserved],
	KindInventoryReservationFailed: decodeAs[InventoryReservationFailed],
	KindPaymentProcessed:           decodeAs[PaymentProcessed],
	KindPaymentFailed:              decodeAs[PaymentFailed],
	KindOrderConfirmed:             decodeAs[OrderConfirmed],
	KindOrderCancelled:             decodeAs[OrderCancelled],
}

func decodeAs[T Message](payload []byte) (Message, error) {
	var msg T
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", commonerrors.ErrMarshalling, err)
	}
	if msg.CorrelationID() == "" {
		return nil, fmt.Errorf("%w: %s without order id", commonerrors.ErrInvalid, msg.Kind())
	}
	return msg, nil
}

// Kinds lists every catalog message type, sorted.
func Kinds() []Kind {
	res := make([]Kind, 0, len(decoders))
	for kind := range decoders {
		res = append(res, kind)
	}
	slices.Sort(res)
	return res
}

func Known(kind Kind) bool {
	_, ok := decoders[kind]
	return ok
}

// Decode turns a typed payload back into its catalog message.
func Decode(kind Kind, payload []byte) (Message, error) {
	decode, ok := decoders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: message type %q", commonerrors.ErrUnsupported, kind)
	}
	return decode(payload)
}

func Encode(msg Message) ([]byte, error) {
	content, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", commonerrors.ErrMarshalling, err)
	}
	return content, nil
}

// NewOutboxMessage builds the outbox row reporting msg, keyed by its order id.
func NewOutboxMessage(aggregateType string, msg Message, now time.Time) (model.OutboxMessage, error) {
	return NewDelayedOutboxMessage(aggregateType, msg, now, 0)
}

// NewDelayedOutboxMessage is NewOutboxMessage with the relay holding the row back for delay.
func NewDelayedOutboxMessage(aggregateType string, msg Message, now time.Time, delay time.Duration) (model.OutboxMessage, error) {
	content, err := Encode(msg)
	if err != nil {
		return model.OutboxMessage{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return model.OutboxMessage{}, err
	}
	return model.OutboxMessage{
		ID:            id.String(),
		AggregateType: aggregateType,
		AggregateID:   msg.CorrelationID(),
		Type:          msg.Kind().String(),
		Payload:       content,
		CreatedAt:     now,
		AvailableAt:   now.Add(delay),
	}, nil
}

// NewOutboxMessages is NewOutboxMessage over a batch sharing one timestamp.
func NewOutboxMessages(aggregateType string, now time.Time, msgs ...Message) ([]model.OutboxMessage, error) {
	res := make([]model.OutboxMessage, 0, len(msgs))
	for _, msg := range msgs {
		outbox, err := NewOutboxMessage(aggregateType, msg, now)
		if err != nil {
			return nil, err
		}
		res = append(res, outbox)
	}
	return res, nil
}
