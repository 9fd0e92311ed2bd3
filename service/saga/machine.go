package saga

import (
	"github.com/rafata1/order-saga-outbox/model"
	"github.com/rafata1/order-saga-outbox/saga_event"
	"github.com/shopspring/decimal"
	"time"
	"unicode/utf8"
)

const (
	timeoutReason = "Timeout"
	// maxReasonLength is the width of saga_states.failure_reason.
	maxReasonLength = 255
)

// Outbound is a command sent by the orchestrator. A non-zero Delay holds its
// delivery back, which is how the saga timeout is scheduled.
type Outbound struct {
	Message saga_event.Message
	Delay   time.Duration
}

// Outcome of applying one inbound message. An unchanged outcome never carries commands.
type Outcome struct {
	Changed  bool
	Outbound []Outbound
}

type transition func(m Machine, state *model.SagaState, msg saga_event.Message) Outcome

// transitions is the dispatch table of the state machine; a message kind
// missing from it never affects a saga.
var transitions = map[saga_event.Kind]transition{
	saga_event.KindPlaceOrder:                 onPlaceOrder,
	saga_event.KindInventoryReserved:          onInventoryReserved,
	saga_event.KindInventoryReservationFailed: onInventoryReservationFailed,
	saga_event.KindPaymentProcessed:           onPaymentProcessed,
	saga_event.KindPaymentFailed:              onPaymentFailed,
	saga_event.KindOrderConfirmed:             onOrderConfirmed,
	saga_event.KindOrderCancelled:             onOrderCancelled,
	saga_event.KindOrderTimeout:               onOrderTimeout,
}

// Handles reports whether kind is consumed by the orchestrator.
func Handles(kind saga_event.Kind) bool {
	_, ok := transitions[kind]
	return ok
}

// Machine is the order saga. It holds no state of its own.
type Machine struct {
	Timeout time.Duration
}

// Transition applies msg to state in place. A state with no phase yet only
// accepts PlaceOrder; a terminal state accepts nothing.
func (m Machine) Transition(state *model.SagaState, msg saga_event.Message, now time.Time) Outcome {
	if state.Completed || state.Phase.IsTerminal() {
		return Outcome{}
	}
	t, ok := transitions[msg.Kind()]
	if !ok {
		return Outcome{}
	}
	outcome := t(m, state, msg)
	if outcome.Changed {
		if state.CreatedAt.IsZero() {
			state.CreatedAt = now
		}
		state.UpdatedAt = now
	}
	return outcome
}

func onPlaceOrder(m Machine, state *model.SagaState, msg saga_event.Message) Outcome {
	if state.Phase != "" {
		return Outcome{}
	}
	cmd, ok := msg.(saga_event.PlaceOrder)
	if !ok {
		return Outcome{}
	}

	state.CustomerID = cmd.UserID
	state.Phase = model.PhasePendingInventory
	state.Items = make(model.SagaItems, 0, len(cmd.Items))
	state.TotalAmount = decimal.Zero
	var out []Outbound
	for _, item := range cmd.Items {
		state.Items = append(state.Items, model.SagaItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
		state.TotalAmount = state.TotalAmount.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		out = append(out, Outbound{Message: saga_event.ReserveInventory{
			OrderID:   state.OrderID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		}})
	}
	out = append(out, Outbound{Message: saga_event.OrderTimeout{OrderID: state.OrderID}, Delay: m.Timeout})
	return Outcome{Changed: true, Outbound: out}
}

func onInventoryReserved(_ Machine, state *model.SagaState, msg saga_event.Message) Outcome {
	if state.Phase != model.PhasePendingInventory {
		return Outcome{}
	}
	event, ok := msg.(saga_event.InventoryReserved)
	if !ok {
		return Outcome{}
	}
	if !state.MarkReserved(event.ProductID) {
		return Outcome{}
	}
	if !state.AllReserved() {
		return Outcome{Changed: true}
	}

	state.InventoryReserved = true
	state.Phase = model.PhasePendingPayment
	return Outcome{Changed: true, Outbound: []Outbound{{Message: saga_event.ProcessPayment{
		OrderID: state.OrderID,
		Amount:  state.TotalAmount,
		UserID:  state.CustomerID,
	}}}}
}

func onInventoryReservationFailed(_ Machine, state *model.SagaState, msg saga_event.Message) Outcome {
	if state.Phase != model.PhasePendingInventory {
		return Outcome{}
	}
	event, ok := msg.(saga_event.InventoryReservationFailed)
	if !ok {
		return Outcome{}
	}
	fail(state, model.PhaseInventoryReservationFailed, event.Reason)
	return Outcome{Changed: true, Outbound: compensate(state.OrderID, state.ReservedItems())}
}

func onPaymentProcessed(_ Machine, state *model.SagaState, _ saga_event.Message) Outcome {
	if state.Phase != model.PhasePendingPayment {
		return Outcome{}
	}
	state.PaymentProcessed = true
	state.Phase = model.PhasePendingConfirmation
	return Outcome{Changed: true, Outbound: []Outbound{{Message: saga_event.ConfirmOrder{OrderID: state.OrderID}}}}
}

func onPaymentFailed(_ Machine, state *model.SagaState, msg saga_event.Message) Outcome {
	if state.Phase != model.PhasePendingPayment {
		return Outcome{}
	}
	event, ok := msg.(saga_event.PaymentFailed)
	if !ok {
		return Outcome{}
	}
	fail(state, model.PhasePaymentFailed, event.Reason)
	return Outcome{Changed: true, Outbound: compensate(state.OrderID, state.ReservedItems())}
}

func onOrderConfirmed(_ Machine, state *model.SagaState, _ saga_event.Message) Outcome {
	if state.Phase != model.PhasePendingConfirmation {
		return Outcome{}
	}
	state.OrderConfirmed = true
	state.Phase = model.PhaseCompleted
	state.Completed = true
	return Outcome{Changed: true}
}

// onOrderCancelled handles an order cancelled behind the saga's back. The
// order is already cancelled, so only the inventory is given back.
func onOrderCancelled(_ Machine, state *model.SagaState, msg saga_event.Message) Outcome {
	if state.Phase != model.PhasePendingConfirmation {
		return Outcome{}
	}
	event, ok := msg.(saga_event.OrderCancelled)
	if !ok {
		return Outcome{}
	}
	state.FailureReason = truncateReason(event.Reason)
	state.Phase = model.PhaseCancelled
	state.Completed = true
	return Outcome{Changed: true, Outbound: release(state.OrderID, state.ReservedItems())}
}

// onOrderTimeout releases every item, acknowledged or not: the order write
// path reserves all of them before the saga starts. In PendingConfirmation the
// ConfirmOrder already sent may win; the order service then ignores CancelOrder
// and the inventory service keeps the stock of the confirmed order.
func onOrderTimeout(_ Machine, state *model.SagaState, _ saga_event.Message) Outcome {
	if state.Phase == "" {
		return Outcome{}
	}
	fail(state, model.PhaseTimedOut, timeoutReason)
	return Outcome{Changed: true, Outbound: compensate(state.OrderID, state.Items)}
}

func fail(state *model.SagaState, phase model.Phase, reason string) {
	state.FailedPhase = phase
	state.FailureReason = truncateReason(reason)
	state.Phase = model.PhaseCancelled
	state.Completed = true
}

// truncateReason cuts reason to maxReasonLength characters.
func truncateReason(reason string) string {
	if utf8.RuneCountInString(reason) <= maxReasonLength {
		return reason
	}
	return string([]rune(reason)[:maxReasonLength])
}

func compensate(orderID string, items []model.SagaItem) []Outbound {
	return append(release(orderID, items), Outbound{Message: saga_event.CancelOrder{OrderID: orderID}})
}

func release(orderID string, items []model.SagaItem) []Outbound {
	var res []Outbound
	for _, item := range items {
		res = append(res, Outbound{Message: saga_event.ReleaseInventory{
			OrderID:   orderID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		}})
	}
	return res
}
