package saga

import (
	"github.com/rafata1/order-saga-outbox/model"
	"github.com/rafata1/order-saga-outbox/saga_event"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

const orderID = "order-1"

var (
	epoch   = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	machine = Machine{Timeout: 30 * time.Second}
)

func placeOrder(items ...saga_event.OrderItem) saga_event.PlaceOrder {
	return saga_event.PlaceOrder{OrderID: orderID, UserID: "alice", Items: items}
}

func item(productID string, quantity int, price int64) saga_event.OrderItem {
	return saga_event.OrderItem{ProductID: productID, Quantity: quantity, UnitPrice: decimal.NewFromInt(price)}
}

func messages(outcome Outcome) []saga_event.Message {
	var res []saga_event.Message
	for _, out := range outcome.Outbound {
		res = append(res, out.Message)
	}
	return res
}

// started returns a saga right after PlaceOrder for P x2 @ 10 and Q x1 @ 5.
func started(t *testing.T) *model.SagaState {
	t.Helper()
	state := &model.SagaState{OrderID: orderID}
	outcome := machine.Transition(state, placeOrder(item("P", 2, 10), item("Q", 1, 5)), epoch)
	require.True(t, outcome.Changed)
	return state
}

func reserved(t *testing.T) *model.SagaState {
	t.Helper()
	state := started(t)
	machine.Transition(state, saga_event.InventoryReserved{OrderID: orderID, ProductID: "P", Quantity: 2}, epoch)
	machine.Transition(state, saga_event.InventoryReserved{OrderID: orderID, ProductID: "Q", Quantity: 1}, epoch)
	require.Equal(t, model.PhasePendingPayment, state.Phase)
	return state
}

func paid(t *testing.T) *model.SagaState {
	t.Helper()
	state := reserved(t)
	machine.Transition(state, saga_event.PaymentProcessed{OrderID: orderID, TransactionID: "tx"}, epoch)
	require.Equal(t, model.PhasePendingConfirmation, state.Phase)
	return state
}

func TestTransition_PlaceOrderStartsSaga(t *testing.T) {
	state := &model.SagaState{OrderID: orderID}
	outcome := machine.Transition(state, placeOrder(item("P", 2, 10), item("Q", 1, 5)), epoch)

	require.True(t, outcome.Changed)
	assert.Equal(t, model.PhasePendingInventory, state.Phase)
	assert.Equal(t, "alice", state.CustomerID)
	assert.True(t, decimal.NewFromInt(25).Equal(state.TotalAmount))
	assert.Equal(t, epoch, state.CreatedAt)
	assert.Equal(t, []saga_event.Message{
		saga_event.ReserveInventory{OrderID: orderID, ProductID: "P", Quantity: 2},
		saga_event.ReserveInventory{OrderID: orderID, ProductID: "Q", Quantity: 1},
		saga_event.OrderTimeout{OrderID: orderID},
	}, messages(outcome))
	assert.Equal(t, 30*time.Second, outcome.Outbound[2].Delay)
	assert.Zero(t, outcome.Outbound[0].Delay)
}

func TestTransition_WaitsForEveryReservation(t *testing.T) {
	state := started(t)

	outcome := machine.Transition(state, saga_event.InventoryReserved{OrderID: orderID, ProductID: "P", Quantity: 2}, epoch)
	assert.True(t, outcome.Changed)
	assert.Empty(t, outcome.Outbound)
	assert.Equal(t, model.PhasePendingInventory, state.Phase)

	outcome = machine.Transition(state, saga_event.InventoryReserved{OrderID: orderID, ProductID: "P", Quantity: 2}, epoch)
	assert.False(t, outcome.Changed, "a repeated reservation is a no-op")

	outcome = machine.Transition(state, saga_event.InventoryReserved{OrderID: orderID, ProductID: "Q", Quantity: 1}, epoch)
	assert.True(t, outcome.Changed)
	assert.True(t, state.InventoryReserved)
	assert.Equal(t, model.PhasePendingPayment, state.Phase)
	assert.Equal(t, []saga_event.Message{
		saga_event.ProcessPayment{OrderID: orderID, Amount: state.TotalAmount, UserID: "alice"},
	}, messages(outcome))
}

func TestTransition_HappyPathCompletes(t *testing.T) {
	state := reserved(t)

	outcome := machine.Transition(state, saga_event.PaymentProcessed{OrderID: orderID, TransactionID: "tx"}, epoch)
	assert.True(t, state.PaymentProcessed)
	assert.Equal(t, []saga_event.Message{saga_event.ConfirmOrder{OrderID: orderID}}, messages(outcome))

	outcome = machine.Transition(state, saga_event.OrderConfirmed{OrderID: orderID}, epoch)
	assert.True(t, outcome.Changed)
	assert.Empty(t, outcome.Outbound)
	assert.Equal(t, model.PhaseCompleted, state.Phase)
	assert.True(t, state.OrderConfirmed)
	assert.True(t, state.Completed)
}

func TestTransition_Failures(t *testing.T) {
	tests := []struct {
		name        string
		state       func(t *testing.T) *model.SagaState
		msg         saga_event.Message
		failedPhase model.Phase
		reason      string
		expected    []saga_event.Message
	}{
		{
			name:        "inventory reservation failed",
			state:       started,
			msg:         saga_event.InventoryReservationFailed{OrderID: orderID, ProductID: "Q", RequestedQuantity: 1, Reason: "insufficient stock"},
			failedPhase: model.PhaseInventoryReservationFailed,
			reason:      "insufficient stock",
			expected:    []saga_event.Message{saga_event.CancelOrder{OrderID: orderID}},
		},
		{
			name: "inventory reservation failed after a partial reservation",
			state: func(t *testing.T) *model.SagaState {
				state := started(t)
				machine.Transition(state, saga_event.InventoryReserved{OrderID: orderID, ProductID: "P", Quantity: 2}, epoch)
				return state
			},
			msg:         saga_event.InventoryReservationFailed{OrderID: orderID, ProductID: "Q", RequestedQuantity: 1, Reason: "insufficient stock"},
			failedPhase: model.PhaseInventoryReservationFailed,
			reason:      "insufficient stock",
			expected: []saga_event.Message{
				saga_event.ReleaseInventory{OrderID: orderID, ProductID: "P", Quantity: 2},
				saga_event.CancelOrder{OrderID: orderID},
			},
		},
		{
			name:        "payment failed",
			state:       reserved,
			msg:         saga_event.PaymentFailed{OrderID: orderID, Reason: "PaymentFailed reason text"},
			failedPhase: model.PhasePaymentFailed,
			reason:      "PaymentFailed reason text",
			expected: []saga_event.Message{
				saga_event.ReleaseInventory{OrderID: orderID, ProductID: "P", Quantity: 2},
				saga_event.ReleaseInventory{OrderID: orderID, ProductID: "Q", Quantity: 1},
				saga_event.CancelOrder{OrderID: orderID},
			},
		},
		{
			name:        "timeout while waiting for inventory",
			state:       started,
			msg:         saga_event.OrderTimeout{OrderID: orderID},
			failedPhase: model.PhaseTimedOut,
			reason:      "Timeout",
			expected: []saga_event.Message{
				saga_event.ReleaseInventory{OrderID: orderID, ProductID: "P", Quantity: 2},
				saga_event.ReleaseInventory{OrderID: orderID, ProductID: "Q", Quantity: 1},
				saga_event.CancelOrder{OrderID: orderID},
			},
		},
		{
			name:        "timeout while waiting for confirmation",
			state:       paid,
			msg:         saga_event.OrderTimeout{OrderID: orderID},
			failedPhase: model.PhaseTimedOut,
			reason:      "Timeout",
			expected: []saga_event.Message{
				saga_event.ReleaseInventory{OrderID: orderID, ProductID: "P", Quantity: 2},
				saga_event.ReleaseInventory{OrderID: orderID, ProductID: "Q", Quantity: 1},
				saga_event.CancelOrder{OrderID: orderID},
			},
		},
		{
			name:   "order cancelled while waiting for confirmation",
			state:  paid,
			msg:    saga_event.OrderCancelled{OrderID: orderID, Reason: "customer request"},
			reason: "customer request",
			expected: []saga_event.Message{
				saga_event.ReleaseInventory{OrderID: orderID, ProductID: "P", Quantity: 2},
				saga_event.ReleaseInventory{OrderID: orderID, ProductID: "Q", Quantity: 1},
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			state := test.state(t)
			outcome := machine.Transition(state, test.msg, epoch.Add(time.Minute))

			assert.True(t, outcome.Changed)
			assert.Equal(t, model.PhaseCancelled, state.Phase)
			assert.True(t, state.Completed)
			assert.Equal(t, test.failedPhase, state.FailedPhase)
			assert.Equal(t, test.reason, state.FailureReason)
			assert.Equal(t, epoch.Add(time.Minute), state.UpdatedAt)
			assert.Equal(t, test.expected, messages(outcome))
		})
	}
}

func TestTransition_TerminalSagaIgnoresEverything(t *testing.T) {
	completed := paid(t)
	machine.Transition(completed, saga_event.OrderConfirmed{OrderID: orderID}, epoch)
	require.Equal(t, model.PhaseCompleted, completed.Phase)

	cancelled := reserved(t)
	machine.Transition(cancelled, saga_event.PaymentFailed{OrderID: orderID, Reason: "declined"}, epoch)
	require.Equal(t, model.PhaseCancelled, cancelled.Phase)

	inbound := []saga_event.Message{
		placeOrder(item("P", 1, 1)),
		saga_event.InventoryReserved{OrderID: orderID, ProductID: "P", Quantity: 2},
		saga_event.InventoryReservationFailed{OrderID: orderID, ProductID: "P"},
		saga_event.PaymentProcessed{OrderID: orderID},
		saga_event.PaymentFailed{OrderID: orderID},
		saga_event.OrderConfirmed{OrderID: orderID},
		saga_event.OrderCancelled{OrderID: orderID},
		saga_event.OrderTimeout{OrderID: orderID},
	}
	for _, state := range []*model.SagaState{completed, cancelled} {
		before := state.Clone()
		for _, msg := range inbound {
			outcome := machine.Transition(state, msg, epoch.Add(time.Hour))
			assert.False(t, outcome.Changed, msg.Kind())
			assert.Empty(t, outcome.Outbound, msg.Kind())
		}
		assert.Equal(t, before, *state)
	}
}

func TestTransition_OutOfPhaseMessagesAreDiscarded(t *testing.T) {
	tests := []struct {
		name  string
		state func(t *testing.T) *model.SagaState
		msg   saga_event.Message
	}{
		{"payment before reservation", started, saga_event.PaymentProcessed{OrderID: orderID}},
		{"confirmation before payment", reserved, saga_event.OrderConfirmed{OrderID: orderID}},
		{"late reservation failure", reserved, saga_event.InventoryReservationFailed{OrderID: orderID, ProductID: "P"}},
		{"repeated payment", paid, saga_event.PaymentProcessed{OrderID: orderID}},
		{"second start", started, placeOrder(item("Z", 9, 9))},
		{"reservation of unknown product", started, saga_event.InventoryReserved{OrderID: orderID, ProductID: "Z"}},
		{"command kind", started, saga_event.ConfirmOrder{OrderID: orderID}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			state := test.state(t)
			before := state.Clone()
			outcome := machine.Transition(state, test.msg, epoch.Add(time.Hour))
			assert.False(t, outcome.Changed)
			assert.Empty(t, outcome.Outbound)
			assert.Equal(t, before, *state)
		})
	}
}

func TestTransition_NewSagaOnlyAcceptsPlaceOrder(t *testing.T) {
	state := &model.SagaState{OrderID: orderID}
	for _, msg := range []saga_event.Message{
		saga_event.OrderTimeout{OrderID: orderID},
		saga_event.InventoryReserved{OrderID: orderID, ProductID: "P"},
	} {
		outcome := machine.Transition(state, msg, epoch)
		assert.False(t, outcome.Changed)
	}
	assert.Equal(t, model.Phase(""), state.Phase)
}

func TestHandles(t *testing.T) {
	assert.True(t, Handles(saga_event.KindPlaceOrder))
	assert.True(t, Handles(saga_event.KindOrderTimeout))
	assert.False(t, Handles(saga_event.KindReserveInventory))
	assert.False(t, Handles(saga_event.KindOrderCreated))
}

// Every sequence of up to four inbound messages after the start is replayed:
// a terminal phase never changes again, and a saga cancelled after reaching
// PendingPayment has released every product it had reserved.
func TestTransition_AllSequences(t *testing.T) {
	alphabet := []saga_event.Message{
		saga_event.InventoryReserved{OrderID: orderID, ProductID: "P", Quantity: 2},
		saga_event.InventoryReserved{OrderID: orderID, ProductID: "Q", Quantity: 1},
		saga_event.InventoryReservationFailed{OrderID: orderID, ProductID: "Q", Reason: "out of stock"},
		saga_event.PaymentProcessed{OrderID: orderID, TransactionID: "tx"},
		saga_event.PaymentFailed{OrderID: orderID, Reason: "declined"},
		saga_event.OrderConfirmed{OrderID: orderID},
		saga_event.OrderCancelled{OrderID: orderID, Reason: "cancelled"},
		saga_event.OrderTimeout{OrderID: orderID},
	}

	var run func(prefix []int)
	run = func(prefix []int) {
		if len(prefix) == 4 {
			return
		}
		for i := range alphabet {
			sequence := append(append([]int{}, prefix...), i)
			state := started(t)
			reachedPayment := false
			var terminal model.Phase
			released := map[string]bool{}
			for _, j := range sequence {
				outcome := machine.Transition(state, alphabet[j], epoch)
				if terminal != "" {
					require.Equal(t, terminal, state.Phase, "sequence %v", sequence)
					require.Empty(t, outcome.Outbound, "sequence %v", sequence)
				}
				if state.Phase == model.PhasePendingPayment {
					reachedPayment = true
				}
				if state.Phase.IsTerminal() {
					terminal = state.Phase
				}
				for _, out := range outcome.Outbound {
					if r, ok := out.Message.(saga_event.ReleaseInventory); ok {
						released[r.ProductID] = true
					}
				}
			}
			if state.Phase == model.PhaseCancelled && reachedPayment {
				for _, item := range state.ReservedItems() {
					require.True(t, released[item.ProductID], "sequence %v did not release %s", sequence, item.ProductID)
				}
			}
			run(sequence)
		}
	}
	run(nil)
}
