package saga

import (
	"context"
	"github.com/ARM-software/golang-utils/utils/commonerrors"
	"github.com/go-faker/faker/v4"
	"github.com/go-logr/logr"
	"github.com/rafata1/order-saga-outbox/bus"
	"github.com/rafata1/order-saga-outbox/config"
	"github.com/rafata1/order-saga-outbox/model"
	"github.com/rafata1/order-saga-outbox/saga_event"
	"github.com/rafata1/order-saga-outbox/service/outbox"
	"github.com/rafata1/order-saga-outbox/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

type fixture struct {
	svc   *service
	db    *store.MemoryDB
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := store.NewMemoryDB()
	f := &fixture{db: db, clock: epoch}
	f.svc = &service{
		repo:    NewMemoryRepo(db),
		machine: Machine{Timeout: config.DefaultConfig().Saga.Timeout},
		logger:  logr.Discard(),
		now:     func() time.Time { return f.clock },
	}
	return f
}

func (f *fixture) handle(t *testing.T, msg saga_event.Message) {
	t.Helper()
	require.NoError(t, f.svc.Handle(context.Background(), faker.UUIDHyphenated(), msg))
}

func (f *fixture) outbox(t *testing.T) []model.OutboxMessage {
	t.Helper()
	var res []model.OutboxMessage
	require.NoError(t, f.db.With(context.Background(), func(tables *store.MemoryTables) error {
		res = append(res, tables.Outbox...)
		return nil
	}))
	return res
}

func (f *fixture) commands(t *testing.T, from int) []saga_event.Message {
	t.Helper()
	var res []saga_event.Message
	for _, row := range f.outbox(t)[from:] {
		assert.Equal(t, saga_event.AggregateSaga, row.AggregateType)
		msg, err := saga_event.Decode(saga_event.Kind(row.Type), row.Payload)
		require.NoError(t, err)
		res = append(res, msg)
	}
	return res
}

func (f *fixture) saga(t *testing.T) model.SagaState {
	t.Helper()
	state, err := f.svc.GetSaga(context.Background(), orderID)
	require.NoError(t, err)
	return state
}

func TestHandle_PlaceOrderPersistsSagaAndQueuesCommands(t *testing.T) {
	f := newFixture(t)
	f.handle(t, placeOrder(item("P", 2, 10)))

	state := f.saga(t)
	assert.Equal(t, model.PhasePendingInventory, state.Phase)
	assert.EqualValues(t, 1, state.Version)

	rows := f.outbox(t)
	require.Len(t, rows, 2)
	assert.Equal(t, string(saga_event.KindReserveInventory), rows[0].Type)
	assert.Equal(t, epoch, rows[0].AvailableAt)
	assert.Equal(t, string(saga_event.KindOrderTimeout), rows[1].Type)
	assert.Equal(t, epoch.Add(30*time.Second), rows[1].AvailableAt, "the timeout is a delayed message")
	assert.Equal(t, orderID, rows[1].AggregateID)
}

// InventoryReserved then PaymentFailed: the saga releases and cancels.
func TestHandle_PaymentFailedCompensates(t *testing.T) {
	f := newFixture(t)
	f.handle(t, placeOrder(item("P", 2, 10)))
	f.handle(t, saga_event.InventoryReserved{OrderID: orderID, ProductID: "P", Quantity: 2})
	before := len(f.outbox(t))

	f.handle(t, saga_event.PaymentFailed{OrderID: orderID, Reason: "PaymentFailed reason text"})

	assert.Equal(t, []saga_event.Message{
		saga_event.ReleaseInventory{OrderID: orderID, ProductID: "P", Quantity: 2},
		saga_event.CancelOrder{OrderID: orderID},
	}, f.commands(t, before))
	state := f.saga(t)
	assert.Equal(t, model.PhaseCancelled, state.Phase)
	assert.Equal(t, model.PhasePaymentFailed, state.FailedPhase)
	assert.Equal(t, "PaymentFailed reason text", state.FailureReason)
	assert.True(t, state.Completed)
	assert.EqualValues(t, 3, state.Version)
}

// A reason wider than the failure_reason column is cut, not rejected.
func TestHandle_LongFailureReasonIsTruncated(t *testing.T) {
	f := newFixture(t)
	f.handle(t, placeOrder(item("P", 2, 10)))
	f.handle(t, saga_event.InventoryReserved{OrderID: orderID, ProductID: "P", Quantity: 2})
	before := len(f.outbox(t))

	reason := strings.Repeat("é", 1024)
	f.handle(t, saga_event.PaymentFailed{OrderID: orderID, Reason: reason})

	state := f.saga(t)
	assert.Equal(t, model.PhaseCancelled, state.Phase)
	assert.Equal(t, maxReasonLength, utf8.RuneCountInString(state.FailureReason))
	assert.True(t, strings.HasPrefix(reason, state.FailureReason))
	assert.Len(t, f.commands(t, before), 2)
}

// No inventory response arrives: the delayed OrderTimeout is relayed once
// due and cancels the saga.
func TestHandle_TimeoutCancels(t *testing.T) {
	f := newFixture(t)
	f.handle(t, placeOrder(item("P", 2, 10)))

	memoryBus := bus.NewInMemoryBus()
	memoryBus.Register(func(ctx context.Context, msg bus.Message) error {
		if !Handles(msg.Type) {
			return nil
		}
		decoded, err := saga_event.Decode(msg.Type, msg.Payload)
		if err != nil {
			return err
		}
		return f.svc.Handle(ctx, msg.ID, decoded)
	})
	relay := outbox.NewRelay(outbox.NewMemoryRepo(f.db), memoryBus, "outbox-events", config.DefaultConfig().Outbox, logr.Discard(),
		outbox.WithClock(func() time.Time { return f.clock }))

	n, err := relay.RelayMessage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the reserve command is due")
	assert.Equal(t, model.PhasePendingInventory, f.saga(t).Phase)
	before := len(f.outbox(t))

	f.clock = epoch.Add(31 * time.Second)
	n, err = relay.RelayMessage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	state := f.saga(t)
	assert.Equal(t, model.PhaseCancelled, state.Phase)
	assert.Equal(t, model.PhaseTimedOut, state.FailedPhase)
	assert.Equal(t, "Timeout", state.FailureReason)
	assert.Equal(t, []saga_event.Message{
		saga_event.ReleaseInventory{OrderID: orderID, ProductID: "P", Quantity: 2},
		saga_event.CancelOrder{OrderID: orderID},
	}, f.commands(t, before))
}

// OrderConfirmed delivered again after completion changes nothing.
func TestHandle_DuplicateConfirmationAfterCompletion(t *testing.T) {
	f := newFixture(t)
	f.handle(t, placeOrder(item("P", 2, 10)))
	f.handle(t, saga_event.InventoryReserved{OrderID: orderID, ProductID: "P", Quantity: 2})
	f.handle(t, saga_event.PaymentProcessed{OrderID: orderID, TransactionID: "tx"})
	f.handle(t, saga_event.OrderConfirmed{OrderID: orderID})
	completed := f.saga(t)
	require.Equal(t, model.PhaseCompleted, completed.Phase)
	before := len(f.outbox(t))

	f.clock = epoch.Add(time.Hour)
	f.handle(t, saga_event.OrderConfirmed{OrderID: orderID})
	f.handle(t, saga_event.OrderTimeout{OrderID: orderID})

	assert.Equal(t, completed, f.saga(t))
	assert.Len(t, f.outbox(t), before)
}

func TestHandle_SameMessageIsAppliedOnce(t *testing.T) {
	f := newFixture(t)
	f.handle(t, placeOrder(item("P", 1, 10), item("Q", 1, 10)))
	before := len(f.outbox(t))

	messageID := faker.UUIDHyphenated()
	reserved := saga_event.InventoryReserved{OrderID: orderID, ProductID: "P", Quantity: 1}
	require.NoError(t, f.svc.Handle(context.Background(), messageID, reserved))
	version := f.saga(t).Version
	require.NoError(t, f.svc.Handle(context.Background(), messageID, reserved))

	assert.Equal(t, version, f.saga(t).Version)
	assert.Len(t, f.outbox(t), before)
}

func TestHandle_UnknownOrder(t *testing.T) {
	f := newFixture(t)
	messageID := faker.UUIDHyphenated()
	reserved := saga_event.InventoryReserved{OrderID: orderID, ProductID: "P", Quantity: 2}

	err := f.svc.Handle(context.Background(), messageID, reserved)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSagaNotFound)
	assert.True(t, commonerrors.Any(err, commonerrors.ErrNotFound))
	assert.Empty(t, f.outbox(t))

	// the message was not recorded, so a redelivery after the start applies
	f.handle(t, placeOrder(item("P", 2, 10)))
	require.NoError(t, f.svc.Handle(context.Background(), messageID, reserved))
	assert.Equal(t, model.PhasePendingPayment, f.saga(t).Phase)
}

func TestHandle_ConcurrentMessagesForOneOrder(t *testing.T) {
	f := newFixture(t)
	products := []string{"A", "B", "C", "D", "E", "F", "G", "H"}
	var items []saga_event.OrderItem
	for _, p := range products {
		items = append(items, item(p, 1, 1))
	}
	f.handle(t, placeOrder(items...))
	before := len(f.outbox(t))

	var wg sync.WaitGroup
	for _, p := range products {
		wg.Add(1)
		go func(productID string) {
			defer wg.Done()
			assert.NoError(t, f.svc.Handle(context.Background(), faker.UUIDHyphenated(), saga_event.InventoryReserved{OrderID: orderID, ProductID: productID, Quantity: 1}))
		}(p)
	}
	wg.Wait()

	state := f.saga(t)
	assert.Equal(t, model.PhasePendingPayment, state.Phase)
	assert.EqualValues(t, 1+len(products), state.Version, "every message was applied on top of the previous one")
	cmds := f.commands(t, before)
	require.Len(t, cmds, 1)
	assert.IsType(t, saga_event.ProcessPayment{}, cmds[0])
}

func TestMemoryRepo_SaveSagaRejectsStaleVersion(t *testing.T) {
	repo := NewMemoryRepo(store.NewMemoryDB())
	ctx := context.Background()

	state := &model.SagaState{OrderID: orderID, Phase: model.PhasePendingInventory}
	require.NoError(t, repo.CreateSaga(ctx, state))
	assert.True(t, commonerrors.Any(repo.CreateSaga(ctx, &model.SagaState{OrderID: orderID}), commonerrors.ErrConflict))

	first, err := repo.GetSaga(ctx, orderID)
	require.NoError(t, err)
	second, err := repo.GetSaga(ctx, orderID)
	require.NoError(t, err)

	first.Phase = model.PhasePendingPayment
	require.NoError(t, repo.SaveSaga(ctx, &first))
	assert.EqualValues(t, 2, first.Version)

	second.Phase = model.PhaseCancelled
	err = repo.SaveSaga(ctx, &second)
	assert.True(t, commonerrors.Any(err, commonerrors.ErrConflict))

	stored, err := repo.GetSaga(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, model.PhasePendingPayment, stored.Phase)
}
