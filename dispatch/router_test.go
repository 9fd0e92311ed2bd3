package dispatch

import (
	"context"
	"errors"
	"github.com/ARM-software/golang-utils/utils/commonerrors"
	"github.com/go-logr/logr"
	"github.com/rafata1/order-saga-outbox/bus"
	"github.com/rafata1/order-saga-outbox/saga_event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync/atomic"
	"testing"
	"time"
)

func busMessage(t *testing.T, id string, msg saga_event.Message) bus.Message {
	t.Helper()
	payload, err := saga_event.Encode(msg)
	require.NoError(t, err)
	return bus.Message{ID: id, Key: msg.CorrelationID(), Type: msg.Kind(), Payload: payload}
}

func TestRouter_RoutesTypedMessages(t *testing.T) {
	var confirmed []string
	router := NewRouter(logr.Discard()).
		Register(saga_event.KindConfirmOrder, On(func(_ context.Context, messageID string, cmd saga_event.ConfirmOrder) error {
			confirmed = append(confirmed, messageID+":"+cmd.OrderID)
			return nil
		}))

	require.NoError(t, router.Handle(context.Background(), busMessage(t, "m1", saga_event.ConfirmOrder{OrderID: "o1"})))
	require.NoError(t, router.Handle(context.Background(), busMessage(t, "m2", saga_event.CancelOrder{OrderID: "o1"})))

	assert.Equal(t, []string{"m1:o1"}, confirmed, "unregistered types are skipped")
	assert.Equal(t, []saga_event.Kind{saga_event.KindConfirmOrder}, router.Kinds())
}

func TestRouter_DropsUndecodableMessages(t *testing.T) {
	called := false
	router := NewRouter(logr.Discard()).
		Register(saga_event.KindConfirmOrder, On(func(context.Context, string, saga_event.ConfirmOrder) error {
			called = true
			return nil
		}))

	for _, payload := range []string{"{not json", `{"orderId":""}`} {
		err := router.Handle(context.Background(), bus.Message{ID: "m", Type: saga_event.KindConfirmOrder, Payload: []byte(payload)})
		assert.NoError(t, err)
	}
	assert.False(t, called)
}

func TestRouter_PropagatesHandlerErrors(t *testing.T) {
	router := NewRouter(logr.Discard()).
		Register(saga_event.KindConfirmOrder, On(func(context.Context, string, saga_event.ConfirmOrder) error {
			return commonerrors.ErrUnavailable
		}))
	err := router.Handle(context.Background(), busMessage(t, "m", saga_event.ConfirmOrder{OrderID: "o1"}))
	assert.ErrorIs(t, err, commonerrors.ErrUnavailable)
}

func TestOn_RejectsOtherMessageTypes(t *testing.T) {
	handler := On(func(context.Context, string, saga_event.ConfirmOrder) error { return nil })
	err := handler(context.Background(), "m", saga_event.CancelOrder{OrderID: "o1"})
	assert.True(t, commonerrors.Any(err, commonerrors.ErrInvalid))
}

var testPolicy = RetryPolicy{Delay: time.Millisecond, MaxDelay: 5 * time.Millisecond, NotFoundGrace: 50 * time.Millisecond}

func TestRetrying_RetriesTransientFailures(t *testing.T) {
	for _, transientErr := range []error{commonerrors.ErrUnavailable, commonerrors.ErrConflict, commonerrors.ErrLocked} {
		t.Run(transientErr.Error(), func(t *testing.T) {
			var attempts atomic.Int32
			handler := Retrying(func(context.Context, bus.Message) error {
				if attempts.Add(1) < 3 {
					return transientErr
				}
				return nil
			}, testPolicy, logr.Discard())

			require.NoError(t, handler(context.Background(), bus.Message{ID: "m"}))
			assert.EqualValues(t, 3, attempts.Load())
		})
	}
}

func TestRetrying_DropsPermanentFailures(t *testing.T) {
	var attempts atomic.Int32
	handler := Retrying(func(context.Context, bus.Message) error {
		attempts.Add(1)
		return errors.New("boom")
	}, testPolicy, logr.Discard())

	assert.NoError(t, handler(context.Background(), bus.Message{ID: "m"}))
	assert.EqualValues(t, 1, attempts.Load())
}

func TestRetrying_NotFoundRetriedWithinGrace(t *testing.T) {
	var attempts atomic.Int32
	handler := Retrying(func(context.Context, bus.Message) error {
		if attempts.Add(1) < 4 {
			return commonerrors.ErrNotFound
		}
		return nil
	}, testPolicy, logr.Discard())

	require.NoError(t, handler(context.Background(), bus.Message{ID: "m"}))
	assert.EqualValues(t, 4, attempts.Load())
}

func TestRetrying_NotFoundDroppedAfterGrace(t *testing.T) {
	var attempts atomic.Int32
	handler := Retrying(func(context.Context, bus.Message) error {
		attempts.Add(1)
		return commonerrors.ErrNotFound
	}, testPolicy, logr.Discard())

	start := time.Now()
	assert.NoError(t, handler(context.Background(), bus.Message{ID: "m"}))
	assert.GreaterOrEqual(t, time.Since(start), testPolicy.NotFoundGrace)
	assert.Greater(t, attempts.Load(), int32(1))
}

func TestRetrying_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	handler := Retrying(func(context.Context, bus.Message) error {
		return commonerrors.ErrUnavailable
	}, testPolicy, logr.Discard())

	err := handler(ctx, bus.Message{ID: "m"})
	assert.ErrorIs(t, err, context.DeadlineExceeded, "the message stays unacknowledged")
}
