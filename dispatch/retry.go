package dispatch

import (
	"context"
	"github.com/ARM-software/golang-utils/utils/commonerrors"
	"github.com/avast/retry-go/v4"
	"github.com/go-logr/logr"
	"github.com/rafata1/order-saga-outbox/bus"
	"time"
)

type RetryPolicy struct {
	Delay    time.Duration
	MaxDelay time.Duration
	// NotFoundGrace is how long a message about a not yet known order is
	// retried before it is dropped.
	NotFoundGrace time.Duration
}

func DefaultRetryPolicy(notFoundGrace time.Duration) RetryPolicy {
	return RetryPolicy{
		Delay:         100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		NotFoundGrace: notFoundGrace,
	}
}

func transient(err error) bool {
	return commonerrors.Any(err, commonerrors.ErrUnavailable, commonerrors.ErrConflict, commonerrors.ErrLocked, commonerrors.ErrTimeout)
}

// Retrying wraps handler so transient failures are retried with backoff until
// ctx ends. Messages that keep failing for any other reason are logged and
// acknowledged, so one poison message cannot stall its partition.
func Retrying(handler bus.Handler, policy RetryPolicy, logger logr.Logger) bus.Handler {
	return func(ctx context.Context, msg bus.Message) error {
		start := time.Now()
		err := retry.Do(
			func() error {
				return handler(ctx, msg)
			},
			retry.Context(ctx),
			retry.Attempts(0),
			retry.Delay(policy.Delay),
			retry.MaxDelay(policy.MaxDelay),
			retry.DelayType(retry.BackOffDelay),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool {
				if commonerrors.Any(err, commonerrors.ErrNotFound) {
					return time.Since(start) < policy.NotFoundGrace
				}
				return transient(err)
			}),
			retry.OnRetry(func(n uint, err error) {
				logger.V(1).Info("Retrying message", "messageID", msg.ID, "type", msg.Type, "attempt", n+1, "reason", err.Error())
			}),
		)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			// unacknowledged: delivered again after restart
			return ctx.Err()
		}
		logger.Error(err, "Dropping message", "messageID", msg.ID, "type", msg.Type, "key", msg.Key)
		return nil
	}
}
