package saga

import (
	"context"
	"fmt"
	"github.com/ARM-software/golang-utils/utils/commonerrors"
	"github.com/go-logr/logr"
	"github.com/rafata1/order-saga-outbox/config"
	"github.com/rafata1/order-saga-outbox/model"
	"github.com/rafata1/order-saga-outbox/saga_event"
	"time"
)

const Consumer = "orchestrator"

// ErrSagaNotFound is returned for a message about an order whose saga has not
// started yet. It matches commonerrors.ErrNotFound.
var ErrSagaNotFound = fmt.Errorf("%w: saga", commonerrors.ErrNotFound)

type IService interface {
	// Handle applies one inbound message to the saga of its order. Loading the
	// saga, saving it, queueing the resulting commands and recording messageID
	// as processed happen in one transaction.
	Handle(ctx context.Context, messageID string, msg saga_event.Message) error
	GetSaga(ctx context.Context, orderID string) (model.SagaState, error)
}

func NewService(repo IRepo, cfg config.SagaConfig, logger logr.Logger) IService {
	return &service{
		repo:    repo,
		machine: Machine{Timeout: cfg.Timeout},
		logger:  logger,
		now:     time.Now,
	}
}

type service struct {
	repo    IRepo
	machine Machine
	logger  logr.Logger
	now     func() time.Time
}

func (s service) Handle(ctx context.Context, messageID string, msg saga_event.Message) error {
	orderID := msg.CorrelationID()
	logger := s.logger.WithValues("orderID", orderID, "messageID", messageID, "type", msg.Kind())

	return s.repo.Transact(ctx, func(ctx context.Context) error {
		processed, err := s.repo.IsProcessed(ctx, Consumer, messageID)
		if err != nil {
			return err
		}
		if processed {
			logger.V(1).Info("duplicate message ignored")
			return nil
		}

		created := false
		state, err := s.repo.LockSagaForUpdate(ctx, orderID)
		switch {
		case err == nil:
		case commonerrors.Any(err, commonerrors.ErrNotFound) && msg.Kind() == saga_event.KindPlaceOrder:
			state = model.SagaState{OrderID: orderID}
			created = true
		case commonerrors.Any(err, commonerrors.ErrNotFound):
			return fmt.Errorf("%w: order %s", ErrSagaNotFound, orderID)
		default:
			return err
		}

		now := s.now()
		from := state.Phase
		outcome := s.machine.Transition(&state, msg, now)
		if outcome.Changed {
			if err = s.save(ctx, &state, created); err != nil {
				return err
			}
			if err = s.emit(ctx, outcome.Outbound, now); err != nil {
				return err
			}
			logger.Info("saga advanced", "from", from, "phase", state.Phase, "commands", len(outcome.Outbound))
		} else {
			logger.V(1).Info("message does not apply to saga, discarded", "phase", state.Phase)
		}
		return s.repo.MarkProcessed(ctx, model.ProcessedMessage{Consumer: Consumer, MessageID: messageID, ProcessedAt: now})
	})
}

func (s service) save(ctx context.Context, state *model.SagaState, created bool) error {
	if created {
		return s.repo.CreateSaga(ctx, state)
	}
	return s.repo.SaveSaga(ctx, state)
}

func (s service) emit(ctx context.Context, outbound []Outbound, now time.Time) error {
	if len(outbound) == 0 {
		return nil
	}
	msgs := make([]model.OutboxMessage, 0, len(outbound))
	for _, out := range outbound {
		msg, err := saga_event.NewDelayedOutboxMessage(saga_event.AggregateSaga, out.Message, now, out.Delay)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	return s.repo.CreateOutbox(ctx, msgs...)
}

func (s service) GetSaga(ctx context.Context, orderID string) (model.SagaState, error) {
	return s.repo.GetSaga(ctx, orderID)
}
