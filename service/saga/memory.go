package saga

import (
	"context"
	"fmt"
	"github.com/ARM-software/golang-utils/utils/commonerrors"
	"github.com/rafata1/order-saga-outbox/model"
	"github.com/rafata1/order-saga-outbox/store"
)

func NewMemoryRepo(db *store.MemoryDB) IRepo {
	return &memoryRepo{
		db: db,
	}
}

type memoryRepo struct {
	db *store.MemoryDB
}

func (r memoryRepo) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.Transact(ctx, fn)
}

func (r memoryRepo) GetSaga(ctx context.Context, orderID string) (res model.SagaState, err error) {
	err = r.db.With(ctx, func(t *store.MemoryTables) error {
		state, ok := t.Sagas[orderID]
		if !ok {
			return fmt.Errorf("%w: saga of order %s", commonerrors.ErrNotFound, orderID)
		}
		res = state.Clone()
		return nil
	})
	return
}

func (r memoryRepo) LockSagaForUpdate(ctx context.Context, orderID string) (model.SagaState, error) {
	return r.GetSaga(ctx, orderID)
}

func (r memoryRepo) CreateSaga(ctx context.Context, state *model.SagaState) error {
	return r.db.With(ctx, func(t *store.MemoryTables) error {
		if _, ok := t.Sagas[state.OrderID]; ok {
			return fmt.Errorf("%w: saga of order %s already exists", commonerrors.ErrConflict, state.OrderID)
		}
		state.Version = 1
		t.Sagas[state.OrderID] = state.Clone()
		return nil
	})
}

func (r memoryRepo) SaveSaga(ctx context.Context, state *model.SagaState) error {
	return r.db.With(ctx, func(t *store.MemoryTables) error {
		stored, ok := t.Sagas[state.OrderID]
		if !ok || stored.Version != state.Version {
			return fmt.Errorf("%w: saga of order %s changed since version %d", commonerrors.ErrConflict, state.OrderID, state.Version)
		}
		state.Version++
		t.Sagas[state.OrderID] = state.Clone()
		return nil
	})
}

func (r memoryRepo) CreateOutbox(ctx context.Context, msgs ...model.OutboxMessage) error {
	return r.db.With(ctx, func(t *store.MemoryTables) error {
		t.AppendOutbox(msgs...)
		return nil
	})
}

func (r memoryRepo) IsProcessed(ctx context.Context, consumer string, messageID string) (res bool, err error) {
	err = r.db.With(ctx, func(t *store.MemoryTables) error {
		res = t.IsProcessed(consumer, messageID)
		return nil
	})
	return
}

func (r memoryRepo) MarkProcessed(ctx context.Context, msg model.ProcessedMessage) error {
	return r.db.With(ctx, func(t *store.MemoryTables) error {
		return t.MarkProcessed(msg)
	})
}
