package saga

import (
	"context"
	"fmt"
	"github.com/ARM-software/golang-utils/utils/commonerrors"
	"github.com/jmoiron/sqlx"
	"github.com/rafata1/order-saga-outbox/model"
	"github.com/rafata1/order-saga-outbox/service/outbox"
	"github.com/rafata1/order-saga-outbox/store"
)

// IRepo stores saga states and the orchestrator's outbox. Every save is a
// compare-and-swap on the version, so two writers of one saga cannot both win.
type IRepo interface {
	Transact(ctx context.Context, fn func(ctx context.Context) error) error
	GetSaga(ctx context.Context, orderID string) (model.SagaState, error)
	LockSagaForUpdate(ctx context.Context, orderID string) (model.SagaState, error)
	// CreateSaga inserts state at version 1, failing with commonerrors.ErrConflict if it exists.
	CreateSaga(ctx context.Context, state *model.SagaState) error
	// SaveSaga writes state if the stored version is still state.Version, then
	// bumps state.Version. A stale version fails with commonerrors.ErrConflict.
	SaveSaga(ctx context.Context, state *model.SagaState) error
	CreateOutbox(ctx context.Context, msgs ...model.OutboxMessage) error
	IsProcessed(ctx context.Context, consumer string, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, msg model.ProcessedMessage) error
}

func NewRepo(db *sqlx.DB) IRepo {
	return &repo{
		db: db,
	}
}

type repo struct {
	db *sqlx.DB
}

func (r repo) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	return store.Transact(ctx, r.db, fn)
}

var getSagaQuery = `SELECT order_id, customer_id, phase, failed_phase, failure_reason, total_amount, inventory_reserved,
payment_processed, order_confirmed, completed, items, version, created_at, updated_at
FROM saga_states WHERE order_id = ?`

func (r repo) GetSaga(ctx context.Context, orderID string) (model.SagaState, error) {
	var res model.SagaState
	err := store.Get(ctx, store.Conn(ctx, r.db), &res, getSagaQuery, orderID)
	return res, err
}

var lockSagaForUpdateQuery = getSagaQuery + " FOR UPDATE"

func (r repo) LockSagaForUpdate(ctx context.Context, orderID string) (model.SagaState, error) {
	var res model.SagaState
	err := store.Get(ctx, store.Conn(ctx, r.db), &res, lockSagaForUpdateQuery, orderID)
	return res, err
}

var createSagaQuery = `INSERT INTO saga_states (order_id, customer_id, phase, failed_phase, failure_reason, total_amount,
inventory_reserved, payment_processed, order_confirmed, completed, items, version, created_at, updated_at)
VALUES (:order_id, :customer_id, :phase, :failed_phase, :failure_reason, :total_amount,
:inventory_reserved, :payment_processed, :order_confirmed, :completed, :items, :version, :created_at, :updated_at)`

func (r repo) CreateSaga(ctx context.Context, state *model.SagaState) error {
	created := *state
	created.Version = 1
	_, err := store.Conn(ctx, r.db).NamedExecContext(ctx, createSagaQuery, created)
	if store.IsDuplicate(err) {
		return fmt.Errorf("%w: saga of order %s already exists", commonerrors.ErrConflict, state.OrderID)
	}
	if err != nil {
		return store.Unavailable(err)
	}
	state.Version = 1
	return nil
}

var saveSagaQuery = `UPDATE saga_states SET customer_id = :customer_id, phase = :phase, failed_phase = :failed_phase,
failure_reason = :failure_reason, total_amount = :total_amount, inventory_reserved = :inventory_reserved,
payment_processed = :payment_processed, order_confirmed = :order_confirmed, completed = :completed, items = :items,
version = version + 1, updated_at = :updated_at
WHERE order_id = :order_id AND version = :version`

func (r repo) SaveSaga(ctx context.Context, state *model.SagaState) error {
	res, err := store.Conn(ctx, r.db).NamedExecContext(ctx, saveSagaQuery, state)
	if err != nil {
		return store.Unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.Unavailable(err)
	}
	if n == 0 {
		return fmt.Errorf("%w: saga of order %s changed since version %d", commonerrors.ErrConflict, state.OrderID, state.Version)
	}
	state.Version++
	return nil
}

func (r repo) CreateOutbox(ctx context.Context, msgs ...model.OutboxMessage) error {
	return outbox.Insert(ctx, store.Conn(ctx, r.db), msgs...)
}

func (r repo) IsProcessed(ctx context.Context, consumer string, messageID string) (bool, error) {
	return store.IsProcessed(ctx, store.Conn(ctx, r.db), consumer, messageID)
}

func (r repo) MarkProcessed(ctx context.Context, msg model.ProcessedMessage) error {
	return store.MarkProcessed(ctx, store.Conn(ctx, r.db), msg)
}
