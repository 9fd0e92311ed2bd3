package order

import (
	"context"
	"database/sql"
	"fmt"
	"github.com/ARM-software/golang-utils/utils/commonerrors"
	"github.com/rafata1/order-saga-outbox/model"
	"github.com/rafata1/order-saga-outbox/store"
	"slices"
	"time"
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

func (r memoryRepo) CreateOrder(ctx context.Context, order model.Order) error {
	return r.db.With(ctx, func(t *store.MemoryTables) error {
		if _, ok := t.Orders[order.ID]; ok {
			return fmt.Errorf("%w: order %s already exists", commonerrors.ErrConflict, order.ID)
		}
		order.Items = slices.Clone(order.Items)
		t.Orders[order.ID] = order
		return nil
	})
}

func (r memoryRepo) GetOrder(ctx context.Context, id string) (res model.Order, err error) {
	err = r.db.With(ctx, func(t *store.MemoryTables) error {
		order, ok := t.Orders[id]
		if !ok {
			return fmt.Errorf("%w: order %s", commonerrors.ErrNotFound, id)
		}
		res = order
		res.Items = slices.Clone(order.Items)
		return nil
	})
	return
}

func (r memoryRepo) UpdateStatus(ctx context.Context, id string, from model.OrderStatus, to model.OrderStatus, now time.Time) (updated bool, err error) {
	err = r.db.With(ctx, func(t *store.MemoryTables) error {
		order, ok := t.Orders[id]
		if !ok || order.Status != from {
			return nil
		}
		order.Status = to
		order.UpdatedAt = sql.NullTime{Time: now, Valid: true}
		t.Orders[id] = order
		updated = true
		return nil
	})
	return
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
