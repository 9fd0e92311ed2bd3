package payment

import (
	"context"
	"database/sql"
	"fmt"
	"github.com/ARM-software/golang-utils/utils/commonerrors"
	"github.com/rafata1/order-saga-outbox/model"
	"github.com/rafata1/order-saga-outbox/store"
	"github.com/shopspring/decimal"
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

func (r memoryRepo) CreateAccount(ctx context.Context, account model.Account) error {
	return r.db.With(ctx, func(t *store.MemoryTables) error {
		if _, ok := t.Accounts[account.CustomerID]; ok {
			return fmt.Errorf("%w: account of %s already exists", commonerrors.ErrConflict, account.CustomerID)
		}
		t.Accounts[account.CustomerID] = account
		return nil
	})
}

func (r memoryRepo) GetAccount(ctx context.Context, customerID string) (res model.Account, err error) {
	err = r.db.With(ctx, func(t *store.MemoryTables) error {
		account, ok := t.Accounts[customerID]
		if !ok {
			return fmt.Errorf("%w: account of %s", commonerrors.ErrNotFound, customerID)
		}
		res = account
		return nil
	})
	return
}

func (r memoryRepo) LockAccountForUpdate(ctx context.Context, customerID string) (model.Account, error) {
	return r.GetAccount(ctx, customerID)
}

func (r memoryRepo) UpdateBalance(ctx context.Context, customerID string, balance decimal.Decimal, now time.Time) error {
	return r.db.With(ctx, func(t *store.MemoryTables) error {
		account, ok := t.Accounts[customerID]
		if !ok {
			return fmt.Errorf("%w: account of %s", commonerrors.ErrNotFound, customerID)
		}
		account.Balance = balance
		account.UpdatedAt = sql.NullTime{Time: now, Valid: true}
		t.Accounts[customerID] = account
		return nil
	})
}

func (r memoryRepo) CreatePayment(ctx context.Context, payment model.Payment) error {
	return r.db.With(ctx, func(t *store.MemoryTables) error {
		if _, ok := t.Payments[payment.OrderID]; ok {
			return fmt.Errorf("%w: payment of order %s already exists", commonerrors.ErrConflict, payment.OrderID)
		}
		t.Payments[payment.OrderID] = payment
		return nil
	})
}

func (r memoryRepo) GetPayment(ctx context.Context, orderID string) (res model.Payment, err error) {
	err = r.db.With(ctx, func(t *store.MemoryTables) error {
		payment, ok := t.Payments[orderID]
		if !ok {
			return fmt.Errorf("%w: payment of order %s", commonerrors.ErrNotFound, orderID)
		}
		res = payment
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
