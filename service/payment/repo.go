package payment

import (
	"context"
	"github.com/jmoiron/sqlx"
	"github.com/rafata1/order-saga-outbox/model"
	"github.com/rafata1/order-saga-outbox/service/outbox"
	"github.com/rafata1/order-saga-outbox/store"
	"github.com/shopspring/decimal"
	"time"
)

type IRepo interface {
	Transact(ctx context.Context, fn func(ctx context.Context) error) error
	CreateAccount(ctx context.Context, account model.Account) error
	GetAccount(ctx context.Context, customerID string) (model.Account, error)
	LockAccountForUpdate(ctx context.Context, customerID string) (model.Account, error)
	UpdateBalance(ctx context.Context, customerID string, balance decimal.Decimal, now time.Time) error
	CreatePayment(ctx context.Context, payment model.Payment) error
	GetPayment(ctx context.Context, orderID string) (model.Payment, error)
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

var createAccountQuery = "INSERT INTO accounts (customer_id, balance, created_at) VALUES (:customer_id, :balance, :created_at)"

func (r repo) CreateAccount(ctx context.Context, account model.Account) error {
	_, err := store.Conn(ctx, r.db).NamedExecContext(ctx, createAccountQuery, account)
	return store.Unavailable(err)
}

var getAccountQuery = "SELECT customer_id, balance, created_at, updated_at FROM accounts WHERE customer_id = ?"

func (r repo) GetAccount(ctx context.Context, customerID string) (model.Account, error) {
	var res model.Account
	err := store.Get(ctx, store.Conn(ctx, r.db), &res, getAccountQuery, customerID)
	return res, err
}

var lockAccountForUpdateQuery = getAccountQuery + " FOR UPDATE"

func (r repo) LockAccountForUpdate(ctx context.Context, customerID string) (model.Account, error) {
	var res model.Account
	err := store.Get(ctx, store.Conn(ctx, r.db), &res, lockAccountForUpdateQuery, customerID)
	return res, err
}

var updateBalanceQuery = "UPDATE accounts SET balance = ?, updated_at = ? WHERE customer_id = ?"

func (r repo) UpdateBalance(ctx context.Context, customerID string, balance decimal.Decimal, now time.Time) error {
	_, err := store.Exec(ctx, store.Conn(ctx, r.db), updateBalanceQuery, balance, now, customerID)
	return err
}

var createPaymentQuery = `INSERT INTO payments (order_id, customer_id, transaction_id, amount, status, reason, created_at)
VALUES (:order_id, :customer_id, :transaction_id, :amount, :status, :reason, :created_at)`

func (r repo) CreatePayment(ctx context.Context, payment model.Payment) error {
	_, err := store.Conn(ctx, r.db).NamedExecContext(ctx, createPaymentQuery, payment)
	return store.Unavailable(err)
}

var getPaymentQuery = "SELECT order_id, customer_id, transaction_id, amount, status, reason, created_at FROM payments WHERE order_id = ?"

func (r repo) GetPayment(ctx context.Context, orderID string) (model.Payment, error) {
	var res model.Payment
	err := store.Get(ctx, store.Conn(ctx, r.db), &res, getPaymentQuery, orderID)
	return res, err
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
