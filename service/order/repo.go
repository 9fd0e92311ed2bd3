package order

import (
	"context"
	"github.com/jmoiron/sqlx"
	"github.com/rafata1/order-saga-outbox/model"
	"github.com/rafata1/order-saga-outbox/service/outbox"
	"github.com/rafata1/order-saga-outbox/store"
	"time"
)

type IRepo interface {
	Transact(ctx context.Context, fn func(ctx context.Context) error) error
	// CreateOrder inserts the order together with its items.
	CreateOrder(ctx context.Context, order model.Order) error
	GetOrder(ctx context.Context, id string) (model.Order, error)
	// UpdateStatus moves the order from one status to another and reports
	// whether it was in status from.
	UpdateStatus(ctx context.Context, id string, from model.OrderStatus, to model.OrderStatus, now time.Time) (bool, error)
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

var createOrderQuery = `INSERT INTO orders (id, customer_id, code, status, transaction_no, subtotal, total, order_date)
VALUES (:id, :customer_id, :code, :status, :transaction_no, :subtotal, :total, :order_date)`

var createOrderItemQuery = `INSERT INTO order_items (id, order_id, product_id, quantity, unit_price, subtotal, product_snapshot)
VALUES (:id, :order_id, :product_id, :quantity, :unit_price, :subtotal, :product_snapshot)`

func (r repo) CreateOrder(ctx context.Context, order model.Order) error {
	return store.Transact(ctx, r.db, func(ctx context.Context) error {
		conn := store.Conn(ctx, r.db)
		if _, err := conn.NamedExecContext(ctx, createOrderQuery, order); err != nil {
			return store.Unavailable(err)
		}
		for _, item := range order.Items {
			if _, err := conn.NamedExecContext(ctx, createOrderItemQuery, item); err != nil {
				return store.Unavailable(err)
			}
		}
		return nil
	})
}

var getOrderQuery = `SELECT id, customer_id, code, status, transaction_no, subtotal, total, order_date, updated_at
FROM orders WHERE id = ?`

var getOrderItemsQuery = `SELECT id, order_id, product_id, quantity, unit_price, subtotal, product_snapshot
FROM order_items WHERE order_id = ? ORDER BY id`

func (r repo) GetOrder(ctx context.Context, id string) (model.Order, error) {
	conn := store.Conn(ctx, r.db)
	var res model.Order
	if err := store.Get(ctx, conn, &res, getOrderQuery, id); err != nil {
		return res, err
	}
	err := conn.SelectContext(ctx, &res.Items, conn.Rebind(getOrderItemsQuery), id)
	return res, store.Unavailable(err)
}

var updateStatusQuery = "UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?"

func (r repo) UpdateStatus(ctx context.Context, id string, from model.OrderStatus, to model.OrderStatus, now time.Time) (bool, error) {
	n, err := store.Exec(ctx, store.Conn(ctx, r.db), updateStatusQuery, to, now, id, from)
	return n > 0, err
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
