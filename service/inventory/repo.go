package inventory

import (
	"context"
	"github.com/jmoiron/sqlx"
	"github.com/rafata1/order-saga-outbox/model"
	"github.com/rafata1/order-saga-outbox/service/outbox"
	"github.com/rafata1/order-saga-outbox/store"
	"time"
)

// IRepo covers the inventory and reservation tables of the order database.
// Lookups of a missing row fail with commonerrors.ErrNotFound.
type IRepo interface {
	Transact(ctx context.Context, fn func(ctx context.Context) error) error
	CreateInventory(ctx context.Context, inventory model.Inventory) error
	GetInventory(ctx context.Context, productID string) (model.Inventory, error)
	LockInventoryForUpdate(ctx context.Context, productID string) (model.Inventory, error)
	UpdateInventory(ctx context.Context, productID string, quantity int, now time.Time) error
	CreateReservation(ctx context.Context, reservation model.InventoryReservation) error
	LockReservationForUpdate(ctx context.Context, orderID string, productID string) (model.InventoryReservation, error)
	UpdateReservationStatus(ctx context.Context, orderID string, productID string, status model.ReservationStatus, now time.Time) error
	// LockOrderStatus reads the status of the order a reservation belongs to.
	LockOrderStatus(ctx context.Context, orderID string) (model.OrderStatus, error)
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

var createInventoryQuery = `INSERT INTO inventory (product_id, product_name, unit_price, quantity, created_at)
VALUES (:product_id, :product_name, :unit_price, :quantity, :created_at)`

func (r repo) CreateInventory(ctx context.Context, inventory model.Inventory) error {
	_, err := store.Conn(ctx, r.db).NamedExecContext(ctx, createInventoryQuery, inventory)
	return store.Unavailable(err)
}

var getInventoryQuery = "SELECT product_id, product_name, unit_price, quantity, created_at, updated_at FROM inventory WHERE product_id = ?"

func (r repo) GetInventory(ctx context.Context, productID string) (model.Inventory, error) {
	var res model.Inventory
	err := store.Get(ctx, store.Conn(ctx, r.db), &res, getInventoryQuery, productID)
	return res, err
}

var lockInventoryForUpdateQuery = getInventoryQuery + " FOR UPDATE"

func (r repo) LockInventoryForUpdate(ctx context.Context, productID string) (model.Inventory, error) {
	var res model.Inventory
	err := store.Get(ctx, store.Conn(ctx, r.db), &res, lockInventoryForUpdateQuery, productID)
	return res, err
}

var updateInventoryQuery = "UPDATE inventory SET quantity = ?, updated_at = ? WHERE product_id = ?"

func (r repo) UpdateInventory(ctx context.Context, productID string, quantity int, now time.Time) error {
	_, err := store.Exec(ctx, store.Conn(ctx, r.db), updateInventoryQuery, quantity, now, productID)
	return err
}

var createReservationQuery = `INSERT INTO inventory_reservations (order_id, product_id, quantity, status, created_at)
VALUES (:order_id, :product_id, :quantity, :status, :created_at)`

func (r repo) CreateReservation(ctx context.Context, reservation model.InventoryReservation) error {
	_, err := store.Conn(ctx, r.db).NamedExecContext(ctx, createReservationQuery, reservation)
	return store.Unavailable(err)
}

var lockReservationForUpdateQuery = `SELECT order_id, product_id, quantity, status, created_at, updated_at
FROM inventory_reservations WHERE order_id = ? AND product_id = ? FOR UPDATE`

func (r repo) LockReservationForUpdate(ctx context.Context, orderID string, productID string) (model.InventoryReservation, error) {
	var res model.InventoryReservation
	err := store.Get(ctx, store.Conn(ctx, r.db), &res, lockReservationForUpdateQuery, orderID, productID)
	return res, err
}

var updateReservationStatusQuery = "UPDATE inventory_reservations SET status = ?, updated_at = ? WHERE order_id = ? AND product_id = ?"

func (r repo) UpdateReservationStatus(ctx context.Context, orderID string, productID string, status model.ReservationStatus, now time.Time) error {
	_, err := store.Exec(ctx, store.Conn(ctx, r.db), updateReservationStatusQuery, status, now, orderID, productID)
	return err
}

var lockOrderStatusQuery = "SELECT status FROM orders WHERE id = ? FOR UPDATE"

func (r repo) LockOrderStatus(ctx context.Context, orderID string) (model.OrderStatus, error) {
	var res model.OrderStatus
	err := store.Get(ctx, store.Conn(ctx, r.db), &res, lockOrderStatusQuery, orderID)
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
