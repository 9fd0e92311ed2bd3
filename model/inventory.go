package model

import (
	"database/sql"
	"github.com/shopspring/decimal"
)

type Inventory struct {
	ProductID   string          `db:"product_id"`
	ProductName string          `db:"product_name"`
	UnitPrice   decimal.Decimal `db:"unit_price"`
	Quantity    int             `db:"quantity"`
	CreatedAt   sql.NullTime    `db:"created_at"`
	UpdatedAt   sql.NullTime    `db:"updated_at"`
}

type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "reserved"
	ReservationReleased ReservationStatus = "released"
)

// InventoryReservation records the quantity of a product held for an order.
// One row per (order, product); release flips the status exactly once.
type InventoryReservation struct {
	OrderID   string            `db:"order_id"`
	ProductID string            `db:"product_id"`
	Quantity  int               `db:"quantity"`
	Status    ReservationStatus `db:"status"`
	CreatedAt sql.NullTime      `db:"created_at"`
	UpdatedAt sql.NullTime      `db:"updated_at"`
}
