package model

import (
	"database/sql"
	"github.com/shopspring/decimal"
	"time"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "Pending"
	OrderConfirmed OrderStatus = "Confirmed"
	OrderCancelled OrderStatus = "Cancelled"
)

type Order struct {
	ID            string          `db:"id" json:"id"`
	CustomerID    string          `db:"customer_id" json:"customerId"`
	Code          string          `db:"code" json:"code"`
	Status        OrderStatus     `db:"status" json:"status"`
	TransactionNo string          `db:"transaction_no" json:"transactionNo"`
	Subtotal      decimal.Decimal `db:"subtotal" json:"subtotal"`
	Total         decimal.Decimal `db:"total" json:"total"`
	OrderDate     time.Time       `db:"order_date" json:"orderDate"`
	UpdatedAt     sql.NullTime    `db:"updated_at" json:"-"`
	Items         []OrderItem     `db:"-" json:"items"`
}

// ProductSnapshot freezes the catalog attributes of a product at order time.
type ProductSnapshot struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type OrderItem struct {
	ID              string          `db:"id" json:"id"`
	OrderID         string          `db:"order_id" json:"orderId"`
	ProductID       string          `db:"product_id" json:"productId"`
	Quantity        int             `db:"quantity" json:"quantity"`
	UnitPrice       decimal.Decimal `db:"unit_price" json:"unitPrice"`
	Subtotal        decimal.Decimal `db:"subtotal" json:"subtotal"`
	ProductSnapshot []byte          `db:"product_snapshot" json:"productSnapshot"`
}
