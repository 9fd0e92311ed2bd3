package model

import (
	"database/sql"
	"github.com/shopspring/decimal"
)

type Account struct {
	CustomerID string          `db:"customer_id"`
	Balance    decimal.Decimal `db:"balance"`
	CreatedAt  sql.NullTime    `db:"created_at"`
	UpdatedAt  sql.NullTime    `db:"updated_at"`
}

type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentDeclined  PaymentStatus = "declined"
)

type Payment struct {
	OrderID       string          `db:"order_id"`
	CustomerID    string          `db:"customer_id"`
	TransactionID string          `db:"transaction_id"`
	Amount        decimal.Decimal `db:"amount"`
	Status        PaymentStatus   `db:"status"`
	Reason        string          `db:"reason"`
	CreatedAt     sql.NullTime    `db:"created_at"`
}
