package saga_event

import (
	"github.com/shopspring/decimal"
	"time"
)

type Kind string

// Commands
const (
	KindPlaceOrder       Kind = "PlaceOrder"
	KindReserveInventory Kind = "ReserveInventory"
	KindReleaseInventory Kind = "ReleaseInventory"
	KindProcessPayment   Kind = "ProcessPayment"
	KindConfirmOrder     Kind = "ConfirmOrder"
	KindCancelOrder      Kind = "CancelOrder"
	KindOrderTimeout     Kind = "OrderTimeout"
)

// Events
const (
	KindOrderCreated               Kind = "OrderCreated"
	KindInventoryReserved          Kind = "InventoryReserved"
	KindInventoryReservationFailed Kind = "InventoryReservationFailed"
	KindPaymentProcessed           Kind = "PaymentProcessed"
	KindPaymentFailed              Kind = "PaymentFailed"
	KindOrderConfirmed             Kind = "OrderConfirmed"
	KindOrderCancelled             Kind = "OrderCancelled"
)

func (k Kind) String() string {
	return string(k)
}

func (k Kind) IsCommand() bool {
	switch k {
	case KindPlaceOrder, KindReserveInventory, KindReleaseInventory, KindProcessPayment,
		KindConfirmOrder, KindCancelOrder, KindOrderTimeout:
		return true
	}
	return false
}

// Message is implemented by every command and event of the catalog.
// CorrelationID is the order id the message belongs to.
type Message interface {
	Kind() Kind
	CorrelationID() string
}

type OrderItem struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type PlaceOrder struct {
	OrderID string      `json:"orderId"`
	UserID  string      `json:"userId"`
	Items   []OrderItem `json:"items"`
}

type ReserveInventory struct {
	OrderID   string `json:"orderId"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type ReleaseInventory struct {
	OrderID   string `json:"orderId"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type ProcessPayment struct {
	OrderID string          `json:"orderId"`
	Amount  decimal.Decimal `json:"amount"`
	UserID  string          `json:"userId"`
}

type ConfirmOrder struct {
	OrderID string `json:"orderId"`
}

type CancelOrder struct {
	OrderID string `json:"orderId"`
}

// OrderTimeout is sent by the orchestrator to itself with a delivery delay.
type OrderTimeout struct {
	OrderID string `json:"orderId"`
}

type OrderCreated struct {
	OrderID     string          `json:"orderId"`
	UserID      string          `json:"userId"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type InventoryReserved struct {
	OrderID   string `json:"orderId"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type InventoryReservationFailed struct {
	OrderID           string `json:"orderId"`
	ProductID         string `json:"productId"`
	RequestedQuantity int    `json:"requestedQuantity"`
	Reason            string `json:"reason"`
}

type PaymentProcessed struct {
	OrderID       string          `json:"orderId"`
	Amount        decimal.Decimal `json:"amount"`
	UserID        string          `json:"userId"`
	TransactionID string          `json:"transactionId"`
}

type PaymentFailed struct {
	OrderID string          `json:"orderId"`
	Amount  decimal.Decimal `json:"amount"`
	UserID  string          `json:"userId"`
	Reason  string          `json:"reason"`
}

type OrderConfirmed struct {
	OrderID string `json:"orderId"`
}

type OrderCancelled struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

func (m PlaceOrder) Kind() Kind                 { return KindPlaceOrder }
func (m ReserveInventory) Kind() Kind           { return KindReserveInventory }
func (m ReleaseInventory) Kind() Kind           { return KindReleaseInventory }
func (m ProcessPayment) Kind() Kind             { return KindProcessPayment }
func (m ConfirmOrder) Kind() Kind               { return KindConfirmOrder }
func (m CancelOrder) Kind() Kind                { return KindCancelOrder }
func (m OrderTimeout) Kind() Kind               { return KindOrderTimeout }
func (m OrderCreated) Kind() Kind               { return KindOrderCreated }
func (m InventoryReserved) Kind() Kind          { return KindInventoryReserved }
func (m InventoryReservationFailed) Kind() Kind { return KindInventoryReservationFailed }
func (m PaymentProcessed) Kind() Kind           { return KindPaymentProcessed }
func (m PaymentFailed) Kind() Kind              { return KindPaymentFailed }
func (m OrderConfirmed) Kind() Kind             { return KindOrderConfirmed }
func (m OrderCancelled) Kind() Kind             { return KindOrderCancelled }

func (m PlaceOrder) CorrelationID() string                 { return m.OrderID }
func (m ReserveInventory) CorrelationID() string           { return m.OrderID }
func (m ReleaseInventory) CorrelationID() string           { return m.OrderID }
func (m ProcessPayment) CorrelationID() string             { return m.OrderID }
func (m ConfirmOrder) CorrelationID() string               { return m.OrderID }
func (m CancelOrder) CorrelationID() string                { return m.OrderID }
func (m OrderTimeout) CorrelationID() string               { return m.OrderID }
func (m OrderCreated) CorrelationID() string               { return m.OrderID }
func (m InventoryReserved) CorrelationID() string          { return m.OrderID }
func (m InventoryReservationFailed) CorrelationID() string { return m.OrderID }
func (m PaymentProcessed) CorrelationID() string           { return m.OrderID }
func (m PaymentFailed) CorrelationID() string              { return m.OrderID }
func (m OrderConfirmed) CorrelationID() string             { return m.OrderID }
func (m OrderCancelled) CorrelationID() string             { return m.OrderID }
