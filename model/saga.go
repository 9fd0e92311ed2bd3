package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"github.com/ARM-software/golang-utils/utils/commonerrors"
	"github.com/shopspring/decimal"
	"time"
)

type Phase string

const (
	PhasePendingInventory           Phase = "PendingInventory"
	PhasePendingPayment             Phase = "PendingPayment"
	PhasePendingConfirmation        Phase = "PendingConfirmation"
	PhaseCompleted                  Phase = "Completed"
	PhaseInventoryReservationFailed Phase = "InventoryReservationFailed"
	PhasePaymentFailed              Phase = "PaymentFailed"
	PhaseTimedOut                   Phase = "TimedOut"
	PhaseCancelled                  Phase = "Cancelled"
)

func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled
}

type SagaItem struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Reserved  bool            `json:"reserved"`
}

// SagaItems is stored as a JSON column.
type SagaItems []SagaItem

func (s SagaItems) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s)
}

func (s *SagaItems) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("%w: cannot scan %T into saga items", commonerrors.ErrMarshalling, src)
	}
	return json.Unmarshal(raw, s)
}

// SagaState is the persisted state of one order saga, keyed by order id.
// Version is bumped on every save and used for compare-and-swap.
type SagaState struct {
	OrderID           string          `db:"order_id" json:"orderId"`
	CustomerID        string          `db:"customer_id" json:"customerId"`
	Phase             Phase           `db:"phase" json:"phase"`
	FailedPhase       Phase           `db:"failed_phase" json:"failedPhase,omitempty"`
	FailureReason     string          `db:"failure_reason" json:"failureReason,omitempty"`
	TotalAmount       decimal.Decimal `db:"total_amount" json:"totalAmount"`
	InventoryReserved bool            `db:"inventory_reserved" json:"inventoryReserved"`
	PaymentProcessed  bool            `db:"payment_processed" json:"paymentProcessed"`
	OrderConfirmed    bool            `db:"order_confirmed" json:"orderConfirmed"`
	Completed         bool            `db:"completed" json:"completed"`
	Items             SagaItems       `db:"items" json:"items"`
	Version           int64           `db:"version" json:"version"`
	CreatedAt         time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updatedAt"`
}

// MarkReserved flags the item of productID as reserved and reports whether it changed.
func (s *SagaState) MarkReserved(productID string) bool {
	changed := false
	for i := range s.Items {
		if s.Items[i].ProductID == productID && !s.Items[i].Reserved {
			s.Items[i].Reserved = true
			changed = true
		}
	}
	return changed
}

func (s *SagaState) AllReserved() bool {
	if len(s.Items) == 0 {
		return false
	}
	for _, item := range s.Items {
		if !item.Reserved {
			return false
		}
	}
	return true
}

func (s *SagaState) ReservedItems() []SagaItem {
	var res []SagaItem
	for _, item := range s.Items {
		if item.Reserved {
			res = append(res, item)
		}
	}
	return res
}

// Clone returns a deep copy, so callers can mutate it without aliasing the items.
func (s SagaState) Clone() SagaState {
	if s.Items != nil {
		items := make(SagaItems, len(s.Items))
		copy(items, s.Items)
		s.Items = items
	}
	return s
}
