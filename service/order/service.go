package order

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ARM-software/golang-utils/utils/commonerrors"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/rafata1/order-saga-outbox/model"
	"github.com/rafata1/order-saga-outbox/saga_event"
	"github.com/rafata1/order-saga-outbox/service/inventory"
	"github.com/shopspring/decimal"
	"slices"
	"strings"
	"time"
)

const Consumer = "order"

const cancelledReason = "Cancelled"

type CreateOrderRequest struct {
	CustomerID string                 `json:"customerId"`
	Items      []saga_event.OrderItem `json:"items"`
}

func (r CreateOrderRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CustomerID, validation.Required),
		validation.Field(&r.Items, validation.Required, validation.By(distinctProducts), validation.Each(validation.By(validItem))),
	)
}

func validItem(value interface{}) error {
	item, _ := value.(saga_event.OrderItem)
	return validation.ValidateStruct(&item,
		validation.Field(&item.ProductID, validation.Required),
		validation.Field(&item.Quantity, validation.Required, validation.Min(1)),
		validation.Field(&item.UnitPrice, validation.By(func(interface{}) error {
			if item.UnitPrice.IsNegative() {
				return errors.New("must not be negative")
			}
			// prices are stored as NUMERIC(18,2)
			if !item.UnitPrice.Equal(item.UnitPrice.Round(2)) {
				return errors.New("must have at most 2 decimal places")
			}
			return nil
		})),
	)
}

func distinctProducts(value interface{}) error {
	items, _ := value.([]saga_event.OrderItem)
	seen := map[string]bool{}
	for _, item := range items {
		if seen[item.ProductID] {
			return fmt.Errorf("product %s listed twice", item.ProductID)
		}
		seen[item.ProductID] = true
	}
	return nil
}

type IService interface {
	// CreateOrder reserves stock for every item and records the order and its
	// outbox messages in one transaction. It fails with *InsufficientStockError
	// when a product is unknown or short, leaving nothing behind.
	CreateOrder(ctx context.Context, req CreateOrderRequest) (string, error)
	GetOrder(ctx context.Context, id string) (model.Order, error)
	Confirm(ctx context.Context, messageID string, cmd saga_event.ConfirmOrder) error
	Cancel(ctx context.Context, messageID string, cmd saga_event.CancelOrder) error
}

// NewService expects repo and inventoryRepo to share one database, so that
// the write path debits stock in the same transaction as it creates the order.
func NewService(repo IRepo, inventoryRepo inventory.IRepo, logger logr.Logger) IService {
	return &service{
		repo:      repo,
		inventory: inventoryRepo,
		logger:    logger,
		now:       time.Now,
	}
}

type service struct {
	repo      IRepo
	inventory inventory.IRepo
	logger    logr.Logger
	now       func() time.Time
}

func (s service) CreateOrder(ctx context.Context, req CreateOrderRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", commonerrors.ErrInvalid, err)
	}

	orderID, err := newID()
	if err != nil {
		return "", err
	}
	now := s.now()
	order := model.Order{
		ID:            orderID,
		CustomerID:    req.CustomerID,
		Code:          newCode("ORDER-", 5),
		Status:        model.OrderPending,
		TransactionNo: newCode("TSN-", 10),
		OrderDate:     now,
	}

	// rows are locked in product order so concurrent orders cannot deadlock
	items := slices.SortedFunc(slices.Values(req.Items), func(a, b saga_event.OrderItem) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})

	err = s.repo.Transact(ctx, func(ctx context.Context) error {
		var commands []saga_event.Message
		for _, item := range items {
			orderItem, err := s.reserve(ctx, orderID, item, now)
			if err != nil {
				return err
			}
			order.Items = append(order.Items, orderItem)
			order.Subtotal = order.Subtotal.Add(orderItem.Subtotal)
			commands = append(commands, saga_event.ReserveInventory{
				OrderID:   orderID,
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
			})
		}
		order.Total = order.Subtotal

		if err := s.repo.CreateOrder(ctx, order); err != nil {
			return err
		}

		msgs := []saga_event.Message{saga_event.OrderCreated{
			OrderID:     orderID,
			UserID:      req.CustomerID,
			TotalAmount: order.Total,
			CreatedAt:   now,
		}}
		msgs = append(msgs, commands...)
		msgs = append(msgs, saga_event.PlaceOrder{OrderID: orderID, UserID: req.CustomerID, Items: items})
		rows, err := saga_event.NewOutboxMessages(saga_event.AggregateOrder, now, msgs...)
		if err != nil {
			return err
		}
		return s.repo.CreateOutbox(ctx, rows...)
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("order created", "orderID", orderID, "code", order.Code, "total", order.Total.String())
	return orderID, nil
}

func (s service) reserve(ctx context.Context, orderID string, item saga_event.OrderItem, now time.Time) (model.OrderItem, error) {
	stock, err := s.inventory.LockInventoryForUpdate(ctx, item.ProductID)
	if commonerrors.Any(err, commonerrors.ErrNotFound) {
		return model.OrderItem{}, &InsufficientStockError{ProductID: item.ProductID, Requested: item.Quantity}
	}
	if err != nil {
		return model.OrderItem{}, err
	}
	if stock.Quantity < item.Quantity {
		return model.OrderItem{}, &InsufficientStockError{ProductID: item.ProductID, Requested: item.Quantity, Available: stock.Quantity}
	}

	if err = s.inventory.UpdateInventory(ctx, item.ProductID, stock.Quantity-item.Quantity, now); err != nil {
		return model.OrderItem{}, err
	}
	err = s.inventory.CreateReservation(ctx, model.InventoryReservation{
		OrderID:   orderID,
		ProductID: item.ProductID,
		Quantity:  item.Quantity,
		Status:    model.ReservationReserved,
		CreatedAt: sql.NullTime{Time: now, Valid: true},
	})
	if err != nil {
		return model.OrderItem{}, err
	}

	snapshot, err := json.Marshal(model.ProductSnapshot{Name: stock.ProductName, Price: item.UnitPrice})
	if err != nil {
		return model.OrderItem{}, fmt.Errorf("%w: %v", commonerrors.ErrMarshalling, err)
	}
	id, err := newID()
	if err != nil {
		return model.OrderItem{}, err
	}
	return model.OrderItem{
		ID:              id,
		OrderID:         orderID,
		ProductID:       item.ProductID,
		Quantity:        item.Quantity,
		UnitPrice:       item.UnitPrice,
		Subtotal:        item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))),
		ProductSnapshot: snapshot,
	}, nil
}

func (s service) GetOrder(ctx context.Context, id string) (model.Order, error) {
	return s.repo.GetOrder(ctx, id)
}

func (s service) Confirm(ctx context.Context, messageID string, cmd saga_event.ConfirmOrder) error {
	return s.transition(ctx, messageID, cmd.OrderID, model.OrderConfirmed, saga_event.OrderConfirmed{OrderID: cmd.OrderID})
}

func (s service) Cancel(ctx context.Context, messageID string, cmd saga_event.CancelOrder) error {
	return s.transition(ctx, messageID, cmd.OrderID, model.OrderCancelled, saga_event.OrderCancelled{OrderID: cmd.OrderID, Reason: cancelledReason})
}

// transition moves a pending order to status and reports it with event. An
// order that already left Pending is left alone and nothing is emitted.
func (s service) transition(ctx context.Context, messageID string, orderID string, status model.OrderStatus, event saga_event.Message) error {
	return s.repo.Transact(ctx, func(ctx context.Context) error {
		processed, err := s.repo.IsProcessed(ctx, Consumer, messageID)
		if err != nil {
			return err
		}
		if processed {
			s.logger.V(1).Info("duplicate message ignored", "messageID", messageID, "orderID", orderID)
			return nil
		}

		now := s.now()
		updated, err := s.repo.UpdateStatus(ctx, orderID, model.OrderPending, status, now)
		if err != nil {
			return err
		}
		if updated {
			msg, err := saga_event.NewOutboxMessage(saga_event.AggregateOrder, event, now)
			if err != nil {
				return err
			}
			if err = s.repo.CreateOutbox(ctx, msg); err != nil {
				return err
			}
			s.logger.Info("order status changed", "orderID", orderID, "status", status)
		} else {
			s.logger.Info("order not pending, command ignored", "orderID", orderID, "type", event.Kind())
		}
		return s.repo.MarkProcessed(ctx, model.ProcessedMessage{Consumer: Consumer, MessageID: messageID, ProcessedAt: now})
	})
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func newCode(prefix string, length int) string {
	return prefix + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:length])
}
