package inventory

import (
	"context"
	"database/sql"
	"fmt"
	"github.com/ARM-software/golang-utils/utils/commonerrors"
	"github.com/go-logr/logr"
	"github.com/rafata1/order-saga-outbox/model"
	"github.com/rafata1/order-saga-outbox/saga_event"
	"time"
)

const Consumer = "inventory"

type IService interface {
	// Reserve answers a ReserveInventory command with InventoryReserved or
	// InventoryReservationFailed. A reservation already recorded for the order,
	// for instance by the order write path, is acknowledged without touching stock.
	Reserve(ctx context.Context, messageID string, cmd saga_event.ReserveInventory) error
	// Release gives the reserved quantity back to stock, at most once per
	// reservation. The stock of an order already confirmed stays sold.
	Release(ctx context.Context, messageID string, cmd saga_event.ReleaseInventory) error
	GetInventory(ctx context.Context, productID string) (model.Inventory, error)
}

func NewService(repo IRepo, logger logr.Logger) IService {
	return &service{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

type service struct {
	repo   IRepo
	logger logr.Logger
	now    func() time.Time
}

func (s service) Reserve(ctx context.Context, messageID string, cmd saga_event.ReserveInventory) error {
	return s.repo.Transact(ctx, func(ctx context.Context) error {
		processed, err := s.repo.IsProcessed(ctx, Consumer, messageID)
		if err != nil {
			return err
		}
		if processed {
			s.logger.V(1).Info("duplicate message ignored", "messageID", messageID, "orderID", cmd.OrderID)
			return nil
		}

		now := s.now()
		reply, err := s.reserve(ctx, cmd, now)
		if err != nil {
			return err
		}
		msg, err := saga_event.NewOutboxMessage(saga_event.AggregateInventory, reply, now)
		if err != nil {
			return err
		}
		if err = s.repo.CreateOutbox(ctx, msg); err != nil {
			return err
		}
		return s.repo.MarkProcessed(ctx, model.ProcessedMessage{Consumer: Consumer, MessageID: messageID, ProcessedAt: now})
	})
}

func (s service) reserve(ctx context.Context, cmd saga_event.ReserveInventory, now time.Time) (saga_event.Message, error) {
	failed := func(reason string) saga_event.Message {
		s.logger.Info("inventory reservation failed", "orderID", cmd.OrderID, "productID", cmd.ProductID, "reason", reason)
		return saga_event.InventoryReservationFailed{
			OrderID:           cmd.OrderID,
			ProductID:         cmd.ProductID,
			RequestedQuantity: cmd.Quantity,
			Reason:            reason,
		}
	}

	reservation, err := s.repo.LockReservationForUpdate(ctx, cmd.OrderID, cmd.ProductID)
	switch {
	case err == nil && reservation.Status == model.ReservationReserved:
		return saga_event.InventoryReserved{OrderID: cmd.OrderID, ProductID: cmd.ProductID, Quantity: reservation.Quantity}, nil
	case err == nil:
		return failed("reservation already released"), nil
	case !commonerrors.Any(err, commonerrors.ErrNotFound):
		return nil, err
	}

	if cmd.Quantity <= 0 {
		return failed(fmt.Sprintf("invalid quantity %d", cmd.Quantity)), nil
	}
	inventory, err := s.repo.LockInventoryForUpdate(ctx, cmd.ProductID)
	if commonerrors.Any(err, commonerrors.ErrNotFound) {
		return failed("unknown product"), nil
	}
	if err != nil {
		return nil, err
	}
	if inventory.Quantity < cmd.Quantity {
		return failed(fmt.Sprintf("insufficient stock: requested %d, available %d", cmd.Quantity, inventory.Quantity)), nil
	}

	if err = s.repo.UpdateInventory(ctx, cmd.ProductID, inventory.Quantity-cmd.Quantity, now); err != nil {
		return nil, err
	}
	err = s.repo.CreateReservation(ctx, model.InventoryReservation{
		OrderID:   cmd.OrderID,
		ProductID: cmd.ProductID,
		Quantity:  cmd.Quantity,
		Status:    model.ReservationReserved,
		CreatedAt: sql.NullTime{Time: now, Valid: true},
	})
	if err != nil {
		return nil, err
	}
	return saga_event.InventoryReserved{OrderID: cmd.OrderID, ProductID: cmd.ProductID, Quantity: cmd.Quantity}, nil
}

func (s service) Release(ctx context.Context, messageID string, cmd saga_event.ReleaseInventory) error {
	return s.repo.Transact(ctx, func(ctx context.Context) error {
		processed, err := s.repo.IsProcessed(ctx, Consumer, messageID)
		if err != nil {
			return err
		}
		if processed {
			s.logger.V(1).Info("duplicate message ignored", "messageID", messageID, "orderID", cmd.OrderID)
			return nil
		}

		now := s.now()
		if err = s.release(ctx, cmd, now); err != nil {
			return err
		}
		return s.repo.MarkProcessed(ctx, model.ProcessedMessage{Consumer: Consumer, MessageID: messageID, ProcessedAt: now})
	})
}

func (s service) release(ctx context.Context, cmd saga_event.ReleaseInventory, now time.Time) error {
	reservation, err := s.repo.LockReservationForUpdate(ctx, cmd.OrderID, cmd.ProductID)
	if commonerrors.Any(err, commonerrors.ErrNotFound) {
		s.logger.Info("nothing to release", "orderID", cmd.OrderID, "productID", cmd.ProductID)
		return nil
	}
	if err != nil {
		return err
	}
	if reservation.Status == model.ReservationReleased {
		return nil
	}
	// A timeout can cross a confirmation already on its way to the order.
	status, err := s.repo.LockOrderStatus(ctx, cmd.OrderID)
	if err != nil && !commonerrors.Any(err, commonerrors.ErrNotFound) {
		return err
	}
	if status == model.OrderConfirmed {
		s.logger.Info("release of a confirmed order ignored", "orderID", cmd.OrderID, "productID", cmd.ProductID)
		return nil
	}

	inventory, err := s.repo.LockInventoryForUpdate(ctx, cmd.ProductID)
	if err != nil {
		return err
	}
	if err = s.repo.UpdateInventory(ctx, cmd.ProductID, inventory.Quantity+reservation.Quantity, now); err != nil {
		return err
	}
	s.logger.Info("inventory released", "orderID", cmd.OrderID, "productID", cmd.ProductID, "quantity", reservation.Quantity)
	return s.repo.UpdateReservationStatus(ctx, cmd.OrderID, cmd.ProductID, model.ReservationReleased, now)
}

func (s service) GetInventory(ctx context.Context, productID string) (model.Inventory, error) {
	return s.repo.GetInventory(ctx, productID)
}
