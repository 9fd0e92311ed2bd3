package inventory

import (
	"context"
	"database/sql"
	"fmt"
	"github.com/ARM-software/golang-utils/utils/commonerrors"
	"github.com/rafata1/order-saga-outbox/model"
	"github.com/rafata1/order-saga-outbox/store"
	"time"
)

func NewMemoryRepo(db *store.MemoryDB) IRepo {
	return &memoryRepo{
		db: db,
	}
}

type memoryRepo struct {
	db *store.MemoryDB
}

func (r memoryRepo) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.Transact(ctx, fn)
}

func (r memoryRepo) CreateInventory(ctx context.Context, inventory model.Inventory) error {
	return r.db.With(ctx, func(t *store.MemoryTables) error {
		if _, ok := t.Inventory[inventory.ProductID]; ok {
			return fmt.Errorf("%w: inventory for product %s already exists", commonerrors.ErrConflict, inventory.ProductID)
		}
		t.Inventory[inventory.ProductID] = inventory
		return nil
	})
}

func (r memoryRepo) GetInventory(ctx context.Context, productID string) (res model.Inventory, err error) {
	err = r.db.With(ctx, func(t *store.MemoryTables) error {
		inventory, ok := t.Inventory[productID]
		if !ok {
			return fmt.Errorf("%w: inventory for product %s", commonerrors.ErrNotFound, productID)
		}
		res = inventory
		return nil
	})
	return
}

// LockInventoryForUpdate needs no row lock: a transaction holds the whole memory database.
func (r memoryRepo) LockInventoryForUpdate(ctx context.Context, productID string) (model.Inventory, error) {
	return r.GetInventory(ctx, productID)
}

func (r memoryRepo) UpdateInventory(ctx context.Context, productID string, quantity int, now time.Time) error {
	return r.db.With(ctx, func(t *store.MemoryTables) error {
		inventory, ok := t.Inventory[productID]
		if !ok {
			return fmt.Errorf("%w: inventory for product %s", commonerrors.ErrNotFound, productID)
		}
		inventory.Quantity = quantity
		inventory.UpdatedAt = sql.NullTime{Time: now, Valid: true}
		t.Inventory[productID] = inventory
		return nil
	})
}

func (r memoryRepo) CreateReservation(ctx context.Context, reservation model.InventoryReservation) error {
	return r.db.With(ctx, func(t *store.MemoryTables) error {
		key := store.ReservationKey{OrderID: reservation.OrderID, ProductID: reservation.ProductID}
		if _, ok := t.Reservations[key]; ok {
			return fmt.Errorf("%w: reservation of %s for order %s already exists", commonerrors.ErrConflict, reservation.ProductID, reservation.OrderID)
		}
		t.Reservations[key] = reservation
		return nil
	})
}

func (r memoryRepo) LockReservationForUpdate(ctx context.Context, orderID string, productID string) (res model.InventoryReservation, err error) {
	err = r.db.With(ctx, func(t *store.MemoryTables) error {
		reservation, ok := t.Reservations[store.ReservationKey{OrderID: orderID, ProductID: productID}]
		if !ok {
			return fmt.Errorf("%w: reservation of %s for order %s", commonerrors.ErrNotFound, productID, orderID)
		}
		res = reservation
		return nil
	})
	return
}

func (r memoryRepo) UpdateReservationStatus(ctx context.Context, orderID string, productID string, status model.ReservationStatus, now time.Time) error {
	return r.db.With(ctx, func(t *store.MemoryTables) error {
		key := store.ReservationKey{OrderID: orderID, ProductID: productID}
		reservation, ok := t.Reservations[key]
		if !ok {
			return fmt.Errorf("%w: reservation of %s for order %s", commonerrors.ErrNotFound, productID, orderID)
		}
		reservation.Status = status
		reservation.UpdatedAt = sql.NullTime{Time: now, Valid: true}
		t.Reservations[key] = reservation
		return nil
	})
}

func (r memoryRepo) LockOrderStatus(ctx context.Context, orderID string) (res model.OrderStatus, err error) {
	err = r.db.With(ctx, func(t *store.MemoryTables) error {
		order, ok := t.Orders[orderID]
		if !ok {
			return fmt.Errorf("%w: order %s", commonerrors.ErrNotFound, orderID)
		}
		res = order.Status
		return nil
	})
	return
}

func (r memoryRepo) CreateOutbox(ctx context.Context, msgs ...model.OutboxMessage) error {
	return r.db.With(ctx, func(t *store.MemoryTables) error {
		t.AppendOutbox(msgs...)
		return nil
	})
}

func (r memoryRepo) IsProcessed(ctx context.Context, consumer string, messageID string) (res bool, err error) {
	err = r.db.With(ctx, func(t *store.MemoryTables) error {
		res = t.IsProcessed(consumer, messageID)
		return nil
	})
	return
}

func (r memoryRepo) MarkProcessed(ctx context.Context, msg model.ProcessedMessage) error {
	return r.db.With(ctx, func(t *store.MemoryTables) error {
		return t.MarkProcessed(msg)
	})
}
