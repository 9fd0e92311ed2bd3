package store

import (
	"context"
	"fmt"
	"github.com/ARM-software/golang-utils/utils/commonerrors"
	"github.com/rafata1/order-saga-outbox/model"
	"maps"
	"slices"
	"sync"
	"time"
)

// MemoryGuard gives an in-memory state the transactional behaviour of the SQL
// repositories: Transact holds the lock for the whole callback and restores a
// snapshot of the state when the callback fails.
type MemoryGuard[S any] struct {
	mu    sync.Mutex
	state S
	clone func(S) S
}

type memoryTxKey struct {
	guard any
}

func NewMemoryGuard[S any](state S, clone func(S) S) *MemoryGuard[S] {
	return &MemoryGuard[S]{state: state, clone: clone}
}

func (g *MemoryGuard[S]) inTransaction(ctx context.Context) bool {
	return ctx.Value(memoryTxKey{guard: g}) != nil
}

func (g *MemoryGuard[S]) Transact(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if g.inTransaction(ctx) {
		return fn(ctx)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	snapshot := g.clone(g.state)
	defer func() {
		if r := recover(); r != nil {
			g.state = snapshot
			panic(r)
		} else if err != nil {
			g.state = snapshot
		}
	}()
	return fn(context.WithValue(ctx, memoryTxKey{guard: g}, true))
}

// With gives fn access to the state, joining the transaction carried by ctx if any.
func (g *MemoryGuard[S]) With(ctx context.Context, fn func(state *S) error) error {
	if g.inTransaction(ctx) {
		return fn(&g.state)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(&g.state)
}

type ReservationKey struct {
	OrderID   string
	ProductID string
}

type ProcessedKey struct {
	Consumer  string
	MessageID string
}

// MemoryTables holds the rows of one service database.
type MemoryTables struct {
	Inventory    map[string]model.Inventory
	Reservations map[ReservationKey]model.InventoryReservation
	Orders       map[string]model.Order
	Accounts     map[string]model.Account
	Payments     map[string]model.Payment
	Sagas        map[string]model.SagaState
	Outbox       []model.OutboxMessage
	Processed    map[ProcessedKey]time.Time
}

// MemoryDB stands in for *sqlx.DB in tests and in the demo: repositories of
// different packages built on the same MemoryDB share its transactions.
type MemoryDB = MemoryGuard[MemoryTables]

func NewMemoryDB() *MemoryDB {
	return NewMemoryGuard(MemoryTables{
		Inventory:    map[string]model.Inventory{},
		Reservations: map[ReservationKey]model.InventoryReservation{},
		Orders:       map[string]model.Order{},
		Accounts:     map[string]model.Account{},
		Payments:     map[string]model.Payment{},
		Sagas:        map[string]model.SagaState{},
		Processed:    map[ProcessedKey]time.Time{},
	}, MemoryTables.clone)
}

func (t MemoryTables) clone() MemoryTables {
	res := MemoryTables{
		Inventory:    maps.Clone(t.Inventory),
		Reservations: maps.Clone(t.Reservations),
		Orders:       make(map[string]model.Order, len(t.Orders)),
		Accounts:     maps.Clone(t.Accounts),
		Payments:     maps.Clone(t.Payments),
		Sagas:        make(map[string]model.SagaState, len(t.Sagas)),
		Outbox:       slices.Clone(t.Outbox),
		Processed:    maps.Clone(t.Processed),
	}
	for id, order := range t.Orders {
		order.Items = slices.Clone(order.Items)
		res.Orders[id] = order
	}
	for id, state := range t.Sagas {
		res.Sagas[id] = state.Clone()
	}
	return res
}

func (t *MemoryTables) IsProcessed(consumer string, messageID string) bool {
	_, ok := t.Processed[ProcessedKey{Consumer: consumer, MessageID: messageID}]
	return ok
}

func (t *MemoryTables) MarkProcessed(msg model.ProcessedMessage) error {
	key := ProcessedKey{Consumer: msg.Consumer, MessageID: msg.MessageID}
	if _, ok := t.Processed[key]; ok {
		return fmt.Errorf("%w: message %s already processed by %s", commonerrors.ErrConflict, msg.MessageID, msg.Consumer)
	}
	t.Processed[key] = msg.ProcessedAt
	return nil
}

func (t *MemoryTables) AppendOutbox(msgs ...model.OutboxMessage) {
	t.Outbox = append(t.Outbox, msgs...)
}
