package saga

import (
	"context"
	"errors"
	"fmt"
	"github.com/ARM-software/golang-utils/utils/commonerrors"
	"github.com/rafata1/order-saga-outbox/model"
	"github.com/rafata1/order-saga-outbox/service/outbox"
	"github.com/rafata1/order-saga-outbox/store"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"time"
)

const Collection = "saga_states"

type sagaItemDoc struct {
	ProductID string `bson:"productId"`
	Quantity  int    `bson:"quantity"`
	UnitPrice string `bson:"unitPrice"`
	Reserved  bool   `bson:"reserved"`
}

// sagaDoc keeps amounts as decimal strings so no precision is lost.
type sagaDoc struct {
	OrderID           string        `bson:"_id"`
	CustomerID        string        `bson:"customerId"`
	Phase             string        `bson:"phase"`
	FailedPhase       string        `bson:"failedPhase,omitempty"`
	FailureReason     string        `bson:"failureReason,omitempty"`
	TotalAmount       string        `bson:"totalAmount"`
	InventoryReserved bool          `bson:"inventoryReserved"`
	PaymentProcessed  bool          `bson:"paymentProcessed"`
	OrderConfirmed    bool          `bson:"orderConfirmed"`
	Completed         bool          `bson:"completed"`
	Items             []sagaItemDoc `bson:"items"`
	Version           int64         `bson:"version"`
	CreatedAt         time.Time     `bson:"createdAt"`
	UpdatedAt         time.Time     `bson:"updatedAt"`
}

func toSagaDoc(state model.SagaState) sagaDoc {
	doc := sagaDoc{
		OrderID:           state.OrderID,
		CustomerID:        state.CustomerID,
		Phase:             string(state.Phase),
		FailedPhase:       string(state.FailedPhase),
		FailureReason:     state.FailureReason,
		TotalAmount:       state.TotalAmount.String(),
		InventoryReserved: state.InventoryReserved,
		PaymentProcessed:  state.PaymentProcessed,
		OrderConfirmed:    state.OrderConfirmed,
		Completed:         state.Completed,
		Items:             make([]sagaItemDoc, 0, len(state.Items)),
		Version:           state.Version,
		CreatedAt:         state.CreatedAt,
		UpdatedAt:         state.UpdatedAt,
	}
	for _, item := range state.Items {
		doc.Items = append(doc.Items, sagaItemDoc{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.String(),
			Reserved:  item.Reserved,
		})
	}
	return doc
}

func (d sagaDoc) toModel() (model.SagaState, error) {
	total, err := decimal.NewFromString(d.TotalAmount)
	if err != nil {
		return model.SagaState{}, fmt.Errorf("%w: total amount of saga %s: %v", commonerrors.ErrMarshalling, d.OrderID, err)
	}
	state := model.SagaState{
		OrderID:           d.OrderID,
		CustomerID:        d.CustomerID,
		Phase:             model.Phase(d.Phase),
		FailedPhase:       model.Phase(d.FailedPhase),
		FailureReason:     d.FailureReason,
		TotalAmount:       total,
		InventoryReserved: d.InventoryReserved,
		PaymentProcessed:  d.PaymentProcessed,
		OrderConfirmed:    d.OrderConfirmed,
		Completed:         d.Completed,
		Version:           d.Version,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
	for _, item := range d.Items {
		price, err := decimal.NewFromString(item.UnitPrice)
		if err != nil {
			return model.SagaState{}, fmt.Errorf("%w: unit price in saga %s: %v", commonerrors.ErrMarshalling, d.OrderID, err)
		}
		state.Items = append(state.Items, model.SagaItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: price,
			Reserved:  item.Reserved,
		})
	}
	return state, nil
}

// NewMongoRepo keeps sagas, the orchestrator outbox and its processed-message
// ledger in one Mongo database, so a saga step commits as one transaction.
func NewMongoRepo(db *mongo.Database) IRepo {
	return &mongoRepo{
		db:         db,
		collection: db.Collection(Collection),
	}
}

type mongoRepo struct {
	db         *mongo.Database
	collection *mongo.Collection
}

func (r mongoRepo) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	return store.TransactMongo(ctx, r.db, fn)
}

func (r mongoRepo) GetSaga(ctx context.Context, orderID string) (model.SagaState, error) {
	var doc sagaDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": orderID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.SagaState{}, fmt.Errorf("%w: saga of order %s", commonerrors.ErrNotFound, orderID)
	}
	if err != nil {
		return model.SagaState{}, store.Unavailable(err)
	}
	return doc.toModel()
}

// LockSagaForUpdate is a plain read: the version check of SaveSaga, together
// with the write conflict detection of Mongo transactions, serializes writers.
func (r mongoRepo) LockSagaForUpdate(ctx context.Context, orderID string) (model.SagaState, error) {
	return r.GetSaga(ctx, orderID)
}

func (r mongoRepo) CreateSaga(ctx context.Context, state *model.SagaState) error {
	doc := toSagaDoc(*state)
	doc.Version = 1
	_, err := r.collection.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: saga of order %s already exists", commonerrors.ErrConflict, state.OrderID)
	}
	if err != nil {
		return store.Unavailable(err)
	}
	state.Version = 1
	return nil
}

func (r mongoRepo) SaveSaga(ctx context.Context, state *model.SagaState) error {
	doc := toSagaDoc(*state)
	doc.Version = state.Version + 1
	res, err := r.collection.ReplaceOne(ctx, bson.M{"_id": state.OrderID, "version": state.Version}, doc)
	if err != nil {
		return store.Unavailable(err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: saga of order %s changed since version %d", commonerrors.ErrConflict, state.OrderID, state.Version)
	}
	state.Version++
	return nil
}

func (r mongoRepo) CreateOutbox(ctx context.Context, msgs ...model.OutboxMessage) error {
	return outbox.InsertMongo(ctx, r.db, msgs...)
}

func (r mongoRepo) IsProcessed(ctx context.Context, consumer string, messageID string) (bool, error) {
	return store.IsProcessedMongo(ctx, r.db, consumer, messageID)
}

func (r mongoRepo) MarkProcessed(ctx context.Context, msg model.ProcessedMessage) error {
	return store.MarkProcessedMongo(ctx, r.db, msg)
}
