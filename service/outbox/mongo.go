package outbox

import (
	"context"
	"database/sql"
	"errors"
	"github.com/rafata1/order-saga-outbox/model"
	"github.com/rafata1/order-saga-outbox/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"time"
)

const Collection = "outbox_messages"

type messageDoc struct {
	ID            string     `bson:"_id"`
	AggregateType string     `bson:"aggregateType"`
	AggregateID   string     `bson:"aggregateId"`
	Type          string     `bson:"type"`
	Payload       string     `bson:"payload"`
	Processed     bool       `bson:"processed"`
	CreatedAt     time.Time  `bson:"createdAt"`
	ProcessedAt   *time.Time `bson:"processedAt,omitempty"`
	AvailableAt   time.Time  `bson:"availableAt"`
	ClaimedBy     string     `bson:"claimedBy,omitempty"`
	ClaimedUntil  *time.Time `bson:"claimedUntil,omitempty"`
}

func toDoc(msg model.OutboxMessage) messageDoc {
	doc := messageDoc{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		Type:          msg.Type,
		Payload:       string(msg.Payload),
		Processed:     msg.Processed,
		CreatedAt:     msg.CreatedAt,
		AvailableAt:   msg.AvailableAt,
		ClaimedBy:     msg.ClaimedBy.String,
	}
	if msg.ProcessedAt.Valid {
		doc.ProcessedAt = &msg.ProcessedAt.Time
	}
	if msg.ClaimedUntil.Valid {
		doc.ClaimedUntil = &msg.ClaimedUntil.Time
	}
	return doc
}

func (d messageDoc) toModel() model.OutboxMessage {
	msg := model.OutboxMessage{
		ID:            d.ID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		Type:          d.Type,
		Payload:       []byte(d.Payload),
		Processed:     d.Processed,
		CreatedAt:     d.CreatedAt,
		AvailableAt:   d.AvailableAt,
		ClaimedBy:     sql.NullString{String: d.ClaimedBy, Valid: d.ClaimedBy != ""},
	}
	if d.ProcessedAt != nil {
		msg.ProcessedAt = sql.NullTime{Time: *d.ProcessedAt, Valid: true}
	}
	if d.ClaimedUntil != nil {
		msg.ClaimedUntil = sql.NullTime{Time: *d.ClaimedUntil, Valid: true}
	}
	return msg
}

// InsertMongo is Insert for an outbox kept in a Mongo collection. Pass the
// session context of the surrounding transaction.
func InsertMongo(ctx context.Context, db *mongo.Database, msgs ...model.OutboxMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(msgs))
	for _, msg := range msgs {
		docs = append(docs, toDoc(msg))
	}
	_, err := db.Collection(Collection).InsertMany(ctx, docs)
	return store.Unavailable(err)
}

func NewMongoRepo(db *mongo.Database) IRepo {
	return &mongoRepo{
		collection: db.Collection(Collection),
	}
}

type mongoRepo struct {
	collection *mongo.Collection
}

// Claim leases documents one at a time with FindOneAndUpdate, which is atomic
// per document, so two relays never lease the same message.
func (r mongoRepo) Claim(ctx context.Context, owner string, limit int, now time.Time, lease time.Duration) ([]model.OutboxMessage, error) {
	filter := bson.M{
		"processed":   false,
		"availableAt": bson.M{"$lte": now},
		"$or": bson.A{
			bson.M{"claimedUntil": bson.M{"$exists": false}},
			bson.M{"claimedUntil": nil},
			bson.M{"claimedUntil": bson.M{"$lt": now}},
		},
	}
	update := bson.M{"$set": bson.M{"claimedBy": owner, "claimedUntil": now.Add(lease)}}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetReturnDocument(options.After)

	var res []model.OutboxMessage
	for len(res) < limit {
		var doc messageDoc
		err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			break
		}
		if err != nil {
			return nil, store.Unavailable(err)
		}
		res = append(res, doc.toModel())
	}
	return res, nil
}

func (r mongoRepo) MarkProcessed(ctx context.Context, processed []string, failed []string, now time.Time) error {
	var writes []mongo.WriteModel
	if len(processed) > 0 {
		writes = append(writes, mongo.NewUpdateManyModel().
			SetFilter(bson.M{"_id": bson.M{"$in": processed}}).
			SetUpdate(bson.M{
				"$set":   bson.M{"processed": true, "processedAt": now},
				"$unset": bson.M{"claimedBy": "", "claimedUntil": ""},
			}))
	}
	if len(failed) > 0 {
		writes = append(writes, mongo.NewUpdateManyModel().
			SetFilter(bson.M{"_id": bson.M{"$in": failed}, "processed": false}).
			SetUpdate(bson.M{"$unset": bson.M{"claimedBy": "", "claimedUntil": ""}}))
	}
	if len(writes) == 0 {
		return nil
	}
	_, err := r.collection.BulkWrite(ctx, writes)
	return store.Unavailable(err)
}
