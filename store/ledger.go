package store

import (
	"context"
	"errors"
	"fmt"
	"github.com/ARM-software/golang-utils/utils/commonerrors"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rafata1/order-saga-outbox/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"strings"
	"time"
)

// The processed-message ledger makes consumers idempotent: a handler marks the
// inbound message id in the same transaction as its effects.

const ProcessedCollection = "processed_messages"

var isProcessedQuery = "SELECT count(*) FROM processed_messages WHERE consumer = ? AND message_id = ?"

func IsProcessed(ctx context.Context, conn Executor, consumer string, messageID string) (bool, error) {
	var res int
	err := conn.GetContext(ctx, &res, conn.Rebind(isProcessedQuery), consumer, messageID)
	if err != nil {
		return false, Unavailable(err)
	}
	return res > 0, nil
}

var markProcessedQuery = "INSERT INTO processed_messages (consumer, message_id, processed_at) VALUES (:consumer, :message_id, :processed_at)"

func MarkProcessed(ctx context.Context, conn Executor, msg model.ProcessedMessage) error {
	_, err := conn.NamedExecContext(ctx, markProcessedQuery, msg)
	if IsDuplicate(err) {
		return fmt.Errorf("%w: message %s already processed by %s", commonerrors.ErrConflict, msg.MessageID, msg.Consumer)
	}
	return Unavailable(err)
}

type processedDoc struct {
	ID          string    `bson:"_id"`
	Consumer    string    `bson:"consumer"`
	MessageID   string    `bson:"messageId"`
	ProcessedAt time.Time `bson:"processedAt"`
}

func processedDocID(consumer string, messageID string) string {
	return consumer + "/" + messageID
}

func IsProcessedMongo(ctx context.Context, db *mongo.Database, consumer string, messageID string) (bool, error) {
	n, err := db.Collection(ProcessedCollection).CountDocuments(ctx, bson.M{"_id": processedDocID(consumer, messageID)})
	if err != nil {
		return false, Unavailable(err)
	}
	return n > 0, nil
}

func MarkProcessedMongo(ctx context.Context, db *mongo.Database, msg model.ProcessedMessage) error {
	_, err := db.Collection(ProcessedCollection).InsertOne(ctx, processedDoc{
		ID:          processedDocID(msg.Consumer, msg.MessageID),
		Consumer:    msg.Consumer,
		MessageID:   msg.MessageID,
		ProcessedAt: msg.ProcessedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: message %s already processed by %s", commonerrors.ErrConflict, msg.MessageID, msg.Consumer)
	}
	return Unavailable(err)
}

// IsDuplicate reports a unique key violation from either SQL driver.
func IsDuplicate(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// IsDataError reports a value the schema rejects: a data exception or an
// integrity violation. Retrying the same statement cannot succeed.
func IsDataError(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1048, 1264, 1292, 1366, 1406, 1452:
			return true
		}
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23")
	}
	return false
}

// Unavailable marks a storage failure as retryable. Errors already carrying a
// domain sentinel are returned as is, and data errors become ErrInvalid.
func Unavailable(err error) error {
	if err == nil || commonerrors.Any(err, commonerrors.ErrNotFound, commonerrors.ErrConflict, commonerrors.ErrInvalid, commonerrors.ErrUnavailable) {
		return err
	}
	if IsDataError(err) {
		return fmt.Errorf("%w: %v", commonerrors.ErrInvalid, err)
	}
	return fmt.Errorf("%w: %v", commonerrors.ErrUnavailable, err)
}
