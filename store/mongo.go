package store

import (
	"context"
	"fmt"
	"github.com/ARM-software/golang-utils/utils/commonerrors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ConnectMongo needs a replica set: multi-document transactions are not
// available on a standalone server.
func ConnectMongo(ctx context.Context, uri string, database string) (*mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to mongo: %v", commonerrors.ErrUnavailable, err)
	}
	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%w: failed to ping mongo: %v", commonerrors.ErrUnavailable, err)
	}
	return client.Database(database), nil
}

// TransactMongo runs fn inside a session transaction. The session context is a
// context.Context, so repositories pick it up transparently. Nested calls join.
func TransactMongo(ctx context.Context, db *mongo.Database, fn func(ctx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}
	session, err := db.Client().StartSession()
	if err != nil {
		return fmt.Errorf("%w: failed to start mongo session: %v", commonerrors.ErrUnavailable, err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}
