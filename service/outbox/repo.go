package outbox

import (
	"context"
	"database/sql"
	"github.com/jmoiron/sqlx"
	"github.com/rafata1/order-saga-outbox/model"
	"github.com/rafata1/order-saga-outbox/store"
	"time"
)

// IRepo is the relay's view of an outbox table.
type IRepo interface {
	// Claim leases up to limit unprocessed rows available at now to owner, oldest first.
	// Rows leased to another relay are skipped until their lease expires.
	Claim(ctx context.Context, owner string, limit int, now time.Time, lease time.Duration) ([]model.OutboxMessage, error)
	// MarkProcessed flags processed ids and releases the claim on failed ids, in one save.
	MarkProcessed(ctx context.Context, processed []string, failed []string, now time.Time) error
}

func NewRepo(db *sqlx.DB) IRepo {
	return &repo{
		db: db,
	}
}

type repo struct {
	db *sqlx.DB
}

var insertQuery = `INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, type, payload, processed, created_at, available_at)
VALUES (:id, :aggregate_type, :aggregate_id, :type, :payload, :processed, :created_at, :available_at)`

// Insert appends msgs to the outbox through conn, normally the transaction of the state change they report.
func Insert(ctx context.Context, conn store.Executor, msgs ...model.OutboxMessage) error {
	for _, msg := range msgs {
		if _, err := conn.NamedExecContext(ctx, insertQuery, msg); err != nil {
			return store.Unavailable(err)
		}
	}
	return nil
}

var selectClaimableQuery = `SELECT id, aggregate_type, aggregate_id, type, payload, processed, created_at, processed_at, available_at, claimed_by, claimed_until
FROM outbox_messages
WHERE processed = false AND available_at <= ? AND (claimed_until IS NULL OR claimed_until < ?)
ORDER BY created_at, id
LIMIT ?
FOR UPDATE SKIP LOCKED`

var claimQuery = "UPDATE outbox_messages SET claimed_by = ?, claimed_until = ? WHERE id IN (?)"

func (r repo) Claim(ctx context.Context, owner string, limit int, now time.Time, lease time.Duration) ([]model.OutboxMessage, error) {
	var res []model.OutboxMessage
	err := store.Transact(ctx, r.db, func(ctx context.Context) error {
		conn := store.Conn(ctx, r.db)
		if err := conn.SelectContext(ctx, &res, conn.Rebind(selectClaimableQuery), now, now, limit); err != nil {
			return store.Unavailable(err)
		}
		if len(res) == 0 {
			return nil
		}

		query, args, err := store.In(conn, claimQuery, owner, now.Add(lease), extractIDs(res))
		if err != nil {
			return err
		}
		_, err = conn.ExecContext(ctx, query, args...)
		return store.Unavailable(err)
	})
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].ClaimedBy = sql.NullString{String: owner, Valid: true}
		res[i].ClaimedUntil = sql.NullTime{Time: now.Add(lease), Valid: true}
	}
	return res, nil
}

var markProcessedQuery = "UPDATE outbox_messages SET processed = true, processed_at = ?, claimed_by = NULL, claimed_until = NULL WHERE id IN (?)"

var releaseClaimQuery = "UPDATE outbox_messages SET claimed_by = NULL, claimed_until = NULL WHERE processed = false AND id IN (?)"

func (r repo) MarkProcessed(ctx context.Context, processed []string, failed []string, now time.Time) error {
	if len(processed) == 0 && len(failed) == 0 {
		return nil
	}

	return store.Transact(ctx, r.db, func(ctx context.Context) error {
		conn := store.Conn(ctx, r.db)
		if len(processed) > 0 {
			query, args, err := store.In(conn, markProcessedQuery, now, processed)
			if err != nil {
				return err
			}
			if _, err = conn.ExecContext(ctx, query, args...); err != nil {
				return store.Unavailable(err)
			}
		}
		if len(failed) > 0 {
			query, args, err := store.In(conn, releaseClaimQuery, failed)
			if err != nil {
				return err
			}
			if _, err = conn.ExecContext(ctx, query, args...); err != nil {
				return store.Unavailable(err)
			}
		}
		return nil
	})
}

func extractIDs(msgs []model.OutboxMessage) []string {
	var res []string
	for _, msg := range msgs {
		res = append(res, msg.ID)
	}
	return res
}
