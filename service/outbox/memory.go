package outbox

import (
	"context"
	"database/sql"
	"github.com/rafata1/order-saga-outbox/model"
	"github.com/rafata1/order-saga-outbox/store"
	"slices"
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

func (r memoryRepo) Claim(ctx context.Context, owner string, limit int, now time.Time, lease time.Duration) ([]model.OutboxMessage, error) {
	var res []model.OutboxMessage
	err := r.db.With(ctx, func(t *store.MemoryTables) error {
		var candidates []int
		for i, msg := range t.Outbox {
			if msg.Processed || msg.AvailableAt.After(now) {
				continue
			}
			if msg.ClaimedUntil.Valid && !msg.ClaimedUntil.Time.Before(now) {
				continue
			}
			candidates = append(candidates, i)
		}
		slices.SortStableFunc(candidates, func(a, b int) int {
			return t.Outbox[a].CreatedAt.Compare(t.Outbox[b].CreatedAt)
		})
		if len(candidates) > limit {
			candidates = candidates[:limit]
		}
		for _, i := range candidates {
			t.Outbox[i].ClaimedBy = sql.NullString{String: owner, Valid: true}
			t.Outbox[i].ClaimedUntil = sql.NullTime{Time: now.Add(lease), Valid: true}
			res = append(res, t.Outbox[i])
		}
		return nil
	})
	return res, err
}

func (r memoryRepo) MarkProcessed(ctx context.Context, processed []string, failed []string, now time.Time) error {
	return r.db.With(ctx, func(t *store.MemoryTables) error {
		for i := range t.Outbox {
			msg := &t.Outbox[i]
			switch {
			case slices.Contains(processed, msg.ID):
				msg.Processed = true
				msg.ProcessedAt = sql.NullTime{Time: now, Valid: true}
			case slices.Contains(failed, msg.ID) && !msg.Processed:
			default:
				continue
			}
			msg.ClaimedBy = sql.NullString{}
			msg.ClaimedUntil = sql.NullTime{}
		}
		return nil
	})
}
