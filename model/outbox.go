package model

import (
	"database/sql"
	"time"
)

// OutboxMessage is either unprocessed (Processed=false, ProcessedAt invalid) or
// processed (Processed=true, ProcessedAt set). AvailableAt delays relaying.
type OutboxMessage struct {
	ID            string         `db:"id"`
	AggregateType string         `db:"aggregate_type"`
	AggregateID   string         `db:"aggregate_id"`
	Type          string         `db:"type"`
	Payload       []byte         `db:"payload"`
	Processed     bool           `db:"processed"`
	CreatedAt     time.Time      `db:"created_at"`
	ProcessedAt   sql.NullTime   `db:"processed_at"`
	AvailableAt   time.Time      `db:"available_at"`
	ClaimedBy     sql.NullString `db:"claimed_by"`
	ClaimedUntil  sql.NullTime   `db:"claimed_until"`
}

type ProcessedMessage struct {
	Consumer    string    `db:"consumer"`
	MessageID   string    `db:"message_id"`
	ProcessedAt time.Time `db:"processed_at"`
}
