// Package journal keeps a local SQLite record of accepted publishes.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"cloudpico-publisher/internal/types"
)

const (
	insertSQL = `INSERT INTO publishes (sequence, ts, value, status, entry_id, duration_ms) VALUES (?, ?, ?, ?, ?, ?)`
	latestSQL = `SELECT sequence, ts, value, status, entry_id, duration_ms FROM publishes ORDER BY id DESC LIMIT ?`
)

type Journal struct {
	db *sql.DB
}

// New expects the schema from internal/db/migrate to be applied.
func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Record implements publisher.Sink.
func (j *Journal) Record(ctx context.Context, p types.Publish) error {
	var entryID any
	if p.EntryID != 0 {
		entryID = p.EntryID
	}
	_, err := j.db.ExecContext(ctx, insertSQL,
		p.Sequence,
		p.Timestamp.UTC().Format(time.RFC3339Nano),
		p.Value,
		p.Status,
		entryID,
		p.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert publish: %w", err)
	}
	return nil
}

// Latest returns up to limit publishes, newest first.
func (j *Journal) Latest(ctx context.Context, limit int) ([]types.Publish, error) {
	rows, err := j.db.QueryContext(ctx, latestSQL, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close publishes rows", "error", err)
		}
	}()

	out := []types.Publish{}
	for rows.Next() {
		var (
			p          types.Publish
			ts         string
			entryID    sql.NullInt64
			durationMS int64
		)
		if err := rows.Scan(&p.Sequence, &ts, &p.Value, &p.Status, &entryID, &durationMS); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		p.Timestamp = t
		p.EntryID = entryID.Int64
		p.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, p)
	}
	return out, rows.Err()
}

func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}
