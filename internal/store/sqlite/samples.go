// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sigil-dev/modelplane/internal/store"
)

// Compile-time interface check.
var _ store.SampleStore = (*SampleStore)(nil)

// SampleStore implements store.SampleStore backed by SQLite.
type SampleStore struct {
	db *sql.DB
}

// NewSampleStore opens (or creates) a SQLite database at dbPath and
// initialises the samples table.
func NewSampleStore(dbPath string) (*SampleStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating sqlite db: %w", err)
	}

	return &SampleStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS samples (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	provider    TEXT NOT NULL,
	model       TEXT NOT NULL,
	tag         TEXT NOT NULL,
	recorded_at INTEGER NOT NULL,
	success     INTEGER NOT NULL,
	latency_ns  INTEGER NOT NULL,
	score       REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_samples_key ON samples(provider, model, tag, recorded_at);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (s *SampleStore) Close() error {
	return s.db.Close()
}

func (s *SampleStore) AppendSamples(ctx context.Context, samples []store.SampleRecord) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %w", store.ErrDatabase, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO samples (provider, model, tag, recorded_at, success, latency_ns, score)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: preparing insert: %w", store.ErrDatabase, err)
	}
	defer stmt.Close()

	for _, r := range samples {
		if _, err := stmt.ExecContext(ctx,
			r.Key.Provider,
			r.Key.Model,
			r.Key.Tag,
			r.Timestamp.UnixNano(),
			boolToInt(r.Success),
			int64(r.Latency),
			r.Score,
		); err != nil {
			return fmt.Errorf("%w: inserting sample for %s: %w", store.ErrDatabase, r.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing samples: %w", store.ErrDatabase, err)
	}
	return nil
}

func (s *SampleStore) ListSamples(ctx context.Context, q store.SampleQuery) ([]store.SampleRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit == 0 {
		limit = -1 // SQLite: no limit
	}
	var since int64
	if !q.Since.IsZero() {
		since = q.Since.UnixNano()
	}

	// Newest rows first so LIMIT keeps the tail, then flip to oldest first.
	const query = `SELECT recorded_at, success, latency_ns, score FROM samples
WHERE provider = ? AND model = ? AND tag = ? AND recorded_at >= ?
ORDER BY recorded_at DESC, id DESC
LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, q.Key.Provider, q.Key.Model, q.Key.Tag, since, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: querying samples for %s: %w", store.ErrDatabase, q.Key, err)
	}
	defer rows.Close()

	var out []store.SampleRecord
	for rows.Next() {
		var (
			recordedAt int64
			success    int
			latency    int64
			score      float64
		)
		if err := rows.Scan(&recordedAt, &success, &latency, &score); err != nil {
			return nil, fmt.Errorf("%w: scanning sample: %w", store.ErrDatabase, err)
		}
		out = append(out, store.SampleRecord{
			Key:       q.Key,
			Timestamp: time.Unix(0, recordedAt).UTC(),
			Success:   success != 0,
			Latency:   time.Duration(latency),
			Score:     score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating samples: %w", store.ErrDatabase, err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SampleStore) ListKeys(ctx context.Context) ([]store.SampleKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT provider, model, tag FROM samples ORDER BY provider, model, tag`)
	if err != nil {
		return nil, fmt.Errorf("%w: listing sample keys: %w", store.ErrDatabase, err)
	}
	defer rows.Close()

	var keys []store.SampleKey
	for rows.Next() {
		var k store.SampleKey
		if err := rows.Scan(&k.Provider, &k.Model, &k.Tag); err != nil {
			return nil, fmt.Errorf("%w: scanning sample key: %w", store.ErrDatabase, err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SampleStore) PruneSamples(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM samples WHERE recorded_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("%w: pruning samples: %w", store.ErrDatabase, err)
	}
	return res.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
