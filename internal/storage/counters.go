// Copyright (c) 2025 Snail3D
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// USAGE COUNTERS
// =============================================================================

// Counter names recorded by the service.
const (
	CounterSessions = "sessions_created"
	CounterMessages = "messages"
	CounterExports  = "exports"
	CounterRestores = "restores"
	CounterUnlocks  = "unlocks"
	CounterSaves    = "saves"
)

// ErrCounterStore wraps database failures from the counter store.
var ErrCounterStore = errors.New("counter store error")

// CounterStore records daily usage counters in SQLite. Counts are bucketed
// by UTC day so the stats endpoint can report both totals and recent
// activity without a separate aggregation job.
type CounterStore struct {
	db *sql.DB
}

// OpenCounterStore opens (creating if needed) the counter database.
func OpenCounterStore(path string) (*CounterStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCounterStore, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCounterStore, err)
	}
	// SQLite allows one writer; serializing in the pool beats SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS counters (
		day  TEXT NOT NULL,
		name TEXT NOT NULL,
		n    INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (day, name)
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrCounterStore, err)
	}
	return &CounterStore{db: db}, nil
}

// Close closes the underlying database.
func (c *CounterStore) Close() error {
	return c.db.Close()
}

// Increment bumps a counter for today.
func (c *CounterStore) Increment(ctx context.Context, name string) error {
	return c.IncrementBy(ctx, name, 1)
}

// IncrementBy bumps a counter for today by n.
func (c *CounterStore) IncrementBy(ctx context.Context, name string, n int64) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO counters (day, name, n) VALUES (?, ?, ?)
		ON CONFLICT (day, name) DO UPDATE SET n = n + excluded.n`,
		today(), name, n)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCounterStore, err)
	}
	return nil
}

// Total returns the all-time total for a counter.
func (c *CounterStore) Total(ctx context.Context, name string) (int64, error) {
	var total sql.NullInt64
	err := c.db.QueryRowContext(ctx,
		`SELECT SUM(n) FROM counters WHERE name = ?`, name).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCounterStore, err)
	}
	return total.Int64, nil
}

// Totals returns all-time totals for every counter.
func (c *CounterStore) Totals(ctx context.Context) (map[string]int64, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT name, SUM(n) FROM counters GROUP BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCounterStore, err)
	}
	defer rows.Close()

	totals := make(map[string]int64)
	for rows.Next() {
		var name string
		var n int64
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCounterStore, err)
		}
		totals[name] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCounterStore, err)
	}
	return totals, nil
}

// Today returns today's count for a counter.
func (c *CounterStore) Today(ctx context.Context, name string) (int64, error) {
	var total sql.NullInt64
	err := c.db.QueryRowContext(ctx,
		`SELECT n FROM counters WHERE day = ? AND name = ?`, today(), name).Scan(&total)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrCounterStore, err)
	}
	return total.Int64, nil
}

// today returns the current UTC day bucket.
func today() string {
	return time.Now().UTC().Format("2006-01-02")
}
