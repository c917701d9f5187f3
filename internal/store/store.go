// Package store is the local SQLite persistence layer: timing records,
// single-device resume snapshots, and the wallet ledger.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/calderf/branchline/internal/pace"
)

const schema = `
CREATE TABLE IF NOT EXISTS timing_records (
	graph_id   TEXT NOT NULL,
	node_id    TEXT NOT NULL,
	avg_ms     REAL NOT NULL,
	samples    INTEGER NOT NULL,
	history_ms TEXT NOT NULL DEFAULT '[]',
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (graph_id, node_id)
);

CREATE TABLE IF NOT EXISTS resume_snapshots (
	root_graph_id TEXT PRIMARY KEY,
	snapshot      TEXT NOT NULL,
	updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL CHECK (kind IN ('earn', 'spend')),
	amount     INTEGER NOT NULL CHECK (amount > 0),
	created_at INTEGER NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS purchases (
	item_id    TEXT PRIMARY KEY,
	tx_id      TEXT NOT NULL REFERENCES transactions(id),
	created_at INTEGER NOT NULL
);
`

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path with WAL mode and foreign
// keys enabled, and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// TimingRecord returns the stored record for (graph, node), or nil when the
// node has never completed.
func (s *Store) TimingRecord(ctx context.Context, graphID, nodeID string) (*pace.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT avg_ms, samples, history_ms FROM timing_records WHERE graph_id = ? AND node_id = ?`,
		graphID, nodeID)

	var rec pace.Record
	var history string
	if err := row.Scan(&rec.AvgMs, &rec.Samples, &history); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load timing record: %w", err)
	}
	if err := json.Unmarshal([]byte(history), &rec.HistoryMs); err != nil {
		return nil, fmt.Errorf("decode timing history: %w", err)
	}
	return &rec, nil
}

// PutTimingRecord upserts the record for (graph, node).
func (s *Store) PutTimingRecord(ctx context.Context, graphID, nodeID string, rec pace.Record) error {
	history, err := json.Marshal(rec.HistoryMs)
	if err != nil {
		return fmt.Errorf("encode timing history: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO timing_records (graph_id, node_id, avg_ms, samples, history_ms, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (graph_id, node_id) DO UPDATE SET
			avg_ms = excluded.avg_ms,
			samples = excluded.samples,
			history_ms = excluded.history_ms,
			updated_at = excluded.updated_at`,
		graphID, nodeID, rec.AvgMs, rec.Samples, string(history), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store timing record: %w", err)
	}
	return nil
}

// PutResumeSnapshot stores the single-device resume snapshot for a root
// graph, replacing any previous one.
func (s *Store) PutResumeSnapshot(ctx context.Context, rootGraphID string, snapshot []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resume_snapshots (root_graph_id, snapshot, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (root_graph_id) DO UPDATE SET
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at`,
		rootGraphID, string(snapshot), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store resume snapshot: %w", err)
	}
	return nil
}

// ResumeSnapshot returns the stored snapshot for a root graph, or nil when
// there is nothing to resume.
func (s *Store) ResumeSnapshot(ctx context.Context, rootGraphID string) ([]byte, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM resume_snapshots WHERE root_graph_id = ?`, rootGraphID)
	var snapshot string
	if err := row.Scan(&snapshot); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load resume snapshot: %w", err)
	}
	return []byte(snapshot), nil
}

// DeleteResumeSnapshot removes the snapshot for a root graph, if any.
func (s *Store) DeleteResumeSnapshot(ctx context.Context, rootGraphID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM resume_snapshots WHERE root_graph_id = ?`, rootGraphID); err != nil {
		return fmt.Errorf("delete resume snapshot: %w", err)
	}
	return nil
}
