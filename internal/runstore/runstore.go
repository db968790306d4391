// Package runstore persists one row per entity/direction sync run,
// following a start -> finish lifecycle: Start inserts the row, Finish
// records the final tallies.
package runstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Direction mirrors syncrules.Direction as a plain string for storage,
// so this package doesn't need to import syncrules for one constant pair.
type Direction string

const (
	SheetToRelational  Direction = "airtable_to_supabase"
	RelationalToSheet  Direction = "supabase_to_airtable"
)

// Run is one system_sync_runs row.
type Run struct {
	ID         string
	TableName  string
	Direction  Direction
	RunType    string // "manual" or "scheduled"
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Processed  int
	Created    int
	Updated    int
	Unchanged  int
	Skipped    int
	Errors     int
}

// Store wraps system_sync_runs CRUD.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Start inserts a new run row in progress and returns its generated id.
func (s *Store) Start(ctx context.Context, tableName string, direction Direction, runType string) (string, error) {
	id := uuid.NewString()
	query := `
		INSERT INTO system_sync_runs (id, table_name, direction, run_type, started_at, processed, created, updated, unchanged, skipped, errors)
		VALUES ($1, $2, $3, $4, NOW(), 0, 0, 0, 0, 0, 0)
	`
	if _, err := s.db.ExecContext(ctx, query, id, tableName, string(direction), runType); err != nil {
		return "", fmt.Errorf("runstore: failed to start run for %s/%s: %w", tableName, direction, err)
	}
	return id, nil
}

// Stats is the per-entity-direction tally RunCoordinator accumulates
// while processing records.
type Stats struct {
	Processed int
	Created   int
	Updated   int
	Unchanged int
	Skipped   int
	Errors    int
}

// Finish closes a run row with its final tallies.
func (s *Store) Finish(ctx context.Context, runID string, stats Stats) error {
	query := `
		UPDATE system_sync_runs
		SET finished_at = NOW(),
		    processed = $2,
		    created = $3,
		    updated = $4,
		    unchanged = $5,
		    skipped = $6,
		    errors = $7
		WHERE id = $1
	`
	_, err := s.db.ExecContext(ctx, query, runID, stats.Processed, stats.Created, stats.Updated, stats.Unchanged, stats.Skipped, stats.Errors)
	if err != nil {
		return fmt.Errorf("runstore: failed to finish run %s: %w", runID, err)
	}
	return nil
}

// GetLatest returns the most recently started run for one entity table,
// used by the status HTTP surface.
func (s *Store) GetLatest(ctx context.Context, tableName string) (*Run, error) {
	query := `
		SELECT id, table_name, direction, run_type, started_at, finished_at,
		       processed, created, updated, unchanged, skipped, errors
		FROM system_sync_runs
		WHERE table_name = $1
		ORDER BY started_at DESC
		LIMIT 1
	`
	run := &Run{}
	var direction string
	err := s.db.QueryRowContext(ctx, query, tableName).Scan(
		&run.ID, &run.TableName, &direction, &run.RunType, &run.StartedAt, &run.FinishedAt,
		&run.Processed, &run.Created, &run.Updated, &run.Unchanged, &run.Skipped, &run.Errors,
	)
	run.Direction = Direction(direction)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("runstore: failed to get latest run for %s: %w", tableName, err)
	}
	return run, nil
}

// ListRecent returns the most recent runs across every entity, newest
// first, for the status surface's overview endpoint.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT id, table_name, direction, run_type, started_at, finished_at,
		       processed, created, updated, unchanged, skipped, errors
		FROM system_sync_runs
		ORDER BY started_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("runstore: failed to list recent runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var run Run
		var direction string
		if err := rows.Scan(
			&run.ID, &run.TableName, &direction, &run.RunType, &run.StartedAt, &run.FinishedAt,
			&run.Processed, &run.Created, &run.Updated, &run.Unchanged, &run.Skipped, &run.Errors,
		); err != nil {
			return nil, fmt.Errorf("runstore: failed to scan run row: %w", err)
		}
		run.Direction = Direction(direction)
		out = append(out, run)
	}
	return out, rows.Err()
}
