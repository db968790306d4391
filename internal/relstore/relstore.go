// Package relstore implements the relational-side store adapter:
// generic CRUD over Postgres driven by each entity's field table,
// using lib/pq with explicit column lists and RETURNING clauses.
package relstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/riverfreight/syncengine/internal/entity"
)

// Store is the relational-side RemoteStoreAdapter for every entity kind.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// FetchAll loads every row of one entity table into entity.Record.
func (s *Store) FetchAll(ctx context.Context, kind entity.Kind) ([]entity.Record, error) {
	spec := entity.Specs[kind]
	columns := selectColumns(spec)

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), kind)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("relstore: failed to fetch %s: %w", kind, err)
	}
	defer rows.Close()

	var out []entity.Record
	for rows.Next() {
		rec, err := scanRow(columns, rows)
		if err != nil {
			return nil, fmt.Errorf("relstore: failed to scan %s row: %w", kind, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// FindBySecondaryKey looks up one row by an entity's configured fallback
// key, applying the same normalization the cross-ref seed step uses so
// matches agree with the in-memory index.
func (s *Store) FindBySecondaryKey(ctx context.Context, kind entity.Kind, field, value string) (*entity.Record, error) {
	spec := entity.Specs[kind]
	columns := selectColumns(spec)

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 LIMIT 1", strings.Join(columns, ", "), kind, field)
	row := s.db.QueryRowContext(ctx, query, value)

	rec, err := scanRow(columns, row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("relstore: failed to look up %s by %s: %w", kind, field, err)
	}
	return &rec, nil
}

// Create inserts a new row built from a candidate field map produced by
// the mapper/preparer, and returns the generated id plus full record.
func (s *Store) Create(ctx context.Context, kind entity.Kind, fields map[string]any) (entity.Record, error) {
	keys := make([]string, 0, len(fields))
	placeholders := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields))
	for i, key := range sortedKeys(fields) {
		keys = append(keys, key)
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, fields[key])
	}

	spec := entity.Specs[kind]
	columns := selectColumns(spec)

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		kind, strings.Join(keys, ", "), strings.Join(placeholders, ", "), strings.Join(columns, ", "),
	)

	row := s.db.QueryRowContext(ctx, query, args...)
	rec, err := scanRow(columns, row)
	if err != nil {
		return entity.Record{}, fmt.Errorf("relstore: failed to create %s row: %w", kind, err)
	}
	return rec, nil
}

// Update patches an existing row in place by id.
func (s *Store) Update(ctx context.Context, kind entity.Kind, id string, fields map[string]any) (entity.Record, error) {
	if len(fields) == 0 {
		return s.fetchByID(ctx, kind, id)
	}

	keys := sortedKeys(fields)
	sets := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)+1)
	for i, key := range keys {
		sets = append(sets, fmt.Sprintf("%s = $%d", key, i+1))
		args = append(args, fields[key])
	}
	args = append(args, id)

	spec := entity.Specs[kind]
	columns := selectColumns(spec)

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE id = $%d RETURNING %s",
		kind, strings.Join(sets, ", "), len(args), strings.Join(columns, ", "),
	)

	row := s.db.QueryRowContext(ctx, query, args...)
	rec, err := scanRow(columns, row)
	if err != nil {
		return entity.Record{}, fmt.Errorf("relstore: failed to update %s row %s: %w", kind, id, err)
	}
	return rec, nil
}

func (s *Store) fetchByID(ctx context.Context, kind entity.Kind, id string) (entity.Record, error) {
	spec := entity.Specs[kind]
	columns := selectColumns(spec)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", strings.Join(columns, ", "), kind)
	row := s.db.QueryRowContext(ctx, query, id)
	return scanRow(columns, row)
}

// UpdateBackLink stamps the relational row's airtable_id and
// airtable_id_name_label columns once a sheet counterpart has been
// created or renamed.
func (s *Store) UpdateBackLink(ctx context.Context, kind entity.Kind, id, airtableID, nameLabel string) error {
	query := fmt.Sprintf("UPDATE %s SET airtable_id = $1, airtable_id_name_label = $2 WHERE id = $3", kind)
	_, err := s.db.ExecContext(ctx, query, airtableID, nameLabel, id)
	if err != nil {
		return fmt.Errorf("relstore: failed to set back-link on %s row %s: %w", kind, id, err)
	}
	return nil
}

// StampLastSynced writes the resolver's chosen last_synced value onto
// the relational row as part of the asymmetric stamping rule.
func (s *Store) StampLastSynced(ctx context.Context, kind entity.Kind, id string, at time.Time) error {
	query := fmt.Sprintf("UPDATE %s SET last_synced = $1 WHERE id = $2", kind)
	_, err := s.db.ExecContext(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("relstore: failed to stamp last_synced on %s row %s: %w", kind, id, err)
	}
	return nil
}

// FetchLoadCarRows loads every load_cars join row.
func (s *Store) FetchLoadCarRows(ctx context.Context) ([]entity.LoadCarRow, error) {
	query := `SELECT load_id, car_id, car_airtable_id, is_assigned, last_changed_for_sync FROM load_cars`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("relstore: failed to fetch load_cars: %w", err)
	}
	defer rows.Close()

	var out []entity.LoadCarRow
	for rows.Next() {
		var row entity.LoadCarRow
		var carAirtableID sql.NullString
		var isAssigned sql.NullBool
		var lastChanged sql.NullString
		if err := rows.Scan(&row.LoadID, &row.CarID, &carAirtableID, &isAssigned, &lastChanged); err != nil {
			return nil, fmt.Errorf("relstore: failed to scan load_cars row: %w", err)
		}
		row.CarAirtableID = carAirtableID.String
		if isAssigned.Valid {
			row.IsAssigned = isAssigned.Bool
		}
		row.LastChangedForSync = parseTimestamp(lastChanged)
		out = append(out, row)
	}
	return out, rows.Err()
}

// selectColumns is the fixed projection used for every read of one
// entity kind: identity/bookkeeping columns first, then the declared
// domain and link fields in declaration order.
func selectColumns(spec entity.Spec) []string {
	columns := []string{"id", "airtable_id", "airtable_id_name_label", "last_changed_for_sync", "last_synced"}
	columns = append(columns, spec.ColumnKeys()...)
	columns = append(columns, spec.LinkKeys()...)
	return columns
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRow reads one row into entity.Record using sql.NullString-backed
// scan targets, since the column set is dynamic per entity kind.
func scanRow(columns []string, row rowScanner) (entity.Record, error) {
	dest := make([]any, len(columns))
	raw := make([]sql.NullString, len(columns))
	for i := range dest {
		dest[i] = &raw[i]
	}
	if err := row.Scan(dest...); err != nil {
		return entity.Record{}, err
	}

	rec := entity.Record{Fields: make(map[string]any)}
	for i, col := range columns {
		val := raw[i]
		switch col {
		case "id":
			rec.ID = val.String
		case "airtable_id":
			rec.AirtableID = val.String
		case "airtable_id_name_label":
			rec.AirtableIDNameLabel = val.String
		case "last_changed_for_sync":
			rec.LastChangedForSync = parseTimestamp(val)
		case "last_synced":
			rec.LastSynced = parseTimestamp(val)
		default:
			if val.Valid {
				rec.Fields[col] = val.String
			}
		}
	}
	return rec, nil
}

func parseTimestamp(val sql.NullString) *time.Time {
	if !val.Valid || val.String == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999-07", "2006-01-02"} {
		if t, err := time.Parse(layout, val.String); err == nil {
			return &t
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// deterministic ordering keeps generated SQL stable across runs,
	// which matters for log output and tests.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}
