// Package syncengine implements the per-entity sync pipeline and the
// fixed-order orchestration across all seven entities and both
// directions.
package syncengine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/riverfreight/syncengine/internal/conflict"
	"github.com/riverfreight/syncengine/internal/crossref"
	"github.com/riverfreight/syncengine/internal/entity"
	"github.com/riverfreight/syncengine/internal/mapper"
	"github.com/riverfreight/syncengine/internal/payload"
	"github.com/riverfreight/syncengine/internal/runstore"
	"github.com/riverfreight/syncengine/internal/syncrules"
)

// RelationalStore is the subset of relstore.Store's surface the engine
// depends on, kept as an interface so tests can supply an in-memory fake.
type RelationalStore interface {
	FetchAll(ctx context.Context, kind entity.Kind) ([]entity.Record, error)
	FindBySecondaryKey(ctx context.Context, kind entity.Kind, field, value string) (*entity.Record, error)
	Create(ctx context.Context, kind entity.Kind, fields map[string]any) (entity.Record, error)
	Update(ctx context.Context, kind entity.Kind, id string, fields map[string]any) (entity.Record, error)
	UpdateBackLink(ctx context.Context, kind entity.Kind, id, airtableID, nameLabel string) error
	StampLastSynced(ctx context.Context, kind entity.Kind, id string, at time.Time) error
	FetchLoadCarRows(ctx context.Context) ([]entity.LoadCarRow, error)
}

// SheetStore is the subset of sheetstore.Adapter's surface the engine
// depends on.
type SheetStore interface {
	FetchAll(ctx context.Context, kind entity.Kind) ([]entity.Record, error)
	FindBySecondaryKey(ctx context.Context, kind entity.Kind, field, value string) (*entity.Record, error)
	Create(ctx context.Context, kind entity.Kind, fields map[string]any) (entity.Record, error)
	Update(ctx context.Context, kind entity.Kind, airtableID string, fields map[string]any) (entity.Record, error)
}

// Direction aliases mapper.Direction so callers of this package don't
// need to import mapper just to pick a direction.
type Direction = mapper.Direction

const (
	SheetToRelational = mapper.SheetToRelational
	RelationalToSheet = mapper.RelationalToSheet
)

// EntityStats is the per-entity-direction outcome tally.
type EntityStats struct {
	Processed int
	Created   int
	Updated   int
	Unchanged int
	Skipped   int
	Errors    int
}

// RecordError is one per-record failure, kept for the run-level error
// summary.
type RecordError struct {
	Entity    entity.Kind
	Direction Direction
	RecordID  string
	ErrorType string
	Message   string
}

// Syncer drives EntitySyncer over one entity/direction pair.
type Syncer struct {
	Rel            RelationalStore
	Sheet          SheetStore
	Rules          *syncrules.Rules
	RelTolerance   time.Duration
	SheetTolerance time.Duration
	Now            func() time.Time
}

func (s *Syncer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// SyncEntity runs the full pipeline for one (entity, direction) pair.
func (s *Syncer) SyncEntity(ctx context.Context, kind entity.Kind, direction Direction) (EntityStats, []RecordError, error) {
	spec := entity.Specs[kind]
	var stats EntityStats
	var errs []RecordError

	relRecords, err := s.Rel.FetchAll(ctx, kind)
	if err != nil {
		return stats, errs, fmt.Errorf("syncengine: failed to fetch relational %s: %w", kind, err)
	}
	sheetRecords, err := s.Sheet.FetchAll(ctx, kind)
	if err != nil {
		return stats, errs, fmt.Errorf("syncengine: failed to fetch sheet %s: %w", kind, err)
	}

	ownIdx := crossref.Build(relRecords, sheetRecords)

	idxByKind, err := s.buildLinkIndexes(ctx, spec)
	if err != nil {
		return stats, errs, fmt.Errorf("syncengine: failed to build link indexes for %s: %w", kind, err)
	}

	var loadCars map[string][]string
	var loadCarsMaxLC map[string]*time.Time
	if spec.HasLoadCarsLink && direction == RelationalToSheet {
		loadCars, loadCarsMaxLC, err = s.buildLoadCars(ctx)
		if err != nil {
			return stats, errs, fmt.Errorf("syncengine: failed to build load_cars for %s: %w", kind, err)
		}
	}

	var sourceRecords, targetRecords []entity.Record
	if direction == SheetToRelational {
		sourceRecords, targetRecords = sheetRecords, relRecords
	} else {
		sourceRecords, targetRecords = relRecords, sheetRecords
	}

	targetByID := make(map[string]entity.Record, len(targetRecords))
	for _, t := range targetRecords {
		targetByID[targetKey(direction, t)] = t
	}

	allowlist := payload.AllowlistFor(s.Rules, directionRules(direction), kind)

	for _, source := range sourceRecords {
		if ctx.Err() != nil {
			break // cancel after the in-flight record completes
		}
		stats.Processed++

		target, err := s.findTarget(ctx, kind, spec, direction, source, ownIdx, targetByID)
		if err != nil {
			stats.Errors++
			errs = append(errs, recordErr(kind, direction, sourceKey(direction, source), "lookup-error", err.Error()))
			continue
		}

		decision, shouldSkip := s.resolve(direction, kind, source, target, loadCars, loadCarsMaxLC)
		if shouldSkip {
			if decision.Reason == "unchanged" {
				stats.Unchanged++
			} else {
				stats.Skipped++
			}
			continue
		}

		candidate := mapper.MapToTarget(direction, spec, source, idxByKind, loadCars)
		prepared := payload.Prepare(candidate, target, s.Rules == nil || s.Rules.PreventBlankOverwrite, allowlist)

		if target == nil {
			if missing := missingRequired(spec, prepared); len(missing) > 0 {
				stats.Errors++
				errs = append(errs, recordErr(kind, direction, sourceKey(direction, source), "MissingRequiredField", strings.Join(missing, ", ")))
				continue
			}
		} else if len(prepared) == 0 {
			stats.Unchanged++
			continue
		}

		written, created, err := s.write(ctx, kind, direction, target, prepared)
		if err != nil {
			stats.Errors++
			errs = append(errs, recordErr(kind, direction, sourceKey(direction, source), "write-error", err.Error()))
			continue
		}
		if created {
			stats.Created++
		} else {
			stats.Updated++
		}

		ownIdx.Seed(relID(direction, source, written), sheetID(direction, source, written))

		if err := s.writeBackLink(ctx, kind, direction, source, written); err != nil {
			log.Printf("syncengine: back-link write failed for %s %s: %v", kind, sourceKey(direction, source), err)
		}
		if err := s.stampLastSynced(ctx, kind, direction, source, decision.StampLastSynced); err != nil {
			log.Printf("syncengine: last_synced stamp failed for %s %s: %v", kind, sourceKey(direction, source), err)
		}
	}

	return stats, errs, nil
}

// buildLinkIndexes fetches and indexes every distinct kind this entity
// links to, so the mapper can translate every link field regardless of
// how many distinct target kinds it spans.
func (s *Syncer) buildLinkIndexes(ctx context.Context, spec entity.Spec) (map[entity.Kind]*crossref.Index, error) {
	out := make(map[entity.Kind]*crossref.Index)
	seen := make(map[entity.Kind]bool)
	for _, targetKind := range spec.Links() {
		if seen[targetKind] {
			continue
		}
		seen[targetKind] = true

		rel, err := s.Rel.FetchAll(ctx, targetKind)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch relational %s for link resolution: %w", targetKind, err)
		}
		sheet, err := s.Sheet.FetchAll(ctx, targetKind)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch sheet %s for link resolution: %w", targetKind, err)
		}
		out[targetKind] = crossref.Build(rel, sheet)
	}
	return out, nil
}

// buildLoadCars fetches join rows, builds the load_id -> [car
// airtable_id] aggregation, and the per-load max join-row
// last_changed_for_sync used by the conflict resolver's "effective
// load LC" rule.
func (s *Syncer) buildLoadCars(ctx context.Context) (map[string][]string, map[string]*time.Time, error) {
	rows, err := s.Rel.FetchLoadCarRows(ctx)
	if err != nil {
		return nil, nil, err
	}
	carRel, err := s.Rel.FetchAll(ctx, entity.Car)
	if err != nil {
		return nil, nil, err
	}
	carSheet, err := s.Sheet.FetchAll(ctx, entity.Car)
	if err != nil {
		return nil, nil, err
	}
	carIdx := crossref.Build(carRel, carSheet)

	maxLC := make(map[string]*time.Time)
	for _, row := range rows {
		if row.LastChangedForSync == nil {
			continue
		}
		if cur, ok := maxLC[row.LoadID]; !ok || row.LastChangedForSync.After(*cur) {
			t := *row.LastChangedForSync
			maxLC[row.LoadID] = &t
		}
	}

	return crossref.BuildLoadCars(rows, carIdx), maxLC, nil
}

// findTarget locates a source record's twin: cross-ref first, then the
// entity's configured secondary key.
func (s *Syncer) findTarget(ctx context.Context, kind entity.Kind, spec entity.Spec, direction Direction, source entity.Record, idx *crossref.Index, targetByID map[string]entity.Record) (*entity.Record, error) {
	if direction == SheetToRelational {
		if pairedRelID, ok := idx.SheetToRel[source.AirtableID]; ok {
			if t, ok := targetByID[pairedRelID]; ok {
				return &t, nil
			}
		}
	} else {
		if pairedSheetID, ok := idx.RelToSheet[source.ID]; ok {
			if t, ok := targetByID[pairedSheetID]; ok {
				return &t, nil
			}
		}
	}

	sk := spec.SecondaryKey
	if sk.Field == "" {
		return nil, nil
	}

	if sk.Field == "airtable_id" {
		// The relational side's own airtable_id column already names the
		// paired sheet record id directly; no round trip needed.
		if direction == RelationalToSheet {
			if source.AirtableID == "" {
				return nil, nil
			}
			if t, ok := targetByID[source.AirtableID]; ok {
				return &t, nil
			}
			return nil, nil
		}
		// sheet -> relational with an airtable_id-keyed entity: fall
		// through to the store lookup below using the sheet record's own id.
	}

	value, ok := source.Fields[sk.Field].(string)
	if !ok || value == "" {
		if sk.Field == "airtable_id" {
			value = source.AirtableID
		}
		if value == "" {
			return nil, nil
		}
	}
	if sk.Normalize != nil {
		value = sk.Normalize(value)
	}

	if direction == SheetToRelational {
		return s.Rel.FindBySecondaryKey(ctx, kind, sk.Field, value)
	}
	return s.Sheet.FindBySecondaryKey(ctx, kind, sk.Field, value)
}

// resolve applies conflict resolution, treating a missing target as an
// unconditional creation (conflict comparison only makes sense between
// two existing sides; there is nothing to compare against yet).
func (s *Syncer) resolve(direction Direction, kind entity.Kind, source entity.Record, target *entity.Record, loadCars map[string][]string, loadCarsMaxLC map[string]*time.Time) (conflict.Decision, bool) {
	if target == nil {
		return conflict.Decision{Action: conflict.Proceed, StampLastSynced: s.now()}, false
	}

	effectiveSource := source
	linkListDiffers := false
	if kind == entity.Load && direction == RelationalToSheet {
		var joinLCs []*time.Time
		if lc, ok := loadCarsMaxLC[source.ID]; ok {
			joinLCs = append(joinLCs, lc)
		}
		effectiveSource.LastChangedForSync = conflict.EffectiveLoadLastChanged(source.LastChangedForSync, joinLCs)

		wanted := loadCars[source.ID]
		current := target.Fields["load_cars"]
		linkListDiffers = !sameCarSet(wanted, current)
	}

	decision := conflict.Resolve(conflictDirection(direction), effectiveSource, *target, s.RelTolerance, s.SheetTolerance, linkListDiffers, s.now())
	return decision, decision.Action == conflict.Skip
}

func conflictDirection(direction Direction) conflict.Direction {
	if direction == SheetToRelational {
		return conflict.SheetToRelational
	}
	return conflict.RelationalToSheet
}

func sameCarSet(wanted []string, current any) bool {
	set := make(map[string]bool, len(wanted))
	for _, id := range wanted {
		set[id] = true
	}

	var currentList []string
	switch t := current.(type) {
	case []string:
		currentList = t
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				currentList = append(currentList, s)
			}
		}
	}

	if len(currentList) != len(set) {
		return false
	}
	for _, id := range currentList {
		if !set[id] {
			return false
		}
	}
	return true
}

// write issues the create or update call against the target side.
func (s *Syncer) write(ctx context.Context, kind entity.Kind, direction Direction, target *entity.Record, prepared map[string]any) (entity.Record, bool, error) {
	if direction == SheetToRelational {
		if target == nil {
			rec, err := s.Rel.Create(ctx, kind, prepared)
			return rec, true, err
		}
		rec, err := s.Rel.Update(ctx, kind, target.ID, prepared)
		return rec, false, err
	}

	if target == nil {
		rec, err := s.Sheet.Create(ctx, kind, prepared)
		return rec, true, err
	}
	rec, err := s.Sheet.Update(ctx, kind, target.AirtableID, prepared)
	return rec, false, err
}

// writeBackLink updates the SOURCE record's own pairing fields once the
// target write succeeds: the side that initiated the change is the one
// whose bookkeeping columns may still be stale.
func (s *Syncer) writeBackLink(ctx context.Context, kind entity.Kind, direction Direction, source, written entity.Record) error {
	if direction == SheetToRelational {
		if source.SupabaseID == written.ID {
			return nil
		}
		_, err := s.Sheet.Update(ctx, kind, source.AirtableID, map[string]any{"supabase_id": written.ID})
		return err
	}

	label := nameLabelFromTarget(written)
	if source.AirtableID == written.AirtableID && source.AirtableIDNameLabel == label {
		return nil
	}
	return s.Rel.UpdateBackLink(ctx, kind, source.ID, written.AirtableID, label)
}

func nameLabelFromTarget(rec entity.Record) string {
	if rec.AirtableIDNameLabel != "" {
		return rec.AirtableIDNameLabel
	}
	if id, ok := rec.Fields["id"].(string); ok && id != "" {
		return id
	}
	return rec.AirtableID
}

// stampLastSynced writes the resolver's chosen marker to the source
// side's own last_synced column.
func (s *Syncer) stampLastSynced(ctx context.Context, kind entity.Kind, direction Direction, source entity.Record, at time.Time) error {
	if direction == SheetToRelational {
		_, err := s.Sheet.Update(ctx, kind, source.AirtableID, map[string]any{"last_synced": at.UTC().Format(time.RFC3339)})
		return err
	}
	return s.Rel.StampLastSynced(ctx, kind, source.ID, at)
}

func missingRequired(spec entity.Spec, prepared map[string]any) []string {
	var missing []string
	for field := range spec.Required() {
		if _, ok := prepared[field]; !ok {
			missing = append(missing, field)
		}
	}
	return missing
}

func recordErr(kind entity.Kind, direction Direction, recordID, errType, message string) RecordError {
	return RecordError{Entity: kind, Direction: direction, RecordID: recordID, ErrorType: errType, Message: message}
}

func sourceKey(direction Direction, rec entity.Record) string {
	if direction == SheetToRelational {
		return rec.AirtableID
	}
	return rec.ID
}

func targetKey(direction Direction, rec entity.Record) string {
	if direction == SheetToRelational {
		return rec.ID
	}
	return rec.AirtableID
}

func relID(direction Direction, source, written entity.Record) string {
	if direction == SheetToRelational {
		return written.ID
	}
	return source.ID
}

func sheetID(direction Direction, source, written entity.Record) string {
	if direction == SheetToRelational {
		return source.AirtableID
	}
	return written.AirtableID
}

func directionRules(direction Direction) syncrules.Direction {
	if direction == SheetToRelational {
		return syncrules.AirtableToSupabase
	}
	return syncrules.SupabaseToAirtable
}

// runstoreDirection maps this package's Direction to the persisted form
// stored in system_sync_runs.
func runstoreDirection(direction Direction) runstore.Direction {
	if direction == SheetToRelational {
		return runstore.SheetToRelational
	}
	return runstore.RelationalToSheet
}
