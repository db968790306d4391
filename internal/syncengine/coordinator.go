package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/riverfreight/syncengine/internal/entity"
	"github.com/riverfreight/syncengine/internal/queue"
	"github.com/riverfreight/syncengine/internal/runstore"
)

// ErrorSummaryKey groups record errors for the end-of-run report:
// one line per (entity, direction, error-type, message) tuple.
type ErrorSummaryKey struct {
	Entity    entity.Kind
	Direction Direction
	ErrorType string
	Message   string
}

// Summary is RunCoordinator's full-run result.
type Summary struct {
	Stats    map[entity.Kind]map[Direction]EntityStats
	Errors   map[ErrorSummaryKey][]string // record ids, keyed by error class
	EntityErrors []string                 // entity-level (fetch/fatal) failures
}

// RunCoordinator runs the fixed topological order: every
// sheet->relational entity completes before any relational->sheet
// entity begins.
type RunCoordinator struct {
	Syncer *Syncer
	Runs   *runstore.Store
	Queue  *queue.Manager // optional; progress events are purely observational
}

// Run executes the pipeline for kinds (entity.SyncOrder when the
// caller passes the full set) across both directions, sheet->relational
// before relational->sheet for every entity.
func (c *RunCoordinator) Run(ctx context.Context, kinds []entity.Kind, runType string) Summary {
	summary := Summary{
		Stats:  make(map[entity.Kind]map[Direction]EntityStats),
		Errors: make(map[ErrorSummaryKey][]string),
	}

	for _, direction := range []Direction{SheetToRelational, RelationalToSheet} {
		for _, kind := range kinds {
			if ctx.Err() != nil {
				return summary
			}
			c.runOne(ctx, kind, direction, runType, &summary)
		}
	}

	return summary
}

func (c *RunCoordinator) runOne(ctx context.Context, kind entity.Kind, direction Direction, runType string, summary *Summary) {
	var runID string
	if c.Runs != nil {
		id, err := c.Runs.Start(ctx, string(kind), runstoreDirection(direction), runType)
		if err != nil {
			log.Printf("syncengine: failed to open sync_run row for %s/%s: %v", kind, direction, err)
		} else {
			runID = id
		}
	}

	stats, recordErrs, err := c.Syncer.SyncEntity(ctx, kind, direction)

	if c.Runs != nil && runID != "" {
		if finishErr := c.Runs.Finish(ctx, runID, runstore.Stats{
			Processed: stats.Processed,
			Created:   stats.Created,
			Updated:   stats.Updated,
			Unchanged: stats.Unchanged,
			Skipped:   stats.Skipped,
			Errors:    stats.Errors,
		}); finishErr != nil {
			log.Printf("syncengine: failed to close sync_run row %s for %s/%s: %v", runID, kind, direction, finishErr)
		}
	}

	if summary.Stats[kind] == nil {
		summary.Stats[kind] = make(map[Direction]EntityStats)
	}
	summary.Stats[kind][direction] = stats

	c.publishProgress(kind, direction, runType, stats)

	for _, re := range recordErrs {
		key := ErrorSummaryKey{Entity: re.Entity, Direction: re.Direction, ErrorType: re.ErrorType, Message: re.Message}
		summary.Errors[key] = append(summary.Errors[key], re.RecordID)
	}

	// Entity-level exception propagated after the sync_run row is closed,
	// but does not abort the rest of the run: per-record failures are
	// already localized, and a single entity's fetch failure shouldn't
	// block independent entities.
	if err != nil {
		msg := fmt.Sprintf("%s/%s: %v", kind, direction, err)
		log.Printf("syncengine: %s", msg)
		summary.EntityErrors = append(summary.EntityErrors, msg)
	}
}

// progressEvent is the payload published to SubjectSyncRunProgress once
// each (entity,direction) pair finishes.
type progressEvent struct {
	Entity    string `json:"entity"`
	Direction string `json:"direction"`
	RunType   string `json:"run_type"`
	Stats     EntityStats `json:"stats"`
}

// publishProgress emits a run-summary event for one (entity,direction)
// pair. Best-effort: a nil or unreachable queue never blocks the sync.
func (c *RunCoordinator) publishProgress(kind entity.Kind, direction Direction, runType string, stats EntityStats) {
	if c.Queue == nil {
		return
	}
	payload, err := json.Marshal(progressEvent{
		Entity:    string(kind),
		Direction: directionLabel(direction),
		RunType:   runType,
		Stats:     stats,
	})
	if err != nil {
		log.Printf("syncengine: failed to marshal progress event for %s/%s: %v", kind, direction, err)
		return
	}
	if err := c.Queue.Publish(queue.GetProgressSubject(string(kind)), payload); err != nil {
		log.Printf("syncengine: failed to publish progress event for %s/%s: %v", kind, direction, err)
	}
}

// PrintSummary writes the run-level report: per-entity-direction
// tallies, grouped record errors, and any entity-level failures.
func PrintSummary(summary Summary) {
	for kind, byDirection := range summary.Stats {
		for direction, stats := range byDirection {
			log.Printf("sync %s %s: processed=%d created=%d updated=%d unchanged=%d skipped=%d errors=%d",
				kind, directionLabel(direction), stats.Processed, stats.Created, stats.Updated, stats.Unchanged, stats.Skipped, stats.Errors)
		}
	}
	for key, ids := range summary.Errors {
		log.Printf("sync error %s %s %s %q: count=%d ids=%v", key.Entity, directionLabel(key.Direction), key.ErrorType, key.Message, len(ids), ids)
	}
	for _, msg := range summary.EntityErrors {
		log.Printf("sync entity failure: %s", msg)
	}
}

func directionLabel(direction Direction) string {
	if direction == SheetToRelational {
		return "sheet->relational"
	}
	return "relational->sheet"
}
