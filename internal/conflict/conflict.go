// Package conflict implements timestamp-based last-writer-wins
// resolution with dual tolerance windows.
package conflict

import (
	"time"

	"github.com/riverfreight/syncengine/internal/entity"
)

// Action is the resolver's verdict for one record pair.
type Action int

const (
	Skip Action = iota
	Proceed
)

// Direction indicates which side is the source for this propagation.
type Direction int

const (
	SheetToRelational Direction = iota
	RelationalToSheet
)

// Decision is the resolver's output for one record.
type Decision struct {
	Action Action
	Reason string // "unchanged", "destination is newer", "both changed, destination is newer", ""

	// StampLastSynced is the value to write to the source's last_synced
	// column after a successful Proceed. Zero value when Action is Skip.
	StampLastSynced time.Time
}

// Resolve decides the action for one record pair. now is injected so
// callers (and tests) control the clock instead of the resolver reaching
// for time.Now() itself.
func Resolve(direction Direction, source, target entity.Record, relTolerance, sheetTolerance time.Duration, linkListDiffers bool, now time.Time) Decision {
	var sourceTolerance, targetTolerance time.Duration
	if direction == SheetToRelational {
		sourceTolerance, targetTolerance = sheetTolerance, relTolerance
	} else {
		sourceTolerance, targetTolerance = relTolerance, sheetTolerance
	}

	sourceChanged := hasChanged(source, sourceTolerance) || linkListDiffers
	targetChanged := hasChanged(target, targetTolerance)

	switch {
	case !sourceChanged && !targetChanged:
		return Decision{Action: Skip, Reason: "unchanged"}

	case sourceChanged && !targetChanged:
		return Decision{Action: Proceed, StampLastSynced: stampFor(source, now)}

	case !sourceChanged && targetChanged:
		return Decision{Action: Skip, Reason: "destination is newer"}

	default:
		// Both changed: sheet tolerance is always the tie-break epsilon,
		// regardless of direction.
		lcSource := tsOrZero(source.LastChangedForSync)
		lcTarget := tsOrZero(target.LastChangedForSync)
		delta := lcSource.Sub(lcTarget)
		if delta < 0 {
			delta = -delta
		}

		switch {
		case delta <= sheetTolerance: // equal within epsilon: source wins tie
			return Decision{Action: Proceed, StampLastSynced: stampFor(source, now)}
		case lcSource.After(lcTarget):
			return Decision{Action: Proceed, StampLastSynced: stampFor(source, now)}
		default:
			return Decision{Action: Skip, Reason: "both changed, destination is newer"}
		}
	}
}

// hasChanged is the per-side "changed since last sync" test: LC - LS
// > tolerance, with either timestamp missing counting as changed.
func hasChanged(rec entity.Record, tolerance time.Duration) bool {
	if rec.LastChangedForSync == nil || rec.LastSynced == nil {
		return true
	}
	return rec.LastChangedForSync.Sub(*rec.LastSynced) > tolerance
}

// stampFor implements the asymmetric last_synced stamping rule: if
// LC_source > LS_source, stamp LC_source, else stamp now().
func stampFor(source entity.Record, now time.Time) time.Time {
	lc := tsOrZero(source.LastChangedForSync)
	ls := tsOrZero(source.LastSynced)
	if lc.After(ls) {
		return lc
	}
	return now
}

func tsOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// EffectiveLoadLastChanged computes max(load.LC, max(load_cars_rows.LC))
// for load -> sheet propagation.
func EffectiveLoadLastChanged(loadLC *time.Time, joinRowLCs []*time.Time) *time.Time {
	max := tsOrZero(loadLC)
	found := loadLC != nil
	for _, t := range joinRowLCs {
		if t == nil {
			continue
		}
		found = true
		if t.After(max) {
			max = *t
		}
	}
	if !found {
		return nil
	}
	return &max
}
