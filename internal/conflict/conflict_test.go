package conflict

import (
	"testing"
	"time"

	"github.com/riverfreight/syncengine/internal/entity"
	"github.com/stretchr/testify/assert"
)

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestResolve_Unchanged(t *testing.T) {
	source := entity.Record{LastChangedForSync: ts("2026-01-01T00:00:00Z"), LastSynced: ts("2026-01-01T00:00:00Z")}
	target := entity.Record{LastChangedForSync: ts("2026-01-01T00:00:00Z"), LastSynced: ts("2026-01-01T00:00:00Z")}

	decision := Resolve(SheetToRelational, source, target, time.Second, time.Minute, false, time.Now())

	assert.Equal(t, Skip, decision.Action)
	assert.Equal(t, "unchanged", decision.Reason)
}

func TestResolve_SourceChangedOnly(t *testing.T) {
	source := entity.Record{LastChangedForSync: ts("2026-01-02T00:00:00Z"), LastSynced: ts("2026-01-01T00:00:00Z")}
	target := entity.Record{LastChangedForSync: ts("2026-01-01T00:00:00Z"), LastSynced: ts("2026-01-01T00:00:00Z")}

	decision := Resolve(SheetToRelational, source, target, time.Second, time.Minute, false, time.Now())

	assert.Equal(t, Proceed, decision.Action)
	assert.Equal(t, *source.LastChangedForSync, decision.StampLastSynced)
}

func TestResolve_TargetChangedOnly_Skips(t *testing.T) {
	source := entity.Record{LastChangedForSync: ts("2026-01-01T00:00:00Z"), LastSynced: ts("2026-01-01T00:00:00Z")}
	target := entity.Record{LastChangedForSync: ts("2026-01-02T00:00:00Z"), LastSynced: ts("2026-01-01T00:00:00Z")}

	decision := Resolve(SheetToRelational, source, target, time.Second, time.Minute, false, time.Now())

	assert.Equal(t, Skip, decision.Action)
	assert.Equal(t, "destination is newer", decision.Reason)
}

func TestResolve_BothChanged_SourceNewerWins(t *testing.T) {
	source := entity.Record{LastChangedForSync: ts("2026-01-03T00:00:00Z"), LastSynced: ts("2026-01-01T00:00:00Z")}
	target := entity.Record{LastChangedForSync: ts("2026-01-02T00:00:00Z"), LastSynced: ts("2026-01-01T00:00:00Z")}

	decision := Resolve(SheetToRelational, source, target, time.Second, time.Minute, false, time.Now())

	assert.Equal(t, Proceed, decision.Action)
}

func TestResolve_BothChanged_WithinSheetToleranceEpsilon_SourceWinsTie(t *testing.T) {
	source := entity.Record{LastChangedForSync: ts("2026-01-02T00:00:30Z"), LastSynced: ts("2026-01-01T00:00:00Z")}
	target := entity.Record{LastChangedForSync: ts("2026-01-02T00:00:00Z"), LastSynced: ts("2026-01-01T00:00:00Z")}

	decision := Resolve(SheetToRelational, source, target, time.Second, time.Minute, false, time.Now())

	assert.Equal(t, Proceed, decision.Action)
}

func TestResolve_BothChanged_TargetNewerBeyondEpsilon_Skips(t *testing.T) {
	source := entity.Record{LastChangedForSync: ts("2026-01-02T00:00:00Z"), LastSynced: ts("2026-01-01T00:00:00Z")}
	target := entity.Record{LastChangedForSync: ts("2026-01-02T01:00:00Z"), LastSynced: ts("2026-01-01T00:00:00Z")}

	decision := Resolve(SheetToRelational, source, target, time.Second, time.Minute, false, time.Now())

	assert.Equal(t, Skip, decision.Action)
	assert.Equal(t, "both changed, destination is newer", decision.Reason)
}

func TestResolve_LinkListDiffersForcesProceedEvenWithoutTimestampChange(t *testing.T) {
	source := entity.Record{LastChangedForSync: ts("2026-01-01T00:00:00Z"), LastSynced: ts("2026-01-01T00:00:00Z")}
	target := entity.Record{LastChangedForSync: ts("2026-01-01T00:00:00Z"), LastSynced: ts("2026-01-01T00:00:00Z")}

	decision := Resolve(RelationalToSheet, source, target, time.Second, time.Minute, true, time.Now())

	assert.Equal(t, Proceed, decision.Action)
}

func TestResolve_MissingTimestampsCountAsChanged(t *testing.T) {
	source := entity.Record{}
	target := entity.Record{LastChangedForSync: ts("2026-01-01T00:00:00Z"), LastSynced: ts("2026-01-01T00:00:00Z")}

	decision := Resolve(SheetToRelational, source, target, time.Second, time.Minute, false, time.Now())

	assert.Equal(t, Proceed, decision.Action)
}

func TestStampFor_StampsNowWhenSourceLastChangedMissing(t *testing.T) {
	now := ts("2026-03-01T00:00:00Z")
	source := entity.Record{LastSynced: ts("2026-01-02T00:00:00Z")} // LastChangedForSync nil: missing counts as changed
	target := entity.Record{LastChangedForSync: ts("2026-01-01T00:00:00Z"), LastSynced: ts("2026-01-01T00:00:00Z")}

	decision := Resolve(SheetToRelational, source, target, time.Second, time.Minute, false, *now)

	assert.Equal(t, Proceed, decision.Action)
	assert.Equal(t, *now, decision.StampLastSynced)
}

func TestEffectiveLoadLastChanged(t *testing.T) {
	loadLC := ts("2026-01-01T00:00:00Z")
	newer := ts("2026-01-05T00:00:00Z")

	result := EffectiveLoadLastChanged(loadLC, []*time.Time{ts("2026-01-02T00:00:00Z"), newer})

	assert.Equal(t, *newer, *result)
}

func TestEffectiveLoadLastChanged_NilWhenNothingPresent(t *testing.T) {
	result := EffectiveLoadLastChanged(nil, []*time.Time{nil, nil})
	assert.Nil(t, result)
}
