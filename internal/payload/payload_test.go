package payload

import (
	"testing"

	"github.com/riverfreight/syncengine/internal/entity"
	"github.com/riverfreight/syncengine/internal/syncrules"
	"github.com/stretchr/testify/assert"
)

func TestPrepare_DropsUndefinedKeys(t *testing.T) {
	candidate := map[string]any{"name": "Acme", "notes": Undefined()}

	out := Prepare(candidate, nil, true, nil)

	assert.Equal(t, "Acme", out["name"])
	_, present := out["notes"]
	assert.False(t, present)
}

func TestPrepare_CreationPassesEverythingThrough(t *testing.T) {
	candidate := map[string]any{"name": "Acme", "notes": ""}

	out := Prepare(candidate, nil, true, nil)

	assert.Equal(t, "Acme", out["name"])
	assert.Equal(t, "", out["notes"])
}

func TestPrepare_UnchangedFieldDropped(t *testing.T) {
	candidate := map[string]any{"name": "  Acme  "}
	target := &entity.Record{Fields: map[string]any{"name": "Acme"}}

	out := Prepare(candidate, target, true, nil)

	_, present := out["name"]
	assert.False(t, present)
}

func TestPrepare_ChangedFieldIncluded(t *testing.T) {
	candidate := map[string]any{"name": "Acme Freight"}
	target := &entity.Record{Fields: map[string]any{"name": "Acme"}}

	out := Prepare(candidate, target, true, nil)

	assert.Equal(t, "Acme Freight", out["name"])
}

func TestPrepare_BlankOverwriteBlockedWhenCurrentNotBlankAndNotAllowed(t *testing.T) {
	candidate := map[string]any{"notes": ""}
	target := &entity.Record{Fields: map[string]any{"notes": "keep me"}}

	out := Prepare(candidate, target, true, nil)

	_, present := out["notes"]
	assert.False(t, present)
}

func TestPrepare_BlankOverwriteAllowedWhenFieldAllowlisted(t *testing.T) {
	candidate := map[string]any{"notes": ""}
	target := &entity.Record{Fields: map[string]any{"notes": "keep me"}}
	allowed := func(field string) bool { return field == "notes" }

	out := Prepare(candidate, target, true, allowed)

	assert.Equal(t, "", out["notes"])
}

func TestPrepare_BlankOverwriteAllowedWhenCurrentAlreadyBlank(t *testing.T) {
	candidate := map[string]any{"notes": nil}
	target := &entity.Record{Fields: map[string]any{"notes": ""}}

	out := Prepare(candidate, target, true, nil)

	assert.Nil(t, out["notes"])
}

func TestPrepare_BlankOverwriteAllowedWhenGuardDisabled(t *testing.T) {
	candidate := map[string]any{"notes": ""}
	target := &entity.Record{Fields: map[string]any{"notes": "keep me"}}

	out := Prepare(candidate, target, false, nil)

	assert.Equal(t, "", out["notes"])
}

func TestPrepare_MissingCurrentFieldCountsAsBlank(t *testing.T) {
	candidate := map[string]any{"notes": ""}
	target := &entity.Record{Fields: map[string]any{}}

	out := Prepare(candidate, target, true, nil)

	assert.Equal(t, "", out["notes"])
}

func TestNormalizedEqual_ListsIgnoreOrder(t *testing.T) {
	assert.True(t, normalizedEqual([]string{"a", "b"}, []any{"b", "a"}))
	assert.False(t, normalizedEqual([]string{"a", "b"}, []any{"a"}))
}

func TestNormalizedEqual_TrimsStrings(t *testing.T) {
	assert.True(t, normalizedEqual("  Acme  ", "Acme"))
}

func TestIsBlank(t *testing.T) {
	assert.True(t, isBlank(nil))
	assert.True(t, isBlank(Undefined()))
	assert.True(t, isBlank(""))
	assert.True(t, isBlank([]string{}))
	assert.True(t, isBlank([]any{}))
	assert.True(t, isBlank(map[string]any{}))
	assert.False(t, isBlank("value"))
	assert.False(t, isBlank(0))
}

func TestAllowlistFor_DelegatesToRules(t *testing.T) {
	rules := &syncrules.Rules{
		AllowBlankOverwrite: map[syncrules.Direction]map[entity.Kind][]string{
			syncrules.SupabaseToAirtable: {
				entity.Company: {"notes"},
			},
		},
	}

	allowed := AllowlistFor(rules, syncrules.SupabaseToAirtable, entity.Company)

	assert.True(t, allowed("notes"))
	assert.False(t, allowed("name"))
}

func TestAllowlistFor_NilRulesNeverAllows(t *testing.T) {
	allowed := AllowlistFor(nil, syncrules.SupabaseToAirtable, entity.Company)

	assert.False(t, allowed("notes"))
}
