package mapper

import (
	"testing"

	"github.com/riverfreight/syncengine/internal/crossref"
	"github.com/riverfreight/syncengine/internal/entity"
	"github.com/riverfreight/syncengine/internal/payload"
	"github.com/stretchr/testify/assert"
)

func TestMapToTarget_TrimsStrings(t *testing.T) {
	spec := entity.Specs[entity.Company]
	source := entity.Record{Fields: map[string]any{"name": "  Acme Freight  "}}

	out := MapToTarget(SheetToRelational, spec, source, nil, nil)

	assert.Equal(t, "Acme Freight", out["name"])
}

func TestMapToTarget_RequiredFieldBlankedOutIsOmittedEntirely(t *testing.T) {
	spec := entity.Specs[entity.Company]
	source := entity.Record{Fields: map[string]any{"name": "   "}}

	out := MapToTarget(SheetToRelational, spec, source, nil, nil)

	_, present := out["name"]
	assert.False(t, present)
}

func TestMapToTarget_OptionalBlankFieldBecomesNull(t *testing.T) {
	spec := entity.Specs[entity.Car]
	source := entity.Record{Fields: map[string]any{
		"make":                  "Gondola",
		"model":                 "X900",
		"special_instructions":  "   ",
		"carrier_rate":          "",
	}}

	out := MapToTarget(SheetToRelational, spec, source, nil, nil)

	assert.Nil(t, out["special_instructions"])
	assert.Nil(t, out["carrier_rate"])
}

func TestMapToTarget_NumericFieldParsedFromTrimmedString(t *testing.T) {
	spec := entity.Specs[entity.Car]
	source := entity.Record{Fields: map[string]any{
		"make":         "Gondola",
		"model":        "X900",
		"carrier_rate": "  1234.5  ",
	}}

	out := MapToTarget(SheetToRelational, spec, source, nil, nil)

	assert.Equal(t, 1234.5, out["carrier_rate"])
}

func TestMapToTarget_UndefinedFieldOmittedWhenAbsentFromSource(t *testing.T) {
	spec := entity.Specs[entity.Company]
	source := entity.Record{Fields: map[string]any{}}

	out := MapToTarget(SheetToRelational, spec, source, nil, nil)

	_, present := out["name"]
	assert.False(t, present)
}

func TestMapToTarget_DateOnlyFormattedOnlyForRelationalToSheet(t *testing.T) {
	spec := entity.Specs[entity.Location]
	source := entity.Record{Fields: map[string]any{
		"address_line1": "1 Main St",
		"city":          "Springfield",
		"country_code":  "US",
		"created_at":    "2026-01-15T08:30:00Z",
	}}

	out := MapToTarget(RelationalToSheet, spec, source, nil, nil)

	assert.Equal(t, "2026-01-15", out["created_at"])
}

func TestMapToTarget_DateOnlyLeftAsIsForSheetToRelational(t *testing.T) {
	spec := entity.Specs[entity.Location]
	source := entity.Record{Fields: map[string]any{
		"address_line1": "1 Main St",
		"city":          "Springfield",
		"country_code":  "US",
		"created_at":    "2026-01-15T08:30:00Z",
	}}

	out := MapToTarget(SheetToRelational, spec, source, nil, nil)

	assert.Equal(t, "2026-01-15T08:30:00Z", out["created_at"])
}

func TestMapToTarget_LinkSheetToRelational_ResolvesFirstIDFromList(t *testing.T) {
	spec := entity.Specs[entity.Car]
	idx := &crossref.Index{SheetToRel: map[string]string{"at-loc-1": "rel-loc-1"}}
	source := entity.Record{Fields: map[string]any{
		"make":               "Gondola",
		"model":              "X900",
		"pickup_location_id": []string{"at-loc-1"},
	}}

	out := MapToTarget(SheetToRelational, spec, source, map[entity.Kind]*crossref.Index{entity.Location: idx}, nil)

	assert.Equal(t, "rel-loc-1", out["pickup_location_id"])
}

func TestMapToTarget_LinkSheetToRelational_MissingCounterpartIsUndefined(t *testing.T) {
	spec := entity.Specs[entity.Car]
	idx := &crossref.Index{}
	source := entity.Record{Fields: map[string]any{
		"make":               "Gondola",
		"model":              "X900",
		"pickup_location_id": []string{"at-loc-unknown"},
	}}

	out := MapToTarget(SheetToRelational, spec, source, map[entity.Kind]*crossref.Index{entity.Location: idx}, nil)

	assert.Equal(t, payload.Undefined(), out["pickup_location_id"])
}

func TestMapToTarget_LinkRelationalToSheet_ScalarBecomesSingleElementList(t *testing.T) {
	spec := entity.Specs[entity.Car]
	idx := &crossref.Index{RelToSheet: map[string]string{"rel-loc-1": "at-loc-1"}}
	source := entity.Record{Fields: map[string]any{
		"make":               "Gondola",
		"model":              "X900",
		"pickup_location_id": "rel-loc-1",
	}}

	out := MapToTarget(RelationalToSheet, spec, source, map[entity.Kind]*crossref.Index{entity.Location: idx}, nil)

	assert.Equal(t, []string{"at-loc-1"}, out["pickup_location_id"])
}

func TestMapToTarget_LinkRelationalToSheet_NilIndexTreatedAsEmpty(t *testing.T) {
	spec := entity.Specs[entity.Car]
	source := entity.Record{Fields: map[string]any{
		"make":               "Gondola",
		"model":              "X900",
		"pickup_location_id": "rel-loc-1",
	}}

	out := MapToTarget(RelationalToSheet, spec, source, map[entity.Kind]*crossref.Index{}, nil)

	assert.Equal(t, []string{}, out["pickup_location_id"])
}

func TestMapToTarget_LoadNumberDroppedAndLoadCarsInjectedOnRelationalToSheet(t *testing.T) {
	spec := entity.Specs[entity.Load]
	source := entity.Record{ID: "load-1", Fields: map[string]any{
		"load_number": "L-100",
	}}
	loadCars := map[string][]string{"load-1": {"at-car-1", "at-car-2", "at-car-1"}}

	out := MapToTarget(RelationalToSheet, spec, source, map[entity.Kind]*crossref.Index{}, loadCars)

	_, hasLoadNumber := out["load_number"]
	assert.False(t, hasLoadNumber)
	assert.ElementsMatch(t, []string{"at-car-1", "at-car-2"}, out["load_cars"])
}

func TestMapToTarget_LoadNumberPresentOnSheetToRelational(t *testing.T) {
	spec := entity.Specs[entity.Load]
	source := entity.Record{ID: "load-1", Fields: map[string]any{
		"load_number": "L-100",
	}}

	out := MapToTarget(SheetToRelational, spec, source, map[entity.Kind]*crossref.Index{}, nil)

	assert.Equal(t, "L-100", out["load_number"])
	_, hasLoadCars := out["load_cars"]
	assert.False(t, hasLoadCars)
}

func TestMapToTarget_NameLabelOnlySetForSheetToRelational(t *testing.T) {
	spec := entity.Specs[entity.Company]
	source := entity.Record{AirtableIDNameLabel: "Acme Co", Fields: map[string]any{"name": "Acme"}}

	toRel := MapToTarget(SheetToRelational, spec, source, nil, nil)
	toSheet := MapToTarget(RelationalToSheet, spec, source, nil, nil)

	assert.Equal(t, "Acme Co", toRel["airtable_id_name_label"])
	_, present := toSheet["airtable_id_name_label"]
	assert.False(t, present)
}

func TestNameLabel_FallbackChain(t *testing.T) {
	assert.Equal(t, "Label", nameLabel(entity.Record{AirtableIDNameLabel: "Label"}))
	assert.Equal(t, "id-field", nameLabel(entity.Record{Fields: map[string]any{"id": "id-field"}}))
	assert.Equal(t, "raw-id", nameLabel(entity.Record{Fields: map[string]any{"raw_fields": map[string]any{"id": "raw-id"}}}))
	assert.Equal(t, "at-fallback", nameLabel(entity.Record{AirtableID: "at-fallback"}))
}

func TestFormatDateOnly_ParsesMultipleLayouts(t *testing.T) {
	assert.Equal(t, "2026-01-15", formatDateOnly("2026-01-15T08:30:00Z"))
	assert.Equal(t, "2026-01-15", formatDateOnly("2026-01-15"))
	assert.Equal(t, "2026-01-15", formatDateOnly("2026-01-15T08:30:00"))
	assert.Equal(t, "not-a-date", formatDateOnly("not-a-date"))
	assert.Nil(t, formatDateOnly(nil))
}
