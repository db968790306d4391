// Package mapper produces a candidate payload for the target side from
// a source record, applying per-field normalization and link
// translation along the way.
package mapper

import (
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/riverfreight/syncengine/internal/crossref"
	"github.com/riverfreight/syncengine/internal/entity"
	"github.com/riverfreight/syncengine/internal/payload"
)

// Direction selects which cross-ref map and link-translation rule apply.
type Direction int

const (
	SheetToRelational Direction = iota
	RelationalToSheet
)

// MapToTarget produces the candidate payload for one record. idxByKind
// carries one cross-ref index per linked entity kind (an entity may
// link to more than one kind, e.g. load links to both company and
// location); loadCars is only consulted for Load records on the
// relational->sheet direction.
func MapToTarget(direction Direction, spec entity.Spec, source entity.Record, idxByKind map[entity.Kind]*crossref.Index, loadCars map[string][]string) map[string]any {
	out := make(map[string]any)
	required := spec.Required()
	numeric := spec.Numeric()
	dateOnly := spec.DateOnly()
	links := spec.Links()

	for _, field := range spec.ColumnKeys() {
		raw, present := source.Fields[field]
		if !present {
			continue // undefined: omit entirely
		}

		value := normalizeValue(raw, required[field], numeric[field])
		if value == payload.Undefined() {
			continue // required field blanked out on creation-style payload: omit key
		}

		if direction == RelationalToSheet && dateOnly[field] {
			value = formatDateOnly(value)
		}

		out[field] = value
	}

	for field, targetKind := range links {
		out[field] = translateLink(direction, source.Fields[field], idxByKind[targetKind])
	}

	if spec.Kind == entity.Load && direction == RelationalToSheet {
		// load_number is read-only on the sheet side.
		delete(out, "load_number")

		carIDs := dedupeStrings(loadCars[source.ID])
		out["load_cars"] = carIDs
	}

	if direction == SheetToRelational {
		out["airtable_id_name_label"] = nameLabel(source)
	}

	return out
}

// normalizeValue applies the per-value normalization rule: strings trimmed; empty string -> null unless required (then omitted);
// numeric fields parsed from trimmed strings, non-finite -> null;
// everything else passes through.
func normalizeValue(raw any, required, numericField bool) any {
	if s, ok := raw.(string); ok {
		trimmed := strings.TrimSpace(s)
		if numericField {
			if trimmed == "" {
				if required {
					return payload.Undefined()
				}
				return nil
			}
			f, err := strconv.ParseFloat(trimmed, 64)
			if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
				return nil
			}
			return f
		}
		if trimmed == "" {
			if required {
				return payload.Undefined()
			}
			return nil
		}
		return trimmed
	}

	if numericField {
		if f, ok := toFloat(raw); ok {
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return nil
			}
			return f
		}
		return nil
	}

	return raw
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

// translateLink implements the link translation rules.
// A nil idx (no records fetched yet for the target kind) behaves as an
// empty index: every lookup misses.
func translateLink(direction Direction, raw any, idx *crossref.Index) any {
	if idx == nil {
		idx = &crossref.Index{}
	}

	if direction == SheetToRelational {
		ids, ok := asStringList(raw)
		if !ok || len(ids) == 0 {
			return payload.Undefined()
		}
		relID, found := idx.SheetToRel[ids[0]]
		if !found {
			log.Printf("mapper: reference-missing warning: sheet link id %s has no relational counterpart", ids[0])
			return payload.Undefined()
		}
		return relID
	}

	// relational -> sheet: scalar (or nil) -> list.
	relID, ok := raw.(string)
	if !ok || strings.TrimSpace(relID) == "" {
		return []string{}
	}
	sheetID, found := idx.RelToSheet[relID]
	if !found {
		log.Printf("mapper: reference-missing warning: relational link id %s has no sheet counterpart", relID)
		return []string{}
	}
	return []string{sheetID}
}

func asStringList(raw any) ([]string, bool) {
	switch t := raw.(type) {
	case []string:
		return t, true
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	}
	return nil, false
}

// nameLabel implements the name-label preference order:
// airtable_id_name_label, else id, else raw_fields.id, else airtable_id.
func nameLabel(source entity.Record) string {
	if source.AirtableIDNameLabel != "" {
		return source.AirtableIDNameLabel
	}
	if id, ok := source.Fields["id"].(string); ok && id != "" {
		return id
	}
	if rawFields, ok := source.Fields["raw_fields"].(map[string]any); ok {
		if id, ok := rawFields["id"].(string); ok && id != "" {
			return id
		}
	}
	return source.AirtableID
}

// formatDateOnly reformats a parseable timestamp to YYYY-MM-DD for the
// sheet side; unparseable values pass through.
func formatDateOnly(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		return t.Format("2006-01-02")
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02T15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.Format("2006-01-02")
			}
		}
		return t
	default:
		return v
	}
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
