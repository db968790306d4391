// Package payload turns a candidate field map into the minimal update
// payload to send to the target side.
package payload

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	"github.com/riverfreight/syncengine/internal/entity"
	"github.com/riverfreight/syncengine/internal/syncrules"
)

// AllowlistFunc reports whether a field may be written blank for the
// current (direction, entity) pair, per the sync-rules allowlist.
type AllowlistFunc func(field string) bool

// Prepare drops undefined keys, diffs the candidate against the target's
// current field values, and enforces the blank-overwrite guard.
// target is nil when the record is being created.
func Prepare(candidate map[string]any, target *entity.Record, preventBlank bool, allowed AllowlistFunc) map[string]any {
	out := make(map[string]any)

	for field, value := range candidate {
		if value == undefinedMarker {
			continue
		}

		if target == nil {
			out[field] = value
			continue
		}

		currentValue, hasCurrentValue := target.Fields[field]

		if normalizedEqual(value, currentValue) {
			continue
		}

		if preventBlank && isBlank(value) {
			allowedHere := allowed != nil && allowed(field)
			currentIsBlank := !hasCurrentValue || isBlank(currentValue)
			if !allowedHere && !currentIsBlank {
				continue
			}
		}

		out[field] = value
	}

	return out
}

// undefinedMarker is the sentinel a caller may place in a candidate map
// to mean "field is absent from the source", distinct from an explicit
// nil.
var undefinedMarker = struct{ undefined bool }{true}

// Undefined returns the sentinel value meaning "absent", for FieldMapper
// and callers to use when a source field genuinely has no value to offer.
func Undefined() any { return undefinedMarker }

// isBlank covers every shape "blank" can take: undefined, null, empty
// string, empty array, or empty object.
func isBlank(v any) bool {
	if v == nil || v == undefinedMarker {
		return true
	}
	switch t := v.(type) {
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// normalizedEqual compares two field values after trimming strings and
// canonicalizing arrays/objects via sorted JSON encoding.
func normalizedEqual(a, b any) bool {
	return normalize(a) == normalize(b)
}

func normalize(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return strings.TrimSpace(t)
	case []any:
		return normalizeSlice(t)
	case []string:
		generic := make([]any, len(t))
		for i, s := range t {
			generic[i] = s
		}
		return normalizeSlice(generic)
	case map[string]any:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		if reflect.ValueOf(v).Kind() == reflect.Invalid {
			return "null"
		}
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func normalizeSlice(items []any) string {
	strs := make([]string, len(items))
	for i, item := range items {
		strs[i] = normalize(item)
	}
	sort.Strings(strs)
	b, _ := json.Marshal(strs)
	return string(b)
}

// AllowlistFor builds an AllowlistFunc from a sync-rules document for one
// (direction, entity) pair.
func AllowlistFor(rules *syncrules.Rules, direction syncrules.Direction, kind entity.Kind) AllowlistFunc {
	return func(field string) bool {
		return rules.Allows(direction, kind, field)
	}
}
