// Package syncrules loads the optional sync-rules file that configures
// the blank-overwrite guard's per-field allowlist.
package syncrules

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/riverfreight/syncengine/internal/entity"
)

// Direction distinguishes which allowlist applies.
type Direction string

const (
	AirtableToSupabase Direction = "airtableToSupabase"
	SupabaseToAirtable Direction = "supabaseToAirtable"
)

// Rules is the parsed sync-rules document.
type Rules struct {
	PreventBlankOverwrite bool                                  `json:"preventBlankOverwrite"`
	AllowBlankOverwrite   map[Direction]map[entity.Kind][]string `json:"allowBlankOverwrite"`
}

// fileShape mirrors the raw JSON document; entity keys are plain strings
// on disk and converted to entity.Kind after parsing.
type fileShape struct {
	PreventBlankOverwrite bool                         `json:"preventBlankOverwrite"`
	AllowBlankOverwrite   map[string]map[string][]string `json:"allowBlankOverwrite"`
}

// Default returns the zero-configuration rule set: blank overwrite
// prevention enabled, no allowlist entries.
func Default() *Rules {
	return &Rules{
		PreventBlankOverwrite: true,
		AllowBlankOverwrite:   make(map[Direction]map[entity.Kind][]string),
	}
}

// Load reads a sync-rules JSON file. An empty path returns Default().
func Load(path string) (*Rules, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync-rules file %s: %w", path, err)
	}

	var raw fileShape
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse sync-rules file %s: %w", path, err)
	}

	rules := &Rules{
		PreventBlankOverwrite: raw.PreventBlankOverwrite,
		AllowBlankOverwrite:   make(map[Direction]map[entity.Kind][]string),
	}
	for dirName, perEntity := range raw.AllowBlankOverwrite {
		dir := Direction(dirName)
		rules.AllowBlankOverwrite[dir] = make(map[entity.Kind][]string)
		for entityName, fields := range perEntity {
			rules.AllowBlankOverwrite[dir][entity.Kind(entityName)] = fields
		}
	}

	return rules, nil
}

// Allows reports whether field is in the allowlist for (direction, kind).
func (r *Rules) Allows(direction Direction, kind entity.Kind, field string) bool {
	if r == nil {
		return false
	}
	perEntity, ok := r.AllowBlankOverwrite[direction]
	if !ok {
		return false
	}
	for _, f := range perEntity[kind] {
		if f == field {
			return true
		}
	}
	return false
}
