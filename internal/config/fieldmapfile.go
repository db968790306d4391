package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/riverfreight/syncengine/internal/entity"
)

// fieldMapFileEntry mirrors one {id, name} pair in the field map file.
type fieldMapFileEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// loadFieldMapFile reads the file pointed to by AIRTABLE_FIELD_MAP_FILE,
// whose exported structure is {env_name: {entity: {key: {id, name}}}},
// and returns just the slice for the active env.
func loadFieldMapFile(path, env string) (map[entity.Kind]map[string]FieldMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read field map file %s: %w", path, err)
	}

	var parsed map[string]map[string]map[string]fieldMapFileEntry
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse field map file %s: %w", path, err)
	}

	perEnv, ok := parsed[env]
	if !ok {
		return map[entity.Kind]map[string]FieldMapping{}, nil
	}

	out := make(map[entity.Kind]map[string]FieldMapping)
	for entityName, fields := range perEnv {
		kind := entity.Kind(entityName)
		mapping := make(map[string]FieldMapping)
		for key, entry := range fields {
			mapping[key] = FieldMapping{ID: entry.ID, Name: entry.Name}
		}
		out[kind] = mapping
	}

	return out, nil
}
