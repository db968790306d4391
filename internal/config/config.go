// Package config loads engine configuration from the environment,
// resolving environment-suffixed variants before falling back to the
// base setting name.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/riverfreight/syncengine/internal/entity"
)

// Config holds all engine configuration.
type Config struct {
	Env string // defaults to "dev"

	// Relational side credentials.
	RelationalURL        string
	RelationalServiceKey string

	// Sheet side credentials.
	SheetToken  string
	SheetBaseID string

	// Per-entity sheet addressing: table id and/or table name.
	TableIDs   map[entity.Kind]string
	TableNames map[entity.Kind]string

	// Per-entity sheet field mapping: key -> {id, name}.
	FieldMaps map[entity.Kind]map[string]FieldMapping

	// Sync tuning.
	IntervalMinutes     int
	RelationalTolerance time.Duration
	SheetTolerance      time.Duration

	// sync-rules file (optional, overrides the blank-overwrite defaults).
	SyncRulesFile string

	// ambient
	LogLevel string
	NATSURL  string
	AppPort  int
}

// FieldMapping is one entry of a per-entity sheet field map: the sheet's
// field id and/or field name for a given canonical key.
type FieldMapping struct {
	ID   string
	Name string
}

const (
	defaultRelationalToleranceMs = 1000
	defaultSheetToleranceMs      = 60000
	toleranceFloorMs             = 5000
)

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	env := getEnv("ENV", "", "dev")

	cfg := &Config{
		Env:                  env,
		RelationalURL:        getEnv("RELATIONAL_URL", env, ""),
		RelationalServiceKey: getEnv("RELATIONAL_SERVICE_KEY", env, ""),
		SheetToken:           getEnv("SHEET_TOKEN", env, ""),
		SheetBaseID:          getEnv("SHEET_BASE_ID", env, ""),
		SyncRulesFile:        getEnv("SYNC_RULES_FILE", env, ""),
		LogLevel:             getEnv("LOG_LEVEL", env, "info"),
		NATSURL:              getEnv("NATS_URL", env, "nats://localhost:4222"),
		AppPort:              getEnvAsInt("APP_PORT", env, 8090),
		IntervalMinutes:      getEnvAsInt("SYNC_INTERVAL_MINUTES", env, 15),
	}

	cfg.RelationalTolerance = clampTolerance(getEnvAsInt("RELATIONAL_TOLERANCE_MS", env, defaultRelationalToleranceMs))
	cfg.SheetTolerance = clampTolerance(getEnvAsInt("SHEET_TOLERANCE_MS", env, defaultSheetToleranceMs))

	cfg.TableIDs = make(map[entity.Kind]string)
	cfg.TableNames = make(map[entity.Kind]string)
	cfg.FieldMaps = make(map[entity.Kind]map[string]FieldMapping)

	for _, kind := range entity.SyncOrder {
		upper := strings.ToUpper(string(kind))
		cfg.TableIDs[kind] = getEnv(fmt.Sprintf("AIRTABLE_TABLE_ID_%s", upper), env, "")
		cfg.TableNames[kind] = getEnv(fmt.Sprintf("AIRTABLE_TABLE_NAME_%s", upper), env, "")

		if inline := getEnv(fmt.Sprintf("AIRTABLE_FIELD_MAP_%s", upper), env, ""); inline != "" {
			cfg.FieldMaps[kind] = parseInlineFieldMap(inline)
		}
	}

	mapFilePath := getEnv("AIRTABLE_FIELD_MAP_FILE", env, "")
	if mapFilePath != "" {
		fileMap, err := loadFieldMapFile(mapFilePath, env)
		if err != nil {
			return nil, fmt.Errorf("failed to load AIRTABLE_FIELD_MAP_FILE: %w", err)
		}
		for kind, mapping := range fileMap {
			if _, exists := cfg.FieldMaps[kind]; !exists {
				cfg.FieldMaps[kind] = mapping
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.RelationalURL == "" {
		return fmt.Errorf("RELATIONAL_URL is required")
	}
	if c.RelationalServiceKey == "" {
		return fmt.Errorf("RELATIONAL_SERVICE_KEY is required")
	}
	if c.SheetToken == "" {
		return fmt.Errorf("SHEET_TOKEN is required")
	}
	if c.SheetBaseID == "" {
		return fmt.Errorf("SHEET_BASE_ID is required")
	}
	for _, kind := range entity.SyncOrder {
		if c.TableIDs[kind] == "" && c.TableNames[kind] == "" {
			return fmt.Errorf("entity %s requires AIRTABLE_TABLE_ID_%s or AIRTABLE_TABLE_NAME_%s",
				kind, strings.ToUpper(string(kind)), strings.ToUpper(string(kind)))
		}
	}
	return nil
}

func clampTolerance(ms int) time.Duration {
	if ms < toleranceFloorMs {
		ms = toleranceFloorMs
	}
	return time.Duration(ms) * time.Millisecond
}

// parseInlineFieldMap parses "KEY=fieldId[|fieldName],KEY2=..." into a
// per-entity field map.
func parseInlineFieldMap(raw string) map[string]FieldMapping {
	out := make(map[string]FieldMapping)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		rest := strings.SplitN(kv[1], "|", 2)
		mapping := FieldMapping{ID: strings.TrimSpace(rest[0])}
		if len(rest) == 2 {
			mapping.Name = strings.TrimSpace(rest[1])
		}
		out[key] = mapping
	}
	return out
}

// getEnv resolves a setting by trying, in order, environment-suffixed
// variants then the base name.
func getEnv(name, env, defaultValue string) string {
	if env == "" {
		env = "dev"
	}
	upper := strings.ToUpper(env)
	lower := strings.ToLower(env)

	candidates := []string{
		fmt.Sprintf("%s_%s", name, upper),
		fmt.Sprintf("%s_%s", name, lower),
		fmt.Sprintf("%s_%s", upper, name),
		fmt.Sprintf("%s_%s", lower, name),
		name,
	}
	for _, c := range candidates {
		if v := os.Getenv(c); v != "" {
			return v
		}
	}
	return defaultValue
}

func getEnvAsInt(name, env string, defaultValue int) int {
	v := getEnv(name, env, "")
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}
