// Package sheetstore implements the sheet-side store adapter:
// fetch/create/update over the spreadsheet API, field-id/name dual
// addressing, and invalid-field recovery.
package sheetstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/riverfreight/syncengine/internal/config"
	"github.com/riverfreight/syncengine/internal/entity"
	"github.com/riverfreight/syncengine/internal/sheetapi"
)

// reservedKeys are never written to the sheet side.
var reservedKeys = map[string]bool{
	"airtable_id":      true,
	"last_modified":    true,
	"raw_fields":       true,
	"raw_fields_by_id": true,
}

// Adapter is the sheet-side RemoteStoreAdapter for every entity kind.
type Adapter struct {
	client    *sheetapi.Client
	tables    map[entity.Kind]string
	fieldMaps map[entity.Kind]map[string]config.FieldMapping
}

// New builds an Adapter. tableID is preferred over tableName when both
// are configured for an entity.
func New(client *sheetapi.Client, tableIDs, tableNames map[entity.Kind]string, fieldMaps map[entity.Kind]map[string]config.FieldMapping) *Adapter {
	tables := make(map[entity.Kind]string)
	for _, kind := range entity.SyncOrder {
		if id := tableIDs[kind]; id != "" {
			tables[kind] = id
		} else {
			tables[kind] = tableNames[kind]
		}
	}
	return &Adapter{client: client, tables: tables, fieldMaps: fieldMaps}
}

// FetchAll lists every record of one entity kind, normalized into
// entity.Record, with field-id fallback applied where configured.
func (a *Adapter) FetchAll(ctx context.Context, kind entity.Kind) ([]entity.Record, error) {
	raws, err := a.client.List(ctx, a.tables[kind], true)
	if err != nil {
		return nil, fmt.Errorf("sheetstore: failed to fetch %s: %w", kind, err)
	}

	fieldMap := a.fieldMaps[kind]
	out := make([]entity.Record, 0, len(raws))
	for _, raw := range raws {
		out = append(out, a.toRecord(kind, raw, fieldMap))
	}
	return out, nil
}

// FindBySecondaryKey scans the fetched list for a record whose secondary
// key field matches value after normalization.
// The sheet side has no server-side filter configured generically, so
// this is a linear scan over the full fetch — acceptable at the engine's
// expected table sizes.
func (a *Adapter) FindBySecondaryKey(ctx context.Context, kind entity.Kind, field, value string) (*entity.Record, error) {
	sk := entity.Specs[kind].SecondaryKey
	normalized := value
	if sk.Normalize != nil {
		normalized = sk.Normalize(value)
	}

	all, err := a.FetchAll(ctx, kind)
	if err != nil {
		return nil, err
	}
	for i := range all {
		candidate, ok := all[i].Fields[field].(string)
		if !ok {
			continue
		}
		if sk.Normalize != nil {
			candidate = sk.Normalize(candidate)
		}
		if candidate == normalized {
			return &all[i], nil
		}
	}
	return nil, nil
}

// Create writes a new sheet record from a candidate field map.
func (a *Adapter) Create(ctx context.Context, kind entity.Kind, fields map[string]any) (entity.Record, error) {
	table := a.tables[kind]
	fieldMap := a.fieldMaps[kind]

	preferred := a.toPreferredPayload(fields, fieldMap)
	raw, err := a.client.Create(ctx, table, preferred)
	if err == nil {
		return a.toRecord(kind, raw, fieldMap), nil
	}

	raw, err = a.retryOnError(ctx, err, fields, fieldMap, func(payload map[string]any) (sheetapi.RawRecord, error) {
		return a.client.Create(ctx, table, payload)
	})
	if err != nil {
		return entity.Record{}, fmt.Errorf("sheetstore: failed to create %s record: %w", kind, err)
	}
	return a.toRecord(kind, raw, fieldMap), nil
}

// Update patches an existing sheet record, with the 422 unknown-field
// and invalid-value recovery paths below.
func (a *Adapter) Update(ctx context.Context, kind entity.Kind, airtableID string, fields map[string]any) (entity.Record, error) {
	table := a.tables[kind]
	fieldMap := a.fieldMaps[kind]

	preferred := a.toPreferredPayload(fields, fieldMap)
	raw, err := a.client.Update(ctx, table, airtableID, preferred)
	if err == nil {
		return a.toRecord(kind, raw, fieldMap), nil
	}

	raw, err = a.retryOnError(ctx, err, fields, fieldMap, func(payload map[string]any) (sheetapi.RawRecord, error) {
		return a.client.Update(ctx, table, airtableID, payload)
	})
	if err != nil {
		return entity.Record{}, fmt.Errorf("sheetstore: failed to update %s record %s: %w", kind, airtableID, err)
	}
	return a.toRecord(kind, raw, fieldMap), nil
}

// retryOnError implements the write recovery ladder: unknown-field-name
// -> retry with field-id payload; invalid-value ->
// drop offending keys and retry once with sanitization.
func (a *Adapter) retryOnError(ctx context.Context, firstErr error, fields map[string]any, fieldMap map[string]config.FieldMapping, do func(map[string]any) (sheetapi.RawRecord, error)) (sheetapi.RawRecord, error) {
	var apiErr *sheetapi.APIError
	if !errors.As(firstErr, &apiErr) {
		return sheetapi.RawRecord{}, firstErr // transient/network error: surfaced as-is
	}

	kind, _ := sheetapi.Classify(apiErr.StatusCode, apiErr.Body)

	switch kind {
	case sheetapi.ErrorUnknownFieldName:
		idPayload := a.toFallbackIDPayload(fields, fieldMap)
		raw, err := do(idPayload)
		if err == nil {
			return raw, nil
		}
		// fall through: a second failure is handled as invalid-value/per-record error below
		var secondAPIErr *sheetapi.APIError
		if errors.As(err, &secondAPIErr) {
			return a.sanitizeAndRetry(ctx, secondAPIErr, fields, fieldMap, do)
		}
		return sheetapi.RawRecord{}, err

	case sheetapi.ErrorInvalidFieldValue:
		return a.sanitizeAndRetry(ctx, apiErr, fields, fieldMap, do)

	default:
		return sheetapi.RawRecord{}, firstErr
	}
}

func (a *Adapter) sanitizeAndRetry(ctx context.Context, apiErr *sheetapi.APIError, fields map[string]any, fieldMap map[string]config.FieldMapping, do func(map[string]any) (sheetapi.RawRecord, error)) (sheetapi.RawRecord, error) {
	_, offending := sheetapi.Classify(apiErr.StatusCode, apiErr.Body)
	if len(offending) == 0 {
		return sheetapi.RawRecord{}, apiErr
	}

	sanitized := make(map[string]any, len(fields))
	for k, v := range fields {
		sanitized[k] = v
	}
	dropped := dropOffendingKeys(sanitized, offending, fieldMap)
	if len(dropped) == 0 {
		return sheetapi.RawRecord{}, apiErr
	}
	log.Printf("sheetstore: dropped fields %s after invalid-value error, retrying", strings.Join(dropped, ", "))

	preferred := a.toPreferredPayload(sanitized, fieldMap)
	return do(preferred)
}

// dropOffendingKeys removes any canonical key whose preferred name,
// fallback id, or literal key matches an offending name from the error
// message, and returns the list actually dropped.
func dropOffendingKeys(fields map[string]any, offending []string, fieldMap map[string]config.FieldMapping) []string {
	offendingSet := make(map[string]bool, len(offending))
	for _, name := range offending {
		offendingSet[name] = true
	}

	var dropped []string
	for key := range fields {
		names := []string{key}
		if mapping, ok := fieldMap[key]; ok {
			if mapping.Name != "" {
				names = append(names, mapping.Name)
			}
			if mapping.ID != "" {
				names = append(names, mapping.ID)
			}
		}
		for _, n := range names {
			if offendingSet[n] {
				delete(fields, key)
				dropped = append(dropped, key)
				break
			}
		}
	}
	return dropped
}

func (a *Adapter) toPreferredPayload(fields map[string]any, fieldMap map[string]config.FieldMapping) map[string]any {
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		if reservedKeys[key] {
			continue
		}
		name := key
		if mapping, ok := fieldMap[key]; ok && mapping.Name != "" {
			name = mapping.Name
		}
		out[name] = value
	}
	return out
}

func (a *Adapter) toFallbackIDPayload(fields map[string]any, fieldMap map[string]config.FieldMapping) map[string]any {
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		if reservedKeys[key] {
			continue
		}
		ref := key
		if mapping, ok := fieldMap[key]; ok && mapping.ID != "" {
			ref = mapping.ID
		} else if mapping, ok := fieldMap[key]; ok && mapping.Name != "" {
			ref = mapping.Name
		}
		out[ref] = value
	}
	return out
}

// toRecord normalizes one raw sheet record into entity.Record, applying
// the field-id fallback lookup for each configured field.
func (a *Adapter) toRecord(kind entity.Kind, raw sheetapi.RawRecord, fieldMap map[string]config.FieldMapping) entity.Record {
	lookup := func(key string) (any, bool) {
		name := key
		if mapping, ok := fieldMap[key]; ok && mapping.Name != "" {
			name = mapping.Name
		}
		if v, ok := raw.Fields[name]; ok {
			return v, true
		}
		if mapping, ok := fieldMap[key]; ok && mapping.ID != "" {
			if v, ok := raw.FieldsByID[mapping.ID]; ok {
				return v, true
			}
		}
		return nil, false
	}

	rec := entity.Record{
		AirtableID: raw.ID,
		Fields:     make(map[string]any),
	}
	rec.Fields["raw_fields"] = raw.Fields
	rec.Fields["id"] = raw.ID

	if v, ok := lookup("supabase_id"); ok {
		if s, ok := v.(string); ok {
			rec.SupabaseID = strings.TrimSpace(s)
		}
	}
	if v, ok := lookup("airtable_id_name_label"); ok {
		if s, ok := v.(string); ok {
			rec.AirtableIDNameLabel = s
		}
	}
	if v, ok := lookup("last_changed_for_sync"); ok {
		rec.LastChangedForSync = parseTimestamp(v)
	}
	if v, ok := lookup("last_synced"); ok {
		rec.LastSynced = parseTimestamp(v)
	}

	spec := entity.Specs[kind]
	for _, field := range spec.ColumnKeys() {
		if v, ok := lookup(field); ok {
			rec.Fields[field] = v
		}
	}
	for _, field := range spec.LinkKeys() {
		if v, ok := lookup(field); ok {
			rec.Fields[field] = v
		}
	}
	if spec.HasLoadCarsLink {
		if v, ok := lookup("load_cars"); ok {
			rec.Fields["load_cars"] = v
		}
	}

	return rec
}

func parseTimestamp(v any) *time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
