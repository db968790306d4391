// Package crossref builds the per-run identity maps between the
// relational and sheet sides.
package crossref

import (
	"strings"

	"github.com/riverfreight/syncengine/internal/entity"
)

// Index is the pair of bijective maps plus the load_cars aggregation for
// one entity kind, built fresh at the start of each entity-direction.
type Index struct {
	SheetToRel map[string]string   // sheet airtable_id -> relational id
	RelToSheet map[string]string   // relational id -> sheet airtable_id
	LoadCars   map[string][]string // relational load id -> [sheet car airtable_id]
}

// Build constructs the Index for one entity from both sides' fetched
// records. sheetToRelHint comes from each sheet record's own supabase_id;
// relToSheetHint comes from each relational record's own airtable_id.
// The union of both directions seeds SheetToRel/RelToSheet so that either
// side's half of an already-paired record is enough to resolve the pair.
func Build(relRecords, sheetRecords []entity.Record) *Index {
	idx := &Index{
		SheetToRel: make(map[string]string),
		RelToSheet: make(map[string]string),
	}

	// Seed from sheet records' own supabase_id first; it's the primary
	// source of truth for an existing pairing.
	for _, sr := range sheetRecords {
		if sr.AirtableID == "" || sr.SupabaseID == "" {
			continue
		}
		if _, exists := idx.SheetToRel[sr.AirtableID]; !exists {
			idx.SheetToRel[sr.AirtableID] = sr.SupabaseID
		}
		if _, exists := idx.RelToSheet[sr.SupabaseID]; !exists {
			idx.RelToSheet[sr.SupabaseID] = sr.AirtableID
		}
	}

	// Fall back to relational records' own airtable_id (union), first-write
	// wins on conflict per 
	for _, rr := range relRecords {
		if rr.ID == "" || rr.AirtableID == "" {
			continue
		}
		if _, exists := idx.SheetToRel[rr.AirtableID]; !exists {
			idx.SheetToRel[rr.AirtableID] = rr.ID
		}
		if _, exists := idx.RelToSheet[rr.ID]; !exists {
			idx.RelToSheet[rr.ID] = rr.AirtableID
		}
	}

	return idx
}

// Seed records a newly-created pair so later records processed within
// the same entity loop can resolve links to it without a full rebuild.
func (idx *Index) Seed(relID, sheetID string) {
	if relID == "" || sheetID == "" {
		return
	}
	if _, exists := idx.SheetToRel[sheetID]; !exists {
		idx.SheetToRel[sheetID] = relID
	}
	if _, exists := idx.RelToSheet[relID]; !exists {
		idx.RelToSheet[relID] = sheetID
	}
}

// affirmativeStrings is the case-insensitive set of string values that
// count as an affirmative is_assigned.
var affirmativeStrings = map[string]bool{"yes": true, "y": true, "true": true, "1": true}

// IsAssigned normalizes load_cars.is_assigned: boolean true, non-zero
// number, or a case-insensitive string in {"yes","y","true","1"}.
func IsAssigned(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int:
		return t != 0
	case int32:
		return t != 0
	case int64:
		return t != 0
	case float32:
		return t != 0
	case float64:
		return t != 0
	case string:
		return affirmativeStrings[strings.ToLower(strings.TrimSpace(t))]
	default:
		return false
	}
}

// BuildLoadCars derives the relational_load_id -> [sheet_car_id] list from
// load_cars join rows. Only rows with an affirmative is_assigned
// contribute. A row's car id is resolved preferentially from its
// embedded CarAirtableID, else via the car cross-ref index.
func BuildLoadCars(rows []entity.LoadCarRow, carIdx *Index) map[string][]string {
	result := make(map[string][]string)
	seen := make(map[string]map[string]bool)

	for _, row := range rows {
		if !IsAssigned(row.IsAssigned) {
			continue
		}

		carAirtableID := strings.TrimSpace(row.CarAirtableID)
		if carAirtableID == "" && carIdx != nil {
			carAirtableID = carIdx.RelToSheet[row.CarID]
		}
		if carAirtableID == "" {
			continue
		}

		if seen[row.LoadID] == nil {
			seen[row.LoadID] = make(map[string]bool)
		}
		if seen[row.LoadID][carAirtableID] {
			continue
		}
		seen[row.LoadID][carAirtableID] = true
		result[row.LoadID] = append(result[row.LoadID], carAirtableID)
	}

	return result
}
