// Package entity declares the syncable entity kinds and the per-entity
// field tables that drive the mapper, preparer, conflict resolver, and
// both store adapters uniformly.
package entity

import (
	"strings"
	"time"
)

// Kind identifies one of the seven syncable entity tables.
type Kind string

const (
	Car      Kind = "cars"
	Location Kind = "locations"
	Company  Kind = "companies"
	Load     Kind = "loads"
	User     Kind = "users"
	Booking  Kind = "bookings"
	Request  Kind = "requests"
)

// AllKinds lists every syncable entity in declaration order; it is not
// dependency-ordered (SyncOrder is).
var AllKinds = []Kind{Car, Location, Company, Load, User, Booking, Request}

// SyncOrder is the dependency-respecting order used by RunCoordinator
// for a single direction: locations, companies, users, cars, loads,
// bookings, requests.
var SyncOrder = []Kind{Location, Company, User, Car, Load, Booking, Request}

func (k Kind) String() string { return string(k) }

// Valid reports whether name is one of the CLI-facing entity names:
// cars, locations, companies, users, loads, bookings, requests.
func Valid(name string) bool {
	for _, k := range SyncOrder {
		if string(k) == name {
			return true
		}
	}
	return false
}

// Record is the normalized, side-agnostic representation of one row.
// On the relational side ID is the primary key and SupabaseID is unused;
// on the sheet side AirtableID is the primary key and SupabaseID carries
// the back-link to the relational ID.
type Record struct {
	ID                  string // relational primary key (relational side only)
	AirtableID          string // sheet record id (both sides track it)
	SupabaseID          string // relational id as known to the sheet side
	AirtableIDNameLabel string
	LastChangedForSync  *time.Time
	LastSynced          *time.Time
	LastModified        *time.Time // sheet API's own modified-at, bookkeeping only
	Fields              map[string]any
}

// FieldSpec declares one domain or link field of an entity.
type FieldSpec struct {
	Key        string
	Numeric    bool
	Required   bool
	DateOnly   bool
	Link       bool
	LinkTarget Kind // only meaningful when Link is true
}

// SecondaryKey describes the fallback lookup used when cross-ref misses.
type SecondaryKey struct {
	Field     string
	Normalize func(string) string
}

// Spec is the declarative description of one entity kind.
type Spec struct {
	Kind         Kind
	Fields       []FieldSpec
	SecondaryKey SecondaryKey
	// HasLoadCarsLink is true only for Load: the aggregated multi-link
	// field populated from load_cars join rows rather than a plain column.
	HasLoadCarsLink bool
}

// Required returns the set of required field keys.
func (s Spec) Required() map[string]bool {
	m := make(map[string]bool)
	for _, f := range s.Fields {
		if f.Required {
			m[f.Key] = true
		}
	}
	return m
}

// Numeric returns the set of numeric field keys.
func (s Spec) Numeric() map[string]bool {
	m := make(map[string]bool)
	for _, f := range s.Fields {
		if f.Numeric {
			m[f.Key] = true
		}
	}
	return m
}

// DateOnly returns the set of date-only field keys.
func (s Spec) DateOnly() map[string]bool {
	m := make(map[string]bool)
	for _, f := range s.Fields {
		if f.DateOnly {
			m[f.Key] = true
		}
	}
	return m
}

// Links returns the link field keys mapped to their target entity kind.
func (s Spec) Links() map[string]Kind {
	m := make(map[string]Kind)
	for _, f := range s.Fields {
		if f.Link {
			m[f.Key] = f.LinkTarget
		}
	}
	return m
}

// ColumnKeys returns every plain (non-link) field key, in declared order.
func (s Spec) ColumnKeys() []string {
	var keys []string
	for _, f := range s.Fields {
		if !f.Link {
			keys = append(keys, f.Key)
		}
	}
	return keys
}

// LinkKeys returns every link field key, in declared order.
func (s Spec) LinkKeys() []string {
	var keys []string
	for _, f := range s.Fields {
		if f.Link {
			keys = append(keys, f.Key)
		}
	}
	return keys
}

// Specs holds the declarative per-entity tables for all seven kinds:
// required/numeric/date-only field sets and the acyclic cross-entity
// links each kind carries.
var Specs = map[Kind]Spec{
	Car: {
		Kind: Car,
		Fields: []FieldSpec{
			{Key: "make", Required: true},
			{Key: "model", Required: true},
			{Key: "external_id"},
			{Key: "special_instructions"},
			{Key: "carrier_rate", Numeric: true},
			{Key: "customer_rate", Numeric: true},
			{Key: "distance", Numeric: true},
			{Key: "pickup_window_start", DateOnly: true},
			{Key: "pickup_window_end", DateOnly: true},
			{Key: "delivery_window_start", DateOnly: true},
			{Key: "delivery_window_end", DateOnly: true},
			{Key: "delivered_at", DateOnly: true},
			{Key: "pickup_location_id", Link: true, LinkTarget: Location},
			{Key: "dropoff_location_id", Link: true, LinkTarget: Location},
		},
		SecondaryKey: SecondaryKey{Field: "external_id", Normalize: strings.TrimSpace},
	},
	Location: {
		Kind: Location,
		Fields: []FieldSpec{
			{Key: "address_line1", Required: true},
			{Key: "city", Required: true},
			{Key: "country_code", Required: true},
			{Key: "latitude", Numeric: true},
			{Key: "longitude", Numeric: true},
			{Key: "created_at", DateOnly: true},
		},
		SecondaryKey: SecondaryKey{Field: "airtable_id", Normalize: strings.TrimSpace},
	},
	Company: {
		Kind: Company,
		Fields: []FieldSpec{
			{Key: "name", Required: true},
		},
		SecondaryKey: SecondaryKey{Field: "name", Normalize: strings.ToLower},
	},
	Load: {
		Kind: Load,
		Fields: []FieldSpec{
			{Key: "load_number", Required: true},
			{Key: "total_distance_km", Numeric: true},
			{Key: "estimated_duration_hours", Numeric: true},
			{Key: "transport_rate", Numeric: true},
			{Key: "created_at", DateOnly: true},
			{Key: "company_id", Link: true, LinkTarget: Company},
			{Key: "origin_location_id", Link: true, LinkTarget: Location},
			{Key: "destination_location_id", Link: true, LinkTarget: Location},
		},
		SecondaryKey:    SecondaryKey{Field: "load_number", Normalize: strings.TrimSpace},
		HasLoadCarsLink: true,
	},
	User: {
		Kind: User,
		Fields: []FieldSpec{
			{Key: "email", Required: true},
			{Key: "created_at", DateOnly: true},
			{Key: "company_id", Link: true, LinkTarget: Company},
		},
		SecondaryKey: SecondaryKey{Field: "email", Normalize: strings.ToLower},
	},
	Booking: {
		Kind: Booking,
		Fields: []FieldSpec{
			{Key: "quoted_price", Numeric: true},
			{Key: "final_price", Numeric: true},
			{Key: "margin_percentage", Numeric: true},
			{Key: "quoted_at", DateOnly: true},
			{Key: "load_id", Link: true, LinkTarget: Load},
			{Key: "company_id", Link: true, LinkTarget: Company},
		},
		SecondaryKey: SecondaryKey{Field: "airtable_id", Normalize: strings.TrimSpace},
	},
	Request: {
		Kind: Request,
		Fields: []FieldSpec{
			{Key: "status"},
			{Key: "equipment_type"},
			{Key: "company_id", Link: true, LinkTarget: Company},
		},
		SecondaryKey: SecondaryKey{Field: "airtable_id", Normalize: strings.TrimSpace},
	},
}

// LoadCarRow mirrors one load_cars join row.
type LoadCarRow struct {
	LoadID             string
	CarID              string
	CarAirtableID      string // embedded convenience value, preferred when present
	IsAssigned         any    // boolean, number, or string — normalized by crossref
	LastChangedForSync *time.Time
}
