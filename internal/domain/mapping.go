package domain

import (
	"errors"
	"fmt"
	"sort"
)

// DefaultFuzzyCutoff is the minimum similarity score for a fuzzy replacement.
const DefaultFuzzyCutoff = 80.0

// RelevantComplaints names the allow-list of complaint types kept by the filter.
const RelevantComplaints = "relevant_complaints"

// ErrNoAllowList is returned when the mapping set lacks the relevant-complaint list.
var ErrNoAllowList = errors.New("mapping set has no " + RelevantComplaints + " allow-list")

// ColumnMapping binds a categorical column to the named mapping that cleans it.
type ColumnMapping struct {
	Column  string
	Mapping string
	// Fuzzy enables the similarity fallback for values without an exact key.
	Fuzzy bool
	// Cutoff is the minimum score (0-100) for a fuzzy replacement.
	Cutoff float64
}

// DefaultColumnMappings lists the mapped columns in the order they are applied.
// complaint_category is derived from the already mapped complaint_type.
func DefaultColumnMappings(cutoff float64) []ColumnMapping {
	cols := []struct{ column, mapping string }{
		{"complaint_type", "complaint_mapping"},
		{"complaint_category", "complaint_categories"},
		{"agency", "agency_mapping"},
		{"agency_name", "agency_name_mapping"},
		{"city", "city_mapping"},
		{"borough", "borough_mapping"},
		{"location_type", "location_type_mapping"},
	}
	out := make([]ColumnMapping, 0, len(cols))
	for _, c := range cols {
		out = append(out, ColumnMapping{Column: c.column, Mapping: c.mapping, Fuzzy: true, Cutoff: cutoff})
	}
	return out
}

// Mapping is an immutable raw-spelling to canonical-value table.
type Mapping struct {
	entries map[string]string
	keys    []string // sorted, drives deterministic fuzzy tie-breaks
	targets map[string]struct{}
}

// NewMapping copies entries into an immutable Mapping.
func NewMapping(entries map[string]string) Mapping {
	m := Mapping{
		entries: make(map[string]string, len(entries)),
		keys:    make([]string, 0, len(entries)),
		targets: make(map[string]struct{}, len(entries)),
	}
	for k, v := range entries {
		m.entries[k] = v
		m.keys = append(m.keys, k)
		m.targets[v] = struct{}{}
	}
	sort.Strings(m.keys)
	return m
}

// Lookup returns the canonical form of an exact raw key.
func (m Mapping) Lookup(raw string) (string, bool) {
	v, ok := m.entries[raw]
	return v, ok
}

// IsTarget reports whether v is one of the canonical values.
func (m Mapping) IsTarget(v string) bool {
	_, ok := m.targets[v]
	return ok
}

// Keys returns the raw keys in ascending order.
func (m Mapping) Keys() []string {
	return append([]string(nil), m.keys...)
}

// Len returns the number of entries.
func (m Mapping) Len() int {
	return len(m.entries)
}

// MappingSet is the immutable category configuration handed to the normalizer.
type MappingSet struct {
	mappings   map[string]Mapping
	allowLists map[string]map[string]struct{}
}

// NewMappingSet builds a MappingSet from dictionary mappings and list-valued
// allow-lists, both keyed by mapping name. The inputs are copied.
func NewMappingSet(mappings map[string]map[string]string, lists map[string][]string) MappingSet {
	s := MappingSet{
		mappings:   make(map[string]Mapping, len(mappings)),
		allowLists: make(map[string]map[string]struct{}, len(lists)),
	}
	for name, entries := range mappings {
		s.mappings[name] = NewMapping(entries)
	}
	for name, values := range lists {
		set := make(map[string]struct{}, len(values))
		for _, v := range values {
			set[v] = struct{}{}
		}
		s.allowLists[name] = set
	}
	return s
}

// Mapping returns the named mapping. A missing mapping is empty.
func (s MappingSet) Mapping(name string) Mapping {
	return s.mappings[name]
}

// AllowList returns the named allow-list.
func (s MappingSet) AllowList(name string) (map[string]struct{}, bool) {
	l, ok := s.allowLists[name]
	return l, ok
}

// Validate checks that every column mapping has a usable configuration.
func (s MappingSet) Validate(columns []ColumnMapping) error {
	if _, ok := s.allowLists[RelevantComplaints]; !ok {
		return ErrNoAllowList
	}
	for _, c := range columns {
		if _, ok := incidentTextColumns[c.Column]; !ok {
			return fmt.Errorf("mapping %q targets unknown column %q", c.Mapping, c.Column)
		}
		if c.Cutoff < 0 || c.Cutoff > 100 {
			return fmt.Errorf("mapping %q: fuzzy cutoff %v outside 0-100", c.Mapping, c.Cutoff)
		}
	}
	return nil
}
