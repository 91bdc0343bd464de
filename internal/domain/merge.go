package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultSCDColumns are the slowly-changing columns overwritten on re-fetch.
var DefaultSCDColumns = []string{"created_date", "closed_date", "resolution_action_updated_date"}

// scdAccessors exposes the raw columns that may be configured as slowly changing.
var scdAccessors = map[string]func(*RawIncident) **string{
	"created_date":                   func(r *RawIncident) **string { return &r.CreatedDate },
	"closed_date":                    func(r *RawIncident) **string { return &r.ClosedDate },
	"resolution_action_updated_date": func(r *RawIncident) **string { return &r.ResolutionActionUpdatedDate },
	"status":                         func(r *RawIncident) **string { return &r.Status },
}

// MergeResult is the outcome of merging a fetched batch into the accumulated dataset.
type MergeResult struct {
	Rows     []RawIncident
	Appended int
	Updated  int
}

// Merger applies the incremental merge rule for a fixed set of SCD columns.
type Merger struct {
	columns []func(*RawIncident) **string
}

// NewMerger returns a Merger for the given SCD column names.
func NewMerger(scdColumns []string) (*Merger, error) {
	m := &Merger{columns: make([]func(*RawIncident) **string, 0, len(scdColumns))}
	for _, name := range scdColumns {
		acc, ok := scdAccessors[name]
		if !ok {
			return nil, fmt.Errorf("unsupported slowly-changing column %q", name)
		}
		m.columns = append(m.columns, acc)
	}
	return m, nil
}

// Merge folds fetched into existing. Unknown identifiers are appended;
// known identifiers only take the non-null SCD values of the fetched row.
// The inputs are not modified and the result never repeats an identifier.
func (m *Merger) Merge(existing, fetched []RawIncident) MergeResult {
	out := make([]RawIncident, 0, len(existing)+len(fetched))
	index := make(map[string]int, len(existing)+len(fetched))

	for _, row := range existing {
		if _, dup := index[row.UniqueKey]; dup {
			continue
		}
		index[row.UniqueKey] = len(out)
		out = append(out, row)
	}

	res := MergeResult{}
	for _, row := range fetched {
		i, ok := index[row.UniqueKey]
		if !ok {
			index[row.UniqueKey] = len(out)
			out = append(out, row)
			res.Appended++
			continue
		}
		if m.overwrite(&out[i], &row) {
			res.Updated++
		}
	}
	res.Rows = out
	return res
}

// overwrite copies non-null SCD values from src into dst and reports whether
// any value changed.
func (m *Merger) overwrite(dst, src *RawIncident) bool {
	changed := false
	for _, acc := range m.columns {
		next := *acc(src)
		if next == nil {
			continue
		}
		cur := acc(dst)
		if *cur == nil || **cur != *next {
			changed = true
		}
		v := *next
		*cur = &v
	}
	return changed
}

// After keeps the rows created strictly after lowerBound. Rows whose creation
// timestamp is missing or unparseable cannot be placed and are dropped.
func After(rows []RawIncident, lowerBound time.Time) (kept []RawIncident, dropped int) {
	kept = make([]RawIncident, 0, len(rows))
	for _, row := range rows {
		if row.CreatedDate == nil {
			dropped++
			continue
		}
		created, ok := ParseTimestamp(*row.CreatedDate)
		if !ok || !created.After(lowerBound) {
			dropped++
			continue
		}
		kept = append(kept, row)
	}
	return kept, dropped
}

// MaxCreated returns the latest creation timestamp in the batch. It is the
// next watermark candidate.
func MaxCreated(rows []RawIncident) (time.Time, bool) {
	var latest time.Time
	found := false
	for _, row := range rows {
		if row.CreatedDate == nil {
			continue
		}
		t, ok := ParseTimestamp(*row.CreatedDate)
		if !ok {
			continue
		}
		if !found || t.After(latest) {
			latest = t
			found = true
		}
	}
	return latest, found
}

// ValidationIssue describes a row that does not match the expected shape.
type ValidationIssue struct {
	UniqueKey string
	Column    string
	Value     string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s=%q", v.UniqueKey, v.Column, v.Value)
}

// ValidateIncidents checks the merged dataset against the source schema.
// Issues are advisory; callers log them and carry on.
func ValidateIncidents(rows []RawIncident) []ValidationIssue {
	var issues []ValidationIssue
	for _, row := range rows {
		if strings.TrimSpace(row.UniqueKey) == "" {
			issues = append(issues, ValidationIssue{Column: "unique_key"})
		}
		for col, v := range map[string]*string{
			"created_date":                   row.CreatedDate,
			"closed_date":                    row.ClosedDate,
			"resolution_action_updated_date": row.ResolutionActionUpdatedDate,
		} {
			if v == nil {
				continue
			}
			if _, ok := ParseTimestamp(*v); !ok {
				issues = append(issues, ValidationIssue{UniqueKey: row.UniqueKey, Column: col, Value: *v})
			}
		}
		for col, v := range map[string]*string{"latitude": row.Latitude, "longitude": row.Longitude} {
			if v == nil {
				continue
			}
			if _, err := strconv.ParseFloat(*v, 64); err != nil {
				issues = append(issues, ValidationIssue{UniqueKey: row.UniqueKey, Column: col, Value: *v})
			}
		}
	}
	return issues
}
