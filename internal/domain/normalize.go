package domain

import (
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// MissingSentinel is the literal the source uses for absent text. Only an
// exact match is cleared, so values recased by earlier stages are kept.
const MissingSentinel = "missing"

const categoryColumn = "complaint_category"

var (
	// complaintTypeRe is the character class a relevant complaint type may use.
	complaintTypeRe = regexp.MustCompile(`^[a-zA-Z0-9\s.,\-()&]+$`)

	whitespaceRe = regexp.MustCompile(`\s+`)
)

// incidentTextColumns exposes the nullable text columns of an Incident by name.
var incidentTextColumns = map[string]func(*Incident) **string{
	"agency":             func(i *Incident) **string { return &i.Agency },
	"agency_name":        func(i *Incident) **string { return &i.AgencyName },
	"complaint_type":     func(i *Incident) **string { return &i.ComplaintType },
	"complaint_category": func(i *Incident) **string { return &i.ComplaintCategory },
	"descriptor":         func(i *Incident) **string { return &i.Descriptor },
	"location_type":      func(i *Incident) **string { return &i.LocationType },
	"incident_zip":       func(i *Incident) **string { return &i.IncidentZip },
	"city":               func(i *Incident) **string { return &i.City },
	"status":             func(i *Incident) **string { return &i.Status },
	"borough":            func(i *Incident) **string { return &i.Borough },
}

// whitespaceColumns are trimmed and collapsed before filtering and mapping.
var whitespaceColumns = []string{"complaint_type", "location_type", "city", "borough", "agency_name", "descriptor"}

// titleCaseColumns are title-cased after mapping; agency is upper-cased.
var titleCaseColumns = []string{
	"descriptor", "location_type", "city", "status",
	"borough", "complaint_category", "agency_name", "complaint_type",
}

// NormalizeStats summarizes one normalization pass.
type NormalizeStats struct {
	Input      int
	Filtered   int
	Duplicates int
	Output     int
	// FuzzyMatched counts rows changed by the fuzzy fallback, per column.
	FuzzyMatched map[string]int
}

type fuzzyKey struct {
	mapping string
	cutoff  float64
	value   string
}

type fuzzyResult struct {
	canonical string
	ok        bool
}

// Normalizer turns raw incidents into cleaned, typed incidents.
type Normalizer struct {
	mappings MappingSet
	columns  []ColumnMapping
	allow    map[string]struct{}
	cache    *lruCache[fuzzyKey, fuzzyResult]
	logger   *slog.Logger
}

// NewNormalizer validates the mapping configuration and returns a Normalizer.
// cacheSize bounds the memo of fuzzy resolutions; zero disables it.
func NewNormalizer(mappings MappingSet, columns []ColumnMapping, cacheSize int, logger *slog.Logger) (*Normalizer, error) {
	if err := mappings.Validate(columns); err != nil {
		return nil, err
	}
	allow, _ := mappings.AllowList(RelevantComplaints)
	return &Normalizer{
		mappings: mappings,
		columns:  append([]ColumnMapping(nil), columns...),
		allow:    allow,
		cache:    newLRUCache[fuzzyKey, fuzzyResult](cacheSize),
		logger:   logger,
	}, nil
}

// Normalize runs the cleaning stages in order over the whole batch.
func (n *Normalizer) Normalize(raw []RawIncident) ([]Incident, NormalizeStats) {
	stats := NormalizeStats{Input: len(raw), FuzzyMatched: make(map[string]int)}

	rows := coerceIncidents(raw)
	normalizeWhitespace(rows, whitespaceColumns)

	rows = n.filterRelevant(rows)
	stats.Filtered = stats.Input - len(rows)

	before := len(rows)
	rows = dedupeIncidents(rows)
	stats.Duplicates = before - len(rows)

	for _, c := range n.columns {
		if c.Column == categoryColumn {
			deriveCategory(rows)
		}
		stats.FuzzyMatched[c.Column] = n.applyMapping(rows, c)
	}

	normalizeZips(rows)
	applyCasing(rows)
	clearSentinels(rows)

	stats.Output = len(rows)
	n.logger.Debug("incidents normalized",
		"input", stats.Input,
		"filtered", stats.Filtered,
		"duplicates", stats.Duplicates,
		"output", stats.Output,
	)
	return rows, stats
}

// coerceIncidents parses timestamps and coordinates. Unparseable values become
// null rather than failing the batch.
func coerceIncidents(raw []RawIncident) []Incident {
	out := make([]Incident, len(raw))
	for i, r := range raw {
		out[i] = Incident{
			UniqueKey:                   r.UniqueKey,
			CreatedDate:                 parseTimestampPtr(r.CreatedDate),
			ClosedDate:                  parseTimestampPtr(r.ClosedDate),
			Agency:                      copyString(r.Agency),
			AgencyName:                  copyString(r.AgencyName),
			ComplaintType:               copyString(r.ComplaintType),
			Descriptor:                  copyString(r.Descriptor),
			LocationType:                copyString(r.LocationType),
			IncidentZip:                 copyString(r.IncidentZip),
			City:                        copyString(r.City),
			Status:                      copyString(r.Status),
			ResolutionActionUpdatedDate: parseTimestampPtr(r.ResolutionActionUpdatedDate),
			Borough:                     copyString(r.Borough),
			Latitude:                    parseFloatPtr(r.Latitude),
			Longitude:                   parseFloatPtr(r.Longitude),
		}
	}
	return out
}

func parseTimestampPtr(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, ok := ParseTimestamp(strings.TrimSpace(*s))
	if !ok {
		return nil
	}
	return &t
}

func parseFloatPtr(s *string) *float64 {
	if s == nil {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(*s), 64)
	if err != nil {
		return nil
	}
	return &v
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// CollapseWhitespace trims s and collapses internal whitespace runs to one space.
func CollapseWhitespace(s string) string {
	return whitespaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
}

func normalizeWhitespace(rows []Incident, columns []string) {
	for _, col := range columns {
		acc := incidentTextColumns[col]
		for i := range rows {
			if v := *acc(&rows[i]); v != nil {
				*acc(&rows[i]) = Ptr(CollapseWhitespace(*v))
			}
		}
	}
}

// filterRelevant keeps rows whose complaint type is allow-listed and uses only
// the permitted characters.
func (n *Normalizer) filterRelevant(rows []Incident) []Incident {
	out := rows[:0:0]
	for _, r := range rows {
		if r.ComplaintType == nil {
			continue
		}
		ct := *r.ComplaintType
		if !complaintTypeRe.MatchString(ct) {
			continue
		}
		if _, ok := n.allow[ct]; !ok {
			continue
		}
		out = append(out, r)
	}
	return out
}

// dedupeIncidents sorts by creation time (nulls last) and keeps the earliest
// row per identifier.
func dedupeIncidents(rows []Incident) []Incident {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].CreatedDate, rows[j].CreatedDate
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
	seen := make(map[string]struct{}, len(rows))
	out := make([]Incident, 0, len(rows))
	for _, r := range rows {
		if _, ok := seen[r.UniqueKey]; ok {
			continue
		}
		seen[r.UniqueKey] = struct{}{}
		out = append(out, r)
	}
	return out
}

// deriveCategory seeds complaint_category from the mapped complaint type.
func deriveCategory(rows []Incident) {
	for i := range rows {
		rows[i].ComplaintCategory = copyString(rows[i].ComplaintType)
	}
}

// applyMapping replaces exact keys with their canonical value, then resolves
// the remaining non-canonical values by similarity. It returns the number of
// rows changed by the fuzzy step.
func (n *Normalizer) applyMapping(rows []Incident, c ColumnMapping) int {
	m := n.mappings.Mapping(c.Mapping)
	if m.Len() == 0 {
		return 0
	}
	acc, ok := incidentTextColumns[c.Column]
	if !ok {
		return 0
	}

	for i := range rows {
		v := *acc(&rows[i])
		if v == nil {
			continue
		}
		if canon, ok := m.Lookup(*v); ok {
			*acc(&rows[i]) = Ptr(canon)
		}
	}
	if !c.Fuzzy {
		return 0
	}

	resolved := make(map[string]string)
	keys := m.Keys()
	for i := range rows {
		v := *acc(&rows[i])
		if v == nil || m.IsTarget(*v) {
			continue
		}
		if _, done := resolved[*v]; done {
			continue
		}
		if canon, ok := n.resolveFuzzy(c, m, keys, *v); ok {
			resolved[*v] = canon
		}
	}

	changed := 0
	for i := range rows {
		v := *acc(&rows[i])
		if v == nil {
			continue
		}
		if canon, ok := resolved[*v]; ok {
			*acc(&rows[i]) = Ptr(canon)
			changed++
		}
	}
	return changed
}

func (n *Normalizer) resolveFuzzy(c ColumnMapping, m Mapping, keys []string, value string) (string, bool) {
	key := fuzzyKey{mapping: c.Mapping, cutoff: c.Cutoff, value: value}
	if r, ok := n.cache.get(key); ok {
		return r.canonical, r.ok
	}
	best, score, found := BestMatch(value, keys)
	r := fuzzyResult{}
	if found && score >= c.Cutoff {
		r.canonical, _ = m.Lookup(best)
		r.ok = true
	}
	n.cache.put(key, r)
	return r.canonical, r.ok
}

// NormalizeZip returns the first five characters of a postal code, or false
// when it is too short to be one.
func NormalizeZip(zip string) (string, bool) {
	if utf8.RuneCountInString(zip) < 5 {
		return "", false
	}
	return string([]rune(zip)[:5]), true
}

func normalizeZips(rows []Incident) {
	for i := range rows {
		if rows[i].IncidentZip == nil {
			continue
		}
		if z, ok := NormalizeZip(*rows[i].IncidentZip); ok {
			rows[i].IncidentZip = &z
		} else {
			rows[i].IncidentZip = nil
		}
	}
}

func applyCasing(rows []Incident) {
	title := cases.Title(language.English)
	for _, col := range titleCaseColumns {
		acc := incidentTextColumns[col]
		for i := range rows {
			if v := *acc(&rows[i]); v != nil {
				*acc(&rows[i]) = Ptr(title.String(*v))
			}
		}
	}
	for i := range rows {
		if rows[i].Agency != nil {
			rows[i].Agency = Ptr(strings.ToUpper(*rows[i].Agency))
		}
	}
}

func clearSentinels(rows []Incident) {
	for _, acc := range incidentTextColumns {
		for i := range rows {
			if v := *acc(&rows[i]); v != nil && *v == MissingSentinel {
				*acc(&rows[i]) = nil
			}
		}
	}
}
