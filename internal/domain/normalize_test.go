package domain

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testMappingSet(allow ...string) MappingSet {
	return NewMappingSet(
		map[string]map[string]string{
			"complaint_mapping":    {"Noise Complaint": "Noise", "abcde": "Alpha"},
			"complaint_categories": {"Noise": "Quality of Life"},
			"borough_mapping":      {"BROOKLYN": "Brooklyn", "MANHATTAN": "Manhattan"},
			"agency_mapping":       {"N.Y.P.D.": "NYPD"},
		},
		map[string][]string{RelevantComplaints: allow},
	)
}

func newTestNormalizer(t *testing.T, set MappingSet, cutoff float64) *Normalizer {
	t.Helper()
	n, err := NewNormalizer(set, DefaultColumnMappings(cutoff), 16, testLogger())
	require.NoError(t, err)
	return n
}

func incidentByKey(t *testing.T, rows []Incident, key string) Incident {
	t.Helper()
	for _, r := range rows {
		if r.UniqueKey == key {
			return r
		}
	}
	t.Fatalf("incident %s not found", key)
	return Incident{}
}

func TestNewNormalizer_RequiresAllowList(t *testing.T) {
	set := NewMappingSet(map[string]map[string]string{"complaint_mapping": {}}, nil)
	_, err := NewNormalizer(set, DefaultColumnMappings(80), 0, testLogger())
	require.ErrorIs(t, err, ErrNoAllowList)
}

func TestNewNormalizer_RejectsBadCutoff(t *testing.T) {
	_, err := NewNormalizer(testMappingSet(), DefaultColumnMappings(120), 0, testLogger())
	require.Error(t, err)
}

func TestNormalize_FuzzyScenario(t *testing.T) {
	n := newTestNormalizer(t, testMappingSet("Noize Cmplnt", "Water Leak"), DefaultFuzzyCutoff)

	raw := []RawIncident{
		{UniqueKey: "1", CreatedDate: Ptr("2025-01-01T10:00:00"), ComplaintType: Ptr("Noize Cmplnt")},
		{UniqueKey: "2", CreatedDate: Ptr("2025-01-01T11:00:00"), ComplaintType: Ptr("Water Leak")},
	}
	rows, stats := n.Normalize(raw)

	require.Len(t, rows, 2)
	noise := incidentByKey(t, rows, "1")
	assert.Equal(t, "Noise", *noise.ComplaintType)
	assert.Equal(t, "Quality Of Life", *noise.ComplaintCategory)
	assert.Equal(t, "Water Leak", *incidentByKey(t, rows, "2").ComplaintType)
	assert.Equal(t, 1, stats.FuzzyMatched["complaint_type"])
}

func TestNormalize_FuzzyCutoffBoundary(t *testing.T) {
	raw := []RawIncident{{UniqueKey: "1", CreatedDate: Ptr("2025-01-01T10:00:00"), ComplaintType: Ptr("abcdf")}}

	t.Run("score equal to cutoff is mapped", func(t *testing.T) {
		n := newTestNormalizer(t, testMappingSet("abcdf"), 80)
		rows, _ := n.Normalize(raw)
		require.Len(t, rows, 1)
		assert.Equal(t, "Alpha", *rows[0].ComplaintType)
	})

	t.Run("score below cutoff is left alone", func(t *testing.T) {
		n := newTestNormalizer(t, testMappingSet("abcdf"), 81)
		rows, _ := n.Normalize(raw)
		require.Len(t, rows, 1)
		assert.Equal(t, "Abcdf", *rows[0].ComplaintType)
	})
}

func TestNormalize_FuzzyCacheReused(t *testing.T) {
	n := newTestNormalizer(t, testMappingSet("Noize Cmplnt"), DefaultFuzzyCutoff)
	raw := []RawIncident{{UniqueKey: "1", CreatedDate: Ptr("2025-01-01T10:00:00"), ComplaintType: Ptr("Noize Cmplnt")}}

	n.Normalize(raw)
	cached := n.cache.len()
	require.Positive(t, cached)

	rows, _ := n.Normalize(raw)
	assert.Equal(t, cached, n.cache.len(), "second pass resolves from cache")
	assert.Equal(t, "Noise", *rows[0].ComplaintType)
}

func TestNormalize_FilterRelevant(t *testing.T) {
	n := newTestNormalizer(t, testMappingSet("Noise Complaint", "Noise!!"), DefaultFuzzyCutoff)

	raw := []RawIncident{
		{UniqueKey: "keep", CreatedDate: Ptr("2025-01-01T10:00:00"), ComplaintType: Ptr("  Noise   Complaint ")},
		{UniqueKey: "chars", CreatedDate: Ptr("2025-01-01T10:00:00"), ComplaintType: Ptr("Noise!!")},
		{UniqueKey: "unlisted", CreatedDate: Ptr("2025-01-01T10:00:00"), ComplaintType: Ptr("Graffiti")},
		{UniqueKey: "null", CreatedDate: Ptr("2025-01-01T10:00:00")},
	}
	rows, stats := n.Normalize(raw)

	require.Len(t, rows, 1)
	assert.Equal(t, "keep", rows[0].UniqueKey)
	assert.Equal(t, 3, stats.Filtered)
	assert.Equal(t, 1, stats.Output)
}

func TestNormalize_DedupKeepsEarliest(t *testing.T) {
	n := newTestNormalizer(t, testMappingSet("Noise Complaint"), DefaultFuzzyCutoff)

	raw := []RawIncident{
		{UniqueKey: "1", CreatedDate: Ptr("2025-01-02T00:00:00"), ComplaintType: Ptr("Noise Complaint"), Descriptor: Ptr("later")},
		{UniqueKey: "1", CreatedDate: Ptr("2025-01-01T00:00:00"), ComplaintType: Ptr("Noise Complaint"), Descriptor: Ptr("earlier")},
		{UniqueKey: "2", ComplaintType: Ptr("Noise Complaint")},
	}
	rows, stats := n.Normalize(raw)

	require.Len(t, rows, 2)
	assert.Equal(t, "1", rows[0].UniqueKey)
	assert.Equal(t, "Earlier", *rows[0].Descriptor)
	assert.Equal(t, "2", rows[1].UniqueKey, "null creation times sort last")
	assert.Equal(t, 1, stats.Duplicates)
}

func TestNormalize_ZipCodes(t *testing.T) {
	n := newTestNormalizer(t, testMappingSet("Noise Complaint"), DefaultFuzzyCutoff)

	raw := []RawIncident{
		{UniqueKey: "short", CreatedDate: Ptr("2025-01-01T00:00:00"), ComplaintType: Ptr("Noise Complaint"), IncidentZip: Ptr("1002")},
		{UniqueKey: "long", CreatedDate: Ptr("2025-01-01T00:00:01"), ComplaintType: Ptr("Noise Complaint"), IncidentZip: Ptr("100231234")},
		{UniqueKey: "exact", CreatedDate: Ptr("2025-01-01T00:00:02"), ComplaintType: Ptr("Noise Complaint"), IncidentZip: Ptr("11201")},
	}
	rows, _ := n.Normalize(raw)

	assert.Nil(t, incidentByKey(t, rows, "short").IncidentZip)
	assert.Equal(t, "10023", *incidentByKey(t, rows, "long").IncidentZip)
	assert.Equal(t, "11201", *incidentByKey(t, rows, "exact").IncidentZip)
	for _, r := range rows {
		if r.IncidentZip != nil {
			assert.Len(t, *r.IncidentZip, 5)
		}
	}
}

func TestNormalize_CoercionCasingAndSentinels(t *testing.T) {
	n := newTestNormalizer(t, testMappingSet("Noise Complaint"), DefaultFuzzyCutoff)

	raw := []RawIncident{{
		UniqueKey:     "1",
		CreatedDate:   Ptr("2025-01-01T10:15:00.000"),
		ClosedDate:    Ptr("not-a-date"),
		Agency:        Ptr("missing"),
		AgencyName:    Ptr("new york city police department"),
		ComplaintType: Ptr("Noise Complaint"),
		Descriptor:    Ptr("MISSING"),
		City:          Ptr("missing"),
		Borough:       Ptr("BROOKLYN"),
		Latitude:      Ptr("40.6782"),
		Longitude:     Ptr("north"),
	}}
	rows, _ := n.Normalize(raw)
	require.Len(t, rows, 1)
	r := rows[0]

	require.NotNil(t, r.CreatedDate)
	assert.Equal(t, time.Date(2025, 1, 1, 10, 15, 0, 0, time.UTC), *r.CreatedDate)
	assert.Nil(t, r.ClosedDate)
	// Recased sentinels are no longer the exact literal and survive.
	require.NotNil(t, r.Agency)
	assert.Equal(t, "MISSING", *r.Agency)
	require.NotNil(t, r.Descriptor)
	assert.Equal(t, "Missing", *r.Descriptor)
	require.NotNil(t, r.City)
	assert.Equal(t, "Missing", *r.City)
	assert.Equal(t, "New York City Police Department", *r.AgencyName)
	assert.Equal(t, "Brooklyn", *r.Borough)
	require.NotNil(t, r.Latitude)
	assert.InDelta(t, 40.6782, *r.Latitude, 1e-9)
	assert.Nil(t, r.Longitude)
}

func TestClearSentinels(t *testing.T) {
	rows := []Incident{{
		UniqueKey:   "1",
		Status:      Ptr(MissingSentinel),
		City:        Ptr("Missing"),
		Agency:      Ptr("MISSING"),
		IncidentZip: Ptr("missing "),
	}}
	clearSentinels(rows)

	assert.Nil(t, rows[0].Status)
	assert.Equal(t, "Missing", *rows[0].City)
	assert.Equal(t, "MISSING", *rows[0].Agency)
	assert.Equal(t, "missing ", *rows[0].IncidentZip)
}

func TestNormalizeZip(t *testing.T) {
	z, ok := NormalizeZip("1002")
	assert.False(t, ok)
	assert.Empty(t, z)

	z, ok = NormalizeZip("100231234")
	assert.True(t, ok)
	assert.Equal(t, "10023", z)
}

func TestCollapseWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", CollapseWhitespace("  a \t b\n\nc "))
}
