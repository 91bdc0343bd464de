package bigquery

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/agxdata/nyc311-weather-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestTableSchema(t *testing.T) {
	s, ok := domain.SchemaFor(domain.DimDate)
	require.True(t, ok)

	got := tableSchema(s)
	require.Len(t, got, len(s.Columns))
	assert.Equal(t, "date_id", got[0].Name)
	assert.Equal(t, bigquery.IntegerFieldType, got[0].Type)
	assert.True(t, got[0].Required)
	assert.Equal(t, bigquery.DateFieldType, got[1].Type)
	assert.False(t, got[1].Required)
	assert.Equal(t, bigquery.StringFieldType, got[6].Type)
}

func TestEncodeRows_NewlineDelimitedRecords(t *testing.T) {
	s, _ := domain.SchemaFor(domain.DimDate)
	day := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	tbl := domain.Table{Schema: s, Rows: [][]any{
		{int64(1), day, int64(6), int64(1), int64(2025), int64(1), "Monday"},
		{int64(2), day.AddDate(0, 0, 1), int64(7), int64(1), int64(2025), int64(2), "Tuesday"},
	}}

	data, err := encodeRows(tbl)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "2025-01-06", first["date"])
	assert.EqualValues(t, 1, first["date_id"])
	assert.Equal(t, "Monday", first["weekday_name"])
	assert.Len(t, first, len(s.Columns))
}

func TestEncodeRows_KeepsNulls(t *testing.T) {
	s, _ := domain.SchemaFor(domain.FactWeather)
	row := make([]any, len(s.Columns))
	row[0] = int64(1)

	data, err := encodeRows(domain.Table{Schema: s, Rows: [][]any{row}})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	v, ok := got[s.Columns[2].Name]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestEncodeRows_Empty(t *testing.T) {
	s, _ := domain.SchemaFor(domain.DimBorough)
	data, err := encodeRows(domain.Table{Schema: s})
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestHasStatus(t *testing.T) {
	notFound := &googleapi.Error{Code: http.StatusNotFound, Message: "Not found: Dataset"}

	assert.True(t, hasStatus(notFound, http.StatusNotFound))
	assert.True(t, hasStatus(fmt.Errorf("wrapped: %w", notFound), http.StatusNotFound))
	assert.False(t, hasStatus(notFound, http.StatusConflict))
	assert.False(t, hasStatus(fmt.Errorf("plain"), http.StatusNotFound))
}

func TestFormatError(t *testing.T) {
	err := formatError(&googleapi.Error{Code: http.StatusForbidden, Message: "Access Denied"})
	assert.EqualError(t, err, "bigquery api error 403: Access Denied")

	plain := fmt.Errorf("boom")
	assert.Equal(t, plain, formatError(plain))
}
