package domain

import "time"

// ColumnType is the logical type of a warehouse column. Row values are nil or
// int64, float64, string, or time.Time respectively.
type ColumnType string

const (
	TypeInt    ColumnType = "INTEGER"
	TypeFloat  ColumnType = "FLOAT"
	TypeString ColumnType = "STRING"
	TypeDate   ColumnType = "DATE"
)

// TableKind decides the load semantics of a table.
type TableKind int

const (
	// Dimension tables are deduplicated against keys already in the warehouse.
	Dimension TableKind = iota
	// Fact tables are append-only.
	Fact
)

func (k TableKind) String() string {
	if k == Dimension {
		return "dimension"
	}
	return "fact"
}

// Column is one typed column.
type Column struct {
	Name string
	Type ColumnType
}

// Schema describes a warehouse table. PrimaryKey is empty for facts.
type Schema struct {
	Name       string
	Kind       TableKind
	PrimaryKey string
	Columns    []Column
}

// ColumnNames returns the column names in order.
func (s Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Table is a schema plus its rows, one value per column.
type Table struct {
	Schema
	Rows [][]any
}

func cols(pairs ...any) []Column {
	out := make([]Column, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, Column{Name: pairs[i].(string), Type: pairs[i+1].(ColumnType)})
	}
	return out
}

// TableSchemas lists the eight warehouse tables, dimensions first.
var TableSchemas = []Schema{
	{Name: DimDate, Kind: Dimension, PrimaryKey: "date_id", Columns: cols(
		"date_id", TypeInt, "date", TypeDate, "day", TypeInt, "month", TypeInt,
		"year", TypeInt, "weekday", TypeInt, "weekday_name", TypeString,
	)},
	{Name: DimBorough, Kind: Dimension, PrimaryKey: "borough_id", Columns: cols(
		"borough_id", TypeInt, "borough_name", TypeString,
	)},
	{Name: DimLocation, Kind: Dimension, PrimaryKey: "location_id", Columns: cols(
		"location_id", TypeInt, "incident_zip", TypeString, "borough", TypeString, "city", TypeString,
		"location_type", TypeString, "latitude", TypeFloat, "longitude", TypeFloat,
	)},
	{Name: DimAgency, Kind: Dimension, PrimaryKey: "agency_id", Columns: cols(
		"agency_id", TypeInt, "agency", TypeString, "agency_name", TypeString,
	)},
	{Name: DimComplaintType, Kind: Dimension, PrimaryKey: "complaint_type_id", Columns: cols(
		"complaint_type_id", TypeInt, "complaint_type", TypeString,
		"complaint_descriptor", TypeString, "complaint_category", TypeString,
	)},
	{Name: FactIncidents, Kind: Fact, Columns: cols(
		"incident_id", TypeString, "created_date_id", TypeInt, "closed_date_id", TypeInt,
		"location_id", TypeInt, "borough_id", TypeInt, "agency_id", TypeInt, "complaint_type_id", TypeInt,
		"time_to_resolve_seconds", TypeInt, "time_to_resolve_days", TypeInt,
		"is_resolved_same_day", TypeInt, "complaint_count", TypeInt,
	)},
	{Name: FactWeather, Kind: Fact, Columns: cols(
		"date_id", TypeInt, "borough_id", TypeInt, "temperature_max", TypeFloat, "temperature_min", TypeFloat,
		"precipitation_total", TypeFloat, "precipitation_hours", TypeFloat, "rain_total", TypeFloat,
		"showers_total", TypeFloat, "snowfall_total", TypeFloat, "windspeed_max", TypeFloat,
		"windgust_max", TypeFloat, "rain_flag", TypeInt, "showers_flag", TypeInt, "snow_flag", TypeInt,
		"high_wind_flag", TypeInt,
	)},
	{Name: FactDailySummary, Kind: Fact, Columns: cols(
		"date_id", TypeInt, "borough_id", TypeInt, "total_incidents", TypeInt,
		"percent_resolved_same_day", TypeFloat, "temperature_avg", TypeFloat, "temperature_max", TypeFloat,
		"temperature_min", TypeFloat, "precipitation_total", TypeFloat, "precipitation_per_hour", TypeFloat,
		"rain_total", TypeFloat, "showers_total", TypeFloat, "snowfall_total", TypeFloat,
		"windspeed_max", TypeFloat, "windgust_max", TypeFloat, "rain_flag", TypeInt, "showers_flag", TypeInt,
		"snow_flag", TypeInt, "high_wind_flag", TypeInt,
	)},
}

// SchemaFor returns the schema of a named table.
func SchemaFor(name string) (Schema, bool) {
	for _, s := range TableSchemas {
		if s.Name == name {
			return s, true
		}
	}
	return Schema{}, false
}

// Tables flattens the star schema into typed tables in TableSchemas order.
func (s *StarSchema) Tables() []Table {
	rows := map[string][][]any{
		DimDate:          mapRows(s.Dates, dateRow),
		DimBorough:       mapRows(s.Boroughs, boroughRow),
		DimLocation:      mapRows(s.Locations, locationRow),
		DimAgency:        mapRows(s.Agencies, agencyRow),
		DimComplaintType: mapRows(s.ComplaintTypes, complaintTypeRow),
		FactIncidents:    mapRows(s.Incidents, incidentRow),
		FactWeather:      mapRows(s.Weather, weatherRow),
		FactDailySummary: mapRows(s.DailySummary, summaryRow),
	}
	out := make([]Table, len(TableSchemas))
	for i, schema := range TableSchemas {
		out[i] = Table{Schema: schema, Rows: rows[schema.Name]}
	}
	return out
}

func mapRows[T any](in []T, row func(*T) []any) [][]any {
	out := make([][]any, len(in))
	for i := range in {
		out[i] = row(&in[i])
	}
	return out
}

func intVal(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func floatVal(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func strVal(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func durationSeconds(v *time.Duration) any {
	if v == nil {
		return nil
	}
	return int64(v.Seconds())
}

func dateRow(d *DateDim) []any {
	return []any{int64(d.DateID), d.Date, int64(d.Day), int64(d.Month), int64(d.Year), int64(d.Weekday), d.WeekdayName}
}

func boroughRow(b *BoroughDim) []any {
	return []any{int64(b.BoroughID), b.BoroughName}
}

func locationRow(l *LocationDim) []any {
	return []any{
		int64(l.LocationID), strVal(l.IncidentZip), strVal(l.Borough), strVal(l.City),
		strVal(l.LocationType), floatVal(l.Latitude), floatVal(l.Longitude),
	}
}

func agencyRow(a *AgencyDim) []any {
	return []any{int64(a.AgencyID), strVal(a.Agency), strVal(a.AgencyName)}
}

func complaintTypeRow(c *ComplaintTypeDim) []any {
	return []any{int64(c.ComplaintTypeID), strVal(c.ComplaintType), strVal(c.ComplaintDescriptor), strVal(c.ComplaintCategory)}
}

func incidentRow(f *IncidentFact) []any {
	return []any{
		f.IncidentID, intVal(f.CreatedDateID), intVal(f.ClosedDateID), intVal(f.LocationID),
		intVal(f.BoroughID), intVal(f.AgencyID), intVal(f.ComplaintTypeID),
		durationSeconds(f.TimeToResolve), intVal(f.TimeToResolveDays), intVal(f.IsResolvedSameDay),
		int64(f.ComplaintCount),
	}
}

func weatherRow(f *WeatherFact) []any {
	return []any{
		intVal(f.DateID), intVal(f.BoroughID), floatVal(f.TemperatureMax), floatVal(f.TemperatureMin),
		floatVal(f.PrecipitationTotal), floatVal(f.PrecipitationHours), floatVal(f.RainTotal),
		floatVal(f.ShowersTotal), floatVal(f.SnowfallTotal), floatVal(f.WindSpeedMax),
		floatVal(f.WindGustMax), intVal(f.RainFlag), intVal(f.ShowersFlag), intVal(f.SnowFlag),
		intVal(f.HighWindFlag),
	}
}

func summaryRow(f *DailySummaryFact) []any {
	return []any{
		intVal(f.DateID), intVal(f.BoroughID), int64(f.TotalIncidents), floatVal(f.PercentResolvedSameDay),
		floatVal(f.TemperatureAvg), floatVal(f.TemperatureMax), floatVal(f.TemperatureMin),
		floatVal(f.PrecipitationTotal), floatVal(f.PrecipitationPerHour), floatVal(f.RainTotal),
		floatVal(f.ShowersTotal), floatVal(f.SnowfallTotal), floatVal(f.WindSpeedMax),
		floatVal(f.WindGustMax), intVal(f.RainFlag), intVal(f.ShowersFlag), intVal(f.SnowFlag),
		intVal(f.HighWindFlag),
	}
}

// KeyIndex returns the position of the primary key column, or -1.
func (t Table) KeyIndex() int {
	if t.PrimaryKey == "" {
		return -1
	}
	for i, c := range t.Columns {
		if c.Name == t.PrimaryKey {
			return i
		}
	}
	return -1
}

// WithoutKeys drops rows whose primary key is already in existing. Tables
// without a primary key are returned unchanged.
func (t Table) WithoutKeys(existing map[int64]struct{}) Table {
	k := t.KeyIndex()
	if k < 0 {
		return t
	}
	out := Table{Schema: t.Schema, Rows: make([][]any, 0, len(t.Rows))}
	for _, row := range t.Rows {
		id, ok := row[k].(int64)
		if !ok {
			continue
		}
		if _, dup := existing[id]; dup {
			continue
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

// Record returns row i keyed by column name.
func (t Table) Record(i int) map[string]any {
	rec := make(map[string]any, len(t.Columns))
	for j, c := range t.Columns {
		v := t.Rows[i][j]
		if d, ok := v.(time.Time); ok && c.Type == TypeDate {
			v = d.Format(time.DateOnly)
		}
		rec[c.Name] = v
	}
	return rec
}

// LoadStats counts rows written per table by a sink.
type LoadStats map[string]int
