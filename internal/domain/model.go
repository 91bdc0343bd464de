package domain

import (
	"fmt"
	"time"
)

// Dimension names, shared by the key registry and the warehouse tables.
const (
	DimDate          = "dim_date"
	DimBorough       = "dim_borough"
	DimLocation      = "dim_location"
	DimAgency        = "dim_agency"
	DimComplaintType = "dim_complaint_type"

	FactIncidents    = "fact_incidents"
	FactWeather      = "fact_weather"
	FactDailySummary = "fact_daily_summary"
)

// DateDim is one calendar day. Weekday is ISO: Monday=1 ... Sunday=7.
type DateDim struct {
	DateID      int
	Date        time.Time
	Day         int
	Month       int
	Year        int
	Weekday     int
	WeekdayName string
}

// BoroughDim is one of the five fixed boroughs.
type BoroughDim struct {
	BoroughID   int
	BoroughName string
}

// LocationDim is a distinct place an incident or weather query refers to.
type LocationDim struct {
	LocationID   int
	IncidentZip  *string
	Borough      *string
	City         *string
	LocationType *string
	Latitude     *float64
	Longitude    *float64
}

// AgencyDim is a distinct (acronym, name) pair.
type AgencyDim struct {
	AgencyID   int
	Agency     *string
	AgencyName *string
}

// ComplaintTypeDim is a distinct (type, descriptor, category) triple.
type ComplaintTypeDim struct {
	ComplaintTypeID     int
	ComplaintType       *string
	ComplaintDescriptor *string
	ComplaintCategory   *string
}

// IncidentFact is one service request keyed into the dimensions.
type IncidentFact struct {
	IncidentID        string
	CreatedDateID     *int
	ClosedDateID      *int
	LocationID        *int
	BoroughID         *int
	AgencyID          *int
	ComplaintTypeID   *int
	TimeToResolve     *time.Duration
	TimeToResolveDays *int
	IsResolvedSameDay *int
	ComplaintCount    int
}

// WeatherFact is one borough-day of weather with derived flags.
type WeatherFact struct {
	DateID             *int
	BoroughID          *int
	TemperatureMax     *float64
	TemperatureMin     *float64
	PrecipitationTotal *float64
	PrecipitationHours *float64
	RainTotal          *float64
	ShowersTotal       *float64
	SnowfallTotal      *float64
	WindSpeedMax       *float64
	WindGustMax        *float64
	RainFlag           *int
	ShowersFlag        *int
	SnowFlag           *int
	HighWindFlag       *int
}

// DailySummaryFact aggregates incidents per (day, borough) alongside that
// day's weather. Weather columns stay null when no observation matched.
type DailySummaryFact struct {
	DateID                 *int
	BoroughID              *int
	TotalIncidents         int
	PercentResolvedSameDay *float64
	TemperatureAvg         *float64
	TemperatureMax         *float64
	TemperatureMin         *float64
	PrecipitationTotal     *float64
	PrecipitationPerHour   *float64
	RainTotal              *float64
	ShowersTotal           *float64
	SnowfallTotal          *float64
	WindSpeedMax           *float64
	WindGustMax            *float64
	RainFlag               *int
	ShowersFlag            *int
	SnowFlag               *int
	HighWindFlag           *int
}

// StarSchema is the complete output of one model build.
type StarSchema struct {
	Dates          []DateDim
	Boroughs       []BoroughDim
	Locations      []LocationDim
	Agencies       []AgencyDim
	ComplaintTypes []ComplaintTypeDim
	Incidents      []IncidentFact
	Weather        []WeatherFact
	DailySummary   []DailySummaryFact
}

// High-wind thresholds in the source's km/h scale.
const (
	HighWindSpeed = 15.0
	HighWindGust  = 20.0
)

// boroughKeys is static reference data.
var boroughKeys = []BoroughDim{
	{BoroughID: 1, BoroughName: Manhattan},
	{BoroughID: 2, BoroughName: Brooklyn},
	{BoroughID: 3, BoroughName: Queens},
	{BoroughID: 4, BoroughName: Bronx},
	{BoroughID: 5, BoroughName: StatenIsland},
}

// BuildModel derives the star schema from the normalized incidents and the
// weather history. Surrogate keys come from registry; pass an empty registry
// for positional keys. The build is all-or-nothing.
func BuildModel(incidents []Incident, weather []WeatherObservation, registry *KeyRegistry) (*StarSchema, error) {
	incidents = cleanResolutionDates(incidents)

	dates, dateKeys := buildDateDim(incidents, weather, registry)
	boroughs, boroughIDs := buildBoroughDim()
	locations, locationKeys := buildLocationDim(incidents, weather, registry)
	agencies, agencyKeys := buildAgencyDim(incidents, registry)
	complaintTypes, complaintKeys := buildComplaintTypeDim(incidents, registry)

	for _, dim := range []struct {
		name string
		ids  []int
	}{
		{DimDate, idsOf(dates, func(d DateDim) int { return d.DateID })},
		{DimLocation, idsOf(locations, func(d LocationDim) int { return d.LocationID })},
		{DimAgency, idsOf(agencies, func(d AgencyDim) int { return d.AgencyID })},
		{DimComplaintType, idsOf(complaintTypes, func(d ComplaintTypeDim) int { return d.ComplaintTypeID })},
	} {
		if err := checkUnique(dim.name, dim.ids); err != nil {
			return nil, err
		}
	}

	keys := factKeys{
		dates:      dateKeys,
		boroughs:   boroughIDs,
		locations:  locationKeys,
		agencies:   agencyKeys,
		complaints: complaintKeys,
	}
	incidentFacts := buildIncidentFacts(incidents, keys)
	weatherFacts := buildWeatherFacts(weather, keys)

	return &StarSchema{
		Dates:          dates,
		Boroughs:       boroughs,
		Locations:      locations,
		Agencies:       agencies,
		ComplaintTypes: complaintTypes,
		Incidents:      incidentFacts,
		Weather:        weatherFacts,
		DailySummary:   buildDailySummary(incidentFacts, weatherFacts),
	}, nil
}

// cleanResolutionDates nulls closed dates that fall on a day before the
// created date. The input is not modified.
func cleanResolutionDates(rows []Incident) []Incident {
	out := make([]Incident, len(rows))
	copy(out, rows)
	for i := range out {
		c, d := out[i].CreatedDate, out[i].ClosedDate
		if c != nil && d != nil && Day(*d).Before(Day(*c)) {
			out[i].ClosedDate = nil
		}
	}
	return out
}

// Day truncates a floating timestamp to its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func idsOf[T any](rows []T, id func(T) int) []int {
	out := make([]int, len(rows))
	for i, r := range rows {
		out[i] = id(r)
	}
	return out
}

func checkUnique(dim string, ids []int) error {
	seen := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("dimension %s: key %d issued twice: %w", dim, id, ErrKeyCollision)
		}
		seen[id] = struct{}{}
	}
	return nil
}
