package domain

import (
	"time"
)

// TimestampLayout is the fixed layout used to coerce Socrata timestamps.
// Fractional seconds in the input are accepted by time.Parse.
const TimestampLayout = "2006-01-02T15:04:05"

// RawIncident is a 311 service request as delivered by the source. Every
// column except the identifier is nullable text.
type RawIncident struct {
	UniqueKey                   string  `json:"unique_key" parquet:"unique_key"`
	CreatedDate                 *string `json:"created_date,omitempty" parquet:"created_date,optional"`
	ClosedDate                  *string `json:"closed_date,omitempty" parquet:"closed_date,optional"`
	Agency                      *string `json:"agency,omitempty" parquet:"agency,optional"`
	AgencyName                  *string `json:"agency_name,omitempty" parquet:"agency_name,optional"`
	ComplaintType               *string `json:"complaint_type,omitempty" parquet:"complaint_type,optional"`
	Descriptor                  *string `json:"descriptor,omitempty" parquet:"descriptor,optional"`
	LocationType                *string `json:"location_type,omitempty" parquet:"location_type,optional"`
	IncidentZip                 *string `json:"incident_zip,omitempty" parquet:"incident_zip,optional"`
	City                        *string `json:"city,omitempty" parquet:"city,optional"`
	Status                      *string `json:"status,omitempty" parquet:"status,optional"`
	ResolutionActionUpdatedDate *string `json:"resolution_action_updated_date,omitempty" parquet:"resolution_action_updated_date,optional"`
	Borough                     *string `json:"borough,omitempty" parquet:"borough,optional"`
	Latitude                    *string `json:"latitude,omitempty" parquet:"latitude,optional"`
	Longitude                   *string `json:"longitude,omitempty" parquet:"longitude,optional"`
}

// IncidentColumns lists the source columns requested from Socrata.
var IncidentColumns = []string{
	"unique_key", "created_date", "closed_date", "agency", "agency_name",
	"complaint_type", "descriptor", "location_type", "incident_zip",
	"city", "status", "resolution_action_updated_date", "borough",
	"latitude", "longitude",
}

// Incident is a normalized service request ready for dimensional modeling.
type Incident struct {
	UniqueKey                   string
	CreatedDate                 *time.Time
	ClosedDate                  *time.Time
	Agency                      *string
	AgencyName                  *string
	ComplaintType               *string
	ComplaintCategory           *string
	Descriptor                  *string
	LocationType                *string
	IncidentZip                 *string
	City                        *string
	Status                      *string
	ResolutionActionUpdatedDate *time.Time
	Borough                     *string
	Latitude                    *float64
	Longitude                   *float64
}

// ParseTimestamp parses a source timestamp with [TimestampLayout]. Dates
// without a time part are accepted too. Returns false for anything else.
func ParseTimestamp(s string) (time.Time, bool) {
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// FormatTimestamp renders t in [TimestampLayout].
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
