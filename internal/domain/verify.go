package domain

import "fmt"

// Violation is a broken invariant found by Verify.
type Violation struct {
	Table  string
	Column string
	Detail string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s.%s: %s", v.Table, v.Column, v.Detail)
}

// Verify checks dimension key uniqueness, fact identifier uniqueness and
// that every non-null foreign key resolves to a dimension row.
func Verify(s *StarSchema) []Violation {
	var out []Violation

	keySet := func(table, column string, ids []int) map[int]struct{} {
		set := make(map[int]struct{}, len(ids))
		for _, id := range ids {
			if _, dup := set[id]; dup {
				out = append(out, Violation{table, column, fmt.Sprintf("duplicate key %d", id)})
			}
			set[id] = struct{}{}
		}
		return set
	}
	dates := keySet(DimDate, "date_id", idsOf(s.Dates, func(d DateDim) int { return d.DateID }))
	boroughs := keySet(DimBorough, "borough_id", idsOf(s.Boroughs, func(d BoroughDim) int { return d.BoroughID }))
	locations := keySet(DimLocation, "location_id", idsOf(s.Locations, func(d LocationDim) int { return d.LocationID }))
	agencies := keySet(DimAgency, "agency_id", idsOf(s.Agencies, func(d AgencyDim) int { return d.AgencyID }))
	complaints := keySet(DimComplaintType, "complaint_type_id", idsOf(s.ComplaintTypes, func(d ComplaintTypeDim) int { return d.ComplaintTypeID }))

	ref := func(table, column string, id *int, dim map[int]struct{}) {
		if id == nil {
			return
		}
		if _, ok := dim[*id]; !ok {
			out = append(out, Violation{table, column, fmt.Sprintf("dangling key %d", *id)})
		}
	}

	seen := make(map[string]struct{}, len(s.Incidents))
	for i := range s.Incidents {
		f := &s.Incidents[i]
		if _, dup := seen[f.IncidentID]; dup {
			out = append(out, Violation{FactIncidents, "incident_id", fmt.Sprintf("duplicate id %q", f.IncidentID)})
		}
		seen[f.IncidentID] = struct{}{}
		ref(FactIncidents, "created_date_id", f.CreatedDateID, dates)
		ref(FactIncidents, "closed_date_id", f.ClosedDateID, dates)
		ref(FactIncidents, "location_id", f.LocationID, locations)
		ref(FactIncidents, "borough_id", f.BoroughID, boroughs)
		ref(FactIncidents, "agency_id", f.AgencyID, agencies)
		ref(FactIncidents, "complaint_type_id", f.ComplaintTypeID, complaints)
	}
	for i := range s.Weather {
		ref(FactWeather, "date_id", s.Weather[i].DateID, dates)
		ref(FactWeather, "borough_id", s.Weather[i].BoroughID, boroughs)
	}
	for i := range s.DailySummary {
		ref(FactDailySummary, "date_id", s.DailySummary[i].DateID, dates)
		ref(FactDailySummary, "borough_id", s.DailySummary[i].BoroughID, boroughs)
	}
	return out
}
