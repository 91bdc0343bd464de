package domain

import (
	"sort"
	"time"

	"github.com/samber/lo"
)

// factKeys resolves natural keys to surrogate keys for the fact builders.
type factKeys struct {
	dates      map[string]int
	boroughs   map[string]int
	locations  map[string]int
	agencies   map[string]int
	complaints map[string]int
}

func (k factKeys) date(t *time.Time) *int {
	if t == nil {
		return nil
	}
	return lookupKey(k.dates, dateKey(*t))
}

func (k factKeys) borough(name *string) *int {
	if name == nil {
		return nil
	}
	return lookupKey(k.boroughs, *name)
}

func lookupKey(m map[string]int, natural string) *int {
	id, ok := m[natural]
	if !ok {
		return nil
	}
	return &id
}

func dateKey(t time.Time) string {
	return t.Format(time.DateOnly)
}

func buildDateDim(incidents []Incident, weather []WeatherObservation, registry *KeyRegistry) ([]DateDim, map[string]int) {
	days := make(map[string]time.Time)
	add := func(t *time.Time) {
		if t == nil {
			return
		}
		d := Day(*t)
		days[dateKey(d)] = d
	}
	for i := range incidents {
		add(incidents[i].CreatedDate)
		add(incidents[i].ClosedDate)
	}
	for i := range weather {
		add(&weather[i].Date)
	}

	naturals := lo.Keys(days)
	sort.Strings(naturals) // ISO dates sort chronologically
	ids := registry.Assign(DimDate, naturals)

	rows := make([]DateDim, len(naturals))
	index := make(map[string]int, len(naturals))
	for i, nk := range naturals {
		d := days[nk]
		rows[i] = DateDim{
			DateID:      ids[i],
			Date:        d,
			Day:         d.Day(),
			Month:       int(d.Month()),
			Year:        d.Year(),
			Weekday:     isoWeekday(d.Weekday()),
			WeekdayName: d.Weekday().String(),
		}
		index[nk] = ids[i]
	}
	return rows, index
}

// isoWeekday maps Sunday=0 to 7, leaving Monday..Saturday as 1..6.
func isoWeekday(d time.Weekday) int {
	if d == time.Sunday {
		return 7
	}
	return int(d)
}

func buildBoroughDim() ([]BoroughDim, map[string]int) {
	rows := append([]BoroughDim(nil), boroughKeys...)
	index := lo.SliceToMap(rows, func(b BoroughDim) (string, int) {
		return b.BoroughName, b.BoroughID
	})
	return rows, index
}

func incidentLocationKey(i *Incident) string {
	return naturalKey(i.IncidentZip, i.Borough, i.City, i.LocationType, floatKey(i.Latitude), floatKey(i.Longitude))
}

func weatherLocation(w *WeatherObservation) LocationDim {
	return LocationDim{
		Borough:   Ptr(w.Borough),
		Latitude:  Ptr(w.Latitude),
		Longitude: Ptr(w.Longitude),
	}
}

func locationKey(l *LocationDim) string {
	return naturalKey(l.IncidentZip, l.Borough, l.City, l.LocationType, floatKey(l.Latitude), floatKey(l.Longitude))
}

// buildLocationDim collects incident locations first, then weather query
// points, in first-seen order.
func buildLocationDim(incidents []Incident, weather []WeatherObservation, registry *KeyRegistry) ([]LocationDim, map[string]int) {
	var (
		rows     []LocationDim
		naturals []string
		seen     = make(map[string]struct{})
	)
	add := func(l LocationDim) {
		nk := locationKey(&l)
		if _, ok := seen[nk]; ok {
			return
		}
		seen[nk] = struct{}{}
		rows = append(rows, l)
		naturals = append(naturals, nk)
	}
	for i := range incidents {
		in := &incidents[i]
		add(LocationDim{
			IncidentZip:  in.IncidentZip,
			Borough:      in.Borough,
			City:         in.City,
			LocationType: in.LocationType,
			Latitude:     in.Latitude,
			Longitude:    in.Longitude,
		})
	}
	for i := range weather {
		add(weatherLocation(&weather[i]))
	}

	ids := registry.Assign(DimLocation, naturals)
	index := make(map[string]int, len(rows))
	for i := range rows {
		rows[i].LocationID = ids[i]
		index[naturals[i]] = ids[i]
	}
	return rows, index
}

func agencyKey(i *Incident) string {
	return naturalKey(i.Agency, i.AgencyName)
}

func buildAgencyDim(incidents []Incident, registry *KeyRegistry) ([]AgencyDim, map[string]int) {
	uniq := lo.UniqBy(incidents, func(i Incident) string { return agencyKey(&i) })
	naturals := lo.Map(uniq, func(i Incident, _ int) string { return agencyKey(&i) })
	ids := registry.Assign(DimAgency, naturals)

	rows := make([]AgencyDim, len(uniq))
	index := make(map[string]int, len(uniq))
	for i, in := range uniq {
		rows[i] = AgencyDim{AgencyID: ids[i], Agency: in.Agency, AgencyName: in.AgencyName}
		index[naturals[i]] = ids[i]
	}
	return rows, index
}

func complaintKey(i *Incident) string {
	return naturalKey(i.ComplaintType, i.Descriptor, i.ComplaintCategory)
}

func buildComplaintTypeDim(incidents []Incident, registry *KeyRegistry) ([]ComplaintTypeDim, map[string]int) {
	uniq := lo.UniqBy(incidents, func(i Incident) string { return complaintKey(&i) })
	naturals := lo.Map(uniq, func(i Incident, _ int) string { return complaintKey(&i) })
	ids := registry.Assign(DimComplaintType, naturals)

	rows := make([]ComplaintTypeDim, len(uniq))
	index := make(map[string]int, len(uniq))
	for i, in := range uniq {
		rows[i] = ComplaintTypeDim{
			ComplaintTypeID:     ids[i],
			ComplaintType:       in.ComplaintType,
			ComplaintDescriptor: in.Descriptor,
			ComplaintCategory:   in.ComplaintCategory,
		}
		index[naturals[i]] = ids[i]
	}
	return rows, index
}
