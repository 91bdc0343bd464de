package domain

import (
	"sort"
	"time"

	"github.com/samber/lo"
)

const day = 24 * time.Hour

func buildIncidentFacts(incidents []Incident, keys factKeys) []IncidentFact {
	return lo.Map(incidents, func(in Incident, _ int) IncidentFact {
		f := IncidentFact{
			IncidentID:      in.UniqueKey,
			CreatedDateID:   keys.date(in.CreatedDate),
			ClosedDateID:    keys.date(in.ClosedDate),
			LocationID:      lookupKey(keys.locations, incidentLocationKey(&in)),
			BoroughID:       keys.borough(in.Borough),
			AgencyID:        lookupKey(keys.agencies, agencyKey(&in)),
			ComplaintTypeID: lookupKey(keys.complaints, complaintKey(&in)),
			ComplaintCount:  1,
		}
		if in.CreatedDate != nil && in.ClosedDate != nil {
			created, closed := Day(*in.CreatedDate), Day(*in.ClosedDate)
			interval := closed.Sub(created)
			f.TimeToResolve = &interval
			f.TimeToResolveDays = Ptr(int(interval / day))
			f.IsResolvedSameDay = Ptr(boolInt(created.Equal(closed)))
		}
		return f
	})
}

func buildWeatherFacts(weather []WeatherObservation, keys factKeys) []WeatherFact {
	return lo.Map(weather, func(w WeatherObservation, _ int) WeatherFact {
		return WeatherFact{
			DateID:             keys.date(&w.Date),
			BoroughID:          keys.borough(&w.Borough),
			TemperatureMax:     w.TemperatureMax,
			TemperatureMin:     w.TemperatureMin,
			PrecipitationTotal: w.PrecipitationSum,
			PrecipitationHours: w.PrecipitationHours,
			RainTotal:          w.RainSum,
			ShowersTotal:       w.ShowersSum,
			SnowfallTotal:      w.SnowfallSum,
			WindSpeedMax:       w.WindSpeedMax,
			WindGustMax:        w.WindGustMax,
			RainFlag:           above(w.RainSum, 0),
			ShowersFlag:        above(w.ShowersSum, 0),
			SnowFlag:           above(w.SnowfallSum, 0),
			HighWindFlag:       kleeneOr(above(w.WindSpeedMax, HighWindSpeed), above(w.WindGustMax, HighWindGust)),
		}
	})
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// above is v > threshold as 1/0, null when v is null.
func above(v *float64, threshold float64) *int {
	if v == nil {
		return nil
	}
	return Ptr(boolInt(*v > threshold))
}

// kleeneOr is three-valued OR: true wins over null, null wins over false.
func kleeneOr(a, b *int) *int {
	switch {
	case a != nil && *a == 1, b != nil && *b == 1:
		return Ptr(1)
	case a == nil || b == nil:
		return nil
	default:
		return Ptr(0)
	}
}

type summaryKey struct {
	date    int
	borough int
	hasDate bool
	hasBoro bool
}

func newSummaryKey(date, borough *int) summaryKey {
	k := summaryKey{}
	if date != nil {
		k.date, k.hasDate = *date, true
	}
	if borough != nil {
		k.borough, k.hasBoro = *borough, true
	}
	return k
}

func (k summaryKey) complete() bool { return k.hasDate && k.hasBoro }

// less orders by date then borough, nulls last.
func (k summaryKey) less(o summaryKey) bool {
	if k.hasDate != o.hasDate {
		return k.hasDate
	}
	if k.date != o.date {
		return k.date < o.date
	}
	if k.hasBoro != o.hasBoro {
		return k.hasBoro
	}
	return k.borough < o.borough
}

// buildDailySummary aggregates incidents per (created date, borough) and
// left-joins the weather aggregate for the same pair. Null keys never match.
func buildDailySummary(incidents []IncidentFact, weather []WeatherFact) []DailySummaryFact {
	byIncident := lo.GroupBy(incidents, func(f IncidentFact) summaryKey {
		return newSummaryKey(f.CreatedDateID, f.BoroughID)
	})
	byWeather := lo.GroupBy(weather, func(f WeatherFact) summaryKey {
		return newSummaryKey(f.DateID, f.BoroughID)
	})

	groups := lo.Keys(byIncident)
	sort.Slice(groups, func(i, j int) bool { return groups[i].less(groups[j]) })

	out := make([]DailySummaryFact, 0, len(groups))
	for _, k := range groups {
		facts := byIncident[k]
		row := DailySummaryFact{
			TotalIncidents:         len(facts),
			PercentResolvedSameDay: percentSameDay(facts),
		}
		if k.hasDate {
			row.DateID = Ptr(k.date)
		}
		if k.hasBoro {
			row.BoroughID = Ptr(k.borough)
		}
		if w, ok := byWeather[k]; ok && k.complete() {
			aggregateWeather(&row, w)
		}
		out = append(out, row)
	}
	return out
}

func percentSameDay(facts []IncidentFact) *float64 {
	flags := lo.FilterMap(facts, func(f IncidentFact, _ int) (float64, bool) {
		if f.IsResolvedSameDay == nil {
			return 0, false
		}
		return float64(*f.IsResolvedSameDay), true
	})
	if len(flags) == 0 {
		return nil
	}
	return Ptr(lo.Mean(flags) * 100)
}

func aggregateWeather(row *DailySummaryFact, w []WeatherFact) {
	col := func(get func(WeatherFact) *float64) []float64 {
		return lo.FilterMap(w, func(f WeatherFact, _ int) (float64, bool) {
			v := get(f)
			if v == nil {
				return 0, false
			}
			return *v, true
		})
	}
	flag := func(get func(WeatherFact) *int) *int {
		vals := lo.FilterMap(w, func(f WeatherFact, _ int) (int, bool) {
			v := get(f)
			if v == nil {
				return 0, false
			}
			return *v, true
		})
		if len(vals) == 0 {
			return nil
		}
		return Ptr(lo.Max(vals))
	}

	row.TemperatureMax = meanOf(col(func(f WeatherFact) *float64 { return f.TemperatureMax }))
	row.TemperatureMin = meanOf(col(func(f WeatherFact) *float64 { return f.TemperatureMin }))
	row.TemperatureAvg = meanOf(col(func(f WeatherFact) *float64 {
		if f.TemperatureMax == nil || f.TemperatureMin == nil {
			return nil
		}
		return Ptr((*f.TemperatureMax + *f.TemperatureMin) / 2)
	}))
	row.PrecipitationTotal = sumOf(col(func(f WeatherFact) *float64 { return f.PrecipitationTotal }))
	row.PrecipitationPerHour = perHour(row.PrecipitationTotal)
	row.RainTotal = sumOf(col(func(f WeatherFact) *float64 { return f.RainTotal }))
	row.ShowersTotal = sumOf(col(func(f WeatherFact) *float64 { return f.ShowersTotal }))
	row.SnowfallTotal = sumOf(col(func(f WeatherFact) *float64 { return f.SnowfallTotal }))
	row.WindSpeedMax = maxOf(col(func(f WeatherFact) *float64 { return f.WindSpeedMax }))
	row.WindGustMax = maxOf(col(func(f WeatherFact) *float64 { return f.WindGustMax }))
	row.RainFlag = flag(func(f WeatherFact) *int { return f.RainFlag })
	row.ShowersFlag = flag(func(f WeatherFact) *int { return f.ShowersFlag })
	row.SnowFlag = flag(func(f WeatherFact) *int { return f.SnowFlag })
	row.HighWindFlag = flag(func(f WeatherFact) *int { return f.HighWindFlag })
}

// Aggregates over an empty (all-null) column are null.

func meanOf(v []float64) *float64 {
	if len(v) == 0 {
		return nil
	}
	return Ptr(lo.Mean(v))
}

func sumOf(v []float64) *float64 {
	if len(v) == 0 {
		return nil
	}
	return Ptr(lo.Sum(v))
}

func maxOf(v []float64) *float64 {
	if len(v) == 0 {
		return nil
	}
	return Ptr(lo.Max(v))
}

// perHour spreads a daily precipitation total over 24 hours.
func perHour(total *float64) *float64 {
	if total == nil {
		return nil
	}
	if *total <= 0 {
		return Ptr(0.0)
	}
	return Ptr(*total / 24)
}
