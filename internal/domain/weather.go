package domain

import "time"

// Borough names as they appear after normalization.
const (
	Manhattan    = "Manhattan"
	Brooklyn     = "Brooklyn"
	Queens       = "Queens"
	Bronx        = "Bronx"
	StatenIsland = "Staten Island"
)

// Centroid is the coordinate used to query weather for a borough.
type Centroid struct {
	Borough   string
	Latitude  float64
	Longitude float64
}

// BoroughCentroids are queried in this order on every weather round.
var BoroughCentroids = []Centroid{
	{Borough: Manhattan, Latitude: 40.7831, Longitude: -73.9712},
	{Borough: Brooklyn, Latitude: 40.6782, Longitude: -73.9442},
	{Borough: Queens, Latitude: 40.7282, Longitude: -73.7949},
	{Borough: Bronx, Latitude: 40.8448, Longitude: -73.8648},
	{Borough: StatenIsland, Latitude: 40.5795, Longitude: -74.1502},
}

// WeatherVariables are the Open-Meteo daily variables requested per borough.
var WeatherVariables = []string{
	"temperature_2m_max",
	"temperature_2m_min",
	"precipitation_sum",
	"precipitation_hours",
	"rain_sum",
	"showers_sum",
	"snowfall_sum",
	"windspeed_10m_max",
	"windgusts_10m_max",
}

// WeatherObservation is one borough's daily weather. Observations are
// immutable once fetched.
type WeatherObservation struct {
	Date               time.Time `parquet:"date"`
	Borough            string    `parquet:"borough"`
	TemperatureMax     *float64  `parquet:"temperature_2m_max,optional"`
	TemperatureMin     *float64  `parquet:"temperature_2m_min,optional"`
	PrecipitationSum   *float64  `parquet:"precipitation_sum,optional"`
	PrecipitationHours *float64  `parquet:"precipitation_hours,optional"`
	RainSum            *float64  `parquet:"rain_sum,optional"`
	ShowersSum         *float64  `parquet:"showers_sum,optional"`
	SnowfallSum        *float64  `parquet:"snowfall_sum,optional"`
	WindSpeedMax       *float64  `parquet:"windspeed_10m_max,optional"`
	WindGustMax        *float64  `parquet:"windgusts_10m_max,optional"`
	Latitude           float64   `parquet:"latitude"`
	Longitude          float64   `parquet:"longitude"`
}

// AppendWeather adds fetched observations to the history. History is
// append-only: an observation for a (date, borough) already present is
// ignored, so the first fetch wins.
func AppendWeather(history, fetched []WeatherObservation) ([]WeatherObservation, int) {
	type key struct {
		date    string
		borough string
	}
	seen := make(map[key]struct{}, len(history)+len(fetched))
	out := make([]WeatherObservation, 0, len(history)+len(fetched))
	for _, o := range history {
		seen[key{o.Date.Format(time.DateOnly), o.Borough}] = struct{}{}
		out = append(out, o)
	}
	added := 0
	for _, o := range fetched {
		k := key{o.Date.Format(time.DateOnly), o.Borough}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, o)
		added++
	}
	return out, added
}

// MaxWeatherDate returns the latest observation date, or false when empty.
func MaxWeatherDate(obs []WeatherObservation) (time.Time, bool) {
	var latest time.Time
	found := false
	for _, o := range obs {
		if !found || o.Date.After(latest) {
			latest = o.Date
			found = true
		}
	}
	return latest, found
}
