// Package openmeteo fetches daily weather from the Open-Meteo archive API.
package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agxdata/nyc311-weather-etl/internal/domain"
)

// Client implements pipeline.WeatherSource.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an Open-Meteo archive client.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// FetchWeather returns one observation per day in [start, end] for the
// centroid. Missing measures stay null.
func (c *Client) FetchWeather(ctx context.Context, at domain.Centroid, start, end time.Time) ([]domain.WeatherObservation, error) {
	params := url.Values{
		"latitude":   {strconv.FormatFloat(at.Latitude, 'f', -1, 64)},
		"longitude":  {strconv.FormatFloat(at.Longitude, 'f', -1, 64)},
		"start_date": {start.Format(time.DateOnly)},
		"end_date":   {end.Format(time.DateOnly)},
		"daily":      {strings.Join(domain.WeatherVariables, ",")},
		"timezone":   {"America/New_York"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/archive?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open-meteo request for %s: %w", at.Borough, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("open-meteo API error: status %d: %s", resp.StatusCode, body)
	}

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	obs, err := r.observations(at)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("weather chunk fetched",
		"borough", at.Borough,
		"start", start.Format(time.DateOnly),
		"end", end.Format(time.DateOnly),
		"days", len(obs),
	)
	return obs, nil
}

// Open-Meteo API response types.

type response struct {
	Daily daily `json:"daily"`
}

type daily struct {
	Time               []string   `json:"time"`
	TemperatureMax     []*float64 `json:"temperature_2m_max"`
	TemperatureMin     []*float64 `json:"temperature_2m_min"`
	PrecipitationSum   []*float64 `json:"precipitation_sum"`
	PrecipitationHours []*float64 `json:"precipitation_hours"`
	RainSum            []*float64 `json:"rain_sum"`
	ShowersSum         []*float64 `json:"showers_sum"`
	SnowfallSum        []*float64 `json:"snowfall_sum"`
	WindSpeedMax       []*float64 `json:"windspeed_10m_max"`
	WindGustMax        []*float64 `json:"windgusts_10m_max"`
}

func (r response) observations(at domain.Centroid) ([]domain.WeatherObservation, error) {
	d := r.Daily
	out := make([]domain.WeatherObservation, 0, len(d.Time))
	for i, day := range d.Time {
		date, err := time.Parse(time.DateOnly, day)
		if err != nil {
			return nil, fmt.Errorf("decode response: bad date %q: %w", day, err)
		}
		out = append(out, domain.WeatherObservation{
			Date:               date,
			Borough:            at.Borough,
			TemperatureMax:     valueAt(d.TemperatureMax, i),
			TemperatureMin:     valueAt(d.TemperatureMin, i),
			PrecipitationSum:   valueAt(d.PrecipitationSum, i),
			PrecipitationHours: valueAt(d.PrecipitationHours, i),
			RainSum:            valueAt(d.RainSum, i),
			ShowersSum:         valueAt(d.ShowersSum, i),
			SnowfallSum:        valueAt(d.SnowfallSum, i),
			WindSpeedMax:       valueAt(d.WindSpeedMax, i),
			WindGustMax:        valueAt(d.WindGustMax, i),
			Latitude:           at.Latitude,
			Longitude:          at.Longitude,
		})
	}
	return out, nil
}

// valueAt tolerates series shorter than the time axis.
func valueAt(series []*float64, i int) *float64 {
	if i < len(series) {
		return series[i]
	}
	return nil
}
