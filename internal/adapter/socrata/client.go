// Package socrata fetches 311 service requests from a Socrata open-data
// portal using SoQL queries.
package socrata

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

// Client implements pipeline.IncidentSource against the SODA JSON endpoint.
type Client struct {
	baseURL    string
	dataset    string
	appToken   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Socrata client. Request deadlines come from the
// caller's context.
func NewClient(baseURL, dataset, appToken string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		dataset:    dataset,
		appToken:   appToken,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Query builds the SoQL parameters for one page.
func Query(after time.Time, offset, limit int) url.Values {
	return url.Values{
		"$select": {strings.Join(domain.IncidentColumns, ",")},
		"$where":  {fmt.Sprintf("created_date > '%s'", domain.FormatTimestamp(after))},
		"$order":  {"created_date,unique_key"},
		"$limit":  {strconv.Itoa(limit)},
		"$offset": {strconv.Itoa(offset)},
	}
}

// FetchIncidents returns one page of incidents created after the given time.
func (c *Client) FetchIncidents(ctx context.Context, after time.Time, offset, limit int) ([]domain.RawIncident, error) {
	u := fmt.Sprintf("%s/resource/%s.json?%s", c.baseURL, url.PathEscape(c.dataset), Query(after, offset, limit).Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.appToken != "" {
		req.Header.Set("X-App-Token", c.appToken)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("socrata request at offset %d: %w", offset, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("socrata API error: status %d: %s", resp.StatusCode, body)
	}

	var rows []domain.RawIncident
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	c.logger.Debug("socrata page fetched",
		"offset", offset,
		"rows", len(rows),
		"duration", time.Since(start),
	)
	return rows, nil
}
