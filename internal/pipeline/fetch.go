package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agxdata/nyc311-weather-etl/internal/domain"
	"github.com/agxdata/nyc311-weather-etl/internal/observability"
	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/sourcegraph/conc/pool"
)

// Source labels used in logs and metrics.
const (
	SourceIncidents = "incidents"
	SourceWeather   = "weather"
)

// IncidentSource returns one page of incidents created strictly after the
// lower bound, ordered by creation time.
type IncidentSource interface {
	FetchIncidents(ctx context.Context, after time.Time, offset, limit int) ([]domain.RawIncident, error)
}

// WeatherSource returns daily observations for one borough over [start, end].
type WeatherSource interface {
	FetchWeather(ctx context.Context, at domain.Centroid, start, end time.Time) ([]domain.WeatherObservation, error)
}

// FetchOptions controls paging, concurrency and retries.
type FetchOptions struct {
	PageSize    int
	Concurrency int
	// Timeout bounds each request attempt.
	Timeout     time.Duration
	MaxAttempts int
	// ChunkDays is the width of one weather request window.
	ChunkDays      int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultFetchOptions returns the production defaults.
func DefaultFetchOptions() FetchOptions {
	return FetchOptions{
		PageSize:       100000,
		Concurrency:    4,
		Timeout:        60 * time.Second,
		MaxAttempts:    3,
		ChunkDays:      30,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// PageFailure is a request that still failed after every attempt.
type PageFailure struct {
	Request  string
	Attempts int
	Err      error
}

func (f PageFailure) String() string {
	return fmt.Sprintf("%s after %d attempts: %v", f.Request, f.Attempts, f.Err)
}

// FetchReport summarizes one extraction.
type FetchReport struct {
	Rounds int
	Pages  int
	Rows   int
	// Failed pages were treated as empty.
	Failed []PageFailure
}

// Fetcher runs paged extractions in rounds of concurrent requests.
type Fetcher struct {
	opts    FetchOptions
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewFetcher creates a Fetcher. Zero option fields take their defaults.
func NewFetcher(opts FetchOptions, logger *slog.Logger, metrics *observability.Metrics) *Fetcher {
	def := DefaultFetchOptions()
	if opts.PageSize <= 0 {
		opts.PageSize = def.PageSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.ChunkDays <= 0 {
		opts.ChunkDays = def.ChunkDays
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = def.InitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = def.MaxBackoff
	}
	return &Fetcher{opts: opts, logger: logger, metrics: metrics}
}

// request is one unit of work in a round.
type request[T any] struct {
	name string
	call func(ctx context.Context) ([]T, error)
}

type outcome[T any] struct {
	index    int
	rows     []T
	attempts int
	err      error
}

// FetchIncidents pages through every incident created after the lower bound.
// Each round issues Concurrency requests at consecutive offsets and waits for
// all of them; fetching stops after a round in which every page came back
// empty. A page that fails all attempts counts as empty.
func (f *Fetcher) FetchIncidents(ctx context.Context, src IncidentSource, after time.Time) ([]domain.RawIncident, FetchReport, error) {
	var (
		all    []domain.RawIncident
		report FetchReport
		offset int
	)
	for {
		reqs := make([]request[domain.RawIncident], f.opts.Concurrency)
		for i := range reqs {
			off := offset + i*f.opts.PageSize
			reqs[i] = request[domain.RawIncident]{
				name: fmt.Sprintf("offset %d", off),
				call: func(ctx context.Context) ([]domain.RawIncident, error) {
					return src.FetchIncidents(ctx, after, off, f.opts.PageSize)
				},
			}
		}

		pages, err := runRound(ctx, f, SourceIncidents, reqs, &report)
		if err != nil {
			return nil, report, err
		}

		empty := true
		for _, rows := range pages {
			if len(rows) > 0 {
				empty = false
			}
			all = append(all, rows...)
		}
		if empty {
			break
		}
		offset += f.opts.Concurrency * f.opts.PageSize
	}

	report.Rows = len(all)
	f.logger.Info("incident fetch complete",
		"after", domain.FormatTimestamp(after),
		"rows", report.Rows,
		"rounds", report.Rounds,
		"failed_pages", len(report.Failed),
	)
	return all, report, nil
}

// FetchWeather requests every borough centroid for consecutive windows of
// ChunkDays from start through end inclusive. One window is one round.
func (f *Fetcher) FetchWeather(ctx context.Context, src WeatherSource, start, end time.Time) ([]domain.WeatherObservation, FetchReport, error) {
	var (
		all    []domain.WeatherObservation
		report FetchReport
	)
	for chunkStart := start; !chunkStart.After(end); chunkStart = chunkStart.AddDate(0, 0, f.opts.ChunkDays) {
		chunkEnd := chunkStart.AddDate(0, 0, f.opts.ChunkDays-1)
		if chunkEnd.After(end) {
			chunkEnd = end
		}

		reqs := make([]request[domain.WeatherObservation], len(domain.BoroughCentroids))
		for i, c := range domain.BoroughCentroids {
			from, to := chunkStart, chunkEnd
			reqs[i] = request[domain.WeatherObservation]{
				name: fmt.Sprintf("%s %s..%s", c.Borough, from.Format(time.DateOnly), to.Format(time.DateOnly)),
				call: func(ctx context.Context) ([]domain.WeatherObservation, error) {
					return src.FetchWeather(ctx, c, from, to)
				},
			}
		}

		pages, err := runRound(ctx, f, SourceWeather, reqs, &report)
		if err != nil {
			return nil, report, err
		}
		for _, rows := range pages {
			all = append(all, rows...)
		}
	}

	report.Rows = len(all)
	f.logger.Info("weather fetch complete",
		"start", start.Format(time.DateOnly),
		"end", end.Format(time.DateOnly),
		"rows", report.Rows,
		"rounds", report.Rounds,
		"failed_pages", len(report.Failed),
	)
	return all, report, nil
}

// runRound executes the requests on a bounded pool and returns their rows in
// request order. It only fails when ctx is cancelled.
func runRound[T any](ctx context.Context, f *Fetcher, source string, reqs []request[T], report *FetchReport) ([][]T, error) {
	p := pool.NewWithResults[outcome[T]]().WithMaxGoroutines(f.opts.Concurrency)
	for i, r := range reqs {
		p.Go(func() outcome[T] {
			rows, attempts, err := fetchWithRetry(ctx, f, source, r)
			return outcome[T]{index: i, rows: rows, attempts: attempts, err: err}
		})
	}
	results := p.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report.Rounds++
	f.metrics.FetchRounds.WithLabelValues(source).Inc()

	pages := make([][]T, len(reqs))
	for _, res := range results {
		report.Pages++
		if res.err != nil {
			failure := PageFailure{Request: reqs[res.index].name, Attempts: res.attempts, Err: res.err}
			report.Failed = append(report.Failed, failure)
			f.metrics.PagesFailed.WithLabelValues(source).Inc()
			f.logger.Error("page request failed permanently, treating as empty",
				"source", source,
				"request", failure.Request,
				"attempts", failure.Attempts,
				"error", failure.Err,
			)
			continue
		}
		f.metrics.PagesFetched.WithLabelValues(source).Inc()
		f.metrics.RowsFetched.WithLabelValues(source).Add(float64(len(res.rows)))
		pages[res.index] = res.rows
	}
	return pages, nil
}

// fetchWithRetry runs one request with a per-attempt timeout and exponential
// backoff between attempts.
func fetchWithRetry[T any](ctx context.Context, f *Fetcher, source string, r request[T]) ([]T, int, error) {
	backoff := f.opts.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= f.opts.MaxAttempts; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
		rows, err := r.call(reqCtx)
		cancel()
		if err == nil {
			return rows, attempt, nil
		}
		lastErr = err
		if ctx.Err() != nil || attempt == f.opts.MaxAttempts {
			return nil, attempt, lastErr
		}

		f.metrics.FetchRetries.WithLabelValues(source).Inc()
		f.logger.Warn("page request failed, retrying",
			"source", source,
			"request", r.name,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		if !retry.SleepWithContext(ctx, backoff) {
			return nil, attempt, ctx.Err()
		}
		backoff = retry.NextBackoff(backoff, f.opts.MaxBackoff)
	}
	return nil, f.opts.MaxAttempts, lastErr
}
