package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agxdata/nyc311-weather-etl/internal/domain"
	"github.com/agxdata/nyc311-weather-etl/internal/observability"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Default watermarks used before a source has ever been loaded.
var (
	DefaultIncidentWatermark = time.Date(2025, 9, 25, 1, 44, 42, 0, time.UTC)
	DefaultWeatherWatermark  = time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
)

// WatermarkStore persists one low-water mark per source.
type WatermarkStore interface {
	Load(ctx context.Context, source string) (time.Time, bool, error)
	Save(ctx context.Context, source string, t time.Time) error
}

// RegistryStore persists the surrogate-key registry between runs.
type RegistryStore interface {
	Load(ctx context.Context) (*domain.KeyRegistry, error)
	Save(ctx context.Context, r *domain.KeyRegistry) error
}

// DatasetStore keeps the accumulated incident and weather datasets.
type DatasetStore interface {
	LoadIncidents(ctx context.Context) ([]domain.RawIncident, error)
	SaveIncidents(ctx context.Context, rows []domain.RawIncident) error
	LoadWeather(ctx context.Context) ([]domain.WeatherObservation, error)
	SaveWeather(ctx context.Context, rows []domain.WeatherObservation) error
}

// Sink writes the star schema to a warehouse. Dimensions are deduplicated
// against keys already present; facts are appended.
type Sink interface {
	Load(ctx context.Context, tables []domain.Table) (domain.LoadStats, error)
}

// Stages bundles the collaborators of a run.
type Stages struct {
	Incidents  IncidentSource
	Weather    WeatherSource
	Watermarks WatermarkStore
	Registry   RegistryStore
	Datasets   DatasetStore
	Merger     *domain.Merger
	Normalizer *domain.Normalizer
	Sink       Sink
}

// Options tunes a run.
type Options struct {
	// WeatherEndDate fixes the last weather day; zero means yesterday.
	WeatherEndDate time.Time
}

// Run outcomes reported by RunStatus.
const (
	OutcomeRunning = "running"
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// RunStatus describes the latest run.
type RunStatus struct {
	RunID      string     `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Outcome    string     `json:"outcome"`
	Error      string     `json:"error,omitempty"`
}

// Pipeline runs the extract, merge, normalize, model and load stages.
type Pipeline struct {
	stages  Stages
	fetcher *Fetcher
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics
	ready   atomic.Bool

	mu      sync.Mutex
	lastRun *RunStatus
}

// New creates a Pipeline.
func New(stages Stages, fetcher *Fetcher, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		stages:  stages,
		fetcher: fetcher,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}
}

// CheckReadiness returns nil once a run has completed successfully.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a run yet")
	}
	return nil
}

// LastRun returns the status of the latest run, or false before the first.
func (p *Pipeline) LastRun() (RunStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastRun == nil {
		return RunStatus{}, false
	}
	return *p.lastRun, true
}

func (p *Pipeline) setStatus(st RunStatus) {
	p.mu.Lock()
	p.lastRun = &st
	p.mu.Unlock()
}

// incidentBatch is the incident extraction result.
type incidentBatch struct {
	rows      []domain.RawIncident
	merge     domain.MergeResult
	watermark time.Time
	advanced  bool
}

// weatherBatch is the weather extraction result.
type weatherBatch struct {
	rows      []domain.WeatherObservation
	added     int
	watermark time.Time
	advanced  bool
}

// Run executes one complete pass. State is persisted only after the sink
// load succeeds, so a failed run is repeated in full by the next one.
func (p *Pipeline) Run(ctx context.Context) error {
	runID := uuid.NewString()
	logger := p.logger.With("run_id", runID)
	start := time.Now()
	status := RunStatus{RunID: runID, StartedAt: domain.Now(), Outcome: OutcomeRunning}
	p.setStatus(status)

	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	logger.Info("pipeline run started")
	err := p.run(ctx, logger)
	p.metrics.RunDuration.Observe(time.Since(start).Seconds())
	finished := domain.Now()
	status.FinishedAt = &finished
	if err != nil {
		status.Outcome, status.Error = OutcomeError, err.Error()
		p.setStatus(status)
		p.metrics.RunsTotal.WithLabelValues(OutcomeError).Inc()
		logger.Error("pipeline run failed", "error", err, "duration", time.Since(start))
		return err
	}
	status.Outcome = OutcomeSuccess
	p.setStatus(status)
	p.metrics.RunsTotal.WithLabelValues(OutcomeSuccess).Inc()
	p.ready.Store(true)
	logger.Info("pipeline run finished", "duration", time.Since(start))
	return nil
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger) error {
	var (
		inc incidentBatch
		wx  weatherBatch
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		inc, err = p.extractIncidents(gctx, logger.With("stage", "extract", "source", SourceIncidents))
		return err
	})
	g.Go(func() error {
		var err error
		wx, err = p.extractWeather(gctx, logger.With("stage", "extract", "source", SourceWeather))
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if inc.merge.Appended+inc.merge.Updated == 0 && wx.added == 0 {
		logger.Info("no new source data, skipping model and load")
		return nil
	}

	tables, registry, err := p.model(ctx, logger.With("stage", "model"), inc.rows, wx.rows)
	if err != nil {
		return err
	}

	if err := p.load(ctx, logger.With("stage", "load"), tables); err != nil {
		return err
	}

	return p.persist(ctx, logger.With("stage", "persist"), inc, wx, registry)
}

func (p *Pipeline) extractIncidents(ctx context.Context, logger *slog.Logger) (incidentBatch, error) {
	wm, ok, err := p.stages.Watermarks.Load(ctx, SourceIncidents)
	if err != nil {
		return incidentBatch{}, fmt.Errorf("load incident watermark: %w", err)
	}
	if !ok {
		wm = DefaultIncidentWatermark
	}
	logger.Info("extract started", "watermark", domain.FormatTimestamp(wm))

	fetched, report, err := p.fetcher.FetchIncidents(ctx, p.stages.Incidents, wm)
	if err != nil {
		return incidentBatch{}, fmt.Errorf("fetch incidents: %w", err)
	}
	for _, f := range report.Failed {
		logger.Error("incident page lost", "failure", f.String())
	}

	guarded, dropped := domain.After(fetched, wm)
	if dropped > 0 {
		p.metrics.RowsDropped.WithLabelValues("watermark").Add(float64(dropped))
		logger.Warn("rows at or before the watermark dropped", "rows", dropped)
	}

	existing, err := p.stages.Datasets.LoadIncidents(ctx)
	if err != nil {
		return incidentBatch{}, fmt.Errorf("load incident dataset: %w", err)
	}
	merged := p.stages.Merger.Merge(existing, guarded)
	p.metrics.RowsAppended.Add(float64(merged.Appended))
	p.metrics.RowsUpdated.Add(float64(merged.Updated))

	issues := domain.ValidateIncidents(merged.Rows)
	if len(issues) > 0 {
		p.metrics.ValidationWarnings.Add(float64(len(issues)))
		for _, issue := range issues[:min(len(issues), 20)] {
			logger.Warn("schema mismatch after merge", "issue", issue.String())
		}
	}

	batch := incidentBatch{rows: merged.Rows, merge: merged, watermark: wm}
	if latest, ok := domain.MaxCreated(guarded); ok {
		batch.watermark = latest
		batch.advanced = true
	}
	logger.Info("extract finished",
		"fetched", len(fetched),
		"appended", merged.Appended,
		"updated", merged.Updated,
		"total", len(merged.Rows),
		"validation_warnings", len(issues),
		"next_watermark", domain.FormatTimestamp(batch.watermark),
	)
	return batch, nil
}

func (p *Pipeline) extractWeather(ctx context.Context, logger *slog.Logger) (weatherBatch, error) {
	wm, ok, err := p.stages.Watermarks.Load(ctx, SourceWeather)
	if err != nil {
		return weatherBatch{}, fmt.Errorf("load weather watermark: %w", err)
	}
	if !ok {
		wm = DefaultWeatherWatermark
	}

	history, err := p.stages.Datasets.LoadWeather(ctx)
	if err != nil {
		return weatherBatch{}, fmt.Errorf("load weather dataset: %w", err)
	}

	start := domain.Day(wm).AddDate(0, 0, 1)
	end := p.weatherEnd()
	batch := weatherBatch{rows: history, watermark: wm}
	if start.After(end) {
		logger.Info("weather is up to date", "watermark", wm.Format(time.DateOnly))
		return batch, nil
	}
	logger.Info("extract started", "start", start.Format(time.DateOnly), "end", end.Format(time.DateOnly))

	fetched, report, err := p.fetcher.FetchWeather(ctx, p.stages.Weather, start, end)
	if err != nil {
		return weatherBatch{}, fmt.Errorf("fetch weather: %w", err)
	}
	for _, f := range report.Failed {
		logger.Error("weather window lost", "failure", f.String())
	}

	batch.rows, batch.added = domain.AppendWeather(history, fetched)
	if latest, ok := domain.MaxWeatherDate(fetched); ok && latest.After(wm) {
		batch.watermark = latest
		batch.advanced = true
	}
	logger.Info("extract finished",
		"fetched", len(fetched),
		"added", batch.added,
		"total", len(batch.rows),
		"next_watermark", batch.watermark.Format(time.DateOnly),
	)
	return batch, nil
}

func (p *Pipeline) weatherEnd() time.Time {
	if !p.opts.WeatherEndDate.IsZero() {
		return domain.Day(p.opts.WeatherEndDate)
	}
	return domain.Day(domain.Now()).AddDate(0, 0, -1)
}

func (p *Pipeline) model(ctx context.Context, logger *slog.Logger, raw []domain.RawIncident, weather []domain.WeatherObservation) ([]domain.Table, *domain.KeyRegistry, error) {
	incidents, stats := p.stages.Normalizer.Normalize(raw)
	p.metrics.RowsDropped.WithLabelValues("filter").Add(float64(stats.Filtered))
	p.metrics.RowsDropped.WithLabelValues("duplicate").Add(float64(stats.Duplicates))
	for col, n := range stats.FuzzyMatched {
		p.metrics.FuzzyMatches.WithLabelValues(col).Add(float64(n))
	}

	registry, err := p.stages.Registry.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load key registry: %w", err)
	}

	schema, err := domain.BuildModel(incidents, weather, registry)
	if err != nil {
		return nil, nil, fmt.Errorf("build model: %w", err)
	}
	if violations := domain.Verify(schema); len(violations) > 0 {
		for _, v := range violations {
			logger.Error("model violation", "violation", v.String())
		}
		return nil, nil, fmt.Errorf("build model: %d integrity violations", len(violations))
	}

	logger.Info("model built",
		"incidents", stats.Output,
		"filtered", stats.Filtered,
		"duplicates", stats.Duplicates,
		"fact_incidents", len(schema.Incidents),
		"fact_weather", len(schema.Weather),
		"fact_daily_summary", len(schema.DailySummary),
	)
	return schema.Tables(), registry, nil
}

func (p *Pipeline) load(ctx context.Context, logger *slog.Logger, tables []domain.Table) error {
	stats, err := p.stages.Sink.Load(ctx, tables)
	if err != nil {
		return fmt.Errorf("load warehouse: %w", err)
	}
	for table, n := range stats {
		p.metrics.RowsLoaded.WithLabelValues(table).Add(float64(n))
		logger.Info("table loaded", "table", table, "rows", n)
	}
	return nil
}

func (p *Pipeline) persist(ctx context.Context, logger *slog.Logger, inc incidentBatch, wx weatherBatch, registry *domain.KeyRegistry) error {
	if err := p.stages.Datasets.SaveIncidents(ctx, inc.rows); err != nil {
		return fmt.Errorf("save incident dataset: %w", err)
	}
	if err := p.stages.Datasets.SaveWeather(ctx, wx.rows); err != nil {
		return fmt.Errorf("save weather dataset: %w", err)
	}
	if err := p.stages.Registry.Save(ctx, registry); err != nil {
		return fmt.Errorf("save key registry: %w", err)
	}
	if inc.advanced {
		if err := p.stages.Watermarks.Save(ctx, SourceIncidents, inc.watermark); err != nil {
			return fmt.Errorf("save incident watermark: %w", err)
		}
	}
	if wx.advanced {
		if err := p.stages.Watermarks.Save(ctx, SourceWeather, wx.watermark); err != nil {
			return fmt.Errorf("save weather watermark: %w", err)
		}
	}
	logger.Info("state persisted",
		"incident_watermark", domain.FormatTimestamp(inc.watermark),
		"weather_watermark", wx.watermark.Format(time.DateOnly),
	)
	return nil
}

// Verify rebuilds the model from the persisted datasets without loading or
// saving anything and returns its integrity violations.
func (p *Pipeline) Verify(ctx context.Context) (*domain.StarSchema, []domain.Violation, error) {
	raw, err := p.stages.Datasets.LoadIncidents(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load incident dataset: %w", err)
	}
	weather, err := p.stages.Datasets.LoadWeather(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load weather dataset: %w", err)
	}
	registry, err := p.stages.Registry.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load key registry: %w", err)
	}

	incidents, _ := p.stages.Normalizer.Normalize(raw)
	schema, err := domain.BuildModel(incidents, weather, registry)
	if err != nil {
		return nil, nil, fmt.Errorf("build model: %w", err)
	}
	return schema, domain.Verify(schema), nil
}
