package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agxdata/nyc311-weather-etl/internal/domain"
	"github.com/parquet-go/parquet-go"
)

// watermarkRecord is the persisted watermark document.
type watermarkRecord struct {
	LastDate string `json:"last_date"`
}

// WatermarkStore keeps one low-water mark per source.
type WatermarkStore struct {
	blobs Blobs
}

// NewWatermarkStore wraps a blob backend.
func NewWatermarkStore(blobs Blobs) *WatermarkStore {
	return &WatermarkStore{blobs: blobs}
}

func watermarkName(source string) string {
	return source + "_last_date.json"
}

// Load returns the stored watermark, or false when none has been saved.
func (s *WatermarkStore) Load(ctx context.Context, source string) (time.Time, bool, error) {
	data, err := s.blobs.Read(ctx, watermarkName(source))
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}

	var rec watermarkRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return time.Time{}, false, fmt.Errorf("decode %s watermark: %w", source, err)
	}
	if rec.LastDate == "" {
		return time.Time{}, false, nil
	}
	t, ok := domain.ParseTimestamp(rec.LastDate)
	if !ok {
		return time.Time{}, false, fmt.Errorf("decode %s watermark: bad timestamp %q", source, rec.LastDate)
	}
	return t, true, nil
}

// Save replaces the watermark for a source.
func (s *WatermarkStore) Save(ctx context.Context, source string, t time.Time) error {
	data, err := json.Marshal(watermarkRecord{LastDate: domain.FormatTimestamp(t)})
	if err != nil {
		return fmt.Errorf("encode %s watermark: %w", source, err)
	}
	return s.blobs.Write(ctx, watermarkName(source), data)
}

const registryName = "key_registry.json"

// RegistryStore persists the surrogate-key registry.
type RegistryStore struct {
	blobs Blobs
}

// NewRegistryStore wraps a blob backend.
func NewRegistryStore(blobs Blobs) *RegistryStore {
	return &RegistryStore{blobs: blobs}
}

// Load restores the registry. A missing file yields an empty registry.
func (s *RegistryStore) Load(ctx context.Context) (*domain.KeyRegistry, error) {
	data, err := s.blobs.Read(ctx, registryName)
	if errors.Is(err, ErrNotFound) {
		return domain.NewKeyRegistry(nil)
	}
	if err != nil {
		return nil, err
	}

	var snapshot map[string]map[string]int
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("decode key registry: %w", err)
	}
	return domain.NewKeyRegistry(snapshot)
}

// Save writes a snapshot of the registry.
func (s *RegistryStore) Save(ctx context.Context, r *domain.KeyRegistry) error {
	data, err := json.Marshal(r.Snapshot())
	if err != nil {
		return fmt.Errorf("encode key registry: %w", err)
	}
	return s.blobs.Write(ctx, registryName, data)
}

const (
	incidentsName = "incidents.parquet"
	weatherName   = "weather.parquet"
)

// DatasetStore keeps the accumulated raw datasets as parquet snapshots.
type DatasetStore struct {
	blobs Blobs
}

// NewDatasetStore wraps a blob backend.
func NewDatasetStore(blobs Blobs) *DatasetStore {
	return &DatasetStore{blobs: blobs}
}

// LoadIncidents returns the merged incident dataset, empty on first run.
func (s *DatasetStore) LoadIncidents(ctx context.Context) ([]domain.RawIncident, error) {
	return loadParquet[domain.RawIncident](ctx, s.blobs, incidentsName)
}

// SaveIncidents replaces the merged incident dataset.
func (s *DatasetStore) SaveIncidents(ctx context.Context, rows []domain.RawIncident) error {
	return saveParquet(ctx, s.blobs, incidentsName, rows)
}

// LoadWeather returns the weather history, empty on first run.
func (s *DatasetStore) LoadWeather(ctx context.Context) ([]domain.WeatherObservation, error) {
	return loadParquet[domain.WeatherObservation](ctx, s.blobs, weatherName)
}

// SaveWeather replaces the weather history.
func (s *DatasetStore) SaveWeather(ctx context.Context, rows []domain.WeatherObservation) error {
	return saveParquet(ctx, s.blobs, weatherName, rows)
}

func loadParquet[T any](ctx context.Context, blobs Blobs, name string) ([]T, error) {
	data, err := blobs.Read(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rows, err := parquet.Read[T](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return rows, nil
}

func saveParquet[T any](ctx context.Context, blobs Blobs, name string, rows []T) error {
	var buf bytes.Buffer
	if err := parquet.Write(&buf, rows); err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return blobs.Write(ctx, name, buf.Bytes())
}
