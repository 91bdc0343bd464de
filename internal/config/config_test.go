package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defaultBroker = "localhost:9092"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://data.cityofnewyork.us", cfg.SocrataBaseURL)
	assert.Equal(t, "erm2-nwe9", cfg.SocrataDataset)
	assert.Empty(t, cfg.SocrataAppToken)
	assert.Equal(t, "https://archive-api.open-meteo.com", cfg.OpenMeteoBaseURL)
	assert.Equal(t, 100000, cfg.FetchPageSize)
	assert.Equal(t, 4, cfg.FetchConcurrency)
	assert.Equal(t, 60*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 3, cfg.FetchMaxAttempts)
	assert.Equal(t, 30, cfg.WeatherChunkDays)
	assert.True(t, cfg.WeatherEndDate.IsZero())
	assert.Equal(t, "data", cfg.StateDir)
	assert.Equal(t, StateFile, cfg.StateBackend)
	assert.Equal(t, "mappings", cfg.MappingsDir)
	assert.Equal(t, 80.0, cfg.FuzzyCutoff)
	assert.Equal(t, 1000, cfg.FuzzyCacheSize)
	assert.Equal(t, []string{"created_date", "closed_date", "resolution_action_updated_date"}, cfg.SCDColumns)
	assert.Equal(t, SinkDuckDB, cfg.Sink)
	assert.Equal(t, 10000, cfg.SinkChunkSize)
	assert.Equal(t, []string{defaultBroker}, cfg.KafkaBrokers)
	assert.Equal(t, "@monthly", cfg.Schedule)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Empty(t, cfg.LogFile)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("SOCRATA_APP_TOKEN", "app-token")
	t.Setenv("FETCH_PAGE_SIZE", "500")
	t.Setenv("FETCH_CONCURRENCY", "2")
	t.Setenv("FETCH_TIMEOUT", "5s")
	t.Setenv("FETCH_MAX_ATTEMPTS", "1")
	t.Setenv("WEATHER_END_DATE", "2025-06-30")
	t.Setenv("FUZZY_CUTOFF", "90")
	t.Setenv("FUZZY_CACHE_SIZE", "0")
	t.Setenv("SCD_COLUMNS", "closed_date, status")
	t.Setenv("SINK", SinkPostgres)
	t.Setenv("POSTGRES_DSN", "postgres://etl@localhost/nyc")
	t.Setenv("STATE_BACKEND", StateMinIO)
	t.Setenv("MINIO_ENDPOINT", "localhost:9000")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("LOG_FILE", "logs/etl.log")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "app-token", cfg.SocrataAppToken)
	assert.Equal(t, 500, cfg.FetchPageSize)
	assert.Equal(t, 2, cfg.FetchConcurrency)
	assert.Equal(t, 5*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 1, cfg.FetchMaxAttempts)
	assert.Equal(t, time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC), cfg.WeatherEndDate)
	assert.Equal(t, 90.0, cfg.FuzzyCutoff)
	assert.Zero(t, cfg.FuzzyCacheSize)
	assert.Equal(t, []string{"closed_date", "status"}, cfg.SCDColumns)
	assert.Equal(t, SinkPostgres, cfg.Sink)
	assert.Equal(t, StateMinIO, cfg.StateBackend)
	assert.True(t, cfg.MinIOUseSSL)
	assert.Equal(t, "logs/etl.log", cfg.LogFile)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value, want string
	}{
		{"FETCH_PAGE_SIZE", "0", "FETCH_PAGE_SIZE"},
		{"FETCH_CONCURRENCY", "many", "FETCH_CONCURRENCY"},
		{"FETCH_MAX_ATTEMPTS", "-1", "FETCH_MAX_ATTEMPTS"},
		{"FETCH_TIMEOUT", "soon", "FETCH_TIMEOUT"},
		{"FUZZY_CUTOFF", "101", "FUZZY_CUTOFF"},
		{"FUZZY_CACHE_SIZE", "-5", "FUZZY_CACHE_SIZE"},
		{"WEATHER_END_DATE", "06/30/2025", "WEATHER_END_DATE"},
		{"SINK", "s3", "SINK"},
		{"STATE_BACKEND", "redis", "STATE_BACKEND"},
		{"SCD_COLUMNS", " , ", "SCD_COLUMNS"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_SinkRequirements(t *testing.T) {
	t.Run("bigquery needs a project", func(t *testing.T) {
		t.Setenv("SINK", SinkBigQuery)
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "BIGQUERY_PROJECT")
	})

	t.Run("postgres needs a dsn", func(t *testing.T) {
		t.Setenv("SINK", SinkPostgres)
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "POSTGRES_DSN")
	})

	t.Run("minio needs an endpoint", func(t *testing.T) {
		t.Setenv("STATE_BACKEND", StateMinIO)
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "MINIO_ENDPOINT")
	})
}
