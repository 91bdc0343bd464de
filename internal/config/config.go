package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Supported sinks.
const (
	SinkDuckDB   = "duckdb"
	SinkBigQuery = "bigquery"
	SinkPostgres = "postgres"
	SinkKafka    = "kafka"
)

// Supported state backends.
const (
	StateFile  = "file"
	StateMinIO = "minio"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	SocrataBaseURL   string
	SocrataDataset   string
	SocrataAppToken  string
	OpenMeteoBaseURL string

	FetchPageSize    int
	FetchConcurrency int
	FetchTimeout     time.Duration
	FetchMaxAttempts int
	WeatherChunkDays int
	// WeatherEndDate is the last day fetched; zero means yesterday.
	WeatherEndDate time.Time

	StateDir       string
	StateBackend   string
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool

	MappingsDir    string
	FuzzyCutoff    float64
	FuzzyCacheSize int
	SCDColumns     []string

	Sink                    string
	SinkChunkSize           int
	DuckDBPath              string
	BigQueryProject         string
	BigQueryDataset         string
	BigQueryCredentialsFile string
	PostgresDSN             string
	KafkaBrokers            []string
	KafkaTopicPrefix        string

	Schedule        string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	LogFile         string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		SocrataBaseURL:   sharedcfg.EnvOrDefault("SOCRATA_BASE_URL", "https://data.cityofnewyork.us"),
		SocrataDataset:   sharedcfg.EnvOrDefault("SOCRATA_DATASET", "erm2-nwe9"),
		SocrataAppToken:  os.Getenv("SOCRATA_APP_TOKEN"),
		OpenMeteoBaseURL: sharedcfg.EnvOrDefault("OPEN_METEO_BASE_URL", "https://archive-api.open-meteo.com"),

		StateDir:       sharedcfg.EnvOrDefault("STATE_DIR", "data"),
		StateBackend:   sharedcfg.EnvOrDefault("STATE_BACKEND", StateFile),
		MinIOEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinIOAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinIOSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinIOBucket:    sharedcfg.EnvOrDefault("MINIO_BUCKET", "nyc-etl-state"),
		MinIOUseSSL:    os.Getenv("MINIO_USE_SSL") == "true",

		MappingsDir: sharedcfg.EnvOrDefault("MAPPINGS_DIR", "mappings"),
		SCDColumns:  splitList(sharedcfg.EnvOrDefault("SCD_COLUMNS", "created_date,closed_date,resolution_action_updated_date")),

		Sink:                    sharedcfg.EnvOrDefault("SINK", SinkDuckDB),
		DuckDBPath:              sharedcfg.EnvOrDefault("DUCKDB_PATH", "data/warehouse.duckdb"),
		BigQueryProject:         os.Getenv("BIGQUERY_PROJECT"),
		BigQueryDataset:         sharedcfg.EnvOrDefault("BIGQUERY_DATASET", "nyc_311"),
		BigQueryCredentialsFile: os.Getenv("BIGQUERY_CREDENTIALS_FILE"),
		PostgresDSN:             os.Getenv("POSTGRES_DSN"),
		KafkaBrokers:            sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopicPrefix:        sharedcfg.EnvOrDefault("KAFKA_TOPIC_PREFIX", "nyc311."),

		Schedule:        sharedcfg.EnvOrDefault("SCHEDULE", "@monthly"),
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		LogFile:         os.Getenv("LOG_FILE"),
		ShutdownTimeout: shutdownTimeout,
	}

	for _, p := range []struct {
		key string
		def int
		dst *int
	}{
		{"FETCH_PAGE_SIZE", 100000, &cfg.FetchPageSize},
		{"FETCH_CONCURRENCY", 4, &cfg.FetchConcurrency},
		{"FETCH_MAX_ATTEMPTS", 3, &cfg.FetchMaxAttempts},
		{"WEATHER_CHUNK_DAYS", 30, &cfg.WeatherChunkDays},
		{"SINK_CHUNK_SIZE", 10000, &cfg.SinkChunkSize},
	} {
		if *p.dst, err = positiveInt(p.key, p.def); err != nil {
			return nil, err
		}
	}
	// Zero disables the fuzzy cache.
	if cfg.FuzzyCacheSize, err = strconv.Atoi(sharedcfg.EnvOrDefault("FUZZY_CACHE_SIZE", "1000")); err != nil || cfg.FuzzyCacheSize < 0 {
		return nil, errors.New("invalid FUZZY_CACHE_SIZE")
	}

	if cfg.FetchTimeout, err = time.ParseDuration(sharedcfg.EnvOrDefault("FETCH_TIMEOUT", "60s")); err != nil || cfg.FetchTimeout <= 0 {
		return nil, errors.New("invalid FETCH_TIMEOUT")
	}

	if cfg.FuzzyCutoff, err = strconv.ParseFloat(sharedcfg.EnvOrDefault("FUZZY_CUTOFF", "80"), 64); err != nil || cfg.FuzzyCutoff < 0 || cfg.FuzzyCutoff > 100 {
		return nil, errors.New("invalid FUZZY_CUTOFF: must be between 0 and 100")
	}

	if s := os.Getenv("WEATHER_END_DATE"); s != "" {
		if cfg.WeatherEndDate, err = time.Parse(time.DateOnly, s); err != nil {
			return nil, fmt.Errorf("invalid WEATHER_END_DATE: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Sink {
	case SinkDuckDB:
		if c.DuckDBPath == "" {
			return errors.New("DUCKDB_PATH is required")
		}
	case SinkBigQuery:
		if c.BigQueryProject == "" {
			return errors.New("BIGQUERY_PROJECT is required for the bigquery sink")
		}
	case SinkPostgres:
		if c.PostgresDSN == "" {
			return errors.New("POSTGRES_DSN is required for the postgres sink")
		}
	case SinkKafka:
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required")
		}
	default:
		return fmt.Errorf("unknown SINK %q", c.Sink)
	}

	switch c.StateBackend {
	case StateFile:
	case StateMinIO:
		if c.MinIOEndpoint == "" {
			return errors.New("MINIO_ENDPOINT is required for the minio state backend")
		}
	default:
		return fmt.Errorf("unknown STATE_BACKEND %q", c.StateBackend)
	}

	if len(c.SCDColumns) == 0 {
		return errors.New("SCD_COLUMNS must name at least one column")
	}
	return nil
}

func positiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
