package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/afero"

	bqadapter "github.com/agxdata/nyc311-weather-etl/internal/adapter/bigquery"
	"github.com/agxdata/nyc311-weather-etl/internal/adapter/duckdb"
	kafkaadapter "github.com/agxdata/nyc311-weather-etl/internal/adapter/kafka"
	"github.com/agxdata/nyc311-weather-etl/internal/adapter/mappings"
	"github.com/agxdata/nyc311-weather-etl/internal/adapter/openmeteo"
	"github.com/agxdata/nyc311-weather-etl/internal/adapter/postgres"
	"github.com/agxdata/nyc311-weather-etl/internal/adapter/socrata"
	"github.com/agxdata/nyc311-weather-etl/internal/adapter/state"
	"github.com/agxdata/nyc311-weather-etl/internal/config"
	"github.com/agxdata/nyc311-weather-etl/internal/domain"
	"github.com/agxdata/nyc311-weather-etl/internal/observability"
	"github.com/agxdata/nyc311-weather-etl/internal/pipeline"
)

// service is a fully wired pipeline plus the resources it holds open.
type service struct {
	pipeline *pipeline.Pipeline
	closers  []func() error
}

func (s *service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// buildService wires the pipeline. The warehouse connection is only opened
// when withSink is set.
func buildService(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics, withSink bool) (*service, error) {
	blobs, err := openState(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	set, err := mappings.Load(afero.NewOsFs(), cfg.MappingsDir)
	if err != nil {
		return nil, err
	}
	normalizer, err := domain.NewNormalizer(set, domain.DefaultColumnMappings(cfg.FuzzyCutoff), cfg.FuzzyCacheSize, logger)
	if err != nil {
		return nil, err
	}
	merger, err := domain.NewMerger(cfg.SCDColumns)
	if err != nil {
		return nil, err
	}

	svc := &service{}
	stages := pipeline.Stages{
		Incidents:  socrata.NewClient(cfg.SocrataBaseURL, cfg.SocrataDataset, cfg.SocrataAppToken, logger),
		Weather:    openmeteo.NewClient(cfg.OpenMeteoBaseURL, logger),
		Watermarks: state.NewWatermarkStore(blobs),
		Registry:   state.NewRegistryStore(blobs),
		Datasets:   state.NewDatasetStore(blobs),
		Merger:     merger,
		Normalizer: normalizer,
	}
	if withSink {
		if stages.Sink, err = openSink(ctx, cfg, logger, svc); err != nil {
			_ = svc.Close()
			return nil, err
		}
	}

	opts := pipeline.DefaultFetchOptions()
	opts.PageSize = cfg.FetchPageSize
	opts.Concurrency = cfg.FetchConcurrency
	opts.Timeout = cfg.FetchTimeout
	opts.MaxAttempts = cfg.FetchMaxAttempts
	opts.ChunkDays = cfg.WeatherChunkDays
	fetcher := pipeline.NewFetcher(opts, logger, metrics)

	svc.pipeline = pipeline.New(stages, fetcher, pipeline.Options{WeatherEndDate: cfg.WeatherEndDate}, logger, metrics)
	return svc, nil
}

func openState(ctx context.Context, cfg *config.Config, logger *slog.Logger) (state.Blobs, error) {
	if cfg.StateBackend == config.StateMinIO {
		blobs, err := state.NewMinIOBlobs(ctx, state.MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
			Prefix:    strings.Trim(cfg.StateDir, "/") + "/",
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("open minio state: %w", err)
		}
		return blobs, nil
	}
	return state.NewFSBlobs(afero.NewOsFs(), cfg.StateDir), nil
}

func openSink(ctx context.Context, cfg *config.Config, logger *slog.Logger, svc *service) (pipeline.Sink, error) {
	logger.Info("opening warehouse", "sink", cfg.Sink)
	switch cfg.Sink {
	case config.SinkDuckDB:
		db, err := duckdb.Open(cfg.DuckDBPath)
		if err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, db.Close)
		return duckdb.NewSink(db, cfg.SinkChunkSize, logger), nil
	case config.SinkBigQuery:
		client, err := bqadapter.NewClient(ctx, cfg.BigQueryProject, cfg.BigQueryCredentialsFile)
		if err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, client.Close)
		return bqadapter.NewSink(client, cfg.BigQueryDataset, cfg.SinkChunkSize, logger), nil
	case config.SinkPostgres:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, func() error { pool.Close(); return nil })
		return postgres.NewSink(pool, cfg.SinkChunkSize, logger), nil
	case config.SinkKafka:
		w := kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopicPrefix, cfg.SinkChunkSize, logger)
		svc.closers = append(svc.closers, w.Close)
		return w, nil
	default:
		return nil, fmt.Errorf("unknown sink %q", cfg.Sink)
	}
}
