package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"

	httpadapter "github.com/agxdata/nyc311-weather-etl/internal/adapter/http"
	"github.com/agxdata/nyc311-weather-etl/internal/adapter/mappings"
	"github.com/agxdata/nyc311-weather-etl/internal/config"
	"github.com/agxdata/nyc311-weather-etl/internal/observability"
	"github.com/agxdata/nyc311-weather-etl/internal/pipeline"
)

func main() {
	app := &cli.App{
		Name:  "etl",
		Usage: "incrementally load NYC 311 service requests and weather into a star schema",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Usage:   "dotenv file to read before configuration is loaded",
				Value:   ".env",
				EnvVars: []string{"ETL_ENV_FILE"},
			},
		},
		Before: func(c *cli.Context) error {
			return loadEnvFile(c.String("env-file"))
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run the pipeline once and exit",
				Action: runOnce,
			},
			{
				Name:  "serve",
				Usage: "run the pipeline on a schedule and expose health, metrics and run endpoints",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "run-now",
						Usage: "trigger a run at startup instead of waiting for the schedule",
					},
				},
				Action: serve,
			},
			{
				Name:  "standardize-mappings",
				Usage: "rewrite mapping files with collapsed whitespace and title-cased spellings",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "dir",
						Value:   "mappings",
						EnvVars: []string{"MAPPINGS_DIR"},
					},
				},
				Action: standardizeMappings,
			},
			{
				Name:   "validate",
				Usage:  "rebuild the model from stored state and check its integrity",
				Action: validate,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("etl failed", "error", err)
		os.Exit(1)
	}
}

// loadEnvFile applies a dotenv file when present. Variables already set in
// the environment win.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func setup(c *cli.Context, withSink bool) (context.Context, context.CancelFunc, *config.Config, *slog.Logger, *service, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	svc, err := buildService(ctx, cfg, logger, metrics, withSink)
	if err != nil {
		stop()
		return nil, nil, nil, nil, nil, err
	}
	return ctx, stop, cfg, logger, svc, nil
}

func runOnce(c *cli.Context) error {
	ctx, stop, _, logger, svc, err := setup(c, true)
	if err != nil {
		return err
	}
	defer stop()
	defer closeService(svc, logger)

	return svc.pipeline.Run(ctx)
}

func serve(c *cli.Context) error {
	ctx, stop, cfg, logger, svc, err := setup(c, true)
	if err != nil {
		return err
	}
	defer stop()
	defer closeService(svc, logger)

	scheduler, err := pipeline.NewScheduler(ctx, svc.pipeline, cfg.Schedule, logger)
	if err != nil {
		return err
	}
	scheduler.Start()

	srv := httpadapter.NewServer(cfg.HTTPAddr, svc.pipeline, scheduler, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	if c.Bool("run-now") {
		scheduler.TriggerRun()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	done := make(chan struct{})
	go func() {
		scheduler.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("run still in progress at shutdown deadline")
	}

	logger.Info("shutdown complete")
	return nil
}

func validate(c *cli.Context) error {
	ctx, stop, _, logger, svc, err := setup(c, false)
	if err != nil {
		return err
	}
	defer stop()
	defer closeService(svc, logger)

	schema, violations, err := svc.pipeline.Verify(ctx)
	if err != nil {
		return err
	}
	for _, v := range violations {
		fmt.Fprintf(c.App.Writer, "FAIL %s\n", v)
	}
	fmt.Fprintf(c.App.Writer, "dates=%d locations=%d agencies=%d complaint_types=%d incidents=%d weather=%d daily=%d\n",
		len(schema.Dates), len(schema.Locations), len(schema.Agencies), len(schema.ComplaintTypes),
		len(schema.Incidents), len(schema.Weather), len(schema.DailySummary))
	if len(violations) > 0 {
		return cli.Exit(fmt.Sprintf("%d integrity violations", len(violations)), 1)
	}
	fmt.Fprintln(c.App.Writer, "model OK")
	return nil
}

func standardizeMappings(c *cli.Context) error {
	rewritten, err := mappings.Standardize(afero.NewOsFs(), c.String("dir"))
	for _, name := range rewritten {
		fmt.Fprintf(c.App.Writer, "standardized %s\n", name)
	}
	return err
}

func closeService(svc *service, logger *slog.Logger) {
	if err := svc.Close(); err != nil {
		logger.Error("close error", "error", err)
	}
}
