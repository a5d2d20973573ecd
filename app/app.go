// Package app wires the configured stores, provider client and pipeline stages together for
// the binaries under cmd.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	forecaster "github.com/aouyang1/go-eiacast"
	"github.com/aouyang1/go-eiacast/config"
	"github.com/aouyang1/go-eiacast/eia"
	"github.com/aouyang1/go-eiacast/ingest"
	"github.com/aouyang1/go-eiacast/modelstate"
	"github.com/aouyang1/go-eiacast/notify"
	"github.com/aouyang1/go-eiacast/runlog"
	"github.com/aouyang1/go-eiacast/sarima"
	"github.com/aouyang1/go-eiacast/store"
	"github.com/aouyang1/go-eiacast/store/postgres"
	"github.com/aouyang1/go-eiacast/store/s3blob"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App holds the connections shared by every pipeline stage.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	DB       *postgres.Store
	Raw      *s3blob.Bucket
	Models   *modelstate.Store
	Recorder *runlog.Recorder

	redis *redis.Client
}

// Open connects to the database and both buckets.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	db, err := postgres.Open(ctx, cfg.DBDSN, cfg.DBTimeout)
	if err != nil {
		return nil, err
	}

	client, err := s3blob.NewClient(ctx, cfg.S3)
	if err != nil {
		db.Close()
		return nil, err
	}
	raw, err := s3blob.Open(ctx, client, cfg.RawBucket)
	if err != nil {
		db.Close()
		return nil, err
	}
	modelBucket, err := s3blob.Open(ctx, client, cfg.ModelBucket)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &App{
		Config:   cfg,
		Logger:   logger,
		DB:       db,
		Raw:      raw,
		Models:   modelstate.New(db, modelBucket, logger),
		Recorder: runlog.New(db, logger),
	}, nil
}

func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Warn("unable to close redis client", zap.Error(err))
		}
	}
	a.DB.Close()
}

// Ingestor returns the observation ingestor backed by the EIA client.
func (a *App) Ingestor() (*ingest.Ingestor, error) {
	if err := a.Config.RequireProvider(); err != nil {
		return nil, err
	}
	client, err := eia.New(&a.Config.Provider, nil, a.Logger)
	if err != nil {
		return nil, err
	}
	return ingest.New(client, a.DB, a.Raw, a.Recorder, a.Logger), nil
}

// Forecaster returns the forecaster for the configured models. Appended forecasts are also
// published to Redis when REDIS_URL is set.
func (a *App) Forecaster(ctx context.Context) (*forecaster.Forecaster, error) {
	opt := forecaster.NewDefaultOptions()
	opt.ModelName = a.Config.ModelName
	opt.BenchmarkName = a.Config.BenchmarkName
	opt.SarimaOptions = sarima.NewDefaultOptions()
	opt.SarimaOptions.Order = a.Config.SarimaOrder

	var sink store.ForecastSink = a.DB
	if a.Config.RedisURL != "" {
		if a.redis == nil {
			client, err := notify.Dial(ctx, a.Config.RedisURL)
			if err != nil {
				return nil, err
			}
			a.redis = client
		}
		sink = notify.New(a.DB, a.redis, notify.DefaultChannel, a.Logger)
	}
	return forecaster.New(opt, a.DB, a.Models, sink, a.Recorder, a.Logger)
}

// Run loads the configuration, opens the App and calls fn under a context cancelled on
// SIGINT or SIGTERM. It exits the process with status 1 when any step fails.
func Run(name string, fn func(ctx context.Context, a *App) error) {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to create logger, %v\n", err)
		os.Exit(1)
	}
	logger = logger.Named(name)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, logger, fn)
	stop()
	_ = logger.Sync()
	os.Exit(code)
}

func run(ctx context.Context, logger *zap.Logger, fn func(ctx context.Context, a *App) error) int {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("unable to load config", zap.Error(err))
		return 1
	}
	a, err := Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("unable to open stores", zap.Error(err), zap.String("category", Category(err)))
		return 1
	}
	defer a.Close()

	if err := fn(ctx, a); err != nil {
		logger.Error("run failed", zap.Error(err), zap.String("category", Category(err)))
		return 1
	}
	return 0
}

// Category names the failure class of err for logs.
func Category(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, store.ErrConfiguration):
		return "configuration"
	case errors.Is(err, store.ErrVersionConflict):
		return "version_conflict"
	case errors.Is(err, store.ErrDataQuality):
		return "data_quality"
	case errors.Is(err, store.ErrTransientIO):
		return "transient_io"
	default:
		return "unknown"
	}
}
