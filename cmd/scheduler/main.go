// Command scheduler runs monthly ingestion followed by forecasting on a fixed business day of
// every month and serves Prometheus metrics.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/aouyang1/go-eiacast/app"
	"github.com/aouyang1/go-eiacast/metrics"
	"github.com/aouyang1/go-eiacast/schedule"
	"go.uber.org/zap"
)

func main() {
	app.Run("scheduler", func(ctx context.Context, a *app.App) error {
		ing, err := a.Ingestor()
		if err != nil {
			return err
		}
		f, err := a.Forecaster(ctx)
		if err != nil {
			return err
		}

		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			return fmt.Errorf("unable to load schedule location, %w", err)
		}
		runner, err := schedule.NewRunner(schedule.NewCalendar(loc), a.Config.ScheduleBusinessDay, a.Logger)
		if err != nil {
			return err
		}

		go func() {
			if err := metrics.Serve(ctx, a.Config.MetricsAddr, a.Logger); err != nil {
				a.Logger.Error("metrics server stopped", zap.Error(err))
			}
		}()

		return runner.Run(ctx, func(ctx context.Context) error {
			ingested, err := ing.RunIncremental(ctx)
			if err != nil {
				return err
			}
			a.Logger.Info(ingested.Details, zap.String("status", string(ingested.Status)))

			res, err := f.Run(ctx)
			if err != nil {
				return err
			}
			a.Logger.Info(res.Details, zap.String("status", string(res.Status)))
			return nil
		})
	})
}
