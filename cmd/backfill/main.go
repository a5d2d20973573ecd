// Command backfill loads the configured range of months with a single provider request.
package main

import (
	"context"
	"time"

	"github.com/aouyang1/go-eiacast/app"
	"go.uber.org/zap"
)

func main() {
	app.Run("backfill", func(ctx context.Context, a *app.App) error {
		ing, err := a.Ingestor()
		if err != nil {
			return err
		}
		start := a.Config.BackfillStart
		end := a.Config.ResolveBackfillEnd(time.Now().UTC())
		a.Logger.Info("backfilling", zap.String("start", start.String()), zap.String("end", end.String()))

		res, err := ing.RunRange(ctx, start, end)
		if err != nil {
			return err
		}
		a.Logger.Info(res.Details, zap.String("status", string(res.Status)), zap.Int("applied", res.Applied))
		return nil
	})
}
