// Command ingest fetches the month after the latest stored observation.
package main

import (
	"context"

	"github.com/aouyang1/go-eiacast/app"
	"go.uber.org/zap"
)

func main() {
	app.Run("ingest", func(ctx context.Context, a *app.App) error {
		ing, err := a.Ingestor()
		if err != nil {
			return err
		}
		res, err := ing.RunIncremental(ctx)
		if err != nil {
			return err
		}
		a.Logger.Info(res.Details, zap.String("status", string(res.Status)), zap.Int("applied", res.Applied))
		return nil
	})
}
