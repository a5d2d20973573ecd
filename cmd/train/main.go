// Command train fits the primary model on every stored observation and saves its state.
package main

import (
	"context"
	"os"

	"github.com/aouyang1/go-eiacast/app"
	"go.uber.org/zap"
)

func main() {
	app.Run("train", func(ctx context.Context, a *app.App) error {
		f, err := a.Forecaster(ctx)
		if err != nil {
			return err
		}
		res, err := f.Train(ctx)
		if err != nil {
			return err
		}
		a.Logger.Info(res.Details, zap.String("status", string(res.Status)), zap.Int64("version", res.Version))
		return res.TablePrint(os.Stdout, "", "  ")
	})
}
