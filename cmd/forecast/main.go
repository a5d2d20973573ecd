// Command forecast absorbs new observations into the primary model and records the next
// month's forecasts.
package main

import (
	"context"
	"os"

	"github.com/aouyang1/go-eiacast/app"
)

func main() {
	app.Run("forecast", func(ctx context.Context, a *app.App) error {
		f, err := a.Forecaster(ctx)
		if err != nil {
			return err
		}
		res, err := f.Run(ctx)
		if err != nil {
			return err
		}
		return res.TablePrint(os.Stdout, "", "  ")
	})
}
