// Command report renders the actual vs forecast dashboard and prints the accuracy table.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aouyang1/go-eiacast/app"
	"github.com/aouyang1/go-eiacast/report"
	"go.uber.org/zap"
)

func main() {
	app.Run("report", func(ctx context.Context, a *app.App) error {
		r, err := report.Load(ctx, a.DB, a.DB, report.DefaultWindows)
		if err != nil {
			return err
		}
		if err := r.TablePrint(os.Stdout, "", "  "); err != nil {
			return err
		}

		f, err := os.Create(a.Config.ReportPath)
		if err != nil {
			return fmt.Errorf("unable to create %s, %w", a.Config.ReportPath, err)
		}
		defer f.Close()
		if err := report.Render(f, r); err != nil {
			return err
		}
		a.Logger.Info("wrote report", zap.String("path", a.Config.ReportPath))
		return f.Close()
	})
}
