// Command keepalive issues a trivial query so an idle hosted database is not paused.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aouyang1/go-eiacast/config"
	"github.com/aouyang1/go-eiacast/ledger"
	"github.com/aouyang1/go-eiacast/store/postgres"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("unable to load config", zap.Error(err))
	}
	if err := cfg.RequireDatabase(); err != nil {
		logger.Fatal("database not configured", zap.Error(err))
	}

	db, err := postgres.Open(ctx, cfg.DBDSN, cfg.DBTimeout)
	if err != nil {
		logger.Fatal("database ping failed", zap.Error(err))
	}
	defer db.Close()

	latest, ok, err := ledger.New(db).Latest(ctx)
	if err != nil {
		logger.Error("keepalive query failed", zap.Error(err))
		db.Close()
		os.Exit(1)
	}
	if !ok {
		logger.Info("database alive", zap.Bool("has_observations", false))
		return
	}
	logger.Info("database alive", zap.String("latest_period", latest.String()))
}
