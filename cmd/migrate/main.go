// Command migrate applies the database migrations.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aouyang1/go-eiacast/config"
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
		logger.Fatal("unable to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("running database migrations")
	if err := db.Migrate(ctx); err != nil {
		logger.Error("migration failed", zap.Error(err))
		db.Close()
		os.Exit(1)
	}
	logger.Info("migrations completed")
}
