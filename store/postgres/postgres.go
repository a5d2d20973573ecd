// Package postgres implements the durable tables of the store package on Postgres through a
// pgx connection pool. The schema is managed by embedded goose migrations.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/aouyang1/go-eiacast/period"
	"github.com/aouyang1/go-eiacast/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const modelColumns = `model_name, COALESCE(saved_location, ''), trained_from, trained_through, last_observed,
	params, version, created_at, updated_at`

// Store is a Postgres backed ObservationStore, ModelMetaStore, ForecastSink and RunLogSink.
// Every statement runs under the configured timeout.
type Store struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// Open connects to dsn and checks the database answers. A zero timeout leaves statements
// bounded only by the caller's context.
func Open(ctx context.Context, dsn string, timeout time.Duration) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database dsn, %w, %w", err, store.ErrConfiguration)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create database pool, %w, %w", err, store.ErrTransientIO)
	}
	s := &Store{pool: pool, timeout: timeout}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Ping issues a trivial query.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("unable to ping database, %w, %w", err, store.ErrTransientIO)
	}
	return nil
}

// Migrate applies every pending embedded migration.
func (s *Store) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("unable to set migration dialect, %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("unable to apply migrations, %w", err)
	}
	return nil
}

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// UpsertObservations writes obs in one transaction, overwriting stored values by period.
func (s *Store) UpsertObservations(ctx context.Context, obs []store.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, o := range obs {
			batch.Queue(`INSERT INTO electricity_sales (period, sales) VALUES ($1, $2)
				ON CONFLICT (period) DO UPDATE SET sales = EXCLUDED.sales`, o.Period, o.Value)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("unable to upsert observations, %w", err)
		}
		return nil
	})
}

func (s *Store) Observations(ctx context.Context) ([]store.Observation, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT period, sales FROM electricity_sales ORDER BY period`)
	if err != nil {
		return nil, fmt.Errorf("unable to query observations, %w", err)
	}
	obs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Observation, error) {
		var o store.Observation
		err := row.Scan(&o.Period, &o.Value)
		return o, err
	})
	if err != nil {
		return nil, fmt.Errorf("unable to read observations, %w", err)
	}
	return obs, nil
}

func (s *Store) LatestPeriod(ctx context.Context) (period.Period, bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var latest *period.Period
	if err := s.pool.QueryRow(ctx, `SELECT max(period) FROM electricity_sales`).Scan(&latest); err != nil {
		return period.Period{}, false, fmt.Errorf("unable to query latest period, %w", err)
	}
	if latest == nil {
		return period.Period{}, false, nil
	}
	return *latest, true, nil
}

func scanModel(row pgx.Row) (*store.ModelState, error) {
	var m store.ModelState
	var params []byte
	if err := row.Scan(
		&m.Name, &m.Location, &m.TrainedFrom, &m.TrainedThrough, &m.LastObserved,
		&params, &m.Version, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(params) > 0 {
		m.Params = params
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}

func (s *Store) GetModel(ctx context.Context, name string) (*store.ModelState, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	m, err := scanModel(s.pool.QueryRow(ctx, `SELECT `+modelColumns+` FROM models WHERE model_name = $1`, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("model %s, %w", name, store.ErrNotFound)
		}
		return nil, fmt.Errorf("unable to query model %s, %w", name, err)
	}
	return m, nil
}

func (s *Store) InsertModelIfAbsent(ctx context.Context, name string, now time.Time) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `INSERT INTO models (model_name, created_at, updated_at) VALUES ($1, $2, $2)
		ON CONFLICT (model_name) DO NOTHING`, name, now)
	if err != nil {
		return false, fmt.Errorf("unable to insert model %s, %w", name, err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateModel swaps the row only while its version still equals expectedVersion.
func (s *Store) UpdateModel(ctx context.Context, m store.ModelState, expectedVersion int64) (*store.ModelState, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var params []byte
	if len(m.Params) > 0 {
		params = m.Params
	}
	updated, err := scanModel(s.pool.QueryRow(ctx, `UPDATE models SET
			saved_location = NULLIF($2, ''),
			trained_from = $3,
			trained_through = $4,
			last_observed = $5,
			params = $6,
			version = version + 1,
			updated_at = $7
		WHERE model_name = $1 AND version = $8
		RETURNING `+modelColumns,
		m.Name, m.Location, m.TrainedFrom, m.TrainedThrough, m.LastObserved, params, m.UpdatedAt, expectedVersion,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("model %s is not at version %d, %w", m.Name, expectedVersion, store.ErrVersionConflict)
		}
		return nil, fmt.Errorf("unable to update model %s, %w", m.Name, err)
	}
	return updated, nil
}

func (s *Store) AppendForecast(ctx context.Context, rec store.ForecastRecord) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `INSERT INTO forecasts (period, model_name, forecast, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (period, model_name) DO NOTHING`, rec.Period, rec.ModelName, rec.Value, rec.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("unable to insert %s forecast for %s, %w", rec.ModelName, rec.Period, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) Forecasts(ctx context.Context) ([]store.ForecastRecord, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT period, model_name, forecast, created_at FROM forecasts
		ORDER BY period, model_name`)
	if err != nil {
		return nil, fmt.Errorf("unable to query forecasts, %w", err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.ForecastRecord, error) {
		var rec store.ForecastRecord
		err := row.Scan(&rec.Period, &rec.ModelName, &rec.Value, &rec.CreatedAt)
		rec.CreatedAt = rec.CreatedAt.UTC()
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("unable to read forecasts, %w", err)
	}
	return recs, nil
}

func (s *Store) AppendRunLog(ctx context.Context, entry store.RunLogEntry) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if _, err := s.pool.Exec(ctx, `INSERT INTO logs (id, timestamp, script, status, details) VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.Timestamp, entry.Script, string(entry.Status), entry.Details); err != nil {
		return fmt.Errorf("unable to insert run log, %w", err)
	}
	return nil
}

var (
	_ store.ObservationStore = (*Store)(nil)
	_ store.ModelMetaStore   = (*Store)(nil)
	_ store.ForecastSink     = (*Store)(nil)
	_ store.RunLogSink       = (*Store)(nil)
)
