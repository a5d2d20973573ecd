package postgres

import (
	"context"
	"io/fs"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aouyang1/go-eiacast/period"
	"github.com/aouyang1/go-eiacast/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStore connects to the database named by EIACAST_TEST_DSN and truncates every table.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("EIACAST_TEST_DSN")
	if dsn == "" {
		t.Skip("EIACAST_TEST_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn, 10*time.Second)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.Migrate(ctx))
	_, err = s.pool.Exec(ctx, `TRUNCATE electricity_sales, forecasts, models, logs`)
	require.NoError(t, err)
	return s
}

func TestMigrationsEmbedded(t *testing.T) {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		data, err := fs.ReadFile(migrations, f)
		require.NoError(t, err)
		assert.Contains(t, string(data), "-- +goose Up", f)
		assert.Contains(t, string(data), "-- +goose Down", f)
	}
}

func TestOpenInvalidDSN(t *testing.T) {
	_, err := Open(context.Background(), "postgres://%zz", time.Second)
	assert.ErrorIs(t, err, store.ErrConfiguration)
}

func TestObservations(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, ok, err := s.LatestPeriod(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.UpsertObservations(ctx, []store.Observation{
		{Period: period.MustParse("2025-02"), Value: decimal.RequireFromString("2100.5")},
		{Period: period.MustParse("2025-01"), Value: decimal.RequireFromString("2000")},
	}))
	require.NoError(t, s.UpsertObservations(ctx, []store.Observation{
		{Period: period.MustParse("2025-02"), Value: decimal.RequireFromString("2150.25")},
	}))

	obs, err := s.Observations(ctx)
	require.NoError(t, err)
	require.Len(t, obs, 2)
	assert.Equal(t, "2025-01", obs[0].Period.String())
	assert.Equal(t, "2150.25", obs[1].Value.String())

	latest, ok, err := s.LatestPeriod(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2025-02", latest.String())
}

func TestModelCompareAndSwap(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)

	_, err := s.GetModel(ctx, "sarima_v1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	created, err := s.InsertModelIfAbsent(ctx, "sarima_v1", now)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = s.InsertModelIfAbsent(ctx, "sarima_v1", now)
	require.NoError(t, err)
	assert.False(t, created)

	through := period.MustParse("2025-03")
	updated, err := s.UpdateModel(ctx, store.ModelState{
		Name:           "sarima_v1",
		Location:       "sarima_v1/v000001_a.json",
		TrainedThrough: &through,
		LastObserved:   &through,
		Params:         []byte(`{"aic":1.5}`),
		UpdatedAt:      now,
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Version)
	assert.Equal(t, "sarima_v1/v000001_a.json", updated.Location)
	require.NotNil(t, updated.LastObserved)
	assert.Equal(t, through, *updated.LastObserved)
	assert.Nil(t, updated.TrainedFrom)
	assert.JSONEq(t, `{"aic":1.5}`, string(updated.Params))

	_, err = s.UpdateModel(ctx, store.ModelState{Name: "sarima_v1", UpdatedAt: now}, 0)
	assert.ErrorIs(t, err, store.ErrVersionConflict)
}

func TestForecastsAndRunLog(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)

	for _, name := range []string{"sarima_v1", "seasonal_naive"} {
		_, err := s.InsertModelIfAbsent(ctx, name, now)
		require.NoError(t, err)
	}

	v := 2222.5
	target := period.MustParse("2025-05")
	inserted, err := s.AppendForecast(ctx, store.ForecastRecord{Period: target, ModelName: "seasonal_naive", CreatedAt: now})
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = s.AppendForecast(ctx, store.ForecastRecord{Period: target, ModelName: "sarima_v1", Value: &v, CreatedAt: now})
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = s.AppendForecast(ctx, store.ForecastRecord{Period: target, ModelName: "sarima_v1", Value: &v, CreatedAt: now})
	require.NoError(t, err)
	assert.False(t, inserted)

	recs, err := s.Forecasts(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "sarima_v1", recs[0].ModelName)
	require.NotNil(t, recs[0].Value)
	assert.Equal(t, v, *recs[0].Value)
	assert.Nil(t, recs[1].Value)

	require.NoError(t, s.AppendRunLog(ctx, store.RunLogEntry{
		ID:        uuid.New(),
		Timestamp: now,
		Script:    "monthly_forecast",
		Status:    store.StatusSuccess,
		Details:   strings.Repeat("x", 10),
	}))
}
