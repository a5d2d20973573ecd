package config

import (
	"testing"
	"time"

	"github.com/aouyang1/go-eiacast/eia"
	"github.com/aouyang1/go-eiacast/sarima"
	"github.com/aouyang1/go-eiacast/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("EIA_API_KEY", "")
	t.Setenv("DB_DSN", "")
	t.Setenv("SARIMA_ORDER", "")
	t.Setenv("BACKFILL_END", "")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, eia.DefaultBaseURL, c.Provider.BaseURL)
	assert.Equal(t, "NJ", c.Provider.StateID)
	assert.Equal(t, 30*time.Second, c.Provider.Timeout)
	assert.Equal(t, sarima.DefaultOrder(), c.SarimaOrder)
	assert.Equal(t, "2001-01", c.BackfillStart.String())
	assert.True(t, c.BackfillEnd.IsZero())
	assert.Equal(t, DefaultRawBucket, c.RawBucket)
	assert.Equal(t, "sarima_v1", c.ModelName)

	assert.ErrorIs(t, c.RequireProvider(), store.ErrConfiguration)
	assert.ErrorIs(t, c.RequireProvider(), eia.ErrMissingAPIKey)
	assert.ErrorIs(t, c.RequireDatabase(), ErrMissingDSN)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("EIA_API_KEY", "secret")
	t.Setenv("DB_DSN", "postgres://localhost/eia")
	t.Setenv("EIA_STATE_ID", "NY")
	t.Setenv("PROVIDER_TIMEOUT", "5s")
	t.Setenv("S3_USE_PATH_STYLE", "true")
	t.Setenv("SARIMA_ORDER", "(0,1,1)(0,1,1,12)")
	t.Setenv("BACKFILL_START", "2010-01")
	t.Setenv("BACKFILL_END", "2024-12")
	t.Setenv("SCHEDULE_BUSINESS_DAY", "5")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "NY", c.Provider.StateID)
	assert.Equal(t, 5*time.Second, c.Provider.Timeout)
	assert.True(t, c.S3.UsePathStyle)
	assert.Equal(t, sarima.Order{D: 1, Q: 1, SD: 1, SQ: 1, M: 12}, c.SarimaOrder)
	assert.Equal(t, "2010-01", c.BackfillStart.String())
	assert.Equal(t, "2024-12", c.ResolveBackfillEnd(time.Now()).String())
	assert.Equal(t, 5, c.ScheduleBusinessDay)
	assert.NoError(t, c.RequireProvider())
	assert.NoError(t, c.RequireDatabase())
}

func TestLoadInvalid(t *testing.T) {
	testData := map[string]struct {
		key   string
		value string
	}{
		"timeout":      {key: "PROVIDER_TIMEOUT", value: "soon"},
		"business day": {key: "SCHEDULE_BUSINESS_DAY", value: "third"},
		"order":        {key: "SARIMA_ORDER", value: "1,1,2"},
		"period":       {key: "BACKFILL_START", value: "2001/01"},
		"path style":   {key: "S3_USE_PATH_STYLE", value: "maybe"},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			t.Setenv(td.key, td.value)
			_, err := Load()
			assert.ErrorIs(t, err, ErrInvalidEnv)
			assert.ErrorIs(t, err, store.ErrConfiguration)
		})
	}
}

func TestResolveBackfillEnd(t *testing.T) {
	c := &Config{}
	now := time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-06", c.ResolveBackfillEnd(now).String())
}
