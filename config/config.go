// Package config loads the pipeline configuration from environment variables, reading a .env
// file first when one exists.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aouyang1/go-eiacast/eia"
	"github.com/aouyang1/go-eiacast/period"
	"github.com/aouyang1/go-eiacast/sarima"
	"github.com/aouyang1/go-eiacast/store"
	"github.com/aouyang1/go-eiacast/store/s3blob"
	"github.com/joho/godotenv"
)

const (
	DefaultRawBucket     = "raw-data"
	DefaultModelBucket   = "models"
	DefaultMetricsAddr   = ":9102"
	DefaultBackfillStart = "2001-01"
	DefaultReportPath    = "report.html"
)

var (
	ErrMissingDSN = errors.New("DB_DSN is not set")
	ErrInvalidEnv = errors.New("invalid environment variable")
)

// Config holds every setting of the pipeline binaries. Load it once at startup.
type Config struct {
	// Provider holds the EIA client settings including the API key.
	Provider eia.Options

	// DBDSN is the Postgres connection string.
	DBDSN     string
	DBTimeout time.Duration

	S3          s3blob.Options
	RawBucket   string
	ModelBucket string

	// RedisURL enables forecast publishing when set.
	RedisURL    string
	MetricsAddr string

	ModelName     string
	BenchmarkName string
	SarimaOrder   sarima.Order

	// BackfillEnd is zero when the backfill should run through the previous month.
	BackfillStart period.Period
	BackfillEnd   period.Period

	ScheduleBusinessDay int
	ReportPath          string
}

// Load reads the configuration. A missing .env file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	c := &Config{
		Provider: eia.Options{
			BaseURL:   getEnv("EIA_BASE_URL", eia.DefaultBaseURL),
			APIKey:    getEnv("EIA_API_KEY", ""),
			StateID:   getEnv("EIA_STATE_ID", eia.DefaultStateID),
			SectorID:  getEnv("EIA_SECTOR_ID", eia.DefaultSectorID),
			DataField: getEnv("EIA_DATA_FIELD", eia.DefaultDataField),
		},
		DBDSN: getEnv("DB_DSN", ""),
		S3: s3blob.Options{
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			Region:          getEnv("S3_REGION", "us-east-1"),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		},
		RawBucket:     getEnv("RAW_BUCKET", DefaultRawBucket),
		ModelBucket:   getEnv("MODEL_BUCKET", DefaultModelBucket),
		RedisURL:      getEnv("REDIS_URL", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", DefaultMetricsAddr),
		ModelName:     getEnv("MODEL_NAME", "sarima_v1"),
		BenchmarkName: getEnv("BENCHMARK_NAME", "seasonal_naive"),
		ReportPath:    getEnv("REPORT_PATH", DefaultReportPath),
	}

	var errs []error
	var err error
	if c.Provider.Timeout, err = getEnvDuration("PROVIDER_TIMEOUT", 30*time.Second); err != nil {
		errs = append(errs, err)
	}
	if c.Provider.RequestsPerSecond, err = getEnvFloat("PROVIDER_REQUESTS_PER_SECOND", 1); err != nil {
		errs = append(errs, err)
	}
	if c.Provider.Burst, err = getEnvInt("PROVIDER_BURST", 2); err != nil {
		errs = append(errs, err)
	}
	if c.DBTimeout, err = getEnvDuration("DB_TIMEOUT", 15*time.Second); err != nil {
		errs = append(errs, err)
	}
	if c.S3.UsePathStyle, err = getEnvBool("S3_USE_PATH_STYLE", false); err != nil {
		errs = append(errs, err)
	}
	if c.ScheduleBusinessDay, err = getEnvInt("SCHEDULE_BUSINESS_DAY", 3); err != nil {
		errs = append(errs, err)
	}
	if c.SarimaOrder, err = sarima.ParseOrder(getEnv("SARIMA_ORDER", sarima.DefaultOrder().String())); err != nil {
		errs = append(errs, fmt.Errorf("SARIMA_ORDER, %w, %w", err, ErrInvalidEnv))
	}
	if c.BackfillStart, err = getEnvPeriod("BACKFILL_START", DefaultBackfillStart); err != nil {
		errs = append(errs, err)
	}
	if c.BackfillEnd, err = getEnvPeriod("BACKFILL_END", ""); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("unable to load config, %w, %w", err, store.ErrConfiguration)
	}
	return c, nil
}

// RequireProvider checks the settings needed to call the provider.
func (c *Config) RequireProvider() error {
	if c.Provider.APIKey == "" {
		return fmt.Errorf("%w, %w", eia.ErrMissingAPIKey, store.ErrConfiguration)
	}
	return nil
}

// RequireDatabase checks the settings needed to reach the durable tables.
func (c *Config) RequireDatabase() error {
	if c.DBDSN == "" {
		return fmt.Errorf("%w, %w", ErrMissingDSN, store.ErrConfiguration)
	}
	return nil
}

// ResolveBackfillEnd returns the configured end or the month before now.
func (c *Config) ResolveBackfillEnd(now time.Time) period.Period {
	if !c.BackfillEnd.IsZero() {
		return c.BackfillEnd
	}
	return period.FromTime(now).Prev()
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s=%q, %w", key, value, ErrInvalidEnv)
	}
	return v, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q, %w", key, value, ErrInvalidEnv)
	}
	return v, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, fmt.Errorf("%s=%q, %w", key, value, ErrInvalidEnv)
	}
	return v, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s=%q, %w", key, value, ErrInvalidEnv)
	}
	return v, nil
}

func getEnvPeriod(key, defaultValue string) (period.Period, error) {
	value := getEnv(key, defaultValue)
	if value == "" {
		return period.Period{}, nil
	}
	p, err := period.Parse(value)
	if err != nil {
		return period.Period{}, fmt.Errorf("%s=%q, %w", key, value, ErrInvalidEnv)
	}
	return p, nil
}
