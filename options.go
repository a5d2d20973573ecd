package forecaster

import (
	"fmt"

	"github.com/aouyang1/go-eiacast/sarima"
	"github.com/aouyang1/go-eiacast/store"
)

const (
	DefaultModelName     = "sarima_v1"
	DefaultBenchmarkName = "seasonal_naive"
	DefaultSeasonalLag   = 12
)

// Options names the primary and benchmark models and configures how the primary model is
// trained.
type Options struct {
	ModelName     string
	BenchmarkName string

	// SeasonalLag is how many months back the benchmark looks for its forecast.
	SeasonalLag int

	SarimaOptions *sarima.Options
}

// NewDefaultOptions returns the sarima_v1 primary model with a 12 month seasonal naive
// benchmark.
func NewDefaultOptions() *Options {
	return &Options{
		ModelName:     DefaultModelName,
		BenchmarkName: DefaultBenchmarkName,
		SeasonalLag:   DefaultSeasonalLag,
		SarimaOptions: sarima.NewDefaultOptions(),
	}
}

// Validate checks the model names are set and distinct.
func (o *Options) Validate() error {
	if o.ModelName == "" || o.BenchmarkName == "" {
		return fmt.Errorf("model and benchmark names must be set, %w", store.ErrConfiguration)
	}
	if o.ModelName == o.BenchmarkName {
		return fmt.Errorf("model and benchmark share the name %s, %w", o.ModelName, store.ErrConfiguration)
	}
	if o.SeasonalLag < 1 {
		return fmt.Errorf("seasonal lag must be at least 1 but got %d, %w", o.SeasonalLag, store.ErrConfiguration)
	}
	return nil
}
