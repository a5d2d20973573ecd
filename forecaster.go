// Package forecaster keeps a trained SARIMA model current with newly ingested observations and
// records one month ahead forecasts from it and from a seasonal naive benchmark.
package forecaster

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/aouyang1/go-eiacast/metrics"
	"github.com/aouyang1/go-eiacast/modelstate"
	"github.com/aouyang1/go-eiacast/period"
	"github.com/aouyang1/go-eiacast/runlog"
	"github.com/aouyang1/go-eiacast/sarima"
	"github.com/aouyang1/go-eiacast/store"
	"github.com/aouyang1/go-eiacast/timedataset"
	"go.uber.org/zap"
)

const (
	ScriptForecast = "monthly_forecast"
	ScriptTrain    = "train_model"
)

var (
	ErrNoProcessedData   = errors.New("no processed data available; run backfill or ingest first")
	ErrModelNotTrained   = errors.New("model has not been trained; run train first")
	ErrNoAbsorptionPoint = errors.New("model metadata has neither last_observed nor trained_through")
	ErrInconsistentState = errors.New("model state does not match its metadata")
)

// Forecaster reads the observation store and the persisted model state, and appends forecasts.
// Every Run or Train appends exactly one run log entry.
type Forecaster struct {
	opt *Options

	obs       store.ObservationStore
	models    *modelstate.Store
	forecasts store.ForecastSink
	recorder  *runlog.Recorder
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a Forecaster using the provided options. If no options are provided a default
// is used.
func New(opt *Options, obs store.ObservationStore, models *modelstate.Store, forecasts store.ForecastSink, recorder *runlog.Recorder, logger *zap.Logger) (*Forecaster, error) {
	if opt == nil {
		opt = NewDefaultOptions()
	}
	if err := opt.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forecaster{
		opt:       opt,
		obs:       obs,
		models:    models,
		forecasts: forecasts,
		recorder:  recorder,
		logger:    logger.With(zap.String("model", opt.ModelName)),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock overrides the timestamp stamped on forecast records.
func (f *Forecaster) WithClock(now func() time.Time) *Forecaster {
	f.now = now
	return f
}

// Run absorbs every observation after the model's absorption point without re-estimating it,
// appends forecasts for the month after the latest observation and then persists the extended
// state. A run that fails before the state is persisted leaves it untouched, and a retry finds
// its forecasts already recorded.
func (f *Forecaster) Run(ctx context.Context) (*Results, error) {
	defer metrics.ObserveDuration(ScriptForecast, time.Now())

	ds, err := f.load(ctx)
	if err != nil {
		return f.fail(ctx, err)
	}

	if _, err := f.models.EnsureExists(ctx, f.opt.BenchmarkName); err != nil {
		return f.fail(ctx, err)
	}

	state, err := f.models.Get(ctx, f.opt.ModelName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = fmt.Errorf("model %s not found, %w, %w", f.opt.ModelName, ErrModelNotTrained, store.ErrConfiguration)
		}
		return f.fail(ctx, err)
	}
	if state.Blob == nil {
		return f.fail(ctx, fmt.Errorf("model %s has no saved state, %w, %w",
			f.opt.ModelName, ErrModelNotTrained, store.ErrConfiguration))
	}
	absorbed, ok := state.AbsorptionPoint()
	if !ok {
		return f.fail(ctx, fmt.Errorf("model %s, %w, %w", f.opt.ModelName, ErrNoAbsorptionPoint, store.ErrConfiguration))
	}

	res := &Results{
		ModelName:       f.opt.ModelName,
		AbsorbedFrom:    absorbed,
		AbsorbedThrough: absorbed,
		Version:         state.Version,
	}

	newObs := ds.After(absorbed)
	if newObs.Len() == 0 {
		res.Status = store.StatusNoUpdate
		res.Details = fmt.Sprintf("no new observations since %s; no forecast generated", absorbed)
		return f.finish(ctx, res)
	}

	model, err := sarima.Decode(state.Blob)
	if err != nil {
		return f.fail(ctx, fmt.Errorf("unable to restore model %s, %w, %w", f.opt.ModelName, err, store.ErrConfiguration))
	}
	if last := model.LastPeriod(); !last.Equal(absorbed) {
		return f.fail(ctx, fmt.Errorf("model %s state ends at %s but metadata records %s, %w, %w",
			f.opt.ModelName, last, absorbed, ErrInconsistentState, store.ErrConfiguration))
	}
	if err := model.Extend(newObs.P, newObs.Y); err != nil {
		return f.fail(ctx, fmt.Errorf("unable to extend model %s, %w", f.opt.ModelName, err))
	}

	latest := ds.End()
	target := latest.Next()
	fc, err := model.Forecast(1)
	if err != nil {
		return f.fail(ctx, fmt.Errorf("unable to forecast %s, %w", target, err))
	}
	primary := finite(fc.Forecast[0])
	benchmark := SeasonalNaive(ds, target, f.opt.SeasonalLag)

	blob, err := encodeState(model)
	if err != nil {
		return f.fail(ctx, err)
	}

	createdAt := f.now()
	for _, rec := range []store.ForecastRecord{
		{Period: target, ModelName: f.opt.ModelName, Value: primary, CreatedAt: createdAt},
		{Period: target, ModelName: f.opt.BenchmarkName, Value: benchmark, CreatedAt: createdAt},
	} {
		if err := f.append(ctx, rec); err != nil {
			return f.fail(ctx, err)
		}
	}

	meta := modelstate.Meta{
		TrainedFrom:    state.TrainedFrom,
		TrainedThrough: state.TrainedThrough,
		LastObserved:   &latest,
		Params:         state.Params,
	}
	updated, err := f.models.Put(ctx, f.opt.ModelName, blob, meta, state.Version)
	if err != nil {
		return f.fail(ctx, err)
	}
	metrics.LastObserved.WithLabelValues(f.opt.ModelName).Set(float64(latest.Time().Unix()))

	res.Absorbed = newObs.Len()
	res.Imputed = imputedAfter(model, absorbed)
	res.AbsorbedThrough = latest
	res.Version = updated.Version
	res.Target = target
	res.Primary = primary
	res.Benchmark = benchmark

	res.Status = store.StatusSuccess
	res.Details = fmt.Sprintf("absorbed %d observation(s); model updated through %s; forecasts for %s",
		res.Absorbed, latest, target)
	if len(res.Imputed) > 0 {
		res.Details += fmt.Sprintf(" (%d month(s) imputed)", len(res.Imputed))
	}
	return f.finish(ctx, res)
}

func (f *Forecaster) load(ctx context.Context) (*timedataset.TimeDataset, error) {
	obs, err := f.obs.Observations(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load observations, %w, %w", err, store.ErrTransientIO)
	}
	if len(obs) == 0 {
		return nil, fmt.Errorf("%w, %w", ErrNoProcessedData, store.ErrConfiguration)
	}
	ds, err := timedataset.FromObservations(obs)
	if err != nil {
		return nil, fmt.Errorf("unable to build dataset, %w, %w", err, store.ErrDataQuality)
	}
	return ds, nil
}

func (f *Forecaster) append(ctx context.Context, rec store.ForecastRecord) error {
	inserted, err := f.forecasts.AppendForecast(ctx, rec)
	if err != nil {
		return fmt.Errorf("unable to append %s forecast for %s, %w, %w", rec.ModelName, rec.Period, err, store.ErrTransientIO)
	}
	if !inserted {
		f.logger.Info("forecast already recorded",
			zap.String("forecast_model", rec.ModelName),
			zap.String("period", rec.Period.String()),
		)
		return nil
	}
	metrics.ForecastsAppended.WithLabelValues(rec.ModelName).Inc()
	return nil
}

func (f *Forecaster) finish(ctx context.Context, res *Results) (*Results, error) {
	if _, err := f.recorder.Record(ctx, ScriptForecast, res.Status, res.Details); err != nil {
		return res, err
	}
	return res, nil
}

func (f *Forecaster) fail(ctx context.Context, err error) (*Results, error) {
	_, _ = f.recorder.Record(ctx, ScriptForecast, store.StatusError, err.Error())
	return &Results{Status: store.StatusError, ModelName: f.opt.ModelName, Details: err.Error()}, err
}

func encodeState(m *sarima.Model) ([]byte, error) {
	s, err := m.State()
	if err != nil {
		return nil, fmt.Errorf("unable to capture model state, %w", err)
	}
	return s.Encode()
}

func imputedAfter(m *sarima.Model, p period.Period) []period.Period {
	var out []period.Period
	for _, ip := range m.Imputed() {
		if ip.After(p) {
			out = append(out, ip)
		}
	}
	return out
}

// finite drops forecasts the model could not produce.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
