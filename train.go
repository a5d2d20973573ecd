package forecaster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aouyang1/go-eiacast/metrics"
	"github.com/aouyang1/go-eiacast/modelstate"
	"github.com/aouyang1/go-eiacast/sarima"
	"github.com/aouyang1/go-eiacast/store"
	"go.uber.org/zap"
)

// Train fits the primary model on every stored observation and replaces its persisted state.
// The new state has absorbed everything it was trained on.
func (f *Forecaster) Train(ctx context.Context) (*TrainResults, error) {
	defer metrics.ObserveDuration(ScriptTrain, time.Now())

	ds, err := f.load(ctx)
	if err != nil {
		return f.failTrain(ctx, err)
	}

	model, err := sarima.New(f.opt.SarimaOptions)
	if err != nil {
		return f.failTrain(ctx, fmt.Errorf("unable to initialize model, %w, %w", err, store.ErrConfiguration))
	}
	if err := model.Fit(ds.P, ds.Y); err != nil {
		return f.failTrain(ctx, fmt.Errorf("unable to fit model %s, %w, %w", f.opt.ModelName, err, store.ErrDataQuality))
	}

	state, err := model.State()
	if err != nil {
		return f.failTrain(ctx, fmt.Errorf("unable to capture model state, %w", err))
	}
	blob, err := state.Encode()
	if err != nil {
		return f.failTrain(ctx, err)
	}
	params, err := NewParams(state)
	if err != nil {
		return f.failTrain(ctx, err)
	}
	rawParams, err := params.Encode()
	if err != nil {
		return f.failTrain(ctx, err)
	}

	var version int64
	current, err := f.models.Meta(ctx, f.opt.ModelName)
	switch {
	case err == nil:
		version = current.Version
	case !errors.Is(err, store.ErrNotFound):
		return f.failTrain(ctx, err)
	}

	from, through := ds.Start(), ds.End()
	updated, err := f.models.Put(ctx, f.opt.ModelName, blob, modelstate.Meta{
		TrainedFrom:    &from,
		TrainedThrough: &through,
		LastObserved:   &through,
		Params:         rawParams,
	}, version)
	if err != nil {
		return f.failTrain(ctx, err)
	}
	if _, err := f.models.EnsureExists(ctx, f.opt.BenchmarkName); err != nil {
		return f.failTrain(ctx, err)
	}
	metrics.LastObserved.WithLabelValues(f.opt.ModelName).Set(float64(through.Time().Unix()))

	f.logger.Info("trained model",
		zap.String("order", params.Order.String()),
		zap.Float64("aic", params.AIC),
		zap.Float64("variance", params.Variance),
	)

	res := &TrainResults{
		Status:    store.StatusSuccess,
		ModelName: f.opt.ModelName,
		From:      from,
		Through:   through,
		Rows:      ds.Len(),
		Location:  updated.Location,
		Version:   updated.Version,
		Params:    params,
		Details: fmt.Sprintf("trained model %s %s on %d rows (%s to %s); saved to %s",
			f.opt.ModelName, params.Order, ds.Len(), from, through, updated.Location),
	}
	if _, err := f.recorder.Record(ctx, ScriptTrain, res.Status, res.Details); err != nil {
		return res, err
	}
	return res, nil
}

func (f *Forecaster) failTrain(ctx context.Context, err error) (*TrainResults, error) {
	_, _ = f.recorder.Record(ctx, ScriptTrain, store.StatusError, err.Error())
	return &TrainResults{Status: store.StatusError, ModelName: f.opt.ModelName, Details: err.Error()}, err
}
