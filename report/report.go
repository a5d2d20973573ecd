// Package report scores stored forecasts against the observations that later arrived and
// renders them as an HTML dashboard.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"text/tabwriter"

	"github.com/aouyang1/go-eiacast/period"
	"github.com/aouyang1/go-eiacast/score"
	"github.com/aouyang1/go-eiacast/store"
	"github.com/aouyang1/go-eiacast/timedataset"
)

var (
	ErrNoObservations = errors.New("no observations to report on")
	ErrInvalidWindow  = errors.New("accuracy window must be at least one month")
)

// DefaultWindows are the trailing month counts accuracy is reported over.
var DefaultWindows = []int{1, 3, 6, 12}

// Accuracy scores one model's forecasts over the trailing Window observed months. N counts
// the months with both a forecast and an observation; the errors are NaN when N is 0.
type Accuracy struct {
	Model  string  `json:"model_name"`
	Window int     `json:"window_months"`
	N      int     `json:"n"`
	MAE    float64 `json:"mae"`
	RMSE   float64 `json:"rmse"`
	MAPE   float64 `json:"mape"`
}

// Report holds observed values, recorded forecasts by model and their accuracy.
type Report struct {
	Latest  period.Period
	Windows []int

	// Periods is every month with an observation or a forecast in ascending order.
	Periods []period.Period
	Actuals map[period.Period]float64

	// Forecasts maps model name to its forecast per target month. Null forecasts are NaN.
	Models    []string
	Forecasts map[string]map[period.Period]float64

	Accuracy []Accuracy
}

// Load reads every observation and forecast and builds a report over windows.
func Load(ctx context.Context, obs store.ObservationStore, forecasts store.ForecastSink, windows []int) (*Report, error) {
	o, err := obs.Observations(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load observations, %w, %w", err, store.ErrTransientIO)
	}
	f, err := forecasts.Forecasts(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load forecasts, %w, %w", err, store.ErrTransientIO)
	}
	return Build(o, f, windows)
}

// Build scores forecasts against observations over each trailing window ending at the latest
// observed month. If no windows are provided DefaultWindows is used.
func Build(obs []store.Observation, forecasts []store.ForecastRecord, windows []int) (*Report, error) {
	if len(obs) == 0 {
		return nil, ErrNoObservations
	}
	if len(windows) == 0 {
		windows = DefaultWindows
	}
	for _, w := range windows {
		if w < 1 {
			return nil, fmt.Errorf("got %d, %w", w, ErrInvalidWindow)
		}
	}

	ds, err := timedataset.FromObservations(obs)
	if err != nil {
		return nil, fmt.Errorf("unable to build observed series, %w", err)
	}

	r := &Report{
		Latest:    ds.End(),
		Windows:   slices.Clone(windows),
		Actuals:   make(map[period.Period]float64, ds.Len()),
		Forecasts: make(map[string]map[period.Period]float64),
	}
	seen := make(map[period.Period]bool, ds.Len())
	for i, p := range ds.P {
		r.Actuals[p] = ds.Y[i]
		seen[p] = true
		r.Periods = append(r.Periods, p)
	}

	for _, rec := range forecasts {
		byPeriod, exists := r.Forecasts[rec.ModelName]
		if !exists {
			byPeriod = make(map[period.Period]float64)
			r.Forecasts[rec.ModelName] = byPeriod
			r.Models = append(r.Models, rec.ModelName)
		}
		v := math.NaN()
		if rec.Value != nil {
			v = *rec.Value
		}
		byPeriod[rec.Period] = v
		if !seen[rec.Period] {
			seen[rec.Period] = true
			r.Periods = append(r.Periods, rec.Period)
		}
	}
	slices.Sort(r.Models)
	slices.SortFunc(r.Periods, period.Period.Compare)

	for _, model := range r.Models {
		for _, w := range windows {
			r.Accuracy = append(r.Accuracy, r.accuracy(model, w))
		}
	}
	return r, nil
}

func (r *Report) accuracy(model string, window int) Accuracy {
	predicted := make([]float64, 0, window)
	actual := make([]float64, 0, window)
	var n int
	for p := r.Latest.AddMonths(1 - window); !p.After(r.Latest); p = p.Next() {
		a, observed := r.Actuals[p]
		f, forecasted := r.Forecasts[model][p]
		if !observed || !forecasted || math.IsNaN(f) {
			continue
		}
		predicted = append(predicted, f)
		actual = append(actual, a)
		n++
	}

	acc := Accuracy{Model: model, Window: window, N: n, MAE: math.NaN(), RMSE: math.NaN(), MAPE: math.NaN()}
	if n == 0 {
		return acc
	}
	acc.MAE, _ = score.MAE(predicted, actual)
	acc.RMSE, _ = score.RMSE(predicted, actual)
	if mape, err := score.MAPE(predicted, actual); err == nil {
		acc.MAPE = mape
	}
	return acc
}

// Lookup returns the accuracy of model over window.
func (r *Report) Lookup(model string, window int) (Accuracy, bool) {
	for _, acc := range r.Accuracy {
		if acc.Model == model && acc.Window == window {
			return acc, true
		}
	}
	return Accuracy{}, false
}

func formatScore(v float64) string {
	if math.IsNaN(v) {
		return "..."
	}
	return fmt.Sprintf("%.3f", v)
}

// TablePrint writes the accuracy table.
func (r *Report) TablePrint(w io.Writer, prefix, indent string) error {
	if _, err := fmt.Fprintf(w, "%sAccuracy through %s:\n", prefix, r.Latest); err != nil {
		return err
	}
	tbl := tabwriter.NewWriter(w, 0, 0, 1, ' ', tabwriter.AlignRight)
	if _, err := fmt.Fprintf(tbl, "%s%sModel\tMonths\tN\tMAE\tRMSE\tMAPE\t\n", prefix, indent); err != nil {
		return err
	}
	for _, acc := range r.Accuracy {
		if _, err := fmt.Fprintf(tbl, "%s%s%s\t%d\t%d\t%s\t%s\t%s\t\n",
			prefix, indent,
			acc.Model, acc.Window, acc.N,
			formatScore(acc.MAE), formatScore(acc.RMSE), formatScore(acc.MAPE)); err != nil {
			return err
		}
	}
	return tbl.Flush()
}
