// Package sarima fits a multiplicative seasonal ARIMA model by conditional sum of squares and
// keeps it current by filtering new observations through the fitted coefficients.
package sarima

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/aouyang1/go-eiacast/period"
	"github.com/aouyang1/go-eiacast/score"
	"github.com/aouyang1/go-eiacast/timedataset"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	ErrUninitializedModel       = errors.New("uninitialized sarima model")
	ErrUntrainedModel           = errors.New("sarima model has not been trained yet")
	ErrInsufficientTrainingData = errors.New("insufficient training data for sarima order")
	ErrNonContiguous            = errors.New("training data has missing months")
	ErrStalePeriod              = errors.New("observation is not after the last absorbed period")
	ErrInvalidOrder             = errors.New("invalid sarima order")
	ErrInvalidHorizon           = errors.New("forecast horizon must be at least 1")
	ErrInvalidState             = errors.New("invalid sarima state")
)

// coefficient magnitudes are squashed into (-coefBound, coefBound)
const coefBound = 0.99

// Model is a seasonal ARIMA model of a monthly series. After Fit the coefficients are fixed;
// Extend only advances the filter state.
type Model struct {
	opt *Options

	coef      Coefficients
	intercept float64
	variance  float64
	logLik    float64
	aic       float64
	bic       float64
	scores    *score.Scores

	diffPoly []float64 // (1-B)^d (1-B^m)^D with diffPoly[0] = 1
	arLags   []float64 // z_t = sum arLags[k-1] z_{t-k} + ...
	maLags   []float64 // ... + e_t + sum maLags[k-1] e_{t-k}

	start   period.Period
	values  []float64 // original scale including imputed months
	imputed []bool
	diffed  []float64 // values after differencing, offset by len(diffPoly)-1
	resid   []float64 // one-step residuals of diffed

	trained bool
}

// Coefficients are the estimated non-seasonal and seasonal ARMA weights.
type Coefficients struct {
	AR  []float64 `json:"ar"`
	MA  []float64 `json:"ma"`
	SAR []float64 `json:"seasonal_ar"`
	SMA []float64 `json:"seasonal_ma"`
}

func (c Coefficients) copy() Coefficients {
	return Coefficients{
		AR:  slices.Clone(c.AR),
		MA:  slices.Clone(c.MA),
		SAR: slices.Clone(c.SAR),
		SMA: slices.Clone(c.SMA),
	}
}

// Results holds point forecasts and prediction interval bounds per period.
type Results struct {
	P        []period.Period `json:"periods"`
	Forecast []float64       `json:"forecast"`
	Lower    []float64       `json:"lower"`
	Upper    []float64       `json:"upper"`
}

// New creates an untrained model with the given options. If none are provided, a default
// is used
func New(opt *Options) (*Model, error) {
	opt = opt.copy()
	if err := opt.Order.Validate(); err != nil {
		return nil, err
	}
	return &Model{opt: opt}, nil
}

// Fit estimates the coefficients on a contiguous monthly series and absorbs every
// observation into the filter state.
func (m *Model) Fit(p []period.Period, y []float64) error {
	if m == nil {
		return ErrUninitializedModel
	}

	ds, err := timedataset.NewMonthlyDataset(p, y)
	if err != nil {
		return fmt.Errorf("unable to build training dataset, %w", err)
	}
	if missing := ds.Missing(); len(missing) > 0 {
		return fmt.Errorf("%d missing months starting %s, %w", len(missing), missing[0], ErrNonContiguous)
	}

	o := m.opt.Order
	if ds.Len() < o.minObservations() {
		return fmt.Errorf("order %s needs %d observations but got %d, %w",
			o, o.minObservations(), ds.Len(), ErrInsufficientTrainingData)
	}

	diffPoly := differencePoly(o)
	w := difference(ds.Y, diffPoly)

	// a constant is only estimated for undifferenced series
	var mu float64
	if len(diffPoly) == 1 {
		mu = stat.Mean(w, nil)
	}

	x := make([]float64, o.NumParams())
	if len(x) > 0 {
		problem := optimize.Problem{
			Func: func(x []float64) float64 {
				c := unpack(o, x)
				arLags, maLags := c.lags(o)
				return sumSquares(residuals(w, mu, arLags, maLags), len(arLags))
			},
		}
		settings := &optimize.Settings{
			FuncEvaluations: m.opt.MaxIterations,
		}
		res, err := optimize.Minimize(problem, x, settings, &optimize.NelderMead{SimplexSize: 0.1})
		if err != nil {
			return fmt.Errorf("unable to minimize conditional sum of squares, %w", err)
		}
		x = res.X
	}

	m.coef = unpack(o, x)
	m.intercept = mu
	m.diffPoly = diffPoly
	m.arLags, m.maLags = m.coef.lags(o)
	m.start = ds.Start()
	m.values = ds.Y
	m.imputed = make([]bool, ds.Len())
	m.diffed = w
	m.resid = residuals(w, mu, m.arLags, m.maLags)

	m.calculateVariance()

	scores, err := score.NewScores(m.fitted(), ds.Y)
	if err != nil {
		return fmt.Errorf("unable to score training fit, %w", err)
	}
	m.scores = scores
	m.trained = true
	return nil
}

// Extend absorbs observations strictly after the last absorbed period without re-estimating
// any coefficient. Months skipped between absorbed observations are imputed with the model's
// one-step prediction.
func (m *Model) Extend(p []period.Period, y []float64) error {
	if m == nil {
		return ErrUninitializedModel
	}
	if !m.trained {
		return ErrUntrainedModel
	}
	if len(p) == 0 && len(y) == 0 {
		return nil
	}

	ds, err := timedataset.NewMonthlyDataset(p, y)
	if err != nil {
		return fmt.Errorf("unable to build extension dataset, %w", err)
	}
	if last := m.LastPeriod(); !ds.Start().After(last) {
		return fmt.Errorf("%s is not after %s, %w", ds.Start(), last, ErrStalePeriod)
	}

	for i := range ds.P {
		for gap := m.LastPeriod().Next(); gap.Before(ds.P[i]); gap = gap.Next() {
			m.absorb(0, true)
		}
		m.absorb(ds.Y[i], false)
	}
	return nil
}

func (m *Model) absorb(y float64, impute bool) {
	pred := predictNext(m.diffed, m.resid, m.intercept, m.arLags, m.maLags)
	if impute {
		y = pred - laggedSum(m.values, m.diffPoly)
	}
	m.values = append(m.values, y)
	m.imputed = append(m.imputed, impute)

	w := diffAt(m.values, m.diffPoly)
	var e float64
	if !impute {
		e = w - pred
	}
	m.diffed = append(m.diffed, w)
	m.resid = append(m.resid, e)
}

// Forecast returns h point forecasts following the last absorbed period with prediction
// intervals at the configured confidence.
func (m *Model) Forecast(h int) (*Results, error) {
	if m == nil {
		return nil, ErrUninitializedModel
	}
	if !m.trained {
		return nil, ErrUntrainedModel
	}
	if h < 1 {
		return nil, ErrInvalidHorizon
	}

	w := slices.Clone(m.diffed)
	e := slices.Clone(m.resid)
	vals := slices.Clone(m.values)

	conf := m.opt.Confidence
	if conf <= 0 || conf >= 1 {
		conf = DefaultConfidence
	}
	z := distuv.UnitNormal.Quantile(0.5 + conf/2)
	psi := m.psiWeights(h)

	res := &Results{
		P:        make([]period.Period, 0, h),
		Forecast: make([]float64, 0, h),
		Lower:    make([]float64, 0, h),
		Upper:    make([]float64, 0, h),
	}
	last := m.LastPeriod()
	var cumPsi float64
	for i := 0; i < h; i++ {
		pred := predictNext(w, e, m.intercept, m.arLags, m.maLags)
		yhat := pred - laggedSum(vals, m.diffPoly)
		w = append(w, pred)
		e = append(e, 0)
		vals = append(vals, yhat)

		cumPsi += psi[i] * psi[i]
		se := math.Sqrt(m.variance * cumPsi)

		res.P = append(res.P, last.AddMonths(i+1))
		res.Forecast = append(res.Forecast, yhat)
		res.Lower = append(res.Lower, yhat-z*se)
		res.Upper = append(res.Upper, yhat+z*se)
	}
	return res, nil
}

// psiWeights returns the first h weights of the infinite moving average representation of the
// integrated model.
func (m *Model) psiWeights(h int) []float64 {
	arFull := make([]float64, len(m.arLags)+1)
	arFull[0] = 1
	for k, a := range m.arLags {
		arFull[k+1] = -a
	}
	g := polyMul(m.diffPoly, arFull)

	psi := make([]float64, h)
	psi[0] = 1
	for j := 1; j < h; j++ {
		var v float64
		if j <= len(m.maLags) {
			v = m.maLags[j-1]
		}
		for k := 1; k < len(g) && k <= j; k++ {
			v -= g[k] * psi[j-k]
		}
		psi[j] = v
	}
	return psi
}

func (m *Model) calculateVariance() {
	cond := len(m.arLags)
	n := len(m.resid) - cond
	k := m.opt.Order.NumParams()
	if len(m.diffPoly) == 1 {
		k++
	}

	sse := sumSquares(m.resid, cond)
	m.variance = sse / float64(n)
	if n > k {
		m.variance = sse / float64(n-k)
	}

	m.logLik, m.aic, m.bic = 0, 0, 0
	if m.variance <= 0 || n <= 0 {
		return
	}
	nf := float64(n)
	m.logLik = -nf/2*math.Log(2*math.Pi) - nf/2*math.Log(m.variance) - sse/(2*m.variance)
	m.aic = -2*m.logLik + 2*float64(k)
	m.bic = -2*m.logLik + float64(k)*math.Log(nf)
}

// fitted returns the in-sample one-step predictions on the original scale. Points used to
// condition the filter are NaN.
func (m *Model) fitted() []float64 {
	nd := len(m.diffPoly) - 1
	out := make([]float64, len(m.values))
	for i := range out {
		j := i - nd
		if j < len(m.arLags) {
			out[i] = math.NaN()
			continue
		}
		out[i] = m.values[i] - m.resid[j]
	}
	return out
}

// LastPeriod returns the most recent absorbed period.
func (m *Model) LastPeriod() period.Period {
	if m == nil || len(m.values) == 0 {
		return period.Period{}
	}
	return m.start.AddMonths(len(m.values) - 1)
}

// StartPeriod returns the first period the model was fit on.
func (m *Model) StartPeriod() period.Period {
	if m == nil {
		return period.Period{}
	}
	return m.start
}

// Len returns the number of absorbed months including imputed ones.
func (m *Model) Len() int {
	if m == nil {
		return 0
	}
	return len(m.values)
}

// Imputed returns the months that were filled in by the model rather than observed.
func (m *Model) Imputed() []period.Period {
	if m == nil {
		return nil
	}
	var out []period.Period
	for i, imp := range m.imputed {
		if imp {
			out = append(out, m.start.AddMonths(i))
		}
	}
	return out
}

func (m *Model) Order() Order {
	if m == nil {
		return Order{}
	}
	return m.opt.Order
}

func (m *Model) Coefficients() Coefficients {
	if m == nil {
		return Coefficients{}
	}
	return m.coef.copy()
}

// Variance is the estimated innovation variance of the differenced series.
func (m *Model) Variance() float64 {
	if m == nil {
		return 0
	}
	return m.variance
}

// Scores returns the fit scores for evaluating how well the resulting model
// fit the training data
func (m *Model) Scores() score.Scores {
	if m == nil || m.scores == nil {
		return score.Scores{}
	}
	return *m.scores
}

// Residuals returns the one-step residuals of the differenced series
func (m *Model) Residuals() []float64 {
	if m == nil {
		return nil
	}
	return slices.Clone(m.resid)
}

func unpack(o Order, x []float64) Coefficients {
	squash := func(v []float64) []float64 {
		out := make([]float64, len(v))
		for i := range v {
			out[i] = coefBound * math.Tanh(v[i])
		}
		return out
	}
	i := 0
	next := func(n int) []float64 {
		v := squash(x[i : i+n])
		i += n
		return v
	}
	return Coefficients{
		AR:  next(o.P),
		MA:  next(o.Q),
		SAR: next(o.SP),
		SMA: next(o.SQ),
	}
}

// lags expands the multiplicative AR and MA polynomials into per-lag weights.
func (c Coefficients) lags(o Order) ([]float64, []float64) {
	arPoly := []float64{1}
	for _, v := range c.AR {
		arPoly = append(arPoly, -v)
	}
	sarPoly := seasonalPoly(c.SAR, o.M, -1)
	arProd := polyMul(arPoly, sarPoly)

	maPoly := []float64{1}
	maPoly = append(maPoly, c.MA...)
	smaPoly := seasonalPoly(c.SMA, o.M, 1)
	maProd := polyMul(maPoly, smaPoly)

	arLags := make([]float64, len(arProd)-1)
	for k := 1; k < len(arProd); k++ {
		arLags[k-1] = -arProd[k]
	}
	return arLags, slices.Clone(maProd[1:])
}

func seasonalPoly(coef []float64, m int, sign float64) []float64 {
	if len(coef) == 0 {
		return []float64{1}
	}
	poly := make([]float64, len(coef)*m+1)
	poly[0] = 1
	for j, v := range coef {
		poly[(j+1)*m] = sign * v
	}
	return poly
}

func differencePoly(o Order) []float64 {
	poly := []float64{1}
	for i := 0; i < o.D; i++ {
		poly = polyMul(poly, []float64{1, -1})
	}
	if o.SD > 0 {
		seasonal := make([]float64, o.M+1)
		seasonal[0], seasonal[o.M] = 1, -1
		for i := 0; i < o.SD; i++ {
			poly = polyMul(poly, seasonal)
		}
	}
	return poly
}

func polyMul(a, b []float64) []float64 {
	out := make([]float64, len(a)+len(b)-1)
	for i := range a {
		for j := range b {
			out[i+j] += a[i] * b[j]
		}
	}
	return out
}

func difference(y, diffPoly []float64) []float64 {
	nd := len(diffPoly) - 1
	if len(y) <= nd {
		return nil
	}
	w := make([]float64, 0, len(y)-nd)
	for t := nd; t < len(y); t++ {
		w = append(w, diffAt(y[:t+1], diffPoly))
	}
	return w
}

// diffAt applies the differencing polynomial at the last index of y.
func diffAt(y, diffPoly []float64) float64 {
	t := len(y) - 1
	var v float64
	for k, c := range diffPoly {
		v += c * y[t-k]
	}
	return v
}

// laggedSum returns sum_{k>=1} diffPoly[k] * y[t-k] for the next index t = len(y).
func laggedSum(y, diffPoly []float64) float64 {
	t := len(y)
	var v float64
	for k := 1; k < len(diffPoly); k++ {
		v += diffPoly[k] * y[t-k]
	}
	return v
}

func predictNext(w, e []float64, mu float64, arLags, maLags []float64) float64 {
	t := len(w)
	pred := mu
	for k, a := range arLags {
		if i := t - k - 1; i >= 0 {
			pred += a * (w[i] - mu)
		}
	}
	for k, b := range maLags {
		if i := t - k - 1; i >= 0 {
			pred += b * e[i]
		}
	}
	return pred
}

// residuals filters w with fixed coefficients. The first len(arLags) residuals condition the
// recursion and are zero.
func residuals(w []float64, mu float64, arLags, maLags []float64) []float64 {
	e := make([]float64, 0, len(w))
	for t := range w {
		if t < len(arLags) {
			e = append(e, 0)
			continue
		}
		e = append(e, w[t]-predictNext(w[:t], e, mu, arLags, maLags))
	}
	return e
}

func sumSquares(e []float64, from int) float64 {
	var sse float64
	for i := from; i < len(e); i++ {
		sse += e[i] * e[i]
	}
	return sse
}
