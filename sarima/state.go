package sarima

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/aouyang1/go-eiacast/period"
	"github.com/aouyang1/go-eiacast/score"
	"github.com/goccy/go-json"
)

// State is the serializable form of a trained model: its options, coefficients, fit
// statistics and the absorbed history needed to continue filtering.
type State struct {
	Options      *Options        `json:"options"`
	Coefficients Coefficients    `json:"coefficients"`
	Intercept    float64         `json:"intercept"`
	Variance     float64         `json:"variance"`
	LogLik       float64         `json:"log_likelihood"`
	AIC          float64         `json:"aic"`
	BIC          float64         `json:"bic"`
	Scores       *score.Scores   `json:"scores,omitempty"`
	Start        period.Period   `json:"start"`
	Values       []float64       `json:"values"`
	Imputed      []period.Period `json:"imputed,omitempty"`
	Residuals    []float64       `json:"residuals"`
}

// NewFromState restores a model from its serialized State. The instance can extend and
// forecast immediately and does not need to be trained again.
func NewFromState(s State) (*Model, error) {
	if s.Options == nil {
		return nil, fmt.Errorf("missing options, %w", ErrInvalidState)
	}
	opt := s.Options.copy()
	o := opt.Order
	if err := o.Validate(); err != nil {
		return nil, err
	}

	c := s.Coefficients.copy()
	if len(c.AR) != o.P || len(c.MA) != o.Q || len(c.SAR) != o.SP || len(c.SMA) != o.SQ {
		return nil, fmt.Errorf("coefficients do not match order %s, %w", o, ErrInvalidState)
	}
	if s.Start.IsZero() {
		return nil, fmt.Errorf("missing start period, %w", ErrInvalidState)
	}

	diffPoly := differencePoly(o)
	nd := len(diffPoly) - 1
	if len(s.Values) <= nd || len(s.Residuals) != len(s.Values)-nd {
		return nil, fmt.Errorf("%d values and %d residuals for order %s, %w",
			len(s.Values), len(s.Residuals), o, ErrInvalidState)
	}

	values := slices.Clone(s.Values)
	imputed := make([]bool, len(values))
	for _, p := range s.Imputed {
		i := s.Start.MonthsUntil(p)
		if i < 0 || i >= len(values) {
			return nil, fmt.Errorf("imputed period %s outside history, %w", p, ErrInvalidState)
		}
		imputed[i] = true
	}

	m := &Model{
		opt:       opt,
		coef:      c,
		intercept: s.Intercept,
		variance:  s.Variance,
		logLik:    s.LogLik,
		aic:       s.AIC,
		bic:       s.BIC,
		diffPoly:  diffPoly,
		start:     s.Start,
		values:    values,
		imputed:   imputed,
		diffed:    difference(values, diffPoly),
		resid:     slices.Clone(s.Residuals),
		trained:   true,
	}
	m.arLags, m.maLags = c.lags(o)
	if s.Scores != nil {
		sc := *s.Scores
		m.scores = &sc
	}
	return m, nil
}

// Decode restores a model from the bytes produced by State.Encode.
func Decode(b []byte) (*Model, error) {
	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("unable to decode sarima state, %v, %w", err, ErrInvalidState)
	}
	return NewFromState(s)
}

// State returns the serializable format of the model.
func (m *Model) State() (State, error) {
	if m == nil {
		return State{}, ErrUninitializedModel
	}
	if !m.trained {
		return State{}, ErrUntrainedModel
	}

	s := State{
		Options:      m.opt.copy(),
		Coefficients: m.coef.copy(),
		Intercept:    m.intercept,
		Variance:     m.variance,
		LogLik:       m.logLik,
		AIC:          m.aic,
		BIC:          m.bic,
		Start:        m.start,
		Values:       slices.Clone(m.values),
		Imputed:      m.Imputed(),
		Residuals:    slices.Clone(m.resid),
	}
	if m.scores != nil {
		sc := *m.scores
		s.Scores = &sc
	}
	return s, nil
}

// Encode serializes the state. Encoding the same state always yields the same bytes.
func (s State) Encode() ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("unable to encode sarima state, %w", err)
	}
	return b, nil
}

// LastPeriod returns the most recent period absorbed by the state.
func (s State) LastPeriod() period.Period {
	if len(s.Values) == 0 {
		return period.Period{}
	}
	return s.Start.AddMonths(len(s.Values) - 1)
}

func indentExpand(indent string, n int) string {
	return strings.Repeat(indent, n)
}

// TablePrint writes a human readable summary of the state.
func (s State) TablePrint(w io.Writer, prefix, indent string) error {
	if _, err := fmt.Fprintf(w, "%s%sSARIMA:\n", prefix, indentExpand(indent, 0)); err != nil {
		return err
	}
	if s.Options != nil {
		if _, err := fmt.Fprintf(w, "%s%sOrder: %s\n", prefix, indentExpand(indent, 1), s.Options.Order); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "%s%sAbsorbed: %s to %s (%d imputed)\n",
		prefix, indentExpand(indent, 1), s.Start, s.LastPeriod(), len(s.Imputed)); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "%s%sCoefficients:\n", prefix, indentExpand(indent, 0)); err != nil {
		return err
	}
	for _, row := range []struct {
		name string
		v    []float64
	}{
		{"ar", s.Coefficients.AR},
		{"ma", s.Coefficients.MA},
		{"seasonal_ar", s.Coefficients.SAR},
		{"seasonal_ma", s.Coefficients.SMA},
	} {
		for i, v := range row.v {
			if _, err := fmt.Fprintf(w, "%s%s%s.L%d: %.4f\n", prefix, indentExpand(indent, 1), row.name, i+1, v); err != nil {
				return err
			}
		}
	}
	if _, err := fmt.Fprintf(w, "%s%sVariance: %.3f    AIC: %.3f    BIC: %.3f\n",
		prefix, indentExpand(indent, 1), s.Variance, s.AIC, s.BIC); err != nil {
		return err
	}

	if s.Scores != nil {
		if _, err := fmt.Fprintf(w, "%s%sScores:\n", prefix, indentExpand(indent, 0)); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s%sMAPE: %.3f    MSE: %.3f    R2: %.3f\n",
			prefix, indentExpand(indent, 1),
			s.Scores.MAPE,
			s.Scores.MSE,
			s.Scores.R2,
		); err != nil {
			return err
		}
	}
	return nil
}
