package forecaster

import (
	"bytes"
	"testing"

	"github.com/aouyang1/go-eiacast/period"
	"github.com/aouyang1/go-eiacast/sarima"
	"github.com/aouyang1/go-eiacast/score"
	"github.com/aouyang1/go-eiacast/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParams(t *testing.T) {
	_, err := NewParams(sarima.State{})
	assert.ErrorIs(t, err, sarima.ErrInvalidState)

	s := sarima.State{
		Options:      sarima.NewDefaultOptions(),
		Coefficients: sarima.Coefficients{AR: []float64{0.5}, MA: []float64{0.1, -0.2}, SAR: []float64{0.3}, SMA: []float64{-0.4}},
		Variance:     12.5,
		AIC:          100.25,
		BIC:          110.75,
		Scores:       &score.Scores{MAPE: 1.5, N: 10},
	}
	p, err := NewParams(s)
	require.NoError(t, err)

	raw, err := p.Encode()
	require.NoError(t, err)
	decoded, err := DecodeParams(raw)
	require.NoError(t, err)
	assert.Equal(t, sarima.DefaultOrder(), decoded.Order)
	assert.Equal(t, s.Coefficients, decoded.Coefficients)
	assert.Equal(t, 100.25, decoded.AIC)
	assert.Equal(t, 1.5, decoded.Scores.MAPE)

	_, err = DecodeParams([]byte("{"))
	assert.Error(t, err)
}

func TestResultsTablePrint(t *testing.T) {
	primary, benchmark := 101.25, 99.5

	testData := map[string]struct {
		r        Results
		prefix   string
		indent   string
		expected string
	}{
		"no update": {
			r: Results{
				Status:          store.StatusNoUpdate,
				ModelName:       "sarima_v1",
				AbsorbedFrom:    period.MustParse("2025-03"),
				AbsorbedThrough: period.MustParse("2025-03"),
				Version:         4,
			},
			indent: "  ",
			expected: `sarima_v1: no_update
  Absorbed: 0 observation(s), 2025-03 to 2025-03 (version 4)
`,
		},
		"success with null benchmark": {
			r: Results{
				Status:          store.StatusSuccess,
				ModelName:       "sarima_v1",
				Absorbed:        2,
				Imputed:         []period.Period{period.MustParse("2025-04")},
				AbsorbedFrom:    period.MustParse("2025-03"),
				AbsorbedThrough: period.MustParse("2025-05"),
				Version:         5,
				Target:          period.MustParse("2025-06"),
				Primary:         &primary,
			},
			prefix: "> ",
			indent: "\t",
			expected: `> sarima_v1: success
> 	Absorbed: 2 observation(s), 2025-03 to 2025-05 (version 5)
> 	Imputed: 2025-04
> 	Forecast 2025-06: primary 101.250    benchmark null
`,
		},
		"success": {
			r: Results{
				Status:          store.StatusSuccess,
				ModelName:       "sarima_v1",
				Absorbed:        1,
				AbsorbedFrom:    period.MustParse("2025-03"),
				AbsorbedThrough: period.MustParse("2025-04"),
				Version:         2,
				Target:          period.MustParse("2025-05"),
				Primary:         &primary,
				Benchmark:       &benchmark,
			},
			indent: "  ",
			expected: `sarima_v1: success
  Absorbed: 1 observation(s), 2025-03 to 2025-04 (version 2)
  Forecast 2025-05: primary 101.250    benchmark 99.500
`,
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, td.r.TablePrint(&buf, td.prefix, td.indent))
			assert.Equal(t, td.expected, buf.String())
		})
	}
}

func TestTrainResultsTablePrint(t *testing.T) {
	r := TrainResults{
		Status:    store.StatusSuccess,
		ModelName: "sarima_v1",
		From:      period.MustParse("2001-01"),
		Through:   period.MustParse("2025-03"),
		Rows:      291,
		Location:  "sarima_v1/v000001_abc.json",
		Version:   1,
		Params:    &Params{Order: sarima.Order{D: 1, M: 12}, AIC: 10, BIC: 12.5},
	}

	var buf bytes.Buffer
	require.NoError(t, r.TablePrint(&buf, "", "  "))
	assert.Equal(t, `sarima_v1: success
  Trained: 291 row(s), 2001-01 to 2025-03 (version 1)
  Saved: sarima_v1/v000001_abc.json
  Order: (0,1,0)(0,0,0,12)    AIC: 10.000    BIC: 12.500
`, buf.String())
}
