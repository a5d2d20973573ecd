package timedataset

import (
	"testing"

	"github.com/aouyang1/go-eiacast/period"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateP(t *testing.T) {
	res := GenerateP(period.MustParse("2024-11"), 4)
	require.Len(t, res, 4)
	assert.Equal(t, "2024-11", res[0].String())
	assert.Equal(t, "2025-02", res[3].String())
}

func TestSeries(t *testing.T) {
	numPnts := 7
	s := GenerateConstY(numPnts, 1)

	res := s.Add(GenerateConstY(numPnts, 2))
	require.Equal(t, Series([]float64{3, 3, 3, 3, 3, 3, 3}), res)

	p := GenerateP(period.MustParse("2025-01"), numPnts)
	s.SetConst(p, 2.0, period.MustParse("2025-03"), period.MustParse("2025-05"))
	assert.Equal(t, Series([]float64{3, 3, 2, 2, 3, 3, 3}), s)
}

func TestGenerateWaveYRepeatsYearly(t *testing.T) {
	p := GenerateP(period.MustParse("2020-01"), 36)
	y := GenerateWaveY(p, 10, 1, 0)
	for i := 12; i < len(y); i++ {
		assert.InDelta(t, y[i-12], y[i], 1e-9)
	}
	assert.InDelta(t, 10.0, y[3], 1e-9)
}

func TestGenerateNoiseSeeded(t *testing.T) {
	assert.Equal(t, GenerateNoise(10, 1, 42), GenerateNoise(10, 1, 42))
	assert.NotEqual(t, GenerateNoise(10, 1, 42), GenerateNoise(10, 1, 43))
}

func TestGenerateChange(t *testing.T) {
	p := GenerateP(period.MustParse("2025-01"), 5)
	res := GenerateChange(p, period.MustParse("2025-03"), 10, 1)
	assert.Equal(t, Series([]float64{0, 0, 10, 11, 12}), res)
}
