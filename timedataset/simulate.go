package timedataset

import (
	"math"
	"math/rand/v2"

	"github.com/aouyang1/go-eiacast/period"
	"gonum.org/v1/gonum/floats"
)

// GenerateP returns n consecutive periods beginning at start.
func GenerateP(start period.Period, n int) []period.Period {
	p := make([]period.Period, 0, n)
	for i := 0; i < n; i++ {
		p = append(p, start.AddMonths(i))
	}
	return p
}

type Series []float64

func (s Series) Add(src Series) Series {
	floats.Add(s, src)
	return s
}

// SetConst overwrites values whose period lies in [start, end).
func (s Series) SetConst(p []period.Period, val float64, start, end period.Period) Series {
	for i := range s {
		if !p[i].Before(start) && p[i].Before(end) {
			s[i] = val
		}
	}
	return s
}

func GenerateConstY(n int, val float64) Series {
	y := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		y = append(y, val)
	}
	return Series(y)
}

// GenerateTrendY returns a linear ramp with the given slope per month.
func GenerateTrendY(n int, slope float64) Series {
	y := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		y = append(y, slope*float64(i))
	}
	return Series(y)
}

// GenerateWaveY returns an annual sinusoid phased on the calendar month so that the same month
// always carries the same seasonal value. Order sets the number of cycles per year.
func GenerateWaveY(p []period.Period, amp, order, monthOffset float64) Series {
	y := make([]float64, 0, len(p))
	for i := range p {
		m := float64(p[i].Month()-1) + monthOffset
		y = append(y, amp*math.Sin(2.0*math.Pi*order*m/12.0))
	}
	return Series(y)
}

// GenerateNoise returns gaussian noise scaled by noiseScale from a seeded source.
func GenerateNoise(n int, noiseScale float64, seed uint64) Series {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	y := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		y = append(y, r.NormFloat64()*noiseScale)
	}
	return Series(y)
}

// GenerateChange returns a level shift of bias plus slope per month from chpt onwards.
func GenerateChange(p []period.Period, chpt period.Period, bias, slope float64) Series {
	y := make([]float64, len(p))
	for i := range p {
		if !p[i].Before(chpt) {
			y[i] = bias + slope*float64(chpt.MonthsUntil(p[i]))
		}
	}
	return Series(y)
}
