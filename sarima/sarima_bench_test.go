package sarima

import (
	"testing"

	"github.com/aouyang1/go-eiacast/period"
	"github.com/pkg/profile"
)

var benchForecastRes *Results

func BenchmarkFit(b *testing.B) {
	p, y, _ := seasonalSeries(period.MustParse("2001-01"), 293, 5)

	b.ResetTimer()
	for b.Loop() {
		m, err := New(nil)
		if err != nil {
			panic(err)
		}
		if err := m.Fit(p, y); err != nil {
			panic(err)
		}
	}
}

func BenchmarkExtendFromState(b *testing.B) {
	p, y, _ := seasonalSeries(period.MustParse("2001-01"), 294, 5)
	m, err := New(nil)
	if err != nil {
		panic(err)
	}
	if err := m.Fit(p[:293], y[:293]); err != nil {
		panic(err)
	}
	s, err := m.State()
	if err != nil {
		panic(err)
	}
	blob, err := s.Encode()
	if err != nil {
		panic(err)
	}

	b.ResetTimer()
	defer profile.Start(profile.CPUProfile, profile.ProfilePath(b.TempDir()), profile.Quiet).Stop()
	for b.Loop() {
		restored, err := Decode(blob)
		if err != nil {
			panic(err)
		}
		if err := restored.Extend(p[293:], y[293:]); err != nil {
			panic(err)
		}
		benchForecastRes, err = restored.Forecast(1)
		if err != nil {
			panic(err)
		}
	}
}
