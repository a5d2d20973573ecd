package timedataset

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/aouyang1/go-eiacast/period"
	"github.com/aouyang1/go-eiacast/store"
)

var (
	ErrNoTrainingData     = errors.New("no training data")
	ErrNonMontonic        = errors.New("period feature is not monotonic")
	ErrDatasetLenMismatch = errors.New("period feature has a different length than observations")
	ErrNonFiniteValue     = errors.New("observation value is not finite")
)

// TimeDataset represents a monthly series storing a slice of periods and values.
// Both must be of the same length and periods must be strictly increasing.
type TimeDataset struct {
	P []period.Period
	Y []float64
}

// NewMonthlyDataset returns an instance of a TimeDataset given a period and value slice.
func NewMonthlyDataset(p []period.Period, y []float64) (*TimeDataset, error) {
	if len(y) == 0 {
		return nil, ErrNoTrainingData
	}
	if len(p) != len(y) {
		return nil, fmt.Errorf(
			"period feature has length of %d, but values has a length of %d, %w",
			len(p), len(y), ErrDatasetLenMismatch,
		)
	}

	for i := 0; i < len(p); i++ {
		if i > 0 && !p[i].After(p[i-1]) {
			return nil, fmt.Errorf("non-monotonic at %d, %s, %w", i, p[i], ErrNonMontonic)
		}
		if math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			return nil, fmt.Errorf("value at %s, %w", p[i], ErrNonFiniteValue)
		}
	}

	return &TimeDataset{
		P: slices.Clone(p),
		Y: slices.Clone(y),
	}, nil
}

// FromObservations builds a dataset from stored observations, sorting them by period.
func FromObservations(obs []store.Observation) (*TimeDataset, error) {
	sorted := slices.Clone(obs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Period.Before(sorted[j].Period)
	})

	p := make([]period.Period, 0, len(sorted))
	y := make([]float64, 0, len(sorted))
	for _, o := range sorted {
		p = append(p, o.Period)
		y = append(y, o.Value.InexactFloat64())
	}
	return NewMonthlyDataset(p, y)
}

func (td *TimeDataset) Copy() *TimeDataset {
	return &TimeDataset{
		P: slices.Clone(td.P),
		Y: slices.Clone(td.Y),
	}
}

// Len returns the number of observations.
func (td *TimeDataset) Len() int {
	if td == nil {
		return 0
	}
	return len(td.P)
}

// Start returns the first period of the dataset.
func (td *TimeDataset) Start() period.Period {
	if td.Len() == 0 {
		return period.Period{}
	}
	return td.P[0]
}

// End returns the last period of the dataset.
func (td *TimeDataset) End() period.Period {
	if td.Len() == 0 {
		return period.Period{}
	}
	return td.P[len(td.P)-1]
}

// After returns the observations strictly after p. The result may be empty.
func (td *TimeDataset) After(p period.Period) *TimeDataset {
	idx := sort.Search(td.Len(), func(i int) bool {
		return td.P[i].After(p)
	})
	return &TimeDataset{
		P: slices.Clone(td.P[idx:]),
		Y: slices.Clone(td.Y[idx:]),
	}
}

// Through returns the observations at or before p. The result may be empty.
func (td *TimeDataset) Through(p period.Period) *TimeDataset {
	idx := sort.Search(td.Len(), func(i int) bool {
		return td.P[i].After(p)
	})
	return &TimeDataset{
		P: slices.Clone(td.P[:idx]),
		Y: slices.Clone(td.Y[:idx]),
	}
}

// Lookup returns the value observed at p.
func (td *TimeDataset) Lookup(p period.Period) (float64, bool) {
	idx, found := slices.BinarySearchFunc(td.P, p, func(a, b period.Period) int {
		return a.Compare(b)
	})
	if !found {
		return 0, false
	}
	return td.Y[idx], true
}

// Missing returns every period between the first and last observation that has no value.
func (td *TimeDataset) Missing() []period.Period {
	var missing []period.Period
	for i := 1; i < td.Len(); i++ {
		for p := td.P[i-1].Next(); p.Before(td.P[i]); p = p.Next() {
			missing = append(missing, p)
		}
	}
	return missing
}
