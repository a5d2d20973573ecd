package forecaster

import (
	"github.com/aouyang1/go-eiacast/period"
	"github.com/aouyang1/go-eiacast/timedataset"
)

// SeasonalNaive forecasts target as the observed value lag months earlier. It returns nil
// when that month was never observed.
func SeasonalNaive(ds *timedataset.TimeDataset, target period.Period, lag int) *float64 {
	if ds == nil {
		return nil
	}
	v, ok := ds.Lookup(target.AddMonths(-lag))
	if !ok {
		return nil
	}
	return &v
}
