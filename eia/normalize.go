package eia

import (
	"math"
	"sort"
	"strings"

	"github.com/aouyang1/go-eiacast/period"
	"github.com/aouyang1/go-eiacast/store"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// NormalizeStats counts the records Normalize discarded.
type NormalizeStats struct {
	Records        int
	MissingField   int
	InvalidPeriod  int
	NullValue      int
	DuplicatesSeen int
}

// Dropped is the number of records that did not produce an observation.
func (s NormalizeStats) Dropped() int {
	return s.MissingField + s.InvalidPeriod + s.NullValue + s.DuplicatesSeen
}

// Normalize converts provider records into observations ordered by ascending period. Records
// missing the period or value field are dropped, values that are not numeric or not finite as
// a float64 are treated as null and null values are excluded. When a period repeats the last occurrence wins.
func Normalize(records []map[string]any, field string) ([]store.Observation, NormalizeStats) {
	stats := NormalizeStats{Records: len(records)}
	byPeriod := make(map[period.Period]store.Observation, len(records))

	for _, rec := range records {
		rawPeriod, hasPeriod := rec["period"]
		rawValue, hasValue := rec[field]
		if !hasPeriod || !hasValue {
			stats.MissingField++
			continue
		}

		ps, ok := rawPeriod.(string)
		if !ok {
			stats.InvalidPeriod++
			continue
		}
		p, err := period.Parse(ps)
		if err != nil {
			stats.InvalidPeriod++
			continue
		}

		v, ok := toDecimal(rawValue)
		if !ok {
			stats.NullValue++
			continue
		}

		if _, exists := byPeriod[p]; exists {
			stats.DuplicatesSeen++
		}
		byPeriod[p] = store.Observation{Period: p, Value: v}
	}

	obs := make([]store.Observation, 0, len(byPeriod))
	for _, o := range byPeriod {
		obs = append(obs, o)
	}
	sort.Slice(obs, func(i, j int) bool {
		return obs[i].Period.Before(obs[j].Period)
	})
	return obs, stats
}

func toDecimal(v any) (decimal.Decimal, bool) {
	var d decimal.Decimal
	var err error
	switch t := v.(type) {
	case json.Number:
		d, err = decimal.NewFromString(t.String())
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return decimal.Decimal{}, false
		}
		d = decimal.NewFromFloat(t)
	case string:
		d, err = decimal.NewFromString(strings.TrimSpace(t))
	default:
		return decimal.Decimal{}, false
	}
	if err != nil {
		return decimal.Decimal{}, false
	}
	if f := d.InexactFloat64(); math.IsInf(f, 0) || math.IsNaN(f) {
		return decimal.Decimal{}, false
	}
	return d, true
}
