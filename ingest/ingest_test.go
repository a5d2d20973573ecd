package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aouyang1/go-eiacast/eia"
	"github.com/aouyang1/go-eiacast/period"
	"github.com/aouyang1/go-eiacast/runlog"
	"github.com/aouyang1/go-eiacast/store"
	"github.com/aouyang1/go-eiacast/store/memstore"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeProvider struct {
	records  map[string]any // period -> value, nil value means null
	malform  bool
	err      error
	calls    []string
	extraRaw string
	// stray records are returned whatever range is requested.
	stray map[string]any
}

func (f *fakeProvider) DataField() string { return "sales" }

func (f *fakeProvider) FetchMonth(ctx context.Context, p period.Period) (*eia.Payload, error) {
	return f.fetch(p, p)
}

func (f *fakeProvider) FetchRange(ctx context.Context, start, end period.Period) (*eia.Payload, error) {
	return f.fetch(start, end)
}

func (f *fakeProvider) fetch(start, end period.Period) (*eia.Payload, error) {
	f.calls = append(f.calls, start.String()+".."+end.String())
	if f.err != nil {
		return nil, f.err
	}
	if f.malform {
		return &eia.Payload{Raw: []byte("<html>"), Malformed: fmt.Errorf("invalid json, %w", store.ErrDataQuality)}, nil
	}

	var data []map[string]any
	for p := start; !p.After(end); p = p.Next() {
		if v, exists := f.records[p.String()]; exists {
			data = append(data, map[string]any{"period": p.String(), "sales": v})
		}
	}
	for p, v := range f.stray {
		data = append(data, map[string]any{"period": p, "sales": v})
	}
	raw, err := json.Marshal(map[string]any{"data": data, "extra": f.extraRaw})
	if err != nil {
		return nil, err
	}
	return &eia.Payload{Raw: raw, Records: data, Total: len(data)}, nil
}

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func setup(t *testing.T, prov *fakeProvider) (*Ingestor, *memstore.Store, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	ms := memstore.New()
	c := &clock{t: time.Date(2025, 7, 3, 9, 0, 0, 0, time.UTC)}
	ing := New(prov, ms, ms, runlog.New(ms, logger), logger).WithClock(c.now)
	return ing, ms, logs
}

func seed(t *testing.T, ms *memstore.Store, periods ...string) {
	t.Helper()
	obs := make([]store.Observation, 0, len(periods))
	for i, p := range periods {
		obs = append(obs, store.Observation{Period: period.MustParse(p), Value: decimal.NewFromInt(int64(1000 + i))})
	}
	require.NoError(t, ms.UpsertObservations(context.Background(), obs))
}

func TestPaths(t *testing.T) {
	ts := time.Date(2025, 7, 3, 9, 4, 5, 0, time.UTC)
	assert.Equal(t, "backfill/backfill_20250703_090405_200101_202506.json",
		BackfillPath(ts, period.MustParse("2001-01"), period.MustParse("2025-06")))
	assert.Equal(t, "monthly/202506_20250703_090405.json", MonthlyPath(ts, period.MustParse("2025-06")))
}

func TestRunIncremental(t *testing.T) {
	ctx := context.Background()

	testData := map[string]struct {
		seeded   []string
		provider *fakeProvider
		status   store.Status
		err      error
		applied  int
		blobs    int
		details  string
		calls    int
	}{
		"empty ledger": {
			provider: &fakeProvider{},
			status:   store.StatusError,
			err:      store.ErrConfiguration,
			details:  "run backfill first",
		},
		"not yet published": {
			seeded:   []string{"2025-04", "2025-05"},
			provider: &fakeProvider{records: map[string]any{}},
			status:   store.StatusNoUpdate,
			details:  "no new data available for expected period 2025-06",
			calls:    1,
		},
		"null value is not an update": {
			seeded:   []string{"2025-05"},
			provider: &fakeProvider{records: map[string]any{"2025-06": nil}},
			status:   store.StatusNoUpdate,
			details:  "2025-06",
			calls:    1,
		},
		"malformed payload": {
			seeded:   []string{"2025-05"},
			provider: &fakeProvider{malform: true},
			status:   store.StatusNoUpdate,
			details:  "data quality error",
			calls:    1,
		},
		"provider down": {
			seeded:   []string{"2025-05"},
			provider: &fakeProvider{err: fmt.Errorf("dial tcp, %w", store.ErrTransientIO)},
			status:   store.StatusError,
			err:      store.ErrTransientIO,
			details:  "unable to fetch 2025-06",
			calls:    1,
		},
		"new month": {
			seeded:   []string{"2025-04", "2025-05"},
			provider: &fakeProvider{records: map[string]any{"2025-06": "2410.5"}},
			status:   store.StatusSuccess,
			applied:  1,
			blobs:    1,
			details:  "ingested new month 2025-06; raw saved to monthly/202506_",
			calls:    1,
		},
		"year rollover": {
			seeded:   []string{"2024-12"},
			provider: &fakeProvider{records: map[string]any{"2025-01": 2000.0}},
			status:   store.StatusSuccess,
			applied:  1,
			blobs:    1,
			details:  "ingested new month 2025-01",
			calls:    1,
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			ing, ms, _ := setup(t, td.provider)
			seed(t, ms, td.seeded...)
			before, err := ms.Observations(ctx)
			require.NoError(t, err)

			res, err := ing.RunIncremental(ctx)
			if td.err != nil {
				assert.ErrorIs(t, err, td.err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, td.status, res.Status)
			assert.Equal(t, td.applied, res.Applied)
			assert.Contains(t, res.Details, td.details)
			assert.Len(t, td.provider.calls, td.calls)
			assert.Len(t, ms.BlobPaths(), td.blobs)

			after, err := ms.Observations(ctx)
			require.NoError(t, err)
			assert.Len(t, after, len(before)+td.applied)
			if td.applied == 0 {
				assert.Equal(t, before, after)
			}

			entries := ms.RunLog()
			require.Len(t, entries, 1)
			assert.Equal(t, ScriptMonthly, entries[0].Script)
			assert.Equal(t, td.status, entries[0].Status)
			assert.Equal(t, res.Details, entries[0].Details)
		})
	}
}

func TestRunIncrementalAppliesValue(t *testing.T) {
	ctx := context.Background()
	prov := &fakeProvider{records: map[string]any{"2025-06": "2410.50"}}
	ing, ms, _ := setup(t, prov)
	seed(t, ms, "2025-05")

	res, err := ing.RunIncremental(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2025-06", res.Expected.String())

	obs, err := ms.Observations(ctx)
	require.NoError(t, err)
	require.Len(t, obs, 2)
	assert.True(t, decimal.RequireFromString("2410.5").Equal(obs[1].Value))

	raw, err := ms.Get(ctx, res.RawPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"2410.50"`)
}

func TestRunRange(t *testing.T) {
	ctx := context.Background()
	prov := &fakeProvider{records: map[string]any{
		"2025-01": "1", "2025-02": "2", "2025-03": nil, "2025-04": "4",
	}}
	ing, ms, _ := setup(t, prov)

	res, err := ing.RunRange(ctx, period.MustParse("2025-01"), period.MustParse("2025-06"))
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuccess, res.Status)
	assert.Equal(t, 3, res.Applied)
	assert.Equal(t, []string{"2025-01..2025-06"}, prov.calls)
	assert.Contains(t, res.Details, "backfilled 3 observation(s) (2025-01 to 2025-04)")
	assert.Equal(t, []string{res.RawPath}, ms.BlobPaths())
	assert.Contains(t, res.RawPath, "backfill/backfill_")
	assert.Contains(t, res.RawPath, "_202501_202506.json")

	obs, err := ms.Observations(ctx)
	require.NoError(t, err)
	require.Len(t, obs, 3)
	assert.Equal(t, "2025-04", obs[2].Period.String())
}

func TestRunRangeIgnoresUnrequestedPeriods(t *testing.T) {
	ctx := context.Background()
	prov := &fakeProvider{
		records: map[string]any{"2025-01": "1", "2025-02": "2"},
		stray:   map[string]any{"2024-12": "9", "2025-03": "9"},
	}
	ing, ms, logs := setup(t, prov)

	res, err := ing.RunRange(ctx, period.MustParse("2025-01"), period.MustParse("2025-02"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)
	assert.Contains(t, res.Details, "backfilled 2 observation(s) (2025-01 to 2025-02)")
	assert.Equal(t, 2, logs.FilterMessage("ignoring unrequested period").Len())

	obs, err := ms.Observations(ctx)
	require.NoError(t, err)
	require.Len(t, obs, 2)
	assert.Equal(t, "2025-01", obs[0].Period.String())
	assert.Equal(t, "2025-02", obs[1].Period.String())
}

func TestRunRangeIdempotent(t *testing.T) {
	ctx := context.Background()
	prov := &fakeProvider{records: map[string]any{"2025-01": "1", "2025-02": "2"}}
	ing, ms, _ := setup(t, prov)
	start, end := period.MustParse("2025-01"), period.MustParse("2025-02")

	_, err := ing.RunRange(ctx, start, end)
	require.NoError(t, err)
	first, err := ms.Observations(ctx)
	require.NoError(t, err)

	_, err = ing.RunRange(ctx, start, end)
	require.NoError(t, err)
	second, err := ms.Observations(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, ms.BlobPaths(), 2)
	assert.Len(t, ms.RunLog(), 2)
}

func TestRunRangeOrderIndependent(t *testing.T) {
	ctx := context.Background()
	early := period.MustParse("2025-01")
	late := period.MustParse("2025-03")

	run := func(revise bool) []store.Observation {
		prov := &fakeProvider{records: map[string]any{"2025-01": "1", "2025-02": "2", "2025-03": "3"}}
		ing, ms, _ := setup(t, prov)
		if revise {
			_, err := ing.RunRange(ctx, late, late)
			require.NoError(t, err)
			_, err = ing.RunRange(ctx, early, late)
			require.NoError(t, err)
		} else {
			_, err := ing.RunRange(ctx, early, late)
			require.NoError(t, err)
			_, err = ing.RunRange(ctx, late, late)
			require.NoError(t, err)
		}
		obs, err := ms.Observations(ctx)
		require.NoError(t, err)
		return obs
	}
	assert.Equal(t, run(false), run(true))
}

func TestRunRangeEmpty(t *testing.T) {
	prov := &fakeProvider{records: map[string]any{}}
	ing, ms, _ := setup(t, prov)

	res, err := ing.RunRange(context.Background(), period.MustParse("2030-01"), period.MustParse("2030-06"))
	require.NoError(t, err)
	assert.Equal(t, store.StatusNoUpdate, res.Status)
	assert.Equal(t, "provider returned no data for 2030-01 to 2030-06", res.Details)
	assert.Empty(t, ms.BlobPaths())
	assert.Len(t, ms.RunLog(), 1)
}

func TestRunRangeInvalid(t *testing.T) {
	prov := &fakeProvider{}
	ing, ms, _ := setup(t, prov)

	_, err := ing.RunRange(context.Background(), period.MustParse("2025-06"), period.MustParse("2025-01"))
	assert.ErrorIs(t, err, store.ErrConfiguration)
	assert.Empty(t, prov.calls)
	require.Len(t, ms.RunLog(), 1)
	assert.Equal(t, store.StatusError, ms.RunLog()[0].Status)
}

func TestStorageFailuresLeaveStoreUnchanged(t *testing.T) {
	ctx := context.Background()

	testData := map[string]struct {
		method string
		blobs  int
	}{
		"archive fails": {method: "PutOnce", blobs: 0},
		"upsert fails":  {method: "UpsertObservations", blobs: 1},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			prov := &fakeProvider{records: map[string]any{"2025-06": "1"}}
			ing, ms, _ := setup(t, prov)
			seed(t, ms, "2025-05")
			ms.FailOn(td.method, errors.New("unreachable"))

			res, err := ing.RunIncremental(ctx)
			assert.ErrorIs(t, err, store.ErrTransientIO)
			assert.Equal(t, store.StatusError, res.Status)

			latest, ok, err := ms.LatestPeriod(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "2025-05", latest.String())
			assert.Len(t, ms.BlobPaths(), td.blobs)

			entries := ms.RunLog()
			require.Len(t, entries, 1)
			assert.Equal(t, store.StatusError, entries[0].Status)
		})
	}
}

func TestOutlierIsLoggedButApplied(t *testing.T) {
	ctx := context.Background()
	prov := &fakeProvider{records: map[string]any{"2025-01": "99999"}}
	ing, ms, logs := setup(t, prov)

	history := make([]string, 0, 36)
	for p := period.MustParse("2022-01"); p.Before(period.MustParse("2025-01")); p = p.Next() {
		history = append(history, p.String())
	}
	seed(t, ms, history...)

	res, err := ing.RunIncremental(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuccess, res.Status)
	require.Len(t, res.Outliers, 1)
	assert.Equal(t, "2025-01", res.Outliers[0].String())
	assert.Equal(t, 1, logs.FilterMessage("observation outside historical range").Len())

	latest, _, err := ms.LatestPeriod(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2025-01", latest.String())
}
