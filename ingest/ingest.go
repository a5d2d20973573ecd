// Package ingest pulls observations from the provider, archives the raw response and upserts
// the normalized values into the observation store.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/aouyang1/go-eiacast/eia"
	"github.com/aouyang1/go-eiacast/ledger"
	"github.com/aouyang1/go-eiacast/metrics"
	"github.com/aouyang1/go-eiacast/period"
	"github.com/aouyang1/go-eiacast/runlog"
	"github.com/aouyang1/go-eiacast/stats"
	"github.com/aouyang1/go-eiacast/store"
	"go.uber.org/zap"
)

const (
	ScriptBackfill = "backfill"
	ScriptMonthly  = "monthly_ingest"

	rawContentType  = "application/json"
	rawTimestamp    = "20060102_150405"
	minOutlierHist  = 24
	outlierLowPerc  = 0.25
	outlierHighPerc = 0.75
	outlierFactor   = 3.0
)

// Provider fetches raw payloads for one month or a range of months.
type Provider interface {
	FetchMonth(ctx context.Context, p period.Period) (*eia.Payload, error)
	FetchRange(ctx context.Context, start, end period.Period) (*eia.Payload, error)
	DataField() string
}

// Result summarizes one ingestion run.
type Result struct {
	Status   store.Status
	Applied  int
	Expected period.Period
	RawPath  string
	Details  string
	Outliers []period.Period
}

// Ingestor applies provider data to the observation store. Every run appends exactly one
// run log entry.
type Ingestor struct {
	provider Provider
	obs      store.ObservationStore
	raw      store.BlobStore
	ledger   *ledger.Ledger
	recorder *runlog.Recorder
	logger   *zap.Logger
	now      func() time.Time
}

func New(provider Provider, obs store.ObservationStore, raw store.BlobStore, recorder *runlog.Recorder, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		provider: provider,
		obs:      obs,
		raw:      raw,
		ledger:   ledger.New(obs),
		recorder: recorder,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the timestamp used for raw snapshot paths.
func (i *Ingestor) WithClock(now func() time.Time) *Ingestor {
	i.now = now
	return i
}

// BackfillPath is the raw snapshot path for a range fetch.
func BackfillPath(ts time.Time, start, end period.Period) string {
	return fmt.Sprintf("backfill/backfill_%s_%s_%s.json", ts.Format(rawTimestamp), start.Compact(), end.Compact())
}

// MonthlyPath is the raw snapshot path for a single month fetch.
func MonthlyPath(ts time.Time, p period.Period) string {
	return fmt.Sprintf("monthly/%s_%s.json", p.Compact(), ts.Format(rawTimestamp))
}

// RunRange fetches [start, end] with one provider call and applies the whole batch.
func (i *Ingestor) RunRange(ctx context.Context, start, end period.Period) (*Result, error) {
	if end.Before(start) {
		err := fmt.Errorf("range end %s is before start %s, %w", end, start, store.ErrConfiguration)
		return i.fail(ctx, ScriptBackfill, err)
	}

	payload, err := i.provider.FetchRange(ctx, start, end)
	if err != nil {
		return i.fail(ctx, ScriptBackfill, fmt.Errorf("unable to fetch %s to %s, %w", start, end, err))
	}

	obs := i.within(i.normalize(payload), start, end)
	if len(obs) == 0 {
		details := fmt.Sprintf("provider returned no data for %s to %s", start, end)
		if payload.Malformed != nil {
			details += fmt.Sprintf(" (%v)", payload.Malformed)
		}
		return i.finish(ctx, ScriptBackfill, &Result{Status: store.StatusNoUpdate, Details: details})
	}

	path := BackfillPath(i.now(), start, end)
	res, err := i.apply(ctx, path, payload, obs)
	if err != nil {
		return i.fail(ctx, ScriptBackfill, err)
	}
	res.Details = fmt.Sprintf("backfilled %d observation(s) (%s to %s); raw saved to %s",
		res.Applied, obs[0].Period, obs[len(obs)-1].Period, path)
	return i.finish(ctx, ScriptBackfill, res)
}

// RunIncremental fetches the month after the latest stored period and applies it if the
// provider has published it.
func (i *Ingestor) RunIncremental(ctx context.Context) (*Result, error) {
	latest, ok, err := i.ledger.Latest(ctx)
	if err != nil {
		return i.fail(ctx, ScriptMonthly, err)
	}
	if !ok {
		err := fmt.Errorf("no observations stored; run backfill first, %w", store.ErrConfiguration)
		return i.fail(ctx, ScriptMonthly, err)
	}

	expected := ledger.NextExpected(latest)
	payload, err := i.provider.FetchMonth(ctx, expected)
	if err != nil {
		return i.fail(ctx, ScriptMonthly, fmt.Errorf("unable to fetch %s, %w", expected, err))
	}

	obs := i.within(i.normalize(payload), expected, expected)
	if len(obs) == 0 {
		details := fmt.Sprintf("no new data available for expected period %s", expected)
		if payload.Malformed != nil {
			details += fmt.Sprintf(" (%v)", payload.Malformed)
		}
		return i.finish(ctx, ScriptMonthly, &Result{Status: store.StatusNoUpdate, Expected: expected, Details: details})
	}

	path := MonthlyPath(i.now(), expected)
	res, err := i.apply(ctx, path, payload, obs)
	if err != nil {
		return i.fail(ctx, ScriptMonthly, err)
	}
	res.Expected = expected
	res.Details = fmt.Sprintf("ingested new month %s; raw saved to %s", expected, path)
	return i.finish(ctx, ScriptMonthly, res)
}

func (i *Ingestor) normalize(payload *eia.Payload) []store.Observation {
	if payload.Malformed != nil {
		i.logger.Warn("discarding malformed payload", zap.Error(payload.Malformed))
		return nil
	}
	obs, st := eia.Normalize(payload.Records, i.provider.DataField())
	if st.Dropped() > 0 {
		i.logger.Warn("dropped provider records",
			zap.Int("records", st.Records),
			zap.Int("missing_field", st.MissingField),
			zap.Int("invalid_period", st.InvalidPeriod),
			zap.Int("null_value", st.NullValue),
			zap.Int("duplicates", st.DuplicatesSeen),
		)
	}
	return obs
}

// within keeps the observations inside [start, end], logging every period the provider
// returned outside of the request.
func (i *Ingestor) within(obs []store.Observation, start, end period.Period) []store.Observation {
	kept := obs[:0]
	for _, o := range obs {
		if !o.Period.Before(start) && !o.Period.After(end) {
			kept = append(kept, o)
			continue
		}
		i.logger.Warn("ignoring unrequested period",
			zap.String("start", start.String()),
			zap.String("end", end.String()),
			zap.String("period", o.Period.String()),
		)
	}
	return kept
}

// apply archives the raw payload before touching the observation store so a failed archive
// leaves the store unchanged.
func (i *Ingestor) apply(ctx context.Context, path string, payload *eia.Payload, obs []store.Observation) (*Result, error) {
	if err := i.raw.PutOnce(ctx, path, payload.Raw, rawContentType); err != nil {
		return nil, fmt.Errorf("unable to archive raw payload to %s, %w, %w", path, err, store.ErrTransientIO)
	}

	outliers := i.checkQuality(ctx, obs)

	if err := i.obs.UpsertObservations(ctx, obs); err != nil {
		return nil, fmt.Errorf("unable to upsert %d observation(s), %w, %w", len(obs), err, store.ErrTransientIO)
	}
	metrics.ObservationsUpserted.Add(float64(len(obs)))

	return &Result{
		Status:   store.StatusSuccess,
		Applied:  len(obs),
		RawPath:  path,
		Outliers: outliers,
	}, nil
}

// checkQuality flags incoming values outside wide Tukey fences of the stored history. It only
// logs; the values are applied regardless.
func (i *Ingestor) checkQuality(ctx context.Context, incoming []store.Observation) []period.Period {
	history, err := i.obs.Observations(ctx)
	if err != nil {
		i.logger.Warn("skipping data quality check", zap.Error(err))
		return nil
	}

	merged := make(map[period.Period]float64, len(history)+len(incoming))
	for _, o := range history {
		merged[o.Period] = o.Value.InexactFloat64()
	}
	for _, o := range incoming {
		merged[o.Period] = o.Value.InexactFloat64()
	}
	if len(merged) < minOutlierHist {
		return nil
	}

	idx := make(map[period.Period]int, len(incoming))
	y := make([]float64, 0, len(merged))
	ps := make([]period.Period, 0, len(merged))
	for p, v := range merged {
		ps = append(ps, p)
		y = append(y, v)
	}
	for j, p := range ps {
		idx[p] = j
	}

	flagged := make(map[int]bool)
	for _, j := range stats.DetectOutliers(y, outlierLowPerc, outlierHighPerc, outlierFactor) {
		flagged[j] = true
	}

	var outliers []period.Period
	for _, o := range incoming {
		if !flagged[idx[o.Period]] {
			continue
		}
		outliers = append(outliers, o.Period)
		i.logger.Warn("observation outside historical range",
			zap.String("period", o.Period.String()),
			zap.String("value", o.Value.String()),
		)
	}
	return outliers
}

func (i *Ingestor) finish(ctx context.Context, script string, res *Result) (*Result, error) {
	if _, err := i.recorder.Record(ctx, script, res.Status, res.Details); err != nil {
		return res, err
	}
	return res, nil
}

func (i *Ingestor) fail(ctx context.Context, script string, err error) (*Result, error) {
	_, _ = i.recorder.Record(ctx, script, store.StatusError, err.Error())
	return &Result{Status: store.StatusError, Details: err.Error()}, err
}
