// Package runlog records the outcome of every pipeline invocation in the run log table and
// in the structured log.
package runlog

import (
	"context"
	"fmt"
	"time"

	"github.com/aouyang1/go-eiacast/metrics"
	"github.com/aouyang1/go-eiacast/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// recordTimeout bounds the append once the caller's context no longer can.
const recordTimeout = 10 * time.Second

// Recorder appends run log entries.
type Recorder struct {
	sink   store.RunLogSink
	logger *zap.Logger
	now    func() time.Time
}

// New returns a Recorder writing to sink. A nil logger discards log lines.
func New(sink store.RunLogSink, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		sink:   sink,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the timestamp source.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

// Record appends one entry for script and emits one log line at a level matching status. The
// append ignores cancellation of ctx so runs interrupted mid way still leave an entry. A
// failure to append is logged and returned.
func (r *Recorder) Record(ctx context.Context, script string, status store.Status, details string) (store.RunLogEntry, error) {
	entry := store.RunLogEntry{
		ID:        uuid.New(),
		Timestamp: r.now(),
		Script:    script,
		Status:    status,
		Details:   details,
	}
	metrics.RunsTotal.WithLabelValues(script, string(status)).Inc()

	fields := []zap.Field{
		zap.String("run_id", entry.ID.String()),
		zap.String("script", script),
		zap.String("status", string(status)),
		zap.String("details", details),
	}
	switch status {
	case store.StatusError:
		r.logger.Error("run finished", fields...)
	case store.StatusWarning:
		r.logger.Warn("run finished", fields...)
	default:
		r.logger.Info("run finished", fields...)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := r.sink.AppendRunLog(ctx, entry); err != nil {
		r.logger.Error("unable to append run log", append(fields, zap.Error(err))...)
		return entry, fmt.Errorf("unable to append run log, %w", err)
	}
	return entry, nil
}
