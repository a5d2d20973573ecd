// Package store defines the persisted records of the pipeline and the storage capabilities
// the pipeline depends on. Implementations live in the memstore, postgres and s3blob
// subpackages.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/aouyang1/go-eiacast/period"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrConfiguration marks missing prerequisite state that requires operator action and
	// must not be retried.
	ErrConfiguration = errors.New("configuration error")
	// ErrTransientIO marks an unreachable or timed out provider or datastore. The whole run
	// is safe to retry since nothing was mutated.
	ErrTransientIO = errors.New("transient io error")
	// ErrDataQuality marks a malformed provider payload.
	ErrDataQuality = errors.New("data quality error")

	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("model state version conflict")
	ErrBlobExists      = errors.New("blob already exists at path")
)

// Observation is a single monthly value keyed by its period.
type Observation struct {
	Period period.Period   `json:"period"`
	Value  decimal.Decimal `json:"value"`
}

// ModelState is the persisted record of a model: its serialized state location and the
// metadata describing which observations the state has absorbed.
type ModelState struct {
	Name           string          `json:"model_name"`
	Location       string          `json:"saved_location,omitempty"`
	Blob           []byte          `json:"-"`
	TrainedFrom    *period.Period  `json:"trained_from,omitempty"`
	TrainedThrough *period.Period  `json:"trained_through,omitempty"`
	LastObserved   *period.Period  `json:"last_observed,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// AbsorptionPoint returns the last period the state has absorbed, preferring LastObserved
// over TrainedThrough.
func (m *ModelState) AbsorptionPoint() (period.Period, bool) {
	if m == nil {
		return period.Period{}, false
	}
	if m.LastObserved != nil && !m.LastObserved.IsZero() {
		return *m.LastObserved, true
	}
	if m.TrainedThrough != nil && !m.TrainedThrough.IsZero() {
		return *m.TrainedThrough, true
	}
	return period.Period{}, false
}

// ForecastRecord is a forecast for a target period from a named model. A nil Value records
// that the model could not produce a forecast.
type ForecastRecord struct {
	Period    period.Period `json:"period"`
	ModelName string        `json:"model_name"`
	Value     *float64      `json:"forecast"`
	CreatedAt time.Time     `json:"created_at"`
}

// Status is the outcome of a single pipeline invocation.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusNoUpdate Status = "no_update"
	StatusWarning  Status = "warning"
	StatusError    Status = "error"
)

// RunLogEntry records the outcome of one invocation of a pipeline stage.
type RunLogEntry struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Script    string    `json:"script"`
	Status    Status    `json:"status"`
	Details   string    `json:"details"`
}

// ObservationStore is the durable keyed table of observations.
type ObservationStore interface {
	// UpsertObservations inserts or overwrites every observation by period in a single
	// atomic batch.
	UpsertObservations(ctx context.Context, obs []Observation) error
	// Observations returns every stored observation ordered by ascending period.
	Observations(ctx context.Context) ([]Observation, error)
	// LatestPeriod returns the maximum stored period, false when the table is empty.
	LatestPeriod(ctx context.Context) (period.Period, bool, error)
}

// ModelMetaStore is the durable keyed table of model metadata rows.
type ModelMetaStore interface {
	GetModel(ctx context.Context, name string) (*ModelState, error)
	// InsertModelIfAbsent creates a placeholder row and reports whether it was created.
	InsertModelIfAbsent(ctx context.Context, name string, now time.Time) (bool, error)
	// UpdateModel replaces the row's location and metadata when its version still equals
	// expectedVersion, incrementing the version. Returns ErrVersionConflict otherwise.
	UpdateModel(ctx context.Context, state ModelState, expectedVersion int64) (*ModelState, error)
}

// ForecastSink is the append-only forecast table.
type ForecastSink interface {
	// AppendForecast stores rec unless a forecast for the same period and model exists,
	// reporting whether it was inserted.
	AppendForecast(ctx context.Context, rec ForecastRecord) (bool, error)
	// Forecasts returns every stored forecast ordered by period then model name.
	Forecasts(ctx context.Context) ([]ForecastRecord, error)
}

// RunLogSink is the append-only run log table.
type RunLogSink interface {
	AppendRunLog(ctx context.Context, entry RunLogEntry) error
}

// BlobStore is an object store addressed by opaque paths.
type BlobStore interface {
	// PutOnce writes data to path and returns ErrBlobExists if the path is taken.
	PutOnce(ctx context.Context, path string, data []byte, contentType string) error
	// Put writes data to path, replacing any existing object.
	Put(ctx context.Context, path string, data []byte, contentType string) error
	// Get returns the object at path or ErrNotFound.
	Get(ctx context.Context, path string) ([]byte, error)
	// Delete removes the object at path. Deleting a missing path is not an error.
	Delete(ctx context.Context, path string) error
}
