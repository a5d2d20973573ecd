// Package memstore is an in-memory implementation of every storage capability in the store
// package. It backs the unit tests and the dry-run mode of the binaries.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/aouyang1/go-eiacast/period"
	"github.com/aouyang1/go-eiacast/store"
)

// Store holds all tables and blobs in memory. It is safe for concurrent use.
type Store struct {
	mu sync.Mutex

	observations map[period.Period]store.Observation
	models       map[string]store.ModelState
	forecasts    []store.ForecastRecord
	runLog       []store.RunLogEntry
	blobs        map[string][]byte

	failures map[string]error
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		observations: make(map[period.Period]store.Observation),
		models:       make(map[string]store.ModelState),
		blobs:        make(map[string][]byte),
		failures:     make(map[string]error),
	}
}

// FailOn makes the named method return err until cleared with a nil err. Used to simulate
// unreachable storage.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

func (s *Store) failure(method string) error {
	if err, exists := s.failures[method]; exists {
		return fmt.Errorf("%s, %w", method, err)
	}
	return nil
}

func (s *Store) UpsertObservations(ctx context.Context, obs []store.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("UpsertObservations"); err != nil {
		return err
	}
	for _, o := range obs {
		s.observations[o.Period] = o
	}
	return nil
}

func (s *Store) Observations(ctx context.Context) ([]store.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("Observations"); err != nil {
		return nil, err
	}
	out := slices.Collect(maps.Values(s.observations))
	sort.Slice(out, func(i, j int) bool {
		return out[i].Period.Before(out[j].Period)
	})
	return out, nil
}

func (s *Store) LatestPeriod(ctx context.Context) (period.Period, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("LatestPeriod"); err != nil {
		return period.Period{}, false, err
	}
	latest, ok := period.Max(slices.Collect(maps.Keys(s.observations))...)
	return latest, ok, nil
}

func (s *Store) GetModel(ctx context.Context, name string) (*store.ModelState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("GetModel"); err != nil {
		return nil, err
	}
	m, exists := s.models[name]
	if !exists {
		return nil, fmt.Errorf("model %s, %w", name, store.ErrNotFound)
	}
	return copyModel(m), nil
}

func (s *Store) InsertModelIfAbsent(ctx context.Context, name string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("InsertModelIfAbsent"); err != nil {
		return false, err
	}
	if _, exists := s.models[name]; exists {
		return false, nil
	}
	s.models[name] = store.ModelState{Name: name, CreatedAt: now, UpdatedAt: now}
	return true, nil
}

func (s *Store) UpdateModel(ctx context.Context, state store.ModelState, expectedVersion int64) (*store.ModelState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("UpdateModel"); err != nil {
		return nil, err
	}
	current, exists := s.models[state.Name]
	if !exists {
		return nil, fmt.Errorf("model %s, %w", state.Name, store.ErrNotFound)
	}
	if current.Version != expectedVersion {
		return nil, fmt.Errorf("model %s at version %d, expected %d, %w",
			state.Name, current.Version, expectedVersion, store.ErrVersionConflict)
	}
	state = *copyModel(state)
	state.Blob = nil
	state.CreatedAt = current.CreatedAt
	state.Version = current.Version + 1
	s.models[state.Name] = state
	return copyModel(state), nil
}

func (s *Store) AppendForecast(ctx context.Context, rec store.ForecastRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("AppendForecast"); err != nil {
		return false, err
	}
	for _, f := range s.forecasts {
		if f.Period == rec.Period && f.ModelName == rec.ModelName {
			return false, nil
		}
	}
	if rec.Value != nil {
		v := *rec.Value
		rec.Value = &v
	}
	s.forecasts = append(s.forecasts, rec)
	return true, nil
}

func (s *Store) Forecasts(ctx context.Context) ([]store.ForecastRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("Forecasts"); err != nil {
		return nil, err
	}
	out := slices.Clone(s.forecasts)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Period.Equal(out[j].Period) {
			return out[i].Period.Before(out[j].Period)
		}
		return out[i].ModelName < out[j].ModelName
	})
	return out, nil
}

func (s *Store) AppendRunLog(ctx context.Context, entry store.RunLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("AppendRunLog"); err != nil {
		return err
	}
	s.runLog = append(s.runLog, entry)
	return nil
}

// RunLog returns a copy of every appended run log entry in insertion order.
func (s *Store) RunLog() []store.RunLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.runLog)
}

func (s *Store) PutOnce(ctx context.Context, path string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("PutOnce"); err != nil {
		return err
	}
	if _, exists := s.blobs[path]; exists {
		return fmt.Errorf("%s, %w", path, store.ErrBlobExists)
	}
	s.blobs[path] = slices.Clone(data)
	return nil
}

func (s *Store) Put(ctx context.Context, path string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("Put"); err != nil {
		return err
	}
	s.blobs[path] = slices.Clone(data)
	return nil
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("Get"); err != nil {
		return nil, err
	}
	data, exists := s.blobs[path]
	if !exists {
		return nil, fmt.Errorf("%s, %w", path, store.ErrNotFound)
	}
	return slices.Clone(data), nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("Delete"); err != nil {
		return err
	}
	delete(s.blobs, path)
	return nil
}

// BlobPaths returns every stored blob path in lexical order.
func (s *Store) BlobPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := slices.Collect(maps.Keys(s.blobs))
	sort.Strings(paths)
	return paths
}

func copyModel(m store.ModelState) *store.ModelState {
	out := m
	out.Params = slices.Clone(m.Params)
	out.TrainedFrom = copyPeriod(m.TrainedFrom)
	out.TrainedThrough = copyPeriod(m.TrainedThrough)
	out.LastObserved = copyPeriod(m.LastObserved)
	return &out
}

func copyPeriod(p *period.Period) *period.Period {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

var (
	_ store.ObservationStore = (*Store)(nil)
	_ store.ModelMetaStore   = (*Store)(nil)
	_ store.ForecastSink     = (*Store)(nil)
	_ store.RunLogSink       = (*Store)(nil)
	_ store.BlobStore        = (*Store)(nil)
)
