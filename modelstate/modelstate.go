// Package modelstate persists model binaries in a blob store and their metadata in a keyed
// table, replacing both together under optimistic concurrency.
package modelstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aouyang1/go-eiacast/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const blobContentType = "application/json"

// Meta is the metadata written alongside a blob.
type Meta = store.ModelState

// Store combines the model metadata table with the model blob store.
type Store struct {
	meta   store.ModelMetaStore
	blobs  store.BlobStore
	logger *zap.Logger
	now    func() time.Time
}

func New(meta store.ModelMetaStore, blobs store.BlobStore, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		meta:   meta,
		blobs:  blobs,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the timestamp source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// BlobPath is where one write attempt of version v of a model's blob is stored. The attempt
// id keeps racing writers from sharing a path.
func BlobPath(name string, version int64, attempt string) string {
	return fmt.Sprintf("%s/v%06d_%s.json", name, version, attempt)
}

// Get returns the metadata row for name with its blob loaded when a location is set.
// Returns store.ErrNotFound if no row exists.
func (s *Store) Get(ctx context.Context, name string) (*store.ModelState, error) {
	m, err := s.Meta(ctx, name)
	if err != nil {
		return nil, err
	}
	if m.Location == "" {
		return m, nil
	}

	blob, err := s.blobs.Get(ctx, m.Location)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("model %s blob missing at %s, %w, %w", name, m.Location, err, store.ErrConfiguration)
		}
		return nil, fmt.Errorf("unable to read model %s blob, %w, %w", name, err, store.ErrTransientIO)
	}
	m.Blob = blob
	return m, nil
}

// Meta returns the metadata row for name without reading its blob.
func (s *Store) Meta(ctx context.Context, name string) (*store.ModelState, error) {
	m, err := s.meta.GetModel(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("unable to read model %s, %w, %w", name, err, store.ErrTransientIO)
	}
	return m, nil
}

// Put writes blob under a new version path and swaps the metadata row if its version is still
// expectedVersion. On conflict the new blob is removed and store.ErrVersionConflict returned;
// on success the previous blob is removed. meta.Location and meta.Version are ignored.
func (s *Store) Put(ctx context.Context, name string, blob []byte, meta Meta, expectedVersion int64) (*store.ModelState, error) {
	if _, err := s.EnsureExists(ctx, name); err != nil {
		return nil, err
	}
	current, err := s.meta.GetModel(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("unable to read model %s, %w, %w", name, err, store.ErrTransientIO)
	}
	if current.Version != expectedVersion {
		return nil, fmt.Errorf("model %s at version %d, expected %d, %w",
			name, current.Version, expectedVersion, store.ErrVersionConflict)
	}

	path := BlobPath(name, expectedVersion+1, uuid.NewString())
	if err := s.blobs.Put(ctx, path, blob, blobContentType); err != nil {
		return nil, fmt.Errorf("unable to write model %s blob, %w, %w", name, err, store.ErrTransientIO)
	}

	meta.Name = name
	meta.Location = path
	meta.UpdatedAt = s.now()
	updated, err := s.meta.UpdateModel(ctx, meta, expectedVersion)
	if err != nil {
		s.removeBlob(ctx, path)
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, fmt.Errorf("unable to update model %s, %w", name, err)
		}
		return nil, fmt.Errorf("unable to update model %s, %w, %w", name, err, store.ErrTransientIO)
	}

	if current.Location != "" && current.Location != path {
		s.removeBlob(ctx, current.Location)
	}
	updated.Blob = blob
	return updated, nil
}

// EnsureExists creates a placeholder row with no blob for name if none exists and reports
// whether it did.
func (s *Store) EnsureExists(ctx context.Context, name string) (bool, error) {
	created, err := s.meta.InsertModelIfAbsent(ctx, name, s.now())
	if err != nil {
		return false, fmt.Errorf("unable to ensure model %s, %w, %w", name, err, store.ErrTransientIO)
	}
	if created {
		s.logger.Info("created model placeholder", zap.String("model", name))
	}
	return created, nil
}

func (s *Store) removeBlob(ctx context.Context, path string) {
	if err := s.blobs.Delete(ctx, path); err != nil {
		s.logger.Warn("unable to remove model blob", zap.String("path", path), zap.Error(err))
	}
}
