package modelstate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aouyang1/go-eiacast/period"
	"github.com/aouyang1/go-eiacast/store"
	"github.com/aouyang1/go-eiacast/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)

func newStore(ms *memstore.Store) *Store {
	return New(ms, ms, nil).WithClock(func() time.Time { return fixedNow })
}

func ptr(s string) *period.Period {
	p := period.MustParse(s)
	return &p
}

func TestGetNotFound(t *testing.T) {
	_, err := newStore(memstore.New()).Get(context.Background(), "sarima_v1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEnsureExists(t *testing.T) {
	ctx := context.Background()
	ms := memstore.New()
	s := newStore(ms)

	created, err := s.EnsureExists(ctx, "seasonal_naive")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.EnsureExists(ctx, "seasonal_naive")
	require.NoError(t, err)
	assert.False(t, created)

	m, err := s.Get(ctx, "seasonal_naive")
	require.NoError(t, err)
	assert.Empty(t, m.Location)
	assert.Nil(t, m.Blob)
	assert.Nil(t, m.LastObserved)
	assert.Equal(t, int64(0), m.Version)
	assert.Equal(t, fixedNow, m.CreatedAt)
}

func TestPutReplacesBlobAndMetadata(t *testing.T) {
	ctx := context.Background()
	ms := memstore.New()
	s := newStore(ms)

	first, err := s.Put(ctx, "sarima_v1", []byte(`{"v":1}`), Meta{
		TrainedFrom:    ptr("2001-01"),
		TrainedThrough: ptr("2025-02"),
		LastObserved:   ptr("2025-02"),
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Version)
	assert.True(t, strings.HasPrefix(first.Location, "sarima_v1/v000001_"))
	assert.Equal(t, []string{first.Location}, ms.BlobPaths())

	second, err := s.Put(ctx, "sarima_v1", []byte(`{"v":2}`), Meta{
		TrainedFrom:    ptr("2001-01"),
		TrainedThrough: ptr("2025-02"),
		LastObserved:   ptr("2025-03"),
	}, first.Version)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Version)
	assert.Equal(t, []string{second.Location}, ms.BlobPaths())

	got, err := s.Get(ctx, "sarima_v1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":2}`), got.Blob)
	assert.Equal(t, "2025-03", got.LastObserved.String())
	assert.Equal(t, "2025-02", got.TrainedThrough.String())
	assert.Equal(t, second.Location, got.Location)
}

func TestPutStaleVersion(t *testing.T) {
	ctx := context.Background()
	ms := memstore.New()
	s := newStore(ms)

	first, err := s.Put(ctx, "sarima_v1", []byte("a"), Meta{LastObserved: ptr("2025-02")}, 0)
	require.NoError(t, err)

	_, err = s.Put(ctx, "sarima_v1", []byte("b"), Meta{LastObserved: ptr("2025-03")}, 0)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	got, err := s.Get(ctx, "sarima_v1")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got.Blob)
	assert.Equal(t, first.Version, got.Version)
	assert.Equal(t, []string{first.Location}, ms.BlobPaths())
}

// racingMeta commits a competing update between the version check and the swap.
type racingMeta struct {
	*memstore.Store
	raced bool
}

func (r *racingMeta) UpdateModel(ctx context.Context, state store.ModelState, expectedVersion int64) (*store.ModelState, error) {
	if !r.raced {
		r.raced = true
		competing := state
		competing.Location = "competing"
		if _, err := r.Store.UpdateModel(ctx, competing, expectedVersion); err != nil {
			return nil, err
		}
	}
	return r.Store.UpdateModel(ctx, state, expectedVersion)
}

func TestPutLosesRace(t *testing.T) {
	ctx := context.Background()
	ms := memstore.New()
	s := New(&racingMeta{Store: ms}, ms, nil)

	_, err := s.Put(ctx, "sarima_v1", []byte("mine"), Meta{LastObserved: ptr("2025-03")}, 0)
	assert.ErrorIs(t, err, store.ErrVersionConflict)
	assert.Empty(t, ms.BlobPaths())

	m, err := ms.GetModel(ctx, "sarima_v1")
	require.NoError(t, err)
	assert.Equal(t, "competing", m.Location)
}

func TestPutMetadataFailureRemovesBlob(t *testing.T) {
	ctx := context.Background()
	ms := memstore.New()
	s := newStore(ms)
	ms.FailOn("UpdateModel", errors.New("connection reset"))

	_, err := s.Put(ctx, "sarima_v1", []byte("x"), Meta{}, 0)
	assert.ErrorIs(t, err, store.ErrTransientIO)
	assert.Empty(t, ms.BlobPaths())
}

func TestPutBlobFailureLeavesMetadata(t *testing.T) {
	ctx := context.Background()
	ms := memstore.New()
	s := newStore(ms)
	_, err := s.Put(ctx, "sarima_v1", []byte("a"), Meta{LastObserved: ptr("2025-02")}, 0)
	require.NoError(t, err)

	ms.FailOn("Put", errors.New("bucket unavailable"))
	_, err = s.Put(ctx, "sarima_v1", []byte("b"), Meta{LastObserved: ptr("2025-03")}, 1)
	assert.ErrorIs(t, err, store.ErrTransientIO)
	ms.FailOn("Put", nil)

	got, err := s.Get(ctx, "sarima_v1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, "2025-02", got.LastObserved.String())
}

func TestGetMissingBlob(t *testing.T) {
	ctx := context.Background()
	ms := memstore.New()
	s := newStore(ms)
	m, err := s.Put(ctx, "sarima_v1", []byte("a"), Meta{}, 0)
	require.NoError(t, err)
	require.NoError(t, ms.Delete(ctx, m.Location))

	_, err = s.Get(ctx, "sarima_v1")
	assert.ErrorIs(t, err, store.ErrConfiguration)

	ms.FailOn("GetModel", errors.New("timeout"))
	_, err = s.Get(ctx, "sarima_v1")
	assert.ErrorIs(t, err, store.ErrTransientIO)
}

func TestMetaSkipsBlob(t *testing.T) {
	ctx := context.Background()
	ms := memstore.New()
	s := newStore(ms)
	m, err := s.Put(ctx, "sarima_v1", []byte("a"), Meta{LastObserved: ptr("2025-02")}, 0)
	require.NoError(t, err)
	require.NoError(t, ms.Delete(ctx, m.Location))

	got, err := s.Meta(ctx, "sarima_v1")
	require.NoError(t, err)
	assert.Nil(t, got.Blob)
	assert.Equal(t, m.Location, got.Location)
	assert.Equal(t, int64(1), got.Version)
}
