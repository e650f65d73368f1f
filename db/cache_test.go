package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recoverycast/ml"
)

// countingStore records how often Get reaches the backing store.
type countingStore struct {
	RecordStore
	gets int
}

func (c *countingStore) Get(ctx context.Context, id string) (*PredictionRecord, error) {
	c.gets++
	return c.RecordStore.Get(ctx, id)
}

func TestCachedStore_GetServedFromCache(t *testing.T) {
	inner := &countingStore{RecordStore: newTestSQLite(t)}
	store, err := NewCachedStore(inner, 2)
	require.NoError(t, err)
	ctx := context.Background()

	record := sampleRecord("Male", "Alcohol", ml.RecoveryShort, time.Now().UTC())
	require.NoError(t, store.Save(ctx, record))

	got, err := store.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Same(t, record, got)
	assert.Equal(t, 0, inner.gets)
}

func TestCachedStore_ReadThroughAndEviction(t *testing.T) {
	backing := newTestSQLite(t)
	ctx := context.Background()
	var records []*PredictionRecord
	for i := 0; i < 3; i++ {
		record := sampleRecord("Female", "Cocaine", ml.RecoveryMedium, time.Now().UTC().Add(time.Duration(i)*time.Second))
		require.NoError(t, backing.Save(ctx, record))
		records = append(records, record)
	}

	inner := &countingStore{RecordStore: backing}
	store, err := NewCachedStore(inner, 2)
	require.NoError(t, err)

	for _, r := range records {
		_, err := store.Get(ctx, r.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, inner.gets)
	assert.Equal(t, 2, store.Len())

	_, err = store.Get(ctx, records[2].ID)
	require.NoError(t, err)
	assert.Equal(t, 3, inner.gets)

	_, err = store.Get(ctx, records[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 4, inner.gets)
}

func TestCachedStore_MissNotCached(t *testing.T) {
	inner := &countingStore{RecordStore: newTestSQLite(t)}
	store, err := NewCachedStore(inner, 0)
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, store.Len())
}
