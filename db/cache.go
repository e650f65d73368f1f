package db

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"
)

const DefaultCacheSize = 256

// CachedStore serves Get from an in-process LRU. Records are immutable, so a
// cached entry never goes stale.
type CachedStore struct {
	RecordStore
	cache *lru.Cache[string, *PredictionRecord]
}

func NewCachedStore(inner RecordStore, size int) (*CachedStore, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, *PredictionRecord](size)
	if err != nil {
		return nil, eris.Wrap(err, "cache: create lru")
	}
	return &CachedStore{RecordStore: inner, cache: cache}, nil
}

func (s *CachedStore) Save(ctx context.Context, record *PredictionRecord) error {
	if err := s.RecordStore.Save(ctx, record); err != nil {
		return err
	}
	s.cache.Add(record.ID, record)
	return nil
}

func (s *CachedStore) Get(ctx context.Context, id string) (*PredictionRecord, error) {
	if record, ok := s.cache.Get(id); ok {
		return record, nil
	}
	record, err := s.RecordStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, record)
	return record, nil
}

func (s *CachedStore) Len() int {
	return s.cache.Len()
}
