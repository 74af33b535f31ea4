// Package memory keeps produced snapshots in a bounded in-process cache.
package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/fedineko/crabo/internal/policycache"
	"github.com/fedineko/crabo/internal/snapshot"
)

// SnapshotStore is a snapshot.Store backed by a TTL-aware LRU.
type SnapshotStore struct {
	cache *policycache.Cache[snapshot.Snapshot]
}

// NewSnapshotStore creates a store holding at most capacity snapshots.
func NewSnapshotStore(capacity int, opts ...policycache.Option) (*SnapshotStore, error) {
	cache, err := policycache.New[snapshot.Snapshot](capacity, opts...)
	if err != nil {
		return nil, fmt.Errorf("create snapshot cache: %w", err)
	}
	return &SnapshotStore{cache: cache}, nil
}

// Get returns the live snapshot stored under key.
func (s *SnapshotStore) Get(_ context.Context, key string) (snapshot.Snapshot, bool, error) {
	snap, ok := s.cache.Get(key)
	if !ok {
		return snapshot.Snapshot{}, false, nil
	}
	snap.Tags = slices.Clone(snap.Tags)
	return snap, true, nil
}

// Set stores snap under key for ttl. A non-positive ttl is a no-op.
func (s *SnapshotStore) Set(_ context.Context, key string, snap snapshot.Snapshot, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	snap.Tags = slices.Clone(snap.Tags)
	s.cache.Put(key, snap, ttl)
	return nil
}

// Len reports the number of entries, expired ones included.
func (s *SnapshotStore) Len() int {
	return s.cache.Len()
}
