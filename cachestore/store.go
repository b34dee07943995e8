// Package cachestore provides durable stores for the local byte cache,
// keyed by content hash. The transfer core keeps hot content in a transient
// in-memory map and persists entries under a size threshold to one of these
// stores as a space/latency tradeoff, not a correctness requirement.
package cachestore

import (
	"context"
	"sync"

	"github.com/opd-ai/parcelshare/parcel"
)

// Store persists content bytes keyed by content hash. Implementations must
// be safe for one writer and multiple readers.
type Store interface {
	Put(ctx context.Context, hash parcel.ContentHash, data []byte) error
	// Get returns the cached bytes and whether the key was present.
	Get(ctx context.Context, hash parcel.ContentHash) ([]byte, bool, error)
	Delete(ctx context.Context, hash parcel.ContentHash) error
}

// MemoryStore keeps cached bytes in a map. Contents do not survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[parcel.ContentHash][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[parcel.ContentHash][]byte)}
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, hash parcel.ContentHash, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[hash] = append([]byte(nil), data...)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, hash parcel.ContentHash) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.entries[hash]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, hash parcel.ContentHash) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, hash)
	return nil
}
