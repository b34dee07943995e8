package cachestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/opd-ai/parcelshare/parcel"
)

// RedisStore persists cached bytes in Redis, for deployments where several
// app instances on one host share a warm cache.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing Redis client. Keys are namespaced with
// prefix; an empty prefix defaults to "parcelshare:cache:".
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "parcelshare:cache:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(hash parcel.ContentHash) string {
	return s.prefix + string(hash)
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, hash parcel.ContentHash, data []byte) error {
	if err := s.client.Set(ctx, s.key(hash), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, hash parcel.ContentHash) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.key(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return data, true, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, hash parcel.ContentHash) error {
	if err := s.client.Del(ctx, s.key(hash)).Err(); err != nil {
		return fmt.Errorf("failed to remove cache entry: %w", err)
	}
	return nil
}
