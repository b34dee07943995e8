package cachestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/parcelshare/parcel"
)

// ErrInvalidCacheKey indicates a content hash unusable as a file name.
var ErrInvalidCacheKey = errors.New("invalid cache key")

// FSStore persists cached bytes as one file per content hash under a root
// directory.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed and returns a store over it.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FSStore{root: root}, nil
}

// path maps a content hash to its cache file, rejecting hashes that could
// escape the root directory.
func (s *FSStore) path(hash parcel.ContentHash) (string, error) {
	name := string(hash)
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidCacheKey, name)
	}
	return filepath.Join(s.root, name), nil
}

// Put implements Store.
func (s *FSStore) Put(ctx context.Context, hash parcel.ContentHash, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(hash)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Put",
			"path":     path,
			"error":    err.Error(),
		}).Warn("Failed to write cache entry")
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *FSStore) Get(ctx context.Context, hash parcel.ContentHash) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	path, err := s.path(hash)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return data, true, nil
}

// Delete implements Store.
func (s *FSStore) Delete(ctx context.Context, hash parcel.ContentHash) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(hash)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove cache entry: %w", err)
	}
	return nil
}
