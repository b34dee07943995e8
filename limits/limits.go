// Package limits provides centralized size limits for parcel transfers.
// This ensures consistent validation across different components of the system.
package limits

import (
	"errors"
	"fmt"
)

const (
	// DefaultMaxChunkSize is the default maximum size of a single content chunk.
	// Chunks are the unit of backend persistence; the final chunk of a parcel
	// may be shorter.
	DefaultMaxChunkSize = 1 * 1024 * 1024

	// DefaultMaxParcelSize is the default policy limit for a whole parcel.
	// Checked pre-flight, before any chunk write begins, so an oversized file
	// never leaves partial work behind.
	DefaultMaxParcelSize = 512 * 1024 * 1024

	// DefaultMaxBatchPayload is the default aggregate payload budget for one
	// batch of chunk writes. It bounds backend-side in-flight work and keeps
	// a batch under the transport payload ceiling (8 MiB).
	DefaultMaxBatchPayload = 8 * 1024 * 1024

	// DefaultCacheThreshold is the default maximum size for entries persisted
	// to the durable local cache. Larger content stays in the transient
	// in-memory map only (1 MiB).
	DefaultCacheThreshold = 1 * 1024 * 1024
)

var (
	// ErrChunkTooLarge indicates a chunk exceeds the maximum allowed size.
	ErrChunkTooLarge = errors.New("chunk size exceeds maximum allowed")

	// ErrParcelTooLarge indicates a parcel exceeds the configured policy limit.
	ErrParcelTooLarge = errors.New("parcel size exceeds maximum allowed")

	// ErrInvalidChunkSize indicates a non-positive maximum chunk size.
	ErrInvalidChunkSize = errors.New("maximum chunk size must be positive")
)

// ValidateChunkSize validates a chunk payload size against the specified maximum.
// Returns an error with context including the actual and maximum sizes.
// Empty chunks are valid: an empty file splits into exactly one empty chunk.
func ValidateChunkSize(size, maxSize int) error {
	if maxSize <= 0 {
		return ErrInvalidChunkSize
	}
	if size > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrChunkTooLarge, size, maxSize)
	}
	return nil
}

// ValidateParcelSize validates a whole-parcel size against the configured
// policy limit. Returns an error with context if the parcel exceeds the limit.
func ValidateParcelSize(size, maxSize int64) error {
	if size > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrParcelTooLarge, size, maxSize)
	}
	return nil
}

// BatchChunkCount returns how many chunks of at most maxChunkSize fit in one
// write batch under the aggregate payload budget. Always at least 1, so a
// chunk size above the budget still makes progress one chunk at a time.
func BatchChunkCount(maxBatchPayload, maxChunkSize int) int {
	if maxChunkSize <= 0 {
		return 1
	}
	n := maxBatchPayload / maxChunkSize
	if n < 1 {
		return 1
	}
	return n
}

// PrettySize formats a byte count as a human-readable KiB/MiB string for
// logs and notifications.
func PrettySize(size int64) string {
	kib := (size + 1023) / 1024
	if kib < 1024 {
		return fmt.Sprintf("%d KiB", kib)
	}
	mib := float64(kib) / 1024.0
	return fmt.Sprintf("%.1f MiB", mib)
}
