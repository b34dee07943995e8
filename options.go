package parcelshare

import (
	"time"

	"github.com/opd-ai/parcelshare/backend"
	"github.com/opd-ai/parcelshare/cachestore"
	"github.com/opd-ai/parcelshare/limits"
	"github.com/opd-ai/parcelshare/parcel"
)

// Options configures a Share instance.
type Options struct {
	// LocalAgent is this node's identity on the backend.
	LocalAgent parcel.AgentID

	MaxChunkSize    int
	MaxParcelSize   int64
	MaxBatchPayload int
	CacheThreshold  int

	// BackendTimeout bounds every backend call issued by the manager.
	BackendTimeout time.Duration

	// CachePath, when set, enables a filesystem-backed durable byte cache
	// under the given directory. Ignored when Store is set explicitly.
	CachePath string

	// Backend overrides the ledger implementation. When nil an in-process
	// Memory backend is used, suitable for tests and single-node use.
	Backend backend.Ledger

	// Store overrides the durable byte-cache store.
	Store cachestore.Store

	// Tagger wires the external tagging subsystem.
	Tagger backend.Tagger

	// Profiles wires the external nickname resolver.
	Profiles backend.ProfileResolver
}

// NewOptions creates Options with the default size policy.
func NewOptions() *Options {
	return &Options{
		MaxChunkSize:    limits.DefaultMaxChunkSize,
		MaxParcelSize:   limits.DefaultMaxParcelSize,
		MaxBatchPayload: limits.DefaultMaxBatchPayload,
		CacheThreshold:  limits.DefaultCacheThreshold,
		BackendTimeout:  10 * time.Second,
	}
}
