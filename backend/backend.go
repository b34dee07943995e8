// Package backend defines the narrow contract between the transfer core and
// the ledger/storage substrate. The substrate owns persistence, peer
// communication and cryptographic identity; the core consumes it through
// these interfaces only. Commit-style calls are asynchronous: a nil return
// means the request was enqueued, and completion arrives later as a pulse on
// the inbound pulse stream.
package backend

import (
	"context"

	"github.com/opd-ai/parcelshare/parcel"
)

// Ledger is the write/read surface of the backend.
//
// CommitChunk and CommitManifest are fire-and-forget: their results are
// delivered out-of-band as ChunkCreated/ManifestCreated pulses. An error
// return means the backend rejected the request outright and no pulse will
// follow. FetchManifest and FetchContent are synchronous request/response.
type Ledger interface {
	CommitChunk(ctx context.Context, chunk parcel.Chunk) error
	CommitManifest(ctx context.Context, visibility parcel.Visibility, desc parcel.Description, contentHash parcel.ContentHash, chunkIDs []parcel.EntryID) error
	FetchManifest(ctx context.Context, id parcel.EntryID) (parcel.Manifest, error)
	FetchContent(ctx context.Context, id parcel.EntryID) ([]byte, error)
	SendDistribution(ctx context.Context, manifestID parcel.EntryID, recipients []parcel.AgentID) (parcel.DistributionID, error)
	AcceptNotice(ctx context.Context, id parcel.NoticeID) error
	DeclineNotice(ctx context.Context, id parcel.NoticeID) error
	RequestMissingChunks(ctx context.Context, id parcel.NoticeID) error
	Unpublish(ctx context.Context, id parcel.EntryID) error
}

// Tagger is the public surface of the external tagging subsystem, a
// secondary index over entry identifiers. All operations are asynchronous
// and eventually consistent.
type Tagger interface {
	TagEntry(ctx context.Context, id parcel.EntryID, visibility parcel.Visibility, tags []string, displayHint string) error
	UntagEntry(ctx context.Context, id parcel.EntryID, tag string) error
	EntriesWithTag(ctx context.Context, tag string) ([]parcel.EntryID, error)
	TagsForEntry(ctx context.Context, id parcel.EntryID) ([]string, error)
}

// ProfileResolver resolves a nickname for an opaque identity. Consumed as-is
// from the external profiles subsystem.
type ProfileResolver interface {
	Nickname(ctx context.Context, agent parcel.AgentID) (string, error)
}

// PulseSink consumes one inbound batch of pulses. Batches arrive pushed on
// an arbitrary goroutine; implementations must be safe to invoke
// concurrently with user-initiated operations.
type PulseSink func(from parcel.AgentID, pulses []parcel.Pulse)
