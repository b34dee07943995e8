// Package split breaks file content into a content digest plus an ordered
// sequence of fixed-size chunks. Splitting is pure and deterministic: the
// digest covers the whole content and is independent of the chunk size.
package split

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"

	"github.com/opd-ai/parcelshare/limits"
	"github.com/opd-ai/parcelshare/parcel"
)

// Result holds the outcome of splitting one file's bytes. It is produced
// once per file and never mutated.
type Result struct {
	ContentHash parcel.ContentHash
	Chunks      [][]byte
}

// NumChunks returns the total chunk count of the split.
func (r *Result) NumChunks() int { return len(r.Chunks) }

// HashContent computes the content digest over the full byte content,
// independent of any chunking.
func HashContent(data []byte) parcel.ContentHash {
	sum := blake2b.Sum256(data)
	return parcel.ContentHash(hex.EncodeToString(sum[:]))
}

// Split divides data into ceil(len/maxChunkSize) chunks of at most
// maxChunkSize bytes; the final chunk may be shorter. Empty input produces
// exactly one empty chunk, so every parcel has at least one chunk and the
// commit pipeline needs no zero-chunk special case.
//
// Chunks alias the input slice; callers must not mutate data afterwards.
func Split(data []byte, maxChunkSize int) (*Result, error) {
	if err := limits.ValidateChunkSize(0, maxChunkSize); err != nil {
		return nil, err
	}

	hash := HashContent(data)

	if len(data) == 0 {
		return &Result{ContentHash: hash, Chunks: [][]byte{{}}}, nil
	}

	numChunks := (len(data) + maxChunkSize - 1) / maxChunkSize
	chunks := make([][]byte, 0, numChunks)
	for off := 0; off < len(data); off += maxChunkSize {
		end := off + maxChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[off:end])
	}

	return &Result{ContentHash: hash, Chunks: chunks}, nil
}
