package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/parcelshare/parcel"
)

// Memory is an in-process Ledger double backed by maps. It mints opaque
// entry identifiers, persists chunks and manifests, and delivers completion
// pulses synchronously to the configured sink. It is used by the examples
// and by integration-style tests; real deployments plug in an adapter to the
// actual ledger substrate.
type Memory struct {
	mu    sync.Mutex
	local parcel.AgentID
	sink  PulseSink

	chunks      map[parcel.EntryID]parcel.Chunk
	chunkIDs    map[parcel.ContentHash]map[string]parcel.EntryID // payload digest -> entry id
	manifests   map[parcel.EntryID]parcel.Manifest
	unpublished map[parcel.EntryID]bool
	notices     map[parcel.NoticeID]parcel.DeliveryNotice
}

// NewMemory creates an in-memory backend for the given local identity.
// Pulses are delivered to sink; a nil sink drops them.
func NewMemory(local parcel.AgentID, sink PulseSink) *Memory {
	return &Memory{
		local:       local,
		sink:        sink,
		chunks:      make(map[parcel.EntryID]parcel.Chunk),
		chunkIDs:    make(map[parcel.ContentHash]map[string]parcel.EntryID),
		manifests:   make(map[parcel.EntryID]parcel.Manifest),
		unpublished: make(map[parcel.EntryID]bool),
		notices:     make(map[parcel.NoticeID]parcel.DeliveryNotice),
	}
}

// SetSink replaces the pulse sink. Used when the consumer is constructed
// after the backend.
func (m *Memory) SetSink(sink PulseSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

func (m *Memory) emit(from parcel.AgentID, pulses ...parcel.Pulse) {
	m.mu.Lock()
	sink := m.sink
	m.mu.Unlock()
	if sink != nil && len(pulses) > 0 {
		sink(from, pulses)
	}
}

func newEntryID() parcel.EntryID {
	return parcel.EntryID(uuid.NewString())
}

// CommitChunk persists a chunk and emits a ChunkCreated pulse. Committing an
// identical payload for the same content hash re-announces the existing
// entry with IsNew=false, mirroring ledger dedup.
func (m *Memory) CommitChunk(ctx context.Context, chunk parcel.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := fmt.Sprintf("%d:%x", len(chunk.Payload), checksum(chunk.Payload))

	m.mu.Lock()
	byPayload, ok := m.chunkIDs[chunk.ContentHash]
	if !ok {
		byPayload = make(map[string]parcel.EntryID)
		m.chunkIDs[chunk.ContentHash] = byPayload
	}
	id, exists := byPayload[key]
	if !exists {
		id = newEntryID()
		byPayload[key] = id
		m.chunks[id] = chunk
	}
	m.mu.Unlock()

	m.emit(m.local, parcel.ChunkCreated{ID: id, ContentHash: chunk.ContentHash, IsNew: !exists})
	return nil
}

// CommitManifest persists a manifest and emits a ManifestCreated pulse.
func (m *Memory) CommitManifest(ctx context.Context, visibility parcel.Visibility, desc parcel.Description, contentHash parcel.ContentHash, chunkIDs []parcel.EntryID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	manifest := parcel.Manifest{
		ID:          newEntryID(),
		ContentHash: contentHash,
		Description: desc,
		Visibility:  visibility,
		ChunkIDs:    append([]parcel.EntryID(nil), chunkIDs...),
	}

	m.mu.Lock()
	m.manifests[manifest.ID] = manifest
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "CommitManifest",
		"manifest_id": manifest.ID,
		"visibility":  visibility.String(),
		"chunks":      len(chunkIDs),
	}).Debug("Manifest committed to memory ledger")

	m.emit(m.local, parcel.ManifestCreated{Manifest: manifest, State: parcel.StateCreate, IsNew: true})
	return nil
}

// FetchManifest returns a previously committed manifest.
func (m *Memory) FetchManifest(ctx context.Context, id parcel.EntryID) (parcel.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return parcel.Manifest{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	manifest, ok := m.manifests[id]
	if !ok || m.unpublished[id] {
		return parcel.Manifest{}, fmt.Errorf("manifest %s not found", id)
	}
	return manifest, nil
}

// FetchContent reassembles the full content of a manifest from its chunks.
func (m *Memory) FetchContent(ctx context.Context, id parcel.EntryID) ([]byte, error) {
	manifest, err := m.FetchManifest(ctx, id)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var data []byte
	for _, cid := range manifest.ChunkIDs {
		chunk, ok := m.chunks[cid]
		if !ok {
			return nil, fmt.Errorf("chunk %s of manifest %s not found", cid, id)
		}
		data = append(data, chunk.Payload...)
	}
	return data, nil
}

// SendDistribution mints a distribution id and records a notice per
// recipient. Reply and reception acks are injected by tests or peers via the
// Emit helpers.
func (m *Memory) SendDistribution(ctx context.Context, manifestID parcel.EntryID, recipients []parcel.AgentID) (parcel.DistributionID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	_, ok := m.manifests[manifestID]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("manifest %s not found", manifestID)
	}
	return parcel.DistributionID(uuid.NewString()), nil
}

// AcceptNotice records acceptance of an inbound notice.
func (m *Memory) AcceptNotice(ctx context.Context, id parcel.NoticeID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	notice, ok := m.notices[id]
	if !ok {
		return fmt.Errorf("notice %s not found", id)
	}
	notice.Accepted = true
	m.notices[id] = notice
	return nil
}

// DeclineNotice records a decline and emits the confirming ReplyAck pulse.
func (m *Memory) DeclineNotice(ctx context.Context, id parcel.NoticeID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	notice, ok := m.notices[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("notice %s not found", id)
	}

	m.emit(notice.Sender, parcel.ReplyAck{
		DistributionID: notice.DistributionID,
		Recipient:      m.local,
		HasAccepted:    false,
		IsNew:          true,
	})
	return nil
}

// RequestMissingChunks emits ChunkCreated pulses for every missing chunk of
// the notice that is present in the ledger. Re-requesting an already
// fulfilled chunk is harmless: fulfilled entries re-announce with IsNew=false.
func (m *Memory) RequestMissingChunks(ctx context.Context, id parcel.NoticeID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	notice, ok := m.notices[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("notice %s not found", id)
	}
	var pulses []parcel.Pulse
	for cid := range notice.MissingChunks {
		if chunk, present := m.chunks[cid]; present {
			pulses = append(pulses, parcel.ChunkCreated{ID: cid, ContentHash: chunk.ContentHash, IsNew: true})
		}
	}
	m.mu.Unlock()

	m.emit(notice.Sender, pulses...)
	return nil
}

// Unpublish removes a public manifest from the group index and announces the
// deletion.
func (m *Memory) Unpublish(ctx context.Context, id parcel.EntryID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	manifest, ok := m.manifests[id]
	if !ok || manifest.Visibility != parcel.VisibilityPublic {
		m.mu.Unlock()
		return fmt.Errorf("public manifest %s not found", id)
	}
	m.unpublished[id] = true
	m.mu.Unlock()

	m.emit(m.local, parcel.ManifestCreated{Manifest: manifest, State: parcel.StateDelete, IsNew: true})
	return nil
}

// EmitNotice injects an inbound delivery offer, as a sending peer would.
// The notice is also registered so Accept/Decline/RequestMissingChunks
// resolve it.
func (m *Memory) EmitNotice(notice parcel.DeliveryNotice) {
	m.mu.Lock()
	m.notices[notice.ID] = notice
	m.mu.Unlock()
	m.emit(notice.Sender, parcel.NoticeReceived{Notice: notice, IsNew: true})
}

// EmitReplyAck injects a recipient's reply to a distribution.
func (m *Memory) EmitReplyAck(from parcel.AgentID, dist parcel.DistributionID, recipient parcel.AgentID, accepted bool) {
	m.emit(from, parcel.ReplyAck{DistributionID: dist, Recipient: recipient, HasAccepted: accepted, IsNew: true})
}

// EmitReceptionAck injects a recipient's full-reception confirmation.
func (m *Memory) EmitReceptionAck(from parcel.AgentID, dist parcel.DistributionID, recipient parcel.AgentID) {
	m.emit(from, parcel.ReceptionAck{DistributionID: dist, Recipient: recipient, IsNew: true})
}

// checksum is a cheap payload fingerprint used only for in-map dedup of
// re-committed chunks. Not a content address.
func checksum(data []byte) uint64 {
	var sum uint64 = 1469598103934665603
	for _, b := range data {
		sum ^= uint64(b)
		sum *= 1099511628211
	}
	return sum
}
