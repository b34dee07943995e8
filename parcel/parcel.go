// Package parcel defines the canonical data model for content-addressed
// parcel transfers: opaque identifiers, manifests, distribution and notice
// records, and the pulse variants delivered by the ledger backend.
package parcel

import "time"

// ContentHash is the digest of a file's full byte content. It is the
// backend's dedup key and the primary key for in-progress uploads and the
// local byte cache. Immutable once computed.
type ContentHash string

// EntryID is an opaque identifier assigned by the backend to a committed
// entry (chunk or manifest).
type EntryID string

// AgentID is an opaque cryptographic identity of a participant.
type AgentID string

// DistributionID identifies an outbound distribution of a manifest to one or
// more recipients.
type DistributionID string

// NoticeID identifies an inbound delivery offer.
type NoticeID string

// Visibility classifies a manifest as local-only or group-indexed.
type Visibility uint8

const (
	// VisibilityPrivate marks content that is committed locally only,
	// still content-addressed but not group-indexed.
	VisibilityPrivate Visibility = iota
	// VisibilityPublic marks content published to the group index.
	VisibilityPublic
)

// String returns a human-readable visibility name.
func (v Visibility) String() string {
	if v == VisibilityPublic {
		return "public"
	}
	return "private"
}

// Description holds the user-facing metadata of a parcel.
type Description struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	KindInfo string `json:"kind_info"`
}

// Chunk is one logical unit of backend-committed data. The backend assigns
// it an EntryID upon commit, returned asynchronously via a ChunkCreated pulse.
type Chunk struct {
	ContentHash ContentHash `json:"content_hash"`
	Payload     []byte      `json:"payload"`
}

// Manifest is the backend-persisted metadata record describing a parcel's
// chunk layout and description. Immutable after creation except for deletion
// of public manifests.
type Manifest struct {
	ID          EntryID     `json:"id"`
	ContentHash ContentHash `json:"content_hash"`
	Description Description `json:"description"`
	Visibility  Visibility  `json:"visibility"`
	ChunkIDs    []EntryID   `json:"chunk_ids"`
}

// DeliveryState tracks per-recipient progress of an outbound distribution.
// Transitions are driven exclusively by inbound pulses; the only local
// transition is Unsent to PendingNotice when the distribution is sent.
type DeliveryState uint8

const (
	// DeliveryUnsent means no notice has been sent to the recipient yet.
	DeliveryUnsent DeliveryState = iota
	// DeliveryPendingNotice means the notice was sent but not yet confirmed.
	DeliveryPendingNotice
	// DeliveryNoticeDelivered means the recipient confirmed receiving the notice.
	DeliveryNoticeDelivered
	// DeliveryAccepted means the recipient accepted the parcel.
	DeliveryAccepted
	// DeliveryDeclined means the recipient declined the parcel.
	DeliveryDeclined
)

// String returns a human-readable delivery state name.
func (s DeliveryState) String() string {
	switch s {
	case DeliveryUnsent:
		return "unsent"
	case DeliveryPendingNotice:
		return "pending-notice"
	case DeliveryNoticeDelivered:
		return "notice-delivered"
	case DeliveryAccepted:
		return "accepted"
	case DeliveryDeclined:
		return "declined"
	default:
		return "unknown"
	}
}

// terminal reports whether a state can no longer change.
func (s DeliveryState) terminal() bool {
	return s == DeliveryAccepted || s == DeliveryDeclined
}

// Advance returns the state resulting from applying next on top of s.
// States only move forward: a terminal state is never demoted, and a
// recipient already past NoticeDelivered is not pulled back by a late ack.
func (s DeliveryState) Advance(next DeliveryState) DeliveryState {
	if s.terminal() || next <= s {
		return s
	}
	return next
}

// DistributionRecord is the authoritative local view of one outbound
// distribution: who was sent what, and the delivery state per recipient.
type DistributionRecord struct {
	ID         DistributionID            `json:"id"`
	ManifestID EntryID                   `json:"manifest_id"`
	Recipients []AgentID                 `json:"recipients"`
	States     map[AgentID]DeliveryState `json:"states"`
	SentAt     time.Time                 `json:"sent_at"`
}

// Clone returns a deep copy safe to hand out as a read-only projection.
func (d *DistributionRecord) Clone() DistributionRecord {
	out := *d
	out.Recipients = append([]AgentID(nil), d.Recipients...)
	out.States = make(map[AgentID]DeliveryState, len(d.States))
	for k, v := range d.States {
		out.States[k] = v
	}
	return out
}

// DeliveryNotice is an inbound announcement that a peer wants to send the
// local party a parcel. It exists from the notice-received pulse until the
// parcel is fully received or the offer is declined.
type DeliveryNotice struct {
	ID             NoticeID             `json:"id"`
	DistributionID DistributionID       `json:"distribution_id"`
	ManifestID     EntryID              `json:"manifest_id"`
	Sender         AgentID              `json:"sender"`
	Description    Description          `json:"description"`
	MissingChunks  map[EntryID]struct{} `json:"missing_chunks"`
	TotalChunks    int                  `json:"total_chunks"`

	// Accepted is set once AcceptDelivery has been confirmed by the backend.
	Accepted bool `json:"accepted"`
	// DeclinePending is set after a decline call until the reply-ack pulse
	// makes the decline authoritative.
	DeclinePending bool `json:"decline_pending"`
}

// CompletionPercentage reports download progress in [0, 1], monotonically
// non-decreasing as missing chunks arrive.
func (n *DeliveryNotice) CompletionPercentage() float64 {
	if n.TotalChunks <= 0 {
		return 0
	}
	pct := 1.0 - float64(len(n.MissingChunks))/float64(n.TotalChunks)
	if pct < 0 {
		return 0
	}
	if pct > 1 {
		return 1
	}
	return pct
}

// Clone returns a deep copy safe to hand out as a read-only projection.
func (n *DeliveryNotice) Clone() DeliveryNotice {
	out := *n
	out.MissingChunks = make(map[EntryID]struct{}, len(n.MissingChunks))
	for k := range n.MissingChunks {
		out.MissingChunks[k] = struct{}{}
	}
	return out
}
