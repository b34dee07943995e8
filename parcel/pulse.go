package parcel

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedPulse indicates a pulse whose payload does not decode as its
// declared kind. Malformed pulses are logged and skipped by the dispatcher;
// one bad pulse never blocks the rest of its batch.
var ErrMalformedPulse = errors.New("malformed pulse")

// StateChange describes the kind of backend state change a pulse announces.
type StateChange uint8

const (
	// StateCreate announces a newly committed entry.
	StateCreate StateChange = iota
	// StateUpdate announces a modification of an existing entry.
	StateUpdate
	// StateDelete announces the deletion of an entry.
	StateDelete
)

// Pulse kind tags used on the wire envelope.
const (
	KindManifestCreated = "manifest_created"
	KindChunkCreated    = "chunk_created"
	KindReceptionProof  = "reception_proof"
	KindReplyAck        = "reply_ack"
	KindDeliveryNotice  = "delivery_notice"
	KindReceptionAck    = "reception_ack"
)

// Pulse is an asynchronous, push-delivered notification of a backend state
// change. The concrete variants form a closed set; the dispatcher matches
// exhaustively on them.
type Pulse interface {
	// New reports whether the backend flagged this pulse as genuinely new.
	// Re-announcements carry false and must not re-trigger follow-up actions.
	New() bool

	pulse()
}

// ManifestCreated announces a committed manifest, carrying the full manifest
// so receivers can index it without a round trip.
type ManifestCreated struct {
	Manifest Manifest
	State    StateChange
	IsNew    bool
}

// ChunkCreated announces a committed chunk and the entry identifier the
// backend assigned to it.
type ChunkCreated struct {
	ID          EntryID
	ContentHash ContentHash
	IsNew       bool
}

// ReceptionProof announces that the local party's reception of a parcel was
// recorded by the backend.
type ReceptionProof struct {
	NoticeID   NoticeID
	ManifestID EntryID
	IsNew      bool
}

// ReplyAck announces a recipient's accept/decline reply to a distribution.
type ReplyAck struct {
	DistributionID DistributionID
	Recipient      AgentID
	HasAccepted    bool
	IsNew          bool
}

// NoticeReceived announces an inbound delivery offer.
type NoticeReceived struct {
	Notice DeliveryNotice
	IsNew  bool
}

// ReceptionAck announces that a recipient fully received a distributed parcel.
type ReceptionAck struct {
	DistributionID DistributionID
	Recipient      AgentID
	IsNew          bool
}

func (p ManifestCreated) pulse() {}
func (p ChunkCreated) pulse()    {}
func (p ReceptionProof) pulse()  {}
func (p ReplyAck) pulse()        {}
func (p NoticeReceived) pulse()  {}
func (p ReceptionAck) pulse()    {}

// New implements Pulse.
func (p ManifestCreated) New() bool { return p.IsNew }

// New implements Pulse.
func (p ChunkCreated) New() bool { return p.IsNew }

// New implements Pulse.
func (p ReceptionProof) New() bool { return p.IsNew }

// New implements Pulse.
func (p ReplyAck) New() bool { return p.IsNew }

// New implements Pulse.
func (p NoticeReceived) New() bool { return p.IsNew }

// New implements Pulse.
func (p ReceptionAck) New() bool { return p.IsNew }

// RawPulse is the wire envelope of a pulse before classification. The
// payload is decoded exactly once, at the dispatcher boundary.
type RawPulse struct {
	Kind    string          `json:"kind"`
	From    AgentID         `json:"from"`
	IsNew   bool            `json:"is_new"`
	State   StateChange     `json:"state"`
	Payload json.RawMessage `json:"payload"`
}

type manifestPayload struct {
	Manifest Manifest `json:"manifest"`
}

type chunkPayload struct {
	ID          EntryID     `json:"id"`
	ContentHash ContentHash `json:"content_hash"`
}

type receptionProofPayload struct {
	NoticeID   NoticeID `json:"notice_id"`
	ManifestID EntryID  `json:"manifest_id"`
}

type replyAckPayload struct {
	DistributionID DistributionID `json:"distribution_id"`
	Recipient      AgentID        `json:"recipient"`
	HasAccepted    bool           `json:"has_accepted"`
}

type noticePayload struct {
	Notice DeliveryNotice `json:"notice"`
}

type receptionAckPayload struct {
	DistributionID DistributionID `json:"distribution_id"`
	Recipient      AgentID        `json:"recipient"`
}

// Decode classifies a raw pulse into its typed variant. An unknown kind or
// an undecodable payload yields an error wrapping ErrMalformedPulse.
func Decode(raw RawPulse) (Pulse, error) {
	switch raw.Kind {
	case KindManifestCreated:
		var p manifestPayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedPulse, raw.Kind, err)
		}
		return ManifestCreated{Manifest: p.Manifest, State: raw.State, IsNew: raw.IsNew}, nil
	case KindChunkCreated:
		var p chunkPayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedPulse, raw.Kind, err)
		}
		return ChunkCreated{ID: p.ID, ContentHash: p.ContentHash, IsNew: raw.IsNew}, nil
	case KindReceptionProof:
		var p receptionProofPayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedPulse, raw.Kind, err)
		}
		return ReceptionProof{NoticeID: p.NoticeID, ManifestID: p.ManifestID, IsNew: raw.IsNew}, nil
	case KindReplyAck:
		var p replyAckPayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedPulse, raw.Kind, err)
		}
		return ReplyAck{DistributionID: p.DistributionID, Recipient: p.Recipient, HasAccepted: p.HasAccepted, IsNew: raw.IsNew}, nil
	case KindDeliveryNotice:
		var p noticePayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedPulse, raw.Kind, err)
		}
		return NoticeReceived{Notice: p.Notice, IsNew: raw.IsNew}, nil
	case KindReceptionAck:
		var p receptionAckPayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedPulse, raw.Kind, err)
		}
		return ReceptionAck{DistributionID: p.DistributionID, Recipient: p.Recipient, IsNew: raw.IsNew}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedPulse, raw.Kind)
	}
}
