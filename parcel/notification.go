package parcel

import "time"

// NotificationKind classifies entries of the notification log.
type NotificationKind uint8

const (
	// NotificationDeliveryRequestSent records that a distribution was sent.
	NotificationDeliveryRequestSent NotificationKind = iota
	// NotificationReceptionComplete records that an inbound parcel finished.
	NotificationReceptionComplete
	// NotificationDistributionComplete records that a recipient fully
	// received a distributed parcel.
	NotificationDistributionComplete
	// NotificationPublishComplete records a completed public commit.
	NotificationPublishComplete
	// NotificationPublishRemoved records the removal of a public parcel.
	NotificationPublishRemoved
	// NotificationPrivateCommitComplete records a completed private commit.
	NotificationPrivateCommitComplete
	// NotificationNewNoticeReceived records an inbound delivery offer.
	NotificationNewNoticeReceived
	// NotificationReplyReceived records a recipient's accept/decline reply.
	NotificationReplyReceived
	// NotificationDeliveryDeclined records a locally declined offer, once
	// the backend confirmed the decline.
	NotificationDeliveryDeclined
	// NotificationFollowUpFailed records a background follow-up action
	// (auto-send, auto-tag, caching) that failed after a manifest commit.
	// There is no caller to bubble the error to, so it lands here.
	NotificationFollowUpFailed
)

// String returns a human-readable notification kind name.
func (k NotificationKind) String() string {
	switch k {
	case NotificationDeliveryRequestSent:
		return "delivery-request-sent"
	case NotificationReceptionComplete:
		return "reception-complete"
	case NotificationDistributionComplete:
		return "distribution-complete"
	case NotificationPublishComplete:
		return "publish-complete"
	case NotificationPublishRemoved:
		return "publish-removed"
	case NotificationPrivateCommitComplete:
		return "private-commit-complete"
	case NotificationNewNoticeReceived:
		return "new-notice-received"
	case NotificationReplyReceived:
		return "reply-received"
	case NotificationDeliveryDeclined:
		return "delivery-declined"
	case NotificationFollowUpFailed:
		return "follow-up-failed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so exported snapshots carry
// readable kind names.
func (k NotificationKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// NotificationEntry is one element of the append-only audit trail of
// lifecycle events surfaced to the user. Entries are never mutated; fields
// not relevant to a kind are left zero.
type NotificationEntry struct {
	Timestamp    time.Time        `json:"timestamp"`
	Kind         NotificationKind `json:"kind"`
	Distribution DistributionID   `json:"distribution,omitempty"`
	Manifest     EntryID          `json:"manifest,omitempty"`
	Notice       NoticeID         `json:"notice,omitempty"`
	Sender       AgentID          `json:"sender,omitempty"`
	Recipient    AgentID          `json:"recipient,omitempty"`
	Recipients   []AgentID        `json:"recipients,omitempty"`
	Accepted     bool             `json:"accepted,omitempty"`
	Message      string           `json:"message,omitempty"`
}
