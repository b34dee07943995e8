package parcel

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPayload(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestDecodeManifestCreated(t *testing.T) {
	m := Manifest{
		ID:          "entry-1",
		ContentHash: "hash-1",
		Description: Description{Name: "report.pdf", Size: 2048, KindInfo: "application/pdf"},
		Visibility:  VisibilityPublic,
		ChunkIDs:    []EntryID{"c1", "c2"},
	}
	raw := RawPulse{
		Kind:    KindManifestCreated,
		IsNew:   true,
		State:   StateCreate,
		Payload: mustPayload(t, manifestPayload{Manifest: m}),
	}

	pulse, err := Decode(raw)
	require.NoError(t, err)

	mc, ok := pulse.(ManifestCreated)
	require.True(t, ok, "expected ManifestCreated, got %T", pulse)
	assert.Equal(t, m, mc.Manifest)
	assert.True(t, mc.New())
	assert.Equal(t, StateCreate, mc.State)
}

func TestDecodeChunkCreated(t *testing.T) {
	raw := RawPulse{
		Kind:    KindChunkCreated,
		IsNew:   true,
		Payload: mustPayload(t, chunkPayload{ID: "entry-9", ContentHash: "hash-9"}),
	}

	pulse, err := Decode(raw)
	require.NoError(t, err)

	cc, ok := pulse.(ChunkCreated)
	require.True(t, ok)
	assert.Equal(t, EntryID("entry-9"), cc.ID)
	assert.Equal(t, ContentHash("hash-9"), cc.ContentHash)
}

func TestDecodeReplyAck(t *testing.T) {
	raw := RawPulse{
		Kind:    KindReplyAck,
		IsNew:   true,
		Payload: mustPayload(t, replyAckPayload{DistributionID: "d1", Recipient: "alice", HasAccepted: true}),
	}

	pulse, err := Decode(raw)
	require.NoError(t, err)

	ra, ok := pulse.(ReplyAck)
	require.True(t, ok)
	assert.Equal(t, DistributionID("d1"), ra.DistributionID)
	assert.Equal(t, AgentID("alice"), ra.Recipient)
	assert.True(t, ra.HasAccepted)
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode(RawPulse{Kind: "gossip", Payload: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrMalformedPulse)
}

func TestDecodeBadPayload(t *testing.T) {
	kinds := []string{
		KindManifestCreated,
		KindChunkCreated,
		KindReceptionProof,
		KindReplyAck,
		KindDeliveryNotice,
		KindReceptionAck,
	}
	for _, kind := range kinds {
		_, err := Decode(RawPulse{Kind: kind, Payload: json.RawMessage(`"not an object"`)})
		if !errors.Is(err, ErrMalformedPulse) {
			t.Errorf("kind %s: expected ErrMalformedPulse, got %v", kind, err)
		}
	}
}

func TestDeliveryStateAdvance(t *testing.T) {
	tests := []struct {
		name string
		from DeliveryState
		next DeliveryState
		want DeliveryState
	}{
		{"send", DeliveryUnsent, DeliveryPendingNotice, DeliveryPendingNotice},
		{"ack after send", DeliveryPendingNotice, DeliveryNoticeDelivered, DeliveryNoticeDelivered},
		{"accept", DeliveryPendingNotice, DeliveryAccepted, DeliveryAccepted},
		{"late ack after accept", DeliveryAccepted, DeliveryNoticeDelivered, DeliveryAccepted},
		{"decline is terminal", DeliveryDeclined, DeliveryAccepted, DeliveryDeclined},
		{"no demotion", DeliveryNoticeDelivered, DeliveryPendingNotice, DeliveryNoticeDelivered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.Advance(tt.next); got != tt.want {
				t.Errorf("%v.Advance(%v) = %v, want %v", tt.from, tt.next, got, tt.want)
			}
		})
	}
}

func TestCompletionPercentageBounds(t *testing.T) {
	n := &DeliveryNotice{
		TotalChunks: 4,
		MissingChunks: map[EntryID]struct{}{
			"a": {}, "b": {}, "c": {}, "d": {},
		},
	}
	assert.Equal(t, 0.0, n.CompletionPercentage())

	last := 0.0
	for _, id := range []EntryID{"a", "b", "c", "d"} {
		delete(n.MissingChunks, id)
		pct := n.CompletionPercentage()
		assert.GreaterOrEqual(t, pct, last, "percentage must be monotone")
		assert.LessOrEqual(t, pct, 1.0)
		last = pct
	}
	assert.Equal(t, 1.0, last)

	// A degenerate notice never reports progress outside the bounds.
	empty := &DeliveryNotice{}
	assert.Equal(t, 0.0, empty.CompletionPercentage())
}
