package parcelshare

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/parcelshare/backend"
	"github.com/opd-ai/parcelshare/parcel"
)

// newTestShare wires a Share over the in-process memory backend with a tiny
// chunk size so multi-batch uploads are exercised end to end.
func newTestShare(t *testing.T) (*Share, *backend.Memory) {
	t.Helper()
	mem := backend.NewMemory("agent-local", nil)

	options := NewOptions()
	options.LocalAgent = "agent-local"
	options.MaxChunkSize = 4
	options.MaxBatchPayload = 4
	options.Backend = mem
	options.Tagger = backend.NewMemoryTagger()

	s, err := New(options)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, mem
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 5*time.Millisecond, msg)
}

func hasKind(entries []parcel.NotificationEntry, kind parcel.NotificationKind) bool {
	for _, e := range entries {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func TestPublishLifecycleOverMemoryBackend(t *testing.T) {
	s, _ := newTestShare(t)
	data := []byte("hello parcelshare")

	var publishedID parcel.EntryID
	done := make(chan struct{})
	res, err := s.PublishFile("greeting.txt", "text/plain", data, []string{"greetings"}, func(id parcel.EntryID) {
		publishedID = id
		close(done)
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 5, res.NumChunks())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish callback never fired")
	}
	require.NotEmpty(t, publishedID)

	waitFor(t, func() bool { return len(s.Manifests()) == 1 }, "manifest indexed")
	waitFor(t, func() bool { return len(s.UploadStates()) == 0 }, "upload state dropped")

	got, err := s.FetchFile(publishedID)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	found := s.SearchParcel("greet")
	require.Len(t, found, 1)
	assert.Equal(t, publishedID, found[0].ID)

	ids, err := s.ParcelsWithTag("greetings")
	require.NoError(t, err)
	assert.Equal(t, []parcel.EntryID{publishedID}, ids)

	require.NoError(t, s.RemovePublicParcel(publishedID))
	waitFor(t, func() bool { return len(s.Manifests()) == 0 }, "removed manifest leaves the index")
	assert.True(t, hasKind(s.Notifications(), parcel.NotificationPublishRemoved))
}

func TestRepeatedChunkContentCommitsOverMemoryBackend(t *testing.T) {
	s, _ := newTestShare(t)

	// Two identical 4-byte chunks; the backend deduplicates the second write
	// and re-announces the first entry.
	_, err := s.CommitPrivateFile("dup.bin", "", []byte("aaaaaaaa"), nil, nil)
	require.NoError(t, err)

	waitFor(t, func() bool { return len(s.Manifests()) == 1 }, "upload completes despite deduplicated chunk")
	waitFor(t, func() bool { return len(s.UploadStates()) == 0 }, "upload state dropped")
}

func TestPublishCallbackUsesFacade(t *testing.T) {
	s, _ := newTestShare(t)

	got := make(chan parcel.Manifest, 1)
	_, err := s.PublishFile("cb.txt", "", []byte("callback me"), nil, func(id parcel.EntryID) {
		info, err := s.FetchFileInfo(id)
		if err == nil {
			got <- info
		}
	})
	require.NoError(t, err)

	select {
	case info := <-got:
		assert.Equal(t, "cb.txt", info.Description.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("callback blocked calling back into the facade")
	}
}

func TestRemoveParcelNotifiesOnce(t *testing.T) {
	s, _ := newTestShare(t)

	done := make(chan struct{})
	_, err := s.PublishFile("once.txt", "", []byte("remove me"), nil, func(parcel.EntryID) {
		close(done)
	})
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish did not complete")
	}

	id := s.Manifests()[0].ID
	require.NoError(t, s.RemovePublicParcel(id))

	// Close drains the backend's delete pulse so the count is final,
	// whichever path marked the record first.
	s.Close()
	count := 0
	for _, e := range s.Notifications() {
		if e.Kind == parcel.NotificationPublishRemoved {
			count++
		}
	}
	assert.Equal(t, 1, count, "one removal notification across both paths")
}

func TestDeliveryRepliesOverMemoryBackend(t *testing.T) {
	s, mem := newTestShare(t)

	_, err := s.CommitPrivateAndSendFile("send.bin", "", []byte("payload!"), []parcel.AgentID{"agent-bob"}, nil)
	require.NoError(t, err)

	waitFor(t, func() bool { return len(s.Distributions()) == 1 }, "distribution recorded after manifest commit")
	dist := s.Distributions()[0]
	assert.Equal(t, parcel.DeliveryPendingNotice, dist.States["agent-bob"])

	mem.EmitReplyAck("agent-bob", dist.ID, "agent-bob", true)
	waitFor(t, func() bool {
		return s.Distributions()[0].States["agent-bob"] == parcel.DeliveryAccepted
	}, "reply ack advances recipient state")

	mem.EmitReceptionAck("agent-bob", dist.ID, "agent-bob")
	waitFor(t, func() bool {
		return hasKind(s.Notifications(), parcel.NotificationDistributionComplete)
	}, "reception ack completes the distribution")
}

func TestInboundOfferOverMemoryBackend(t *testing.T) {
	s, mem := newTestShare(t)

	// Seed the ledger with content so the offered chunks exist.
	_, err := s.CommitPrivateFile("seed.bin", "", []byte("abcdefgh"), nil, nil)
	require.NoError(t, err)
	waitFor(t, func() bool { return len(s.Manifests()) == 1 }, "seed manifest indexed")
	seed := s.Manifests()[0]
	require.Len(t, seed.ChunkIDs, 2)

	missing := make(map[parcel.EntryID]struct{}, len(seed.ChunkIDs))
	for _, id := range seed.ChunkIDs {
		missing[id] = struct{}{}
	}
	mem.EmitNotice(parcel.DeliveryNotice{
		ID:             "offer-1",
		DistributionID: "dist-remote",
		ManifestID:     seed.ID,
		Sender:         "agent-alice",
		Description:    parcel.Description{Name: "seed.bin", Size: 8},
		MissingChunks:  missing,
		TotalChunks:    len(missing),
	})

	waitFor(t, func() bool { return len(s.Notices()) == 1 }, "offer surfaces as a notice")

	require.NoError(t, s.AcceptDelivery("offer-1"))
	waitFor(t, func() bool { return len(s.Notices()) == 0 }, "offer completes once chunks arrive")
	assert.True(t, hasKind(s.Notifications(), parcel.NotificationReceptionComplete))
}

func TestDeclineOfferOverMemoryBackend(t *testing.T) {
	s, mem := newTestShare(t)

	mem.EmitNotice(parcel.DeliveryNotice{
		ID:             "offer-2",
		DistributionID: "dist-remote-2",
		Sender:         "agent-alice",
		Description:    parcel.Description{Name: "junk.bin", Size: 4},
		MissingChunks:  map[parcel.EntryID]struct{}{"e1": {}},
		TotalChunks:    1,
	})
	waitFor(t, func() bool { return len(s.Notices()) == 1 }, "offer surfaces as a notice")

	require.NoError(t, s.DeclineDelivery("offer-2"))
	waitFor(t, func() bool { return len(s.Notices()) == 0 }, "confirmed decline retires the notice")
	assert.True(t, hasKind(s.Notifications(), parcel.NotificationDeliveryDeclined))
}

func TestOnNotificationDeliversInOrder(t *testing.T) {
	s, _ := newTestShare(t)

	got := make(chan parcel.NotificationEntry, 16)
	s.OnNotification(func(entry parcel.NotificationEntry) {
		got <- entry
	})

	_, err := s.CommitPrivateFile("n.txt", "", []byte("notify me"), nil, nil)
	require.NoError(t, err)

	select {
	case entry := <-got:
		assert.Equal(t, parcel.NotificationPrivateCommitComplete, entry.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("no notification delivered")
	}
}

func TestExportSnapshotFacade(t *testing.T) {
	s, _ := newTestShare(t)
	_, err := s.CommitPrivateFile("snap.txt", "", []byte("snapshot"), nil, nil)
	require.NoError(t, err)
	waitFor(t, func() bool { return len(s.Manifests()) == 1 }, "manifest indexed")

	data, err := s.ExportSnapshot()
	require.NoError(t, err)
	assert.Contains(t, string(data), "snap.txt")

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	for _, key := range []string{"delivery", "tagging", "profiles"} {
		assert.Contains(t, doc, key)
	}
}
