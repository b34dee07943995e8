package delivery

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/parcelshare/parcel"
)

// HandleRawPulses decodes a wire batch and dispatches it. Malformed pulses
// are logged and skipped; one bad pulse never blocks the rest of the batch.
func (m *Manager) HandleRawPulses(from parcel.AgentID, raws []parcel.RawPulse) {
	pulses := make([]parcel.Pulse, 0, len(raws))
	for _, raw := range raws {
		p, err := parcel.Decode(raw)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "HandleRawPulses",
				"from":     from,
				"kind":     raw.Kind,
				"error":    err.Error(),
			}).Warn("Skipping malformed pulse")
			continue
		}
		pulses = append(pulses, p)
	}
	m.HandlePulseBatch(from, pulses)
}

// HandlePulseBatch applies one inbound batch of typed pulses. The whole
// batch is processed under the state lock, then subscribers are notified
// exactly once.
func (m *Manager) HandlePulseBatch(from parcel.AgentID, pulses []parcel.Pulse) {
	if len(pulses) == 0 {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":   "HandlePulseBatch",
		"from":       from,
		"num_pulses": len(pulses),
	}).Debug("Dispatching pulse batch")

	m.mu.Lock()
	for _, p := range pulses {
		switch pulse := p.(type) {
		case parcel.ChunkCreated:
			m.handleChunkCreatedLocked(pulse)
		case parcel.ManifestCreated:
			m.handleManifestCreatedLocked(pulse)
		case parcel.NoticeReceived:
			m.handleNoticeReceivedLocked(pulse)
		case parcel.ReplyAck:
			m.handleReplyAckLocked(pulse)
		case parcel.ReceptionProof:
			m.handleReceptionProofLocked(pulse)
		case parcel.ReceptionAck:
			m.handleReceptionAckLocked(pulse)
		}
	}
	calls := m.pendingCalls
	m.pendingCalls = nil
	m.mu.Unlock()

	// Completion callbacks run outside the lock; they may call back into the
	// manager.
	for _, fn := range calls {
		fn()
	}
	m.notify()
}

// handleChunkCreatedLocked accounts one chunk acknowledgement against its
// upload, then either requests the manifest commit (all chunks acked) or
// dispatches the next write batch (current batch fully acked). The backend
// deduplicates identical payloads and re-announces the existing entry with
// IsNew unset; such an ack still counts toward the upload, otherwise a file
// containing repeated chunks never completes.
func (m *Manager) handleChunkCreatedLocked(p parcel.ChunkCreated) {
	// Whether new or deduplicated, an available chunk counts as arrived for
	// any inbound notice still waiting on it.
	m.noticeChunkArrivedLocked(p.ID)

	st, ok := m.uploads[p.ContentHash]
	if !ok {
		return
	}
	st.chunkIDs = append(st.chunkIDs, p.ID)

	logrus.WithFields(logrus.Fields{
		"function":     "handleChunkCreatedLocked",
		"content_hash": p.ContentHash,
		"committed":    len(st.chunkIDs),
		"total":        st.res.NumChunks(),
	}).Debug("Chunk commit confirmed")

	if len(st.chunkIDs) == st.res.NumChunks() {
		m.maybeCommitManifestLocked(st)
		return
	}
	if len(st.chunkIDs) == st.cursor && st.cursor < st.res.NumChunks() {
		if err := m.writeBatchLocked(st); err != nil {
			m.appendLogLocked(parcel.NotificationEntry{
				Kind:    parcel.NotificationFollowUpFailed,
				Message: "chunk batch dispatch failed: " + err.Error(),
			})
		}
	}
}

// maybeCommitManifestLocked requests the manifest commit for a fully acked
// upload, exactly once.
func (m *Manager) maybeCommitManifestLocked(st *uploadState) {
	if st.manifestRequested {
		return
	}
	ctx, cancel := m.ctx()
	err := m.ledger.CommitManifest(ctx, st.visibility, st.desc, st.res.ContentHash, st.chunkIDs)
	cancel()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":     "maybeCommitManifestLocked",
			"content_hash": st.res.ContentHash,
			"error":        err.Error(),
		}).Error("Manifest commit rejected by backend")
		m.appendLogLocked(parcel.NotificationEntry{
			Kind:    parcel.NotificationFollowUpFailed,
			Message: "manifest commit failed: " + err.Error(),
		})
		return
	}
	st.manifestRequested = true
}

// handleManifestCreatedLocked indexes a manifest announcement and, when it
// completes a local upload, runs the recorded follow-up actions: completion
// callback, auto-send to recipients, tagging and byte caching. The upload
// state is dropped afterwards; the manifest index is the durable record.
func (m *Manager) handleManifestCreatedLocked(p parcel.ManifestCreated) {
	manifest := p.Manifest

	if p.State == parcel.StateDelete {
		rec, ok := m.manifests[manifest.ID]
		if !ok || rec.deleted {
			return
		}
		rec.deleted = true
		if p.IsNew {
			m.appendLogLocked(parcel.NotificationEntry{
				Kind:     parcel.NotificationPublishRemoved,
				Manifest: manifest.ID,
			})
		}
		logrus.WithFields(logrus.Fields{
			"function":    "handleManifestCreatedLocked",
			"manifest_id": manifest.ID,
		}).Info("Public parcel removed")
		return
	}

	m.indexManifestLocked(manifest)

	st, ok := m.uploads[manifest.ContentHash]
	if !ok {
		return
	}
	delete(m.uploads, manifest.ContentHash)

	logrus.WithFields(logrus.Fields{
		"function":     "handleManifestCreatedLocked",
		"manifest_id":  manifest.ID,
		"content_hash": manifest.ContentHash,
		"file_name":    st.desc.Name,
		"visibility":   st.visibility.String(),
	}).Info("Upload complete, manifest committed")

	if st.callback != nil {
		cb, id := st.callback, manifest.ID
		m.pendingCalls = append(m.pendingCalls, func() { cb(id) })
	}
	if len(st.recipients) > 0 {
		if _, err := m.sendFileLocked(manifest.ID, st.recipients); err != nil {
			m.appendLogLocked(parcel.NotificationEntry{
				Kind:     parcel.NotificationFollowUpFailed,
				Manifest: manifest.ID,
				Message:  "auto-send failed: " + err.Error(),
			})
		}
	}
	if len(st.tags) > 0 && m.tagger != nil {
		ctx, cancel := m.ctx()
		err := m.tagger.TagEntry(ctx, manifest.ID, st.visibility, st.tags, st.desc.Name)
		cancel()
		if err != nil {
			m.appendLogLocked(parcel.NotificationEntry{
				Kind:     parcel.NotificationFollowUpFailed,
				Manifest: manifest.ID,
				Message:  "tagging failed: " + err.Error(),
			})
		}
	}
	m.cacheBytesLocked(manifest.ContentHash, st.data)

	if p.IsNew {
		kind := parcel.NotificationPrivateCommitComplete
		if st.visibility == parcel.VisibilityPublic {
			kind = parcel.NotificationPublishComplete
		}
		m.appendLogLocked(parcel.NotificationEntry{
			Kind:     kind,
			Manifest: manifest.ID,
			Message:  st.desc.Name,
		})
	}
}
