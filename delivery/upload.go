package delivery

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/parcelshare/limits"
	"github.com/opd-ai/parcelshare/parcel"
	"github.com/opd-ai/parcelshare/split"
)

// StartCommitPrivateFile splits the file, creates an upload state and fires
// the first batch of chunk writes. The commit completes asynchronously: the
// manifest is committed once all chunk pulses have been observed, after
// which tags are applied and the file is sent to any recipients.
//
// If the content hash is already committed locally, no upload state is
// created: recipients (if any) are served from the existing manifest and a
// nil result is returned. A second call for content still in flight fails
// with ErrAlreadyInProgress.
func (m *Manager) StartCommitPrivateFile(name, kindInfo string, data []byte, tags []string, recipients []parcel.AgentID) (*split.Result, error) {
	return m.startUpload(name, kindInfo, data, parcel.VisibilityPrivate, tags, recipients, nil)
}

// StartCommitPrivateAndSendFile commits privately and sends to recipients,
// filtering out the local agent first. Fails with ErrNoRecipients when no
// recipient remains.
func (m *Manager) StartCommitPrivateAndSendFile(name, kindInfo string, data []byte, recipients []parcel.AgentID, tags []string) (*split.Result, error) {
	agents := make([]parcel.AgentID, 0, len(recipients))
	for _, r := range recipients {
		if r != m.cfg.LocalAgent {
			agents = append(agents, r)
		}
	}
	logrus.WithFields(logrus.Fields{
		"function":   "StartCommitPrivateAndSendFile",
		"file_name":  name,
		"recipients": len(agents),
	}).Info("Committing file for delivery")
	if len(agents) == 0 {
		return nil, ErrNoRecipients
	}
	return m.startUpload(name, kindInfo, data, parcel.VisibilityPrivate, tags, agents, nil)
}

// StartPublishFile splits the file and drives a public commit. The optional
// callback is invoked with the manifest identifier once the manifest pulse
// arrives, or immediately when the content is already published.
func (m *Manager) StartPublishFile(name, kindInfo string, data []byte, tags []string, callback func(parcel.EntryID)) (*split.Result, error) {
	return m.startUpload(name, kindInfo, data, parcel.VisibilityPublic, tags, nil, callback)
}

// startUpload is the shared entry point of all commit/publish operations.
func (m *Manager) startUpload(name, kindInfo string, data []byte, visibility parcel.Visibility, tags []string, recipients []parcel.AgentID, callback func(parcel.EntryID)) (*split.Result, error) {
	// Pre-flight policy check, before any chunk write begins, so an
	// oversized parcel never leaves partial work behind.
	if err := limits.ValidateParcelSize(int64(len(data)), m.cfg.MaxParcelSize); err != nil {
		return nil, err
	}

	res, err := split.Split(data, m.cfg.MaxChunkSize)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":     "startUpload",
		"file_name":    name,
		"file_size":    limits.PrettySize(int64(len(data))),
		"content_hash": res.ContentHash,
		"num_chunks":   res.NumChunks(),
		"visibility":   visibility.String(),
	}).Info("Starting upload")

	m.mu.Lock()
	if _, inFlight := m.uploads[res.ContentHash]; inFlight {
		m.mu.Unlock()
		return nil, ErrAlreadyInProgress
	}

	// Dedup shortcut: content already committed resolves against the
	// existing manifest without writing a single chunk.
	if id, exists := m.manifestByHash[res.ContentHash]; exists {
		rec := m.manifests[id]
		if visibility == parcel.VisibilityPublic && rec.manifest.Visibility == parcel.VisibilityPrivate {
			m.mu.Unlock()
			return nil, ErrPrivateContent
		}
		logrus.WithFields(logrus.Fields{
			"function":     "startUpload",
			"content_hash": res.ContentHash,
			"manifest_id":  id,
		}).Warn("Content already stored locally, skipping upload")
		var sendErr error
		if len(recipients) > 0 {
			_, sendErr = m.sendFileLocked(id, recipients)
		}
		m.mu.Unlock()
		// The callback runs outside the lock; it may call back into the
		// manager.
		if callback != nil {
			callback(id)
		}
		if sendErr != nil {
			return nil, sendErr
		}
		m.notify()
		return nil, nil
	}

	st := &uploadState{
		res:        res,
		data:       data,
		desc:       parcel.Description{Name: name, Size: int64(len(data)), KindInfo: kindInfo},
		visibility: visibility,
		recipients: recipients,
		tags:       tags,
		callback:   callback,
	}
	m.uploads[res.ContentHash] = st

	// Initiate the write-chunk loop. A rejection leaves the upload state in
	// place for a caller-directed retry.
	err = m.writeBatchLocked(st)
	m.mu.Unlock()

	m.notify()
	if err != nil {
		return res, err
	}
	return res, nil
}

// writeBatchLocked dispatches the next batch of chunk writes, bounded by the
// aggregate payload budget, and advances the cursor past each successfully
// dispatched chunk. Confirmation of persistence arrives later as
// ChunkCreated pulses; no new batch is issued for this content hash until
// the current one is fully acknowledged.
func (m *Manager) writeBatchLocked(st *uploadState) error {
	count := limits.BatchChunkCount(m.cfg.MaxBatchPayload, m.cfg.MaxChunkSize)
	end := st.cursor + count
	if end > st.res.NumChunks() {
		end = st.res.NumChunks()
	}

	logrus.WithFields(logrus.Fields{
		"function":     "writeBatchLocked",
		"content_hash": st.res.ContentHash,
		"from":         st.cursor,
		"to":           end,
	}).Debug("Dispatching chunk write batch")

	for st.cursor < end {
		chunk := parcel.Chunk{ContentHash: st.res.ContentHash, Payload: st.res.Chunks[st.cursor]}
		ctx, cancel := m.ctx()
		err := m.ledger.CommitChunk(ctx, chunk)
		cancel()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":     "writeBatchLocked",
				"content_hash": st.res.ContentHash,
				"chunk_index":  st.cursor,
				"error":        err.Error(),
			}).Error("Chunk write rejected by backend")
			return backendErr("chunk write", err)
		}
		st.cursor++
	}
	return nil
}

// RetryUpload re-dispatches the pending work of an upload whose last
// backend call was rejected: the pending chunk batch, or the manifest
// commit when all chunks are already acknowledged. Fails with
// ErrUnknownReference when no upload is in flight for the hash.
func (m *Manager) RetryUpload(hash parcel.ContentHash) error {
	m.mu.Lock()
	st, ok := m.uploads[hash]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownReference
	}
	var err error
	if len(st.chunkIDs) == st.res.NumChunks() {
		m.maybeCommitManifestLocked(st)
	} else {
		err = m.writeBatchLocked(st)
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.notify()
	return nil
}

// SendFile distributes an already committed manifest to recipients and
// returns the distribution identifier.
func (m *Manager) SendFile(manifestID parcel.EntryID, recipients []parcel.AgentID) (parcel.DistributionID, error) {
	agents := make([]parcel.AgentID, 0, len(recipients))
	for _, r := range recipients {
		if r != m.cfg.LocalAgent {
			agents = append(agents, r)
		}
	}
	if len(agents) == 0 {
		return "", ErrNoRecipients
	}

	m.mu.Lock()
	rec, ok := m.manifests[manifestID]
	if !ok || rec.deleted {
		m.mu.Unlock()
		return "", ErrUnknownReference
	}
	dist, err := m.sendFileLocked(manifestID, agents)
	m.mu.Unlock()
	if err != nil {
		return "", err
	}
	m.notify()
	return dist, nil
}

// sendFileLocked issues the distribution and records it with every
// recipient in PendingNotice state. Further transitions are driven
// exclusively by inbound pulses.
func (m *Manager) sendFileLocked(manifestID parcel.EntryID, recipients []parcel.AgentID) (parcel.DistributionID, error) {
	ctx, cancel := m.ctx()
	dist, err := m.ledger.SendDistribution(ctx, manifestID, recipients)
	cancel()
	if err != nil {
		return "", backendErr("send distribution", err)
	}

	states := make(map[parcel.AgentID]parcel.DeliveryState, len(recipients))
	for _, r := range recipients {
		states[r] = parcel.DeliveryPendingNotice
	}
	m.distributions[dist] = &parcel.DistributionRecord{
		ID:         dist,
		ManifestID: manifestID,
		Recipients: append([]parcel.AgentID(nil), recipients...),
		States:     states,
		SentAt:     m.clock(),
	}
	m.appendLogLocked(parcel.NotificationEntry{
		Kind:         parcel.NotificationDeliveryRequestSent,
		Distribution: dist,
		Manifest:     manifestID,
		Recipients:   append([]parcel.AgentID(nil), recipients...),
	})

	logrus.WithFields(logrus.Fields{
		"function":     "sendFileLocked",
		"manifest_id":  manifestID,
		"distribution": dist,
		"recipients":   len(recipients),
	}).Info("File delivery request sent")

	return dist, nil
}
