package delivery

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/parcelshare/parcel"
	"github.com/opd-ai/parcelshare/split"
)

// FetchFile returns the full byte content of a manifest, serving from the
// in-memory cache, then the durable store, then the backend. Bytes fetched
// from the backend are verified against the manifest's content hash before
// being cached or returned.
func (m *Manager) FetchFile(manifestID parcel.EntryID) ([]byte, error) {
	m.mu.Lock()
	rec, ok := m.manifests[manifestID]
	if !ok || rec.deleted {
		m.mu.Unlock()
		return nil, ErrUnknownReference
	}
	manifest := rec.manifest
	if data, hit := m.byteCache[manifest.ContentHash]; hit {
		m.mu.Unlock()
		return data, nil
	}
	m.mu.Unlock()

	if m.store != nil {
		ctx, cancel := m.ctx()
		data, found, err := m.store.Get(ctx, manifest.ContentHash)
		cancel()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":     "FetchFile",
				"content_hash": manifest.ContentHash,
				"error":        err.Error(),
			}).Warn("Durable cache read failed, falling back to backend")
		} else if found {
			m.mu.Lock()
			m.byteCache[manifest.ContentHash] = data
			m.mu.Unlock()
			return data, nil
		}
	}

	ctx, cancel := m.ctx()
	data, err := m.ledger.FetchContent(ctx, manifestID)
	cancel()
	if err != nil {
		return nil, backendErr("fetch content", err)
	}
	if split.HashContent(data) != manifest.ContentHash {
		logrus.WithFields(logrus.Fields{
			"function":     "FetchFile",
			"manifest_id":  manifestID,
			"content_hash": manifest.ContentHash,
		}).Error("Fetched content failed hash verification")
		return nil, ErrContentMismatch
	}

	m.mu.Lock()
	m.cacheBytesLocked(manifest.ContentHash, data)
	m.mu.Unlock()
	return data, nil
}

// FetchFileInfo returns a copy of a locally indexed manifest, consulting the
// backend when the id is not in the local index yet.
func (m *Manager) FetchFileInfo(manifestID parcel.EntryID) (parcel.Manifest, error) {
	m.mu.Lock()
	if rec, ok := m.manifests[manifestID]; ok && !rec.deleted {
		manifest := rec.manifest
		m.mu.Unlock()
		return manifest, nil
	}
	m.mu.Unlock()

	ctx, cancel := m.ctx()
	manifest, err := m.ledger.FetchManifest(ctx, manifestID)
	cancel()
	if err != nil {
		return parcel.Manifest{}, backendErr("fetch manifest", err)
	}

	m.mu.Lock()
	m.indexManifestLocked(manifest)
	m.mu.Unlock()
	return manifest, nil
}

// cacheBytesLocked stores content in the in-memory cache, and in the durable
// store when the parcel is small enough to be worth keeping on disk.
func (m *Manager) cacheBytesLocked(hash parcel.ContentHash, data []byte) {
	if data == nil {
		return
	}
	m.byteCache[hash] = data

	if m.store == nil || len(data) > m.cfg.CacheThreshold {
		return
	}
	ctx, cancel := m.ctx()
	err := m.store.Put(ctx, hash, data)
	cancel()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":     "cacheBytesLocked",
			"content_hash": hash,
			"error":        err.Error(),
		}).Warn("Durable cache write failed")
	}
}

// RemovePublicParcel unpublishes a public manifest, strips its tags and
// marks the local index entry deleted. The order matters: the entry leaves
// the group index first so a tag search can never surface a parcel that is
// already gone.
func (m *Manager) RemovePublicParcel(manifestID parcel.EntryID) error {
	m.mu.Lock()
	rec, ok := m.manifests[manifestID]
	if !ok || rec.deleted {
		m.mu.Unlock()
		return ErrUnknownReference
	}
	if rec.manifest.Visibility != parcel.VisibilityPublic {
		m.mu.Unlock()
		return ErrPrivateContent
	}
	m.mu.Unlock()

	ctx, cancel := m.ctx()
	err := m.ledger.Unpublish(ctx, manifestID)
	cancel()
	if err != nil {
		return backendErr("unpublish", err)
	}

	if m.tagger != nil {
		ctx, cancel := m.ctx()
		tags, err := m.tagger.TagsForEntry(ctx, manifestID)
		cancel()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":    "RemovePublicParcel",
				"manifest_id": manifestID,
				"error":       err.Error(),
			}).Warn("Could not enumerate tags of removed parcel")
		}
		for _, tag := range tags {
			ctx, cancel := m.ctx()
			err := m.tagger.UntagEntry(ctx, manifestID, tag)
			cancel()
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function":    "RemovePublicParcel",
					"manifest_id": manifestID,
					"tag":         tag,
					"error":       err.Error(),
				}).Warn("Could not remove tag of removed parcel")
			}
		}
	}

	// The backend's delete pulse may have been processed while the lock was
	// released above; only the first path to mark the record appends the
	// removal entry.
	m.mu.Lock()
	if !rec.deleted {
		rec.deleted = true
		m.appendLogLocked(parcel.NotificationEntry{
			Kind:     parcel.NotificationPublishRemoved,
			Manifest: manifestID,
		})
	}
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":    "RemovePublicParcel",
		"manifest_id": manifestID,
	}).Info("Public parcel removed")

	m.notify()
	return nil
}
