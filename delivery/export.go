package delivery

import (
	"encoding/json"
	"fmt"

	"github.com/opd-ai/parcelshare/parcel"
)

// Snapshot is the serializable view of the manager's state, intended for
// support dumps and debugging.
type Snapshot struct {
	Uploads       []UploadProgress            `json:"uploads"`
	Manifests     []parcel.Manifest           `json:"manifests"`
	Distributions []parcel.DistributionRecord `json:"distributions"`
	Notices       []NoticeView                `json:"notices"`
	Notifications []parcel.NotificationEntry  `json:"notifications"`
}

// Snapshot collects the read-only projections into one record.
func (m *Manager) Snapshot() Snapshot {
	return Snapshot{
		Uploads:       m.UploadStates(),
		Manifests:     m.Manifests(),
		Distributions: m.Distributions(),
		Notices:       m.Notices(),
		Notifications: m.Notifications(),
	}
}

// ExportSnapshot serializes the current delivery state as indented JSON.
func (m *Manager) ExportSnapshot() ([]byte, error) {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize state snapshot: %w", err)
	}
	return data, nil
}
