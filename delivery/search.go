package delivery

import (
	"sort"
	"strings"

	"github.com/opd-ai/parcelshare/parcel"
)

// SearchParcel returns the non-deleted manifests whose name contains the
// query, case-insensitively, ordered by entry id. Queries shorter than two
// characters return nothing; a single letter matches too much to be useful.
func (m *Manager) SearchParcel(query string) []parcel.Manifest {
	query = strings.ToLower(strings.TrimSpace(query))
	if len(query) < 2 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var out []parcel.Manifest
	for _, rec := range m.manifests {
		if rec.deleted {
			continue
		}
		if strings.Contains(strings.ToLower(rec.manifest.Description.Name), query) {
			out = append(out, rec.manifest)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ParcelsWithTag returns the entry identifiers carrying the given tag, as
// reported by the tagging subsystem.
func (m *Manager) ParcelsWithTag(tag string) ([]parcel.EntryID, error) {
	if m.tagger == nil {
		return nil, nil
	}
	ctx, cancel := m.ctx()
	defer cancel()
	ids, err := m.tagger.EntriesWithTag(ctx, tag)
	if err != nil {
		return nil, backendErr("tag lookup", err)
	}
	return ids, nil
}
