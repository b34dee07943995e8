package backend

import (
	"context"
	"sync"

	"github.com/opd-ai/parcelshare/parcel"
)

// MemoryTagger is an in-process Tagger double keeping the secondary tag
// index in maps. Like Memory, it serves the examples and integration tests.
type MemoryTagger struct {
	mu           sync.Mutex
	tagsByEntry  map[parcel.EntryID][]string
	entriesByTag map[string][]parcel.EntryID
}

// NewMemoryTagger creates an empty in-memory tag index.
func NewMemoryTagger() *MemoryTagger {
	return &MemoryTagger{
		tagsByEntry:  make(map[parcel.EntryID][]string),
		entriesByTag: make(map[string][]parcel.EntryID),
	}
}

// TagEntry associates tags with an entry. The display hint and visibility
// are accepted for contract compatibility; the in-memory index does not
// partition by them.
func (t *MemoryTagger) TagEntry(ctx context.Context, id parcel.EntryID, _ parcel.Visibility, tags []string, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tag := range tags {
		if containsTag(t.tagsByEntry[id], tag) {
			continue
		}
		t.tagsByEntry[id] = append(t.tagsByEntry[id], tag)
		t.entriesByTag[tag] = append(t.entriesByTag[tag], id)
	}
	return nil
}

// UntagEntry removes one tag association from an entry.
func (t *MemoryTagger) UntagEntry(ctx context.Context, id parcel.EntryID, tag string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tagsByEntry[id] = removeTag(t.tagsByEntry[id], tag)
	entries := t.entriesByTag[tag]
	for i, e := range entries {
		if e == id {
			t.entriesByTag[tag] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	return nil
}

// EntriesWithTag returns all entries carrying the tag.
func (t *MemoryTagger) EntriesWithTag(ctx context.Context, tag string) ([]parcel.EntryID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]parcel.EntryID(nil), t.entriesByTag[tag]...), nil
}

// TagsForEntry returns all tags of an entry.
func (t *MemoryTagger) TagsForEntry(ctx context.Context, id parcel.EntryID) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.tagsByEntry[id]...), nil
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func removeTag(tags []string, tag string) []string {
	for i, t := range tags {
		if t == tag {
			return append(tags[:i], tags[i+1:]...)
		}
	}
	return tags
}

// StaticProfiles resolves nicknames from a fixed map. Unknown agents resolve
// to an empty nickname without error, matching the behavior of the external
// profiles subsystem when a peer has not published a profile yet.
type StaticProfiles map[parcel.AgentID]string

// Nickname implements ProfileResolver.
func (p StaticProfiles) Nickname(ctx context.Context, agent parcel.AgentID) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p[agent], nil
}
