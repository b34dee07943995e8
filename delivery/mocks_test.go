package delivery

import (
	"context"
	"fmt"
	"sync"

	"github.com/opd-ai/parcelshare/parcel"
)

// fakeLedger is a scripted backend double. It records every call and returns
// nothing asynchronously: tests deliver the corresponding pulses by hand so
// each step of the split-phase protocol can be asserted in isolation.
type fakeLedger struct {
	mu sync.Mutex

	chunks        []parcel.Chunk
	manifestCalls []manifestCall
	sends         []sendCall
	accepted      []parcel.NoticeID
	declined      []parcel.NoticeID
	missingReqs   []parcel.NoticeID
	unpublished   []parcel.EntryID

	content     map[parcel.EntryID][]byte
	manifestsBy map[parcel.EntryID]parcel.Manifest

	chunkErr    error
	manifestErr error
	sendErr     error
	fetchErr    error
}

type manifestCall struct {
	visibility  parcel.Visibility
	desc        parcel.Description
	contentHash parcel.ContentHash
	chunkIDs    []parcel.EntryID
}

type sendCall struct {
	manifestID parcel.EntryID
	recipients []parcel.AgentID
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		content:     make(map[parcel.EntryID][]byte),
		manifestsBy: make(map[parcel.EntryID]parcel.Manifest),
	}
}

func (f *fakeLedger) CommitChunk(_ context.Context, chunk parcel.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chunkErr != nil {
		return f.chunkErr
	}
	f.chunks = append(f.chunks, chunk)
	return nil
}

func (f *fakeLedger) CommitManifest(_ context.Context, visibility parcel.Visibility, desc parcel.Description, contentHash parcel.ContentHash, chunkIDs []parcel.EntryID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.manifestErr != nil {
		return f.manifestErr
	}
	f.manifestCalls = append(f.manifestCalls, manifestCall{
		visibility:  visibility,
		desc:        desc,
		contentHash: contentHash,
		chunkIDs:    append([]parcel.EntryID(nil), chunkIDs...),
	})
	return nil
}

func (f *fakeLedger) FetchManifest(_ context.Context, id parcel.EntryID) (parcel.Manifest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.manifestsBy[id]
	if !ok {
		return parcel.Manifest{}, fmt.Errorf("no manifest %s", id)
	}
	return m, nil
}

func (f *fakeLedger) FetchContent(_ context.Context, id parcel.EntryID) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	data, ok := f.content[id]
	if !ok {
		return nil, fmt.Errorf("no content %s", id)
	}
	return data, nil
}

func (f *fakeLedger) SendDistribution(_ context.Context, manifestID parcel.EntryID, recipients []parcel.AgentID) (parcel.DistributionID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sends = append(f.sends, sendCall{
		manifestID: manifestID,
		recipients: append([]parcel.AgentID(nil), recipients...),
	})
	return parcel.DistributionID(fmt.Sprintf("dist-%d", len(f.sends))), nil
}

func (f *fakeLedger) AcceptNotice(_ context.Context, id parcel.NoticeID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted = append(f.accepted, id)
	return nil
}

func (f *fakeLedger) DeclineNotice(_ context.Context, id parcel.NoticeID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declined = append(f.declined, id)
	return nil
}

func (f *fakeLedger) RequestMissingChunks(_ context.Context, id parcel.NoticeID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missingReqs = append(f.missingReqs, id)
	return nil
}

func (f *fakeLedger) Unpublish(_ context.Context, id parcel.EntryID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unpublished = append(f.unpublished, id)
	return nil
}

func (f *fakeLedger) chunkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks)
}

func (f *fakeLedger) manifestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.manifestCalls)
}

func (f *fakeLedger) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

// fakeTagger records tag operations in call order.
type fakeTagger struct {
	mu        sync.Mutex
	tagged    []tagCall
	untagged  []untagCall
	byTag     map[string][]parcel.EntryID
	tagsByID  map[parcel.EntryID][]string
	tagErr    error
	lookupErr error
}

type tagCall struct {
	id   parcel.EntryID
	tags []string
}

type untagCall struct {
	id  parcel.EntryID
	tag string
}

func newFakeTagger() *fakeTagger {
	return &fakeTagger{
		byTag:    make(map[string][]parcel.EntryID),
		tagsByID: make(map[parcel.EntryID][]string),
	}
}

func (f *fakeTagger) TagEntry(_ context.Context, id parcel.EntryID, _ parcel.Visibility, tags []string, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tagErr != nil {
		return f.tagErr
	}
	f.tagged = append(f.tagged, tagCall{id: id, tags: append([]string(nil), tags...)})
	for _, tag := range tags {
		f.byTag[tag] = append(f.byTag[tag], id)
		f.tagsByID[id] = append(f.tagsByID[id], tag)
	}
	return nil
}

func (f *fakeTagger) UntagEntry(_ context.Context, id parcel.EntryID, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.untagged = append(f.untagged, untagCall{id: id, tag: tag})
	return nil
}

func (f *fakeTagger) EntriesWithTag(_ context.Context, tag string) ([]parcel.EntryID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return append([]parcel.EntryID(nil), f.byTag[tag]...), nil
}

func (f *fakeTagger) TagsForEntry(_ context.Context, id parcel.EntryID) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return append([]string(nil), f.tagsByID[id]...), nil
}

// fakeProfiles resolves nicknames from a fixed map.
type fakeProfiles map[parcel.AgentID]string

func (f fakeProfiles) Nickname(_ context.Context, agent parcel.AgentID) (string, error) {
	nick, ok := f[agent]
	if !ok {
		return "", fmt.Errorf("unknown agent %s", agent)
	}
	return nick, nil
}
