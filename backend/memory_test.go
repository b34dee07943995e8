package backend

import (
	"context"
	"sync"
	"testing"

	"github.com/opd-ai/parcelshare/parcel"
)

type pulseRecorder struct {
	mu      sync.Mutex
	batches [][]parcel.Pulse
}

func (r *pulseRecorder) sink(_ parcel.AgentID, pulses []parcel.Pulse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, pulses)
}

func (r *pulseRecorder) all() []parcel.Pulse {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []parcel.Pulse
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}

func TestMemoryCommitChunkEmitsPulse(t *testing.T) {
	rec := &pulseRecorder{}
	m := NewMemory("local", rec.sink)
	ctx := context.Background()

	chunk := parcel.Chunk{ContentHash: "h1", Payload: []byte("payload")}
	if err := m.CommitChunk(ctx, chunk); err != nil {
		t.Fatalf("CommitChunk failed: %v", err)
	}

	pulses := rec.all()
	if len(pulses) != 1 {
		t.Fatalf("expected 1 pulse, got %d", len(pulses))
	}
	cc, ok := pulses[0].(parcel.ChunkCreated)
	if !ok {
		t.Fatalf("expected ChunkCreated, got %T", pulses[0])
	}
	if cc.ContentHash != "h1" || cc.ID == "" || !cc.IsNew {
		t.Errorf("unexpected pulse contents: %+v", cc)
	}
}

func TestMemoryCommitChunkDedup(t *testing.T) {
	rec := &pulseRecorder{}
	m := NewMemory("local", rec.sink)
	ctx := context.Background()

	chunk := parcel.Chunk{ContentHash: "h1", Payload: []byte("same bytes")}
	if err := m.CommitChunk(ctx, chunk); err != nil {
		t.Fatalf("first commit failed: %v", err)
	}
	if err := m.CommitChunk(ctx, chunk); err != nil {
		t.Fatalf("second commit failed: %v", err)
	}

	pulses := rec.all()
	if len(pulses) != 2 {
		t.Fatalf("expected 2 pulses, got %d", len(pulses))
	}
	first := pulses[0].(parcel.ChunkCreated)
	second := pulses[1].(parcel.ChunkCreated)
	if !first.IsNew {
		t.Error("first commit must announce a new entry")
	}
	if second.IsNew {
		t.Error("re-commit must be a re-announcement (IsNew=false)")
	}
	if first.ID != second.ID {
		t.Error("re-commit must return the same entry id")
	}
}

func TestMemoryManifestRoundTrip(t *testing.T) {
	rec := &pulseRecorder{}
	m := NewMemory("local", rec.sink)
	ctx := context.Background()

	chunks := [][]byte{[]byte("aaa"), []byte("bbb")}
	var chunkIDs []parcel.EntryID
	for _, payload := range chunks {
		if err := m.CommitChunk(ctx, parcel.Chunk{ContentHash: "h2", Payload: payload}); err != nil {
			t.Fatalf("CommitChunk failed: %v", err)
		}
	}
	for _, p := range rec.all() {
		chunkIDs = append(chunkIDs, p.(parcel.ChunkCreated).ID)
	}

	desc := parcel.Description{Name: "notes.txt", Size: 6, KindInfo: "text/plain"}
	if err := m.CommitManifest(ctx, parcel.VisibilityPublic, desc, "h2", chunkIDs); err != nil {
		t.Fatalf("CommitManifest failed: %v", err)
	}

	pulses := rec.all()
	mc, ok := pulses[len(pulses)-1].(parcel.ManifestCreated)
	if !ok {
		t.Fatalf("expected ManifestCreated, got %T", pulses[len(pulses)-1])
	}

	fetched, err := m.FetchManifest(ctx, mc.Manifest.ID)
	if err != nil {
		t.Fatalf("FetchManifest failed: %v", err)
	}
	if fetched.Description.Name != "notes.txt" {
		t.Errorf("unexpected manifest description: %+v", fetched.Description)
	}

	content, err := m.FetchContent(ctx, mc.Manifest.ID)
	if err != nil {
		t.Fatalf("FetchContent failed: %v", err)
	}
	if string(content) != "aaabbb" {
		t.Errorf("reassembled content = %q, want %q", content, "aaabbb")
	}
}

func TestMemoryUnpublish(t *testing.T) {
	rec := &pulseRecorder{}
	m := NewMemory("local", rec.sink)
	ctx := context.Background()

	desc := parcel.Description{Name: "pub.bin", Size: 0}
	if err := m.CommitManifest(ctx, parcel.VisibilityPublic, desc, "h3", nil); err != nil {
		t.Fatalf("CommitManifest failed: %v", err)
	}
	id := rec.all()[0].(parcel.ManifestCreated).Manifest.ID

	if err := m.Unpublish(ctx, id); err != nil {
		t.Fatalf("Unpublish failed: %v", err)
	}
	if _, err := m.FetchManifest(ctx, id); err == nil {
		t.Error("unpublished manifest must not be fetchable")
	}

	pulses := rec.all()
	last := pulses[len(pulses)-1].(parcel.ManifestCreated)
	if last.State != parcel.StateDelete {
		t.Errorf("unpublish must announce StateDelete, got %v", last.State)
	}
}

func TestMemoryTagger(t *testing.T) {
	tagger := NewMemoryTagger()
	ctx := context.Background()

	if err := tagger.TagEntry(ctx, "e1", parcel.VisibilityPublic, []string{"work", "pdf"}, "report"); err != nil {
		t.Fatalf("TagEntry failed: %v", err)
	}
	if err := tagger.TagEntry(ctx, "e2", parcel.VisibilityPrivate, []string{"work"}, "draft"); err != nil {
		t.Fatalf("TagEntry failed: %v", err)
	}

	entries, err := tagger.EntriesWithTag(ctx, "work")
	if err != nil {
		t.Fatalf("EntriesWithTag failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries with tag, got %d", len(entries))
	}

	if err := tagger.UntagEntry(ctx, "e1", "work"); err != nil {
		t.Fatalf("UntagEntry failed: %v", err)
	}
	tags, err := tagger.TagsForEntry(ctx, "e1")
	if err != nil {
		t.Fatalf("TagsForEntry failed: %v", err)
	}
	if len(tags) != 1 || tags[0] != "pdf" {
		t.Errorf("expected [pdf], got %v", tags)
	}
}
