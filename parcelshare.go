package parcelshare

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/parcelshare/backend"
	"github.com/opd-ai/parcelshare/cachestore"
	"github.com/opd-ai/parcelshare/delivery"
	"github.com/opd-ai/parcelshare/parcel"
	"github.com/opd-ai/parcelshare/split"
)

// Share is a parcelshare instance: the delivery manager wired to a backend,
// exposed as one facade.
type Share struct {
	options    *Options
	manager    *delivery.Manager
	ledger     backend.Ledger
	dispatcher *pulseDispatcher

	notifyMu     sync.Mutex
	notifyCursor int
	notifyFns    []func(parcel.NotificationEntry)
}

// New creates a Share instance with the given options. A nil options value
// uses the defaults with an in-process memory backend.
func New(options *Options) (*Share, error) {
	if options == nil {
		options = NewOptions()
	}

	s := &Share{options: options}
	s.dispatcher = newPulseDispatcher(func(from parcel.AgentID, pulses []parcel.Pulse) {
		s.manager.HandlePulseBatch(from, pulses)
	})

	ledger := options.Backend
	if ledger == nil {
		ledger = backend.NewMemory(options.LocalAgent, nil)
	}
	// The memory backend emits pulses on the caller's stack; the dispatcher
	// re-delivers them on its own goroutine, as the PulseSink contract
	// requires.
	if mem, ok := ledger.(*backend.Memory); ok {
		mem.SetSink(s.dispatcher.push)
	}
	s.ledger = ledger

	store := options.Store
	if store == nil && options.CachePath != "" {
		fs, err := cachestore.NewFSStore(options.CachePath)
		if err != nil {
			return nil, err
		}
		store = fs
	}

	opts := []delivery.Option{}
	if options.Tagger != nil {
		opts = append(opts, delivery.WithTagger(options.Tagger))
	}
	if options.Profiles != nil {
		opts = append(opts, delivery.WithProfiles(options.Profiles))
	}
	if store != nil {
		opts = append(opts, delivery.WithStore(store))
	}

	s.manager = delivery.NewManager(delivery.Config{
		LocalAgent:      options.LocalAgent,
		MaxChunkSize:    options.MaxChunkSize,
		MaxParcelSize:   options.MaxParcelSize,
		MaxBatchPayload: options.MaxBatchPayload,
		CacheThreshold:  options.CacheThreshold,
		BackendTimeout:  options.BackendTimeout,
	}, ledger, opts...)

	s.manager.OnChange(s.drainNotifications)

	logrus.WithFields(logrus.Fields{
		"function":    "New",
		"local_agent": options.LocalAgent,
	}).Info("Parcelshare instance created")

	return s, nil
}

// Close stops the pulse dispatcher after draining queued batches. The
// instance must not be used afterwards.
func (s *Share) Close() {
	s.dispatcher.close()
	logrus.WithFields(logrus.Fields{
		"function":    "Close",
		"local_agent": s.options.LocalAgent,
	}).Info("Parcelshare instance closed")
}

// Manager exposes the underlying delivery manager for advanced callers.
func (s *Share) Manager() *delivery.Manager {
	return s.manager
}

// Backend exposes the wired ledger backend.
func (s *Share) Backend() backend.Ledger {
	return s.ledger
}

// OnNotification registers a callback invoked once per new notification log
// entry, in log order.
func (s *Share) OnNotification(fn func(parcel.NotificationEntry)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.notifyFns = append(s.notifyFns, fn)
}

// drainNotifications delivers the unseen tail of the notification log to
// every registered callback.
func (s *Share) drainNotifications() {
	s.notifyMu.Lock()
	tail := s.manager.NotificationsAfter(s.notifyCursor)
	s.notifyCursor += len(tail)
	fns := make([]func(parcel.NotificationEntry), len(s.notifyFns))
	copy(fns, s.notifyFns)
	s.notifyMu.Unlock()

	for _, entry := range tail {
		for _, fn := range fns {
			fn(entry)
		}
	}
}

// CommitPrivateFile commits a file privately, tagging it and sending it to
// recipients once the manifest lands.
func (s *Share) CommitPrivateFile(name, kindInfo string, data []byte, tags []string, recipients []parcel.AgentID) (*split.Result, error) {
	return s.manager.StartCommitPrivateFile(name, kindInfo, data, tags, recipients)
}

// CommitPrivateAndSendFile commits a file privately for delivery to the
// given recipients.
func (s *Share) CommitPrivateAndSendFile(name, kindInfo string, data []byte, recipients []parcel.AgentID, tags []string) (*split.Result, error) {
	return s.manager.StartCommitPrivateAndSendFile(name, kindInfo, data, recipients, tags)
}

// PublishFile publishes a file to the group index. The optional callback
// receives the manifest identifier once the publish completes.
func (s *Share) PublishFile(name, kindInfo string, data []byte, tags []string, callback func(parcel.EntryID)) (*split.Result, error) {
	return s.manager.StartPublishFile(name, kindInfo, data, tags, callback)
}

// SendFile distributes an already committed manifest to recipients.
func (s *Share) SendFile(manifestID parcel.EntryID, recipients []parcel.AgentID) (parcel.DistributionID, error) {
	return s.manager.SendFile(manifestID, recipients)
}

// AcceptDelivery accepts an inbound delivery offer.
func (s *Share) AcceptDelivery(id parcel.NoticeID) error {
	return s.manager.AcceptDelivery(id)
}

// DeclineDelivery declines an inbound delivery offer.
func (s *Share) DeclineDelivery(id parcel.NoticeID) error {
	return s.manager.DeclineDelivery(id)
}

// ResumeInbounds re-requests missing chunks for incomplete accepted offers.
func (s *Share) ResumeInbounds() error {
	return s.manager.ResumeInbounds()
}

// FetchFile returns the full content of a manifest.
func (s *Share) FetchFile(manifestID parcel.EntryID) ([]byte, error) {
	return s.manager.FetchFile(manifestID)
}

// FetchFileInfo returns the manifest for an entry identifier.
func (s *Share) FetchFileInfo(manifestID parcel.EntryID) (parcel.Manifest, error) {
	return s.manager.FetchFileInfo(manifestID)
}

// SearchParcel searches locally indexed manifests by name.
func (s *Share) SearchParcel(query string) []parcel.Manifest {
	return s.manager.SearchParcel(query)
}

// ParcelsWithTag returns the entry identifiers carrying a tag.
func (s *Share) ParcelsWithTag(tag string) ([]parcel.EntryID, error) {
	return s.manager.ParcelsWithTag(tag)
}

// RemovePublicParcel removes a published parcel from the group index.
func (s *Share) RemovePublicParcel(manifestID parcel.EntryID) error {
	return s.manager.RemovePublicParcel(manifestID)
}

// HandleRawPulses feeds a wire batch of pulses into the manager. Callers
// integrating a real backend deliver its pulse stream here.
func (s *Share) HandleRawPulses(from parcel.AgentID, raws []parcel.RawPulse) {
	s.manager.HandleRawPulses(from, raws)
}

// Notifications returns the full notification log.
func (s *Share) Notifications() []parcel.NotificationEntry {
	return s.manager.Notifications()
}

// UploadStates returns the in-progress uploads.
func (s *Share) UploadStates() []delivery.UploadProgress {
	return s.manager.UploadStates()
}

// Distributions returns all outbound distribution records.
func (s *Share) Distributions() []parcel.DistributionRecord {
	return s.manager.Distributions()
}

// Notices returns the pending inbound offers.
func (s *Share) Notices() []delivery.NoticeView {
	return s.manager.Notices()
}

// Manifests returns the locally indexed manifests.
func (s *Share) Manifests() []parcel.Manifest {
	return s.manager.Manifests()
}

// ExportSnapshot serializes the instance state as an indented JSON document
// with one top-level key per subsystem: delivery, tagging and profiles. The
// tagging snapshot covers locally indexed manifests; the profiles snapshot
// covers agents seen in distributions and notices.
func (s *Share) ExportSnapshot() ([]byte, error) {
	doc := struct {
		Delivery delivery.Snapshot           `json:"delivery"`
		Tagging  map[parcel.EntryID][]string `json:"tagging"`
		Profiles map[parcel.AgentID]string   `json:"profiles"`
	}{
		Delivery: s.manager.Snapshot(),
		Tagging:  make(map[parcel.EntryID][]string),
		Profiles: make(map[parcel.AgentID]string),
	}

	ctx := context.Background()
	if s.options.Tagger != nil {
		for _, m := range doc.Delivery.Manifests {
			tags, err := s.options.Tagger.TagsForEntry(ctx, m.ID)
			if err != nil || len(tags) == 0 {
				continue
			}
			doc.Tagging[m.ID] = tags
		}
	}
	if s.options.Profiles != nil {
		for _, agent := range s.knownAgents(doc.Delivery) {
			nick, err := s.options.Profiles.Nickname(ctx, agent)
			if err != nil || nick == "" {
				continue
			}
			doc.Profiles[agent] = nick
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize state snapshot: %w", err)
	}
	return data, nil
}

// knownAgents collects every agent identity present in the delivery state.
func (s *Share) knownAgents(snap delivery.Snapshot) []parcel.AgentID {
	seen := make(map[parcel.AgentID]struct{})
	var out []parcel.AgentID
	add := func(a parcel.AgentID) {
		if a == "" {
			return
		}
		if _, ok := seen[a]; ok {
			return
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	for _, d := range snap.Distributions {
		for _, r := range d.Recipients {
			add(r)
		}
	}
	for _, n := range snap.Notices {
		add(n.Notice.Sender)
	}
	return out
}
