package delivery

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/parcelshare/backend"
	"github.com/opd-ai/parcelshare/limits"
	"github.com/opd-ai/parcelshare/parcel"
	"github.com/opd-ai/parcelshare/split"
)

// Config carries the size policy and timeout settings of a Manager.
type Config struct {
	// LocalAgent is the identity of this node; it is filtered out of
	// recipient lists and used to match inbound reply acks.
	LocalAgent parcel.AgentID

	MaxChunkSize    int
	MaxParcelSize   int64
	MaxBatchPayload int
	CacheThreshold  int

	// BackendTimeout bounds every backend call; expiry surfaces as a
	// backend rejection.
	BackendTimeout time.Duration
}

// withDefaults fills unset fields from the limits package defaults.
func (c Config) withDefaults() Config {
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = limits.DefaultMaxChunkSize
	}
	if c.MaxParcelSize <= 0 {
		c.MaxParcelSize = limits.DefaultMaxParcelSize
	}
	if c.MaxBatchPayload <= 0 {
		c.MaxBatchPayload = limits.DefaultMaxBatchPayload
	}
	if c.CacheThreshold <= 0 {
		c.CacheThreshold = limits.DefaultCacheThreshold
	}
	if c.BackendTimeout <= 0 {
		c.BackendTimeout = 10 * time.Second
	}
	return c
}

// uploadState tracks one in-progress upload, keyed by content hash. The
// pending recipients, tags and completion callback live on the record
// itself so no parallel side tables can drift out of sync with it.
type uploadState struct {
	res        *split.Result
	data       []byte
	desc       parcel.Description
	visibility parcel.Visibility

	chunkIDs []parcel.EntryID // append-only until complete
	cursor   int              // next chunk index not yet dispatched

	recipients []parcel.AgentID
	tags       []string
	callback   func(parcel.EntryID)

	// manifestRequested guards the commit-manifest transition so it fires
	// exactly once even if late chunk pulses re-announce.
	manifestRequested bool
}

// manifestRecord is a locally cached manifest plus its deletion mark.
type manifestRecord struct {
	manifest parcel.Manifest
	deleted  bool
}

// UploadProgress is the read-only projection of one in-progress upload,
// consumed by progress bars.
type UploadProgress struct {
	ContentHash     parcel.ContentHash `json:"content_hash"`
	Name            string             `json:"name"`
	Visibility      parcel.Visibility  `json:"visibility"`
	TotalChunks     int                `json:"total_chunks"`
	CommittedChunks int                `json:"committed_chunks"`
}

// NoticeView is the read-only projection of one inbound notice with its
// completion percentage, consumed by the inbox.
type NoticeView struct {
	Notice     parcel.DeliveryNotice `json:"notice"`
	Completion float64               `json:"completion"`
}

// Manager is the reconciliation core: it owns upload states, distribution
// records, inbound notices, the local manifest index, the byte cache and the
// notification log. All state is guarded by one mutex; pulse batches and
// user-initiated operations serialize through it, matching the single-actor
// model of the design.
type Manager struct {
	cfg      Config
	ledger   backend.Ledger
	tagger   backend.Tagger
	profiles backend.ProfileResolver
	store    Store

	clock func() time.Time

	mu             sync.Mutex
	uploads        map[parcel.ContentHash]*uploadState
	manifests      map[parcel.EntryID]*manifestRecord
	manifestByHash map[parcel.ContentHash]parcel.EntryID
	distributions  map[parcel.DistributionID]*parcel.DistributionRecord
	notices        map[parcel.NoticeID]*parcel.DeliveryNotice
	byteCache      map[parcel.ContentHash][]byte
	log            []parcel.NotificationEntry
	subscribers    []func()

	// pendingCalls collects completion callbacks queued during locked pulse
	// handling; they are invoked after the lock is released so a callback may
	// call back into the manager.
	pendingCalls []func()
}

// Store is the durable half of the byte cache; see cachestore.Store.
type Store interface {
	Put(ctx context.Context, hash parcel.ContentHash, data []byte) error
	Get(ctx context.Context, hash parcel.ContentHash) ([]byte, bool, error)
	Delete(ctx context.Context, hash parcel.ContentHash) error
}

// Option configures optional Manager collaborators.
type Option func(*Manager)

// WithTagger wires the external tagging subsystem.
func WithTagger(t backend.Tagger) Option {
	return func(m *Manager) { m.tagger = t }
}

// WithProfiles wires the external nickname resolver.
func WithProfiles(p backend.ProfileResolver) Option {
	return func(m *Manager) { m.profiles = p }
}

// WithStore wires a durable byte-cache store.
func WithStore(s Store) Option {
	return func(m *Manager) { m.store = s }
}

// withClock overrides the time source for deterministic tests.
func withClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// NewManager creates a reconciliation core over the given ledger backend.
func NewManager(cfg Config, ledger backend.Ledger, opts ...Option) *Manager {
	m := &Manager{
		cfg:            cfg.withDefaults(),
		ledger:         ledger,
		clock:          time.Now,
		uploads:        make(map[parcel.ContentHash]*uploadState),
		manifests:      make(map[parcel.EntryID]*manifestRecord),
		manifestByHash: make(map[parcel.ContentHash]parcel.EntryID),
		distributions:  make(map[parcel.DistributionID]*parcel.DistributionRecord),
		notices:        make(map[parcel.NoticeID]*parcel.DeliveryNotice),
		byteCache:      make(map[parcel.ContentHash][]byte),
	}
	for _, opt := range opts {
		opt(m)
	}

	logrus.WithFields(logrus.Fields{
		"function":        "NewManager",
		"local_agent":     cfg.LocalAgent,
		"max_chunk_size":  m.cfg.MaxChunkSize,
		"max_parcel_size": m.cfg.MaxParcelSize,
	}).Info("Delivery manager created")

	return m
}

// ctx returns a context bounding one backend call.
func (m *Manager) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.cfg.BackendTimeout)
}

// OnChange registers a subscriber invoked after every state change. A batch
// of pulses triggers exactly one invocation, not one per pulse.
func (m *Manager) OnChange(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// notify invokes all subscribers once, outside the lock.
func (m *Manager) notify() {
	m.mu.Lock()
	subs := make([]func(), len(m.subscribers))
	copy(subs, m.subscribers)
	m.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

// appendLogLocked appends one notification entry, stamping it with the
// manager clock. The log is append-only.
func (m *Manager) appendLogLocked(entry parcel.NotificationEntry) {
	entry.Timestamp = m.clock()
	m.log = append(m.log, entry)
}

// Notifications returns a copy of the full notification log.
func (m *Manager) Notifications() []parcel.NotificationEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]parcel.NotificationEntry(nil), m.log...)
}

// NotificationsAfter returns the log entries past the given count cursor.
// Consumers track how many entries they have displayed and pass that count
// to receive only the new tail.
func (m *Manager) NotificationsAfter(cursor int) []parcel.NotificationEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= len(m.log) {
		return nil
	}
	return append([]parcel.NotificationEntry(nil), m.log[cursor:]...)
}

// NotificationCount returns the current length of the notification log.
func (m *Manager) NotificationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.log)
}

// UploadStates returns read-only projections of all in-progress uploads,
// ordered by content hash.
func (m *Manager) UploadStates() []UploadProgress {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]UploadProgress, 0, len(m.uploads))
	for hash, st := range m.uploads {
		out = append(out, UploadProgress{
			ContentHash:     hash,
			Name:            st.desc.Name,
			Visibility:      st.visibility,
			TotalChunks:     st.res.NumChunks(),
			CommittedChunks: len(st.chunkIDs),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContentHash < out[j].ContentHash })
	return out
}

// Distributions returns read-only copies of all outbound distribution
// records, ordered by send time.
func (m *Manager) Distributions() []parcel.DistributionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]parcel.DistributionRecord, 0, len(m.distributions))
	for _, rec := range m.distributions {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out
}

// Notices returns read-only projections of all pending inbound notices with
// their completion percentages, ordered by notice id.
func (m *Manager) Notices() []NoticeView {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]NoticeView, 0, len(m.notices))
	for _, n := range m.notices {
		out = append(out, NoticeView{Notice: n.Clone(), Completion: n.CompletionPercentage()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Notice.ID < out[j].Notice.ID })
	return out
}

// Manifests returns copies of all locally indexed, non-deleted manifests,
// ordered by entry id.
func (m *Manager) Manifests() []parcel.Manifest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]parcel.Manifest, 0, len(m.manifests))
	for _, rec := range m.manifests {
		if rec.deleted {
			continue
		}
		out = append(out, rec.manifest)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// indexManifestLocked records a manifest in the local index.
func (m *Manager) indexManifestLocked(manifest parcel.Manifest) {
	m.manifests[manifest.ID] = &manifestRecord{manifest: manifest}
	m.manifestByHash[manifest.ContentHash] = manifest.ID
}
