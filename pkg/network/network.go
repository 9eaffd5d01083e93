// Package network implements the Network Manager and per-feed Subscriber
// (spec.md §4.12, C12): resolving a specification to feeds, opening one
// shared stream per feed, and driving newly-received references through
// load-then-persist into the local store. It is grounded loosely on the
// teacher's replay/engine.go Session/Step bookkeeping (a named resource
// tracked through a lifecycle with a status and a sequence position) and
// pkg/kernel/retry's backoff, adapted from "replay a recorded session" to
// "drive a live subscription," reusing github.com/cenkalti/backoff/v4 for
// the immediate-retry budget and golang.org/x/time/rate to pace the
// periodic refresh fallback.
package network

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/jinaga/factengine/pkg/fact"
	"github.com/jinaga/factengine/pkg/feed"
	"github.com/jinaga/factengine/pkg/fork"
	"github.com/jinaga/factengine/pkg/query"
	"github.com/jinaga/factengine/pkg/specification"
)

// Disposer releases a transport-level stream handle.
type Disposer interface {
	Dispose()
}

// Transport opens a server-streamed feed: onResponse is called with each
// batch of newly visible references and the bookmark to resume from;
// onError is called when the stream itself fails (distinct from an
// application-level error in a single response). StreamFeed returns a
// Disposer that tears the stream down.
type Transport interface {
	StreamFeed(ctx context.Context, feedSpec *specification.Specification, given query.Tuple, bookmark string,
		onResponse func(refs []fact.Reference, nextBookmark string), onError func(error)) (Disposer, error)
}

// BookmarkStore persists the resume position for a feed key across
// restarts — "local metadata" in spec.md §4.12's wording. A feed key
// identifies one (specification shape, given tuple) pair; Key computes it.
type BookmarkStore interface {
	Bookmark(ctx context.Context, feedKey string) (string, error)
	SetBookmark(ctx context.Context, feedKey string, bookmark string) error
}

// MemoryBookmarkStore is an in-process BookmarkStore, used by PassThrough/
// Transient forks that keep no durable metadata of their own.
type MemoryBookmarkStore struct {
	mu        sync.Mutex
	bookmarks map[string]string
}

func NewMemoryBookmarkStore() *MemoryBookmarkStore {
	return &MemoryBookmarkStore{bookmarks: map[string]string{}}
}

func (s *MemoryBookmarkStore) Bookmark(_ context.Context, feedKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookmarks[feedKey], nil
}

func (s *MemoryBookmarkStore) SetBookmark(_ context.Context, feedKey string, bookmark string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookmarks[feedKey] = bookmark
	return nil
}

// Key computes a stable identifier for a (specification, given) pair from
// its skeleton shape and the given tuple's bound references, so that two
// requests for the same feed under relabeled givens share one Subscriber
// (spec.md §4.12: "multiple subscribers to the same feed share a single
// stream").
func Key(spec *specification.Specification, given query.Tuple) string {
	sk := feed.Build(spec)
	type keyed struct {
		Types []string         `json:"types"`
		Given []fact.Reference `json:"given"`
	}
	ordered := make([]fact.Reference, 0, len(spec.Givens))
	for _, g := range spec.Givens {
		ordered = append(ordered, given[g.Name])
	}
	data, _ := json.Marshal(keyed{Types: sk.FactTypes, Given: ordered})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RetryConfig governs a Subscriber's reconnect behavior (spec.md §4.12:
// "schedule retry with exponential backoff; after a fixed number of
// immediate retries, fall back to a periodic refresh timer (default
// 90 s)").
type RetryConfig struct {
	ImmediateRetries       int
	InitialInterval        time.Duration
	MaxInterval            time.Duration
	RefreshIntervalSeconds int
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.ImmediateRetries <= 0 {
		c.ImmediateRetries = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = time.Second
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 60 * time.Second
	}
	if c.RefreshIntervalSeconds <= 0 {
		c.RefreshIntervalSeconds = 90
	}
	return c
}

// Manager resolves specifications into feeds and owns one Subscriber per
// distinct feed key, reference-counted across callers (spec.md §4.12).
type Manager struct {
	mu          sync.Mutex
	transport   Transport
	loader      *fork.Fork
	bookmarks   BookmarkStore
	retryConfig RetryConfig
	log         *slog.Logger

	subscribers map[string]*sharedSubscriber
}

type sharedSubscriber struct {
	sub      *Subscriber
	refCount int
}

// New constructs a Manager. loader is the Fork used to persist fetched
// envelopes (its RemoteLoader must be backed by the same transport so
// Load can fetch full envelope bodies for bare references a stream
// response names); Fork.Load already notifies observers via its own
// composed observable.Source, so Manager needs no observer hook of its
// own.
func New(transport Transport, loader *fork.Fork, bookmarks BookmarkStore, retryConfig RetryConfig, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		transport:   transport,
		loader:      loader,
		bookmarks:   bookmarks,
		retryConfig: retryConfig.withDefaults(),
		log:         log,
		subscribers: map[string]*sharedSubscriber{},
	}
}

// Resolve decomposes spec into its constituent feeds (C6) and returns one
// Subscriber handle per feed, creating or reusing a shared subscriber for
// each feed key.
func (m *Manager) Resolve(spec *specification.Specification, given query.Tuple) []*Subscriber {
	feeds := feed.Decompose(spec)
	subs := make([]*Subscriber, 0, len(feeds))
	for _, f := range feeds {
		subs = append(subs, m.acquire(f, given))
	}
	return subs
}

// Subscribe resolves spec into feeds and starts each newly-acquired
// subscriber (an already-shared one is left running), returning every
// feed's Subscriber handle. It is the combined "resolve, then open a
// subscription" operation spec.md §4.12 describes.
func (m *Manager) Subscribe(ctx context.Context, spec *specification.Specification, given query.Tuple) ([]*Subscriber, error) {
	feeds := feed.Decompose(spec)
	subs := make([]*Subscriber, 0, len(feeds))
	for _, f := range feeds {
		sub, isNew := m.acquireChecked(f, given)
		subs = append(subs, sub)
		if isNew {
			if err := sub.Start(ctx); err != nil {
				return subs, err
			}
		}
	}
	return subs, nil
}

func (m *Manager) acquireChecked(feedSpec *specification.Specification, given query.Tuple) (*Subscriber, bool) {
	key := Key(feedSpec, given)

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.subscribers[key]; ok {
		existing.refCount++
		return existing.sub, false
	}

	sub := newSubscriber(key, feedSpec, given, m.transport, m.loader, m.bookmarks, m.retryConfig, m.log)
	m.subscribers[key] = &sharedSubscriber{sub: sub, refCount: 1}
	return sub, true
}

func (m *Manager) acquire(feedSpec *specification.Specification, given query.Tuple) *Subscriber {
	sub, _ := m.acquireChecked(feedSpec, given)
	return sub
}

// Release drops one reference to the feed key's shared subscriber,
// stopping and evicting it once the count reaches zero.
func (m *Manager) Release(sub *Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	shared, ok := m.subscribers[sub.key]
	if !ok {
		return
	}
	shared.refCount--
	if shared.refCount <= 0 {
		shared.sub.Stop()
		delete(m.subscribers, sub.key)
	}
}

// Subscriber drives a single feed's live stream into the local store
// (spec.md §4.12). Construct via Manager.Resolve, not directly.
type Subscriber struct {
	key       string
	feedSpec  *specification.Specification
	given     query.Tuple
	transport Transport
	loader    *fork.Fork
	bookmarks BookmarkStore
	retry     RetryConfig
	log       *slog.Logger

	mu        sync.Mutex
	disposer  Disposer
	stopped   bool
	startOnce sync.Once
	refreshT  *time.Timer
	limiter   *rate.Limiter
}

func newSubscriber(key string, feedSpec *specification.Specification, given query.Tuple, transport Transport, loader *fork.Fork, bookmarks BookmarkStore, retry RetryConfig, log *slog.Logger) *Subscriber {
	return &Subscriber{
		key:       key,
		feedSpec:  feedSpec,
		given:     given,
		transport: transport,
		loader:    loader,
		bookmarks: bookmarks,
		retry:     retry,
		log:       log,
		limiter:   rate.NewLimiter(rate.Every(time.Duration(retry.RefreshIntervalSeconds)*time.Second), 1),
	}
}

// Start loads the last bookmark and opens the stream, retrying with
// bounded exponential backoff; once retries are exhausted it falls back
// to the periodic refresh timer instead of failing permanently. Start
// resolves (returns) on the first successful stream establishment.
func (s *Subscriber) Start(ctx context.Context) error {
	var result error
	s.startOnce.Do(func() {
		result = s.connect(ctx)
		if result != nil {
			s.log.Warn("network: initial stream establishment failed, scheduling periodic refresh", "feed", s.key, "error", result)
			s.scheduleRefresh(ctx)
		}
	})
	return result
}

func (s *Subscriber) connect(ctx context.Context) error {
	bookmark, err := s.bookmarks.Bookmark(ctx, s.key)
	if err != nil {
		return err
	}

	eb := &backoff.ExponentialBackOff{
		InitialInterval: s.retry.InitialInterval,
		Multiplier:      2,
		MaxInterval:     s.retry.MaxInterval,
		Clock:           backoff.SystemClock,
	}
	eb.Reset()
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.retry.ImmediateRetries)), ctx)

	return backoff.RetryNotify(func() error {
		disposer, err := s.transport.StreamFeed(ctx, s.feedSpec, s.given, bookmark, s.onResponse, s.onStreamError(ctx))
		if err != nil {
			return err
		}
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			disposer.Dispose()
			return nil
		}
		s.disposer = disposer
		s.mu.Unlock()
		return nil
	}, bo, func(err error, wait time.Duration) {
		s.log.Warn("network: stream establishment retry", "feed", s.key, "wait", wait, "error", err)
	})
}

// onResponse computes refs \ which_exist(local), loads the gap via the
// Fork (which persists), advances the bookmark, and relies on the Fork's
// own Save/Load path to have already notified observers.
func (s *Subscriber) onResponse(refs []fact.Reference, nextBookmark string) {
	ctx := context.Background()
	existing, err := s.loader.Storage().WhichExist(ctx, refs)
	if err != nil {
		s.log.Error("network: which_exist failed", "feed", s.key, "error", err)
		return
	}
	known := map[fact.Reference]bool{}
	for _, r := range existing {
		known[r] = true
	}
	var missing []fact.Reference
	for _, r := range refs {
		if !known[r] {
			missing = append(missing, r)
		}
	}
	if len(missing) > 0 {
		if _, err := s.loader.Load(ctx, missing); err != nil {
			s.log.Error("network: load of new references failed", "feed", s.key, "error", err)
			return
		}
	}
	if err := s.bookmarks.SetBookmark(ctx, s.key, nextBookmark); err != nil {
		s.log.Error("network: bookmark advance failed", "feed", s.key, "error", err)
	}
}

func (s *Subscriber) onStreamError(ctx context.Context) func(error) {
	return func(err error) {
		s.log.Warn("network: stream error, reconnecting", "feed", s.key, "error", err)
		if reconnectErr := s.connect(ctx); reconnectErr != nil {
			s.scheduleRefresh(ctx)
		}
	}
}

// scheduleRefresh arms the periodic fallback timer (default 90s) that
// re-attempts connect() once the immediate retry budget is exhausted.
func (s *Subscriber) scheduleRefresh(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	interval := time.Duration(s.retry.RefreshIntervalSeconds) * time.Second
	s.refreshT = time.AfterFunc(interval, func() {
		if !s.limiter.Allow() {
			return
		}
		if err := s.connect(ctx); err != nil {
			s.scheduleRefresh(ctx)
		}
	})
}

// Stop disposes the transport handle and clears timers. A Start call
// already blocked inside connect's retry loop observes cancellation
// through ctx (callers that need Stop to abort an in-flight Start should
// pass a ctx they cancel alongside calling Stop); once stopped, connect
// declines to install a new disposer and scheduleRefresh declines to arm.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.refreshT != nil {
		s.refreshT.Stop()
		s.refreshT = nil
	}
	if s.disposer != nil {
		s.disposer.Dispose()
		s.disposer = nil
	}
}
