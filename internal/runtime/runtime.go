// Package runtime provides the single state container for the session index,
// conversation cache, history cache and change notifications. Transports
// (HTTP push, MCP, CLI) consume it through the methods below.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"claudeview/internal/conversation"
	"claudeview/internal/history"
	"claudeview/internal/index"
	"claudeview/internal/pubsub"
	"claudeview/internal/types"
	"claudeview/internal/watcher"
)

var (
	// ErrNotInitialized is returned by queries made before InitIndex.
	ErrNotInitialized = errors.New("runtime not initialized")
	// ErrAlreadyInitialized is returned by a second InitIndex call.
	ErrAlreadyInitialized = errors.New("runtime already initialized")
)

// Options configures a Runtime.
type Options struct {
	Debounce             time.Duration
	RetryInterval        time.Duration
	IncludeAgentSessions bool
	HistoryWorkers       int
	Logger               *slog.Logger
}

// =============================================================================
// RUNTIME - Single State Container
// =============================================================================

// Runtime owns the core state for its whole lifetime: initialized once by
// InitIndex, torn down by Close.
type Runtime struct {
	opts   Options
	logger *slog.Logger

	mu            sync.RWMutex
	index         *index.FileIndex
	conversations *conversation.Store
	history       *history.Cache
	watcher       *watcher.Watcher

	indexSubs   *pubsub.Registry[types.IndexChange]
	sessionSubs *pubsub.Registry[types.SessionChange]
}

// New creates an uninitialized runtime.
func New(opts Options) *Runtime {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Runtime{
		opts:        opts,
		logger:      opts.Logger,
		indexSubs:   pubsub.NewRegistry[types.IndexChange](types.EventIndexChanged, opts.Logger),
		sessionSubs: pubsub.NewRegistry[types.SessionChange](types.EventSessionChanged, opts.Logger),
	}
}

// InitIndex discovers every session under root. A missing or unreadable
// root is fatal.
func (rt *Runtime) InitIndex(root string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.index != nil {
		return ErrAlreadyInitialized
	}

	ix, err := index.Discover(root, index.Options{
		IncludeAgentSessions: rt.opts.IncludeAgentSessions,
		Logger:               rt.logger,
	})
	if err != nil {
		return fmt.Errorf("init index: %w", err)
	}
	rt.index = ix
	rt.conversations = conversation.NewStore(ix, rt.logger)
	rt.history = history.New(ix, history.Options{Workers: rt.opts.HistoryWorkers, Logger: rt.logger})
	rt.watcher = watcher.New(ix, notifier{rt}, watcher.Options{
		Debounce:      rt.opts.Debounce,
		RetryInterval: rt.opts.RetryInterval,
		Logger:        rt.logger,
	})
	return nil
}

// parts returns the initialized components or ErrNotInitialized.
func (rt *Runtime) parts() (*index.FileIndex, *conversation.Store, *history.Cache, error) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if rt.index == nil {
		return nil, nil, nil, ErrNotInitialized
	}
	return rt.index, rt.conversations, rt.history, nil
}

// Root returns the indexed root directory, or "" before InitIndex.
func (rt *Runtime) Root() string {
	ix, _, _, err := rt.parts()
	if err != nil {
		return ""
	}
	return ix.Root()
}

// =============================================================================
// WATCH LIFECYCLE
// =============================================================================

// StartWatching starts the change detector. Idempotent.
func (rt *Runtime) StartWatching() error {
	rt.mu.RLock()
	w := rt.watcher
	rt.mu.RUnlock()
	if w == nil {
		return ErrNotInitialized
	}
	if err := w.Start(); err != nil {
		return fmt.Errorf("start watching: %w", err)
	}
	return nil
}

// StopWatching stops the change detector. Idempotent.
func (rt *Runtime) StopWatching() {
	rt.mu.RLock()
	w := rt.watcher
	rt.mu.RUnlock()
	if w != nil {
		w.Stop()
	}
}

// Watching reports whether the change detector is running.
func (rt *Runtime) Watching() bool {
	rt.mu.RLock()
	w := rt.watcher
	rt.mu.RUnlock()
	return w != nil && w.Running()
}

// Close stops watching for good. Subscribers receive nothing further.
func (rt *Runtime) Close() {
	rt.mu.RLock()
	w := rt.watcher
	rt.mu.RUnlock()
	if w != nil {
		w.Close()
	}
}

// =============================================================================
// QUERIES
// =============================================================================

// Listing returns the memoized sessions and projects listing.
func (rt *Runtime) Listing(ctx context.Context) (*history.Listing, error) {
	_, _, h, err := rt.parts()
	if err != nil {
		return nil, err
	}
	return h.List(ctx)
}

// ListSessions returns every session, newest activity first.
func (rt *Runtime) ListSessions(ctx context.Context) ([]types.Session, error) {
	l, err := rt.Listing(ctx)
	if err != nil {
		return nil, err
	}
	return l.Sessions, nil
}

// ListProjects returns every project holding at least one session.
func (rt *Runtime) ListProjects(ctx context.Context) ([]types.Project, error) {
	l, err := rt.Listing(ctx)
	if err != nil {
		return nil, err
	}
	return l.Projects, nil
}

// LookupSession returns the index entry for a session id.
func (rt *Runtime) LookupSession(sessionID string) (index.Entry, bool) {
	ix, _, _, err := rt.parts()
	if err != nil {
		return index.Entry{}, false
	}
	return ix.Lookup(sessionID)
}

// GetConversation returns every record of a session. Unknown sessions
// yield an empty sequence.
func (rt *Runtime) GetConversation(sessionID string) ([]types.Record, error) {
	_, store, _, err := rt.parts()
	if err != nil {
		return nil, err
	}
	return store.GetFull(sessionID), nil
}

// GetConversationIncremental returns the records from line offset onward
// and the offset to resume from.
func (rt *Runtime) GetConversationIncremental(sessionID string, offset int) ([]types.Record, int, error) {
	_, store, _, err := rt.parts()
	if err != nil {
		return nil, offset, err
	}
	records, next := store.GetIncremental(sessionID, offset)
	return records, next, nil
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// OnIndexChanged subscribes to index-level changes. A callback returning an
// error is removed.
func (rt *Runtime) OnIndexChanged(fn func(types.IndexChange) error) pubsub.Handle {
	return rt.indexSubs.Subscribe(fn)
}

// OffIndexChanged removes an index-change subscription.
func (rt *Runtime) OffIndexChanged(h pubsub.Handle) bool {
	return rt.indexSubs.Unsubscribe(h)
}

// OnSessionChanged subscribes to session-level changes.
func (rt *Runtime) OnSessionChanged(fn func(types.SessionChange) error) pubsub.Handle {
	return rt.sessionSubs.Subscribe(fn)
}

// OffSessionChanged removes a session-change subscription.
func (rt *Runtime) OffSessionChanged(h pubsub.Handle) bool {
	return rt.sessionSubs.Unsubscribe(h)
}

// Subscribers returns the live subscriber counts for both channels.
func (rt *Runtime) Subscribers() (indexSubs, sessionSubs int) {
	return rt.indexSubs.Len(), rt.sessionSubs.Len()
}

// =============================================================================
// ESCAPE HATCHES
// =============================================================================

// InvalidateHistoryCache marks the listing stale.
func (rt *Runtime) InvalidateHistoryCache() {
	_, _, h, err := rt.parts()
	if err != nil {
		return
	}
	h.Invalidate()
}

// RegisterDiscoveredFile adds a file the index has not seen yet, avoiding
// a rescan when a session change arrives for an unknown log.
func (rt *Runtime) RegisterDiscoveredFile(sessionID, filePath string) error {
	ix, _, h, err := rt.parts()
	if err != nil {
		return err
	}
	if e, ok := ix.Lookup(sessionID); ok && e.FilePath == filePath {
		return nil
	}
	ix.Add(sessionID, filePath)
	h.Invalidate()
	rt.logger.Info("registered discovered session", "session", sessionID, "path", filePath)
	return nil
}

// =============================================================================
// EVENT EMISSION
// =============================================================================

// notifier receives settled batches from the watcher goroutine.
type notifier struct{ rt *Runtime }

// NotifyIndexChanged invalidates derived state before fanning out, so a
// subscriber that lists sessions from its callback sees the new index.
func (n notifier) NotifyIndexChanged(c types.IndexChange) {
	_, store, h, err := n.rt.parts()
	if err != nil {
		return
	}
	h.Invalidate()
	store.Prune()
	delivered := n.rt.indexSubs.Publish(c)
	n.rt.logger.Debug("index changed", "op", c.Reason, "paths", len(c.Paths), "delivered", delivered)
}

// NotifySessionChanged marks the listing stale before fanning out: a grown
// log changes its session's last activity, message count and title.
func (n notifier) NotifySessionChanged(c types.SessionChange) {
	_, _, h, err := n.rt.parts()
	if err != nil {
		return
	}
	h.Invalidate()
	delivered := n.rt.sessionSubs.Publish(c)
	n.rt.logger.Debug("session changed", "session", c.SessionID, "path", c.FilePath, "delivered", delivered)
}
