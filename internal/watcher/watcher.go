// Package watcher provides file system watching for Claude Code session files.
// It watches the session root recursively, debounces bursts of events and
// classifies each settled batch into index-level and session-level changes.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"claudeview/internal/index"
	"claudeview/internal/types"
)

// ErrAlreadyClosed is returned by Start after Close.
var ErrAlreadyClosed = errors.New("watcher already closed")

const (
	DefaultDebounce      = 300 * time.Millisecond
	DefaultRetryInterval = 2 * time.Second
)

// Notifier receives the classified result of each settled batch.
// Calls are made from the watcher goroutine, one at a time.
type Notifier interface {
	NotifyIndexChanged(types.IndexChange)
	NotifySessionChanged(types.SessionChange)
}

// Options configures a Watcher.
type Options struct {
	Debounce      time.Duration
	RetryInterval time.Duration // between attempts to re-establish a lost watch
	Logger        *slog.Logger
}

// =============================================================================
// WATCHER - Monitors the session tree
// =============================================================================

// Watcher owns one fsnotify watch over the index root.
type Watcher struct {
	index  *index.FileIndex
	notify Notifier
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
	closed  bool

	// Owned by the run goroutine once started.
	watchedDirs map[string]bool
}

// New creates a stopped watcher over ix's root.
func New(ix *index.FileIndex, n Notifier, opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Watcher{
		index:  ix,
		notify: n,
		opts:   opts,
		logger: opts.Logger,
	}
}

// Start establishes the watch and starts the event loop. Failure to watch
// the root is returned to the caller. Starting a running watcher is a no-op.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrAlreadyClosed
	}
	if w.running {
		return nil
	}

	fsw, err := w.establish()
	if err != nil {
		return err
	}

	w.logger.Info("watching session root", "path", w.index.Root(), "dirs", len(w.watchedDirs))

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true
	go w.run(ctx, fsw, w.done)
	return nil
}

// Stop ends the event loop and releases the watch. Pending events that have
// not settled are dropped. Stopping a stopped watcher is a no-op.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel, done := w.cancel, w.done
	w.running = false
	w.mu.Unlock()

	cancel()
	<-done
}

// Close stops the watcher permanently.
func (w *Watcher) Close() {
	w.Stop()
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

// Running reports whether the event loop is active.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// establish creates a fresh fsnotify watcher covering the whole root.
func (w *Watcher) establish() (*fsnotify.Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w.watchedDirs = make(map[string]bool)
	if err := w.addTree(fsw, w.index.Root()); err != nil {
		fsw.Close()
		return nil, err
	}
	return fsw, nil
}

// addTree watches dir and every eligible directory below it. Only a failure
// on dir itself is returned; subdirectories that cannot be watched are skipped.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == dir {
				return fmt.Errorf("watch %s: %w", dir, walkErr)
			}
			w.logger.Warn("skipping unreadable directory", "path", path, "err", walkErr)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && !w.index.WatchDir(path) {
			return filepath.SkipDir
		}
		if w.watchedDirs[path] {
			return nil
		}
		if err := fsw.Add(path); err != nil {
			if path == dir {
				return fmt.Errorf("watch %s: %w", dir, err)
			}
			w.logger.Warn("cannot watch directory", "path", path, "err", err)
			return filepath.SkipDir
		}
		w.watchedDirs[path] = true
		return nil
	})
}

// forgetTree drops bookkeeping for dir and everything below it.
func (w *Watcher) forgetTree(fsw *fsnotify.Watcher, dir string) {
	prefix := dir + string(filepath.Separator)
	for path := range w.watchedDirs {
		if path == dir || strings.HasPrefix(path, prefix) {
			_ = fsw.Remove(path)
			delete(w.watchedDirs, path)
		}
	}
}

// =============================================================================
// EVENT LOOP
// =============================================================================

// run processes file system events until ctx is cancelled. It is the only
// goroutine that touches fsw, watchedDirs and the pending batch.
func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	defer func() { fsw.Close() }()

	b := newBatch()
	timer := time.NewTimer(w.opts.Debounce)
	timer.Stop()
	defer timer.Stop()
	var settle <-chan time.Time
	events, errs := fsw.Events, fsw.Errors

	arm := func() {
		b.state = stateAccumulating
		timer.Reset(w.opts.Debounce)
		settle = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				events = nil
				b.lost = true
				arm()
				continue
			}
			if w.collect(fsw, b, event) {
				arm()
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				b.lost = true
				arm()
				continue
			}
			w.logger.Warn("watch error", "path", w.index.Root(), "err", err)
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				b.lost = true
				arm()
			}

		case <-settle:
			settle = nil
			b.state = stateSettled
			if b.lost {
				next, ok := w.reestablish(ctx, fsw)
				if !ok {
					return
				}
				fsw = next
				events, errs = fsw.Events, fsw.Errors
			}
			w.dispatch(fsw, b)
			b.reset()
		}
	}
}

// collect folds one raw event into the pending batch. It reports whether the
// event is relevant, which restarts the debounce window.
func (w *Watcher) collect(fsw *fsnotify.Watcher, b *batch, event fsnotify.Event) bool {
	path := filepath.Clean(event.Name)
	root := w.index.Root()

	if event.Op == fsnotify.Chmod {
		return false
	}
	if path == root && (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) {
		w.logger.Warn("session root removed", "path", root)
		b.lost = true
		b.events++
		return true
	}

	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Lstat(path)
		if err != nil {
			// Already gone again; settle will stat and find nothing.
			if !w.index.IsSessionLog(path) {
				return false
			}
			b.structural[path] = struct{}{}
		} else if info.IsDir() {
			if !w.index.WatchDir(path) {
				return false
			}
			// Watch now so files created inside before settle are not missed.
			if err := w.addTree(fsw, path); err != nil {
				w.logger.Warn("cannot watch new directory", "path", path, "err", err)
			}
			b.structural[path] = struct{}{}
		} else {
			if !w.index.IsSessionLog(path) {
				return false
			}
			b.structural[path] = struct{}{}
			b.created[path] = struct{}{}
		}

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if w.watchedDirs[path] {
			w.forgetTree(fsw, path)
		} else if _, indexed := w.index.LookupPath(path); !indexed && !w.index.IsSessionLog(path) {
			return false
		}
		b.structural[path] = struct{}{}

	case event.Has(fsnotify.Write):
		if !w.index.IsSessionLog(path) {
			return false
		}
		b.modified[path] = struct{}{}

	default:
		return false
	}

	b.events++
	return true
}

// reestablish replaces a lost watch, retrying until the root is watchable
// again or ctx is cancelled. The index is rebuilt and the batch is marked so
// dispatch emits the catch-up index change.
func (w *Watcher) reestablish(ctx context.Context, old *fsnotify.Watcher) (*fsnotify.Watcher, bool) {
	old.Close()
	for attempt := 0; ; attempt++ {
		fsw, err := w.establish()
		if err == nil {
			if err := w.index.Rebuild(); err != nil {
				w.logger.Warn("index rebuild after rewatch", "path", w.index.Root(), "err", err)
			}
			w.logger.Warn("watch re-established", "path", w.index.Root(), "dirs", len(w.watchedDirs))
			return fsw, true
		}
		if attempt == 0 {
			// Sessions under a missing root are gone until it returns.
			_ = w.index.Rebuild()
		}
		w.logger.Warn("cannot re-establish watch, retrying", "path", w.index.Root(), "err", err)

		select {
		case <-ctx.Done():
			return old, false
		case <-time.After(w.opts.RetryInterval):
		}
	}
}

// =============================================================================
// DISPATCH
// =============================================================================

// dispatch applies a settled batch to the index and notifies. At most one
// index change is emitted per batch, followed by one session change per
// distinct modified log that was not created in the same batch.
func (w *Watcher) dispatch(fsw *fsnotify.Watcher, b *batch) {
	now := time.Now()
	var changed []string

	if b.lost {
		changed = append(changed, w.index.Root())
		w.notify.NotifyIndexChanged(types.IndexChange{
			Paths:      changed,
			Reason:     types.ReasonRewatch,
			SettledAt:  now,
			EventCount: b.events,
		})
	} else {
		for _, path := range sortedKeys(b.structural) {
			if w.applyStructural(fsw, path) {
				changed = append(changed, path)
			}
		}
		if len(changed) > 0 {
			w.notify.NotifyIndexChanged(types.IndexChange{
				Paths:      changed,
				Reason:     types.ReasonFS,
				SettledAt:  now,
				EventCount: b.events,
			})
		}
	}

	sessions := 0
	for _, path := range sortedKeys(b.modified) {
		if _, isNew := b.created[path]; isNew {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		id := index.SessionIDFromPath(path)
		if e, ok := w.index.LookupPath(path); ok {
			id = e.SessionID
		}
		w.notify.NotifySessionChanged(types.SessionChange{SessionID: id, FilePath: path})
		sessions++
	}

	b.state = stateDispatched
	w.logger.Debug("batch dispatched",
		"op", "settle", "records", b.events, "paths", len(changed), "sessions", sessions, "rewatch", b.lost)
}

// applyStructural patches the index for one created, removed or renamed path.
// It reports whether the set of sessions changed.
func (w *Watcher) applyStructural(fsw *fsnotify.Watcher, path string) bool {
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		if err := w.addTree(fsw, path); err != nil {
			w.logger.Warn("cannot watch directory", "path", path, "err", err)
		}
		added := w.index.AddTree(path)
		return len(added) > 0

	case err == nil:
		if !w.index.IsSessionLog(path) {
			return false
		}
		id := index.SessionIDFromPath(path)
		if e, ok := w.index.Lookup(id); ok && e.FilePath == path {
			// Replaced in place; readers detect the new identity themselves.
			return true
		}
		w.index.Add(id, path)
		return true

	default:
		removed := w.index.RemoveUnder(path)
		if _, ok := w.index.RemovePath(path); ok {
			return true
		}
		return len(removed) > 0
	}
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
