// Package history memoizes the session and project listings derived from the
// file index. Invalidation is cheap; the next List call recomputes.
package history

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"claudeview/internal/index"
	"claudeview/internal/logreader"
	"claudeview/internal/types"
)

// MaxTitleLength caps derived session titles, in runes.
const MaxTitleLength = 100

// Listing is one atomically computed view of all sessions and projects.
type Listing struct {
	Sessions   []types.Session `json:"sessions"`
	Projects   []types.Project `json:"projects"`
	ComputedAt time.Time       `json:"computedAt"`
}

// Options configures a Cache.
type Options struct {
	// Workers bounds parallel metadata extraction. Zero means 8.
	Workers int
	Logger  *slog.Logger
}

// Cache holds the memoized Listing.
type Cache struct {
	index   *index.FileIndex
	logger  *slog.Logger
	workers int

	mu         sync.RWMutex
	listing    *Listing
	generation uint64

	group singleflight.Group
}

// New creates an empty (stale) cache over ix.
func New(ix *index.FileIndex, opts Options) *Cache {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	return &Cache{index: ix, logger: opts.Logger, workers: opts.Workers}
}

// Invalidate marks the cache stale. It never recomputes.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.generation++
	c.listing = nil
	c.mu.Unlock()
}

// Valid reports whether a memoized listing is held.
func (c *Cache) Valid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.listing != nil
}

// List returns the memoized listing, recomputing it from a point-in-time
// index snapshot when stale. Concurrent callers of the same generation share
// one recompute. The returned Listing must not be modified.
func (c *Cache) List(ctx context.Context) (*Listing, error) {
	c.mu.RLock()
	if l := c.listing; l != nil {
		c.mu.RUnlock()
		return l, nil
	}
	gen := c.generation
	c.mu.RUnlock()

	v, err, _ := c.group.Do(strconv.FormatUint(gen, 10), func() (any, error) {
		l, err := c.compute(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		// An invalidation during compute means the snapshot may be stale.
		if c.generation == gen {
			c.listing = l
		}
		c.mu.Unlock()
		return l, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Listing), nil
}

func (c *Cache) compute(ctx context.Context) (*Listing, error) {
	start := time.Now()
	entries := c.index.Snapshot()

	sessions := make([]types.Session, len(entries))
	keep := make([]bool, len(entries))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, e := range entries {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, ok := c.summarize(e)
			sessions[i], keep[i] = s, ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := sessions[:0]
	for i, s := range sessions {
		if keep[i] {
			out = append(out, s)
		}
	}
	SortSessions(out)

	l := &Listing{
		Sessions:   out,
		Projects:   aggregateProjects(out),
		ComputedAt: time.Now(),
	}
	c.logger.Debug("history recomputed", "records", len(out), "op", "list", "took", time.Since(start))
	return l, nil
}

// summarize extracts listing metadata from the ends of the session's log.
// Files that vanished since the snapshot are dropped.
func (c *Cache) summarize(e index.Entry) (types.Session, bool) {
	info, err := os.Stat(e.FilePath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("stat session log", "session", e.SessionID, "path", e.FilePath, "err", err)
		}
		return types.Session{}, false
	}

	head, err := logreader.ReadHead(e.FilePath, logreader.HeadSize)
	if err != nil {
		c.logger.Warn("read session head", "session", e.SessionID, "path", e.FilePath, "err", err)
		return types.Session{}, false
	}
	tail := head
	if info.Size() > logreader.HeadSize {
		if tail, err = logreader.ReadTail(e.FilePath, logreader.HeadSize); err != nil {
			c.logger.Warn("read session tail", "session", e.SessionID, "path", e.FilePath, "err", err)
			tail = nil
		}
	}

	s := types.Session{
		ID:          e.SessionID,
		ProjectPath: e.ProjectPath,
		FilePath:    e.FilePath,
		Size:        info.Size(),
		Title:       Title(head, tail, e.SessionID),
	}
	for _, r := range head {
		if r.IsMessage() {
			s.MessageCount++
		}
		if s.FirstTimestamp.IsZero() && !r.Timestamp.IsZero() {
			s.FirstTimestamp = r.Timestamp
		}
	}
	s.LastActivity = lastTimestamp(head, tail)
	if s.LastActivity.IsZero() {
		s.LastActivity = info.ModTime()
	}
	return s, true
}

// Title picks a display title: a summary record, else the first meaningful
// user text, else the fallback (the file stem).
func Title(head, tail []types.Record, fallback string) string {
	for _, r := range head {
		if r.Type == types.EventTypeSummary && r.Content.PlainText() != "" {
			return types.Truncate(r.Content.PlainText(), MaxTitleLength)
		}
	}
	for i := len(tail) - 1; i >= 0; i-- {
		if tail[i].Type == types.EventTypeSummary && tail[i].Content.PlainText() != "" {
			return types.Truncate(tail[i].Content.PlainText(), MaxTitleLength)
		}
	}
	for _, r := range head {
		if text, ok := types.TitleText(r); ok {
			return types.Truncate(text, MaxTitleLength)
		}
	}
	return fallback
}

func lastTimestamp(groups ...[]types.Record) time.Time {
	var last time.Time
	for _, records := range groups {
		for _, r := range records {
			if r.Timestamp.After(last) {
				last = r.Timestamp
			}
		}
	}
	return last
}

// SortSessions orders sessions by last activity, newest first, ties by id.
func SortSessions(sessions []types.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if !a.LastActivity.Equal(b.LastActivity) {
			return a.LastActivity.After(b.LastActivity)
		}
		return a.ID < b.ID
	})
}

func aggregateProjects(sessions []types.Session) []types.Project {
	byPath := make(map[string]*types.Project)
	for _, s := range sessions {
		p, ok := byPath[s.ProjectPath]
		if !ok {
			p = &types.Project{Path: s.ProjectPath, Name: index.ProjectName(s.ProjectPath)}
			byPath[s.ProjectPath] = p
		}
		p.SessionCount++
		if s.LastActivity.After(p.LastActivity) {
			p.LastActivity = s.LastActivity
		}
	}

	projects := make([]types.Project, 0, len(byPath))
	for _, p := range byPath {
		projects = append(projects, *p)
	}
	sort.Slice(projects, func(i, j int) bool {
		a, b := projects[i], projects[j]
		if !a.LastActivity.Equal(b.LastActivity) {
			return a.LastActivity.After(b.LastActivity)
		}
		return a.Path < b.Path
	})
	return projects
}
