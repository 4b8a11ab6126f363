// Package conversation caches decoded session logs and serves full and
// incremental (line offset) reads over them.
package conversation

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"sync"

	"claudeview/internal/index"
	"claudeview/internal/logreader"
	"claudeview/internal/types"
)

// Store owns one cursor per session. A cursor only moves forward; a file
// that is replaced or shrinks below the cursor is treated as a new logical
// session and re-read from line 0.
type Store struct {
	index  *index.FileIndex
	logger *slog.Logger

	mu      sync.Mutex
	cursors map[string]*cursor
}

type cursor struct {
	mu      sync.Mutex
	path    string
	info    os.FileInfo // identity of the file the cursor was built from
	next    logreader.Cursor
	entries []logreader.Entry
}

func (c *cursor) reset(path string) {
	c.path = path
	c.info = nil
	c.next = logreader.Cursor{}
	c.entries = nil
}

// NewStore creates a store that resolves session ids through ix.
func NewStore(ix *index.FileIndex, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		index:   ix,
		logger:  logger,
		cursors: make(map[string]*cursor),
	}
}

// GetFull returns every record of the session. Unknown sessions and
// files that vanished yield an empty result.
func (s *Store) GetFull(sessionID string) []types.Record {
	entries, _ := s.refresh(sessionID)
	return toRecords(entries)
}

// GetIncremental returns the records at line offset and beyond plus the
// offset to pass next time. It is a pure function of the file contents and
// offset: concurrent callers at different offsets do not affect each other.
// An offset at or past the end returns no records and the offset unchanged.
func (s *Store) GetIncremental(sessionID string, offset int) ([]types.Record, int) {
	if offset < 0 {
		offset = 0
	}
	entries, next := s.refresh(sessionID)
	if next.Line <= offset {
		return []types.Record{}, offset
	}
	i := sort.Search(len(entries), func(i int) bool { return entries[i].Line >= offset })
	return toRecords(entries[i:]), next.Line
}

// Offset returns the line offset the store has read up to for a session.
func (s *Store) Offset(sessionID string) int {
	s.mu.Lock()
	c, ok := s.cursors[sessionID]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next.Line
}

// Forget drops the cached cursor for a session.
func (s *Store) Forget(sessionID string) {
	s.mu.Lock()
	delete(s.cursors, sessionID)
	s.mu.Unlock()
}

// Prune drops cursors for sessions no longer in the index or whose path changed.
func (s *Store) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	for id, c := range s.cursors {
		e, ok := s.index.Lookup(id)
		if ok {
			c.mu.Lock()
			same := c.path == e.FilePath
			c.mu.Unlock()
			if same {
				continue
			}
		}
		delete(s.cursors, id)
		pruned++
	}
	return pruned
}

// Len returns the number of cached sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cursors)
}

func (s *Store) cursorFor(sessionID string) *cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[sessionID]
	if !ok {
		c = &cursor{}
		s.cursors[sessionID] = c
	}
	return c
}

// refresh brings the session's cursor up to date with the file and returns
// an immutable view of its entries. The cursor lock is not held during file
// I/O; a read that finds the cursor moved on keeps only what is still new.
func (s *Store) refresh(sessionID string) ([]logreader.Entry, logreader.Cursor) {
	entry, ok := s.index.Lookup(sessionID)
	if !ok {
		// Removed between discovery and read.
		s.Forget(sessionID)
		return nil, logreader.Cursor{}
	}

	c := s.cursorFor(sessionID)
	c.mu.Lock()
	if c.path != entry.FilePath {
		c.reset(entry.FilePath)
	}
	path, start, prev := c.path, c.next, c.info
	c.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if errors.Is(err, fs.ErrNotExist) {
			if c.path == path {
				c.reset(path)
			}
			return nil, logreader.Cursor{}
		}
		s.logger.Warn("stat session log", "session", sessionID, "path", path, "err", err)
		return c.view()
	}

	from := start
	replaced := prev != nil && (!os.SameFile(prev, info) || info.Size() < start.Byte)
	if replaced {
		from = logreader.Cursor{}
	}

	res, err := logreader.ReadFromCursor(path, from, s.logger)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if c.path == path {
				c.reset(path)
			}
			return nil, logreader.Cursor{}
		}
		s.logger.Warn("read session log", "session", sessionID, "path", path, "err", err)
	}

	switch {
	case c.path == path && c.next == start && c.info == prev:
		if replaced {
			s.logger.Warn("session log replaced, reading from start",
				"session", sessionID, "path", path, "offset", start.Line)
			c.reset(path)
		}
		c.entries = append(c.entries, res.Entries...)
		c.next = res.Next
		c.info = info
	case c.path == path && c.info != nil && os.SameFile(c.info, info) && res.Next.Line > c.next.Line:
		// Another read advanced the cursor first; keep our newer tail.
		i := sort.Search(len(res.Entries), func(i int) bool { return res.Entries[i].Line >= c.next.Line })
		c.entries = append(c.entries, res.Entries[i:]...)
		c.next = res.Next
		c.info = info
	default:
		return c.view()
	}

	if len(res.Entries) > 0 {
		s.logger.Debug("session log advanced", "session", sessionID, "records", len(res.Entries), "offset", c.next.Line)
	}
	return c.view()
}

// view returns the cached entries capped at their current length so later
// appends never show through to earlier callers.
func (c *cursor) view() ([]logreader.Entry, logreader.Cursor) {
	return c.entries[:len(c.entries):len(c.entries)], c.next
}

func toRecords(entries []logreader.Entry) []types.Record {
	if len(entries) == 0 {
		return []types.Record{}
	}
	records := make([]types.Record, len(entries))
	for i, e := range entries {
		records[i] = e.Record
	}
	return records
}
