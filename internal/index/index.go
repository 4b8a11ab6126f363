// Package index maps session identifiers to their JSONL log files under a root
// directory and groups them by project directory.
package index

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrRootNotFound is returned when the root directory does not exist.
	ErrRootNotFound = errors.New("root directory not found")
	// ErrRootNotDir is returned when the root path is not a directory.
	ErrRootNotDir = errors.New("root path is not a directory")
)

// Entry is one indexed session log.
type Entry struct {
	SessionID   string `json:"sessionId"`
	FilePath    string `json:"filePath"`
	ProjectPath string `json:"projectPath"`
}

// Options configures which files count as session logs.
type Options struct {
	// IncludeAgentSessions indexes agent-*.jsonl side-chain logs and subagents/ directories.
	IncludeAgentSessions bool
	Logger               *slog.Logger
}

// FileIndex is the single source of truth for session -> path mapping.
// All methods are safe for concurrent use; readers see either the state
// before or after a mutation, never a mix.
type FileIndex struct {
	root   string
	opts   Options
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]Entry  // sessionID -> entry
	byPath  map[string]string // filePath -> sessionID
}

// Discover scans root recursively and returns a populated index.
// A missing or non-directory root is fatal; unreadable subdirectories are
// skipped with a warning.
func Discover(root string, opts Options) (*FileIndex, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	if err := checkRoot(abs); err != nil {
		return nil, err
	}

	ix := &FileIndex{
		root:    abs,
		opts:    opts,
		logger:  opts.Logger,
		entries: make(map[string]Entry),
		byPath:  make(map[string]string),
	}
	entries, byPath := ix.scan(abs)
	ix.entries, ix.byPath = entries, byPath

	ix.logger.Info("index discovered", "path", abs, "records", len(entries))
	return ix, nil
}

func checkRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrRootNotFound, root)
		}
		return fmt.Errorf("stat root %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrRootNotDir, root)
	}
	return nil
}

// scan walks dir and returns freshly built maps. Walk order is lexical, so on
// an id collision the first path wins.
func (ix *FileIndex) scan(dir string) (map[string]Entry, map[string]string) {
	entries := make(map[string]Entry)
	byPath := make(map[string]string)

	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			ix.logger.Warn("skipping unreadable path", "path", path, "err", walkErr)
			if d != nil && d.IsDir() && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != dir && !ix.WatchDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !ix.IsSessionLog(path) {
			return nil
		}
		id := SessionIDFromPath(path)
		if prev, ok := entries[id]; ok {
			ix.logger.Warn("duplicate session id", "session", id, "path", path, "kept", prev.FilePath)
			return nil
		}
		entries[id] = Entry{SessionID: id, FilePath: path, ProjectPath: ix.projectOf(path)}
		byPath[path] = id
		return nil
	})
	return entries, byPath
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// IsSessionLog reports whether path is a session log under this index's rules.
func (ix *FileIndex) IsSessionLog(path string) bool {
	return IsSessionLog(path, ix.opts.IncludeAgentSessions)
}

// WatchDir reports whether a directory under the root holds session logs.
func (ix *FileIndex) WatchDir(path string) bool {
	if ix.opts.IncludeAgentSessions {
		return true
	}
	return filepath.Base(path) != "subagents"
}

// IsSessionLog reports whether path names a conversation log.
// Subagent files (agent-{short-id}.jsonl) and anything under a subagents/
// directory are side-chains of a parent session and only count when
// includeAgents is set.
func IsSessionLog(path string, includeAgents bool) bool {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".jsonl") || base == ".jsonl" {
		return false
	}
	if includeAgents {
		return true
	}
	if strings.HasPrefix(base, "agent-") {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(filepath.Dir(path)), "/") {
		if part == "subagents" {
			return false
		}
	}
	return true
}

// SessionIDFromPath derives the session identifier from the file name.
func SessionIDFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".jsonl")
}

// ProjectName decodes a Claude Code project directory name for display.
// ~/.claude/projects/-Users-neil-xuku-invoice becomes /Users/neil/xuku/invoice.
// Names without the leading dash are returned unchanged.
func ProjectName(projectPath string) string {
	base := filepath.Base(projectPath)
	if len(base) > 1 && base[0] == '-' {
		return "/" + strings.ReplaceAll(base[1:], "-", "/")
	}
	return base
}

// projectOf returns the top-level directory under root that holds path, so
// side-chain logs nested below a session group with their project.
func (ix *FileIndex) projectOf(path string) string {
	rel, err := filepath.Rel(ix.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.Dir(path)
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		return ix.root
	}
	return filepath.Join(ix.root, parts[0])
}

// =============================================================================
// MUTATION
// =============================================================================

// Add registers or overwrites the entry for sessionID. Idempotent.
func (ix *FileIndex) Add(sessionID, filePath string) Entry {
	entry := Entry{SessionID: sessionID, FilePath: filePath, ProjectPath: ix.projectOf(filePath)}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if prev, ok := ix.entries[sessionID]; ok && prev.FilePath != filePath {
		ix.logger.Warn("session moved", "session", sessionID, "path", filePath, "displaced", prev.FilePath)
		delete(ix.byPath, prev.FilePath)
	}
	if prevID, ok := ix.byPath[filePath]; ok && prevID != sessionID {
		delete(ix.entries, prevID)
	}
	ix.entries[sessionID] = entry
	ix.byPath[filePath] = sessionID
	return entry
}

// Remove deletes the entry for sessionID. It reports whether one existed.
func (ix *FileIndex) Remove(sessionID string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	entry, ok := ix.entries[sessionID]
	if !ok {
		return false
	}
	delete(ix.entries, sessionID)
	delete(ix.byPath, entry.FilePath)
	return true
}

// RemovePath deletes whichever entry points at filePath.
func (ix *FileIndex) RemovePath(filePath string) (string, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	id, ok := ix.byPath[filePath]
	if !ok {
		return "", false
	}
	delete(ix.byPath, filePath)
	delete(ix.entries, id)
	return id, true
}

// RemoveUnder deletes every entry whose file lives below dir and returns
// the removed session ids.
func (ix *FileIndex) RemoveUnder(dir string) []string {
	prefix := filepath.Clean(dir) + string(filepath.Separator)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	var removed []string
	for path, id := range ix.byPath {
		if strings.HasPrefix(path, prefix) {
			delete(ix.byPath, path)
			delete(ix.entries, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// AddTree scans dir (a directory that appeared under the root) and adds
// every session log found, returning the added entries.
func (ix *FileIndex) AddTree(dir string) []Entry {
	entries, _ := ix.scan(dir)
	added := make([]Entry, 0, len(entries))
	for _, e := range entries {
		added = append(added, ix.Add(e.SessionID, e.FilePath))
	}
	sortEntries(added)
	return added
}

// Rebuild rescans the whole root and swaps the result in atomically.
// A root that has disappeared leaves the index empty and returns ErrRootNotFound.
func (ix *FileIndex) Rebuild() error {
	if err := checkRoot(ix.root); err != nil {
		ix.mu.Lock()
		ix.entries = make(map[string]Entry)
		ix.byPath = make(map[string]string)
		ix.mu.Unlock()
		return err
	}
	entries, byPath := ix.scan(ix.root)

	ix.mu.Lock()
	ix.entries, ix.byPath = entries, byPath
	ix.mu.Unlock()
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Root returns the absolute root directory.
func (ix *FileIndex) Root() string { return ix.root }

// Lookup returns the entry for sessionID.
func (ix *FileIndex) Lookup(sessionID string) (Entry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.entries[sessionID]
	return e, ok
}

// LookupPath returns the entry whose file is filePath.
func (ix *FileIndex) LookupPath(filePath string) (Entry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	id, ok := ix.byPath[filePath]
	if !ok {
		return Entry{}, false
	}
	return ix.entries[id], true
}

// Len returns the number of indexed sessions.
func (ix *FileIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Snapshot returns a point-in-time copy of all entries sorted by session id.
func (ix *FileIndex) Snapshot() []Entry {
	ix.mu.RLock()
	out := make([]Entry, 0, len(ix.entries))
	for _, e := range ix.entries {
		out = append(out, e)
	}
	ix.mu.RUnlock()
	sortEntries(out)
	return out
}

// Projects returns the distinct project paths holding at least one session.
func (ix *FileIndex) Projects() []string {
	ix.mu.RLock()
	seen := make(map[string]struct{})
	for _, e := range ix.entries {
		seen[e.ProjectPath] = struct{}{}
	}
	ix.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].SessionID < entries[j].SessionID })
}
