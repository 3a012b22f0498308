// Package filectx tracks which files the model has read this session and
// whether that cached understanding has gone stale: a file written after
// being read, or changed on disk behind the session's back, should be
// re-read before it is trusted again.
package filectx

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sort"
	"sync"
	"time"
)

// DefaultMaxEntries caps the tracker; entries with the oldest last_read
// are evicted beyond it.
const DefaultMaxEntries = 150

// Entry is the per-path record.
type Entry struct {
	Path              string
	LastRead          time.Time
	LastModified      time.Time
	ContentHash       string
	AccessCount       int
	ModificationCount int
	Stale             bool
	StaleReason       string
}

// Tracker is the per-session ledger of reads and writes. Keys are
// absolute paths; files are an arena keyed by path, never object graphs.
type Tracker struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	maxEntries int
	now        func() time.Time
}

// New creates a tracker with the given capacity (0 means the default).
func New(maxEntries int) *Tracker {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Tracker{
		entries:    make(map[string]*Entry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// OnRead records a successful read of path with the content just seen.
// Reading clears staleness: the session's understanding is current again.
func (t *Tracker) OnRead(path, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := t.entry(path)
	entry.LastRead = t.now()
	entry.LastModified = diskMtime(path, entry.LastRead)
	entry.ContentHash = hashContent(content)
	entry.AccessCount++
	entry.Stale = false
	entry.StaleReason = ""
	t.evictLocked()
}

// OnWrite records a tool write to path. The file becomes stale until it
// is read again.
func (t *Tracker) OnWrite(path, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := t.entry(path)
	entry.LastModified = t.now()
	entry.ContentHash = hashContent(content)
	entry.ModificationCount++
	if !entry.LastRead.IsZero() {
		entry.Stale = true
		entry.StaleReason = "File modified by tool after being read"
	}
	t.evictLocked()
}

// Check probes whether path is stale, consulting both the in-memory flag
// and the on-disk mtime. Untracked paths are not stale.
func (t *Tracker) Check(path string) (stale bool, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[path]
	if !ok {
		return false, ""
	}
	if entry.Stale {
		return true, entry.StaleReason
	}
	if entry.LastRead.IsZero() {
		return false, ""
	}
	if info, err := os.Stat(path); err == nil && info.ModTime().After(entry.LastRead) {
		entry.Stale = true
		entry.StaleReason = "File changed on disk since last read"
		return true, entry.StaleReason
	}
	return false, ""
}

// Get returns a copy of the entry for path.
func (t *Tracker) Get(path string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[path]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Len returns the number of tracked paths.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Tracker) entry(path string) *Entry {
	entry, ok := t.entries[path]
	if !ok {
		entry = &Entry{Path: path}
		t.entries[path] = entry
	}
	return entry
}

func (t *Tracker) evictLocked() {
	if len(t.entries) <= t.maxEntries {
		return
	}
	type candidate struct {
		path string
		read time.Time
	}
	candidates := make([]candidate, 0, len(t.entries))
	for path, entry := range t.entries {
		candidates = append(candidates, candidate{path, entry.LastRead})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].read.Before(candidates[j].read)
	})
	for _, c := range candidates[:len(t.entries)-t.maxEntries] {
		delete(t.entries, c.path)
	}
}

// hashContent returns the first 16 hex chars of the content's sha256.
func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}

func diskMtime(path string, fallback time.Time) time.Time {
	if info, err := os.Stat(path); err == nil {
		return info.ModTime()
	}
	return fallback
}
