package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Entry is one conversation turn.
type Entry struct {
	Role      string `json:"role"` // "user" or "assistant"
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// conversationMeta is stored as the first line of the JSONL file.
type conversationMeta struct {
	Key       string `json:"key"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type conversation struct {
	meta    conversationMeta
	entries []Entry
	dirty   bool
	gen     uint64 // bumped on every Update; guards the dirty flag against stale flushes
}

// Store keeps per-conversation history in memory and persists it to one
// JSONL file per conversation under dataDir.
type Store struct {
	dataDir string
	cache   map[string]*conversation
	mu      sync.Mutex
}

// NewStore creates a Store rooted at dataDir.
func NewStore(dataDir string) *Store {
	return &Store{
		dataDir: dataDir,
		cache:   make(map[string]*conversation),
	}
}

// keyToFilename replaces unsafe characters for use as a filename.
func keyToFilename(key string) string {
	r := strings.NewReplacer(":", "_", "/", "_")
	return r.Replace(key) + ".jsonl"
}

// History returns a copy of the conversation's entries, oldest first.
// An unknown conversation yields an empty slice. The error return exists
// for alternative backends; this store swallows unreadable files.
func (s *Store) History(key string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.getOrLoad(key)
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out, nil
}

// Update replaces the conversation's entries and persists them. The
// in-memory state is updated even when the write fails; the conversation
// stays dirty so a later flush can retry.
func (s *Store) Update(key string, entries []Entry) error {
	s.mu.Lock()
	c := s.getOrLoad(key)
	c.entries = make([]Entry, len(entries))
	copy(c.entries, entries)
	now := time.Now().UTC().Format(time.RFC3339)
	for i := range c.entries {
		if c.entries[i].Timestamp == "" {
			c.entries[i].Timestamp = now
		}
	}
	c.meta.UpdatedAt = now
	c.dirty = true
	c.gen++
	s.mu.Unlock()

	return s.flushOne(key)
}

// FlushDirty persists every conversation still marked dirty. Returns the
// number flushed and the first error encountered.
func (s *Store) FlushDirty() (int, error) {
	s.mu.Lock()
	var keys []string
	for key, c := range s.cache {
		if c.dirty {
			keys = append(keys, key)
		}
	}
	s.mu.Unlock()

	var firstErr error
	flushed := 0
	for _, key := range keys {
		if err := s.flushOne(key); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		flushed++
	}
	return flushed, firstErr
}

// flushOne snapshots a single conversation under the lock and writes the
// snapshot to disk.
func (s *Store) flushOne(key string) error {
	s.mu.Lock()
	c, ok := s.cache[key]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	gen := c.gen
	meta := c.meta
	entries := make([]Entry, len(c.entries))
	copy(entries, c.entries)
	s.mu.Unlock()

	return s.writeSnapshot(key, gen, meta, entries)
}

// writeSnapshot persists one snapshot. The dirty flag is cleared only if
// no Update landed since the snapshot was taken; otherwise the newer
// entries stay dirty for the next flush.
func (s *Store) writeSnapshot(key string, gen uint64, meta conversationMeta, entries []Entry) error {
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	path := filepath.Join(s.dataDir, keyToFilename(key))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create history file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if err := enc.Encode(meta); err != nil {
		return fmt.Errorf("failed to write history meta: %w", err)
	}
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("failed to write history entry: %w", err)
		}
	}

	s.mu.Lock()
	if c, ok := s.cache[key]; ok && c.gen == gen {
		c.dirty = false
	}
	s.mu.Unlock()
	return nil
}

// getOrLoad returns the cached conversation, loading it from disk on first
// access. Caller must hold s.mu.
func (s *Store) getOrLoad(key string) *conversation {
	if c, ok := s.cache[key]; ok {
		return c
	}
	c := s.load(key)
	if c == nil {
		now := time.Now().UTC().Format(time.RFC3339)
		c = &conversation{
			meta: conversationMeta{Key: key, CreatedAt: now, UpdatedAt: now},
		}
	}
	s.cache[key] = c
	return c
}

// load reads a conversation file; returns nil when absent or unreadable.
func (s *Store) load(key string) *conversation {
	path := filepath.Join(s.dataDir, keyToFilename(key))
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if !scanner.Scan() {
		return nil
	}
	var meta conversationMeta
	if err := json.Unmarshal(scanner.Bytes(), &meta); err != nil {
		return nil
	}

	c := &conversation{meta: meta}
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		c.entries = append(c.entries, e)
	}
	return c
}
