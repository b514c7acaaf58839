// Package memory owns the persisted conversation state: a rotating
// history of chat turns plus an opaque user profile, stored as a single
// JSON document rewritten after every mutation (write-through). Losing
// a save is an accepted degradation; failing the request being served
// is not, so save errors are logged and swallowed.
package memory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Entry roles. The history only ever contains these two.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultMaxEntries caps the stored history when no limit is configured.
const DefaultMaxEntries = 200

// Entry is a single conversation turn. Immutable once created.
type Entry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// document is the persisted JSON shape.
type document struct {
	ConversationHistory []Entry        `json:"conversationHistory"`
	UserProfile         map[string]any `json:"userProfile"`
}

// Store is the conversation store. All methods are safe for concurrent
// use; the store serializes its own mutations. There is no
// per-conversation lock above the store, so two overlapping chat
// requests may interleave their entries — accepted for a local dev
// tool.
type Store struct {
	path   string
	max    int
	logger *slog.Logger

	mu      sync.Mutex
	history []Entry
	profile map[string]any
}

// Open loads the persisted memory document at path. Missing or corrupt
// data falls back to an empty document with a logged warning — Open
// never fails the caller over state it can regenerate.
func Open(path string, maxEntries int, logger *slog.Logger) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	s := &Store{
		path:    path,
		max:     maxEntries,
		logger:  logger,
		profile: make(map[string]any),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Normal on first run, but the fallback should be traceable.
			logger.Info("no memory file yet, starting empty", "path", path)
		} else {
			logger.Warn("memory file unreadable, starting empty", "path", path, "error", err)
		}
		return s
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.Warn("memory file corrupt, starting empty", "path", path, "error", err)
		return s
	}

	s.history = doc.ConversationHistory
	if doc.UserProfile != nil {
		s.profile = doc.UserProfile
	}

	// A previous run may have persisted under a larger cap.
	if len(s.history) > s.max {
		s.history = s.history[len(s.history)-s.max:]
	}

	return s
}

// AppendUser records a user turn and persists synchronously.
func (s *Store) AppendUser(content string) {
	s.append(Entry{Role: RoleUser, Content: content})
}

// AppendAssistant records an assistant turn and persists synchronously.
func (s *Store) AppendAssistant(content string) {
	s.append(Entry{Role: RoleAssistant, Content: content})
}

func (s *Store) append(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, e)
	if len(s.history) > s.max {
		// FIFO rotation: evict the oldest entries.
		s.history = s.history[len(s.history)-s.max:]
	}
	s.persistLocked()
}

// RecentContext returns the last n entries (or fewer) in chronological
// order. The returned slice is a copy and never aliases the store's
// internal history.
func (s *Store) RecentContext(n int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n > len(s.history) {
		n = len(s.history)
	}
	if n <= 0 {
		return nil
	}
	out := make([]Entry, n)
	copy(out, s.history[len(s.history)-n:])
	return out
}

// Len returns the current history length.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// Profile returns a copy of the user profile map. The profile is
// opaque to the gateway; it rides along in the persisted document.
func (s *Store) Profile() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.profile))
	for k, v := range s.profile {
		out[k] = v
	}
	return out
}

// Persist writes the full document to disk. Failure is logged, never
// returned — a save failure must not abort the request being served.
func (s *Store) Persist() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistLocked()
}

// persistLocked writes the document via a temp file and rename so a
// crash mid-write cannot truncate the previous good copy. Callers must
// hold s.mu.
func (s *Store) persistLocked() {
	doc := document{
		ConversationHistory: s.history,
		UserProfile:         s.profile,
	}
	if doc.ConversationHistory == nil {
		doc.ConversationHistory = []Entry{}
	}

	if err := s.write(doc); err != nil {
		s.logger.Error("memory save failed", "path", s.path, "error", err)
	}
}

func (s *Store) write(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal memory: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".voxd-memory-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write memory: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close memory: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace memory file: %w", err)
	}
	return nil
}
