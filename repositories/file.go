package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/samber/lo"

	"hybridchat/domain"
)

// FileStore keeps the full history in memory and mirrors it to one JSON file:
// loaded fully on init, rewritten on every save. Range queries are pure
// in-memory slicing. Suited to small deployments and tests.
type FileStore struct {
	mu       sync.Mutex
	path     string
	log      *slog.Logger
	messages []domain.Message
	loaded   bool
}

func NewFileStore(path string, log *slog.Logger) *FileStore {
	return &FileStore{path: path, log: log}
}

// Initialize creates the parent directory and loads any existing history.
// Idempotent; every mutating operation calls it lazily as well.
func (s *FileStore) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLoaded()
}

func (s *FileStore) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating history directory: %w", err)
	}

	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.messages = nil
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading history file: %w", err)
	}

	var messages []domain.Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		return fmt.Errorf("parsing history file: %w", err)
	}
	s.messages = messages
	s.loaded = true
	s.log.Debug("History file loaded", "path", s.path, "messages", len(messages))
	return nil
}

func (s *FileStore) SaveMessage(msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	s.messages = append(s.messages, msg)
	return s.rewrite()
}

// rewrite flushes the whole in-memory history back to disk. Caller holds the
// lock.
func (s *FileStore) rewrite() error {
	raw, err := json.Marshal(s.messages)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("writing history file: %w", err)
	}
	return nil
}

func (s *FileStore) GetMessagesBefore(messageID string, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []domain.Message{}, nil
	}

	// The reference position defaults past the end, which yields the most
	// recent page when the id is absent or unknown.
	end := len(s.messages)
	if messageID != "" {
		if _, idx, ok := lo.FindIndexOf(s.messages, func(m domain.Message) bool {
			return m.ID == messageID
		}); ok {
			end = idx
		}
	}

	start := end - limit
	if start < 0 {
		start = 0
	}
	page := make([]domain.Message, end-start)
	copy(page, s.messages[start:end])
	return page, nil
}

func (s *FileStore) GetAllMessages() ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	all := make([]domain.Message, len(s.messages))
	copy(all, s.messages)
	return all, nil
}

func (s *FileStore) MessageCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return 0, err
	}
	return len(s.messages), nil
}

func (s *FileStore) PurgeOlderThan(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return 0, err
	}

	cutoffMs := cutoff.UnixMilli()
	kept := lo.Filter(s.messages, func(m domain.Message, _ int) bool {
		return m.Timestamp >= cutoffMs
	})
	deleted := len(s.messages) - len(kept)
	if deleted == 0 {
		return 0, nil
	}
	s.messages = kept
	return deleted, s.rewrite()
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	s.messages = nil
	return s.rewrite()
}

func (s *FileStore) Close() error { return nil }
