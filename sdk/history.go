package atlas

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// HistoryFileName is the fixed name of the persisted chat history document.
const HistoryFileName = "atlas_chat_history.json"

// HistoryStore persists a conversation as a single ordered list, overwritten
// wholesale on every save. The in-memory message list is the source of truth
// during a session; persistence is a side effect.
type HistoryStore interface {
	Load() ([]Message, error)
	Save(messages []Message) error
}

// FileHistoryStore stores the history as one JSON document in dir.
type FileHistoryStore struct {
	path string
}

// NewFileHistoryStore creates a store writing to dir/HistoryFileName.
func NewFileHistoryStore(dir string) *FileHistoryStore {
	return &FileHistoryStore{path: filepath.Join(dir, HistoryFileName)}
}

// Load reads the persisted history. A missing file is an empty history, not
// an error.
func (s *FileHistoryStore) Load() ([]Message, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read history: %w", err)
	}
	var messages []Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return messages, nil
}

// Save overwrites the stored history. The write goes through a temp file and
// rename so a crash never leaves a half-written document.
func (s *FileHistoryStore) Save(messages []Message) error {
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

// MemoryHistoryStore keeps the history in memory. Used in tests and as a
// no-persistence default.
type MemoryHistoryStore struct {
	mu       sync.Mutex
	messages []Message
}

// Load returns a copy of the stored history.
func (s *MemoryHistoryStore) Load() ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...), nil
}

// Save replaces the stored history.
func (s *MemoryHistoryStore) Save(messages []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append([]Message(nil), messages...)
	return nil
}
