package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

var logf = log.Printf

// Store persists the ledger as a whole.
type Store interface {
	Load() (map[string]*Record, error)
	Save(records map[string]*Record) error
}

// JSONFileStore keeps the ledger in one JSON object keyed by capability name.
type JSONFileStore struct {
	Path string
}

func NewJSONFileStore(path string) *JSONFileStore {
	return &JSONFileStore{Path: path}
}

// Load returns an empty map when the file does not exist.
func (s *JSONFileStore) Load() (map[string]*Record, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]*Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", s.Path, err)
	}
	records := make(map[string]*Record)
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode ledger %s: %w", s.Path, err)
	}
	return dropNull(records), nil
}

// Save writes through a temp file so a crash never leaves a half-written file.
func (s *JSONFileStore) Save(records map[string]*Record) error {
	if dir := filepath.Dir(s.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}

// MemoryStore keeps a JSON snapshot in memory. Used by tests and dry runs.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
	// Saves counts successful Save calls.
	Saves int
}

func (m *MemoryStore) Load() (map[string]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make(map[string]*Record)
	if m.data == nil {
		return records, nil
	}
	if err := json.Unmarshal(m.data, &records); err != nil {
		return nil, err
	}
	return dropNull(records), nil
}

func (m *MemoryStore) Save(records map[string]*Record) error {
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
	m.Saves++
	return nil
}

// dropNull removes entries that decoded from a JSON null.
func dropNull(records map[string]*Record) map[string]*Record {
	for name, r := range records {
		if r == nil {
			delete(records, name)
		}
	}
	return records
}
