package backlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store persists the whole backlog.
type Store interface {
	Load() ([]*Goal, error)
	Save(goals []*Goal) error
}

// JSONFileStore keeps the backlog as a JSON array.
type JSONFileStore struct {
	Path string
}

func NewJSONFileStore(path string) *JSONFileStore {
	return &JSONFileStore{Path: path}
}

// Load returns an empty backlog when the file does not exist.
func (s *JSONFileStore) Load() ([]*Goal, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backlog %s: %w", s.Path, err)
	}
	var goals []*Goal
	if err := json.Unmarshal(data, &goals); err != nil {
		return nil, fmt.Errorf("decode backlog %s: %w", s.Path, err)
	}
	kept := goals[:0]
	for _, g := range goals {
		if g == nil {
			continue
		}
		g.Category = ParseCategory(string(g.Category))
		g.Priority = ClampPriority(g.Priority)
		kept = append(kept, g)
	}
	return kept, nil
}

func (s *JSONFileStore) Save(goals []*Goal) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0755); err != nil {
		return err
	}
	if goals == nil {
		goals = []*Goal{}
	}
	data, err := json.MarshalIndent(goals, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}

// MemoryStore keeps a JSON snapshot in memory.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

func (m *MemoryStore) Load() ([]*Goal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, nil
	}
	var goals []*Goal
	if err := json.Unmarshal(m.data, &goals); err != nil {
		return nil, err
	}
	return goals, nil
}

func (m *MemoryStore) Save(goals []*Goal) error {
	data, err := json.Marshal(goals)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
	return nil
}
