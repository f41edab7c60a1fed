// Package memory is the agent's long-term memory: short facts indexed for
// full-text recall, used as planning context and by the remember/recall
// capabilities.
package memory

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/google/uuid"
)

// Entry is one remembered fact.
type Entry struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Score     float64   `json:"score,omitempty"`
}

type document struct {
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
}

// Store indexes entries with bleve.
type Store struct {
	mu    sync.RWMutex
	index bleve.Index
}

// Open opens the index at path, creating it when absent.
func Open(path string) (*Store, error) {
	var index bleve.Index
	var err error
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		index, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create bleve index: %w", err)
		}
	} else {
		index, err = bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open bleve index: %w", err)
		}
	}
	return &Store{index: index}, nil
}

// NewMemOnly returns a store that lives only in memory.
func NewMemOnly() (*Store, error) {
	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory index: %w", err)
	}
	return &Store{index: index}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	doc := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	keyword := bleve.NewKeywordFieldMapping()

	doc.AddFieldMappingsAt("content", text)
	doc.AddFieldMappingsAt("source", keyword)
	doc.AddFieldMappingsAt("tags", keyword)
	doc.AddFieldMappingsAt("created_at", bleve.NewDateTimeFieldMapping())

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	im.DefaultAnalyzer = standard.Name
	return im
}

// Remember indexes content and returns its id.
func (s *Store) Remember(ctx context.Context, content, source string, tags ...string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("empty memory content")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	doc := document{Content: content, Source: source, Tags: tags, CreatedAt: time.Now()}
	if err := s.index.Index(id, doc); err != nil {
		return "", fmt.Errorf("failed to index memory: %w", err)
	}
	return id, nil
}

// Recall returns up to limit entries matching query, best first.
func (s *Store) Recall(ctx context.Context, query string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 5
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	req := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
	req.Size = limit
	req.Fields = []string{"*"}

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	out := make([]Entry, 0, len(res.Hits))
	for _, hit := range res.Hits {
		e := Entry{ID: hit.ID, Score: hit.Score}
		e.Content, _ = hit.Fields["content"].(string)
		e.Source, _ = hit.Fields["source"].(string)
		switch tags := hit.Fields["tags"].(type) {
		case string:
			e.Tags = []string{tags}
		case []any:
			for _, t := range tags {
				if s, ok := t.(string); ok {
					e.Tags = append(e.Tags, s)
				}
			}
		}
		if ts, ok := hit.Fields["created_at"].(string); ok {
			e.CreatedAt, _ = time.Parse(time.RFC3339, ts)
		}
		out = append(out, e)
	}
	return out, nil
}

// Count returns the number of stored entries.
func (s *Store) Count() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.DocCount()
}

// Context renders the entries relevant to query as a prompt section.
// It returns "" when nothing matches.
func (s *Store) Context(ctx context.Context, query string) string {
	entries, err := s.Recall(ctx, query, 5)
	if err != nil || len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	for _, e := range entries {
		b.WriteString("- ")
		b.WriteString(e.Content)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}
