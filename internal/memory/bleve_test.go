package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRememberAndRecall(t *testing.T) {
	s, err := NewMemOnly()
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	_, err = s.Remember(ctx, "The workspace contains a notes directory", "session", "workspace")
	require.NoError(t, err)
	_, err = s.Remember(ctx, "Golang channels synchronise goroutines", "session")
	require.NoError(t, err)

	entries, err := s.Recall(ctx, "notes", 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Content, "notes directory")
	assert.Equal(t, "session", entries[0].Source)
	assert.Equal(t, []string{"workspace"}, entries[0].Tags)

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestRemember_RejectsEmpty(t *testing.T) {
	s, err := NewMemOnly()
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Remember(context.Background(), "   ", "x")
	assert.Error(t, err)
}

func TestContext(t *testing.T) {
	s, err := NewMemOnly()
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	assert.Equal(t, "", s.Context(ctx, "anything"))
	_, err = s.Remember(ctx, "Goal completed: write a haiku", "orchestrator")
	require.NoError(t, err)
	assert.Equal(t, "- Goal completed: write a haiku", s.Context(ctx, "haiku"))
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.bleve")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.Remember(context.Background(), "persistent fact about zebras", "test")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	again, err := Open(path)
	require.NoError(t, err)
	defer again.Close()
	entries, err := again.Recall(context.Background(), "zebras", 3)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
