package ledger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReliabilityThresholds(t *testing.T) {
	tests := []struct {
		name      string
		successes int
		failures  int
		want      Reliability
	}{
		{"untried", 0, 0, Unknown},
		{"single run", 1, 0, Unknown},
		{"all good", 5, 0, Reliable},
		{"exactly eighty", 4, 1, Reliable},
		{"exactly fifty", 1, 1, Unstable},
		{"mostly failing", 1, 3, Faulty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(&MemoryStore{})
			for i := 0; i < tt.successes; i++ {
				require.NoError(t, l.RecordSuccess("cap", time.Second))
			}
			for i := 0; i < tt.failures; i++ {
				require.NoError(t, l.RecordFailure("cap", "boom", time.Second))
			}
			assert.Equal(t, tt.want, l.Reliability("cap"))
		})
	}
}

func TestRecordFailure_TruncatesError(t *testing.T) {
	l := New(&MemoryStore{})
	require.NoError(t, l.RecordFailure("cap", strings.Repeat("x", 500), time.Millisecond))

	r, ok := l.Get("cap")
	require.True(t, ok)
	require.NotNil(t, r.LastError)
	assert.Len(t, *r.LastError, maxErrorLen)
	assert.NotNil(t, r.LastUsed)
	assert.Equal(t, 1, r.Failures)
}

func TestRecordFailure_TruncatesByRune(t *testing.T) {
	l := New(&MemoryStore{})
	require.NoError(t, l.RecordFailure("cap", strings.Repeat("é", 300), time.Millisecond))

	r, ok := l.Get("cap")
	require.True(t, ok)
	require.NotNil(t, r.LastError)
	assert.True(t, utf8.ValidString(*r.LastError))
	assert.Equal(t, maxErrorLen, utf8.RuneCountInString(*r.LastError))
}

func TestEveryUpdateIsPersisted(t *testing.T) {
	store := &MemoryStore{}
	l := New(store)
	require.NoError(t, l.RecordSuccess("a", time.Second))
	require.NoError(t, l.RecordFailure("a", "x", time.Second))
	assert.Equal(t, 2, store.Saves)

	reloaded := New(store)
	s := reloaded.Score("a")
	assert.Equal(t, 2, s.Executions)
	assert.InDelta(t, 50.0, s.SuccessRate, 0.001)
	assert.InDelta(t, 1.0, s.AvgTimeS, 0.001)
}

func TestJSONFileStore_RoundTripAndFieldNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.json")
	l := New(NewJSONFileStore(path))
	require.NoError(t, l.RecordSuccess("search", 1500*time.Millisecond))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, field := range []string{`"executions"`, `"successes"`, `"failures"`, `"total_time_s"`, `"last_error"`, `"last_used"`, `"created"`} {
		assert.Contains(t, string(raw), field)
	}

	again := New(NewJSONFileStore(path))
	r, ok := again.Get("search")
	require.True(t, ok)
	assert.Equal(t, 1, r.Successes)
	assert.InDelta(t, 1.5, r.TotalTimeS, 0.001)
}

func TestJSONFileStore_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	l := New(NewJSONFileStore(path))
	assert.Empty(t, l.Overview())
	require.NoError(t, l.RecordSuccess("a", time.Second))
	assert.Len(t, l.Overview(), 1)
}

func TestJSONFileStore_NullRecordStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"web_search": null, "shell": {"executions": 2, "successes": 2}}`), 0644))

	l := New(NewJSONFileStore(path))
	assert.Equal(t, Unknown, l.Reliability("web_search"))
	assert.Equal(t, 0, l.Score("web_search").Executions)
	_, ok := l.Get("web_search")
	assert.False(t, ok)
	assert.Empty(t, l.AdviceFor([]string{"web_search"}))
	require.Len(t, l.Overview(), 1)

	require.NoError(t, l.RecordSuccess("web_search", time.Second))
	r, ok := l.Get("web_search")
	require.True(t, ok)
	assert.Equal(t, 1, r.Executions)
	assert.False(t, r.Created.IsZero())

	reloaded := New(NewJSONFileStore(path))
	assert.Len(t, reloaded.Overview(), 2)
}

func TestMemoryStore_DropsNullRecords(t *testing.T) {
	store := &MemoryStore{data: []byte(`{"cap": null}`)}
	records, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, records)

	l := New(store)
	require.NoError(t, l.RecordFailure("cap", "boom", time.Second))
	assert.Equal(t, 1, l.Score("cap").Executions)
}

func TestAdviceFor_OnlyNonReliable(t *testing.T) {
	l := New(&MemoryStore{})
	for i := 0; i < 3; i++ {
		require.NoError(t, l.RecordSuccess("good", time.Second))
		require.NoError(t, l.RecordFailure("bad", "timeout", time.Second))
	}
	require.NoError(t, l.RecordFailure("new", "once", time.Second))

	advice := l.AdviceFor([]string{"good", "bad", "new", "never"})
	assert.Contains(t, advice, "bad: faulty")
	assert.Contains(t, advice, "timeout")
	assert.NotContains(t, advice, "good")
	assert.NotContains(t, advice, "new")

	assert.Empty(t, l.AdviceFor([]string{"good"}))
}

func TestOverview_SortedLeastReliableFirst(t *testing.T) {
	l := New(&MemoryStore{})
	require.NoError(t, l.RecordSuccess("ok", time.Second))
	require.NoError(t, l.RecordFailure("broken", "x", time.Second))

	scores := l.Overview()
	require.Len(t, scores, 2)
	assert.Equal(t, "broken", scores[0].Name)

	table := FormatOverview(scores)
	assert.Contains(t, table, "CAPABILITY")
	assert.Contains(t, table, "broken")
	assert.Equal(t, "No capability executions recorded yet.", FormatOverview(nil))
}
