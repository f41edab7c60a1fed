package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/rahul/autopilot/internal/capability"
	"github.com/rahul/autopilot/internal/memory"
)

// MemoryStore is the long-term memory the remember and recall capabilities
// operate on.
type MemoryStore interface {
	Remember(ctx context.Context, content, source string, tags ...string) (string, error)
	Recall(ctx context.Context, query string, limit int) ([]memory.Entry, error)
}

type RememberTool struct {
	Store MemoryStore
}

func NewRememberTool(store MemoryStore) *RememberTool {
	return &RememberTool{Store: store}
}

func (r *RememberTool) Name() string {
	return "remember"
}

func (r *RememberTool) Description() string {
	return "Store a fact in long-term memory so later goals can recall it."
}

func (r *RememberTool) Schema() capability.Schema {
	return capability.Schema{
		{Name: "content", Description: "the fact to remember", Required: true},
		{Name: "tags", Description: "comma-separated tags", Default: ""},
	}
}

func (r *RememberTool) Invoke(ctx context.Context, params map[string]any) (capability.Result, error) {
	content := strings.TrimSpace(capability.StringParam(params, "content"))
	if content == "" {
		return capability.Result{}, fmt.Errorf("nothing to remember")
	}
	var tags []string
	for _, t := range strings.Split(capability.StringParam(params, "tags"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	id, err := r.Store.Remember(ctx, content, capability.OriginFrom(ctx), tags...)
	if err != nil {
		return capability.Result{}, fmt.Errorf("failed to remember: %w", err)
	}
	return text(fmt.Sprintf("Remembered as %s", id)), nil
}

type RecallTool struct {
	Store MemoryStore
}

func NewRecallTool(store MemoryStore) *RecallTool {
	return &RecallTool{Store: store}
}

func (r *RecallTool) Name() string {
	return "recall"
}

func (r *RecallTool) Description() string {
	return "Search long-term memory for facts related to a query."
}

func (r *RecallTool) Schema() capability.Schema {
	return capability.Schema{
		{Name: "query", Description: "what to look for", Required: true},
		{Name: "limit", Type: "int", Description: "maximum number of facts", Default: 5},
	}
}

func (r *RecallTool) Invoke(ctx context.Context, params map[string]any) (capability.Result, error) {
	query := strings.TrimSpace(capability.StringParam(params, "query"))
	if query == "" {
		return capability.Result{}, fmt.Errorf("empty query")
	}
	limit, err := intParam(params, "limit", 5)
	if err != nil {
		return capability.Result{}, err
	}
	entries, err := r.Store.Recall(ctx, query, limit)
	if err != nil {
		return capability.Result{}, fmt.Errorf("failed to recall: %w", err)
	}
	if len(entries) == 0 {
		return text("Nothing relevant in memory."), nil
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "- [%s] %s\n", e.CreatedAt.Format("2006-01-02"), e.Content)
	}
	return text(strings.TrimRight(b.String(), "\n")), nil
}
