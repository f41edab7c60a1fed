package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/rahul/autopilot/internal/capability"
	"github.com/tmc/langchaingo/tools/duckduckgo"
)

type SearchTool struct {
	client *duckduckgo.Tool
}

func NewSearchTool() (*SearchTool, error) {
	ddg, err := duckduckgo.New(10, duckduckgo.DefaultUserAgent)
	if err != nil {
		return nil, err
	}
	return &SearchTool{client: ddg}, nil
}

func (s *SearchTool) Name() string {
	return "search"
}

func (s *SearchTool) Description() string {
	return "Search the web using DuckDuckGo for real-time information."
}

func (s *SearchTool) Schema() capability.Schema {
	return capability.Schema{
		{Name: "query", Description: "the search query to look up", Required: true},
	}
}

func (s *SearchTool) Invoke(ctx context.Context, params map[string]any) (capability.Result, error) {
	query := strings.TrimSpace(capability.StringParam(params, "query"))
	if query == "" {
		return capability.Result{}, fmt.Errorf("empty query")
	}

	res, err := s.client.Call(ctx, query)
	if err != nil {
		return capability.Result{}, fmt.Errorf("search failed: %w", err)
	}
	return text(res), nil
}
