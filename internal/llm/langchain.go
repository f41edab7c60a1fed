package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/autopilot/internal/observability"
)

// LangchainQuerier adapts a langchaingo model to Querier.
type LangchainQuerier struct {
	Model    llms.Model
	Provider string
	Logger   *observability.Logger
}

func NewLangchainQuerier(model llms.Model, provider string, logger *observability.Logger) *LangchainQuerier {
	return &LangchainQuerier{Model: model, Provider: provider, Logger: logger}
}

func toMessageContent(msgs []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		role := llms.ChatMessageTypeHuman
		switch m.Role {
		case RoleSystem:
			role = llms.ChatMessageTypeSystem
		case RoleAssistant:
			role = llms.ChatMessageTypeAI
		}
		out = append(out, llms.MessageContent{
			Role:  role,
			Parts: []llms.ContentPart{llms.TextPart(m.Content)},
		})
	}
	return out
}

func (q *LangchainQuerier) Query(ctx context.Context, msgs []Message, structured bool) (string, error) {
	var opts []llms.CallOption
	if structured {
		opts = append(opts, llms.WithJSONMode())
	}

	resp, err := q.Model.GenerateContent(ctx, toMessageContent(msgs), opts...)
	if err != nil {
		q.Logger.LogLLM("", msgs, "", err.Error())
		return "", Classify(q.Provider, err)
	}
	if len(resp.Choices) == 0 {
		err := errors.New("no choices returned")
		q.Logger.LogLLM("", msgs, "", err.Error())
		return "", Classify(q.Provider, err)
	}

	text := resp.Choices[0].Content
	q.Logger.LogLLM("", msgs, text, "")
	if strings.TrimSpace(text) == "" {
		return "", Classify(q.Provider, errors.New("empty response"))
	}
	return text, nil
}
