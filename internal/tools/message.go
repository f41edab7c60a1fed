package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/rahul/autopilot/internal/capability"
)

// Messenger delivers text to the operator's chat channels.
type Messenger interface {
	Send(ctx context.Context, origin, text string) error
}

type MessageTool struct {
	Messenger Messenger
}

func NewMessageTool(m Messenger) *MessageTool {
	return &MessageTool{Messenger: m}
}

func (m *MessageTool) Name() string {
	return "send_message"
}

func (m *MessageTool) Description() string {
	return "Send a message to the operator through the configured chat channels."
}

func (m *MessageTool) Schema() capability.Schema {
	return capability.Schema{
		{Name: "text", Description: "the message to send", Required: true},
	}
}

func (m *MessageTool) Invoke(ctx context.Context, params map[string]any) (capability.Result, error) {
	msg := strings.TrimSpace(capability.StringParam(params, "text"))
	if msg == "" {
		return capability.Result{}, fmt.Errorf("empty message")
	}
	if err := m.Messenger.Send(ctx, capability.OriginFrom(ctx), msg); err != nil {
		return capability.Result{}, fmt.Errorf("failed to send message: %w", err)
	}
	return text("Message sent."), nil
}
