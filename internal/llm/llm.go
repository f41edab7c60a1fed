// Package llm is the model-query boundary of the engine: a small Querier
// interface, langchaingo-backed providers, and a retrying wrapper.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

func System(content string) Message { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message   { return Message{Role: RoleUser, Content: content} }

// Querier answers a conversation with text. When structured is true the
// provider is asked for a single JSON object.
type Querier interface {
	Query(ctx context.Context, msgs []Message, structured bool) (string, error)
}

// QuerierFunc adapts a function to Querier.
type QuerierFunc func(ctx context.Context, msgs []Message, structured bool) (string, error)

func (f QuerierFunc) Query(ctx context.Context, msgs []Message, structured bool) (string, error) {
	return f(ctx, msgs, structured)
}

var (
	ErrRateLimited = errors.New("rate limited")
	ErrProvider    = errors.New("provider error")
)

// Error carries a provider failure together with its classification.
type Error struct {
	Provider    string
	RateLimited bool
	Err         error
}

func (e *Error) Error() string {
	kind := "provider error"
	if e.RateLimited {
		kind = "rate limited"
	}
	if e.Provider != "" {
		return fmt.Sprintf("%s (%s): %v", kind, e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: %v", kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.RateLimited {
		return []error{ErrRateLimited, e.Err}
	}
	return []error{ErrProvider, e.Err}
}

// Classify wraps err as an *Error, detecting rate limiting from the message.
// Context errors and errors that are already classified pass through.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	msg := strings.ToLower(err.Error())
	limited := strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "too many requests")
	return &Error{Provider: provider, RateLimited: limited, Err: err}
}

// IsProviderFailure reports whether err came from the model provider.
func IsProviderFailure(err error) bool {
	return errors.Is(err, ErrProvider) || errors.Is(err, ErrRateLimited)
}
