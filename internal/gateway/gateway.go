// Package gateway connects chat platforms to the orchestrator: operators
// submit goals, query status and abort runs, and receive goal outcomes.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
)

// Controller is what a gateway drives.
type Controller interface {
	SubmitGoal(ctx context.Context, text, origin string) (string, error)
	StatusText() string
	StatsText() string
	Abort()
}

// Gateway is one chat platform connection.
type Gateway interface {
	// Name prefixes the origins the gateway produces, e.g. "telegram".
	Name() string
	// Start listens for messages until ctx is cancelled.
	Start(ctx context.Context) error
	// Send delivers text to a chat or channel id.
	Send(chatID string, text string) error
	// Stop gracefully shuts down the gateway.
	Stop() error
}

// Origin builds the origin tag for a chat on a gateway.
func Origin(gateway, chatID string) string {
	return gateway + ":" + chatID
}

// SplitOrigin is the inverse of Origin.
func SplitOrigin(origin string) (gateway, chatID string, ok bool) {
	gateway, chatID, ok = strings.Cut(origin, ":")
	if !ok || gateway == "" || chatID == "" {
		return "", "", false
	}
	return gateway, chatID, true
}

// Fanout routes messages to registered gateways. It is used both as the
// orchestrator's outcome notifier and as the send_message backend.
type Fanout struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
	notify   map[string][]string
}

func NewFanout() *Fanout {
	return &Fanout{gateways: make(map[string]Gateway), notify: make(map[string][]string)}
}

// Add registers gw. Notify lists the chat ids that receive every outcome.
func (f *Fanout) Add(gw Gateway, notify []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gateways[gw.Name()] = gw
	f.notify[gw.Name()] = notify
}

// Len returns the number of registered gateways.
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.gateways)
}

type target struct {
	gateway string
	chatID  string
}

// targets lists the origin's chat followed by every notify chat, deduplicated.
func (f *Fanout) targets(origin string) []target {
	f.mu.RLock()
	defer f.mu.RUnlock()

	seen := make(map[target]bool)
	var out []target
	add := func(t target) {
		if _, ok := f.gateways[t.gateway]; ok && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	if gw, chat, ok := SplitOrigin(origin); ok {
		add(target{gw, chat})
	}
	for gw, chats := range f.notify {
		for _, chat := range chats {
			add(target{gw, chat})
		}
	}
	return out
}

// Send delivers text to the origin's chat and the notify chats. It fails
// when there is nowhere to deliver or every delivery failed.
func (f *Fanout) Send(ctx context.Context, origin, text string) error {
	targets := f.targets(origin)
	if len(targets) == 0 {
		return fmt.Errorf("no chat channel configured for origin %q", origin)
	}
	var errs []error
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		f.mu.RLock()
		gw := f.gateways[t.gateway]
		f.mu.RUnlock()
		if err := gw.Send(t.chatID, text); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", Origin(t.gateway, t.chatID), err))
		}
	}
	if len(errs) == len(targets) {
		return errors.Join(errs...)
	}
	for _, err := range errs {
		log.Printf("[Gateway] Delivery failed: %v", err)
	}
	return nil
}

// Notify is Send with errors logged.
func (f *Fanout) Notify(ctx context.Context, origin, text string) {
	if err := f.Send(ctx, origin, text); err != nil {
		log.Printf("[Gateway] Notification dropped: %v", err)
	}
}
