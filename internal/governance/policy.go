package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request contains the context of a capability invocation to be evaluated.
type Request struct {
	Capability string
	Params     map[string]any
	// Origin names who asked for the invocation (engine, telegram, discord).
	Origin string
}

// Arguments renders the params as a stable string for pattern matching.
func (r Request) Arguments() string {
	if len(r.Params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(r.Params))
	for k := range r.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		switch v := r.Params[k].(type) {
		case string:
			b.WriteString(v)
		default:
			raw, _ := json.Marshal(v)
			b.Write(raw)
		}
	}
	return b.String()
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// Allowed reports whether the result permits the invocation.
func (r Result) Allowed() bool {
	return r.Effect != EffectDeny
}

// PolicyEngine evaluates capability invocations against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// DefaultPolicyEngine denies by capability name, argument pattern or CEL rule
// and allows everything else.
type DefaultPolicyEngine struct {
	mu          sync.RWMutex
	DeniedCaps  map[string]bool
	DeniedRegex []*regexp.Regexp
	rules       *RuleSet
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		DeniedCaps:  make(map[string]bool),
		DeniedRegex: make([]*regexp.Regexp, 0),
	}
}

func (e *DefaultPolicyEngine) DenyCapability(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.DeniedCaps[name] = true
}

func (e *DefaultPolicyEngine) DenyArguments(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("deny pattern %q: %w", pattern, err)
	}
	e.mu.Lock()
	e.DeniedRegex = append(e.DeniedRegex, re)
	e.mu.Unlock()
	return nil
}

// DenyWhen adds a CEL expression that denies the invocation when it evaluates
// to true. The expression sees `capability` (string), `params` (map) and
// `origin` (string).
func (e *DefaultPolicyEngine) DenyWhen(expr string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rules == nil {
		rs, err := NewRuleSet()
		if err != nil {
			return err
		}
		e.rules = rs
	}
	return e.rules.Add(expr)
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.DeniedCaps[req.Capability] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("Capability '%s' is restricted by system policy", req.Capability),
		}, nil
	}

	args := req.Arguments()
	for _, re := range e.DeniedRegex {
		if re.MatchString(args) {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("Arguments match restricted pattern: %s", re.String()),
			}, nil
		}
	}

	if e.rules != nil {
		expr, matched, err := e.rules.FirstMatch(req)
		if err != nil {
			return Result{}, err
		}
		if matched {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("Denied by rule: %s", expr),
			}, nil
		}
	}

	return Result{
		Effect: EffectAllow,
		Reason: "Approved by default policy",
	}, nil
}
