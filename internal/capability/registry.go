package capability

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rahul/autopilot/internal/governance"
)

// Recorder receives the outcome of every invocation of a resolved capability.
type Recorder interface {
	RecordSuccess(name string, d time.Duration) error
	RecordFailure(name, errText string, d time.Duration) error
}

// Advisor supplies reliability notes for the planner listing.
type Advisor interface {
	AdviceFor(names []string) string
}

type originKey struct{}

// WithOrigin tags ctx with the party requesting invocations, for policy rules.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// OriginFrom returns the origin tagged by WithOrigin, or "engine".
func OriginFrom(ctx context.Context) string {
	if o, ok := ctx.Value(originKey{}).(string); ok {
		return o
	}
	return "engine"
}

// Registry stores capabilities by name. It is safe for concurrent use, so
// capabilities can be installed while a session is running.
type Registry struct {
	mu       sync.RWMutex
	caps     map[string]Capability
	recorder Recorder
	guard    governance.PolicyEngine
}

type Option func(*Registry)

// WithRecorder reports invocation outcomes to rec.
func WithRecorder(rec Recorder) Option {
	return func(r *Registry) { r.recorder = rec }
}

// WithGuard checks every invocation against a policy before dispatch.
func WithGuard(g governance.PolicyEngine) Option {
	return func(r *Registry) { r.guard = g }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{caps: make(map[string]Capability)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register installs c, replacing any capability with the same name.
func (r *Registry) Register(c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caps[c.Name()]; exists {
		log.Printf("[Registry] Replacing capability %q", c.Name())
	}
	r.caps[c.Name()] = c
}

// RegisterFunc installs a plain function as a capability.
func (r *Registry) RegisterFunc(name, description string, schema Schema, fn HandlerFunc) {
	r.Register(&funcCapability{name: name, description: description, schema: schema, fn: fn})
}

// Unregister removes name. It reports whether a capability was removed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.caps[name]
	delete(r.caps, name)
	return ok
}

// Resolve returns the descriptor registered under name.
func (r *Registry) Resolve(name string) (Descriptor, error) {
	r.mu.RLock()
	c, ok := r.caps[name]
	r.mu.RUnlock()
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return describe(c), nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptors returns all descriptors sorted by name.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.caps))
	for _, c := range r.caps {
		out = append(out, describe(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Describe renders the capability listing used in the planning prompt.
// When advisor is non-nil its notes are appended.
func (r *Registry) Describe(advisor Advisor) string {
	descs := r.Descriptors()
	var b strings.Builder
	b.WriteString("Available capabilities:\n")
	if len(descs) == 0 {
		b.WriteString("(none; every step must be a direct query)\n")
	}
	names := make([]string, 0, len(descs))
	for _, d := range descs {
		names = append(names, d.Name)
		fmt.Fprintf(&b, "- %s(%s): %s\n", d.Name, d.Schema.Signature(), d.Description)
	}
	if advisor != nil {
		if advice := advisor.AdviceFor(names); advice != "" {
			b.WriteString("\n")
			b.WriteString(advice)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Invoke validates params against the schema of name and runs it. Failures of
// the capability itself, including panics, come back as *Error and never
// crash the caller.
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]any) (Result, error) {
	r.mu.RLock()
	c, ok := r.caps[name]
	r.mu.RUnlock()
	if !ok {
		return Result{}, &Error{Kind: KindNotFound, Capability: name}
	}

	if r.guard != nil {
		res, err := r.guard.Evaluate(ctx, governance.Request{
			Capability: name,
			Params:     params,
			Origin:     OriginFrom(ctx),
		})
		if err != nil {
			return Result{}, &Error{Kind: KindDenied, Capability: name, Reason: "policy evaluation failed: " + err.Error(), Err: err}
		}
		if !res.Allowed() {
			log.Printf("[Registry] Policy denied %q: %s", name, res.Reason)
			return Result{}, &Error{Kind: KindDenied, Capability: name, Reason: res.Reason}
		}
	}

	start := time.Now()
	normalized, missing := c.Schema().Normalize(params)
	if len(missing) > 0 {
		cerr := &Error{Kind: KindMissingParameter, Capability: name, Missing: missing}
		r.recordFailure(name, cerr.Error(), time.Since(start))
		return Result{}, cerr
	}

	res, err := safeInvoke(ctx, c, normalized)
	elapsed := time.Since(start)
	if err != nil {
		cerr := &Error{Kind: KindCapability, Capability: name, Err: err}
		r.recordFailure(name, cerr.Error(), elapsed)
		return Result{}, cerr
	}
	r.recordSuccess(name, elapsed)
	return res, nil
}

func safeInvoke(ctx context.Context, c Capability, params map[string]any) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrPanicked, p)
		}
	}()
	return c.Invoke(ctx, params)
}

func (r *Registry) recordSuccess(name string, d time.Duration) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.RecordSuccess(name, d); err != nil {
		log.Printf("[Registry] Failed to record success for %q: %v", name, err)
	}
}

func (r *Registry) recordFailure(name, errText string, d time.Duration) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.RecordFailure(name, errText, d); err != nil {
		log.Printf("[Registry] Failed to record failure for %q: %v", name, err)
	}
}
