// Package capability holds the named operations the engine can invoke and the
// registry that validates and dispatches calls to them.
package capability

import (
	"context"
	"fmt"
	"strings"
)

// Param describes one named parameter of a capability.
type Param struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
}

// Schema is the ordered parameter list of a capability.
type Schema []Param

// Normalize drops params the schema does not declare and fills defaults for
// absent optional ones. It returns the names of absent required params in
// schema order.
func (s Schema) Normalize(params map[string]any) (map[string]any, []string) {
	out := make(map[string]any, len(s))
	var missing []string
	for _, p := range s {
		v, ok := params[p.Name]
		switch {
		case ok:
			out[p.Name] = v
		case p.Required:
			missing = append(missing, p.Name)
		default:
			out[p.Name] = p.Default
		}
	}
	return out, missing
}

// Signature renders the schema as "a: string, b?: int = 3".
func (s Schema) Signature() string {
	parts := make([]string, 0, len(s))
	for _, p := range s {
		name := p.Name
		if !p.Required {
			name += "?"
		}
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		part := name + ": " + typ
		if !p.Required && p.Default != nil && p.Default != "" {
			part += fmt.Sprintf(" = %v", p.Default)
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ")
}

// Result is what a capability hands back to the engine.
type Result struct {
	Text string
	// Installed signals that the call made a new capability available.
	Installed bool
}

// Capability is a named operation with a declared parameter schema.
type Capability interface {
	Name() string
	Description() string
	Schema() Schema
	Invoke(ctx context.Context, params map[string]any) (Result, error)
}

// Versioned is implemented by capabilities that carry a version string.
type Versioned interface {
	Version() string
}

// Descriptor is the registry's public view of a capability.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Schema      Schema `json:"schema"`
	Version     string `json:"version,omitempty"`
}

func describe(c Capability) Descriptor {
	d := Descriptor{
		Name:        c.Name(),
		Description: c.Description(),
		Schema:      c.Schema(),
	}
	if v, ok := c.(Versioned); ok {
		d.Version = v.Version()
	}
	return d
}

// HandlerFunc is the plain-function form of a capability body.
type HandlerFunc func(ctx context.Context, params map[string]any) (string, error)

type funcCapability struct {
	name        string
	description string
	schema      Schema
	fn          HandlerFunc
}

func (f *funcCapability) Name() string        { return f.name }
func (f *funcCapability) Description() string { return f.description }
func (f *funcCapability) Schema() Schema      { return f.schema }

func (f *funcCapability) Invoke(ctx context.Context, params map[string]any) (Result, error) {
	text, err := f.fn(ctx, params)
	return Result{Text: text}, err
}

// StringParam returns params[name] as a string. Non-string values are
// formatted with %v; absent or nil values yield "".
func StringParam(params map[string]any, name string) string {
	v, ok := params[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
