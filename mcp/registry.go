package mcp

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// HandlerFunc performs one tool call with validated, defaulted arguments.
type HandlerFunc func(ctx context.Context, args Args) (any, error)

// Operation pairs a tool descriptor with its handler.
type Operation struct {
	Tool    mcp.Tool
	Handler HandlerFunc
	// Timeout overrides the dispatcher call timeout. Negative disables it
	// for handlers that bound their own waits.
	Timeout time.Duration
}

// Registry is the immutable tool table. Build it once at startup.
type Registry struct {
	ops   map[string]Operation
	names []string
}

// NewRegistry builds a registry, rejecting duplicate or empty names.
func NewRegistry(ops ...Operation) (*Registry, error) {
	r := &Registry{ops: make(map[string]Operation, len(ops))}
	for _, op := range ops {
		name := op.Tool.Name
		if name == "" {
			return nil, fmt.Errorf("tool registered without a name")
		}
		if op.Handler == nil {
			return nil, fmt.Errorf("tool %q registered without a handler", name)
		}
		if _, dup := r.ops[name]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", name)
		}
		r.ops[name] = op
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

// MustRegistry is NewRegistry that panics on error.
func MustRegistry(ops ...Operation) *Registry {
	r, err := NewRegistry(ops...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the operation registered under name.
func (r *Registry) Lookup(name string) (Operation, bool) {
	op, ok := r.ops[name]
	return op, ok
}

// Names lists tool names in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Tools returns the descriptors in name order.
func (r *Registry) Tools() []mcp.Tool {
	out := make([]mcp.Tool, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.ops[name].Tool)
	}
	return out
}

func (r *Registry) Len() int { return len(r.ops) }

// Args is the validated argument bag passed to handlers. Numbers declared
// as integer arrive as int64, other numbers as float64.
type Args map[string]any

func (a Args) Has(name string) bool {
	v, ok := a[name]
	return ok && v != nil
}

func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

func (a Args) Float(name string) float64 {
	switch v := a[name].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func (a Args) Int(name string) int64 {
	switch v := a[name].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}
