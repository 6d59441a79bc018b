// Package tool defines the executable capabilities a plan delegates its
// steps to, and the registry that resolves tool identifiers at dispatch
// time.
package tool

import "context"

// Spec describes a tool's identity and what it can do. Capabilities are
// free-form tags planning strategies match against when assigning or
// substituting tools.
type Spec struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// HasCapability reports whether the spec advertises the given capability.
func (s Spec) HasCapability(cap string) bool {
	for _, c := range s.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// Tool is a unit of executable capability. Invoke must honor ctx
// cancellation; the invoker enforces timeouts by canceling the context it
// passes in.
type Tool interface {
	Spec() Spec
	Invoke(ctx context.Context, input map[string]any) (map[string]any, error)
}

// Func adapts a plain function into a Tool.
type Func struct {
	ToolSpec Spec
	Fn       func(ctx context.Context, input map[string]any) (map[string]any, error)
}

// Spec returns the adapter's tool spec.
func (f Func) Spec() Spec { return f.ToolSpec }

// Invoke calls the wrapped function.
func (f Func) Invoke(ctx context.Context, input map[string]any) (map[string]any, error) {
	return f.Fn(ctx, input)
}

// New builds a Func tool from its parts.
func New(id, name, description string, capabilities []string, fn func(ctx context.Context, input map[string]any) (map[string]any, error)) Func {
	return Func{
		ToolSpec: Spec{
			ID:           id,
			Name:         name,
			Description:  description,
			Capabilities: capabilities,
		},
		Fn: fn,
	}
}
