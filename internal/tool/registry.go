package tool

import (
	"fmt"
	"sort"
	"sync"

	"github.com/planweave/planweave/internal/errors"
)

// Registry stores tools by ID and resolves them at dispatch time. Safe for
// concurrent use; the scheduler's workers resolve concurrently while the
// CLI or replanning layer may register late.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering an empty ID or a duplicate is an error;
// tool identity must be stable for the life of the registry.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("register: nil tool")
	}
	id := t.Spec().ID
	if id == "" {
		return fmt.Errorf("register: tool ID is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[id]; exists {
		return fmt.Errorf("register %q: already registered", id)
	}
	r.tools[id] = t
	return nil
}

// MustRegister registers a tool and panics on error. For wiring static
// toolsets at startup.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Resolve returns the tool with the given ID, or a resolution error.
func (r *Registry) Resolve(id string) (Tool, error) {
	if id == "" {
		return nil, errors.NewUnassignedToolError()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[id]
	if !ok {
		return nil, errors.NewResolutionError(id)
	}
	return t, nil
}

// Specs returns the specs of all registered tools, sorted by ID.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Spec())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WithCapability returns the specs of tools advertising the capability,
// sorted by ID. Planning strategies use this for assignment and for
// finding substitutes during replanning.
func (r *Registry) WithCapability(cap string) []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Spec
	for _, t := range r.tools {
		if spec := t.Spec(); spec.HasCapability(cap) {
			out = append(out, spec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
