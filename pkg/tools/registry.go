package tools

import (
	"fmt"
	"log/slog"
	"sync"
)

// Registry is the name-keyed tool collection a session scopes specialist
// units against. The registry itself implements none of the tools; callers
// register whatever implementations they carry.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

func NewRegistry(toolList ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool)}
	for _, tool := range toolList {
		if err := r.Register(tool); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds one tool. Registering an unnamed tool or a duplicate name is
// an error.
func (r *Registry) Register(tool Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool has no name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool %q already registered", tool.Name)
	}
	r.tools[tool.Name] = tool
	r.order = append(r.order, tool.Name)
	return nil
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	return tool, ok
}

// All returns every registered tool in registration order.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Scope restricts the registry to an allow-list, preserving the list's order.
// A nil or empty allow-list means the full registry. Names the registry does
// not know are skipped with a warning so a profile typo cannot grant an
// unintended tool.
func (r *Registry) Scope(allowList []string) []Tool {
	if len(allowList) == 0 {
		return r.All()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(allowList))
	for _, name := range allowList {
		tool, ok := r.tools[name]
		if !ok {
			slog.Warn("Tool allow-list names unknown tool", "tool", name)
			continue
		}
		out = append(out, tool)
	}
	return out
}
