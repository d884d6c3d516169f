package tooling

import (
	"sort"
	"sync"

	"github.com/user/hatsuka/pkg/llm"
)

// Decl is a registered tool with its gating and ordering.
type Decl struct {
	Tool     Tool
	Enabled  bool
	Priority int // lower fires earlier within a round
}

// Registry holds registered tools and provides lookup and gateway binding.
type Registry struct {
	mu    sync.RWMutex
	decls map[string]Decl
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{decls: make(map[string]Decl)}
}

// Register adds a tool with its gating. Re-registering a name replaces it.
func (r *Registry) Register(t Tool, enabled bool, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decls[t.Name()] = Decl{Tool: t, Enabled: enabled, Priority: priority}
}

// Get returns a tool declaration by name.
func (r *Registry) Get(name string) (Decl, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.decls[name]
	return d, ok
}

// List returns declarations sorted by priority then name. With enabledOnly,
// disabled tools are omitted.
func (r *Registry) List(enabledOnly bool) []Decl {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Decl, 0, len(r.decls))
	for _, d := range r.decls {
		if enabledOnly && !d.Enabled {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Tool.Name() < out[j].Tool.Name()
	})
	return out
}

// Declarations converts enabled tools to the gateway advertisement format.
func (r *Registry) Declarations() []llm.ToolDecl {
	decls := r.List(true)
	out := make([]llm.ToolDecl, 0, len(decls))
	for _, d := range decls {
		out = append(out, llm.ToolDecl{
			Name:        d.Tool.Name(),
			Description: d.Tool.Description(),
			Parameters:  d.Tool.Parameters(),
		})
	}
	return out
}

// PriorityOf returns the configured priority for name, or a large default
// when the tool is unknown.
func (r *Registry) PriorityOf(name string) int {
	if d, ok := r.Get(name); ok {
		return d.Priority
	}
	return 999
}
