// Package toolregistry holds the fixed tool catalog and the static
// tool-to-permission table referenced by the Auth Resolver. Each descriptor
// is validated once at startup; list() and resolve() are constant-time
// thereafter.
package toolregistry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/snapback-ai/coprocessor/auth"
	"github.com/snapback-ai/coprocessor/mcp"
)

// Descriptor is a static tool descriptor: name, schema, backend
// requirement, and minimum tier.
type Descriptor struct {
	Name            string
	Description     string
	InputSchema     mcp.ToolInputSchema
	RequiresBackend bool
	MinTier         auth.Tier
}

// ExternalResolver lets the registry compose tools contributed by an
// out-of-process collaborator behind a namespaced prefix (e.g. "ctx7.").
// Failure of one external resolver must not affect others or the native
// catalog (SPEC_FULL.md §C).
type ExternalResolver interface {
	Prefix() string
	ListTools() ([]Descriptor, error)
}

// Registry is the Tool Registry.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Descriptor
	order     []string
	externals []ExternalResolver
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{tools: make(map[string]Descriptor)}
}

// MustRegister validates and adds a descriptor, panicking on a malformed
// one. Intended for use in package-level catalog construction at startup,
// where a malformed built-in descriptor is a programming error, not a
// runtime condition.
func (r *Registry) MustRegister(d Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Register validates and adds a single descriptor.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("toolregistry: tool descriptor missing name")
	}
	if d.InputSchema.Type == "" {
		return fmt.Errorf("toolregistry: tool %q missing input schema type", d.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[d.Name]; !exists {
		r.order = append(r.order, d.Name)
	}
	r.tools[d.Name] = d
	return nil
}

// RegisterExternal adds a delegate for a namespaced prefix.
func (r *Registry) RegisterExternal(er ExternalResolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.externals = append(r.externals, er)
}

// List returns every tool descriptor as protocol Tool values, in
// registration order for native tools followed by each external resolver's
// tools in registration order. A failing external resolver is skipped, not
// fatal to the overall listing.
func (r *Registry) List() []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]mcp.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, toTool(r.tools[name]))
	}
	for _, er := range r.externals {
		descs, err := er.ListTools()
		if err != nil {
			continue
		}
		for _, d := range descs {
			out = append(out, toTool(d))
		}
	}
	return out
}

// Resolve looks up a descriptor by name in constant time, checking native
// tools first then delegating to external resolvers by prefix match.
func (r *Registry) Resolve(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.tools[name]; ok {
		return d, true
	}
	for _, er := range r.externals {
		if !hasPrefix(name, er.Prefix()) {
			continue
		}
		descs, err := er.ListTools()
		if err != nil {
			continue
		}
		for _, d := range descs {
			if d.Name == name {
				return d, true
			}
		}
	}
	return Descriptor{}, false
}

// MinTierFor returns the minimum tier required for a tool name, "" if the
// tool is open to any valid principal (absent from the table per spec §4.3).
func (r *Registry) MinTierFor(name string) auth.Tier {
	d, ok := r.Resolve(name)
	if !ok {
		return ""
	}
	return d.MinTier
}

func hasPrefix(name, prefix string) bool {
	return len(name) >= len(prefix) && name[:len(prefix)] == prefix
}

func toTool(d Descriptor) mcp.Tool {
	return mcp.Tool{
		Name:        d.Name,
		Description: d.Description,
		InputSchema: d.InputSchema,
	}
}

// SortedNames returns every registered native tool name in sorted order,
// used by diagnostics and tests.
func (r *Registry) SortedNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
