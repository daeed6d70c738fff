package capabilities

import (
	"fmt"
	"sort"

	"github.com/cloudwego/eino/components/tool"

	"github.com/dohr-michael/steward/internal/approval"
	"github.com/dohr-michael/steward/internal/events"
)

// Registry holds every capability the agent can call.
type Registry struct {
	tools  map[string]tool.InvokableTool
	specs  map[string]Spec
	policy approval.Policy
	bus    *events.Bus
}

// NewRegistry creates an empty registry. bus may be nil.
func NewRegistry(policy approval.Policy, bus *events.Bus) *Registry {
	return &Registry{
		tools:  make(map[string]tool.InvokableTool),
		specs:  make(map[string]Spec),
		policy: policy,
		bus:    bus,
	}
}

// Register adds a capability. Sensitive capabilities are wrapped by the
// approval gate so every call is checked against the policy.
func (r *Registry) Register(spec Spec, run RunFunc) error {
	if _, exists := r.tools[spec.Name]; exists {
		return fmt.Errorf("capability %q already registered", spec.Name)
	}
	var t tool.InvokableTool = &capability{
		spec:          spec,
		run:           run,
		justification: func() bool { return r.policy.Settings().RequireJustification },
	}
	if spec.Sensitive {
		t = approval.Wrap(t, spec.Name, r.policy, r.bus)
	}
	r.tools[spec.Name] = t
	r.specs[spec.Name] = spec
	return nil
}

// Tools returns all registered tools, ordered by name.
func (r *Registry) Tools() []tool.InvokableTool {
	names := r.Names()
	result := make([]tool.InvokableTool, 0, len(names))
	for _, name := range names {
		result = append(result, r.tools[name])
	}
	return result
}

// Tool returns the (possibly gated) tool for name, or nil.
func (r *Registry) Tool(name string) tool.InvokableTool {
	return r.tools[name]
}

// Spec returns the spec registered under name.
func (r *Registry) Spec(name string) (Spec, bool) {
	s, ok := r.specs[name]
	return s, ok
}

// Names returns the registered capability names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequireJustification reports whether sensitive capabilities currently
// take a justification argument.
func (r *Registry) RequireJustification() bool {
	return r.policy.Settings().RequireJustification
}
