package step

import (
	"fmt"
	"sort"
	"strings"

	"git.home.luguber.info/inful/buildorch/internal/config"
)

// Factory builds a fresh provider for one step spec's parameter.
type Factory func(param string) Provider

type registration struct {
	factory     Factory
	description string
}

// Registry maps step type identifiers to provider factories. Registration is
// static: it happens once at startup, before any walker resolves specs.
type Registry struct {
	factories map[string]registration
}

// NewRegistry returns a registry that already knows the skip step.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]registration)}
	r.MustRegister(SkipType, "Does nothing", func(string) Provider { return NewSkip("") })
	return r
}

// Register adds a factory under name. Names are case-insensitive and unique.
func (r *Registry) Register(name, description string, f Factory) error {
	key := normalizeType(name)
	if key == "" {
		return fmt.Errorf("step type name is empty")
	}
	if f == nil {
		return fmt.Errorf("step type %q: nil factory", name)
	}
	if _, exists := r.factories[key]; exists {
		return fmt.Errorf("step type %q already registered", key)
	}
	r.factories[key] = registration{factory: f, description: description}
	return nil
}

// MustRegister is Register for startup tables; it panics on a duplicate.
func (r *Registry) MustRegister(name, description string, f Factory) {
	if err := r.Register(name, description, f); err != nil {
		panic(err)
	}
}

// Resolve returns a new provider for spec. Unknown or empty types resolve to a
// skip provider so a bad spec never stalls a stage.
func (r *Registry) Resolve(spec config.StepSpec) Provider {
	key := normalizeType(spec.Type)
	if key == "" {
		return NewSkip("step spec has no type")
	}
	reg, ok := r.factories[key]
	if !ok {
		return NewSkip(fmt.Sprintf("unknown step type %q", spec.Type))
	}
	if p := reg.factory(spec.Param); p != nil {
		return p
	}
	return NewSkip(fmt.Sprintf("step type %q produced no provider", spec.Type))
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.factories[normalizeType(name)]
	return ok
}

// Names returns the registered identifiers in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Description returns the registered description for name.
func (r *Registry) Description(name string) string {
	return r.factories[normalizeType(name)].description
}

func normalizeType(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
