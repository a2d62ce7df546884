package ability

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/code-atlantic/abridge/pkg/schema"
)

// Ability names are namespaced slugs, e.g. "webmcp/search-posts".
var namePattern = regexp.MustCompile(`^[a-z0-9_-]+/[a-z0-9_-]+$`)

// Registry holds the abilities the host application has registered.
// Registration happens at startup; reads dominate afterwards.
type Registry struct {
	abilities map[string]*Ability
	mu        sync.RWMutex
}

// NewRegistry creates an empty ability registry.
func NewRegistry() *Registry {
	return &Registry{
		abilities: make(map[string]*Ability),
	}
}

// Register adds an ability to the registry. The name must be a namespaced
// slug and not already taken. A declared input schema that does not compile
// as JSON Schema is logged but does not fail registration; the bridge
// sanitizes schemas again at discovery time.
func (r *Registry) Register(a *Ability) error {
	if a == nil {
		return fmt.Errorf("ability is required")
	}
	if !namePattern.MatchString(a.Name) {
		return fmt.Errorf("invalid ability name: %q (want namespace/name slug)", a.Name)
	}
	if a.Execute == nil {
		return fmt.Errorf("ability %q has no execute callback", a.Name)
	}

	if !a.InputSchema.IsZero() {
		if err := schema.Compile(a.InputSchema); err != nil {
			log.Warn().
				Err(err).
				Str("ability", a.Name).
				Msg("Input schema does not compile as JSON Schema")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.abilities[a.Name]; exists {
		return fmt.Errorf("ability already registered: %s", a.Name)
	}
	r.abilities[a.Name] = a

	log.Info().
		Str("ability", a.Name).
		Str("visibility", string(a.EffectiveVisibility())).
		Bool("readOnly", a.ReadOnly).
		Msg("Ability registered")

	return nil
}

// Get returns the ability with the given name.
func (r *Registry) Get(name string) (*Ability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.abilities[name]
	return a, ok
}

// Has reports whether an ability with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.abilities[name]
	return ok
}

// List returns all registered abilities sorted by name. Sorted order keeps
// discovery output, and therefore ETags, deterministic.
func (r *Registry) List() []*Ability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Ability, 0, len(r.abilities))
	for _, a := range r.abilities {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered abilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.abilities)
}
