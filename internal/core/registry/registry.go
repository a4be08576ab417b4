// Package registry holds item definitions and named filter presets. It is
// the in-process stand-in for the external asset/config system: containers
// consult it for max stack sizes and tag/resource resolution but never own
// it.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/stackvault/stackvault/internal/core/filter"
	"github.com/stackvault/stackvault/internal/core/item"
	"github.com/stackvault/stackvault/internal/core/material"
)

// DefaultMaxStack applies to item types the registry does not know.
const DefaultMaxStack = 64

// Definition describes one item type.
type Definition struct {
	ID        item.TypeID
	Name      string
	MaxStack  int
	Tags      []material.TagID
	Resources []material.ResourceID
}

// Registry is a thread-safe definition table. Registration normally happens
// once at startup; lookups happen on every container operation.
type Registry struct {
	mu         sync.RWMutex
	defs       map[item.TypeID]Definition
	byTag      map[material.TagID][]item.TypeID
	byResource map[material.ResourceID][]item.TypeID
	presets    map[string]filter.SlotFilter
}

var _ material.Resolver = (*Registry)(nil)

func New() *Registry {
	return &Registry{
		defs:       make(map[item.TypeID]Definition),
		byTag:      make(map[material.TagID][]item.TypeID),
		byResource: make(map[material.ResourceID][]item.TypeID),
		presets:    make(map[string]filter.SlotFilter),
	}
}

// Register adds a definition. Re-registering an id is an error; definitions
// are authored once, not patched at runtime.
func (r *Registry) Register(def Definition) error {
	if def.MaxStack <= 0 {
		return fmt.Errorf("registry: item %d (%s) has non-positive max stack %d", def.ID, def.Name, def.MaxStack)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.ID]; exists {
		return fmt.Errorf("registry: item %d already registered", def.ID)
	}
	r.defs[def.ID] = def
	for _, tag := range def.Tags {
		r.byTag[tag] = insertSorted(r.byTag[tag], def.ID)
	}
	for _, res := range def.Resources {
		r.byResource[res] = insertSorted(r.byResource[res], def.ID)
	}
	return nil
}

// Definition returns the definition for a type id.
func (r *Registry) Definition(t item.TypeID) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[t]
	return def, ok
}

// MaxStack returns the stack limit for a type, falling back to
// DefaultMaxStack for unknown types.
func (r *Registry) MaxStack(t item.TypeID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def, ok := r.defs[t]; ok {
		return def.MaxStack
	}
	return DefaultMaxStack
}

// TypesForTag returns the type ids carrying a tag, ascending.
func (r *Registry) TypesForTag(tag material.TagID) []item.TypeID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]item.TypeID(nil), r.byTag[tag]...)
}

// TypesForResource returns the type ids yielding a resource, ascending.
func (r *Registry) TypesForResource(res material.ResourceID) []item.TypeID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]item.TypeID(nil), r.byResource[res]...)
}

// RegisterPreset names a slot filter so container construction sites can
// reference it from config.
func (r *Registry) RegisterPreset(name string, f filter.SlotFilter) {
	r.mu.Lock()
	r.presets[name] = f
	r.mu.Unlock()
}

// Preset looks up a named filter.
func (r *Registry) Preset(name string) (filter.SlotFilter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.presets[name]
	return f, ok
}

func insertSorted(types []item.TypeID, t item.TypeID) []item.TypeID {
	i := sort.Search(len(types), func(i int) bool { return types[i] >= t })
	if i < len(types) && types[i] == t {
		return types
	}
	types = append(types, 0)
	copy(types[i+1:], types[i:])
	types[i] = t
	return types
}
