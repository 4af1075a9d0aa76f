package schema

import (
	"fmt"
	"sort"
	"sync"

	"github.com/JonMunkholm/catalog/internal/store"
)

// Registry holds table definitions by key. It implements store.Catalog.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]TableDefinition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]TableDefinition)}
}

// Register adds a table definition to the registry.
// Panics if a table with the same key is already registered.
func (r *Registry) Register(def TableDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.Info.Key]; exists {
		panic(fmt.Sprintf("table already registered: %s", def.Info.Key))
	}
	if def.IDColumn == "" && !def.Info.Junction {
		def.IDColumn = "id"
	}
	if def.Info.Label == "" {
		def.Info.Label = def.Info.Key
	}

	r.defs[def.Info.Key] = def
}

// Get returns a table definition by key.
// Returns false if not found.
func (r *Registry) Get(key string) (TableDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[key]
	return def, ok
}

// All returns all registered table definitions.
// Sorted by group then by key for consistent ordering.
func (r *Registry) All() []TableDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]TableDefinition, 0, len(r.defs))
	for _, def := range r.defs {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Info.Group != result[j].Info.Group {
			return result[i].Info.Group < result[j].Info.Group
		}
		return result[i].Info.Key < result[j].Info.Key
	})

	return result
}

// ByGroup returns all table definitions for a specific group.
// Sorted by key for consistent ordering.
func (r *Registry) ByGroup(group string) []TableDefinition {
	var result []TableDefinition
	for _, def := range r.All() {
		if def.Info.Group == group {
			result = append(result, def)
		}
	}
	return result
}

// Groups returns all unique group names.
// Sorted alphabetically.
func (r *Registry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	for _, def := range r.defs {
		seen[def.Info.Group] = true
	}

	groups := make([]string, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}

	sort.Strings(groups)
	return groups
}

// Len returns the number of registered tables.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// Columns implements store.Catalog.
func (r *Registry) Columns(table string) []string {
	def, ok := r.Get(table)
	if !ok {
		return nil
	}
	return def.ColumnNames()
}

// Link implements store.Catalog. A foreign key on `from` pointing at `to`
// is a forward link; a foreign key on `to` pointing back at `from` is a
// reverse link. Forward wins when both exist.
func (r *Registry) Link(from, to string) (store.Link, bool) {
	src, ok := r.Get(from)
	if !ok {
		return store.Link{}, false
	}
	for _, fk := range src.ForeignKeys {
		if fk.RefTable == to {
			return store.Link{Kind: store.LinkForward, LocalColumn: fk.Column, ForeignColumn: fk.RefColumn}, true
		}
	}
	dst, ok := r.Get(to)
	if !ok {
		return store.Link{}, false
	}
	for _, fk := range dst.ForeignKeys {
		if fk.RefTable == from {
			return store.Link{Kind: store.LinkReverse, LocalColumn: fk.RefColumn, ForeignColumn: fk.Column}, true
		}
	}
	return store.Link{}, false
}
