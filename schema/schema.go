// Package schema holds the model registry consulted by the query rewriter
// and the tenant administration operations. Applications register their
// models once at startup; a model that lacks the tenant column is out of
// scope for rewriting.
package schema

import (
	"sort"
	"sync"
)

// Model describes one application model.
type Model struct {
	// Name is the model name used by Handle.Model calls.
	Name string
	// Table is the underlying table or collection name. Defaults to Name.
	Table string
	// Columns is the set of column names the model carries.
	Columns []string
	// Relations maps a payload field carrying a nested write to the name of
	// the related model.
	Relations map[string]string

	columnSet map[string]bool
}

// HasColumn reports whether the model carries the given column.
func (m *Model) HasColumn(col string) bool {
	return m.columnSet[col]
}

// TableName returns the table/collection name for the model.
func (m *Model) TableName() string {
	if m.Table != "" {
		return m.Table
	}
	return m.Name
}

// Registry is a concurrency-safe collection of models.
type Registry struct {
	mu     sync.RWMutex
	models map[string]*Model
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]*Model)}
}

// Register adds or replaces a model definition.
func (r *Registry) Register(m Model) {
	m.columnSet = make(map[string]bool, len(m.Columns))
	for _, c := range m.Columns {
		m.columnSet[c] = true
	}
	r.mu.Lock()
	r.models[m.Name] = &m
	r.mu.Unlock()
}

// Lookup returns the model definition for name.
func (r *Registry) Lookup(name string) (*Model, bool) {
	r.mu.RLock()
	m, ok := r.models[name]
	r.mu.RUnlock()
	return m, ok
}

// TenantCapable reports whether the named model carries the tenant column.
// Unregistered models are treated as not tenant-capable.
func (r *Registry) TenantCapable(name, tenantColumn string) bool {
	m, ok := r.Lookup(name)
	return ok && m.HasColumn(tenantColumn)
}

// TenantCapableModels returns the sorted names of all models carrying the
// tenant column. Only these models contribute to tenant administration
// operations.
func (r *Registry) TenantCapableModels(tenantColumn string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, m := range r.models {
		if m.HasColumn(tenantColumn) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Models returns the sorted names of all registered models.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry used by the default router.
func Default() *Registry {
	return defaultRegistry
}

// Register adds a model to the default registry.
func Register(m Model) {
	defaultRegistry.Register(m)
}
