// Package extensions maps extension identifiers from the render configuration
// to changes applied on a gonja environment while it is being built.
package extensions

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nikolalohinski/gonja/v2/exec"
)

// Extension mutates an environment under construction.
type Extension interface {
	Name() string
	Apply(env *exec.Environment) error
}

// Registry stores extensions by identifier.
type Registry struct {
	mu         sync.RWMutex
	extensions map[string]Extension
}

// NewRegistry creates an empty registry instance.
func NewRegistry() *Registry {
	return &Registry{
		extensions: make(map[string]Extension),
	}
}

// Default returns a registry holding every built-in extension.
func Default() *Registry {
	registry := NewRegistry()
	for _, ext := range builtin() {
		registry.MustRegister(ext)
	}
	return registry
}

// Register adds an extension by its Name(). Duplicate names return an error.
func (r *Registry) Register(ext Extension) error {
	if ext == nil {
		return fmt.Errorf("extensions: extension is required")
	}
	name := ext.Name()
	if name == "" {
		return fmt.Errorf("extensions: extension name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.extensions[name]; exists {
		return fmt.Errorf("extensions: extension %q already registered", name)
	}
	r.extensions[name] = ext
	return nil
}

// MustRegister panics on registration failure.
func (r *Registry) MustRegister(ext Extension) {
	if err := r.Register(ext); err != nil {
		panic(err)
	}
}

// Get retrieves an extension by identifier.
func (r *Registry) Get(name string) (Extension, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext, ok := r.extensions[name]
	if !ok {
		return nil, fmt.Errorf("unknown extension %q", name)
	}
	return ext, nil
}

// List returns the sorted extension identifiers.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.extensions))
	for name := range r.extensions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether an extension is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.extensions[name]
	return ok
}

// Apply resolves every identifier and applies them in order. The first
// unknown identifier or failing extension aborts.
func (r *Registry) Apply(env *exec.Environment, names []string) error {
	for _, name := range names {
		ext, err := r.Get(name)
		if err != nil {
			return err
		}
		if err := ext.Apply(env); err != nil {
			return fmt.Errorf("extensions: apply %s: %w", name, err)
		}
	}
	return nil
}
