// module_registry.go: versioned index of registered module definitions
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"path/filepath"
	"sort"
	"sync"
)

// ModuleRegistry owns every registered ModuleDefinition.
//
// The registry indexes definitions by id (each id keeps its versions sorted
// ascending) and remembers registration order, which every listing query
// preserves. Its lock only protects the index structures; callers that mutate
// the registry are serialized by the Manager.
type ModuleRegistry struct {
	mu      sync.RWMutex
	byID    map[string][]*ModuleDefinition
	ordered []*ModuleDefinition
	logger  Logger
}

// NewModuleRegistry creates an empty registry.
func NewModuleRegistry(logger Logger) *ModuleRegistry {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &ModuleRegistry{
		byID:   make(map[string][]*ModuleDefinition),
		logger: logger,
	}
}

// Register adds def. It fails with ErrCodeDuplicateModule when the same
// id@version is already registered, leaving the registry unchanged.
func (r *ModuleRegistry) Register(def *ModuleDefinition) error {
	if def == nil {
		return NewInvalidModuleError("module definition is nil", "")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	versions := r.byID[def.id]
	idx := sort.Search(len(versions), func(i int) bool { return versions[i].version >= def.version })
	if idx < len(versions) && versions[idx].version == def.version {
		return NewDuplicateModuleError(def.Key())
	}

	versions = append(versions, nil)
	copy(versions[idx+1:], versions[idx:])
	versions[idx] = def
	r.byID[def.id] = versions
	r.ordered = append(r.ordered, def)

	r.logger.Debug("Module registered", "module", def.String(), "path", def.path)
	return nil
}

// Unregister removes id@version and returns the removed definition.
// A loaded module fails with ErrCodeModuleLoaded, an absent one with
// ErrCodeModuleNotFound.
func (r *ModuleRegistry) Unregister(id string, version uint32) (*ModuleDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	versions := r.byID[id]
	idx := -1
	for i, def := range versions {
		if def.version == version {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, NewModuleNotFoundError(id, formatVersion(version))
	}

	def := versions[idx]
	if def.Loaded() {
		return nil, NewModuleLoadedError(def.Key())
	}

	versions = append(versions[:idx], versions[idx+1:]...)
	if len(versions) == 0 {
		delete(r.byID, id)
	} else {
		r.byID[id] = versions
	}
	for i, d := range r.ordered {
		if d == def {
			r.ordered = append(r.ordered[:i], r.ordered[i+1:]...)
			break
		}
	}

	r.logger.Debug("Module unregistered", "module", def.String())
	return def, nil
}

// Find returns id@version or nil.
func (r *ModuleRegistry) Find(id string, version uint32) *ModuleDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, def := range r.byID[id] {
		if def.version == version {
			return def
		}
	}
	return nil
}

// FindLatest returns the highest registered version of id or nil.
func (r *ModuleRegistry) FindLatest(id string) *ModuleDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := r.byID[id]
	if len(versions) == 0 {
		return nil
	}
	return versions[len(versions)-1]
}

// FindLoaded returns the loaded version of id or nil.
func (r *ModuleRegistry) FindLoaded(id string) *ModuleDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, def := range r.byID[id] {
		if def.Loaded() {
			return def
		}
	}
	return nil
}

// Versions returns the registered versions of id in ascending order.
func (r *ModuleRegistry) Versions(id string) []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := r.byID[id]
	out := make([]uint32, len(versions))
	for i, def := range versions {
		out[i] = def.version
	}
	return out
}

// FindAll lists definitions in registration order.
func (r *ModuleRegistry) FindAll(loadedOnly bool) []*ModuleDefinition {
	return r.filter(func(def *ModuleDefinition) bool {
		return !loadedOnly || def.Loaded()
	})
}

// FindByType lists definitions with the given type tag in registration order.
func (r *ModuleRegistry) FindByType(moduleType string, loadedOnly bool) []*ModuleDefinition {
	return r.filter(func(def *ModuleDefinition) bool {
		return def.moduleType == moduleType && (!loadedOnly || def.Loaded())
	})
}

// FindByPath lists definitions whose module root is path.
func (r *ModuleRegistry) FindByPath(path string) []*ModuleDefinition {
	clean := filepath.Clean(path)
	return r.filter(func(def *ModuleDefinition) bool {
		return filepath.Clean(def.path) == clean
	})
}

// IDsInGroup lists, in registration order and without duplicates, the ids
// of registered definitions whose manifest declares group.
func (r *ModuleRegistry) IDsInGroup(group string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	seen := make(map[string]bool)
	for _, def := range r.ordered {
		if def.group == group && !seen[def.id] {
			seen[def.id] = true
			ids = append(ids, def.id)
		}
	}
	return ids
}

// Len returns the number of registered definitions.
func (r *ModuleRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordered)
}

func (r *ModuleRegistry) filter(keep func(*ModuleDefinition) bool) []*ModuleDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ModuleDefinition, 0, len(r.ordered))
	for _, def := range r.ordered {
		if keep(def) {
			out = append(out, def)
		}
	}
	return out
}
