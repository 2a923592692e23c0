// group_manager.go: named module groups and the load holds they own
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"sort"
	"sync"
)

// ModuleGroup is a named, ordered set of module references.
type ModuleGroup struct {
	Name    string
	Members []ModuleRef
}

// GroupManager maps group names to members and remembers which modules
// each loaded group holds.
//
// A group's members are the references given to DefineGroup followed by
// every registered id whose manifest declares the group, in registration
// order and at any version. Membership is computed when a group is loaded,
// so modules registered later join declared groups automatically.
type GroupManager struct {
	mu       sync.RWMutex
	defined  map[string][]ModuleRef
	held     map[string][]ModuleKey
	registry *ModuleRegistry
}

// NewGroupManager creates a group manager over registry.
func NewGroupManager(registry *ModuleRegistry) *GroupManager {
	return &GroupManager{
		defined:  make(map[string][]ModuleRef),
		held:     make(map[string][]ModuleKey),
		registry: registry,
	}
}

// DefineGroup sets the explicit members of name, replacing any previous
// definition. A loaded group cannot be redefined.
func (g *GroupManager) DefineGroup(name string, members ...ModuleRef) error {
	if err := ValidateModuleID(name); err != nil {
		return NewInvalidGroupError(name, "invalid group name")
	}
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		if err := ValidateModuleID(m.ID); err != nil {
			return err
		}
		if seen[m.ID] {
			return NewInvalidGroupError(name, "group lists module "+m.ID+" twice")
		}
		seen[m.ID] = true
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, loaded := g.held[name]; loaded {
		return NewInvalidGroupError(name, "group is loaded and cannot be redefined")
	}
	refs := make([]ModuleRef, len(members))
	copy(refs, members)
	g.defined[name] = refs
	return nil
}

// RemoveGroup drops the explicit definition of name. Manifest-declared
// membership is unaffected.
func (g *GroupManager) RemoveGroup(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.defined[name]; !ok {
		return NewGroupNotFoundError(name)
	}
	if _, loaded := g.held[name]; loaded {
		return NewInvalidGroupError(name, "group is loaded and cannot be removed")
	}
	delete(g.defined, name)
	return nil
}

// Group returns the current membership of name or ErrCodeGroupNotFound.
func (g *GroupManager) Group(name string) (*ModuleGroup, error) {
	g.mu.RLock()
	explicit, defined := g.defined[name]
	g.mu.RUnlock()

	members := make([]ModuleRef, 0, len(explicit))
	seen := make(map[string]bool, len(explicit))
	for _, ref := range explicit {
		members = append(members, ref)
		seen[ref.ID] = true
	}

	declared := g.registry.IDsInGroup(name)
	for _, id := range declared {
		if !seen[id] {
			members = append(members, AnyVersion(id))
			seen[id] = true
		}
	}

	if !defined && len(declared) == 0 {
		return nil, NewGroupNotFoundError(name)
	}
	return &ModuleGroup{Name: name, Members: members}, nil
}

// Groups lists every known group name, sorted.
func (g *GroupManager) Groups() []string {
	names := make(map[string]bool)
	g.mu.RLock()
	for name := range g.defined {
		names[name] = true
	}
	for name := range g.held {
		names[name] = true
	}
	g.mu.RUnlock()

	for _, def := range g.registry.FindAll(false) {
		if def.Group() != "" {
			names[def.Group()] = true
		}
	}

	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// IsLoaded reports whether name currently holds its members.
func (g *GroupManager) IsLoaded(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.held[name]
	return ok
}

// LoadedGroups lists the loaded group names, sorted.
func (g *GroupManager) LoadedGroups() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.held))
	for name := range g.held {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (g *GroupManager) hold(name string, keys []ModuleKey) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.held[name] = keys
}

func (g *GroupManager) takeHold(name string) ([]ModuleKey, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	keys, ok := g.held[name]
	delete(g.held, name)
	return keys, ok
}
