// manager_loading.go: reference-counted load and unload of modules and groups
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"context"
	"fmt"
	"sort"
)

// LoadModuleExplicit loads the highest registered version of id (or the
// version already loaded) together with its dependency closure.
func (m *Manager) LoadModuleExplicit(ctx context.Context, id string) error {
	return m.loadExplicit(ctx, AnyVersion(id))
}

// LoadModuleExplicitVersion loads id@version together with its dependency
// closure.
func (m *Manager) LoadModuleExplicitVersion(ctx context.Context, id string, version uint32) error {
	return m.loadExplicit(ctx, ExactVersion(id, version))
}

func (m *Manager) loadExplicit(ctx context.Context, ref ModuleRef) (err error) {
	if err := m.checkOpen(ctx); err != nil {
		return err
	}
	if err := ValidateModuleID(ref.ID); err != nil {
		return err
	}
	ctx, span := m.tracing.StartSpan(ctx, "load_module")
	span.SetAttribute("module", ref.String())
	defer func() { finishSpan(span, err) }()

	var events []ModuleEvent
	defer func() { m.notify(events) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	if held, ok := m.explicit[ref.ID]; ok {
		if ref.Pinned && held.root.Version != ref.Version {
			return NewVersionMismatchError(ref, []uint32{held.root.Version}).
				WithContext("loaded", held.root.String())
		}
		return nil
	}

	res, keys, loaded, err := m.acquire(ctx, ref)
	if err != nil {
		return err
	}
	m.explicit[ref.ID] = explicitHold{root: res.Targets[0].Key(), keys: keys}
	events = loaded

	m.metrics.IncrementCounter("module_loads_total", map[string]string{"kind": "explicit"}, 1)
	m.updateGauges()
	m.logger.Info("Module loaded",
		"module", res.Targets[0].String(),
		"closure", len(keys),
		"activated", len(loaded))
	return nil
}

// UnloadModuleExplicit releases an explicit load of id. It fails with
// ErrCodeModuleNotFound when no version of id is loaded and with
// ErrCodeModuleInUse when id is loaded only by a group or as a dependency.
func (m *Manager) UnloadModuleExplicit(ctx context.Context, id string) (err error) {
	if err := m.checkOpen(ctx); err != nil {
		return err
	}
	ctx, span := m.tracing.StartSpan(ctx, "unload_module")
	span.SetAttribute("module", id)
	defer func() { finishSpan(span, err) }()

	var events []ModuleEvent
	defer func() { m.notify(events) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	held, ok := m.explicit[id]
	if !ok {
		if loaded := m.registry.FindLoaded(id); loaded != nil {
			return NewModuleInUseError(loaded.Key())
		}
		return NewModuleNotFoundError(id, "")
	}
	delete(m.explicit, id)
	events = m.release(ctx, held.keys)

	m.metrics.IncrementCounter("module_unloads_total", map[string]string{"kind": "explicit"}, 1)
	m.updateGauges()
	m.logger.Info("Module unloaded",
		"module", held.root.String(),
		"deactivated", len(events))
	return nil
}

// LoadModuleGroup loads every member of the group and their dependencies.
// Loading a group that is already loaded succeeds without effect.
func (m *Manager) LoadModuleGroup(ctx context.Context, name string) (err error) {
	if err := m.checkOpen(ctx); err != nil {
		return err
	}
	ctx, span := m.tracing.StartSpan(ctx, "load_group")
	span.SetAttribute("group", name)
	defer func() { finishSpan(span, err) }()

	var events []ModuleEvent
	defer func() { m.notify(events) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.groups.IsLoaded(name) {
		return nil
	}
	group, err := m.groups.Group(name)
	if err != nil {
		return err
	}

	var keys []ModuleKey
	if len(group.Members) > 0 {
		var loaded []ModuleEvent
		_, keys, loaded, err = m.acquire(ctx, group.Members...)
		if err != nil {
			return err
		}
		events = loaded
	}
	m.groups.hold(name, keys)

	m.metrics.IncrementCounter("module_loads_total", map[string]string{"kind": "group"}, 1)
	m.updateGauges()
	m.logger.Info("Module group loaded",
		"group", name,
		"members", len(group.Members),
		"closure", len(keys),
		"activated", len(events))
	return nil
}

// UnloadModuleGroup releases the modules held by a loaded group. Unloading a
// known group that is not loaded succeeds without effect.
func (m *Manager) UnloadModuleGroup(ctx context.Context, name string) (err error) {
	if err := m.checkOpen(ctx); err != nil {
		return err
	}
	ctx, span := m.tracing.StartSpan(ctx, "unload_group")
	span.SetAttribute("group", name)
	defer func() { finishSpan(span, err) }()

	var events []ModuleEvent
	defer func() { m.notify(events) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	keys, ok := m.groups.takeHold(name)
	if !ok {
		if _, err := m.groups.Group(name); err != nil {
			return err
		}
		return nil
	}
	events = m.release(ctx, keys)

	m.metrics.IncrementCounter("module_unloads_total", map[string]string{"kind": "group"}, 1)
	m.updateGauges()
	m.logger.Info("Module group unloaded",
		"group", name,
		"deactivated", len(events))
	return nil
}

// acquire resolves refs and takes one reference on every module of the
// closure, dependencies first. Modules making the 0→1 transition are
// activated. On failure every reference taken so far is released in reverse
// order and no events are returned. Must be called with m.mu held.
func (m *Manager) acquire(ctx context.Context, refs ...ModuleRef) (*Resolution, []ModuleKey, []ModuleEvent, error) {
	res, err := m.resolver.Resolve(refs...)
	if err != nil {
		return nil, nil, nil, err
	}

	taken := make([]*ModuleDefinition, 0, len(res.Closure))
	var events []ModuleEvent
	for _, def := range res.Closure {
		if def.acquire() {
			if err := m.activate(ctx, def); err != nil {
				def.release()
				m.rollback(ctx, taken)
				m.metrics.IncrementCounter("module_activation_failures_total", nil, 1)
				m.logger.Error("Module activation failed, load rolled back",
					"module", def.String(),
					"error", err)
				return nil, nil, nil, NewActivationFailedError(def.Key(), err)
			}
			events = append(events, newModuleEvent(EventLoaded, def))
		}
		taken = append(taken, def)
	}

	keys := make([]ModuleKey, len(taken))
	for i, def := range taken {
		keys[i] = def.Key()
	}
	return res, keys, events, nil
}

// rollback undoes acquire for the definitions in taken.
func (m *Manager) rollback(ctx context.Context, taken []*ModuleDefinition) {
	for i := len(taken) - 1; i >= 0; i-- {
		if taken[i].release() {
			m.deactivate(ctx, taken[i])
		}
	}
}

// release drops one reference on each key in reverse order and returns the
// unload events. Must be called with m.mu held.
func (m *Manager) release(ctx context.Context, keys []ModuleKey) []ModuleEvent {
	var events []ModuleEvent
	for i := len(keys) - 1; i >= 0; i-- {
		def := m.registry.Find(keys[i].ID, keys[i].Version)
		if def == nil {
			m.logger.Warn("Held module vanished from registry", "module", keys[i].String())
			continue
		}
		if def.release() {
			m.deactivate(ctx, def)
			events = append(events, newModuleEvent(EventUnloaded, def))
		}
	}
	return events
}

// releaseAll drops every explicit and group hold.
func (m *Manager) releaseAll(ctx context.Context) []ModuleEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var events []ModuleEvent
	for _, name := range m.groups.LoadedGroups() {
		if keys, ok := m.groups.takeHold(name); ok {
			events = append(events, m.release(ctx, keys)...)
		}
	}
	ids := make([]string, 0, len(m.explicit))
	for id := range m.explicit {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		events = append(events, m.release(ctx, m.explicit[id].keys)...)
		delete(m.explicit, id)
	}
	m.updateGauges()
	return events
}

func (m *Manager) activate(ctx context.Context, def *ModuleDefinition) error {
	if m.activator == nil {
		return nil
	}
	return callRecovering(func() error { return m.activator.Activate(ctx, def) })
}

func (m *Manager) deactivate(ctx context.Context, def *ModuleDefinition) {
	if m.activator == nil {
		return
	}
	if err := callRecovering(func() error { return m.activator.Deactivate(ctx, def) }); err != nil {
		m.logger.Warn("Module deactivation failed",
			"module", def.String(),
			"error", fmt.Sprint(err))
	}
}
