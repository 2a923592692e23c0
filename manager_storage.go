// manager_storage.go: copy, synchronization and merge entry points of the Manager
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"context"
	"time"
)

// CopyModule duplicates source on disk. The copy is returned unregistered.
func (m *Manager) CopyModule(ctx context.Context, source *ModuleDefinition, targetID, targetPath string, useVersionPathing bool) (copied *ModuleDefinition, err error) {
	if err := m.checkOpen(ctx); err != nil {
		return nil, err
	}
	_, span := m.tracing.StartSpan(ctx, "copy_module")
	span.SetAttribute("target_id", targetID)
	span.SetAttribute("target_path", targetPath)
	defer func() { finishSpan(span, err) }()

	return m.copier.CopyModule(source, targetID, targetPath, useVersionPathing)
}

// SynchronizeDependencies copies the dependency closure of root, excluding
// root, into targetPath.
func (m *Manager) SynchronizeDependencies(ctx context.Context, root *ModuleDefinition, targetPath string) (report *SyncReport, err error) {
	if err := m.checkOpen(ctx); err != nil {
		return nil, err
	}
	_, span := m.tracing.StartSpan(ctx, "synchronize_dependencies")
	span.SetAttribute("target_path", targetPath)
	defer func() { finishSpan(span, err) }()

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copier.SynchronizeDependencies(root, targetPath)
}

// IsModuleMergeAvailable reports whether a merge-intent marker exists.
func (m *Manager) IsModuleMergeAvailable() bool {
	return m.merger.IsAvailable()
}

// CanMergeModules validates the modules staged under sourcePath without
// changing anything. A nil error means the merge can proceed.
func (m *Manager) CanMergeModules(ctx context.Context, sourcePath string) (report *MergeReport, err error) {
	if err := m.checkOpen(ctx); err != nil {
		return nil, err
	}
	ctx, span := m.tracing.StartSpan(ctx, "can_merge_modules")
	span.SetAttribute("source_path", sourcePath)
	defer func() { finishSpan(span, err) }()

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.merger.Validate(ctx, sourcePath)
}

// MergeModules applies the pending merge into targetPath.
func (m *Manager) MergeModules(ctx context.Context, targetPath string, removeMergeDefinition, registerNewModules bool) (report *MergeReport, err error) {
	if err := m.checkOpen(ctx); err != nil {
		return nil, err
	}
	ctx, span := m.tracing.StartSpan(ctx, "merge_modules")
	span.SetAttribute("target_path", targetPath)
	defer func() { finishSpan(span, err) }()

	registrar := &managerRegistrar{m: m}
	defer func() { m.notify(registrar.events) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	report, err = m.merger.Merge(ctx, targetPath, removeMergeDefinition, registerNewModules, registrar)
	m.updateGauges()
	return report, err
}

// MergeState reports the merge engine state.
func (m *Manager) MergeState() MergeState {
	return m.merger.State()
}

// WatchMergeDefinition starts polling the merge-intent marker. onChange,
// when not nil, is called on its own goroutine each time a merge is staged
// or withdrawn. The watcher stops on Close.
func (m *Manager) WatchMergeDefinition(onChange func(available bool)) error {
	if err := m.checkOpen(context.Background()); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher != nil {
		return NewInvalidConfigError("merge definition is already watched")
	}
	w := NewMergeWatcher(m.merger, time.Duration(m.config.MergePollInterval), m.logger, onChange)
	if err := w.Start(); err != nil {
		return err
	}
	m.watcher = w
	return nil
}

func (m *Manager) stopWatcher() *MergeWatcher {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.watcher
	m.watcher = nil
	return w
}

// managerRegistrar applies merge registry updates while the manager lock is
// held and buffers their events until it is released.
type managerRegistrar struct {
	m      *Manager
	events []ModuleEvent
}

func (r *managerRegistrar) registerDefinition(def *ModuleDefinition) error {
	if err := r.m.registry.Register(def); err != nil {
		return err
	}
	r.events = append(r.events, newModuleEvent(EventRegistered, def))
	return nil
}

func (r *managerRegistrar) unregisterDefinition(id string, version uint32) error {
	def, err := r.m.registry.Unregister(id, version)
	if err != nil {
		return err
	}
	r.events = append(r.events, newModuleEvent(EventUnregistered, def))
	return nil
}
