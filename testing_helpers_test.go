// testing_helpers_test.go: module tree fixtures and test doubles
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestEnvironment builds module trees below a per-test temporary directory.
type TestEnvironment struct {
	t    *testing.T
	root string
}

// NewTestEnvironment creates a new test environment rooted at t.TempDir().
func NewTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()
	return &TestEnvironment{t: t, root: t.TempDir()}
}

// Path joins elem below the environment root.
func (te *TestEnvironment) Path(elem ...string) string {
	return filepath.Join(append([]string{te.root}, elem...)...)
}

// WriteModule writes a YAML manifest named module.module into rel and
// returns the module directory.
func (te *TestEnvironment) WriteModule(rel string, m ModuleManifest) string {
	te.t.Helper()
	return te.WriteModuleAs(rel, "module."+DefaultModuleExtension, m, ManifestYAML)
}

// WriteModuleAs writes a manifest with an explicit file name and format.
func (te *TestEnvironment) WriteModuleAs(rel, name string, m ModuleManifest, format ManifestFormat) string {
	te.t.Helper()
	dir := te.Path(rel)
	require.NoError(te.t, os.MkdirAll(dir, 0o755))
	data, err := EncodeManifest(&m, format)
	require.NoError(te.t, err)
	require.NoError(te.t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	return dir
}

// WriteFile writes content to rel, creating parent directories.
func (te *TestEnvironment) WriteFile(rel, content string) string {
	te.t.Helper()
	path := te.Path(rel)
	require.NoError(te.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(te.t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// ReadFile returns the content of rel.
func (te *TestEnvironment) ReadFile(rel string) string {
	te.t.Helper()
	data, err := os.ReadFile(te.Path(rel))
	require.NoError(te.t, err)
	return string(data)
}

// NewManager creates a manager whose merge marker lives inside the
// environment and registers Close as cleanup.
func (te *TestEnvironment) NewManager(opts ...ManagerOption) *Manager {
	te.t.Helper()
	cfg := DefaultManagerConfig()
	cfg.MergeDefinitionPath = te.Path("module.merge")
	manager, err := NewManager(cfg, opts...)
	require.NoError(te.t, err)
	te.t.Cleanup(func() { _ = manager.Close() })
	return manager
}

// manifest is shorthand for a manifest with string dependencies.
func manifest(id string, version uint32, deps ...string) ModuleManifest {
	return ModuleManifest{ID: id, Version: version, Type: "library", Dependencies: deps}
}

// newDefinition builds an in-memory definition with no files behind it.
func newDefinition(t *testing.T, id string, version uint32, deps ...string) *ModuleDefinition {
	t.Helper()
	refs := make([]ModuleRef, 0, len(deps))
	for _, d := range deps {
		ref, err := ParseModuleRef(d)
		require.NoError(t, err)
		refs = append(refs, ref)
	}
	def, err := NewModuleDefinition(ModuleSpec{
		ID:           id,
		Version:      version,
		Type:         "library",
		Dependencies: refs,
		Path:         "/modules/" + id,
		ManifestPath: "/modules/" + id + "/module.module",
	})
	require.NoError(t, err)
	return def
}

// keysOf returns the keys of defs in order.
func keysOf(defs []*ModuleDefinition) []string {
	out := make([]string, len(defs))
	for i, def := range defs {
		out[i] = def.String()
	}
	return out
}

// recordingListener collects events as "<type> id@version".
type recordingListener struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (l *recordingListener) HandleModuleEvent(event ModuleEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event.Type.String()+" "+event.Module.String())
	return l.err
}

func (l *recordingListener) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	copy(out, l.events)
	return out
}

func (l *recordingListener) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

// mockActivator records activation calls and fails for the ids in failOn.
type mockActivator struct {
	mu          sync.Mutex
	failOn      map[string]error
	panicOn     string
	activated   []string
	deactivated []string
}

func (a *mockActivator) Activate(ctx context.Context, def *ModuleDefinition) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if def.ID() == a.panicOn {
		panic("activation exploded")
	}
	if err := a.failOn[def.ID()]; err != nil {
		return err
	}
	a.activated = append(a.activated, def.String())
	return nil
}

func (a *mockActivator) Deactivate(ctx context.Context, def *ModuleDefinition) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deactivated = append(a.deactivated, def.String())
	return nil
}

func (a *mockActivator) Calls() (activated, deactivated []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.activated...), append([]string(nil), a.deactivated...)
}

// loadedKeys lists the loaded definitions of manager, sorted by registration.
func loadedKeys(manager *Manager) string {
	return strings.Join(keysOf(manager.FindModules(true)), ",")
}
