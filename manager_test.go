// manager_test.go: Manager lifecycle, loading and notification tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"context"
	"errors"
	"testing"
	"time"

	goerrors "github.com/agilira/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupLayeredModules writes app -> (ui, net) -> core plus an unrelated tool.
func setupLayeredModules(t *testing.T, env *TestEnvironment, manager *Manager) {
	t.Helper()
	env.WriteModule("modules/core", manifest("core", 1))
	env.WriteModule("modules/ui", manifest("ui", 1, "core"))
	env.WriteModule("modules/net", manifest("net", 1, "core@1"))
	env.WriteModule("modules/app", manifest("app", 1, "ui", "net"))
	env.WriteModule("modules/tool", manifest("tool", 1))

	report, err := manager.ScanModules(context.Background(), env.Path("modules"), false)
	require.NoError(t, err)
	require.Empty(t, report.Failures)
	require.Len(t, report.Registered, 5)
}

func TestNewManager_Configuration(t *testing.T) {
	t.Run("DefaultsApplied", func(t *testing.T) {
		manager, err := NewManager(ManagerConfig{})
		require.NoError(t, err)
		defer manager.Close()

		cfg := manager.Config()
		assert.Equal(t, DefaultModuleExtension, cfg.ModuleExtension)
		assert.Equal(t, DefaultMergeDefinitionPath, cfg.MergeDefinitionPath)
		assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	})

	t.Run("InvalidExtension", func(t *testing.T) {
		cfg := DefaultManagerConfig()
		cfg.ModuleExtension = ".module"
		_, err := NewManager(cfg)
		assert.Equal(t, ErrCodeInvalidModuleExtension, ErrorCode(err))
	})

	t.Run("InvalidLogger", func(t *testing.T) {
		assert.Panics(t, func() {
			_, _ = NewManager(DefaultManagerConfig(), WithLogger("not a logger"))
		})
	})
}

func TestManager_ScanRegistersAndNotifies(t *testing.T) {
	env := NewTestEnvironment(t)
	listener := &recordingListener{}
	metrics := NewDefaultMetricsCollector()
	manager := env.NewManager(WithMetrics(metrics))
	manager.AddListener(listener)

	env.WriteModule("modules/core", manifest("core", 1))
	env.WriteFile("modules/broken/module.module", "{")
	report, err := manager.ScanModules(context.Background(), env.Path("modules"), false)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Discovered)
	assert.Equal(t, []ModuleKey{{ID: "core", Version: 1}}, report.Registered)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, []string{"registered core@1"}, listener.Events())

	// rescanning reports duplicates without touching the registry
	listener.Reset()
	report, err = manager.ScanModules(context.Background(), env.Path("modules"), false)
	require.NoError(t, err)
	assert.Empty(t, report.Registered)
	require.Len(t, report.Failures, 2)
	assert.Equal(t, ErrCodeDuplicateModule, ErrorCode(report.Failures[1].Err))
	assert.Empty(t, listener.Events())
	assert.Equal(t, 1, manager.Registry().Len())

	snapshot := metrics.GetMetrics()
	assert.Equal(t, int64(2), snapshot["module_scans_total"])
	assert.Equal(t, 1.0, snapshot["modules_registered"])
}

func TestManager_LoadUnloadExplicit(t *testing.T) {
	env := NewTestEnvironment(t)
	listener := &recordingListener{}
	activator := &mockActivator{}
	manager := env.NewManager(WithActivator(activator))
	setupLayeredModules(t, env, manager)
	manager.AddListener(listener)

	ctx := context.Background()
	require.NoError(t, manager.LoadModuleExplicit(ctx, "app"))
	assert.Equal(t, []string{"loaded core@1", "loaded ui@1", "loaded net@1", "loaded app@1"}, listener.Events())
	assert.Equal(t, 1, manager.FindModule("core", 1).LoadCount(), "one load request holds each module once")

	// a second explicit load of the same id is idempotent
	listener.Reset()
	require.NoError(t, manager.LoadModuleExplicit(ctx, "app"))
	assert.Empty(t, listener.Events())
	assert.Equal(t, 1, manager.FindModule("app", 1).LoadCount())

	require.NoError(t, manager.UnloadModuleExplicit(ctx, "app"))
	assert.Equal(t, []string{"unloaded app@1", "unloaded net@1", "unloaded ui@1", "unloaded core@1"}, listener.Events())
	assert.Empty(t, manager.FindModules(true))

	activated, deactivated := activator.Calls()
	assert.Equal(t, []string{"core@1", "ui@1", "net@1", "app@1"}, activated)
	assert.Equal(t, []string{"app@1", "net@1", "ui@1", "core@1"}, deactivated)
}

func TestManager_SharedDependenciesAreReferenceCounted(t *testing.T) {
	env := NewTestEnvironment(t)
	manager := env.NewManager()
	setupLayeredModules(t, env, manager)
	ctx := context.Background()

	require.NoError(t, manager.LoadModuleExplicit(ctx, "ui"))
	require.NoError(t, manager.LoadModuleExplicit(ctx, "net"))
	assert.Equal(t, 2, manager.FindModule("core", 1).LoadCount())

	require.NoError(t, manager.UnloadModuleExplicit(ctx, "ui"))
	assert.True(t, manager.FindModule("core", 1).Loaded(), "net still needs core")
	assert.False(t, manager.FindModule("ui", 1).Loaded())

	require.NoError(t, manager.UnloadModuleExplicit(ctx, "net"))
	assert.False(t, manager.FindModule("core", 1).Loaded())
}

func TestManager_UnloadExplicitErrors(t *testing.T) {
	env := NewTestEnvironment(t)
	manager := env.NewManager()
	setupLayeredModules(t, env, manager)
	ctx := context.Background()

	err := manager.UnloadModuleExplicit(ctx, "core")
	assert.Equal(t, ErrCodeModuleNotFound, ErrorCode(err))

	require.NoError(t, manager.LoadModuleExplicit(ctx, "ui"))
	err = manager.UnloadModuleExplicit(ctx, "core")
	assert.Equal(t, ErrCodeModuleInUse, ErrorCode(err), "core is held only as a dependency")
	assert.True(t, manager.FindModule("core", 1).Loaded())

	err = manager.UnregisterModule("core", 1)
	assert.Equal(t, ErrCodeModuleLoaded, ErrorCode(err))
}

func TestManager_UnresolvedDependencyLeavesNothingLoaded(t *testing.T) {
	env := NewTestEnvironment(t)
	listener := &recordingListener{}
	manager := env.NewManager()
	require.NoError(t, manager.RegisterModule(newDefinition(t, "A", 1, "B@1")))
	manager.AddListener(listener)

	err := manager.LoadModuleExplicitVersion(context.Background(), "A", 1)
	require.Error(t, err)
	assert.Equal(t, ErrCodeUnresolvedDependency, ErrorCode(err))
	assert.Contains(t, err.Error(), "B@1")
	assert.False(t, manager.FindModule("A", 1).Loaded())
	assert.Empty(t, listener.Events())
}

func TestManager_CycleLeavesAllMembersUnloaded(t *testing.T) {
	members := []string{"a", "b", "c", "d"}
	for _, target := range members {
		t.Run(target, func(t *testing.T) {
			env := NewTestEnvironment(t)
			listener := &recordingListener{}
			manager := env.NewManager()
			for i, id := range members {
				next := members[(i+1)%len(members)]
				require.NoError(t, manager.RegisterModule(newDefinition(t, id, 1, next)))
			}
			require.NoError(t, manager.DefineGroup("ring", AnyVersion(target)))
			manager.AddListener(listener)

			err := manager.LoadModuleExplicit(context.Background(), target)
			require.Error(t, err)
			assert.Equal(t, ErrCodeCyclicDependency, ErrorCode(err))

			var modErr *goerrors.Error
			require.True(t, errors.As(err, &modErr))
			edge, ok := modErr.Context["edge"].(string)
			require.True(t, ok)
			assert.Contains(t, edge, " -> ")

			err = manager.LoadModuleGroup(context.Background(), "ring")
			assert.Equal(t, ErrCodeCyclicDependency, ErrorCode(err))

			assert.Empty(t, manager.FindModules(true))
			for _, id := range members {
				assert.False(t, manager.FindModule(id, 1).Loaded(), id)
			}
			assert.Empty(t, listener.Events())
		})
	}
}

func TestManager_NotifiesBeforeReturning(t *testing.T) {
	env := NewTestEnvironment(t)
	cfg := DefaultManagerConfig()
	cfg.MergeDefinitionPath = env.Path("module.merge")
	cfg.SlowListenerThreshold = 0
	manager, err := NewManager(cfg)
	require.NoError(t, err)
	defer manager.Close()
	assert.Equal(t, Duration(0), manager.Config().SlowListenerThreshold)

	require.NoError(t, manager.RegisterModule(newDefinition(t, "core", 1)))

	var finished bool
	manager.AddListener(ListenerFunc(func(e ModuleEvent) error {
		if e.Type == EventLoaded {
			time.Sleep(50 * time.Millisecond)
			finished = true
		}
		return nil
	}))

	require.NoError(t, manager.LoadModuleExplicit(context.Background(), "core"))
	assert.True(t, finished, "listeners run to completion before the load returns")
}

func TestManager_VersionedLoads(t *testing.T) {
	env := NewTestEnvironment(t)
	manager := env.NewManager()
	require.NoError(t, manager.RegisterModule(newDefinition(t, "core", 1)))
	require.NoError(t, manager.RegisterModule(newDefinition(t, "core", 2)))
	ctx := context.Background()

	require.NoError(t, manager.LoadModuleExplicitVersion(ctx, "core", 1))
	assert.Equal(t, "core@1", loadedKeys(manager))

	err := manager.LoadModuleExplicitVersion(ctx, "core", 2)
	assert.Equal(t, ErrCodeVersionMismatch, ErrorCode(err))

	require.NoError(t, manager.LoadModuleExplicit(ctx, "core"), "an any-version load of a held id succeeds")
	require.NoError(t, manager.UnloadModuleExplicit(ctx, "core"))

	require.NoError(t, manager.LoadModuleExplicit(ctx, "core"))
	assert.Equal(t, "core@2", loadedKeys(manager), "the highest version is chosen when none is loaded")
}

func TestManager_ActivationFailureRollsBack(t *testing.T) {
	env := NewTestEnvironment(t)
	listener := &recordingListener{}
	activator := &mockActivator{failOn: map[string]error{"app": errors.New("init failed")}}
	manager := env.NewManager(WithActivator(activator))
	setupLayeredModules(t, env, manager)
	manager.AddListener(listener)
	ctx := context.Background()

	require.NoError(t, manager.LoadModuleExplicit(ctx, "tool"))
	listener.Reset()

	err := manager.LoadModuleExplicit(ctx, "app")
	require.Error(t, err)
	assert.Equal(t, ErrCodeActivationFailed, ErrorCode(err))

	assert.Equal(t, "tool@1", loadedKeys(manager), "only the unrelated explicit load remains")
	assert.Empty(t, listener.Events(), "a rolled back load emits no events")

	_, deactivated := activator.Calls()
	assert.Equal(t, []string{"net@1", "ui@1", "core@1"}, deactivated)

	// the failed id is not recorded as explicitly loaded
	assert.Equal(t, ErrCodeModuleNotFound, ErrorCode(manager.UnloadModuleExplicit(ctx, "app")))
}

func TestManager_ActivationPanicIsContained(t *testing.T) {
	env := NewTestEnvironment(t)
	manager := env.NewManager(WithActivator(&mockActivator{panicOn: "core"}))
	setupLayeredModules(t, env, manager)

	err := manager.LoadModuleExplicit(context.Background(), "ui")
	assert.Equal(t, ErrCodeActivationFailed, ErrorCode(err))
	assert.Empty(t, manager.FindModules(true))
}

func TestManager_Groups(t *testing.T) {
	env := NewTestEnvironment(t)
	listener := &recordingListener{}
	manager := env.NewManager()
	setupLayeredModules(t, env, manager)
	manager.AddListener(listener)
	ctx := context.Background()

	require.NoError(t, manager.DefineGroup("frontend", AnyVersion("ui"), AnyVersion("tool")))
	require.NoError(t, manager.DefineGroup("backend", AnyVersion("net")))

	before := loadedKeys(manager)
	require.NoError(t, manager.LoadModuleGroup(ctx, "frontend"))
	assert.Equal(t, []string{"loaded core@1", "loaded ui@1", "loaded tool@1"}, listener.Events())
	assert.True(t, manager.Groups().IsLoaded("frontend"))

	// loading twice is a no-op
	require.NoError(t, manager.LoadModuleGroup(ctx, "frontend"))
	assert.Equal(t, 1, manager.FindModule("ui", 1).LoadCount())

	require.NoError(t, manager.LoadModuleGroup(ctx, "backend"))
	assert.Equal(t, 2, manager.FindModule("core", 1).LoadCount())

	listener.Reset()
	require.NoError(t, manager.UnloadModuleGroup(ctx, "frontend"))
	assert.Equal(t, []string{"unloaded tool@1", "unloaded ui@1"}, listener.Events(), "core stays for backend")

	require.NoError(t, manager.UnloadModuleGroup(ctx, "backend"))
	assert.Equal(t, before, loadedKeys(manager), "load then unload restores the loaded set")

	require.NoError(t, manager.UnloadModuleGroup(ctx, "backend"), "unloading an unloaded group is a no-op")
	assert.Equal(t, ErrCodeGroupNotFound, ErrorCode(manager.LoadModuleGroup(ctx, "nope")))
	assert.Equal(t, ErrCodeGroupNotFound, ErrorCode(manager.UnloadModuleGroup(ctx, "nope")))
}

func TestManager_GroupFailureIsAtomic(t *testing.T) {
	env := NewTestEnvironment(t)
	manager := env.NewManager()
	setupLayeredModules(t, env, manager)
	ctx := context.Background()

	require.NoError(t, manager.DefineGroup("partial", AnyVersion("ui"), AnyVersion("missing")))
	err := manager.LoadModuleGroup(ctx, "partial")
	assert.Equal(t, ErrCodeUnresolvedDependency, ErrorCode(err))
	assert.Empty(t, manager.FindModules(true))
	assert.False(t, manager.Groups().IsLoaded("partial"))

	require.NoError(t, manager.DefineGroup("empty"))
	require.NoError(t, manager.LoadModuleGroup(ctx, "empty"))
	assert.True(t, manager.Groups().IsLoaded("empty"))
	require.NoError(t, manager.UnloadModuleGroup(ctx, "empty"))
}

func TestManager_ListenerMayCallBack(t *testing.T) {
	env := NewTestEnvironment(t)
	manager := env.NewManager()
	setupLayeredModules(t, env, manager)

	var seen []string
	manager.AddListener(ListenerFunc(func(e ModuleEvent) error {
		if e.Type == EventLoaded {
			seen = append(seen, keysOf(manager.FindModules(true))...)
		}
		return nil
	}))

	require.NoError(t, manager.LoadModuleExplicit(context.Background(), "tool"))
	assert.Equal(t, []string{"tool@1"}, seen)
}

func TestManager_FindAndResolve(t *testing.T) {
	env := NewTestEnvironment(t)
	manager := env.NewManager()
	setupLayeredModules(t, env, manager)

	assert.Len(t, manager.FindModules(false), 5)
	assert.Len(t, manager.FindModuleTypes("library", false), 5)
	assert.Empty(t, manager.FindModuleTypes("library", true))
	assert.Nil(t, manager.FindModule("app", 2))

	res, err := manager.ResolveLoadOrder(AnyVersion("app"))
	require.NoError(t, err)
	assert.Equal(t, []string{"core@1", "ui@1", "net@1", "app@1"}, keysOf(res.Order))
	assert.Empty(t, manager.FindModules(true), "resolving loads nothing")
}

func TestManager_SetModuleExtension(t *testing.T) {
	env := NewTestEnvironment(t)
	manager := env.NewManager()
	env.WriteModuleAs("modules/plugin", "plugin.pkg", manifest("plugin", 1), ManifestJSON)

	assert.Equal(t, ErrCodeInvalidModuleExtension, ErrorCode(manager.SetModuleExtension(".pkg")))
	require.NoError(t, manager.SetModuleExtension("pkg"))
	assert.Equal(t, "pkg", manager.Config().ModuleExtension)

	report, err := manager.ScanModules(context.Background(), env.Path("modules"), false)
	require.NoError(t, err)
	assert.Len(t, report.Registered, 1)
}

func TestManager_Close(t *testing.T) {
	env := NewTestEnvironment(t)
	listener := &recordingListener{}
	activator := &mockActivator{}
	manager := env.NewManager(WithActivator(activator))
	setupLayeredModules(t, env, manager)
	manager.AddListener(listener)
	ctx := context.Background()

	require.NoError(t, manager.DefineGroup("frontend", AnyVersion("ui")))
	require.NoError(t, manager.LoadModuleGroup(ctx, "frontend"))
	require.NoError(t, manager.LoadModuleExplicit(ctx, "tool"))
	listener.Reset()

	require.NoError(t, manager.Close())
	assert.ElementsMatch(t, []string{"unloaded ui@1", "unloaded core@1", "unloaded tool@1"}, listener.Events())
	assert.Empty(t, manager.FindModules(true))
	require.NoError(t, manager.Close(), "close is idempotent")

	err := manager.LoadModuleExplicit(ctx, "tool")
	assert.Equal(t, ErrCodeManagerClosed, ErrorCode(err))
	_, err = manager.ScanModules(ctx, env.Path("modules"), false)
	assert.Equal(t, ErrCodeManagerClosed, ErrorCode(err))
	_, err = manager.CanMergeModules(ctx, env.Path("staged"))
	assert.Equal(t, ErrCodeManagerClosed, ErrorCode(err))
}

func TestManager_CanceledContext(t *testing.T) {
	env := NewTestEnvironment(t)
	manager := env.NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := manager.ScanModules(ctx, env.Path(), false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, manager.LoadModuleExplicit(ctx, "any"), context.Canceled)
}
