// manager.go: Manager facade over registry, resolver, groups, copy and merge
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/argus"
)

// ModuleActivator is invoked when a module becomes loaded or unloaded.
//
// Activate runs on every 0→1 load transition. An error aborts the load
// request and rolls back every transition it made. Deactivate runs on every
// 1→0 transition; its errors are logged and the unload continues.
type ModuleActivator interface {
	Activate(ctx context.Context, def *ModuleDefinition) error
	Deactivate(ctx context.Context, def *ModuleDefinition) error
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger. Accepts anything NewLogger accepts.
func WithLogger(logger any) ManagerOption {
	return func(m *Manager) { m.logger = NewLogger(logger) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics MetricsCollector) ManagerOption {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithTracing sets the tracing provider.
func WithTracing(tracing TracingProvider) ManagerOption {
	return func(m *Manager) {
		if tracing != nil {
			m.tracing = tracing
		}
	}
}

// WithActivator sets the hook run on load and unload transitions.
func WithActivator(activator ModuleActivator) ManagerOption {
	return func(m *Manager) { m.activator = activator }
}

// Manager is the host-facing entry point of the module system.
//
// Mutating operations (scan, register, load, unload, merge) are serialized.
// Queries run concurrently with each other. Listener notifications are
// delivered after the mutation that produced them has committed and the
// manager lock has been released, so listeners may call back into the
// manager.
//
// Example usage:
//
//	manager, err := modhub.NewManager(modhub.DefaultManagerConfig(),
//	    modhub.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer manager.Close()
//
//	if _, err := manager.ScanModules(ctx, "./modules", false); err != nil {
//	    return err
//	}
//	if err := manager.LoadModuleGroup(ctx, "core"); err != nil {
//	    return err
//	}
type Manager struct {
	mu sync.RWMutex

	config    ManagerConfig
	logger    Logger
	metrics   MetricsCollector
	tracing   TracingProvider
	activator ModuleActivator
	audit     *argus.AuditLogger

	registry *ModuleRegistry
	scanner  *ModuleScanner
	resolver *DependencyResolver
	groups   *GroupManager
	hub      *NotificationHub
	copier   *CopySynchronizer
	merger   *MergeEngine
	watcher  *MergeWatcher

	explicit map[string]explicitHold
	closed   atomic.Bool
}

// explicitHold records the references taken by one explicit load.
type explicitHold struct {
	root ModuleKey
	keys []ModuleKey
}

// NewManager validates cfg, applies defaults and builds a manager.
func NewManager(cfg ManagerConfig, opts ...ManagerOption) (*Manager, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		config:   cfg,
		logger:   DefaultLogger(),
		metrics:  NewDefaultMetricsCollector(),
		tracing:  NoOpTracingProvider{},
		explicit: make(map[string]explicitHold),
	}
	for _, opt := range opts {
		opt(m)
	}

	if cfg.AuditFile != "" {
		audit, err := argus.NewAuditLogger(argus.AuditConfig{
			Enabled:       true,
			OutputFile:    cfg.AuditFile,
			MinLevel:      argus.AuditInfo,
			BufferSize:    1000,
			FlushInterval: 5 * time.Second,
		})
		if err != nil {
			return nil, NewInvalidConfigError("failed to create audit logger").
				WithContext("audit_file", cfg.AuditFile).
				WithContext("cause", err.Error())
		}
		m.audit = audit
	}

	m.registry = NewModuleRegistry(m.logger)
	m.scanner = NewModuleScanner(cfg.ModuleExtension, cfg.MaxScanDepth, m.logger)
	m.resolver = NewDependencyResolver(m.registry, m.logger)
	m.groups = NewGroupManager(m.registry)
	m.hub = NewNotificationHub(m.logger, m.metrics)
	m.hub.SetSlowThreshold(time.Duration(cfg.SlowListenerThreshold))
	m.copier = NewCopySynchronizer(m.resolver, m.logger, m.metrics, cfg.SyncPrune)
	m.merger = NewMergeEngine(cfg.MergeDefinitionPath, m.scanner, m.registry, m.logger, m.metrics, m.audit)

	m.logger.Debug("Module manager created",
		"module_extension", cfg.ModuleExtension,
		"merge_definition_path", cfg.MergeDefinitionPath)
	return m, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() ManagerConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Registry exposes the module registry for read-only queries.
func (m *Manager) Registry() *ModuleRegistry { return m.registry }

// Groups exposes the group manager.
func (m *Manager) Groups() *GroupManager { return m.groups }

// SetModuleExtension changes the manifest extension used by later scans.
// The extension is given without a leading period.
func (m *Manager) SetModuleExtension(ext string) error {
	if err := ValidateModuleExtension(ext); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.ModuleExtension = ext
	m.scanner = NewModuleScanner(ext, m.config.MaxScanDepth, m.logger)
	m.merger.setScanner(m.scanner)
	return nil
}

// ScanModules discovers manifests below root and registers every new
// definition. Unparsable manifests and duplicates are reported as failures;
// the scan itself fails only when root cannot be read.
func (m *Manager) ScanModules(ctx context.Context, root string, rootOnly bool) (report *ScanReport, err error) {
	if err := m.checkOpen(ctx); err != nil {
		return nil, err
	}
	ctx, span := m.tracing.StartSpan(ctx, "scan_modules")
	span.SetAttribute("root", root)
	defer func() { finishSpan(span, err) }()

	var events []ModuleEvent
	defer func() { m.notify(events) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	defs, failures, err := m.scanner.Discover(ctx, root, rootOnly)
	if err != nil {
		return nil, err
	}

	report = &ScanReport{Root: root, Discovered: len(defs), Failures: failures}
	for _, def := range defs {
		if err := m.registry.Register(def); err != nil {
			report.Failures = append(report.Failures, ScanFailure{Path: def.ManifestPath(), Err: err})
			continue
		}
		report.Registered = append(report.Registered, def.Key())
		events = append(events, newModuleEvent(EventRegistered, def))
	}

	span.SetAttribute("registered", len(report.Registered))
	m.metrics.IncrementCounter("module_scans_total", nil, 1)
	m.updateGauges()
	m.logger.Info("Module scan completed",
		"root", root,
		"discovered", report.Discovered,
		"registered", len(report.Registered),
		"failures", len(report.Failures))
	return report, nil
}

// RegisterModule adds a definition built in memory.
func (m *Manager) RegisterModule(def *ModuleDefinition) error {
	if err := m.checkOpen(context.Background()); err != nil {
		return err
	}
	var events []ModuleEvent
	defer func() { m.notify(events) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.registry.Register(def); err != nil {
		return err
	}
	events = append(events, newModuleEvent(EventRegistered, def))
	m.updateGauges()
	return nil
}

// UnregisterModule removes one version of a module. Loaded modules cannot be
// unregistered.
func (m *Manager) UnregisterModule(id string, version uint32) error {
	if err := m.checkOpen(context.Background()); err != nil {
		return err
	}
	var events []ModuleEvent
	defer func() { m.notify(events) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	def, err := m.registry.Unregister(id, version)
	if err != nil {
		return err
	}
	events = append(events, newModuleEvent(EventUnregistered, def))
	m.updateGauges()
	return nil
}

// DefineGroup sets the explicit members of a group.
func (m *Manager) DefineGroup(name string, members ...ModuleRef) error {
	return m.groups.DefineGroup(name, members...)
}

// FindModule returns the definition id@version or nil.
func (m *Manager) FindModule(id string, version uint32) *ModuleDefinition {
	return m.registry.Find(id, version)
}

// FindModules returns all definitions, or only loaded ones, in registration
// order.
func (m *Manager) FindModules(loadedOnly bool) []*ModuleDefinition {
	return m.registry.FindAll(loadedOnly)
}

// FindModuleTypes returns the definitions of the given type.
func (m *Manager) FindModuleTypes(moduleType string, loadedOnly bool) []*ModuleDefinition {
	return m.registry.FindByType(moduleType, loadedOnly)
}

// ResolveLoadOrder resolves refs without loading anything.
func (m *Manager) ResolveLoadOrder(refs ...ModuleRef) (*Resolution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resolver.Resolve(refs...)
}

// AddListener subscribes l to module events.
func (m *Manager) AddListener(l Listener) { m.hub.AddListener(l) }

// RemoveListener unsubscribes l.
func (m *Manager) RemoveListener(l Listener) { m.hub.RemoveListener(l) }

// Close stops the merge watcher, releases every load held by the manager
// and flushes the audit log. It is safe to call more than once.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.logger.Info("Shutting down module manager")

	var firstErr error
	if w := m.stopWatcher(); w != nil {
		if err := w.Stop(); err != nil {
			m.logger.Warn("Failed to stop merge watcher", "error", err)
			firstErr = err
		}
	}

	events := m.releaseAll(context.Background())
	m.notify(events)

	if m.audit != nil {
		if err := m.audit.Close(); err != nil {
			m.logger.Warn("Failed to close audit logger", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	m.logger.Info("Module manager shutdown complete")
	return firstErr
}

func (m *Manager) checkOpen(ctx context.Context) error {
	if m.closed.Load() {
		return NewManagerClosedError()
	}
	return ctx.Err()
}

func (m *Manager) notify(events []ModuleEvent) {
	if len(events) == 0 {
		return
	}
	m.hub.Notify(events...)
}

// updateGauges must be called with m.mu held.
func (m *Manager) updateGauges() {
	m.metrics.SetGauge("modules_registered", nil, float64(m.registry.Len()))
	m.metrics.SetGauge("modules_loaded", nil, float64(len(m.registry.FindAll(true))))
}
