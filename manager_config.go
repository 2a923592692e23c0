// manager_config.go: runtime configuration updates for Manager
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"time"
)

// ApplyConfig updates the settings of a running manager that can change
// without a restart: module_extension, max_scan_depth, sync_prune and
// slow_listener_threshold. Defaults are applied and cfg is validated first; an
// invalid cfg changes nothing. The names of the settings that changed are
// returned. Changes to the remaining settings are logged and ignored until
// the manager is recreated.
func (m *Manager) ApplyConfig(cfg ManagerConfig) ([]string, error) {
	if m.closed.Load() {
		return nil, NewManagerClosedError()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.config
	var changed []string

	if cfg.ModuleExtension != old.ModuleExtension || cfg.MaxScanDepth != old.MaxScanDepth {
		m.scanner = NewModuleScanner(cfg.ModuleExtension, cfg.MaxScanDepth, m.logger)
		m.merger.setScanner(m.scanner)
		if cfg.ModuleExtension != old.ModuleExtension {
			changed = append(changed, "module_extension")
		}
		if cfg.MaxScanDepth != old.MaxScanDepth {
			changed = append(changed, "max_scan_depth")
		}
	}
	if cfg.SyncPrune != old.SyncPrune {
		m.copier.setPrune(cfg.SyncPrune)
		changed = append(changed, "sync_prune")
	}
	if cfg.SlowListenerThreshold != old.SlowListenerThreshold {
		m.hub.SetSlowThreshold(time.Duration(cfg.SlowListenerThreshold))
		changed = append(changed, "slow_listener_threshold")
	}

	fixed := map[string]bool{
		"merge_definition_path": cfg.MergeDefinitionPath != old.MergeDefinitionPath,
		"merge_poll_interval":   cfg.MergePollInterval != old.MergePollInterval,
		"audit_file":            cfg.AuditFile != old.AuditFile,
		"log_level":             cfg.LogLevel != old.LogLevel,
		"metrics_namespace":     cfg.MetricsNamespace != old.MetricsNamespace,
	}
	for name, differs := range fixed {
		if differs {
			m.logger.Warn("Configuration change requires a restart", "setting", name)
		}
	}

	m.config.ModuleExtension = cfg.ModuleExtension
	m.config.MaxScanDepth = cfg.MaxScanDepth
	m.config.SyncPrune = cfg.SyncPrune
	m.config.SlowListenerThreshold = cfg.SlowListenerThreshold

	if len(changed) > 0 {
		m.logger.Info("Manager configuration applied", "changed", changed)
	}
	return changed, nil
}
