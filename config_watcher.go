// config_watcher.go: hot reload of the manager configuration file
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/argus"
)

// ConfigWatcher reloads a configuration file with LoadManagerConfig each time
// it changes and hands the result to Manager.ApplyConfig. A file that fails
// to load or validate leaves the running configuration untouched.
//
// Usage example:
//
//	watcher := modhub.NewConfigWatcher(manager, "/etc/modhub/modhub.yaml", 0)
//	if err := watcher.Start(); err != nil {
//	    return err
//	}
//	defer watcher.Stop()
type ConfigWatcher struct {
	manager *Manager
	path    string
	watcher *argus.Watcher
	logger  Logger

	mu       sync.Mutex
	running  atomic.Bool
	stopOnce sync.Once
	reloads  atomic.Int64
	lastErr  atomic.Pointer[error]
}

// NewConfigWatcher watches path on behalf of manager. A zero pollInterval
// uses the manager's merge poll interval.
func NewConfigWatcher(manager *Manager, path string, pollInterval time.Duration) *ConfigWatcher {
	if pollInterval <= 0 {
		pollInterval = time.Duration(manager.Config().MergePollInterval)
	}
	logger := manager.logger.With("config_path", path)
	w := &ConfigWatcher{manager: manager, path: path, logger: logger}
	w.watcher = argus.New(argus.Config{
		PollInterval:         pollInterval,
		CacheTTL:             pollInterval / 2,
		MaxWatchedFiles:      1,
		OptimizationStrategy: argus.OptimizationSingleEvent,
		ErrorHandler: func(err error, path string) {
			logger.Error("Configuration watching error", "error", err, "file", path)
		},
	})
	return w
}

// Start begins polling the configuration file.
func (w *ConfigWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running.CompareAndSwap(false, true) {
		return NewInvalidConfigError("configuration watcher is already running")
	}
	if err := w.watcher.Watch(w.path, w.handleChange); err != nil {
		w.running.Store(false)
		return NewIOFailureError("watch configuration", w.path, err)
	}
	if err := w.watcher.Start(); err != nil {
		w.running.Store(false)
		return NewIOFailureError("start configuration watcher", w.path, err)
	}
	w.logger.Info("Configuration watcher started")
	return nil
}

// Stop ends polling. It is safe to call more than once.
func (w *ConfigWatcher) Stop() error {
	var stopErr error
	w.stopOnce.Do(func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if !w.running.CompareAndSwap(true, false) {
			return
		}
		if err := w.watcher.Stop(); err != nil {
			stopErr = NewIOFailureError("stop configuration watcher", w.path, err)
			return
		}
		w.logger.Info("Configuration watcher stopped")
	})
	return stopErr
}

// Reloads returns how many reloads were applied.
func (w *ConfigWatcher) Reloads() int64 {
	return w.reloads.Load()
}

// LastError returns the error of the most recent rejected reload, or nil
// when the last reload succeeded.
func (w *ConfigWatcher) LastError() error {
	if p := w.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (w *ConfigWatcher) handleChange(event argus.ChangeEvent) {
	if event.IsDelete {
		w.logger.Warn("Configuration file deleted, keeping current settings")
		return
	}
	changed, err := w.reload()
	if err != nil {
		w.lastErr.Store(&err)
		w.logger.Error("Configuration reload rejected", "error", err)
		w.audit("manager_config_rejected", map[string]interface{}{"error": err.Error()})
		return
	}
	w.lastErr.Store(nil)
	w.reloads.Add(1)
	w.audit("manager_config_reloaded", map[string]interface{}{"changed": changed})
}

func (w *ConfigWatcher) reload() ([]string, error) {
	cfg, err := LoadManagerConfig(w.path)
	if err != nil {
		return nil, err
	}
	return w.manager.ApplyConfig(cfg)
}

func (w *ConfigWatcher) audit(eventType string, fields map[string]interface{}) {
	if w.manager.audit == nil {
		return
	}
	fields["config_path"] = w.path
	w.manager.audit.LogSecurityEvent(eventType, "Manager configuration change", fields)
}
