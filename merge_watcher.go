// merge_watcher.go: argus watcher on the merge-intent marker
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

// DefaultMergePollInterval is how often the marker is polled when no
// interval is configured.
const DefaultMergePollInterval = time.Second

// MergeWatcher keeps the merge engine state in step with the presence of
// the merge-intent marker and reports transitions to an optional callback.
type MergeWatcher struct {
	engine   *MergeEngine
	watcher  *argus.Watcher
	logger   Logger
	onChange func(available bool)

	mu       sync.Mutex
	running  atomic.Bool
	stopOnce sync.Once
}

// NewMergeWatcher creates a watcher for engine's marker. onChange may be
// nil and is invoked on its own goroutine.
func NewMergeWatcher(engine *MergeEngine, pollInterval time.Duration, logger Logger, onChange func(available bool)) *MergeWatcher {
	if logger == nil {
		logger = DefaultLogger()
	}
	if pollInterval <= 0 {
		pollInterval = DefaultMergePollInterval
	}
	w := &MergeWatcher{engine: engine, logger: logger, onChange: onChange}
	w.watcher = argus.New(argus.Config{
		PollInterval:         pollInterval,
		CacheTTL:             pollInterval / 2,
		MaxWatchedFiles:      1,
		OptimizationStrategy: argus.OptimizationSingleEvent,
		ErrorHandler: func(err error, path string) {
			logger.Error("Merge definition watching error", "error", err, "file", path)
		},
	})
	return w
}

// Start syncs the engine with the current marker and begins polling.
func (w *MergeWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running.CompareAndSwap(false, true) {
		return NewInvalidConfigError("merge watcher is already running")
	}

	w.engine.markerChanged(w.engine.IsAvailable())

	path := w.engine.MarkerPath()
	if err := w.watcher.Watch(path, w.handleChange); err != nil {
		w.running.Store(false)
		return NewIOFailureError("watch merge definition", path, err)
	}
	if err := w.watcher.Start(); err != nil {
		w.running.Store(false)
		return NewIOFailureError("start merge watcher", path, err)
	}
	w.logger.Info("Merge definition watcher started", "path", path)
	return nil
}

// Stop ends polling. It is safe to call more than once.
func (w *MergeWatcher) Stop() error {
	var stopErr error
	w.stopOnce.Do(func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if !w.running.CompareAndSwap(true, false) {
			return
		}
		if err := w.watcher.Stop(); err != nil {
			stopErr = NewIOFailureError("stop merge watcher", w.engine.MarkerPath(), err)
			return
		}
		w.logger.Info("Merge definition watcher stopped")
	})
	return stopErr
}

func (w *MergeWatcher) handleChange(event argus.ChangeEvent) {
	present := !event.IsDelete && w.engine.IsAvailable()
	w.engine.markerChanged(present)
	w.logger.Debug("Merge definition changed",
		"path", event.Path,
		"available", present)

	if w.onChange != nil {
		callback := w.onChange
		SafeGo(w.logger, func() { callback(present) })
	}
}
