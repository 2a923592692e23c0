// notification_hub.go: synchronous delivery of module lifecycle events to listeners
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"sync"
	"time"

	"github.com/agilira/go-timecache"
)

// EventType identifies a module lifecycle transition.
type EventType int

const (
	EventRegistered EventType = iota
	EventUnregistered
	EventLoaded
	EventUnloaded
)

// String returns the lowercase event name.
func (t EventType) String() string {
	switch t {
	case EventRegistered:
		return "registered"
	case EventUnregistered:
		return "unregistered"
	case EventLoaded:
		return "loaded"
	case EventUnloaded:
		return "unloaded"
	default:
		return "unknown"
	}
}

// ModuleEvent is delivered to listeners after a transition has committed.
type ModuleEvent struct {
	Type      EventType
	Module    *ModuleDefinition
	Timestamp time.Time
}

func newModuleEvent(eventType EventType, def *ModuleDefinition) ModuleEvent {
	return ModuleEvent{Type: eventType, Module: def, Timestamp: timecache.CachedTime()}
}

// Listener receives module lifecycle events. Implementations must be
// comparable (pointer receivers are) so they can be removed again.
type Listener interface {
	HandleModuleEvent(event ModuleEvent) error
}

// ListenerFunc adapts a function to Listener. Each call returns a distinct
// handle.
func ListenerFunc(fn func(ModuleEvent) error) Listener {
	return &funcListener{fn: fn}
}

type funcListener struct {
	fn func(ModuleEvent) error
}

func (f *funcListener) HandleModuleEvent(event ModuleEvent) error {
	return f.fn(event)
}

// NotificationHub delivers events to listeners synchronously on the calling
// goroutine, in the order the listeners were added. Notify returns only after
// every listener call has returned. A failing or panicking listener does not
// stop delivery to the others; its error is logged and returned to the caller.
type NotificationHub struct {
	mu            sync.RWMutex
	listeners     []Listener
	slowThreshold time.Duration
	logger        Logger
	metrics       MetricsCollector
}

// NewNotificationHub creates an empty hub.
func NewNotificationHub(logger Logger, metrics MetricsCollector) *NotificationHub {
	if logger == nil {
		logger = DefaultLogger()
	}
	if metrics == nil {
		metrics = NewDefaultMetricsCollector()
	}
	return &NotificationHub{logger: logger, metrics: metrics}
}

// AddListener registers l. Adding a listener twice is a no-op.
func (h *NotificationHub) AddListener(l Listener) {
	if l == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, existing := range h.listeners {
		if existing == l {
			return
		}
	}
	h.listeners = append(h.listeners, l)
}

// RemoveListener unregisters l. Removing an absent listener is a no-op.
func (h *NotificationHub) RemoveListener(l Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, existing := range h.listeners {
		if existing == l {
			h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
			return
		}
	}
}

// SetSlowThreshold sets the duration after which a listener call is logged
// as slow and counted in listener_slow_total. Delivery still waits for the
// call. Zero disables the check.
func (h *NotificationHub) SetSlowThreshold(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.slowThreshold = d
}

// Len returns the number of registered listeners.
func (h *NotificationHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Notify delivers each event to every listener and returns the listener
// failures wrapped as ErrCodeListenerFailed.
func (h *NotificationHub) Notify(events ...ModuleEvent) []error {
	if len(events) == 0 {
		return nil
	}

	// deliver to a snapshot so listeners may add or remove listeners
	h.mu.RLock()
	listeners := make([]Listener, len(h.listeners))
	copy(listeners, h.listeners)
	threshold := h.slowThreshold
	h.mu.RUnlock()

	var failures []error
	for _, event := range events {
		h.metrics.IncrementCounter("module_events_total", map[string]string{"type": event.Type.String()}, 1)
		for _, l := range listeners {
			err := h.deliver(l, event, threshold)
			if err == nil {
				continue
			}
			wrapped := NewListenerFailedError(event, err)
			failures = append(failures, wrapped)
			h.metrics.IncrementCounter("listener_errors_total", map[string]string{"type": event.Type.String()}, 1)
			h.logger.Warn("Module listener failed",
				"event", event.Type.String(),
				"module", event.Module.String(),
				"error", err)
		}
	}
	return failures
}

func (h *NotificationHub) deliver(l Listener, event ModuleEvent, threshold time.Duration) error {
	if threshold <= 0 {
		return callRecovering(func() error { return l.HandleModuleEvent(event) })
	}
	start := time.Now()
	err := callRecovering(func() error { return l.HandleModuleEvent(event) })
	if elapsed := time.Since(start); elapsed > threshold {
		h.metrics.IncrementCounter("listener_slow_total", map[string]string{"type": event.Type.String()}, 1)
		h.logger.Warn("Slow module listener",
			"event", event.Type.String(),
			"module", event.Module.String(),
			"elapsed", elapsed,
			"threshold", threshold)
	}
	return err
}
