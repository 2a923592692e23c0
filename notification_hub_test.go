// notification_hub_test.go: listener delivery, isolation and slow listener tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationHub_DeliveryOrder(t *testing.T) {
	hub := NewNotificationHub(nil, nil)
	def := newDefinition(t, "core", 1)

	var order []string
	first := ListenerFunc(func(e ModuleEvent) error {
		order = append(order, "first "+e.Type.String())
		return nil
	})
	second := ListenerFunc(func(e ModuleEvent) error {
		order = append(order, "second "+e.Type.String())
		return nil
	})
	hub.AddListener(first)
	hub.AddListener(second)
	hub.AddListener(first)
	hub.AddListener(nil)
	assert.Equal(t, 2, hub.Len())

	errs := hub.Notify(newModuleEvent(EventRegistered, def), newModuleEvent(EventLoaded, def))
	assert.Empty(t, errs)
	assert.Equal(t, []string{
		"first registered", "second registered",
		"first loaded", "second loaded",
	}, order)

	hub.RemoveListener(first)
	hub.RemoveListener(first)
	assert.Equal(t, 1, hub.Len())

	assert.Nil(t, hub.Notify())
}

func TestNotificationHub_FailingListenersAreIsolated(t *testing.T) {
	logger := NewTestLogger()
	metrics := NewDefaultMetricsCollector()
	hub := NewNotificationHub(logger, metrics)
	def := newDefinition(t, "core", 1)

	failing := ListenerFunc(func(ModuleEvent) error { return errors.New("listener broke") })
	panicking := ListenerFunc(func(ModuleEvent) error { panic("listener exploded") })
	healthy := &recordingListener{}
	hub.AddListener(failing)
	hub.AddListener(panicking)
	hub.AddListener(healthy)

	errs := hub.Notify(newModuleEvent(EventUnloaded, def))
	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.Equal(t, ErrCodeListenerFailed, ErrorCode(err))
	}
	assert.Equal(t, []string{"unloaded core@1"}, healthy.Events())
	assert.True(t, logger.HasMessage("WARN", "Module listener failed"))

	snapshot := metrics.GetMetrics()
	assert.Equal(t, int64(2), snapshot["listener_errors_total_type_unloaded"])
	assert.Equal(t, int64(1), snapshot["module_events_total_type_unloaded"])
}

func TestNotificationHub_ListenerMayRemoveItself(t *testing.T) {
	hub := NewNotificationHub(nil, nil)
	def := newDefinition(t, "core", 1)
	other := &recordingListener{}

	var self Listener
	self = ListenerFunc(func(ModuleEvent) error {
		hub.RemoveListener(self)
		return nil
	})
	hub.AddListener(self)
	hub.AddListener(other)

	hub.Notify(newModuleEvent(EventLoaded, def))
	assert.Equal(t, 1, hub.Len())
	assert.Equal(t, []string{"loaded core@1"}, other.Events(), "delivery uses the listener snapshot")
}

func TestNotificationHub_SlowListener(t *testing.T) {
	logger := NewTestLogger()
	metrics := NewDefaultMetricsCollector()
	hub := NewNotificationHub(logger, metrics)
	hub.SetSlowThreshold(5 * time.Millisecond)
	def := newDefinition(t, "core", 1)

	var order []string
	hub.AddListener(ListenerFunc(func(ModuleEvent) error {
		time.Sleep(30 * time.Millisecond)
		order = append(order, "slow")
		return nil
	}))
	hub.AddListener(ListenerFunc(func(ModuleEvent) error {
		order = append(order, "fast")
		return nil
	}))

	errs := hub.Notify(newModuleEvent(EventLoaded, def))
	assert.Empty(t, errs)
	assert.Equal(t, []string{"slow", "fast"}, order, "the slow listener finishes before the next one runs")
	assert.True(t, logger.HasMessage("WARN", "Slow module listener"))
	assert.Equal(t, int64(1), metrics.GetMetrics()["listener_slow_total_type_loaded"])

	t.Run("DisabledByZero", func(t *testing.T) {
		quiet := NewTestLogger()
		hub := NewNotificationHub(quiet, nil)
		hub.SetSlowThreshold(0)
		hub.AddListener(ListenerFunc(func(ModuleEvent) error {
			time.Sleep(10 * time.Millisecond)
			return nil
		}))
		assert.Empty(t, hub.Notify(newModuleEvent(EventLoaded, def)))
		assert.False(t, quiet.HasMessage("WARN", "Slow module listener"))
	})
}

func TestEventType_String(t *testing.T) {
	assert.Equal(t, "registered", EventRegistered.String())
	assert.Equal(t, "unregistered", EventUnregistered.String())
	assert.Equal(t, "loaded", EventLoaded.String())
	assert.Equal(t, "unloaded", EventUnloaded.String())
	assert.Equal(t, "unknown", EventType(99).String())
}
