// observability.go: metrics and tracing interfaces with in-memory defaults
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MetricsCollector defines the metrics backend used by the manager.
//
// Metric names are unprefixed (for example "modules_loaded"); backends add
// their own namespace. Labels are small, fixed sets.
type MetricsCollector interface {
	// Counter metrics
	IncrementCounter(name string, labels map[string]string, value int64)

	// Gauge metrics
	SetGauge(name string, labels map[string]string, value float64)

	// Histogram metrics
	RecordHistogram(name string, labels map[string]string, value float64)

	// Get current metrics snapshot
	GetMetrics() map[string]interface{}
}

// TracingProvider starts spans around manager operations.
type TracingProvider interface {
	StartSpan(ctx context.Context, operationName string) (context.Context, Span)
}

// Span represents a tracing span
type Span interface {
	SetAttribute(key string, value interface{})
	SetStatus(code SpanStatusCode, message string)
	Finish()
}

// SpanStatusCode represents the outcome recorded on a span.
type SpanStatusCode int

const (
	SpanStatusOK SpanStatusCode = iota
	SpanStatusError
)

// DefaultMetricsCollector keeps metrics in memory, keyed by name and
// sorted labels.
type DefaultMetricsCollector struct {
	mu         sync.RWMutex
	counters   map[string]int64
	gauges     map[string]float64
	histograms map[string][]float64
}

// NewDefaultMetricsCollector creates a new default metrics collector
func NewDefaultMetricsCollector() *DefaultMetricsCollector {
	return &DefaultMetricsCollector{
		counters:   make(map[string]int64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

// IncrementCounter implements MetricsCollector
func (dmc *DefaultMetricsCollector) IncrementCounter(name string, labels map[string]string, value int64) {
	dmc.mu.Lock()
	defer dmc.mu.Unlock()
	dmc.counters[buildMetricKey(name, labels)] += value
}

// SetGauge implements MetricsCollector
func (dmc *DefaultMetricsCollector) SetGauge(name string, labels map[string]string, value float64) {
	dmc.mu.Lock()
	defer dmc.mu.Unlock()
	dmc.gauges[buildMetricKey(name, labels)] = value
}

// RecordHistogram implements MetricsCollector
func (dmc *DefaultMetricsCollector) RecordHistogram(name string, labels map[string]string, value float64) {
	dmc.mu.Lock()
	defer dmc.mu.Unlock()

	key := buildMetricKey(name, labels)
	dmc.histograms[key] = append(dmc.histograms[key], value)

	// Keep only last 1000 values to prevent memory growth
	if len(dmc.histograms[key]) > 1000 {
		dmc.histograms[key] = dmc.histograms[key][len(dmc.histograms[key])-1000:]
	}
}

// GetMetrics implements MetricsCollector. Histograms are summarised as
// _count and _sum entries.
func (dmc *DefaultMetricsCollector) GetMetrics() map[string]interface{} {
	dmc.mu.RLock()
	defer dmc.mu.RUnlock()

	metrics := make(map[string]interface{}, len(dmc.counters)+len(dmc.gauges)+2*len(dmc.histograms))
	for k, v := range dmc.counters {
		metrics[k] = v
	}
	for k, v := range dmc.gauges {
		metrics[k] = v
	}
	for k, v := range dmc.histograms {
		sum := 0.0
		for _, val := range v {
			sum += val
		}
		metrics[k+"_count"] = len(v)
		metrics[k+"_sum"] = sum
	}
	return metrics
}

// buildMetricKey builds a metric key from name and labels
func buildMetricKey(name string, labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	key := name
	for _, k := range keys {
		key += fmt.Sprintf("_%s_%s", k, labels[k])
	}
	return key
}

// NoOpTracingProvider creates spans that record nothing.
type NoOpTracingProvider struct{}

// StartSpan implements TracingProvider
func (NoOpTracingProvider) StartSpan(ctx context.Context, operationName string) (context.Context, Span) {
	return ctx, noOpSpan{}
}

type noOpSpan struct{}

func (noOpSpan) SetAttribute(key string, value interface{})    {}
func (noOpSpan) SetStatus(code SpanStatusCode, message string) {}
func (noOpSpan) Finish()                                       {}

// finishSpan records err on span and ends it.
func finishSpan(span Span, err error) {
	if err != nil {
		span.SetStatus(SpanStatusError, err.Error())
		span.SetAttribute("error.code", ErrorCode(err))
	} else {
		span.SetStatus(SpanStatusOK, "")
	}
	span.Finish()
}
