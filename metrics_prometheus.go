// metrics_prometheus.go: MetricsCollector backed by prometheus/client_golang
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetricsCollector exposes manager metrics through a Prometheus
// registerer. Vectors are created on first use; the label names of a metric
// are fixed by its first observation.
type PrometheusMetricsCollector struct {
	factory   promauto.Factory
	namespace string

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	labelNames map[string][]string
}

// NewPrometheusMetricsCollector registers metrics with reg under namespace.
// A nil reg selects prometheus.DefaultRegisterer.
func NewPrometheusMetricsCollector(reg prometheus.Registerer, namespace string) *PrometheusMetricsCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "modhub"
	}
	return &PrometheusMetricsCollector{
		factory:    promauto.With(reg),
		namespace:  namespace,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		labelNames: make(map[string][]string),
	}
}

// IncrementCounter implements MetricsCollector
func (p *PrometheusMetricsCollector) IncrementCounter(name string, labels map[string]string, value int64) {
	p.mu.Lock()
	vec, ok := p.counters[name]
	if !ok {
		vec = p.factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      name,
			Help:      helpFor(name),
		}, p.labelsFor(name, labels))
		p.counters[name] = vec
	}
	values := p.valuesFor(name, labels)
	p.mu.Unlock()

	vec.WithLabelValues(values...).Add(float64(value))
}

// SetGauge implements MetricsCollector
func (p *PrometheusMetricsCollector) SetGauge(name string, labels map[string]string, value float64) {
	p.mu.Lock()
	vec, ok := p.gauges[name]
	if !ok {
		vec = p.factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Name:      name,
			Help:      helpFor(name),
		}, p.labelsFor(name, labels))
		p.gauges[name] = vec
	}
	values := p.valuesFor(name, labels)
	p.mu.Unlock()

	vec.WithLabelValues(values...).Set(value)
}

// RecordHistogram implements MetricsCollector
func (p *PrometheusMetricsCollector) RecordHistogram(name string, labels map[string]string, value float64) {
	p.mu.Lock()
	vec, ok := p.histograms[name]
	if !ok {
		vec = p.factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Name:      name,
			Help:      helpFor(name),
			Buckets:   prometheus.DefBuckets,
		}, p.labelsFor(name, labels))
		p.histograms[name] = vec
	}
	values := p.valuesFor(name, labels)
	p.mu.Unlock()

	vec.WithLabelValues(values...).Observe(value)
}

// GetMetrics implements MetricsCollector. Values live in the registry; the
// snapshot maps each fully-qualified metric name to its kind.
func (p *PrometheusMetricsCollector) GetMetrics() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]interface{}, len(p.counters)+len(p.gauges)+len(p.histograms))
	for name := range p.counters {
		out[prometheus.BuildFQName(p.namespace, "", name)] = "counter"
	}
	for name := range p.gauges {
		out[prometheus.BuildFQName(p.namespace, "", name)] = "gauge"
	}
	for name := range p.histograms {
		out[prometheus.BuildFQName(p.namespace, "", name)] = "histogram"
	}
	return out
}

func (p *PrometheusMetricsCollector) labelsFor(name string, labels map[string]string) []string {
	if names, ok := p.labelNames[name]; ok {
		return names
	}
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	p.labelNames[name] = names
	return names
}

// valuesFor orders label values by the metric's fixed label names; labels
// missing from an observation are reported empty.
func (p *PrometheusMetricsCollector) valuesFor(name string, labels map[string]string) []string {
	names := p.labelNames[name]
	values := make([]string, len(names))
	for i, n := range names {
		values[i] = labels[n]
	}
	return values
}

func helpFor(name string) string {
	return "modhub " + strings.ReplaceAll(name, "_", " ")
}
