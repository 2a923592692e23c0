// listener_breaker.go: circuit breaker guarding slow or failing listeners
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// BreakerState is the state of a listener circuit breaker.
type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a BreakerListener. Zero fields take defaults.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`

	// RecoveryTimeout is how long the circuit stays open before a trial
	// delivery is let through.
	RecoveryTimeout time.Duration `json:"recovery_timeout" yaml:"recovery_timeout"`

	// SuccessThreshold trial successes close the circuit again.
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold"`
}

// Breaker defaults.
const (
	DefaultBreakerFailureThreshold = 5
	DefaultBreakerRecoveryTimeout  = 30 * time.Second
	DefaultBreakerSuccessThreshold = 1
)

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultBreakerFailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = DefaultBreakerRecoveryTimeout
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = DefaultBreakerSuccessThreshold
	}
	return c
}

// BreakerListener wraps a Listener that talks to something unreliable, such
// as a GRPCListener. After FailureThreshold consecutive failures events are
// rejected without reaching the wrapped listener until RecoveryTimeout has
// passed; the next event is then delivered as a trial.
//
// Example:
//
//	remote, _ := modhub.NewGRPCListener(cfg, logger)
//	manager.AddListener(modhub.NewBreakerListener(remote, modhub.BreakerConfig{}, logger))
type BreakerListener struct {
	inner  Listener
	config BreakerConfig
	logger Logger

	state       atomic.Int32
	failures    atomic.Int64
	successes   atomic.Int64
	rejected    atomic.Int64
	lastFailure atomic.Int64 // unix nanoseconds

	mu sync.Mutex
}

// BreakerStats is a snapshot of a BreakerListener.
type BreakerStats struct {
	State       BreakerState `json:"state"`
	Failures    int64        `json:"failures"`
	Rejected    int64        `json:"rejected"`
	LastFailure time.Time    `json:"last_failure"`
}

// NewBreakerListener guards inner with a circuit breaker.
func NewBreakerListener(inner Listener, config BreakerConfig, logger any) *BreakerListener {
	b := &BreakerListener{inner: inner, config: config.withDefaults(), logger: NewLogger(logger)}
	b.state.Store(int32(BreakerClosed))
	return b
}

// HandleModuleEvent implements Listener.
func (b *BreakerListener) HandleModuleEvent(event ModuleEvent) error {
	if !b.allow() {
		b.rejected.Add(1)
		return fmt.Errorf("listener circuit open, %s dropped", event.Type)
	}
	if err := b.inner.HandleModuleEvent(event); err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// State returns the current breaker state.
func (b *BreakerListener) State() BreakerState {
	return BreakerState(b.state.Load())
}

// Stats returns a snapshot of the breaker counters.
func (b *BreakerListener) Stats() BreakerStats {
	stats := BreakerStats{
		State:    b.State(),
		Failures: b.failures.Load(),
		Rejected: b.rejected.Load(),
	}
	if ns := b.lastFailure.Load(); ns != 0 {
		stats.LastFailure = time.Unix(0, ns)
	}
	return stats
}

// Reset closes the circuit and clears the counters.
func (b *BreakerListener) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(BreakerClosed)
}

func (b *BreakerListener) allow() bool {
	switch b.State() {
	case BreakerClosed:
		return true
	case BreakerOpen:
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.State() == BreakerOpen && b.recoveryElapsed() {
			b.transition(BreakerHalfOpen)
		}
		return b.State() == BreakerHalfOpen
	default:
		return true
	}
}

func (b *BreakerListener) recordFailure() {
	b.lastFailure.Store(timecache.CachedTimeNano())
	failures := b.failures.Add(1)

	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.State() {
	case BreakerHalfOpen:
		b.transition(BreakerOpen)
	case BreakerClosed:
		if failures >= int64(b.config.FailureThreshold) {
			b.transition(BreakerOpen)
		}
	}
}

func (b *BreakerListener) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.State() {
	case BreakerClosed:
		b.failures.Store(0)
	case BreakerHalfOpen:
		if b.successes.Add(1) >= int64(b.config.SuccessThreshold) {
			b.transition(BreakerClosed)
		}
	}
}

// transition must be called with b.mu held.
func (b *BreakerListener) transition(to BreakerState) {
	from := b.State()
	b.state.Store(int32(to))
	b.successes.Store(0)
	if to == BreakerClosed {
		b.failures.Store(0)
	}
	if from != to {
		b.logger.Warn("Listener circuit state changed",
			"from", from.String(),
			"to", to.String(),
			"failures", b.failures.Load())
	}
}

func (b *BreakerListener) recoveryElapsed() bool {
	last := b.lastFailure.Load()
	return last == 0 || time.Since(time.Unix(0, last)) >= b.config.RecoveryTimeout
}
