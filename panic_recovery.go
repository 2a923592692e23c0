// panic_recovery.go: panic recovery for listener callbacks and background handlers
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"fmt"
	"runtime"
)

// RecoveryHandler receives a recovered panic value and the stack captured
// at the point of recovery.
type RecoveryHandler func(recovered interface{}, stack []byte)

// withStackRecover returns a deferred function that logs a panic together
// with its stack trace.
//
//	defer withStackRecover(logger)()
func withStackRecover(logger Logger) func() {
	return func() {
		if r := recover(); r != nil {
			logger.Error("Panic recovered", "panic", r, "stack", string(captureStack()))
		}
	}
}

// withCustomRecoveryHandler returns a deferred function that forwards a
// recovered panic to handler.
func withCustomRecoveryHandler(handler RecoveryHandler) func() {
	return func() {
		if r := recover(); r != nil {
			handler(r, captureStack())
		}
	}
}

// SafeGo runs fn on a new goroutine, logging instead of crashing on panic.
func SafeGo(logger Logger, fn func()) {
	go func() {
		defer withStackRecover(logger)()
		fn()
	}()
}

// callRecovering runs fn and converts a panic into an error carrying the
// stack, so one misbehaving callback cannot abort its caller.
func callRecovering(fn func() error) (err error) {
	defer withCustomRecoveryHandler(func(recovered interface{}, stack []byte) {
		err = fmt.Errorf("panic: %v\n%s", recovered, stack)
	})()
	return fn()
}

func captureStack() []byte {
	buf := make([]byte, 64<<10)
	n := runtime.Stack(buf, false)
	return buf[:n]
}
