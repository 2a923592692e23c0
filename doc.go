// Package modhub provides a versioned module registry and dependency manager
// for Go applications. Modules are directories described by a manifest; the
// package discovers them, resolves their dependencies, loads and unloads them
// by name or by group with reference counting, and keeps copies of module
// trees on disk in step through copy, synchronization and staged merges.
//
// Key Features:
//   - Manifest discovery in JSON, YAML or TOML with a configurable extension
//   - Multiple versions of a module registered side by side
//   - Deterministic dependency resolution with cycle and version checks
//   - Reference-counted loading of modules and named groups with rollback
//   - Synchronous lifecycle notifications, optionally forwarded over gRPC
//   - Module copies with identifier rewriting and digest-based synchronization
//   - Staged merges guarded by a merge-intent marker, watched with argus
//   - Pluggable logging, Prometheus metrics and OpenTelemetry tracing
//
// Basic Usage:
//
//	manager, err := modhub.NewManager(modhub.DefaultManagerConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer manager.Close()
//
//	if _, err := manager.ScanModules(ctx, "./modules", false); err != nil {
//		log.Fatal(err)
//	}
//	if err := manager.LoadModuleExplicit(ctx, "renderer"); err != nil {
//		log.Fatal(err)
//	}
//
// Errors:
// Every failure is a *errors.Error from github.com/agilira/go-errors carrying
// one of the ErrCode constants; use HasErrorCode to branch on them.
//
// Copyright (c) 2025 AGILira - A. Giordano
// SPDX-License-Identifier: MPL-2.0
package modhub
