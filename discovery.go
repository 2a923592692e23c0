// discovery.go: filesystem scanner that turns module manifests into definitions
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// DefaultModuleExtension is the manifest file extension used when none is
// configured. It is given without a leading period.
const DefaultModuleExtension = "module"

// DefaultMaxScanDepth bounds recursive scans.
const DefaultMaxScanDepth = 8

// ScanFailure records one manifest or directory the scan had to skip.
type ScanFailure struct {
	Path string
	Err  error
}

// ScanReport summarises a scan.
type ScanReport struct {
	Root       string
	Discovered int
	Registered []ModuleKey
	Failures   []ScanFailure
}

// ModuleScanner walks a directory tree looking for module manifests.
//
// A manifest is any regular file named *.<extension>; its directory is the
// module root. The walk never descends into a module root, hidden
// directories, or symlinks. Scanning is best-effort: unreadable
// subdirectories and malformed manifests become failures and the walk
// continues.
type ModuleScanner struct {
	extension string
	maxDepth  int
	logger    Logger
}

// NewModuleScanner creates a scanner. Zero values select the defaults.
func NewModuleScanner(extension string, maxDepth int, logger Logger) *ModuleScanner {
	if extension == "" {
		extension = DefaultModuleExtension
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxScanDepth
	}
	if logger == nil {
		logger = DefaultLogger()
	}
	return &ModuleScanner{extension: extension, maxDepth: maxDepth, logger: logger}
}

// Extension returns the manifest extension without the leading period.
func (s *ModuleScanner) Extension() string { return s.extension }

// ValidateModuleExtension rejects empty extensions, leading periods and
// path separators.
func ValidateModuleExtension(ext string) error {
	if ext == "" || strings.HasPrefix(ext, ".") || strings.ContainsAny(ext, `/\*?[`) {
		return NewInvalidModuleExtensionError(ext)
	}
	return nil
}

// Discover parses every manifest under root. With rootOnly it inspects root
// and its immediate subdirectories; otherwise it recurses up to the
// configured depth. It fails only when root itself cannot be read.
func (s *ModuleScanner) Discover(ctx context.Context, root string, rootOnly bool) ([]*ModuleDefinition, []ScanFailure, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, nil, NewIOFailureError("resolve scan root", root, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, nil, NewIOFailureError("stat scan root", absRoot, err)
	}
	if !info.IsDir() {
		return nil, nil, NewIOFailureError("scan root", absRoot, os.ErrInvalid)
	}

	maxDepth := s.maxDepth
	if rootOnly {
		maxDepth = 1
	}

	w := &scanWalk{scanner: s, maxDepth: maxDepth}
	if err := w.scanDirectory(absRoot, 0); err != nil {
		return nil, nil, err
	}

	s.logger.Debug("Scan finished",
		"root", absRoot,
		"discovered", len(w.defs),
		"failures", len(w.failures))
	return w.defs, w.failures, nil
}

type scanWalk struct {
	scanner  *ModuleScanner
	maxDepth int
	defs     []*ModuleDefinition
	failures []ScanFailure
}

func (w *scanWalk) scanDirectory(dir string, depth int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if depth == 0 {
			return NewIOFailureError("read scan root", dir, err)
		}
		w.fail(dir, NewIOFailureError("read directory", dir, err))
		return nil
	}

	isModuleRoot := false
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !w.scanner.matches(entry.Name()) {
			continue
		}
		isModuleRoot = true
		w.processManifest(filepath.Join(dir, entry.Name()))
	}

	if isModuleRoot || depth >= w.maxDepth {
		return nil
	}

	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if err := w.scanDirectory(filepath.Join(dir, entry.Name()), depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (w *scanWalk) processManifest(path string) {
	def, err := ParseManifestFile(path)
	if err != nil {
		w.fail(path, err)
		return
	}
	w.defs = append(w.defs, def)
	w.scanner.logger.Debug("Discovered module",
		"module", def.String(),
		"type", def.Type(),
		"path", path)
}

func (w *scanWalk) fail(path string, err error) {
	w.failures = append(w.failures, ScanFailure{Path: path, Err: err})
	w.scanner.logger.Warn("Skipping module manifest", "path", path, "error", err)
}

func (s *ModuleScanner) matches(name string) bool {
	return strings.HasSuffix(name, "."+s.extension) && len(name) > len(s.extension)+1
}
