// copy_synchronizer.go: module duplication and dependency closure synchronization
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
)

// binarySniffLen is how much of a file is inspected for NUL bytes before it
// is treated as text.
const binarySniffLen = 8 << 10

// SyncReport describes one synchronization run.
type SyncReport struct {
	Root       ModuleKey
	TargetPath string
	Copied     []ModuleKey
	Skipped    []ModuleKey
	Pruned     []string
}

// CopySynchronizer copies module trees on disk. It never registers what it
// writes.
type CopySynchronizer struct {
	resolver *DependencyResolver
	logger   Logger
	metrics  MetricsCollector
	prune    bool
}

// NewCopySynchronizer creates a synchronizer. With prune set,
// SynchronizeDependencies removes module directories in the target that are
// no longer part of the closure.
func NewCopySynchronizer(resolver *DependencyResolver, logger Logger, metrics MetricsCollector, prune bool) *CopySynchronizer {
	if logger == nil {
		logger = DefaultLogger()
	}
	if metrics == nil {
		metrics = NewDefaultMetricsCollector()
	}
	return &CopySynchronizer{resolver: resolver, logger: logger, metrics: metrics, prune: prune}
}

// setPrune must not race with SynchronizeDependencies; the manager calls it
// under its write lock.
func (c *CopySynchronizer) setPrune(prune bool) {
	c.prune = prune
}

// CopyModule duplicates the tree of source into targetPath, or into
// targetPath/<targetID>/<version> with useVersionPathing. When targetID
// differs from the source id, the manifest id and every scoped reference
// "<sourceID>:" in text files are rewritten to targetID. The parsed copy is
// returned unregistered.
func (c *CopySynchronizer) CopyModule(source *ModuleDefinition, targetID, targetPath string, useVersionPathing bool) (*ModuleDefinition, error) {
	if source == nil {
		return nil, NewInvalidModuleError("copy source is nil", "")
	}
	if err := ValidateModuleID(targetID); err != nil {
		return nil, err
	}

	info, err := os.Stat(source.Path())
	if err != nil || !info.IsDir() {
		return nil, NewCopySourceNotFoundError(source.Path(), err).
			WithContext("module", source.String())
	}

	dest, err := filepath.Abs(targetPath)
	if err != nil {
		return nil, NewCopyWriteFailedError(targetPath, "invalid copy target", err)
	}
	if useVersionPathing {
		dest = filepath.Join(dest, targetID, formatVersion(source.Version()))
	}
	srcRoot, err := filepath.Abs(source.Path())
	if err != nil {
		return nil, NewCopySourceNotFoundError(source.Path(), err).
			WithContext("module", source.String())
	}
	if isWithin(dest, srcRoot) || isWithin(srcRoot, dest) {
		return nil, NewCopyWriteFailedError(dest, "copy target overlaps the source module", nil)
	}

	_, empty, err := dirState(dest)
	if err != nil {
		return nil, NewCopyWriteFailedError(dest, "cannot inspect copy target", err)
	}
	if !empty {
		return nil, NewCopyWriteFailedError(dest, "copy target is not empty", nil)
	}

	manifestRel, err := filepath.Rel(source.Path(), source.ManifestPath())
	if err != nil {
		return nil, NewCopyWriteFailedError(dest, "manifest is outside the module root", err)
	}

	var transform fileTransform
	if targetID != source.ID() {
		transform = newIDRewriter(source.ID(), targetID, filepath.ToSlash(manifestRel))
	}

	staging, err := stageTree(source.Path(), dest, transform)
	if err != nil {
		return nil, NewCopyWriteFailedError(dest, "failed to stage module copy", err)
	}
	if err := swapInto(staging, dest); err != nil {
		return nil, NewCopyWriteFailedError(dest, "failed to install module copy", err)
	}

	copied, err := ParseManifestFile(filepath.Join(dest, manifestRel))
	if err != nil {
		return nil, NewCopyWriteFailedError(dest, "copied manifest is unreadable", err)
	}

	c.metrics.IncrementCounter("module_copies_total", nil, 1)
	c.logger.Info("Module copied",
		"source", source.String(),
		"target", copied.String(),
		"path", dest)
	return copied, nil
}

// SynchronizeDependencies copies every module in the dependency closure of
// root (root excluded) into targetPath/<id>. Destinations whose content
// digest already matches the source are skipped; differing ones are replaced
// atomically.
func (c *CopySynchronizer) SynchronizeDependencies(root *ModuleDefinition, targetPath string) (*SyncReport, error) {
	if root == nil {
		return nil, NewInvalidModuleError("synchronization root is nil", "")
	}

	closure, err := c.resolver.Closure(root)
	if err != nil {
		return nil, err
	}

	target, err := filepath.Abs(targetPath)
	if err != nil {
		return nil, NewIOFailureError("resolve sync target", targetPath, err)
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return nil, NewIOFailureError("create sync target", target, err)
	}

	report := &SyncReport{Root: root.Key(), TargetPath: target}
	keep := make(map[string]bool, len(closure))
	for _, def := range closure {
		keep[def.ID()] = true
		dest := filepath.Join(target, def.ID())

		same, err := sameTree(def.Path(), dest)
		if err != nil {
			return report, NewIOFailureError("compare module trees", dest, err).
				WithContext("module", def.String())
		}
		if same {
			report.Skipped = append(report.Skipped, def.Key())
			continue
		}

		staging, err := stageTree(def.Path(), dest, nil)
		if err != nil {
			return report, NewCopyWriteFailedError(dest, "failed to stage dependency", err).
				WithContext("module", def.String())
		}
		if err := swapInto(staging, dest); err != nil {
			return report, NewCopyWriteFailedError(dest, "failed to install dependency", err).
				WithContext("module", def.String())
		}
		report.Copied = append(report.Copied, def.Key())
	}

	if c.prune {
		pruned, err := c.pruneTarget(target, keep)
		report.Pruned = pruned
		if err != nil {
			return report, err
		}
	}

	c.metrics.IncrementCounter("sync_copied_total", nil, int64(len(report.Copied)))
	c.metrics.IncrementCounter("sync_skipped_total", nil, int64(len(report.Skipped)))
	c.logger.Info("Dependencies synchronized",
		"root", root.String(),
		"target", target,
		"copied", len(report.Copied),
		"skipped", len(report.Skipped),
		"pruned", len(report.Pruned))
	return report, nil
}

// pruneTarget removes visible directories of target that are not in keep.
func (c *CopySynchronizer) pruneTarget(target string, keep map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(target)
	if err != nil {
		return nil, NewIOFailureError("read sync target", target, err)
	}
	var pruned []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || keep[name] || name[0] == '.' {
			continue
		}
		if err := os.RemoveAll(filepath.Join(target, name)); err != nil {
			return pruned, NewIOFailureError("prune sync target", filepath.Join(target, name), err)
		}
		pruned = append(pruned, name)
	}
	return pruned, nil
}

func sameTree(src, dest string) (bool, error) {
	exists, _, err := dirState(dest)
	if err != nil || !exists {
		return false, err
	}
	srcDigest, err := treeDigest(src)
	if err != nil {
		return false, err
	}
	destDigest, err := treeDigest(dest)
	if err != nil {
		return false, err
	}
	return srcDigest == destDigest, nil
}

// newIDRewriter rewrites the manifest id and scoped references from one
// module id to another.
func newIDRewriter(fromID, toID, manifestRel string) fileTransform {
	scoped := regexp.MustCompile(`(^|[^A-Za-z0-9_.-])` + regexp.QuoteMeta(fromID) + `:`)
	replacement := []byte("${1}" + toID + ":")

	return func(rel string, data []byte) ([]byte, error) {
		if rel == manifestRel {
			manifest, format, err := DecodeManifest(data)
			if err != nil {
				return nil, err
			}
			manifest.ID = toID
			return EncodeManifest(manifest, format)
		}
		if isBinary(data) {
			return data, nil
		}
		return scoped.ReplaceAll(data, replacement), nil
	}
}

func isBinary(data []byte) bool {
	if len(data) > binarySniffLen {
		data = data[:binarySniffLen]
	}
	return bytes.IndexByte(data, 0) >= 0
}

// isWithin reports whether path equals dir or lies below it.
func isWithin(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !filepath.IsAbs(rel) && !startsWithParent(rel))
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
