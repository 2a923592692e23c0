// merge_engine.go: reconciliation of a staged module tree into the live tree
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agilira/argus"
	"github.com/agilira/go-timecache"
)

// MergeState is the state of the merge engine.
type MergeState int

const (
	MergeIdle MergeState = iota
	MergeAvailable
	MergeValidating
	MergeMerging
	MergeCommitted
	MergeAborted
)

// String returns the state name.
func (s MergeState) String() string {
	switch s {
	case MergeIdle:
		return "idle"
	case MergeAvailable:
		return "available"
	case MergeValidating:
		return "validating"
	case MergeMerging:
		return "merging"
	case MergeCommitted:
		return "committed"
	case MergeAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// MergeDefinition is the merge-intent lease written at the well-known
// marker path. Its presence alone signals a pending merge.
type MergeDefinition struct {
	SourcePath string    `json:"source_path" yaml:"source_path"`
	Owner      string    `json:"owner,omitempty" yaml:"owner,omitempty"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
}

// WriteMergeDefinition atomically writes def to path, stamping CreatedAt
// when it is zero.
func WriteMergeDefinition(path string, def MergeDefinition) error {
	if def.SourcePath == "" {
		return NewInvalidConfigError("merge definition requires a source path")
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = timecache.CachedTime()
	}
	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return NewIOFailureError("encode merge definition", path, err)
	}
	if err := atomicWriteFile(path, append(data, '\n'), 0o644); err != nil {
		return NewIOFailureError("write merge definition", path, err)
	}
	return nil
}

// ReadMergeDefinition loads the merge-intent lease at path.
func ReadMergeDefinition(path string) (*MergeDefinition, error) {
	data, err := os.ReadFile(path) // #nosec G304 - configured marker path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewMergeUnavailableError(path, nil)
		}
		return nil, NewMergeUnavailableError(path, err)
	}
	var def MergeDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, NewMergeUnavailableError(path, err)
	}
	if def.SourcePath == "" {
		return nil, NewMergeUnavailableError(path, fmt.Errorf("merge definition has no source_path"))
	}
	return &def, nil
}

// MergeAction is what a merge does with one staged module.
type MergeAction string

const (
	MergeActionAdd       MergeAction = "add"
	MergeActionReplace   MergeAction = "replace"
	MergeActionUnchanged MergeAction = "unchanged"
	MergeActionSkip      MergeAction = "skip"
)

// MergeItem is the plan and outcome for one staged module.
type MergeItem struct {
	ModuleID      string
	StagedVersion uint32
	TargetVersion uint32
	HasTarget     bool
	Action        MergeAction
	SourcePath    string
	TargetPath    string
	Applied       bool
}

// MergeConflict explains why a staged module cannot be merged.
type MergeConflict struct {
	ModuleID string
	Path     string
	Reason   string
}

// MergeReport describes a merge validation or execution.
type MergeReport struct {
	SourcePath     string
	TargetPath     string
	State          MergeState
	Items          []MergeItem
	Conflicts      []MergeConflict
	Registered     []ModuleKey
	Unregistered   []ModuleKey
	RegistryErrors []error
	MarkerRemoved  bool
}

// Skipped lists the staged modules that were older than the target.
func (r *MergeReport) Skipped() []MergeItem {
	var out []MergeItem
	for _, item := range r.Items {
		if item.Action == MergeActionSkip {
			out = append(out, item)
		}
	}
	return out
}

// mergeRegistrar performs registry mutations for the merge, including
// their notifications.
type mergeRegistrar interface {
	registerDefinition(def *ModuleDefinition) error
	unregisterDefinition(id string, version uint32) error
}

// MergeEngine validates and applies staged module trees.
//
// Files are written per module by staging a copy beside the destination and
// renaming it into place, and every write completes before the registry is
// touched. Any I/O failure aborts the merge with the marker left in place,
// so rerunning the merge resumes it: modules already copied compare as
// unchanged and their registrations are reconciled then.
type MergeEngine struct {
	mu         sync.Mutex
	state      MergeState
	markerPath string
	scanner    *ModuleScanner
	registry   *ModuleRegistry
	logger     Logger
	metrics    MetricsCollector
	audit      *argus.AuditLogger
}

// NewMergeEngine creates an engine watching markerPath. audit may be nil.
func NewMergeEngine(markerPath string, scanner *ModuleScanner, registry *ModuleRegistry, logger Logger, metrics MetricsCollector, audit *argus.AuditLogger) *MergeEngine {
	if logger == nil {
		logger = DefaultLogger()
	}
	if metrics == nil {
		metrics = NewDefaultMetricsCollector()
	}
	return &MergeEngine{
		markerPath: markerPath,
		scanner:    scanner,
		registry:   registry,
		logger:     logger,
		metrics:    metrics,
		audit:      audit,
	}
}

// MarkerPath returns the merge-intent marker location.
func (e *MergeEngine) MarkerPath() string { return e.markerPath }

// State returns the current engine state.
func (e *MergeEngine) State() MergeState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *MergeEngine) setState(s MergeState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *MergeEngine) setScanner(scanner *ModuleScanner) {
	e.mu.Lock()
	e.scanner = scanner
	e.mu.Unlock()
}

func (e *MergeEngine) currentScanner() *ModuleScanner {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scanner
}

// IsAvailable reports whether the merge-intent marker exists. It has no
// side effects.
func (e *MergeEngine) IsAvailable() bool {
	info, err := os.Stat(e.markerPath)
	return err == nil && info.Mode().IsRegular()
}

// markerChanged is called by the marker watcher.
func (e *MergeEngine) markerChanged(present bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == MergeValidating || e.state == MergeMerging {
		return
	}
	if present {
		e.state = MergeAvailable
	} else {
		e.state = MergeIdle
	}
}

// Validate is the dry run behind CanMergeModules: it checks every module
// staged under sourcePath against the live registry and fails with
// ErrCodeMergeConflict when any conflict cannot be resolved automatically.
// Nothing is mutated besides the engine state, which returns to idle or
// available afterwards.
func (e *MergeEngine) Validate(ctx context.Context, sourcePath string) (*MergeReport, error) {
	previous := e.restingState()
	e.setState(MergeValidating)
	defer e.setState(previous)

	report, _, err := e.validate(ctx, sourcePath)
	return report, err
}

func (e *MergeEngine) restingState() MergeState {
	if e.IsAvailable() {
		return MergeAvailable
	}
	return MergeIdle
}

func (e *MergeEngine) validate(ctx context.Context, sourcePath string) (*MergeReport, []*ModuleDefinition, error) {
	absSource, err := filepath.Abs(sourcePath)
	if err != nil {
		return nil, nil, NewIOFailureError("resolve merge source", sourcePath, err)
	}
	report := &MergeReport{SourcePath: absSource, State: MergeValidating}

	staged, failures, err := e.currentScanner().Discover(ctx, absSource, false)
	if err != nil {
		return report, nil, err
	}
	for _, f := range failures {
		report.Conflicts = append(report.Conflicts, MergeConflict{
			Path:   f.Path,
			Reason: "staged manifest is unreadable: " + f.Err.Error(),
		})
	}

	seen := make(map[string]string, len(staged))
	for _, def := range staged {
		if first, dup := seen[def.ID()]; dup {
			report.Conflicts = append(report.Conflicts, MergeConflict{
				ModuleID: def.ID(),
				Path:     def.Path(),
				Reason:   "module is staged more than once (also at " + first + ")",
			})
			continue
		}
		seen[def.ID()] = def.Path()

		if loaded := e.registry.FindLoaded(def.ID()); loaded != nil && loaded.Version() < def.Version() {
			report.Conflicts = append(report.Conflicts, MergeConflict{
				ModuleID: def.ID(),
				Path:     def.Path(),
				Reason:   fmt.Sprintf("loaded version %d would be replaced by version %d", loaded.Version(), def.Version()),
			})
		}
		if latest := e.registry.FindLatest(def.ID()); latest != nil && latest.Type() != def.Type() {
			report.Conflicts = append(report.Conflicts, MergeConflict{
				ModuleID: def.ID(),
				Path:     def.Path(),
				Reason:   fmt.Sprintf("type changes from %q to %q", latest.Type(), def.Type()),
			})
		}
	}

	if len(report.Conflicts) > 0 {
		return report, staged, NewMergeConflictError(report.Conflicts).WithContext("source_path", absSource)
	}
	return report, staged, nil
}

// Merge applies the pending merge to targetPath. See MergeEngine for the
// write and abort rules.
func (e *MergeEngine) Merge(ctx context.Context, targetPath string, removeMergeDefinition, registerNewModules bool, registrar mergeRegistrar) (*MergeReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lease, err := ReadMergeDefinition(e.markerPath)
	if err != nil {
		return nil, err
	}
	start := time.Now()

	e.setState(MergeValidating)
	report, staged, err := e.validate(ctx, lease.SourcePath)
	if err != nil {
		return e.abort(report, err)
	}

	absTarget, err := filepath.Abs(targetPath)
	if err != nil {
		return e.abort(report, NewIOFailureError("resolve merge target", targetPath, err))
	}
	report.TargetPath = absTarget
	if err := os.MkdirAll(absTarget, 0o755); err != nil {
		return e.abort(report, NewIOFailureError("create merge target", absTarget, err))
	}

	if err := e.plan(ctx, report, staged); err != nil {
		return e.abort(report, err)
	}

	e.setState(MergeMerging)
	report.State = MergeMerging
	for i := range report.Items {
		item := &report.Items[i]
		if item.Action != MergeActionAdd && item.Action != MergeActionReplace {
			continue
		}
		staging, err := stageTree(item.SourcePath, item.TargetPath, nil)
		if err != nil {
			return e.abort(report, NewIOFailureError("stage merged module", item.TargetPath, err).
				WithContext("module", item.ModuleID))
		}
		if err := swapInto(staging, item.TargetPath); err != nil {
			return e.abort(report, NewIOFailureError("install merged module", item.TargetPath, err).
				WithContext("module", item.ModuleID))
		}
		item.Applied = true
		e.logger.Debug("Merged module written",
			"module", item.ModuleID,
			"action", string(item.Action),
			"path", item.TargetPath)
	}

	e.reconcileRegistry(report, staged, registerNewModules, registrar)

	if removeMergeDefinition {
		if err := os.Remove(e.markerPath); err != nil && !os.IsNotExist(err) {
			report.RegistryErrors = append(report.RegistryErrors, NewIOFailureError("remove merge definition", e.markerPath, err))
		} else {
			report.MarkerRemoved = true
		}
	}

	report.State = MergeCommitted
	e.setState(MergeCommitted)
	e.metrics.IncrementCounter("merges_total", map[string]string{"result": "committed"}, 1)
	e.metrics.RecordHistogram("merge_duration_seconds", nil, time.Since(start).Seconds())
	e.auditEvent("module_merge_committed", report, nil)
	e.logger.Info("Module merge committed",
		"source", report.SourcePath,
		"target", report.TargetPath,
		"items", len(report.Items),
		"registered", len(report.Registered),
		"marker_removed", report.MarkerRemoved)
	return report, nil
}

// plan compares each staged module with the module of the same id under
// the target tree.
func (e *MergeEngine) plan(ctx context.Context, report *MergeReport, staged []*ModuleDefinition) error {
	existing, failures, err := e.currentScanner().Discover(ctx, report.TargetPath, false)
	if err != nil {
		return err
	}
	for _, f := range failures {
		e.logger.Warn("Ignoring unreadable module in merge target", "path", f.Path, "error", f.Err)
	}
	current := make(map[string]*ModuleDefinition, len(existing))
	for _, def := range existing {
		if prev, ok := current[def.ID()]; !ok || def.Version() > prev.Version() {
			current[def.ID()] = def
		}
	}

	for _, def := range staged {
		item := MergeItem{
			ModuleID:      def.ID(),
			StagedVersion: def.Version(),
			SourcePath:    def.Path(),
		}
		target, ok := current[def.ID()]
		if !ok {
			rel, err := filepath.Rel(report.SourcePath, def.Path())
			if err != nil || rel == "." {
				rel = def.ID()
			}
			item.Action = MergeActionAdd
			item.TargetPath = filepath.Join(report.TargetPath, rel)
			reason, err := e.addTargetConflict(item.TargetPath, existing)
			if err != nil {
				return NewIOFailureError("inspect merge target", item.TargetPath, err).
					WithContext("module", def.ID())
			}
			if reason != "" {
				report.Conflicts = append(report.Conflicts, MergeConflict{
					ModuleID: def.ID(),
					Path:     def.Path(),
					Reason:   reason,
				})
			}
			report.Items = append(report.Items, item)
			continue
		}

		item.HasTarget = true
		item.TargetVersion = target.Version()
		item.TargetPath = target.Path()
		switch {
		case def.Version() > target.Version():
			item.Action = MergeActionReplace
		case def.Version() < target.Version():
			item.Action = MergeActionSkip
			if def.CriticalMerge() {
				report.Conflicts = append(report.Conflicts, MergeConflict{
					ModuleID: def.ID(),
					Path:     def.Path(),
					Reason:   fmt.Sprintf("critical module version %d is older than target version %d", def.Version(), target.Version()),
				})
			}
		default:
			same, err := sameTree(def.Path(), target.Path())
			if err != nil {
				return NewIOFailureError("compare module trees", target.Path(), err).
					WithContext("module", def.ID())
			}
			if !same {
				report.Conflicts = append(report.Conflicts, MergeConflict{
					ModuleID: def.ID(),
					Path:     def.Path(),
					Reason:   fmt.Sprintf("version %d differs in content from the target", def.Version()),
				})
			}
			item.Action = MergeActionUnchanged
		}
		report.Items = append(report.Items, item)
	}

	if len(report.Conflicts) > 0 {
		return NewMergeConflictError(report.Conflicts).WithContext("target_path", report.TargetPath)
	}
	return nil
}

// addTargetConflict reports why a new module cannot be installed at dest:
// another module, on disk or registered, lives at, above or below dest, or
// dest already holds files.
func (e *MergeEngine) addTargetConflict(dest string, existing []*ModuleDefinition) (string, error) {
	candidates := append([]*ModuleDefinition{}, existing...)
	candidates = append(candidates, e.registry.FindAll(false)...)
	for _, other := range candidates {
		otherPath, err := filepath.Abs(other.Path())
		if err != nil {
			return "", err
		}
		if isWithin(dest, otherPath) || isWithin(otherPath, dest) {
			return fmt.Sprintf("target %s overlaps module %s", dest, other.Key()), nil
		}
	}
	exists, empty, err := dirState(dest)
	if err != nil {
		return "", err
	}
	if exists && !empty {
		return fmt.Sprintf("target %s already holds files", dest), nil
	}
	return "", nil
}

// reconcileRegistry brings registrations in line with the merged files.
// Definitions registered from a merged directory whose on-disk version
// changed are replaced; modules nobody registered before are registered only
// when registerNew is set.
func (e *MergeEngine) reconcileRegistry(report *MergeReport, staged []*ModuleDefinition, registerNew bool, registrar mergeRegistrar) {
	manifestRel := make(map[string]string, len(staged))
	for _, def := range staged {
		if rel, err := filepath.Rel(def.Path(), def.ManifestPath()); err == nil {
			manifestRel[def.ID()] = rel
		}
	}

	for _, item := range report.Items {
		if item.Action == MergeActionSkip {
			continue
		}
		merged, err := ParseManifestFile(filepath.Join(item.TargetPath, manifestRel[item.ModuleID]))
		if err != nil {
			report.RegistryErrors = append(report.RegistryErrors, err)
			continue
		}

		hadRegistration := false
		alreadyCurrent := false
		for _, old := range e.registry.FindByPath(item.TargetPath) {
			if old.ID() != merged.ID() {
				continue
			}
			hadRegistration = true
			if old.Version() == merged.Version() {
				alreadyCurrent = true
				continue
			}
			if err := registrar.unregisterDefinition(old.ID(), old.Version()); err != nil {
				report.RegistryErrors = append(report.RegistryErrors, err)
				continue
			}
			report.Unregistered = append(report.Unregistered, old.Key())
		}

		if alreadyCurrent || (!hadRegistration && !registerNew) {
			continue
		}
		if err := registrar.registerDefinition(merged); err != nil {
			report.RegistryErrors = append(report.RegistryErrors, err)
			continue
		}
		report.Registered = append(report.Registered, merged.Key())
	}

	for _, err := range report.RegistryErrors {
		e.logger.Warn("Merge registry update failed", "error", err)
	}
}

func (e *MergeEngine) abort(report *MergeReport, err error) (*MergeReport, error) {
	if report != nil {
		report.State = MergeAborted
	}
	e.setState(MergeAborted)
	e.metrics.IncrementCounter("merges_total", map[string]string{"result": "aborted"}, 1)
	e.auditEvent("module_merge_aborted", report, err)
	e.logger.Error("Module merge aborted", "error", err, "marker", e.markerPath)
	return report, err
}

func (e *MergeEngine) auditEvent(eventType string, report *MergeReport, err error) {
	if e.audit == nil {
		return
	}
	fields := map[string]interface{}{
		"marker_path": e.markerPath,
	}
	if report != nil {
		fields["source_path"] = report.SourcePath
		fields["target_path"] = report.TargetPath
		fields["items"] = len(report.Items)
		fields["conflicts"] = len(report.Conflicts)
		fields["registered"] = len(report.Registered)
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	e.audit.LogSecurityEvent(eventType, "Module merge event", fields)
}
