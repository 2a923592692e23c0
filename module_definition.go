// module_definition.go: module identity, references and registered definitions
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// MaxModuleIDLength bounds module and group identifiers.
const MaxModuleIDLength = 128

// ModuleKey is the registry identity of one module version.
type ModuleKey struct {
	ID      string
	Version uint32
}

// String renders the key as id@version.
func (k ModuleKey) String() string {
	return k.ID + "@" + formatVersion(k.Version)
}

// ModuleRef references a module by id with either an exact (pinned) version
// or any version.
type ModuleRef struct {
	ID      string
	Version uint32
	Pinned  bool
}

// AnyVersion references the given id without pinning a version.
func AnyVersion(id string) ModuleRef {
	return ModuleRef{ID: id}
}

// ExactVersion references one specific version of id.
func ExactVersion(id string, version uint32) ModuleRef {
	return ModuleRef{ID: id, Version: version, Pinned: true}
}

// String renders the reference as id@version or id@any.
func (r ModuleRef) String() string {
	if !r.Pinned {
		return r.ID + "@any"
	}
	return r.ID + "@" + formatVersion(r.Version)
}

// Matches reports whether key satisfies the reference.
func (r ModuleRef) Matches(key ModuleKey) bool {
	return r.ID == key.ID && (!r.Pinned || r.Version == key.Version)
}

// ParseModuleRef parses the textual reference forms accepted in manifests
// and on the command line: "id", "id@any", "id@*", "id@3" and "id=3".
func ParseModuleRef(s string) (ModuleRef, error) {
	s = strings.TrimSpace(s)
	id, version, found := strings.Cut(s, "@")
	if !found {
		id, version, _ = strings.Cut(s, "=")
	}
	id = strings.TrimSpace(id)
	version = strings.TrimSpace(version)

	if err := ValidateModuleID(id); err != nil {
		return ModuleRef{}, err
	}

	switch strings.ToLower(version) {
	case "", "any", "*":
		return AnyVersion(id), nil
	}

	v, err := strconv.ParseUint(version, 10, 32)
	if err != nil {
		return ModuleRef{}, NewInvalidModuleError(fmt.Sprintf("invalid version %q in reference %q", version, s), id)
	}
	return ExactVersion(id, uint32(v)), nil
}

// ValidateModuleID checks an identifier for the rules shared by module ids
// and group names: non-empty, bounded, no path separators or traversal, no
// control characters, and none of the reserved or shell-dangerous characters.
func ValidateModuleID(id string) error {
	if id == "" {
		return NewInvalidModuleError("module id is required", id)
	}
	if len(id) > MaxModuleIDLength {
		return NewInvalidModuleError("module id is too long", id)
	}
	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return NewInvalidModuleError("module id contains path traversal or separator characters", id).
			WithContext("validation_type", "path_traversal_check")
	}
	for _, r := range id {
		if r < 32 || r == 127 {
			return NewInvalidModuleError("module id contains control character", id).
				WithContext("validation_type", "control_character_check")
		}
	}
	for _, pattern := range []string{":", "@", "=", " ", "~", "|", "&", ";", "$", "`", "(", ")", "[", "]", "{", "}", "<", ">", "*", "?", "\"", "'"} {
		if strings.Contains(id, pattern) {
			return NewInvalidModuleError("module id contains reserved character", id).
				WithContext("character", pattern).
				WithContext("validation_type", "dangerous_character_check")
		}
	}
	return nil
}

// ModuleSpec holds the fields used to build a ModuleDefinition. It is the
// decoded form of a manifest plus the on-disk location.
type ModuleSpec struct {
	ID            string
	Version       uint32
	Type          string
	Description   string
	Author        string
	Group         string
	BuildID       uint32
	Deprecated    bool
	CriticalMerge bool
	Dependencies  []ModuleRef
	Path          string
	ManifestPath  string
}

// ModuleDefinition describes one discovered module version. Everything but
// the load reference count is fixed at construction; the count is changed
// only by the manager's load protocol.
type ModuleDefinition struct {
	id            string
	version       uint32
	moduleType    string
	description   string
	author        string
	group         string
	buildID       uint32
	deprecated    bool
	criticalMerge bool
	dependencies  []ModuleRef
	path          string
	manifestPath  string
	discoveredAt  time.Time

	loadCount atomic.Int32
}

// NewModuleDefinition validates spec and builds an unregistered definition.
func NewModuleDefinition(spec ModuleSpec) (*ModuleDefinition, error) {
	if err := ValidateModuleID(spec.ID); err != nil {
		return nil, err
	}
	if spec.Group != "" {
		if err := ValidateModuleID(spec.Group); err != nil {
			return nil, NewInvalidGroupError(spec.Group, "invalid group name").
				WithContext("module_id", spec.ID)
		}
	}

	deps := make([]ModuleRef, 0, len(spec.Dependencies))
	seen := make(map[string]bool, len(spec.Dependencies))
	for _, dep := range spec.Dependencies {
		if err := ValidateModuleID(dep.ID); err != nil {
			return nil, err
		}
		if dep.ID == spec.ID {
			return nil, NewInvalidModuleError("module cannot depend on itself", spec.ID)
		}
		if seen[dep.ID] {
			return nil, NewInvalidModuleError("duplicate dependency "+dep.ID, spec.ID)
		}
		seen[dep.ID] = true
		deps = append(deps, dep)
	}

	return &ModuleDefinition{
		id:            spec.ID,
		version:       spec.Version,
		moduleType:    spec.Type,
		description:   spec.Description,
		author:        spec.Author,
		group:         spec.Group,
		buildID:       spec.BuildID,
		deprecated:    spec.Deprecated,
		criticalMerge: spec.CriticalMerge,
		dependencies:  deps,
		path:          spec.Path,
		manifestPath:  spec.ManifestPath,
		discoveredAt:  timecache.CachedTime(),
	}, nil
}

// ID returns the module id.
func (d *ModuleDefinition) ID() string { return d.id }

// Version returns the module version.
func (d *ModuleDefinition) Version() uint32 { return d.version }

// Key returns the registry identity of the definition.
func (d *ModuleDefinition) Key() ModuleKey { return ModuleKey{ID: d.id, Version: d.version} }

// Type returns the categorical type tag.
func (d *ModuleDefinition) Type() string { return d.moduleType }

// Description returns the free-form description.
func (d *ModuleDefinition) Description() string { return d.description }

// Author returns the declared author.
func (d *ModuleDefinition) Author() string { return d.author }

// Group returns the group declared by the manifest, if any.
func (d *ModuleDefinition) Group() string { return d.group }

// BuildID returns the build identifier.
func (d *ModuleDefinition) BuildID() uint32 { return d.buildID }

// Deprecated reports whether the manifest marks the module deprecated.
func (d *ModuleDefinition) Deprecated() bool { return d.deprecated }

// CriticalMerge reports whether merges must never replace this module while
// its id is loaded.
func (d *ModuleDefinition) CriticalMerge() bool { return d.criticalMerge }

// Path returns the module root directory.
func (d *ModuleDefinition) Path() string { return d.path }

// ManifestPath returns the manifest file the definition was parsed from.
func (d *ModuleDefinition) ManifestPath() string { return d.manifestPath }

// DiscoveredAt returns when the definition was created.
func (d *ModuleDefinition) DiscoveredAt() time.Time { return d.discoveredAt }

// Dependencies returns a copy of the declared dependencies in order.
func (d *ModuleDefinition) Dependencies() []ModuleRef {
	out := make([]ModuleRef, len(d.dependencies))
	copy(out, d.dependencies)
	return out
}

// Loaded reports whether at least one load request holds the module.
func (d *ModuleDefinition) Loaded() bool { return d.loadCount.Load() > 0 }

// LoadCount returns the number of load requests holding the module.
func (d *ModuleDefinition) LoadCount() int { return int(d.loadCount.Load()) }

// String renders the definition as id@version.
func (d *ModuleDefinition) String() string { return d.Key().String() }

// Spec returns the fields the definition was built from.
func (d *ModuleDefinition) Spec() ModuleSpec {
	return ModuleSpec{
		ID:            d.id,
		Version:       d.version,
		Type:          d.moduleType,
		Description:   d.description,
		Author:        d.author,
		Group:         d.group,
		BuildID:       d.buildID,
		Deprecated:    d.deprecated,
		CriticalMerge: d.criticalMerge,
		Dependencies:  d.Dependencies(),
		Path:          d.path,
		ManifestPath:  d.manifestPath,
	}
}

func (d *ModuleDefinition) acquire() bool { return d.loadCount.Add(1) == 1 }

func (d *ModuleDefinition) release() bool {
	for {
		n := d.loadCount.Load()
		if n == 0 {
			return false
		}
		if d.loadCount.CompareAndSwap(n, n-1) {
			return n == 1
		}
	}
}

func formatVersion(v uint32) string {
	return strconv.FormatUint(uint64(v), 10)
}
