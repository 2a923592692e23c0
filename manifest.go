// manifest.go: module manifest decoding and encoding (JSON, YAML, TOML)
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ManifestFormat identifies the encoding of a manifest file.
type ManifestFormat string

const (
	ManifestJSON ManifestFormat = "json"
	ManifestYAML ManifestFormat = "yaml"
	ManifestTOML ManifestFormat = "toml"
)

// ModuleManifest is the on-disk description of a module version.
type ModuleManifest struct {
	ID            string   `json:"id" yaml:"id" toml:"id"`
	Version       uint32   `json:"version" yaml:"version" toml:"version"`
	Type          string   `json:"type,omitempty" yaml:"type,omitempty" toml:"type,omitempty"`
	Description   string   `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Author        string   `json:"author,omitempty" yaml:"author,omitempty" toml:"author,omitempty"`
	Group         string   `json:"group,omitempty" yaml:"group,omitempty" toml:"group,omitempty"`
	BuildID       uint32   `json:"build_id,omitempty" yaml:"build_id,omitempty" toml:"build_id,omitempty"`
	Deprecated    bool     `json:"deprecated,omitempty" yaml:"deprecated,omitempty" toml:"deprecated,omitempty"`
	CriticalMerge bool     `json:"critical_merge,omitempty" yaml:"critical_merge,omitempty" toml:"critical_merge,omitempty"`
	Dependencies  []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty" toml:"dependencies,omitempty"`
}

var tomlAssignment = regexp.MustCompile(`^[A-Za-z0-9_."-]+\s*=`)

// DetectManifestFormat sniffs the encoding from content: a leading '{' is
// JSON, a first significant line that is a key assignment or table header
// is TOML, anything else is YAML.
func DetectManifestFormat(data []byte) ManifestFormat {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return ManifestJSON
	}

	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") || tomlAssignment.MatchString(line) {
			return ManifestTOML
		}
		return ManifestYAML
	}
	return ManifestYAML
}

// DecodeManifest decodes data in whichever format it is written.
func DecodeManifest(data []byte) (*ModuleManifest, ManifestFormat, error) {
	format := DetectManifestFormat(data)
	var manifest ModuleManifest
	var err error
	switch format {
	case ManifestJSON:
		err = json.Unmarshal(data, &manifest)
	case ManifestTOML:
		err = toml.Unmarshal(data, &manifest)
	default:
		err = yaml.Unmarshal(data, &manifest)
	}
	if err != nil {
		return nil, format, fmt.Errorf("decode %s manifest: %w", format, err)
	}
	return &manifest, format, nil
}

// EncodeManifest writes m in the requested format.
func EncodeManifest(m *ModuleManifest, format ManifestFormat) ([]byte, error) {
	switch format {
	case ManifestJSON:
		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case ManifestTOML:
		return toml.Marshal(m)
	default:
		return yaml.Marshal(m)
	}
}

// Spec converts the manifest into a ModuleSpec rooted at dir.
func (m *ModuleManifest) Spec(dir, manifestPath string) (ModuleSpec, error) {
	deps := make([]ModuleRef, 0, len(m.Dependencies))
	for _, raw := range m.Dependencies {
		// the historical manifest syntax packs several refs into one comma list
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			ref, err := ParseModuleRef(part)
			if err != nil {
				return ModuleSpec{}, err
			}
			deps = append(deps, ref)
		}
	}
	return ModuleSpec{
		ID:            m.ID,
		Version:       m.Version,
		Type:          m.Type,
		Description:   m.Description,
		Author:        m.Author,
		Group:         m.Group,
		BuildID:       m.BuildID,
		Deprecated:    m.Deprecated,
		CriticalMerge: m.CriticalMerge,
		Dependencies:  deps,
		Path:          dir,
		ManifestPath:  manifestPath,
	}, nil
}

// ManifestFromDefinition renders def back into manifest form.
func ManifestFromDefinition(def *ModuleDefinition) *ModuleManifest {
	deps := make([]string, 0, len(def.dependencies))
	for _, dep := range def.dependencies {
		deps = append(deps, dep.String())
	}
	return &ModuleManifest{
		ID:            def.id,
		Version:       def.version,
		Type:          def.moduleType,
		Description:   def.description,
		Author:        def.author,
		Group:         def.group,
		BuildID:       def.buildID,
		Deprecated:    def.deprecated,
		CriticalMerge: def.criticalMerge,
		Dependencies:  deps,
	}
}

// ParseManifestFile reads and decodes a manifest; the module root is the
// manifest's directory. The returned definition is not registered.
func ParseManifestFile(path string) (*ModuleDefinition, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, NewIOFailureError("resolve manifest path", path, err)
	}

	data, err := os.ReadFile(absPath) // #nosec G304 - manifest paths come from directory walks
	if err != nil {
		return nil, NewIOFailureError("read manifest", absPath, err)
	}

	manifest, _, err := DecodeManifest(data)
	if err != nil {
		return nil, NewManifestParseError(absPath, err)
	}

	spec, err := manifest.Spec(filepath.Dir(absPath), absPath)
	if err != nil {
		return nil, NewManifestParseError(absPath, err)
	}

	def, err := NewModuleDefinition(spec)
	if err != nil {
		return nil, NewManifestParseError(absPath, err)
	}
	return def, nil
}
