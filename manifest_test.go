// manifest_test.go: manifest format detection and decoding tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectManifestFormat(t *testing.T) {
	tests := []struct {
		name string
		data string
		want ManifestFormat
	}{
		{"JSON", `{"id": "core", "version": 1}`, ManifestJSON},
		{"JSONWithLeadingSpace", "\n  {\"id\": \"core\"}", ManifestJSON},
		{"TOMLAssignment", "id = \"core\"\nversion = 1\n", ManifestTOML},
		{"TOMLAfterComment", "# core module\n\nid = 'core'\n", ManifestTOML},
		{"TOMLTable", "[module]\nid = 'core'\n", ManifestTOML},
		{"YAML", "id: core\nversion: 1\n", ManifestYAML},
		{"YAMLAfterComment", "# core module\nid: core\n", ManifestYAML},
		{"Empty", "", ManifestYAML},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectManifestFormat([]byte(tt.data)))
		})
	}
}

func TestDecodeManifest_AllFormats(t *testing.T) {
	want := &ModuleManifest{
		ID:            "render",
		Version:       3,
		Type:          "system",
		Description:   "Renderer",
		Group:         "gfx",
		BuildID:       7,
		CriticalMerge: true,
		Dependencies:  []string{"math@2", "gpu"},
	}

	for _, format := range []ManifestFormat{ManifestJSON, ManifestYAML, ManifestTOML} {
		t.Run(string(format), func(t *testing.T) {
			data, err := EncodeManifest(want, format)
			require.NoError(t, err)

			got, detected, err := DecodeManifest(data)
			require.NoError(t, err)
			assert.Equal(t, format, detected)
			assert.Equal(t, want, got)
		})
	}
}

func TestDecodeManifest_Malformed(t *testing.T) {
	_, format, err := DecodeManifest([]byte(`{"id": "core", "version": `))
	require.Error(t, err)
	assert.Equal(t, ManifestJSON, format)

	_, _, err = DecodeManifest([]byte("id: core\nversion: [1, 2\n"))
	assert.Error(t, err)
}

func TestModuleManifest_SpecSplitsDependencyLists(t *testing.T) {
	m := &ModuleManifest{ID: "app", Version: 1, Dependencies: []string{"core@1, net", "ui=2", " "}}
	spec, err := m.Spec("/modules/app", "/modules/app/app.module")
	require.NoError(t, err)
	assert.Equal(t, []ModuleRef{ExactVersion("core", 1), AnyVersion("net"), ExactVersion("ui", 2)}, spec.Dependencies)
	assert.Equal(t, "/modules/app", spec.Path)

	m.Dependencies = []string{"bad/dep"}
	_, err = m.Spec("/modules/app", "/modules/app/app.module")
	assert.True(t, HasErrorCode(err, ErrCodeInvalidModule))
}

func TestParseManifestFile(t *testing.T) {
	env := NewTestEnvironment(t)

	t.Run("Valid", func(t *testing.T) {
		dir := env.WriteModule("core", manifest("core", 2, "base@1"))
		def, err := ParseManifestFile(filepath.Join(dir, "module.module"))
		require.NoError(t, err)
		assert.Equal(t, "core@2", def.String())
		assert.Equal(t, dir, def.Path())
		assert.Equal(t, filepath.Join(dir, "module.module"), def.ManifestPath())
		assert.Equal(t, []ModuleRef{ExactVersion("base", 1)}, def.Dependencies())
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := ParseManifestFile(env.Path("nowhere", "module.module"))
		assert.Equal(t, ErrCodeIOFailure, ErrorCode(err))
	})

	t.Run("Malformed", func(t *testing.T) {
		path := env.WriteFile("broken/module.module", "{not json")
		_, err := ParseManifestFile(path)
		assert.Equal(t, ErrCodeManifestParse, ErrorCode(err))
	})

	t.Run("InvalidID", func(t *testing.T) {
		path := env.WriteFile("badid/module.module", "id: \"bad id\"\nversion: 1\n")
		_, err := ParseManifestFile(path)
		assert.Equal(t, ErrCodeManifestParse, ErrorCode(err))
	})
}

func TestManifestFromDefinition(t *testing.T) {
	def := newDefinition(t, "app", 5, "core@1", "net")
	m := ManifestFromDefinition(def)
	assert.Equal(t, "app", m.ID)
	assert.Equal(t, uint32(5), m.Version)
	assert.Equal(t, []string{"core@1", "net@any"}, m.Dependencies)

	spec, err := m.Spec(def.Path(), def.ManifestPath())
	require.NoError(t, err)
	assert.Equal(t, def.Dependencies(), spec.Dependencies)
}
