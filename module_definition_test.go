// module_definition_test.go: module identity, reference parsing and definition rules
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModuleRef(t *testing.T) {
	tests := []struct {
		input   string
		want    ModuleRef
		wantErr bool
	}{
		{input: "core", want: AnyVersion("core")},
		{input: "core@any", want: AnyVersion("core")},
		{input: "core@*", want: AnyVersion("core")},
		{input: " core@ANY ", want: AnyVersion("core")},
		{input: "core@3", want: ExactVersion("core", 3)},
		{input: "core=7", want: ExactVersion("core", 7)},
		{input: "core@0", want: ExactVersion("core", 0)},
		{input: "core@latest", wantErr: true},
		{input: "core@-1", wantErr: true},
		{input: "@2", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			ref, err := ParseModuleRef(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, HasErrorCode(err, ErrCodeInvalidModule))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ref)
		})
	}
}

func TestModuleRef_StringAndMatches(t *testing.T) {
	assert.Equal(t, "core@any", AnyVersion("core").String())
	assert.Equal(t, "core@2", ExactVersion("core", 2).String())

	key := ModuleKey{ID: "core", Version: 2}
	assert.Equal(t, "core@2", key.String())
	assert.True(t, AnyVersion("core").Matches(key))
	assert.True(t, ExactVersion("core", 2).Matches(key))
	assert.False(t, ExactVersion("core", 1).Matches(key))
	assert.False(t, AnyVersion("other").Matches(key))

	// String output parses back to the same reference
	for _, ref := range []ModuleRef{AnyVersion("net"), ExactVersion("net", 12)} {
		parsed, err := ParseModuleRef(ref.String())
		require.NoError(t, err)
		assert.Equal(t, ref, parsed)
	}
}

func TestValidateModuleID(t *testing.T) {
	valid := []string{"core", "core-net", "core_net", "core.net", "Core2"}
	for _, id := range valid {
		assert.NoError(t, ValidateModuleID(id), id)
	}

	invalid := map[string]string{
		"empty":        "",
		"separator":    "core/net",
		"backslash":    `core\net`,
		"traversal":    "..core",
		"control":      "core\x01",
		"space":        "core net",
		"scope":        "core:net",
		"at":           "core@1",
		"shell":        "core;rm",
		"wildcard":     "core*",
		"too_long":     strings.Repeat("a", MaxModuleIDLength+1),
		"quote":        `core"`,
		"substitution": "$(core)",
	}
	for name, id := range invalid {
		t.Run(name, func(t *testing.T) {
			err := ValidateModuleID(id)
			require.Error(t, err)
			assert.Equal(t, ErrCodeInvalidModule, ErrorCode(err))
		})
	}
}

func TestNewModuleDefinition(t *testing.T) {
	t.Run("ValidSpec", func(t *testing.T) {
		def, err := NewModuleDefinition(ModuleSpec{
			ID:            "render",
			Version:       3,
			Type:          "system",
			Description:   "Renderer",
			Author:        "AGILira",
			Group:         "core",
			BuildID:       42,
			CriticalMerge: true,
			Dependencies:  []ModuleRef{AnyVersion("math"), ExactVersion("gpu", 2)},
			Path:          "/modules/render",
			ManifestPath:  "/modules/render/render.module",
		})
		require.NoError(t, err)

		assert.Equal(t, ModuleKey{ID: "render", Version: 3}, def.Key())
		assert.Equal(t, "render@3", def.String())
		assert.Equal(t, "system", def.Type())
		assert.Equal(t, "core", def.Group())
		assert.Equal(t, uint32(42), def.BuildID())
		assert.True(t, def.CriticalMerge())
		assert.False(t, def.Deprecated())
		assert.Equal(t, []ModuleRef{AnyVersion("math"), ExactVersion("gpu", 2)}, def.Dependencies())
		assert.False(t, def.Loaded())
		assert.Zero(t, def.LoadCount())
		assert.False(t, def.DiscoveredAt().IsZero())
	})

	t.Run("DependenciesAreCopied", func(t *testing.T) {
		def := newDefinition(t, "render", 1, "math")
		deps := def.Dependencies()
		deps[0] = AnyVersion("tampered")
		assert.Equal(t, "math", def.Dependencies()[0].ID)
	})

	t.Run("SelfDependency", func(t *testing.T) {
		_, err := NewModuleDefinition(ModuleSpec{ID: "loop", Version: 1, Dependencies: []ModuleRef{AnyVersion("loop")}})
		assert.True(t, HasErrorCode(err, ErrCodeInvalidModule))
	})

	t.Run("DuplicateDependency", func(t *testing.T) {
		_, err := NewModuleDefinition(ModuleSpec{
			ID:           "render",
			Version:      1,
			Dependencies: []ModuleRef{AnyVersion("math"), ExactVersion("math", 1)},
		})
		assert.True(t, HasErrorCode(err, ErrCodeInvalidModule))
	})

	t.Run("InvalidGroup", func(t *testing.T) {
		_, err := NewModuleDefinition(ModuleSpec{ID: "render", Version: 1, Group: "bad/group"})
		assert.True(t, HasErrorCode(err, ErrCodeInvalidGroup))
	})

	t.Run("SpecRoundTrip", func(t *testing.T) {
		def := newDefinition(t, "render", 4, "math@2")
		again, err := NewModuleDefinition(def.Spec())
		require.NoError(t, err)
		assert.Equal(t, def.Key(), again.Key())
		assert.Equal(t, def.Dependencies(), again.Dependencies())
		assert.Equal(t, def.Path(), again.Path())
	})
}

func TestModuleDefinition_LoadCount(t *testing.T) {
	def := newDefinition(t, "core", 1)

	assert.True(t, def.acquire(), "first reference is a 0→1 transition")
	assert.False(t, def.acquire())
	assert.Equal(t, 2, def.LoadCount())
	assert.True(t, def.Loaded())

	assert.False(t, def.release())
	assert.True(t, def.release(), "last reference is a 1→0 transition")
	assert.False(t, def.Loaded())

	assert.False(t, def.release(), "releasing an unloaded module never goes negative")
	assert.Zero(t, def.LoadCount())
}
