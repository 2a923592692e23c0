// config_test.go: manager configuration loading and validation tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultManagerConfig(t *testing.T) {
	cfg := DefaultManagerConfig()

	assert.Equal(t, DefaultModuleExtension, cfg.ModuleExtension)
	assert.Equal(t, DefaultMaxScanDepth, cfg.MaxScanDepth)
	assert.Equal(t, DefaultMergeDefinitionPath, cfg.MergeDefinitionPath)
	assert.Equal(t, Duration(DefaultSlowListenerThreshold), cfg.SlowListenerThreshold)
	assert.Equal(t, DefaultMetricsNamespace, cfg.MetricsNamespace)
	assert.False(t, cfg.SyncPrune)
	require.NoError(t, cfg.Validate())
}

func TestManagerConfig_ApplyDefaults(t *testing.T) {
	cfg := ManagerConfig{ModuleExtension: "pkg", SyncPrune: true}
	cfg.ApplyDefaults()

	assert.Equal(t, "pkg", cfg.ModuleExtension, "explicit values are kept")
	assert.True(t, cfg.SyncPrune)
	assert.Equal(t, DefaultMaxScanDepth, cfg.MaxScanDepth)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, Duration(DefaultMergePollInterval), cfg.MergePollInterval)
}

func TestManagerConfig_Validate(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(*ManagerConfig)
		code   string
	}{
		{"EmptyExtension", func(c *ManagerConfig) { c.ModuleExtension = "" }, ErrCodeInvalidModuleExtension},
		{"DottedExtension", func(c *ManagerConfig) { c.ModuleExtension = ".module" }, ErrCodeInvalidModuleExtension},
		{"ZeroDepth", func(c *ManagerConfig) { c.MaxScanDepth = 0 }, ErrCodeInvalidConfig},
		{"BlankMergePath", func(c *ManagerConfig) { c.MergeDefinitionPath = "  " }, ErrCodeInvalidConfig},
		{"NegativePoll", func(c *ManagerConfig) { c.MergePollInterval = -1 }, ErrCodeInvalidConfig},
		{"NegativeSlowListenerThreshold", func(c *ManagerConfig) { c.SlowListenerThreshold = Duration(-time.Second) }, ErrCodeInvalidConfig},
		{"UnknownLogLevel", func(c *ManagerConfig) { c.LogLevel = "verbose" }, ErrCodeInvalidConfig},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultManagerConfig()
			tc.modify(&cfg)
			assert.Equal(t, tc.code, ErrorCode(cfg.Validate()))
		})
	}

	t.Run("LogLevelIsCaseInsensitive", func(t *testing.T) {
		cfg := DefaultManagerConfig()
		cfg.LogLevel = "DEBUG"
		assert.NoError(t, cfg.Validate())
	})
}

func TestDuration_Decoding(t *testing.T) {
	t.Run("JSON", func(t *testing.T) {
		var holder struct {
			Text   Duration `json:"text"`
			Number Duration `json:"number"`
		}
		require.NoError(t, json.Unmarshal([]byte(`{"text":"1m30s","number":2000000000}`), &holder))
		assert.Equal(t, Duration(90*time.Second), holder.Text)
		assert.Equal(t, Duration(2*time.Second), holder.Number)

		data, err := json.Marshal(holder.Text)
		require.NoError(t, err)
		assert.JSONEq(t, `"1m30s"`, string(data))
	})

	t.Run("YAML", func(t *testing.T) {
		var holder struct {
			Text   Duration `yaml:"text"`
			Number Duration `yaml:"number"`
		}
		require.NoError(t, yaml.Unmarshal([]byte("text: 250ms\nnumber: 1000\n"), &holder))
		assert.Equal(t, Duration(250*time.Millisecond), holder.Text)
		assert.Equal(t, Duration(time.Microsecond), holder.Number)
	})

	t.Run("Invalid", func(t *testing.T) {
		var d Duration
		assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
		assert.Error(t, json.Unmarshal([]byte(`true`), &d))
	})
}

func TestLoadManagerConfig(t *testing.T) {
	env := NewTestEnvironment(t)

	t.Run("JSON", func(t *testing.T) {
		path := env.WriteFile("modhub.json", `{
  "module_extension": "pkg",
  "max_scan_depth": 3,
  "sync_prune": true,
  "slow_listener_threshold": "2s",
  "log_level": "debug"
}`)
		cfg, err := LoadManagerConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "pkg", cfg.ModuleExtension)
		assert.Equal(t, 3, cfg.MaxScanDepth)
		assert.True(t, cfg.SyncPrune)
		assert.Equal(t, Duration(2*time.Second), cfg.SlowListenerThreshold)
		assert.Equal(t, DefaultMergeDefinitionPath, cfg.MergeDefinitionPath)
	})

	t.Run("YAML", func(t *testing.T) {
		path := env.WriteFile("modhub.yaml", "module_extension: mod\nmerge_definition_path: /srv/modules/module.merge\nmerge_poll_interval: 500ms\naudit_file: /var/log/modhub.jsonl\n")
		cfg, err := LoadManagerConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "mod", cfg.ModuleExtension)
		assert.Equal(t, "/srv/modules/module.merge", cfg.MergeDefinitionPath)
		assert.Equal(t, Duration(500*time.Millisecond), cfg.MergePollInterval)
		assert.Equal(t, "/var/log/modhub.jsonl", cfg.AuditFile)
		assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	})

	t.Run("TOML", func(t *testing.T) {
		path := env.WriteFile("modhub.toml", "module_extension = \"pkg\"\nlog_level = \"warn\"\nslow_listener_threshold = \"3s\"\n")
		cfg, err := LoadManagerConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "pkg", cfg.ModuleExtension)
		assert.Equal(t, "warn", cfg.LogLevel)
		assert.Equal(t, Duration(3*time.Second), cfg.SlowListenerThreshold)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := LoadManagerConfig(env.Path("absent.yaml"))
		assert.Equal(t, ErrCodeIOFailure, ErrorCode(err))
	})

	t.Run("Malformed", func(t *testing.T) {
		path := env.WriteFile("broken.yaml", "module_extension: [unterminated\n")
		_, err := LoadManagerConfig(path)
		assert.Equal(t, ErrCodeConfigParse, ErrorCode(err))
	})

	t.Run("UnsupportedFormat", func(t *testing.T) {
		path := env.WriteFile("modhub.txt", "module_extension=pkg\n")
		_, err := LoadManagerConfig(path)
		assert.Equal(t, ErrCodeConfigParse, ErrorCode(err))
	})

	t.Run("InvalidValues", func(t *testing.T) {
		path := env.WriteFile("invalid.yaml", "log_level: chatty\n")
		_, err := LoadManagerConfig(path)
		assert.Equal(t, ErrCodeInvalidConfig, ErrorCode(err))
	})
}

func TestManagerConfig_ToJSON(t *testing.T) {
	cfg := DefaultManagerConfig()
	data, err := cfg.ToJSON()
	require.NoError(t, err)

	var decoded ManagerConfig
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, cfg, decoded)
	assert.Contains(t, string(data), `"slow_listener_threshold": "0s"`)
}
