// config.go: manager configuration, defaults and multi-format loading
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package modhub

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/agilira/argus"
	"gopkg.in/yaml.v3"
)

// Configuration defaults.
const (
	DefaultMergeDefinitionPath   = "module.merge"
	DefaultSlowListenerThreshold = time.Duration(0)
	DefaultMetricsNamespace      = "modhub"
	DefaultLogLevel              = "info"
)

// Duration is a time.Duration that decodes from strings such as "5s" as
// well as from integer nanoseconds.
type Duration time.Duration

// MarshalJSON encodes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts "1m30s" style strings or numbers.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

// MarshalYAML encodes the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML accepts "1m30s" style strings or numbers.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw interface{}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) set(raw interface{}) error {
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(v))
	case int:
		*d = Duration(time.Duration(v))
	case int64:
		*d = Duration(time.Duration(v))
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration %v", raw)
	}
	return nil
}

// ManagerConfig configures a Manager.
//
// Example:
//
//	cfg := modhub.DefaultManagerConfig()
//	cfg.ModuleExtension = "mod"
//	cfg.AuditFile = "/var/log/modhub/audit.jsonl"
//	manager, err := modhub.NewManager(cfg)
type ManagerConfig struct {
	// Module discovery
	ModuleExtension string `json:"module_extension" yaml:"module_extension"`
	MaxScanDepth    int    `json:"max_scan_depth" yaml:"max_scan_depth"`

	// Merge and synchronization
	MergeDefinitionPath string   `json:"merge_definition_path" yaml:"merge_definition_path"`
	MergePollInterval   Duration `json:"merge_poll_interval,omitempty" yaml:"merge_poll_interval,omitempty"`
	SyncPrune           bool     `json:"sync_prune" yaml:"sync_prune"`
	AuditFile           string   `json:"audit_file,omitempty" yaml:"audit_file,omitempty"`

	// Ambient settings
	LogLevel              string   `json:"log_level" yaml:"log_level"`
	SlowListenerThreshold Duration `json:"slow_listener_threshold" yaml:"slow_listener_threshold"`
	MetricsNamespace      string   `json:"metrics_namespace" yaml:"metrics_namespace"`
}

// DefaultManagerConfig returns a configuration usable as-is.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ModuleExtension:       DefaultModuleExtension,
		MaxScanDepth:          DefaultMaxScanDepth,
		MergeDefinitionPath:   DefaultMergeDefinitionPath,
		MergePollInterval:     Duration(DefaultMergePollInterval),
		LogLevel:              DefaultLogLevel,
		SlowListenerThreshold: Duration(DefaultSlowListenerThreshold),
		MetricsNamespace:      DefaultMetricsNamespace,
	}
}

// ApplyDefaults fills every zero field with its default. A zero
// slow_listener_threshold is kept; it disables slow listener warnings.
func (mc *ManagerConfig) ApplyDefaults() {
	defaults := DefaultManagerConfig()
	if mc.ModuleExtension == "" {
		mc.ModuleExtension = defaults.ModuleExtension
	}
	if mc.MaxScanDepth == 0 {
		mc.MaxScanDepth = defaults.MaxScanDepth
	}
	if mc.MergeDefinitionPath == "" {
		mc.MergeDefinitionPath = defaults.MergeDefinitionPath
	}
	if mc.MergePollInterval == 0 {
		mc.MergePollInterval = defaults.MergePollInterval
	}
	if mc.LogLevel == "" {
		mc.LogLevel = defaults.LogLevel
	}
	if mc.MetricsNamespace == "" {
		mc.MetricsNamespace = defaults.MetricsNamespace
	}
}

// Validate checks the configuration after defaults have been applied.
func (mc *ManagerConfig) Validate() error {
	if err := ValidateModuleExtension(mc.ModuleExtension); err != nil {
		return err
	}
	if mc.MaxScanDepth < 1 {
		return NewInvalidConfigError("max_scan_depth must be at least 1").
			WithContext("max_scan_depth", mc.MaxScanDepth)
	}
	if strings.TrimSpace(mc.MergeDefinitionPath) == "" {
		return NewInvalidConfigError("merge_definition_path is required")
	}
	if mc.MergePollInterval < 0 {
		return NewInvalidConfigError("merge_poll_interval must not be negative")
	}
	if mc.SlowListenerThreshold < 0 {
		return NewInvalidConfigError("slow_listener_threshold must not be negative")
	}
	switch strings.ToLower(mc.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return NewInvalidConfigError("log_level must be one of debug, info, warn, error").
			WithContext("log_level", mc.LogLevel)
	}
	return nil
}

// ToJSON renders the configuration as indented JSON.
func (mc *ManagerConfig) ToJSON() ([]byte, error) {
	return json.MarshalIndent(mc, "", "  ")
}

// LoadManagerConfig reads a .json, .yaml/.yml or .toml configuration file,
// applies defaults and validates the result.
func LoadManagerConfig(path string) (ManagerConfig, error) {
	data, err := os.ReadFile(path) // #nosec G304 - configuration path chosen by the host
	if err != nil {
		return ManagerConfig{}, NewIOFailureError("read configuration", path, err)
	}

	var cfg ManagerConfig
	if err := parseManagerConfig(data, argus.DetectFormat(path), &cfg); err != nil {
		return ManagerConfig{}, NewConfigParseError(path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return ManagerConfig{}, err
	}
	return cfg, nil
}

// parseManagerConfig uses yaml.v3 for YAML and argus for JSON and TOML.
func parseManagerConfig(data []byte, format argus.ConfigFormat, cfg *ManagerConfig) error {
	switch format {
	case argus.FormatYAML:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
		return nil
	case argus.FormatJSON, argus.FormatTOML:
		configMap, err := argus.ParseConfig(data, format)
		if err != nil {
			return err
		}
		return bindManagerConfig(configMap, cfg)
	default:
		return fmt.Errorf("unsupported configuration format")
	}
}

// bindManagerConfig maps a parsed configuration onto cfg through JSON.
func bindManagerConfig(configMap map[string]interface{}, cfg *ManagerConfig) error {
	if configMap == nil {
		return fmt.Errorf("configuration map is nil")
	}
	jsonBytes, err := json.Marshal(configMap)
	if err != nil {
		return fmt.Errorf("failed to marshal config map to JSON: %w", err)
	}
	if err := json.Unmarshal(jsonBytes, cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}
