// root.go: root command, configuration binding and manager construction
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agilira/modhub"
)

// EnvPrefix prefixes every environment variable read by the CLI, for
// example MODHUB_MODULE_EXTENSION.
const EnvPrefix = "MODHUB"

// app carries what every subcommand needs.
type app struct {
	v       *viper.Viper
	out     io.Writer
	errOut  io.Writer
	metrics *prometheus.Registry
}

// Execute runs the modhub command line.
func Execute(version string) error {
	return NewRootCommand(version).Execute()
}

// NewRootCommand builds the command tree.
func NewRootCommand(version string) *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:     "modhub",
		Version: version,
		Short:   "Versioned module registry and dependency manager",
		Long: `modhub discovers module manifests, resolves their dependencies and keeps
module trees on disk in step through copy, synchronization and staged merges.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.out = cmd.OutOrStdout()
			a.errOut = cmd.ErrOrStderr()
			return a.readConfigFile()
		},
	}

	defaults := modhub.DefaultManagerConfig()
	flags := root.PersistentFlags()
	flags.String("config", "", "Configuration file (json, yaml or toml)")
	flags.StringSlice("module-path", []string{"."}, "Directories scanned for modules")
	flags.Bool("root-only", false, "Scan only the module paths and their immediate subdirectories")
	flags.String("module-extension", defaults.ModuleExtension, "Manifest file extension, without the leading period")
	flags.Int("max-scan-depth", defaults.MaxScanDepth, "Maximum directory depth of a scan")
	flags.String("merge-definition", defaults.MergeDefinitionPath, "Path of the merge-intent marker")
	flags.Bool("sync-prune", defaults.SyncPrune, "Remove stale modules from synchronization targets")
	flags.String("audit-file", "", "Write merge audit records to this file")
	flags.String("log-level", defaults.LogLevel, "Log level (debug, info, warn, error)")
	flags.Bool("json", false, "Output in JSON format")

	bindings := map[string]string{
		"config":                "config",
		"module_paths":          "module-path",
		"root_only":             "root-only",
		"module_extension":      "module-extension",
		"max_scan_depth":        "max-scan-depth",
		"merge_definition_path": "merge-definition",
		"sync_prune":            "sync-prune",
		"audit_file":            "audit-file",
		"log_level":             "log-level",
		"json":                  "json",
	}
	for key, flag := range bindings {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}
	a.v.SetDefault("slow_listener_threshold", time.Duration(defaults.SlowListenerThreshold))
	a.v.SetDefault("merge_poll_interval", time.Duration(defaults.MergePollInterval))
	a.v.SetDefault("metrics_namespace", defaults.MetricsNamespace)
	a.v.SetEnvPrefix(EnvPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root.AddGroup(
		&cobra.Group{ID: "registry", Title: "Registry:"},
		&cobra.Group{ID: "storage", Title: "Copy & Sync:"},
		&cobra.Group{ID: "merge", Title: "Merge:"},
	)
	for _, cmd := range []*cobra.Command{a.scanCommand(), a.listCommand(), a.resolveCommand()} {
		cmd.GroupID = "registry"
		root.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{a.copyCommand(), a.syncCommand()} {
		cmd.GroupID = "storage"
		root.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{a.stageMergeCommand(), a.canMergeCommand(), a.mergeCommand(), a.mergeStatusCommand(), a.watchCommand()} {
		cmd.GroupID = "merge"
		root.AddCommand(cmd)
	}
	return root
}

func (a *app) readConfigFile() error {
	file := a.v.GetString("config")
	if file == "" {
		return nil
	}
	a.v.SetConfigFile(file)
	if err := a.v.ReadInConfig(); err != nil {
		return modhub.NewConfigParseError(file, err)
	}
	return nil
}

// managerConfig assembles the effective configuration from flags,
// environment and configuration file, in that order of precedence.
func (a *app) managerConfig() modhub.ManagerConfig {
	return modhub.ManagerConfig{
		ModuleExtension:       a.v.GetString("module_extension"),
		MaxScanDepth:          a.v.GetInt("max_scan_depth"),
		MergeDefinitionPath:   a.v.GetString("merge_definition_path"),
		MergePollInterval:     modhub.Duration(a.v.GetDuration("merge_poll_interval")),
		SyncPrune:             a.v.GetBool("sync_prune"),
		AuditFile:             a.v.GetString("audit_file"),
		LogLevel:              a.v.GetString("log_level"),
		SlowListenerThreshold: modhub.Duration(a.v.GetDuration("slow_listener_threshold")),
		MetricsNamespace:      a.v.GetString("metrics_namespace"),
	}
}

func (a *app) printer() *printer {
	return &printer{out: a.out, json: a.v.GetBool("json")}
}

// openManager builds a manager and scans every configured module path.
// Metrics go to a registry private to the invocation; spans go to the
// global OpenTelemetry tracer provider.
func (a *app) openManager(ctx context.Context) (*modhub.Manager, error) {
	cfg := a.managerConfig()
	errOut := a.errOut
	if errOut == nil {
		errOut = os.Stderr
	}
	logger := modhub.NewCharmLogger(errOut, cfg.LogLevel)
	a.metrics = prometheus.NewRegistry()

	manager, err := modhub.NewManager(cfg,
		modhub.WithLogger(logger),
		modhub.WithMetrics(modhub.NewPrometheusMetricsCollector(a.metrics, cfg.MetricsNamespace)),
		modhub.WithTracing(modhub.NewOTelTracingProvider(nil)))
	if err != nil {
		return nil, err
	}
	for _, root := range a.v.GetStringSlice("module_paths") {
		report, err := manager.ScanModules(ctx, root, a.v.GetBool("root_only"))
		if err != nil {
			_ = manager.Close()
			return nil, err
		}
		for _, f := range report.Failures {
			logger.Warn("Skipped module", "path", f.Path, "error", f.Err)
		}
	}
	return manager, nil
}

// findDefinition looks up "id" (latest version) or "id@version".
func findDefinition(manager *modhub.Manager, s string) (*modhub.ModuleDefinition, error) {
	ref, err := modhub.ParseModuleRef(s)
	if err != nil {
		return nil, err
	}
	if ref.Pinned {
		if def := manager.FindModule(ref.ID, ref.Version); def != nil {
			return def, nil
		}
		return nil, modhub.NewModuleNotFoundError(ref.ID, fmt.Sprint(ref.Version))
	}
	if def := manager.Registry().FindLatest(ref.ID); def != nil {
		return def, nil
	}
	return nil, modhub.NewModuleNotFoundError(ref.ID, "")
}
