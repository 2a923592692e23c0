// commands.go: modhub subcommands
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/agilira/modhub"
)

type moduleView struct {
	ID           string   `json:"id"`
	Version      uint32   `json:"version"`
	Type         string   `json:"type,omitempty"`
	Group        string   `json:"group,omitempty"`
	Deprecated   bool     `json:"deprecated,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	Path         string   `json:"path"`
}

func viewOf(def *modhub.ModuleDefinition) moduleView {
	deps := make([]string, 0, len(def.Dependencies()))
	for _, ref := range def.Dependencies() {
		deps = append(deps, ref.String())
	}
	return moduleView{
		ID:           def.ID(),
		Version:      def.Version(),
		Type:         def.Type(),
		Group:        def.Group(),
		Deprecated:   def.Deprecated(),
		Dependencies: deps,
		Path:         def.Path(),
	}
}

func keyStrings(keys []modhub.ModuleKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

func (a *app) scanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Scan the module paths and report what was found",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := a.openManager(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = manager.Close() }()

			defs := manager.FindModules(false)
			p := a.printer()
			if p.json {
				views := make([]moduleView, 0, len(defs))
				for _, def := range defs {
					views = append(views, viewOf(def))
				}
				return p.emitJSON(views)
			}
			p.success("Registered " + count(len(defs), "module", "modules"))
			for _, def := range defs {
				p.item(def.String() + "  " + def.Path())
			}
			return nil
		},
	}
}

func (a *app) listCommand() *cobra.Command {
	var moduleType string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := a.openManager(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = manager.Close() }()

			defs := manager.FindModules(false)
			if moduleType != "" {
				defs = manager.FindModuleTypes(moduleType, false)
			}

			p := a.printer()
			if p.json {
				views := make([]moduleView, 0, len(defs))
				for _, def := range defs {
					views = append(views, viewOf(def))
				}
				return p.emitJSON(views)
			}
			if len(defs) == 0 {
				p.warning("No modules found")
				return nil
			}
			rows := make([][]string, 0, len(defs))
			for _, def := range defs {
				rows = append(rows, []string{def.ID(), strconv.FormatUint(uint64(def.Version()), 10), def.Type(), def.Group(), def.Path()})
			}
			p.table([]string{"ID", "VERSION", "TYPE", "GROUP", "PATH"}, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&moduleType, "type", "", "Only list modules of this type")
	return cmd
}

func (a *app) resolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <module[@version]>...",
		Short: "Print the load order of modules and their dependencies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			refs := make([]modhub.ModuleRef, 0, len(args))
			for _, arg := range args {
				ref, err := modhub.ParseModuleRef(arg)
				if err != nil {
					return err
				}
				refs = append(refs, ref)
			}

			manager, err := a.openManager(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = manager.Close() }()

			res, err := manager.ResolveLoadOrder(refs...)
			if err != nil {
				return err
			}
			order := make([]string, len(res.Closure))
			for i, def := range res.Closure {
				order[i] = def.String()
			}

			p := a.printer()
			if p.json {
				return p.emitJSON(map[string]interface{}{"load_order": order})
			}
			p.section("Load order")
			for i, s := range order {
				p.item(fmt.Sprintf("%d. %s", i+1, s))
			}
			return nil
		},
	}
}

func (a *app) copyCommand() *cobra.Command {
	var versionPath bool
	cmd := &cobra.Command{
		Use:   "copy <module[@version]> <target-id> <target-path>",
		Short: "Copy a module tree, renaming it when the target id differs",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := a.openManager(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = manager.Close() }()

			source, err := findDefinition(manager, args[0])
			if err != nil {
				return err
			}
			copied, err := manager.CopyModule(cmd.Context(), source, args[1], args[2], versionPath)
			if err != nil {
				return err
			}

			p := a.printer()
			if p.json {
				return p.emitJSON(viewOf(copied))
			}
			p.success(fmt.Sprintf("Copied %s to %s", source, copied))
			p.labelValue("Path", copied.Path())
			return nil
		},
	}
	cmd.Flags().BoolVar(&versionPath, "version-path", false, "Write to <target-path>/<target-id>/<version>")
	return cmd
}

func (a *app) syncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <module[@version]> <target-path>",
		Short: "Copy every dependency of a module into a target directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := a.openManager(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = manager.Close() }()

			root, err := findDefinition(manager, args[0])
			if err != nil {
				return err
			}
			report, err := manager.SynchronizeDependencies(cmd.Context(), root, args[1])
			if err != nil {
				return err
			}

			p := a.printer()
			if p.json {
				return p.emitJSON(map[string]interface{}{
					"root":    report.Root.String(),
					"target":  report.TargetPath,
					"copied":  keyStrings(report.Copied),
					"skipped": keyStrings(report.Skipped),
					"pruned":  report.Pruned,
				})
			}
			p.success(fmt.Sprintf("Synchronized dependencies of %s", report.Root))
			p.labelValue("Copied", count(len(report.Copied), "module", "modules"))
			p.labelValue("Unchanged", count(len(report.Skipped), "module", "modules"))
			if len(report.Pruned) > 0 {
				p.labelValue("Pruned", count(len(report.Pruned), "directory", "directories"))
			}
			return nil
		},
	}
}

func (a *app) stageMergeCommand() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "stage-merge <source-path>",
		Short: "Write the merge-intent marker for a staged module tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				owner, _ = os.Hostname()
			}
			marker := a.managerConfig().MergeDefinitionPath
			if err := modhub.WriteMergeDefinition(marker, modhub.MergeDefinition{SourcePath: args[0], Owner: owner}); err != nil {
				return err
			}
			a.printer().success("Merge staged from " + args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner recorded in the marker (defaults to the host name)")
	return cmd
}

func (a *app) canMergeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "can-merge [source-path]",
		Short: "Validate staged modules without merging them",
		Long: `Validate the modules staged under source-path, or under the source recorded
in the merge-intent marker when no path is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := ""
			if len(args) == 1 {
				source = args[0]
			} else {
				lease, err := modhub.ReadMergeDefinition(a.managerConfig().MergeDefinitionPath)
				if err != nil {
					return err
				}
				source = lease.SourcePath
			}

			manager, err := a.openManager(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = manager.Close() }()

			report, err := manager.CanMergeModules(cmd.Context(), source)
			a.printConflicts(report)
			if err != nil {
				return err
			}
			a.printer().success("Staged modules can be merged")
			return nil
		},
	}
}

func (a *app) mergeCommand() *cobra.Command {
	var keepDefinition, registerNew bool
	cmd := &cobra.Command{
		Use:   "merge <target-path>",
		Short: "Merge the staged module tree into a target directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := a.openManager(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = manager.Close() }()

			report, err := manager.MergeModules(cmd.Context(), args[0], !keepDefinition, registerNew)
			if err != nil {
				a.printConflicts(report)
				return err
			}

			p := a.printer()
			if p.json {
				items := make([]map[string]interface{}, 0, len(report.Items))
				for _, item := range report.Items {
					items = append(items, map[string]interface{}{
						"id":      item.ModuleID,
						"version": item.StagedVersion,
						"action":  string(item.Action),
						"path":    item.TargetPath,
					})
				}
				return p.emitJSON(map[string]interface{}{
					"state":          report.State.String(),
					"items":          items,
					"registered":     keyStrings(report.Registered),
					"unregistered":   keyStrings(report.Unregistered),
					"marker_removed": report.MarkerRemoved,
				})
			}
			p.success("Merge committed")
			rows := make([][]string, 0, len(report.Items))
			for _, item := range report.Items {
				rows = append(rows, []string{item.ModuleID, strconv.FormatUint(uint64(item.StagedVersion), 10), string(item.Action), item.TargetPath})
			}
			p.table([]string{"ID", "VERSION", "ACTION", "PATH"}, rows)
			for _, regErr := range report.RegistryErrors {
				p.warning(regErr.Error())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&keepDefinition, "keep-definition", false, "Leave the merge-intent marker in place")
	cmd.Flags().BoolVar(&registerNew, "register-new", false, "Register modules that were not registered before")
	return cmd
}

func (a *app) mergeStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "merge-status",
		Short: "Show whether a merge is staged",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			marker := a.managerConfig().MergeDefinitionPath
			lease, err := modhub.ReadMergeDefinition(marker)
			available := err == nil
			if err != nil && !modhub.HasErrorCode(err, modhub.ErrCodeMergeUnavailable) {
				return err
			}

			p := a.printer()
			if p.json {
				status := map[string]interface{}{"marker": marker, "available": available}
				if lease != nil {
					status["source_path"] = lease.SourcePath
					status["owner"] = lease.Owner
					status["created_at"] = lease.CreatedAt
				}
				return p.emitJSON(status)
			}
			if !available {
				p.warning("No merge staged")
				p.labelValue("Marker", marker)
				return nil
			}
			p.success("Merge staged")
			p.labelValue("Marker", marker)
			p.labelValue("Source", lease.SourcePath)
			if lease.Owner != "" {
				p.labelValue("Owner", lease.Owner)
			}
			p.labelValue("Created", lease.CreatedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}

func (a *app) printConflicts(report *modhub.MergeReport) {
	if report == nil || len(report.Conflicts) == 0 {
		return
	}
	p := a.printer()
	p.section("Conflicts")
	for _, c := range report.Conflicts {
		subject := c.ModuleID
		if subject == "" {
			subject = c.Path
		}
		p.failure(fmt.Sprintf("%s: %s", subject, c.Reason))
	}
}
