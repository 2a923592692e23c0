// watch.go: long-running merge watcher with event publishing and metrics
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/agilira/modhub"
)

func (a *app) watchCommand() *cobra.Command {
	var (
		eventsEndpoint string
		publishTimeout time.Duration
		metricsAddr    string
		mergeTarget    string
		registerNew    bool
		once           bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the merge-intent marker and optionally merge staged trees",
		Long: `Watch the merge-intent marker until interrupted. With --auto-merge every
staged tree is merged into the given target as soon as it appears. Module
events can be published to a remote ModuleEvents service and metrics served
for Prometheus. When --config is given the file is reloaded on change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if once && mergeTarget == "" {
				return modhub.NewInvalidConfigError("--once requires --auto-merge")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			manager, err := a.openManager(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = manager.Close() }()

			if file := a.v.GetString("config"); file != "" {
				reloader := modhub.NewConfigWatcher(manager, file, 0)
				if err := reloader.Start(); err != nil {
					return err
				}
				defer func() { _ = reloader.Stop() }()
			}

			if eventsEndpoint != "" {
				listener, err := modhub.NewGRPCListener(modhub.GRPCListenerConfig{
					Endpoint: eventsEndpoint,
					Timeout:  publishTimeout,
				}, nil)
				if err != nil {
					return err
				}
				defer func() { _ = listener.Close() }()
				manager.AddListener(modhub.NewBreakerListener(listener, modhub.BreakerConfig{}, nil))
			}

			if metricsAddr != "" {
				server := a.serveMetrics(metricsAddr)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = server.Shutdown(shutdownCtx)
				}()
			}

			changes := make(chan bool, 8)
			notify := func(available bool) {
				select {
				case changes <- available:
				default:
				}
			}
			if err := manager.WatchMergeDefinition(notify); err != nil {
				return err
			}
			if manager.IsModuleMergeAvailable() {
				notify(true)
			}

			p := a.printer()
			p.success("Watching " + manager.Config().MergeDefinitionPath)
			for {
				select {
				case <-ctx.Done():
					return nil
				case available := <-changes:
					if !available {
						p.item("No merge staged")
						continue
					}
					p.item("Merge staged")
					if mergeTarget == "" {
						continue
					}
					report, err := manager.MergeModules(ctx, mergeTarget, true, registerNew)
					if err != nil {
						a.printConflicts(report)
						if once {
							return err
						}
						p.failure(err.Error())
						continue
					}
					p.success(fmt.Sprintf("Merge committed (%s)", count(len(report.Items), "module", "modules")))
					if once {
						return nil
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&eventsEndpoint, "events-endpoint", "", "Publish module events to this gRPC ModuleEvents endpoint")
	cmd.Flags().DurationVar(&publishTimeout, "publish-timeout", modhub.DefaultPublishTimeout, "Deadline of one event publish call")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().StringVar(&mergeTarget, "auto-merge", "", "Merge staged trees into this directory")
	cmd.Flags().BoolVar(&registerNew, "register-new", false, "Register modules that were not registered before")
	cmd.Flags().BoolVar(&once, "once", false, "Exit after the first automatic merge")
	return cmd
}

func (a *app) serveMetrics(addr string) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.printer().failure("metrics server: " + err.Error())
		}
	}()
	return server
}
