package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/omnitak/pluginhost/internal/config"
	"github.com/omnitak/pluginhost/internal/host"
	"github.com/omnitak/pluginhost/internal/logging"
	"github.com/omnitak/pluginhost/internal/metrics"
	"github.com/omnitak/pluginhost/internal/plugin"
	"github.com/omnitak/pluginhost/internal/plugin/api"
)

func newRunCommand(flags *globalFlags) *cobra.Command {
	var paths []string

	cmd := &cobra.Command{
		Use:   "run [package-dir]...",
		Short: "Run plugins against an in-memory host",
		Long: `Run loads every package in the plugin search paths, plus any package
directories given as arguments, activates them against an in-memory host and
keeps them running until interrupted. With watch enabled in the config,
package changes are logged as they happen.`,
		Example: `  # Run everything in the configured plugin paths
  omnitak-plugin run

  # Run one package under development with debug logging
  omnitak-plugin run --log-level debug ./weather`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if len(paths) > 0 {
				cfg.PluginPaths = paths
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runHost(ctx, cfg, args, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringSliceVar(&paths, "plugin-path", nil, "Plugin search path; replaces the configured paths")
	return cmd
}

// runHost runs the plugin system until ctx is done.
func runHost(ctx context.Context, cfg *config.Config, dirs []string, out, logOut io.Writer) error {
	logCfg := cfg.Logging()
	logCfg.Output = logOut
	logger := logging.New(logCfg)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	h := host.New(host.Config{
		HistorySize: cfg.CoT.HistorySize,
		HistoryTTL:  cfg.CoT.HistoryTTL.Duration,
	}, logger)
	h.CoT.OnSend = func(msg api.CoTMessage) {
		logger.Debug("cot out: %s %s", msg.UID, msg.Type)
	}

	policy := cfg.NetworkPolicy()
	sys := plugin.NewSystem(plugin.SystemConfig{
		ManagerConfig: plugin.ManagerConfig{
			PluginPaths:  cfg.PluginPaths,
			AutoActivate: cfg.AutoActivate,
			MaxParallel:  cfg.MaxParallel,
		},
		Platform:    cfg.Platform,
		HostVersion: cfg.ParsedHostVersion(),
		Providers:   h.Providers(),
		Entries: plugin.LuaLoader{
			ExecutionTimeout: cfg.Lua.ExecutionTimeout.Duration,
			QueueSize:        cfg.Lua.QueueSize,
		},
		Network:    &policy,
		Settings:   cfg.Plugins,
		Logger:     logger,
		Metrics:    m,
		Watch:      cfg.Watch,
		WatchDelay: cfg.WatchDelay.Duration,
	})
	if err := sys.Initialize(); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sys.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown: %v", err)
		}
	}()

	sys.Subscribe(func(e plugin.ManagerEvent) {
		switch {
		case e.Error != nil:
			logger.WithPlugin(e.Plugin).Warn("%s: %v", e.Type, e.Error)
		case e.Type == plugin.EventPackagesChanged:
			logger.Info("plugin packages changed; restart to load them")
		default:
			logger.WithPlugin(e.Plugin).Info("%s", e.Type)
		}
	})

	if err := sys.LoadAll(ctx); err != nil {
		logger.Warn("%v", err)
	}
	for _, dir := range dirs {
		if _, err := sys.InstallDir(ctx, dir); err != nil {
			logger.Warn("%s: %v", dir, err)
		}
	}

	printStats(out, sys.Stats())

	if cfg.Metrics.Enabled {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metrics.Handler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server: %v", err)
			}
		}()
		defer srv.Close()
		logger.Info("metrics on %s/metrics", cfg.Metrics.Addr)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func printStats(out io.Writer, stats plugin.SystemStats) {
	fmt.Fprintf(out, "%d plugins, %d active\n", stats.TotalPlugins, stats.ActivePlugins)
	if len(stats.Plugins) == 0 {
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVERSION\tSTATE\tERROR")
	for _, p := range stats.Plugins {
		errText := ""
		if p.Err != nil {
			errText = p.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Version, p.State, errText)
	}
	_ = w.Flush()
}
