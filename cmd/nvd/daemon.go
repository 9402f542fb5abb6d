package main

import (
	"fmt"
	"os"

	"github.com/mschirtzinger/nvd-cache/internal/daemon"
	"github.com/mschirtzinger/nvd-cache/internal/logging"
	"github.com/mschirtzinger/nvd-cache/internal/ui"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Keep the cache in sync in the background",
	Long: `Run in the foreground and keep the local cache current.

The daemon:
  1. Syncs once on start
  2. Syncs again on the cron schedule (--schedule, default @hourly)
  3. Syncs when *.meta files change in the --mirror directory
  4. Serves Prometheus metrics on --metrics-addr when set

A failed sync is logged and retried on the next trigger.
Stop with Ctrl+C or SIGTERM.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		syncer, err := newSyncer(cfg, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		d, err := daemon.New(syncer, daemon.Config{
			Schedule:    cfg.Daemon.Schedule,
			Debounce:    cfg.Daemon.Debounce,
			MirrorDir:   cfg.Daemon.MirrorDir,
			MetricsAddr: cfg.Daemon.MetricsAddr,
			Logger:      logging.WithModule("daemon"),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Starting NVD sync daemon (%s)\n", ui.RenderAccent("🚀"), cfg.Daemon.Schedule)
		if cfg.Daemon.MirrorDir != "" {
			fmt.Printf("   Watching: %s\n", cfg.Daemon.MirrorDir)
		}
		if cfg.Daemon.MetricsAddr != "" {
			fmt.Printf("   Metrics:  http://%s/metrics\n", cfg.Daemon.MetricsAddr)
		}
		fmt.Printf("   Press Ctrl+C to stop\n\n")

		if err := d.Start(cmd.Context()); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Daemon stopped after %d runs\n", ui.RenderPass("✓"), d.Runs())
	},
}

func init() {
	daemonCmd.Flags().String("schedule", "", "Cron schedule for syncs (default @hourly)")
	daemonCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9464")
	daemonCmd.Flags().String("mirror", "", "Sync from and watch this local mirror directory")
	daemonCmd.Flags().StringP("url", "u", "", "URL to use for fetching feeds")
	daemonCmd.Flags().StringSliceP("feeds", "l", nil, "Comma separated list of CVE feeds to sync")
	rootCmd.AddCommand(daemonCmd)
}
