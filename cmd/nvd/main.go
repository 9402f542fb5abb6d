// Command nvd mirrors the NVD CVE JSON feeds into a local SQLite cache and
// searches it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mschirtzinger/nvd-cache/internal/config"
	"github.com/mschirtzinger/nvd-cache/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configFile string
	verbose    bool
	noProgress bool
)

// cfg is filled in by loadConfig before any subcommand runs.
var cfg config.Config

var rootCmd = &cobra.Command{
	Use:     "nvd",
	Short:   "Local cache of the NVD CVE feeds",
	Version: version,
	Long: `nvd keeps a local SQLite copy of the NVD CVE JSON 1.1 feeds.

Feeds are only downloaded when their metadata says they changed, so
repeated syncs are cheap. Settings come from flags, NVD_* environment
variables, and an optional nvd.yaml file.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// flagKeys maps CLI flags to configuration keys.
var flagKeys = map[string]string{
	"db":           "db",
	"url":          "url",
	"feeds":        "feeds",
	"mirror":       "daemon.mirror_dir",
	"force":        "force_update",
	"timeout":      "http.timeout",
	"log-file":     "log.file",
	"log-json":     "log.json",
	"schedule":     "daemon.schedule",
	"metrics-addr": "daemon.metrics_addr",
}

func loadConfig(cmd *cobra.Command, args []string) error {
	v := config.NewViper(configFile)

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
			bindErr = v.BindPFlag(key, f)
		}
	})
	if bindErr != nil {
		return bindErr
	}
	if verbose {
		v.Set("log.level", "debug")
	}
	if noProgress {
		v.Set("show_progress", false)
	}

	loaded, err := config.Load(v)
	if err != nil {
		return err
	}
	if err := logging.Init(loaded.LoggingOptions()); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	cfg = loaded
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: nvd.yaml in ., $XDG_CONFIG_HOME/nvd or ~/.config/nvd)")
	rootCmd.PersistentFlags().StringP("db", "d", "", "Path to SQLite database where CVE feed data will be stored")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print verbose logs")
	rootCmd.PersistentFlags().String("log-file", "", "Write logs to this file instead of stderr")
	rootCmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	_ = logging.Sync()
	if err != nil {
		os.Exit(1)
	}
}
