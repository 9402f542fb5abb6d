package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mschirtzinger/nvd-cache/internal/config"
	"github.com/mschirtzinger/nvd-cache/internal/feed"
	"github.com/mschirtzinger/nvd-cache/internal/store"
	"github.com/mschirtzinger/nvd-cache/internal/sync"
	"github.com/mschirtzinger/nvd-cache/internal/ui"
	"github.com/spf13/cobra"
)

var showDefault bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync CVE feeds to the local database",
	Long: `Sync the configured CVE feeds into the local cache.

For every feed, in order:
  1. Fetch nvdcve-1.1-<feed>.meta
  2. Skip the feed if the cached copy is at least as new (unless --force)
  3. Otherwise fetch nvdcve-1.1-<feed>.json.gz and upsert its CVEs
  4. Record the new metadata

Rolling feeds (recent, modified) should come after the yearly feeds.
The first failure stops the sync; feeds already synced are kept.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showDefault {
			fmt.Fprintf(cmd.OutOrStdout(), "Default Config Values:\n%s", config.Default())
			return nil
		}

		if err := runSync(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr()); err != nil {
			fmt.Fprintf(os.Stderr, "%s Fatal Error: %v\n", ui.RenderFail("✗"), err)
			os.Exit(1)
		}
		return nil
	},
}

// newSource picks the local mirror when one is configured, else HTTP.
func newSource(c config.Config) (feed.Source, error) {
	if c.Daemon.MirrorDir != "" {
		return feed.NewDirSource(c.Daemon.MirrorDir)
	}

	opts := []feed.HTTPOption{feed.WithTimeout(c.HTTP.Timeout)}
	if c.HTTP.UserAgent != "" {
		opts = append(opts, feed.WithUserAgent(c.HTTP.UserAgent))
	}
	return feed.NewHTTPSource(c.URL, opts...)
}

// newSyncer wires the store, source and progress reporting for c.
func newSyncer(c config.Config, progress sync.Progress) (sync.Syncer, error) {
	st, err := store.Open(c.DB)
	if err != nil {
		return nil, err
	}
	src, err := newSource(c)
	if err != nil {
		return nil, err
	}

	var opts []sync.Option
	if progress != nil {
		opts = append(opts, sync.WithProgress(progress))
	}
	return sync.New(st, src, c.SyncConfig(), opts...), nil
}

func runSync(ctx context.Context, c config.Config, stdout, stderr io.Writer) error {
	var bar *ui.Bar
	var progress sync.Progress
	if c.ShowProgress && ui.IsTerminal(stderr) {
		bar = ui.NewBar(stderr)
		progress = bar
	}

	syncer, err := newSyncer(c, progress)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "%s Syncing %d feeds into %s...\n", ui.RenderAccent("🔄"), len(c.Feeds), c.DB)
	res, err := syncer.Run(ctx)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return err
	}

	ui.WriteSyncSummary(stdout, res)
	return nil
}

func init() {
	syncCmd.Flags().StringP("url", "u", "", "URL to use for fetching feeds (default "+config.DefaultURL+")")
	syncCmd.Flags().StringSliceP("feeds", "l", nil, "Comma separated list of CVE feeds to fetch and sync (default: all known feeds)")
	syncCmd.Flags().String("mirror", "", "Read feeds from this local mirror directory instead of the URL")
	syncCmd.Flags().Duration("timeout", 0, "HTTP timeout per request (default 5m)")
	syncCmd.Flags().BoolVarP(&showDefault, "show-default", "s", false, "Show default config values and exit")
	syncCmd.Flags().BoolVarP(&noProgress, "no-progress", "n", false, "Don't show progress bar when syncing feeds")
	syncCmd.Flags().BoolP("force", "f", false, "Ignore existing metadata and force update all feeds")
	rootCmd.AddCommand(syncCmd)
}
