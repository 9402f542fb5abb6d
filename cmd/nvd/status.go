package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/mschirtzinger/nvd-cache/internal/config"
	"github.com/mschirtzinger/nvd-cache/internal/store"
	"github.com/mschirtzinger/nvd-cache/internal/ui"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache location, size and feed freshness",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runStatus(cmd.Context(), cfg, cmd.OutOrStdout()); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading cache stats: %v\n", err)
			os.Exit(1)
		}
	},
}

func runStatus(ctx context.Context, c config.Config, w io.Writer) error {
	if _, err := os.Stat(c.DB); errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(w, "\n%s NVD cache not initialized\n", ui.RenderWarn("⚠"))
		fmt.Fprintf(w, "   Expected at: %s\n", c.DB)
		fmt.Fprintf(w, "   Run 'nvd sync' to create it\n\n")
		return nil
	}

	st, err := store.Open(c.DB)
	if err != nil {
		return err
	}
	stats, err := st.Stats(ctx)
	if err != nil {
		return err
	}

	ui.WriteStatus(w, st.Path(), stats)
	return nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
