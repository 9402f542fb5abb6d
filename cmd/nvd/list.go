package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mschirtzinger/nvd-cache/internal/config"
	"github.com/mschirtzinger/nvd-cache/internal/query"
	"github.com/mschirtzinger/nvd-cache/internal/store"
	"github.com/mschirtzinger/nvd-cache/internal/ui"
	"github.com/spf13/cobra"
)

const listDescriptionWidth = 72

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every cached CVE",
	Long: `Print one line per cached CVE: the ID followed by the start of its
English description. CVEs without an English description show "-".`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runList(cmd.Context(), cfg, cmd.OutOrStdout()); err != nil {
			fmt.Fprintf(os.Stderr, "Fatal Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func runList(ctx context.Context, c config.Config, w io.Writer) error {
	st, err := store.Open(c.DB)
	if err != nil {
		return err
	}

	records, err := query.New(st).All(ctx)
	if err != nil {
		return err
	}

	width := ui.TerminalWidth(w, 18+listDescriptionWidth) - 18
	if width < 20 {
		width = 20
	}
	for _, r := range records {
		desc := "-"
		if r.Description != nil {
			desc = truncate(*r.Description, width)
		}
		fmt.Fprintf(w, "%-16s  %s\n", r.ID, desc)
	}
	return nil
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}

func init() {
	rootCmd.AddCommand(listCmd)
}
