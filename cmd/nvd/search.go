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
	"github.com/tidwall/pretty"
)

// Exit codes for search.
const (
	exitNoResults    = 1
	exitTextSearch   = 2
	exitLookupFailed = 3
)

var searchText string

var searchCmd = &cobra.Command{
	Use:   "search [CVE-ID]",
	Short: "Search for a CVE by ID in the local cache",
	Long: `Print a cached CVE as JSON, or with --text list the IDs of CVEs
whose English description contains the given text.

SQL LIKE wildcards (% and _) in --text are honoured.

Exit codes:
  1  no CVE description matched --text
  2  the text search failed
  3  the ID lookup failed (including not found)`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		if id == "" && searchText == "" {
			return fmt.Errorf("a CVE ID or --text is required")
		}

		if code := runSearch(cmd.Context(), cfg, id, searchText, cmd.OutOrStdout(), cmd.ErrOrStderr()); code != 0 {
			os.Exit(code)
		}
		return nil
	},
}

// runSearch performs the lookup and returns the process exit code.
func runSearch(ctx context.Context, c config.Config, id, text string, stdout, stderr io.Writer) int {
	st, err := store.Open(c.DB)
	if err != nil {
		fmt.Fprintf(stderr, "Fatal Error: %v\n", err)
		if text != "" {
			return exitTextSearch
		}
		return exitLookupFailed
	}
	svc := query.New(st)

	if text != "" {
		ids, err := svc.FindByDescription(ctx, text)
		if err != nil {
			fmt.Fprintf(stderr, "Fatal Error: %v\n", err)
			return exitTextSearch
		}
		if len(ids) == 0 {
			fmt.Fprintln(stderr, "No results found")
			return exitNoResults
		}
		for _, id := range ids {
			fmt.Fprintln(stdout, id)
		}
		return 0
	}

	rec, err := svc.FindByID(ctx, id)
	if err != nil {
		fmt.Fprintf(stderr, "Fatal Error: %v\n", err)
		return exitLookupFailed
	}

	out := pretty.Pretty([]byte(rec.Payload))
	if ui.IsTerminal(stdout) && ui.ShouldUseColor() {
		out = pretty.Color(out, nil)
	}
	_, _ = stdout.Write(out)
	return 0
}

func init() {
	searchCmd.Flags().StringVarP(&searchText, "text", "t", "", "Search the CVE descriptions instead")
	rootCmd.AddCommand(searchCmd)
}

