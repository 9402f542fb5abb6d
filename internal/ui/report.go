package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mschirtzinger/nvd-cache/internal/store"
	"github.com/mschirtzinger/nvd-cache/internal/sync"
)

// WriteSyncSummary prints the outcome of a sync run.
func WriteSyncSummary(w io.Writer, res *sync.Result) {
	if res == nil {
		return
	}

	fmt.Fprintf(w, "%s Sync complete in %v\n", RenderPass("✓"), res.Duration.Round(time.Millisecond))
	for _, p := range res.Partitions {
		stamp := ""
		if p.Current != nil {
			stamp = p.Current.FormatLastModified()
		}
		if p.Updated {
			fmt.Fprintf(w, "   %-10s %s %8s CVEs  %s\n",
				p.Name, RenderAccent("updated"), humanize.Comma(int64(p.Records-p.Skipped)), RenderMuted(stamp))
		} else {
			fmt.Fprintf(w, "   %-10s %s %13s  %s\n",
				p.Name, RenderMuted("current"), "", RenderMuted(stamp))
		}
	}
	if n := res.Skipped(); n > 0 {
		fmt.Fprintf(w, "%s %d records newer than their partition cutoff were skipped\n", RenderWarn("⚠"), n)
	}
}

// WriteStatus prints the cache location, size and per-partition fingerprints.
func WriteStatus(w io.Writer, path string, st *store.Stats) {
	fmt.Fprintf(w, "\n%s NVD Cache Status\n\n", RenderAccent("📊"))
	fmt.Fprintf(w, "   Location:   %s\n", path)
	fmt.Fprintf(w, "   Size:       %s\n", Bytes(uint64(st.SizeBytes)))
	fmt.Fprintf(w, "   Records:    %s\n", humanize.Comma(int64(st.Records)))
	fmt.Fprintf(w, "   Partitions: %d\n", len(st.Partitions))

	if len(st.Partitions) == 0 {
		fmt.Fprintf(w, "\n   Run 'nvd sync' to populate the cache\n\n")
		return
	}

	fmt.Fprintf(w, "\n   %s\n", RenderBold(fmt.Sprintf("%-10s %-20s %10s", "FEED", "LAST MODIFIED", "GZ SIZE")))
	for _, p := range st.Partitions {
		fmt.Fprintf(w, "   %-10s %-20s %10s\n", p.Name, p.Metadata.FormatLastModified(), Bytes(p.Metadata.GzSize))
	}
	fmt.Fprintln(w)
}
