package ui

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/mschirtzinger/nvd-cache/internal/sync"
)

const (
	defaultBarWidth = 30
	titleWidth      = 44
)

// Bar is a single-line progress bar driven by sync events.
type Bar struct {
	w       io.Writer
	width   int
	percent int
	drawn   bool
	done    bool
}

// NewBar returns a bar writing to w.
func NewBar(w io.Writer) *Bar {
	return &Bar{w: w, width: defaultBarWidth, percent: -1}
}

// Update implements sync.Progress.
func (b *Bar) Update(e sync.Event) {
	if b.done {
		return
	}
	pct := int(math.Round(e.Fraction() * 100))
	filled := b.width * pct / 100

	fmt.Fprintf(b.w, "\r%s %s%s %3d%%",
		fitTitle(fmt.Sprintf("[Feed: %s] %s", e.Partition, e.Detail)),
		AccentStyle.Render(strings.Repeat("█", filled)),
		MutedStyle.Render(strings.Repeat("░", b.width-filled)),
		pct)
	b.drawn = true
	b.percent = pct

	if e.Total > 0 && e.Completed >= e.Total {
		b.Finish()
	}
}

// fitTitle truncates or pads title to exactly titleWidth terminal cells.
func fitTitle(title string) string {
	title = ansi.Truncate(title, titleWidth, "…")
	if pad := titleWidth - ansi.StringWidth(title); pad > 0 {
		title += strings.Repeat(" ", pad)
	}
	return title
}

// Percent returns the last rendered percentage, -1 before the first event.
func (b *Bar) Percent() int {
	return b.percent
}

// Finish ends the bar line. It is safe to call more than once.
func (b *Bar) Finish() {
	if b.done {
		return
	}
	b.done = true
	if b.drawn {
		fmt.Fprintln(b.w)
	}
}
