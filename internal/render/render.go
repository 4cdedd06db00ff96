// Package render prints line diffs for terminals.
package render

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"

	"github.com/thiagokokada/p4vcs-go/internal/vcs"
)

type Options struct {
	Color  bool
	Syntax bool
	// Context is the number of unchanged lines kept around each change.
	// Negative values print every line.
	Context int
}

// IsTerminal reports whether f is an interactive terminal that accepts
// colour. NO_COLOR disables colour everywhere.
func IsTerminal(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

type Renderer struct {
	opts Options

	header    lipgloss.Style
	lineNo    lipgloss.Style
	elided    lipgloss.Style
	unchanged lipgloss.Style
	added     lipgloss.Style
	removed   lipgloss.Style
	modified  lipgloss.Style

	syntax *chroma.Style
}

func New(w io.Writer, opts Options) *Renderer {
	lg := lipgloss.NewRenderer(w)
	if !opts.Color {
		lg.SetColorProfile(termenv.Ascii)
	}
	base := lg.NewStyle().TabWidth(lipgloss.NoTabConversion)
	r := &Renderer{
		opts:      opts,
		header:    base.Bold(true),
		lineNo:    base.Foreground(lipgloss.Color("241")),
		elided:    base.Foreground(lipgloss.Color("240")),
		unchanged: base,
		added:     base.Foreground(lipgloss.Color("2")),
		removed:   base.Foreground(lipgloss.Color("1")),
		modified:  base.Foreground(lipgloss.Color("3")),
	}
	if opts.Color && opts.Syntax {
		r.syntax = styleForBackground(lg.HasDarkBackground())
	}
	return r
}

// Counts tallies diff records by kind.
type Counts struct {
	Unchanged, Added, Removed, Modified int
}

func Count(lines []vcs.DiffLine) Counts {
	var c Counts
	for _, l := range lines {
		switch l.Kind {
		case vcs.Unchanged:
			c.Unchanged++
		case vcs.Added:
			c.Added++
		case vcs.Removed:
			c.Removed++
		case vcs.Modified:
			c.Modified++
		}
	}
	return c
}

func (c Counts) String() string {
	return fmt.Sprintf("+%d -%d ~%d", c.Added, c.Removed, c.Modified)
}

// Lines writes a header for path followed by one row per record.
func (r *Renderer) Lines(w io.Writer, path, system string, lines []vcs.DiffLine) error {
	bw := bufio.NewWriter(w)
	counts := Count(lines)
	fmt.Fprintln(bw, r.header.Render(fmt.Sprintf("%s (%s) %s", path, system, counts)))
	if counts.Added+counts.Removed+counts.Modified == 0 {
		fmt.Fprintln(bw, r.elided.Render("  no changes"))
		return bw.Flush()
	}
	keep := r.visible(lines)
	skipped := false
	for i, l := range lines {
		if !keep[i] {
			skipped = true
			continue
		}
		if skipped {
			fmt.Fprintln(bw, r.elided.Render("  ..."))
			skipped = false
		}
		if l.Kind == vcs.Modified {
			fmt.Fprintln(bw, r.row(vcs.Removed, l.OldLine, 0, path, l.Previous))
			fmt.Fprintln(bw, r.row(vcs.Modified, 0, l.NewLine, path, l.Content))
			continue
		}
		fmt.Fprintln(bw, r.row(l.Kind, l.OldLine, l.NewLine, path, l.Content))
	}
	if skipped {
		fmt.Fprintln(bw, r.elided.Render("  ..."))
	}
	return bw.Flush()
}

func (r *Renderer) row(kind vcs.ChangeKind, oldLine, newLine int, path, content string) string {
	marker := kind.Marker()
	style := r.styleFor(kind)
	numbers := r.lineNo.Render(fmt.Sprintf("%5s %5s", lineNumber(oldLine), lineNumber(newLine)))
	body := style.Render(content)
	if kind == vcs.Unchanged || kind == vcs.Added || kind == vcs.Modified {
		if hl, ok := r.highlight(path, content); ok {
			body = hl
		}
	}
	return fmt.Sprintf("%s %s %s", numbers, style.Render(marker), body)
}

func (r *Renderer) styleFor(kind vcs.ChangeKind) lipgloss.Style {
	switch kind {
	case vcs.Added:
		return r.added
	case vcs.Removed:
		return r.removed
	case vcs.Modified:
		return r.modified
	default:
		return r.unchanged
	}
}

// visible marks the records to print given the context setting.
func (r *Renderer) visible(lines []vcs.DiffLine) []bool {
	keep := make([]bool, len(lines))
	if r.opts.Context < 0 {
		for i := range keep {
			keep[i] = true
		}
		return keep
	}
	for i, l := range lines {
		if l.Kind == vcs.Unchanged {
			continue
		}
		lo := max(0, i-r.opts.Context)
		hi := min(len(lines)-1, i+r.opts.Context)
		for k := lo; k <= hi; k++ {
			keep[k] = true
		}
	}
	return keep
}

func lineNumber(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}

// Unified writes a unified diff, colouring headers, hunks and edits.
func (r *Renderer) Unified(w io.Writer, text string) error {
	bw := bufio.NewWriter(w)
	for line := range strings.Lines(text) {
		line = strings.TrimSuffix(line, "\n")
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
			line = r.header.Render(line)
		case strings.HasPrefix(line, "@@"):
			line = r.lineNo.Render(line)
		case strings.HasPrefix(line, "+"):
			line = r.added.Render(line)
		case strings.HasPrefix(line, "-"):
			line = r.removed.Render(line)
		}
		fmt.Fprintln(bw, line)
	}
	return bw.Flush()
}
