package report

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"github.com/justjake/querybench/pkg/timing"
)

// Markdown renders the BENCHMARK.md report for a run.
func Markdown(meta Meta, results *timing.Results, opts ...Option) string {
	o := buildOptions(opts)
	var b strings.Builder

	b.WriteString("# Benchmark Results\n\n")
	if meta.RunID != "" {
		fmt.Fprintf(&b, "**Execution ID:** `%s`\n\n", meta.RunID)
	}
	if !meta.Started.IsZero() {
		fmt.Fprintf(&b, "**Started:** %s\n\n", meta.Started.Format(time.RFC3339))
		if !meta.Finished.IsZero() {
			fmt.Fprintf(&b, "**Duration:** %s\n\n", meta.Finished.Sub(meta.Started).Round(time.Second))
		}
	}
	if meta.GitSHA != "" {
		sha := meta.GitSHA
		if len(sha) > 12 {
			sha = sha[:12]
		}
		dirty := ""
		if meta.GitDirty {
			dirty = " (dirty)"
		}
		fmt.Fprintf(&b, "**Git:** `%s` on `%s`%s\n\n", sha, meta.GitBranch, dirty)
	}

	if len(meta.Settings) > 0 {
		b.WriteString("## Configuration\n\n")
		b.WriteString("| Setting | Value |\n")
		b.WriteString("|---------|-------|\n")
		for _, s := range meta.Settings {
			fmt.Fprintf(&b, "| %s | %s |\n", s.Name, escapeCell(s.Value))
		}
		b.WriteString("\n")
	}

	ok, failed := results.Counts()
	fmt.Fprintf(&b, "## Results\n\n%d cases ok, %d failed.\n\n", ok, failed)

	hdr := headers(o)
	for _, g := range results.Groups {
		fmt.Fprintf(&b, "### %s\n\n", escapeCell(g.Name))
		b.WriteString("| " + strings.Join(hdr, " | ") + " |\n")
		b.WriteString("|" + strings.Repeat("---|", len(hdr)) + "\n")
		best := fastest(g)
		for _, c := range g.Cases {
			row := caseRow(c, best, o)
			for i := range row {
				row[i] = escapeCell(row[i])
			}
			b.WriteString("| " + strings.Join(row, " | ") + " |\n")
		}
		if line := groupSummary(g); line != "" {
			fmt.Fprintf(&b, "\n_%s_\n", line)
		}
		b.WriteString("\n")
	}

	if len(meta.Files) > 0 {
		b.WriteString("## Output Files\n\n")
		b.WriteString("| File | Description |\n")
		b.WriteString("|------|-------------|\n")
		for _, f := range meta.Files {
			fmt.Fprintf(&b, "| `%s` | %s |\n", f, describeOutputFile(f))
		}
	}
	return b.String()
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

// describeOutputFile returns a human-readable description for a run artifact.
func describeOutputFile(name string) string {
	descriptions := map[string]string{
		"BENCHMARK.md": "This benchmark report",
		"results.json": "Per-case results in JSON format (for programmatic analysis)",
		"bench.txt":    "Go benchmark format (benchstat compatible)",
		"matrix.dot":   "Group and case matrix coloured by status (Graphviz)",
		"report.txt":   "Plain text tables as printed to the terminal",
		"git-sha":      "Git commit SHA of the checkout running the benchmark",
		"git-branch":   "Git branch name of the benchmark runner",
		"git-diff":     "Output of `git diff` showing uncommitted changes",
		"git-status":   "Output of `git status --short`",
	}
	if desc, ok := descriptions[name]; ok {
		return desc
	}
	return "Benchmark artifact"
}

// TerminalWidth returns the width of f when it is a terminal.
func TerminalWidth(f *os.File) (int, bool) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return 0, false
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return 80, true
	}
	return w, true
}

// RenderMarkdown styles md for a terminal of the given width.
func RenderMarkdown(md string, width int) (string, error) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	return renderer.Render(md)
}
