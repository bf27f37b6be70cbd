// Package report renders benchmark results as terminal tables, Markdown,
// JSON, Go benchmark text and Graphviz. Renderers only read the results.
package report

import (
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/justjake/querybench/pkg/timing"
)

// Meta describes the run a report belongs to.
type Meta struct {
	RunID     string    `json:"run_id"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	GitSHA    string    `json:"git_sha,omitempty"`
	GitBranch string    `json:"git_branch,omitempty"`
	GitDirty  bool      `json:"git_dirty,omitzero"`
	Settings  []Setting `json:"settings,omitempty"`
	// Files lists the artifacts written next to the Markdown report.
	Files []string `json:"-"`
}

// Setting is one row of the configuration summary.
type Setting struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Baseline holds the mean latency of a previous run by group and case.
type Baseline map[string]map[string]time.Duration

// Lookup returns the previous mean for group/name.
func (b Baseline) Lookup(group, name string) (time.Duration, bool) {
	d, ok := b[group][name]
	return d, ok
}

// Option configures a renderer.
type Option func(*options)

type options struct {
	baseline Baseline
}

// WithBaseline adds a column comparing each mean with prev.
func WithBaseline(prev Baseline) Option {
	return func(o *options) { o.baseline = prev }
}

func buildOptions(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// notes explains a result that cannot be read from its statistics alone.
func notes(r *timing.CaseResult) string {
	switch {
	case !r.OK():
		return "failed: " + r.Err.Error()
	case r.TimedOut:
		return fmt.Sprintf("timeout after %d iterations", r.Stats.Iterations)
	}
	return ""
}

// formatDuration prints d with an SI prefix, e.g. "1.23 ms".
func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return humanize.SIWithDigits(d.Seconds(), 2, "s")
}

// fastest returns the lowest mean among successful cases, or 0.
func fastest(g *timing.GroupResult) time.Duration {
	var best time.Duration
	for _, c := range g.Cases {
		if c.OK() && (best == 0 || c.Stats.Mean < best) {
			best = c.Stats.Mean
		}
	}
	return best
}

// relative prints how many times slower r is than the fastest case.
func relative(r *timing.CaseResult, best time.Duration) string {
	if !r.OK() || best == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2fx", float64(r.Stats.Mean)/float64(best))
}

// delta prints the change of r's mean against the baseline.
func delta(r *timing.CaseResult, b Baseline) string {
	prev, ok := b.Lookup(r.Group, r.Case)
	if !r.OK() || !ok || prev <= 0 {
		return "-"
	}
	pct := (float64(r.Stats.Mean) - float64(prev)) / float64(prev) * 100
	if math.Abs(pct) < 0.05 {
		return "~"
	}
	return fmt.Sprintf("%+.1f%%", pct)
}

// statsRow returns the statistics columns for r, blank for a failed case.
func statsRow(r *timing.CaseResult) []string {
	if !r.OK() {
		return []string{"-", "-", "-", "-", "-", "-"}
	}
	s := r.Stats
	return []string{
		humanize.Comma(int64(s.Iterations)),
		formatDuration(s.Mean),
		formatDuration(s.StdDev),
		formatDuration(s.P50),
		formatDuration(s.P90),
		formatDuration(s.P99),
	}
}

// caseRow is one table row shared by the text and Markdown reports.
func caseRow(r *timing.CaseResult, best time.Duration, o options) []string {
	row := []string{r.Case, string(r.Strategy)}
	row = append(row, statsRow(r)...)
	row = append(row, relative(r, best), rowsCell(r))
	if o.baseline != nil {
		row = append(row, delta(r, o.baseline))
	}
	return append(row, notes(r))
}

func rowsCell(r *timing.CaseResult) string {
	if r.Rows == 0 {
		return "-"
	}
	return humanize.Comma(int64(r.Rows))
}

func headers(o options) []string {
	h := []string{"case", "strategy", "iterations", "mean", "stddev", "p50", "p90", "p99", "relative", "rows"}
	if o.baseline != nil {
		h = append(h, "delta")
	}
	return append(h, "notes")
}
