package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/justjake/querybench/pkg/timing"
)

var (
	groupStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00CED1"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#9B30FF")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	failStyle   = cellStyle.Foreground(lipgloss.Color("#FF5F5F"))
	warnStyle   = cellStyle.Foreground(lipgloss.Color("#FFAF00"))
	summary     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// Text renders one table per group, cases in definition order.
func Text(results *timing.Results, opts ...Option) string {
	o := buildOptions(opts)
	var b strings.Builder
	for i, g := range results.Groups {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(groupStyle.Render(g.Name))
		b.WriteString("\n")

		best := fastest(g)
		rows := make([][]string, len(g.Cases))
		for j, c := range g.Cases {
			rows[j] = caseRow(c, best, o)
		}
		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers(headers(o)...).
			Rows(rows...).
			StyleFunc(func(row, _ int) lipgloss.Style {
				switch {
				case row == table.HeaderRow:
					return headerStyle
				case !g.Cases[row].OK():
					return failStyle
				case g.Cases[row].TimedOut:
					return warnStyle
				}
				return cellStyle
			})
		b.WriteString(t.Render())
		b.WriteString("\n")
		if line := groupSummary(g); line != "" {
			b.WriteString(summary.Render(line))
			b.WriteString("\n")
		}
	}

	ok, failed := results.Counts()
	fmt.Fprintf(&b, "\n%d cases ok, %d failed\n", ok, failed)
	return b.String()
}

// groupSummary names the fastest strategy and how far behind the slowest is.
func groupSummary(g *timing.GroupResult) string {
	var fast, slow *timing.CaseResult
	for _, c := range g.Cases {
		if !c.OK() {
			continue
		}
		if fast == nil || c.Stats.Mean < fast.Stats.Mean {
			fast = c
		}
		if slow == nil || c.Stats.Mean > slow.Stats.Mean {
			slow = c
		}
	}
	if fast == nil || fast == slow {
		return ""
	}
	return fmt.Sprintf("%s is fastest; %s is %.2fx slower", fast.Case, slow.Case,
		float64(slow.Stats.Mean)/float64(fast.Stats.Mean))
}
