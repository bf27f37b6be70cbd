package report

import (
	"fmt"

	"github.com/awalterschulze/gographviz"

	"github.com/justjake/querybench/pkg/timing"
)

// DOT renders the benchmark matrix as a Graphviz digraph: one node per group
// with an edge to each of its cases, coloured by outcome.
func DOT(results *timing.Results) (string, error) {
	g := gographviz.NewEscape()
	if err := g.SetName("querybench"); err != nil {
		return "", err
	}
	if err := g.SetDir(true); err != nil {
		return "", err
	}
	if err := g.AddAttr("querybench", "rankdir", "LR"); err != nil {
		return "", err
	}

	for _, gr := range results.Groups {
		if err := g.AddNode("querybench", gr.Name, map[string]string{"shape": "box"}); err != nil {
			return "", fmt.Errorf("group %q: %w", gr.Name, err)
		}
		for _, c := range gr.Cases {
			id := gr.Name + "/" + c.Case
			label := c.Case + `\n` + formatDuration(c.Stats.Mean)
			if !c.OK() {
				label = c.Case + `\nfailed`
			}
			attrs := map[string]string{
				"label":     label,
				"style":     "filled",
				"fillcolor": statusColor(c),
			}
			if err := g.AddNode("querybench", id, attrs); err != nil {
				return "", fmt.Errorf("case %q: %w", id, err)
			}
			if err := g.AddEdge(gr.Name, id, true, nil); err != nil {
				return "", fmt.Errorf("edge %q: %w", id, err)
			}
		}
	}
	return g.String(), nil
}

func statusColor(c *timing.CaseResult) string {
	switch {
	case !c.OK():
		return "lightcoral"
	case c.TimedOut:
		return "khaki"
	}
	return "palegreen"
}
