package report

import (
	"bufio"
	"fmt"
	"io"
	"runtime"
	"strings"
	"unicode"

	"github.com/justjake/querybench/pkg/timing"
)

// WriteGoBench writes results in the Go benchmark text format so that runs
// can be compared with benchstat. Failed cases become comment lines.
func WriteGoBench(w io.Writer, results *timing.Results) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "goos: %s\n", runtime.GOOS)
	fmt.Fprintf(bw, "goarch: %s\n", runtime.GOARCH)
	fmt.Fprintf(bw, "pkg: github.com/justjake/querybench\n")
	for r := range results.All() {
		name := BenchName(r.Group, r.Case)
		if !r.OK() {
			fmt.Fprintf(bw, "# FAIL %s: %v\n", name, r.Err)
			continue
		}
		fmt.Fprintf(bw, "%s\t%d\t%d ns/op", name, r.Stats.Iterations, r.Stats.Mean.Nanoseconds())
		if r.Rows > 0 {
			fmt.Fprintf(bw, "\t%d rows/op", r.Rows)
		}
		bw.WriteString("\n")
	}
	return bw.Flush()
}

// BenchName returns the benchmark name for a case, with whitespace replaced
// the way go test does for subtests.
func BenchName(group, name string) string {
	clean := func(s string) string {
		return strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return '_'
			}
			return r
		}, s)
	}
	return "BenchmarkQuery/" + clean(group) + "/" + clean(name)
}
