package timing

import (
	"errors"
	"iter"
	"time"

	"github.com/justjake/querybench/pkg/executor"
)

// ErrTimeoutExceeded is the cause of a failed case whose time limit ran out
// before a single valid sample was collected.
var ErrTimeoutExceeded = errors.New("case time limit exceeded")

// Status is the final state of a case.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// CaseResult is the outcome of one case. It is not modified after RunAll
// returns.
type CaseResult struct {
	Group    string
	Case     string
	Strategy executor.Strategy
	Status   Status
	Err      error

	Stats Stats
	// TimedOut is set when the case hit its time limit. Stats then cover only
	// the samples collected before the limit.
	TimedOut bool
	// Rows is the row count reported by the case setup.
	Rows int
	// Warmup is the number of discarded warm-up iterations that ran.
	Warmup  int
	Elapsed time.Duration
}

// OK reports whether the case succeeded.
func (r *CaseResult) OK() bool {
	return r.Status == StatusOK
}

// GroupResult holds the results of one group in case definition order.
type GroupResult struct {
	Name  string
	Cases []*CaseResult
}

// Results holds every case result in group and case definition order.
type Results struct {
	Groups   []*GroupResult
	Started  time.Time
	Finished time.Time
}

// All iterates every case result in order.
func (r *Results) All() iter.Seq[*CaseResult] {
	return func(yield func(*CaseResult) bool) {
		for _, g := range r.Groups {
			for _, c := range g.Cases {
				if !yield(c) {
					return
				}
			}
		}
	}
}

// Map returns results keyed by group name and then case name.
func (r *Results) Map() map[string]map[string]*CaseResult {
	m := make(map[string]map[string]*CaseResult, len(r.Groups))
	for _, g := range r.Groups {
		cases := make(map[string]*CaseResult, len(g.Cases))
		for _, c := range g.Cases {
			cases[c.Case] = c
		}
		m[g.Name] = cases
	}
	return m
}

// Lookup returns the result for group/name, or nil.
func (r *Results) Lookup(group, name string) *CaseResult {
	for c := range r.All() {
		if c.Group == group && c.Case == name {
			return c
		}
	}
	return nil
}

// Counts returns the number of successful and failed cases.
func (r *Results) Counts() (ok, failed int) {
	for c := range r.All() {
		if c.OK() {
			ok++
		} else {
			failed++
		}
	}
	return ok, failed
}
