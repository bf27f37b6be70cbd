// Package registry holds benchmark groups and their cases in the order they
// were defined. Nothing runs at registration time.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/justjake/querybench/pkg/executor"
)

// Operation is one logical unit of work, measured per iteration. It must
// return only after all of its sub-queries have completed.
type Operation func(ctx context.Context) error

// Setup runs once before a case is measured and reports how many rows one
// run of the operation returned, or 0 when it does not count them.
type Setup func(ctx context.Context) (rows int, err error)

// Case is a named benchmark bound to one executor.
type Case struct {
	Name      string
	Group     string
	Executor  executor.Executor
	Setup     Setup
	Operation Operation
}

// Strategy returns the strategy of the case's executor.
func (c *Case) Strategy() executor.Strategy {
	return c.Executor.Strategy()
}

// Group is an ordered set of logically equivalent cases.
type Group struct {
	Name  string
	Cases []*Case
}

// DuplicateNameError reports a group or case name defined twice.
type DuplicateNameError struct {
	Kind  string // "group" or "case"
	Group string
	Name  string
}

func (e *DuplicateNameError) Error() string {
	if e.Kind == "group" {
		return fmt.Sprintf("duplicate group name %q", e.Name)
	}
	return fmt.Sprintf("duplicate case name %q in group %q", e.Name, e.Group)
}

// Registry collects groups for a run.
type Registry struct {
	groups []*Group
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// GroupBuilder adds cases to one group.
type GroupBuilder struct {
	group *Group
}

// DefineGroup adds a group. Group names are unique within the registry.
func (r *Registry) DefineGroup(name string) (*GroupBuilder, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("group name must not be empty")
	}
	if r.lookup(name) != nil {
		return nil, &DuplicateNameError{Kind: "group", Name: name}
	}
	g := &Group{Name: name}
	r.groups = append(r.groups, g)
	return &GroupBuilder{group: g}, nil
}

// Name returns the group name.
func (b *GroupBuilder) Name() string {
	return b.group.Name
}

// DefineCase appends a case. setup may be nil.
func (b *GroupBuilder) DefineCase(name string, ex executor.Executor, setup Setup, op Operation) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("group %q: case name must not be empty", b.group.Name)
	case ex == nil:
		return fmt.Errorf("group %q case %q: executor is required", b.group.Name, name)
	case op == nil:
		return fmt.Errorf("group %q case %q: operation is required", b.group.Name, name)
	}
	for _, c := range b.group.Cases {
		if c.Name == name {
			return &DuplicateNameError{Kind: "case", Group: b.group.Name, Name: name}
		}
	}
	b.group.Cases = append(b.group.Cases, &Case{
		Name:      name,
		Group:     b.group.Name,
		Executor:  ex,
		Setup:     setup,
		Operation: op,
	})
	return nil
}

// Groups returns every group in definition order.
func (r *Registry) Groups() []*Group {
	return r.groups
}

// Len returns the number of cases across all groups.
func (r *Registry) Len() int {
	n := 0
	for _, g := range r.groups {
		n += len(g.Cases)
	}
	return n
}

func (r *Registry) lookup(name string) *Group {
	for _, g := range r.groups {
		if g.Name == name {
			return g
		}
	}
	return nil
}

// Filter keeps only the named groups, preserving definition order. An empty
// list keeps everything. Unknown names are an error.
func (r *Registry) Filter(names []string) error {
	if len(names) == 0 {
		return nil
	}
	var errs []error
	for _, n := range names {
		if r.lookup(n) == nil {
			errs = append(errs, fmt.Errorf("unknown group %q", n))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	r.groups = slices.DeleteFunc(r.groups, func(g *Group) bool {
		return !slices.Contains(names, g.Name)
	})
	return nil
}

// CheckMatrix verifies every group has exactly one case per strategy.
// All problems are reported together.
func (r *Registry) CheckMatrix(strategies []executor.Strategy) error {
	var errs []error
	for _, g := range r.groups {
		seen := make(map[executor.Strategy]string, len(g.Cases))
		for _, c := range g.Cases {
			s := c.Strategy()
			if prev, ok := seen[s]; ok {
				errs = append(errs, fmt.Errorf("group %q: cases %q and %q both use strategy %s", g.Name, prev, c.Name, s))
				continue
			}
			seen[s] = c.Name
		}
		for _, s := range strategies {
			if _, ok := seen[s]; !ok {
				errs = append(errs, fmt.Errorf("group %q: no case for strategy %s", g.Name, s))
			}
		}
	}
	return errors.Join(errs...)
}
