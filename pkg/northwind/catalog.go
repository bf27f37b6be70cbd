// Package northwind holds the benchmark matrix: a Northwind-style schema, a
// deterministic fixture to seed it with, and the same fourteen logical
// queries written once per access strategy.
package northwind

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/justjake/querybench/pkg/executor"
	"github.com/justjake/querybench/pkg/registry"
)

var errNotPrepared = errors.New("statement not prepared; setup did not run")

// RowCountError is returned by a case setup when the strategy returned a
// different number of rows than every other strategy is expected to.
type RowCountError struct {
	Group    string
	Strategy executor.Strategy
	Got      int
	Want     int
}

func (e *RowCountError) Error() string {
	return fmt.Sprintf("%s returned %d rows for %q, want %d", e.Strategy, e.Got, e.Group, e.Want)
}

// Groups returns the name of every group in report order.
func Groups() []string {
	names := make([]string, len(catalog))
	for i, q := range catalog {
		names[i] = q.group
	}
	return names
}

// Register defines every group in reg with one case per executor, in
// strategy order. Cases are named after their strategy.
func Register(reg *registry.Registry, executors map[executor.Strategy]executor.Executor, fx *Fixture) error {
	for _, q := range catalog {
		g, err := reg.DefineGroup(q.group)
		if err != nil {
			return err
		}
		for _, s := range executor.KnownStrategies {
			ex, ok := executors[s]
			if !ok {
				continue
			}
			r := newRunner(q, ex, fx)
			if err := g.DefineCase(string(s), ex, r.setup, r.operation); err != nil {
				return err
			}
		}
	}
	return nil
}

// runner executes one query through one executor.
type runner struct {
	q      query
	ex     executor.Executor
	params [][]any
	want   int

	prepared *executor.Prepared
}

func newRunner(q query, ex executor.Executor, fx *Fixture) *runner {
	r := &runner{q: q, ex: ex, want: q.rows(fx)}
	if q.params != nil {
		r.params = q.params(fx)
	}
	return r
}

// template returns arguments that give the query its final SQL shape. The
// values only matter for the builder, which binds them at build time.
func (r *runner) template() []any {
	switch {
	case r.q.shape == pages:
		return []any{pageSize, 0}
	case len(r.params) > 0:
		return r.params[0]
	}
	return nil
}

// setup prepares the statement when the strategy needs one and runs the
// operation once to check it returns the expected rows.
func (r *runner) setup(ctx context.Context) (int, error) {
	var (
		p   *executor.Prepared
		err error
	)
	switch r.ex.Strategy() {
	case executor.RawPrepared:
		p, err = r.ex.Prepare(ctx, r.q.stmt, executor.SQL(r.q.sql))
	case executor.BuilderPrepared:
		p, err = r.ex.Prepare(ctx, r.q.stmt, r.q.build(r.template()...))
	}
	if err != nil {
		return 0, err
	}
	r.prepared = p

	rows, err := r.run(ctx)
	if err != nil {
		return rows, err
	}
	if rows != r.want {
		return rows, &RowCountError{Group: r.q.group, Strategy: r.ex.Strategy(), Got: rows, Want: r.want}
	}
	return rows, nil
}

func (r *runner) operation(ctx context.Context) error {
	_, err := r.run(ctx)
	return err
}

// run performs one logical operation and returns the total rows read.
func (r *runner) run(ctx context.Context) (int, error) {
	switch r.q.shape {
	case each:
		total := 0
		for _, args := range r.params {
			n, err := r.call(ctx, args)
			if err != nil {
				return total, err
			}
			total += n
		}
		return total, nil

	case fanOut:
		var total atomic.Int64
		g, gctx := errgroup.WithContext(ctx)
		for _, args := range r.params {
			g.Go(func() error {
				n, err := r.call(gctx, args)
				total.Add(int64(n))
				return err
			})
		}
		err := g.Wait()
		return int(total.Load()), err

	case pages:
		total := 0
		for offset := 0; ; offset += pageSize {
			n, err := r.call(ctx, []any{pageSize, offset})
			if err != nil {
				return total, err
			}
			total += n
			if n < pageSize {
				return total, nil
			}
		}
	}
	return r.call(ctx, nil)
}

func (r *runner) call(ctx context.Context, args []any) (int, error) {
	var (
		rs  *executor.RowSet
		err error
	)
	switch s := r.ex.Strategy(); {
	case s.Prepared():
		if r.prepared == nil {
			return 0, errNotPrepared
		}
		rs, err = r.ex.ExecutePrepared(ctx, r.prepared, args...)
	case s == executor.Builder:
		rs, err = r.ex.Execute(ctx, r.q.build(args...))
	case s == executor.ORM:
		rs, err = r.ex.Execute(ctx, r.q.model, args...)
	default:
		rs, err = r.ex.Execute(ctx, executor.SQL(r.q.sql), args...)
	}
	return rs.Len(), err
}
