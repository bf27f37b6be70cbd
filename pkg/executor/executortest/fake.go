// Package executortest provides an in-memory executor.Executor for tests.
package executortest

import (
	"context"
	"errors"
	"sync"

	"github.com/justjake/querybench/pkg/executor"
)

// Fake answers every query from Respond. It records the SQL it was asked to
// run and counts prepares, executions and closes.
type Fake struct {
	S executor.Strategy

	// Respond builds the result for one execution. A nil Respond returns an
	// empty RowSet.
	Respond func(sql string, params []any) (*executor.RowSet, error)

	// CloseErr is returned by every Close call.
	CloseErr error

	mu       sync.Mutex
	prepared map[string]*executor.Prepared
	queries  []string
	prepares int
	closes   int
}

// New returns a Fake for strategy s that answers every query with n rows.
func New(s executor.Strategy, n int) *Fake {
	return &Fake{S: s, Respond: func(string, []any) (*executor.RowSet, error) {
		return Rows(n), nil
	}}
}

// Rows returns a RowSet with n single-column rows.
func Rows(n int) *executor.RowSet {
	rs := &executor.RowSet{Columns: []string{"id"}}
	for i := range n {
		rs.Rows = append(rs.Rows, []any{i + 1})
	}
	return rs
}

func (f *Fake) Strategy() executor.Strategy { return f.S }

func (f *Fake) Prepare(_ context.Context, name string, q executor.Query) (*executor.Prepared, error) {
	sql, _, err := q.ToSql()
	if err != nil && !errors.Is(err, executor.ErrModelQuery) {
		return nil, &executor.QueryError{Strategy: f.S, Op: "prepare", Err: err}
	}
	if sql == "" {
		sql = "model:" + name
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.prepared[name]; ok {
		return p, nil
	}
	if f.prepared == nil {
		f.prepared = make(map[string]*executor.Prepared)
	}
	f.prepares++
	p := &executor.Prepared{Name: name, SQL: sql, Strategy: f.S}
	f.prepared[name] = p
	return p, nil
}

func (f *Fake) Execute(ctx context.Context, q executor.Query, params ...any) (*executor.RowSet, error) {
	if m, ok := q.(executor.Model); ok {
		return f.respond(ctx, "execute", "model:"+m.Name, params)
	}
	sql, _, err := q.ToSql()
	if err != nil {
		return nil, &executor.QueryError{Strategy: f.S, Op: "execute", Err: err}
	}
	return f.respond(ctx, "execute", sql, params)
}

func (f *Fake) ExecutePrepared(ctx context.Context, p *executor.Prepared, params ...any) (*executor.RowSet, error) {
	if p == nil {
		return nil, &executor.QueryError{Strategy: f.S, Op: "execute prepared", Err: errors.New("nil handle")}
	}
	return f.respond(ctx, "execute prepared", p.SQL, params)
}

func (f *Fake) respond(ctx context.Context, op, sql string, params []any) (*executor.RowSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, &executor.QueryError{Strategy: f.S, Op: op, Err: err}
	}
	f.mu.Lock()
	f.queries = append(f.queries, sql)
	f.mu.Unlock()

	if f.Respond == nil {
		return &executor.RowSet{}, nil
	}
	rs, err := f.Respond(sql, params)
	if err != nil {
		return nil, &executor.QueryError{Strategy: f.S, Op: op, Err: err}
	}
	return rs, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return f.CloseErr
}

// Queries returns the SQL of every execution so far.
func (f *Fake) Queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

// Prepares returns how many distinct statements were prepared.
func (f *Fake) Prepares() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prepares
}

// Closes returns how many times Close was called.
func (f *Fake) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}
