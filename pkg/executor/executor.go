// Package executor wraps each database-access strategy behind a single
// Executor capability so that benchmark cases can be written against one
// interface and compared fairly.
package executor

import (
	"context"
	"fmt"
	"slices"
)

// Strategy identifies a database-access strategy.
type Strategy string

const (
	// Raw sends unnamed statements through pgx with statement caching disabled.
	Raw Strategy = "raw"
	// RawPrepared executes named server-side prepared statements through pgx.
	RawPrepared Strategy = "raw-prepared"
	// PQ sends raw SQL through lib/pq and database/sql.
	PQ Strategy = "pq"
	// Builder composes SQL with squirrel on every call.
	Builder Strategy = "builder"
	// BuilderPrepared compiles a squirrel query once into a prepared statement.
	BuilderPrepared Strategy = "builder-prepared"
	// ORM goes through gorm's model API.
	ORM Strategy = "orm"
)

// KnownStrategies lists every strategy in its canonical order. The index of a
// strategy in this list determines its backend port.
var KnownStrategies = []Strategy{Raw, RawPrepared, PQ, Builder, BuilderPrepared, ORM}

// Index returns the position of s in KnownStrategies, or -1.
func (s Strategy) Index() int {
	return slices.Index(KnownStrategies, s)
}

// Prepared reports whether cases of this strategy run through prepared handles.
func (s Strategy) Prepared() bool {
	return s == RawPrepared || s == BuilderPrepared
}

func (s Strategy) String() string {
	return string(s)
}

// ParseStrategy validates a strategy name.
func ParseStrategy(name string) (Strategy, error) {
	s := Strategy(name)
	if s.Index() < 0 {
		return "", fmt.Errorf("unknown strategy %q (known: %v)", name, KnownStrategies)
	}
	return s, nil
}

// Query is anything that can render itself to SQL text plus bound arguments.
// It has the same shape as squirrel.Sqlizer, so builder queries are Queries.
type Query interface {
	ToSql() (string, []any, error)
}

// SQL is literal SQL text used as a Query.
type SQL string

func (s SQL) ToSql() (string, []any, error) {
	return string(s), nil, nil
}

// Prepared is a handle returned by Executor.Prepare. It is only valid for the
// executor that created it.
type Prepared struct {
	Name     string
	SQL      string
	Strategy Strategy

	handle any
}

// RowSet holds a fully consumed result.
type RowSet struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows.
func (r *RowSet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Executor runs queries for one strategy against one backend instance.
//
// Execute and ExecutePrepared return only after every row has been read.
// Errors are always *QueryError. Executors never retry.
type Executor interface {
	Strategy() Strategy
	Prepare(ctx context.Context, name string, q Query) (*Prepared, error)
	Execute(ctx context.Context, q Query, params ...any) (*RowSet, error)
	ExecutePrepared(ctx context.Context, p *Prepared, params ...any) (*RowSet, error)
	Close() error
}

// render converts q to SQL and appends any explicit params after the query's
// own arguments.
func render(q Query, params []any) (string, []any, error) {
	if q == nil {
		return "", nil, fmt.Errorf("nil query")
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("render query: %w", err)
	}
	if len(params) > 0 {
		args = append(args, params...)
	}
	return sql, args, nil
}
