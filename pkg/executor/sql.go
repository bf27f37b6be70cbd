package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	sq "github.com/Masterminds/squirrel"
)

// StatementBuilder builds squirrel queries with PostgreSQL placeholders.
var StatementBuilder = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// SQLExecutor runs a strategy on a database/sql pool. It backs the builder
// strategies (pgx stdlib driver) and the pq strategy (lib/pq driver).
//
// Prepared handles wrap *sql.Stmt, which database/sql re-prepares on each
// pooled connection as needed.
type SQLExecutor struct {
	strategy     Strategy
	db           *sql.DB
	placeholders sq.PlaceholderFormat
	stmts        statementSet

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ Executor = (*SQLExecutor)(nil)

// NewSQL opens a database/sql pool with the named driver.
func NewSQL(strategy Strategy, driverName, dsn string) (*SQLExecutor, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	return NewSQLFromDB(strategy, db), nil
}

// NewSQLFromDB wraps an existing pool. The executor takes ownership of db.
func NewSQLFromDB(strategy Strategy, db *sql.DB) *SQLExecutor {
	e := &SQLExecutor{strategy: strategy, db: db}
	if strategy == Builder || strategy == BuilderPrepared {
		e.placeholders = sq.Dollar
	}
	return e
}

func (e *SQLExecutor) Strategy() Strategy { return e.strategy }

// Ping verifies the backend is reachable.
func (e *SQLExecutor) Ping(ctx context.Context) error {
	return queryErr(e.strategy, "ping", e.db.PingContext(ctx))
}

func (e *SQLExecutor) render(q Query, params []any) (string, []any, error) {
	text, args, err := render(q, params)
	if err != nil {
		return "", nil, err
	}
	if e.placeholders != nil {
		if text, err = e.placeholders.ReplacePlaceholders(text); err != nil {
			return "", nil, fmt.Errorf("replace placeholders: %w", err)
		}
	}
	return text, args, nil
}

func (e *SQLExecutor) Prepare(ctx context.Context, name string, q Query) (*Prepared, error) {
	if e.closed.Load() {
		return nil, queryErr(e.strategy, "prepare", ErrClosed)
	}
	text, _, err := e.render(q, nil)
	if err != nil {
		return nil, queryErr(e.strategy, "prepare", err)
	}
	if p, err := e.stmts.lookup(name, text); p != nil || err != nil {
		return p, queryErr(e.strategy, "prepare", err)
	}

	stmt, err := e.db.PrepareContext(ctx, text)
	if err != nil {
		return nil, queryErr(e.strategy, "prepare", err)
	}
	p, stored := e.stmts.store(&Prepared{Name: name, SQL: text, Strategy: e.strategy, handle: stmt})
	if !stored {
		_ = stmt.Close()
	}
	return p, nil
}

func (e *SQLExecutor) Execute(ctx context.Context, q Query, params ...any) (*RowSet, error) {
	if e.closed.Load() {
		return nil, queryErr(e.strategy, "execute", ErrClosed)
	}
	text, args, err := e.render(q, params)
	if err != nil {
		return nil, queryErr(e.strategy, "execute", err)
	}
	rows, err := e.db.QueryContext(ctx, text, args...)
	if err != nil {
		return nil, queryErr(e.strategy, "execute", err)
	}
	rs, err := collectSQL(rows)
	return rs, queryErr(e.strategy, "execute", err)
}

func (e *SQLExecutor) ExecutePrepared(ctx context.Context, p *Prepared, params ...any) (*RowSet, error) {
	if e.closed.Load() {
		return nil, queryErr(e.strategy, "execute prepared", ErrClosed)
	}
	stmt, ok := handleOf[*sql.Stmt](p, e.strategy)
	if !ok {
		return nil, queryErr(e.strategy, "execute prepared", errors.New("handle was not prepared by this executor"))
	}
	rows, err := stmt.QueryContext(ctx, params...)
	if err != nil {
		return nil, queryErr(e.strategy, "execute prepared", err)
	}
	rs, err := collectSQL(rows)
	return rs, queryErr(e.strategy, "execute prepared", err)
}

// Close closes every prepared statement and then the pool. It is safe to
// call more than once; later calls return the first call's result.
func (e *SQLExecutor) Close() error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		var errs []error
		for _, p := range e.stmts.drain() {
			if stmt, ok := p.handle.(*sql.Stmt); ok {
				if err := stmt.Close(); err != nil {
					errs = append(errs, fmt.Errorf("close statement %q: %w", p.Name, err))
				}
			}
		}
		if err := e.db.Close(); err != nil {
			errs = append(errs, err)
		}
		e.closeErr = errors.Join(errs...)
	})
	return e.closeErr
}

func handleOf[T any](p *Prepared, s Strategy) (T, bool) {
	var zero T
	if p == nil || p.Strategy != s {
		return zero, false
	}
	h, ok := p.handle.(T)
	return h, ok
}

func collectSQL(rows *sql.Rows) (*RowSet, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	rs := &RowSet{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rs, nil
}
