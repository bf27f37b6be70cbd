package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// closeTimeout bounds statement cleanup in Close.
const closeTimeout = 5 * time.Second

// PgxConfig configures a PgxExecutor.
type PgxConfig struct {
	ConnString string

	// SimpleProtocol sends unprepared queries with the simple query protocol
	// instead of the extended protocol's unnamed statement.
	SimpleProtocol bool

	// MaxConns caps the pool size. Zero keeps the pgxpool default.
	MaxConns int32
}

// PgxExecutor runs the raw and raw-prepared strategies on a pgx pool.
//
// Unprepared queries never touch the statement or description caches, so
// each execution pays the full parse cost. Prepared handles are named
// server-side statements, created lazily on each pooled connection.
type PgxExecutor struct {
	strategy Strategy
	pool     *pgxpool.Pool
	stmts    statementSet

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ Executor = (*PgxExecutor)(nil)

// NewPgx creates a pool for strategy. The pool connects lazily; use Ping to
// verify the backend.
func NewPgx(ctx context.Context, strategy Strategy, cfg PgxConfig) (*PgxExecutor, error) {
	poolCfg, err := PgxPoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return &PgxExecutor{strategy: strategy, pool: pool}, nil
}

// PgxPoolConfig builds the pool configuration used by NewPgx.
func PgxPoolConfig(cfg PgxConfig) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	poolCfg.ConnConfig.StatementCacheCapacity = 0
	poolCfg.ConnConfig.DescriptionCacheCapacity = 0
	if cfg.SimpleProtocol {
		poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	} else {
		poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeExec
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	return poolCfg, nil
}

func (e *PgxExecutor) Strategy() Strategy { return e.strategy }

// Ping acquires a connection and checks the server responds.
func (e *PgxExecutor) Ping(ctx context.Context) error {
	return queryErr(e.strategy, "ping", e.pool.Ping(ctx))
}

func (e *PgxExecutor) Prepare(ctx context.Context, name string, q Query) (*Prepared, error) {
	if e.closed.Load() {
		return nil, queryErr(e.strategy, "prepare", ErrClosed)
	}
	sql, _, err := render(q, nil)
	if err != nil {
		return nil, queryErr(e.strategy, "prepare", err)
	}
	if p, err := e.stmts.lookup(name, sql); p != nil || err != nil {
		return p, queryErr(e.strategy, "prepare", err)
	}

	// Prepare once up front so a bad statement fails here rather than on the
	// first measured iteration.
	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, queryErr(e.strategy, "prepare", err)
	}
	defer conn.Release()
	if _, err := conn.Conn().Prepare(ctx, name, sql); err != nil {
		return nil, queryErr(e.strategy, "prepare", err)
	}

	p, _ := e.stmts.store(&Prepared{Name: name, SQL: sql, Strategy: e.strategy})
	return p, nil
}

func (e *PgxExecutor) Execute(ctx context.Context, q Query, params ...any) (*RowSet, error) {
	if e.closed.Load() {
		return nil, queryErr(e.strategy, "execute", ErrClosed)
	}
	sql, args, err := render(q, params)
	if err != nil {
		return nil, queryErr(e.strategy, "execute", err)
	}
	rows, err := e.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, queryErr(e.strategy, "execute", err)
	}
	rs, err := collectPgx(rows)
	return rs, queryErr(e.strategy, "execute", err)
}

func (e *PgxExecutor) ExecutePrepared(ctx context.Context, p *Prepared, params ...any) (*RowSet, error) {
	if e.closed.Load() {
		return nil, queryErr(e.strategy, "execute prepared", ErrClosed)
	}
	if p == nil || p.Strategy != e.strategy {
		return nil, queryErr(e.strategy, "execute prepared", errors.New("handle was not prepared by this executor"))
	}

	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, queryErr(e.strategy, "execute prepared", err)
	}
	defer conn.Release()

	// Conn.Prepare returns the cached description when this connection has
	// already prepared the same name and SQL.
	if _, err := conn.Conn().Prepare(ctx, p.Name, p.SQL); err != nil {
		return nil, queryErr(e.strategy, "execute prepared", err)
	}
	rows, err := conn.Query(ctx, p.Name, params...)
	if err != nil {
		return nil, queryErr(e.strategy, "execute prepared", err)
	}
	rs, err := collectPgx(rows)
	return rs, queryErr(e.strategy, "execute prepared", err)
}

// Close deallocates the prepared statements on every idle connection and
// closes the pool. It is safe to call more than once; later calls return the
// first call's result.
func (e *PgxExecutor) Close() error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		e.closeErr = e.deallocate(e.stmts.drain())
		e.pool.Close()
	})
	return e.closeErr
}

func (e *PgxExecutor) deallocate(stmts []*Prepared) error {
	if len(stmts) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var errs []error
	for _, conn := range e.pool.AcquireAllIdle(ctx) {
		for _, p := range stmts {
			if err := conn.Conn().Deallocate(ctx, p.Name); err != nil {
				errs = append(errs, queryErr(e.strategy, "deallocate", err))
				break
			}
		}
		conn.Release()
	}
	return errors.Join(errs...)
}

func collectPgx(rows pgx.Rows) (*RowSet, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	rs := &RowSet{Columns: make([]string, len(fields))}
	for i, fd := range fields {
		rs.Columns[i] = fd.Name
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rs, nil
}
