package executor

import (
	"context"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
)

// Options tunes executors created by Open.
type Options struct {
	SimpleProtocol bool
	MaxConns       int32
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Open connects an executor for strategy to connString and verifies the
// backend answers.
func Open(ctx context.Context, strategy Strategy, connString string, opts Options) (Executor, error) {
	var (
		ex  Executor
		err error
	)
	switch strategy {
	case Raw, RawPrepared:
		ex, err = NewPgx(ctx, strategy, PgxConfig{
			ConnString:     connString,
			SimpleProtocol: opts.SimpleProtocol,
			MaxConns:       opts.MaxConns,
		})
	case PQ:
		ex, err = NewSQL(strategy, "postgres", connString)
	case Builder, BuilderPrepared:
		ex, err = NewSQL(strategy, "pgx", connString)
	case ORM:
		ex, err = NewGorm(connString)
	default:
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", strategy, err)
	}

	if p, ok := ex.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			_ = ex.Close()
			return nil, err
		}
	}
	return ex, nil
}
