package executor

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrClosed is returned when an executor is used after Close.
var ErrClosed = errors.New("executor closed")

// QueryError reports a failed prepare or execution for a strategy.
type QueryError struct {
	Strategy Strategy
	Op       string
	Err      error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Strategy, e.Op, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Code returns the SQLSTATE of the underlying server error, if any.
func (e *QueryError) Code() string {
	var pgErr *pgconn.PgError
	if errors.As(e.Err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(e.Err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// ConnectionLost reports whether the server signalled a connection exception.
func (e *QueryError) ConnectionLost() bool {
	if code := e.Code(); code != "" {
		return pgerrcode.IsConnectionException(code)
	}
	return false
}

func queryErr(s Strategy, op string, err error) error {
	if err == nil {
		return nil
	}
	var qe *QueryError
	if errors.As(err, &qe) {
		return err
	}
	return &QueryError{Strategy: s, Op: op, Err: err}
}
