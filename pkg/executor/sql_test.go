package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockSQL(t *testing.T, strategy Strategy) (*SQLExecutor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	return NewSQLFromDB(strategy, db), mock
}

func TestSQLExecutor_ExecuteBuilderQuery(t *testing.T) {
	ex, mock := newMockSQL(t, Builder)

	mock.ExpectQuery("SELECT id, company_name FROM customers WHERE id = $1").
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "company_name"}).AddRow(3, "Antonio Moreno"))

	q := StatementBuilder.Select("id", "company_name").From("customers").Where(sq.Eq{"id": 3})
	rs, err := ex.Execute(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, 1, rs.Len())
	assert.Equal(t, []string{"id", "company_name"}, rs.Columns)
	assert.Equal(t, "Antonio Moreno", rs.Rows[0][1])

	mock.ExpectClose()
	require.NoError(t, ex.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLExecutor_PrepareIsDeduplicated(t *testing.T) {
	ex, mock := newMockSQL(t, BuilderPrepared)

	prep := mock.ExpectPrepare("SELECT * FROM customers WHERE id = $1")
	prep.ExpectQuery().WithArgs(1).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	prep.ExpectQuery().WithArgs(2).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))

	ctx := context.Background()
	q := StatementBuilder.Select("*").From("customers").Where("id = ?")
	first, err := ex.Prepare(ctx, "customer_by_id", q)
	require.NoError(t, err)
	second, err := ex.Prepare(ctx, "customer_by_id", q)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, ex.stmts.len())

	for _, id := range []int{1, 2} {
		rs, err := ex.ExecutePrepared(ctx, first, id)
		require.NoError(t, err)
		assert.Equal(t, 1, rs.Len())
	}

	mock.ExpectClose()
	require.NoError(t, ex.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLExecutor_PrepareNameConflict(t *testing.T) {
	ex, mock := newMockSQL(t, BuilderPrepared)
	mock.ExpectPrepare("SELECT 1")

	ctx := context.Background()
	_, err := ex.Prepare(ctx, "q", SQL("SELECT 1"))
	require.NoError(t, err)

	_, err = ex.Prepare(ctx, "q", SQL("SELECT 2"))
	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "prepare", qe.Op)
}

func TestSQLExecutor_ReplacesQuestionPlaceholdersForBuilder(t *testing.T) {
	ex, mock := newMockSQL(t, Builder)
	mock.ExpectQuery("select * from products where name ilike $1").
		WithArgs("%cha%").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rs, err := ex.Execute(context.Background(), SQL("select * from products where name ilike ?"), "%cha%")
	require.NoError(t, err)
	assert.Equal(t, 0, rs.Len())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLExecutor_ErrorsAreQueryErrors(t *testing.T) {
	ex, mock := newMockSQL(t, PQ)
	mock.ExpectQuery("select 1").WillReturnError(errors.New("connection reset"))

	_, err := ex.Execute(context.Background(), SQL("select 1"))
	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, PQ, qe.Strategy)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestSQLExecutor_CloseIsIdempotent(t *testing.T) {
	ex, mock := newMockSQL(t, PQ)
	mock.ExpectClose()

	require.NoError(t, ex.Close())
	require.NoError(t, ex.Close())
	require.NoError(t, mock.ExpectationsWereMet())

	_, err := ex.Execute(context.Background(), SQL("select 1"))
	assert.ErrorIs(t, err, ErrClosed)
}
