package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrModelQuery is returned when a Model is handed to an executor other than
// the orm one.
var ErrModelQuery = errors.New("model query can only run on the orm strategy")

// Model is a Query expressed through gorm's model API.
type Model struct {
	// Name identifies the query in logs and test doubles.
	Name string
	// New returns a pointer to the destination, usually a pointer to a slice.
	New func() any
	// Build applies conditions, joins and preloads for one execution.
	Build func(db *gorm.DB, params ...any) *gorm.DB
	// Reduce, when set, replaces the loaded destination with the result
	// rows, for work the database does in the SQL strategies.
	Reduce func(dest any) any
}

// ToSql always fails: model queries have no SQL form outside gorm.
func (m Model) ToSql() (string, []any, error) {
	return "", nil, ErrModelQuery
}

// GormExecutor runs the orm strategy.
type GormExecutor struct {
	db       *gorm.DB
	prepared *gorm.DB
	sqlDB    *sql.DB
	stmts    statementSet

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ Executor = (*GormExecutor)(nil)

// NewGorm opens gorm on a PostgreSQL DSN.
func NewGorm(dsn string) (*GormExecutor, error) {
	return openGorm(postgres.Open(dsn))
}

// NewGormFromDB opens gorm on an existing database/sql pool.
func NewGormFromDB(db *sql.DB) (*GormExecutor, error) {
	return openGorm(postgres.New(postgres.Config{Conn: db}))
}

func openGorm(dialector gorm.Dialector) (*GormExecutor, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm pool: %w", err)
	}
	return &GormExecutor{
		db:       db,
		prepared: db.Session(&gorm.Session{PrepareStmt: true}),
		sqlDB:    sqlDB,
	}, nil
}

func (e *GormExecutor) Strategy() Strategy { return ORM }

// DB exposes the underlying gorm handle, for fixture loading and migrations.
func (e *GormExecutor) DB() *gorm.DB { return e.db }

// Ping verifies the backend is reachable.
func (e *GormExecutor) Ping(ctx context.Context) error {
	return queryErr(ORM, "ping", e.sqlDB.PingContext(ctx))
}

// Prepare registers q for execution on a PrepareStmt session. gorm prepares
// the generated statement on first use and reuses it afterwards.
func (e *GormExecutor) Prepare(ctx context.Context, name string, q Query) (*Prepared, error) {
	if e.closed.Load() {
		return nil, queryErr(ORM, "prepare", ErrClosed)
	}
	if q == nil {
		return nil, queryErr(ORM, "prepare", errors.New("nil query"))
	}

	var text string
	if _, ok := q.(Model); ok {
		text = "model:" + name
	} else {
		var err error
		if text, _, err = render(q, nil); err != nil {
			return nil, queryErr(ORM, "prepare", err)
		}
	}
	if p, err := e.stmts.lookup(name, text); p != nil || err != nil {
		return p, queryErr(ORM, "prepare", err)
	}
	p, _ := e.stmts.store(&Prepared{Name: name, SQL: text, Strategy: ORM, handle: q})
	return p, nil
}

func (e *GormExecutor) Execute(ctx context.Context, q Query, params ...any) (*RowSet, error) {
	if e.closed.Load() {
		return nil, queryErr(ORM, "execute", ErrClosed)
	}
	rs, err := e.run(e.db.WithContext(ctx), q, params)
	return rs, queryErr(ORM, "execute", err)
}

func (e *GormExecutor) ExecutePrepared(ctx context.Context, p *Prepared, params ...any) (*RowSet, error) {
	if e.closed.Load() {
		return nil, queryErr(ORM, "execute prepared", ErrClosed)
	}
	q, ok := handleOf[Query](p, ORM)
	if !ok {
		return nil, queryErr(ORM, "execute prepared", errors.New("handle was not prepared by this executor"))
	}
	rs, err := e.run(e.prepared.WithContext(ctx), q, params)
	return rs, queryErr(ORM, "execute prepared", err)
}

func (e *GormExecutor) run(db *gorm.DB, q Query, params []any) (*RowSet, error) {
	if m, ok := q.(Model); ok {
		return runModel(db, m, params)
	}
	text, args, err := render(q, params)
	if err != nil {
		return nil, err
	}
	rows, err := db.Raw(text, args...).Rows()
	if err != nil {
		return nil, err
	}
	return collectSQL(rows)
}

func runModel(db *gorm.DB, m Model, params []any) (*RowSet, error) {
	if m.New == nil || m.Build == nil {
		return nil, errors.New("model query needs New and Build")
	}
	dest := m.New()
	tx := m.Build(db, params...).Find(dest)
	if tx.Error != nil {
		return nil, tx.Error
	}

	var out any = dest
	if m.Reduce != nil {
		out = m.Reduce(dest)
	}

	rs := &RowSet{}
	v := reflect.Indirect(reflect.ValueOf(out))
	if v.Kind() == reflect.Slice {
		for i := range v.Len() {
			rs.Rows = append(rs.Rows, []any{v.Index(i).Interface()})
		}
	} else if tx.RowsAffected > 0 {
		rs.Rows = append(rs.Rows, []any{v.Interface()})
	}
	return rs, nil
}

// Close releases prepared statements and the pool. It is safe to call more
// than once.
func (e *GormExecutor) Close() error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		e.stmts.drain()
		if pdb, ok := e.prepared.Statement.ConnPool.(*gorm.PreparedStmtDB); ok {
			pdb.Close()
		}
		e.closeErr = e.sqlDB.Close()
	})
	return e.closeErr
}
