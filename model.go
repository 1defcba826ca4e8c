package zorm

import (
	"context"
	"database/sql"
)

// GlobalDB is the default database connection pool used by models that were
// not given one with SetDB or WithTx.
var GlobalDB *sql.DB

// GlobalDialect is the default dialect. When nil, the dialect is detected
// from the driver of the connection a model runs on.
var GlobalDialect *Dialect

// Model[T] is the main struct for the ORM.
type Model[T any] struct {
	ctx       context.Context
	db        *sql.DB
	tx        *Tx
	dialect   *Dialect
	modelInfo *ModelInfo

	// Query Builder State
	columns  []string
	wheres   []string
	args     []any
	orderBys []string
	limit    int
	offset   int

	// none marks a query known to match nothing; executing it never
	// reaches the database.
	none bool
}

// New creates a new Model instance for type T.
func New[T any]() *Model[T] {
	return &Model[T]{
		ctx:       context.Background(),
		db:        GlobalDB,
		modelInfo: ParseModel[T](),
	}
}

// WithContext sets the context for the query.
func (m *Model[T]) WithContext(ctx context.Context) *Model[T] {
	m.ctx = ctx
	return m
}

// TableName returns the table name for the model.
func (m *Model[T]) TableName() string {
	return m.modelInfo.TableName
}

// ModelInfo returns the reflected metadata of T.
func (m *Model[T]) ModelInfo() *ModelInfo {
	return m.modelInfo
}

// SetDB sets a custom database connection for this model instance.
func (m *Model[T]) SetDB(db *sql.DB) *Model[T] {
	m.db = db
	return m
}

// SetDialect overrides the dialect used to render queries.
func (m *Model[T]) SetDialect(d *Dialect) *Model[T] {
	m.dialect = d
	return m
}

// getDialect resolves the dialect: explicit, then global, then detected
// from the connection's driver.
func (m *Model[T]) getDialect() *Dialect {
	if m.dialect != nil {
		return m.dialect
	}
	if GlobalDialect != nil {
		return GlobalDialect
	}
	if db := m.database(); db != nil {
		return DetectDialect(db)
	}
	return Dialects.SQLite3
}

// database returns the pool backing this model, the one a transaction was
// started on when inside one.
func (m *Model[T]) database() *sql.DB {
	if m.tx != nil && m.tx.db != nil {
		return m.tx.db
	}
	if m.db != nil {
		return m.db
	}
	return GlobalDB
}

// session captures the connection state of this model so relation
// callbacks can run their own queries on the same connection.
func (m *Model[T]) session() session {
	return session{db: m.database(), tx: m.tx, dialect: m.getDialect()}
}

// session is the connection a write ran on. Relation callbacks bind their
// own models to it so deferred writes join the caller's transaction.
type session struct {
	db      *sql.DB
	tx      *Tx
	dialect *Dialect
}

// bind points a model at the session's connection and dialect.
func bind[T any](m *Model[T], s session) *Model[T] {
	m.db = s.db
	m.tx = s.tx
	m.dialect = s.dialect
	return m
}

// committed returns the session without its transaction, for work that has
// to happen after the transaction is gone.
func (s session) committed() session {
	s.tx = nil
	return s
}
