package zorm

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
)

// ScalarQuery provides a query builder for single-column scalar results.
// T can be any type that sql.Rows.Scan supports: string, int, int64,
// float64, bool, time.Time, []byte, sql.Null* types, or any sql.Scanner
// such as IDs.
//
// Example:
//
//	lists, err := zorm.Query[zorm.IDs]().
//	    Table("playlists").
//	    Select("song_ids").
//	    Where("id", 7).
//	    Get(ctx)
type ScalarQuery[T any] struct {
	db        *sql.DB
	tx        *Tx
	dialect   *Dialect
	tableName string
	column    string
	wheres    []string
	args      []any
	orderBys  []string
	distinct  bool
	limit     int
	offset    int
}

// Query creates a new scalar query builder for type T.
func Query[T any]() *ScalarQuery[T] {
	return &ScalarQuery[T]{
		db:     GlobalDB,
		wheres: make([]string, 0, 4),
		args:   make([]any, 0, 4),
	}
}

// scalarOn starts a scalar query on the session's connection.
func scalarOn[T any](s session) *ScalarQuery[T] {
	q := Query[T]()
	q.db = s.db
	q.tx = s.tx
	q.dialect = s.dialect
	return q
}

// Table sets the table name for the query.
// Table names are validated to prevent SQL injection.
func (q *ScalarQuery[T]) Table(name string) *ScalarQuery[T] {
	if err := ValidateColumnName(name); err != nil {
		return q
	}
	q.tableName = name
	return q
}

// Select sets the column to select (single column only).
func (q *ScalarQuery[T]) Select(column string) *ScalarQuery[T] {
	if err := ValidateColumnName(column); err != nil {
		return q
	}
	q.column = column
	return q
}

// Where adds a WHERE condition.
//
//	Where("column", value)       -> column = ?
//	Where("column", ">", value)  -> column > ?
func (q *ScalarQuery[T]) Where(column string, args ...any) *ScalarQuery[T] {
	if err := ValidateColumnName(column); err != nil {
		return q
	}

	switch len(args) {
	case 1:
		q.wheres = append(q.wheres, "AND "+column+" = ?")
		q.args = append(q.args, args[0])
	case 2:
		op, ok := args[0].(string)
		op = strings.ToUpper(strings.TrimSpace(op))
		if !ok || !allowedOperators[op] {
			return q
		}
		q.wheres = append(q.wheres, "AND "+column+" "+op+" ?")
		q.args = append(q.args, args[1])
	}
	return q
}

// WhereIn adds a WHERE column IN (...) condition.
func (q *ScalarQuery[T]) WhereIn(column string, values []any) *ScalarQuery[T] {
	if err := ValidateColumnName(column); err != nil {
		return q
	}
	if len(values) == 0 {
		q.wheres = append(q.wheres, "AND 1=0")
		return q
	}

	q.wheres = append(q.wheres, "AND "+column+" IN ("+placeholders(len(values))+")")
	q.args = append(q.args, values...)
	return q
}

// WherePredicate adds a prebuilt predicate as an AND condition.
func (q *ScalarQuery[T]) WherePredicate(p Predicate) *ScalarQuery[T] {
	if p.IsZero() {
		return q
	}
	q.wheres = append(q.wheres, "AND ("+p.SQL+")")
	q.args = append(q.args, p.Args...)
	return q
}

// OrderBy adds an ORDER BY clause.
func (q *ScalarQuery[T]) OrderBy(column, direction string) *ScalarQuery[T] {
	if err := ValidateColumnName(column); err != nil {
		return q
	}
	dir := strings.ToUpper(strings.TrimSpace(direction))
	if dir != "ASC" && dir != "DESC" {
		dir = "DESC"
	}
	q.orderBys = append(q.orderBys, column+" "+dir)
	return q
}

// Limit sets the LIMIT clause.
func (q *ScalarQuery[T]) Limit(n int) *ScalarQuery[T] {
	q.limit = n
	return q
}

// Offset sets the OFFSET clause.
func (q *ScalarQuery[T]) Offset(n int) *ScalarQuery[T] {
	q.offset = n
	return q
}

// Distinct adds DISTINCT to the query.
func (q *ScalarQuery[T]) Distinct() *ScalarQuery[T] {
	q.distinct = true
	return q
}

// SetDB sets a specific database connection.
func (q *ScalarQuery[T]) SetDB(db *sql.DB) *ScalarQuery[T] {
	q.db = db
	return q
}

// SetDialect overrides the dialect used to render the query.
func (q *ScalarQuery[T]) SetDialect(d *Dialect) *ScalarQuery[T] {
	q.dialect = d
	return q
}

// WithTx uses a transaction for the query.
func (q *ScalarQuery[T]) WithTx(tx *Tx) *ScalarQuery[T] {
	q.tx = tx
	return q
}

// Get executes the query and returns all matching values.
func (q *ScalarQuery[T]) Get(ctx context.Context) ([]T, error) {
	conn, err := q.queryer()
	if err != nil {
		return nil, err
	}

	query := q.buildQuery()
	rows, err := conn.QueryContext(ctx, q.getDialect().Rebind(query), q.args...)
	if err != nil {
		return nil, WrapQueryError("SELECT", query, q.args, err)
	}
	defer rows.Close()

	initialCap := q.limit
	if initialCap <= 0 {
		initialCap = 64
	}
	results := make([]T, 0, initialCap)

	for rows.Next() {
		var val T
		if err := rows.Scan(&val); err != nil {
			return nil, WrapQueryError("SCAN", query, q.args, err)
		}
		results = append(results, val)
	}

	if err := rows.Err(); err != nil {
		return nil, WrapQueryError("SCAN", query, q.args, err)
	}

	return results, nil
}

// First returns the first matching value.
// Returns ErrRecordNotFound if no rows match.
func (q *ScalarQuery[T]) First(ctx context.Context) (T, error) {
	clone := q.Clone()
	clone.limit = 1
	results, err := clone.Get(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if len(results) == 0 {
		var zero T
		return zero, ErrRecordNotFound
	}
	return results[0], nil
}

// Count returns the count of matching rows.
// This ignores the Select column and uses COUNT(*).
func (q *ScalarQuery[T]) Count(ctx context.Context) (int64, error) {
	conn, err := q.queryer()
	if err != nil {
		return 0, err
	}

	sb := GetStringBuilder()
	sb.WriteString("SELECT COUNT(*) FROM ")
	sb.WriteString(q.tableName)
	q.buildWhereClause(sb)
	query := strings.Clone(sb.String())
	PutStringBuilder(sb)

	var count int64
	if err := conn.QueryRowContext(ctx, q.getDialect().Rebind(query), q.args...).Scan(&count); err != nil {
		return 0, WrapQueryError("COUNT", query, q.args, err)
	}
	return count, nil
}

// buildQuery constructs the SELECT query.
func (q *ScalarQuery[T]) buildQuery() string {
	sb := GetStringBuilder()
	defer PutStringBuilder(sb)

	sb.WriteString("SELECT ")
	if q.distinct {
		sb.WriteString("DISTINCT ")
	}

	if q.column != "" {
		sb.WriteString(q.column)
	} else {
		sb.WriteByte('*')
	}

	sb.WriteString(" FROM ")
	sb.WriteString(q.tableName)

	q.buildWhereClause(sb)

	if len(q.orderBys) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(q.orderBys, ", "))
	}

	if q.limit > 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(q.limit))
	}

	if q.offset > 0 {
		sb.WriteString(" OFFSET ")
		sb.WriteString(strconv.Itoa(q.offset))
	}

	// The defer returns the builder to the pool, so hand out a copy.
	return strings.Clone(sb.String())
}

func (q *ScalarQuery[T]) buildWhereClause(sb *strings.Builder) {
	if len(q.wheres) > 0 {
		sb.WriteString(" WHERE 1=1")
		for _, w := range q.wheres {
			sb.WriteByte(' ')
			sb.WriteString(w)
		}
	}
}

// Clone creates a deep copy of the query.
func (q *ScalarQuery[T]) Clone() *ScalarQuery[T] {
	clone := &ScalarQuery[T]{
		db:        q.db,
		tx:        q.tx,
		dialect:   q.dialect,
		tableName: q.tableName,
		column:    q.column,
		distinct:  q.distinct,
		limit:     q.limit,
		offset:    q.offset,
	}
	clone.wheres = append([]string(nil), q.wheres...)
	clone.args = append([]any(nil), q.args...)
	clone.orderBys = append([]string(nil), q.orderBys...)
	return clone
}

func (q *ScalarQuery[T]) getDialect() *Dialect {
	if q.dialect != nil {
		return q.dialect
	}
	if GlobalDialect != nil {
		return GlobalDialect
	}
	if q.tx != nil && q.tx.db != nil {
		return DetectDialect(q.tx.db)
	}
	return DetectDialect(q.db)
}

func (q *ScalarQuery[T]) queryer() (queryer, error) {
	if q.tx != nil {
		return q.tx.Tx, nil
	}
	if q.db != nil {
		return q.db, nil
	}
	if GlobalDB != nil {
		return GlobalDB, nil
	}
	return nil, sql.ErrConnDone
}

// Print returns the SQL query and arguments that would be executed without running it.
func (q *ScalarQuery[T]) Print() (string, []any) {
	return q.getDialect().Rebind(q.buildQuery()), q.args
}
