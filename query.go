package zorm

import (
	"errors"
	"strconv"
	"strings"
)

// ErrInvalidColumnName is returned for identifiers that are not plain
// (optionally table qualified) column names.
var ErrInvalidColumnName = errors.New("zorm: invalid column name")

// ValidateColumnName accepts identifiers made of letters, digits,
// underscores and at most one dot.
func ValidateColumnName(name string) error {
	if name == "*" {
		return nil
	}
	if name == "" {
		return ErrInvalidColumnName
	}
	dots := 0
	for i, r := range name {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case r >= '0' && r <= '9':
			if i == 0 {
				return ErrInvalidColumnName
			}
		case r == '.':
			dots++
			if dots > 1 || i == 0 || i == len(name)-1 {
				return ErrInvalidColumnName
			}
		default:
			return ErrInvalidColumnName
		}
	}
	return nil
}

var allowedOperators = map[string]bool{
	"=": true, "!=": true, "<>": true, "<": true, "<=": true, ">": true, ">=": true,
	"LIKE": true, "NOT LIKE": true,
}

// Select sets the columns to select.
func (m *Model[T]) Select(columns ...string) *Model[T] {
	for _, col := range columns {
		if err := ValidateColumnName(col); err != nil {
			continue
		}
		m.columns = append(m.columns, col)
	}
	return m
}

// Where adds a WHERE condition.
//
//	Where("column", value)       -> column = ?
//	Where("column", ">", value)  -> column > ?
func (m *Model[T]) Where(column string, args ...any) *Model[T] {
	return m.addWhere("AND", column, args...)
}

// OrWhere ORs a condition with everything added so far. The result is
// grouped, so later conditions AND with the whole group:
//
//	Where("a", 1).OrWhere("b", 2).Where("c", 3) -> ((a = ?) OR b = ?) AND c = ?
//
// On an empty query it is the same as Where.
func (m *Model[T]) OrWhere(column string, args ...any) *Model[T] {
	if len(m.wheres) == 0 {
		return m.Where(column, args...)
	}
	cond, condArgs, ok := condition(column, args...)
	if !ok {
		return m
	}
	m.wheres = []string{"AND ((" + m.whereExpr() + ") OR " + cond + ")"}
	m.args = append(m.args, condArgs...)
	return m
}

func (m *Model[T]) addWhere(typ, column string, args ...any) *Model[T] {
	cond, condArgs, ok := condition(column, args...)
	if !ok {
		return m
	}
	m.wheres = append(m.wheres, typ+" "+cond)
	m.args = append(m.args, condArgs...)
	return m
}

// condition renders "column op ?" for Where style arguments.
func condition(column string, args ...any) (string, []any, bool) {
	if err := ValidateColumnName(column); err != nil {
		return "", nil, false
	}

	switch len(args) {
	case 1:
		return column + " = ?", args[:1], true
	case 2:
		op, ok := args[0].(string)
		op = strings.ToUpper(strings.TrimSpace(op))
		if !ok || !allowedOperators[op] {
			return "", nil, false
		}
		return column + " " + op + " ?", args[1:2], true
	}
	return "", nil, false
}

// whereExpr joins the conditions without the leading connective, which is
// always AND.
func (m *Model[T]) whereExpr() string {
	parts := make([]string, len(m.wheres))
	for i, w := range m.wheres {
		parts[i] = strings.TrimPrefix(w, "AND ")
	}
	return strings.Join(parts, " AND ")
}

// WhereIn adds a WHERE column IN (...) condition. An empty list matches
// nothing.
func (m *Model[T]) WhereIn(column string, values []any) *Model[T] {
	if err := ValidateColumnName(column); err != nil {
		return m
	}
	if len(values) == 0 {
		m.wheres = append(m.wheres, "AND 1=0")
		return m
	}

	m.wheres = append(m.wheres, "AND "+column+" IN ("+placeholders(len(values))+")")
	m.args = append(m.args, values...)
	return m
}

// WherePredicate adds a prebuilt predicate as an AND condition.
func (m *Model[T]) WherePredicate(p Predicate) *Model[T] {
	if p.IsZero() {
		return m
	}
	m.wheres = append(m.wheres, "AND ("+p.SQL+")")
	m.args = append(m.args, p.Args...)
	return m
}

// OrderBy adds an ORDER BY clause.
func (m *Model[T]) OrderBy(column, direction string) *Model[T] {
	if err := ValidateColumnName(column); err != nil {
		return m
	}
	dir := strings.ToUpper(strings.TrimSpace(direction))
	if dir != "ASC" && dir != "DESC" {
		dir = "ASC"
	}
	m.orderBys = append(m.orderBys, column+" "+dir)
	return m
}

// OrderByRaw adds an ORDER BY expression as is. Never pass user input.
func (m *Model[T]) OrderByRaw(expr string) *Model[T] {
	if strings.TrimSpace(expr) == "" {
		return m
	}
	m.orderBys = append(m.orderBys, expr)
	return m
}

// Limit sets the LIMIT clause.
func (m *Model[T]) Limit(n int) *Model[T] {
	m.limit = n
	return m
}

// Offset sets the OFFSET clause.
func (m *Model[T]) Offset(n int) *Model[T] {
	m.offset = n
	return m
}

// None turns the query into one that matches nothing. Executing it returns
// empty results without reaching the database.
func (m *Model[T]) None() *Model[T] {
	m.none = true
	return m
}

// IsNone reports whether the query was marked by None.
func (m *Model[T]) IsNone() bool {
	return m.none
}

// Clone creates a deep copy of the query.
func (m *Model[T]) Clone() *Model[T] {
	clone := &Model[T]{
		ctx:       m.ctx,
		db:        m.db,
		tx:        m.tx,
		dialect:   m.dialect,
		modelInfo: m.modelInfo,
		limit:     m.limit,
		offset:    m.offset,
		none:      m.none,
	}
	clone.columns = append([]string(nil), m.columns...)
	clone.wheres = append([]string(nil), m.wheres...)
	clone.args = append([]any(nil), m.args...)
	clone.orderBys = append([]string(nil), m.orderBys...)
	return clone
}

// Print returns the SQL query and arguments that would be executed without running it.
func (m *Model[T]) Print() (string, []any) {
	query, args := m.buildSelectQuery()
	return m.getDialect().Rebind(query), args
}

// buildSelectQuery constructs the SQL SELECT statement from the builder
// state, with '?' placeholders.
func (m *Model[T]) buildSelectQuery() (string, []any) {
	sb := GetStringBuilder()
	defer PutStringBuilder(sb)

	if len(m.columns) == 0 {
		sb.WriteString(m.buildSelectBase())
	} else {
		sb.WriteString("SELECT ")
		sb.WriteString(strings.Join(m.columns, ", "))
		sb.WriteString(" FROM ")
		sb.WriteString(m.TableName())
	}

	m.buildWhereClause(sb)

	if len(m.orderBys) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(m.orderBys, ", "))
	}

	if m.limit > 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(m.limit))
	}

	if m.offset > 0 {
		sb.WriteString(" OFFSET ")
		sb.WriteString(strconv.Itoa(m.offset))
	}

	return strings.Clone(sb.String()), m.args
}

// buildWhereClause appends WHERE conditions to the query builder.
// It uses "WHERE 1=1" as a base to simplify appending AND/OR conditions.
func (m *Model[T]) buildWhereClause(sb *strings.Builder) {
	if len(m.wheres) > 0 {
		sb.WriteString(" WHERE 1=1")
		for _, w := range m.wheres {
			sb.WriteByte(' ')
			sb.WriteString(w)
		}
	}
}
