package zorm

import (
	"strconv"
	"strings"
)

// ArrayBackend builds the SQL that queries an id array column. Each
// relation picks one when it is declared, from its column's storage kind
// and its dialect, so call sites never know which representation is in use.
type ArrayBackend interface {
	// Kind is the storage kind the backend queries.
	Kind() ColumnKind

	// Contains matches rows whose array column holds id.
	Contains(column string, id int64) Predicate

	// ContainsAny matches rows whose array column holds at least one of
	// ids. ids must not be empty.
	ContainsAny(column string, ids IDs) Predicate

	// OrderByIDs returns an ORDER BY expression that sorts rows by the
	// position of keyColumn's value in ids.
	OrderByIDs(keyColumn string, ids IDs) string
}

// BackendFor returns the backend for a column of the given kind on d.
func BackendFor(d *Dialect, kind ColumnKind) (ArrayBackend, error) {
	if d == nil {
		return nil, ErrInvalidConfig
	}

	switch kind {
	case ColumnText, ColumnDefault:
		return patternBackend{dialect: d}, nil
	case ColumnJSON:
		if !d.JSON {
			return nil, ErrUnsupportedColumn
		}
		switch d.Name {
		case Dialects.PostgreSQL.Name:
			return postgresJSONBackend{dialect: d}, nil
		case Dialects.MySQL.Name:
			return mysqlJSONBackend{dialect: d}, nil
		case Dialects.SQLite3.Name:
			return sqliteJSONBackend{dialect: d}, nil
		}
	}
	return nil, ErrUnsupportedColumn
}

// orderByPosition uses the dialect's position function when it has one and
// a CASE ranking otherwise. Ids missing from the list sort last.
func orderByPosition(d *Dialect, keyColumn string, ids IDs) string {
	if len(ids) == 0 {
		return ""
	}
	if d != nil && d.PositionFunc != nil {
		return d.PositionFunc(keyColumn, ids)
	}

	sb := GetStringBuilder()
	defer PutStringBuilder(sb)
	sb.WriteString("CASE ")
	sb.WriteString(keyColumn)
	for i, id := range ids {
		sb.WriteString(" WHEN ")
		sb.WriteString(strconv.FormatInt(id, 10))
		sb.WriteString(" THEN ")
		sb.WriteString(strconv.Itoa(i))
	}
	sb.WriteString(" ELSE ")
	sb.WriteString(strconv.Itoa(len(ids)))
	sb.WriteString(" END")
	return strings.Clone(sb.String())
}

// patternBackend queries arrays serialized as "[1,2,3]" text. A bare
// substring search would let 1 match 12 or 21, so the id is anchored on
// its delimiters: sole element, first, middle or last.
type patternBackend struct {
	dialect *Dialect
}

func (patternBackend) Kind() ColumnKind { return ColumnText }

func (b patternBackend) Contains(column string, id int64) Predicate {
	sqlText := cachedPredicate("text:contains:"+column, func() string {
		return "(" + column + " = ? OR " +
			column + " LIKE ? OR " +
			column + " LIKE ? OR " +
			column + " LIKE ?)"
	})
	s := strconv.FormatInt(id, 10)
	return Predicate{
		SQL:  sqlText,
		Args: []any{"[" + s + "]", "[" + s + ",%", "%," + s + ",%", "%," + s + "]"},
	}
}

func (b patternBackend) ContainsAny(column string, ids IDs) Predicate {
	preds := make([]Predicate, len(ids))
	for i, id := range ids {
		preds[i] = b.Contains(column, id)
	}
	return Or(preds...)
}

func (b patternBackend) OrderByIDs(keyColumn string, ids IDs) string {
	return orderByPosition(b.dialect, keyColumn, ids)
}

// postgresJSONBackend uses jsonb containment.
type postgresJSONBackend struct {
	dialect *Dialect
}

func (postgresJSONBackend) Kind() ColumnKind { return ColumnJSON }

func (b postgresJSONBackend) Contains(column string, id int64) Predicate {
	sqlText := cachedPredicate("postgres:contains:"+column, func() string {
		return column + " @> ?::jsonb"
	})
	return Predicate{SQL: sqlText, Args: []any{IDs{id}.String()}}
}

func (b postgresJSONBackend) ContainsAny(column string, ids IDs) Predicate {
	preds := make([]Predicate, len(ids))
	for i, id := range ids {
		preds[i] = b.Contains(column, id)
	}
	return Or(preds...)
}

func (b postgresJSONBackend) OrderByIDs(keyColumn string, ids IDs) string {
	return orderByPosition(b.dialect, keyColumn, ids)
}

// mysqlJSONBackend uses JSON_CONTAINS, and JSON_OVERLAPS for any-of.
type mysqlJSONBackend struct {
	dialect *Dialect
}

func (mysqlJSONBackend) Kind() ColumnKind { return ColumnJSON }

func (b mysqlJSONBackend) Contains(column string, id int64) Predicate {
	sqlText := cachedPredicate("mysql:contains:"+column, func() string {
		return "JSON_CONTAINS(" + column + ", ?, '$')"
	})
	return Predicate{SQL: sqlText, Args: []any{strconv.FormatInt(id, 10)}}
}

func (b mysqlJSONBackend) ContainsAny(column string, ids IDs) Predicate {
	if len(ids) == 1 {
		return b.Contains(column, ids[0])
	}
	sqlText := cachedPredicate("mysql:overlaps:"+column, func() string {
		return "JSON_OVERLAPS(" + column + ", ?)"
	})
	return Predicate{SQL: sqlText, Args: []any{ids.String()}}
}

func (b mysqlJSONBackend) OrderByIDs(keyColumn string, ids IDs) string {
	return orderByPosition(b.dialect, keyColumn, ids)
}

// sqliteJSONBackend walks the array with the json_each table function.
type sqliteJSONBackend struct {
	dialect *Dialect
}

func (sqliteJSONBackend) Kind() ColumnKind { return ColumnJSON }

func (b sqliteJSONBackend) Contains(column string, id int64) Predicate {
	sqlText := cachedPredicate("sqlite3:contains:"+column, func() string {
		return "EXISTS (SELECT 1 FROM json_each(" + column + ") WHERE json_each.value = ?)"
	})
	return Predicate{SQL: sqlText, Args: []any{id}}
}

func (b sqliteJSONBackend) ContainsAny(column string, ids IDs) Predicate {
	if len(ids) == 1 {
		return b.Contains(column, ids[0])
	}
	sqlText := cachedPredicate("sqlite3:any:"+column+":"+strconv.Itoa(len(ids)), func() string {
		return "EXISTS (SELECT 1 FROM json_each(" + column + ") WHERE json_each.value IN (" +
			placeholders(len(ids)) + "))"
	})
	return Predicate{SQL: sqlText, Args: int64sToAny(ids)}
}

func (b sqliteJSONBackend) OrderByIDs(keyColumn string, ids IDs) string {
	return orderByPosition(b.dialect, keyColumn, ids)
}

// placeholders renders n comma separated '?' markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
