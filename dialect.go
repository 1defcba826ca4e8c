package zorm

import (
	"database/sql"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
)

// Dialect describes the SQL flavour a connection speaks. Queries are built
// with '?' placeholders and rebound for dialects that number them.
type Dialect struct {
	Name                      string
	DriverName                string
	IncludeIndexInPlaceholder bool
	SupportsReturning         bool

	// JSON reports whether the database has native JSON columns that can be
	// searched with containment operators.
	JSON bool

	// PositionFunc renders an expression giving the position of column in
	// a literal id list, used to order rows by that list. Empty when the
	// dialect has none and a CASE expression has to stand in.
	PositionFunc func(column string, ids []int64) string
}

var Dialects = &struct {
	MySQL      *Dialect
	PostgreSQL *Dialect
	SQLite3    *Dialect
}{
	MySQL: &Dialect{
		Name:       "mysql",
		DriverName: "mysql",
		JSON:       true,
		PositionFunc: func(column string, ids []int64) string {
			return "FIELD(" + column + ", " + joinInt64s(ids, ", ") + ")"
		},
	},

	PostgreSQL: &Dialect{
		Name:                      "postgres",
		DriverName:                "pgx",
		IncludeIndexInPlaceholder: true,
		SupportsReturning:         true,
		JSON:                      true,
		PositionFunc: func(column string, ids []int64) string {
			return "array_position(ARRAY[" + joinInt64s(ids, ",") + "]::bigint[], " + column + "::bigint)"
		},
	},

	SQLite3: &Dialect{
		Name:              "sqlite3",
		DriverName:        "sqlite3",
		SupportsReturning: true,
		JSON:              true,
	},
}

// DetectDialect picks the dialect matching the driver behind db, falling
// back to SQLite3 for drivers it does not know.
func DetectDialect(db *sql.DB) *Dialect {
	if db == nil {
		return Dialects.SQLite3
	}
	switch db.Driver().(type) {
	case *stdlib.Driver:
		return Dialects.PostgreSQL
	case *mysql.MySQLDriver, mysql.MySQLDriver:
		return Dialects.MySQL
	case *sqlite3.SQLiteDriver:
		return Dialects.SQLite3
	}
	return Dialects.SQLite3
}

// DialectByName returns the dialect for a driver or dialect name.
func DialectByName(name string) (*Dialect, bool) {
	switch strings.ToLower(name) {
	case "mysql":
		return Dialects.MySQL, true
	case "postgres", "postgresql", "pgx":
		return Dialects.PostgreSQL, true
	case "sqlite", "sqlite3":
		return Dialects.SQLite3, true
	}
	return nil, false
}

// Rebind converts '?' placeholders for this dialect.
func (d *Dialect) Rebind(query string) string {
	if d == nil || !d.IncludeIndexInPlaceholder {
		return query
	}
	return rebind(query)
}

// rebind converts '?' placeholders to '$1', '$2', ... leaving question marks
// inside single-quoted literals alone.
func rebind(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}

	sb := GetStringBuilder()
	defer PutStringBuilder(sb)
	sb.Grow(len(query) + 8)

	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			sb.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
		default:
			sb.WriteByte(c)
		}
	}
	return strings.Clone(sb.String())
}
