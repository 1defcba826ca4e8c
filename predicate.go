package zorm

import "strings"

// Predicate is a SQL boolean expression with '?' placeholders and the
// arguments that fill them.
type Predicate struct {
	SQL  string
	Args []any
}

// IsZero reports whether p holds no condition.
func (p Predicate) IsZero() bool {
	return p.SQL == ""
}

// Or joins predicates with OR. Zero predicates are skipped; a single
// predicate is returned as is.
func Or(preds ...Predicate) Predicate {
	var parts []string
	var args []any
	for _, p := range preds {
		if p.IsZero() {
			continue
		}
		parts = append(parts, p.SQL)
		args = append(args, p.Args...)
	}

	switch len(parts) {
	case 0:
		return Predicate{}
	case 1:
		return Predicate{SQL: parts[0], Args: args}
	}
	return Predicate{SQL: "(" + strings.Join(parts, " OR ") + ")", Args: args}
}
