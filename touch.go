package zorm

import (
	"context"
	"database/sql"
	"time"
)

type noTouchKey struct{}

// WithoutTouching returns a context in which saves don't touch related
// records. Pass it to Create, Update or UpdateColumns.
func WithoutTouching(ctx context.Context) context.Context {
	return context.WithValue(ctx, noTouchKey{}, true)
}

// NoTouching runs fn with touching suppressed.
//
//	err := zorm.NoTouching(ctx, func(ctx context.Context) error {
//	    return playlists.Update(ctx, p)
//	})
func NoTouching(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(WithoutTouching(ctx))
}

// IsTouchSuppressed reports whether ctx came from WithoutTouching.
func IsTouchSuppressed(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	suppressed, _ := ctx.Value(noTouchKey{}).(bool)
	return suppressed
}

// touchRecords sets column to at on every row of table whose key is in ids,
// in a single statement.
func touchRecords(ctx context.Context, s session, table, key, column string, ids IDs, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	conn, err := s.queryer()
	if err != nil {
		return err
	}

	query := "UPDATE " + table + " SET " + column + " = ? WHERE " + key + " IN (" + placeholders(len(ids)) + ")"
	args := append([]any{at}, int64sToAny(ids)...)
	if _, err := conn.ExecContext(ctx, s.dialect.Rebind(query), args...); err != nil {
		return WrapQueryError("UPDATE", query, args, err)
	}
	return nil
}

// queryer returns the connection of the session.
func (s session) queryer() (queryer, error) {
	if s.tx != nil {
		return s.tx.Tx, nil
	}
	if s.db != nil {
		return s.db, nil
	}
	if GlobalDB != nil {
		return GlobalDB, nil
	}
	return nil, sql.ErrConnDone
}
