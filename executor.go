package zorm

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// queryer is the part of *sql.DB and *sql.Tx the executor needs.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// queryer returns the transaction when one is active, otherwise the
// model's connection or GlobalDB.
func (m *Model[T]) queryer() (queryer, error) {
	if m.tx != nil {
		return m.tx.Tx, nil
	}
	if m.db != nil {
		return m.db, nil
	}
	if GlobalDB != nil {
		return GlobalDB, nil
	}
	return nil, sql.ErrConnDone
}

// Get executes the query and returns a slice of results.
func (m *Model[T]) Get(ctx context.Context) ([]*T, error) {
	if m.none {
		return []*T{}, nil
	}

	q, err := m.queryer()
	if err != nil {
		return nil, err
	}

	query, args := m.buildSelectQuery()
	rows, err := q.QueryContext(ctx, m.getDialect().Rebind(query), args...)
	if err != nil {
		return nil, WrapQueryError("SELECT", query, args, err)
	}
	defer rows.Close()

	results, err := m.scanRows(rows)
	if err != nil {
		return nil, WrapQueryError("SCAN", query, args, err)
	}
	return results, nil
}

// First executes the query and returns the first result.
// Uses Clone() to avoid mutating the original query state.
func (m *Model[T]) First(ctx context.Context) (*T, error) {
	q := m.Clone()
	q.limit = 1
	results, err := q.Get(ctx)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrRecordNotFound
	}
	return results[0], nil
}

// Find finds a record by ID.
func (m *Model[T]) Find(ctx context.Context, id any) (*T, error) {
	return m.Clone().Where(m.modelInfo.PrimaryKey, id).First(ctx)
}

// Pluck retrieves a single column's values from the result set.
func (m *Model[T]) Pluck(ctx context.Context, column string) ([]any, error) {
	if err := ValidateColumnName(column); err != nil {
		return nil, err
	}
	if m.none {
		return []any{}, nil
	}

	q := m.Clone()
	q.columns = []string{column}
	conn, err := q.queryer()
	if err != nil {
		return nil, err
	}

	query, args := q.buildSelectQuery()
	rows, err := conn.QueryContext(ctx, q.getDialect().Rebind(query), args...)
	if err != nil {
		return nil, WrapQueryError("SELECT", query, args, err)
	}
	defer rows.Close()

	var results []any
	for rows.Next() {
		var val any
		if err := rows.Scan(&val); err != nil {
			return nil, WrapQueryError("SCAN", query, args, err)
		}
		results = append(results, val)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapQueryError("SCAN", query, args, err)
	}
	return results, nil
}

// Count returns the number of records matching the query.
func (m *Model[T]) Count(ctx context.Context) (int64, error) {
	if m.none {
		return 0, nil
	}
	conn, err := m.queryer()
	if err != nil {
		return 0, err
	}

	sb := GetStringBuilder()
	sb.WriteString("SELECT COUNT(*) FROM ")
	sb.WriteString(m.TableName())
	m.buildWhereClause(sb)
	query := strings.Clone(sb.String())
	PutStringBuilder(sb)

	var count int64
	if err := conn.QueryRowContext(ctx, m.getDialect().Rebind(query), m.args...).Scan(&count); err != nil {
		return 0, WrapQueryError("COUNT", query, m.args, err)
	}
	return count, nil
}

// Exists checks if any record matches the query conditions.
// It uses "SELECT 1 FROM table WHERE conditions LIMIT 1" so no row is
// materialized.
func (m *Model[T]) Exists(ctx context.Context) (bool, error) {
	if m.none {
		return false, nil
	}
	conn, err := m.queryer()
	if err != nil {
		return false, err
	}

	sb := GetStringBuilder()
	sb.WriteString("SELECT 1 FROM ")
	sb.WriteString(m.TableName())
	m.buildWhereClause(sb)
	sb.WriteString(" LIMIT 1")
	query := strings.Clone(sb.String())
	PutStringBuilder(sb)

	rows, err := conn.QueryContext(ctx, m.getDialect().Rebind(query), m.args...)
	if err != nil {
		return false, WrapQueryError("EXISTS", query, m.args, err)
	}
	defer rows.Close()

	exists := rows.Next()
	if err := rows.Err(); err != nil {
		return false, WrapQueryError("EXISTS", query, m.args, err)
	}
	return exists, nil
}

// scanRows scans sql.Rows into a slice of *T and tracks originals for
// dirty checking. Columns without a matching field are discarded.
func (m *Model[T]) scanRows(rows *sql.Rows) ([]*T, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	fields := make([]*FieldInfo, len(columns))
	for i, col := range columns {
		fields[i] = m.modelInfo.Columns[col]
	}

	results := make([]*T, 0, 16)
	dest := make([]any, len(columns))

	for rows.Next() {
		entity := new(T)
		val := reflect.ValueOf(entity).Elem()
		for i, f := range fields {
			if f != nil {
				dest[i] = val.FieldByIndex(f.Index).Addr().Interface()
			} else {
				var ignore any
				dest[i] = &ignore
			}
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		TrackOriginals(entity, m.modelInfo)
		results = append(results, entity)
	}

	return results, rows.Err()
}

// Create inserts a new record, assigns its primary key, then runs the
// post-create callbacks and schedules the after-commit ones.
func (m *Model[T]) Create(ctx context.Context, entity *T) error {
	if entity == nil {
		return ErrNilPointer
	}
	if m.tx == nil && len(callbacks.createCallbacks(m.modelInfo.Type)) > 0 {
		return m.createInTransaction(ctx, entity)
	}

	now := nowFunc()
	m.touchTimestamp(entity, "created_at", now, true)
	m.touchTimestamp(entity, "updated_at", now, true)

	if hook, ok := any(entity).(interface{ BeforeCreate(context.Context) error }); ok {
		if err := hook.BeforeCreate(ctx); err != nil {
			return err
		}
	}

	conn, err := m.queryer()
	if err != nil {
		return err
	}

	pkField, ok := m.modelInfo.primaryField()
	if !ok {
		return fmt.Errorf("primary key field %s not found in model", m.modelInfo.PrimaryKey)
	}

	val := reflect.ValueOf(entity).Elem()
	columns := make([]string, 0, len(m.modelInfo.Fields))
	values := make([]any, 0, len(m.modelInfo.Fields))

	for _, field := range m.sortedFields() {
		fVal := val.FieldByIndex(field.Index)
		if field.IsPrimary && fVal.IsZero() {
			continue
		}
		columns = append(columns, field.Column)
		values = append(values, fVal.Interface())
	}

	changes := changeSet(entity, m.modelInfo)

	dialect := m.getDialect()
	sb := GetStringBuilder()
	sb.WriteString("INSERT INTO ")
	sb.WriteString(m.modelInfo.TableName)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(columns, ", "))
	sb.WriteString(") VALUES (")
	sb.WriteString(placeholders(len(columns)))
	sb.WriteString(")")
	if dialect.SupportsReturning {
		sb.WriteString(" RETURNING ")
		sb.WriteString(m.modelInfo.PrimaryKey)
	}
	query := strings.Clone(sb.String())
	PutStringBuilder(sb)

	pkVal := val.FieldByIndex(pkField.Index)
	if dialect.SupportsReturning {
		err = conn.QueryRowContext(ctx, dialect.Rebind(query), values...).Scan(pkVal.Addr().Interface())
	} else {
		var res sql.Result
		res, err = conn.ExecContext(ctx, dialect.Rebind(query), values...)
		if err == nil && pkVal.IsZero() {
			var id int64
			if id, err = res.LastInsertId(); err == nil {
				err = setFieldValue(pkVal, id)
			}
		}
	}
	if err != nil {
		return WrapQueryError("INSERT", query, values, err)
	}

	TrackOriginals(entity, m.modelInfo)

	if err := m.runAfterCreate(ctx, entity); err != nil {
		return err
	}

	if hook, ok := any(entity).(interface{ AfterCreate(context.Context) error }); ok {
		if err := hook.AfterCreate(ctx); err != nil {
			return err
		}
	}

	m.scheduleAfterCommit(ctx, entity, true, changes)
	return nil
}

// createInTransaction runs Create and the post-create callbacks as one
// unit, so a failed callback leaves no row behind. The primary key is
// cleared again on failure.
func (m *Model[T]) createInTransaction(ctx context.Context, entity *T) error {
	db := m.database()
	if db == nil {
		return sql.ErrConnDone
	}

	var pkVal reflect.Value
	if pk, ok := m.modelInfo.primaryField(); ok {
		pkVal = reflect.ValueOf(entity).Elem().FieldByIndex(pk.Index)
	}
	assigned := pkVal.IsValid() && pkVal.IsZero()

	err := TransactionOn(ctx, db, func(tx *Tx) error {
		inTx := *m
		inTx.tx = tx
		return inTx.Create(ctx, entity)
	})
	if err != nil && assigned {
		pkVal.Set(reflect.Zero(pkVal.Type()))
		ClearOriginals(entity)
	}
	return err
}

// Update updates every column of a single record by its primary key.
func (m *Model[T]) Update(ctx context.Context, entity *T) error {
	if entity == nil {
		return ErrNilPointer
	}
	columns := make([]string, 0, len(m.modelInfo.Fields))
	for _, f := range m.sortedFields() {
		if !f.IsPrimary {
			columns = append(columns, f.Column)
		}
	}
	return m.update(ctx, entity, columns)
}

// UpdateColumns updates only the specified columns of the entity.
// updated_at is added when the model has one.
//
// Example:
//
//	user.Name = "New Name"
//	err := model.UpdateColumns(ctx, user, "name")
func (m *Model[T]) UpdateColumns(ctx context.Context, entity *T, columns ...string) error {
	if entity == nil {
		return ErrNilPointer
	}
	if len(columns) == 0 {
		return nil
	}
	if _, ok := m.modelInfo.Columns["updated_at"]; ok && !containsString(columns, "updated_at") {
		columns = append(columns, "updated_at")
	}
	return m.update(ctx, entity, columns)
}

func (m *Model[T]) update(ctx context.Context, entity *T, columns []string) error {
	pkID, persisted := m.modelInfo.primaryID(entity)
	if !persisted {
		return &InputError{Op: "Update", Value: m.modelInfo.Type.Name(), Err: ErrUnpersisted}
	}

	m.touchTimestamp(entity, "updated_at", nowFunc(), false)

	if hook, ok := any(entity).(interface{ BeforeUpdate(context.Context) error }); ok {
		if err := hook.BeforeUpdate(ctx); err != nil {
			return err
		}
	}

	conn, err := m.queryer()
	if err != nil {
		return err
	}

	val := reflect.ValueOf(entity).Elem()
	sets := make([]string, 0, len(columns))
	values := make([]any, 0, len(columns)+1)
	for _, column := range columns {
		field, ok := m.modelInfo.Columns[column]
		if !ok || field.IsPrimary {
			continue
		}
		sets = append(sets, column+" = ?")
		values = append(values, val.FieldByIndex(field.Index).Interface())
	}
	if len(sets) == 0 {
		return nil
	}

	changes := make(map[string]Change)
	for col, ch := range changeSet(entity, m.modelInfo) {
		if containsString(columns, col) {
			changes[col] = ch
		}
	}

	query := "UPDATE " + m.modelInfo.TableName + " SET " + strings.Join(sets, ", ") +
		" WHERE " + m.modelInfo.PrimaryKey + " = ?"
	values = append(values, pkID)

	if _, err := conn.ExecContext(ctx, m.getDialect().Rebind(query), values...); err != nil {
		return WrapQueryError("UPDATE", query, values, err)
	}

	syncColumns(entity, m.modelInfo, columns)

	if hook, ok := any(entity).(interface{ AfterUpdate(context.Context) error }); ok {
		if err := hook.AfterUpdate(ctx); err != nil {
			return err
		}
	}

	m.scheduleAfterCommit(ctx, entity, false, changes)
	return nil
}

// Delete deletes records matching the current query conditions.
// WARNING: Without WHERE conditions, this will delete ALL records in the table.
func (m *Model[T]) Delete(ctx context.Context) error {
	if m.none {
		return nil
	}
	conn, err := m.queryer()
	if err != nil {
		return err
	}

	sb := GetStringBuilder()
	sb.WriteString("DELETE FROM ")
	sb.WriteString(m.modelInfo.TableName)
	m.buildWhereClause(sb)
	query := strings.Clone(sb.String())
	PutStringBuilder(sb)

	if _, err := conn.ExecContext(ctx, m.getDialect().Rebind(query), m.args...); err != nil {
		return WrapQueryError("DELETE", query, m.args, err)
	}
	return nil
}

// touchTimestamp sets a managed timestamp column. With onlyZero it leaves
// values the caller already set.
func (m *Model[T]) touchTimestamp(entity *T, column string, now time.Time, onlyZero bool) {
	fieldVal, ok := m.modelInfo.fieldValue(entity, column)
	if !ok || !fieldVal.CanSet() {
		return
	}
	if onlyZero && !fieldVal.IsZero() {
		return
	}
	_ = setFieldValue(fieldVal, now)
}

// sortedFields returns the model fields in struct order, so generated
// statements are stable.
func (m *Model[T]) sortedFields() []*FieldInfo {
	fields := make([]*FieldInfo, 0, len(m.modelInfo.Fields))
	for _, f := range m.modelInfo.Fields {
		fields = append(fields, f)
	}
	for i := 1; i < len(fields); i++ {
		for j := i; j > 0 && indexLess(fields[j].Index, fields[j-1].Index); j-- {
			fields[j], fields[j-1] = fields[j-1], fields[j]
		}
	}
	return fields
}

func indexLess(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// syncColumns marks the given columns clean after a partial update.
func syncColumns[T any](entity *T, modelInfo *ModelInfo, columns []string) {
	loaded, ok := originalValues.Load(entity)
	if !ok {
		TrackOriginals(entity, modelInfo)
		return
	}

	prev := loaded.(map[string]any)
	next := make(map[string]any, len(prev))
	for k, v := range prev {
		next[k] = v
	}
	val := reflect.ValueOf(entity).Elem()
	for _, col := range columns {
		if f, ok := modelInfo.Columns[col]; ok {
			next[col] = snapshotValue(val.FieldByIndex(f.Index).Interface())
		}
	}
	originalValues.Store(entity, next)
}

// setFieldValue assigns v to field, converting between compatible types.
func setFieldValue(field reflect.Value, v any) error {
	if !field.CanSet() {
		return fmt.Errorf("zorm: field is not settable")
	}
	if v == nil {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}

	val := reflect.ValueOf(v)
	switch {
	case val.Type().AssignableTo(field.Type()):
		field.Set(val)
	case field.Kind() == reflect.Pointer && val.Type().AssignableTo(field.Type().Elem()):
		ptr := reflect.New(field.Type().Elem())
		ptr.Elem().Set(val)
		field.Set(ptr)
	case val.Type().ConvertibleTo(field.Type()):
		field.Set(val.Convert(field.Type()))
	default:
		return fmt.Errorf("zorm: cannot assign %T to %s", v, field.Type())
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
