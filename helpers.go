package zorm

import (
	"reflect"
	"strconv"
	"strings"
	"sync"
)

var stringBuilderPool = sync.Pool{
	New: func() any { return new(strings.Builder) },
}

// GetStringBuilder returns a reset builder from the pool.
func GetStringBuilder() *strings.Builder {
	sb := stringBuilderPool.Get().(*strings.Builder)
	sb.Reset()
	return sb
}

// PutStringBuilder returns a builder to the pool. Callers must have copied
// anything they still need out of it.
func PutStringBuilder(sb *strings.Builder) {
	if sb.Cap() > 64*1024 {
		return
	}
	stringBuilderPool.Put(sb)
}

// toInt64 converts integer-like values, including pointers to them and
// numeric strings, to int64.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case uint:
		return int64(n), true
	case uint64:
		return int64(n), true
	case uint32:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	case []byte:
		i, err := strconv.ParseInt(strings.TrimSpace(string(n)), 10, 64)
		return i, err == nil
	}

	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Pointer {
		if val.IsNil() {
			return 0, false
		}
		val = val.Elem()
	}

	switch {
	case val.Kind() >= reflect.Int && val.Kind() <= reflect.Int64:
		return val.Int(), true
	case val.Kind() >= reflect.Uint && val.Kind() <= reflect.Uint64:
		return int64(val.Uint()), true
	case val.Kind() == reflect.Float32 || val.Kind() == reflect.Float64:
		f := val.Float()
		if f != float64(int64(f)) {
			return 0, false
		}
		return int64(f), true
	}
	return 0, false
}

// int64sToAny converts ids to query arguments.
func int64sToAny(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

// joinInt64s renders ids as a comma separated list of decimal literals.
// Only ever used with int64 values, so the output is safe to inline in SQL.
func joinInt64s(ids []int64, sep string) string {
	sb := GetStringBuilder()
	defer PutStringBuilder(sb)
	for i, id := range ids {
		if i > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(strconv.FormatInt(id, 10))
	}
	return strings.Clone(sb.String())
}
