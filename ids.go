package zorm

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// IDs is an ordered list of positive record identifiers stored in a single
// column. It is written as compact JSON text ("[1,2,3]") for both storage
// kinds, so serialized text columns stay matchable by the anchored patterns
// of the text backend.
type IDs []int64

// NormalizeIDs turns raw input into a deduplicated list of positive ids,
// keeping first occurrences in order. raw may be a single value or any
// slice of strings, numbers, nils or ids. Blank and nil entries are dropped.
// Text is coerced leniently: leading digits are read and anything
// non-numeric becomes 0, which is then dropped as non-positive.
// The result is never nil.
func NormalizeIDs(raw any) IDs {
	out := IDs{}
	seen := make(map[int64]struct{})
	eachRaw(raw, func(v any) {
		if isBlank(v) {
			return
		}
		id := coerceID(v)
		if id <= 0 {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	})
	return out
}

// ParseIDs is the strict form of NormalizeIDs: blank entries and duplicates
// are still dropped, but text that is not an integer and non-positive
// values are reported as an InputError instead of being discarded.
func ParseIDs(raw any) (IDs, error) {
	out := IDs{}
	seen := make(map[int64]struct{})
	var err error
	eachRaw(raw, func(v any) {
		if err != nil || isBlank(v) {
			return
		}
		id, ok := strictID(v)
		if !ok || id <= 0 {
			err = &InputError{Op: "ParseIDs", Value: v, Err: ErrInvalidID}
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func eachRaw(raw any, fn func(any)) {
	switch v := raw.(type) {
	case nil:
		return
	case IDs:
		for _, id := range v {
			fn(id)
		}
		return
	case []int64:
		for _, id := range v {
			fn(id)
		}
		return
	case []any:
		for _, item := range v {
			fn(item)
		}
		return
	case []string:
		for _, item := range v {
			fn(item)
		}
		return
	case []byte:
		fn(string(v))
		return
	}

	val := reflect.ValueOf(raw)
	if val.Kind() == reflect.Slice || val.Kind() == reflect.Array {
		for i := 0; i < val.Len(); i++ {
			fn(val.Index(i).Interface())
		}
		return
	}
	fn(raw)
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	val := reflect.ValueOf(v)
	switch val.Kind() {
	case reflect.Pointer, reflect.Interface:
		if val.IsNil() {
			return true
		}
		return isBlank(val.Elem().Interface())
	case reflect.String:
		return strings.TrimSpace(val.String()) == ""
	}
	return false
}

// coerceID reads an id the lenient way: integers as is, floats truncated,
// text by its leading optionally signed digits.
func coerceID(v any) int64 {
	if id, ok := toInt64(v); ok {
		return id
	}

	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Pointer {
		val = val.Elem()
	}
	switch val.Kind() {
	case reflect.Float32, reflect.Float64:
		f := val.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
			return 0
		}
		return int64(f)
	case reflect.String:
		return leadingInt(val.String())
	}
	return leadingInt(fmt.Sprint(v))
}

// leadingInt parses the integer prefix of s ("12abc" -> 12, "abc" -> 0).
func leadingInt(s string) int64 {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func strictID(v any) (int64, bool) {
	if id, ok := toInt64(v); ok {
		return id, true
	}
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Pointer {
		val = val.Elem()
	}
	if val.Kind() == reflect.String {
		n, err := strconv.ParseInt(strings.TrimSpace(val.String()), 10, 64)
		return n, err == nil
	}
	return 0, false
}

// Contains reports whether id is in the list.
func (ids IDs) Contains(id int64) bool {
	return ids.Index(id) >= 0
}

// Index returns the position of id, or -1.
func (ids IDs) Index(id int64) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

// Union returns ids followed by the members of other not already present.
func (ids IDs) Union(other ...IDs) IDs {
	out := make(IDs, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	add := func(list IDs) {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	add(ids)
	for _, o := range other {
		add(o)
	}
	return out
}

// Without returns ids with every occurrence of id removed.
func (ids IDs) Without(id int64) IDs {
	out := make(IDs, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Equal reports whether both lists hold the same ids in the same order.
// A nil list equals an empty one.
func (ids IDs) Equal(other IDs) bool {
	if len(ids) != len(other) {
		return false
	}
	for i := range ids {
		if ids[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy that shares no memory with ids.
func (ids IDs) Clone() IDs {
	out := make(IDs, len(ids))
	copy(out, ids)
	return out
}

// String renders the stored form.
func (ids IDs) String() string {
	return "[" + joinInt64s(ids, ",") + "]"
}

// Value implements driver.Valuer.
func (ids IDs) Value() (driver.Value, error) {
	return ids.String(), nil
}

// Scan implements sql.Scanner. NULL and empty values scan as an empty list.
func (ids *IDs) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*ids = IDs{}
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("zorm: cannot scan %T into IDs", src)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*ids = IDs{}
		return nil
	}

	var raw []any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("zorm: invalid id array %q: %w", string(data), err)
	}
	*ids = NormalizeIDs(raw)
	return nil
}
