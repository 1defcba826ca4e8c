package zorm

import (
	"reflect"
	"sync"
)

// originalValues stores original field values for dirty tracking.
// Key: entity pointer, Value: map[columnName]originalValue
var originalValues sync.Map

// Change is the before and after value of one column in a save.
type Change struct {
	Old any
	New any
}

// TrackOriginals stores the current field values of an entity as originals.
// Called automatically when entities are loaded, created or updated.
func TrackOriginals[T any](entity *T, modelInfo *ModelInfo) {
	if entity == nil {
		return
	}

	originals := make(map[string]any, len(modelInfo.Fields))
	val := reflect.ValueOf(entity).Elem()

	for _, field := range modelInfo.Fields {
		originals[field.Column] = snapshotValue(val.FieldByIndex(field.Index).Interface())
	}

	originalValues.Store(entity, originals)
}

// snapshotValue copies values that share memory with the entity, so later
// in-place edits don't rewrite history.
func snapshotValue(v any) any {
	if ids, ok := v.(IDs); ok {
		return ids.Clone()
	}
	return v
}

// valuesEqual compares a tracked value with a current one. Nil and empty
// id lists are the same list.
func valuesEqual(a, b any) bool {
	if ai, ok := a.(IDs); ok {
		if bi, ok := b.(IDs); ok {
			return ai.Equal(bi)
		}
	}
	return reflect.DeepEqual(a, b)
}

// ClearOriginals removes tracking for an entity.
func ClearOriginals[T any](entity *T) {
	if entity == nil {
		return
	}
	originalValues.Delete(entity)
}

// GetOriginal returns the original value of a field before any modifications.
// Returns nil if the entity is not tracked or field doesn't exist.
func GetOriginal[T any](entity *T, column string) any {
	if entity == nil {
		return nil
	}
	if originals, ok := originalValues.Load(entity); ok {
		if orig, exists := originals.(map[string]any)[column]; exists {
			return orig
		}
	}
	return nil
}

// IsTracked returns true if the entity has original values stored.
func IsTracked[T any](entity *T) bool {
	if entity == nil {
		return false
	}
	_, ok := originalValues.Load(entity)
	return ok
}

// IsDirty checks if a specific field has changed from its original value.
// Untracked entities are entirely dirty.
func IsDirty[T any](entity *T, column string, modelInfo *ModelInfo) bool {
	if entity == nil {
		return false
	}

	originals, ok := originalValues.Load(entity)
	if !ok {
		return true
	}

	original, exists := originals.(map[string]any)[column]
	if !exists {
		return true
	}

	field, ok := modelInfo.Columns[column]
	if !ok {
		return false
	}

	current := reflect.ValueOf(entity).Elem().FieldByIndex(field.Index).Interface()
	return !valuesEqual(original, current)
}

// GetDirty returns a map of all dirty (changed) fields and their current values.
func GetDirty[T any](entity *T, modelInfo *ModelInfo) map[string]any {
	changes := changeSet(entity, modelInfo)
	if changes == nil {
		return nil
	}
	dirty := make(map[string]any, len(changes))
	for col, ch := range changes {
		dirty[col] = ch.New
	}
	return dirty
}

// changeSet returns old and new values of every changed non-primary
// column. For untracked entities every column is a change from nil.
func changeSet[T any](entity *T, modelInfo *ModelInfo) map[string]Change {
	if entity == nil {
		return nil
	}

	val := reflect.ValueOf(entity).Elem()
	var orig map[string]any
	if originals, tracked := originalValues.Load(entity); tracked {
		orig = originals.(map[string]any)
	}

	changes := make(map[string]Change)
	for _, field := range modelInfo.Fields {
		if field.IsPrimary {
			continue
		}

		current := val.FieldByIndex(field.Index).Interface()
		if orig == nil {
			changes[field.Column] = Change{New: snapshotValue(current)}
			continue
		}
		if original, exists := orig[field.Column]; !exists || !valuesEqual(original, current) {
			changes[field.Column] = Change{Old: original, New: snapshotValue(current)}
		}
	}
	return changes
}

// IsDirtyField checks if a specific field on an entity is dirty.
func (m *Model[T]) IsDirtyField(entity *T, column string) bool {
	return IsDirty(entity, column, m.modelInfo)
}

// GetDirtyFields returns all changed fields on an entity.
func (m *Model[T]) GetDirtyFields(entity *T) map[string]any {
	return GetDirty(entity, m.modelInfo)
}
