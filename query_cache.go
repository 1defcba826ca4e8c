package zorm

import (
	"sync"
)

// predicateTemplateCache caches membership predicate SQL so hot relations
// don't rebuild the same disjunction on every call.
// Keys are in the format "backend:kind:column" (e.g. "text:contains:parents.child_ids").
var predicateTemplateCache sync.Map

// selectBaseCache caches "SELECT * FROM table" per table.
var selectBaseCache sync.Map

// cachedPredicate returns the cached predicate SQL for key, building and
// storing it on first use.
func cachedPredicate(key string, build func() string) string {
	if cached, ok := predicateTemplateCache.Load(key); ok {
		return cached.(string)
	}
	sqlText := build()
	actual, _ := predicateTemplateCache.LoadOrStore(key, sqlText)
	return actual.(string)
}

// buildSelectBase builds the base SELECT query: "SELECT * FROM tableName"
func (m *Model[T]) buildSelectBase() string {
	tableName := m.TableName()

	if cached, ok := selectBaseCache.Load(tableName); ok {
		return cached.(string)
	}

	result := "SELECT * FROM " + tableName
	selectBaseCache.Store(tableName, result)
	return result
}

// ClearQueryTemplateCache clears all cached query templates.
// This should be called if table schemas change at runtime (rare).
func ClearQueryTemplateCache() {
	predicateTemplateCache.Range(func(k, _ any) bool {
		predicateTemplateCache.Delete(k)
		return true
	})
	selectBaseCache.Range(func(k, _ any) bool {
		selectBaseCache.Delete(k)
		return true
	})
}
