package zorm

import (
	"context"
	"reflect"
	"sync"
	"time"
)

// SaveEvent describes a successful write of one entity, as seen by
// after-commit callbacks.
type SaveEvent struct {
	Entity  any
	Created bool
	Changes map[string]Change // column -> old/new, as recorded at save time
	At      time.Time         // commit time
}

type createCallback func(ctx context.Context, s session, entity any) error

type commitCallback func(ctx context.Context, s session, ev SaveEvent)

// callbackRegistry holds the callbacks relation declarations attach to
// model types.
type callbackRegistry struct {
	mu          sync.RWMutex
	afterCreate map[reflect.Type][]createCallback
	afterCommit map[reflect.Type][]commitCallback
}

var callbacks = &callbackRegistry{
	afterCreate: make(map[reflect.Type][]createCallback),
	afterCommit: make(map[reflect.Type][]commitCallback),
}

func (r *callbackRegistry) onAfterCreate(typ reflect.Type, fn createCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterCreate[typ] = append(r.afterCreate[typ], fn)
}

func (r *callbackRegistry) onAfterCommit(typ reflect.Type, fn commitCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.afterCommit[typ] = append(r.afterCommit[typ], fn)
}

func (r *callbackRegistry) createCallbacks(typ reflect.Type) []createCallback {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]createCallback(nil), r.afterCreate[typ]...)
}

func (r *callbackRegistry) commitCallbacks(typ reflect.Type) []commitCallback {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]commitCallback(nil), r.afterCommit[typ]...)
}

// runAfterCreate runs the post-create callbacks of T right after entity
// got its primary key, on the same connection as the insert.
func (m *Model[T]) runAfterCreate(ctx context.Context, entity *T) error {
	for _, fn := range callbacks.createCallbacks(m.modelInfo.Type) {
		if err := fn(ctx, m.session(), entity); err != nil {
			return err
		}
	}
	return nil
}

// scheduleAfterCommit hands the save to T's after-commit callbacks: when
// the transaction commits, or immediately when there is none since the
// statement has already been committed.
func (m *Model[T]) scheduleAfterCommit(ctx context.Context, entity *T, created bool, changes map[string]Change) {
	fns := callbacks.commitCallbacks(m.modelInfo.Type)
	if len(fns) == 0 {
		return
	}

	s := m.session()
	run := func(at time.Time) {
		ev := SaveEvent{Entity: entity, Created: created, Changes: changes, At: at}
		for _, fn := range fns {
			fn(ctx, s.committed(), ev)
		}
	}

	if m.tx != nil {
		m.tx.AfterCommit(run)
		return
	}
	run(nowFunc())
}
