package zorm

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

// nowFunc is the clock used for timestamps and commit times.
var nowFunc = time.Now

// Tx wraps sql.Tx and collects the work to run once it commits.
type Tx struct {
	Tx  *sql.Tx
	ctx context.Context
	db  *sql.DB

	mu          sync.Mutex
	afterCommit []func(committedAt time.Time)
}

// Transaction executes a function within a transaction on GlobalDB.
func Transaction(ctx context.Context, fn func(tx *Tx) error) error {
	if GlobalDB == nil {
		return sql.ErrConnDone
	}
	return TransactionOn(ctx, GlobalDB, fn)
}

// TransactionOn executes a function within a transaction on db. The
// transaction rolls back if fn returns an error or panics. After-commit
// callbacks run, in registration order, only once the commit succeeded.
func TransactionOn(ctx context.Context, db *sql.DB, fn func(tx *Tx) error) error {
	if db == nil {
		return sql.ErrConnDone
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	zTx := &Tx{Tx: tx, ctx: ctx, db: db}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(zTx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	zTx.runAfterCommit(nowFunc())
	return nil
}

// AfterCommit registers fn to run after the transaction commits. It never
// runs if the transaction rolls back.
func (t *Tx) AfterCommit(fn func(committedAt time.Time)) {
	t.mu.Lock()
	t.afterCommit = append(t.afterCommit, fn)
	t.mu.Unlock()
}

func (t *Tx) runAfterCommit(at time.Time) {
	t.mu.Lock()
	hooks := t.afterCommit
	t.afterCommit = nil
	t.mu.Unlock()

	for _, fn := range hooks {
		fn(at)
	}
}

// WithTx sets the transaction for the model.
func (m *Model[T]) WithTx(tx *Tx) *Model[T] {
	m.tx = tx
	if tx.ctx != nil {
		m.ctx = tx.ctx
	}
	return m
}
