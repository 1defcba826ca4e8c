package zorm

import (
	"context"
	"database/sql"
)

// BelongsToManyConfig configures an id array relation held by the owner.
type BelongsToManyConfig struct {
	// Column is the owner's IDs column. Defaults to the singular relation
	// name plus "_ids" ("tags" -> "tag_ids").
	Column string

	// Kind overrides the storage kind declared on the field tag.
	Kind ColumnKind

	// Touch bumps TouchColumn on added and removed targets after the owner
	// commits.
	Touch       bool
	TouchColumn string // defaults to "updated_at"

	// Dialect the relation renders SQL for. Defaults to GlobalDialect, then
	// the dialect of GlobalDB.
	Dialect *Dialect
}

// BelongsToManyJSON is a relation where each O stores the ids of its T
// records, in order, in one column.
type BelongsToManyJSON[O, T any] struct {
	name        string
	owner       *ModelInfo
	target      *ModelInfo
	field       *FieldInfo
	backend     ArrayBackend
	touchColumn string // empty when touching is off
	sess        session
}

// DeclareBelongsToMany declares that O references many T through an IDs
// column. The storage backend is chosen here, so a column the dialect can't
// query is reported now rather than on first use.
//
//	type Playlist struct {
//	    ID      int64
//	    SongIDs zorm.IDs `zorm:"json"`
//	}
//
//	songs, err := zorm.DeclareBelongsToMany[Playlist, Song]("songs", zorm.BelongsToManyConfig{Touch: true})
func DeclareBelongsToMany[O, T any](name string, cfg BelongsToManyConfig) (*BelongsToManyJSON[O, T], error) {
	owner := ParseModel[O]()
	target := ParseModel[T]()

	fail := func(reason string, err error) error {
		return &ConfigurationError{Relation: name, Model: owner.Type.Name(), Reason: reason, Err: err}
	}

	if name == "" {
		return nil, fail("relation name is empty", nil)
	}

	column := cfg.Column
	if column == "" {
		column = idsColumnFor(name)
	}
	field, reason := idsColumn(owner, column)
	if field == nil {
		return nil, fail(reason, nil)
	}
	if reason := integerKey(target); reason != "" {
		return nil, fail(reason, nil)
	}

	kind := cfg.Kind
	if kind == ColumnDefault {
		kind = field.Kind
	}
	dialect := resolveDialect(cfg.Dialect)
	backend, err := BackendFor(dialect, kind)
	if err != nil {
		return nil, fail("storage "+string(kind)+" is not queryable on "+dialect.Name, err)
	}

	rel := &BelongsToManyJSON[O, T]{
		name:    name,
		owner:   owner,
		target:  target,
		field:   field,
		backend: backend,
		sess:    session{dialect: dialect},
	}

	if cfg.Touch {
		rel.touchColumn = cfg.TouchColumn
		if rel.touchColumn == "" {
			rel.touchColumn = "updated_at"
		}
		if _, ok := target.Columns[rel.touchColumn]; !ok {
			return nil, fail("touch column "+rel.touchColumn+" not found on "+target.Type.Name(), nil)
		}
		callbacks.onAfterCommit(owner.Type, rel.touchAfterCommit)
	}

	registerRelation(Relation{
		Name:    name,
		Kind:    KindBelongsToMany,
		Owner:   owner.Type.Name(),
		Target:  target.Type.Name(),
		Table:   owner.TableName,
		Column:  column,
		Storage: backend.Kind(),
		Dialect: dialect.Name,
		Touch:   cfg.Touch,
	})
	return rel, nil
}

// MustDeclareBelongsToMany is like DeclareBelongsToMany but panics on a bad
// declaration. Meant for package level variables.
func MustDeclareBelongsToMany[O, T any](name string, cfg BelongsToManyConfig) *BelongsToManyJSON[O, T] {
	rel, err := DeclareBelongsToMany[O, T](name, cfg)
	if err != nil {
		panic(err)
	}
	return rel
}

// Name returns the relation name.
func (r *BelongsToManyJSON[O, T]) Name() string { return r.name }

// Column returns the owner's id array column.
func (r *BelongsToManyJSON[O, T]) Column() string { return r.field.Column }

// Backend returns the storage backend picked at declaration.
func (r *BelongsToManyJSON[O, T]) Backend() ArrayBackend { return r.backend }

// SetDB returns a copy of the relation that queries db.
func (r *BelongsToManyJSON[O, T]) SetDB(db *sql.DB) *BelongsToManyJSON[O, T] {
	c := *r
	c.sess.db = db
	return &c
}

// WithTx returns a copy of the relation that queries inside tx.
func (r *BelongsToManyJSON[O, T]) WithTx(tx *Tx) *BelongsToManyJSON[O, T] {
	c := *r
	c.sess.tx = tx
	return &c
}

// IDs returns the ids stored on owner, in order. Never nil.
func (r *BelongsToManyJSON[O, T]) IDs(owner *O) IDs {
	return idsOf(owner, r.field).Clone()
}

// SetIDs normalizes raw and stores it on owner. Nothing is written until
// owner is saved.
func (r *BelongsToManyJSON[O, T]) SetIDs(owner *O, raw any) error {
	if owner == nil {
		return ErrNilPointer
	}
	setIDsOf(owner, r.field, NormalizeIDs(raw))
	return nil
}

// SetRecords stores the ids of records on owner, in order. Every record
// must already be persisted.
func (r *BelongsToManyJSON[O, T]) SetRecords(owner *O, records []*T) error {
	if owner == nil {
		return ErrNilPointer
	}
	ids, err := persistedIDs("SetRecords", r.target, records)
	if err != nil {
		return WrapRelationError(r.name, r.owner.Type.Name(), err)
	}
	return r.SetIDs(owner, ids)
}

// HasAny reports whether owner references at least one record, without
// loading any.
func (r *BelongsToManyJSON[O, T]) HasAny(owner *O) bool {
	return len(idsOf(owner, r.field)) > 0
}

// Records loads the records referenced by owner in stored order.
func (r *BelongsToManyJSON[O, T]) Records(ctx context.Context, owner *O) ([]*T, error) {
	return r.Materialize(ctx, r.IDs(owner))
}

// Materialize fetches the T records with the given ids in one query and
// returns them in the order of ids. Ids with no record are skipped. An
// empty list returns without querying.
func (r *BelongsToManyJSON[O, T]) Materialize(ctx context.Context, ids IDs) ([]*T, error) {
	ids = NormalizeIDs(ids)
	if len(ids) == 0 {
		return []*T{}, nil
	}

	found, err := bind(New[T](), r.sess).
		WhereIn(r.target.PrimaryKey, int64sToAny(ids)).
		Get(ctx)
	if err != nil {
		return nil, err
	}
	return orderByIDs(r.target, found, ids), nil
}

// Query returns a scope over the records owner references, ordered like
// the stored ids by the database.
func (r *BelongsToManyJSON[O, T]) Query(owner *O) *Model[T] {
	m := bind(New[T](), r.sess)
	ids := r.IDs(owner)
	if len(ids) == 0 {
		return m.None()
	}
	return m.WhereIn(r.target.PrimaryKey, int64sToAny(ids)).
		OrderByRaw(r.backend.OrderByIDs(r.target.PrimaryKey, ids))
}

// Including returns a scope over the owners whose array contains id. A
// blank id is an InputError: depending on the backend it would silently
// match nothing or everything.
func (r *BelongsToManyJSON[O, T]) Including(id any) (*Model[O], error) {
	if isBlank(id) {
		return nil, &InputError{Op: "Including", Value: id, Err: ErrBlankID}
	}
	n := coerceID(id)
	if n <= 0 {
		return nil, &InputError{Op: "Including", Value: id, Err: ErrInvalidID}
	}
	return bind(New[O](), r.sess).
		WherePredicate(r.backend.Contains(r.field.Column, n)), nil
}

// IncludingAny returns a scope over the owners whose array contains at
// least one of ids. No ids gives a scope that matches nothing and never
// queries.
func (r *BelongsToManyJSON[O, T]) IncludingAny(raw any) (*Model[O], error) {
	ids := NormalizeIDs(raw)
	m := bind(New[O](), r.sess)
	if len(ids) == 0 {
		return m.None(), nil
	}
	return m.WherePredicate(r.backend.ContainsAny(r.field.Column, ids)), nil
}

// touchAfterCommit bumps the targets added to or removed from the array
// by a committed save. Failures are logged, never returned.
func (r *BelongsToManyJSON[O, T]) touchAfterCommit(ctx context.Context, s session, ev SaveEvent) {
	if IsTouchSuppressed(ctx) {
		return
	}
	change, ok := ev.Changes[r.field.Column]
	if !ok {
		return
	}

	affected := NormalizeIDs(change.Old).Union(NormalizeIDs(change.New))
	if len(affected) == 0 {
		return
	}

	err := touchRecords(ctx, s, r.target.TableName, r.target.PrimaryKey, r.touchColumn, affected, ev.At)
	if err != nil {
		logger().Warn().Err(err).
			Str("relation", r.name).
			Str("table", r.target.TableName).
			Str("ids", affected.String()).
			Msg("zorm: touch failed")
	}
}

// orderByIDs reorders records to follow ids, dropping ids without a record.
func orderByIDs[T any](info *ModelInfo, records []*T, ids IDs) []*T {
	byID := make(map[int64]*T, len(records))
	for _, rec := range records {
		if id, ok := info.primaryID(rec); ok {
			byID[id] = rec
		}
	}

	out := make([]*T, 0, len(ids))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			out = append(out, rec)
		}
	}
	return out
}
