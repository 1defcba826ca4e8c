package zorm

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"sync"
)

// HasManyConfig configures the reverse side of a relation: T has many O,
// and each O holds the link.
type HasManyConfig struct {
	// JSONForeignKey names an IDs column on O listing the T ids an O
	// belongs to. Setting it selects the id array strategy.
	JSONForeignKey string

	// ForeignKey names a plain column on O holding one T id. Used when
	// JSONForeignKey is empty; defaults to the snake cased T name plus "_id".
	ForeignKey string

	// Kind overrides the storage kind of the JSONForeignKey field tag.
	Kind ColumnKind

	// Dialect the relation renders SQL for. Defaults to GlobalDialect, then
	// the dialect of GlobalDB.
	Dialect *Dialect
}

// ownerLink is how an O points at a T: an id inside an array, or a plain
// foreign key column. Picked once at declaration.
type ownerLink interface {
	column() string
	storage() ColumnKind
	// predicate matches the owners linked to id.
	predicate(id int64) Predicate
	// attach links owner to id in memory and reports whether it changed.
	attach(owner any, id int64) bool
	// detach unlinks owner from id in memory and reports whether it changed.
	detach(owner any, id int64) bool
}

type arrayLink struct {
	field   *FieldInfo
	backend ArrayBackend
}

func (l arrayLink) column() string      { return l.field.Column }
func (l arrayLink) storage() ColumnKind { return l.backend.Kind() }

func (l arrayLink) predicate(id int64) Predicate {
	return l.backend.Contains(l.field.Column, id)
}

func (l arrayLink) attach(owner any, id int64) bool {
	ids := idsOf(owner, l.field)
	if ids.Contains(id) {
		return false
	}
	setIDsOf(owner, l.field, ids.Union(IDs{id}))
	return true
}

func (l arrayLink) detach(owner any, id int64) bool {
	ids := idsOf(owner, l.field)
	if !ids.Contains(id) {
		return false
	}
	setIDsOf(owner, l.field, ids.Without(id))
	return true
}

type columnLink struct {
	field *FieldInfo
}

func (l columnLink) column() string      { return l.field.Column }
func (l columnLink) storage() ColumnKind { return ColumnDefault }

func (l columnLink) predicate(id int64) Predicate {
	return Predicate{SQL: l.field.Column + " = ?", Args: []any{id}}
}

func (l columnLink) attach(owner any, id int64) bool {
	fv := reflect.ValueOf(owner).Elem().FieldByIndex(l.field.Index)
	if cur, ok := toInt64(fv.Interface()); ok && cur == id {
		return false
	}
	return setFieldValue(fv, id) == nil
}

func (l columnLink) detach(owner any, id int64) bool {
	fv := reflect.ValueOf(owner).Elem().FieldByIndex(l.field.Index)
	if cur, ok := toInt64(fv.Interface()); !ok || cur != id {
		return false
	}
	fv.Set(reflect.Zero(fv.Type()))
	return true
}

// pendingOwners holds owner assignments made to records that had no id
// yet, keyed by the record pointer.
type pendingOwners[T, O any] struct {
	mu      sync.Mutex
	entries map[*T][]*O
}

func (p *pendingOwners[T, O]) put(rec *T, owners []*O) {
	p.mu.Lock()
	p.entries[rec] = append([]*O(nil), owners...)
	p.mu.Unlock()
}

func (p *pendingOwners[T, O]) peek(rec *T) ([]*O, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	owners, ok := p.entries[rec]
	return owners, ok
}

// take removes and returns the assignment for rec.
func (p *pendingOwners[T, O]) take(rec *T) ([]*O, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	owners, ok := p.entries[rec]
	delete(p.entries, rec)
	return owners, ok
}

// HasManyJSON is the reverse side of a relation: each T has many O, and
// the O rows hold the link. Writes keep every O consistent with the
// assignment made on T.
type HasManyJSON[T, O any] struct {
	name    string
	record  *ModelInfo
	owner   *ModelInfo
	link    ownerLink
	pending *pendingOwners[T, O]
	sess    session
}

// DeclareHasMany declares that T has many O. With JSONForeignKey set the
// link is an id array on O, otherwise a plain foreign key column.
//
//	playlists, err := zorm.DeclareHasMany[Song, Playlist]("playlists",
//	    zorm.HasManyConfig{JSONForeignKey: "song_ids"})
func DeclareHasMany[T, O any](name string, cfg HasManyConfig) (*HasManyJSON[T, O], error) {
	record := ParseModel[T]()
	owner := ParseModel[O]()

	fail := func(reason string, err error) error {
		return &ConfigurationError{Relation: name, Model: record.Type.Name(), Reason: reason, Err: err}
	}

	if name == "" {
		return nil, fail("relation name is empty", nil)
	}
	if reason := integerKey(record); reason != "" {
		return nil, fail(reason, nil)
	}
	if reason := integerKey(owner); reason != "" {
		return nil, fail(reason, nil)
	}

	dialect := resolveDialect(cfg.Dialect)
	kind := KindHasMany

	var link ownerLink
	if cfg.JSONForeignKey != "" {
		field, reason := idsColumn(owner, cfg.JSONForeignKey)
		if field == nil {
			return nil, fail(reason, nil)
		}
		storage := cfg.Kind
		if storage == ColumnDefault {
			storage = field.Kind
		}
		backend, err := BackendFor(dialect, storage)
		if err != nil {
			return nil, fail("storage "+string(storage)+" is not queryable on "+dialect.Name, err)
		}
		link = arrayLink{field: field, backend: backend}
		kind = KindHasManyJSON
	} else {
		column := cfg.ForeignKey
		if column == "" {
			column = foreignKeyFor(record.Type)
		}
		field, ok := owner.Columns[column]
		if !ok {
			return nil, fail(fmt.Sprintf("foreign key %q not found on %s", column, owner.Type.Name()), nil)
		}
		link = columnLink{field: field}
	}

	rel := &HasManyJSON[T, O]{
		name:    name,
		record:  record,
		owner:   owner,
		link:    link,
		pending: &pendingOwners[T, O]{entries: make(map[*T][]*O)},
		sess:    session{dialect: dialect},
	}
	callbacks.onAfterCreate(record.Type, rel.flushPending)

	registerRelation(Relation{
		Name:    name,
		Kind:    kind,
		Owner:   record.Type.Name(),
		Target:  owner.Type.Name(),
		Table:   owner.TableName,
		Column:  link.column(),
		Storage: link.storage(),
		Dialect: dialect.Name,
	})
	return rel, nil
}

// MustDeclareHasMany is like DeclareHasMany but panics on a bad declaration.
func MustDeclareHasMany[T, O any](name string, cfg HasManyConfig) *HasManyJSON[T, O] {
	rel, err := DeclareHasMany[T, O](name, cfg)
	if err != nil {
		panic(err)
	}
	return rel
}

// Name returns the relation name.
func (r *HasManyJSON[T, O]) Name() string { return r.name }

// Column returns the column on O that holds the link.
func (r *HasManyJSON[T, O]) Column() string { return r.link.column() }

// UsesArray reports whether the link is an id array rather than a plain
// foreign key.
func (r *HasManyJSON[T, O]) UsesArray() bool {
	_, ok := r.link.(arrayLink)
	return ok
}

// SetDB returns a copy of the relation that queries db.
func (r *HasManyJSON[T, O]) SetDB(db *sql.DB) *HasManyJSON[T, O] {
	c := *r
	c.sess.db = db
	return &c
}

// WithTx returns a copy of the relation that queries inside tx. Pending
// assignments are shared with the original.
func (r *HasManyJSON[T, O]) WithTx(tx *Tx) *HasManyJSON[T, O] {
	c := *r
	c.sess.tx = tx
	return &c
}

// Query returns a scope over the owners linked to rec, ordered by primary
// key. rec must be persisted.
func (r *HasManyJSON[T, O]) Query(rec *T) (*Model[O], error) {
	id, ok := r.record.primaryID(rec)
	if !ok {
		return nil, &InputError{Op: "Query", Value: r.record.Type.Name(), Err: ErrUnpersisted}
	}
	return r.scope(r.sess, id), nil
}

func (r *HasManyJSON[T, O]) scope(s session, id int64) *Model[O] {
	return bind(New[O](), s).
		WherePredicate(r.link.predicate(id)).
		OrderBy(r.owner.PrimaryKey, "ASC")
}

// Records returns the owners linked to rec. For a record that was never
// saved it returns the pending assignment, without querying.
func (r *HasManyJSON[T, O]) Records(ctx context.Context, rec *T) ([]*O, error) {
	if rec == nil {
		return nil, ErrNilPointer
	}
	id, ok := r.record.primaryID(rec)
	if !ok {
		owners, _ := r.pending.peek(rec)
		return append([]*O{}, owners...), nil
	}
	return r.scope(r.sess, id).Get(ctx)
}

// IDs returns the ids of the owners linked to rec, ascending.
func (r *HasManyJSON[T, O]) IDs(ctx context.Context, rec *T) (IDs, error) {
	if rec == nil {
		return nil, ErrNilPointer
	}
	id, ok := r.record.primaryID(rec)
	if !ok {
		owners, _ := r.pending.peek(rec)
		ids := make(IDs, 0, len(owners))
		for _, o := range owners {
			if oid, ok := r.owner.primaryID(o); ok {
				ids = append(ids, oid)
			}
		}
		return NormalizeIDs(ids), nil
	}

	raw, err := scalarOn[int64](r.sess).
		Table(r.owner.TableName).
		Select(r.owner.PrimaryKey).
		WherePredicate(r.link.predicate(id)).
		OrderBy(r.owner.PrimaryKey, "ASC").
		Get(ctx)
	if err != nil {
		return nil, err
	}
	return NormalizeIDs(raw), nil
}

// HasAny reports whether any owner is linked to rec, with an EXISTS query.
func (r *HasManyJSON[T, O]) HasAny(ctx context.Context, rec *T) (bool, error) {
	if rec == nil {
		return false, ErrNilPointer
	}
	id, ok := r.record.primaryID(rec)
	if !ok {
		owners, _ := r.pending.peek(rec)
		return len(owners) > 0, nil
	}
	return r.scope(r.sess, id).Exists(ctx)
}

// SetIDs loads the owners with the given ids and assigns them with
// SetRecords. A missing owner is ErrRecordNotFound.
func (r *HasManyJSON[T, O]) SetIDs(ctx context.Context, rec *T, raw any) error {
	if rec == nil {
		return ErrNilPointer
	}
	ids := NormalizeIDs(raw)

	owners := []*O{}
	if len(ids) > 0 {
		found, err := bind(New[O](), r.sess).
			WhereIn(r.owner.PrimaryKey, int64sToAny(ids)).
			Get(ctx)
		if err != nil {
			return err
		}
		if len(found) != len(ids) {
			return WrapRelationError(r.name, r.record.Type.Name(),
				fmt.Errorf("%w: want %d %s, found %d", ErrRecordNotFound, len(ids), r.owner.TableName, len(found)))
		}
		owners = orderByIDs(r.owner, found, ids)
	}
	return r.SetRecords(ctx, rec, owners)
}

// SetRecords links rec to exactly the given owners: each of them gets
// rec's id once, and owners currently linked but not listed lose it.
//
// When rec has no id yet the assignment is kept and written right after
// rec is created. Every owner must already be persisted.
func (r *HasManyJSON[T, O]) SetRecords(ctx context.Context, rec *T, owners []*O) error {
	if rec == nil {
		return ErrNilPointer
	}
	if _, err := persistedIDs("SetRecords", r.owner, owners); err != nil {
		return WrapRelationError(r.name, r.record.Type.Name(), err)
	}

	id, ok := r.record.primaryID(rec)
	if !ok {
		r.pending.put(rec, owners)
		return nil
	}
	return r.write(ctx, r.sess, id, owners)
}

// Discard drops a pending assignment for a record that will not be saved.
func (r *HasManyJSON[T, O]) Discard(rec *T) {
	r.pending.take(rec)
}

// Build returns a new, unsaved O linked to rec.
func (r *HasManyJSON[T, O]) Build(rec *T) (*O, error) {
	id, ok := r.record.primaryID(rec)
	if !ok {
		return nil, &InputError{Op: "Build", Value: r.record.Type.Name(), Err: ErrUnpersisted}
	}
	owner := new(O)
	r.link.attach(owner, id)
	return owner, nil
}

// Create links owner to rec and inserts it.
func (r *HasManyJSON[T, O]) Create(ctx context.Context, rec *T, owner *O) error {
	if owner == nil {
		return ErrNilPointer
	}
	id, ok := r.record.primaryID(rec)
	if !ok {
		return &InputError{Op: "Create", Value: r.record.Type.Name(), Err: ErrUnpersisted}
	}
	r.link.attach(owner, id)
	return bind(New[O](), r.sess).Create(ctx, owner)
}

// write rewrites the owners so that exactly owners are linked to id.
func (r *HasManyJSON[T, O]) write(ctx context.Context, s session, id int64, owners []*O) error {
	current, err := r.scope(s, id).Get(ctx)
	if err != nil {
		return err
	}

	m := bind(New[O](), s)
	column := r.link.column()
	keep := make(map[int64]struct{}, len(owners))

	for _, o := range owners {
		oid, _ := r.owner.primaryID(o)
		keep[oid] = struct{}{}
		if !r.link.attach(o, id) {
			continue
		}
		if err := m.UpdateColumns(ctx, o, column); err != nil {
			return err
		}
	}

	for _, o := range current {
		oid, _ := r.owner.primaryID(o)
		if _, ok := keep[oid]; ok {
			continue
		}
		if !r.link.detach(o, id) {
			continue
		}
		if err := m.UpdateColumns(ctx, o, column); err != nil {
			return err
		}
	}
	return nil
}

// flushPending writes the assignment buffered for a record as soon as it
// has an id. The buffer entry is removed whether or not it held owners.
func (r *HasManyJSON[T, O]) flushPending(ctx context.Context, s session, entity any) error {
	rec, ok := entity.(*T)
	if !ok {
		return nil
	}
	owners, ok := r.pending.take(rec)
	if !ok {
		return nil
	}

	id, ok := r.record.primaryID(rec)
	if !ok {
		return &InputError{Op: "SetRecords", Value: r.record.Type.Name(), Err: ErrUnpersisted}
	}

	logger().Debug().
		Str("relation", r.name).
		Int64("id", id).
		Int("owners", len(owners)).
		Msg("zorm: flushing pending owners")

	if err := r.write(ctx, s, id, owners); err != nil {
		return WrapRelationError(r.name, r.record.Type.Name(), err)
	}
	return nil
}
