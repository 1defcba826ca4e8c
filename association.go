package zorm

import (
	"fmt"
	"io"
	"reflect"
	"sort"
	"sync"

	"github.com/jedib0t/go-pretty/table"
)

// Relation kinds recorded in the registry.
const (
	KindBelongsToMany = "belongs_to_many"
	KindHasManyJSON   = "has_many_json"
	KindHasMany       = "has_many"
)

// Relation describes one declared relationship.
type Relation struct {
	Name    string
	Kind    string
	Owner   string // type holding the column
	Target  string // type the column points at
	Table   string // table holding the column
	Column  string
	Storage ColumnKind // empty for plain foreign keys
	Dialect string
	Touch   bool
}

var relationRegistry = struct {
	mu   sync.RWMutex
	list []Relation
}{}

func registerRelation(rel Relation) {
	relationRegistry.mu.Lock()
	relationRegistry.list = append(relationRegistry.list, rel)
	relationRegistry.mu.Unlock()

	logger().Debug().
		Str("relation", rel.Name).
		Str("kind", rel.Kind).
		Str("table", rel.Table).
		Str("column", rel.Column).
		Str("storage", string(rel.Storage)).
		Msg("zorm: relation declared")
}

// Relations returns every declared relation, sorted by table then name.
func Relations() []Relation {
	relationRegistry.mu.RLock()
	out := append([]Relation(nil), relationRegistry.list...)
	relationRegistry.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Table != out[j].Table {
			return out[i].Table < out[j].Table
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// PrintRelations renders the declared relations as a table.
func PrintRelations(w io.Writer) error {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Owner", "Relation", "Kind", "Target", "Column", "Storage", "Dialect", "Touch"})
	for _, rel := range Relations() {
		storage := string(rel.Storage)
		if storage == "" {
			storage = "-"
		}
		tw.AppendRow(table.Row{rel.Owner, rel.Name, rel.Kind, rel.Target,
			rel.Table + "." + rel.Column, storage, rel.Dialect, rel.Touch})
	}
	_, err := fmt.Fprintln(w, tw.Render())
	return err
}

// idsColumnFor is the conventional array column for a relation name:
// "tags" -> "tag_ids".
func idsColumnFor(name string) string {
	return ToSnakeCase(pluralizer.Singular(name)) + "_ids"
}

// foreignKeyFor is the conventional foreign key pointing at a type:
// Author -> "author_id".
func foreignKeyFor(typ reflect.Type) string {
	return ToSnakeCase(typ.Name()) + "_id"
}

// resolveDialect picks the dialect a declaration renders SQL for.
func resolveDialect(d *Dialect) *Dialect {
	if d != nil {
		return d
	}
	if GlobalDialect != nil {
		return GlobalDialect
	}
	if GlobalDB != nil {
		return DetectDialect(GlobalDB)
	}
	return Dialects.SQLite3
}

// idsColumn looks up column on info and checks it holds IDs.
func idsColumn(info *ModelInfo, column string) (*FieldInfo, string) {
	field, ok := info.Columns[column]
	if !ok {
		return nil, fmt.Sprintf("column %q not found on %s", column, info.Type.Name())
	}
	if field.FieldType != idsType {
		return nil, fmt.Sprintf("column %q is %s, want zorm.IDs", column, field.FieldType)
	}
	return field, ""
}

// integerKey checks that info has an integer primary key.
func integerKey(info *ModelInfo) string {
	field, ok := info.primaryField()
	if !ok {
		return fmt.Sprintf("%s has no primary key field %q", info.Type.Name(), info.PrimaryKey)
	}
	switch field.FieldType.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return ""
	}
	return fmt.Sprintf("%s primary key %q is %s, want an integer", info.Type.Name(), info.PrimaryKey, field.FieldType)
}

// idsOf reads the id array stored in field of entity. Never nil.
func idsOf(entity any, field *FieldInfo) IDs {
	val := reflect.ValueOf(entity)
	if val.Kind() != reflect.Pointer || val.IsNil() {
		return IDs{}
	}
	ids, _ := val.Elem().FieldByIndex(field.Index).Interface().(IDs)
	if ids == nil {
		return IDs{}
	}
	return ids
}

func setIDsOf(entity any, field *FieldInfo, ids IDs) {
	reflect.ValueOf(entity).Elem().FieldByIndex(field.Index).Set(reflect.ValueOf(ids))
}

// persistedIDs returns the primary keys of records, failing on the first
// one that has not been saved.
func persistedIDs[R any](op string, info *ModelInfo, records []*R) (IDs, error) {
	ids := make(IDs, 0, len(records))
	for _, rec := range records {
		id, ok := info.primaryID(rec)
		if !ok {
			return nil, &InputError{Op: op, Value: info.Type.Name(), Err: ErrUnpersisted}
		}
		ids = append(ids, id)
	}
	return ids, nil
}
