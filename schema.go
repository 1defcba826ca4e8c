package zorm

import (
	"reflect"
	"strings"
	"sync"

	"github.com/gertd/go-pluralize"
	"github.com/iancoleman/strcase"
)

// ColumnKind is the storage representation of an id array column.
type ColumnKind string

const (
	// ColumnDefault lets the declaration decide: the struct tag if one is
	// present, text otherwise.
	ColumnDefault ColumnKind = ""

	// ColumnJSON is a native structured column (jsonb, JSON) that the
	// database can query with containment operators.
	ColumnJSON ColumnKind = "json"

	// ColumnText is a serialized array stored as opaque text. It can only be
	// queried with anchored pattern matching.
	ColumnText ColumnKind = "text"
)

// ModelInfo holds the reflection data for a model struct.
type ModelInfo struct {
	Type       reflect.Type
	TableName  string
	PrimaryKey string
	Fields     map[string]*FieldInfo // StructFieldName -> FieldInfo
	Columns    map[string]*FieldInfo // DBColumnName -> FieldInfo
}

// FieldInfo holds data about a single field in the model.
type FieldInfo struct {
	Name      string // Struct field name
	Column    string // DB column name
	IsPrimary bool
	IsAuto    bool // Auto-increment or managed
	Kind      ColumnKind
	FieldType reflect.Type
	Index     []int // Index path, embedded structs included
}

var (
	modelCache = make(map[reflect.Type]*ModelInfo)
	cacheMu    sync.RWMutex

	pluralizer = pluralize.NewClient()
	idsType    = reflect.TypeOf(IDs(nil))
)

// ParseModel inspects the struct T and returns its metadata.
func ParseModel[T any]() *ModelInfo {
	var t T
	typ := reflect.TypeOf(t)
	return ParseModelType(typ)
}

// ParseModelType inspects the type and returns its metadata.
func ParseModelType(typ reflect.Type) *ModelInfo {
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		panic("ZORM: Model generic type T must be a struct")
	}

	cacheMu.RLock()
	if info, ok := modelCache[typ]; ok {
		cacheMu.RUnlock()
		return info
	}
	cacheMu.RUnlock()

	cacheMu.Lock()
	defer cacheMu.Unlock()

	// Double check locking
	if info, ok := modelCache[typ]; ok {
		return info
	}

	info := &ModelInfo{
		Type:    typ,
		Fields:  make(map[string]*FieldInfo),
		Columns: make(map[string]*FieldInfo),
	}

	ptrVal := reflect.New(typ)
	if tableNamer, ok := ptrVal.Interface().(interface{ TableName() string }); ok {
		info.TableName = tableNamer.TableName()
	} else {
		info.TableName = pluralizer.Plural(ToSnakeCase(typ.Name()))
	}

	if primaryKeyer, ok := ptrVal.Interface().(interface{ PrimaryKey() string }); ok {
		info.PrimaryKey = primaryKeyer.PrimaryKey()
	} else {
		info.PrimaryKey = "id"
	}

	parseFields(info, typ, nil)

	modelCache[typ] = info
	return info
}

func parseFields(info *ModelInfo, typ reflect.Type, parent []int) {
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		index := append(append([]int{}, parent...), field.Index...)

		tag := field.Tag.Get("zorm")
		if tag == "-" {
			continue
		}

		if field.Anonymous && field.Type.Kind() == reflect.Struct && tag == "" {
			parseFields(info, field.Type, index)
			continue
		}

		// Skip unexported fields
		if field.PkgPath != "" {
			continue
		}

		dbCol := ToSnakeCase(field.Name)
		isPrimary := false
		isAuto := false
		kind := ColumnDefault

		if tag != "" {
			for _, part := range strings.Split(tag, ";") {
				kv := strings.SplitN(part, ":", 2)
				key := strings.TrimSpace(kv[0])
				val := ""
				if len(kv) > 1 {
					val = strings.TrimSpace(kv[1])
				}

				switch key {
				case "column":
					dbCol = val
				case "primary", "primaryKey":
					isPrimary = true
				case "auto":
					isAuto = true
				case "json":
					kind = ColumnJSON
				case "text":
					kind = ColumnText
				}
			}
		}

		if field.Name == "ID" {
			isPrimary = true
		}
		if isPrimary {
			info.PrimaryKey = dbCol
		}
		if kind == ColumnDefault && field.Type == idsType {
			kind = ColumnText
		}

		fInfo := &FieldInfo{
			Name:      field.Name,
			Column:    dbCol,
			IsPrimary: isPrimary,
			IsAuto:    isAuto,
			Kind:      kind,
			FieldType: field.Type,
			Index:     index,
		}

		info.Fields[field.Name] = fInfo
		info.Columns[dbCol] = fInfo
	}
}

// ToSnakeCase converts a string to snake_case. The plural acronym "IDs" is
// one word, so SongIDs becomes song_ids.
func ToSnakeCase(s string) string {
	return strcase.ToSnake(strings.ReplaceAll(s, "IDs", "Ids"))
}

// primaryField returns the field holding the primary key.
func (mi *ModelInfo) primaryField() (*FieldInfo, bool) {
	f, ok := mi.Columns[mi.PrimaryKey]
	return f, ok
}

// primaryID reads an integer primary key from entity. The second return is
// false when the record has not been persisted yet.
func (mi *ModelInfo) primaryID(entity any) (int64, bool) {
	f, ok := mi.primaryField()
	if !ok {
		return 0, false
	}
	val := reflect.ValueOf(entity)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return 0, false
	}
	id, ok := toInt64(val.Elem().FieldByIndex(f.Index).Interface())
	if !ok || id <= 0 {
		return 0, false
	}
	return id, true
}

// fieldValue returns the addressable value of column on entity.
func (mi *ModelInfo) fieldValue(entity any, column string) (reflect.Value, bool) {
	f, ok := mi.Columns[column]
	if !ok {
		return reflect.Value{}, false
	}
	return reflect.ValueOf(entity).Elem().FieldByIndex(f.Index), true
}
