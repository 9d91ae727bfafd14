package storage

import (
	"reflect"
	"strings"
	"sync"

	"github.com/dpup/permissible/errors"
	pluralize "github.com/gertd/go-pluralize"
	"github.com/iancoleman/strcase"
)

var (
	pluralizer = pluralize.NewClient()
	modelNames sync.Map // reflect.Type -> string

	keyEscaper = strings.NewReplacer(`\`, `\\`, "|", `\|`)
)

// CompositeKey joins parts into a primary key. Separators and escapes inside
// a part are escaped, so distinct part lists never share a key.
func CompositeKey(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = keyEscaper.Replace(p)
	}
	return strings.Join(escaped, "|")
}

// Model defines the interface for records which want to be persisted to a
// storage engine.
type Model interface {
	// PK returns the primary key that the record is stored under.
	PK() string
}

// Namer allows Models to override how the table-name is determined.
type Namer interface {
	Name() string
}

// Name returns a pluralized, snake-cased version of the model's type name,
// e.g. RootGroup becomes "root_groups", unless the model implements Namer.
func Name(m any) string {
	if n, ok := m.(Namer); ok {
		return n.Name()
	}
	t := reflect.TypeOf(m)
	for t.Kind() == reflect.Ptr || t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	if n, ok := modelNames.Load(t); ok {
		return n.(string)
	}
	n := pluralizer.Plural(strcase.ToSnake(t.Name()))
	modelNames.Store(t, n)
	return n
}

// ValidateReceiver returns an error if the model is nil or an uninitialized
// pointer.
func ValidateReceiver(model Model) error {
	if model == nil || (reflect.ValueOf(model).Kind() == reflect.Ptr && reflect.ValueOf(model).IsNil()) {
		return errors.Mark(ErrNilModel, 0)
	}
	return nil
}

// FilterField is a populated field of a List filter.
type FilterField struct {
	// Key is the field's JSON key, as stored.
	Key   string
	Value any
}

// FilterFields returns the fields of filter that constrain a List: non-nil
// pointers and non-zero values.
func FilterFields(filter Model) []FilterField {
	v := reflect.ValueOf(filter)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	t := v.Type()

	var out []FilterField
	for i := range v.NumField() {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		f := v.Field(i)
		if f.Kind() == reflect.Ptr || f.Kind() == reflect.Interface {
			if f.IsNil() {
				continue
			}
			out = append(out, FilterField{Key: jsonKey(sf), Value: f.Elem().Interface()})
			continue
		}
		if f.IsZero() {
			continue
		}
		out = append(out, FilterField{Key: jsonKey(sf), Value: f.Interface()})
	}
	return out
}

func jsonKey(sf reflect.StructField) string {
	tag := sf.Tag.Get("json")
	if name, _, _ := strings.Cut(tag, ","); name != "" && name != "-" {
		return name
	}
	return sf.Name
}
