package perm

import (
	"context"
	"reflect"
	"strings"

	"github.com/dpup/permissible/errors"
	"github.com/iancoleman/strcase"
	"google.golang.org/grpc/codes"
)

type getterKind int

const (
	getterIdentity getterKind = iota
	getterFieldPath
	getterCustom
)

// GetterFunc retargets an object. Returning nil means there is no object to
// check, which fails the requirement.
type GetterFunc func(ctx context.Context, obj Object) (Object, error)

// ObjGetter selects the object a PermDef is checked against. It is one of
// Identity, FieldPath or Custom. The zero value is Identity.
type ObjGetter struct {
	kind getterKind
	path []string
	fn   GetterFunc
}

// Identity checks the object itself.
func Identity() ObjGetter {
	return ObjGetter{kind: getterIdentity}
}

// FieldPath follows a dotted path of fields or zero-argument methods from the
// object, e.g. "project.team". Segments may be written in snake_case or
// camelCase. A nil value anywhere along the path yields no object.
func FieldPath(path string) ObjGetter {
	if path == "" {
		return Identity()
	}
	return ObjGetter{kind: getterFieldPath, path: strings.Split(path, ".")}
}

// Custom retargets with an arbitrary function.
func Custom(fn GetterFunc) ObjGetter {
	if fn == nil {
		return Identity()
	}
	return ObjGetter{kind: getterCustom, fn: fn}
}

// IsIdentity returns true if the getter does not retarget.
func (g ObjGetter) IsIdentity() bool {
	return g.kind == getterIdentity
}

func (g ObjGetter) String() string {
	switch g.kind {
	case getterFieldPath:
		return "path(" + strings.Join(g.path, ".") + ")"
	case getterCustom:
		return "custom"
	}
	return "identity"
}

// Get resolves the target for obj.
func (g ObjGetter) Get(ctx context.Context, obj Object) (Object, error) {
	if isNil(obj) {
		return nil, nil
	}
	switch g.kind {
	case getterFieldPath:
		return walkPath(obj, g.path)
	case getterCustom:
		target, err := g.fn(ctx, obj)
		if err != nil {
			return nil, err
		}
		if isNil(target) {
			return nil, nil
		}
		return target, nil
	}
	return obj, nil
}

func walkPath(obj Object, path []string) (Object, error) {
	v := reflect.ValueOf(obj)
	for i, seg := range path {
		next, ok, err := step(v, seg)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.Codef(codes.Internal, "%T has no field or method %q", v.Interface(), strings.Join(path[:i+1], "."))
		}
		if isNilValue(next) {
			return nil, nil
		}
		v = next
	}
	target, ok := v.Interface().(Object)
	if !ok {
		// Allow addressable struct values whose pointer implements Object.
		if v.CanAddr() {
			if target, ok = v.Addr().Interface().(Object); ok {
				return target, nil
			}
		}
		return nil, errors.Codef(codes.Internal, "path %q resolved to %s, which is not a perm.Object", strings.Join(path, "."), v.Type())
	}
	return target, nil
}

// step looks up one segment on v, trying methods before fields.
func step(v reflect.Value, seg string) (reflect.Value, bool, error) {
	name := strcase.ToCamel(seg)

	if m := findMethod(v, name); m.IsValid() {
		out := m.Call(nil)
		if len(out) == 2 && !out[1].IsNil() {
			return reflect.Value{}, true, out[1].Interface().(error)
		}
		return out[0], true, nil
	}

	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, false, nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, false, nil
	}
	t := v.Type()
	if f, ok := t.FieldByName(name); ok && f.IsExported() {
		return v.FieldByIndex(f.Index), true, nil
	}
	// Fall back to a case-insensitive match so "team_id" finds TeamID.
	want := normalizeName(seg)
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).IsExported() && normalizeName(t.Field(i).Name) == want {
			return v.Field(i), true, nil
		}
	}
	return reflect.Value{}, false, nil
}

func findMethod(v reflect.Value, name string) reflect.Value {
	for {
		if m := v.MethodByName(name); m.IsValid() && validGetterMethod(m.Type()) {
			return m
		}
		if v.Kind() != reflect.Pointer && v.Kind() != reflect.Interface || v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func validGetterMethod(t reflect.Type) bool {
	if t.NumIn() != 0 {
		return false
	}
	switch t.NumOut() {
	case 1:
		return true
	case 2:
		return t.Out(1) == errorType
	}
	return false
}

func isNilValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func:
		return v.IsNil()
	case reflect.Invalid:
		return true
	}
	return false
}

func normalizeName(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", ""))
}
