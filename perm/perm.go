// Package perm describes who may do what to which object.
//
// Requirements are expressed as PermDefs, each a set of short permission
// codes plus an optional retargeting getter and an optional condition.
// PermissionMaps associate actions with lists of PermDefs, and a Policy pairs a
// global (type-level) map with an object-level map. The Resolver evaluates a
// check against a registered Policy in two phases:
//
//	resolver := perm.NewResolver(groupStore)
//	resolver.Register("project", perm.Policy{
//		Global: perm.PolicyNoRestrictionIfAuthenticated(),
//		Object: perm.DomainOwnedPolicy("team"),
//	})
//
//	decision, err := resolver.Resolve(ctx, perm.Check{
//		User:   perm.UserID("u1"),
//		Action: perm.ActionUpdate,
//		Object: project,
//	})
//
// Actual code lookups are delegated to a Checker, usually a groups.Store.
package perm

import (
	"context"
	"reflect"
)

// Action names an operation on a type, e.g. "retrieve".
type Action string

// Standard actions.
const (
	ActionCreate        Action = "create"
	ActionList          Action = "list"
	ActionRetrieve      Action = "retrieve"
	ActionUpdate        Action = "update"
	ActionPartialUpdate Action = "partial_update"
	ActionDestroy       Action = "destroy"
)

// StandardActions lists every standard action, in a stable order.
func StandardActions() []Action {
	return []Action{ActionCreate, ActionList, ActionRetrieve, ActionUpdate, ActionPartialUpdate, ActionDestroy}
}

// Short permission codes.
const (
	CodeView             = "view"
	CodeAdd              = "add"
	CodeChange           = "change"
	CodeDelete           = "delete"
	CodeAddOn            = "add_on"
	CodeChangeOn         = "change_on"
	CodeChangePermission = "change_permission"
)

// User is the subject of a check. An empty ID denotes an anonymous user.
type User interface {
	UserID() string
}

// UserID is the simplest User.
type UserID string

func (u UserID) UserID() string { return string(u) }

// Superuser may be implemented by users that bypass every check.
type Superuser interface {
	User
	IsSuperuser() bool
}

// IsAnonymous returns true for nil users and users without an ID.
func IsAnonymous(u User) bool {
	return isNil(u) || u.UserID() == ""
}

func isSuperuser(u User) bool {
	if isNil(u) {
		return false
	}
	s, ok := u.(Superuser)
	return ok && s.IsSuperuser()
}

// Object is anything permissions can be checked against.
type Object interface {
	// PermType identifies the kind of object, e.g. "team".
	PermType() string
	// PermID is the object's identity. Empty for objects which have not been
	// persisted yet.
	PermID() string
}

// Ref is a lightweight Object. A Ref with an empty ID refers to the type
// itself and is used as the scope for global checks.
type Ref struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

func (r Ref) PermType() string { return r.Type }
func (r Ref) PermID() string   { return r.ID }

// IsType returns true if the ref addresses a type rather than an instance.
func (r Ref) IsType() bool { return r.ID == "" }

func (r Ref) String() string {
	if r.ID == "" {
		return r.Type
	}
	return r.Type + ":" + r.ID
}

// RefOf returns the Ref for an object. Nil objects give the zero Ref.
func RefOf(o Object) Ref {
	if isNil(o) {
		return Ref{}
	}
	if r, ok := o.(Ref); ok {
		return r
	}
	return Ref{Type: o.PermType(), ID: o.PermID()}
}

// TypeRef returns the type-level Ref for typ.
func TypeRef(typ string) Ref {
	return Ref{Type: typ}
}

// Checker answers whether a user holds every one of codes on target. Target
// is type-level for global checks. Satisfied by groups.Store.
type Checker interface {
	UserHasCodes(ctx context.Context, user User, target Ref, codes []string) (bool, error)
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(ctx context.Context, user User, target Ref, codes []string) (bool, error)

func (f CheckerFunc) UserHasCodes(ctx context.Context, user User, target Ref, codes []string) (bool, error) {
	return f(ctx, user, target, codes)
}

// Phase is the stage of a check.
type Phase int

const (
	PhaseGlobal Phase = iota
	PhaseObject
)

func (p Phase) String() string {
	if p == PhaseGlobal {
		return "global"
	}
	return "object"
}

// isNil catches typed nil pointers hidden in interfaces.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func:
		return rv.IsNil()
	}
	return false
}
