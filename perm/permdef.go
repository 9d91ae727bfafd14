package perm

import (
	"context"
	"strings"
)

// Condition is an extra predicate evaluated with the retargeted object. In the
// global phase obj is nil.
type Condition func(ctx context.Context, user User, obj Object) (bool, error)

type combinator int

const (
	combineNone combinator = iota
	combineAll
	combineAny
)

// PermDef is a single permission requirement: the user must hold every code on
// the target, and the condition, if any, must hold.
//
// A PermDef with no codes is condition-only. PermDefs are values and are never
// mutated after construction.
type PermDef struct {
	// Codes the user must hold on the target.
	Codes []string

	// Getter retargets the checked object, e.g. from a project to its team.
	Getter ObjGetter

	// Condition is an optional predicate ANDed with the code check.
	Condition Condition

	unrestricted bool
	op           combinator
	children     []PermDef
}

// P builds a PermDef requiring codes on the object itself.
func P(codes ...string) PermDef {
	return PermDef{Codes: codes}
}

// On returns a copy of d that checks the object found at path.
func (d PermDef) On(path string) PermDef {
	d.Getter = FieldPath(path)
	return d
}

// Via returns a copy of d that uses getter to find its target.
func (d PermDef) Via(getter ObjGetter) PermDef {
	d.Getter = getter
	return d
}

// When returns a copy of d with an additional condition.
func (d PermDef) When(cond Condition) PermDef {
	if d.Condition == nil {
		d.Condition = cond
		return d
	}
	prev := d.Condition
	d.Condition = func(ctx context.Context, user User, obj Object) (bool, error) {
		ok, err := prev(ctx, user, obj)
		if err != nil || !ok {
			return false, err
		}
		return cond(ctx, user, obj)
	}
	return d
}

// AllOf passes when every def passes.
func AllOf(defs ...PermDef) PermDef {
	return PermDef{op: combineAll, children: flatten(combineAll, defs)}
}

// AnyOf passes when at least one def passes.
func AnyOf(defs ...PermDef) PermDef {
	return PermDef{op: combineAny, children: flatten(combineAny, defs)}
}

// And is shorthand for AllOf(d, other).
func (d PermDef) And(other PermDef) PermDef { return AllOf(d, other) }

// Or is shorthand for AnyOf(d, other).
func (d PermDef) Or(other PermDef) PermDef { return AnyOf(d, other) }

// IsComposite returns true for defs built with AllOf or AnyOf.
func (d PermDef) IsComposite() bool { return d.op != combineNone }

func (d PermDef) String() string {
	switch {
	case d.unrestricted:
		return "allow_all"
	case d.op != combineNone:
		parts := make([]string, len(d.children))
		for i, c := range d.children {
			parts[i] = c.String()
		}
		sep := " & "
		if d.op == combineAny {
			sep = " | "
		}
		return "(" + strings.Join(parts, sep) + ")"
	}
	s := "[" + strings.Join(d.Codes, ",") + "]"
	if !d.Getter.IsIdentity() {
		s += "@" + d.Getter.String()
	}
	if d.Condition != nil {
		s += "?"
	}
	return s
}

// flatten avoids needless nesting, (a | b) | c becomes a | b | c.
func flatten(op combinator, defs []PermDef) []PermDef {
	out := make([]PermDef, 0, len(defs))
	for _, d := range defs {
		if d.op == op {
			out = append(out, d.children...)
			continue
		}
		out = append(out, d)
	}
	return out
}

// Canned requirements.
var (
	// AllowAll always passes, even when there is no object.
	AllowAll = PermDef{unrestricted: true}

	// IsAuthenticated passes for any non-anonymous user.
	IsAuthenticated = PermDef{Condition: func(_ context.Context, user User, _ Object) (bool, error) {
		return !IsAnonymous(user), nil
	}}
)

// DenyAll is the empty requirement list, which never passes.
func DenyAll() []PermDef { return []PermDef{} }

// Publicer is implemented by objects which may be flagged public.
type Publicer interface {
	IsPublic() bool
}

// IsPublic passes when the target implements Publicer and reports true.
var IsPublic = PermDef{Condition: func(_ context.Context, _ User, obj Object) (bool, error) {
	p, ok := obj.(Publicer)
	return ok && !isNil(obj) && p.IsPublic(), nil
}}

// IsSelf passes when the target is the user themselves, or, via path, refers
// to the user. Targets are compared by PermID against the user's ID.
func IsSelf(path string) PermDef {
	return PermDef{Getter: FieldPath(path), Condition: func(_ context.Context, user User, obj Object) (bool, error) {
		if IsAnonymous(user) || isNil(obj) {
			return false, nil
		}
		return obj.PermID() == user.UserID(), nil
	}}
}
