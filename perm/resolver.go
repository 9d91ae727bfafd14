package perm

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/dpup/permissible/errors"
	"github.com/dpup/permissible/logging"
)

// State is a stage of the resolution state machine. Every check moves
// Pending -> GlobalChecked -> ObjectChecked|ObjectSkipped -> Resolved, or
// short-circuits to Resolved when the global phase fails.
type State int

const (
	StatePending State = iota
	StateGlobalChecked
	StateObjectChecked
	StateObjectSkipped
	StateResolved
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateGlobalChecked:
		return "global_checked"
	case StateObjectChecked:
		return "object_checked"
	case StateObjectSkipped:
		return "object_skipped"
	case StateResolved:
		return "resolved"
	}
	return "unknown"
}

// Check is a single authorization question.
type Check struct {
	User   User
	Action Action

	// Type of the object. May be omitted when Object is set.
	Type string

	// Object being acted on. Nil for creation and list actions without an
	// instance.
	Object Object
}

func (c Check) typ() string {
	if c.Type != "" {
		return c.Type
	}
	if !isNil(c.Object) {
		return c.Object.PermType()
	}
	return ""
}

// Decision is the outcome of a check along with the states it passed through.
type Decision struct {
	Action  Action
	Type    string
	Object  Ref
	Allowed bool

	// Global and ObjectResult record each phase's result. ObjectResult is
	// false when the phase was skipped.
	Global       bool
	ObjectResult bool

	Trail  []State
	Reason string
}

// Skipped returns true if the object phase was skipped.
func (d Decision) Skipped() bool {
	return slices.Contains(d.Trail, StateObjectSkipped)
}

func (d Decision) String() string {
	parts := make([]string, len(d.Trail))
	for i, s := range d.Trail {
		parts[i] = s.String()
	}
	verdict := "deny"
	if d.Allowed {
		verdict = "allow"
	}
	return d.Type + "." + string(d.Action) + " " + verdict + " [" + strings.Join(parts, " > ") + "]"
}

func (d *Decision) enter(s State) {
	d.Trail = append(d.Trail, s)
}

func (d *Decision) resolve(allowed bool, reason string) {
	d.Allowed = allowed
	d.Reason = reason
	d.enter(StateResolved)
}

// AuditLogger receives every decision, allowed or not.
type AuditLogger func(ctx context.Context, decision Decision)

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCreationActions replaces the set of actions that skip the object phase
// when no object is supplied. Defaults to "create".
func WithCreationActions(actions ...Action) ResolverOption {
	return func(r *Resolver) {
		r.creation = map[Action]bool{}
		for _, a := range actions {
			r.creation[a] = true
		}
	}
}

// WithAuditLogger configures a function to receive all decisions.
func WithAuditLogger(logger AuditLogger) ResolverOption {
	return func(r *Resolver) {
		r.audit = logger
	}
}

// WithPolicy registers a policy at construction.
func WithPolicy(typ string, p Policy) ResolverOption {
	return func(r *Resolver) {
		r.policies[typ] = p
	}
}

// Resolver evaluates checks against registered policies. It holds no state
// other than its configuration, code lookups go to the Checker on every call.
type Resolver struct {
	checker  Checker
	creation map[Action]bool
	audit    AuditLogger

	mu       sync.RWMutex
	policies map[string]Policy
}

// NewResolver returns a resolver that delegates code lookups to checker.
func NewResolver(checker Checker, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		checker:  checker,
		creation: map[Action]bool{ActionCreate: true},
		policies: map[string]Policy{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register sets the policy for a type, replacing any previous one.
func (r *Resolver) Register(typ string, p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[typ] = p
}

// Policy returns the policy registered for typ.
func (r *Resolver) Policy(typ string) (Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[typ]
	return p, ok
}

// Types returns the registered types, sorted.
func (r *Resolver) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.policies))
	for t := range r.policies {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// IsCreation reports whether action skips the object phase without an object.
func (r *Resolver) IsCreation(action Action) bool {
	return r.creation[action]
}

// Evaluate runs a single phase for the action. Missing actions deny.
func (r *Resolver) Evaluate(ctx context.Context, user User, action Action, typ string, obj Object, phase Phase) (bool, error) {
	p, ok := r.Policy(typ)
	if !ok {
		return false, r.unregistered(typ, action, phase)
	}
	m := p.Global
	if phase == PhaseObject {
		m = p.Object
	}
	defs, ok := m.Lookup(action)
	if !ok || len(defs) == 0 {
		return false, nil
	}
	for _, d := range defs {
		pass, err := r.evalDef(ctx, user, action, typ, obj, phase, d)
		if err != nil || !pass {
			return false, err
		}
	}
	return true, nil
}

// Resolve runs the full check and returns the decision. An error is only
// returned for configuration problems and checker failures, a deny is a
// Decision with Allowed set to false.
func (r *Resolver) Resolve(ctx context.Context, c Check) (Decision, error) {
	typ := c.typ()
	d := Decision{Action: c.Action, Type: typ, Object: RefOf(c.Object)}
	d.enter(StatePending)

	defer func() {
		logging.Track(ctx, "perm.action", d.Action)
		logging.Track(ctx, "perm.type", d.Type)
		logging.Track(ctx, "perm.state", d.Trail[len(d.Trail)-1].String())
		logging.Track(ctx, "perm.reason", d.Reason)
		if r.audit != nil {
			r.audit(ctx, d)
		}
	}()

	if typ == "" {
		err := errors.Wrap(&ConfigurationError{Action: c.Action, Err: errors.New("check has neither a type nor an object")}, 0)
		d.resolve(false, "configuration error")
		return d, err
	}

	if _, ok := r.Policy(typ); !ok {
		d.resolve(false, "configuration error")
		return d, r.unregistered(typ, c.Action, PhaseGlobal)
	}

	if isSuperuser(c.User) {
		d.Global, d.ObjectResult = true, true
		d.resolve(true, "superuser")
		return d, nil
	}

	pass, err := r.Evaluate(ctx, c.User, c.Action, typ, nil, PhaseGlobal)
	d.Global = pass
	d.enter(StateGlobalChecked)
	if err != nil {
		d.resolve(false, "global phase failed")
		return d, err
	}
	if !pass {
		d.resolve(false, "denied by global permissions")
		return d, nil
	}

	if isNil(c.Object) && r.IsCreation(c.Action) {
		d.enter(StateObjectSkipped)
		d.resolve(true, "allowed by global permissions")
		return d, nil
	}

	pass, err = r.Evaluate(ctx, c.User, c.Action, typ, c.Object, PhaseObject)
	d.ObjectResult = pass
	d.enter(StateObjectChecked)
	if err != nil {
		d.resolve(false, "object phase failed")
		return d, err
	}
	if !pass {
		d.resolve(false, "denied by object permissions")
		return d, nil
	}
	d.resolve(true, "allowed by policy")
	return d, nil
}

// Allowed is a convenience wrapper around Resolve.
func (r *Resolver) Allowed(ctx context.Context, user User, action Action, obj Object) (bool, error) {
	d, err := r.Resolve(ctx, Check{User: user, Action: action, Object: obj})
	return d.Allowed, err
}

// Require returns nil when the check allows, ErrUnauthenticated or
// ErrPermissionDenied when it denies, and any resolution error unchanged.
func (r *Resolver) Require(ctx context.Context, c Check) error {
	d, err := r.Resolve(ctx, c)
	if err != nil {
		return err
	}
	if d.Allowed {
		return nil
	}
	if IsAnonymous(c.User) {
		return errors.Mark(ErrUnauthenticated, 0)
	}
	return errors.Mark(ErrPermissionDenied, 0)
}

// Filter returns the objects for which action is allowed, preserving order.
func Filter[T Object](ctx context.Context, r *Resolver, user User, action Action, objs []T) ([]T, error) {
	out := make([]T, 0, len(objs))
	for _, o := range objs {
		d, err := r.Resolve(ctx, Check{User: user, Action: action, Object: o})
		if err != nil {
			return nil, err
		}
		if d.Allowed {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *Resolver) unregistered(typ string, action Action, phase Phase) error {
	return errors.Wrap(&ConfigurationError{
		Type:   typ,
		Action: action,
		Phase:  phase,
		Err:    errors.Errorf("no policy registered for %q", typ),
	}, 1)
}

func (r *Resolver) evalDef(ctx context.Context, user User, action Action, typ string, obj Object, phase Phase, d PermDef) (bool, error) {
	switch {
	case d.unrestricted:
		return true, nil
	case d.op == combineAll:
		for _, c := range d.children {
			pass, err := r.evalDef(ctx, user, action, typ, obj, phase, c)
			if err != nil || !pass {
				return false, err
			}
		}
		return len(d.children) > 0, nil
	case d.op == combineAny:
		for _, c := range d.children {
			pass, err := r.evalDef(ctx, user, action, typ, obj, phase, c)
			if err != nil {
				return false, err
			}
			if pass {
				return true, nil
			}
		}
		return false, nil
	}

	var target Object
	scope := TypeRef(typ)
	if phase == PhaseObject {
		t, err := guard(func() (Object, error) { return d.Getter.Get(ctx, obj) })
		if err != nil {
			return false, r.misconfigured(ctx, typ, action, phase, d, err)
		}
		// No object, or one without an identity, can not satisfy an
		// object-level requirement.
		if isNil(t) || t.PermID() == "" {
			return false, nil
		}
		target = t
		scope = RefOf(t)
	}

	if d.Condition != nil {
		ok, err := guard(func() (bool, error) { return d.Condition(ctx, user, target) })
		if err != nil {
			return false, r.misconfigured(ctx, typ, action, phase, d, err)
		}
		if !ok {
			return false, nil
		}
	}

	if len(d.Codes) == 0 {
		return true, nil
	}
	if IsAnonymous(user) {
		return false, nil
	}
	if r.checker == nil {
		return false, r.misconfigured(ctx, typ, action, phase, d, errors.New("no checker configured"))
	}
	ok, err := r.checker.UserHasCodes(ctx, user, scope, d.Codes)
	if err != nil {
		return false, errors.MaybeWrap(err, 0)
	}
	return ok, nil
}

func (r *Resolver) misconfigured(ctx context.Context, typ string, action Action, phase Phase, d PermDef, err error) error {
	logging.Errorw(ctx, "perm: misconfigured permission def", "type", typ, "action", action, "phase", phase.String(), "def", d.String(), "error", err)
	return errors.Wrap(&ConfigurationError{Type: typ, Action: action, Phase: phase, Def: d.String(), Err: err}, 1)
}

// guard converts panics from user supplied getters and conditions into errors.
func guard[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Recovered(rec, 1)
		}
	}()
	return fn()
}
