// Package authz adapts a perm.Resolver to request handling. It resolves the
// caller and the target object for a request, runs the check and turns a
// deny into a status error:
//
//   - anonymous callers get Unauthenticated,
//   - callers that may not even retrieve an existing object get NotFound, so
//     that the object's existence is not revealed,
//   - everybody else gets PermissionDenied.
//
// Errors raised while resolving are translated as well: a misconfigured
// permission map or a failed role sync becomes a server error.
//
// Checks are attached to gRPC methods with WithRule and enforced by
// Interceptor, or to HTTP handlers with Middleware:
//
//	az := authz.New(resolver,
//	    authz.WithUserFunc(userFromContext),
//	    authz.WithTypedObjectFetcher("team", authz.StoreFetcher(db, newTeam)),
//	    authz.WithRule("/teams.Teams/Update", authz.Rule{
//	        Action: perm.ActionUpdate,
//	        Type:   "team",
//	        Key:    func(req any) any { return req.(*pb.UpdateRequest).Id },
//	    }),
//	)
//	grpc.NewServer(grpc.ChainUnaryInterceptor(logging.Interceptor(logger), az.Interceptor))
package authz

import (
	"context"
	"fmt"

	"github.com/dpup/permissible/errors"
	"github.com/dpup/permissible/logging"
	"github.com/dpup/permissible/perm"
	"github.com/dpup/permissible/roots"
	"google.golang.org/grpc/codes"
)

// ErrNotFound is returned in place of a deny when the caller may not see the
// object at all.
var ErrNotFound = errors.NewC("not found", codes.NotFound)

// UserFunc resolves the caller of a request. Returning a nil user, or one
// with an empty ID, makes the caller anonymous.
type UserFunc func(ctx context.Context) (perm.User, error)

// AuditRecord describes one authorization outcome.
type AuditRecord struct {
	perm.Decision

	// Info identifies the call site, e.g. the gRPC method.
	Info   string
	UserID string

	// Code is OK for allowed calls and the returned status otherwise.
	Code codes.Code
}

// AuditLogger receives every authorization outcome.
type AuditLogger func(ctx context.Context, record AuditRecord)

// Option configures an Authorizer.
type Option func(*Authorizer)

// WithUserFunc sets how callers are identified. Without one every caller is
// anonymous.
func WithUserFunc(fn UserFunc) Option {
	return func(a *Authorizer) {
		a.user = fn
	}
}

// WithObjectFetcher registers the fetcher for a type. '*' matches any type
// without a more specific fetcher.
func WithObjectFetcher(typ string, fetcher ObjectFetcher) Option {
	return func(a *Authorizer) {
		a.fetchers[typ] = fetcher
	}
}

// WithTypedObjectFetcher registers a type-safe fetcher for a type.
func WithTypedObjectFetcher[K comparable, T perm.Object](typ string, fetcher TypedObjectFetcher[K, T]) Option {
	return WithObjectFetcher(typ, AsObjectFetcher(fetcher))
}

// WithRule attaches a check to a gRPC method.
func WithRule(fullMethod string, rule Rule) Option {
	return func(a *Authorizer) {
		a.rules[fullMethod] = rule
	}
}

// WithAuditLogger configures a function to receive every outcome.
func WithAuditLogger(fn AuditLogger) Option {
	return func(a *Authorizer) {
		a.audit = fn
	}
}

// WithRevealExistence returns PermissionDenied instead of NotFound when the
// caller may not retrieve the object.
func WithRevealExistence() Option {
	return func(a *Authorizer) {
		a.revealExistence = true
	}
}

// Authorizer enforces perm.Resolver decisions at a request boundary.
type Authorizer struct {
	resolver        *perm.Resolver
	user            UserFunc
	fetchers        map[string]ObjectFetcher
	rules           map[string]Rule
	audit           AuditLogger
	revealExistence bool
}

// New returns an Authorizer backed by r.
func New(r *perm.Resolver, opts ...Option) *Authorizer {
	a := &Authorizer{
		resolver: r,
		fetchers: map[string]ObjectFetcher{},
		rules:    map[string]Rule{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Resolver returns the underlying resolver.
func (a *Authorizer) Resolver() *perm.Resolver {
	return a.resolver
}

// Params describes a single authorization.
type Params struct {
	// User is the caller. When nil the Authorizer's UserFunc is consulted.
	User   perm.User
	Action perm.Action
	Type   string

	// Object is the target, if the caller already loaded it.
	Object perm.Object

	// Key is passed to the type's fetcher when Object is nil. A nil key
	// makes the check type-level, as for creation.
	Key any

	Info string
}

// Authorize resolves the caller and the object and checks the action. It
// returns nil when allowed and a status error otherwise.
func (a *Authorizer) Authorize(ctx context.Context, p Params) error {
	user, err := a.caller(ctx, p.User)
	if err != nil {
		logging.Track(ctx, "authz.reason", "failed to identify caller")
		return err
	}

	obj := p.Object
	if obj == nil && !isZeroKey(p.Key) {
		fetcher := a.fetcherFor(p.Type)
		if fetcher == nil {
			return errors.Codef(codes.Internal, "authz error: no object fetcher for type '%s' on %s", p.Type, p.Info)
		}
		if obj, err = fetcher.FetchObject(ctx, p.Key); err != nil {
			logging.Track(ctx, "authz.reason", "failed to fetch object")
			return err
		}
	}

	logging.Track(ctx, "authz.action", p.Action)
	logging.Track(ctx, "authz.type", p.Type)
	logging.Track(ctx, "authz.key", p.Key)

	c := perm.Check{User: user, Action: p.Action, Type: p.Type, Object: obj}
	d, err := a.resolver.Resolve(ctx, c)
	if err != nil {
		err = Translate(err)
		a.record(ctx, d, p.Info, user, errors.Code(err))
		return err
	}
	if d.Allowed {
		logging.Track(ctx, "authz.reason", d.Reason)
		a.record(ctx, d, p.Info, user, codes.OK)
		return nil
	}

	denied := a.denial(ctx, c, d)
	logging.Track(ctx, "authz.reason", d.Reason)
	a.record(ctx, d, p.Info, user, errors.Code(denied))
	return denied
}

// denial picks the status for a denied check.
func (a *Authorizer) denial(ctx context.Context, c perm.Check, d perm.Decision) error {
	if perm.IsAnonymous(c.User) {
		return errors.Mark(perm.ErrUnauthenticated, 0)
	}
	if !a.revealExistence && c.Object != nil && c.Object.PermID() != "" {
		visible := false
		if c.Action != perm.ActionRetrieve {
			rd, err := a.resolver.Resolve(ctx, perm.Check{User: c.User, Action: perm.ActionRetrieve, Type: c.Type, Object: c.Object})
			if err != nil {
				return Translate(err)
			}
			visible = rd.Allowed
		}
		if !visible {
			logging.Track(ctx, "authz.hidden", true)
			return errors.Mark(ErrNotFound, 0)
		}
	}
	return errors.WithPublicMessage(
		errors.Mark(perm.ErrPermissionDenied, 0),
		fmt.Sprintf("Access denied: %s", d.Reason),
	)
}

func (a *Authorizer) caller(ctx context.Context, u perm.User) (perm.User, error) {
	if u != nil || a.user == nil {
		return u, nil
	}
	return a.user(ctx)
}

func (a *Authorizer) fetcherFor(typ string) ObjectFetcher {
	if fetcher, ok := a.fetchers[typ]; ok {
		return fetcher
	}
	if fetcher, ok := a.fetchers["*"]; ok {
		return fetcher
	}
	return nil
}

func (a *Authorizer) record(ctx context.Context, d perm.Decision, info string, user perm.User, code codes.Code) {
	if a.audit == nil {
		return
	}
	rec := AuditRecord{Decision: d, Info: info, Code: code}
	if !perm.IsAnonymous(user) {
		rec.UserID = user.UserID()
	}
	a.audit(ctx, rec)
}

// Translate maps engine errors onto the statuses callers should see. Other
// errors pass through unchanged.
//
// Configuration and sync failures become server errors with a generic
// message. A sync that failed because the store was unavailable or timed out
// keeps that code so clients may retry.
func Translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, perm.ErrConfiguration):
		return errors.WithPublicMessage(errors.WithCode(err, codes.Internal), "An internal error occurred")
	case errors.Is(err, roots.ErrSync):
		switch c := errors.Code(err); c {
		case codes.Unavailable, codes.DeadlineExceeded:
			return errors.WithPublicMessage(errors.WithCode(err, c), "Service temporarily unavailable, please retry")
		}
		return errors.WithPublicMessage(errors.WithCode(err, codes.Internal), "An internal error occurred")
	}
	return err
}

func isZeroKey(k any) bool {
	switch v := k.(type) {
	case nil:
		return true
	case string:
		return v == ""
	}
	return false
}
