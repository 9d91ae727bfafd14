// Package permissible wires the permission engine together: a record store,
// the group store roles are realized in, the resolver that answers checks,
// the roots manager that keeps role groups in sync, and the event bus that
// announces sync outcomes after commit.
//
// The defaults come from Config, so a minimal setup is:
//
//	e, err := permissible.New(ctx,
//	    permissible.WithRootType("team", false),
//	    permissible.WithPolicy("team", perm.Policy{
//	        Global: perm.PolicyNoRestrictionIfAuthenticated(),
//	        Object: perm.PolicyDefaultGlobal(),
//	    }),
//	)
//	defer e.Close(ctx)
//	err = e.Roots.SaveRoot(ctx, perm.Ref{Type: "team", ID: "t1"}, "")
package permissible

import (
	"context"
	"io"

	"github.com/dpup/permissible/errors"
	"github.com/dpup/permissible/eventbus"
	"github.com/dpup/permissible/eventbus/membus"
	"github.com/dpup/permissible/groups"
	"github.com/dpup/permissible/groups/storegroups"
	"github.com/dpup/permissible/logging"
	"github.com/dpup/permissible/perm"
	"github.com/dpup/permissible/roots"
	"github.com/dpup/permissible/storage"
	"github.com/dpup/permissible/storage/memstore"
	"github.com/dpup/permissible/storage/postgres"
	"github.com/dpup/permissible/storage/sqlite"
	"github.com/dpup/permissible/storage/sqlstore"
	"google.golang.org/grpc/codes"
)

// Option customizes the engine.
type Option func(*builder)

// WithStore uses db instead of the configured store.
func WithStore(db storage.Store) Option {
	return func(b *builder) {
		b.db = db
	}
}

// WithGroups uses gs instead of a group store persisted in the record store.
func WithGroups(gs groups.Store) Option {
	return func(b *builder) {
		b.groups = gs
	}
}

// WithEventBus uses bus instead of an in-memory bus.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(b *builder) {
		b.bus = bus
	}
}

// WithLogger uses logger instead of one built from "logging.mode".
func WithLogger(logger logging.Logger) Option {
	return func(b *builder) {
		b.logger = logger
	}
}

// WithKind registers a root kind with an explicit role table.
func WithKind(k roots.Kind) Option {
	return func(b *builder) {
		b.kinds = append(b.kinds, k)
	}
}

// WithRootType registers a root kind using the configured role table.
func WithRootType(typ string, hierarchical bool) Option {
	return func(b *builder) {
		b.rootTypes = append(b.rootTypes, rootType{typ, hierarchical})
	}
}

// WithPolicy registers the policy for a type.
func WithPolicy(typ string, p perm.Policy) Option {
	return func(b *builder) {
		b.resolverOpts = append(b.resolverOpts, perm.WithPolicy(typ, p))
	}
}

// WithResolverOptions passes options through to perm.NewResolver.
func WithResolverOptions(opts ...perm.ResolverOption) Option {
	return func(b *builder) {
		b.resolverOpts = append(b.resolverOpts, opts...)
	}
}

type rootType struct {
	typ          string
	hierarchical bool
}

type builder struct {
	db           storage.Store
	groups       groups.Store
	bus          eventbus.EventBus
	logger       logging.Logger
	kinds        []roots.Kind
	rootTypes    []rootType
	resolverOpts []perm.ResolverOption
}

// Engine holds the wired components.
type Engine struct {
	Store    storage.Store
	Groups   groups.Store
	Resolver *perm.Resolver
	Roots    *roots.Manager
	Bus      eventbus.EventBus
	Logger   logging.Logger

	ctx     context.Context
	closers []func(ctx context.Context) error
}

// New builds an engine. Components not supplied through options are created
// from Config.
func New(ctx context.Context, opts ...Option) (*Engine, error) {
	b := &builder{}
	for _, opt := range opts {
		opt(b)
	}

	e := &Engine{Logger: b.logger}
	if e.Logger == nil {
		e.Logger = logging.ForMode(Config.String("logging.mode"))
	}
	ctx = logging.With(ctx, e.Logger)
	e.ctx = ctx

	if err := e.build(ctx, b); err != nil {
		_ = e.Close(ctx)
		return nil, err
	}
	return e, nil
}

func (e *Engine) build(ctx context.Context, b *builder) error {
	e.Store = b.db
	if e.Store == nil {
		db, err := OpenStore(ctx)
		if err != nil {
			return err
		}
		e.Store = db
		if c, ok := db.(io.Closer); ok {
			e.closers = append(e.closers, func(context.Context) error { return c.Close() })
		}
	}

	e.Groups = b.groups
	if e.Groups == nil {
		gs, err := storegroups.New(ctx, e.Store)
		if err != nil {
			return err
		}
		e.Groups = gs
	}

	e.Bus = b.bus
	if e.Bus == nil {
		bus := membus.New(ctx, membus.WithWorkerPool(Config.Int("eventbus.workers")))
		e.Bus = bus
		e.closers = append([]func(context.Context) error{bus.Shutdown}, e.closers...)
	}

	resolverOpts := append([]perm.ResolverOption{
		perm.WithCreationActions(ConfigCreationActions()...),
		perm.WithPolicy(roots.TypeRootUser, roots.RootUserPolicy()),
	}, b.resolverOpts...)
	e.Resolver = perm.NewResolver(e.Groups, resolverOpts...)

	kinds := b.kinds
	if len(b.rootTypes) > 0 {
		table, err := ConfigRoles()
		if err != nil {
			return err
		}
		for _, rt := range b.rootTypes {
			kinds = append(kinds, roots.Kind{Type: rt.typ, Roles: table, Hierarchical: rt.hierarchical})
		}
	}
	managerOpts := []roots.Option{roots.WithEventBus(e.Bus)}
	for _, k := range kinds {
		managerOpts = append(managerOpts, roots.WithKind(k))
	}
	m, err := roots.NewManager(ctx, e.Store, e.Groups, managerOpts...)
	if err != nil {
		return err
	}
	e.Roots = m

	logging.Infow(ctx, "permissible: engine ready",
		"kinds", m.Kinds(), "types", e.Resolver.Types())
	return nil
}

// Context returns a context carrying the engine's logger.
func (e *Engine) Context() context.Context {
	return e.ctx
}

// Close drains the event bus and closes the store if the engine opened them.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	for _, c := range e.closers {
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

// OpenStore opens the store named by "store.driver".
func OpenStore(ctx context.Context) (storage.Store, error) {
	opts := []sqlstore.Option{sqlstore.WithPrefix(Config.String("store.prefix"))}
	switch driver := Config.String("store.driver"); driver {
	case "memory", "":
		return memstore.New(), nil
	case "sqlite":
		return sqlite.New(ctx, Config.String("store.dsn"), opts...)
	case "postgres":
		if schema := Config.String("store.schema"); schema != "" {
			opts = append(opts, postgres.WithSchema(schema))
		}
		return postgres.New(ctx, Config.String("store.dsn"), opts...)
	default:
		return nil, errors.Codef(codes.InvalidArgument, "permissible: unknown store driver %q", driver)
	}
}
