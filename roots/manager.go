// Package roots keeps role groups in step with the entities that own them.
//
// A root is an entity, such as a team, on which roles are defined. For each
// role in the root's Kind the Manager keeps a RootGroup record backed by a
// group in the group store, and syncs the group's grants on the root with the
// role's codes. It also maintains RootUser rows, which record that a user
// belongs to at least one of a root's role groups.
//
// The Manager is driven by explicit events rather than persistence hooks:
//
//	m, err := roots.NewManager(ctx, db, gs, roots.WithKind(roots.Kind{
//		Type:  "team",
//		Roles: roots.DefaultRoles(),
//	}))
//	...
//	err = m.Dispatch(ctx, roots.RootSaved{Root: perm.Ref{Type: "team", ID: team.ID}})
//	err = m.AddUserToRoles(ctx, perm.Ref{Type: "team", ID: team.ID}, userID, roots.RoleAdmin)
//
// Every operation runs in one storage transaction when the store is a
// storage.Transactor. Group changes join the same transaction when the group
// store is persisted on the same storage.Store, see storegroups.
package roots

import (
	"context"
	"slices"
	"strings"

	"github.com/dpup/permissible/errors"
	"github.com/dpup/permissible/eventbus"
	"github.com/dpup/permissible/groups"
	"github.com/dpup/permissible/logging"
	"github.com/dpup/permissible/perm"
	"github.com/dpup/permissible/storage"
	"google.golang.org/grpc/codes"
)

// Option configures a Manager.
type Option func(*Manager)

// WithKind registers a root kind.
func WithKind(k Kind) Option {
	return func(m *Manager) {
		m.kinds[k.Type] = k
	}
}

// WithEventBus publishes sync outcomes to bus after they commit.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(m *Manager) {
		m.bus = bus
	}
}

// Manager reconciles roots, their role groups and derived membership.
type Manager struct {
	db       storage.Store
	groups   groups.Store
	kinds    map[string]Kind
	bus      eventbus.EventBus
	notified bool
}

// NewManager returns a manager persisting records in db and realizing roles
// in gs. If gs reports membership changes the manager subscribes to them.
func NewManager(ctx context.Context, db storage.Store, gs groups.Store, opts ...Option) (*Manager, error) {
	m := &Manager{
		db:     db,
		groups: gs,
		kinds:  map[string]Kind{},
		bus:    eventbus.Nop{},
	}
	for _, opt := range opts {
		opt(m)
	}
	for typ, k := range m.kinds {
		if typ == "" {
			return nil, errors.Codef(codes.InvalidArgument, "roots: kind requires a type")
		}
		if strings.ContainsAny(typ, nameReserved+":") {
			return nil, errors.Codef(codes.InvalidArgument, "roots: kind %q contains one of %q", typ, nameReserved+":")
		}
		if k.Roles.Len() == 0 {
			return nil, errors.Codef(codes.InvalidArgument, "roots: kind %q has no roles", typ)
		}
	}
	if err := storage.InitModels(ctx, db, Models()...); err != nil {
		return nil, err
	}
	if n, ok := gs.(groups.Notifier); ok {
		n.OnMembershipChange(m.onMembershipChange)
		m.notified = true
	}
	return m, nil
}

// Kind returns the registered kind for typ.
func (m *Manager) Kind(typ string) (Kind, bool) {
	k, ok := m.kinds[typ]
	return k, ok
}

// Kinds returns the registered root types, sorted.
func (m *Manager) Kinds() []string {
	types := make([]string, 0, len(m.kinds))
	for t := range m.kinds {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Groups returns the group store roles are realized in.
func (m *Manager) Groups() groups.Store { return m.groups }

func (m *Manager) kind(root perm.Ref) (Kind, error) {
	k, ok := m.kinds[root.Type]
	if !ok {
		return Kind{}, errors.Mark(ErrUnknownKind, 1).Append(root.Type)
	}
	if root.ID == "" {
		return Kind{}, errors.Mark(ErrInvalidRoot, 1).Append("root requires an id")
	}
	return k, nil
}

// run executes fn in a transaction and publishes queued notices once it
// commits. Nested calls join the outer operation.
func (m *Manager) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if _, nested := ctx.Value(outboxKey{}).(*outbox); nested {
		return fn(ctx)
	}
	ob := &outbox{}
	txCtx := context.WithValue(ctx, outboxKey{}, ob)
	if err := storage.RunInTx(txCtx, m.db, fn); err != nil {
		logging.Errorw(ctx, "roots: operation failed", "op", op, "error", err)
		return err
	}
	for _, n := range ob.notices {
		m.bus.Publish(n.topic, n.data)
	}
	return nil
}

// RoleGroup returns the role group of root for role.
func (m *Manager) RoleGroup(ctx context.Context, root perm.Ref, role string) (*RootGroup, error) {
	rec := newRootGroup(root, role)
	if err := m.db.Read(ctx, rec.ID, rec); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errors.Mark(ErrNotFound, 0).Append(GroupName(root, role))
		}
		return nil, err
	}
	return rec, nil
}

// RoleGroups returns the role groups of root in the order of its kind's
// role table, followed by any groups whose role has left the table.
func (m *Manager) RoleGroups(ctx context.Context, root perm.Ref) ([]*RootGroup, error) {
	if root.ID == "" {
		return nil, errors.Mark(ErrInvalidRoot, 0).Append("root requires an id")
	}
	var recs []*RootGroup
	if err := m.db.List(ctx, &recs, &RootGroup{RootType: root.Type, RootID: root.ID}); err != nil {
		return nil, err
	}
	if k, ok := m.kinds[root.Type]; ok {
		order := k.Roles.Names()
		slices.SortStableFunc(recs, func(a, b *RootGroup) int {
			return rank(order, a.Role) - rank(order, b.Role)
		})
	}
	return recs, nil
}

func rank(order []string, role string) int {
	if i := slices.Index(order, role); i >= 0 {
		return i
	}
	return len(order)
}

// Exists reports whether root has been saved.
func (m *Manager) Exists(ctx context.Context, root perm.Ref) (bool, error) {
	return m.db.Exists(ctx, root.String(), &RootNode{})
}
