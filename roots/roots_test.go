package roots

import (
	"context"
	"sync"
	"testing"

	"github.com/dpup/permissible/groups"
	"github.com/dpup/permissible/groups/memgroups"
	"github.com/dpup/permissible/groups/storegroups"
	"github.com/dpup/permissible/perm"
	"github.com/dpup/permissible/storage"
	"github.com/dpup/permissible/storage/memstore"
	"github.com/dpup/permissible/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backend struct {
	name string
	new  func(t *testing.T) (storage.Store, groups.Store)
}

var backends = []backend{
	{"memstore+storegroups", func(t *testing.T) (storage.Store, groups.Store) {
		db := memstore.New()
		gs, err := storegroups.New(t.Context(), db)
		require.NoError(t, err)
		return db, gs
	}},
	{"sqlite+storegroups", func(t *testing.T) (storage.Store, groups.Store) {
		db := sqlite.MustNew(":memory:")
		t.Cleanup(func() { db.Close() })
		gs, err := storegroups.New(t.Context(), db)
		require.NoError(t, err)
		return db, gs
	}},
	{"memstore+memgroups", func(t *testing.T) (storage.Store, groups.Store) {
		return memstore.New(), memgroups.New()
	}},
}

// forEachBackend runs fn against every storage and group store pairing.
func forEachBackend(t *testing.T, fn func(t *testing.T, db storage.Store, gs groups.Store)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			db, gs := b.new(t)
			fn(t, db, gs)
		})
	}
}

func teamKind() Kind {
	return Kind{
		Type: "team",
		Roles: MustRoleDefinitions(
			Role{Name: "viewer", Label: "Viewer", Codes: []string{"view"}},
			Role{Name: "admin", Label: "Admin", Codes: []string{"view", "change", "delete"}},
		),
	}
}

func orgKind() Kind {
	return Kind{Type: "org", Roles: DefaultRoles(), Hierarchical: true}
}

func newManager(t *testing.T, db storage.Store, gs groups.Store, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithKind(teamKind()), WithKind(orgKind())}, opts...)
	m, err := NewManager(t.Context(), db, gs, opts...)
	require.NoError(t, err)
	return m
}

func team(id string) perm.Ref { return perm.Ref{Type: "team", ID: id} }
func org(id string) perm.Ref  { return perm.Ref{Type: "org", ID: id} }

func requireCodes(t *testing.T, m *Manager, root perm.Ref, role string, scope perm.Ref, want ...string) {
	t.Helper()
	rec, err := m.RoleGroup(t.Context(), root, role)
	require.NoError(t, err)
	got, err := m.groups.CodesGrantedToGroup(t.Context(), groups.GroupID(rec.GroupID), scope)
	require.NoError(t, err)
	if want == nil {
		want = []string{}
	}
	assert.Equal(t, want, got, "codes for %s on %s", role, scope)
}

func hasCodes(t *testing.T, gs groups.Store, user string, scope perm.Ref, codes ...string) bool {
	t.Helper()
	ok, err := gs.UserHasCodes(t.Context(), perm.UserID(user), scope, codes)
	require.NoError(t, err)
	return ok
}

// countingStore counts mutations and can fail a chosen one. It does not
// expose groups.Notifier, so the manager propagates membership itself.
type countingStore struct {
	groups.Store

	mu        sync.Mutex
	mutations int
	grants    int
	adds      int
	failGrant int
	failAdd   int
	err       error
}

func (c *countingStore) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mutations
}

func (c *countingStore) bump() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mutations++
}

func (c *countingStore) Grant(ctx context.Context, g groups.GroupID, scope perm.Ref, code string) error {
	c.mu.Lock()
	c.mutations++
	c.grants++
	fail := c.failGrant > 0 && c.grants == c.failGrant
	c.mu.Unlock()
	if fail {
		return c.err
	}
	return c.Store.Grant(ctx, g, scope, code)
}

func (c *countingStore) Revoke(ctx context.Context, g groups.GroupID, scope perm.Ref, code string) error {
	c.bump()
	return c.Store.Revoke(ctx, g, scope, code)
}

func (c *countingStore) CreateGroup(ctx context.Context, name string) (groups.GroupID, error) {
	c.bump()
	return c.Store.CreateGroup(ctx, name)
}

func (c *countingStore) DeleteGroup(ctx context.Context, g groups.GroupID) error {
	c.bump()
	return c.Store.DeleteGroup(ctx, g)
}

func (c *countingStore) AddUserToGroup(ctx context.Context, userID string, g groups.GroupID) error {
	c.mu.Lock()
	c.mutations++
	c.adds++
	fail := c.failAdd > 0 && c.adds == c.failAdd
	c.mu.Unlock()
	if fail {
		return c.err
	}
	return c.Store.AddUserToGroup(ctx, userID, g)
}

func (c *countingStore) RemoveUserFromGroup(ctx context.Context, userID string, g groups.GroupID) error {
	c.bump()
	return c.Store.RemoveUserFromGroup(ctx, userID, g)
}

func (c *countingStore) GrantUser(ctx context.Context, userID string, scope perm.Ref, code string) error {
	c.bump()
	return c.Store.GrantUser(ctx, userID, scope, code)
}

func (c *countingStore) RevokeUser(ctx context.Context, userID string, scope perm.Ref, code string) error {
	c.bump()
	return c.Store.RevokeUser(ctx, userID, scope, code)
}

// teamInfo is owned by a team.
type teamInfo struct {
	ID   string
	Team perm.Ref
}

func (i *teamInfo) PermType() string { return "team_info" }
func (i *teamInfo) PermID() string   { return i.ID }
