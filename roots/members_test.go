package roots

import (
	"testing"

	"github.com/dpup/permissible/errors"
	"github.com/dpup/permissible/groups"
	"github.com/dpup/permissible/groups/memgroups"
	"github.com/dpup/permissible/perm"
	"github.com/dpup/permissible/storage"
	"github.com/dpup/permissible/storage/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestMembership_DuplicateEventsAreNoOps(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db storage.Store, gs groups.Store) {
		ctx := t.Context()
		m := newManager(t, db, gs)
		require.NoError(t, m.SaveRoot(ctx, team("t1"), ""))
		ids, err := m.GroupIDsForRoles(ctx, team("t1"), "admin")
		require.NoError(t, err)
		require.Len(t, ids, 1)

		added := GroupMembershipChanged{groups.MembershipChange{UserID: "nia", Group: ids[0], Added: true}}
		require.NoError(t, m.Dispatch(ctx, added))
		require.NoError(t, m.Dispatch(ctx, added))

		members, err := m.Members(ctx, team("t1"))
		require.NoError(t, err)
		assert.Equal(t, []string{"nia"}, members)

		// nia never joined the group itself, so a removal recomputes to none.
		removed := GroupMembershipChanged{groups.MembershipChange{UserID: "nia", Group: ids[0]}}
		require.NoError(t, m.Dispatch(ctx, removed))
		require.NoError(t, m.Dispatch(ctx, removed))

		members, err = m.Members(ctx, team("t1"))
		require.NoError(t, err)
		assert.Empty(t, members)
	})
}

func TestMembership_UnrelatedGroupsIgnored(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db storage.Store, gs groups.Store) {
		ctx := t.Context()
		m := newManager(t, db, gs)
		g, err := gs.CreateGroup(ctx, "staff")
		require.NoError(t, err)
		require.NoError(t, gs.AddUserToGroup(ctx, "oli", g))

		roots, err := m.RootsOf(ctx, "oli")
		require.NoError(t, err)
		assert.Empty(t, roots)
	})
}

func TestMembership_RowKeptWhileInAnotherGroup(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db storage.Store, gs groups.Store) {
		ctx := t.Context()
		m := newManager(t, db, gs)
		require.NoError(t, m.SaveRoot(ctx, team("t1"), ""))
		require.NoError(t, m.AddUserToRoles(ctx, team("t1"), "pat", "viewer", "admin"))

		require.NoError(t, m.RemoveUserFromRoles(ctx, team("t1"), "pat", "admin"))
		member, err := m.IsMember(ctx, team("t1"), "pat")
		require.NoError(t, err)
		assert.True(t, member)

		roles, err := m.RolesOf(ctx, team("t1"), "pat")
		require.NoError(t, err)
		assert.Equal(t, []string{"viewer"}, roles)

		require.NoError(t, m.RemoveUserFromRoles(ctx, team("t1"), "pat", "viewer"))
		member, err = m.IsMember(ctx, team("t1"), "pat")
		require.NoError(t, err)
		assert.False(t, member)
	})
}

func TestMembership_OutOfBandChangesPropagate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db storage.Store, gs groups.Store) {
		ctx := t.Context()
		m := newManager(t, db, gs)
		require.NoError(t, m.SaveRoot(ctx, team("t1"), ""))
		rec, err := m.RoleGroup(ctx, team("t1"), "viewer")
		require.NoError(t, err)

		require.NoError(t, gs.AddUserToGroup(ctx, "quin", groups.GroupID(rec.GroupID)))
		member, err := m.IsMember(ctx, team("t1"), "quin")
		require.NoError(t, err)
		assert.True(t, member, "group stores report membership changes")

		require.NoError(t, gs.RemoveUserFromGroup(ctx, "quin", groups.GroupID(rec.GroupID)))
		member, err = m.IsMember(ctx, team("t1"), "quin")
		require.NoError(t, err)
		assert.False(t, member)
	})
}

func TestMembership_StoreWithoutNotifications(t *testing.T) {
	cs := &countingStore{Store: memgroups.New()}
	m := newManager(t, memstore.New(), cs)
	ctx := t.Context()
	require.NoError(t, m.SaveRoot(ctx, team("t1"), ""))

	require.NoError(t, m.AddUserToRoles(ctx, team("t1"), "rae", "viewer"))
	member, err := m.IsMember(ctx, team("t1"), "rae")
	require.NoError(t, err)
	assert.True(t, member)

	require.NoError(t, m.RemoveUserFromRoles(ctx, team("t1"), "rae"))
	member, err = m.IsMember(ctx, team("t1"), "rae")
	require.NoError(t, err)
	assert.False(t, member)
}

func TestMembership_ArgumentErrors(t *testing.T) {
	m := newManager(t, memstore.New(), memgroups.New())
	ctx := t.Context()
	require.NoError(t, m.SaveRoot(ctx, team("t1"), ""))

	err := m.AddUserToRoles(ctx, team("t1"), "", "viewer")
	assert.Equal(t, codes.InvalidArgument, errors.Code(err))

	err = m.AddUserToRoles(ctx, team("t1"), "sam", "owner")
	assert.Equal(t, codes.InvalidArgument, errors.Code(err))

	err = m.AddUserToRoles(ctx, team("t2"), "sam", "viewer")
	assert.Equal(t, codes.NotFound, errors.Code(err))

	_, err = m.GroupIDsForRoles(ctx, perm.Ref{Type: "widget", ID: "w"})
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestMembership_ReadArgumentErrors(t *testing.T) {
	m := newManager(t, memstore.New(), memgroups.New())
	ctx := t.Context()
	require.NoError(t, m.SaveRoot(ctx, team("t1"), ""))
	require.NoError(t, m.SaveRoot(ctx, team("t2"), ""))
	require.NoError(t, m.AddUserToRoles(ctx, team("t1"), "sam", "viewer"))
	require.NoError(t, m.AddUserToRoles(ctx, team("t2"), "uma", "viewer"))

	// A type-level ref must not list the members of every team.
	members, err := m.Members(ctx, perm.Ref{Type: "team"})
	assert.True(t, errors.Is(err, ErrInvalidRoot))
	assert.Nil(t, members)

	_, err = m.Members(ctx, perm.Ref{Type: "widget", ID: "w"})
	assert.True(t, errors.Is(err, ErrUnknownKind))

	_, err = m.IsMember(ctx, perm.Ref{Type: "team"}, "sam")
	assert.True(t, errors.Is(err, ErrInvalidRoot))

	_, err = m.IsMember(ctx, team("t1"), "")
	assert.Equal(t, codes.InvalidArgument, errors.Code(err))

	_, err = m.RolesOf(ctx, perm.Ref{Type: "team"}, "sam")
	assert.True(t, errors.Is(err, ErrInvalidRoot))

	_, err = m.RoleGroups(ctx, perm.Ref{Type: "team"})
	assert.True(t, errors.Is(err, ErrInvalidRoot))

	_, err = m.RootsOf(ctx, "")
	assert.Equal(t, codes.InvalidArgument, errors.Code(err))
}

func TestGroupIDsForRoles(t *testing.T) {
	m := newManager(t, memstore.New(), memgroups.New())
	ctx := t.Context()
	require.NoError(t, m.SaveRoot(ctx, team("t1"), ""))

	all, err := m.GroupIDsForRoles(ctx, team("t1"))
	require.NoError(t, err)
	require.Len(t, all, 2)

	admin, err := m.GroupIDsForRoles(ctx, team("t1"), "admin")
	require.NoError(t, err)
	assert.Equal(t, all[1:], admin, "role table order")
}

func TestClearUser(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db storage.Store, gs groups.Store) {
		ctx := t.Context()
		m := newManager(t, db, gs)
		require.NoError(t, m.SaveRoot(ctx, team("t1"), ""))
		require.NoError(t, m.SaveRoot(ctx, team("t2"), ""))
		require.NoError(t, m.AddUserToRoles(ctx, team("t1"), "tess"))
		require.NoError(t, m.AddUserToRoles(ctx, team("t2"), "tess", "viewer"))
		require.NoError(t, m.AddUserToRoles(ctx, team("t2"), "uma", "viewer"))

		staff, err := gs.CreateGroup(ctx, "staff")
		require.NoError(t, err)
		require.NoError(t, gs.AddUserToGroup(ctx, "tess", staff))

		require.NoError(t, m.ClearUser(ctx, "tess"))

		roots, err := m.RootsOf(ctx, "tess")
		require.NoError(t, err)
		assert.Empty(t, roots)
		assert.False(t, hasCodes(t, gs, "tess", team("t1"), "view"))

		inStaff, err := groups.IsMember(ctx, gs, "tess", staff)
		require.NoError(t, err)
		assert.True(t, inStaff, "groups which back no role are untouched")

		members, err := m.Members(ctx, team("t2"))
		require.NoError(t, err)
		assert.Equal(t, []string{"uma"}, members)
	})
}

func TestAssignCreator(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db storage.Store, gs groups.Store) {
		ctx := t.Context()
		m := newManager(t, db, gs)

		require.NoError(t, m.AssignCreator(ctx, "vic", org("acme")))
		assert.True(t, hasCodes(t, gs, "vic", org("acme"), DefaultRoles().AllCodes()...))
		assert.False(t, hasCodes(t, gs, "vic", org("other"), "view"))

		info := &teamInfo{ID: "i1", Team: team("t1")}
		require.NoError(t, m.AssignCreator(ctx, "vic", info, "view", "change"))
		assert.True(t, hasCodes(t, gs, "vic", perm.RefOf(info), "view", "change"))

		err := m.AssignCreator(ctx, "vic", info)
		assert.True(t, errors.Is(err, ErrUnknownKind))

		err = m.AssignCreator(ctx, "vic", perm.TypeRef("org"))
		assert.True(t, errors.Is(err, ErrInvalidRoot))
	})
}

func TestRootUserPolicy(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db storage.Store, gs groups.Store) {
		ctx := t.Context()
		m := newManager(t, db, gs)
		r := perm.NewResolver(gs, perm.WithPolicy(TypeRootUser, RootUserPolicy()))

		require.NoError(t, m.SaveRoot(ctx, org("acme"), ""))
		require.NoError(t, m.AddUserToRoles(ctx, org("acme"), "wes", RoleMember))
		require.NoError(t, m.AddUserToRoles(ctx, org("acme"), "xia", RoleAdmin))
		require.NoError(t, m.AddUserToRoles(ctx, org("acme"), "yan", RoleViewer))

		row := newRootUser(org("acme"), "wes")
		tests := []struct {
			user   string
			action perm.Action
			want   bool
		}{
			{"wes", perm.ActionRetrieve, true},
			{"wes", perm.ActionPartialUpdate, true},
			{"wes", perm.ActionDestroy, false},
			{"xia", perm.ActionRetrieve, true},
			{"xia", perm.ActionUpdate, true},
			{"xia", perm.ActionDestroy, true},
			{"yan", perm.ActionRetrieve, false},
			{"yan", perm.ActionDestroy, false},
			{"", perm.ActionRetrieve, false},
		}
		for _, tt := range tests {
			ok, err := r.Allowed(ctx, perm.UserID(tt.user), tt.action, row)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok, "%s %s", tt.user, tt.action)
		}

		d, err := r.Resolve(ctx, perm.Check{User: perm.UserID("xia"), Action: perm.ActionCreate, Type: TypeRootUser})
		require.NoError(t, err)
		assert.False(t, d.Allowed, "rows are derived, never created directly")
	})
}

func TestMembership_SeparatorsInIDs(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db storage.Store, gs groups.Store) {
		ctx := t.Context()
		m := newManager(t, db, gs)
		require.NoError(t, m.SaveRoot(ctx, team("t1"), ""))
		require.NoError(t, m.SaveRoot(ctx, team("t1|a"), ""))

		require.NoError(t, m.AddUserToRoles(ctx, team("t1"), "a|b", "admin"))
		require.NoError(t, m.AddUserToRoles(ctx, team("t1|a"), "b", "viewer"))

		members, err := m.Members(ctx, team("t1"))
		require.NoError(t, err)
		assert.Equal(t, []string{"a|b"}, members)

		members, err = m.Members(ctx, team("t1|a"))
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, members)

		ok, err := m.IsMember(ctx, team("t1|a"), "b")
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, m.RemoveUserFromRoles(ctx, team("t1"), "a|b", "admin"))
		ok, err = m.IsMember(ctx, team("t1|a"), "b")
		require.NoError(t, err)
		assert.True(t, ok, "removing a|b from t1 must not touch b on t1|a")

		roles, err := m.RolesOf(ctx, team("t1|a"), "b")
		require.NoError(t, err)
		assert.Equal(t, []string{"viewer"}, roles)
	})
}
