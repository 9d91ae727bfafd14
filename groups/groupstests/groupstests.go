// Package groupstests is an acceptance suite for groups.Store
// implementations.
package groupstests

import (
	"context"
	"testing"

	"github.com/dpup/permissible/errors"
	"github.com/dpup/permissible/groups"
	"github.com/dpup/permissible/perm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	teamT1 = perm.Ref{Type: "team", ID: "t1"}
	teamT2 = perm.Ref{Type: "team", ID: "t2"}
)

// Run exercises a store returned by newStore. Each subtest gets a fresh store.
func Run(t *testing.T, newStore func(t *testing.T) groups.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s groups.Store)
	}{
		{"CreateAndFind", CreateAndFind},
		{"CreateDuplicateName", CreateDuplicateName},
		{"GrantIsIdempotent", GrantIsIdempotent},
		{"GrantsAreScoped", GrantsAreScoped},
		{"Revoke", Revoke},
		{"UnknownGroup", UnknownGroup},
		{"Membership", Membership},
		{"UserHasCodes", UserHasCodes},
		{"TypeLevelGrants", TypeLevelGrants},
		{"DirectUserGrants", DirectUserGrants},
		{"DeleteGroup", DeleteGroup},
		{"MembershipHooks", MembershipHooks},
		{"InvalidArguments", InvalidArguments},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func CreateAndFind(t *testing.T, s groups.Store) {
	ctx := context.Background()
	id, err := s.CreateGroup(ctx, "[adm][team] t1")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	g, err := s.FindGroup(ctx, "[adm][team] t1")
	require.NoError(t, err)
	assert.Equal(t, id, g.ID)
	assert.Equal(t, "[adm][team] t1", g.Name)

	_, err = s.FindGroup(ctx, "missing")
	assert.True(t, errors.Is(err, groups.ErrGroupNotFound))
}

func CreateDuplicateName(t *testing.T, s groups.Store) {
	ctx := context.Background()
	_, err := s.CreateGroup(ctx, "dup")
	require.NoError(t, err)

	_, err = s.CreateGroup(ctx, "dup")
	assert.True(t, errors.Is(err, groups.ErrGroupExists), "got %v", err)
}

func GrantIsIdempotent(t *testing.T, s groups.Store) {
	ctx := context.Background()
	g := mustGroup(t, s, "g")

	require.NoError(t, s.Grant(ctx, g, teamT1, "view"))
	require.NoError(t, s.Grant(ctx, g, teamT1, "view"))
	require.NoError(t, s.Grant(ctx, g, teamT1, "change"))

	codes, err := s.CodesGrantedToGroup(ctx, g, teamT1)
	require.NoError(t, err)
	assert.Equal(t, []string{"change", "view"}, codes)
}

func GrantsAreScoped(t *testing.T, s groups.Store) {
	ctx := context.Background()
	g := mustGroup(t, s, "g")
	require.NoError(t, s.Grant(ctx, g, teamT1, "view"))

	codes, err := s.CodesGrantedToGroup(ctx, g, teamT2)
	require.NoError(t, err)
	assert.Empty(t, codes)

	codes, err = s.CodesGrantedToGroup(ctx, g, perm.TypeRef("team"))
	require.NoError(t, err)
	assert.Empty(t, codes, "object grants are not type-level grants")
}

func Revoke(t *testing.T, s groups.Store) {
	ctx := context.Background()
	g := mustGroup(t, s, "g")
	require.NoError(t, s.Grant(ctx, g, teamT1, "view"))
	require.NoError(t, s.Grant(ctx, g, teamT1, "change"))

	require.NoError(t, s.Revoke(ctx, g, teamT1, "change"))
	require.NoError(t, s.Revoke(ctx, g, teamT1, "change"), "revoking twice is a no-op")
	require.NoError(t, s.Revoke(ctx, g, teamT1, "never-granted"))

	codes, err := s.CodesGrantedToGroup(ctx, g, teamT1)
	require.NoError(t, err)
	assert.Equal(t, []string{"view"}, codes)
}

func UnknownGroup(t *testing.T, s groups.Store) {
	ctx := context.Background()
	missing := groups.GroupID("missing")

	assert.True(t, errors.Is(s.Grant(ctx, missing, teamT1, "view"), groups.ErrGroupNotFound))
	assert.True(t, errors.Is(s.Revoke(ctx, missing, teamT1, "view"), groups.ErrGroupNotFound))
	assert.True(t, errors.Is(s.AddUserToGroup(ctx, "u1", missing), groups.ErrGroupNotFound))
	assert.True(t, errors.Is(s.DeleteGroup(ctx, missing), groups.ErrGroupNotFound))

	_, err := s.MembersOf(ctx, missing)
	assert.True(t, errors.Is(err, groups.ErrGroupNotFound))
	_, err = s.CodesGrantedToGroup(ctx, missing, teamT1)
	assert.True(t, errors.Is(err, groups.ErrGroupNotFound))
}

func Membership(t *testing.T, s groups.Store) {
	ctx := context.Background()
	g1 := mustGroup(t, s, "g1")
	g2 := mustGroup(t, s, "g2")

	require.NoError(t, s.AddUserToGroup(ctx, "u2", g1))
	require.NoError(t, s.AddUserToGroup(ctx, "u1", g1))
	require.NoError(t, s.AddUserToGroup(ctx, "u1", g1), "adding twice is a no-op")
	require.NoError(t, s.AddUserToGroup(ctx, "u1", g2))

	members, err := s.MembersOf(ctx, g1)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, members)

	ids, err := s.GroupsOf(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []groups.GroupID{g1, g2}, ids)

	ok, err := groups.IsMember(ctx, s, "u2", g1)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.RemoveUserFromGroup(ctx, "u2", g1))
	require.NoError(t, s.RemoveUserFromGroup(ctx, "u2", g1), "removing twice is a no-op")

	members, err = s.MembersOf(ctx, g1)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, members)

	ids, err = s.GroupsOf(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func UserHasCodes(t *testing.T, s groups.Store) {
	ctx := context.Background()
	viewers := mustGroup(t, s, "viewers")
	editors := mustGroup(t, s, "editors")
	require.NoError(t, groups.GrantAll(ctx, s, viewers, teamT1, "view"))
	require.NoError(t, groups.GrantAll(ctx, s, editors, teamT1, "change", "delete"))
	require.NoError(t, s.AddUserToGroup(ctx, "u1", viewers))
	require.NoError(t, s.AddUserToGroup(ctx, "u1", editors))
	require.NoError(t, s.AddUserToGroup(ctx, "u2", viewers))

	tests := []struct {
		user  perm.User
		scope perm.Ref
		codes []string
		want  bool
	}{
		{perm.UserID("u1"), teamT1, []string{"view"}, true},
		{perm.UserID("u1"), teamT1, []string{"view", "change", "delete"}, true},
		{perm.UserID("u2"), teamT1, []string{"view"}, true},
		{perm.UserID("u2"), teamT1, []string{"view", "change"}, false},
		{perm.UserID("u1"), teamT2, []string{"view"}, false},
		{perm.UserID("u3"), teamT1, []string{"view"}, false},
		{perm.UserID(""), teamT1, []string{"view"}, false},
		{nil, teamT1, []string{"view"}, false},
		{perm.UserID("u1"), teamT1, nil, true},
	}
	for _, tt := range tests {
		got, err := s.UserHasCodes(ctx, tt.user, tt.scope, tt.codes)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%v %s %v", tt.user, tt.scope, tt.codes)
	}
}

func TypeLevelGrants(t *testing.T, s groups.Store) {
	ctx := context.Background()
	g := mustGroup(t, s, "staff")
	require.NoError(t, s.Grant(ctx, g, perm.TypeRef("team"), "add"))
	require.NoError(t, s.AddUserToGroup(ctx, "u1", g))

	ok, err := s.UserHasCodes(ctx, perm.UserID("u1"), perm.TypeRef("team"), []string{"add"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.UserHasCodes(ctx, perm.UserID("u1"), teamT1, []string{"add"})
	require.NoError(t, err)
	assert.False(t, ok, "type-level grants do not imply object grants")
}

func DirectUserGrants(t *testing.T, s groups.Store) {
	ctx := context.Background()
	require.NoError(t, s.GrantUser(ctx, "u1", teamT1, "view"))
	require.NoError(t, s.GrantUser(ctx, "u1", teamT1, "view"))

	g := mustGroup(t, s, "g")
	require.NoError(t, s.Grant(ctx, g, teamT1, "change"))
	require.NoError(t, s.AddUserToGroup(ctx, "u1", g))

	ok, err := s.UserHasCodes(ctx, perm.UserID("u1"), teamT1, []string{"view", "change"})
	require.NoError(t, err)
	assert.True(t, ok, "direct and group grants combine")

	require.NoError(t, s.RevokeUser(ctx, "u1", teamT1, "view"))
	require.NoError(t, s.RevokeUser(ctx, "u1", teamT1, "view"))

	ok, err = s.UserHasCodes(ctx, perm.UserID("u1"), teamT1, []string{"view"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func DeleteGroup(t *testing.T, s groups.Store) {
	ctx := context.Background()
	g := mustGroup(t, s, "doomed")
	require.NoError(t, s.Grant(ctx, g, teamT1, "view"))
	require.NoError(t, s.AddUserToGroup(ctx, "u1", g))

	require.NoError(t, s.DeleteGroup(ctx, g))

	ok, err := s.UserHasCodes(ctx, perm.UserID("u1"), teamT1, []string{"view"})
	require.NoError(t, err)
	assert.False(t, ok, "deleted groups must not grant anything")

	ids, err := s.GroupsOf(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = s.FindGroup(ctx, "doomed")
	assert.True(t, errors.Is(err, groups.ErrGroupNotFound))

	// The name can be reused.
	_, err = s.CreateGroup(ctx, "doomed")
	require.NoError(t, err)
}

func MembershipHooks(t *testing.T, s groups.Store) {
	n, ok := s.(groups.Notifier)
	if !ok {
		t.Skip("store does not report membership changes")
	}
	ctx := context.Background()
	g := mustGroup(t, s, "g")

	var changes []groups.MembershipChange
	n.OnMembershipChange(func(_ context.Context, c groups.MembershipChange) error {
		changes = append(changes, c)
		return nil
	})

	require.NoError(t, s.AddUserToGroup(ctx, "u1", g))
	require.NoError(t, s.RemoveUserFromGroup(ctx, "u1", g))
	assert.Equal(t, []groups.MembershipChange{
		{UserID: "u1", Group: g, Added: true},
		{UserID: "u1", Group: g, Added: false},
	}, changes)

	hookErr := errors.New("propagation failed")
	n.OnMembershipChange(func(context.Context, groups.MembershipChange) error {
		return hookErr
	})
	assert.ErrorIs(t, s.AddUserToGroup(ctx, "u2", g), hookErr)
}

func InvalidArguments(t *testing.T, s groups.Store) {
	ctx := context.Background()
	g := mustGroup(t, s, "g")

	assert.True(t, errors.Is(s.Grant(ctx, g, perm.Ref{}, "view"), groups.ErrInvalidArgument))
	assert.True(t, errors.Is(s.Grant(ctx, g, teamT1, ""), groups.ErrInvalidArgument))
	assert.True(t, errors.Is(s.AddUserToGroup(ctx, "", g), groups.ErrInvalidArgument))
	assert.True(t, errors.Is(s.GrantUser(ctx, "", teamT1, "view"), groups.ErrInvalidArgument))

	_, err := s.CreateGroup(ctx, "")
	assert.True(t, errors.Is(err, groups.ErrInvalidArgument))
}

func mustGroup(t *testing.T, s groups.Store, name string) groups.GroupID {
	t.Helper()
	id, err := s.CreateGroup(context.Background(), name)
	require.NoError(t, err)
	return id
}
