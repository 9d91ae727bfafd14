package roots

import (
	"testing"

	"github.com/dpup/permissible/errors"
	"github.com/dpup/permissible/groups"
	"github.com/dpup/permissible/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHierarchy_GrantsApplyToDescendants(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db storage.Store, gs groups.Store) {
		ctx := t.Context()
		m := newManager(t, db, gs)

		require.NoError(t, m.SaveRoot(ctx, org("acme"), ""))
		require.NoError(t, m.SaveRoot(ctx, org("eng"), "acme"))
		require.NoError(t, m.SaveRoot(ctx, org("infra"), "eng"))
		require.NoError(t, m.SaveRoot(ctx, org("sales"), "acme"))

		require.NoError(t, m.AddUserToRoles(ctx, org("acme"), "hana", RoleViewer))
		require.NoError(t, m.AddUserToRoles(ctx, org("eng"), "ivan", RoleAdmin))

		for _, o := range []string{"acme", "eng", "infra", "sales"} {
			assert.True(t, hasCodes(t, gs, "hana", org(o), "view"), "hana views %s", o)
		}
		assert.True(t, hasCodes(t, gs, "ivan", org("infra"), "change_permission"))
		assert.False(t, hasCodes(t, gs, "ivan", org("acme"), "view"))
		assert.False(t, hasCodes(t, gs, "ivan", org("sales"), "view"))

		rec, err := m.RoleGroup(ctx, org("acme"), RoleViewer)
		require.NoError(t, err)
		assert.Equal(t, []string{"org:acme", "org:eng", "org:infra", "org:sales"}, rec.Targets)
	})
}

func TestHierarchy_MoveResyncsAncestors(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db storage.Store, gs groups.Store) {
		ctx := t.Context()
		m := newManager(t, db, gs)

		require.NoError(t, m.SaveRoot(ctx, org("acme"), ""))
		require.NoError(t, m.SaveRoot(ctx, org("eng"), "acme"))
		require.NoError(t, m.SaveRoot(ctx, org("infra"), "eng"))
		require.NoError(t, m.SaveRoot(ctx, org("ops"), "acme"))
		require.NoError(t, m.AddUserToRoles(ctx, org("eng"), "jo", RoleViewer))
		require.NoError(t, m.AddUserToRoles(ctx, org("ops"), "kim", RoleViewer))

		require.NoError(t, m.Dispatch(ctx, RootSaved{Root: org("infra"), Parent: "ops"}))

		assert.False(t, hasCodes(t, gs, "jo", org("infra"), "view"), "eng lost infra")
		assert.True(t, hasCodes(t, gs, "jo", org("eng"), "view"))
		assert.True(t, hasCodes(t, gs, "kim", org("infra"), "view"), "ops gained infra")
		requireCodes(t, m, org("eng"), RoleViewer, org("infra"))

		// acme is an ancestor of both positions and keeps its grants.
		requireCodes(t, m, org("acme"), RoleViewer, org("infra"), "view")

		// Moving to the top level detaches infra from ops.
		require.NoError(t, m.SaveRoot(ctx, org("infra"), ""))
		assert.False(t, hasCodes(t, gs, "kim", org("infra"), "view"))
		requireCodes(t, m, org("acme"), RoleViewer, org("infra"))
	})
}

func TestHierarchy_RejectsCycles(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db storage.Store, gs groups.Store) {
		ctx := t.Context()
		m := newManager(t, db, gs)

		require.NoError(t, m.SaveRoot(ctx, org("a"), ""))
		require.NoError(t, m.SaveRoot(ctx, org("b"), "a"))

		err := m.SaveRoot(ctx, org("a"), "b")
		assert.True(t, errors.Is(err, ErrInvalidRoot))

		err = m.SaveRoot(ctx, org("a"), "a")
		assert.True(t, errors.Is(err, ErrInvalidRoot))

		err = m.SaveRoot(ctx, org("c"), "missing")
		assert.True(t, errors.Is(err, ErrNotFound))
		exists, err := m.Exists(ctx, org("c"))
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestHierarchy_DeleteCascades(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db storage.Store, gs groups.Store) {
		ctx := t.Context()
		m := newManager(t, db, gs)

		require.NoError(t, m.SaveRoot(ctx, org("acme"), ""))
		require.NoError(t, m.SaveRoot(ctx, org("eng"), "acme"))
		require.NoError(t, m.SaveRoot(ctx, org("infra"), "eng"))
		require.NoError(t, m.AddUserToRoles(ctx, org("infra"), "lee", RoleOwner))
		require.NoError(t, m.AddUserToRoles(ctx, org("acme"), "max", RoleViewer))

		require.NoError(t, m.DeleteRoot(ctx, org("eng")))

		for _, o := range []string{"eng", "infra"} {
			exists, err := m.Exists(ctx, org(o))
			require.NoError(t, err)
			assert.False(t, exists, o)
		}
		roots, err := m.RootsOf(ctx, "lee")
		require.NoError(t, err)
		assert.Empty(t, roots)

		assert.False(t, hasCodes(t, gs, "max", org("infra"), "view"))
		rec, err := m.RoleGroup(ctx, org("acme"), RoleViewer)
		require.NoError(t, err)
		assert.Equal(t, []string{"org:acme"}, rec.Targets)
	})
}
