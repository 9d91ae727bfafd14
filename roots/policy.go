package roots

import (
	"context"

	"github.com/dpup/permissible/errors"
	"github.com/dpup/permissible/groups"
	"github.com/dpup/permissible/perm"
)

// RootUserPolicy controls access to RootUser rows. Users may read and edit
// their own rows, and anyone holding "change_permission" on the root may
// read, edit and delete any row of that root. Rows are derived from group
// membership, so they are never created directly.
func RootUserPolicy() perm.Policy {
	self := perm.IsSelf("user")
	admin := perm.P(perm.CodeChangePermission).On("root")
	selfOrAdmin := perm.AnyOf(self, admin)
	return perm.Policy{
		Global: perm.PolicyNoRestrictionIfAuthenticated().With(perm.ActionCreate),
		Object: perm.PermissionMap{
			perm.ActionCreate:        perm.DenyAll(),
			perm.ActionList:          {perm.IsAuthenticated},
			perm.ActionRetrieve:      {selfOrAdmin},
			perm.ActionUpdate:        {selfOrAdmin},
			perm.ActionPartialUpdate: {selfOrAdmin},
			perm.ActionDestroy:       {admin},
		},
	}
}

// AssignCreator grants codes on obj directly to the user who created it.
// Without codes, a root is granted every code of its kind's role table.
func (m *Manager) AssignCreator(ctx context.Context, userID string, obj perm.Object, codes ...string) error {
	if err := groups.ValidateUser(userID); err != nil {
		return err
	}
	ref := perm.RefOf(obj)
	if ref.ID == "" {
		return errors.Mark(ErrInvalidRoot, 0).Append("creator assignment requires an object with an id")
	}
	if len(codes) == 0 {
		k, ok := m.kinds[ref.Type]
		if !ok {
			return errors.Mark(ErrUnknownKind, 0).Append(ref.Type + ": codes are required for non-root objects")
		}
		codes = k.Roles.AllCodes()
	}
	return m.run(ctx, "assign creator", func(ctx context.Context) error {
		for _, c := range codes {
			if err := m.groups.GrantUser(ctx, userID, ref, c); err != nil {
				return err
			}
		}
		return nil
	})
}
