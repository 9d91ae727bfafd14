package roots

import (
	"context"
	"slices"
	"strings"

	"github.com/dpup/permissible/errors"
	"github.com/dpup/permissible/groups"
	"github.com/dpup/permissible/logging"
	"github.com/dpup/permissible/perm"
	"github.com/dpup/permissible/storage"
)

// onMembershipChange propagates a group store membership change to the
// RootUser rows of every root the group backs.
func (m *Manager) onMembershipChange(ctx context.Context, c groups.MembershipChange) error {
	return m.run(ctx, "membership change", func(ctx context.Context) error {
		var recs []*RootGroup
		if err := m.db.List(ctx, &recs, &RootGroup{GroupID: string(c.Group)}); err != nil {
			return err
		}
		for _, rec := range recs {
			var err error
			if c.Added {
				err = m.userAdded(ctx, rec.Root(), c.UserID)
			} else {
				err = m.recompute(ctx, rec.Root(), c.UserID)
			}
			if err != nil {
				return &SyncError{Op: "membership", Root: rec.Root(), Role: rec.Role, Err: err}
			}
		}
		return nil
	})
}

// userAdded ensures a RootUser row exists. Duplicate notifications are
// no-ops.
func (m *Manager) userAdded(ctx context.Context, root perm.Ref, userID string) error {
	err := m.db.Create(ctx, newRootUser(root, userID))
	if errors.Is(err, storage.ErrAlreadyExists) {
		return nil
	}
	if err != nil {
		return err
	}
	logging.Debugw(ctx, "roots: created root user", "root", root.String(), "user", userID)
	publish(ctx, TopicRootUserCreated, RootUserChanged{Root: root, UserID: userID})
	return nil
}

// recompute reads the current membership of every role group of root and
// creates or deletes the user's RootUser row to match.
func (m *Manager) recompute(ctx context.Context, root perm.Ref, userID string) error {
	recs, err := m.RoleGroups(ctx, root)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		ok, err := groups.IsMember(ctx, m.groups, userID, groups.GroupID(rec.GroupID))
		if errors.Is(err, groups.ErrGroupNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if ok {
			return m.userAdded(ctx, root, userID)
		}
	}
	return m.deleteRootUser(ctx, root, userID)
}

func (m *Manager) deleteRootUser(ctx context.Context, root perm.Ref, userID string) error {
	err := m.db.Delete(ctx, newRootUser(root, userID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	logging.Debugw(ctx, "roots: deleted root user", "root", root.String(), "user", userID)
	publish(ctx, TopicRootUserDeleted, RootUserChanged{Root: root, UserID: userID})
	return nil
}

// addMember adds a user to a group. Stores that don't report membership
// changes are propagated directly.
func (m *Manager) addMember(ctx context.Context, root perm.Ref, userID string, g groups.GroupID) error {
	if err := m.groups.AddUserToGroup(ctx, userID, g); err != nil {
		return err
	}
	if !m.notified {
		return m.userAdded(ctx, root, userID)
	}
	return nil
}

func (m *Manager) removeMember(ctx context.Context, root perm.Ref, userID string, g groups.GroupID) error {
	if err := m.groups.RemoveUserFromGroup(ctx, userID, g); err != nil {
		return err
	}
	if !m.notified {
		return m.recompute(ctx, root, userID)
	}
	return nil
}

// AddUserToRoles adds a user to root's role groups for roles, or to every
// role group when no roles are given.
func (m *Manager) AddUserToRoles(ctx context.Context, root perm.Ref, userID string, roles ...string) error {
	if err := groups.ValidateUser(userID); err != nil {
		return err
	}
	return m.run(ctx, "add user to roles", func(ctx context.Context) error {
		recs, err := m.roleGroupsFor(ctx, root, roles)
		if err != nil {
			return err
		}
		var applied []Step
		for _, rec := range recs {
			if err := m.addMember(ctx, root, userID, groups.GroupID(rec.GroupID)); err != nil {
				return &SyncError{Op: "add user", Root: root, Role: rec.Role, Applied: applied, Err: err}
			}
			applied = append(applied, Step{Op: OpAddUser, User: userID})
		}
		return nil
	})
}

// RemoveUserFromRoles removes a user from root's role groups for roles, or
// from every role group when no roles are given.
func (m *Manager) RemoveUserFromRoles(ctx context.Context, root perm.Ref, userID string, roles ...string) error {
	return m.run(ctx, "remove user from roles", func(ctx context.Context) error {
		recs, err := m.roleGroupsFor(ctx, root, roles)
		if err != nil {
			return err
		}
		var applied []Step
		for _, rec := range recs {
			if err := m.removeMember(ctx, root, userID, groups.GroupID(rec.GroupID)); err != nil {
				return &SyncError{Op: "remove user", Root: root, Role: rec.Role, Applied: applied, Err: err}
			}
			applied = append(applied, Step{Op: OpRemoveUser, User: userID})
		}
		return nil
	})
}

// GroupIDsForRoles returns the backing groups of root's role groups for
// roles, or for every role group when no roles are given.
func (m *Manager) GroupIDsForRoles(ctx context.Context, root perm.Ref, roles ...string) ([]groups.GroupID, error) {
	recs, err := m.roleGroupsFor(ctx, root, roles)
	if err != nil {
		return nil, err
	}
	ids := make([]groups.GroupID, len(recs))
	for i, rec := range recs {
		ids[i] = groups.GroupID(rec.GroupID)
	}
	return ids, nil
}

// RolesOf returns the roles a user holds on root, in table order.
func (m *Manager) RolesOf(ctx context.Context, root perm.Ref, userID string) ([]string, error) {
	if _, err := m.kind(root); err != nil {
		return nil, err
	}
	if err := groups.ValidateUser(userID); err != nil {
		return nil, err
	}
	recs, err := m.RoleGroups(ctx, root)
	if err != nil {
		return nil, err
	}
	roles := []string{}
	for _, rec := range recs {
		ok, err := groups.IsMember(ctx, m.groups, userID, groups.GroupID(rec.GroupID))
		if errors.Is(err, groups.ErrGroupNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if ok {
			roles = append(roles, rec.Role)
		}
	}
	return roles, nil
}

func (m *Manager) roleGroupsFor(ctx context.Context, root perm.Ref, roles []string) ([]*RootGroup, error) {
	k, err := m.kind(root)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return m.RoleGroups(ctx, root)
	}
	recs := make([]*RootGroup, 0, len(roles))
	for _, role := range roles {
		if !k.Roles.Has(role) {
			return nil, errors.Mark(ErrInvalidRoot, 0).Append("role " + role + " is not defined for " + root.Type)
		}
		rec, err := m.RoleGroup(ctx, root, role)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// ClearUser removes a user from every role group of every root and deletes
// their RootUser rows.
func (m *Manager) ClearUser(ctx context.Context, userID string) error {
	if err := groups.ValidateUser(userID); err != nil {
		return err
	}
	return m.run(ctx, "clear user", func(ctx context.Context) error {
		affected := map[perm.Ref]bool{}

		memberOf, err := m.groups.GroupsOf(ctx, userID)
		if err != nil {
			return err
		}
		for _, g := range memberOf {
			var recs []*RootGroup
			if err := m.db.List(ctx, &recs, &RootGroup{GroupID: string(g)}); err != nil {
				return err
			}
			if len(recs) == 0 {
				continue
			}
			if err := m.groups.RemoveUserFromGroup(ctx, userID, g); err != nil {
				return err
			}
			for _, rec := range recs {
				affected[rec.Root()] = true
			}
		}

		rows, err := m.RootsOf(ctx, userID)
		if err != nil {
			return err
		}
		for _, r := range rows {
			affected[r] = true
		}

		refs := make([]perm.Ref, 0, len(affected))
		for r := range affected {
			refs = append(refs, r)
		}
		slices.SortFunc(refs, compareRefs)
		for _, r := range refs {
			if err := m.recompute(ctx, r, userID); err != nil {
				return err
			}
		}
		return nil
	})
}

// Members returns the users with a RootUser row for root, sorted.
func (m *Manager) Members(ctx context.Context, root perm.Ref) ([]string, error) {
	if _, err := m.kind(root); err != nil {
		return nil, err
	}
	var rows []*RootUser
	if err := m.db.List(ctx, &rows, &RootUser{RootType: root.Type, RootID: root.ID}); err != nil {
		return nil, err
	}
	users := make([]string, len(rows))
	for i, r := range rows {
		users[i] = r.UserID
	}
	slices.Sort(users)
	return users, nil
}

// RootsOf returns the roots a user has a RootUser row for, sorted.
func (m *Manager) RootsOf(ctx context.Context, userID string) ([]perm.Ref, error) {
	if err := groups.ValidateUser(userID); err != nil {
		return nil, err
	}
	var rows []*RootUser
	if err := m.db.List(ctx, &rows, &RootUser{UserID: userID}); err != nil {
		return nil, err
	}
	refs := make([]perm.Ref, len(rows))
	for i, r := range rows {
		refs[i] = r.Root()
	}
	slices.SortFunc(refs, compareRefs)
	return refs, nil
}

// IsMember reports whether a user has a RootUser row for root.
func (m *Manager) IsMember(ctx context.Context, root perm.Ref, userID string) (bool, error) {
	if _, err := m.kind(root); err != nil {
		return false, err
	}
	if err := groups.ValidateUser(userID); err != nil {
		return false, err
	}
	return m.db.Exists(ctx, newRootUser(root, userID).ID, &RootUser{})
}

func compareRefs(a, b perm.Ref) int {
	if a.Type != b.Type {
		return strings.Compare(a.Type, b.Type)
	}
	return strings.Compare(a.ID, b.ID)
}
