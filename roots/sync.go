package roots

import (
	"context"
	"slices"

	"github.com/dpup/permissible/errors"
	"github.com/dpup/permissible/groups"
	"github.com/dpup/permissible/logging"
	"github.com/dpup/permissible/perm"
	"github.com/dpup/permissible/storage"
)

// SyncGroup brings the backing group of root's role in line with the role
// table, creating the group if it is missing. It returns the mutations made,
// which are empty when the group was already in sync.
func (m *Manager) SyncGroup(ctx context.Context, root perm.Ref, role string) ([]Step, error) {
	k, err := m.kind(root)
	if err != nil {
		return nil, err
	}
	if !k.Roles.Has(role) {
		return nil, errors.Mark(ErrInvalidRoot, 0).Append("role " + role + " is not defined for " + root.Type)
	}
	var applied []Step
	err = m.run(ctx, "sync group", func(ctx context.Context) error {
		rec, err := m.RoleGroup(ctx, root, role)
		if err != nil {
			return err
		}
		applied, err = m.syncGroup(ctx, k, rec, false)
		return err
	})
	return applied, err
}

// syncGroup applies the diff between the role's codes and the grants of the
// backing group on each target, then writes rec. When create is true rec is
// new and is inserted.
func (m *Manager) syncGroup(ctx context.Context, k Kind, rec *RootGroup, create bool) ([]Step, error) {
	root := rec.Root()
	ctx = logging.With(ctx, logging.FromContext(ctx).With("root", root.String()).With("role", rec.Role))

	var applied []Step
	fail := func(err error) error {
		return &SyncError{Op: "sync", Root: root, Role: rec.Role, Applied: applied, Err: errors.MaybeWrap(err, 1)}
	}

	changed, err := m.ensureGroup(ctx, rec)
	if err != nil {
		return nil, fail(err)
	}
	g := groups.GroupID(rec.GroupID)

	targets, err := m.targets(ctx, k, root)
	if err != nil {
		return nil, fail(err)
	}
	desired := k.Roles.Codes(rec.Role)

	scopes := make([]string, len(targets))
	for i, t := range targets {
		scopes[i] = t.String()
		current, err := m.groups.CodesGrantedToGroup(ctx, g, t)
		if err != nil {
			return nil, fail(err)
		}
		for _, step := range diff(t, desired, current) {
			if err := m.apply(ctx, g, step); err != nil {
				return nil, fail(err)
			}
			applied = append(applied, step)
		}
	}

	// Revoke everything on scopes that are no longer targets, such as a
	// descendant which moved elsewhere in the hierarchy.
	for _, s := range rec.Targets {
		if slices.Contains(scopes, s) {
			continue
		}
		scope := parseScope(s)
		current, err := m.groups.CodesGrantedToGroup(ctx, g, scope)
		if err != nil {
			return nil, fail(err)
		}
		for _, step := range diff(scope, nil, current) {
			if err := m.apply(ctx, g, step); err != nil {
				return nil, fail(err)
			}
			applied = append(applied, step)
		}
	}

	if !slices.Equal(rec.Targets, scopes) {
		rec.Targets = scopes
		changed = true
	}
	switch {
	case create:
		err = m.db.Create(ctx, rec)
	case changed:
		err = m.db.Update(ctx, rec)
	}
	if err != nil {
		return nil, fail(err)
	}

	if len(applied) > 0 {
		logging.Debugw(ctx, "roots: synced role group", "group", rec.GroupID, "steps", len(applied))
		publish(ctx, TopicGroupSynced, GroupSynced{Root: root, Role: rec.Role, GroupID: g, Applied: applied})
	}
	return applied, nil
}

// ensureGroup makes sure rec points at an existing backing group. A group
// left behind by an earlier failed attempt is adopted. Returns true if
// rec.GroupID changed.
func (m *Manager) ensureGroup(ctx context.Context, rec *RootGroup) (bool, error) {
	name := GroupName(rec.Root(), rec.Role)
	g, err := m.groups.FindGroup(ctx, name)
	switch {
	case err == nil:
		if string(g.ID) == rec.GroupID {
			return false, nil
		}
		logging.Debugw(ctx, "roots: adopting backing group", "group", g.ID, "name", name)
		rec.GroupID = string(g.ID)
		return true, nil
	case errors.Is(err, groups.ErrGroupNotFound):
		id, err := m.groups.CreateGroup(ctx, name)
		if err != nil {
			return false, err
		}
		logging.Debugw(ctx, "roots: created backing group", "group", id, "name", name)
		rec.GroupID = string(id)
		return true, nil
	default:
		return false, err
	}
}

func (m *Manager) apply(ctx context.Context, g groups.GroupID, s Step) error {
	logging.Debugw(ctx, "roots: "+string(s.Op), "group", g, "scope", s.Scope.String(), "code", s.Code)
	if s.Op == OpRevoke {
		return m.groups.Revoke(ctx, g, s.Scope, s.Code)
	}
	return m.groups.Grant(ctx, g, s.Scope, s.Code)
}

// diff returns the grants and revokes which turn current into desired. Both
// must be sorted.
func diff(scope perm.Ref, desired, current []string) []Step {
	var steps []Step
	for _, c := range desired {
		if _, ok := slices.BinarySearch(current, c); !ok {
			steps = append(steps, Step{Op: OpGrant, Scope: scope, Code: c})
		}
	}
	for _, c := range current {
		if _, ok := slices.BinarySearch(desired, c); !ok {
			steps = append(steps, Step{Op: OpRevoke, Scope: scope, Code: c})
		}
	}
	return steps
}

// ChangeRole moves root's role group from one role to another. The members
// of the old group are carried over to a group named for the new role, and
// the old group is deleted.
func (m *Manager) ChangeRole(ctx context.Context, root perm.Ref, from, to string) error {
	k, err := m.kind(root)
	if err != nil {
		return err
	}
	if !k.Roles.Has(to) {
		return errors.Mark(ErrInvalidRoot, 0).Append("role " + to + " is not defined for " + root.Type)
	}
	if from == to {
		return nil
	}
	return m.run(ctx, "change role", func(ctx context.Context) error {
		old, err := m.RoleGroup(ctx, root, from)
		if err != nil {
			return err
		}
		next := newRootGroup(root, to)
		if ok, err := m.db.Exists(ctx, next.ID, next); err != nil {
			return err
		} else if ok {
			return errors.Mark(ErrRoleExists, 0).Append(GroupName(root, to))
		}
		if _, err := m.syncGroup(ctx, k, next, true); err != nil {
			return err
		}

		members, err := m.groups.MembersOf(ctx, groups.GroupID(old.GroupID))
		if err != nil && !errors.Is(err, groups.ErrGroupNotFound) {
			return err
		}
		var applied []Step
		for _, u := range members {
			if err := m.addMember(ctx, root, u, groups.GroupID(next.GroupID)); err != nil {
				return &SyncError{Op: "change role", Root: root, Role: to, Applied: applied, Err: err}
			}
			applied = append(applied, Step{Op: OpAddUser, User: u})
		}
		return m.deleteRootGroup(ctx, old)
	})
}

// DeleteRootGroup deletes root's role group and its backing group, then
// recomputes RootUser rows for its former members.
func (m *Manager) DeleteRootGroup(ctx context.Context, root perm.Ref, role string) error {
	if _, err := m.kind(root); err != nil {
		return err
	}
	return m.run(ctx, "delete role group", func(ctx context.Context) error {
		rec, err := m.RoleGroup(ctx, root, role)
		if err != nil {
			return err
		}
		return m.deleteRootGroup(ctx, rec)
	})
}

func (m *Manager) deleteRootGroup(ctx context.Context, rec *RootGroup) error {
	root := rec.Root()
	g := groups.GroupID(rec.GroupID)

	members, err := m.groups.MembersOf(ctx, g)
	switch {
	case errors.Is(err, groups.ErrGroupNotFound):
		members = nil
	case err != nil:
		return err
	default:
		if err := m.groups.DeleteGroup(ctx, g); err != nil {
			return err
		}
	}
	if err := storage.IgnoreNotFound(m.db.Delete(ctx, rec)); err != nil {
		return err
	}
	logging.Debugw(ctx, "roots: deleted role group", "root", root.String(), "role", rec.Role, "group", g)

	for _, u := range members {
		if err := m.recompute(ctx, root, u); err != nil {
			return err
		}
	}
	return nil
}
