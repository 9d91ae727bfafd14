package roots

import (
	"context"
	"slices"
	"strings"

	"github.com/dpup/permissible/errors"
	"github.com/dpup/permissible/logging"
	"github.com/dpup/permissible/perm"
	"github.com/dpup/permissible/storage"
	"google.golang.org/grpc/codes"
)

// SaveRoot records root and reconciles its role groups. For hierarchical
// kinds parent is the ID of the parent root, which must already exist. When
// the parent changes, the ancestors that gained or lost root as a descendant
// are re-synced.
func (m *Manager) SaveRoot(ctx context.Context, root perm.Ref, parent string) error {
	k, err := m.kind(root)
	if err != nil {
		return err
	}
	if parent != "" && !k.Hierarchical {
		return errors.Mark(ErrInvalidRoot, 0).Append(root.Type + " roots do not have parents")
	}
	if parent == root.ID {
		return errors.Mark(ErrInvalidRoot, 0).Append("root can not be its own parent")
	}

	return m.run(ctx, "save root", func(ctx context.Context) error {
		var prev RootNode
		existed := true
		if err := m.db.Read(ctx, root.String(), &prev); err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			existed = false
		}
		moved := !existed || prev.Parent != parent

		var before, after []string
		if moved && k.Hierarchical {
			if existed {
				if before, err = m.ancestors(ctx, root.Type, prev.Parent); err != nil {
					return err
				}
			}
			if after, err = m.ancestors(ctx, root.Type, parent); err != nil {
				return err
			}
			if slices.Contains(after, root.ID) {
				return errors.Mark(ErrInvalidRoot, 0).Append("parent " + parent + " is a descendant of " + root.String())
			}
		}

		if moved {
			if err := m.db.Upsert(ctx, newNode(root, parent)); err != nil {
				return err
			}
		}
		if _, err := m.reconcile(ctx, k, root); err != nil {
			return err
		}
		for _, id := range symmetricDiff(before, after) {
			if err := m.syncRoot(ctx, k, perm.Ref{Type: root.Type, ID: id}); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReconcileRoles creates a role group for every role in the table that root
// is missing and re-syncs the existing ones. Groups whose role has left the
// table are kept, see PruneRoles. Returns the roles that were created.
func (m *Manager) ReconcileRoles(ctx context.Context, root perm.Ref) ([]string, error) {
	k, err := m.kind(root)
	if err != nil {
		return nil, err
	}
	var created []string
	err = m.run(ctx, "reconcile roles", func(ctx context.Context) error {
		if ok, err := m.Exists(ctx, root); err != nil {
			return err
		} else if !ok {
			return errors.Mark(ErrNotFound, 0).Append(root.String())
		}
		created, err = m.reconcile(ctx, k, root)
		return err
	})
	return created, err
}

func (m *Manager) reconcile(ctx context.Context, k Kind, root perm.Ref) ([]string, error) {
	existing, err := m.RoleGroups(ctx, root)
	if err != nil {
		return nil, err
	}
	byRole := make(map[string]*RootGroup, len(existing))
	for _, rec := range existing {
		byRole[rec.Role] = rec
	}

	var created []string
	for _, role := range k.Roles.Names() {
		rec, ok := byRole[role]
		if !ok {
			rec = newRootGroup(root, role)
			created = append(created, role)
		}
		if _, err := m.syncGroup(ctx, k, rec, !ok); err != nil {
			return nil, err
		}
	}
	if len(created) > 0 {
		logging.Debugw(ctx, "roots: created role groups", "root", root.String(), "roles", created)
		publish(ctx, TopicRootReconciled, RootReconciled{Root: root, Created: created})
	}
	return created, nil
}

// syncRoot re-syncs every role group of root whose role is in the table.
func (m *Manager) syncRoot(ctx context.Context, k Kind, root perm.Ref) error {
	recs, err := m.RoleGroups(ctx, root)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if !k.Roles.Has(rec.Role) {
			continue
		}
		if _, err := m.syncGroup(ctx, k, rec, false); err != nil {
			return err
		}
	}
	return nil
}

// PruneRoles deletes role groups whose role is no longer in the table,
// returning the pruned roles. Members of pruned groups lose the access those
// groups granted.
func (m *Manager) PruneRoles(ctx context.Context, root perm.Ref) ([]string, error) {
	k, err := m.kind(root)
	if err != nil {
		return nil, err
	}
	var pruned []string
	err = m.run(ctx, "prune roles", func(ctx context.Context) error {
		recs, err := m.RoleGroups(ctx, root)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if k.Roles.Has(rec.Role) {
				continue
			}
			if err := m.deleteRootGroup(ctx, rec); err != nil {
				return err
			}
			pruned = append(pruned, rec.Role)
		}
		return nil
	})
	return pruned, err
}

// DeleteRoot deletes root, its role groups, its RootUser rows and, for
// hierarchical kinds, all of its descendants.
func (m *Manager) DeleteRoot(ctx context.Context, root perm.Ref) error {
	k, err := m.kind(root)
	if err != nil {
		return err
	}
	return m.run(ctx, "delete root", func(ctx context.Context) error {
		var node RootNode
		if err := m.db.Read(ctx, root.String(), &node); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return errors.Mark(ErrNotFound, 0).Append(root.String())
			}
			return err
		}
		var chain []string
		if k.Hierarchical {
			if chain, err = m.ancestors(ctx, root.Type, node.Parent); err != nil {
				return err
			}
		}
		if err := m.deleteTree(ctx, k, &node); err != nil {
			return err
		}
		for _, id := range chain {
			if err := m.syncRoot(ctx, k, perm.Ref{Type: root.Type, ID: id}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *Manager) deleteTree(ctx context.Context, k Kind, node *RootNode) error {
	root := node.Ref()
	if k.Hierarchical {
		children, err := m.children(ctx, root)
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := m.deleteTree(ctx, k, c); err != nil {
				return err
			}
		}
	}

	recs, err := m.RoleGroups(ctx, root)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := m.deleteRootGroup(ctx, rec); err != nil {
			return err
		}
	}

	// Rows normally disappear with the groups. Anything left has drifted.
	var users []*RootUser
	if err := m.db.List(ctx, &users, &RootUser{RootType: root.Type, RootID: root.ID}); err != nil {
		return err
	}
	for _, u := range users {
		if err := m.deleteRootUser(ctx, root, u.UserID); err != nil {
			return err
		}
	}

	logging.Debugw(ctx, "roots: deleted root", "root", root.String())
	return m.db.Delete(ctx, node)
}

// targets returns the scopes a root's grants apply to: the root itself and,
// for hierarchical kinds, every descendant.
func (m *Manager) targets(ctx context.Context, k Kind, root perm.Ref) ([]perm.Ref, error) {
	if !k.Hierarchical {
		return []perm.Ref{root}, nil
	}
	var descendants []perm.Ref
	queue := []perm.Ref{root}
	seen := map[string]bool{root.ID: true}
	for len(queue) > 0 {
		children, err := m.children(ctx, queue[0])
		if err != nil {
			return nil, err
		}
		queue = queue[1:]
		for _, c := range children {
			if seen[c.RootID] {
				continue
			}
			seen[c.RootID] = true
			descendants = append(descendants, c.Ref())
			queue = append(queue, c.Ref())
		}
	}
	slices.SortFunc(descendants, func(a, b perm.Ref) int {
		return strings.Compare(a.ID, b.ID)
	})
	return append([]perm.Ref{root}, descendants...), nil
}

func (m *Manager) children(ctx context.Context, root perm.Ref) ([]*RootNode, error) {
	var nodes []*RootNode
	if err := m.db.List(ctx, &nodes, &RootNode{Type: root.Type, Parent: root.ID}); err != nil {
		return nil, err
	}
	return nodes, nil
}

// ancestors returns the IDs from parent up to the top of the hierarchy.
func (m *Manager) ancestors(ctx context.Context, typ, parent string) ([]string, error) {
	var chain []string
	for id := parent; id != ""; {
		if slices.Contains(chain, id) {
			return nil, errors.Codef(codes.FailedPrecondition, "roots: cycle in %s hierarchy at %s", typ, id)
		}
		chain = append(chain, id)
		var node RootNode
		if err := m.db.Read(ctx, perm.Ref{Type: typ, ID: id}.String(), &node); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, errors.Mark(ErrNotFound, 0).Append("parent " + typ + ":" + id)
			}
			return nil, err
		}
		id = node.Parent
	}
	return chain, nil
}

// symmetricDiff returns the IDs in exactly one of a and b, sorted.
func symmetricDiff(a, b []string) []string {
	var out []string
	for _, id := range a {
		if !slices.Contains(b, id) {
			out = append(out, id)
		}
	}
	for _, id := range b {
		if !slices.Contains(a, id) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}
