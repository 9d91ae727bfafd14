// Package storegroups persists groups, memberships and grants through a
// storage.Store. When the underlying store is a storage.Transactor, every
// operation joins the transaction carried by the context, so group changes
// commit or roll back together with the records that caused them.
package storegroups

import (
	"context"
	"slices"

	"github.com/dpup/permissible/errors"
	"github.com/dpup/permissible/groups"
	"github.com/dpup/permissible/perm"
	"github.com/dpup/permissible/storage"
	"github.com/google/uuid"
)

// Group is the persisted group record.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (g Group) PK() string { return g.ID }

// GroupName reserves a name so that names stay unique.
type GroupName struct {
	Name    string `json:"name"`
	GroupID string `json:"group_id"`
}

func (g GroupName) PK() string { return g.Name }

// Membership places a user in a group.
type Membership struct {
	ID      string `json:"id"`
	GroupID string `json:"group_id"`
	UserID  string `json:"user_id"`
}

func (m Membership) PK() string { return key(m.GroupID, m.UserID) }

// GroupGrant gives a group a code on a scope.
type GroupGrant struct {
	ID      string `json:"id"`
	GroupID string `json:"group_id"`
	Scope   string `json:"scope"`
	Code    string `json:"code"`
}

func (g GroupGrant) PK() string { return key(g.GroupID, g.Scope, g.Code) }

// UserGrant gives a single user a code on a scope.
type UserGrant struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Scope  string `json:"scope"`
	Code   string `json:"code"`
}

func (g UserGrant) PK() string { return key(g.UserID, g.Scope, g.Code) }

// Models lists every model the store persists.
func Models() []storage.Model {
	return []storage.Model{&Group{}, &GroupName{}, &Membership{}, &GroupGrant{}, &UserGrant{}}
}

func key(parts ...string) string {
	return storage.CompositeKey(parts...)
}

// Store implements groups.Store and groups.Notifier.
type Store struct {
	groups.Hooks
	db storage.Store
}

// New returns a group store backed by db, initializing its models when db
// supports it.
func New(ctx context.Context, db storage.Store) (*Store, error) {
	if err := storage.InitModels(ctx, db, Models()...); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// UserHasCodes implements perm.Checker.
func (s *Store) UserHasCodes(ctx context.Context, user perm.User, target perm.Ref, codes []string) (bool, error) {
	if perm.IsAnonymous(user) {
		return false, nil
	}
	uid := user.UserID()
	scope := target.String()

	var memberOf []groups.GroupID
	loaded := false
	for _, code := range codes {
		ok, err := s.db.Exists(ctx, key(uid, scope, code), &UserGrant{})
		if err != nil {
			return false, err
		}
		if ok {
			continue
		}
		if !loaded {
			if memberOf, err = s.GroupsOf(ctx, uid); err != nil {
				return false, err
			}
			loaded = true
		}
		found := false
		for _, g := range memberOf {
			if found, err = s.db.Exists(ctx, key(string(g), scope, code), &GroupGrant{}); err != nil {
				return false, err
			} else if found {
				break
			}
		}
		if !found {
			return false, nil
		}
	}
	return true, nil
}

func (s *Store) CodesGrantedToGroup(ctx context.Context, g groups.GroupID, scope perm.Ref) ([]string, error) {
	if err := s.mustExist(ctx, g); err != nil {
		return nil, err
	}
	var grants []*GroupGrant
	if err := s.db.List(ctx, &grants, &GroupGrant{GroupID: string(g), Scope: scope.String()}); err != nil {
		return nil, err
	}
	codes := make([]string, len(grants))
	for i, gr := range grants {
		codes[i] = gr.Code
	}
	slices.Sort(codes)
	return codes, nil
}

func (s *Store) Grant(ctx context.Context, g groups.GroupID, scope perm.Ref, code string) error {
	if err := groups.ValidateGrant(scope, code); err != nil {
		return err
	}
	if err := s.mustExist(ctx, g); err != nil {
		return err
	}
	gr := &GroupGrant{GroupID: string(g), Scope: scope.String(), Code: code}
	gr.ID = gr.PK()
	return s.db.Upsert(ctx, gr)
}

func (s *Store) Revoke(ctx context.Context, g groups.GroupID, scope perm.Ref, code string) error {
	if err := groups.ValidateGrant(scope, code); err != nil {
		return err
	}
	if err := s.mustExist(ctx, g); err != nil {
		return err
	}
	gr := &GroupGrant{GroupID: string(g), Scope: scope.String(), Code: code}
	gr.ID = gr.PK()
	return storage.IgnoreNotFound(s.db.Delete(ctx, gr))
}

func (s *Store) GrantUser(ctx context.Context, userID string, scope perm.Ref, code string) error {
	if err := groups.ValidateUser(userID); err != nil {
		return err
	}
	if err := groups.ValidateGrant(scope, code); err != nil {
		return err
	}
	gr := &UserGrant{UserID: userID, Scope: scope.String(), Code: code}
	gr.ID = gr.PK()
	return s.db.Upsert(ctx, gr)
}

func (s *Store) RevokeUser(ctx context.Context, userID string, scope perm.Ref, code string) error {
	if err := groups.ValidateGrant(scope, code); err != nil {
		return err
	}
	gr := &UserGrant{UserID: userID, Scope: scope.String(), Code: code}
	gr.ID = gr.PK()
	return storage.IgnoreNotFound(s.db.Delete(ctx, gr))
}

func (s *Store) CreateGroup(ctx context.Context, name string) (groups.GroupID, error) {
	if name == "" {
		return "", errors.Mark(groups.ErrInvalidArgument, 0).Append("empty group name")
	}
	id := uuid.NewString()
	err := storage.RunInTx(ctx, s.db, func(ctx context.Context) error {
		if err := s.db.Create(ctx, &GroupName{Name: name, GroupID: id}); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				return errors.Mark(groups.ErrGroupExists, 0).Append(name)
			}
			return err
		}
		return s.db.Create(ctx, &Group{ID: id, Name: name})
	})
	if err != nil {
		return "", err
	}
	return groups.GroupID(id), nil
}

func (s *Store) FindGroup(ctx context.Context, name string) (groups.Group, error) {
	var n GroupName
	if err := s.db.Read(ctx, name, &n); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return groups.Group{}, errors.Mark(groups.ErrGroupNotFound, 0).Append(name)
		}
		return groups.Group{}, err
	}
	return groups.Group{ID: groups.GroupID(n.GroupID), Name: n.Name}, nil
}

// DeleteGroup removes the group along with its grants and memberships.
// Members are not notified individually.
func (s *Store) DeleteGroup(ctx context.Context, g groups.GroupID) error {
	return storage.RunInTx(ctx, s.db, func(ctx context.Context) error {
		var rec Group
		if err := s.db.Read(ctx, string(g), &rec); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return errors.Mark(groups.ErrGroupNotFound, 0).Append(string(g))
			}
			return err
		}

		var grants []*GroupGrant
		if err := s.db.List(ctx, &grants, &GroupGrant{GroupID: string(g)}); err != nil {
			return err
		}
		for _, gr := range grants {
			if err := s.db.Delete(ctx, gr); err != nil {
				return err
			}
		}

		var members []*Membership
		if err := s.db.List(ctx, &members, &Membership{GroupID: string(g)}); err != nil {
			return err
		}
		for _, m := range members {
			if err := s.db.Delete(ctx, m); err != nil {
				return err
			}
		}

		if err := s.db.Delete(ctx, &GroupName{Name: rec.Name}); err != nil {
			return err
		}
		return s.db.Delete(ctx, &rec)
	})
}

func (s *Store) AddUserToGroup(ctx context.Context, userID string, g groups.GroupID) error {
	if err := groups.ValidateUser(userID); err != nil {
		return err
	}
	if err := s.mustExist(ctx, g); err != nil {
		return err
	}
	m := &Membership{GroupID: string(g), UserID: userID}
	m.ID = m.PK()
	if err := s.db.Upsert(ctx, m); err != nil {
		return err
	}
	return s.Notify(ctx, groups.MembershipChange{UserID: userID, Group: g, Added: true})
}

func (s *Store) RemoveUserFromGroup(ctx context.Context, userID string, g groups.GroupID) error {
	if err := s.mustExist(ctx, g); err != nil {
		return err
	}
	m := &Membership{GroupID: string(g), UserID: userID}
	m.ID = m.PK()
	if err := storage.IgnoreNotFound(s.db.Delete(ctx, m)); err != nil {
		return err
	}
	return s.Notify(ctx, groups.MembershipChange{UserID: userID, Group: g, Added: false})
}

func (s *Store) MembersOf(ctx context.Context, g groups.GroupID) ([]string, error) {
	if err := s.mustExist(ctx, g); err != nil {
		return nil, err
	}
	var members []*Membership
	if err := s.db.List(ctx, &members, &Membership{GroupID: string(g)}); err != nil {
		return nil, err
	}
	users := make([]string, len(members))
	for i, m := range members {
		users[i] = m.UserID
	}
	slices.Sort(users)
	return users, nil
}

func (s *Store) GroupsOf(ctx context.Context, userID string) ([]groups.GroupID, error) {
	if userID == "" {
		return []groups.GroupID{}, nil
	}
	var members []*Membership
	if err := s.db.List(ctx, &members, &Membership{UserID: userID}); err != nil {
		return nil, err
	}
	ids := make([]groups.GroupID, len(members))
	for i, m := range members {
		ids[i] = groups.GroupID(m.GroupID)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *Store) mustExist(ctx context.Context, g groups.GroupID) error {
	ok, err := s.db.Exists(ctx, string(g), &Group{})
	if err != nil {
		return err
	}
	if !ok {
		return errors.Mark(groups.ErrGroupNotFound, 1).Append(string(g))
	}
	return nil
}
