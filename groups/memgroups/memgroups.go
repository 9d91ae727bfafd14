// Package memgroups is an in-memory groups.Store for tests and single process
// deployments. It is not transactional: changes are visible immediately and
// survive a rolled back storage transaction.
package memgroups

import (
	"context"
	"slices"
	"sync"

	"github.com/dpup/permissible/errors"
	"github.com/dpup/permissible/groups"
	"github.com/dpup/permissible/perm"
	"github.com/google/uuid"
)

type grantKey struct {
	scope perm.Ref
	code  string
}

type group struct {
	name    string
	members map[string]bool
	grants  map[grantKey]bool
}

// Store implements groups.Store and groups.Notifier.
type Store struct {
	groups.Hooks

	mu         sync.RWMutex
	groups     map[groups.GroupID]*group
	byName     map[string]groups.GroupID
	userGrants map[string]map[grantKey]bool
}

// New returns an empty store.
func New() *Store {
	return &Store{
		groups:     map[groups.GroupID]*group{},
		byName:     map[string]groups.GroupID{},
		userGrants: map[string]map[grantKey]bool{},
	}
}

// UserHasCodes implements perm.Checker.
func (s *Store) UserHasCodes(_ context.Context, user perm.User, target perm.Ref, codes []string) (bool, error) {
	if perm.IsAnonymous(user) {
		return false, nil
	}
	uid := user.UserID()

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, code := range codes {
		k := grantKey{scope: target, code: code}
		if s.userGrants[uid][k] {
			continue
		}
		found := false
		for _, g := range s.groups {
			if g.members[uid] && g.grants[k] {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}
	return true, nil
}

func (s *Store) CodesGrantedToGroup(_ context.Context, id groups.GroupID, scope perm.Ref) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, err := s.group(id)
	if err != nil {
		return nil, err
	}
	codes := []string{}
	for k := range g.grants {
		if k.scope == scope {
			codes = append(codes, k.code)
		}
	}
	slices.Sort(codes)
	return codes, nil
}

func (s *Store) Grant(_ context.Context, id groups.GroupID, scope perm.Ref, code string) error {
	if err := groups.ValidateGrant(scope, code); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.group(id)
	if err != nil {
		return err
	}
	g.grants[grantKey{scope: scope, code: code}] = true
	return nil
}

func (s *Store) Revoke(_ context.Context, id groups.GroupID, scope perm.Ref, code string) error {
	if err := groups.ValidateGrant(scope, code); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.group(id)
	if err != nil {
		return err
	}
	delete(g.grants, grantKey{scope: scope, code: code})
	return nil
}

func (s *Store) GrantUser(_ context.Context, userID string, scope perm.Ref, code string) error {
	if err := groups.ValidateUser(userID); err != nil {
		return err
	}
	if err := groups.ValidateGrant(scope, code); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userGrants[userID] == nil {
		s.userGrants[userID] = map[grantKey]bool{}
	}
	s.userGrants[userID][grantKey{scope: scope, code: code}] = true
	return nil
}

func (s *Store) RevokeUser(_ context.Context, userID string, scope perm.Ref, code string) error {
	if err := groups.ValidateGrant(scope, code); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.userGrants[userID], grantKey{scope: scope, code: code})
	return nil
}

func (s *Store) CreateGroup(_ context.Context, name string) (groups.GroupID, error) {
	if name == "" {
		return "", errors.Mark(groups.ErrInvalidArgument, 0).Append("empty group name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[name]; ok {
		return "", errors.Mark(groups.ErrGroupExists, 0).Append(name)
	}
	id := groups.GroupID(uuid.NewString())
	s.groups[id] = &group{name: name, members: map[string]bool{}, grants: map[grantKey]bool{}}
	s.byName[name] = id
	return id, nil
}

func (s *Store) FindGroup(_ context.Context, name string) (groups.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[name]
	if !ok {
		return groups.Group{}, errors.Mark(groups.ErrGroupNotFound, 0).Append(name)
	}
	return groups.Group{ID: id, Name: name}, nil
}

// DeleteGroup removes the group. Members are not notified individually,
// callers that track derived membership must recompute it.
func (s *Store) DeleteGroup(_ context.Context, id groups.GroupID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.group(id)
	if err != nil {
		return err
	}
	delete(s.byName, g.name)
	delete(s.groups, id)
	return nil
}

func (s *Store) AddUserToGroup(ctx context.Context, userID string, id groups.GroupID) error {
	if err := groups.ValidateUser(userID); err != nil {
		return err
	}
	s.mu.Lock()
	g, err := s.group(id)
	if err == nil {
		g.members[userID] = true
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Notify(ctx, groups.MembershipChange{UserID: userID, Group: id, Added: true})
}

func (s *Store) RemoveUserFromGroup(ctx context.Context, userID string, id groups.GroupID) error {
	s.mu.Lock()
	g, err := s.group(id)
	if err == nil {
		delete(g.members, userID)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Notify(ctx, groups.MembershipChange{UserID: userID, Group: id, Added: false})
}

func (s *Store) MembersOf(_ context.Context, id groups.GroupID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, err := s.group(id)
	if err != nil {
		return nil, err
	}
	members := make([]string, 0, len(g.members))
	for u := range g.members {
		members = append(members, u)
	}
	slices.Sort(members)
	return members, nil
}

func (s *Store) GroupsOf(_ context.Context, userID string) ([]groups.GroupID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := []groups.GroupID{}
	for id, g := range s.groups {
		if g.members[userID] {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// group must be called with mu held.
func (s *Store) group(id groups.GroupID) (*group, error) {
	g, ok := s.groups[id]
	if !ok {
		return nil, errors.Mark(groups.ErrGroupNotFound, 1).Append(string(id))
	}
	return g, nil
}
