// Package groups defines the group and permission store that roles are
// realized in. A store records which codes a group, or an individual user,
// holds on a scope, and which users belong to which groups.
//
// Scopes are perm.Refs. A Ref with an ID scopes a grant to one object, a
// type-level Ref grants the code globally for that type.
//
// All mutations are idempotent: granting a code twice, or removing a user
// who is not a member, is not an error.
package groups

import (
	"context"
	"slices"

	"github.com/dpup/permissible/errors"
	"github.com/dpup/permissible/perm"
	"google.golang.org/grpc/codes"
)

var (
	// Returned when a group handle does not resolve to a group.
	ErrGroupNotFound = errors.NewC("group not found", codes.NotFound)

	// Returned when creating a group whose name is taken.
	ErrGroupExists = errors.NewC("group already exists", codes.AlreadyExists)

	// Returned for empty user IDs, codes or scopes.
	ErrInvalidArgument = errors.NewC("invalid argument", codes.InvalidArgument)
)

// GroupID is an opaque handle to a group.
type GroupID string

// Group is a named set of users.
type Group struct {
	ID   GroupID
	Name string
}

// Store is the group and permission store.
type Store interface {
	perm.Checker

	// CodesGrantedToGroup returns the codes granted to g on scope, sorted.
	CodesGrantedToGroup(ctx context.Context, g GroupID, scope perm.Ref) ([]string, error)

	// Grant gives g the code on scope.
	Grant(ctx context.Context, g GroupID, scope perm.Ref, code string) error

	// Revoke removes the code on scope from g.
	Revoke(ctx context.Context, g GroupID, scope perm.Ref, code string) error

	// GrantUser gives a single user the code on scope.
	GrantUser(ctx context.Context, userID string, scope perm.Ref, code string) error

	// RevokeUser removes a code granted directly to a user.
	RevokeUser(ctx context.Context, userID string, scope perm.Ref, code string) error

	// CreateGroup creates an empty group. Names are unique.
	CreateGroup(ctx context.Context, name string) (GroupID, error)

	// FindGroup looks a group up by name.
	FindGroup(ctx context.Context, name string) (Group, error)

	// DeleteGroup removes a group, its grants and its memberships.
	DeleteGroup(ctx context.Context, g GroupID) error

	// AddUserToGroup adds a user to g.
	AddUserToGroup(ctx context.Context, userID string, g GroupID) error

	// RemoveUserFromGroup removes a user from g.
	RemoveUserFromGroup(ctx context.Context, userID string, g GroupID) error

	// MembersOf returns the users in g, sorted.
	MembersOf(ctx context.Context, g GroupID) ([]string, error)

	// GroupsOf returns the groups a user belongs to, sorted.
	GroupsOf(ctx context.Context, userID string) ([]GroupID, error)
}

// MembershipChange describes a user joining or leaving a group.
type MembershipChange struct {
	UserID string
	Group  GroupID
	Added  bool
}

// MembershipHook is called after a membership change has been applied, with
// the context of the mutating call. Returning an error fails that call.
type MembershipHook func(ctx context.Context, change MembershipChange) error

// Notifier is implemented by stores that report membership changes.
type Notifier interface {
	OnMembershipChange(hook MembershipHook)
}

// Hooks is a list of MembershipHooks, embeddable by store implementations.
type Hooks struct {
	hooks []MembershipHook
}

// OnMembershipChange implements Notifier.
func (h *Hooks) OnMembershipChange(hook MembershipHook) {
	h.hooks = append(h.hooks, hook)
}

// Notify calls each hook in registration order, stopping at the first error.
func (h *Hooks) Notify(ctx context.Context, change MembershipChange) error {
	for _, hook := range h.hooks {
		if err := hook(ctx, change); err != nil {
			return err
		}
	}
	return nil
}

// GrantAll grants every code on scope to g.
func GrantAll(ctx context.Context, s Store, g GroupID, scope perm.Ref, codes ...string) error {
	for _, code := range codes {
		if err := s.Grant(ctx, g, scope, code); err != nil {
			return err
		}
	}
	return nil
}

// IsMember returns true if the user belongs to g.
func IsMember(ctx context.Context, s Store, userID string, g GroupID) (bool, error) {
	members, err := s.MembersOf(ctx, g)
	if err != nil {
		return false, err
	}
	_, found := slices.BinarySearch(members, userID)
	return found, nil
}

// ValidateGrant checks the arguments common to grants and revokes.
func ValidateGrant(scope perm.Ref, code string) error {
	if scope.Type == "" {
		return errors.Mark(ErrInvalidArgument, 1).Append("scope requires a type")
	}
	if code == "" {
		return errors.Mark(ErrInvalidArgument, 1).Append("empty permission code")
	}
	return nil
}

// ValidateUser checks that a user ID is usable.
func ValidateUser(userID string) error {
	if userID == "" {
		return errors.Mark(ErrInvalidArgument, 1).Append("empty user id")
	}
	return nil
}

// HasAll reports whether held, which must be sorted, contains every code in
// want.
func HasAll(held, want []string) bool {
	for _, code := range want {
		if _, ok := slices.BinarySearch(held, code); !ok {
			return false
		}
	}
	return true
}
