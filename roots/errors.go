package roots

import (
	"fmt"
	"strings"

	"github.com/dpup/permissible/errors"
	"github.com/dpup/permissible/perm"
	"google.golang.org/grpc/codes"
)

var (
	// Returned for roots whose type has no registered Kind.
	ErrUnknownKind = errors.NewC("unknown root type", codes.InvalidArgument)

	// Returned for roots without an ID, roles outside the table and parents
	// that would form a cycle.
	ErrInvalidRoot = errors.NewC("invalid root", codes.InvalidArgument)

	// Returned when a root or role group does not exist.
	ErrNotFound = errors.NewC("not found", codes.NotFound)

	// Returned when changing a group to a role the root already has.
	ErrRoleExists = errors.NewC("role group already exists", codes.AlreadyExists)

	// Returned from SyncError.Is for any sync failure.
	ErrSync = errors.NewC("role group sync failed", codes.Internal)
)

// StepOp is a kind of group store mutation.
type StepOp string

const (
	OpGrant      StepOp = "grant"
	OpRevoke     StepOp = "revoke"
	OpAddUser    StepOp = "add_user"
	OpRemoveUser StepOp = "remove_user"
)

// Step is one group store mutation made while syncing.
type Step struct {
	Op    StepOp   `json:"op"`
	Scope perm.Ref `json:"scope,omitzero"`
	Code  string   `json:"code,omitempty"`
	User  string   `json:"user,omitempty"`
}

func (s Step) String() string {
	switch s.Op {
	case OpAddUser, OpRemoveUser:
		return string(s.Op) + " " + s.User
	default:
		return string(s.Op) + " " + s.Code + "@" + s.Scope.String()
	}
}

// SyncError reports a role group or membership sync which failed part way.
// Applied lists the mutations that reached the group store before the
// failure. Every sync recomputes its diff, so retrying is safe.
type SyncError struct {
	Op      string
	Root    perm.Ref
	Role    string
	Applied []Step
	Err     error
}

func (e *SyncError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed for %s", e.Op, e.Root)
	if e.Role != "" {
		fmt.Fprintf(&b, " role %q", e.Role)
	}
	fmt.Fprintf(&b, " after %d applied steps", len(e.Applied))
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *SyncError) Unwrap() error { return e.Err }

func (e *SyncError) Is(target error) bool { return target == ErrSync }

// Code reports the code of the store failure, or Internal when it carries
// none. The HTTP status follows from it.
func (e *SyncError) Code() codes.Code {
	switch c := errors.Code(e.Err); c {
	case codes.OK, codes.Unknown:
		return codes.Internal
	default:
		return c
	}
}
