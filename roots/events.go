package roots

import (
	"context"

	"github.com/dpup/permissible/errors"
	"github.com/dpup/permissible/groups"
	"github.com/dpup/permissible/perm"
	"google.golang.org/grpc/codes"
)

// Event is a lifecycle change that the Manager reconciles against.
type Event interface {
	isEvent()
}

// RootSaved is raised when a root is created or saved. Parent is the ID of
// the parent root, for hierarchical kinds.
type RootSaved struct {
	Root   perm.Ref
	Parent string
}

// RootDeleted is raised when a root is deleted.
type RootDeleted struct {
	Root perm.Ref
}

// RootGroupRoleChanged is raised when a role group is moved to another role.
type RootGroupRoleChanged struct {
	Root     perm.Ref
	From, To string
}

// RootGroupDeleted is raised when a single role group is removed.
type RootGroupDeleted struct {
	Root perm.Ref
	Role string
}

// GroupMembershipChanged is raised when the group store reports a user
// joining or leaving a group.
type GroupMembershipChanged struct {
	groups.MembershipChange
}

func (RootSaved) isEvent()              {}
func (RootDeleted) isEvent()            {}
func (RootGroupRoleChanged) isEvent()   {}
func (RootGroupDeleted) isEvent()       {}
func (GroupMembershipChanged) isEvent() {}

// Dispatch applies an event. Each event is handled in a single transaction
// when the store supports them.
func (m *Manager) Dispatch(ctx context.Context, e Event) error {
	switch e := e.(type) {
	case RootSaved:
		return m.SaveRoot(ctx, e.Root, e.Parent)
	case RootDeleted:
		return m.DeleteRoot(ctx, e.Root)
	case RootGroupRoleChanged:
		return m.ChangeRole(ctx, e.Root, e.From, e.To)
	case RootGroupDeleted:
		return m.DeleteRootGroup(ctx, e.Root, e.Role)
	case GroupMembershipChanged:
		return m.onMembershipChange(ctx, e.MembershipChange)
	default:
		return errors.Codef(codes.InvalidArgument, "roots: unsupported event %T", e)
	}
}

// Topics published on the event bus after a change commits.
const (
	TopicGroupSynced     = "permissible.rootgroup.synced"
	TopicRootUserCreated = "permissible.rootuser.created"
	TopicRootUserDeleted = "permissible.rootuser.deleted"
	TopicRootReconciled  = "permissible.root.reconciled"
)

// GroupSynced is published when a sync changed a backing group.
type GroupSynced struct {
	Root    perm.Ref
	Role    string
	GroupID groups.GroupID
	Applied []Step
}

// RootUserChanged is published when a RootUser row is created or deleted.
type RootUserChanged struct {
	Root   perm.Ref
	UserID string
}

// RootReconciled is published when reconciliation created role groups.
type RootReconciled struct {
	Root    perm.Ref
	Created []string
}

type outboxKey struct{}

type notice struct {
	topic string
	data  any
}

type outbox struct {
	notices []notice
}

// publish queues data for the bus. It is sent once the outermost Manager
// operation has committed, and dropped if it fails.
func publish(ctx context.Context, topic string, data any) {
	if ob, ok := ctx.Value(outboxKey{}).(*outbox); ok {
		ob.notices = append(ob.notices, notice{topic: topic, data: data})
	}
}
