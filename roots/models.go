package roots

import (
	"strings"

	"github.com/dpup/permissible/perm"
	"github.com/dpup/permissible/storage"
)

// TypeRootUser is the perm type of RootUser records.
const TypeRootUser = "root_user"

// RootNode records that a root exists, and its parent for hierarchical kinds.
type RootNode struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	RootID string `json:"root_id"`
	Parent string `json:"parent,omitempty"`
}

func (n RootNode) PK() string { return n.ID }

// Ref returns the root the node describes.
func (n RootNode) Ref() perm.Ref { return perm.Ref{Type: n.Type, ID: n.RootID} }

func newNode(root perm.Ref, parent string) *RootNode {
	return &RootNode{ID: root.String(), Type: root.Type, RootID: root.ID, Parent: parent}
}

// RootGroup realizes one role of one root as a group in the group store.
type RootGroup struct {
	ID       string `json:"id"`
	RootType string `json:"root_type"`
	RootID   string `json:"root_id"`
	Role     string `json:"role"`
	GroupID  string `json:"group_id"`

	// Targets lists the scopes the group was last synced on, so that grants
	// on scopes which are no longer targets can be revoked.
	Targets []string `json:"targets,omitempty"`
}

func (g RootGroup) PK() string { return key(g.Root().String(), g.Role) }

// Root returns the root the group belongs to.
func (g RootGroup) Root() perm.Ref { return perm.Ref{Type: g.RootType, ID: g.RootID} }

func newRootGroup(root perm.Ref, role string) *RootGroup {
	g := &RootGroup{RootType: root.Type, RootID: root.ID, Role: role}
	g.ID = g.PK()
	return g
}

// RootUser records that a user belongs to at least one role group of a root.
// It is derived from group membership and never edited directly.
type RootUser struct {
	ID       string `json:"id"`
	RootType string `json:"root_type"`
	RootID   string `json:"root_id"`
	UserID   string `json:"user_id"`
}

func (u RootUser) PK() string { return key(u.Root().String(), u.UserID) }

func (u RootUser) PermType() string { return TypeRootUser }
func (u RootUser) PermID() string   { return u.ID }

// Root returns the root the user belongs to.
func (u RootUser) Root() perm.Ref { return perm.Ref{Type: u.RootType, ID: u.RootID} }

// User returns a reference to the member.
func (u RootUser) User() perm.Ref { return perm.Ref{Type: "user", ID: u.UserID} }

func newRootUser(root perm.Ref, userID string) *RootUser {
	u := &RootUser{RootType: root.Type, RootID: root.ID, UserID: userID}
	u.ID = u.PK()
	return u
}

// Models lists every model the manager persists.
func Models() []storage.Model {
	return []storage.Model{&RootNode{}, &RootGroup{}, &RootUser{}}
}

// Delimiters of group names, reserved in role names and kind types.
const nameReserved = "[]"

// GroupName returns the name of the backing group for a root's role.
func GroupName(root perm.Ref, role string) string {
	return "[" + role + "][" + root.Type + "] " + root.ID
}

func key(parts ...string) string {
	return storage.CompositeKey(parts...)
}

func parseScope(s string) perm.Ref {
	typ, id, _ := strings.Cut(s, ":")
	return perm.Ref{Type: typ, ID: id}
}
