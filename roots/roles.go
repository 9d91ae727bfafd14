package roots

import (
	"slices"
	"strings"

	"github.com/dpup/permissible/errors"
	"github.com/dpup/permissible/perm"
	"google.golang.org/grpc/codes"
)

// Role names used by DefaultRoles.
const (
	RoleMember      = "mem"
	RoleViewer      = "view"
	RoleContributor = "con"
	RoleAdmin       = "adm"
	RoleOwner       = "own"
)

// Role is a named bundle of permission codes granted on a root.
type Role struct {
	Name  string   `koanf:"name"`
	Label string   `koanf:"label"`
	Codes []string `koanf:"codes"`
}

// RoleDefinitions is an ordered, immutable role table.
type RoleDefinitions struct {
	roles []Role
	index map[string]int
}

// NewRoleDefinitions validates and copies roles. Names must be unique and
// non-empty. Codes may be empty, in which case the role only conveys
// membership.
func NewRoleDefinitions(roles ...Role) (RoleDefinitions, error) {
	d := RoleDefinitions{index: make(map[string]int, len(roles))}
	for _, r := range roles {
		if r.Name == "" {
			return RoleDefinitions{}, errors.Codef(codes.InvalidArgument, "roles: role with label %q has no name", r.Label)
		}
		if strings.ContainsAny(r.Name, nameReserved) {
			return RoleDefinitions{}, errors.Codef(codes.InvalidArgument, "roles: role %q contains one of %q", r.Name, nameReserved)
		}
		if _, dup := d.index[r.Name]; dup {
			return RoleDefinitions{}, errors.Codef(codes.InvalidArgument, "roles: duplicate role %q", r.Name)
		}
		for _, c := range r.Codes {
			if c == "" {
				return RoleDefinitions{}, errors.Codef(codes.InvalidArgument, "roles: role %q has an empty code", r.Name)
			}
		}
		r.Codes = normalizeCodes(r.Codes)
		d.index[r.Name] = len(d.roles)
		d.roles = append(d.roles, r)
	}
	return d, nil
}

// MustRoleDefinitions is like NewRoleDefinitions but panics on error.
func MustRoleDefinitions(roles ...Role) RoleDefinitions {
	d, err := NewRoleDefinitions(roles...)
	if err != nil {
		panic(err)
	}
	return d
}

// DefaultRoles returns the member, viewer, contributor, admin and owner table,
// each role holding the codes of the previous one plus its own.
func DefaultRoles() RoleDefinitions {
	contributor := []string{perm.CodeView, perm.CodeAddOn, perm.CodeChangeOn, perm.CodeChange}
	admin := append(slices.Clone(contributor), perm.CodeChangePermission)
	owner := append(slices.Clone(admin), perm.CodeDelete)
	return MustRoleDefinitions(
		Role{Name: RoleMember, Label: "Member"},
		Role{Name: RoleViewer, Label: "Viewer", Codes: []string{perm.CodeView}},
		Role{Name: RoleContributor, Label: "Contributor", Codes: contributor},
		Role{Name: RoleAdmin, Label: "Admin", Codes: admin},
		Role{Name: RoleOwner, Label: "Owner", Codes: owner},
	)
}

// Len returns the number of roles.
func (d RoleDefinitions) Len() int { return len(d.roles) }

// Names returns the role names in declaration order.
func (d RoleDefinitions) Names() []string {
	names := make([]string, len(d.roles))
	for i, r := range d.roles {
		names[i] = r.Name
	}
	return names
}

// Has reports whether the table declares name.
func (d RoleDefinitions) Has(name string) bool {
	_, ok := d.index[name]
	return ok
}

// Lookup returns a copy of the named role.
func (d RoleDefinitions) Lookup(name string) (Role, bool) {
	i, ok := d.index[name]
	if !ok {
		return Role{}, false
	}
	r := d.roles[i]
	r.Codes = slices.Clone(r.Codes)
	return r, true
}

// Codes returns the sorted codes of the named role, or nil if the role is
// not declared.
func (d RoleDefinitions) Codes(name string) []string {
	r, ok := d.Lookup(name)
	if !ok {
		return nil
	}
	return r.Codes
}

// AllCodes returns the sorted union of every role's codes.
func (d RoleDefinitions) AllCodes() []string {
	var all []string
	for _, r := range d.roles {
		all = append(all, r.Codes...)
	}
	return normalizeCodes(all)
}

// All returns a copy of the table in declaration order.
func (d RoleDefinitions) All() []Role {
	out := make([]Role, len(d.roles))
	for i, r := range d.roles {
		r.Codes = slices.Clone(r.Codes)
		out[i] = r
	}
	return out
}

// Kind configures roots of one type.
type Kind struct {
	// Type is the perm type of the root entity, for example "team".
	Type string

	// Roles is the role table. One role group is kept per role.
	Roles RoleDefinitions

	// Hierarchical roots may have a parent of the same type. Grants made on a
	// root also apply to all of its descendants.
	Hierarchical bool
}

func normalizeCodes(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	out = slices.Compact(out)
	if out == nil {
		out = []string{}
	}
	return out
}
