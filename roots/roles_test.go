package roots

import (
	"testing"

	"github.com/dpup/permissible/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestDefaultRoles(t *testing.T) {
	d := DefaultRoles()
	assert.Equal(t, []string{"mem", "view", "con", "adm", "own"}, d.Names())

	tests := []struct {
		role string
		want []string
	}{
		{RoleMember, []string{}},
		{RoleViewer, []string{"view"}},
		{RoleContributor, []string{"add_on", "change", "change_on", "view"}},
		{RoleAdmin, []string{"add_on", "change", "change_on", "change_permission", "view"}},
		{RoleOwner, []string{"add_on", "change", "change_on", "change_permission", "delete", "view"}},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Codes(tt.role))
		})
	}

	r, ok := d.Lookup(RoleOwner)
	require.True(t, ok)
	assert.Equal(t, "Owner", r.Label)
	assert.Equal(t, d.Codes(RoleOwner), d.AllCodes())
}

func TestNewRoleDefinitions_Validation(t *testing.T) {
	_, err := NewRoleDefinitions(Role{Name: "a"}, Role{Name: "a"})
	assert.Equal(t, codes.InvalidArgument, errors.Code(err))

	_, err = NewRoleDefinitions(Role{Label: "Nameless"})
	assert.Equal(t, codes.InvalidArgument, errors.Code(err))

	_, err = NewRoleDefinitions(Role{Name: "a", Codes: []string{""}})
	assert.Equal(t, codes.InvalidArgument, errors.Code(err))

	for _, name := range []string{"a]", "[a", "x][team"} {
		_, err = NewRoleDefinitions(Role{Name: name})
		assert.Equal(t, codes.InvalidArgument, errors.Code(err), name)
	}

	assert.Panics(t, func() { MustRoleDefinitions(Role{}) })
}

func TestRoleDefinitions_Copies(t *testing.T) {
	d := MustRoleDefinitions(Role{Name: "a", Codes: []string{"z", "y", "y"}})
	assert.Equal(t, []string{"y", "z"}, d.Codes("a"), "codes are sorted and deduplicated")

	d.Codes("a")[0] = "mutated"
	d.All()[0].Codes[0] = "mutated"
	assert.Equal(t, []string{"y", "z"}, d.Codes("a"))

	assert.Nil(t, d.Codes("missing"))
	assert.False(t, d.Has("missing"))
}

func TestGroupName(t *testing.T) {
	assert.Equal(t, "[adm][team] t1", GroupName(team("t1"), "adm"))
	assert.NotEqual(t, GroupName(team("t1"), "adm"), GroupName(org("t1"), "adm"))
	assert.Equal(t, "[adm][team] t1] x", GroupName(team("t1] x"), "adm"))
}
