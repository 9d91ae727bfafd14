package perm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPolicies_CoverStandardActions(t *testing.T) {
	maps := map[string]PermissionMap{
		"no_restriction":         PolicyNoRestriction(),
		"no_restriction_if_auth": PolicyNoRestrictionIfAuthenticated(),
		"deny_all":               PolicyDenyAll(),
		"public_read_only":       PolicyPublicReadOnly(),
		"list_if_auth":           PolicyListIfAuthenticated(),
		"default_no_create":      PolicyDefaultNoCreate(),
		"default_allow_create":   PolicyDefaultAllowCreate(),
		"default_global":         PolicyDefaultGlobal(),
		"simple_domain_owned":    SimpleDomainOwnedPolicy("team"),
		"domain_owned":           DomainOwnedPolicy("team"),
		"domain_member":          DomainMemberPolicy("team"),
	}
	for name, m := range maps {
		for _, a := range StandardActions() {
			_, ok := m.Lookup(a)
			assert.True(t, ok, "%s should list %s explicitly", name, a)
		}
	}
}

func TestPolicies_Fresh(t *testing.T) {
	a := PolicyDefaultAllowCreate()
	a[ActionRetrieve] = DenyAll()
	b := PolicyDefaultAllowCreate()
	assert.Len(t, b[ActionRetrieve], 1, "makers must not share state")
}

func TestMergeMaps(t *testing.T) {
	merged := MergeMaps(
		PermissionMap{ActionRetrieve: {P(CodeView)}},
		PermissionMap{ActionRetrieve: {IsAuthenticated}, ActionUpdate: {P(CodeChange)}},
	)
	assert.Len(t, merged[ActionRetrieve], 2)
	assert.Len(t, merged[ActionUpdate], 1)
	_, ok := merged.Lookup(ActionDestroy)
	assert.False(t, ok)
}

func TestWith(t *testing.T) {
	base := PolicyDenyAll()
	m := base.With(ActionList, AllowAll)
	assert.Len(t, m[ActionList], 1)
	assert.Empty(t, base[ActionList], "With copies")
}

func TestPermDefString(t *testing.T) {
	tests := []struct {
		def  PermDef
		want string
	}{
		{P(CodeView), "[view]"},
		{P(CodeView, CodeChange).On("team"), "[view,change]@path(team)"},
		{IsAuthenticated, "[]?"},
		{AllowAll, "allow_all"},
		{P("a").Or(P("b")).Or(P("c")), "([a] | [b] | [c])"},
		{AllOf(P("a"), AnyOf(P("b"), P("c"))), "([a] & ([b] | [c]))"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.def.String())
	}
}
