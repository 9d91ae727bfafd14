package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Team struct {
	ID   string
	Name string
}

func (t Team) PK() string { return t.ID }

type RootGroup struct {
	ID       string `json:"id"`
	RootType string `json:"root_type"`
	Role     string `json:"role,omitempty"`
	Archived *bool  `json:"archived"`
	internal string //nolint:unused // Exercises unexported field skipping.
}

func (g RootGroup) PK() string { return g.ID }

type Membership struct {
	ID string
}

func (m Membership) PK() string { return m.ID }

func (m Membership) Name() string { return "team_memberships" }

func TestName(t *testing.T) {
	tests := []struct {
		name  string
		model any
		want  string
	}{
		{name: "single word struct", model: Team{}, want: "teams"},
		{name: "multi word struct", model: RootGroup{}, want: "root_groups"},
		{name: "pointer", model: &RootGroup{}, want: "root_groups"},
		{name: "manual override", model: Membership{}, want: "team_memberships"},
		{name: "slice", model: []Team{}, want: "teams"},
		{name: "pointer to slice", model: &[]Team{}, want: "teams"},
	}
	// Repeat to exercise the name cache.
	for range 2 {
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.Equal(t, tt.want, Name(tt.model))
			})
		}
	}
}

func TestValidateReceiver(t *testing.T) {
	var nilTeam *Team
	assert.ErrorIs(t, ValidateReceiver(nil), ErrNilModel)
	assert.ErrorIs(t, ValidateReceiver(nilTeam), ErrNilModel)
	assert.NoError(t, ValidateReceiver(&Team{}))
	assert.NoError(t, ValidateReceiver(Team{}))
}

func TestFilterFields(t *testing.T) {
	no := false

	fields := FilterFields(RootGroup{RootType: "team", Archived: &no})
	require.Len(t, fields, 2)
	assert.Equal(t, FilterField{Key: "root_type", Value: "team"}, fields[0])
	assert.Equal(t, FilterField{Key: "archived", Value: false}, fields[1])

	assert.Empty(t, FilterFields(RootGroup{}))
	assert.Equal(t, []FilterField{{Key: "Name", Value: "A"}}, FilterFields(&Team{Name: "A"}))
}

func TestIgnoreHelpers(t *testing.T) {
	assert.NoError(t, IgnoreNotFound(ErrNotFound))
	assert.NoError(t, IgnoreNotFound(nil))
	assert.ErrorIs(t, IgnoreNotFound(ErrAlreadyExists), ErrAlreadyExists)

	assert.NoError(t, IgnoreAlreadyExists(ErrAlreadyExists))
	assert.ErrorIs(t, IgnoreAlreadyExists(ErrNotFound), ErrNotFound)
}

func TestCompositeKey(t *testing.T) {
	assert.Equal(t, "team:t1|admin", CompositeKey("team:t1", "admin"))
	assert.Equal(t, `team:t1|a\|b`, CompositeKey("team:t1", "a|b"))
	assert.Equal(t, `a\\|b`, CompositeKey(`a\`, "b"))

	tests := [][2][]string{
		{{"team:t1", "a|b"}, {"team:t1|a", "b"}},
		{{`a\`, "b"}, {"a", `\b`}},
		{{`a\|`, "b"}, {"a", `|b`}},
		{{"a", "", "b"}, {"a|", "b"}},
	}
	for _, tt := range tests {
		assert.NotEqual(t, CompositeKey(tt[0]...), CompositeKey(tt[1]...), "%q vs %q", tt[0], tt[1])
	}
}
