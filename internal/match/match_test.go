package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTeamMatches_EitherAlias(t *testing.T) {
	team := TeamState{ID: "t-7", LegacyID: "6650ab"}

	cases := []struct {
		name string
		ref  TeamRef
		want bool
	}{
		{name: "canonical id", ref: TeamRef{ID: "t-7"}, want: true},
		{name: "legacy id", ref: TeamRef{LegacyID: "6650ab"}, want: true},
		{name: "legacy value in id slot", ref: TeamRef{ID: "6650ab"}, want: true},
		{name: "canonical value in legacy slot", ref: TeamRef{LegacyID: "t-7"}, want: true},
		{name: "other team", ref: TeamRef{ID: "t-8"}, want: false},
		{name: "empty ref", ref: TeamRef{}, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, team.Matches(tc.ref))
		})
	}
}

func TestNormalizePlayer_OutIsLogicalOr(t *testing.T) {
	assert.False(t, NormalizePlayer(PlayerState{LiveStatus: StatusKnocked}).Out)
	assert.True(t, NormalizePlayer(PlayerState{LiveStatus: StatusDead}).Out)
	assert.True(t, NormalizePlayer(PlayerState{Eliminated: true}).Out)
	assert.True(t, NormalizePlayer(PlayerState{LiveStatus: StatusDead, Eliminated: true}).Out)
}

func TestNormalizeState_FillsCanonicalIDAndDropsUnaddressable(t *testing.T) {
	s := NormalizeState(State{ID: "m1", Teams: []TeamState{
		{LegacyID: "abc", Players: []PlayerState{{ID: "p1", Kills: -2}}},
		{Tag: "ghost"},
	}})

	require.Len(t, s.Teams, 1)
	assert.Equal(t, "abc", s.Teams[0].ID)
	assert.Empty(t, s.Teams[0].LegacyID)
	assert.Equal(t, 0, s.Teams[0].Players[0].Kills)
}

func TestClone_DoesNotShareSlices(t *testing.T) {
	s := State{ID: "m1", Teams: []TeamState{{ID: "a", Players: []PlayerState{{ID: "p1"}}}}}
	c := s.Clone()
	c.Teams[0].Players[0].Kills = 9
	c.Teams[0].Points = 3

	assert.Equal(t, 0, s.Teams[0].Players[0].Kills)
	assert.Equal(t, 0, s.Teams[0].Points)
}

func TestTeamEliminated(t *testing.T) {
	assert.False(t, TeamState{}.Eliminated(), "empty team is never eliminated")
	assert.False(t, TeamState{Players: []PlayerState{{Out: true}, {}}}.Eliminated())
	assert.True(t, TeamState{Players: []PlayerState{{Out: true}, {Out: true}}}.Eliminated())
}

func TestPlayerFieldsApplyTo(t *testing.T) {
	p := PlayerState{ID: "p1", Name: "a", Kills: 2}
	got := PlayerFields{Kills: Ptr(-1), LiveStatus: Ptr(StatusDead)}.ApplyTo(p)

	assert.Equal(t, "a", got.Name)
	assert.Equal(t, 0, got.Kills)
	assert.True(t, got.Out)
	assert.True(t, PlayerFields{}.IsZero())
}
