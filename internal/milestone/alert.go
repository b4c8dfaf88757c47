package milestone

import "time"

type Kind string

const (
	KindFirstBlood     Kind = "first_blood"
	KindDomination     Kind = "domination"
	KindRampage        Kind = "rampage"
	KindUnstoppable    Kind = "unstoppable"
	KindTeamEliminated Kind = "team_eliminated"
)

// Alert is a transient milestone notice for the render layer.
type Alert struct {
	ID      string `json:"id"`
	Kind    Kind   `json:"kind"`
	MatchID string `json:"matchId"`
	TeamID  string `json:"teamId"`
	TeamTag string `json:"teamTag,omitempty"`

	PlayerID   string `json:"playerId,omitempty"`
	PlayerName string `json:"playerName,omitempty"`
	Kills      int    `json:"kills,omitempty"`

	// Set on team eliminations.
	Rank      int `json:"rank,omitempty"`
	TeamKills int `json:"teamKills,omitempty"`
	Points    int `json:"points,omitempty"`

	RaisedAt  time.Time `json:"raisedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (k Kind) isKill() bool { return k != KindTeamEliminated }
