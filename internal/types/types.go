package types

import (
	"github.com/DoyleJ11/livematch/internal/match"
	"github.com/DoyleJ11/livematch/internal/milestone"
)

// Server message types.
const (
	MsgStateSnapshot = "StateSnapshot"
	MsgAlert         = "Alert"
	MsgStatus        = "Status"
	MsgError         = "Error"
)

// Client message types; each maps onto one operator edit.
const (
	MsgAddKills            = "AddKills"
	MsgSetPlayerEliminated = "SetPlayerEliminated"
	MsgSetTeamPoints       = "SetTeamPoints"
	MsgSetTeamEliminated   = "SetTeamEliminated"
	MsgReplaceRoster       = "ReplaceRoster"
)

type ClientMessage struct {
	Type       string              `json:"type"`
	TeamID     string              `json:"teamId,omitempty"`
	PlayerID   string              `json:"playerId,omitempty"`
	Delta      int                 `json:"delta,omitempty"`
	Eliminated bool                `json:"eliminated,omitempty"`
	Points     int                 `json:"points,omitempty"`
	Players    []match.PlayerState `json:"players,omitempty"`
}

type ServerMessage struct {
	Type      string           `json:"type"` // "StateSnapshot" | "Alert" | "Status" | "Error"
	Version   int              `json:"version,omitempty"`
	State     *match.State     `json:"state,omitempty"`
	Alert     *milestone.Alert `json:"alert,omitempty"`
	Connected *bool            `json:"connected,omitempty"`
	Error     string           `json:"error,omitempty"`
}
