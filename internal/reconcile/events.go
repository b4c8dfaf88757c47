package reconcile

import "github.com/DoyleJ11/livematch/internal/match"

// Event is an update the Reconciler knows how to merge.
type Event interface{ isEvent() }

// FullReplace swaps the whole snapshot when MatchID is the attached match.
type FullReplace struct {
	MatchID string
	State   match.State
}

// TeamPatch shallow-merges fields onto a team and merges players by id.
type TeamPatch struct {
	Team   match.TeamRef
	Fields match.TeamFields
}

// PlayerPatch merges fields onto exactly one player.
type PlayerPatch struct {
	Team     match.TeamRef
	PlayerID string
	Fields   match.PlayerFields
}

// BulkFieldSet applies the same fields to every player of a team.
type BulkFieldSet struct {
	Team   match.TeamRef
	Fields match.PlayerFields
}

// LocalEdit is an operator action applied before the backend confirms it.
//
// With PlayerID set, KillDelta and Player apply to that player. With AllPlayers
// set, Player applies to every player of the team. Points and Roster are
// team-level and may be combined with either.
type LocalEdit struct {
	Team       match.TeamRef
	PlayerID   string
	KillDelta  int
	Player     match.PlayerFields
	AllPlayers bool
	Points     *int
	Roster     []match.PlayerState
}

// Batch applies several events in order. Unaddressable members are skipped.
type Batch []Event

func (FullReplace) isEvent()  {}
func (TeamPatch) isEvent()    {}
func (PlayerPatch) isEvent()  {}
func (BulkFieldSet) isEvent() {}
func (LocalEdit) isEvent()    {}
func (Batch) isEvent()        {}

// Kind names an event for logs.
func Kind(ev Event) string {
	switch ev.(type) {
	case FullReplace:
		return "full_replace"
	case TeamPatch:
		return "team_patch"
	case PlayerPatch:
		return "player_patch"
	case BulkFieldSet:
		return "bulk_field_set"
	case LocalEdit:
		return "local_edit"
	case Batch:
		return "batch"
	default:
		return "unknown"
	}
}
