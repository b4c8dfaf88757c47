package reconcile

import (
	"errors"
	"fmt"

	"github.com/DoyleJ11/livematch/internal/match"
)

var ErrUnaddressable = errors.New("unaddressable update")
var ErrMatchMismatch = errors.New("update is for another match")
var ErrUnsupportedEvent = errors.New("unsupported event")

// Apply merges ev into s and returns the resulting snapshot. s is never
// mutated: touched teams and players are copied, untouched ones are shared.
//
// On error the returned state is s, except for Batch, whose members are applied
// independently and whose error joins the members that were dropped.
func Apply(s match.State, ev Event) (match.State, error) {
	switch e := ev.(type) {
	case FullReplace:
		id := e.MatchID
		if id == "" {
			id = e.State.ID
		}
		if s.ID != "" && id != s.ID {
			return s, fmt.Errorf("%w: got %q, attached %q", ErrMatchMismatch, id, s.ID)
		}
		next := match.NormalizeState(e.State.Clone())
		next.ID = s.ID
		if next.ID == "" {
			next.ID = id
		}
		return next, nil

	case TeamPatch:
		return updateTeam(s, e.Team, func(t match.TeamState) (match.TeamState, error) {
			return patchTeam(t, e.Fields), nil
		})

	case PlayerPatch:
		return updateTeam(s, e.Team, func(t match.TeamState) (match.TeamState, error) {
			return updatePlayer(t, e.PlayerID, e.Fields.ApplyTo)
		})

	case BulkFieldSet:
		return updateTeam(s, e.Team, func(t match.TeamState) (match.TeamState, error) {
			return setAll(t, e.Fields), nil
		})

	case LocalEdit:
		return updateTeam(s, e.Team, func(t match.TeamState) (match.TeamState, error) {
			return applyLocal(t, e)
		})

	case Batch:
		var errs []error
		for _, member := range e {
			next, err := Apply(s, member)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", Kind(member), err))
				continue
			}
			s = next
		}
		return s, errors.Join(errs...)

	default:
		return s, ErrUnsupportedEvent
	}
}

func updateTeam(s match.State, ref match.TeamRef, fn func(match.TeamState) (match.TeamState, error)) (match.State, error) {
	i := s.TeamIndex(ref)
	if i < 0 {
		return s, fmt.Errorf("%w: team %q", ErrUnaddressable, ref.String())
	}
	team, err := fn(s.Teams[i])
	if err != nil {
		return s, err
	}
	teams := make([]match.TeamState, len(s.Teams))
	copy(teams, s.Teams)
	teams[i] = team
	s.Teams = teams
	return s, nil
}

func patchTeam(t match.TeamState, f match.TeamFields) match.TeamState {
	if f.Tag != nil {
		t.Tag = *f.Tag
	}
	if f.Points != nil {
		t.Points = *f.Points
	}
	if len(f.Players) == 0 {
		return t
	}
	players := append([]match.PlayerState(nil), t.Players...)
	for _, entry := range f.Players {
		// Unknown ids are dropped; this path never introduces players.
		if i := t.PlayerIndex(entry.ID); i >= 0 {
			players[i] = entry.PlayerFields.ApplyTo(players[i])
		}
	}
	t.Players = players
	return t
}

func updatePlayer(t match.TeamState, id string, fn func(match.PlayerState) match.PlayerState) (match.TeamState, error) {
	i := t.PlayerIndex(id)
	if id == "" || i < 0 {
		return t, fmt.Errorf("%w: player %q in team %q", ErrUnaddressable, id, t.ID)
	}
	players := append([]match.PlayerState(nil), t.Players...)
	players[i] = fn(players[i])
	t.Players = players
	return t, nil
}

func setAll(t match.TeamState, f match.PlayerFields) match.TeamState {
	players := make([]match.PlayerState, len(t.Players))
	for i, p := range t.Players {
		players[i] = f.ApplyTo(p)
	}
	t.Players = players
	return t
}

func applyLocal(t match.TeamState, e LocalEdit) (match.TeamState, error) {
	if e.Roster != nil {
		t.Players = match.NormalizeTeam(match.TeamState{Players: e.Roster}).Players
	}
	if e.Points != nil {
		t.Points = *e.Points
	}
	switch {
	case e.PlayerID != "":
		return updatePlayer(t, e.PlayerID, func(p match.PlayerState) match.PlayerState {
			p = e.Player.ApplyTo(p)
			p.Kills = max(p.Kills+e.KillDelta, 0)
			return p
		})
	case e.AllPlayers:
		return setAll(t, e.Player), nil
	}
	return t, nil
}
