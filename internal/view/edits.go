package view

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/livematch/internal/backend"
	"github.com/DoyleJ11/livematch/internal/batch"
	"github.com/DoyleJ11/livematch/internal/dispatch"
	"github.com/DoyleJ11/livematch/internal/match"
	"github.com/DoyleJ11/livematch/internal/reconcile"
)

const checkpointTimeout = 5 * time.Second

// AddKills changes a player's kill count by delta. The local snapshot moves
// immediately; deltas for the same player are summed into one write. Kills
// never go below zero, and only the change actually applied is written.
func (v *View) AddKills(ctx context.Context, teamID, playerID string, delta int) error {
	if delta == 0 {
		return nil
	}
	change := reconcile.LocalEdit{Team: teamRef(teamID), PlayerID: playerID, KillDelta: delta}
	return v.edit(ctx, change, func(before, after match.TeamState) {
		applied := killsOf(after, playerID) - killsOf(before, playerID)
		if applied == 0 {
			return
		}
		v.kills.Batch(playerKey(after.ID, playerID), applied, v.writeKills(after.ID, playerID))
	})
}

// SetPlayerEliminated sets one player's death flag.
func (v *View) SetPlayerEliminated(ctx context.Context, teamID, playerID string, eliminated bool) error {
	change := reconcile.LocalEdit{
		Team:     teamRef(teamID),
		PlayerID: playerID,
		Player:   match.PlayerFields{Eliminated: match.Ptr(eliminated)},
	}
	return v.edit(ctx, change, func(t, _ match.TeamState) {
		v.playerDeaths.Batch(playerKey(t.ID, playerID), eliminated, v.writePlayerDeath(t.ID, playerID))
	})
}

// SetTeamPoints sets a team's placement points.
func (v *View) SetTeamPoints(ctx context.Context, teamID string, points int) error {
	change := reconcile.LocalEdit{Team: teamRef(teamID), Points: match.Ptr(points)}
	return v.edit(ctx, change, func(t, _ match.TeamState) {
		v.points.Batch(t.ID, points, v.writePoints(t.ID))
	})
}

// SetTeamEliminated sets the death flag of every player on a team.
func (v *View) SetTeamEliminated(ctx context.Context, teamID string, eliminated bool) error {
	change := reconcile.LocalEdit{
		Team:       teamRef(teamID),
		AllPlayers: true,
		Player:     match.PlayerFields{Eliminated: match.Ptr(eliminated)},
	}
	return v.edit(ctx, change, func(t, _ match.TeamState) {
		v.teamDeaths.Batch(t.ID, eliminated, v.writeTeamDeath(t.ID))
	})
}

// ReplaceRoster swaps a team's players. It is validated before anything is
// applied or sent and is written straight through, without debouncing.
func (v *View) ReplaceRoster(ctx context.Context, teamID string, players []match.PlayerState) error {
	if len(players) < 1 || len(players) > MaxRoster {
		return ErrInvalidRoster
	}
	roster := make([]match.PlayerState, len(players))
	for i, p := range players {
		if p.ID == "" {
			return ErrInvalidRoster
		}
		roster[i] = match.NormalizePlayer(p)
	}

	change := reconcile.LocalEdit{Team: teamRef(teamID), Roster: roster}
	return v.edit(ctx, change, func(t, _ match.TeamState) {
		id := t.ID
		fut := v.opts.Dispatcher.Submit(dispatch.Retrying(v.opts.Retry, func(ctx context.Context) error {
			return v.opts.API.ReplacePlayers(ctx, v.id, id, roster)
		}))
		go func() {
			if err := fut.Err(); err != nil {
				v.onWriteError("roster")(id, err)
			}
		}()
	})
}

// TeamPlayers reads a team's players from the backend, which is the source
// for roster replacement.
func (v *View) TeamPlayers(ctx context.Context, teamID string) ([]match.PlayerState, error) {
	fut := dispatch.Enqueue(v.opts.Dispatcher, func(ctx context.Context) ([]match.PlayerState, error) {
		return dispatch.WithRetry(ctx, v.opts.Retry, func(ctx context.Context) ([]match.PlayerState, error) {
			return v.opts.API.GetTeamPlayers(ctx, v.id, teamID)
		})
	})
	return fut.Wait(ctx)
}

func (v *View) edit(ctx context.Context, change reconcile.LocalEdit, write func(before, after match.TeamState)) error {
	reply := make(chan error, 1)
	if err := v.send(ctx, edit{change: change, write: write, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-v.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (v *View) writeKills(teamID, playerID string) batch.FlushFunc[int] {
	return func(ctx context.Context, delta int) error {
		if delta == 0 {
			return nil
		}
		return v.retry(ctx, func(ctx context.Context) error {
			return v.opts.API.PatchPlayerStats(ctx, v.id, teamID, playerID, backend.PlayerStatPatch{KillDelta: &delta})
		})
	}
}

func (v *View) writePlayerDeath(teamID, playerID string) batch.FlushFunc[bool] {
	return func(ctx context.Context, eliminated bool) error {
		return v.retry(ctx, func(ctx context.Context) error {
			return v.opts.API.PatchPlayerStats(ctx, v.id, teamID, playerID, backend.PlayerStatPatch{Eliminated: &eliminated})
		})
	}
}

func (v *View) writePoints(teamID string) batch.FlushFunc[int] {
	return func(ctx context.Context, points int) error {
		return v.retry(ctx, func(ctx context.Context) error {
			return v.opts.API.PatchTeamPoints(ctx, v.id, teamID, points)
		})
	}
}

func (v *View) writeTeamDeath(teamID string) batch.FlushFunc[bool] {
	return func(ctx context.Context, eliminated bool) error {
		return v.retry(ctx, func(ctx context.Context) error {
			return v.opts.API.PatchTeamDeaths(ctx, v.id, teamID, eliminated)
		})
	}
}

func (v *View) saveCheckpoint(ctx context.Context, cp checkpoint) error {
	ctx, cancel := context.WithTimeout(ctx, checkpointTimeout)
	defer cancel()
	return v.opts.Checkpoints.Save(ctx, v.id, cp.version, cp.state)
}

func (v *View) retry(ctx context.Context, op func(ctx context.Context) error) error {
	return dispatch.Retrying(v.opts.Retry, op)(ctx)
}

// onWriteError records a write that failed after retries. The optimistic
// value stays in place until the next push corrects it.
func (v *View) onWriteError(field string) func(key string, err error) {
	return func(key string, err error) {
		writeFailures.WithLabelValues(field).Inc()
		v.logger.Warn("backend write failed", zap.String("field", field), zap.String("key", key), zap.Error(err))
		_ = v.send(v.ctx, writeFailed{kind: field, key: key, err: err})
	}
}

func teamRef(teamID string) match.TeamRef { return match.TeamRef{ID: teamID} }

func playerKey(teamID, playerID string) string { return teamID + "/" + playerID }

func killsOf(t match.TeamState, playerID string) int {
	if i := t.PlayerIndex(playerID); i >= 0 {
		return t.Players[i].Kills
	}
	return 0
}
