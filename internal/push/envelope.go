package push

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DoyleJ11/livematch/internal/match"
	"github.com/DoyleJ11/livematch/internal/reconcile"
)

// Push event names as sent by the backend.
const (
	EventMatchState    = "match-state"
	EventTeamPatch     = "team-patch"
	EventPlayerPatch   = "player-patch"
	EventTeamPoints    = "team-points-patch"
	EventTeamStatsBulk = "team-stats-bulk-patch"
	EventBulkTeamPatch = "bulk-team-patch"
)

var ErrUnknownEvent = errors.New("unknown push event")

// Envelope is one message on the push channel.
type Envelope struct {
	Event        string          `json:"event"`
	MatchID      string          `json:"matchId"`
	TeamID       string          `json:"teamId,omitempty"`
	LegacyTeamID string          `json:"_id,omitempty"`
	PlayerID     string          `json:"playerId,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

func (e Envelope) teamRef() match.TeamRef {
	return match.TeamRef{ID: e.TeamID, LegacyID: e.LegacyTeamID}
}

type bulkTeamEntry struct {
	TeamID       string `json:"teamId,omitempty"`
	LegacyTeamID string `json:"_id,omitempty"`
	match.TeamFields
}

// Decode turns an envelope into a reconcile event. Team aliases are folded
// into a TeamRef here so nothing downstream looks at the raw fields.
func Decode(e Envelope) (reconcile.Event, error) {
	switch e.Event {
	case EventMatchState:
		var s match.State
		if err := unmarshal(e, &s); err != nil {
			return nil, err
		}
		return reconcile.FullReplace{MatchID: e.MatchID, State: s}, nil

	case EventTeamPatch:
		var f match.TeamFields
		if err := unmarshalTeam(e, &f); err != nil {
			return nil, err
		}
		return reconcile.TeamPatch{Team: e.teamRef(), Fields: f}, nil

	case EventTeamPoints:
		var body struct {
			Points int `json:"points"`
		}
		if err := unmarshalTeam(e, &body); err != nil {
			return nil, err
		}
		return reconcile.TeamPatch{Team: e.teamRef(), Fields: match.TeamFields{Points: &body.Points}}, nil

	case EventPlayerPatch:
		if e.PlayerID == "" {
			return nil, fmt.Errorf("%s: %w: missing player id", e.Event, reconcile.ErrUnaddressable)
		}
		var f match.PlayerFields
		if err := unmarshalTeam(e, &f); err != nil {
			return nil, err
		}
		return reconcile.PlayerPatch{Team: e.teamRef(), PlayerID: e.PlayerID, Fields: f}, nil

	case EventTeamStatsBulk:
		var f match.PlayerFields
		if err := unmarshalTeam(e, &f); err != nil {
			return nil, err
		}
		return reconcile.BulkFieldSet{Team: e.teamRef(), Fields: f}, nil

	case EventBulkTeamPatch:
		var entries []bulkTeamEntry
		if err := unmarshal(e, &entries); err != nil {
			return nil, err
		}
		batch := make(reconcile.Batch, 0, len(entries))
		for _, entry := range entries {
			ref := match.TeamRef{ID: entry.TeamID, LegacyID: entry.LegacyTeamID}
			batch = append(batch, reconcile.TeamPatch{Team: ref, Fields: entry.TeamFields})
		}
		return batch, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, e.Event)
	}
}

func unmarshalTeam(e Envelope, v any) error {
	if e.teamRef().Empty() {
		return fmt.Errorf("%s: %w: missing team id", e.Event, reconcile.ErrUnaddressable)
	}
	return unmarshal(e, v)
}

func unmarshal(e Envelope, v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: %w", e.Event, err)
	}
	return nil
}
