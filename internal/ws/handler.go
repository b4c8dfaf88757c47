package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/livematch/internal/hub"
	"github.com/DoyleJ11/livematch/internal/types"
	"github.com/DoyleJ11/livematch/internal/view"
)

const writeTimeout = 3 * time.Second

// Handler streams a match's snapshots, alerts and push status to a websocket
// client, and accepts operator edits from it. The view is held for as long
// as the connection is open.
func Handler(h *hub.Hub, logger *zap.Logger) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		matchID := r.URL.Query().Get("match")
		if matchID == "" {
			http.Error(w, "missing match", http.StatusBadRequest)
			return
		}

		v, err := h.Acquire(r.Context(), matchID)
		if err != nil {
			http.Error(w, "match unavailable", http.StatusServiceUnavailable)
			return
		}
		defer h.Release(matchID)

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		subID, updates, err := v.Subscribe(r.Context())
		if err != nil {
			conn.Close(websocket.StatusTryAgainLater, "match closed")
			return
		}
		defer v.Unsubscribe(subID)

		log := logger.With(zap.String("match", matchID), zap.String("subscriber", subID))
		log.Debug("client connected")

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			var last *view.Update
			for u := range updates {
				for _, msg := range diff(last, u) {
					if err := writeJSON(writeCtx, conn, msg); err != nil {
						return
					}
				}
				last = &u
			}
			// Dropped for falling behind, or the view shut down.
			conn.Close(websocket.StatusTryAgainLater, "stream ended")
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("client read ended", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				_ = writeJSON(r.Context(), conn, types.ServerMessage{Type: types.MsgError, Error: "bad json"})
				continue
			}
			if err := applyEdit(r.Context(), v, cm); err != nil {
				_ = writeJSON(r.Context(), conn, types.ServerMessage{Type: types.MsgError, Error: err.Error()})
			}
		}
	}
}

// diff turns a view update into the messages a client has not seen yet.
func diff(last *view.Update, u view.Update) []types.ServerMessage {
	var out []types.ServerMessage
	if last == nil || last.Version != u.Version {
		st := u.State
		out = append(out, types.ServerMessage{Type: types.MsgStateSnapshot, Version: u.Version, State: &st})
	}
	if last == nil || alertID(last) != alertID(&u) {
		out = append(out, types.ServerMessage{Type: types.MsgAlert, Version: u.Version, Alert: u.Alert})
	}
	if last == nil || last.Connected != u.Connected {
		connected := u.Connected
		out = append(out, types.ServerMessage{Type: types.MsgStatus, Version: u.Version, Connected: &connected})
	}
	return out
}

func alertID(u *view.Update) string {
	if u.Alert == nil {
		return ""
	}
	return u.Alert.ID
}

var errUnknownType = errors.New("unknown type")

func applyEdit(ctx context.Context, v *view.View, m types.ClientMessage) error {
	switch m.Type {
	case types.MsgAddKills:
		return v.AddKills(ctx, m.TeamID, m.PlayerID, m.Delta)
	case types.MsgSetPlayerEliminated:
		return v.SetPlayerEliminated(ctx, m.TeamID, m.PlayerID, m.Eliminated)
	case types.MsgSetTeamPoints:
		return v.SetTeamPoints(ctx, m.TeamID, m.Points)
	case types.MsgSetTeamEliminated:
		return v.SetTeamEliminated(ctx, m.TeamID, m.Eliminated)
	case types.MsgReplaceRoster:
		return v.ReplaceRoster(ctx, m.TeamID, m.Players)
	default:
		return fmt.Errorf("%w %q", errUnknownType, m.Type)
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}
