package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/livematch/internal/backend"
	"github.com/DoyleJ11/livematch/internal/hub"
	"github.com/DoyleJ11/livematch/internal/match"
	"github.com/DoyleJ11/livematch/internal/milestone"
	"github.com/DoyleJ11/livematch/internal/view"
)

// API serves the operator surface over attached match views.
type API struct {
	hub    *hub.Hub
	logger *zap.Logger
}

type snapshotResponse struct {
	Version   int              `json:"version"`
	Connected bool             `json:"connected"`
	State     match.State      `json:"state"`
	Alert     *milestone.Alert `json:"alert,omitempty"`
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (a *API) ListMatches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.hub.List())
}

// Attach takes a reference on the match view so it stays live without a
// websocket client. Pair with Detach.
func (a *API) Attach(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	v, err := a.hub.Acquire(r.Context(), matchID)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snapshotOf(v))
}

func (a *API) Detach(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	if a.hub.Get(matchID) == nil {
		http.Error(w, "match not attached", http.StatusNotFound)
		return
	}
	a.hub.Release(matchID)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) GetMatch(w http.ResponseWriter, r *http.Request) {
	v, ok := a.view(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snapshotOf(v))
}

func (a *API) GetStatus(w http.ResponseWriter, r *http.Request) {
	v, ok := a.view(w, r)
	if !ok {
		return
	}
	st, err := v.Status(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) TeamPlayers(w http.ResponseWriter, r *http.Request) {
	v, ok := a.view(w, r)
	if !ok {
		return
	}
	players, err := v.TeamPlayers(r.Context(), chi.URLParam(r, "teamID"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, players)
}

func (a *API) AddKills(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Delta int `json:"delta"`
	}
	a.edit(w, r, &body, func(v *view.View) error {
		return v.AddKills(r.Context(), chi.URLParam(r, "teamID"), chi.URLParam(r, "playerID"), body.Delta)
	})
}

func (a *API) SetPlayerEliminated(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Eliminated bool `json:"eliminated"`
	}
	a.edit(w, r, &body, func(v *view.View) error {
		return v.SetPlayerEliminated(r.Context(), chi.URLParam(r, "teamID"), chi.URLParam(r, "playerID"), body.Eliminated)
	})
}

func (a *API) SetTeamPoints(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Points int `json:"points"`
	}
	a.edit(w, r, &body, func(v *view.View) error {
		return v.SetTeamPoints(r.Context(), chi.URLParam(r, "teamID"), body.Points)
	})
}

func (a *API) SetTeamEliminated(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Eliminated bool `json:"eliminated"`
	}
	a.edit(w, r, &body, func(v *view.View) error {
		return v.SetTeamEliminated(r.Context(), chi.URLParam(r, "teamID"), body.Eliminated)
	})
}

func (a *API) ReplaceRoster(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Players []match.PlayerState `json:"players"`
	}
	a.edit(w, r, &body, func(v *view.View) error {
		return v.ReplaceRoster(r.Context(), chi.URLParam(r, "teamID"), body.Players)
	})
}

// edit decodes body, runs fn against the attached view and answers with the
// optimistic snapshot.
func (a *API) edit(w http.ResponseWriter, r *http.Request, body any, fn func(*view.View) error) {
	v, ok := a.view(w, r)
	if !ok {
		return
	}
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := fn(v); err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotOf(v))
}

func (a *API) view(w http.ResponseWriter, r *http.Request) (*view.View, bool) {
	v := a.hub.Get(chi.URLParam(r, "matchID"))
	if v == nil {
		http.Error(w, "match not attached", http.StatusNotFound)
		return nil, false
	}
	return v, true
}

func (a *API) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, view.ErrInvalidRoster):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, view.ErrUnknownTarget), errors.Is(err, backend.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, view.ErrClosed), errors.Is(err, hub.ErrShutdown):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		a.logger.Warn("request failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func snapshotOf(v *view.View) snapshotResponse {
	u := v.Snapshot()
	return snapshotResponse{Version: u.Version, Connected: u.Connected, State: u.State, Alert: u.Alert}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
