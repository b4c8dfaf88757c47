package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/livematch/internal/match"
)

// API is the subset of the tournament backend this service talks to.
type API interface {
	GetMatch(ctx context.Context, matchID string) (match.State, error)
	GetTeamPlayers(ctx context.Context, matchID, teamID string) ([]match.PlayerState, error)
	PatchPlayerStats(ctx context.Context, matchID, teamID, playerID string, p PlayerStatPatch) error
	PatchTeamPoints(ctx context.Context, matchID, teamID string, points int) error
	PatchTeamDeaths(ctx context.Context, matchID, teamID string, eliminated bool) error
	ReplacePlayers(ctx context.Context, matchID, teamID string, players []match.PlayerState) error
}

// PlayerStatPatch carries either a kill delta or a death flag, or both.
type PlayerStatPatch struct {
	KillDelta  *int  `json:"killDelta,omitempty"`
	Eliminated *bool `json:"eliminated,omitempty"`
}

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// RateLimited reports the backend's slow-down signal.
func (e *StatusError) RateLimited() bool { return e.Code == http.StatusTooManyRequests }

var ErrNotFound = errors.New("not found")

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	HTTP    *http.Client
	Logger  *zap.Logger
}

type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	logger *zap.Logger
}

func New(opts Options) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("backend: invalid base url %q", opts.BaseURL)
	}
	hc := opts.HTTP
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{base: base, token: opts.Token, http: hc, logger: logger.Named("backend")}, nil
}

func (c *Client) GetMatch(ctx context.Context, matchID string) (match.State, error) {
	var s match.State
	if err := c.do(ctx, http.MethodGet, matchPath(matchID), nil, &s); err != nil {
		return match.State{}, err
	}
	if s.ID == "" {
		s.ID = matchID
	}
	return match.NormalizeState(s), nil
}

func (c *Client) GetTeamPlayers(ctx context.Context, matchID, teamID string) ([]match.PlayerState, error) {
	var players []match.PlayerState
	if err := c.do(ctx, http.MethodGet, teamPath(matchID, teamID)+"/players", nil, &players); err != nil {
		return nil, err
	}
	return match.NormalizeTeam(match.TeamState{Players: players}).Players, nil
}

func (c *Client) PatchPlayerStats(ctx context.Context, matchID, teamID, playerID string, p PlayerStatPatch) error {
	path := teamPath(matchID, teamID) + "/players/" + url.PathEscape(playerID) + "/stats"
	return c.do(ctx, http.MethodPatch, path, p, nil)
}

func (c *Client) PatchTeamPoints(ctx context.Context, matchID, teamID string, points int) error {
	body := struct {
		Points int `json:"points"`
	}{Points: points}
	return c.do(ctx, http.MethodPatch, teamPath(matchID, teamID)+"/points", body, nil)
}

func (c *Client) PatchTeamDeaths(ctx context.Context, matchID, teamID string, eliminated bool) error {
	body := struct {
		Eliminated bool `json:"eliminated"`
	}{Eliminated: eliminated}
	return c.do(ctx, http.MethodPatch, teamPath(matchID, teamID)+"/players/deaths", body, nil)
}

func (c *Client) ReplacePlayers(ctx context.Context, matchID, teamID string, players []match.PlayerState) error {
	body := struct {
		Players []match.PlayerState `json:"players"`
	}{Players: players}
	return c.do(ctx, http.MethodPut, teamPath(matchID, teamID)+"/players", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("backend %s %s: encode: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}

	u := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("request", zap.String("method", method), zap.String("path", path),
		zap.Int("status", resp.StatusCode), zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend %s %s: decode: %w", method, path, err)
	}
	return nil
}

func matchPath(matchID string) string { return "/matches/" + url.PathEscape(matchID) }

func teamPath(matchID, teamID string) string {
	return matchPath(matchID) + "/teams/" + url.PathEscape(teamID)
}
