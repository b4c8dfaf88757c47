package view

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/livematch/internal/backend"
	"github.com/DoyleJ11/livematch/internal/dispatch"
	"github.com/DoyleJ11/livematch/internal/match"
	"github.com/DoyleJ11/livematch/internal/milestone"
	"github.com/DoyleJ11/livematch/internal/push"
)

type statCall struct {
	team, player string
	patch        backend.PlayerStatPatch
}

type fakeAPI struct {
	mu       sync.Mutex
	state    match.State
	getErr   error
	writeErr error

	stats   []statCall
	points  map[string]int
	deaths  map[string]bool
	rosters map[string][]match.PlayerState
}

func newFakeAPI(s match.State) *fakeAPI {
	return &fakeAPI{
		state:   s,
		points:  map[string]int{},
		deaths:  map[string]bool{},
		rosters: map[string][]match.PlayerState{},
	}
}

func (f *fakeAPI) GetMatch(ctx context.Context, matchID string) (match.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, f.getErr
}

func (f *fakeAPI) GetTeamPlayers(ctx context.Context, matchID, teamID string) ([]match.PlayerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.state.Team(match.TeamRef{ID: teamID}); ok {
		return t.Players, nil
	}
	return nil, backend.ErrNotFound
}

func (f *fakeAPI) PatchPlayerStats(ctx context.Context, matchID, teamID, playerID string, p backend.PlayerStatPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = append(f.stats, statCall{team: teamID, player: playerID, patch: p})
	return f.writeErr
}

func (f *fakeAPI) PatchTeamPoints(ctx context.Context, matchID, teamID string, points int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points[teamID] = points
	return f.writeErr
}

func (f *fakeAPI) PatchTeamDeaths(ctx context.Context, matchID, teamID string, eliminated bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deaths[teamID] = eliminated
	return f.writeErr
}

func (f *fakeAPI) ReplacePlayers(ctx context.Context, matchID, teamID string, players []match.PlayerState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rosters[teamID] = players
	return f.writeErr
}

func (f *fakeAPI) statCalls() []statCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]statCall(nil), f.stats...)
}

type fakeTransport struct{ feed chan push.Envelope }

func (f *fakeTransport) Run(ctx context.Context, deliver func(push.Envelope), status func(bool)) error {
	status(true)
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-f.feed:
			deliver(env)
		}
	}
}

type fakeCheckpoints struct {
	mu    sync.Mutex
	saved map[string]match.State
}

func (c *fakeCheckpoints) Save(ctx context.Context, matchID string, version int, s match.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved[matchID] = s
	return nil
}

func (c *fakeCheckpoints) Load(ctx context.Context, matchID string) (match.State, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.saved[matchID]
	if !ok {
		return match.State{}, 0, errors.New("missing")
	}
	return s, 1, nil
}

func twoPlayerMatch() match.State {
	return match.State{ID: "m1", Teams: []match.TeamState{{
		ID:  "T",
		Tag: "TTT",
		Players: []match.PlayerState{
			{ID: "A", Name: "alpha"},
			{ID: "B", Name: "bravo"},
		},
	}}}
}

var fastWindows = Windows{
	Kills:       100 * time.Millisecond,
	Points:      30 * time.Millisecond,
	PlayerDeath: 30 * time.Millisecond,
	TeamDeath:   30 * time.Millisecond,
	Checkpoint:  30 * time.Millisecond,
}

type harness struct {
	view *View
	api  *fakeAPI
	feed chan push.Envelope
	mgr  *push.Manager
}

func newHarness(t *testing.T, api *fakeAPI, mutate func(*Options)) *harness {
	t.Helper()
	ctx := context.Background()
	ft := &fakeTransport{feed: make(chan push.Envelope)}
	mgr := push.NewManager(ctx, ft, nil)
	d := dispatch.New(ctx, dispatch.Options{Spacing: time.Millisecond})
	t.Cleanup(d.Close)

	opts := Options{
		MatchID:    "m1",
		API:        api,
		Dispatcher: d,
		Push:       mgr,
		Retry:      dispatch.Policy{MaxAttempts: 1},
		Windows:    fastWindows,
		Alerts:     milestone.Options{KillAlert: time.Minute, EliminationAlert: time.Minute},
	}
	if mutate != nil {
		mutate(&opts)
	}
	v, err := New(ctx, opts)
	require.NoError(t, err)
	t.Cleanup(v.Close)
	require.NoError(t, v.Start(ctx))
	return &harness{view: v, api: api, feed: ft.feed, mgr: mgr}
}

func (h *harness) push(t *testing.T, env push.Envelope) {
	t.Helper()
	env.MatchID = "m1"
	select {
	case h.feed <- env:
	case <-time.After(2 * time.Second):
		t.Fatalf("push transport not consuming")
	}
}

func recvUpdate(t *testing.T, ch <-chan Update, until func(Update) bool) Update {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-ch:
			if !ok {
				t.Fatalf("subscription closed")
			}
			if until(u) {
				return u
			}
		case <-deadline:
			t.Fatalf("timed out waiting for update")
		}
	}
}

func playerKills(u Update, team, player string) int {
	tm, ok := u.State.Team(match.TeamRef{ID: team})
	if !ok {
		return -1
	}
	i := tm.PlayerIndex(player)
	if i < 0 {
		return -1
	}
	return tm.Players[i].Kills
}

func TestView_FirstBloodThenEliminationOnce(t *testing.T) {
	h := newHarness(t, newFakeAPI(twoPlayerMatch()), nil)
	_, updates, err := h.view.Subscribe(context.Background())
	require.NoError(t, err)
	recvUpdate(t, updates, func(u Update) bool { return u.Connected })

	h.push(t, push.Envelope{Event: push.EventPlayerPatch, TeamID: "T", PlayerID: "A", Data: json.RawMessage(`{"killNum":1}`)})
	u := recvUpdate(t, updates, func(u Update) bool { return u.Alert != nil })
	assert.Equal(t, milestone.KindFirstBlood, u.Alert.Kind)
	assert.Equal(t, "A", u.Alert.PlayerID)
	firstBlood := u.Alert.ID

	h.push(t, push.Envelope{Event: push.EventPlayerPatch, TeamID: "T", PlayerID: "B", Data: json.RawMessage(`{"killNum":1}`)})
	u = recvUpdate(t, updates, func(u Update) bool { return playerKills(u, "T", "B") == 1 })
	require.NotNil(t, u.Alert)
	assert.Equal(t, firstBlood, u.Alert.ID, "first blood fires once")

	wipe := push.Envelope{Event: push.EventTeamStatsBulk, TeamID: "T", Data: json.RawMessage(`{"liveStatus":5}`)}
	h.push(t, wipe)
	u = recvUpdate(t, updates, func(u Update) bool {
		return u.Alert != nil && u.Alert.Kind == milestone.KindTeamEliminated
	})
	elimination := u.Alert.ID
	version := u.Version

	h.push(t, wipe)
	h.push(t, push.Envelope{Event: push.EventTeamPoints, TeamID: "T", Data: json.RawMessage(`{"points":9}`)})
	u = recvUpdate(t, updates, func(u Update) bool { return len(u.State.Teams) == 1 && u.State.Teams[0].Points == 9 })
	assert.Equal(t, version+1, u.Version, "repeated wipe is a no-op")
	assert.Equal(t, elimination, u.Alert.ID)
}

func TestView_KillEditsAreOptimisticAndSummed(t *testing.T) {
	api := newFakeAPI(twoPlayerMatch())
	h := newHarness(t, api, nil)
	ctx := context.Background()

	require.NoError(t, h.view.AddKills(ctx, "T", "A", 1))
	require.NoError(t, h.view.AddKills(ctx, "T", "A", 1))
	assert.Equal(t, 2, playerKills(h.view.Snapshot(), "T", "A"))

	require.Eventually(t, func() bool { return len(api.statCalls()) == 1 }, time.Second, 5*time.Millisecond)
	call := api.statCalls()[0]
	assert.Equal(t, "A", call.player)
	require.NotNil(t, call.patch.KillDelta)
	assert.Equal(t, 2, *call.patch.KillDelta)
	assert.Nil(t, call.patch.Eliminated)
}

func TestView_KillWritesMatchTheClampedLocalCount(t *testing.T) {
	api := newFakeAPI(twoPlayerMatch())
	h := newHarness(t, api, nil)
	ctx := context.Background()

	// Already at zero: nothing changes locally, so nothing is written.
	require.NoError(t, h.view.AddKills(ctx, "T", "A", -1))
	require.NoError(t, h.view.AddKills(ctx, "T", "A", 1))
	assert.Equal(t, 1, playerKills(h.view.Snapshot(), "T", "A"))

	require.Eventually(t, func() bool { return len(api.statCalls()) == 1 }, time.Second, 5*time.Millisecond)
	require.NotNil(t, api.statCalls()[0].patch.KillDelta)
	assert.Equal(t, 1, *api.statCalls()[0].patch.KillDelta)

	require.NoError(t, h.view.AddKills(ctx, "T", "A", -5))
	assert.Equal(t, 0, playerKills(h.view.Snapshot(), "T", "A"))

	require.Eventually(t, func() bool { return len(api.statCalls()) == 2 }, time.Second, 5*time.Millisecond)
	require.NotNil(t, api.statCalls()[1].patch.KillDelta)
	assert.Equal(t, -1, *api.statCalls()[1].patch.KillDelta)
}

func TestView_TeamEdits(t *testing.T) {
	api := newFakeAPI(twoPlayerMatch())
	h := newHarness(t, api, nil)
	ctx := context.Background()

	require.NoError(t, h.view.SetTeamPoints(ctx, "T", 4))
	require.NoError(t, h.view.SetTeamPoints(ctx, "T", 7))
	require.NoError(t, h.view.SetTeamEliminated(ctx, "T", true))
	require.NoError(t, h.view.SetPlayerEliminated(ctx, "T", "B", false))

	snap := h.view.Snapshot()
	team := snap.State.Teams[0]
	assert.Equal(t, 7, team.Points)
	assert.True(t, team.Players[0].Out)
	assert.False(t, team.Players[1].Out)

	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.points["T"] == 7 && api.deaths["T"] && len(api.stats) == 1
	}, time.Second, 5*time.Millisecond)
	assert.False(t, *api.statCalls()[0].patch.Eliminated)
}

func TestView_UnknownTarget(t *testing.T) {
	h := newHarness(t, newFakeAPI(twoPlayerMatch()), nil)
	ctx := context.Background()

	assert.ErrorIs(t, h.view.AddKills(ctx, "nope", "A", 1), ErrUnknownTarget)
	assert.ErrorIs(t, h.view.AddKills(ctx, "T", "nope", 1), ErrUnknownTarget)
	assert.ErrorIs(t, h.view.SetTeamPoints(ctx, "nope", 1), ErrUnknownTarget)
}

func TestView_ReplaceRoster(t *testing.T) {
	api := newFakeAPI(twoPlayerMatch())
	h := newHarness(t, api, nil)
	ctx := context.Background()

	five := make([]match.PlayerState, 5)
	for i := range five {
		five[i] = match.PlayerState{ID: string(rune('a' + i))}
	}
	assert.ErrorIs(t, h.view.ReplaceRoster(ctx, "T", nil), ErrInvalidRoster)
	assert.ErrorIs(t, h.view.ReplaceRoster(ctx, "T", five), ErrInvalidRoster)
	assert.ErrorIs(t, h.view.ReplaceRoster(ctx, "T", []match.PlayerState{{Name: "no id"}}), ErrInvalidRoster)

	roster := []match.PlayerState{{ID: "C", Name: "charlie"}, {ID: "D", Name: "delta", LiveStatus: match.StatusDead}}
	require.NoError(t, h.view.ReplaceRoster(ctx, "T", roster))

	team := h.view.Snapshot().State.Teams[0]
	require.Len(t, team.Players, 2)
	assert.Equal(t, "C", team.Players[0].ID)
	assert.True(t, team.Players[1].Out)

	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return len(api.rosters["T"]) == 2
	}, time.Second, 5*time.Millisecond)

	players, err := h.view.TeamPlayers(ctx, "T")
	require.NoError(t, err)
	assert.Len(t, players, 2)
}

func TestView_FailedWriteIsNotRolledBack(t *testing.T) {
	api := newFakeAPI(twoPlayerMatch())
	api.writeErr = &backend.StatusError{Method: "PATCH", Path: "/x", Code: 500}
	h := newHarness(t, api, nil)
	ctx := context.Background()

	require.NoError(t, h.view.AddKills(ctx, "T", "A", 3))

	require.Eventually(t, func() bool {
		return h.view.LastWriteError(ctx) != nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, playerKills(h.view.Snapshot(), "T", "A"))

	st, err := h.view.Status(ctx)
	require.NoError(t, err)
	assert.Contains(t, st.LastWriteError, "kills")
	assert.False(t, st.LastWriteAt.IsZero())
}

func TestView_LoadFallsBackToCheckpoint(t *testing.T) {
	api := newFakeAPI(match.State{})
	api.getErr = errors.New("connection refused")
	cps := &fakeCheckpoints{saved: map[string]match.State{"m1": twoPlayerMatch()}}

	h := newHarness(t, api, func(o *Options) { o.Checkpoints = cps })
	ctx := context.Background()

	st, err := h.view.Status(ctx)
	require.NoError(t, err)
	assert.Contains(t, st.LoadError, "connection refused")
	require.Len(t, h.view.Snapshot().State.Teams, 1)

	require.NoError(t, h.view.AddKills(ctx, "T", "B", 1))
	require.Eventually(t, func() bool {
		cps.mu.Lock()
		defer cps.mu.Unlock()
		s := cps.saved["m1"]
		return len(s.Teams) == 1 && s.Teams[0].Players[1].Kills == 1
	}, time.Second, 5*time.Millisecond)
}

func TestView_PushedMatchStateClearsLoadError(t *testing.T) {
	api := newFakeAPI(match.State{})
	api.getErr = errors.New("connection refused")
	h := newHarness(t, api, nil)
	ctx := context.Background()

	st, err := h.view.Status(ctx)
	require.NoError(t, err)
	assert.Contains(t, st.LoadError, "connection refused")
	assert.Empty(t, h.view.Snapshot().State.Teams)

	b, err := json.Marshal(twoPlayerMatch())
	require.NoError(t, err)
	h.push(t, push.Envelope{Event: push.EventMatchState, Data: b})

	require.Eventually(t, func() bool {
		st, err := h.view.Status(ctx)
		return err == nil && st.LoadError == ""
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, h.view.Snapshot().State.Teams, 1)
}

func TestView_CloseFlushesAndReleases(t *testing.T) {
	api := newFakeAPI(twoPlayerMatch())
	h := newHarness(t, api, func(o *Options) {
		o.Windows = Windows{Kills: time.Hour, Points: time.Hour, PlayerDeath: time.Hour, TeamDeath: time.Hour, Checkpoint: time.Hour}
	})
	ctx := context.Background()
	_, updates, err := h.view.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, h.view.AddKills(ctx, "T", "A", 1))
	require.Eventually(t, func() bool { return h.mgr.Refs() == 1 }, time.Second, time.Millisecond)

	h.view.Close()
	h.view.Close()

	assert.Equal(t, 0, h.mgr.Refs())
	require.Eventually(t, func() bool { return len(api.statCalls()) == 1 }, time.Second, 5*time.Millisecond)

	for range updates {
	}
	assert.ErrorIs(t, h.view.AddKills(ctx, "T", "A", 1), ErrClosed)
}

func TestView_DropsSlowSubscriber(t *testing.T) {
	h := newHarness(t, newFakeAPI(twoPlayerMatch()), nil)
	ctx := context.Background()
	_, updates, err := h.view.Subscribe(ctx)
	require.NoError(t, err)

	for i := 0; i < 40; i++ {
		require.NoError(t, h.view.AddKills(ctx, "T", "A", 1))
	}

	received := 0
	for range updates {
		received++
	}
	assert.LessOrEqual(t, received, 16)
	st, err := h.view.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Subscribers)
}
