package hub

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/livematch/internal/backend"
	"github.com/DoyleJ11/livematch/internal/dispatch"
	"github.com/DoyleJ11/livematch/internal/match"
	"github.com/DoyleJ11/livematch/internal/view"
)

type stubAPI struct{}

func (stubAPI) GetMatch(ctx context.Context, matchID string) (match.State, error) {
	return match.State{ID: matchID, Teams: []match.TeamState{{ID: "t1", Players: []match.PlayerState{{ID: "p1"}}}}}, nil
}

func (stubAPI) GetTeamPlayers(ctx context.Context, matchID, teamID string) ([]match.PlayerState, error) {
	return nil, backend.ErrNotFound
}

func (stubAPI) PatchPlayerStats(ctx context.Context, matchID, teamID, playerID string, p backend.PlayerStatPatch) error {
	return nil
}

func (stubAPI) PatchTeamPoints(ctx context.Context, matchID, teamID string, points int) error {
	return nil
}

func (stubAPI) PatchTeamDeaths(ctx context.Context, matchID, teamID string, eliminated bool) error {
	return nil
}

func (stubAPI) ReplacePlayers(ctx context.Context, matchID, teamID string, players []match.PlayerState) error {
	return nil
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	d := dispatch.New(context.Background(), dispatch.Options{})
	t.Cleanup(d.Close)
	h := New(context.Background(), func(ctx context.Context, matchID string) (*view.View, error) {
		if matchID == "broken" {
			return nil, errors.New("boom")
		}
		return view.New(ctx, view.Options{
			MatchID:    matchID,
			API:        stubAPI{},
			Dispatcher: d,
			Retry:      dispatch.Policy{MaxAttempts: 1},
		})
	}, nil)
	t.Cleanup(h.Shutdown)
	return h
}

func TestHub_Acquire_Get_SamePointer(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	v1, err := h.Acquire(ctx, "ZED123")
	require.NoError(t, err)
	v2, err := h.Acquire(ctx, "ZED123")
	require.NoError(t, err)

	if v1 == nil || v1 != v2 || h.Get("ZED123") != v1 {
		t.Fatalf("expected same view pointer")
	}
	assert.Len(t, v1.Snapshot().State.Teams, 1, "started views are loaded")
	assert.Equal(t, []Attached{{MatchID: "ZED123", Refs: 2}}, h.List())
}

func TestHub_ReleaseClosesAtZero(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	v, err := h.Acquire(ctx, "m1")
	require.NoError(t, err)
	_, err = h.Acquire(ctx, "m1")
	require.NoError(t, err)

	h.Release("m1")
	assert.NotNil(t, h.Get("m1"))
	select {
	case <-v.Done():
		t.Fatalf("view closed while still referenced")
	default:
	}

	h.Release("m1")
	assert.Nil(t, h.Get("m1"))
	select {
	case <-v.Done():
	case <-time.After(time.Second):
		t.Fatalf("view not closed after last release")
	}

	h.Release("m1")
	assert.Empty(t, h.List())
}

func TestHub_FactoryError(t *testing.T) {
	h := newTestHub(t)
	_, err := h.Acquire(context.Background(), "broken")
	assert.EqualError(t, err, "boom")
	assert.Nil(t, h.Get("broken"))
}

func TestHub_ShutdownClosesViews(t *testing.T) {
	h := newTestHub(t)
	v, err := h.Acquire(context.Background(), "m1")
	require.NoError(t, err)

	h.Shutdown()
	select {
	case <-v.Done():
	case <-time.After(time.Second):
		t.Fatalf("view not closed on shutdown")
	}

	_, err = h.Acquire(context.Background(), "m2")
	assert.ErrorIs(t, err, ErrShutdown)
	assert.Nil(t, h.Get("m1"))
}

// stallingAPI holds the first GetMatch until release is closed.
type stallingAPI struct {
	stubAPI
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (a *stallingAPI) GetMatch(ctx context.Context, matchID string) (match.State, error) {
	if a.calls.Add(1) == 1 {
		close(a.entered)
		<-a.release
		return match.State{}, errors.New("too late")
	}
	return a.stubAPI.GetMatch(ctx, matchID)
}

func TestHub_AbandonedStartDoesNotStrandOtherHolders(t *testing.T) {
	api := &stallingAPI{entered: make(chan struct{}), release: make(chan struct{})}
	defer close(api.release)

	d := dispatch.New(context.Background(), dispatch.Options{})
	t.Cleanup(d.Close)
	h := New(context.Background(), func(ctx context.Context, matchID string) (*view.View, error) {
		return view.New(ctx, view.Options{
			MatchID:    matchID,
			API:        api,
			Dispatcher: d,
			Retry:      dispatch.Policy{MaxAttempts: 1},
		})
	}, nil)
	t.Cleanup(h.Shutdown)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := h.Acquire(ctxA, "m1")
		errA <- err
	}()
	<-api.entered

	type result struct {
		v   *view.View
		err error
	}
	resB := make(chan result, 1)
	go func() {
		v, err := h.Acquire(context.Background(), "m1")
		resB <- result{v, err}
	}()
	require.Eventually(t, func() bool {
		l := h.List()
		return len(l) == 1 && l[0].Refs == 2
	}, time.Second, 5*time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatalf("first acquire did not give up")
	}

	select {
	case res := <-resB:
		require.NoError(t, res.err)
		assert.Len(t, res.v.Snapshot().State.Teams, 1, "the remaining holder gets a loaded view")
	case <-time.After(2 * time.Second):
		t.Fatalf("second acquire never finished")
	}
	assert.Equal(t, []Attached{{MatchID: "m1", Refs: 1}}, h.List())
}
