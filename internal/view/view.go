package view

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/livematch/internal/backend"
	"github.com/DoyleJ11/livematch/internal/batch"
	"github.com/DoyleJ11/livematch/internal/dispatch"
	"github.com/DoyleJ11/livematch/internal/match"
	"github.com/DoyleJ11/livematch/internal/milestone"
	"github.com/DoyleJ11/livematch/internal/push"
	"github.com/DoyleJ11/livematch/internal/reconcile"
)

var (
	ErrClosed        = errors.New("view closed")
	ErrInvalidRoster = errors.New("roster must have between 1 and 4 players, each with an id")
	ErrUnknownTarget = errors.New("team or player is not in the match")
)

// MaxRoster is the largest team a roster replacement may set.
const MaxRoster = 4

// Checkpointer persists the last good snapshot of a match.
type Checkpointer interface {
	Save(ctx context.Context, matchID string, version int, s match.State) error
	Load(ctx context.Context, matchID string) (match.State, int, error)
}

// Windows are the debounce windows per written field.
type Windows struct {
	Kills       time.Duration
	Points      time.Duration
	PlayerDeath time.Duration
	TeamDeath   time.Duration
	Checkpoint  time.Duration
}

func DefaultWindows() Windows {
	return Windows{
		Kills:       800 * time.Millisecond,
		Points:      time.Second,
		PlayerDeath: 600 * time.Millisecond,
		TeamDeath:   600 * time.Millisecond,
		Checkpoint:  2 * time.Second,
	}
}

type Options struct {
	MatchID    string
	API        backend.API
	Dispatcher *dispatch.Dispatcher
	// Push is optional; without it the view only sees its own edits.
	Push  *push.Manager
	Retry dispatch.Policy
	// Checkpoints is optional.
	Checkpoints Checkpointer
	Windows     Windows
	// Alerts configures the milestone detector. OnChange is owned by the view.
	Alerts milestone.Options
	Logger *zap.Logger
}

// Update is what subscribers receive after every change.
type Update struct {
	Version   int
	State     match.State
	Alert     *milestone.Alert
	Connected bool
}

// Status describes the health of a view.
type Status struct {
	MatchID        string    `json:"matchId"`
	Version        int       `json:"version"`
	Connected      bool      `json:"connected"`
	Subscribers    int       `json:"subscribers"`
	PendingWrites  int       `json:"pendingWrites"`
	LoadError      string    `json:"loadError,omitempty"`
	LastWriteError string    `json:"lastWriteError,omitempty"`
	LastWriteAt    time.Time `json:"lastWriteAt,omitzero"`
}

type checkpoint struct {
	version int
	state   match.State
}

// View is the single writer for one attached match. Push events, operator
// edits and subscriber changes all go through its inbox and are handled on
// one goroutine, so the reconciler never sees two writers.
type View struct {
	id   string
	opts Options

	inbox     chan viewMsg
	alertKick chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	startSem  chan struct{}
	attached  bool // guarded by startSem
	closeOnce sync.Once
	snap      atomic.Pointer[Update]

	// Owned by loop.
	rec          *reconcile.Reconciler
	alert        *milestone.Alert
	connected    bool
	subs         map[string]chan Update
	handle       *push.Handle
	loadErr      error
	lastWriteErr error
	lastWriteAt  time.Time

	detector     *milestone.Detector
	kills        *batch.Batcher[int]
	points       *batch.Batcher[int]
	playerDeaths *batch.Batcher[bool]
	teamDeaths   *batch.Batcher[bool]
	checkpoints  *batch.Batcher[checkpoint]

	logger *zap.Logger
}

func New(parent context.Context, opts Options) (*View, error) {
	if opts.MatchID == "" {
		return nil, errors.New("view: match id is required")
	}
	if opts.API == nil || opts.Dispatcher == nil {
		return nil, errors.New("view: api and dispatcher are required")
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = dispatch.DefaultPolicy()
	}
	if opts.Windows == (Windows{}) {
		opts.Windows = DefaultWindows()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger.Named("view").With(zap.String("match", opts.MatchID))

	ctx, cancel := context.WithCancel(parent)
	v := &View{
		id:        opts.MatchID,
		opts:      opts,
		inbox:     make(chan viewMsg, 64),
		alertKick: make(chan struct{}, 1),
		startSem:  make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		rec:       reconcile.New(opts.MatchID, opts.Logger),
		subs:      make(map[string]chan Update),
		logger:    logger,
	}

	alerts := opts.Alerts
	alerts.Logger = opts.Logger
	alerts.OnChange = func(*milestone.Alert) { v.kickAlert() }
	v.detector = milestone.New(alerts)

	v.kills = batch.New(batch.Options[int]{
		Name: "kills", Window: opts.Windows.Kills, Merge: batch.SumInts,
		Dispatcher: opts.Dispatcher, OnError: v.onWriteError("kills"), Logger: opts.Logger,
	})
	v.points = batch.New(batch.Options[int]{
		Name: "points", Window: opts.Windows.Points,
		Dispatcher: opts.Dispatcher, OnError: v.onWriteError("points"), Logger: opts.Logger,
	})
	v.playerDeaths = batch.New(batch.Options[bool]{
		Name: "player_death", Window: opts.Windows.PlayerDeath,
		Dispatcher: opts.Dispatcher, OnError: v.onWriteError("player_death"), Logger: opts.Logger,
	})
	v.teamDeaths = batch.New(batch.Options[bool]{
		Name: "team_death", Window: opts.Windows.TeamDeath,
		Dispatcher: opts.Dispatcher, OnError: v.onWriteError("team_death"), Logger: opts.Logger,
	})
	if opts.Checkpoints != nil {
		v.checkpoints = batch.New(batch.Options[checkpoint]{
			Name: "checkpoint", Window: opts.Windows.Checkpoint, Logger: opts.Logger,
		})
	}

	v.publish()
	viewsAttached.Inc()
	go v.loop()
	return v, nil
}

func (v *View) MatchID() string { return v.id }

// Start loads the initial state and begins consuming push events. A failed
// backend load falls back to the last checkpoint and is kept as status; the
// view still attaches and waits for the push channel to fill it in.
//
// Concurrent callers wait for the one doing the load. If that caller gives up
// before the view is attached, the next one loads instead, so every caller
// that gets a nil error holds an attached view.
func (v *View) Start(ctx context.Context) error {
	select {
	case v.startSem <- struct{}{}:
	case <-v.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-v.startSem }()
	if v.attached {
		return nil
	}
	v.detector.Attach(v.id)

	st, err := v.load(ctx)
	if err != nil && ctx.Err() != nil {
		return err
	}
	done := make(chan struct{})
	if err := v.send(ctx, loaded{state: st, err: err, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		v.attached = true
		return nil
	case <-v.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (v *View) load(ctx context.Context) (match.State, error) {
	fut := dispatch.Enqueue(v.opts.Dispatcher, func(ctx context.Context) (match.State, error) {
		return dispatch.WithRetry(ctx, v.opts.Retry, func(ctx context.Context) (match.State, error) {
			return v.opts.API.GetMatch(ctx, v.id)
		})
	})
	st, err := fut.Wait(ctx)
	if err == nil {
		return st, nil
	}
	v.logger.Warn("initial load failed", zap.Error(err))
	if v.opts.Checkpoints == nil {
		return match.State{}, err
	}

	cp, version, cerr := v.opts.Checkpoints.Load(ctx, v.id)
	if cerr != nil {
		v.logger.Info("no checkpoint to fall back on", zap.Error(cerr))
		return match.State{}, err
	}
	v.logger.Info("restored from checkpoint", zap.Int("checkpoint_version", version))
	return cp, err
}

// Close flushes pending writes, stops alerting and releases the push handle.
// It is safe to call more than once.
func (v *View) Close() {
	v.closeOnce.Do(func() {
		select {
		case v.inbox <- shutdown{}:
		case <-v.done:
		}
	})
	<-v.done
}

// Done is closed once the view has shut down.
func (v *View) Done() <-chan struct{} { return v.done }

// Snapshot returns the latest published update without going through the inbox.
func (v *View) Snapshot() Update { return *v.snap.Load() }

// Subscribe registers a listener. The current update is delivered first. A
// listener that falls behind is dropped and its channel closed.
func (v *View) Subscribe(ctx context.Context) (string, <-chan Update, error) {
	id := uuid.NewString()
	out := make(chan Update, 16)
	if err := v.send(ctx, join{id: id, out: out}); err != nil {
		return "", nil, err
	}
	return id, out, nil
}

// Unsubscribe removes the listener and closes its channel.
func (v *View) Unsubscribe(id string) {
	_ = v.send(context.Background(), leave{id: id})
}

// Status reports connection, version and write health.
func (v *View) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	if err := v.send(ctx, getStatus{reply: reply}); err != nil {
		return Status{}, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-v.done:
		return Status{}, ErrClosed
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// LastWriteError returns the most recent failed backend write, if any.
func (v *View) LastWriteError(ctx context.Context) error {
	st, err := v.Status(ctx)
	if err != nil {
		return err
	}
	if st.LastWriteError == "" {
		return nil
	}
	return errors.New(st.LastWriteError)
}

func (v *View) send(ctx context.Context, m viewMsg) error {
	select {
	case <-v.done:
		return ErrClosed
	default:
	}
	select {
	case v.inbox <- m:
		return nil
	case <-v.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (v *View) kickAlert() {
	select {
	case v.alertKick <- struct{}{}:
	default:
	}
}

func (v *View) onPush(env push.Envelope) {
	_ = v.send(v.ctx, pushed{env: env})
}

func (v *View) onStatus(connected bool) {
	_ = v.send(v.ctx, statusChanged{connected: connected})
}
