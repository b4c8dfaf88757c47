package reconcile

import (
	"errors"
	"reflect"

	"go.uber.org/zap"

	"github.com/DoyleJ11/livematch/internal/match"
)

// Reconciler owns the canonical snapshot of one attached match. It is not safe
// for concurrent use; callers serialize Apply onto a single goroutine.
type Reconciler struct {
	state   match.State
	version int
	logger  *zap.Logger
}

func New(matchID string, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		state:  match.State{ID: matchID, Teams: []match.TeamState{}},
		logger: logger.Named("reconcile").With(zap.String("match", matchID)),
	}
}

// Apply merges ev and returns the current snapshot along with whether it
// changed. Unaddressable and foreign-match updates are logged and dropped.
func (r *Reconciler) Apply(ev Event) (match.State, bool) {
	next, err := Apply(r.state, ev)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnaddressable):
			r.logger.Info("dropped unaddressable update", zap.String("kind", Kind(ev)), zap.Error(err))
		case errors.Is(err, ErrMatchMismatch):
			r.logger.Debug("ignored update for another match", zap.Error(err))
		default:
			r.logger.Warn("update rejected", zap.String("kind", Kind(ev)), zap.Error(err))
		}
	}
	if reflect.DeepEqual(next, r.state) {
		return r.state, false
	}
	r.state = next
	r.version++
	return r.state, true
}

func (r *Reconciler) State() match.State { return r.state }

func (r *Reconciler) Version() int { return r.version }

func (r *Reconciler) MatchID() string { return r.state.ID }
