package view

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/livematch/internal/match"
	"github.com/DoyleJ11/livematch/internal/milestone"
	"github.com/DoyleJ11/livematch/internal/push"
	"github.com/DoyleJ11/livematch/internal/reconcile"
)

type viewMsg interface{ isViewMsg() }

type loaded struct {
	state match.State
	err   error
	done  chan struct{}
}

type pushed struct{ env push.Envelope }

type statusChanged struct{ connected bool }

// edit applies a local change and, once applied, schedules its backend write
// from the team as it was before and after the change.
type edit struct {
	change reconcile.LocalEdit
	write  func(before, after match.TeamState)
	reply  chan error
}

type join struct {
	id  string
	out chan Update
}

type leave struct{ id string }

type writeFailed struct {
	kind string
	key  string
	err  error
}

type getStatus struct{ reply chan Status }

type shutdown struct{}

func (loaded) isViewMsg()        {}
func (pushed) isViewMsg()        {}
func (statusChanged) isViewMsg() {}
func (edit) isViewMsg()          {}
func (join) isViewMsg()          {}
func (leave) isViewMsg()         {}
func (writeFailed) isViewMsg()   {}
func (getStatus) isViewMsg()     {}
func (shutdown) isViewMsg()      {}

func (v *View) loop() {
	defer close(v.done)
	for {
		select {
		case <-v.ctx.Done():
			v.shutdown()
			return

		case <-v.alertKick:
			if a := v.detector.Current(); !sameAlert(a, v.alert) {
				v.alert = a
				v.publish()
			}

		case m := <-v.inbox:
			switch msg := m.(type) {
			case loaded:
				v.loadErr = msg.err
				if msg.err == nil || len(msg.state.Teams) > 0 {
					v.apply(reconcile.FullReplace{MatchID: v.id, State: msg.state})
				}
				if v.opts.Push != nil && v.handle == nil {
					v.handle = v.opts.Push.Acquire(v.id, v.onPush, v.onStatus)
					v.connected = v.opts.Push.Connected()
				}
				v.publish()
				close(msg.done)

			case pushed:
				ev, err := push.Decode(msg.env)
				if err != nil {
					pushEvents.WithLabelValues(msg.env.Event, "rejected").Inc()
					v.logger.Info("dropped push event", zap.String("event", msg.env.Event), zap.Error(err))
					break
				}
				pushEvents.WithLabelValues(msg.env.Event, "applied").Inc()
				v.apply(ev)
				if _, full := ev.(reconcile.FullReplace); full && v.loadErr != nil {
					v.logger.Info("initial state recovered from push")
					v.loadErr = nil
				}

			case statusChanged:
				if v.connected != msg.connected {
					v.connected = msg.connected
					v.logger.Info("push status", zap.Bool("connected", msg.connected))
					v.publish()
				}

			case edit:
				team, ok := v.rec.State().Team(msg.change.Team)
				if !ok || (msg.change.PlayerID != "" && team.PlayerIndex(msg.change.PlayerID) < 0) {
					msg.reply <- ErrUnknownTarget
					break
				}
				v.apply(msg.change)
				if msg.write != nil {
					after, _ := v.rec.State().Team(team.Ref())
					msg.write(team, after)
				}
				msg.reply <- nil

			case join:
				v.subs[msg.id] = msg.out
				msg.out <- *v.snap.Load()

			case leave:
				if ch, ok := v.subs[msg.id]; ok {
					close(ch)
					delete(v.subs, msg.id)
				}

			case writeFailed:
				v.lastWriteErr = fmt.Errorf("%s %s: %w", msg.kind, msg.key, msg.err)
				v.lastWriteAt = time.Now()

			case getStatus:
				msg.reply <- v.status()

			case shutdown:
				v.shutdown()
				return
			}
		}
	}
}

// apply runs ev through the reconciler and, if the snapshot changed, through
// the detector, then publishes.
func (v *View) apply(ev reconcile.Event) {
	s, changed := v.rec.Apply(ev)
	if !changed {
		return
	}
	for _, a := range v.detector.Observe(s) {
		alertsRaised.WithLabelValues(string(a.Kind)).Inc()
	}
	v.alert = v.detector.Current()
	v.publish()

	if v.checkpoints != nil {
		v.checkpoints.Batch(v.id, checkpoint{version: v.rec.Version(), state: s}, v.saveCheckpoint)
	}
}

func (v *View) publish() {
	u := Update{
		Version:   v.rec.Version(),
		State:     v.rec.State(),
		Alert:     v.alert,
		Connected: v.connected,
	}
	v.snap.Store(&u)

	for id, ch := range v.subs {
		select {
		case ch <- u:
		default:
			// Slow subscriber; drop it.
			close(ch)
			delete(v.subs, id)
			subscribersDropped.Inc()
			v.logger.Info("dropped slow subscriber", zap.String("subscriber", id))
		}
	}
}

func (v *View) status() Status {
	pending := v.kills.Pending() + v.points.Pending() + v.playerDeaths.Pending() + v.teamDeaths.Pending()
	st := Status{
		MatchID:       v.id,
		Version:       v.rec.Version(),
		Connected:     v.connected,
		Subscribers:   len(v.subs),
		PendingWrites: pending,
		LastWriteAt:   v.lastWriteAt,
	}
	if v.loadErr != nil {
		st.LoadError = v.loadErr.Error()
	}
	if v.lastWriteErr != nil {
		st.LastWriteError = v.lastWriteErr.Error()
	}
	return st
}

func (v *View) shutdown() {
	if v.handle != nil {
		v.handle.Release()
		v.handle = nil
	}
	v.kills.Flush()
	v.points.Flush()
	v.playerDeaths.Flush()
	v.teamDeaths.Flush()
	v.detector.Detach()
	if v.checkpoints != nil {
		v.checkpoints.Flush()
	}

	for id, ch := range v.subs {
		close(ch)
		delete(v.subs, id)
	}
	viewsAttached.Dec()
	v.logger.Info("view closed", zap.Int("version", v.rec.Version()))
	v.cancel()
}

func sameAlert(a, b *milestone.Alert) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID
}
