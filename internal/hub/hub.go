package hub

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/DoyleJ11/livematch/internal/view"
)

var ErrShutdown = errors.New("hub shut down")

// Factory builds an unstarted view for matchID.
type Factory func(ctx context.Context, matchID string) (*view.View, error)

type hubMsg interface{ isHubMsg() }

type acquireView struct {
	MatchID string
	Reply   chan acquired
}

type acquired struct {
	view *view.View
	err  error
}

type releaseView struct {
	MatchID string
	Done    chan struct{}
}

type getView struct {
	MatchID string
	Reply   chan *view.View
}

type listViews struct {
	Reply chan []Attached
}

type shutdownHub struct {
	Done chan struct{}
}

func (acquireView) isHubMsg() {}
func (releaseView) isHubMsg() {}
func (getView) isHubMsg()     {}
func (listViews) isHubMsg()   {}
func (shutdownHub) isHubMsg() {}

// Attached describes one live view.
type Attached struct {
	MatchID string `json:"matchId"`
	Refs    int    `json:"refs"`
}

type entry struct {
	view *view.View
	refs int
}

// Hub owns every attached view, keyed by match id, and closes a view once its
// last holder releases it.
type Hub struct {
	inbox   chan hubMsg
	views   map[string]*entry
	newView Factory
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	logger  *zap.Logger
}

func New(parent context.Context, newView Factory, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan hubMsg, 64),
		views:   make(map[string]*entry),
		newView: newView,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  logger.Named("hub"),
	}
	go h.loop()
	return h
}

// Acquire returns the view for matchID, creating and starting it on first
// use. Every successful Acquire must be paired with a Release.
func (h *Hub) Acquire(ctx context.Context, matchID string) (*view.View, error) {
	reply := make(chan acquired, 1)
	if err := h.send(ctx, acquireView{MatchID: matchID, Reply: reply}); err != nil {
		return nil, err
	}
	var res acquired
	select {
	case res = <-reply:
	case <-h.done:
		return nil, ErrShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}
	if err := res.view.Start(ctx); err != nil {
		h.Release(matchID)
		return nil, err
	}
	return res.view, nil
}

// Release drops one reference; the view is closed when none remain.
func (h *Hub) Release(matchID string) {
	done := make(chan struct{})
	if h.send(context.Background(), releaseView{MatchID: matchID, Done: done}) == nil {
		h.wait(done)
	}
}

// Get returns the view for matchID without taking a reference, or nil.
func (h *Hub) Get(matchID string) *view.View {
	reply := make(chan *view.View, 1)
	if h.send(context.Background(), getView{MatchID: matchID, Reply: reply}) != nil {
		return nil
	}
	select {
	case v := <-reply:
		return v
	case <-h.done:
		return nil
	}
}

// List returns the attached matches, sorted by id.
func (h *Hub) List() []Attached {
	reply := make(chan []Attached, 1)
	if h.send(context.Background(), listViews{Reply: reply}) != nil {
		return nil
	}
	select {
	case out := <-reply:
		return out
	case <-h.done:
		return nil
	}
}

// Shutdown closes every view and stops the hub.
func (h *Hub) Shutdown() {
	done := make(chan struct{})
	if h.send(context.Background(), shutdownHub{Done: done}) == nil {
		h.wait(done)
	}
	<-h.done
}

func (h *Hub) wait(done <-chan struct{}) {
	select {
	case <-done:
	case <-h.done:
	}
}

func (h *Hub) send(ctx context.Context, m hubMsg) error {
	select {
	case <-h.done:
		return ErrShutdown
	default:
	}
	select {
	case h.inbox <- m:
		return nil
	case <-h.done:
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case acquireView:
				if e := h.views[msg.MatchID]; e != nil {
					e.refs++
					msg.Reply <- acquired{view: e.view}
					break
				}
				v, err := h.newView(h.ctx, msg.MatchID)
				if err != nil {
					msg.Reply <- acquired{err: err}
					break
				}
				h.views[msg.MatchID] = &entry{view: v, refs: 1}
				h.logger.Info("view attached", zap.String("match", msg.MatchID))
				msg.Reply <- acquired{view: v}

			case releaseView:
				if e := h.views[msg.MatchID]; e != nil {
					e.refs--
					if e.refs <= 0 {
						delete(h.views, msg.MatchID)
						e.view.Close()
						h.logger.Info("view detached", zap.String("match", msg.MatchID))
					}
				}
				close(msg.Done)

			case getView:
				if e := h.views[msg.MatchID]; e != nil {
					msg.Reply <- e.view
				} else {
					msg.Reply <- nil
				}

			case listViews:
				out := make([]Attached, 0, len(h.views))
				for id, e := range h.views {
					out = append(out, Attached{MatchID: id, Refs: e.refs})
				}
				sort.Slice(out, func(i, j int) bool { return out[i].MatchID < out[j].MatchID })
				msg.Reply <- out

			case shutdownHub:
				h.closeAll()
				close(msg.Done)
				h.cancel()
				return
			}
		}
	}
}

func (h *Hub) closeAll() {
	for id, e := range h.views {
		e.view.Close()
		delete(h.views, id)
	}
}
