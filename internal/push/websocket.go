package push

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// WSTransport reads envelopes from a websocket endpoint on the backend,
// redialing with capped exponential backoff after any failure.
type WSTransport struct {
	URL        string
	Header     http.Header
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Logger     *zap.Logger
}

func (t *WSTransport) Run(ctx context.Context, deliver func(Envelope), status func(bool)) error {
	logger := t.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("url", t.URL))
	bo := newBackoff(t.MinBackoff, t.MaxBackoff)

	for {
		conn, _, err := websocket.Dial(ctx, t.URL, &websocket.DialOptions{HTTPHeader: t.Header})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			status(false)
			wait := bo.next()
			logger.Warn("push dial failed", zap.Error(err), zap.Duration("retry_in", wait))
			if !sleep(ctx, wait) {
				return nil
			}
			continue
		}

		bo.reset()
		status(true)
		logger.Info("push connected")
		err = readLoop(ctx, conn, deliver, logger)
		conn.Close(websocket.StatusNormalClosure, "bye")
		status(false)
		if ctx.Err() != nil {
			return nil
		}
		logger.Warn("push connection lost", zap.Error(err))
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, deliver func(Envelope), logger *zap.Logger) error {
	conn.SetReadLimit(1 << 20)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.Warn("bad push payload", zap.Error(err))
			continue
		}
		deliver(env)
	}
}

type backoff struct {
	min, max, cur time.Duration
}

func newBackoff(lo, hi time.Duration) *backoff {
	if lo <= 0 {
		lo = 250 * time.Millisecond
	}
	if hi < lo {
		hi = 30 * time.Second
	}
	return &backoff{min: lo, max: hi}
}

func (b *backoff) next() time.Duration {
	if b.cur == 0 {
		b.cur = b.min
	} else {
		b.cur = min(b.cur*2, b.max)
	}
	return b.cur
}

func (b *backoff) reset() { b.cur = 0 }

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
