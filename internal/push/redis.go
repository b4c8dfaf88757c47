package push

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisTransport consumes envelopes published on a Redis pub/sub channel.
type RedisTransport struct {
	Client     *redis.Client
	Channel    string
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Logger     *zap.Logger
}

func (t *RedisTransport) Run(ctx context.Context, deliver func(Envelope), status func(bool)) error {
	logger := t.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("channel", t.Channel))
	bo := newBackoff(t.MinBackoff, t.MaxBackoff)

	sub := t.Client.Subscribe(ctx, t.Channel)
	defer sub.Close()

	for {
		msg, err := sub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			status(false)
			wait := bo.next()
			logger.Warn("push receive failed", zap.Error(err), zap.Duration("retry_in", wait))
			if !sleep(ctx, wait) {
				return nil
			}
			continue
		}

		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind == "subscribe" {
				bo.reset()
				status(true)
				logger.Info("push subscribed")
			}
		case *redis.Message:
			var env Envelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				logger.Warn("bad push payload", zap.Error(err))
				continue
			}
			deliver(env)
		}
	}
}
