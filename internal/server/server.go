package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/livematch/internal/backend"
	"github.com/DoyleJ11/livematch/internal/config"
	"github.com/DoyleJ11/livematch/internal/dispatch"
	"github.com/DoyleJ11/livematch/internal/httpapi"
	"github.com/DoyleJ11/livematch/internal/hub"
	"github.com/DoyleJ11/livematch/internal/milestone"
	"github.com/DoyleJ11/livematch/internal/push"
	"github.com/DoyleJ11/livematch/internal/store"
	"github.com/DoyleJ11/livematch/internal/view"
)

const shutdownTimeout = 10 * time.Second

// Run wires the service from cfg and serves HTTP until ctx is done.
func Run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
	}
	return Serve(ctx, ln, cfg, logger)
}

// Serve is Run on an existing listener.
func Serve(ctx context.Context, ln net.Listener, cfg config.Config, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	// The dispatcher and hub outlive ctx; the shutdown watcher drains them.
	d := dispatch.New(context.Background(), dispatch.Options{MaxActive: cfg.MaxActive, Spacing: cfg.Spacing, Logger: logger})
	defer d.Close()

	api, err := backend.New(backend.Options{
		BaseURL: cfg.BackendURL,
		Token:   cfg.BackendToken,
		Timeout: cfg.BackendTimeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	transport, closeTransport, err := newTransport(cfg, logger)
	if err != nil {
		return err
	}
	defer closeTransport()
	var mgr *push.Manager
	if transport != nil {
		mgr = push.NewManager(ctx, transport, logger)
	}

	var checkpoints view.Checkpointer
	if cfg.DatabaseURL != "" {
		st, err := store.Open(cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.AutoMigrate(ctx); err != nil {
			return fmt.Errorf("migrate checkpoints: %w", err)
		}
		checkpoints = st
		logger.Info("checkpoints enabled")
	}

	opts := view.Options{
		API:         api,
		Dispatcher:  d,
		Push:        mgr,
		Retry:       dispatch.Policy{MaxAttempts: cfg.RetryAttempts, BaseDelay: cfg.RetryBaseDelay},
		Checkpoints: checkpoints,
		Windows: view.Windows{
			Kills:       cfg.KillWindow,
			Points:      cfg.PointsWindow,
			PlayerDeath: cfg.PlayerDeathWindow,
			TeamDeath:   cfg.TeamDeathWindow,
			Checkpoint:  cfg.CheckpointWindow,
		},
		Alerts: milestone.Options{KillAlert: cfg.KillAlert, EliminationAlert: cfg.EliminationAlert},
		Logger: logger,
	}
	h := hub.New(context.Background(), func(ctx context.Context, matchID string) (*view.View, error) {
		o := opts
		o.MatchID = matchID
		return view.New(ctx, o)
	}, logger)

	srv := &http.Server{
		Handler:           httpapi.SetupRoutes(h, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", ln.Addr().String()), zap.String("push", cfg.PushMode))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		h.Shutdown()
		if derr := d.Drain(shutdownCtx); derr != nil {
			logger.Warn("pending writes not drained", zap.Int("queued", d.Pending()), zap.Int("active", d.Active()), zap.Error(derr))
		}
		d.Close()
		if mgr != nil {
			mgr.Wait()
		}
		logger.Info("stopped")
		return err
	})
	return g.Wait()
}

func newTransport(cfg config.Config, logger *zap.Logger) (push.Transport, func(), error) {
	switch cfg.PushMode {
	case config.PushWebsocket:
		header := http.Header{}
		if cfg.BackendToken != "" {
			header.Set("Authorization", "Bearer "+cfg.BackendToken)
		}
		return &push.WSTransport{URL: cfg.PushURL, Header: header, Logger: logger}, func() {}, nil
	case config.PushRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		closer := func() { _ = rdb.Close() }
		return &push.RedisTransport{Client: rdb, Channel: cfg.RedisChannel, Logger: logger}, closer, nil
	case config.PushNone:
		return nil, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown push mode %q", cfg.PushMode)
	}
}
