package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
)

// Push transports.
const (
	PushWebsocket = "ws"
	PushRedis     = "redis"
	PushNone      = "none"
)

// Config is everything the server needs, loaded from defaults, .env and env.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	BackendURL     string
	BackendToken   string
	BackendTimeout time.Duration

	PushMode     string
	PushURL      string
	RedisAddr    string
	RedisChannel string

	// DatabaseURL enables checkpoints when set.
	DatabaseURL string

	MaxActive      int
	Spacing        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration

	KillWindow        time.Duration
	PointsWindow      time.Duration
	PlayerDeathWindow time.Duration
	TeamDeathWindow   time.Duration
	CheckpointWindow  time.Duration

	KillAlert        time.Duration
	EliminationAlert time.Duration
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		HTTPAddr:       ":8080",
		LogLevel:       "info",
		LogFormat:      "json",
		BackendURL:     "http://localhost:3000/api",
		BackendTimeout: 10 * time.Second,
		PushMode:       PushWebsocket,
		PushURL:        "ws://localhost:3000/push",
		RedisAddr:      "localhost:6379",
		RedisChannel:   "livematch",

		MaxActive:      3,
		Spacing:        100 * time.Millisecond,
		RetryAttempts:  3,
		RetryBaseDelay: time.Second,

		KillWindow:        800 * time.Millisecond,
		PointsWindow:      time.Second,
		PlayerDeathWindow: 600 * time.Millisecond,
		TeamDeathWindow:   600 * time.Millisecond,
		CheckpointWindow:  2 * time.Second,

		KillAlert:        5 * time.Second,
		EliminationAlert: 10 * time.Second,
	}
}

// Load reads an optional .env file and overlays LIVEMATCH_* variables onto
// the defaults. A missing .env file is not an error.
func Load(dotenv string) (Config, error) {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}
	cfg := Default()
	FromEnv(&cfg)
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.BackendURL == "" {
		errs = append(errs, errors.New("backend url is required"))
	}
	switch c.PushMode {
	case PushWebsocket:
		if c.PushURL == "" {
			errs = append(errs, errors.New("push url is required for ws push"))
		}
	case PushRedis:
		if c.RedisAddr == "" || c.RedisChannel == "" {
			errs = append(errs, errors.New("redis addr and channel are required for redis push"))
		}
	case PushNone:
	default:
		errs = append(errs, fmt.Errorf("unknown push mode %q", c.PushMode))
	}
	if c.MaxActive < 1 {
		errs = append(errs, errors.New("max active must be at least 1"))
	}
	if c.RetryAttempts < 1 {
		errs = append(errs, errors.New("retry attempts must be at least 1"))
	}
	return errors.Join(errs...)
}
