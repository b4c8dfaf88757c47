package config

import (
	"os"
	"strconv"
	"time"
)

// FromEnv overlays LIVEMATCH_* environment variables onto cfg. Unparseable
// values are ignored.
func FromEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	str("LIVEMATCH_HTTP_ADDR", &cfg.HTTPAddr)
	str("LIVEMATCH_LOG_LEVEL", &cfg.LogLevel)
	str("LIVEMATCH_LOG_FORMAT", &cfg.LogFormat)

	str("LIVEMATCH_BACKEND_URL", &cfg.BackendURL)
	str("LIVEMATCH_BACKEND_TOKEN", &cfg.BackendToken)
	dur("LIVEMATCH_BACKEND_TIMEOUT", &cfg.BackendTimeout)

	str("LIVEMATCH_PUSH_MODE", &cfg.PushMode)
	str("LIVEMATCH_PUSH_URL", &cfg.PushURL)
	str("LIVEMATCH_REDIS_ADDR", &cfg.RedisAddr)
	str("LIVEMATCH_REDIS_CHANNEL", &cfg.RedisChannel)

	str("LIVEMATCH_DATABASE_URL", &cfg.DatabaseURL)

	num("LIVEMATCH_MAX_ACTIVE", &cfg.MaxActive)
	dur("LIVEMATCH_SPACING", &cfg.Spacing)
	num("LIVEMATCH_RETRY_ATTEMPTS", &cfg.RetryAttempts)
	dur("LIVEMATCH_RETRY_BASE_DELAY", &cfg.RetryBaseDelay)

	dur("LIVEMATCH_KILL_WINDOW", &cfg.KillWindow)
	dur("LIVEMATCH_POINTS_WINDOW", &cfg.PointsWindow)
	dur("LIVEMATCH_PLAYER_DEATH_WINDOW", &cfg.PlayerDeathWindow)
	dur("LIVEMATCH_TEAM_DEATH_WINDOW", &cfg.TeamDeathWindow)
	dur("LIVEMATCH_CHECKPOINT_WINDOW", &cfg.CheckpointWindow)

	dur("LIVEMATCH_KILL_ALERT", &cfg.KillAlert)
	dur("LIVEMATCH_ELIMINATION_ALERT", &cfg.EliminationAlert)
}
