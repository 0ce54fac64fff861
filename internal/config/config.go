package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

type AppConfig struct {
	ListenAddr     string
	FeedListenAddr string

	RedisURL    string
	DatabaseURL string

	AllowedOrigins []string

	// Reconnection grace period before a disconnected player is resigned.
	GraceSeconds int
	// Session clock poll interval.
	TickMillis int

	// Matchmaking rating window schedule.
	MMInitialWindow int
	MMWidenStep     int
	MMMaxWindow     int
	MMWidenEverySec int
	MMTimeoutSec    int

	// Rating assigned to players the store has never seen.
	DefaultRating int

	MsgOverrideDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:      ":8080",
		FeedListenAddr:  ":8081",
		GraceSeconds:    60,
		TickMillis:      500,
		MMInitialWindow: 100,
		MMWidenStep:     50,
		MMMaxWindow:     500,
		MMWidenEverySec: 5,
		MMTimeoutSec:    90,
		DefaultRating:   1200,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("FEED_LISTEN_ADDR")); v != "" {
		cfg.FeedListenAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, s)
			}
		}
	}

	if v := strings.TrimSpace(os.Getenv("GRACE_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.GraceSeconds = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("TICK_MILLIS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 50 {
			cfg.TickMillis = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MM_INITIAL_WINDOW")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MMInitialWindow = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MM_WIDEN_STEP")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MMWidenStep = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MM_MAX_WINDOW")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MMMaxWindow = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MM_WIDEN_EVERY_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MMWidenEverySec = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MM_TIMEOUT_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MMTimeoutSec = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DEFAULT_RATING")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DefaultRating = n
		}
	}
	cfg.MsgOverrideDir = strings.TrimSpace(os.Getenv("MSG_OVERRIDE_DIR"))

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	return cfg, nil
}
