package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Rating store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

type AppConfig struct {
	ListenAddr     string
	AllowedOrigins []string
	SendBuffer     int

	RatingStore string
	RedisURL    string
	DatabaseURL string
	SQLiteFile  string

	NatsURL     string
	NatsSubject string

	MatchIdleTimeout  time.Duration
	IdleSweepInterval time.Duration

	RulesetFile string
	MessagesDir string
}

// Load reads the process environment. A .env file in the working directory is
// applied first when present; real environment variables win over it.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds the config from the environment only.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:        ":8080",
		SendBuffer:        64,
		RatingStore:       StoreMemory,
		SQLiteFile:        "matchd.sqlite",
		NatsSubject:       "netplay.matches",
		IdleSweepInterval: 30 * time.Second,
	}

	if v := env("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	cfg.AllowedOrigins = splitList(env("ALLOWED_ORIGINS"))
	if v := env("SEND_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SendBuffer = n
		}
	}

	if v := strings.ToLower(env("RATING_STORE")); v != "" {
		cfg.RatingStore = v
	}
	cfg.RedisURL = env("REDIS_URL")
	cfg.DatabaseURL = env("DATABASE_URL")
	if v := env("SQLITE_FILE"); v != "" {
		cfg.SQLiteFile = v
	}

	cfg.NatsURL = env("NATS_URL")
	if v := env("NATS_SUBJECT"); v != "" {
		cfg.NatsSubject = v
	}

	if v := env("MATCH_IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("MATCH_IDLE_TIMEOUT: invalid duration %q", v)
		}
		cfg.MatchIdleTimeout = d
	}
	if v := env("IDLE_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("IDLE_SWEEP_INTERVAL: invalid duration %q", v)
		}
		cfg.IdleSweepInterval = d
	}

	cfg.RulesetFile = env("RULESET_FILE")
	cfg.MessagesDir = env("MESSAGES_DIR")

	switch cfg.RatingStore {
	case StoreMemory:
	case StoreRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required for RATING_STORE=redis")
		}
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for RATING_STORE=postgres")
		}
	case StoreSQLite:
		if cfg.SQLiteFile == "" {
			return nil, errors.New("SQLITE_FILE is required for RATING_STORE=sqlite")
		}
	default:
		return nil, fmt.Errorf("RATING_STORE: unsupported backend %q", cfg.RatingStore)
	}

	return cfg, nil
}

func env(k string) string { return strings.TrimSpace(os.Getenv(k)) }

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
