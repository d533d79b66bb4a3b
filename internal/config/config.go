package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type StoreConfig struct {
	Driver       string
	DatabaseURL  string
	MaxConns     int32
	RedisURL     string
	RedisChannel string
}

type APIConfig struct {
	Addr  string
	Store StoreConfig

	JWTSecret       string
	SupabaseURL     string
	SupabaseAnonKey string
	// TrustPlayerHeader accepts the X-Player-ID header as an identity. It
	// defaults to on only when no token verifier is configured.
	TrustPlayerHeader bool
	DevPlayerID       string

	LeaderboardLimit int
	ObserverBuffer   int
	RequestTimeout   time.Duration
	AllowedOrigin    string
	LogLevel         slog.Level
}

type WorkerConfig struct {
	Store StoreConfig

	ReconcileEvery   time.Duration
	OrphanGrace      time.Duration
	LeaderboardLimit int
	RunOnce          bool
	LogLevel         slog.Level
}

type CLIConfig struct {
	APIBaseURL string
	PlayerID   string
	JWTSecret  string
}

// loadDotEnv reads an optional .env file. Variables already set in the
// environment win.
func loadDotEnv() {
	path := envDefault("TAPSQUAD_ENV_FILE", ".env")
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

func loadStore() (StoreConfig, error) {
	cfg := StoreConfig{
		Driver:       strings.ToLower(envDefault("TAPSQUAD_STORE", StorePostgres)),
		DatabaseURL:  strings.TrimSpace(os.Getenv("DATABASE_URL")),
		MaxConns:     int32(envIntDefault("TAPSQUAD_DB_MAX_CONNS", 20)),
		RedisURL:     strings.TrimSpace(os.Getenv("REDIS_URL")),
		RedisChannel: envDefault("TAPSQUAD_REDIS_CHANNEL", "tapsquad:leaderboard"),
	}
	switch cfg.Driver {
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("DATABASE_URL is required when TAPSQUAD_STORE=%s", StorePostgres)
		}
	case StoreMemory:
	default:
		return cfg, fmt.Errorf("TAPSQUAD_STORE must be %s or %s, got %q", StorePostgres, StoreMemory, cfg.Driver)
	}
	return cfg, nil
}

func LoadAPIFromEnv() (APIConfig, error) {
	loadDotEnv()

	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("TAPSQUAD_API_ADDR", ":3000")
	}

	store, err := loadStore()
	cfg := APIConfig{
		Addr:             addr,
		Store:            store,
		JWTSecret:        strings.TrimSpace(os.Getenv("TAPSQUAD_JWT_SECRET")),
		SupabaseURL:      strings.TrimRight(strings.TrimSpace(os.Getenv("SUPABASE_URL")), "/"),
		SupabaseAnonKey:  strings.TrimSpace(os.Getenv("SUPABASE_ANON_KEY")),
		LeaderboardLimit: envIntDefault("TAPSQUAD_LEADERBOARD_LIMIT", 10),
		ObserverBuffer:   envIntDefault("TAPSQUAD_OBSERVER_BUFFER", 32),
		RequestTimeout:   envDurationDefault("TAPSQUAD_REQUEST_TIMEOUT", 15*time.Second),
		AllowedOrigin:    envDefault("TAPSQUAD_ALLOWED_ORIGIN", "*"),
		LogLevel:         envLevelDefault("TAPSQUAD_LOG_LEVEL", slog.LevelInfo),
	}
	if err != nil {
		return cfg, err
	}
	if (cfg.SupabaseURL == "") != (cfg.SupabaseAnonKey == "") {
		return cfg, fmt.Errorf("SUPABASE_URL and SUPABASE_ANON_KEY must be set together")
	}

	tokens := cfg.JWTSecret != "" || cfg.SupabaseURL != ""
	cfg.TrustPlayerHeader = envBoolDefault("TAPSQUAD_TRUST_PLAYER_HEADER", !tokens)
	devPlayer := ""
	if cfg.Store.Driver == StoreMemory && !tokens {
		devPlayer = "mockUser123"
	}
	cfg.DevPlayerID = envRaw("TAPSQUAD_DEV_PLAYER", devPlayer)
	if cfg.DevPlayerID != "" && !cfg.TrustPlayerHeader {
		return cfg, fmt.Errorf("TAPSQUAD_DEV_PLAYER needs TAPSQUAD_TRUST_PLAYER_HEADER=true")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	loadDotEnv()

	store, err := loadStore()
	cfg := WorkerConfig{
		Store:            store,
		ReconcileEvery:   envDurationDefault("TAPSQUAD_RECONCILE_EVERY", time.Minute),
		OrphanGrace:      envDurationDefault("TAPSQUAD_ORPHAN_GRACE", 30*time.Second),
		LeaderboardLimit: envIntDefault("TAPSQUAD_LEADERBOARD_LIMIT", 10),
		RunOnce:          envBoolDefault("TAPSQUAD_WORKER_RUN_ONCE", false),
		LogLevel:         envLevelDefault("TAPSQUAD_LOG_LEVEL", slog.LevelInfo),
	}
	if err != nil {
		return cfg, err
	}
	if cfg.Store.Driver == StoreMemory {
		return cfg, fmt.Errorf("the worker needs a shared store, TAPSQUAD_STORE=%s has nothing to reconcile", StoreMemory)
	}
	if cfg.ReconcileEvery <= 0 {
		return cfg, fmt.Errorf("TAPSQUAD_RECONCILE_EVERY must be positive")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	loadDotEnv()
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("TAP_API_BASE_URL", "http://localhost:3000"), "/"),
		PlayerID:   strings.TrimSpace(os.Getenv("TAP_PLAYER")),
		JWTSecret:  strings.TrimSpace(os.Getenv("TAPSQUAD_JWT_SECRET")),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// envRaw is like envDefault but an explicitly empty variable stays empty.
func envRaw(key, fallback string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return strings.TrimSpace(v)
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envLevelDefault(key string, fallback slog.Level) slog.Level {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return fallback
	}
	return lvl
}
