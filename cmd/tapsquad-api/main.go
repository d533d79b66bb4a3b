package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"tapsquad/internal/api"
	"tapsquad/internal/auth"
	"tapsquad/internal/broadcast"
	"tapsquad/internal/config"
	"tapsquad/internal/db"
	"tapsquad/internal/game"
	"tapsquad/internal/memstore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	var store game.Store
	var health func(context.Context) error
	switch cfg.Store.Driver {
	case config.StoreMemory:
		logger.Warn("using in-memory store, state is lost on restart")
		store = memstore.New()
	default:
		pool, err := db.Connect(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns)
		if err != nil {
			logger.Error("db connect failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Error("db migrate failed", "err", err)
			os.Exit(1)
		}
		pg := db.NewStore(pool)
		store, health = pg, pg.Ping
	}

	gameSvc := game.NewService(store, logger)
	hub := broadcast.NewHub(cfg.ObserverBuffer, logger)
	hub.SetAllowedOrigin(cfg.AllowedOrigin)
	publishers := []broadcast.Publisher{hub}

	if cfg.Store.RedisURL != "" {
		rdb, err := db.ConnectRedis(ctx, cfg.Store.RedisURL)
		if err != nil {
			logger.Error("redis connect failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		origin := uuid.NewString()
		publishers = append(publishers, broadcast.NewRedisPublisher(rdb, cfg.Store.RedisChannel, origin))
		go func() {
			if err := broadcast.RelayRedis(ctx, rdb, cfg.Store.RedisChannel, origin, hub, logger); err != nil {
				logger.Error("redis relay stopped", "err", err)
			}
		}()
	}

	notifier := broadcast.NewNotifier(gameSvc.Projector(), cfg.LeaderboardLimit, logger, publishers...)
	gameSvc.SetNotifier(notifier)
	go notifier.Run(ctx)

	var opts []api.Option
	if health != nil {
		opts = append(opts, api.WithHealthCheck(health))
	}
	server := api.New(cfg, logger, identityResolver(cfg, logger), gameSvc, hub, notifier, opts...)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("tapsquad api listening", "addr", cfg.Addr, "store", cfg.Store.Driver)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func identityResolver(cfg config.APIConfig, logger *slog.Logger) auth.Resolver {
	if cfg.TrustPlayerHeader {
		logger.Warn("trusting the X-Player-ID header, do not expose this api publicly")
	}
	if cfg.DevPlayerID != "" {
		logger.Warn("unauthenticated requests act as the dev player", "player", cfg.DevPlayerID)
	}
	return auth.NewResolver(auth.Options{
		JWTSecret:       cfg.JWTSecret,
		SupabaseURL:     cfg.SupabaseURL,
		SupabaseAnonKey: cfg.SupabaseAnonKey,
		TrustHeader:     cfg.TrustPlayerHeader,
		DevPlayerID:     cfg.DevPlayerID,
	})
}
