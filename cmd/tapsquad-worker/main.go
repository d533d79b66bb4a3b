package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"tapsquad/internal/broadcast"
	"tapsquad/internal/config"
	"tapsquad/internal/db"
	"tapsquad/internal/game"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
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

	svc := game.NewService(db.NewStore(pool), logger)

	// Repairs change squad names on the leaderboard. Without redis there is
	// no observer in this process to tell.
	var notifier *broadcast.Notifier
	if cfg.Store.RedisURL != "" {
		rdb, err := db.ConnectRedis(ctx, cfg.Store.RedisURL)
		if err != nil {
			logger.Error("redis connect failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		pub := broadcast.NewRedisPublisher(rdb, cfg.Store.RedisChannel, "worker-"+uuid.NewString())
		notifier = broadcast.NewNotifier(svc.Projector(), cfg.LeaderboardLimit, logger, pub)
	}

	if cfg.RunOnce {
		if err := runPass(ctx, svc, notifier, cfg.OrphanGrace, logger); err != nil {
			logger.Error("reconcile failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.ReconcileEvery)
	defer ticker.Stop()

	logger.Info("worker started", "reconcile_every", cfg.ReconcileEvery.String(), "orphan_grace", cfg.OrphanGrace.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			if err := runPass(ctx, svc, notifier, cfg.OrphanGrace, logger); err != nil {
				logger.Error("reconcile failed", "err", err)
			}
		}
	}
}

func runPass(ctx context.Context, svc *game.Service, notifier *broadcast.Notifier, grace time.Duration, logger *slog.Logger) error {
	report, err := svc.Reconcile(ctx, grace)
	if err != nil {
		return err
	}
	logger.Info("reconcile complete",
		"healed_players", report.HealedPlayers,
		"pruned_members", report.PrunedMembers,
		"disbanded_squads", report.DisbandedSquads,
	)
	if !report.Changed() || notifier == nil {
		return nil
	}
	for _, metric := range game.Metrics {
		if err := notifier.PublishNow(ctx, metric); err != nil {
			logger.Warn("leaderboard publish failed", "metric", string(metric), "err", err)
		}
	}
	return nil
}
