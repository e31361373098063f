package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"tg-anon-bot/internal/adapters/repo"
	"tg-anon-bot/internal/domain"
	"tg-anon-bot/internal/infra/cache"
	"tg-anon-bot/internal/infra/config"
	"tg-anon-bot/internal/infra/db"
	"tg-anon-bot/internal/infra/log"
	"tg-anon-bot/internal/infra/metrics"
	"tg-anon-bot/internal/usecase/retention"
)

func main() {
	once := flag.Bool("once", false, "выполнить один проход и выйти")
	flag.Parse()

	cfg := config.Load()
	logger := log.Component(log.NewLogger(cfg.AppEnv), "sweeper")
	if cfg.PGDSN == "" {
		logger.Fatal().Msg("sweeper: PG_DSN обязателен")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("sweeper: нет подключения к БД")
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("sweeper: не удалось применить схему")
	}

	var locker domain.Locker
	if cfg.RedisAddr != "" {
		client, err := cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("sweeper: нет подключения к Redis")
		}
		defer client.Close()
		locker = cache.NewRedisLock(client, "anonbot:")
	}

	svc := retention.NewService(retention.Config{
		RetentionTTL: cfg.RetentionTTL(),
		Interval:     cfg.SweepInterval(),
	}, repo.NewPostgres(pool), locker, logger)

	if *once {
		res, err := svc.RunOnce(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("sweeper: проход завершился ошибкой")
		}
		logger.Info().Int64("archived", res.Archived).Int64("purged_sessions", res.PurgedSessions).Bool("skipped", res.Skipped).Msg("sweeper: проход завершён")
		return
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)
	metrics.StartServer(ctx, logger, cfg.MetricsAddr)
	logger.Info().Dur("interval", cfg.SweepInterval()).Msg("sweeper: запуск")
	svc.Run(ctx)
	logger.Info().Msg("sweeper: остановлен")
}
