package main

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"tg-anon-bot/internal/adapters/bot"
	"tg-anon-bot/internal/adapters/repo"
	"tg-anon-bot/internal/adapters/telegram"
	"tg-anon-bot/internal/domain"
	"tg-anon-bot/internal/infra/cache"
	"tg-anon-bot/internal/infra/config"
	"tg-anon-bot/internal/infra/db"
	apphttp "tg-anon-bot/internal/infra/http"
	"tg-anon-bot/internal/infra/log"
	"tg-anon-bot/internal/infra/metrics"
	"tg-anon-bot/internal/infra/queue"
	"tg-anon-bot/internal/usecase/relay"
	"tg-anon-bot/internal/usecase/retention"
)

// store — хранилище, общее для релея и очистки.
type store interface {
	relay.Store
	retention.Store
}

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)
	if cfg.Telegram.Token == "" || cfg.Telegram.Username == "" {
		logger.Fatal().Msg("TG_BOT_TOKEN и TG_BOT_USERNAME обязательны")
	}
	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, health, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось создать бота")
	}
	sender := telegram.NewSender(botAPI, log.Component(logger, "telegram"), telegram.SenderConfig{
		Attempts: cfg.Telegram.SendRetries,
		RPS:      cfg.Telegram.SendRPS,
	})

	adminNotifier := relay.NewAdminNotifier(sender, cfg.Telegram.AdminChatID)
	var (
		notifier domain.ReportNotifier = adminNotifier
		locker   domain.Locker
	)
	if cfg.RedisAddr != "" {
		client, err := cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("не удалось подключиться к Redis")
		}
		defer client.Close()
		locker = cache.NewRedisLock(client, "anonbot:")
		reportQueue := queue.NewRedisReportQueue(client, cfg.Queues.Reports)
		notifier = reportQueue
		worker := queue.NewReportWorker(reportQueue, adminNotifier, log.Component(logger, "reports"))
		go worker.Run(ctx)
	}

	relayService := relay.NewService(relay.Config{
		SessionTTL:    cfg.SessionTTL(),
		BotUsername:   cfg.Telegram.Username,
		SentListLimit: cfg.Limits.SentListLimit,
		AdminIDs:      cfg.Admins(),
	}, st, sender, notifier, log.Component(logger, "relay"))

	sweeper := retention.NewService(retention.Config{
		RetentionTTL: cfg.RetentionTTL(),
		Interval:     cfg.SweepInterval(),
	}, st, locker, log.Component(logger, "retention"))
	go sweeper.Run(ctx)

	h := bot.NewHandler(relayService, botAPI, log.Component(logger, "bot"))
	handlerCtx := context.WithoutCancel(ctx)

	srv := apphttp.NewServer(logger, health)
	if cfg.Telegram.UseWebhook {
		srv.HandleWebhook(cfg.Telegram.Secret, h.Dispatch)
		if err := setWebhook(botAPI, cfg.Telegram.WebhookURL, cfg.Telegram.Secret); err != nil {
			logger.Fatal().Err(err).Msg("не удалось установить вебхук")
		}
	}
	go func() {
		if err := srv.Start(":" + strconv.Itoa(cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("HTTP сервер остановлен")
			stop()
		}
	}()

	logger.Info().Bool("webhook", cfg.Telegram.UseWebhook).Bool("redis", cfg.RedisAddr != "").Msg("бот запущен")
	if cfg.Telegram.UseWebhook {
		<-ctx.Done()
	} else {
		poll(ctx, handlerCtx, botAPI, h, logger)
	}

	logger.Info().Msg("остановка бота")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("не удалось остановить HTTP сервер")
	}
	h.Wait()
}

// openStore выбирает Postgres, если задан PG_DSN, иначе хранилище в памяти для разработки.
func openStore(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (store, apphttp.HealthCheck, func()) {
	if cfg.PGDSN == "" {
		if cfg.AppEnv != "dev" {
			logger.Fatal().Msg("PG_DSN обязателен вне dev-окружения")
		}
		logger.Warn().Msg("PG_DSN не задан, данные хранятся в памяти")
		return repo.NewMemory(), nil, func() {}
	}
	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось подключиться к БД")
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		logger.Fatal().Err(err).Msg("не удалось применить схему")
	}
	return repo.NewPostgres(pool), pool.Ping, pool.Close
}

func setWebhook(botAPI *tgbotapi.BotAPI, url, secret string) error {
	params := tgbotapi.Params{}
	params.AddNonEmpty("url", url)
	params.AddNonEmpty("secret_token", secret)
	_, err := botAPI.MakeRequest("setWebhook", params)
	return err
}

// poll получает апдейты long polling до отмены ctx. Обработчики получают
// handlerCtx, чтобы начатые события завершились при остановке.
func poll(ctx, handlerCtx context.Context, botAPI *tgbotapi.BotAPI, h *bot.Handler, logger zerolog.Logger) {
	if _, err := botAPI.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		logger.Warn().Err(err).Msg("не удалось снять вебхук перед polling")
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := botAPI.GetUpdatesChan(u)
	defer botAPI.StopReceivingUpdates()
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			h.Dispatch(handlerCtx, upd)
		}
	}
}
