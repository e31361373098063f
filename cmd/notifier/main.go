package main

import (
	"context"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"tg-anon-bot/internal/adapters/telegram"
	"tg-anon-bot/internal/infra/cache"
	"tg-anon-bot/internal/infra/config"
	applog "tg-anon-bot/internal/infra/log"
	"tg-anon-bot/internal/infra/metrics"
	"tg-anon-bot/internal/infra/queue"
	"tg-anon-bot/internal/usecase/relay"
)

// notifier — отдельный воркер очереди жалоб. Его можно запускать рядом
// с бот-гейтвеем: BRPOP раздаёт каждую задачу одному потребителю.
func main() {
	cfg := config.Load()
	logger := applog.Component(applog.NewLogger(cfg.AppEnv), "notifier")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("notifier: не указан адрес Redis (REDIS_ADDR)")
	}
	if cfg.Telegram.AdminChatID == 0 {
		logger.Fatal().Msg("notifier: не указан чат модераторов (ADMIN_CHAT_ID)")
	}
	client, err := cache.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Fatal().Err(err).Msg("notifier: нет подключения к Redis")
	}
	defer client.Close()

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("notifier: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("notifier: не удалось создать бота")
	}
	sender := telegram.NewSender(botAPI, applog.Component(logger, "telegram"), telegram.SenderConfig{
		Attempts: cfg.Telegram.SendRetries,
		RPS:      cfg.Telegram.SendRPS,
	})

	worker := queue.NewReportWorker(
		queue.NewRedisReportQueue(client, cfg.Queues.Reports),
		relay.NewAdminNotifier(sender, cfg.Telegram.AdminChatID),
		logger,
	)
	logger.Info().Str("queue", cfg.Queues.Reports).Msg("notifier: запуск обработки очереди")
	worker.Run(ctx)
	logger.Info().Msg("notifier: остановлен")
}
