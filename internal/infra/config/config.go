package config

import (
	"fmt"
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Telegram struct {
		Token       string  `envconfig:"TG_BOT_TOKEN"`
		Username    string  `envconfig:"TG_BOT_USERNAME"`
		WebhookURL  string  `envconfig:"TG_WEBHOOK_URL"`
		Secret      string  `envconfig:"TG_WEBHOOK_SECRET"`
		UseWebhook  bool    `envconfig:"USE_WEBHOOK" default:"false"`
		AdminChatID int64   `envconfig:"ADMIN_CHAT_ID"`
		AdminIDs    []int64 `envconfig:"ADMIN_IDS"`
		SendRPS     float64 `envconfig:"SEND_RPS" default:"25"`
		SendRetries int     `envconfig:"SEND_ATTEMPTS" default:"3"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Limits struct {
		SessionTTLSeconds    int `envconfig:"SESSION_TTL_SECONDS" default:"900"`
		RetentionDays        int `envconfig:"TTL_DAYS" default:"30"`
		SweepIntervalSeconds int `envconfig:"SWEEP_INTERVAL_SECONDS" default:"3600"`
		SentListLimit        int `envconfig:"SENT_LIST_LIMIT" default:"10"`
	} `envconfig:""`

	Queues struct {
		Reports string `envconfig:"REPORT_QUEUE_KEY" default:"report_notifications"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Parse читает окружение и проверяет значения.
func Parse() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate проверяет, что длительности положительны.
func (c AppConfig) Validate() error {
	if c.Limits.SessionTTLSeconds <= 0 {
		return fmt.Errorf("SESSION_TTL_SECONDS должен быть положительным: %d", c.Limits.SessionTTLSeconds)
	}
	if c.Limits.RetentionDays <= 0 {
		return fmt.Errorf("TTL_DAYS должен быть положительным: %d", c.Limits.RetentionDays)
	}
	if c.Limits.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_SECONDS должен быть положительным: %d", c.Limits.SweepIntervalSeconds)
	}
	if c.Telegram.SendRetries <= 0 {
		return fmt.Errorf("SEND_ATTEMPTS должен быть положительным: %d", c.Telegram.SendRetries)
	}
	return nil
}

// SessionTTL — время жизни сессии "задать вопрос".
func (c AppConfig) SessionTTL() time.Duration {
	return time.Duration(c.Limits.SessionTTLSeconds) * time.Second
}

// RetentionTTL — возраст, после которого вопрос архивируется.
func (c AppConfig) RetentionTTL() time.Duration {
	return time.Duration(c.Limits.RetentionDays) * 24 * time.Hour
}

// SweepInterval — период фоновой очистки.
func (c AppConfig) SweepInterval() time.Duration {
	return time.Duration(c.Limits.SweepIntervalSeconds) * time.Second
}

// Admins возвращает Telegram ID администраторов, включая ADMIN_CHAT_ID.
func (c AppConfig) Admins() []int64 {
	admins := append([]int64(nil), c.Telegram.AdminIDs...)
	if c.Telegram.AdminChatID != 0 {
		admins = append(admins, c.Telegram.AdminChatID)
	}
	return admins
}
