package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tg-anon-bot/internal/domain"
	"tg-anon-bot/internal/infra/metrics"
)

const maxRetryAfter = 30 * time.Second

// BotClient — часть tgbotapi.BotAPI, используемая для отправки.
type BotClient interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// SenderConfig задаёт политику повторов и ограничение скорости.
type SenderConfig struct {
	Attempts int
	RPS      float64
}

// Sender реализует domain.Transport поверх Bot API с ограниченным числом попыток.
type Sender struct {
	bot      BotClient
	log      zerolog.Logger
	attempts int
	limiter  *rate.Limiter
	sleep    func(ctx context.Context, d time.Duration) error
}

var _ domain.Transport = (*Sender)(nil)

// NewSender создаёт отправителя.
func NewSender(bot BotClient, log zerolog.Logger, cfg SenderConfig) *Sender {
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	return &Sender{
		bot:      bot,
		log:      log,
		attempts: attempts,
		limiter:  rate.NewLimiter(limit, 1),
		sleep:    sleepCtx,
	}
}

// SendText отправляет текст, при необходимости несколькими сообщениями.
// Клавиатура прикрепляется к последнему.
func (s *Sender) SendText(ctx context.Context, chatID int64, text string, kb domain.Keyboard) error {
	parts := splitText(text, messageLimit)
	markup := inlineKeyboard(kb)
	for i, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		if i == len(parts)-1 && markup != nil {
			msg.ReplyMarkup = markup
		}
		if _, err := s.send(ctx, "send_message", msg); err != nil {
			return err
		}
	}
	return nil
}

// SendMedia пересылает голосовое или кружок по file_id и возвращает message_id.
func (s *Sender) SendMedia(ctx context.Context, chatID int64, kind domain.MediaKind, fileID string, kb domain.Keyboard) (int64, error) {
	markup := inlineKeyboard(kb)
	var (
		c  tgbotapi.Chattable
		op string
	)
	switch kind {
	case domain.MediaVoice:
		voice := tgbotapi.NewVoice(chatID, tgbotapi.FileID(fileID))
		if markup != nil {
			voice.ReplyMarkup = markup
		}
		c, op = voice, "send_voice"
	case domain.MediaVideoNote:
		note := tgbotapi.NewVideoNote(chatID, 0, tgbotapi.FileID(fileID))
		if markup != nil {
			note.ReplyMarkup = markup
		}
		c, op = note, "send_video_note"
	default:
		return 0, fmt.Errorf("неподдерживаемый тип вложения: %s", kind)
	}
	msg, err := s.send(ctx, op, c)
	if err != nil {
		return 0, err
	}
	return int64(msg.MessageID), nil
}

func (s *Sender) send(ctx context.Context, op string, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return tgbotapi.Message{}, err
		}
		start := time.Now()
		msg, err := s.bot.Send(c)
		metrics.ObserveNetworkRequest("telegram_bot", op, start, err)
		if err == nil {
			return msg, nil
		}
		lastErr = err
		wait, retryable, cause := retryPolicy(err, attempt)
		if !retryable || attempt == s.attempts {
			break
		}
		metrics.SendRetries.WithLabelValues(op, cause).Inc()
		s.log.Warn().Err(err).Str("operation", op).Int("attempt", attempt).Dur("wait", wait).Msg("telegram: повтор отправки")
		if err := s.sleep(ctx, wait); err != nil {
			return tgbotapi.Message{}, err
		}
	}
	return tgbotapi.Message{}, fmt.Errorf("telegram %s: %w", op, lastErr)
}

// retryPolicy решает, стоит ли повторять запрос и сколько ждать.
// 429 ждёт retry_after (не дольше 30с), 5xx и сетевые ошибки — 1с, 2с, ...
// Остальные ошибки API (чат не найден, бот заблокирован) не повторяются.
func retryPolicy(err error, attempt int) (time.Duration, bool, string) {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return time.Duration(attempt) * time.Second, true, "network"
	}
	if apiErr.RetryAfter > 0 {
		wait := time.Duration(apiErr.RetryAfter+1) * time.Second
		if wait > maxRetryAfter {
			wait = maxRetryAfter
		}
		return wait, true, "flood"
	}
	if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError {
		return time.Duration(attempt) * time.Second, true, "server"
	}
	return 0, false, ""
}

func inlineKeyboard(kb domain.Keyboard) *tgbotapi.InlineKeyboardMarkup {
	if len(kb) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
