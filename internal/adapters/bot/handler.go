package bot

import (
	"context"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-anon-bot/internal/domain"
	"tg-anon-bot/internal/infra/metrics"
	"tg-anon-bot/internal/usecase/relay"
)

// Relay — операции движка вопросов, которые вызывает обработчик.
type Relay interface {
	Start(ctx context.Context, tgUserID int64, param string) error
	Content(ctx context.Context, c relay.Content) error
	Callback(ctx context.Context, tgUserID int64, data string) (relay.CallbackReply, error)
	Help(ctx context.Context, tgUserID int64) error
	Health(ctx context.Context, tgUserID int64) error
	Pause(ctx context.Context, tgUserID int64) error
	Resume(ctx context.Context, tgUserID int64) error
	Sent(ctx context.Context, tgUserID int64) error
	AdminMenu(ctx context.Context, tgUserID int64) error
}

// CallbackAnswerer отвечает на нажатия кнопок (answerCallbackQuery).
type CallbackAnswerer interface {
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Handler переводит апдейты Telegram в события движка вопросов.
type Handler struct {
	relay Relay
	bot   CallbackAnswerer
	log   zerolog.Logger
	wg    sync.WaitGroup
}

// NewHandler создаёт обработчик.
func NewHandler(r Relay, bot CallbackAnswerer, log zerolog.Logger) *Handler {
	return &Handler{relay: r, bot: bot, log: log}
}

// Dispatch обрабатывает апдейт в отдельной горутине. События разных
// пользователей не ждут друг друга.
func (h *Handler) Dispatch(ctx context.Context, upd tgbotapi.Update) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.HandleUpdate(ctx, upd)
	}()
}

// Wait дожидается обработки уже принятых апдейтов.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	switch {
	case upd.Message != nil:
		msg := upd.Message
		if msg.From == nil || !msg.Chat.IsPrivate() {
			return
		}
		h.run(ctx, msg.From.ID, eventKind(msg), func(ctx context.Context) error {
			return h.handleMessage(ctx, msg)
		})
	case upd.CallbackQuery != nil:
		cb := upd.CallbackQuery
		if cb.From == nil {
			return
		}
		h.run(ctx, cb.From.ID, "callback", func(ctx context.Context) error {
			return h.handleCallback(ctx, cb)
		})
	}
}

// run изолирует обработку одного события: ошибка или паника логируется
// и не затрагивает остальные события.
func (h *Handler) run(ctx context.Context, tgUserID int64, kind string, fn func(ctx context.Context) error) {
	eventLog := h.log.With().
		Str("event_id", uuid.NewString()).
		Str("event", kind).
		Int64("tg_user", tgUserID).
		Logger()
	ctx = eventLog.WithContext(ctx)
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			metrics.EventFailures.WithLabelValues(kind).Inc()
			eventLog.Error().Interface("panic", rec).Msg("паника при обработке события")
		}
	}()
	if err := fn(ctx); err != nil {
		metrics.EventFailures.WithLabelValues(kind).Inc()
		eventLog.Error().Err(err).Dur("took", time.Since(start)).Msg("не удалось обработать событие")
		return
	}
	eventLog.Debug().Dur("took", time.Since(start)).Msg("событие обработано")
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	userID := msg.From.ID
	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			return h.relay.Start(ctx, userID, msg.CommandArguments())
		case "help":
			return h.relay.Help(ctx, userID)
		case "health":
			return h.relay.Health(ctx, userID)
		case "admin":
			return h.relay.AdminMenu(ctx, userID)
		case "pause":
			return h.relay.Pause(ctx, userID)
		case "resume":
			return h.relay.Resume(ctx, userID)
		case "sent":
			return h.relay.Sent(ctx, userID)
		}
	}
	return h.relay.Content(ctx, ContentFromMessage(msg))
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	reply, err := h.relay.Callback(ctx, cb.From.ID, cb.Data)
	h.answerCallback(ctx, cb.ID, reply)
	return err
}

func (h *Handler) answerCallback(ctx context.Context, id string, reply relay.CallbackReply) {
	cfg := tgbotapi.NewCallback(id, reply.Text)
	if reply.Alert {
		cfg = tgbotapi.NewCallbackWithAlert(id, reply.Text)
	}
	start := time.Now()
	_, err := h.bot.Request(cfg)
	metrics.ObserveNetworkRequest("telegram_bot", "answer_callback", start, err)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("не удалось ответить на callback")
	}
}

// ContentFromMessage извлекает из сообщения тип вложения, file_id и реплай.
func ContentFromMessage(msg *tgbotapi.Message) relay.Content {
	c := relay.Content{Kind: mediaKind(msg)}
	if msg.From != nil {
		c.TGUserID = msg.From.ID
	}
	switch c.Kind {
	case domain.MediaVideoNote:
		c.FileID = msg.VideoNote.FileID
	case domain.MediaVoice:
		c.FileID = msg.Voice.FileID
	}
	if msg.ReplyToMessage != nil {
		replyTo := int64(msg.ReplyToMessage.MessageID)
		c.ReplyTo = &replyTo
	}
	c.Text = strings.TrimSpace(strings.Join([]string{msg.Text, msg.Caption}, "\n"))
	return c
}

func mediaKind(msg *tgbotapi.Message) domain.MediaKind {
	switch {
	case msg.VideoNote != nil:
		return domain.MediaVideoNote
	case msg.Voice != nil:
		return domain.MediaVoice
	case len(msg.Photo) > 0:
		return domain.MediaPhoto
	case msg.Text != "":
		return domain.MediaText
	default:
		return domain.MediaOther
	}
}

func eventKind(msg *tgbotapi.Message) string {
	if msg.IsCommand() {
		return "command"
	}
	if msg.ReplyToMessage != nil {
		return "reply"
	}
	return "content"
}
