package relay

import (
	"context"
	"fmt"
	"strings"

	"tg-anon-bot/internal/domain"
)

// Help отправляет краткую справку.
func (s *Service) Help(ctx context.Context, tgUserID int64) error {
	return s.reply(ctx, tgUserID, msgHelp, nil)
}

// Health отвечает на /health.
func (s *Service) Health(ctx context.Context, tgUserID int64) error {
	return s.reply(ctx, tgUserID, "OK", nil)
}

// Pause выключает приём вопросов.
func (s *Service) Pause(ctx context.Context, tgUserID int64) error {
	return s.setAccepting(ctx, tgUserID, false, msgPaused)
}

// Resume включает приём вопросов.
func (s *Service) Resume(ctx context.Context, tgUserID int64) error {
	return s.setAccepting(ctx, tgUserID, true, msgResumed)
}

func (s *Service) setAccepting(ctx context.Context, tgUserID int64, accepts bool, text string) error {
	user, err := s.touch(ctx, tgUserID, s.now())
	if err != nil {
		return err
	}
	if err := s.store.SetAcceptsQuestions(ctx, user.ID, accepts); err != nil {
		return fmt.Errorf("переключение приёма вопросов: %w", err)
	}
	return s.reply(ctx, tgUserID, text, nil)
}

// Sent показывает последние отправленные пользователем вопросы со статусами.
func (s *Service) Sent(ctx context.Context, tgUserID int64) error {
	user, err := s.touch(ctx, tgUserID, s.now())
	if err != nil {
		return err
	}
	sent, err := s.store.ListSent(ctx, user.ID, s.cfg.SentListLimit)
	if err != nil {
		return fmt.Errorf("список отправленных: %w", err)
	}
	if len(sent) == 0 {
		return s.reply(ctx, tgUserID, msgNoSent, nil)
	}
	var b strings.Builder
	b.WriteString("Твои последние вопросы:")
	for _, q := range sent {
		fmt.Fprintf(&b, "\n#Q%d · %s · кому: %d · %s", q.ID, q.CreatedAt.UTC().Format("2006-01-02 15:04"), q.ToTGUserID, statusLabel(q.Question))
	}
	return s.reply(ctx, tgUserID, b.String(), nil)
}

// statusLabel описывает состояние вопроса. Архивный вопрос сохраняет
// отметки прочтения и ответа, поэтому статус берётся из них.
func statusLabel(q domain.Question) string {
	var label string
	switch {
	case q.Answered():
		label = "✅ отвечено"
	case q.ReadAt != nil:
		label = "👀 прочитано"
	case q.DeliveryHandle != nil:
		label = "⏳ не прочитано"
	default:
		label = "📤 не доставлено"
	}
	if q.ArchivedAt != nil {
		label += " (архив)"
	}
	return label
}
