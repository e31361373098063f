package relay

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"tg-anon-bot/internal/domain"
)

var questionRefRe = regexp.MustCompile(`#Q(\d+)`)

// ParseQuestionRef ищет в тексте ссылку вида #Q123.
func ParseQuestionRef(text string) (int64, bool) {
	m := questionRefRe.FindStringSubmatch(text)
	if len(m) < 2 {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// AdminMenu показывает админ-панель. Остальным пользователям не отвечает.
func (s *Service) AdminMenu(ctx context.Context, tgUserID int64) error {
	if !s.cfg.IsAdmin(tgUserID) {
		return nil
	}
	return s.reply(ctx, tgUserID, "Админ-панель:", adminKeyboard())
}

func (s *Service) adminCallback(ctx context.Context, tgUserID int64, payload string) (CallbackReply, error) {
	if !s.cfg.IsAdmin(tgUserID) {
		return CallbackReply{}, nil
	}
	switch payload {
	case "users":
		cnt, err := s.store.CountUsers(ctx)
		if err != nil {
			return CallbackReply{}, fmt.Errorf("подсчёт пользователей: %w", err)
		}
		return CallbackReply{}, s.reply(ctx, tgUserID, fmt.Sprintf("Пользователей: %d", cnt), nil)
	case "stats":
		text, err := s.statsText(ctx)
		if err != nil {
			return CallbackReply{}, err
		}
		return CallbackReply{}, s.reply(ctx, tgUserID, text, nil)
	case "qfind":
		return CallbackReply{}, s.reply(ctx, tgUserID, "Перешли мне сообщение со строкой вроде ID: #Q123 — и я покажу детали.", nil)
	default:
		return alert(alertStale), nil
	}
}

func (s *Service) statsText(ctx context.Context) (string, error) {
	counters, err := s.store.ListMetrics(ctx)
	if err != nil {
		return "", fmt.Errorf("чтение счётчиков: %w", err)
	}
	if len(counters) == 0 {
		return "Счётчиков пока нет.", nil
	}
	keys := make([]string, 0, len(counters))
	for k := range counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("Счётчики:")
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %d", k, counters[k])
	}
	return b.String(), nil
}

// lookupQuestion показывает администратору карточку вопроса. Только чтение.
func (s *Service) lookupQuestion(ctx context.Context, chatID, qid int64) error {
	q, err := s.store.GetQuestion(ctx, qid)
	if errors.Is(err, domain.ErrNotFound) {
		return s.reply(ctx, chatID, "ID не найден.", nil)
	}
	if err != nil {
		return fmt.Errorf("получение вопроса %d: %w", qid, err)
	}
	asker, err := s.store.GetByID(ctx, q.FromUserID)
	if err != nil {
		return fmt.Errorf("получение автора вопроса %d: %w", qid, err)
	}
	recipient, err := s.store.GetByID(ctx, q.ToUserID)
	if err != nil {
		return fmt.Errorf("получение адресата вопроса %d: %w", qid, err)
	}
	text := fmt.Sprintf("Вопрос #%d\n— От TG: %d\n— Кому TG: %d\n— Тип: %s\n— Статус: %s\n— Время: %s",
		q.ID, asker.TGUserID, recipient.TGUserID, q.Media, statusLabel(q), q.CreatedAt.UTC().Format(time.RFC3339))
	return s.reply(ctx, chatID, text, nil)
}
