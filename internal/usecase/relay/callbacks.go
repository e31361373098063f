package relay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"tg-anon-bot/internal/domain"
)

// CallbackReply — ответ на нажатие кнопки (answerCallbackQuery).
type CallbackReply struct {
	Text  string
	Alert bool
}

func alert(text string) CallbackReply {
	return CallbackReply{Text: text, Alert: true}
}

// Callback обрабатывает нажатие inline-кнопки.
func (s *Service) Callback(ctx context.Context, tgUserID int64, data string) (CallbackReply, error) {
	action, payload, _ := strings.Cut(data, ":")
	if action == ActionAdmin {
		return s.adminCallback(ctx, tgUserID, payload)
	}

	now := s.now()
	user, err := s.touch(ctx, tgUserID, now)
	if err != nil {
		return CallbackReply{}, err
	}

	switch action {
	case ActionConsent:
		return s.consent(ctx, user, payload)
	case ActionAskMore:
		return s.askMore(ctx, user, payload)
	case ActionReport:
		return s.report(ctx, user, payload)
	case ActionBlock:
		return s.block(ctx, user, payload)
	default:
		return alert(alertStale), nil
	}
}

func (s *Service) consent(ctx context.Context, user domain.User, payload string) (CallbackReply, error) {
	answer, param, _ := strings.Cut(payload, ":")
	if answer != "yes" {
		return CallbackReply{}, s.reply(ctx, user.TGUserID, msgConsentDeclined, nil)
	}
	if err := s.store.MarkConsent(ctx, user.ID); err != nil {
		return CallbackReply{}, fmt.Errorf("сохранение согласия: %w", err)
	}
	user.ConsentAccepted = true
	if param != "" {
		return CallbackReply{}, s.dispatchStart(ctx, user, param, s.now())
	}
	return CallbackReply{}, s.reply(ctx, user.TGUserID, s.activatedText(user.Token), nil)
}

// askMore создаёт новую сессию к собеседнику из кнопки под ответом.
func (s *Service) askMore(ctx context.Context, user domain.User, payload string) (CallbackReply, error) {
	targetID, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return alert(alertStale), nil
	}
	if targetID == user.ID {
		return alert(alertSelfAsk), nil
	}
	target, err := s.store.GetByID(ctx, targetID)
	if errors.Is(err, domain.ErrNotFound) {
		return alert(alertStale), nil
	}
	if err != nil {
		return CallbackReply{}, fmt.Errorf("получение собеседника: %w", err)
	}
	if !target.AcceptsQuestions {
		return alert(msgNotAccepting), nil
	}
	if err := s.createAskSession(ctx, user.ID, target.ID, s.now()); err != nil {
		return CallbackReply{}, err
	}
	return CallbackReply{}, s.reply(ctx, user.TGUserID, msgAskMorePrompt, nil)
}

// report сохраняет жалобу на собеседника по вопросу. Сбой уведомления
// модератора не влияет на ответ пользователю.
func (s *Service) report(ctx context.Context, user domain.User, payload string) (CallbackReply, error) {
	q, reply, ok, err := s.participantQuestion(ctx, user, payload)
	if !ok {
		return reply, err
	}
	qid := q.ID
	r, err := s.store.CreateReport(ctx, domain.Report{
		ReporterID:   user.ID,
		TargetUserID: q.Counterpart(user.ID),
		QuestionID:   &qid,
		CreatedAt:    s.now(),
	})
	if err != nil {
		return CallbackReply{}, fmt.Errorf("сохранение жалобы: %w", err)
	}
	s.count(ctx, domain.MetricReports)
	if s.notifier != nil {
		if err := s.notifier.NotifyReport(ctx, r); err != nil {
			s.log.Warn().Err(err).Int64("report_id", r.ID).Msg("не удалось уведомить модератора")
		}
	}
	return alert(alertReported), nil
}

// block блокирует автора вопроса. Доступно только адресату.
func (s *Service) block(ctx context.Context, user domain.User, payload string) (CallbackReply, error) {
	q, reply, ok, err := s.participantQuestion(ctx, user, payload)
	if !ok {
		return reply, err
	}
	if q.ToUserID != user.ID {
		return alert(alertNotYours), nil
	}
	if err := s.store.Block(ctx, user.ID, q.FromUserID, s.now()); err != nil {
		return CallbackReply{}, fmt.Errorf("блокировка автора вопроса %d: %w", q.ID, err)
	}
	return alert(alertBlocked), nil
}

// participantQuestion разбирает id вопроса из кнопки и проверяет,
// что пользователь участвует в переписке. ok=false означает готовый ответ.
func (s *Service) participantQuestion(ctx context.Context, user domain.User, payload string) (domain.Question, CallbackReply, bool, error) {
	qid, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return domain.Question{}, alert(alertStale), false, nil
	}
	q, err := s.store.GetQuestion(ctx, qid)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Question{}, alert(alertQuestionOld), false, nil
	}
	if err != nil {
		return domain.Question{}, CallbackReply{}, false, fmt.Errorf("получение вопроса %d: %w", qid, err)
	}
	if q.ToUserID != user.ID && q.FromUserID != user.ID {
		return domain.Question{}, alert(alertNotYours), false, nil
	}
	return q, CallbackReply{}, true, nil
}
