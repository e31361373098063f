package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tg-anon-bot/internal/domain"
	"tg-anon-bot/internal/infra/metrics"
)

const askParamPrefix = "ask_"

// Store объединяет хранилища, с которыми работает релей.
type Store interface {
	domain.UserRepo
	domain.BlockRepo
	domain.SessionRepo
	domain.QuestionRepo
	domain.ReportRepo
	domain.MetricRepo
}

// Config — неизменяемые параметры релея, собираются один раз при старте.
type Config struct {
	SessionTTL    time.Duration
	BotUsername   string
	SentListLimit int
	// AdminIDs — Telegram ID с доступом к админ-командам.
	AdminIDs []int64
}

// IsAdmin сообщает, есть ли у пользователя доступ к админ-командам.
func (c Config) IsAdmin(tgUserID int64) bool {
	for _, id := range c.AdminIDs {
		if id == tgUserID {
			return true
		}
	}
	return false
}

// Content — входящее сообщение пользователя.
type Content struct {
	TGUserID int64
	Kind     domain.MediaKind
	FileID   string
	// ReplyTo — message_id сообщения, на которое ответил пользователь.
	ReplyTo *int64
	// Text — текст или подпись, используется только для админ-поиска по #Q.
	Text string
}

// Service — движок анонимных вопросов: сессии, доставка, ответы и жалобы.
type Service struct {
	cfg       Config
	store     Store
	transport domain.Transport
	notifier  domain.ReportNotifier
	log       zerolog.Logger
	now       func() time.Time
}

// NewService создаёт релей. notifier может быть nil, тогда жалобы только сохраняются.
func NewService(cfg Config, store Store, transport domain.Transport, notifier domain.ReportNotifier, log zerolog.Logger) *Service {
	if cfg.SentListLimit <= 0 {
		cfg.SentListLimit = 10
	}
	return &Service{
		cfg:       cfg,
		store:     store,
		transport: transport,
		notifier:  notifier,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start обрабатывает /start с необязательным параметром.
func (s *Service) Start(ctx context.Context, tgUserID int64, param string) error {
	now := s.now()
	user, err := s.touch(ctx, tgUserID, now)
	if err != nil {
		return err
	}
	param = strings.TrimSpace(param)
	if !user.ConsentAccepted {
		return s.reply(ctx, tgUserID, msgRules, consentKeyboard(param))
	}
	return s.dispatchStart(ctx, user, param, now)
}

func (s *Service) dispatchStart(ctx context.Context, user domain.User, param string, now time.Time) error {
	switch {
	case param == "":
		return s.reply(ctx, user.TGUserID, s.registeredText(user.Token), nil)
	case strings.HasPrefix(param, askParamPrefix):
		return s.openAsk(ctx, user, strings.TrimPrefix(param, askParamPrefix), now)
	default:
		return s.reject(ctx, user.TGUserID, "unknown_param", msgUnknownParam)
	}
}

func (s *Service) openAsk(ctx context.Context, asker domain.User, token string, now time.Time) error {
	target, err := s.store.GetByToken(ctx, token)
	if errors.Is(err, domain.ErrNotFound) {
		return s.reject(ctx, asker.TGUserID, "unknown_token", msgBadLink)
	}
	if err != nil {
		return fmt.Errorf("поиск по токену: %w", err)
	}
	if target.ID == asker.ID {
		return s.reject(ctx, asker.TGUserID, "self_ask", msgSelfAsk)
	}
	if !target.AcceptsQuestions {
		return s.reject(ctx, asker.TGUserID, "not_accepting", msgNotAccepting)
	}
	if err := s.createAskSession(ctx, asker.ID, target.ID, now); err != nil {
		return err
	}
	return s.reply(ctx, asker.TGUserID, msgAskPrompt, nil)
}

// Content обрабатывает входящее сообщение: реплай считается ответом,
// иначе сообщение адресуется по ожидающей сессии. Неподдерживаемые
// вложения вне реплая игнорируются.
func (s *Service) Content(ctx context.Context, c Content) error {
	now := s.now()
	user, err := s.touch(ctx, c.TGUserID, now)
	if err != nil {
		return err
	}
	if c.ReplyTo != nil {
		return s.answer(ctx, user, c, now)
	}
	if s.cfg.IsAdmin(c.TGUserID) {
		if qid, ok := ParseQuestionRef(c.Text); ok {
			return s.lookupQuestion(ctx, c.TGUserID, qid)
		}
	}
	// Стикеры, документы и прочее не трогают ожидающую сессию.
	if c.Kind == domain.MediaOther {
		s.log.Debug().Int64("tg_user", c.TGUserID).Msg("вложение без вопроса пропущено")
		return nil
	}
	sess, ok, err := s.store.PopSession(ctx, user.ID, domain.SessionAsk, now)
	if err != nil {
		return fmt.Errorf("извлечение сессии: %w", err)
	}
	if ok {
		return s.ask(ctx, user, sess, c, now)
	}
	return s.reply(ctx, user.TGUserID, s.guidanceText(user.Token), nil)
}

// ask доставляет вопрос по извлечённой сессии. Сессия уже потреблена,
// поэтому отказ по типу вложения требует повторного перехода по ссылке.
func (s *Service) ask(ctx context.Context, asker domain.User, sess domain.Session, c Content, now time.Time) error {
	if sess.TargetUserID == nil {
		return s.reject(ctx, asker.TGUserID, "target_gone", msgTargetGone)
	}
	target, err := s.store.GetByID(ctx, *sess.TargetUserID)
	if errors.Is(err, domain.ErrNotFound) {
		return s.reject(ctx, asker.TGUserID, "target_gone", msgTargetGone)
	}
	if err != nil {
		return fmt.Errorf("получение адресата: %w", err)
	}
	blocked, err := s.store.IsBlocked(ctx, target.ID, asker.ID)
	if err != nil {
		return fmt.Errorf("проверка блокировки: %w", err)
	}
	if blocked {
		return s.reject(ctx, asker.TGUserID, "blocked", msgBlocked)
	}
	if !target.AcceptsQuestions {
		return s.reject(ctx, asker.TGUserID, "not_accepting", msgNotAccepting)
	}
	if !c.Kind.Permitted() {
		return s.reject(ctx, asker.TGUserID, "media_policy", msgQuestionPolicy)
	}

	qid, err := s.store.CreateQuestion(ctx, domain.Question{
		ToUserID:   target.ID,
		FromUserID: asker.ID,
		Media:      c.Kind,
		FileID:     c.FileID,
		State:      domain.QuestionSent,
		CreatedAt:  now,
	})
	if err != nil {
		return fmt.Errorf("создание вопроса: %w", err)
	}

	handle, err := s.deliverQuestion(ctx, target.TGUserID, qid, c)
	if err != nil {
		s.notifyFailure(ctx, asker.TGUserID, msgQuestionFailed)
		return fmt.Errorf("доставка вопроса %d: %w", qid, err)
	}
	if err := s.store.AttachDeliveryHandle(ctx, target.ID, qid, handle); err != nil {
		return fmt.Errorf("сохранение message_id вопроса %d: %w", qid, err)
	}
	s.count(ctx, domain.MetricQuestionsSent)
	s.log.Info().Int64("question_id", qid).Msg("вопрос доставлен")
	return s.reply(ctx, asker.TGUserID, msgQuestionSent, nil)
}

// deliverQuestion отправляет вложение, затем подпись с номером вопроса.
// Подпись без доставленного вложения не уходит, её сбой не отменяет доставку.
func (s *Service) deliverQuestion(ctx context.Context, chatID, qid int64, c Content) (int64, error) {
	handle, err := s.transport.SendMedia(ctx, chatID, c.Kind, c.FileID, questionKeyboard(qid))
	if err != nil {
		return 0, err
	}
	if err := s.transport.SendText(ctx, chatID, questionNotice(qid), nil); err != nil {
		s.log.Warn().Err(err).Int64("question_id", qid).Msg("не удалось отправить подпись к вопросу")
	}
	return handle, nil
}

// answer обрабатывает реплай. Прочтение фиксируется до поиска вопроса
// и не зависит от того, удастся ли записать ответ.
func (s *Service) answer(ctx context.Context, answerer domain.User, c Content, now time.Time) error {
	handle := *c.ReplyTo
	if _, err := s.store.MarkReadByHandle(ctx, answerer.ID, handle, now); err != nil {
		return fmt.Errorf("отметка прочтения: %w", err)
	}
	q, err := s.store.FindByDeliveryHandle(ctx, answerer.ID, handle)
	if errors.Is(err, domain.ErrNotFound) {
		return s.reject(ctx, answerer.TGUserID, "reply_not_found", msgReplyToQuestion)
	}
	if err != nil {
		return fmt.Errorf("поиск вопроса по реплаю: %w", err)
	}
	if !c.Kind.Permitted() {
		return s.reject(ctx, answerer.TGUserID, "media_policy", msgAnswerPolicy)
	}

	ans, err := s.store.RecordAnswer(ctx, domain.Answer{
		QuestionID: q.ID,
		FromUserID: answerer.ID,
		Media:      c.Kind,
		FileID:     c.FileID,
		CreatedAt:  now,
	})
	if errors.Is(err, domain.ErrAlreadyAnswered) {
		return s.reject(ctx, answerer.TGUserID, "already_answered", msgAlreadyAnswered)
	}
	if err != nil {
		return fmt.Errorf("запись ответа на вопрос %d: %w", q.ID, err)
	}
	s.count(ctx, domain.MetricAnswersSent)

	asker, err := s.store.GetByID(ctx, q.FromUserID)
	if err != nil {
		return fmt.Errorf("получение автора вопроса %d: %w", q.ID, err)
	}
	if err := s.transport.SendText(ctx, asker.TGUserID, msgAnswerIncoming, nil); err != nil {
		s.notifyFailure(ctx, answerer.TGUserID, msgAnswerFailed)
		return fmt.Errorf("доставка ответа %d: %w", ans.ID, err)
	}
	if _, err := s.transport.SendMedia(ctx, asker.TGUserID, c.Kind, c.FileID, answerKeyboard(answerer.ID, q.ID)); err != nil {
		s.notifyFailure(ctx, answerer.TGUserID, msgAnswerFailed)
		return fmt.Errorf("доставка ответа %d: %w", ans.ID, err)
	}
	s.log.Info().Int64("question_id", q.ID).Int64("answer_id", ans.ID).Msg("ответ доставлен")
	return s.reply(ctx, answerer.TGUserID, msgAnswerSent, nil)
}

// touch регистрирует пользователя при первом обращении и обновляет активность.
func (s *Service) touch(ctx context.Context, tgUserID int64, now time.Time) (domain.User, error) {
	user, created, err := s.store.EnsureUser(ctx, tgUserID, now)
	if err != nil {
		return domain.User{}, fmt.Errorf("регистрация пользователя: %w", err)
	}
	if created {
		s.count(ctx, domain.MetricUsersRegistered)
		return user, nil
	}
	if err := s.store.TouchActivity(ctx, user.ID, now); err != nil {
		return domain.User{}, fmt.Errorf("обновление активности: %w", err)
	}
	return user, nil
}

func (s *Service) createAskSession(ctx context.Context, userID, targetID int64, now time.Time) error {
	target := targetID
	_, err := s.store.CreateSession(ctx, domain.Session{
		UserID:       userID,
		TargetUserID: &target,
		Type:         domain.SessionAsk,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.cfg.SessionTTL),
	})
	if err != nil {
		return fmt.Errorf("создание сессии: %w", err)
	}
	return nil
}

func (s *Service) reply(ctx context.Context, chatID int64, text string, kb domain.Keyboard) error {
	if err := s.transport.SendText(ctx, chatID, text, kb); err != nil {
		return fmt.Errorf("отправка ответа пользователю: %w", err)
	}
	return nil
}

// reject сообщает пользователю об ошибке ввода. Такие отказы не считаются сбоями.
func (s *Service) reject(ctx context.Context, chatID int64, reason, text string) error {
	metrics.IncRejected(reason)
	return s.reply(ctx, chatID, text, nil)
}

// notifyFailure пытается сообщить инициатору о сбое доставки. Ошибка отправки
// только логируется: исходная ошибка важнее.
func (s *Service) notifyFailure(ctx context.Context, chatID int64, text string) {
	if err := s.transport.SendText(ctx, chatID, text, nil); err != nil {
		s.log.Warn().Err(err).Int64("tg_user", chatID).Msg("не удалось сообщить о сбое доставки")
	}
}

func (s *Service) count(ctx context.Context, key string) {
	metrics.IncCounter(key)
	if err := s.store.IncMetric(ctx, key, 1); err != nil {
		s.log.Warn().Err(err).Str("metric", key).Msg("не удалось обновить счётчик")
	}
}
