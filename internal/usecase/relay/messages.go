package relay

import "fmt"

const (
	hintReply = "Чтобы ответить — смахни сообщение выше и ответь кружком (video note) или голосовым (voice)."

	msgRules = "Правила: запрещены злоупотребления. Мы храним минимум данных и ограниченное время. " +
		"Нажимая \"Согласен\", ты подтверждаешь согласие."
	msgConsentDeclined = "Без согласия с правилами бот недоступен. Отправь /start, если передумаешь."
	msgBadLink         = "Некорректная ссылка. Попроси новую."
	msgSelfAsk         = "Нельзя задавать вопрос самому себе."
	msgNotAccepting    = "Пользователь сейчас не принимает вопросы."
	msgAskPrompt       = "Отправь кружок (video note) или голосовое (voice) — я доставлю его адресату."
	msgUnknownParam    = "Неизвестный параметр. Отправь /start."
	msgTargetGone      = "Пользователь недоступен."
	msgBlocked         = "Этот пользователь заблокировал вопросы от тебя."
	msgQuestionPolicy  = "Отправь кружок (video note) или голосовое (voice). Фото и текст запрещены."
	msgQuestionSent    = "Вопрос отправлен анонимно ✅"
	msgQuestionFailed  = "Не удалось доставить вопрос. Попробуй позже."
	msgReplyToQuestion = "Ответь реплаем именно на сообщение-вопрос."
	msgAnswerPolicy    = "Разрешены только кружки (video note) и голосовые (voice)."
	msgAlreadyAnswered = "На этот вопрос уже есть ответ."
	msgAnswerIncoming  = "📬 Пришёл ответ на твой вопрос:"
	msgAnswerSent      = "Ответ отправлен ✅"
	msgAnswerFailed    = "Ответ сохранён, но доставить его не удалось."
	msgAskMorePrompt   = "Напиши следующий вопрос (кружок/голос) — я отправлю его тому же пользователю."
	msgPaused          = "Приём вопросов выключен. Включить снова: /resume"
	msgResumed         = "Приём вопросов включён ✅"
	msgNoSent          = "Ты ещё не задавал(а) вопросов."
	msgHelp            = "Как это работает:\n" +
		"• Поделись своей ссылкой — по ней тебе зададут анонимный вопрос кружком или голосовым.\n" +
		"• Чтобы ответить, ответь реплаем на сообщение-вопрос.\n" +
		"• /sent — твои отправленные вопросы\n" +
		"• /pause и /resume — выключить или включить приём вопросов"

	alertStale       = "Сессия устарела"
	alertSelfAsk     = "Себе вопросы нельзя 🙂"
	alertReported    = "Спасибо. Жалоба передана модератору."
	alertBlocked     = "Автор вопроса заблокирован. Новых вопросов от него не будет."
	alertNotYours    = "Это действие недоступно."
	alertQuestionOld = "Вопрос не найден."
)

func (s *Service) link(token string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s%s", s.cfg.BotUsername, askParamPrefix, token)
}

func (s *Service) registeredText(token string) string {
	return "Ты зарегистрирован(а) ✅\n" +
		"Поделись персональной ссылкой — по ней тебе смогут анонимно задавать вопросы:\n" +
		s.link(token) + "\n\n" +
		"Чтобы ответить — смахни входящее сообщение и ответь кружком/голосовым."
}

func (s *Service) activatedText(token string) string {
	return "Спасибо! Аккаунт активирован.\nТвоя ссылка: " + s.link(token)
}

func (s *Service) guidanceText(token string) string {
	return "Чтобы задать вопрос — перейди по ссылке адресата, затем отправь кружок (video note) или голосовое (voice).\n" +
		"Твоя ссылка: " + s.link(token)
}

func questionNotice(questionID int64) string {
	return fmt.Sprintf("📨 Тебе задали анонимный вопрос.\n%s\nID: #Q%d", hintReply, questionID)
}
