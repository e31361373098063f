package relay

import (
	"strconv"

	"tg-anon-bot/internal/domain"
)

// Действия кнопок. callback_data имеет вид "<action>:<payload>".
const (
	ActionConsent = "consent"
	ActionAskMore = "askmore"
	ActionReport  = "report"
	ActionBlock   = "block"
	ActionAdmin   = "adm"
)

func callbackData(action, payload string) string {
	return action + ":" + payload
}

// consentKeyboard переносит параметр /start в кнопку согласия,
// чтобы переход по ссылке продолжился после принятия правил.
// Telegram ограничивает callback_data 64 байтами, длинный параметр отбрасывается.
func consentKeyboard(param string) domain.Keyboard {
	yes := callbackData(ActionConsent, "yes")
	if param != "" && len(yes)+1+len(param) <= 64 {
		yes += ":" + param
	}
	return domain.Keyboard{{
		{Text: "✅ Согласен(на)", Data: yes},
		{Text: "❌ Не согласен(на)", Data: callbackData(ActionConsent, "no")},
	}}
}

// questionKeyboard показывается адресату под доставленным вопросом.
func questionKeyboard(questionID int64) domain.Keyboard {
	id := strconv.FormatInt(questionID, 10)
	return domain.Keyboard{
		{{Text: "Пожаловаться", Data: callbackData(ActionReport, id)}},
		{{Text: "Заблокировать автора", Data: callbackData(ActionBlock, id)}},
	}
}

// answerKeyboard показывается автору вопроса под ответом.
func answerKeyboard(answererID, questionID int64) domain.Keyboard {
	return domain.Keyboard{
		{{Text: "Задать ещё один вопрос", Data: callbackData(ActionAskMore, strconv.FormatInt(answererID, 10))}},
		{{Text: "Пожаловаться", Data: callbackData(ActionReport, strconv.FormatInt(questionID, 10))}},
	}
}

func adminKeyboard() domain.Keyboard {
	return domain.Keyboard{
		{{Text: "📊 Кол-во пользователей", Data: callbackData(ActionAdmin, "users")}},
		{{Text: "📈 Счётчики", Data: callbackData(ActionAdmin, "stats")}},
		{{Text: "🔍 Найти по #QID", Data: callbackData(ActionAdmin, "qfind")}},
	}
}
