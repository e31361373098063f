package domain

import "time"

// MediaKind описывает тип вложения во входящем сообщении.
type MediaKind string

const (
	MediaVoice     MediaKind = "voice"
	MediaVideoNote MediaKind = "video_note"
	MediaText      MediaKind = "text"
	MediaPhoto     MediaKind = "photo"
	MediaOther     MediaKind = "other"
)

// Permitted сообщает, разрешён ли тип для вопросов и ответов.
// Текст и фото запрещены правилами сервиса.
func (k MediaKind) Permitted() bool {
	return k == MediaVoice || k == MediaVideoNote
}

// SessionType — тип намерения пользователя.
type SessionType string

// SessionAsk — следующий кружок/голосовое пользователя адресуется Target.
const SessionAsk SessionType = "ask"

// User описывает пользователя Telegram в системе.
type User struct {
	ID               int64
	TGUserID         int64
	Token            string
	ConsentAccepted  bool
	AcceptsQuestions bool
	CreatedAt        time.Time
	LastActive       time.Time
}

// Session — короткоживущее одноразовое намерение задать вопрос.
type Session struct {
	ID           int64
	UserID       int64
	TargetUserID *int64
	Type         SessionType
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Expired сообщает, истекла ли сессия к моменту now.
func (s Session) Expired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}

// Question — вопрос в журнале вопросов и ответов.
type Question struct {
	ID             int64
	ToUserID       int64
	FromUserID     int64
	Media          MediaKind
	FileID         string
	State          QuestionState
	DeliveryHandle *int64
	CreatedAt      time.Time
	ReadAt         *time.Time
	AnsweredAt     *time.Time
	ArchivedAt     *time.Time
}

// Answered сообщает, получен ли ответ на вопрос.
func (q Question) Answered() bool {
	return q.AnsweredAt != nil
}

// Counterpart возвращает собеседника пользователя userID по этому вопросу.
func (q Question) Counterpart(userID int64) int64 {
	if userID == q.ToUserID {
		return q.FromUserID
	}
	return q.ToUserID
}

// SentQuestion — вопрос из списка отправленных вместе с Telegram ID адресата.
type SentQuestion struct {
	Question
	ToTGUserID int64
}

// Answer — ответ на вопрос.
type Answer struct {
	ID         int64
	QuestionID int64
	FromUserID int64
	Media      MediaKind
	FileID     string
	CreatedAt  time.Time
}

// Report — жалоба пользователя. Записи только добавляются.
type Report struct {
	ID           int64
	ReporterID   int64
	TargetUserID int64
	QuestionID   *int64
	Reason       *string
	CreatedAt    time.Time
}
