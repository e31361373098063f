package domain

import (
	"context"
	"time"
)

// UserRepo управляет пользователями и их публичными токенами.
type UserRepo interface {
	// EnsureUser возвращает существующего пользователя или создаёт нового.
	// Второе значение true, если пользователь создан этим вызовом.
	EnsureUser(ctx context.Context, tgUserID int64, now time.Time) (User, bool, error)
	GetByToken(ctx context.Context, token string) (User, error)
	GetByID(ctx context.Context, id int64) (User, error)
	MarkConsent(ctx context.Context, id int64) error
	TouchActivity(ctx context.Context, id int64, now time.Time) error
	SetAcceptsQuestions(ctx context.Context, id int64, accepts bool) error
	CountUsers(ctx context.Context) (int64, error)
}

// BlockRepo хранит блокировки между пользователями.
type BlockRepo interface {
	Block(ctx context.Context, blockerID, blockedID int64, now time.Time) error
	IsBlocked(ctx context.Context, blockerID, blockedID int64) (bool, error)
}

// SessionRepo хранит одноразовые сессии "задать вопрос".
type SessionRepo interface {
	CreateSession(ctx context.Context, s Session) (Session, error)
	// PopSession атомарно удаляет все истёкшие сессии, затем извлекает и удаляет
	// самую свежую живую сессию пользователя указанного типа.
	PopSession(ctx context.Context, userID int64, typ SessionType, now time.Time) (Session, bool, error)
	PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// QuestionRepo — журнал вопросов и ответов.
type QuestionRepo interface {
	CreateQuestion(ctx context.Context, q Question) (int64, error)
	// AttachDeliveryHandle переводит вопрос sent → delivered и сохраняет ключ корреляции.
	AttachDeliveryHandle(ctx context.Context, toUserID, questionID, handle int64) error
	// MarkReadByHandle проставляет read_at только при первом вызове.
	MarkReadByHandle(ctx context.Context, toUserID, handle int64, now time.Time) (bool, error)
	FindByDeliveryHandle(ctx context.Context, toUserID, handle int64) (Question, error)
	// RecordAnswer одной транзакцией сохраняет ответ и переводит вопрос в answered.
	RecordAnswer(ctx context.Context, a Answer) (Answer, error)
	GetQuestion(ctx context.Context, id int64) (Question, error)
	ListSent(ctx context.Context, fromUserID int64, limit int) ([]SentQuestion, error)
	ArchiveOlderThan(ctx context.Context, cutoff, now time.Time) (int64, error)
}

// ReportRepo сохраняет жалобы.
type ReportRepo interface {
	CreateReport(ctx context.Context, r Report) (Report, error)
}

// Button — кнопка под сообщением.
type Button struct {
	Text string
	Data string
}

// Keyboard — ряды кнопок под сообщением.
type Keyboard [][]Button

// Transport отправляет сообщения в мессенджер.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string, kb Keyboard) error
	// SendMedia возвращает идентификатор доставленного сообщения.
	SendMedia(ctx context.Context, chatID int64, kind MediaKind, fileID string, kb Keyboard) (int64, error)
}

// ReportNotifier уведомляет модераторов о новой жалобе.
type ReportNotifier interface {
	NotifyReport(ctx context.Context, r Report) error
}

// Locker обеспечивает взаимоисключение между процессами.
type Locker interface {
	// WithLock выполняет fn, если удалось захватить ключ. acquired=false без ошибки,
	// если ключ занят другим владельцем.
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) (acquired bool, err error)
}
