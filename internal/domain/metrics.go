package domain

import "context"

const (
	// MetricQuestionsSent — доставленные вопросы.
	MetricQuestionsSent = "questions_sent"
	// MetricAnswersSent — записанные ответы.
	MetricAnswersSent = "answers_sent"
	// MetricReports — принятые жалобы.
	MetricReports = "reports"
	// MetricUsersRegistered — новые пользователи.
	MetricUsersRegistered = "users_registered"
)

// MetricRepo хранит монотонные счётчики.
type MetricRepo interface {
	IncMetric(ctx context.Context, key string, delta int64) error
	ListMetrics(ctx context.Context) (map[string]int64, error)
}
