package relay

import (
	"context"
	"fmt"

	"tg-anon-bot/internal/domain"
)

// AdminNotifier отправляет уведомления о жалобах в чат модераторов.
type AdminNotifier struct {
	transport domain.Transport
	chatID    int64
}

var _ domain.ReportNotifier = (*AdminNotifier)(nil)

// NewAdminNotifier создаёт уведомитель. При chatID == 0 уведомления не отправляются.
func NewAdminNotifier(transport domain.Transport, chatID int64) *AdminNotifier {
	return &AdminNotifier{transport: transport, chatID: chatID}
}

// NotifyReport отправляет модераторам сводку по жалобе.
func (n *AdminNotifier) NotifyReport(ctx context.Context, r domain.Report) error {
	if n.chatID == 0 {
		return nil
	}
	return n.transport.SendText(ctx, n.chatID, reportText(r), nil)
}

func reportText(r domain.Report) string {
	qid := "—"
	if r.QuestionID != nil {
		qid = fmt.Sprintf("#Q%d", *r.QuestionID)
	}
	return fmt.Sprintf("⚠️ Новый репорт: вопрос %s, reporter=%d, target=%d", qid, r.ReporterID, r.TargetUserID)
}
