package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"tg-anon-bot/internal/domain"
)

const maxNotifyAttempts = 5

// ReportSource — очередь, из которой воркер читает задачи.
type ReportSource interface {
	Pop(ctx context.Context) (ReportJob, error)
	Enqueue(ctx context.Context, job ReportJob) error
}

// ReportWorker доставляет модераторам жалобы из очереди.
type ReportWorker struct {
	source   ReportSource
	notifier domain.ReportNotifier
	log      zerolog.Logger
	pause    time.Duration
}

// NewReportWorker создаёт воркер уведомлений.
func NewReportWorker(source ReportSource, notifier domain.ReportNotifier, log zerolog.Logger) *ReportWorker {
	return &ReportWorker{source: source, notifier: notifier, log: log, pause: time.Second}
}

// Run обрабатывает задачи до отмены контекста.
func (w *ReportWorker) Run(ctx context.Context) {
	for {
		job, err := w.source.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			w.log.Error().Err(err).Msg("reports: ошибка чтения очереди")
			if !w.wait(ctx) {
				return
			}
			continue
		}
		w.handle(ctx, job)
	}
}

func (w *ReportWorker) handle(ctx context.Context, job ReportJob) {
	jobLog := w.log.With().Str("job_id", job.ID).Int64("report_id", job.Report.ID).Int("attempt", job.Attempt).Logger()
	err := w.notifier.NotifyReport(ctx, job.Report)
	if err == nil {
		jobLog.Debug().Msg("reports: модератор уведомлён")
		return
	}
	if job.Attempt >= maxNotifyAttempts {
		jobLog.Error().Err(err).Msg("reports: достигнут предел попыток, задача отброшена")
		return
	}
	jobLog.Warn().Err(err).Msg("reports: уведомление не доставлено, повторим позже")
	job.Attempt++
	if err := w.source.Enqueue(ctx, job); err != nil {
		jobLog.Error().Err(err).Msg("reports: не удалось вернуть задачу в очередь")
	}
	w.wait(ctx)
}

func (w *ReportWorker) wait(ctx context.Context) bool {
	t := time.NewTimer(w.pause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
