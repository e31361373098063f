package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"tg-anon-bot/internal/domain"
	"tg-anon-bot/internal/infra/metrics"
)

const lockKey = "retention_sweep"

// Store — операции хранилища, нужные очистке.
type Store interface {
	ArchiveOlderThan(ctx context.Context, cutoff, now time.Time) (int64, error)
	PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// Config задаёт срок хранения вопросов и период запуска.
type Config struct {
	RetentionTTL time.Duration
	Interval     time.Duration
}

// Result — итог одного прохода.
type Result struct {
	Archived       int64
	PurgedSessions int64
	// Skipped — проход не выполнялся, очистку держит другой процесс.
	Skipped bool
}

// Service архивирует старые вопросы и удаляет истёкшие сессии.
// Одновременно выполняется не больше одного прохода: внутри процесса
// через singleflight, между процессами через Locker, если он задан.
type Service struct {
	cfg    Config
	store  Store
	locker domain.Locker
	log    zerolog.Logger
	now    func() time.Time
	group  singleflight.Group
}

// NewService создаёт сервис очистки. locker может быть nil.
func NewService(cfg Config, store Store, locker domain.Locker, log zerolog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		store:  store,
		locker: locker,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce выполняет один проход. Параллельный вызов дожидается текущего
// прохода и получает его результат.
func (s *Service) RunOnce(ctx context.Context) (Result, error) {
	v, err, _ := s.group.Do(lockKey, func() (any, error) {
		return s.runLocked(ctx)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (s *Service) runLocked(ctx context.Context) (Result, error) {
	if s.locker == nil {
		return s.sweep(ctx)
	}
	var res Result
	acquired, err := s.locker.WithLock(ctx, lockKey, s.lockTTL(), func(ctx context.Context) error {
		var sweepErr error
		res, sweepErr = s.sweep(ctx)
		return sweepErr
	})
	if err != nil {
		return res, err
	}
	if !acquired {
		return Result{Skipped: true}, nil
	}
	return res, nil
}

// lockTTL не даёт упавшему владельцу держать ключ дольше одного периода.
func (s *Service) lockTTL() time.Duration {
	if s.cfg.Interval > 0 {
		return s.cfg.Interval
	}
	return time.Hour
}

func (s *Service) sweep(ctx context.Context) (Result, error) {
	now := s.now()
	cutoff := now.Add(-s.cfg.RetentionTTL)
	archived, err := s.store.ArchiveOlderThan(ctx, cutoff, now)
	if err != nil {
		return Result{}, fmt.Errorf("архивация вопросов: %w", err)
	}
	purged, err := s.store.PurgeExpiredSessions(ctx, now)
	if err != nil {
		return Result{Archived: archived}, fmt.Errorf("удаление сессий: %w", err)
	}
	metrics.SweepArchived.Add(float64(archived))
	metrics.SweepPurgedSessions.Add(float64(purged))
	return Result{Archived: archived, PurgedSessions: purged}, nil
}

// Run запускает проходы по расписанию до отмены контекста.
// Ошибка прохода логируется, следующий тик выполняется как обычно.
func (s *Service) Run(ctx context.Context) {
	s.tick(ctx)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	res, err := s.RunOnce(ctx)
	switch {
	case err != nil:
		metrics.SweepRuns.WithLabelValues("error").Inc()
		s.log.Error().Err(err).Msg("ошибка очистки")
	case res.Skipped:
		metrics.SweepRuns.WithLabelValues("skipped").Inc()
		s.log.Debug().Msg("очистка выполняется другим процессом")
	default:
		metrics.SweepRuns.WithLabelValues("ok").Inc()
		s.log.Info().Int64("archived", res.Archived).Int64("purged_sessions", res.PurgedSessions).Msg("очистка завершена")
	}
}
