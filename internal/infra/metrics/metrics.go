package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"tg-anon-bot/internal/domain"
)

var (
	QuestionsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "questions_sent_total",
		Help: "Доставленные анонимные вопросы",
	})
	AnswersSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "answers_sent_total",
		Help: "Записанные ответы на вопросы",
	})
	ReportsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reports_total",
		Help: "Принятые жалобы",
	})
	RelayRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_rejected_total",
		Help: "Отклонённые пользовательские действия по причинам",
	}, []string{"reason"})
	EventFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_event_failures_total",
		Help: "События, обработка которых завершилась ошибкой",
	}, []string{"event"})
	SendRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telegram_send_retries_total",
		Help: "Повторные попытки отправки в Telegram",
	}, []string{"operation", "cause"})
	SweepRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "retention_sweep_runs_total",
		Help: "Запуски фоновой очистки по результату",
	}, []string{"status"})
	SweepArchived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "retention_archived_questions_total",
		Help: "Вопросы, переведённые в архив",
	})
	SweepPurgedSessions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "retention_purged_sessions_total",
		Help: "Удалённые истёкшие сессии",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"component", "operation", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		QuestionsSent,
		AnswersSent,
		ReportsTotal,
		RelayRejected,
		EventFailures,
		SendRetries,
		SweepRuns,
		SweepArchived,
		SweepPurgedSessions,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, status).Inc()
}

// IncCounter увеличивает прометеевский счётчик, соответствующий бизнес-метрике.
func IncCounter(key string) {
	switch key {
	case domain.MetricQuestionsSent:
		QuestionsSent.Inc()
	case domain.MetricAnswersSent:
		AnswersSent.Inc()
	case domain.MetricReports:
		ReportsTotal.Inc()
	}
}

// IncRejected фиксирует отказ пользователю с указанной причиной.
func IncRejected(reason string) {
	RelayRejected.WithLabelValues(reason).Inc()
}
