package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"tg-anon-bot/internal/domain"
)

// ReportJob — задача уведомления модератора о жалобе.
type ReportJob struct {
	ID         string        `json:"job_id"`
	Report     domain.Report `json:"report"`
	Attempt    int           `json:"attempt"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
}

// RedisReportQueue реализует очередь уведомлений на базе Redis lists.
type RedisReportQueue struct {
	client *redis.Client
	key    string
}

// NewRedisReportQueue создаёт очередь по указанному ключу.
func NewRedisReportQueue(client *redis.Client, key string) *RedisReportQueue {
	return &RedisReportQueue{client: client, key: key}
}

// NotifyReport реализует domain.ReportNotifier: жалоба ставится в очередь,
// доставку модератору выполняет отдельный воркер.
func (q *RedisReportQueue) NotifyReport(ctx context.Context, r domain.Report) error {
	return q.Enqueue(ctx, ReportJob{ID: uuid.NewString(), Report: r, Attempt: 1, EnqueuedAt: time.Now().UTC()})
}

// Enqueue публикует задачу в очередь.
func (q *RedisReportQueue) Enqueue(ctx context.Context, job ReportJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Pop блокирующе читает задачу из очереди.
func (q *RedisReportQueue) Pop(ctx context.Context) (ReportJob, error) {
	for {
		if err := ctx.Err(); err != nil {
			return ReportJob{}, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return ReportJob{}, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return ReportJob{}, err
		}
		if len(res) != 2 {
			return ReportJob{}, errors.New("redis queue: unexpected response")
		}
		return decodeJob(res[1])
	}
}

func decodeJob(raw string) (ReportJob, error) {
	var job ReportJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return ReportJob{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}
