package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tg-anon-bot/internal/domain"
	"tg-anon-bot/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.UserRepo     = (*Postgres)(nil)
	_ domain.BlockRepo    = (*Postgres)(nil)
	_ domain.SessionRepo  = (*Postgres)(nil)
	_ domain.QuestionRepo = (*Postgres)(nil)
	_ domain.ReportRepo   = (*Postgres)(nil)
	_ domain.MetricRepo   = (*Postgres)(nil)
)

const uniqueViolation = "23505"

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), 5*time.Second)
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

const userColumns = `id, tg_user_id, token, consent_accepted, accepts_questions, created_at, last_active`

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.TGUserID, &u.Token, &u.ConsentAccepted, &u.AcceptsQuestions, &u.CreatedAt, &u.LastActive)
	return u, err
}

// EnsureUser реализует domain.UserRepo.
func (p *Postgres) EnsureUser(ctx context.Context, tgUserID int64, now time.Time) (domain.User, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	for attempt := 0; attempt < tokenRetryMax; attempt++ {
		token, err := generateToken()
		if err != nil {
			return domain.User{}, false, err
		}
		var created bool
		start := time.Now()
		var u domain.User
		err = p.pool.QueryRow(ctx, `
INSERT INTO users (tg_user_id, token, consent_accepted, accepts_questions, created_at, last_active)
VALUES ($1, $2, FALSE, TRUE, $3, $3)
ON CONFLICT (tg_user_id) DO UPDATE SET tg_user_id = EXCLUDED.tg_user_id
RETURNING `+userColumns+`, (xmax = 0) AS inserted
`, tgUserID, token, now).Scan(&u.ID, &u.TGUserID, &u.Token, &u.ConsentAccepted, &u.AcceptsQuestions, &u.CreatedAt, &u.LastActive, &created)
		metrics.ObserveNetworkRequest("postgres", "users_ensure", start, err)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "users_token_key" {
				continue
			}
			return domain.User{}, false, err
		}
		return u, created, nil
	}
	return domain.User{}, false, fmt.Errorf("could not generate unique token")
}

func (p *Postgres) getUser(ctx context.Context, op, where string, arg any) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	u, err := scanUser(p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where+`=$1`, arg))
	metrics.ObserveNetworkRequest("postgres", op, start, err)
	return u, notFound(err)
}

// GetByToken возвращает пользователя по токену ссылки.
func (p *Postgres) GetByToken(ctx context.Context, token string) (domain.User, error) {
	return p.getUser(ctx, "users_get_by_token", "token", token)
}

// GetByID возвращает пользователя по внутреннему ID.
func (p *Postgres) GetByID(ctx context.Context, id int64) (domain.User, error) {
	return p.getUser(ctx, "users_get_by_id", "id", id)
}

// MarkConsent фиксирует согласие с правилами. Повторный вызов ничего не меняет.
func (p *Postgres) MarkConsent(ctx context.Context, id int64) error {
	return p.exec(ctx, "users_mark_consent", `UPDATE users SET consent_accepted=TRUE WHERE id=$1 AND NOT consent_accepted`, id)
}

// TouchActivity обновляет время последней активности.
func (p *Postgres) TouchActivity(ctx context.Context, id int64, now time.Time) error {
	return p.exec(ctx, "users_touch", `UPDATE users SET last_active=$2 WHERE id=$1`, id, now)
}

// SetAcceptsQuestions включает или выключает приём вопросов.
func (p *Postgres) SetAcceptsQuestions(ctx context.Context, id int64, accepts bool) error {
	return p.exec(ctx, "users_set_accepts", `UPDATE users SET accepts_questions=$2 WHERE id=$1`, id, accepts)
}

// CountUsers возвращает количество пользователей.
func (p *Postgres) CountUsers(ctx context.Context) (int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var count int64
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "users_count", start, err)
	return count, err
}

func (p *Postgres) exec(ctx context.Context, op, sql string, args ...any) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, sql, args...)
	metrics.ObserveNetworkRequest("postgres", op, start, err)
	return err
}

// Block реализует domain.BlockRepo.
func (p *Postgres) Block(ctx context.Context, blockerID, blockedID int64, now time.Time) error {
	return p.exec(ctx, "blocks_insert", `
INSERT INTO blocks (blocker, blocked, created_at) VALUES ($1, $2, $3)
ON CONFLICT (blocker, blocked) DO NOTHING
`, blockerID, blockedID, now)
}

// IsBlocked проверяет, заблокировал ли blocker пользователя blocked.
func (p *Postgres) IsBlocked(ctx context.Context, blockerID, blockedID int64) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var blocked bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM blocks WHERE blocker=$1 AND blocked=$2)`, blockerID, blockedID).Scan(&blocked)
	metrics.ObserveNetworkRequest("postgres", "blocks_exists", start, err)
	return blocked, err
}

const sessionColumns = `id, user_id, target_user_id, type, created_at, expires_at`

func scanSession(row pgx.Row) (domain.Session, error) {
	var s domain.Session
	err := row.Scan(&s.ID, &s.UserID, &s.TargetUserID, &s.Type, &s.CreatedAt, &s.ExpiresAt)
	return s, err
}

// CreateSession реализует domain.SessionRepo.
func (p *Postgres) CreateSession(ctx context.Context, s domain.Session) (domain.Session, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	created, err := scanSession(p.pool.QueryRow(ctx, `
INSERT INTO sessions (user_id, target_user_id, type, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+sessionColumns, s.UserID, s.TargetUserID, s.Type, s.CreatedAt, s.ExpiresAt))
	metrics.ObserveNetworkRequest("postgres", "sessions_insert", start, err)
	return created, err
}

// PopSession удаляет истёкшие сессии и извлекает самую свежую живую одним
// выражением. Строка блокируется FOR UPDATE, поэтому два конкурентных вызова
// не могут вернуть одну и ту же сессию.
func (p *Postgres) PopSession(ctx context.Context, userID int64, typ domain.SessionType, now time.Time) (domain.Session, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	s, err := scanSession(p.pool.QueryRow(ctx, `
WITH expired AS (
    DELETE FROM sessions WHERE expires_at < $3
), picked AS (
    SELECT id FROM sessions
    WHERE user_id = $1 AND type = $2 AND expires_at >= $3
    ORDER BY id DESC
    LIMIT 1
    FOR UPDATE
)
DELETE FROM sessions s USING picked
WHERE s.id = picked.id
RETURNING s.id, s.user_id, s.target_user_id, s.type, s.created_at, s.expires_at
`, userID, typ, now))
	metrics.ObserveNetworkRequest("postgres", "sessions_pop", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, err
	}
	return s, true, nil
}

// PurgeExpiredSessions удаляет истёкшие сессии.
func (p *Postgres) PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now)
	metrics.ObserveNetworkRequest("postgres", "sessions_purge", start, err)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

const questionColumns = `id, to_user, from_user, media_type, file_id, state, msg_id, created_at, read_at, answered_at, archived_at`

func scanQuestion(row pgx.Row, extra ...any) (domain.Question, error) {
	var q domain.Question
	dest := []any{&q.ID, &q.ToUserID, &q.FromUserID, &q.Media, &q.FileID, &q.State, &q.DeliveryHandle, &q.CreatedAt, &q.ReadAt, &q.AnsweredAt, &q.ArchivedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return q, err
	}
	if !q.State.Valid() {
		return q, fmt.Errorf("вопрос %d: неизвестное состояние %q", q.ID, q.State)
	}
	return q, nil
}

// CreateQuestion реализует domain.QuestionRepo.
func (p *Postgres) CreateQuestion(ctx context.Context, q domain.Question) (int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var id int64
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO questions (to_user, from_user, media_type, file_id, state, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id
`, q.ToUserID, q.FromUserID, q.Media, q.FileID, domain.QuestionSent, q.CreatedAt).Scan(&id)
	metrics.ObserveNetworkRequest("postgres", "questions_insert", start, err)
	return id, err
}

// AttachDeliveryHandle сохраняет идентификатор доставленного сообщения.
func (p *Postgres) AttachDeliveryHandle(ctx context.Context, toUserID, questionID, handle int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
UPDATE questions SET msg_id=$3, state=$4
WHERE id=$1 AND to_user=$2 AND state = ANY($5)
`, questionID, toUserID, handle, domain.QuestionDelivered, statesBefore(domain.QuestionDelivered))
	metrics.ObserveNetworkRequest("postgres", "questions_attach_handle", start, err)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return p.explainNoTransition(ctx, questionID, domain.QuestionDelivered)
	}
	return nil
}

// MarkReadByHandle проставляет read_at, если он ещё пуст. Состояние delivered
// переходит в read; более поздние состояния не меняются.
func (p *Postgres) MarkReadByHandle(ctx context.Context, toUserID, handle int64, now time.Time) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
UPDATE questions
SET read_at = $3,
    state = CASE WHEN state = $4 THEN $5 ELSE state END
WHERE to_user=$1 AND msg_id=$2 AND read_at IS NULL AND state <> $6
`, toUserID, handle, now, domain.QuestionDelivered, domain.QuestionRead, domain.QuestionArchived)
	metrics.ObserveNetworkRequest("postgres", "questions_mark_read", start, err)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// FindByDeliveryHandle ищет неархивный вопрос по сообщению, на которое ответил адресат.
func (p *Postgres) FindByDeliveryHandle(ctx context.Context, toUserID, handle int64) (domain.Question, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	q, err := scanQuestion(p.pool.QueryRow(ctx, `
SELECT `+questionColumns+` FROM questions
WHERE to_user=$1 AND msg_id=$2 AND state <> $3
`, toUserID, handle, domain.QuestionArchived))
	metrics.ObserveNetworkRequest("postgres", "questions_find_by_handle", start, err)
	return q, notFound(err)
}

// RecordAnswer одной транзакцией переводит вопрос в answered и вставляет ответ.
// Повторный вызов для того же вопроса возвращает domain.ErrAlreadyAnswered.
func (p *Postgres) RecordAnswer(ctx context.Context, a domain.Answer) (domain.Answer, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", start, err)
	if err != nil {
		return domain.Answer{}, err
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	res, err := tx.Exec(ctx, `
UPDATE questions SET state=$2, answered_at=$3
WHERE id=$1 AND state = ANY($4)
`, a.QuestionID, domain.QuestionAnswered, a.CreatedAt, statesBefore(domain.QuestionAnswered))
	metrics.ObserveNetworkRequest("postgres", "questions_mark_answered", start, err)
	if err != nil {
		return domain.Answer{}, err
	}
	if res.RowsAffected() == 0 {
		return domain.Answer{}, p.explainNoTransition(ctx, a.QuestionID, domain.QuestionAnswered)
	}

	start = time.Now()
	err = tx.QueryRow(ctx, `
INSERT INTO answers (question_id, from_user, media_type, file_id, created_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id
`, a.QuestionID, a.FromUserID, a.Media, a.FileID, a.CreatedAt).Scan(&a.ID)
	metrics.ObserveNetworkRequest("postgres", "answers_insert", start, err)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.Answer{}, domain.ErrAlreadyAnswered
		}
		return domain.Answer{}, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", start, err)
	if err != nil {
		return domain.Answer{}, err
	}
	return a, nil
}

// explainNoTransition уточняет, почему условное обновление не затронуло строк.
func (p *Postgres) explainNoTransition(ctx context.Context, questionID int64, to domain.QuestionState) error {
	var state domain.QuestionState
	var answered bool
	err := p.pool.QueryRow(ctx, `SELECT state, answered_at IS NOT NULL FROM questions WHERE id=$1`, questionID).Scan(&state, &answered)
	if err != nil {
		return notFound(err)
	}
	if to == domain.QuestionAnswered && answered {
		return domain.ErrAlreadyAnswered
	}
	if err := domain.Transition(state, to); err != nil {
		return err
	}
	return domain.ErrNotFound
}

// GetQuestion возвращает вопрос по ID.
func (p *Postgres) GetQuestion(ctx context.Context, id int64) (domain.Question, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	q, err := scanQuestion(p.pool.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id=$1`, id))
	metrics.ObserveNetworkRequest("postgres", "questions_get", start, err)
	return q, notFound(err)
}

// ListSent возвращает последние вопросы, отправленные пользователем.
func (p *Postgres) ListSent(ctx context.Context, fromUserID int64, limit int) ([]domain.SentQuestion, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT q.id, q.to_user, q.from_user, q.media_type, q.file_id, q.state, q.msg_id, q.created_at, q.read_at, q.answered_at, q.archived_at, u.tg_user_id
FROM questions q JOIN users u ON u.id = q.to_user
WHERE q.from_user=$1
ORDER BY q.created_at DESC, q.id DESC
LIMIT $2
`, fromUserID, limit)
	metrics.ObserveNetworkRequest("postgres", "questions_list_sent", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sent []domain.SentQuestion
	for rows.Next() {
		var toTG int64
		q, err := scanQuestion(rows, &toTG)
		if err != nil {
			return nil, err
		}
		sent = append(sent, domain.SentQuestion{Question: q, ToTGUserID: toTG})
	}
	return sent, rows.Err()
}

// ArchiveOlderThan переводит в архив вопросы, созданные раньше cutoff.
func (p *Postgres) ArchiveOlderThan(ctx context.Context, cutoff, now time.Time) (int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
UPDATE questions SET state=$3, archived_at=$2
WHERE state <> $3 AND created_at < $1
`, cutoff, now, domain.QuestionArchived)
	metrics.ObserveNetworkRequest("postgres", "questions_archive", start, err)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

// CreateReport реализует domain.ReportRepo.
func (p *Postgres) CreateReport(ctx context.Context, r domain.Report) (domain.Report, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO reports (reporter, target_user, question_id, reason, created_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id
`, r.ReporterID, r.TargetUserID, r.QuestionID, r.Reason, r.CreatedAt).Scan(&r.ID)
	metrics.ObserveNetworkRequest("postgres", "reports_insert", start, err)
	return r, err
}

// IncMetric реализует domain.MetricRepo.
func (p *Postgres) IncMetric(ctx context.Context, key string, delta int64) error {
	return p.exec(ctx, "metrics_inc", `
INSERT INTO metrics (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = metrics.value + EXCLUDED.value
`, key, delta)
}

// ListMetrics возвращает все счётчики.
func (p *Postgres) ListMetrics(ctx context.Context) (map[string]int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT key, value FROM metrics ORDER BY key`)
	metrics.ObserveNetworkRequest("postgres", "metrics_list", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var key string
		var value int64
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, rows.Err()
}

func statesBefore(to domain.QuestionState) []string {
	states := domain.StatesBefore(to)
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
