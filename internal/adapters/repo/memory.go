package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"tg-anon-bot/internal/domain"
)

// Memory — хранилище в памяти процесса для локального запуска и тестов.
// Каждая операция выполняется под одним мьютексом, что повторяет атомарность
// соответствующих выражений Postgres.
type Memory struct {
	mu        sync.Mutex
	users     map[int64]*domain.User
	byTG      map[int64]int64
	byToken   map[string]int64
	blocks    map[[2]int64]time.Time
	sessions  []domain.Session
	questions map[int64]*domain.Question
	answers   map[int64]domain.Answer
	reports   []domain.Report
	metrics   map[string]int64
	seq       struct{ user, session, question, answer, report int64 }
}

var (
	_ domain.UserRepo     = (*Memory)(nil)
	_ domain.BlockRepo    = (*Memory)(nil)
	_ domain.SessionRepo  = (*Memory)(nil)
	_ domain.QuestionRepo = (*Memory)(nil)
	_ domain.ReportRepo   = (*Memory)(nil)
	_ domain.MetricRepo   = (*Memory)(nil)
)

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{
		users:     make(map[int64]*domain.User),
		byTG:      make(map[int64]int64),
		byToken:   make(map[string]int64),
		blocks:    make(map[[2]int64]time.Time),
		questions: make(map[int64]*domain.Question),
		answers:   make(map[int64]domain.Answer),
		metrics:   make(map[string]int64),
	}
}

// EnsureUser реализует domain.UserRepo.
func (m *Memory) EnsureUser(_ context.Context, tgUserID int64, now time.Time) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byTG[tgUserID]; ok {
		return *m.users[id], false, nil
	}
	var token string
	for {
		t, err := generateToken()
		if err != nil {
			return domain.User{}, false, err
		}
		if _, taken := m.byToken[t]; !taken {
			token = t
			break
		}
	}
	m.seq.user++
	u := &domain.User{
		ID:               m.seq.user,
		TGUserID:         tgUserID,
		Token:            token,
		AcceptsQuestions: true,
		CreatedAt:        now,
		LastActive:       now,
	}
	m.users[u.ID] = u
	m.byTG[tgUserID] = u.ID
	m.byToken[token] = u.ID
	return *u, true, nil
}

// GetByToken возвращает пользователя по токену ссылки.
func (m *Memory) GetByToken(_ context.Context, token string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byToken[token]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return *m.users[id], nil
}

// GetByID возвращает пользователя по внутреннему ID.
func (m *Memory) GetByID(_ context.Context, id int64) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return *u, nil
}

func (m *Memory) updateUser(id int64, fn func(u *domain.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		fn(u)
	}
	return nil
}

// MarkConsent фиксирует согласие с правилами.
func (m *Memory) MarkConsent(_ context.Context, id int64) error {
	return m.updateUser(id, func(u *domain.User) { u.ConsentAccepted = true })
}

// TouchActivity обновляет время последней активности.
func (m *Memory) TouchActivity(_ context.Context, id int64, now time.Time) error {
	return m.updateUser(id, func(u *domain.User) { u.LastActive = now })
}

// SetAcceptsQuestions включает или выключает приём вопросов.
func (m *Memory) SetAcceptsQuestions(_ context.Context, id int64, accepts bool) error {
	return m.updateUser(id, func(u *domain.User) { u.AcceptsQuestions = accepts })
}

// CountUsers возвращает количество пользователей.
func (m *Memory) CountUsers(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.users)), nil
}

// Block реализует domain.BlockRepo.
func (m *Memory) Block(_ context.Context, blockerID, blockedID int64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]int64{blockerID, blockedID}
	if _, ok := m.blocks[key]; !ok {
		m.blocks[key] = now
	}
	return nil
}

// IsBlocked проверяет, заблокировал ли blocker пользователя blocked.
func (m *Memory) IsBlocked(_ context.Context, blockerID, blockedID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blocks[[2]int64{blockerID, blockedID}]
	return ok, nil
}

// CreateSession реализует domain.SessionRepo.
func (m *Memory) CreateSession(_ context.Context, s domain.Session) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq.session++
	s.ID = m.seq.session
	m.sessions = append(m.sessions, s)
	return s, nil
}

// PopSession удаляет истёкшие сессии и извлекает самую свежую живую.
func (m *Memory) PopSession(_ context.Context, userID int64, typ domain.SessionType, now time.Time) (domain.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(now)
	picked := -1
	for i, s := range m.sessions {
		if s.UserID == userID && s.Type == typ && (picked < 0 || s.ID > m.sessions[picked].ID) {
			picked = i
		}
	}
	if picked < 0 {
		return domain.Session{}, false, nil
	}
	s := m.sessions[picked]
	m.sessions = append(m.sessions[:picked], m.sessions[picked+1:]...)
	return s, true, nil
}

// PurgeExpiredSessions удаляет истёкшие сессии.
func (m *Memory) PurgeExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purgeLocked(now), nil
}

func (m *Memory) purgeLocked(now time.Time) int64 {
	kept := m.sessions[:0]
	var purged int64
	for _, s := range m.sessions {
		if s.Expired(now) {
			purged++
			continue
		}
		kept = append(kept, s)
	}
	m.sessions = kept
	return purged
}

// CreateQuestion реализует domain.QuestionRepo.
func (m *Memory) CreateQuestion(_ context.Context, q domain.Question) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq.question++
	q.ID = m.seq.question
	q.State = domain.QuestionSent
	q.DeliveryHandle = nil
	q.ReadAt, q.AnsweredAt, q.ArchivedAt = nil, nil, nil
	m.questions[q.ID] = &q
	return q.ID, nil
}

// AttachDeliveryHandle сохраняет идентификатор доставленного сообщения.
func (m *Memory) AttachDeliveryHandle(_ context.Context, toUserID, questionID, handle int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[questionID]
	if !ok || q.ToUserID != toUserID {
		return domain.ErrNotFound
	}
	if err := domain.Transition(q.State, domain.QuestionDelivered); err != nil {
		return err
	}
	h := handle
	q.DeliveryHandle = &h
	q.State = domain.QuestionDelivered
	return nil
}

func (m *Memory) findLocked(toUserID, handle int64) *domain.Question {
	for _, q := range m.questions {
		if q.ToUserID == toUserID && q.DeliveryHandle != nil && *q.DeliveryHandle == handle {
			return q
		}
	}
	return nil
}

// MarkReadByHandle проставляет read_at, если он ещё пуст.
func (m *Memory) MarkReadByHandle(_ context.Context, toUserID, handle int64, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.findLocked(toUserID, handle)
	if q == nil || q.ReadAt != nil || q.State == domain.QuestionArchived {
		return false, nil
	}
	t := now
	q.ReadAt = &t
	if q.State == domain.QuestionDelivered {
		q.State = domain.QuestionRead
	}
	return true, nil
}

// FindByDeliveryHandle ищет неархивный вопрос по сообщению адресата.
func (m *Memory) FindByDeliveryHandle(_ context.Context, toUserID, handle int64) (domain.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.findLocked(toUserID, handle)
	if q == nil || q.State == domain.QuestionArchived {
		return domain.Question{}, domain.ErrNotFound
	}
	return copyQuestion(q), nil
}

// RecordAnswer переводит вопрос в answered и сохраняет ответ как одно целое.
func (m *Memory) RecordAnswer(_ context.Context, a domain.Answer) (domain.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[a.QuestionID]
	if !ok {
		return domain.Answer{}, domain.ErrNotFound
	}
	if q.AnsweredAt != nil {
		return domain.Answer{}, domain.ErrAlreadyAnswered
	}
	if err := domain.Transition(q.State, domain.QuestionAnswered); err != nil {
		return domain.Answer{}, err
	}
	m.seq.answer++
	a.ID = m.seq.answer
	t := a.CreatedAt
	q.AnsweredAt = &t
	q.State = domain.QuestionAnswered
	m.answers[a.QuestionID] = a
	return a, nil
}

// GetQuestion возвращает вопрос по ID.
func (m *Memory) GetQuestion(_ context.Context, id int64) (domain.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[id]
	if !ok {
		return domain.Question{}, domain.ErrNotFound
	}
	return copyQuestion(q), nil
}

// ListSent возвращает последние вопросы, отправленные пользователем.
func (m *Memory) ListSent(_ context.Context, fromUserID int64, limit int) ([]domain.SentQuestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sent []domain.SentQuestion
	for _, q := range m.questions {
		if q.FromUserID != fromUserID {
			continue
		}
		var toTG int64
		if u, ok := m.users[q.ToUserID]; ok {
			toTG = u.TGUserID
		}
		sent = append(sent, domain.SentQuestion{Question: copyQuestion(q), ToTGUserID: toTG})
	}
	sort.Slice(sent, func(i, j int) bool {
		if sent[i].CreatedAt.Equal(sent[j].CreatedAt) {
			return sent[i].ID > sent[j].ID
		}
		return sent[i].CreatedAt.After(sent[j].CreatedAt)
	})
	if limit > 0 && len(sent) > limit {
		sent = sent[:limit]
	}
	return sent, nil
}

// ArchiveOlderThan переводит в архив вопросы, созданные раньше cutoff.
func (m *Memory) ArchiveOlderThan(_ context.Context, cutoff, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var archived int64
	for _, q := range m.questions {
		if q.State == domain.QuestionArchived || !q.CreatedAt.Before(cutoff) {
			continue
		}
		t := now
		q.ArchivedAt = &t
		q.State = domain.QuestionArchived
		archived++
	}
	return archived, nil
}

// CreateReport реализует domain.ReportRepo.
func (m *Memory) CreateReport(_ context.Context, r domain.Report) (domain.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq.report++
	r.ID = m.seq.report
	m.reports = append(m.reports, r)
	return r, nil
}

// IncMetric реализует domain.MetricRepo.
func (m *Memory) IncMetric(_ context.Context, key string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics[key] += delta
	return nil
}

// ListMetrics возвращает все счётчики.
func (m *Memory) ListMetrics(context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.metrics))
	for k, v := range m.metrics {
		out[k] = v
	}
	return out, nil
}

func copyQuestion(q *domain.Question) domain.Question {
	c := *q
	if q.DeliveryHandle != nil {
		h := *q.DeliveryHandle
		c.DeliveryHandle = &h
	}
	if q.ReadAt != nil {
		t := *q.ReadAt
		c.ReadAt = &t
	}
	if q.AnsweredAt != nil {
		t := *q.AnsweredAt
		c.AnsweredAt = &t
	}
	if q.ArchivedAt != nil {
		t := *q.ArchivedAt
		c.ArchivedAt = &t
	}
	return c
}
