package relay

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-anon-bot/internal/adapters/repo"
	"tg-anon-bot/internal/domain"
)

type sentMessage struct {
	chatID int64
	text   string
	kind   domain.MediaKind
	fileID string
	kb     domain.Keyboard
	handle int64
}

type fakeTransport struct {
	mu        sync.Mutex
	texts     []sentMessage
	media     []sentMessage
	next      int64
	failMedia error
}

func (f *fakeTransport) SendText(_ context.Context, chatID int64, text string, kb domain.Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, sentMessage{chatID: chatID, text: text, kb: kb})
	return nil
}

func (f *fakeTransport) SendMedia(_ context.Context, chatID int64, kind domain.MediaKind, fileID string, kb domain.Keyboard) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMedia != nil {
		return 0, f.failMedia
	}
	f.next++
	handle := 1000 + f.next
	f.media = append(f.media, sentMessage{chatID: chatID, kind: kind, fileID: fileID, kb: kb, handle: handle})
	return handle, nil
}

func (f *fakeTransport) lastText(chatID int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.texts) - 1; i >= 0; i-- {
		if f.texts[i].chatID == chatID {
			return f.texts[i].text
		}
	}
	return ""
}

func (f *fakeTransport) lastMedia() sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.media) == 0 {
		return sentMessage{}
	}
	return f.media[len(f.media)-1]
}

type failingNotifier struct{ reports []domain.Report }

func (n *failingNotifier) NotifyReport(_ context.Context, r domain.Report) error {
	n.reports = append(n.reports, r)
	return errors.New("admin chat unavailable")
}

type harness struct {
	svc       *Service
	store     *repo.Memory
	transport *fakeTransport
	now       time.Time
}

const (
	tgA     = int64(100)
	tgB     = int64(200)
	tgC     = int64(300)
	tgAdmin = int64(900)
)

func newHarness(t *testing.T, notifier domain.ReportNotifier) *harness {
	t.Helper()
	h := &harness{
		store:     repo.NewMemory(),
		transport: &fakeTransport{},
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	cfg := Config{SessionTTL: 15 * time.Minute, BotUsername: "anon_bot", AdminIDs: []int64{tgAdmin}}
	h.svc = NewService(cfg, h.store, h.transport, notifier, zerolog.Nop())
	h.svc.now = func() time.Time { return h.now }
	return h
}

// register проводит пользователя через /start и согласие с правилами.
func (h *harness) register(t *testing.T, tgID int64) domain.User {
	t.Helper()
	ctx := context.Background()
	if err := h.svc.Start(ctx, tgID, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.svc.Callback(ctx, tgID, "consent:yes"); err != nil {
		t.Fatalf("consent: %v", err)
	}
	u, _, err := h.store.EnsureUser(ctx, tgID, h.now)
	if err != nil {
		t.Fatalf("получение пользователя: %v", err)
	}
	if !u.ConsentAccepted {
		t.Fatal("ожидали принятое согласие")
	}
	return u
}

func (h *harness) content(t *testing.T, tgID int64, kind domain.MediaKind, fileID string, replyTo *int64) {
	t.Helper()
	if err := h.svc.Content(context.Background(), Content{TGUserID: tgID, Kind: kind, FileID: fileID, ReplyTo: replyTo}); err != nil {
		t.Fatalf("content: %v", err)
	}
}

func TestAskAndAnswerEndToEnd(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.register(t, tgA)
	h.register(t, tgB)

	if err := h.svc.Start(ctx, tgB, "ask_"+a.Token); err != nil {
		t.Fatalf("start с токеном: %v", err)
	}
	if got := h.transport.lastText(tgB); got != msgAskPrompt {
		t.Fatalf("ожидали приглашение отправить вопрос, получили %q", got)
	}

	h.content(t, tgB, domain.MediaVoice, "f1", nil)
	if got := h.transport.lastText(tgB); got != msgQuestionSent {
		t.Fatalf("ожидали подтверждение отправки, получили %q", got)
	}
	delivered := h.transport.lastMedia()
	if delivered.chatID != tgA || delivered.fileID != "f1" {
		t.Fatalf("вопрос доставлен не туда: %+v", delivered)
	}
	if !strings.Contains(h.transport.lastText(tgA), "ID: #Q1") {
		t.Fatalf("ожидали уведомление с #Q1, получили %q", h.transport.lastText(tgA))
	}
	q, err := h.store.GetQuestion(ctx, 1)
	if err != nil {
		t.Fatalf("вопрос 1: %v", err)
	}
	if q.State != domain.QuestionDelivered || q.DeliveryHandle == nil || *q.DeliveryHandle != delivered.handle {
		t.Fatalf("ожидали доставленный вопрос с handle %d, получили %+v", delivered.handle, q)
	}

	// Сессия одноразовая: второе голосовое без новой сессии получает подсказку.
	h.content(t, tgB, domain.MediaVoice, "f2", nil)
	if !strings.Contains(h.transport.lastText(tgB), "перейди по ссылке адресата") {
		t.Fatalf("ожидали подсказку со ссылкой, получили %q", h.transport.lastText(tgB))
	}
	if _, err := h.store.GetQuestion(ctx, 2); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("второй вопрос не должен создаваться: %v", err)
	}

	handle := delivered.handle
	h.now = h.now.Add(time.Minute)
	h.content(t, tgA, domain.MediaVideoNote, "f2", &handle)
	if got := h.transport.lastText(tgA); got != msgAnswerSent {
		t.Fatalf("ожидали подтверждение ответа, получили %q", got)
	}
	relayed := h.transport.lastMedia()
	if relayed.chatID != tgB || relayed.kind != domain.MediaVideoNote || relayed.fileID != "f2" {
		t.Fatalf("ответ доставлен не туда: %+v", relayed)
	}
	if relayed.kb[0][0].Data != "askmore:"+itoa(a.ID) {
		t.Fatalf("ожидали кнопку askmore на автора ответа, получили %+v", relayed.kb)
	}
	q, _ = h.store.GetQuestion(ctx, 1)
	if q.State != domain.QuestionAnswered || q.ReadAt == nil || !q.ReadAt.Equal(h.now) {
		t.Fatalf("ожидали отвеченный и прочитанный вопрос, получили %+v", q)
	}
	counters, _ := h.store.ListMetrics(ctx)
	if counters[domain.MetricQuestionsSent] != 1 || counters[domain.MetricAnswersSent] != 1 {
		t.Fatalf("неожиданные счётчики: %v", counters)
	}
}

func TestSecondAnswerIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.register(t, tgA)
	h.register(t, tgB)
	_ = h.svc.Start(ctx, tgB, "ask_"+a.Token)
	h.content(t, tgB, domain.MediaVoice, "f1", nil)
	handle := h.transport.lastMedia().handle

	h.content(t, tgA, domain.MediaVoice, "ans1", &handle)
	h.content(t, tgA, domain.MediaVoice, "ans2", &handle)
	if got := h.transport.lastText(tgA); got != msgAlreadyAnswered {
		t.Fatalf("ожидали отказ повторного ответа, получили %q", got)
	}
	if counters, _ := h.store.ListMetrics(ctx); counters[domain.MetricAnswersSent] != 1 {
		t.Fatalf("ожидали один ответ, получили %d", counters[domain.MetricAnswersSent])
	}
}

func TestBlockIsCheckedAtSendTime(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.register(t, tgA)
	b := h.register(t, tgB)

	_ = h.svc.Start(ctx, tgB, "ask_"+a.Token)
	if err := h.store.Block(ctx, a.ID, b.ID, h.now); err != nil {
		t.Fatalf("block: %v", err)
	}
	h.content(t, tgB, domain.MediaVoice, "f1", nil)
	if got := h.transport.lastText(tgB); got != msgBlocked {
		t.Fatalf("ожидали отказ из-за блокировки, получили %q", got)
	}
	if len(h.transport.media) != 0 {
		t.Fatal("вопрос не должен доставляться")
	}
}

func TestBlockButtonBlocksAsker(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.register(t, tgA)
	b := h.register(t, tgB)
	_ = h.svc.Start(ctx, tgB, "ask_"+a.Token)
	h.content(t, tgB, domain.MediaVoice, "f1", nil)

	reply, err := h.svc.Callback(ctx, tgB, "block:1")
	if err != nil || reply.Text != alertNotYours {
		t.Fatalf("автор не может блокировать по своему вопросу: %+v %v", reply, err)
	}
	reply, err = h.svc.Callback(ctx, tgA, "block:1")
	if err != nil || reply.Text != alertBlocked {
		t.Fatalf("ожидали подтверждение блокировки: %+v %v", reply, err)
	}
	blocked, _ := h.store.IsBlocked(ctx, a.ID, b.ID)
	if !blocked {
		t.Fatal("ожидали блокировку автора")
	}
}

func TestSelfAskIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.register(t, tgA)

	if err := h.svc.Start(ctx, tgA, "ask_"+a.Token); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := h.transport.lastText(tgA); got != msgSelfAsk {
		t.Fatalf("ожидали отказ самому себе, получили %q", got)
	}
	reply, err := h.svc.Callback(ctx, tgA, "askmore:"+itoa(a.ID))
	if err != nil {
		t.Fatalf("askmore: %v", err)
	}
	if reply.Text != alertSelfAsk || !reply.Alert {
		t.Fatalf("ожидали alert про себя, получили %+v", reply)
	}
	if _, ok, _ := h.store.PopSession(ctx, a.ID, domain.SessionAsk, h.now); ok {
		t.Fatal("сессия не должна создаваться")
	}
}

func TestStartRejections(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.register(t, tgA)
	h.register(t, tgB)

	_ = h.svc.Start(ctx, tgB, "ask_unknown")
	if got := h.transport.lastText(tgB); got != msgBadLink {
		t.Fatalf("ожидали отказ по токену, получили %q", got)
	}
	_ = h.svc.Start(ctx, tgB, "hello")
	if got := h.transport.lastText(tgB); got != msgUnknownParam {
		t.Fatalf("ожидали неизвестный параметр, получили %q", got)
	}
	if err := h.svc.Pause(ctx, tgA); err != nil {
		t.Fatalf("pause: %v", err)
	}
	_ = h.svc.Start(ctx, tgB, "ask_"+a.Token)
	if got := h.transport.lastText(tgB); got != msgNotAccepting {
		t.Fatalf("ожидали отказ при выключенном приёме, получили %q", got)
	}
}

func TestConsentCarriesStartParam(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.register(t, tgA)

	if err := h.svc.Start(ctx, tgB, "ask_"+a.Token); err != nil {
		t.Fatalf("start: %v", err)
	}
	last := h.transport.texts[len(h.transport.texts)-1]
	if last.text != msgRules {
		t.Fatalf("ожидали правила, получили %q", last.text)
	}
	yes := last.kb[0][0].Data
	if yes != "consent:yes:ask_"+a.Token {
		t.Fatalf("ожидали параметр в кнопке согласия, получили %q", yes)
	}
	if _, err := h.svc.Callback(ctx, tgB, yes); err != nil {
		t.Fatalf("consent: %v", err)
	}
	if got := h.transport.lastText(tgB); got != msgAskPrompt {
		t.Fatalf("после согласия ожидали приглашение к вопросу, получили %q", got)
	}
}

func TestInvalidMediaDropsPoppedSession(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.register(t, tgA)
	h.register(t, tgB)
	_ = h.svc.Start(ctx, tgB, "ask_"+a.Token)

	h.content(t, tgB, domain.MediaText, "", nil)
	if got := h.transport.lastText(tgB); got != msgQuestionPolicy {
		t.Fatalf("ожидали отказ по типу, получили %q", got)
	}
	h.content(t, tgB, domain.MediaVoice, "f1", nil)
	if !strings.Contains(h.transport.lastText(tgB), "перейди по ссылке адресата") {
		t.Fatalf("сессия должна быть потреблена, получили %q", h.transport.lastText(tgB))
	}
}

func TestUnsupportedMediaKeepsSession(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.register(t, tgA)
	h.register(t, tgB)
	_ = h.svc.Start(ctx, tgB, "ask_"+a.Token)
	prompt := h.transport.lastText(tgB)

	h.content(t, tgB, domain.MediaOther, "sticker", nil)
	if got := h.transport.lastText(tgB); got != prompt {
		t.Fatalf("стикер не должен получать ответ, получили %q", got)
	}
	h.content(t, tgB, domain.MediaVoice, "f1", nil)
	if got := h.transport.lastMedia(); got.chatID != tgA || got.fileID != "f1" {
		t.Fatalf("вопрос после стикера должен дойти адресату, получили %+v", got)
	}
	if got := h.transport.lastText(tgB); got != msgQuestionSent {
		t.Fatalf("ожидали подтверждение отправки, получили %q", got)
	}
}

func TestSessionExpires(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.register(t, tgA)
	h.register(t, tgB)
	_ = h.svc.Start(ctx, tgB, "ask_"+a.Token)

	h.now = h.now.Add(15*time.Minute + time.Second)
	h.content(t, tgB, domain.MediaVoice, "f1", nil)
	if len(h.transport.media) != 0 {
		t.Fatal("истёкшая сессия не должна доставлять вопрос")
	}
}

func TestReplyToUnknownMessage(t *testing.T) {
	h := newHarness(t, nil)
	h.register(t, tgA)
	handle := int64(42)
	h.content(t, tgA, domain.MediaVoice, "f", &handle)
	if got := h.transport.lastText(tgA); got != msgReplyToQuestion {
		t.Fatalf("ожидали просьбу ответить на вопрос, получили %q", got)
	}
}

func TestReplyWithTextMarksReadOnly(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.register(t, tgA)
	h.register(t, tgB)
	_ = h.svc.Start(ctx, tgB, "ask_"+a.Token)
	h.content(t, tgB, domain.MediaVoice, "f1", nil)
	handle := h.transport.lastMedia().handle

	h.content(t, tgA, domain.MediaText, "", &handle)
	if got := h.transport.lastText(tgA); got != msgAnswerPolicy {
		t.Fatalf("ожидали отказ по типу ответа, получили %q", got)
	}
	q, _ := h.store.GetQuestion(ctx, 1)
	if q.State != domain.QuestionRead || q.ReadAt == nil {
		t.Fatalf("ожидали прочитанный вопрос без ответа, получили %+v", q)
	}
}

func TestDeliveryFailureWithholdsConfirmation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.register(t, tgA)
	h.register(t, tgB)
	_ = h.svc.Start(ctx, tgB, "ask_"+a.Token)

	h.transport.failMedia = errors.New("telegram down")
	err := h.svc.Content(ctx, Content{TGUserID: tgB, Kind: domain.MediaVoice, FileID: "f1"})
	if err == nil {
		t.Fatal("ожидали ошибку доставки")
	}
	if got := h.transport.lastText(tgB); got != msgQuestionFailed {
		t.Fatalf("ожидали сообщение о сбое, получили %q", got)
	}
	q, _ := h.store.GetQuestion(ctx, 1)
	if q.State != domain.QuestionSent || q.DeliveryHandle != nil {
		t.Fatalf("вопрос без доставки должен остаться sent, получили %+v", q)
	}
	if got := h.transport.lastText(tgA); strings.Contains(got, "#Q1") {
		t.Fatalf("подпись без вложения не должна уходить адресату, получили %q", got)
	}
}

func TestReportAcksEvenIfNotifyFails(t *testing.T) {
	notifier := &failingNotifier{}
	h := newHarness(t, notifier)
	ctx := context.Background()
	a := h.register(t, tgA)
	b := h.register(t, tgB)
	_ = h.svc.Start(ctx, tgB, "ask_"+a.Token)
	h.content(t, tgB, domain.MediaVoice, "f1", nil)

	reply, err := h.svc.Callback(ctx, tgA, "report:1")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if reply.Text != alertReported || !reply.Alert {
		t.Fatalf("ожидали подтверждение жалобы, получили %+v", reply)
	}
	reports := notifier.reports
	if len(reports) != 1 || reports[0].ID == 0 || reports[0].ReporterID != a.ID || reports[0].TargetUserID != b.ID {
		t.Fatalf("жалоба должна быть на автора вопроса: %+v", reports)
	}

	reply, _ = h.svc.Callback(ctx, tgC, "report:1")
	if reply.Text != alertNotYours {
		t.Fatalf("посторонний не может жаловаться, получили %+v", reply)
	}
	reply, _ = h.svc.Callback(ctx, tgA, "report:zzz")
	if reply.Text != alertStale {
		t.Fatalf("ожидали устаревшую кнопку, получили %+v", reply)
	}
}

func TestAskMoreCreatesSession(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.register(t, tgA)
	b := h.register(t, tgB)

	if _, err := h.svc.Callback(ctx, tgB, "askmore:"+itoa(a.ID)); err != nil {
		t.Fatalf("askmore: %v", err)
	}
	sess, ok, _ := h.store.PopSession(ctx, b.ID, domain.SessionAsk, h.now)
	if !ok || *sess.TargetUserID != a.ID {
		t.Fatalf("ожидали сессию к A, получили %+v %v", sess, ok)
	}
}

func TestSentListsQuestions(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.register(t, tgA)
	h.register(t, tgB)

	if err := h.svc.Sent(ctx, tgB); err != nil {
		t.Fatalf("sent: %v", err)
	}
	if got := h.transport.lastText(tgB); got != msgNoSent {
		t.Fatalf("ожидали пустой список, получили %q", got)
	}
	_ = h.svc.Start(ctx, tgB, "ask_"+a.Token)
	h.content(t, tgB, domain.MediaVoice, "f1", nil)
	_ = h.svc.Sent(ctx, tgB)
	got := h.transport.lastText(tgB)
	if !strings.Contains(got, "#Q1") || !strings.Contains(got, "не прочитано") {
		t.Fatalf("ожидали вопрос #Q1 в списке, получили %q", got)
	}
}

func TestAdminLookup(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	a := h.register(t, tgA)
	h.register(t, tgB)
	_ = h.svc.Start(ctx, tgB, "ask_"+a.Token)
	h.content(t, tgB, domain.MediaVoice, "f1", nil)

	if err := h.svc.Content(ctx, Content{TGUserID: tgAdmin, Kind: domain.MediaText, Text: "ID: #Q1"}); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	got := h.transport.lastText(tgAdmin)
	if !strings.Contains(got, "От TG: 200") || !strings.Contains(got, "Кому TG: 100") {
		t.Fatalf("неожиданная карточка: %q", got)
	}

	// Обычный пользователь не получает карточку.
	_ = h.svc.Content(ctx, Content{TGUserID: tgC, Kind: domain.MediaText, Text: "#Q1"})
	if strings.Contains(h.transport.lastText(tgC), "Вопрос #1") {
		t.Fatal("карточка доступна только админам")
	}

	_, _ = h.svc.Callback(ctx, tgAdmin, "adm:users")
	if got := h.transport.lastText(tgAdmin); got != "Пользователей: 4" {
		t.Fatalf("ожидали 4 пользователя, получили %q", got)
	}
}

func TestParseQuestionRef(t *testing.T) {
	if id, ok := ParseQuestionRef("📨 ...\nID: #Q123"); !ok || id != 123 {
		t.Fatalf("ожидали 123, получили %d %v", id, ok)
	}
	if _, ok := ParseQuestionRef("без ссылки"); ok {
		t.Fatal("ссылки нет")
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
