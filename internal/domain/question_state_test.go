package domain

import (
	"errors"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to QuestionState
		ok       bool
	}{
		{QuestionSent, QuestionDelivered, true},
		{QuestionDelivered, QuestionRead, true},
		{QuestionDelivered, QuestionAnswered, true},
		{QuestionRead, QuestionAnswered, true},
		{QuestionAnswered, QuestionArchived, true},
		{QuestionSent, QuestionArchived, true},
		{QuestionAnswered, QuestionAnswered, false},
		{QuestionArchived, QuestionRead, false},
		{QuestionArchived, QuestionArchived, false},
		{QuestionSent, QuestionAnswered, false},
		{QuestionRead, QuestionDelivered, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.ok {
			t.Fatalf("%s -> %s: ожидали %v, получили %v", c.from, c.to, c.ok, got)
		}
	}
}

func TestTransitionError(t *testing.T) {
	err := Transition(QuestionAnswered, QuestionAnswered)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("ожидали ErrIllegalTransition, получили %v", err)
	}
	if err := Transition(QuestionRead, QuestionAnswered); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
}

func TestStatesBefore(t *testing.T) {
	got := StatesBefore(QuestionAnswered)
	if len(got) != 2 || got[0] != QuestionDelivered || got[1] != QuestionRead {
		t.Fatalf("неожиданные состояния: %v", got)
	}
	if len(StatesBefore(QuestionArchived)) != 4 {
		t.Fatalf("архивировать можно из любого неархивного состояния")
	}
}

func TestQuestionStateValid(t *testing.T) {
	for _, s := range []QuestionState{QuestionSent, QuestionDelivered, QuestionRead, QuestionAnswered, QuestionArchived} {
		if !s.Valid() {
			t.Fatalf("состояние %s должно быть известным", s)
		}
	}
	if QuestionState("lost").Valid() {
		t.Fatal("неизвестное состояние не должно проходить проверку")
	}
}

func TestMediaKindPermitted(t *testing.T) {
	if !MediaVoice.Permitted() || !MediaVideoNote.Permitted() {
		t.Fatal("голосовые и кружки должны быть разрешены")
	}
	if MediaText.Permitted() || MediaPhoto.Permitted() || MediaOther.Permitted() {
		t.Fatal("текст и фото запрещены")
	}
}

func TestSessionExpired(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := Session{ExpiresAt: now}
	if s.Expired(now) {
		t.Fatal("сессия живёт до expires_at включительно")
	}
	if !s.Expired(now.Add(time.Second)) {
		t.Fatal("сессия должна истечь после expires_at")
	}
}
