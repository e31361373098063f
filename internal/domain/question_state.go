package domain

import "fmt"

// QuestionState — стадия жизненного цикла вопроса.
type QuestionState string

const (
	QuestionSent      QuestionState = "sent"
	QuestionDelivered QuestionState = "delivered"
	QuestionRead      QuestionState = "read"
	QuestionAnswered  QuestionState = "answered"
	QuestionArchived  QuestionState = "archived"
)

var questionTransitions = map[QuestionState][]QuestionState{
	QuestionSent:      {QuestionDelivered, QuestionArchived},
	QuestionDelivered: {QuestionRead, QuestionAnswered, QuestionArchived},
	QuestionRead:      {QuestionAnswered, QuestionArchived},
	QuestionAnswered:  {QuestionArchived},
}

// CanTransition проверяет, допустим ли переход from → to.
// Архив терминален, повторный ответ невозможен.
func CanTransition(from, to QuestionState) bool {
	for _, next := range questionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StatesBefore возвращает все состояния, из которых допустим переход в to.
func StatesBefore(to QuestionState) []QuestionState {
	var states []QuestionState
	for _, from := range []QuestionState{QuestionSent, QuestionDelivered, QuestionRead, QuestionAnswered, QuestionArchived} {
		if CanTransition(from, to) {
			states = append(states, from)
		}
	}
	return states
}

// Valid сообщает, известно ли состояние.
func (s QuestionState) Valid() bool {
	switch s {
	case QuestionSent, QuestionDelivered, QuestionRead, QuestionAnswered, QuestionArchived:
		return true
	}
	return false
}

// Transition возвращает ErrIllegalTransition, если переход недопустим.
func Transition(from, to QuestionState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}
