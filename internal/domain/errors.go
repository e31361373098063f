package domain

import "errors"

var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyAnswered — на вопрос уже получен ответ.
	ErrAlreadyAnswered = errors.New("question already answered")
	// ErrIllegalTransition — недопустимый переход состояния вопроса.
	ErrIllegalTransition = errors.New("illegal question state transition")
)
