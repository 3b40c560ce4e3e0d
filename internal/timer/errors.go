package timer

import "errors"

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrSessionClosed     = errors.New("session closed")
	ErrInvalidMode       = errors.New("invalid focus mode")
	ErrNoQuestions       = errors.New("quiz needs at least one question")
	ErrQuestionsExceeded = errors.New("all questions already answered")
)
