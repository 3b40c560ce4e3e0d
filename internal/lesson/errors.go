package lesson

import "errors"

var (
	ErrCompletionPending = errors.New("completion already in progress")
	ErrWrongLessonType   = errors.New("operation not supported for this lesson type")
	ErrUnknownLessonType = errors.New("unknown lesson type")
	ErrInvalidScore      = errors.New("invalid quiz score")
	ErrEmptyLessonID     = errors.New("lesson ID cannot be empty")
	ErrGateClosed        = errors.New("lesson gate closed")
	ErrLessonMismatch    = errors.New("quiz session belongs to another lesson")
)
