package api

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyLessonID    = errors.New("lesson ID cannot be empty")
	ErrUnexpectedShape  = errors.New("unexpected response shape")
	ErrResponseTooLarge = errors.New("response body too large")
)

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}
