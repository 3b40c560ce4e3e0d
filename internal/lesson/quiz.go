package lesson

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"learnsync/internal/timer"
)

// QuizLesson binds a quiz attempt to its lesson's gate. A finished attempt is
// submitted for completion; a failing one resets the attempt and its saved
// snapshot so the quiz starts over from the first question.
type QuizLesson struct {
	gate    *Gate
	session *timer.QuizSession
	logger  *zap.Logger

	mu          sync.Mutex
	onSubmitted func(State, error)
}

// NewQuizLesson wires session completion into gate. The gate must be a quiz
// gate for the session's lesson.
func NewQuizLesson(gate *Gate, session *timer.QuizSession, logger *zap.Logger) (*QuizLesson, error) {
	if gate.opts.Type != TypeQuiz {
		return nil, ErrWrongLessonType
	}
	if session.LessonID() != gate.opts.LessonID {
		return nil, ErrLessonMismatch
	}
	q := &QuizLesson{gate: gate, session: session, logger: gate.logger}
	if logger != nil {
		q.logger = logger.Named("quiz").With(zap.String("lesson", gate.opts.LessonID))
	}
	session.OnComplete(q.submit)
	return q, nil
}

// Gate returns the lesson's completion gate.
func (q *QuizLesson) Gate() *Gate { return q.gate }

// Session returns the quiz attempt.
func (q *QuizLesson) Session() *timer.QuizSession { return q.session }

// OnSubmitted registers a callback receiving the gate state each finished
// attempt produced. A failing attempt reports RestartRequired; by the time
// the callback runs the attempt has already been reset.
func (q *QuizLesson) OnSubmitted(fn func(State, error)) {
	q.mu.Lock()
	q.onSubmitted = fn
	q.mu.Unlock()
}

func (q *QuizLesson) submit(r timer.QuizResult) {
	ctx, cancel := context.WithTimeout(context.Background(), completionTimeout)
	defer cancel()

	state, err := q.gate.SubmitQuiz(ctx, r.Correct, r.Total)
	if err != nil {
		q.logger.Warn("quiz submission failed",
			zap.Int("correct", r.Correct), zap.Int("total", r.Total), zap.Error(err))
	}
	if err == nil && state.RestartRequired {
		q.logger.Info("quiz failed, restarting",
			zap.Int("correct", r.Correct), zap.Int("total", r.Total), zap.Bool("timed_out", r.TimedOut))
		q.session.Reset()
		q.gate.Restart()
	}

	q.mu.Lock()
	fn := q.onSubmitted
	q.mu.Unlock()
	if fn != nil {
		fn(state, err)
	}
}

// Close stops the attempt's timers and cancels a pending auto-advance.
func (q *QuizLesson) Close() {
	q.session.Close()
	q.gate.Close()
}
