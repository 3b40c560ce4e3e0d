package timer

import (
	"context"
	"time"

	"learnsync/pkg/types"
)

// QuizResult is the outcome of a finished quiz.
type QuizResult struct {
	LessonID string
	Correct  int
	Answered int
	Total    int
	TimedOut bool
}

// Percentage is correct answers over total questions, 0..100.
func (r QuizResult) Percentage() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Correct) * 100 / float64(r.Total)
}

// QuizSession tracks a quiz attempt, optionally under a time limit.
type QuizSession struct {
	*activity

	lessonID   string
	total      int
	answered   int
	correct    int
	deps       Deps
	onComplete func(QuizResult)
}

// NewQuizSession creates an idle quiz. A zero limit counts elapsed time
// instead of counting down.
func NewQuizSession(lessonID string, totalQuestions int, limit time.Duration, deps Deps) (*QuizSession, error) {
	if totalQuestions <= 0 {
		return nil, ErrNoQuestions
	}
	q := &QuizSession{lessonID: lessonID, total: totalQuestions, deps: deps}
	q.activity = deps.newActivity(QuizKey(lessonID), KindQuiz, limit > 0, limit, "quiz")
	q.fill = func(snap *Snapshot) {
		snap.Progress = q.answered
		snap.Score = q.correct
		snap.Total = q.total
	}
	q.onReset = func() {
		q.answered = 0
		q.correct = 0
	}
	q.onRestore = func(rec *Recovered) {
		q.answered = rec.Progress
		q.correct = rec.Score
		if rec.Total > 0 {
			q.total = rec.Total
		}
	}
	q.onExpire = func() { q.complete(true) }
	return q, nil
}

// LessonID returns the quiz's lesson.
func (q *QuizSession) LessonID() string { return q.lessonID }

// OnComplete registers a callback invoked once the quiz finishes.
func (q *QuizSession) OnComplete(fn func(QuizResult)) {
	q.mu.Lock()
	q.onComplete = fn
	q.mu.Unlock()
}

// Result returns the current tally.
func (q *QuizSession) Result() QuizResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.resultLocked(false)
}

func (q *QuizSession) resultLocked(timedOut bool) QuizResult {
	return QuizResult{
		LessonID: q.lessonID,
		Correct:  q.correct,
		Answered: q.answered,
		Total:    q.total,
		TimedOut: timedOut,
	}
}

// Answer records the next question's outcome. Answering the final question
// completes the quiz.
func (q *QuizSession) Answer(correct bool) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrSessionClosed
	}
	if q.machine.Status() != StatusRunning {
		q.mu.Unlock()
		return ErrInvalidTransition
	}
	if q.answered >= q.total {
		q.mu.Unlock()
		return ErrQuestionsExceeded
	}
	q.answered++
	if correct {
		q.correct++
	}
	last := q.answered == q.total
	snap := q.snapshotLocked()
	q.mu.Unlock()

	if last {
		q.complete(false)
		return nil
	}
	q.save(snap)
	return nil
}

// Restore recovers a saved attempt. An attempt whose time ran out while away
// completes immediately as timed out.
func (q *QuizSession) Restore(ctx context.Context) (*Recovered, error) {
	rec, err := q.restore(ctx)
	if err != nil || rec == nil {
		return rec, err
	}
	if rec.Finished {
		q.announce(true)
	}
	return rec, nil
}

func (q *QuizSession) complete(timedOut bool) {
	if !q.finish() {
		return
	}
	q.announce(timedOut)
}

func (q *QuizSession) announce(timedOut bool) {
	q.mu.Lock()
	result := q.resultLocked(timedOut)
	fn := q.onComplete
	q.mu.Unlock()

	if timedOut {
		q.deps.notify(types.Notification{
			Kind:        types.NotificationWarning,
			Title:       "Time is up",
			Message:     "Your quiz was submitted automatically",
			Dismissible: true,
		})
	}
	if fn != nil {
		fn(result)
	}
}
