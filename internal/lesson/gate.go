package lesson

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"learnsync/pkg/interfaces"
	"learnsync/pkg/types"
)

// Type is a lesson's content type. It decides how completion is triggered
// and whether forward navigation is gated.
type Type string

const (
	TypeVideo   Type = "video"
	TypeQuiz    Type = "quiz"
	TypeProject Type = "project"
	TypeReading Type = "reading"
)

// ParseType validates a lesson type name.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeVideo, TypeQuiz, TypeProject, TypeReading:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLessonType, s)
}

// Gated reports whether "next lesson" waits for completion.
func (t Type) Gated() bool {
	return t == TypeQuiz || t == TypeProject
}

// Completion thresholds.
const (
	// VideoCompleteRatio is the share of a video that counts as watched.
	VideoCompleteRatio = 0.9
	// QuizPassPercent is the minimum passing score.
	QuizPassPercent = 70
)

// completionTimeout bounds a completion write not tied to a caller's context.
const completionTimeout = 15 * time.Second

// State is a lesson's completion state for the current viewing.
type State struct {
	LessonID        string
	Type            Type
	Completed       bool
	Pending         bool
	Score           *float64 // quiz only
	ProgressID      *int64   // nil until the completion is persisted
	XPAwarded       int
	RestartRequired bool // quiz failed; the whole quiz starts over
}

// Options configure a Gate.
type Options struct {
	LessonID     string
	Type         Type
	NextLessonID string
	AdvanceDelay time.Duration
	// OnAdvance is called with NextLessonID after AdvanceDelay following the
	// first completion.
	OnAdvance func(nextLessonID string)
}

// Gate enforces per-type completion rules for one lesson.
// FUNCTIONAL DISCOVERY: completion is written at most once per viewing; a
// second call reports the stored state and a call during an in-flight write
// is refused, so xp is never awarded twice
type Gate struct {
	opts     Options
	api      interfaces.CompletionAPI
	notifier interfaces.Notifier
	logger   *zap.Logger

	mu           sync.Mutex
	state        State
	advanceTimer *time.Timer
	closed       bool
}

// NewGate creates a gate for an incomplete lesson.
func NewGate(opts Options, api interfaces.CompletionAPI, notifier interfaces.Notifier, logger *zap.Logger) (*Gate, error) {
	if opts.LessonID == "" {
		return nil, ErrEmptyLessonID
	}
	if _, err := ParseType(string(opts.Type)); err != nil {
		return nil, err
	}
	return &Gate{
		opts:     opts,
		api:      api,
		notifier: notifier,
		logger:   logger.Named("lesson").With(zap.String("lesson", opts.LessonID)),
		state:    State{LessonID: opts.LessonID, Type: opts.Type},
	}, nil
}

// State returns a copy of the completion state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// CanAdvance reports whether "next lesson" is enabled.
func (g *Gate) CanAdvance() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.opts.Type.Gated() {
		return g.state.Completed
	}
	return true
}

// HasNext reports whether a following lesson exists.
func (g *Gate) HasNext() bool {
	return g.opts.NextLessonID != ""
}

// ReportPlayback completes a video lesson once position reaches 90% of
// duration. Earlier reports are no-ops.
func (g *Gate) ReportPlayback(ctx context.Context, position, duration time.Duration) (State, error) {
	if g.opts.Type != TypeVideo {
		return g.State(), ErrWrongLessonType
	}
	if duration <= 0 || float64(position) < VideoCompleteRatio*float64(duration) {
		return g.State(), nil
	}
	return g.complete(ctx, nil)
}

// SubmitQuiz completes a quiz lesson when correct/total is at least 70%.
// Below that the state asks for a full restart and nothing is written.
func (g *Gate) SubmitQuiz(ctx context.Context, correct, total int) (State, error) {
	if g.opts.Type != TypeQuiz {
		return g.State(), ErrWrongLessonType
	}
	if total <= 0 || correct < 0 || correct > total {
		return g.State(), fmt.Errorf("%w: %d of %d", ErrInvalidScore, correct, total)
	}

	g.mu.Lock()
	if g.state.Completed {
		s := g.state
		g.mu.Unlock()
		return s, nil
	}
	g.mu.Unlock()

	score := float64(correct) * 100 / float64(total)
	if correct*100 < QuizPassPercent*total {
		g.mu.Lock()
		g.state.Score = &score
		g.state.RestartRequired = true
		s := g.state
		g.mu.Unlock()

		g.notify(types.Notification{
			Kind:        types.NotificationWarning,
			Title:       "Not quite",
			Message:     fmt.Sprintf("You scored %.0f%%. %d%% is needed to pass, try the quiz again.", score, QuizPassPercent),
			Dismissible: true,
		})
		return s, nil
	}
	return g.complete(ctx, &score)
}

// Restart clears a failed quiz attempt.
func (g *Gate) Restart() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.Completed {
		return
	}
	g.state.Score = nil
	g.state.RestartRequired = false
}

// MarkComplete is the single explicit completion action of a reading lesson.
func (g *Gate) MarkComplete(ctx context.Context) (State, error) {
	if g.opts.Type != TypeReading {
		return g.State(), ErrWrongLessonType
	}
	return g.complete(ctx, nil)
}

// RecordExternalCompletion marks a project lesson complete after the
// completion was recorded outside this client. Nothing is written.
func (g *Gate) RecordExternalCompletion(progressID *int64) (State, error) {
	if g.opts.Type != TypeProject {
		return g.State(), ErrWrongLessonType
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.state.Completed {
		g.state.Completed = true
		g.state.ProgressID = progressID
	}
	return g.state, nil
}

// complete performs the one server write and its side effects.
func (g *Gate) complete(ctx context.Context, score *float64) (State, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return State{}, ErrGateClosed
	}
	if g.state.Completed {
		s := g.state
		g.mu.Unlock()
		return s, nil
	}
	if g.state.Pending {
		s := g.state
		g.mu.Unlock()
		return s, ErrCompletionPending
	}
	g.state.Pending = true
	g.mu.Unlock()

	result, err := g.api.CompleteLesson(ctx, g.opts.LessonID, score)

	g.mu.Lock()
	g.state.Pending = false
	if err != nil {
		s := g.state
		g.mu.Unlock()

		g.logger.Warn("lesson completion failed", zap.Error(err))
		g.notify(types.Notification{
			Kind:        types.NotificationError,
			Title:       "Could not save your progress",
			Message:     err.Error(),
			Dismissible: true,
			Retry: func() {
				retryCtx, cancel := context.WithTimeout(context.Background(), completionTimeout)
				defer cancel()
				_, _ = g.complete(retryCtx, score)
			},
		})
		return s, err
	}

	g.state.Completed = true
	g.state.RestartRequired = false
	g.state.Score = score
	g.state.ProgressID = result.ProgressID
	g.state.XPAwarded = result.XPAwarded
	if g.opts.NextLessonID != "" && g.opts.OnAdvance != nil && !g.closed {
		next, advance := g.opts.NextLessonID, g.opts.OnAdvance
		g.advanceTimer = time.AfterFunc(g.opts.AdvanceDelay, func() { advance(next) })
	}
	s := g.state
	g.mu.Unlock()

	g.logger.Info("lesson completed", zap.Int("xp_awarded", result.XPAwarded))
	if result.XPAwarded <= 0 {
		// completed before; the server awards nothing the second time
		return s, nil
	}
	g.notify(types.Notification{
		Kind:        types.NotificationXP,
		Title:       fmt.Sprintf("+%d XP", result.XPAwarded),
		Message:     "Lesson complete",
		XP:          result.XPAwarded,
		Dismissible: true,
	})
	return s, nil
}

func (g *Gate) notify(n types.Notification) {
	if g.notifier != nil {
		g.notifier.Notify(n)
	}
}

// Close cancels a pending auto-advance.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	if g.advanceTimer != nil {
		g.advanceTimer.Stop()
		g.advanceTimer = nil
	}
}
