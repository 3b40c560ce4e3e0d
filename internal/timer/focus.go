package timer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"learnsync/internal/config"
	"learnsync/pkg/interfaces"
	"learnsync/pkg/types"
)

// Mode is a pomodoro phase.
type Mode string

const (
	ModeFocus      Mode = "focus"
	ModeShortBreak Mode = "short_break"
	ModeLongBreak  Mode = "long_break"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeFocus, ModeShortBreak, ModeLongBreak:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Store    *Store
	Config   *config.TimerConfig
	FocusAPI interfaces.FocusAPI
	Notifier interfaces.Notifier
	Logger   *zap.Logger
}

func (d Deps) newActivity(key string, kind Kind, countdown bool, duration time.Duration, name string) *activity {
	return &activity{
		key:          key,
		kind:         kind,
		store:        d.Store,
		saveInterval: d.Config.SaveInterval,
		saveTimeout:  5 * time.Second,
		logger:       d.Logger.Named(name),
		now:          time.Now,
		machine:      NewMachine(),
		countdown:    countdown,
		duration:     duration,
		left:         duration,
	}
}

func (d Deps) notify(n types.Notification) {
	if d.Notifier != nil {
		d.Notifier.Notify(n)
	}
}

// FocusSession is a pomodoro countdown. Finishing a focus phase records the
// session with the backend and awards xp per minute.
type FocusSession struct {
	*activity

	id         string
	mode       Mode
	deps       Deps
	onComplete func(types.FocusSessionRecord)
}

// DefaultDuration returns the configured length of mode.
func DefaultDuration(cfg *config.TimerConfig, mode Mode) time.Duration {
	switch mode {
	case ModeShortBreak:
		return time.Duration(cfg.ShortBreakMinutes) * time.Minute
	case ModeLongBreak:
		return time.Duration(cfg.LongBreakMinutes) * time.Minute
	default:
		return time.Duration(cfg.FocusMinutes) * time.Minute
	}
}

// NewFocusSession creates an idle session. A zero duration uses the mode's
// configured length.
func NewFocusSession(id string, mode Mode, duration time.Duration, deps Deps) (*FocusSession, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	if duration <= 0 {
		duration = DefaultDuration(deps.Config, mode)
	}

	s := &FocusSession{id: id, mode: mode, deps: deps}
	s.activity = deps.newActivity(FocusKey(id), KindFocus, true, duration, "focus")
	s.fill = func(snap *Snapshot) { snap.Mode = string(s.mode) }
	s.onRestore = func(rec *Recovered) {
		if m, err := ParseMode(rec.Mode); err == nil {
			s.mode = m
		}
	}
	s.onExpire = s.complete
	return s, nil
}

// ID returns the session identifier.
func (s *FocusSession) ID() string { return s.id }

// Mode returns the current phase.
func (s *FocusSession) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// OnComplete registers a callback invoked after a phase finishes.
func (s *FocusSession) OnComplete(fn func(types.FocusSessionRecord)) {
	s.mu.Lock()
	s.onComplete = fn
	s.mu.Unlock()
}

// Restore recovers a saved session. A countdown that ran out while away
// completes immediately, with the same side effects as finishing live.
func (s *FocusSession) Restore(ctx context.Context) (*Recovered, error) {
	rec, err := s.restore(ctx)
	if err != nil || rec == nil {
		return rec, err
	}
	if rec.Finished {
		s.record()
	}
	return rec, nil
}

func (s *FocusSession) complete() {
	if !s.finish() {
		return
	}
	s.record()
}

// record posts a finished phase and announces it.
func (s *FocusSession) record() {
	s.mu.Lock()
	mode := s.mode
	minutes := int(s.duration / time.Minute)
	fn := s.onComplete
	s.mu.Unlock()

	rec := types.FocusSessionRecord{
		DurationMinutes: minutes,
		Completed:       true,
		Mode:            string(mode),
	}

	if mode != ModeFocus {
		s.deps.notify(types.Notification{
			Kind:        types.NotificationInfo,
			Title:       "Break over",
			Message:     "Time to focus",
			Dismissible: true,
		})
	} else {
		rec.XPEarned = minutes * s.deps.Config.FocusXPPerMinute
		s.post(rec)
	}

	if fn != nil {
		fn(rec)
	}
}

func (s *FocusSession) post(rec types.FocusSessionRecord) {
	if s.deps.FocusAPI == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.deps.FocusAPI.CreateFocusSession(ctx, rec); err != nil {
		s.logger.Warn("failed to record focus session", zap.String("session", s.id), zap.Error(err))
		s.deps.notify(types.Notification{
			Kind:        types.NotificationError,
			Title:       "Focus session not saved",
			Message:     err.Error(),
			Dismissible: true,
			Retry:       func() { s.post(rec) },
		})
		return
	}
	s.deps.notify(types.Notification{
		Kind:        types.NotificationXP,
		Title:       fmt.Sprintf("+%d XP", rec.XPEarned),
		Message:     fmt.Sprintf("%d minute focus session complete", rec.DurationMinutes),
		XP:          rec.XPEarned,
		Dismissible: true,
	})
}
