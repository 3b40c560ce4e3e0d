package notify

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"learnsync/internal/progress"
	"learnsync/pkg/interfaces"
	"learnsync/pkg/types"
)

// Celebration phases of a level-up sequence.
const (
	PhaseEnter = "enter"
	PhaseHold  = "hold"
	PhaseExit  = "exit"
	PhaseDone  = "done"
)

// Sink displays notifications.
type Sink interface {
	Show(n types.Notification)
}

// Timing is the level-up celebration schedule.
type Timing struct {
	Enter time.Duration
	Hold  time.Duration
	Exit  time.Duration
}

// DefaultTiming is enter 500ms, hold 3s, exit 500ms.
func DefaultTiming() Timing {
	return Timing{
		Enter: 500 * time.Millisecond,
		Hold:  3 * time.Second,
		Exit:  500 * time.Millisecond,
	}
}

// Total returns the full length of a celebration.
func (t Timing) Total() time.Duration {
	return t.Enter + t.Hold + t.Exit
}

// Notifier turns domain events into notifications and owns all celebration
// timing.
// ARCHITECTURAL DISCOVERY: phases are driven by timers, so a celebration never
// blocks the bus or the socket read loop that published the event
type Notifier struct {
	sink   Sink
	timing Timing
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	generation  uint64
	timers      []*time.Timer
	unsubscribe []func()
	closed      bool

	// last xp toast and whether it came from a socket push; a lesson
	// completion announces the same amount both ways, shown once
	lastXP       int
	lastXPAt     time.Time
	lastXPPushed bool
}

// xpEchoWindow is how long an xp toast suppresses the same amount arriving
// from the other source.
const xpEchoWindow = 5 * time.Second

var _ interfaces.Notifier = (*Notifier)(nil)

// New creates a notifier writing to sink.
func New(sink Sink, timing Timing, logger *zap.Logger) *Notifier {
	return &Notifier{
		sink:   sink,
		timing: timing,
		logger: logger.Named("notify"),
		now:    time.Now,
	}
}

// Attach subscribes the notifier to bus until Close.
func (n *Notifier) Attach(bus *progress.Bus) {
	unsub := bus.Subscribe(n.HandleEvent)
	n.mu.Lock()
	n.unsubscribe = append(n.unsubscribe, unsub)
	n.mu.Unlock()
}

// Notify shows a notification directly. Used for user-action results such as
// completion failures.
func (n *Notifier) Notify(note types.Notification) {
	if note.Kind == types.NotificationXP && note.XP > 0 && n.echoed(note.XP, false) {
		return
	}
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return
	}
	n.show(note)
}

// echoed reports whether amount was just shown by the other source and
// otherwise records it as the latest xp toast. A closed notifier reports
// true.
func (n *Notifier) echoed(amount int, pushed bool) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return true
	}
	now := n.now()
	if n.lastXP == amount && n.lastXPPushed != pushed && now.Sub(n.lastXPAt) <= xpEchoWindow {
		n.lastXP = 0
		return true
	}
	n.lastXP, n.lastXPAt, n.lastXPPushed = amount, now, pushed
	return false
}

// HandleEvent maps one domain event to notifications.
func (n *Notifier) HandleEvent(ev progress.Event) {
	switch e := ev.(type) {
	case progress.LevelUpOccurred:
		n.celebrate(e.Level)
	case progress.XPGained:
		if e.Amount > 0 && !n.echoed(e.Amount, true) {
			n.show(types.Notification{
				Kind:        types.NotificationXP,
				Title:       fmt.Sprintf("+%d XP", e.Amount),
				Message:     fmt.Sprintf("Total %d XP", e.TotalXP),
				XP:          e.Amount,
				Dismissible: true,
			})
		}
	case progress.LessonCompleted:
		n.Notify(types.Notification{
			Kind:        types.NotificationSuccess,
			Title:       "Lesson completed",
			Message:     fmt.Sprintf("%d lessons completed", e.LessonsCompleted),
			Dismissible: true,
		})
	case progress.StreakMilestone:
		msg := e.Message
		if msg == "" {
			msg = fmt.Sprintf("%d day streak", e.Milestone)
		}
		n.Notify(types.Notification{
			Kind:        types.NotificationCelebration,
			Title:       "Streak milestone",
			Message:     msg,
			XP:          e.RewardXP,
			Dismissible: true,
		})
	case progress.StreakWarning:
		n.Notify(types.Notification{
			Kind:        types.NotificationWarning,
			Title:       "Streak at risk",
			Message:     fmt.Sprintf("%d hours left to keep your streak", e.HoursRemaining),
			Dismissible: true,
		})
	case progress.RankingChanged:
		if e.NewRank > 0 && e.NewRank < e.OldRank {
			n.Notify(types.Notification{
				Kind:        types.NotificationInfo,
				Title:       "Leaderboard",
				Message:     fmt.Sprintf("You moved up to #%d", e.NewRank),
				Dismissible: true,
			})
		}
	case progress.BadgeEarned:
		n.Notify(types.Notification{
			Kind:        types.NotificationCelebration,
			Title:       "Badge earned",
			Message:     e.Badge.Name,
			Dismissible: true,
		})
	case progress.StreakUpdated:
		n.logger.Debug("streak updated", zap.Int("streak", e.Streak))
	}
}

// celebrate starts a level-up sequence, replacing one already running.
func (n *Notifier) celebrate(level int) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.stopTimersLocked()
	n.generation++
	gen := n.generation

	phase := func(name string) func() {
		return func() {
			n.mu.Lock()
			current := n.generation == gen && !n.closed
			n.mu.Unlock()
			if current {
				n.show(levelUpNotification(level, name))
			}
		}
	}
	t := n.timing
	n.timers = []*time.Timer{
		time.AfterFunc(t.Enter, phase(PhaseHold)),
		time.AfterFunc(t.Enter+t.Hold, phase(PhaseExit)),
		time.AfterFunc(t.Total(), phase(PhaseDone)),
	}
	n.mu.Unlock()

	n.show(levelUpNotification(level, PhaseEnter))
}

func levelUpNotification(level int, phase string) types.Notification {
	return types.Notification{
		Kind:    types.NotificationCelebration,
		Title:   "Level up!",
		Message: fmt.Sprintf("You reached level %d", level),
		Phase:   phase,
	}
}

func (n *Notifier) show(note types.Notification) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("notification sink panicked", zap.Any("panic", r))
		}
	}()
	n.sink.Show(note)
}

func (n *Notifier) stopTimersLocked() {
	for _, t := range n.timers {
		t.Stop()
	}
	n.timers = nil
}

// Close unsubscribes from every bus and cancels a running celebration.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.stopTimersLocked()
	unsub := n.unsubscribe
	n.unsubscribe = nil
	n.mu.Unlock()

	for _, fn := range unsub {
		fn()
	}
}
