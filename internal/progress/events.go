package progress

import (
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"learnsync/pkg/types"
)

// Event is a discrete domain event emitted by the reconciler. Presentation
// subscribers type-switch on the concrete kinds below.
type Event interface {
	// OccurredAt returns when the reconciler applied the event.
	OccurredAt() time.Time
}

type eventTime struct{ At time.Time }

func (e eventTime) OccurredAt() time.Time { return e.At }

// XPGained follows an xp_gained message.
type XPGained struct {
	eventTime
	Amount  int
	TotalXP int
}

// LevelUpOccurred follows a level_up message that raised the level.
type LevelUpOccurred struct {
	eventTime
	Level int
}

// LessonCompleted follows a lesson_completed message.
type LessonCompleted struct {
	eventTime
	XPGained         int
	LessonsCompleted int
}

// StreakUpdated follows a streak_updated message.
type StreakUpdated struct {
	eventTime
	Streak int
}

// StreakMilestone is presentation-only.
type StreakMilestone struct {
	eventTime
	Milestone int
	Message   string
	RewardXP  int
}

// StreakWarning is presentation-only.
type StreakWarning struct {
	eventTime
	HoursRemaining int
}

// RankingChanged is presentation-only; the list itself is re-ranked locally.
type RankingChanged struct {
	eventTime
	OldRank int
	NewRank int
}

// BadgeEarned follows achievement_unlocked for a badge not held before.
type BadgeEarned struct {
	eventTime
	Badge types.Badge
}

// Bus fans events out to subscribers synchronously, in subscription order.
// ARCHITECTURAL DISCOVERY: the reconciler only emits events; timing and
// animation live entirely in subscribers
type Bus struct {
	mu     sync.RWMutex
	subs   []subscriber
	nextID int
	logger *zap.Logger
}

type subscriber struct {
	id int
	fn func(Event)
}

// NewBus creates an empty event bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{logger: logger.Named("bus")}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscriber{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.subs = slices.DeleteFunc(b.subs, func(s subscriber) bool { return s.id == id })
		})
	}
}

// Publish delivers ev to every subscriber. Callers must not hold locks that
// subscribers might take.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s.fn, ev)
	}
}

func (b *Bus) deliver(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked", zap.Any("panic", r))
		}
	}()
	fn(ev)
}
