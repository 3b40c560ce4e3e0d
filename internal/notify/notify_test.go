package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"learnsync/internal/progress"
	"learnsync/pkg/types"
)

func fastTiming() Timing {
	return Timing{Enter: 10 * time.Millisecond, Hold: 30 * time.Millisecond, Exit: 10 * time.Millisecond}
}

func phases(notes []types.Notification) []string {
	var out []string
	for _, n := range notes {
		if n.Kind == types.NotificationCelebration && n.Phase != "" {
			out = append(out, n.Phase)
		}
	}
	return out
}

func TestDefaultTiming(t *testing.T) {
	assert.Equal(t, 4*time.Second, DefaultTiming().Total())
}

func TestNotifier_CelebrationSequence(t *testing.T) {
	sink := &MemorySink{}
	n := New(sink, fastTiming(), zap.NewNop())
	t.Cleanup(n.Close)

	start := time.Now()
	n.HandleEvent(progress.LevelUpOccurred{Level: 5})
	assert.Less(t, time.Since(start), 10*time.Millisecond, "celebration must not block the publisher")

	assert.Equal(t, []string{PhaseEnter}, phases(sink.All()))
	require.Eventually(t, func() bool { return len(phases(sink.All())) == 4 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, []string{PhaseEnter, PhaseHold, PhaseExit, PhaseDone}, phases(sink.All()))
	assert.Equal(t, "You reached level 5", sink.All()[0].Message)
}

func TestNotifier_NewLevelUpReplacesRunningCelebration(t *testing.T) {
	sink := &MemorySink{}
	n := New(sink, fastTiming(), zap.NewNop())
	t.Cleanup(n.Close)

	n.HandleEvent(progress.LevelUpOccurred{Level: 2})
	n.HandleEvent(progress.LevelUpOccurred{Level: 3})

	time.Sleep(120 * time.Millisecond)
	notes := sink.All()
	assert.Equal(t, []string{PhaseEnter, PhaseEnter, PhaseHold, PhaseExit, PhaseDone}, phases(notes))
	for _, note := range notes[2:] {
		assert.Equal(t, "You reached level 3", note.Message)
	}
}

func TestNotifier_ToastsFromBus(t *testing.T) {
	sink := &MemorySink{}
	bus := progress.NewBus(zap.NewNop())
	n := New(sink, fastTiming(), zap.NewNop())
	n.Attach(bus)

	bus.Publish(progress.XPGained{Amount: 50, TotalXP: 1050})
	bus.Publish(progress.XPGained{Amount: 0, TotalXP: 1050})
	bus.Publish(progress.StreakWarning{HoursRemaining: 4})
	bus.Publish(progress.StreakMilestone{Milestone: 30})
	bus.Publish(progress.RankingChanged{OldRank: 4, NewRank: 2})
	bus.Publish(progress.RankingChanged{OldRank: 2, NewRank: 4})
	bus.Publish(progress.BadgeEarned{Badge: types.Badge{ID: 1, Name: "Scholar"}})
	bus.Publish(progress.StreakUpdated{Streak: 3})

	notes := sink.All()
	require.Len(t, notes, 5)
	assert.Equal(t, "+50 XP", notes[0].Title)
	assert.Equal(t, 50, notes[0].XP)
	assert.Equal(t, types.NotificationWarning, notes[1].Kind)
	assert.Equal(t, "30 day streak", notes[2].Message)
	assert.Equal(t, "You moved up to #2", notes[3].Message)
	assert.Equal(t, "Scholar", notes[4].Message)

	n.Close()
	bus.Publish(progress.XPGained{Amount: 5})
	assert.Len(t, sink.All(), 5, "closed notifier is unsubscribed")
}

func TestNotifier_XPShownOnceAcrossSources(t *testing.T) {
	sink := &MemorySink{}
	n := New(sink, fastTiming(), zap.NewNop())
	now := time.Now()
	n.now = func() time.Time { return now }

	// completion response first, socket push second
	n.Notify(types.Notification{Kind: types.NotificationXP, Title: "+50 XP", XP: 50})
	n.HandleEvent(progress.XPGained{Amount: 50, TotalXP: 1050})
	assert.Equal(t, 1, sink.Count(types.NotificationXP))

	// socket push first, completion response second
	n.HandleEvent(progress.XPGained{Amount: 30, TotalXP: 1080})
	n.Notify(types.Notification{Kind: types.NotificationXP, XP: 30})
	assert.Equal(t, 2, sink.Count(types.NotificationXP))

	// repeated pushes are all shown
	n.HandleEvent(progress.XPGained{Amount: 10, TotalXP: 1090})
	n.HandleEvent(progress.XPGained{Amount: 10, TotalXP: 1100})
	assert.Equal(t, 4, sink.Count(types.NotificationXP))

	// outside the window both are shown
	n.Notify(types.Notification{Kind: types.NotificationXP, XP: 20})
	now = now.Add(xpEchoWindow + time.Second)
	n.HandleEvent(progress.XPGained{Amount: 20, TotalXP: 1120})
	assert.Equal(t, 6, sink.Count(types.NotificationXP))
}

func TestNotifier_LessonCompletionCarriesXPOnce(t *testing.T) {
	sink := &MemorySink{}
	n := New(sink, fastTiming(), zap.NewNop())

	// gate response, then the pushes for the same completion
	n.Notify(types.Notification{Kind: types.NotificationXP, Title: "+50 XP", XP: 50})
	n.HandleEvent(progress.XPGained{Amount: 50, TotalXP: 1050})
	n.HandleEvent(progress.LessonCompleted{XPGained: 50, LessonsCompleted: 13})

	withXP := 0
	for _, note := range sink.All() {
		if note.XP > 0 {
			withXP++
		}
	}
	assert.Equal(t, 1, withXP)
	assert.Equal(t, 1, sink.Count(types.NotificationSuccess))
	assert.Equal(t, "13 lessons completed", sink.All()[1].Message)
}

func TestNotifier_CloseCancelsCelebration(t *testing.T) {
	sink := &MemorySink{}
	n := New(sink, fastTiming(), zap.NewNop())

	n.HandleEvent(progress.LevelUpOccurred{Level: 7})
	n.Close()
	n.Close()

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, []string{PhaseEnter}, phases(sink.All()))

	n.Notify(types.Notification{Kind: types.NotificationInfo, Title: "late"})
	assert.Len(t, sink.All(), 1)
}

func TestNotifier_SinkPanicIsContained(t *testing.T) {
	n := New(panicSink{}, fastTiming(), zap.NewNop())
	t.Cleanup(n.Close)
	assert.NotPanics(t, func() {
		n.Notify(types.Notification{Kind: types.NotificationError, Title: "x"})
	})
}

type panicSink struct{}

func (panicSink) Show(types.Notification) { panic("render failure") }

func TestFanoutAndLogSink(t *testing.T) {
	a, b := &MemorySink{}, &MemorySink{}
	sink := Fanout{a, b, NewLogSink(zap.NewNop())}
	sink.Show(types.Notification{Kind: types.NotificationError, Title: "Completion failed", Retry: func() {}})
	sink.Show(types.Notification{Kind: types.NotificationWarning, Title: "warn"})
	sink.Show(types.Notification{Kind: types.NotificationXP, Title: "+5 XP", XP: 5, Phase: PhaseEnter})

	assert.Equal(t, 1, a.Count(types.NotificationError))
	assert.Len(t, b.All(), 3)
}
