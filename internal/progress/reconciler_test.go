package progress

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"learnsync/internal/config"
	"learnsync/pkg/types"
)

type fakeAPI struct {
	mu          sync.Mutex
	profile     types.Profile
	enrollments []types.Enrollment
	board       []types.LeaderboardEntry
	err         error

	// calls, when set, receives a reply channel per GetProfile call so tests
	// control response order
	calls        chan chan types.Profile
	// statsReplies does the same for GetEnrollments
	statsReplies chan chan []types.Enrollment

	profileCalls atomic.Int32
	statsCalls   atomic.Int32
}

func (f *fakeAPI) GetProfile(ctx context.Context) (*types.Profile, error) {
	f.profileCalls.Add(1)
	if f.calls != nil {
		reply := make(chan types.Profile, 1)
		select {
		case f.calls <- reply:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		select {
		case p := <-reply:
			return &p, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p := f.profile
	return &p, nil
}

func (f *fakeAPI) GetEnrollments(ctx context.Context) ([]types.Enrollment, error) {
	f.statsCalls.Add(1)
	if f.statsReplies != nil {
		reply := make(chan []types.Enrollment, 1)
		select {
		case f.statsReplies <- reply:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		select {
		case e := <-reply:
			return e, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enrollments, f.err
}

func (f *fakeAPI) GetLeaderboard(ctx context.Context) ([]types.LeaderboardEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.board, f.err
}

func testProgressConfig() *config.ProgressConfig {
	return &config.ProgressConfig{
		RefreshDebounce: 20 * time.Millisecond,
		StatsDebounce:   30 * time.Millisecond,
		RefreshTimeout:  time.Second,
	}
}

func newTestReconciler(t *testing.T, api *fakeAPI) (*Reconciler, *eventRecorder) {
	t.Helper()
	bus := NewBus(zap.NewNop())
	rec := &eventRecorder{}
	bus.Subscribe(rec.record)
	r := NewReconciler(api, testProgressConfig(), bus, zap.NewNop())
	t.Cleanup(r.Close)
	return r, rec
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (e *eventRecorder) record(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventRecorder) all() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Event(nil), e.events...)
}

func envelope(t *testing.T, channel types.Channel, raw string) *types.Envelope {
	t.Helper()
	env, err := types.ParseEnvelope(channel, []byte(raw))
	require.NoError(t, err)
	return env
}

func TestReconciler_XPGainedIsOptimisticAndRefreshes(t *testing.T) {
	api := &fakeAPI{profile: types.Profile{XP: 1050, Level: 3}}
	r, rec := newTestReconciler(t, api)

	r.HandleProgress(envelope(t, types.ChannelProgress, `{"type":"xp_gained","amount":50,"total_xp":1050}`))

	assert.Equal(t, 1050, r.Snapshot().XP, "xp reflects total_xp immediately")
	events := rec.all()
	require.Len(t, events, 1)
	gained, ok := events[0].(XPGained)
	require.True(t, ok)
	assert.Equal(t, 50, gained.Amount)
	assert.Equal(t, 1050, gained.TotalXP)

	assert.Eventually(t, func() bool { return api.profileCalls.Load() == 1 }, 500*time.Millisecond, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return r.Snapshot().Level == 3 }, 500*time.Millisecond, 5*time.Millisecond)
}

func TestReconciler_XPGainedWithoutTotalFallsBackToIncrement(t *testing.T) {
	r, _ := newTestReconciler(t, &fakeAPI{profile: types.Profile{XP: 30}})

	r.HandleProgress(envelope(t, types.ChannelProgress, `{"type":"xp_gained","amount":30}`))
	r.HandleProgress(envelope(t, types.ChannelProgress, `{"type":"xp_gained","amount":"lots"}`))
	assert.Equal(t, 30, r.Snapshot().XP)

	// a lower total never moves xp backwards
	r.HandleProgress(envelope(t, types.ChannelProgress, `{"type":"xp_gained","amount":5,"total_xp":10}`))
	assert.Equal(t, 30, r.Snapshot().XP)
}

func TestReconciler_RefreshDebounced(t *testing.T) {
	api := &fakeAPI{}
	r, _ := newTestReconciler(t, api)

	for i := 0; i < 5; i++ {
		r.HandleProgress(envelope(t, types.ChannelProgress, `{"type":"xp_gained","amount":1}`))
	}
	assert.Eventually(t, func() bool { return api.profileCalls.Load() == 1 }, 500*time.Millisecond, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), api.profileCalls.Load())
}

func TestReconciler_LevelUp(t *testing.T) {
	r, rec := newTestReconciler(t, &fakeAPI{profile: types.Profile{Level: 4}})

	r.HandleProgress(envelope(t, types.ChannelProgress, `{"type":"level_up","new_level":4}`))
	r.HandleProgress(envelope(t, types.ChannelProgress, `{"type":"level_up","new_level":2}`))
	r.HandleProgress(envelope(t, types.ChannelProgress, `{"type":"level_up"}`))

	assert.Equal(t, 4, r.Snapshot().Level)
	events := rec.all()
	require.Len(t, events, 1, "only a raise is celebrated")
	assert.Equal(t, 4, events[0].(LevelUpOccurred).Level)
}

func TestReconciler_LessonCompletedRefreshesStats(t *testing.T) {
	api := &fakeAPI{enrollments: []types.Enrollment{
		{CourseID: "go-101", Completed: true, Progress: 100, LessonsCompleted: 10, AverageScore: 90},
		{CourseID: "sql-201", Progress: 40, LessonsCompleted: 4, AverageScore: 70},
	}}
	r, rec := newTestReconciler(t, api)

	r.HandleProgress(envelope(t, types.ChannelProgress, `{"type":"lesson_completed","xp_gained":25}`))
	assert.Equal(t, 1, r.Snapshot().LessonsCompleted)
	require.Len(t, rec.all(), 1)
	assert.Equal(t, 25, rec.all()[0].(LessonCompleted).XPGained)

	require.Eventually(t, func() bool { return r.Snapshot().LessonsCompleted == 14 }, 500*time.Millisecond, 5*time.Millisecond)
	snap := r.Snapshot()
	assert.Equal(t, 1, snap.CoursesCompleted)
	assert.InDelta(t, 80.0, snap.AverageScore, 0.001)
	assert.Equal(t, 40.0, snap.CourseProgress["sql-201"])
	assert.Equal(t, int32(0), api.profileCalls.Load())
}

func TestReconciler_StreakEventsDoNotTouchXP(t *testing.T) {
	r, rec := newTestReconciler(t, &fakeAPI{})

	r.HandleStreak(envelope(t, types.ChannelStreak, `{"type":"streak_updated","current_streak":7}`))
	r.HandleStreak(envelope(t, types.ChannelStreak, `{"type":"streak_milestone","milestone":7,"message":"A week!","reward_xp":50}`))
	r.HandleStreak(envelope(t, types.ChannelStreak, `{"type":"streak_warning","hours_remaining":3}`))
	r.HandleStreak(envelope(t, types.ChannelStreak, `{"type":"streak_updated"}`))

	snap := r.Snapshot()
	assert.Equal(t, 7, snap.Streak, "missing field keeps previous value")
	assert.Equal(t, 0, snap.XP)
	assert.Equal(t, 0, snap.Level)

	events := rec.all()
	require.Len(t, events, 4)
	milestone := events[1].(StreakMilestone)
	assert.Equal(t, 50, milestone.RewardXP)
	assert.Equal(t, "A week!", milestone.Message)
	assert.Equal(t, 3, events[2].(StreakWarning).HoursRemaining)
}

func TestReconciler_AchievementUnlockedOnce(t *testing.T) {
	r, rec := newTestReconciler(t, &fakeAPI{})

	msg := `{"type":"achievement_unlocked","badge":{"id":9,"name":"Night Owl","icon":"owl"}}`
	r.HandleAchievements(envelope(t, types.ChannelAchievements, msg))
	r.HandleAchievements(envelope(t, types.ChannelAchievements, msg))
	r.HandleAchievements(envelope(t, types.ChannelAchievements, `{"type":"achievement_unlocked","badge":{"name":"?"}}`))

	snap := r.Snapshot()
	require.Len(t, snap.Badges, 1)
	assert.Equal(t, "Night Owl", snap.Badges[0].Name)
	require.Len(t, rec.all(), 1)
}

func TestReconciler_LeaderboardEvents(t *testing.T) {
	api := &fakeAPI{board: []types.LeaderboardEntry{
		{UserID: "a", XP: 300}, {UserID: "b", XP: 200}, {UserID: "c", XP: 100},
	}}
	r, rec := newTestReconciler(t, api)
	require.NoError(t, r.LoadLeaderboard(context.Background()))

	r.HandleLeaderboard(envelope(t, types.ChannelLeaderboard, `{"type":"user_xp_updated","user_id":"c","xp":350,"level":5}`))
	r.HandleLeaderboard(envelope(t, types.ChannelLeaderboard, `{"type":"user_xp_updated","user_id":"b"}`))
	r.HandleLeaderboard(envelope(t, types.ChannelLeaderboard, `{"type":"ranking_changed","old_rank":3,"new_rank":1}`))

	entries := r.Leaderboard().Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "c", entries[0].UserID)
	assert.Equal(t, 2, entries[0].RankChange)
	assert.Equal(t, 5, entries[0].Level)
	assert.Equal(t, 200, entries[2].XP)

	events := rec.all()
	require.Len(t, events, 1)
	changed := events[0].(RankingChanged)
	assert.Equal(t, 3, changed.OldRank)
	assert.Equal(t, 1, changed.NewRank)
}

func TestReconciler_StaleRefreshDiscarded(t *testing.T) {
	api := &fakeAPI{calls: make(chan chan types.Profile)}
	r, _ := newTestReconciler(t, api)

	first := make(chan error, 1)
	go func() { first <- r.Refresh(context.Background()) }()
	olderReply := <-api.calls

	second := make(chan error, 1)
	go func() { second <- r.Refresh(context.Background()) }()
	newerReply := <-api.calls

	// responses arrive out of order
	newerReply <- types.Profile{XP: 800, Level: 8}
	require.NoError(t, <-second)
	olderReply <- types.Profile{XP: 700, Level: 7}
	assert.ErrorIs(t, <-first, ErrStaleRefresh)

	snap := r.Snapshot()
	assert.Equal(t, 800, snap.XP)
	assert.Equal(t, 8, snap.Level)
}

func TestReconciler_AuthoritativeReloadMayLowerXP(t *testing.T) {
	api := &fakeAPI{profile: types.Profile{XP: 900, Level: 9}}
	r, _ := newTestReconciler(t, api)
	require.NoError(t, r.Refresh(context.Background()))

	api.mu.Lock()
	api.profile = types.Profile{XP: 100, Level: 1}
	api.mu.Unlock()

	require.NoError(t, r.Refresh(context.Background()))
	assert.Equal(t, 100, r.Snapshot().XP)
}

func TestReconciler_RefreshKeepsConcurrentOptimisticPatch(t *testing.T) {
	api := &fakeAPI{calls: make(chan chan types.Profile)}
	r, _ := newTestReconciler(t, api)

	done := make(chan error, 1)
	go func() { done <- r.Refresh(context.Background()) }()
	reply := <-api.calls

	r.HandleProgress(envelope(t, types.ChannelProgress, `{"type":"xp_gained","amount":50,"total_xp":1050}`))
	reply <- types.Profile{XP: 1000, Level: 3, Streak: 2}
	require.NoError(t, <-done)

	snap := r.Snapshot()
	assert.Equal(t, 1050, snap.XP, "optimistic patch newer than the request survives")
	assert.Equal(t, 3, snap.Level)
	assert.Equal(t, 2, snap.Streak)
}

func TestReconciler_StatsRefreshKeepsConcurrentLessonCompletion(t *testing.T) {
	api := &fakeAPI{statsReplies: make(chan chan []types.Enrollment)}
	r, _ := newTestReconciler(t, api)
	enrolled := func(lessons int) []types.Enrollment {
		return []types.Enrollment{{CourseID: "go-101", Progress: 40, LessonsCompleted: lessons}}
	}

	done := make(chan error, 1)
	go func() { done <- r.RefreshStats(context.Background()) }()
	(<-api.statsReplies) <- enrolled(4)
	require.NoError(t, <-done)
	require.Equal(t, 4, r.Snapshot().LessonsCompleted)

	go func() { done <- r.RefreshStats(context.Background()) }()
	reply := <-api.statsReplies

	r.HandleProgress(envelope(t, types.ChannelProgress, `{"type":"lesson_completed","xp_gained":25}`))
	require.Equal(t, 5, r.Snapshot().LessonsCompleted)

	// the server answers with the count from before the completion
	reply <- enrolled(4)
	require.NoError(t, <-done)
	assert.Equal(t, 5, r.Snapshot().LessonsCompleted, "optimistic completion newer than the request survives")

	// the refresh scheduled by the completion settles on the server's count
	select {
	case next := <-api.statsReplies:
		next <- enrolled(5)
	case <-time.After(time.Second):
		t.Fatal("completion did not schedule a stats refresh")
	}
	require.Eventually(t, func() bool { return r.Snapshot().LessonsCompleted == 5 }, 500*time.Millisecond, 5*time.Millisecond)
}

func TestReconciler_ResetAndClose(t *testing.T) {
	api := &fakeAPI{profile: types.Profile{XP: 10}}
	r, _ := newTestReconciler(t, api)

	r.HandleProgress(envelope(t, types.ChannelProgress, `{"type":"xp_gained","amount":10}`))
	r.Reset()
	assert.Equal(t, types.ProgressSnapshot{}, r.Snapshot())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), api.profileCalls.Load(), "reset cancels the pending refresh")

	r.Close()
	assert.ErrorIs(t, r.Refresh(context.Background()), ErrClosed)
	r.HandleProgress(envelope(t, types.ChannelProgress, `{"type":"xp_gained","amount":10}`))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), api.profileCalls.Load())
}

func TestReconciler_RefreshError(t *testing.T) {
	api := &fakeAPI{err: errors.New("backend down")}
	r, _ := newTestReconciler(t, api)
	r.HandleProgress(envelope(t, types.ChannelProgress, `{"type":"xp_gained","amount":10}`))

	assert.Error(t, r.Refresh(context.Background()))
	assert.Equal(t, 10, r.Snapshot().XP, "failed refresh leaves optimistic state")
}
