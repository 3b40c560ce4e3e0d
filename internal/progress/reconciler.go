package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"learnsync/internal/config"
	"learnsync/pkg/interfaces"
	"learnsync/pkg/types"
)

// Reconciler keeps the client's ProgressSnapshot consistent with socket
// events and authoritative REST reloads.
// ARCHITECTURAL DISCOVERY: optimistic patches are applied under the lock and
// events are published after it is released, so subscribers can read the
// snapshot without deadlocking
type Reconciler struct {
	api    interfaces.ProgressAPI
	cfg    *config.ProgressConfig
	bus    *Bus
	board  *Leaderboard
	logger *zap.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	snap types.ProgressSnapshot

	// mutations counts optimistic patches; a refresh compares it against
	// the value seen when it was issued
	mutations uint64

	profileIssued  uint64
	profileApplied uint64
	statsIssued    uint64
	statsApplied   uint64

	refreshTimer *time.Timer
	statsTimer   *time.Timer
	closed       bool
}

// NewReconciler creates a reconciler publishing to bus.
func NewReconciler(api interfaces.ProgressAPI, cfg *config.ProgressConfig, bus *Bus, logger *zap.Logger) *Reconciler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		api:    api,
		cfg:    cfg,
		bus:    bus,
		board:  NewLeaderboard(),
		logger: logger.Named("progress"),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Snapshot returns a copy of the current progress view.
func (r *Reconciler) Snapshot() types.ProgressSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap.Clone()
}

// Leaderboard returns the locally ranked leaderboard.
func (r *Reconciler) Leaderboard() *Leaderboard {
	return r.board
}

// HandleProgress consumes the progress channel.
func (r *Reconciler) HandleProgress(env *types.Envelope) {
	switch env.Type {
	case types.EventXPGained:
		r.applyXPGained(env)
	case types.EventLevelUp:
		r.applyLevelUp(env)
	case types.EventLessonCompleted:
		r.applyLessonCompleted(env)
	case types.EventProgressUpdated:
		r.scheduleRefresh()
		r.scheduleStatsRefresh()
	default:
		r.logger.Debug("ignoring progress event", zap.String("type", env.Type))
	}
}

// HandleDashboard consumes the dashboard channel. Any dashboard push means
// server aggregates moved, so both views are reloaded.
func (r *Reconciler) HandleDashboard(env *types.Envelope) {
	r.logger.Debug("dashboard event", zap.String("type", env.Type))
	r.scheduleRefresh()
	r.scheduleStatsRefresh()
}

// HandleLeaderboard consumes the leaderboard channel.
func (r *Reconciler) HandleLeaderboard(env *types.Envelope) {
	switch env.Type {
	case types.EventUserXPUpdated:
		userID := env.String("user_id", "")
		if userID == "" {
			if id := env.Int("user_id", 0); id != 0 {
				userID = fmt.Sprint(id)
			}
		}
		if userID == "" || !env.HasNumber("xp") {
			r.logger.Warn("user_xp_updated without user_id or xp")
			return
		}
		r.board.Update(userID, env.Int("xp", 0), env.Int("level", 0))
	case types.EventRankingChanged:
		ev := RankingChanged{
			OldRank: env.Int("old_rank", 0),
			NewRank: env.Int("new_rank", 0),
		}
		ev.At = r.now()
		r.bus.Publish(ev)
	default:
		r.logger.Debug("ignoring leaderboard event", zap.String("type", env.Type))
	}
}

// HandleStreak consumes the streak channel. Milestones and warnings never
// touch xp or level.
func (r *Reconciler) HandleStreak(env *types.Envelope) {
	now := r.now()
	switch env.Type {
	case types.EventStreakUpdated:
		r.mu.Lock()
		r.snap.Streak = env.Int("current_streak", r.snap.Streak)
		streak := r.snap.Streak
		r.touch(now)
		r.mu.Unlock()

		ev := StreakUpdated{Streak: streak}
		ev.At = now
		r.bus.Publish(ev)
	case types.EventStreakMilestone:
		ev := StreakMilestone{
			Milestone: env.Int("milestone", 0),
			Message:   env.String("message", ""),
			RewardXP:  env.Int("reward_xp", 0),
		}
		ev.At = now
		r.bus.Publish(ev)
	case types.EventStreakWarning:
		ev := StreakWarning{HoursRemaining: env.Int("hours_remaining", 0)}
		ev.At = now
		r.bus.Publish(ev)
	default:
		r.logger.Debug("ignoring streak event", zap.String("type", env.Type))
	}
}

// HandleAchievements consumes the achievements channel.
func (r *Reconciler) HandleAchievements(env *types.Envelope) {
	if env.Type != types.EventAchievementUnlocked {
		r.logger.Debug("ignoring achievements event", zap.String("type", env.Type))
		return
	}
	badge, ok := env.Badge("badge")
	if !ok {
		r.logger.Warn("achievement_unlocked without badge id")
		return
	}

	now := r.now()
	r.mu.Lock()
	if r.snap.HasBadge(badge.ID) {
		r.mu.Unlock()
		return
	}
	r.snap.Badges = append(r.snap.Badges, badge)
	r.touch(now)
	r.mu.Unlock()

	ev := BadgeEarned{Badge: badge}
	ev.At = now
	r.bus.Publish(ev)
}

func (r *Reconciler) applyXPGained(env *types.Envelope) {
	now := r.now()
	r.mu.Lock()
	amount := env.Int("amount", 0)
	xp := r.snap.XP + amount
	if env.HasNumber("total_xp") {
		xp = env.Int("total_xp", xp)
	}
	if xp > r.snap.XP {
		r.snap.XP = xp
	}
	total := r.snap.XP
	r.touch(now)
	r.mu.Unlock()

	ev := XPGained{Amount: amount, TotalXP: total}
	ev.At = now
	r.bus.Publish(ev)
	r.scheduleRefresh()
}

func (r *Reconciler) applyLevelUp(env *types.Envelope) {
	now := r.now()
	r.mu.Lock()
	level := env.Int("new_level", r.snap.Level)
	raised := level > r.snap.Level
	if raised {
		r.snap.Level = level
		r.touch(now)
	}
	r.mu.Unlock()

	if raised {
		ev := LevelUpOccurred{Level: level}
		ev.At = now
		r.bus.Publish(ev)
	}
	r.scheduleRefresh()
}

func (r *Reconciler) applyLessonCompleted(env *types.Envelope) {
	now := r.now()
	r.mu.Lock()
	r.snap.LessonsCompleted++
	count := r.snap.LessonsCompleted
	r.touch(now)
	r.mu.Unlock()

	ev := LessonCompleted{XPGained: env.Int("xp_gained", 0), LessonsCompleted: count}
	ev.At = now
	r.bus.Publish(ev)
	r.scheduleStatsRefresh()
}

// touch records an optimistic mutation. Caller holds r.mu.
func (r *Reconciler) touch(now time.Time) {
	r.mutations++
	r.snap.Version++
	r.snap.UpdatedAt = now
}

// Refresh reloads the profile from the REST API. A response older than the
// last applied one is discarded with ErrStaleRefresh. When an optimistic
// patch landed while the request was in flight, xp and level keep the larger
// of both values.
func (r *Reconciler) Refresh(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.profileIssued++
	seq := r.profileIssued
	mutationsAtIssue := r.mutations
	r.mu.Unlock()

	profile, err := r.api.GetProfile(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh profile: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if seq <= r.profileApplied {
		r.logger.Debug("discarding stale profile refresh",
			zap.Uint64("seq", seq), zap.Uint64("applied", r.profileApplied))
		return ErrStaleRefresh
	}
	r.profileApplied = seq

	xp, level := profile.XP, profile.Level
	if r.mutations != mutationsAtIssue {
		xp = max(xp, r.snap.XP)
		level = max(level, r.snap.Level)
	}
	r.snap.XP = xp
	r.snap.Level = level
	r.snap.Streak = profile.Streak
	r.snap.Badges = append([]types.Badge(nil), profile.Badges...)
	r.snap.Version++
	r.snap.UpdatedAt = r.now()
	return nil
}

// RefreshStats reloads per-course aggregates that cannot be derived locally.
// A lesson completion applied while the request was in flight keeps the
// larger completed-lesson count.
func (r *Reconciler) RefreshStats(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.statsIssued++
	seq := r.statsIssued
	mutationsAtIssue := r.mutations
	r.mu.Unlock()

	enrollments, err := r.api.GetEnrollments(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh stats: %w", err)
	}

	lessons, courses := 0, 0
	var scoreSum float64
	scored := 0
	perCourse := make(map[string]float64, len(enrollments))
	for _, e := range enrollments {
		lessons += e.LessonsCompleted
		if e.Completed {
			courses++
		}
		if e.AverageScore > 0 {
			scoreSum += e.AverageScore
			scored++
		}
		perCourse[e.CourseID] = e.Progress
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if seq <= r.statsApplied {
		return ErrStaleRefresh
	}
	r.statsApplied = seq

	if r.mutations != mutationsAtIssue {
		lessons = max(lessons, r.snap.LessonsCompleted)
	}
	r.snap.LessonsCompleted = lessons
	r.snap.CoursesCompleted = courses
	r.snap.AverageScore = 0
	if scored > 0 {
		r.snap.AverageScore = scoreSum / float64(scored)
	}
	r.snap.CourseProgress = perCourse
	r.snap.Version++
	r.snap.UpdatedAt = r.now()
	return nil
}

// LoadLeaderboard replaces the local leaderboard with the server's rows.
func (r *Reconciler) LoadLeaderboard(ctx context.Context) error {
	entries, err := r.api.GetLeaderboard(ctx)
	if err != nil {
		return fmt.Errorf("failed to load leaderboard: %w", err)
	}
	r.board.Set(entries)
	return nil
}

func (r *Reconciler) scheduleRefresh() {
	r.debounce(&r.refreshTimer, r.cfg.RefreshDebounce, "profile", r.Refresh)
}

func (r *Reconciler) scheduleStatsRefresh() {
	r.debounce(&r.statsTimer, r.cfg.StatsDebounce, "stats", r.RefreshStats)
}

// debounce restarts *slot so fn runs once, delay after the last call.
func (r *Reconciler) debounce(slot **time.Timer, delay time.Duration, what string, fn func(context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if *slot != nil {
		(*slot).Stop()
	}
	*slot = time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(r.ctx, r.cfg.RefreshTimeout)
		defer cancel()
		if err := fn(ctx); err != nil && err != ErrStaleRefresh && err != ErrClosed {
			r.logger.Warn("background refresh failed", zap.String("what", what), zap.Error(err))
		}
	})
}

// Reset clears the snapshot and pending refreshes, as on logout. The
// reconciler stays usable.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	r.stopTimers()
	r.snap = types.ProgressSnapshot{}
	// invalidate anything still in flight
	r.profileApplied = r.profileIssued
	r.statsApplied = r.statsIssued
	r.mu.Unlock()

	r.board.Clear()
}

// Close cancels pending refreshes and in-flight requests.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.stopTimers()
	r.mu.Unlock()
	r.cancel()
}

func (r *Reconciler) stopTimers() {
	if r.refreshTimer != nil {
		r.refreshTimer.Stop()
		r.refreshTimer = nil
	}
	if r.statsTimer != nil {
		r.statsTimer.Stop()
		r.statsTimer = nil
	}
}
