package types

import (
	"encoding/json"
	"strings"
	"time"
)

// Channel names a logical real-time stream. One transport connection is
// held per channel.
type Channel string

// ARCHITECTURAL DISCOVERY: fixed channel set mirrors the backend's /ws/{channel}/ routes
const (
	ChannelProgress     Channel = "progress"
	ChannelLeaderboard  Channel = "leaderboard"
	ChannelStreak       Channel = "streak"
	ChannelDashboard    Channel = "dashboard"
	ChannelAchievements Channel = "achievements"

	// ChannelChatPrefix prefixes per-room chat channels, e.g. "chat/tutor".
	ChannelChatPrefix = "chat/"
)

// ChatChannel returns the channel for a chat room.
func ChatChannel(room string) Channel {
	return Channel(ChannelChatPrefix + room)
}

// IsChat reports whether the channel is a chat room channel.
func (c Channel) IsChat() bool {
	return strings.HasPrefix(string(c), ChannelChatPrefix)
}

func (c Channel) String() string { return string(c) }

// Event types carried in the envelope "type" field.
const (
	// progress channel
	EventXPGained        = "xp_gained"
	EventLevelUp         = "level_up"
	EventLessonCompleted = "lesson_completed"
	EventProgressUpdated = "progress_updated"

	// leaderboard channel
	EventUserXPUpdated  = "user_xp_updated"
	EventRankingChanged = "ranking_changed"

	// streak channel
	EventStreakUpdated   = "streak_updated"
	EventStreakMilestone = "streak_milestone"
	EventStreakWarning   = "streak_warning"

	// achievements channel
	EventAchievementUnlocked = "achievement_unlocked"
)

// Envelope is a parsed server message. Type is always set; Raw holds the
// complete frame so handlers can read event-specific fields.
type Envelope struct {
	Type    string          `json:"type"`
	Channel Channel         `json:"-"`
	Raw     json.RawMessage `json:"-"`
}

// Badge is an earned achievement.
type Badge struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon"`
}

// Profile is the authoritative user profile returned by the REST API.
type Profile struct {
	UserID   string  `json:"user_id"`
	Username string  `json:"username"`
	XP       int     `json:"xp"`
	Level    int     `json:"level"`
	Streak   int     `json:"streak"`
	Badges   []Badge `json:"badges"`
}

// Enrollment is a per-course progress record.
type Enrollment struct {
	CourseID         string  `json:"course_id"`
	Completed        bool    `json:"completed"`
	Progress         float64 `json:"progress"`
	LessonsCompleted int     `json:"lessons_completed"`
	TotalTimeSpent   int     `json:"total_time_spent"`
	AverageScore     float64 `json:"average_score"`
}

// LeaderboardEntry is one ranked user. RankChange is old rank minus new rank,
// so a positive value means the user moved up.
type LeaderboardEntry struct {
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
	XP         int    `json:"xp"`
	Level      int    `json:"level"`
	Rank       int    `json:"rank"`
	RankChange int    `json:"rank_change"`
}

// ProgressSnapshot is the client-held mirror of the user's progress.
// FUNCTIONAL DISCOVERY: XP and Level never decrease inside one authenticated
// session unless replaced by an authoritative reload
type ProgressSnapshot struct {
	XP               int                `json:"xp"`
	Level            int                `json:"level"`
	Streak           int                `json:"streak"`
	Badges           []Badge            `json:"badges"`
	LessonsCompleted int                `json:"lessons_completed"`
	CoursesCompleted int                `json:"courses_completed"`
	AverageScore     float64            `json:"average_score"`
	CourseProgress   map[string]float64 `json:"course_progress"`
	Version          uint64             `json:"version"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// Clone returns a deep copy safe to hand to callers.
func (s ProgressSnapshot) Clone() ProgressSnapshot {
	out := s
	if s.Badges != nil {
		out.Badges = append([]Badge(nil), s.Badges...)
	}
	if s.CourseProgress != nil {
		out.CourseProgress = make(map[string]float64, len(s.CourseProgress))
		for k, v := range s.CourseProgress {
			out.CourseProgress[k] = v
		}
	}
	return out
}

// HasBadge reports whether a badge with the given ID is present.
func (s ProgressSnapshot) HasBadge(id int64) bool {
	for _, b := range s.Badges {
		if b.ID == id {
			return true
		}
	}
	return false
}

// CompletionResult is the server response to a lesson completion write.
type CompletionResult struct {
	XPAwarded  int    `json:"xp_awarded"`
	ProgressID *int64 `json:"progress_id,omitempty"`
}

// FocusSessionRecord is posted when a focus session ends.
type FocusSessionRecord struct {
	DurationMinutes int    `json:"duration_minutes"`
	XPEarned        int    `json:"xp_earned"`
	Completed       bool   `json:"completed"`
	Mode            string `json:"mode"`
}

// NotificationKind classifies a user-facing notification.
type NotificationKind string

const (
	NotificationInfo        NotificationKind = "info"
	NotificationSuccess     NotificationKind = "success"
	NotificationXP          NotificationKind = "xp"
	NotificationCelebration NotificationKind = "celebration"
	NotificationWarning     NotificationKind = "warning"
	NotificationError       NotificationKind = "error"
)

// Notification is a transient message for the user. Retry is set for failed
// user-initiated actions that can be attempted again.
type Notification struct {
	Kind        NotificationKind `json:"kind"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	XP          int              `json:"xp,omitempty"`
	Phase       string           `json:"phase,omitempty"`
	Dismissible bool             `json:"dismissible"`
	Retry       func()           `json:"-"`
}
