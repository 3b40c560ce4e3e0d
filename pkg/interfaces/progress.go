package interfaces

import (
	"context"

	"learnsync/pkg/types"
)

// ProgressAPI is the REST source of truth for progress data.
type ProgressAPI interface {
	// GetProfile returns the current user's xp, level, streak and badges.
	GetProfile(ctx context.Context) (*types.Profile, error)

	// GetEnrollments returns per-course progress aggregates.
	GetEnrollments(ctx context.Context) ([]types.Enrollment, error)

	// GetLeaderboard returns leaderboard rows in server order.
	GetLeaderboard(ctx context.Context) ([]types.LeaderboardEntry, error)
}

// CompletionAPI records lesson completions.
type CompletionAPI interface {
	// CompleteLesson writes a completion record. score is nil for lesson types
	// without a score. The returned XPAwarded is the amount to announce.
	CompleteLesson(ctx context.Context, lessonID string, score *float64) (*types.CompletionResult, error)
}

// FocusAPI records finished focus sessions.
type FocusAPI interface {
	CreateFocusSession(ctx context.Context, record types.FocusSessionRecord) error
}
