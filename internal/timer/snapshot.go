package timer

import "time"

// Kind discriminates what a snapshot belongs to.
type Kind string

const (
	KindFocus Kind = "focus"
	KindQuiz  Kind = "quiz"
)

// Status is a timed activity's state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// Snapshot is the persisted form of an in-progress focus or quiz session.
// FUNCTIONAL DISCOVERY: TimeLeft is only meaningful together with SavedAt;
// it is recomputed on every load
type Snapshot struct {
	Kind      Kind   `json:"kind"`
	Mode      string `json:"mode,omitempty"`
	Status    Status `json:"status"`
	Countdown bool   `json:"countdown"`
	TimeLeft  int    `json:"timeLeft"` // seconds, countdown only
	Elapsed   int    `json:"elapsed"`  // seconds
	Duration  int    `json:"duration"` // seconds, planned length of a countdown
	Progress  int    `json:"progress"` // completed question index or focus cycles
	Score     int    `json:"score"`
	Total     int    `json:"total"`
	SavedAt   int64  `json:"savedAt"` // Unix milliseconds
}

// SavedTime returns SavedAt as a time.
func (s *Snapshot) SavedTime() time.Time {
	return time.UnixMilli(s.SavedAt)
}

// Recovered is a loaded snapshot after wall-clock recomputation.
type Recovered struct {
	Snapshot

	// SinceSave is how long ago the snapshot was written.
	SinceSave time.Duration
	// WasRunning is set when the activity was running at save time; such
	// sessions come back paused.
	WasRunning bool
	// Finished is set when the countdown ran out while away.
	Finished bool
}
