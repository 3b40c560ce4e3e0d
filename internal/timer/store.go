package timer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"learnsync/pkg/interfaces"
)

// FocusKey returns the snapshot key of a focus session.
func FocusKey(sessionID string) string { return "focus:" + sessionID }

// QuizKey returns the snapshot key of a timed quiz.
func QuizKey(lessonID string) string { return "quiz:" + lessonID }

// Store persists session snapshots under namespaced keys.
type Store struct {
	backend interfaces.SnapshotBackend
	prefix  string
	logger  *zap.Logger
	now     func() time.Time
}

// NewStore creates a store writing "{prefix}{key}" entries to backend.
func NewStore(backend interfaces.SnapshotBackend, prefix string, logger *zap.Logger) *Store {
	return &Store{
		backend: backend,
		prefix:  prefix,
		logger:  logger.Named("timer.store"),
		now:     time.Now,
	}
}

// Save stamps snap with the current wall-clock time and writes it.
func (s *Store) Save(ctx context.Context, key string, snap *Snapshot) error {
	snap.SavedAt = s.now().UnixMilli()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := s.backend.Set(ctx, s.prefix+key, data); err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", key, err)
	}
	return nil
}

// Load reads a snapshot and recomputes its timing. It returns nil, nil when
// nothing is stored. A running snapshot comes back paused with the time spent
// away subtracted from TimeLeft (clamped at zero) and added to Elapsed. An
// unreadable snapshot is cleared and treated as absent.
func (s *Store) Load(ctx context.Context, key string) (*Recovered, error) {
	data, err := s.backend.Get(ctx, s.prefix+key)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", key, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil || snap.Kind == "" {
		s.logger.Warn("discarding unreadable snapshot", zap.String("key", key), zap.Error(err))
		if err := s.Clear(ctx, key); err != nil {
			s.logger.Warn("failed to clear unreadable snapshot", zap.String("key", key), zap.Error(err))
		}
		return nil, nil
	}

	return recompute(snap, s.now()), nil
}

// Clear removes a snapshot.
func (s *Store) Clear(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, s.prefix+key); err != nil {
		return fmt.Errorf("failed to clear snapshot %s: %w", key, err)
	}
	return nil
}

func recompute(snap Snapshot, now time.Time) *Recovered {
	rec := &Recovered{Snapshot: snap}

	since := now.Sub(snap.SavedTime())
	if since < 0 {
		// clock moved backwards; trust nothing beyond the save itself
		since = 0
	}
	rec.SinceSave = since

	if snap.Status != StatusRunning {
		return rec
	}

	rec.WasRunning = true
	away := int(since / time.Second)
	rec.Elapsed += away
	if snap.Countdown {
		rec.TimeLeft = max(0, snap.TimeLeft-away)
		rec.Finished = rec.TimeLeft == 0
	}
	rec.Status = StatusPaused
	return rec
}
