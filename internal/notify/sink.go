package notify

import (
	"sync"

	"go.uber.org/zap"

	"learnsync/pkg/types"
)

// LogSink writes notifications to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink logging at info level, warnings and errors at
// their own levels.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("ui")}
}

func (s *LogSink) Show(n types.Notification) {
	fields := []zap.Field{
		zap.String("kind", string(n.Kind)),
		zap.String("message", n.Message),
	}
	if n.XP != 0 {
		fields = append(fields, zap.Int("xp", n.XP))
	}
	if n.Phase != "" {
		fields = append(fields, zap.String("phase", n.Phase))
	}
	if n.Retry != nil {
		fields = append(fields, zap.Bool("retryable", true))
	}

	switch n.Kind {
	case types.NotificationError:
		s.logger.Error(n.Title, fields...)
	case types.NotificationWarning:
		s.logger.Warn(n.Title, fields...)
	default:
		s.logger.Info(n.Title, fields...)
	}
}

// MemorySink records notifications. Useful for tests and the CLI summary.
type MemorySink struct {
	mu    sync.Mutex
	notes []types.Notification
}

func (s *MemorySink) Show(n types.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, n)
}

// All returns a copy of everything shown so far.
func (s *MemorySink) All() []types.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Notification(nil), s.notes...)
}

// Count returns how many notifications of kind were shown.
func (s *MemorySink) Count(kind types.NotificationKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := 0
	for _, n := range s.notes {
		if n.Kind == kind {
			c++
		}
	}
	return c
}

// Fanout shows each notification on every sink.
type Fanout []Sink

func (f Fanout) Show(n types.Notification) {
	for _, s := range f {
		s.Show(n)
	}
}
