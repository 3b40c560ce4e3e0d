package timer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"learnsync/internal/storage"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T) (*Store, *storage.MemoryBackend, *fakeClock) {
	t.Helper()
	backend := storage.NewMemoryBackend()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	s := NewStore(backend, "learnsync:", zap.NewNop())
	s.now = clock.now
	return s, backend, clock
}

func TestStore_RunningFocusFinishedWhileAway(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, FocusKey("s1"), &Snapshot{
		Kind: KindFocus, Mode: "focus", Status: StatusRunning, Countdown: true, TimeLeft: 600, Duration: 1500,
	}))
	clock.advance(700 * time.Second)

	rec, err := s.Load(ctx, FocusKey("s1"))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusPaused, rec.Status)
	assert.Equal(t, 0, rec.TimeLeft)
	assert.True(t, rec.Finished)
	assert.True(t, rec.WasRunning)
	assert.Equal(t, 700*time.Second, rec.SinceSave)
}

func TestStore_RemainingIsClampedDifference(t *testing.T) {
	cases := []struct{ left, away, want int }{
		{600, 0, 600},
		{600, 1, 599},
		{600, 599, 1},
		{600, 600, 0},
		{30, 3600, 0},
	}
	for _, c := range cases {
		s, _, clock := newTestStore(t)
		ctx := context.Background()
		require.NoError(t, s.Save(ctx, QuizKey("l1"), &Snapshot{
			Kind: KindQuiz, Status: StatusRunning, Countdown: true, TimeLeft: c.left, Elapsed: 10,
		}))
		clock.advance(time.Duration(c.away) * time.Second)

		rec, err := s.Load(ctx, QuizKey("l1"))
		require.NoError(t, err)
		assert.Equal(t, c.want, rec.TimeLeft, "left=%d away=%d", c.left, c.away)
		assert.Equal(t, 10+c.away, rec.Elapsed)
		assert.Equal(t, c.want == 0, rec.Finished)
		assert.Equal(t, StatusPaused, rec.Status, "running sessions never resume running")
	}
}

func TestStore_CountUpAddsElapsed(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, QuizKey("l2"), &Snapshot{Kind: KindQuiz, Status: StatusRunning, Elapsed: 42, Progress: 3}))
	clock.advance(18 * time.Second)

	rec, err := s.Load(ctx, QuizKey("l2"))
	require.NoError(t, err)
	assert.Equal(t, 60, rec.Elapsed)
	assert.Equal(t, 3, rec.Progress)
	assert.False(t, rec.Finished)
}

func TestStore_PausedSnapshotUntouched(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, FocusKey("p"), &Snapshot{Kind: KindFocus, Status: StatusPaused, Countdown: true, TimeLeft: 100}))
	clock.advance(time.Hour)

	rec, err := s.Load(ctx, FocusKey("p"))
	require.NoError(t, err)
	assert.Equal(t, 100, rec.TimeLeft)
	assert.False(t, rec.WasRunning)
	assert.False(t, rec.Finished)
}

func TestStore_ClockSkewTreatedAsNoTime(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, FocusKey("skew"), &Snapshot{Kind: KindFocus, Status: StatusRunning, Countdown: true, TimeLeft: 100}))
	clock.advance(-time.Hour)

	rec, err := s.Load(ctx, FocusKey("skew"))
	require.NoError(t, err)
	assert.Equal(t, 100, rec.TimeLeft)
	assert.Equal(t, time.Duration(0), rec.SinceSave)
}

func TestStore_MissingAndCorrupt(t *testing.T) {
	s, backend, _ := newTestStore(t)
	ctx := context.Background()

	rec, err := s.Load(ctx, FocusKey("none"))
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, backend.Set(ctx, "learnsync:focus:bad", []byte(`{"kind":`)))
	rec, err = s.Load(ctx, FocusKey("bad"))
	require.NoError(t, err)
	assert.Nil(t, rec)
	_, err = backend.Get(ctx, "learnsync:focus:bad")
	assert.ErrorIs(t, err, storage.ErrNotFound, "corrupt snapshot is cleared")
}

func TestStore_KeysAreNamespaced(t *testing.T) {
	s, backend, clock := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, FocusKey("abc"), &Snapshot{Kind: KindFocus}))

	data, err := backend.Get(ctx, "learnsync:focus:abc")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"savedAt":`+itoa(clock.t.UnixMilli()))

	require.NoError(t, s.Clear(ctx, FocusKey("abc")))
	_, err = backend.Get(ctx, "learnsync:focus:abc")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_BackendErrorsSurface(t *testing.T) {
	s, backend, _ := newTestStore(t)
	require.NoError(t, backend.Close())

	assert.Error(t, s.Save(context.Background(), FocusKey("x"), &Snapshot{Kind: KindFocus}))
	_, err := s.Load(context.Background(), FocusKey("x"))
	assert.ErrorIs(t, err, storage.ErrClosed)
}
