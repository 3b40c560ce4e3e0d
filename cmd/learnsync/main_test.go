package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"learnsync/internal/storage"
	"learnsync/internal/timer"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs([]string{})
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, dbPath string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "learnsync.json")
	body := `{
  "storage": {"driver": "sqlite", "path": "` + filepath.ToSlash(dbPath) + `", "key_prefix": "test:"},
  "logger": {"level": "error", "format": "json", "output": "stdout"}
}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRootCmd_Version(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "learnsync version dev\n", out)
}

func TestRootCmd_Help(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	for _, name := range []string{"watch", "focus", "quiz-status", "mock-server", "version"} {
		assert.Contains(t, out, name)
	}
}

func TestQuizStatus_ShowsSavedQuiz(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "snapshots.db")
	backend, err := storage.NewSQLiteBackend(dbPath, zap.NewNop())
	require.NoError(t, err)
	store := timer.NewStore(backend, "test:", zap.NewNop())
	require.NoError(t, store.Save(context.Background(), timer.QuizKey("lesson-9"), &timer.Snapshot{
		Kind:      timer.KindQuiz,
		Status:    timer.StatusPaused,
		Countdown: true,
		TimeLeft:  300,
		Duration:  600,
		Progress:  4,
		Score:     3,
		Total:     10,
	}))
	require.NoError(t, backend.Close())

	out, err := execute(t, "quiz-status", "lesson-9", "--config", writeConfig(t, dbPath))
	require.NoError(t, err)
	assert.Contains(t, out, "lesson lesson-9: paused, question 4 of 10, score 3")
	assert.Contains(t, out, "time left 5m0s")
}

func TestQuizStatus_NothingSaved(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")
	out, err := execute(t, "quiz-status", "lesson-1", "--config", writeConfig(t, dbPath))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "no saved quiz"), out)
}

func TestQuizStatus_RequiresLessonID(t *testing.T) {
	_, err := execute(t, "quiz-status")
	assert.Error(t, err)
}

func TestFocus_RejectsUnknownMode(t *testing.T) {
	_, err := execute(t, "focus", "--mode", "nap")
	assert.ErrorIs(t, err, timer.ErrInvalidMode)
	focusMode = string(timer.ModeFocus)
}

func TestMockServerCmd_Flags(t *testing.T) {
	for _, name := range []string{"addr", "secret", "user"} {
		assert.NotNil(t, mockServerCmd.Flags().Lookup(name), name)
	}
}
