package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"learnsync/internal/app"
	"learnsync/internal/mockserver"
	"learnsync/internal/storage"
	"learnsync/internal/timer"
	"learnsync/pkg/types"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect every channel and log progress events until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer log.Sync()

		application, err := app.NewApplication(cfg, log, nil)
		if err != nil {
			return fmt.Errorf("failed to create application: %w", err)
		}

		ctx, stop := signalContext()
		defer stop()

		if err := application.Start(ctx); err != nil {
			_ = application.Stop(context.Background())
			return fmt.Errorf("application error: %w", err)
		}

		snap := application.Reconciler().Snapshot()
		fmt.Fprintf(cmd.OutOrStdout(), "xp %d  level %d  streak %d\n", snap.XP, snap.Level, snap.Streak)

		<-ctx.Done()
		log.Info("received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return application.Stop(shutdownCtx)
	},
}

var (
	focusMode    string
	focusMinutes int
	focusRestore bool
)

var focusCmd = &cobra.Command{
	Use:   "focus [session-id]",
	Short: "Run a pomodoro session; interrupting saves it for --restore",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := timer.ParseMode(focusMode)
		if err != nil {
			return err
		}
		id := uuid.NewString()
		if len(args) == 1 {
			id = args[0]
		}

		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer log.Sync()

		application, err := app.NewApplication(cfg, log, nil)
		if err != nil {
			return fmt.Errorf("failed to create application: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = application.Stop(ctx)
		}()

		session, err := application.NewFocusSession(id, mode, time.Duration(focusMinutes)*time.Minute)
		if err != nil {
			return err
		}
		done := make(chan types.FocusSessionRecord, 1)
		session.OnComplete(func(rec types.FocusSessionRecord) { done <- rec })

		ctx, stop := signalContext()
		defer stop()

		out := cmd.OutOrStdout()
		if focusRestore {
			rec, err := session.Restore(ctx)
			if err != nil {
				return err
			}
			switch {
			case rec == nil:
				return fmt.Errorf("no saved session %q", id)
			case rec.Finished:
				fmt.Fprintf(out, "session %s finished while away\n", id)
				return nil
			}
			if err := session.Resume(); err != nil {
				return err
			}
		} else if err := session.Start(); err != nil {
			return err
		}
		fmt.Fprintf(out, "session %s: %s, %s left\n", id, session.Mode(), session.TimeLeft().Round(time.Second))

		select {
		case rec := <-done:
			fmt.Fprintf(out, "session %s complete: %d minutes\n", id, rec.DurationMinutes)
		case <-ctx.Done():
			session.Suspend()
			session.Close()
			fmt.Fprintf(out, "session %s saved with %s left; resume with --restore\n", id, session.TimeLeft().Round(time.Second))
		}
		return nil
	},
}

var quizStatusCmd = &cobra.Command{
	Use:   "quiz-status <lesson-id>",
	Short: "Show the saved state of a timed quiz",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer log.Sync()

		backend, err := storage.New(cfg.Storage, log)
		if err != nil {
			return err
		}
		defer backend.Close()

		store := timer.NewStore(backend, cfg.Storage.KeyPrefix, log)
		rec, err := store.Load(cmd.Context(), timer.QuizKey(args[0]))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if rec == nil {
			fmt.Fprintf(out, "no saved quiz for lesson %s\n", args[0])
			return nil
		}
		fmt.Fprintf(out, "lesson %s: %s, question %d of %d, score %d\n",
			args[0], rec.Status, rec.Progress, rec.Total, rec.Score)
		if rec.Countdown {
			fmt.Fprintf(out, "time left %s (saved %s ago)\n",
				time.Duration(rec.TimeLeft)*time.Second, rec.SinceSave.Round(time.Second))
		}
		if rec.Finished {
			fmt.Fprintln(out, "time ran out while away")
		}
		return nil
	},
}

var (
	mockAddr   string
	mockSecret string
	mockUser   string
)

var mockServerCmd = &cobra.Command{
	Use:   "mock-server",
	Short: "Serve an in-memory backend for local development",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer log.Sync()

		backend, err := mockserver.New([]byte(mockSecret), log)
		if err != nil {
			return err
		}
		backend.SetProfile(types.Profile{UserID: mockUser, Username: mockUser, Level: 1})
		tokens, err := backend.IssueTokens(mockUser, time.Hour, 7*24*time.Hour)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "LEARNSYNC_ACCESS_TOKEN=%s\n", tokens.Access)
		fmt.Fprintf(out, "LEARNSYNC_REFRESH_TOKEN=%s\n", tokens.Refresh)

		server := &http.Server{Addr: mockAddr, Handler: backend, ReadHeaderTimeout: 10 * time.Second}

		ctx, stop := signalContext()
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("HTTP server error: %w", err)
			}
		}()
		log.Info("mock backend listening", zap.String("addr", mockAddr))

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		backend.Close()
		return server.Shutdown(shutdownCtx)
	},
}

func init() {
	focusCmd.Flags().StringVarP(&focusMode, "mode", "m", string(timer.ModeFocus), "focus, short_break or long_break")
	focusCmd.Flags().IntVar(&focusMinutes, "minutes", 0, "length in minutes (default: configured length of the mode)")
	focusCmd.Flags().BoolVar(&focusRestore, "restore", false, "resume a saved session")

	mockServerCmd.Flags().StringVarP(&mockAddr, "addr", "a", ":8000", "address to listen on")
	mockServerCmd.Flags().StringVar(&mockSecret, "secret", "learnsync-dev-secret", "HS256 signing secret")
	mockServerCmd.Flags().StringVar(&mockUser, "user", "learner", "user to issue tokens for")
}
