package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"learnsync/internal/api"
	"learnsync/internal/auth"
	"learnsync/internal/config"
	"learnsync/internal/lesson"
	"learnsync/internal/notify"
	"learnsync/internal/progress"
	"learnsync/internal/storage"
	"learnsync/internal/timer"
	"learnsync/internal/websocket"
	"learnsync/pkg/interfaces"
	"learnsync/pkg/types"
)

// Application coordinates all client components.
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	logger     *zap.Logger
	client     *api.Client
	tokens     *auth.TokenSource
	backend    interfaces.SnapshotBackend
	store      *timer.Store
	bus        *progress.Bus
	reconciler *progress.Reconciler
	notifier   *notify.Notifier
	sockets    *websocket.Manager

	mu      sync.Mutex
	started bool
}

// Channel subscriptions opened by Start.
func (app *Application) subscriptions() map[types.Channel]websocket.MessageHandler {
	return map[types.Channel]websocket.MessageHandler{
		types.ChannelProgress:     app.reconciler.HandleProgress,
		types.ChannelLeaderboard:  app.reconciler.HandleLeaderboard,
		types.ChannelStreak:       app.reconciler.HandleStreak,
		types.ChannelDashboard:    app.reconciler.HandleDashboard,
		types.ChannelAchievements: app.reconciler.HandleAchievements,
	}
}

// NewApplication creates all components. sink may be nil, in which case
// notifications are logged.
// Component initialization follows strict dependency order:
// API client → Tokens → Storage → Bus → Reconciler → Notifier → Sockets
func NewApplication(cfg *config.Config, logger *zap.Logger, sink notify.Sink) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// STEP 1: REST client; the token source refreshes through it
	client := api.NewClient(cfg.API.BaseURL, cfg.API.Timeout, nil, logger)
	tokens := auth.NewTokenSource(cfg.Auth.AccessToken, cfg.Auth.RefreshToken, cfg.Auth.RefreshLeeway, client, logger)
	client.SetTokenProvider(tokens)

	// STEP 2: snapshot storage for timed sessions
	backend, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot storage: %w", err)
	}
	store := timer.NewStore(backend, cfg.Storage.KeyPrefix, logger)

	// STEP 3: progress state and its presentation subscriber
	bus := progress.NewBus(logger)
	reconciler := progress.NewReconciler(client, cfg.Progress, bus, logger)
	if sink == nil {
		sink = notify.NewLogSink(logger)
	}
	notifier := notify.New(sink, notify.DefaultTiming(), logger)
	notifier.Attach(bus)

	// STEP 4: channel manager
	sockets := websocket.NewManager(cfg.Socket, cfg.API.WSBaseURL, tokens, logger)

	return &Application{
		config:     cfg,
		logger:     logger.Named("app"),
		client:     client,
		tokens:     tokens,
		backend:    backend,
		store:      store,
		bus:        bus,
		reconciler: reconciler,
		notifier:   notifier,
		sockets:    sockets,
	}, nil
}

// Start loads authoritative progress and opens every real-time channel.
// A missing credential aborts startup; other REST failures are logged and
// left to later refreshes.
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	if app.started {
		app.mu.Unlock()
		return ErrAlreadyStarted
	}
	app.started = true
	app.mu.Unlock()

	app.logger.Info("starting", zap.String("api", app.config.API.BaseURL))

	// STEP 1: authoritative state
	if err := app.reconciler.Refresh(ctx); err != nil {
		if errors.Is(err, interfaces.ErrUnauthorized) || errors.Is(err, auth.ErrNoCredential) {
			app.reset()
			return fmt.Errorf("failed to load profile: %w", err)
		}
		app.logger.Warn("initial profile load failed", zap.Error(err))
	}
	if err := app.reconciler.RefreshStats(ctx); err != nil {
		app.logger.Warn("initial stats load failed", zap.Error(err))
	}
	if err := app.reconciler.LoadLeaderboard(ctx); err != nil {
		app.logger.Warn("initial leaderboard load failed", zap.Error(err))
	}

	// STEP 2: real-time channels
	for channel, handler := range app.subscriptions() {
		onError := func(err error) {
			app.logger.Warn("channel error", zap.String("channel", string(channel)), zap.Error(err))
		}
		if _, err := app.sockets.Connect(ctx, channel, handler, onError); err != nil {
			app.sockets.DisconnectAll()
			app.reset()
			return fmt.Errorf("failed to connect %s: %w", channel, err)
		}
	}

	app.logger.Info("started", zap.Int("channels", len(app.sockets.Channels())))
	return nil
}

func (app *Application) reset() {
	app.mu.Lock()
	app.started = false
	app.mu.Unlock()
}

// Logout drops credentials, closes channels and clears progress state.
func (app *Application) Logout() {
	app.sockets.DisconnectAll()
	app.reconciler.Reset()
	app.tokens.Clear()
	app.reset()
	app.logger.Info("logged out")
}

// Stop shuts everything down in reverse dependency order:
// Sockets → Reconciler → Notifier → Storage
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down")

	app.sockets.DisconnectAll()
	app.reconciler.Close()
	app.notifier.Close()

	done := make(chan error, 1)
	go func() { done <- app.backend.Close() }()
	select {
	case err := <-done:
		if err != nil {
			app.logger.Warn("storage shutdown error", zap.Error(err))
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	app.reset()
	app.logger.Info("shutdown complete")
	return nil
}

// Config returns the active configuration.
func (app *Application) Config() *config.Config { return app.config }

// Reconciler returns the progress reconciler.
func (app *Application) Reconciler() *progress.Reconciler { return app.reconciler }

// Bus returns the progress event bus.
func (app *Application) Bus() *progress.Bus { return app.bus }

// Sockets returns the channel manager.
func (app *Application) Sockets() *websocket.Manager { return app.sockets }

// Store returns the timed-session snapshot store.
func (app *Application) Store() *timer.Store { return app.store }

// Notifier returns the notification owner.
func (app *Application) Notifier() *notify.Notifier { return app.notifier }

// Client returns the REST client.
func (app *Application) Client() *api.Client { return app.client }

// TimerDeps returns the collaborators for focus and quiz sessions.
func (app *Application) TimerDeps() timer.Deps {
	return timer.Deps{
		Store:    app.store,
		Config:   app.config.Timer,
		FocusAPI: app.client,
		Notifier: app.notifier,
		Logger:   app.logger,
	}
}

// NewFocusSession creates a focus session backed by the app's store.
func (app *Application) NewFocusSession(id string, mode timer.Mode, duration time.Duration) (*timer.FocusSession, error) {
	return timer.NewFocusSession(id, mode, duration, app.TimerDeps())
}

// NewQuizSession creates a quiz session backed by the app's store.
func (app *Application) NewQuizSession(lessonID string, questions int, limit time.Duration) (*timer.QuizSession, error) {
	return timer.NewQuizSession(lessonID, questions, limit, app.TimerDeps())
}

// NewLessonGate creates a completion gate. A zero AdvanceDelay takes the
// configured one.
func (app *Application) NewLessonGate(opts lesson.Options) (*lesson.Gate, error) {
	if opts.AdvanceDelay == 0 {
		opts.AdvanceDelay = app.config.Lesson.AdvanceDelay
	}
	return lesson.NewGate(opts, app.client, app.notifier, app.logger)
}

// NewQuizLesson creates a quiz attempt bound to the lesson's completion
// gate: finishing the attempt submits it, and a failing score resets it.
func (app *Application) NewQuizLesson(opts lesson.Options, questions int, limit time.Duration) (*lesson.QuizLesson, error) {
	opts.Type = lesson.TypeQuiz
	gate, err := app.NewLessonGate(opts)
	if err != nil {
		return nil, err
	}
	session, err := app.NewQuizSession(opts.LessonID, questions, limit)
	if err != nil {
		gate.Close()
		return nil, err
	}
	return lesson.NewQuizLesson(gate, session, app.logger)
}
