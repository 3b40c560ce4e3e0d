package websocket

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"learnsync/internal/config"
	"learnsync/pkg/interfaces"
	"learnsync/pkg/types"
)

// State is a channel's position in the reconnect state machine.
type State string

const (
	StateDisconnected       State = "disconnected"
	StateConnecting         State = "connecting"
	StateOpen               State = "open"
	StateReconnectScheduled State = "reconnect_scheduled"
	StateFailed             State = "failed"
)

// MessageHandler receives every parsed server message of a channel, in
// transport order.
type MessageHandler func(env *types.Envelope)

// ErrorHandler receives non-fatal transport and payload errors.
type ErrorHandler func(err error)

// Handle is returned by Connect and addresses the channel it was issued for.
type Handle struct {
	m       *Manager
	channel types.Channel
}

func (h *Handle) Channel() types.Channel { return h.channel }

func (h *Handle) State() State { return h.m.State(h.channel) }

func (h *Handle) Send(v interface{}) error { return h.m.Send(h.channel, v) }

// Close disconnects the channel.
func (h *Handle) Close() { h.m.Disconnect(h.channel) }

// channelState is the registration of one owned channel.
type channelState struct {
	channel    types.Channel
	handle     *Handle
	onMessage  MessageHandler
	onError    ErrorHandler
	conn       *Connection
	attempts   int
	state      State
	timer      *time.Timer
	cancelDial context.CancelFunc
}

// Manager owns one self-healing connection per channel.
// ARCHITECTURAL DISCOVERY: the channels map is the single source of truth for
// ownership. Every asynchronous path (close notification, reconnect timer,
// in-flight dial, frame dispatch) re-checks that its channelState is still the
// registered one before acting, so Disconnect always wins.
type Manager struct {
	cfg     *config.SocketConfig
	baseURL string
	tokens  interfaces.TokenProvider
	dialer  *websocket.Dialer
	logger  *zap.Logger
	jitter  func() float64

	mu       sync.Mutex
	channels map[types.Channel]*channelState
	terminal map[types.Channel]State // last state of unregistered channels

	reconnectsScheduled int
	reconnectsExhausted int
}

// NewManager creates a channel manager. wsBaseURL is the ws:// or wss://
// origin; channels are reached at {wsBaseURL}/ws/{channel}/.
func NewManager(cfg *config.SocketConfig, wsBaseURL string, tokens interfaces.TokenProvider, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		baseURL: strings.TrimRight(wsBaseURL, "/"),
		tokens:  tokens,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger:   logger.Named("socket"),
		jitter:   rand.Float64,
		channels: make(map[types.Channel]*channelState),
		terminal: make(map[types.Channel]State),
	}
}

// BackoffDelay returns the delay before reconnect attempt n (1-based):
// min(base*2^(n-1), max) plus jitter*25% of that value. jitter is clamped to [0,1).
func BackoffDelay(attempt int, base, max time.Duration, jitter float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	if jitter < 0 {
		jitter = 0
	}
	if jitter >= 1 {
		jitter = 0.999999
	}
	return d + time.Duration(float64(d)*0.25*jitter)
}

// Connect registers channel and opens its transport. An already registered
// channel returns its existing handle without a second transport. When no
// valid access credential can be obtained nothing is registered and
// ErrNoCredential is returned. A failed first dial is reported to onError and
// handled by the reconnect state machine, like any other close.
func (m *Manager) Connect(ctx context.Context, channel types.Channel, onMessage MessageHandler, onError ErrorHandler) (*Handle, error) {
	if !types.IsValidChannel(channel) {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidChannel, channel)
	}
	if onMessage == nil {
		return nil, ErrNilHandler
	}

	if h := m.existing(channel); h != nil {
		return h, nil
	}

	token, err := m.tokens.AccessToken(ctx)
	if err != nil {
		m.logger.Warn("not connecting without a valid credential",
			zap.String("channel", channel.String()), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrNoCredential, err)
	}

	m.mu.Lock()
	if st, ok := m.channels[channel]; ok {
		m.mu.Unlock()
		return st.handle, nil
	}
	st := &channelState{
		channel:   channel,
		onMessage: onMessage,
		onError:   onError,
		state:     StateConnecting,
	}
	st.handle = &Handle{m: m, channel: channel}
	m.channels[channel] = st
	delete(m.terminal, channel)
	dialCtx, cancel := context.WithCancel(ctx)
	st.cancelDial = cancel
	m.mu.Unlock()

	m.open(dialCtx, st, token)
	cancel()
	return st.handle, nil
}

func (m *Manager) existing(channel types.Channel) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.channels[channel]; ok {
		return st.handle
	}
	return nil
}

// open dials the transport for st and starts its read loop.
func (m *Manager) open(ctx context.Context, st *channelState, token string) {
	conn, err := m.dial(ctx, st.channel, token)

	m.mu.Lock()
	if m.channels[st.channel] != st {
		// disconnected while dialing
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	st.cancelDial = nil
	if err != nil {
		m.mu.Unlock()
		m.logger.Warn("channel dial failed", zap.String("channel", st.channel.String()), zap.Error(err))
		m.reportError(st, err)
		m.handleClose(st, nil, err)
		return
	}
	st.conn = conn
	st.state = StateOpen
	st.attempts = 0
	m.mu.Unlock()

	m.logger.Info("channel open", zap.String("channel", st.channel.String()))

	go conn.readLoop(
		func(data []byte) { m.dispatch(st, data) },
		func(err error) { m.handleClose(st, conn, err) },
	)
}

func (m *Manager) dial(ctx context.Context, channel types.Channel, token string) (*Connection, error) {
	u := fmt.Sprintf("%s/ws/%s/?token=%s", m.baseURL, channel, url.QueryEscape(token))
	conn, resp, err := m.dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", channel, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", channel, err)
	}
	return newConnection(conn, channel, m.cfg), nil
}

// handleClose drives the reconnect state machine after an unexpected close
// or failed attempt. conn is the transport that closed, nil for dial failures.
func (m *Manager) handleClose(st *channelState, conn *Connection, cause error) {
	m.mu.Lock()
	if m.channels[st.channel] != st || (conn != nil && st.conn != conn) {
		// intentional teardown or a superseded transport
		m.mu.Unlock()
		return
	}
	st.conn = nil
	st.attempts++

	if st.attempts > m.cfg.MaxAttempts {
		delete(m.channels, st.channel)
		m.terminal[st.channel] = StateFailed
		st.state = StateFailed
		m.reconnectsExhausted++
		attempts := st.attempts - 1
		m.mu.Unlock()

		m.logger.Error("channel reconnect attempts exhausted",
			zap.String("channel", st.channel.String()), zap.Int("attempts", attempts))
		m.reportError(st, ErrReconnectExhausted)
		return
	}

	delay := BackoffDelay(st.attempts, m.cfg.BaseDelay, m.cfg.MaxDelay, m.jitter())
	st.state = StateReconnectScheduled
	st.timer = time.AfterFunc(delay, func() { m.reconnect(st) })
	m.reconnectsScheduled++
	attempt := st.attempts
	m.mu.Unlock()

	m.logger.Info("channel reconnect scheduled",
		zap.String("channel", st.channel.String()),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.NamedError("cause", cause))
}

func (m *Manager) reconnect(st *channelState) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HandshakeTimeout)
	defer cancel()

	m.mu.Lock()
	if m.channels[st.channel] != st {
		m.mu.Unlock()
		return
	}
	st.timer = nil
	st.state = StateConnecting
	st.cancelDial = cancel
	m.mu.Unlock()

	// a fresh token before every attempt
	token, err := m.tokens.AccessToken(ctx)
	if err != nil {
		m.logger.Warn("reconnect without credential", zap.String("channel", st.channel.String()), zap.Error(err))
		m.reportError(st, fmt.Errorf("%w: %w", ErrNoCredential, err))
		m.handleClose(st, nil, err)
		return
	}
	m.open(ctx, st, token)
}

// dispatch parses one frame and hands it to the channel's handler.
func (m *Manager) dispatch(st *channelState, data []byte) {
	if !m.owns(st) {
		return
	}
	env, err := types.ParseEnvelope(st.channel, data)
	if err != nil {
		m.logger.Warn("dropping malformed message", zap.String("channel", st.channel.String()), zap.Error(err))
		m.reportError(st, err)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("message handler panicked",
				zap.String("channel", st.channel.String()),
				zap.String("type", env.Type),
				zap.Any("panic", r))
		}
	}()
	st.onMessage(env)
}

func (m *Manager) reportError(st *channelState, err error) {
	if st.onError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("error handler panicked", zap.String("channel", st.channel.String()), zap.Any("panic", r))
		}
	}()
	st.onError(err)
}

func (m *Manager) owns(st *channelState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels[st.channel] == st
}

// Send queues v on an open channel. A closed or unknown channel is logged
// and reported as ErrChannelNotOpen.
func (m *Manager) Send(channel types.Channel, v interface{}) error {
	m.mu.Lock()
	st, ok := m.channels[channel]
	var conn *Connection
	if ok && st.state == StateOpen {
		conn = st.conn
	}
	m.mu.Unlock()

	if conn == nil {
		m.logger.Warn("send on channel that is not open", zap.String("channel", channel.String()))
		return ErrChannelNotOpen
	}
	if err := conn.WriteJSON(v); err != nil {
		m.logger.Warn("send failed", zap.String("channel", channel.String()), zap.Error(err))
		return err
	}
	return nil
}

// Disconnect unregisters channel and then closes its transport. The
// registration is removed first so the transport's own close notification,
// a pending reconnect timer or an in-flight dial all find the channel
// unowned and stand down. Idempotent.
func (m *Manager) Disconnect(channel types.Channel) {
	m.mu.Lock()
	st, ok := m.channels[channel]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.channels, channel)
	m.terminal[channel] = StateDisconnected
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	if st.cancelDial != nil {
		st.cancelDial()
		st.cancelDial = nil
	}
	conn := st.conn
	st.conn = nil
	st.state = StateDisconnected
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			m.logger.Debug("transport close error", zap.String("channel", channel.String()), zap.Error(err))
		}
	}
	m.logger.Info("channel disconnected", zap.String("channel", channel.String()))
}

// DisconnectAll tears down every channel (sign-out).
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	channels := make([]types.Channel, 0, len(m.channels))
	for ch := range m.channels {
		channels = append(channels, ch)
	}
	m.mu.Unlock()

	for _, ch := range channels {
		m.Disconnect(ch)
	}
}

// State returns the channel's current state.
func (m *Manager) State(channel types.Channel) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.channels[channel]; ok {
		return st.state
	}
	if s, ok := m.terminal[channel]; ok {
		return s
	}
	return StateDisconnected
}

// Channels returns the currently registered channels.
func (m *Manager) Channels() []types.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Channel, 0, len(m.channels))
	for ch := range m.channels {
		out = append(out, ch)
	}
	return out
}

// GetStats returns manager counters for monitoring and tests.
func (m *Manager) GetStats() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	open := 0
	for _, st := range m.channels {
		if st.state == StateOpen {
			open++
		}
	}
	return map[string]int{
		"channels":             len(m.channels),
		"open":                 open,
		"reconnects_scheduled": m.reconnectsScheduled,
		"reconnects_exhausted": m.reconnectsExhausted,
	}
}
