package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"learnsync/internal/config"
	"learnsync/pkg/types"
)

// Connection wraps one client-side transport for a single channel.
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// so every frame, pings included, goes through the single writeLoop goroutine
type Connection struct {
	conn         *websocket.Conn
	channel      types.Channel
	writeCh      chan []byte
	writeTimeout time.Duration
	readTimeout  time.Duration
	pingInterval time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
	done         chan struct{} // closed when the read loop exits
}

// newConnection wraps an established gorilla connection and starts its writer.
func newConnection(conn *websocket.Conn, channel types.Channel, cfg *config.SocketConfig) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		channel:      channel,
		writeCh:      make(chan []byte, cfg.BufferSize),
		writeTimeout: cfg.WriteTimeout,
		readTimeout:  cfg.ReadTimeout,
		pingInterval: cfg.PingInterval,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	go c.writeLoop()

	return c
}

// Channel returns the channel this connection serves.
func (c *Connection) Channel() types.Channel {
	return c.channel
}

// Done is closed once the read loop has exited.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// readLoop delivers every frame to onFrame in arrival order, then reports the
// terminal read error to onClosed exactly once.
// FUNCTIONAL DISCOVERY: one reader per connection keeps per-channel ordering
func (c *Connection) readLoop(onFrame func([]byte), onClosed func(error)) {
	defer close(c.done)

	_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	})

	var readErr error
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		onFrame(data)
	}

	c.Close()
	onClosed(readErr)
}

// WriteJSON queues v for sending.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close stops the writer and closes the transport. Safe to call repeatedly.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()

		// best-effort close frame so the server sees a clean shutdown
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}
