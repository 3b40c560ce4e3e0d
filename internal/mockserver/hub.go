package mockserver

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"learnsync/pkg/types"
)

const (
	subscriberBuffer = 64
	writeWait        = 5 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = 30 * time.Second
)

// subscriber is one accepted client socket.
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// so broadcasts only enqueue and writeLoop owns the conn for writing
type subscriber struct {
	conn      *websocket.Conn
	userID    string
	channel   types.Channel
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscriber(conn *websocket.Conn, userID string, channel types.Channel) *subscriber {
	return &subscriber{
		conn:    conn,
		userID:  userID,
		channel: channel,
		send:    make(chan []byte, subscriberBuffer),
		done:    make(chan struct{}),
	}
}

func (s *subscriber) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// readLoop discards client frames; it exists to process control frames and
// notice the peer going away.
func (s *subscriber) readLoop() {
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// enqueue drops the frame when the subscriber is not keeping up.
func (s *subscriber) enqueue(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// hub tracks subscribers per channel.
type hub struct {
	mu     sync.RWMutex
	subs   map[types.Channel]map[*subscriber]struct{}
	logger *zap.Logger
}

func newHub(logger *zap.Logger) *hub {
	return &hub{
		subs:   make(map[types.Channel]map[*subscriber]struct{}),
		logger: logger,
	}
}

func (h *hub) add(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[s.channel]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[s.channel] = set
	}
	set[s] = struct{}{}
}

func (h *hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[s.channel]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.channel)
		}
	}
}

// publish sends v to the channel's subscribers, or only to userID's when it
// is non-empty. It returns the number of subscribers reached.
func (h *hub) publish(channel types.Channel, userID string, v interface{}) int {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to encode event", zap.Error(err))
		return 0
	}

	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.subs[channel]))
	for s := range h.subs[channel] {
		if userID == "" || s.userID == userID {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, s := range targets {
		if s.enqueue(data) {
			sent++
		} else {
			h.logger.Warn("dropping frame for slow subscriber",
				zap.String("channel", string(channel)), zap.String("user", s.userID))
		}
	}
	return sent
}

// closeChannel disconnects every subscriber of channel.
func (h *hub) closeChannel(channel types.Channel) int {
	h.mu.Lock()
	set := h.subs[channel]
	delete(h.subs, channel)
	h.mu.Unlock()

	for s := range set {
		s.close()
	}
	return len(set)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	all := h.subs
	h.subs = make(map[types.Channel]map[*subscriber]struct{})
	h.mu.Unlock()

	for _, set := range all {
		for s := range set {
			s.close()
		}
	}
}

func (h *hub) stats() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]int, len(h.subs))
	for ch, set := range h.subs {
		out[string(ch)] = len(set)
	}
	return out
}

func (h *hub) count(channel types.Channel) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}
