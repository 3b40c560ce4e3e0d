package mockserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"learnsync/pkg/types"
)

// Defaults for Server knobs.
const (
	DefaultLessonXP   = 50
	DefaultAccessTTL  = 15 * time.Minute
	XPPerLevel        = 1000
	maxRequestBody    = 1 << 20
	healthStatusOK    = "healthy"
	pathWebSocketRoot = "/ws/"
)

// FocusSession is a stored focus session record.
type FocusSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	types.FocusSessionRecord
}

type completion struct {
	ProgressID int64
	Score      *float64
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between clients and in-memory state
// Handlers only translate HTTP to state changes and push the matching socket events
type Server struct {
	secret    []byte
	logger    *zap.Logger
	router    *http.ServeMux
	hub       *hub
	limiter   *rateLimiter
	upgrader  websocket.Upgrader
	LessonXP  int
	AccessTTL time.Duration

	mu          sync.Mutex
	profiles    map[string]*types.Profile
	enrollments map[string][]types.Enrollment
	leaderboard []types.LeaderboardEntry
	completions map[string]map[string]completion
	focus       []FocusSession
	nextID      int64
}

// New creates a mock backend signing tokens with secret.
func New(secret []byte, logger *zap.Logger) (*Server, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	logger = logger.Named("mockserver")
	s := &Server{
		secret:    secret,
		logger:    logger,
		router:    http.NewServeMux(),
		hub:       newHub(logger),
		limiter:   newRateLimiter(DefaultRequestsPerMinute),
		LessonXP:  DefaultLessonXP,
		AccessTTL: DefaultAccessTTL,
		upgrader: websocket.Upgrader{
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
		profiles:    make(map[string]*types.Profile),
		enrollments: make(map[string][]types.Enrollment),
		completions: make(map[string]map[string]completion),
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/auth/profile/", s.jsonMiddleware(s.authed(s.handleProfile)))
	s.router.Handle("/api/auth/token/refresh/", s.jsonMiddleware(http.HandlerFunc(s.handleTokenRefresh)))
	s.router.Handle("/api/enrollments/", s.jsonMiddleware(s.authed(s.handleEnrollments)))
	s.router.Handle("/api/leaderboard/", s.jsonMiddleware(s.authed(s.handleLeaderboard)))
	s.router.Handle("/api/lessons/", s.jsonMiddleware(s.authed(s.handleLessonComplete)))
	s.router.Handle("/api/focus-sessions/", s.jsonMiddleware(s.authed(s.handleFocusSessions)))
	s.router.Handle("/health", s.jsonMiddleware(http.HandlerFunc(s.handleHealth)))
	s.router.HandleFunc(pathWebSocketRoot, s.handleWebSocket)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close disconnects every socket subscriber.
func (s *Server) Close() {
	s.hub.closeAll()
}

// SetProfile seeds a user's profile.
func (s *Server) SetProfile(p types.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	cp.Badges = append([]types.Badge(nil), p.Badges...)
	s.profiles[p.UserID] = &cp
}

// Profile returns a copy of a user's profile.
func (s *Server) Profile(userID string) types.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := *s.profileLocked(userID)
	p.Badges = append([]types.Badge(nil), p.Badges...)
	return p
}

// SetEnrollments seeds a user's enrollments.
func (s *Server) SetEnrollments(userID string, enrollments []types.Enrollment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enrollments[userID] = append([]types.Enrollment(nil), enrollments...)
}

// SetLeaderboard seeds the leaderboard.
func (s *Server) SetLeaderboard(entries []types.LeaderboardEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaderboard = append([]types.LeaderboardEntry(nil), entries...)
	rankLocked(s.leaderboard)
}

// FocusSessions returns the stored focus session records.
func (s *Server) FocusSessions() []FocusSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FocusSession(nil), s.focus...)
}

// Completions returns how many lessons userID has completed.
func (s *Server) Completions(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.completions[userID])
}

// Broadcast pushes v to every subscriber of channel.
func (s *Server) Broadcast(channel types.Channel, v interface{}) int {
	return s.hub.publish(channel, "", v)
}

// SendTo pushes v to userID's subscribers of channel.
func (s *Server) SendTo(userID string, channel types.Channel, v interface{}) int {
	return s.hub.publish(channel, userID, v)
}

// SetRateLimit sets the per-user REST requests allowed per minute. Zero
// disables limiting.
func (s *Server) SetRateLimit(perMinute int) {
	s.limiter.mu.Lock()
	s.limiter.limit = perMinute
	s.limiter.mu.Unlock()
}

// CloseChannel drops every subscriber of channel.
func (s *Server) CloseChannel(channel types.Channel) int {
	return s.hub.closeChannel(channel)
}

// Subscribers returns the number of live subscribers on channel.
func (s *Server) Subscribers(channel types.Channel) int {
	return s.hub.count(channel)
}

func (s *Server) profileLocked(userID string) *types.Profile {
	p, ok := s.profiles[userID]
	if !ok {
		p = &types.Profile{UserID: userID, Username: userID, Level: 1}
		s.profiles[userID] = p
	}
	return p
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.Profile(userID))
}

func (s *Server) handleEnrollments(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	list := append([]types.Enrollment{}, s.enrollments[userID]...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"count": len(list), "results": list})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	list := append([]types.LeaderboardEntry{}, s.leaderboard...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, list)
}

// FUNCTIONAL DISCOVERY: POST /api/lessons/{id}/complete/ awards xp once per lesson
// and pushes the same events the real backend does
func (s *Server) handleLessonComplete(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/lessons/")
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "complete" {
		s.sendError(w, "Not found", http.StatusNotFound)
		return
	}
	lessonID := parts[0]

	var req struct {
		Score *float64 `json:"score"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
			s.sendError(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
	}

	s.mu.Lock()
	done, ok := s.completions[userID]
	if !ok {
		done = make(map[string]completion)
		s.completions[userID] = done
	}
	if prev, seen := done[lessonID]; seen {
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, types.CompletionResult{XPAwarded: 0, ProgressID: &prev.ProgressID})
		return
	}
	s.nextID++
	id := s.nextID
	done[lessonID] = completion{ProgressID: id, Score: req.Score}

	p := s.profileLocked(userID)
	oldLevel := p.Level
	p.XP += s.LessonXP
	p.Level = p.XP/XPPerLevel + 1
	newLevel, totalXP := p.Level, p.XP
	lessons := len(done)
	s.upsertLeaderboardLocked(p)
	s.mu.Unlock()

	s.logger.Info("lesson completed",
		zap.String("user", userID), zap.String("lesson", lessonID), zap.Int("xp", s.LessonXP))

	s.SendTo(userID, types.ChannelProgress, map[string]interface{}{
		"type": types.EventXPGained, "amount": s.LessonXP, "total_xp": totalXP,
	})
	s.SendTo(userID, types.ChannelProgress, map[string]interface{}{
		"type": types.EventLessonCompleted, "lesson_id": lessonID, "xp_gained": s.LessonXP, "lessons_completed": lessons,
	})
	if newLevel > oldLevel {
		s.SendTo(userID, types.ChannelProgress, map[string]interface{}{
			"type": types.EventLevelUp, "new_level": newLevel,
		})
	}
	s.Broadcast(types.ChannelLeaderboard, map[string]interface{}{
		"type": types.EventUserXPUpdated, "user_id": userID, "xp": totalXP, "level": newLevel,
	})

	writeJSON(w, http.StatusCreated, types.CompletionResult{XPAwarded: s.LessonXP, ProgressID: &id})
}

func (s *Server) handleFocusSessions(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodPost:
	case http.MethodGet:
		var mine []FocusSession
		for _, fs := range s.FocusSessions() {
			if fs.UserID == userID {
				mine = append(mine, fs)
			}
		}
		writeJSON(w, http.StatusOK, mine)
		return
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var rec types.FocusSessionRecord
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&rec); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if rec.DurationMinutes <= 0 || rec.Mode == "" {
		s.sendError(w, "duration_minutes and mode are required", http.StatusBadRequest)
		return
	}

	stored := FocusSession{ID: uuid.NewString(), UserID: userID, CreatedAt: time.Now(), FocusSessionRecord: rec}
	s.mu.Lock()
	s.focus = append(s.focus, stored)
	var totalXP int
	if rec.Mode == "focus" && rec.XPEarned > 0 {
		p := s.profileLocked(userID)
		p.XP += rec.XPEarned
		p.Level = p.XP/XPPerLevel + 1
		totalXP = p.XP
		s.upsertLeaderboardLocked(p)
	}
	s.mu.Unlock()

	if totalXP > 0 {
		s.SendTo(userID, types.ChannelProgress, map[string]interface{}{
			"type": types.EventXPGained, "amount": rec.XPEarned, "total_xp": totalXP,
		})
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleTokenRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil || req.Refresh == "" {
		s.sendError(w, "refresh token required", http.StatusBadRequest)
		return
	}
	userID, err := s.verify(req.Refresh, TokenRefresh)
	if err != nil {
		s.sendError(w, "Token is invalid or expired", http.StatusUnauthorized)
		return
	}
	access, err := s.sign(userID, TokenAccess, s.AccessTTL)
	if err != nil {
		s.sendError(w, "Failed to issue token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access": access})
}

// HealthResponse reports socket subscriber counts.
type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Connections map[string]int `json:"connections"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      healthStatusOK,
		Timestamp:   time.Now(),
		Connections: s.hub.stats(),
	})
}

// handleWebSocket serves /ws/{channel}/?token=.
// ARCHITECTURAL DISCOVERY: validate token and channel before upgrading so
// rejected requests get plain HTTP errors
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, pathWebSocketRoot), "/")
	channel := types.Channel(name)
	if !types.IsValidChannel(channel) {
		http.Error(w, "Unknown channel", http.StatusNotFound)
		return
	}
	userID, err := s.verify(r.URL.Query().Get("token"), TokenAccess)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := newSubscriber(conn, userID, channel)
	s.hub.add(sub)
	s.logger.Debug("subscriber connected", zap.String("channel", name), zap.String("user", userID))

	go sub.writeLoop()
	sub.readLoop()

	s.hub.remove(sub)
	sub.close()
	s.logger.Debug("subscriber disconnected", zap.String("channel", name), zap.String("user", userID))
}

func (s *Server) upsertLeaderboardLocked(p *types.Profile) {
	for i := range s.leaderboard {
		if s.leaderboard[i].UserID == p.UserID {
			s.leaderboard[i].XP = p.XP
			s.leaderboard[i].Level = p.Level
			rankLocked(s.leaderboard)
			return
		}
	}
	s.leaderboard = append(s.leaderboard, types.LeaderboardEntry{
		UserID: p.UserID, Username: p.Username, XP: p.XP, Level: p.Level,
	})
	rankLocked(s.leaderboard)
}

func rankLocked(entries []types.LeaderboardEntry) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].XP > entries[j].XP })
	for i := range entries {
		entries[i].Rank = i + 1
	}
}

type authedHandler func(w http.ResponseWriter, r *http.Request, userID string)

// authed requires a valid access token in the Authorization header.
func (s *Server) authed(next authedHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			s.sendError(w, ErrMissingToken.Error(), http.StatusUnauthorized)
			return
		}
		userID, err := s.verify(token, TokenAccess)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, ErrWrongTokenType) {
				status = http.StatusForbidden
			}
			s.sendError(w, "Token is invalid or expired", status)
			return
		}
		if !s.limiter.Allow(userID) {
			s.sendError(w, "Request was throttled", http.StatusTooManyRequests)
			return
		}
		next(w, r, userID)
	})
}

// jsonMiddleware sets the content type for API responses.
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, ErrorResponse{Error: http.StatusText(code), Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
