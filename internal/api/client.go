package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"learnsync/pkg/interfaces"
	"learnsync/pkg/types"
)

// REST paths relative to the API base URL.
const (
	PathProfile       = "/api/auth/profile/"
	PathTokenRefresh  = "/api/auth/token/refresh/"
	PathEnrollments   = "/api/enrollments/"
	PathLeaderboard   = "/api/leaderboard/"
	PathFocusSessions = "/api/focus-sessions/"
	pathLessons       = "/api/lessons/"
)

// MaxResponseBytes is the largest response body the client accepts.
const MaxResponseBytes = 4 << 20

// LessonCompletePath returns the completion endpoint for a lesson.
func LessonCompletePath(lessonID string) string {
	return pathLessons + url.PathEscape(lessonID) + "/complete/"
}

// Client talks to the REST backend. It is safe for concurrent use.
// ARCHITECTURAL DISCOVERY: HTTP layer is pure transport and JSON mapping,
// no reconciliation logic lives here
type Client struct {
	baseURL string
	http    *http.Client
	tokens  interfaces.TokenProvider
	logger  *zap.Logger

	// maxBody caps a response body; larger bodies fail with ErrResponseTooLarge
	maxBody int64
}

var (
	_ interfaces.ProgressAPI   = (*Client)(nil)
	_ interfaces.CompletionAPI = (*Client)(nil)
	_ interfaces.FocusAPI      = (*Client)(nil)
)

// NewClient creates a REST client. tokens may be set later with
// SetTokenProvider, since the token source itself refreshes through this client.
func NewClient(baseURL string, timeout time.Duration, tokens interfaces.TokenProvider, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		logger:  logger.Named("api"),
		maxBody: MaxResponseBytes,
	}
}

// SetTokenProvider sets the credential source for authenticated calls.
func (c *Client) SetTokenProvider(tokens interfaces.TokenProvider) {
	c.tokens = tokens
}

// GetProfile fetches the current user profile.
func (c *Client) GetProfile(ctx context.Context) (*types.Profile, error) {
	var profile types.Profile
	if err := c.do(ctx, http.MethodGet, PathProfile, nil, &profile, true); err != nil {
		return nil, err
	}
	return &profile, nil
}

// GetEnrollments fetches per-course progress. Both bare arrays and paginated
// {"results": [...]} bodies are accepted.
func (c *Client) GetEnrollments(ctx context.Context) ([]types.Enrollment, error) {
	var enrollments []types.Enrollment
	if err := c.getList(ctx, PathEnrollments, &enrollments); err != nil {
		return nil, err
	}
	return enrollments, nil
}

// GetLeaderboard fetches leaderboard rows.
func (c *Client) GetLeaderboard(ctx context.Context) ([]types.LeaderboardEntry, error) {
	var entries []types.LeaderboardEntry
	if err := c.getList(ctx, PathLeaderboard, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// CompleteLesson records a lesson completion and returns the awarded XP.
func (c *Client) CompleteLesson(ctx context.Context, lessonID string, score *float64) (*types.CompletionResult, error) {
	if lessonID == "" {
		return nil, ErrEmptyLessonID
	}
	body := map[string]interface{}{}
	if score != nil {
		body["score"] = *score
	}
	var result types.CompletionResult
	if err := c.do(ctx, http.MethodPost, LessonCompletePath(lessonID), body, &result, true); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateFocusSession records a finished focus session.
func (c *Client) CreateFocusSession(ctx context.Context, record types.FocusSessionRecord) error {
	return c.do(ctx, http.MethodPost, PathFocusSessions, record, nil, true)
}

// RefreshAccessToken exchanges a refresh token for a new access token. The
// call itself is unauthenticated.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	var out struct {
		Access string `json:"access"`
	}
	body := map[string]string{"refresh": refreshToken}
	if err := c.do(ctx, http.MethodPost, PathTokenRefresh, body, &out, false); err != nil {
		return "", err
	}
	if out.Access == "" {
		return "", fmt.Errorf("%w: missing access token", ErrUnexpectedShape)
	}
	return out.Access, nil
}

func (c *Client) getList(ctx context.Context, path string, out interface{}) error {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw, true); err != nil {
		return err
	}
	list := gjson.ParseBytes(raw)
	if list.IsObject() {
		list = list.Get("results")
	}
	if !list.IsArray() {
		return fmt.Errorf("%w: %s is not a list", ErrUnexpectedShape, path)
	}
	if err := json.Unmarshal([]byte(list.Raw), out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}, authed bool) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if authed {
		if c.tokens == nil {
			return interfaces.ErrUnauthorized
		}
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", interfaces.ErrUnauthorized, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(data)) > c.maxBody {
		return fmt.Errorf("%s %s: %w: over %d bytes", method, path, ErrResponseTooLarge, c.maxBody)
	}

	c.logger.Debug("api request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := &HTTPError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return fmt.Errorf("%w: %w", interfaces.ErrUnauthorized, httpErr)
		}
		return httpErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// IsHTTPStatus reports whether err carries an HTTPError with the given status.
func IsHTTPStatus(err error, status int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == status
}
