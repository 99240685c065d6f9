// Package meeting is the read-only client for the hosted meeting provider:
// live participants, past session instances, and per-session participants.
// Both fetch paths authenticate with a short-lived bearer token obtained via
// a client-credentials exchange and cached on the client.
package meeting

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ewhitmore/vigil/internal/model"
)

// DefaultMinLiveInterval is the minimum spacing between live-participant
// polls. Bursts risk provider throttling, so a faster call degrades to a
// skipped poll.
const DefaultMinLiveInterval = 2 * time.Second

// Config holds meeting provider configuration.
type Config struct {
	BaseURL      string
	AuthURL      string
	AccountID    string
	ClientID     string
	ClientSecret string
	MeetingID    string
}

// Client queries the meeting provider. Safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time

	liveMu          sync.Mutex
	lastLivePoll    time.Time
	minLiveInterval time.Duration
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpClient = h
	}
}

func WithMinLiveInterval(d time.Duration) Option {
	return func(c *Client) {
		c.minLiveInterval = d
	}
}

func NewClient(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		cfg:             cfg,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		logger:          logger,
		minLiveInterval: DefaultMinLiveInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if provider credentials are set.
func (c *Client) Configured() bool {
	return c.cfg.AccountID != "" && c.cfg.ClientID != "" && c.cfg.ClientSecret != "" && c.cfg.MeetingID != ""
}

type participantPayload struct {
	Participants []struct {
		Email     string `json:"email"`
		JoinTime  string `json:"join_time"`
		LeaveTime string `json:"leave_time"`
	} `json:"participants"`
}

type sessionPayload struct {
	Sessions []struct {
		SessionID string `json:"session_id"`
		StartTime string `json:"start_time"`
	} `json:"sessions"`
}

// FetchLiveParticipants returns who is in the meeting right now. An empty
// list with no error is the expected common case: no session is active.
func (c *Client) FetchLiveParticipants(ctx context.Context) ([]model.ParticipantEvent, error) {
	c.liveMu.Lock()
	if since := time.Since(c.lastLivePoll); since < c.minLiveInterval {
		c.liveMu.Unlock()
		return nil, ErrTooSoon
	}
	c.lastLivePoll = time.Now()
	c.liveMu.Unlock()

	path := fmt.Sprintf("/meetings/%s/participants/live", url.PathEscape(c.cfg.MeetingID))
	body, status, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	// The provider reports no live session as 404; that is not a failure.
	if status == http.StatusNotFound {
		return nil, nil
	}

	var payload participantPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode live participants: %w", err)
	}
	return c.normalizeParticipants(payload), nil
}

// FetchRecentSessions returns concluded session instances within the
// trailing lookback window, catching sessions the live poller missed.
func (c *Client) FetchRecentSessions(ctx context.Context, lookbackDays int) ([]model.MeetingSession, error) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -lookbackDays)
	path := fmt.Sprintf(
		"/meetings/%s/instances?from=%s&to=%s",
		url.PathEscape(c.cfg.MeetingID),
		from.Format("2006-01-02"), now.Format("2006-01-02"),
	)

	body, status, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}

	var payload sessionPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}

	var sessions []model.MeetingSession
	for _, s := range payload.Sessions {
		start, err := time.Parse(time.RFC3339, s.StartTime)
		if err != nil {
			c.logger.Warn("skipping session with bad start time", "session_id", s.SessionID, "start_time", s.StartTime)
			continue
		}
		sessions = append(sessions, model.MeetingSession{SessionID: s.SessionID, StartTime: start})
	}
	return sessions, nil
}

// FetchSessionParticipants returns the participant roster of one concluded
// session instance.
func (c *Client) FetchSessionParticipants(ctx context.Context, sessionID string) ([]model.ParticipantEvent, error) {
	path := fmt.Sprintf("/sessions/%s/participants", url.PathEscape(sessionID))
	body, status, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}

	var payload participantPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode session participants: %w", err)
	}
	return c.normalizeParticipants(payload), nil
}

func (c *Client) normalizeParticipants(payload participantPayload) []model.ParticipantEvent {
	var events []model.ParticipantEvent
	for _, p := range payload.Participants {
		if p.Email == "" {
			continue
		}
		join, err := time.Parse(time.RFC3339, p.JoinTime)
		if err != nil {
			c.logger.Warn("skipping participant with bad join time", "identity", p.Email, "join_time", p.JoinTime)
			continue
		}
		ev := model.ParticipantEvent{Identity: p.Email, JoinTime: join}
		if p.LeaveTime != "" {
			if leave, err := time.Parse(time.RFC3339, p.LeaveTime); err == nil {
				ev.LeaveTime = &leave
			}
		}
		events = append(events, ev)
	}
	return events
}

// get performs an authenticated GET. On a 401 it refreshes the token and
// retries once; a second 401 surfaces as ErrProviderAuth. A 429 surfaces as
// ErrRateLimited. A 404 is returned to the caller (status, no error) since
// several endpoints use it for "nothing there".
func (c *Client) get(ctx context.Context, path string) ([]byte, int, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return nil, 0, err
	}

	body, status, err := c.doOnce(ctx, path, tok)
	if err != nil {
		return nil, 0, err
	}
	if status == http.StatusUnauthorized {
		tok, err = c.forceRefresh(ctx, tok)
		if err != nil {
			return nil, 0, err
		}
		body, status, err = c.doOnce(ctx, path, tok)
		if err != nil {
			return nil, 0, err
		}
		if status == http.StatusUnauthorized {
			return nil, 0, fmt.Errorf("%w: still unauthorized after refresh", ErrProviderAuth)
		}
	}

	switch {
	case status == http.StatusTooManyRequests:
		return nil, 0, ErrRateLimited
	case status == http.StatusNotFound:
		return nil, status, nil
	case status >= 400:
		return nil, 0, fmt.Errorf("provider returned %d for %s", status, path)
	}
	return body, status, nil
}

func (c *Client) doOnce(ctx context.Context, path, token string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	var buf []byte
	if resp.StatusCode < 400 {
		buf, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, 0, fmt.Errorf("read response: %w", err)
		}
	}
	return buf, resp.StatusCode, nil
}
