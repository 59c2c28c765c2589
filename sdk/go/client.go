// Package sdk is a typed client for the levelbot HTTP and WebSocket API.
package sdk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"levelbot/core"
	"levelbot/leaderboard"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the levelbot HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// RecordActivity reports one chat activity. It returns the level-up result,
// or nil when the award did not cross a level (or was rejected by cooldowns).
func (c *Client) RecordActivity(ctx context.Context, userID string, activity core.Activity, group string) (*core.LevelUp, error) {
	q := url.Values{}
	q.Set("type", string(activity))
	if group != "" {
		q.Set("group", group)
	}
	resp, err := c.userRequest(ctx, http.MethodPost, userID, "/activity", q)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	var lu core.LevelUp
	if err := decodeJSON(resp, &lu); err != nil {
		return nil, err
	}
	return &lu, nil
}

// GetProfile fetches the stored profile; unknown users yield a default profile.
func (c *Client) GetProfile(ctx context.Context, userID string) (core.Profile, error) {
	var p core.Profile
	err := c.getUserJSON(ctx, userID, "", &p)
	return p, err
}

// GetProgress fetches the user's position within the current level.
func (c *Client) GetProgress(ctx context.Context, userID string) (core.Progress, error) {
	var p core.Progress
	err := c.getUserJSON(ctx, userID, "/progress", &p)
	return p, err
}

// GetRank fetches the user's leaderboard position.
func (c *Client) GetRank(ctx context.Context, userID string) (Rank, error) {
	var r Rank
	err := c.getUserJSON(ctx, userID, "/rank", &r)
	return r, err
}

// GetCard downloads the user's PNG level card.
func (c *Client) GetCard(ctx context.Context, userID string) ([]byte, error) {
	resp, err := c.userRequest(ctx, http.MethodGet, userID, "/card", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, decodeJSON(resp, nil)
	}
	return io.ReadAll(resp.Body)
}

// SetXP overwrites a user's XP and returns the recomputed profile.
func (c *Client) SetXP(ctx context.Context, userID string, xp int64) (core.Profile, error) {
	q := url.Values{}
	q.Set("value", strconv.FormatInt(xp, 10))
	resp, err := c.userRequest(ctx, http.MethodPut, userID, "/xp", q)
	if err != nil {
		return core.Profile{}, err
	}
	defer resp.Body.Close()
	var p core.Profile
	if err := decodeJSON(resp, &p); err != nil {
		return core.Profile{}, err
	}
	return p, nil
}

// GetLeaderboard fetches the top users by XP; limit <= 0 uses the server default.
func (c *Client) GetLeaderboard(ctx context.Context, limit int) ([]leaderboard.Entry, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	resp, err := c.do(ctx, http.MethodGet, "/leaderboard", q)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var entries []leaderboard.Entry
	if err := decodeJSON(resp, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// FixLevels asks the server to recompute every stored level and returns how
// many profiles changed.
func (c *Client) FixLevels(ctx context.Context) (int, error) {
	resp, err := c.do(ctx, http.MethodPost, "/admin/fix-levels", nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	var body struct {
		Fixed int `json:"fixed"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return 0, err
	}
	return body.Fixed, nil
}

// SetGroupFeature toggles a feature flag (e.g. core.FeatureLeveling) for a group.
func (c *Client) SetGroupFeature(ctx context.Context, group, feature string, enabled bool) error {
	q := url.Values{}
	q.Set("enabled", strconv.FormatBool(enabled))
	path := fmt.Sprintf("/groups/%s/features/%s", url.PathEscape(group), url.PathEscape(feature))
	resp, err := c.do(ctx, http.MethodPut, path, q)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, nil)
}

// Health calls /healthz and returns status + storage check.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	resp, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return HealthStatus{}, err
	}
	defer resp.Body.Close()

	var hs HealthStatus
	// 503 still carries a health body
	if resp.StatusCode == http.StatusServiceUnavailable {
		resp.StatusCode = http.StatusOK
	}
	if err := decodeJSON(resp, &hs); err != nil {
		return HealthStatus{}, err
	}
	return hs, nil
}

// SubscribeEvents connects to the WebSocket stream and emits core.Event values.
// An empty userID and no types receive every event.
// The returned channel closes when ctx is done or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context, userID string, types ...core.EventType) (<-chan core.Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if userID != "" {
		q.Set("user", userID)
	}
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		q.Set("types", strings.Join(names, ","))
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), c.headers)
	if err != nil {
		return nil, err
	}

	out := make(chan core.Event, 32)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			var evt core.Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			select {
			case out <- evt:
			default:
				// drop if consumer is slow
			}
		}
	}()
	return out, nil
}

func (c *Client) getUserJSON(ctx context.Context, userID, suffix string, target any) error {
	resp, err := c.userRequest(ctx, http.MethodGet, userID, suffix, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, target)
}

func (c *Client) userRequest(ctx context.Context, method, userID, suffix string, q url.Values) (*http.Response, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrEmptyUserID
	}
	return c.do(ctx, method, "/users/"+url.PathEscape(userID)+suffix, q)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values) (*http.Response, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	c.applyHeaders(req)
	return c.httpClient.Do(req)
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
