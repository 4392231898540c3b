// Package mirror forwards moderation actions to external systems: the
// platform moderation API, optional fan-out to several mirrors, and a NATS
// event stream.
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/onnwee/live-moderation/moderation"
	"github.com/onnwee/live-moderation/telemetry"
)

// Config configures the platform moderation API client.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
	Timeout      time.Duration
}

// Client calls the platform moderation API on behalf of live stream sessions.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a client authenticated with OAuth2 client credentials
// when a client id is configured.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("moderation api base url empty")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("moderation api base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hc := &http.Client{Timeout: timeout}
	if cfg.ClientID != "" {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		// token requests share the client timeout
		hc = cc.Client(context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: timeout}))
		hc.Timeout = timeout
	}
	return &Client{BaseURL: strings.TrimRight(cfg.BaseURL, "/"), HTTPClient: hc}, nil
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) streamURL(streamID string, parts ...string) string {
	u := c.BaseURL + "/live-streams/" + url.PathEscape(streamID)
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u
}

// do sends body as JSON and decodes a JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, op, method, target string, body, out any) error {
	ctx, span := telemetry.StartSpan(ctx, "mirror", op, telemetry.HTTPMethodAttr(method), telemetry.HTTPURLAttr(target))
	defer span.End()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if corr := telemetry.GetCorrelation(ctx); corr != "" {
		req.Header.Set("X-Correlation-ID", corr)
	}
	resp, err := c.http().Do(req)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	telemetry.SetSpanHTTPStatus(span, resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		telemetry.RecordError(span, apiErr)
		return apiErr
	}
	telemetry.SetSpanSuccess(span)
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

type userBody struct {
	UserID string `json:"userId"`
}

// Warn issues a warning to userID on the stream.
func (c *Client) Warn(ctx context.Context, streamID, userID string) error {
	return c.do(ctx, "warn", http.MethodPost, c.streamURL(streamID, "warnings"), userBody{UserID: userID}, nil)
}

// Ban bans userID from the stream.
func (c *Client) Ban(ctx context.Context, streamID, userID string) error {
	return c.do(ctx, "ban", http.MethodPost, c.streamURL(streamID, "bans"), userBody{UserID: userID}, nil)
}

// Timeout times userID out for d, rounded down to whole seconds.
func (c *Client) Timeout(ctx context.Context, streamID, userID string, d time.Duration) error {
	body := struct {
		UserID          string `json:"userId"`
		DurationSeconds int64  `json:"durationSeconds"`
	}{UserID: userID, DurationSeconds: int64(d / time.Second)}
	return c.do(ctx, "timeout", http.MethodPost, c.streamURL(streamID, "timeouts"), body, nil)
}

// ModerateMessage approves or rejects a queued chat message.
func (c *Client) ModerateMessage(ctx context.Context, streamID, messageID string, approve bool) error {
	action := "reject"
	if approve {
		action = "approve"
	}
	body := struct {
		Action string `json:"action"`
	}{Action: action}
	return c.do(ctx, "moderate_message", http.MethodPost, c.streamURL(streamID, "chat", messageID, "moderate"), body, nil)
}

// FetchQueue returns the messages the platform holds for review.
func (c *Client) FetchQueue(ctx context.Context, streamID string) ([]moderation.ChatMessage, error) {
	var body struct {
		Messages []struct {
			ID        string    `json:"id"`
			UserID    string    `json:"userId"`
			Text      string    `json:"text"`
			CreatedAt time.Time `json:"createdAt"`
		} `json:"messages"`
	}
	if err := c.do(ctx, "fetch_queue", http.MethodGet, c.streamURL(streamID, "chat", "queue"), nil, &body); err != nil {
		return nil, err
	}
	out := make([]moderation.ChatMessage, 0, len(body.Messages))
	for _, m := range body.Messages {
		out = append(out, moderation.ChatMessage{ID: m.ID, UserID: m.UserID, Text: m.Text, ReceivedAt: m.CreatedAt})
	}
	return out, nil
}

var _ moderation.Mirror = (*Client)(nil)
