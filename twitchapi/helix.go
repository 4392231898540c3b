// Package twitchapi contains minimal helpers for the Twitch Helix APIs a
// moderation session needs: user id resolution, bans, timeouts, warnings
// and chat message deletion.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/onnwee/live-moderation/telemetry"
)

const helixBaseURL = "https://api.twitch.tv/helix"

// HelixError is a non-2xx Helix response.
type HelixError struct {
	Op         string
	Message    string
	StatusCode int
}

func (e *HelixError) Error() string {
	return fmt.Sprintf("twitch %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

// HTTPStatus exposes the response status for retry classification.
func (e *HelixError) HTTPStatus() int { return e.StatusCode }

// HelixClient calls Helix with the configured token. Moderation endpoints
// require a user token carrying the moderator:manage:* scopes.
type HelixClient struct {
	Tokens     TokenProvider
	ClientID   string
	BaseURL    string
	HTTPClient *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) base() string {
	if hc.BaseURL != "" {
		return strings.TrimRight(hc.BaseURL, "/")
	}
	return helixBaseURL
}

func (hc *HelixClient) do(ctx context.Context, op, method, path string, q url.Values, body, out any) error {
	if hc.Tokens == nil {
		return fmt.Errorf("twitch %s: no token provider", op)
	}
	tok, err := hc.Tokens.Get(ctx)
	if err != nil {
		return err
	}
	ctx, span := telemetry.StartSpan(ctx, "twitchapi", "helix."+op)
	defer span.End()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	target := hc.base() + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := hc.http().Do(req)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	telemetry.SetSpanHTTPStatus(span, resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &e) != nil || e.Message == "" {
			e.Message = strings.TrimSpace(string(raw))
		}
		herr := &HelixError{Op: op, StatusCode: resp.StatusCode, Message: e.Message}
		telemetry.RecordError(span, herr)
		return herr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ErrUserNotFound is returned by GetUserID when no account has the login.
var ErrUserNotFound = errors.New("twitch user not found")

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := hc.do(ctx, "users", http.MethodGet, "/users", url.Values{"login": {login}}, nil, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("%w: %s", ErrUserNotFound, login)
	}
	return body.Data[0].ID, nil
}

// BanUser bans userID in the broadcaster's chat. A positive duration (in
// seconds) makes it a timeout instead of a permanent ban.
func (hc *HelixClient) BanUser(ctx context.Context, broadcasterID, moderatorID, userID string, duration int, reason string) error {
	payload := map[string]any{"user_id": userID}
	if duration > 0 {
		payload["duration"] = duration
	}
	if reason != "" {
		payload["reason"] = reason
	}
	return hc.do(ctx, "ban", http.MethodPost, "/moderation/bans", modQuery(broadcasterID, moderatorID), map[string]any{"data": payload}, nil)
}

// WarnUser sends a chat warning to userID. Twitch requires a reason.
func (hc *HelixClient) WarnUser(ctx context.Context, broadcasterID, moderatorID, userID, reason string) error {
	body := map[string]any{"data": map[string]string{"user_id": userID, "reason": reason}}
	return hc.do(ctx, "warn", http.MethodPost, "/moderation/warnings", modQuery(broadcasterID, moderatorID), body, nil)
}

// DeleteChatMessage removes a single chat message.
func (hc *HelixClient) DeleteChatMessage(ctx context.Context, broadcasterID, moderatorID, messageID string) error {
	q := modQuery(broadcasterID, moderatorID)
	q.Set("message_id", messageID)
	return hc.do(ctx, "delete_message", http.MethodDelete, "/moderation/chat", q, nil, nil)
}

func modQuery(broadcasterID, moderatorID string) url.Values {
	return url.Values{"broadcaster_id": {broadcasterID}, "moderator_id": {moderatorID}}
}
