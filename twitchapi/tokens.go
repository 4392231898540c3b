package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const defaultTokenURL = "https://id.twitch.tv/oauth2/token"

// TokenProvider yields a bearer token for Helix requests.
type TokenProvider interface {
	Get(ctx context.Context) (string, error)
}

// StaticToken is a fixed user access token, e.g. from TWITCH_USER_TOKEN.
type StaticToken string

func (s StaticToken) Get(context.Context) (string, error) {
	if s == "" {
		return "", errors.New("twitch user token empty")
	}
	return string(s), nil
}

type tokenResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	Scope        []string `json:"scope"`
	ExpiresIn    int      `json:"expires_in"`
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}

func requestToken(ctx context.Context, hc *http.Client, tokenURL string, form url.Values) (*tokenResponse, error) {
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, &HelixError{Op: form.Get("grant_type"), StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	}
	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, err
	}
	if tr.AccessToken == "" {
		return nil, errors.New("empty access_token in twitch response")
	}
	return &tr, nil
}

// TokenSource fetches and caches a Twitch app access (client credentials) token.
// App tokens can resolve users but cannot moderate; moderation endpoints
// need a moderator's user token (see UserTokenSource).
type TokenSource struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	HTTPClient   *http.Client

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// Get returns a valid (fresh or cached) app access token.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	ts.mu.RLock()
	if ts.token != "" && time.Until(ts.expiresAt) > 60*time.Second { // 1 min buffer
		tok := ts.token
		ts.mu.RUnlock()
		return tok, nil
	}
	ts.mu.RUnlock()

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.token != "" && time.Until(ts.expiresAt) > 60*time.Second {
		return ts.token, nil
	}
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", errors.New("missing client id/secret for twitch app token")
	}
	form := url.Values{}
	form.Set("client_id", ts.ClientID)
	form.Set("client_secret", ts.ClientSecret)
	form.Set("grant_type", "client_credentials")
	tr, err := requestToken(ctx, ts.HTTPClient, ts.TokenURL, form)
	if err != nil {
		return "", fmt.Errorf("twitch app token: %w", err)
	}
	ts.token = tr.AccessToken
	ts.expiresAt = ComputeExpiry(tr.ExpiresIn)
	return ts.token, nil
}

// UserTokenSource keeps a moderator user token fresh using its refresh token.
type UserTokenSource struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	HTTPClient   *http.Client

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

// NewUserTokenSource seeds the source with a known access token. A zero
// expiry forces a refresh on first use when a refresh token is present.
func NewUserTokenSource(clientID, clientSecret, accessToken, refreshToken string, expiresAt time.Time) *UserTokenSource {
	return &UserTokenSource{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		accessToken:  accessToken,
		refreshToken: refreshToken,
		expiresAt:    expiresAt,
	}
}

// Get returns the user token, refreshing it shortly before expiry.
func (u *UserTokenSource) Get(ctx context.Context) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.accessToken != "" && (u.refreshToken == "" || time.Until(u.expiresAt) > 2*time.Minute) {
		return u.accessToken, nil
	}
	if u.refreshToken == "" || u.ClientID == "" || u.ClientSecret == "" {
		return "", errors.New("missing clientID/clientSecret/refreshToken")
	}
	form := url.Values{}
	form.Set("client_id", u.ClientID)
	form.Set("client_secret", u.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", u.refreshToken)
	tr, err := requestToken(ctx, u.HTTPClient, u.TokenURL, form)
	if err != nil {
		return "", fmt.Errorf("twitch refresh: %w", err)
	}
	u.accessToken = tr.AccessToken
	if tr.RefreshToken != "" {
		u.refreshToken = tr.RefreshToken
	}
	u.expiresAt = ComputeExpiry(tr.ExpiresIn)
	slog.Info("twitch user token refreshed", slog.Time("expires_at", u.expiresAt), slog.String("component", "twitch_token"))
	return u.accessToken, nil
}
