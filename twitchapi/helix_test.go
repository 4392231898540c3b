package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
	Auth   string
}

// helixServer records every request and replies with status/response.
func helixServer(t *testing.T, status int, response any) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recordedRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Client-Id") != "test-client-id" {
			t.Errorf("missing or wrong Client-Id header")
		}
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(b), Auth: r.Header.Get("Authorization")})
		mu.Unlock()
		w.WriteHeader(status)
		if response != nil {
			json.NewEncoder(w).Encode(response)
		}
	}))
	t.Cleanup(server.Close)
	return server, &reqs
}

func testClient(server *httptest.Server) *HelixClient {
	return &HelixClient{
		Tokens:   StaticToken("user-token"),
		ClientID: "test-client-id",
		HTTPClient: &http.Client{
			Transport: &rewriteTransport{
				Transport: http.DefaultTransport,
				host:      server.URL,
			},
		},
	}
}

func TestHelixClient_GetUserID(t *testing.T) {
	tests := []struct {
		response    any
		name        string
		login       string
		wantUserID  string
		errContains string
		statusCode  int
		wantErr     bool
	}{
		{
			name:  "successful user lookup",
			login: "testuser",
			response: map[string]any{
				"data": []map[string]string{{"id": "12345", "login": "testuser"}},
			},
			statusCode: http.StatusOK,
			wantUserID: "12345",
		},
		{
			name:        "user not found",
			login:       "nonexistent",
			response:    map[string]any{"data": []map[string]string{}},
			statusCode:  http.StatusOK,
			wantErr:     true,
			errContains: "user not found",
		},
		{
			name:        "empty login",
			login:       "",
			statusCode:  http.StatusOK,
			wantErr:     true,
			errContains: "login empty",
		},
		{
			name:        "unauthorized",
			login:       "testuser",
			response:    map[string]any{"message": "Invalid OAuth token"},
			statusCode:  http.StatusUnauthorized,
			wantErr:     true,
			errContains: "Invalid OAuth token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, reqs := helixServer(t, tt.statusCode, tt.response)
			hc := testClient(server)

			userID, err := hc.GetUserID(context.Background(), tt.login)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetUserID() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("GetUserID() error = %v, want error containing %q", err, tt.errContains)
				}
				return
			}
			if userID != tt.wantUserID {
				t.Errorf("GetUserID() = %v, want %v", userID, tt.wantUserID)
			}
			got := (*reqs)[0]
			if got.Path != "/helix/users" || got.Query != "login=testuser" {
				t.Errorf("request = %s?%s", got.Path, got.Query)
			}
			if got.Auth != "Bearer user-token" {
				t.Errorf("Authorization = %q", got.Auth)
			}
		})
	}
}

func TestHelixClient_BanUser(t *testing.T) {
	server, reqs := helixServer(t, http.StatusOK, map[string]any{"data": []any{}})
	hc := testClient(server)

	if err := hc.BanUser(context.Background(), "b1", "m1", "u1", 600, "spam"); err != nil {
		t.Fatalf("BanUser() error = %v", err)
	}
	got := (*reqs)[0]
	if got.Method != http.MethodPost || got.Path != "/helix/moderation/bans" {
		t.Errorf("request = %s %s", got.Method, got.Path)
	}
	if got.Query != "broadcaster_id=b1&moderator_id=m1" {
		t.Errorf("query = %q", got.Query)
	}
	var body struct {
		Data struct {
			UserID   string `json:"user_id"`
			Reason   string `json:"reason"`
			Duration int    `json:"duration"`
		} `json:"data"`
	}
	if err := json.Unmarshal([]byte(got.Body), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Data.UserID != "u1" || body.Data.Duration != 600 || body.Data.Reason != "spam" {
		t.Errorf("body = %+v", body.Data)
	}
}

func TestHelixClient_BanUserPermanentOmitsDuration(t *testing.T) {
	server, reqs := helixServer(t, http.StatusOK, nil)
	hc := testClient(server)

	if err := hc.BanUser(context.Background(), "b1", "m1", "u1", 0, ""); err != nil {
		t.Fatalf("BanUser() error = %v", err)
	}
	if body := (*reqs)[0].Body; strings.Contains(body, "duration") || strings.Contains(body, "reason") {
		t.Errorf("permanent ban body = %s", body)
	}
}

func TestHelixClient_WarnUser(t *testing.T) {
	server, reqs := helixServer(t, http.StatusOK, nil)
	hc := testClient(server)

	if err := hc.WarnUser(context.Background(), "b1", "m1", "u2", "be nice"); err != nil {
		t.Fatalf("WarnUser() error = %v", err)
	}
	got := (*reqs)[0]
	if got.Path != "/helix/moderation/warnings" {
		t.Errorf("path = %s", got.Path)
	}
	if !strings.Contains(got.Body, `"user_id":"u2"`) || !strings.Contains(got.Body, `"reason":"be nice"`) {
		t.Errorf("body = %s", got.Body)
	}
}

func TestHelixClient_DeleteChatMessage(t *testing.T) {
	server, reqs := helixServer(t, http.StatusNoContent, nil)
	hc := testClient(server)

	if err := hc.DeleteChatMessage(context.Background(), "b1", "m1", "msg-9"); err != nil {
		t.Fatalf("DeleteChatMessage() error = %v", err)
	}
	got := (*reqs)[0]
	if got.Method != http.MethodDelete || got.Path != "/helix/moderation/chat" {
		t.Errorf("request = %s %s", got.Method, got.Path)
	}
	if !strings.Contains(got.Query, "message_id=msg-9") {
		t.Errorf("query = %q", got.Query)
	}
}

func TestHelixClient_RateLimitedErrorCarriesStatus(t *testing.T) {
	server, _ := helixServer(t, http.StatusTooManyRequests, map[string]any{"message": "too many requests"})
	hc := testClient(server)

	err := hc.BanUser(context.Background(), "b1", "m1", "u1", 0, "")
	var herr *HelixError
	if !errors.As(err, &herr) {
		t.Fatalf("error = %v, want *HelixError", err)
	}
	if herr.HTTPStatus() != http.StatusTooManyRequests || herr.Message != "too many requests" {
		t.Errorf("HelixError = %+v", herr)
	}
}

func TestHelixClient_NoTokenProvider(t *testing.T) {
	hc := &HelixClient{ClientID: "test-client-id"}
	if err := hc.WarnUser(context.Background(), "b", "m", "u", "r"); err == nil {
		t.Fatal("expected error without token provider")
	}
}

func TestMirror_MapsActionsToHelix(t *testing.T) {
	server, reqs := helixServer(t, http.StatusOK, nil)
	m := &Mirror{Helix: testClient(server), BroadcasterID: "b1", ModeratorID: "m1"}
	ctx := context.Background()

	if err := m.Warn(ctx, "stream", "u1"); err != nil {
		t.Fatal(err)
	}
	if err := m.Ban(ctx, "stream", "u2"); err != nil {
		t.Fatal(err)
	}
	if err := m.Timeout(ctx, "stream", "u3", 30*24*time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := m.Timeout(ctx, "stream", "u4", 100*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := m.ModerateMessage(ctx, "stream", "msg-1", true); err != nil {
		t.Fatal(err)
	}
	if err := m.ModerateMessage(ctx, "stream", "msg-2", false); err != nil {
		t.Fatal(err)
	}

	got := *reqs
	if len(got) != 5 {
		t.Fatalf("requests = %d, want 5 (approve makes no call)", len(got))
	}
	wantPaths := []string{"/helix/moderation/warnings", "/helix/moderation/bans", "/helix/moderation/bans", "/helix/moderation/bans", "/helix/moderation/chat"}
	for i, p := range wantPaths {
		if got[i].Path != p {
			t.Errorf("request %d path = %s, want %s", i, got[i].Path, p)
		}
	}
	if !strings.Contains(got[0].Body, defaultReason) {
		t.Errorf("warning body missing default reason: %s", got[0].Body)
	}
	if !strings.Contains(got[2].Body, `"duration":1209600`) {
		t.Errorf("long timeout not clamped: %s", got[2].Body)
	}
	if !strings.Contains(got[3].Body, `"duration":1`) {
		t.Errorf("short timeout not raised to 1s: %s", got[3].Body)
	}
	if !strings.Contains(got[4].Query, "message_id=msg-2") {
		t.Errorf("delete query = %s", got[4].Query)
	}
}

// rewriteTransport rewrites all requests to use the test server
type rewriteTransport struct {
	Transport http.RoundTripper
	host      string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Rewrite URL to point to test server
	req.URL.Scheme = "http"
	if t.host != "" {
		host := t.host
		host = strings.TrimPrefix(host, "http://")
		host = strings.TrimPrefix(host, "https://")
		req.URL.Host = host
	}
	return t.Transport.RoundTrip(req)
}
