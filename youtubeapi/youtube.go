// Package youtubeapi wraps Google OAuth2 and the YouTube Data API for live
// chat moderation: temporary and permanent bans, message deletion and
// polling a live chat for the moderation queue.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/live-moderation/moderation"
)

const defaultScope = "https://www.googleapis.com/auth/youtube.force-ssl"

// Config holds the OAuth client and the channel owner's refresh token.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	// Scopes is comma or space separated.
	Scopes string
}

// Service is an authenticated YouTube Data API client.
type Service struct {
	api *yt.Service
}

// New builds a Service that refreshes access tokens from cfg.RefreshToken.
func New(ctx context.Context, cfg Config) (*Service, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, errors.New("youtube client id, secret and refresh token are required")
	}
	scopes := []string{defaultScope}
	if f := strings.Fields(strings.ReplaceAll(cfg.Scopes, ",", " ")); len(f) > 0 {
		scopes = f
	}
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       scopes,
	}
	ts := oauth2.ReuseTokenSource(nil, oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken}))
	return NewWithOptions(ctx, option.WithTokenSource(ts))
}

// NewWithOptions builds a Service from raw client options, e.g. a custom
// endpoint and HTTP client in tests.
func NewWithOptions(ctx context.Context, opts ...option.ClientOption) (*Service, error) {
	api, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	return &Service{api: api}, nil
}

// Ban bans channelID from a live chat. A zero duration is permanent.
func (s *Service) Ban(ctx context.Context, liveChatID, channelID string, d time.Duration) error {
	snip := &yt.LiveChatBanSnippet{
		LiveChatId:        liveChatID,
		Type:              "permanent",
		BannedUserDetails: &yt.ChannelProfileDetails{ChannelId: channelID},
	}
	if d > 0 {
		snip.Type = "temporary"
		snip.BanDurationSeconds = uint64(max(d/time.Second, 1))
	}
	_, err := s.api.LiveChatBans.Insert([]string{"snippet"}, &yt.LiveChatBan{Snippet: snip}).Context(ctx).Do()
	return wrap("ban", err)
}

// DeleteMessage removes a live chat message.
func (s *Service) DeleteMessage(ctx context.Context, messageID string) error {
	return wrap("delete message", s.api.LiveChatMessages.Delete(messageID).Context(ctx).Do())
}

// Page is one poll of a live chat.
type Page struct {
	Messages  []moderation.ChatMessage
	NextToken string
	// PollAfter is the server-requested delay before the next poll.
	PollAfter time.Duration
}

// PollMessages lists live chat messages after pageToken.
func (s *Service) PollMessages(ctx context.Context, liveChatID, pageToken string) (Page, error) {
	call := s.api.LiveChatMessages.List(liveChatID, []string{"snippet", "authorDetails"}).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Do()
	if err != nil {
		return Page{}, wrap("list messages", err)
	}
	p := Page{
		NextToken: res.NextPageToken,
		PollAfter: time.Duration(res.PollingIntervalMillis) * time.Millisecond,
		Messages:  make([]moderation.ChatMessage, 0, len(res.Items)),
	}
	for _, it := range res.Items {
		if it.Snippet == nil {
			continue
		}
		m := moderation.ChatMessage{ID: it.Id, Text: it.Snippet.DisplayMessage, UserID: it.Snippet.AuthorChannelId}
		if it.AuthorDetails != nil && it.AuthorDetails.ChannelId != "" {
			m.UserID = it.AuthorDetails.ChannelId
		}
		if ts, err := time.Parse(time.RFC3339, it.Snippet.PublishedAt); err == nil {
			m.ReceivedAt = ts
		}
		p.Messages = append(p.Messages, m)
	}
	return p, nil
}

// apiError keeps the HTTP status of a googleapi error visible to retry
// classification.
type apiError struct {
	err  error
	op   string
	code int
}

func (e *apiError) Error() string   { return "youtube " + e.op + ": " + e.err.Error() }
func (e *apiError) Unwrap() error   { return e.err }
func (e *apiError) HTTPStatus() int { return e.code }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	e := &apiError{op: op, err: err}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		e.code = gerr.Code
	}
	return e
}
