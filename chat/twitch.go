package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/live-moderation/moderation"
)

// TwitchConfig holds the IRC bot credentials. Without them the ingester
// joins anonymously, which is enough to read chat.
type TwitchConfig struct {
	Username string
	OAuth    string
}

// ircClient is the subset of *twitch.Client the ingester uses.
type ircClient interface {
	OnPrivateMessage(func(twitch.PrivateMessage))
	OnClearMessage(func(twitch.ClearMessage))
	OnClearChatMessage(func(twitch.ClearChatMessage))
	Join(channels ...string)
	Connect() error
	Disconnect() error
}

func (c TwitchConfig) client() ircClient {
	if c.Username == "" || c.OAuth == "" {
		return twitch.NewAnonymousClient()
	}
	tok := c.OAuth
	if !strings.HasPrefix(tok, "oauth:") {
		tok = "oauth:" + tok
	}
	return twitch.NewClient(c.Username, tok)
}

// fromPrivateMessage converts an IRC chat line to a queue message.
func fromPrivateMessage(msg twitch.PrivateMessage) moderation.ChatMessage {
	return moderation.ChatMessage{
		ID:         msg.ID,
		UserID:     msg.User.ID,
		Text:       msg.Message,
		ReceivedAt: msg.Time.UTC(),
	}
}

// IngestTwitch feeds channel's chat into q until ctx is canceled.
func IngestTwitch(ctx context.Context, cfg TwitchConfig, channel string, q *Queue) error {
	return ingestTwitch(ctx, cfg.client(), channel, q)
}

func ingestTwitch(ctx context.Context, client ircClient, channel string, q *Queue) error {
	channel = strings.TrimPrefix(strings.ToLower(channel), "#")
	if channel == "" {
		return errors.New("twitch channel empty")
	}
	logger := slog.Default().With(slog.String("component", "chat_twitch"), slog.String("channel", channel))

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		if q.Add(fromPrivateMessage(msg)) {
			logger.Debug("message held", slog.String("message_id", msg.ID), slog.String("user", msg.User.Name))
		}
	})
	// Messages removed by other moderators no longer need a decision.
	client.OnClearMessage(func(msg twitch.ClearMessage) {
		q.Drop(msg.TargetMsgID)
	})
	client.OnClearChatMessage(func(msg twitch.ClearChatMessage) {
		if msg.TargetUserID != "" {
			q.DropUser(msg.TargetUserID)
		}
	})

	// Handle context cancellation by closing the client
	go func() {
		<-ctx.Done()
		if err := client.Disconnect(); err != nil {
			logger.Debug("twitch disconnect", slog.Any("err", err))
		}
	}()

	client.Join(channel)
	logger.Info("twitch chat ingest started")
	err := client.Connect()
	if errors.Is(err, twitch.ErrClientDisconnected) || ctx.Err() != nil {
		return nil
	}
	return err
}
