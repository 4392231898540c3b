package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/live-moderation/moderation"
)

// Seeder fetches the platform's pending moderation queue for a stream.
type Seeder interface {
	FetchQueue(ctx context.Context, streamID string) ([]moderation.ChatMessage, error)
}

// Factory builds the chat queue of each new session and starts its
// ingesters. Open matches moderation.ManagerConfig.Queue.
type Factory struct {
	Flagger *Flagger
	Seeder  Seeder
	YouTube Poller
	Clock   func() time.Time
	Twitch  TwitchConfig
	TTL     time.Duration
	HoldAll bool
	// SeedTimeout bounds the initial FetchQueue call.
	SeedTimeout time.Duration
}

// Open returns a queue for opts. Ingesters stop when ctx is canceled. A
// failed seed is logged and does not fail the session.
func (f *Factory) Open(ctx context.Context, opts moderation.SessionOptions) (moderation.MessageQueue, error) {
	logger := slog.Default().With(slog.String("component", "chat"), slog.String("stream_id", opts.StreamID))
	q := NewQueue(QueueOptions{Flagger: f.Flagger, Clock: f.Clock, TTL: f.TTL, HoldAll: f.HoldAll})

	if f.Seeder != nil {
		timeout := f.SeedTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		sctx, cancel := context.WithTimeout(ctx, timeout)
		msgs, err := f.Seeder.FetchQueue(sctx, opts.StreamID)
		cancel()
		if err != nil {
			logger.Warn("chat queue seed failed", slog.Any("err", err))
		}
		held := 0
		for _, m := range msgs {
			if q.Add(m) {
				held++
			}
		}
		logger.Info("chat queue seeded", slog.Int("fetched", len(msgs)), slog.Int("held", held))
	}

	if opts.TwitchChannel != "" {
		go func() {
			if err := IngestTwitch(ctx, f.Twitch, opts.TwitchChannel, q); err != nil {
				logger.Error("twitch chat ingest stopped", slog.Any("err", err))
			}
		}()
	}
	if opts.YouTubeLiveChatID != "" && f.YouTube != nil {
		go IngestYouTube(ctx, f.YouTube, opts.YouTubeLiveChatID, q)
	}
	return q, nil
}
