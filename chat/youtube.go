package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/live-moderation/youtubeapi"
)

// minPoll is the floor for the YouTube polling interval.
const minPoll = 2 * time.Second

// Poller lists live chat messages page by page.
type Poller interface {
	PollMessages(ctx context.Context, liveChatID, pageToken string) (youtubeapi.Page, error)
}

// IngestYouTube polls liveChatID into q until ctx is canceled. Errors are
// logged and retried at the last known interval.
func IngestYouTube(ctx context.Context, p Poller, liveChatID string, q *Queue) {
	logger := slog.Default().With(slog.String("component", "chat_youtube"), slog.String("live_chat_id", liveChatID))
	logger.Info("youtube chat ingest started")
	var token string
	wait := minPoll
	for {
		page, err := p.PollMessages(ctx, liveChatID, token)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("youtube chat poll failed", slog.Any("err", err))
		} else {
			for _, m := range page.Messages {
				q.Add(m)
			}
			token = page.NextToken
			wait = max(page.PollAfter, minPoll)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}
