package youtubeapi

import (
	"context"
	"time"

	"github.com/onnwee/live-moderation/moderation"
)

// Mirror replays session actions on one YouTube live chat. YouTube has no
// warning endpoint, so warnings report moderation.ErrNotMirrored.
type Mirror struct {
	Service    *Service
	LiveChatID string
}

var _ moderation.Mirror = (*Mirror)(nil)

func (m *Mirror) Warn(context.Context, string, string) error {
	return moderation.ErrNotMirrored
}

func (m *Mirror) Ban(ctx context.Context, _ string, userID string) error {
	return m.Service.Ban(ctx, m.LiveChatID, userID, 0)
}

func (m *Mirror) Timeout(ctx context.Context, _ string, userID string, d time.Duration) error {
	return m.Service.Ban(ctx, m.LiveChatID, userID, d)
}

// ModerateMessage deletes rejected messages; approved ones stay as posted.
func (m *Mirror) ModerateMessage(ctx context.Context, _ string, messageID string, approve bool) error {
	if approve {
		return nil
	}
	return m.Service.DeleteMessage(ctx, messageID)
}
