package twitchapi

import (
	"context"
	"time"

	"github.com/onnwee/live-moderation/moderation"
)

// maxTimeoutSeconds is the longest timeout Helix accepts (two weeks).
const maxTimeoutSeconds = 1209600

const defaultReason = "moderated by stream staff"

// Mirror replays session actions on one Twitch channel. The stream id passed
// by the dispatcher is ignored; callers build a Mirror per session channel.
type Mirror struct {
	Helix         *HelixClient
	BroadcasterID string
	ModeratorID   string
	Reason        string
}

var _ moderation.Mirror = (*Mirror)(nil)

func (m *Mirror) reason() string {
	if m.Reason != "" {
		return m.Reason
	}
	return defaultReason
}

func (m *Mirror) Warn(ctx context.Context, _ string, userID string) error {
	return m.Helix.WarnUser(ctx, m.BroadcasterID, m.ModeratorID, userID, m.reason())
}

func (m *Mirror) Ban(ctx context.Context, _ string, userID string) error {
	return m.Helix.BanUser(ctx, m.BroadcasterID, m.ModeratorID, userID, 0, m.reason())
}

func (m *Mirror) Timeout(ctx context.Context, _ string, userID string, d time.Duration) error {
	secs := int(d / time.Second)
	secs = max(1, min(secs, maxTimeoutSeconds))
	return m.Helix.BanUser(ctx, m.BroadcasterID, m.ModeratorID, userID, secs, m.reason())
}

// ModerateMessage deletes rejected messages. Twitch has no hold queue for
// ordinary chat, so approval needs no call.
func (m *Mirror) ModerateMessage(ctx context.Context, _ string, messageID string, approve bool) error {
	if approve {
		return nil
	}
	return m.Helix.DeleteChatMessage(ctx, m.BroadcasterID, m.ModeratorID, messageID)
}
