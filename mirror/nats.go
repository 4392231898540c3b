package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix is the root of every moderation event subject.
const SubjectPrefix = "moderation"

// Event is the payload published for each mirrored action.
type Event struct {
	At              time.Time `json:"at"`
	StreamID        string    `json:"streamId"`
	Type            string    `json:"type"`
	UserID          string    `json:"userId,omitempty"`
	MessageID       string    `json:"messageId,omitempty"`
	DurationSeconds int64     `json:"durationSeconds,omitempty"`
}

// Subject returns moderation.<streamID>.<type>.
func Subject(streamID, typ string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, streamID, typ)
}

type publisher interface {
	Publish(subj string, data []byte) error
}

// Publisher emits moderation events on NATS so other services can follow a
// stream's moderation activity.
type Publisher struct {
	conn publisher
	now  func() time.Time
}

// NewPublisher wraps an established NATS connection.
func NewPublisher(nc *nats.Conn) *Publisher {
	return &Publisher{conn: nc, now: time.Now}
}

// ConnectPublisher dials url and returns a publisher and a close func.
func ConnectPublisher(url string) (*Publisher, func(), error) {
	nc, err := nats.Connect(url,
		nats.Name("live-moderation"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", slog.Any("err", err), slog.String("component", "nats"))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", slog.String("url", c.ConnectedUrl()), slog.String("component", "nats"))
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	return NewPublisher(nc), func() {
		if err := nc.Drain(); err != nil {
			slog.Warn("nats drain failed", slog.Any("err", err))
		}
	}, nil
}

func (p *Publisher) publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ev.At = p.now().UTC()
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.conn.Publish(Subject(ev.StreamID, ev.Type), b); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}
	return nil
}

func (p *Publisher) Warn(ctx context.Context, streamID, userID string) error {
	return p.publish(ctx, Event{StreamID: streamID, Type: "warning", UserID: userID})
}

func (p *Publisher) Ban(ctx context.Context, streamID, userID string) error {
	return p.publish(ctx, Event{StreamID: streamID, Type: "ban", UserID: userID})
}

func (p *Publisher) Timeout(ctx context.Context, streamID, userID string, d time.Duration) error {
	return p.publish(ctx, Event{StreamID: streamID, Type: "timeout", UserID: userID, DurationSeconds: int64(d / time.Second)})
}

func (p *Publisher) ModerateMessage(ctx context.Context, streamID, messageID string, approve bool) error {
	typ := "message_rejected"
	if approve {
		typ = "message_approved"
	}
	return p.publish(ctx, Event{StreamID: streamID, Type: typ, MessageID: messageID})
}
