package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/live-moderation/moderation"
)

// Multi fans every call out to all mirrors concurrently. A failure in one
// mirror does not cancel the others; the errors are joined. Mirrors that
// return moderation.ErrNotMirrored are skipped.
type Multi []moderation.Mirror

// Combine returns the non-nil mirrors as one. It returns nil when none remain.
func Combine(ms ...moderation.Mirror) moderation.Mirror {
	var out Multi
	for _, m := range ms {
		if m != nil {
			out = append(out, m)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}

func (m Multi) each(ctx context.Context, fn func(context.Context, moderation.Mirror) error) error {
	errs := make([]error, len(m))
	var g errgroup.Group
	for i, mm := range m {
		g.Go(func() error {
			if err := fn(ctx, mm); err != nil && !errors.Is(err, moderation.ErrNotMirrored) {
				errs[i] = fmt.Errorf("mirror %d (%T): %w", i, mm, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (m Multi) Warn(ctx context.Context, streamID, userID string) error {
	return m.each(ctx, func(ctx context.Context, mm moderation.Mirror) error { return mm.Warn(ctx, streamID, userID) })
}

func (m Multi) Ban(ctx context.Context, streamID, userID string) error {
	return m.each(ctx, func(ctx context.Context, mm moderation.Mirror) error { return mm.Ban(ctx, streamID, userID) })
}

func (m Multi) Timeout(ctx context.Context, streamID, userID string, d time.Duration) error {
	return m.each(ctx, func(ctx context.Context, mm moderation.Mirror) error { return mm.Timeout(ctx, streamID, userID, d) })
}

func (m Multi) ModerateMessage(ctx context.Context, streamID, messageID string, approve bool) error {
	return m.each(ctx, func(ctx context.Context, mm moderation.Mirror) error {
		return mm.ModerateMessage(ctx, streamID, messageID, approve)
	})
}
