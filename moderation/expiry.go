package moderation

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/live-moderation/telemetry"
)

// DefaultExpiryInterval is how often the scheduler scans for expired timeouts.
const DefaultExpiryInterval = time.Second

// Expirer removes timeouts that expired at or before now.
type Expirer interface {
	ExpireTimeouts(now time.Time) []string
}

// ExpiryScheduler periodically lifts expired timeouts. Its mutations bypass
// the command stack: an expired timeout cannot be undone.
type ExpiryScheduler struct {
	target   Expirer
	now      func() time.Time
	onExpire func(users []string)
	logger   *slog.Logger
	interval time.Duration
}

// NewExpiryScheduler returns a scheduler ticking every interval against target.
func NewExpiryScheduler(target Expirer, interval time.Duration, now func() time.Time) *ExpiryScheduler {
	if interval <= 0 {
		interval = DefaultExpiryInterval
	}
	if now == nil {
		now = time.Now
	}
	return &ExpiryScheduler{
		target:   target,
		interval: interval,
		now:      now,
		logger:   slog.Default().With(slog.String("component", "expiry_scheduler")),
	}
}

// OnExpire registers a callback invoked with the users lifted by each tick.
func (s *ExpiryScheduler) OnExpire(fn func(users []string)) { s.onExpire = fn }

// Tick runs one scan at the given instant and returns the lifted users.
func (s *ExpiryScheduler) Tick(now time.Time) []string {
	users := s.target.ExpireTimeouts(now)
	if len(users) == 0 {
		return nil
	}
	if telemetry.TimeoutsExpired != nil {
		telemetry.TimeoutsExpired.Add(float64(len(users)))
	}
	s.logger.Debug("timeouts expired", slog.Int("count", len(users)), slog.Any("users", users))
	if s.onExpire != nil {
		s.onExpire(users)
	}
	return users
}

// Run ticks until ctx is canceled.
func (s *ExpiryScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("expiry scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(s.now())
		}
	}
}
