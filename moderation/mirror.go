package moderation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/live-moderation/telemetry"
)

// Mirror forwards applied actions to the external moderation system.
type Mirror interface {
	Warn(ctx context.Context, streamID, userID string) error
	Ban(ctx context.Context, streamID, userID string) error
	Timeout(ctx context.Context, streamID, userID string, d time.Duration) error
	ModerateMessage(ctx context.Context, streamID, messageID string, approve bool) error
}

// ErrNotMirrored is returned for action types with no external counterpart.
var ErrNotMirrored = errors.New("action type is not mirrored")

// MirrorFailure records a mirroring call that failed after the optimistic
// local mutation. It is reported, never reconciled.
type MirrorFailure struct {
	At       time.Time `json:"at"`
	ActionID string    `json:"actionId"`
	Type     string    `json:"type"`
	Target   string    `json:"target"`
	Error    string    `json:"error"`
	Attempts int       `json:"attempts"`
}

// DispatcherConfig tunes asynchronous mirroring.
type DispatcherConfig struct {
	// Retryable classifies errors worth another attempt; nil never retries.
	Retryable     func(error) bool
	MaxConcurrent int
	MaxRetries    int
	Backoff       time.Duration
	CallTimeout   time.Duration
	// Clock stamps failures; defaults to time.Now.
	Clock func() time.Time
}

// Dispatcher runs mirror calls in the background. Submit never waits for the
// call: local state is already updated when it is invoked.
type Dispatcher struct {
	ctx       context.Context
	mirror    Mirror
	onFailure func(MirrorFailure)
	sem       chan struct{}
	cfg       DispatcherConfig
	wg        sync.WaitGroup
}

// NewDispatcher returns a dispatcher whose calls are bound to ctx; canceling
// ctx abandons in-flight retries. A nil mirror makes Submit a no-op.
func NewDispatcher(ctx context.Context, m Mirror, cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Dispatcher{ctx: ctx, mirror: m, cfg: cfg, sem: make(chan struct{}, cfg.MaxConcurrent)}
}

// OnFailure registers the failure sink.
func (d *Dispatcher) OnFailure(fn func(MirrorFailure)) { d.onFailure = fn }

// Wait blocks until every submitted call finished. Used by tests and shutdown.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Submit mirrors a for streamID in the background.
func (d *Dispatcher) Submit(streamID string, a Action) {
	if d == nil || d.mirror == nil {
		return
	}
	var call func(context.Context) error
	switch a.Type {
	case ActionWarning:
		call = func(ctx context.Context) error { return d.mirror.Warn(ctx, streamID, a.UserID) }
	case ActionBan:
		call = func(ctx context.Context) error { return d.mirror.Ban(ctx, streamID, a.UserID) }
	case ActionTimeout:
		dur := time.Duration(a.Payload.DurationMinutes) * time.Minute
		call = func(ctx context.Context) error { return d.mirror.Timeout(ctx, streamID, a.UserID, dur) }
	default:
		return
	}
	d.run(a.ID, a.Type.String(), a.UserID, call)
}

// SubmitMessageDecision mirrors an approve/reject decision for a queued chat message.
func (d *Dispatcher) SubmitMessageDecision(streamID, messageID string, approve bool) {
	if d == nil || d.mirror == nil {
		return
	}
	kind := "reject"
	if approve {
		kind = "approve"
	}
	d.run("", "message_"+kind, messageID, func(ctx context.Context) error {
		return d.mirror.ModerateMessage(ctx, streamID, messageID, approve)
	})
}

func (d *Dispatcher) run(actionID, kind, target string, call func(context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		select {
		case d.sem <- struct{}{}:
		case <-d.ctx.Done():
			return
		}
		defer func() { <-d.sem }()

		logger := telemetry.LoggerWithCorr(d.ctx).With(slog.String("component", "mirror_dispatch"), slog.String("kind", kind), slog.String("target", target))
		var err error
		attempts := 0
		for {
			attempts++
			start := time.Now()
			cctx, cancel := context.WithTimeout(d.ctx, d.cfg.CallTimeout)
			err = call(cctx)
			cancel()
			if errors.Is(err, ErrNotMirrored) {
				logger.Debug("not mirrored on this platform")
				return
			}
			telemetry.ObserveMirrorCall(kind, err, time.Since(start))
			if err == nil {
				logger.Debug("mirrored", slog.Int("attempts", attempts))
				return
			}
			if attempts > d.cfg.MaxRetries || d.cfg.Retryable == nil || !d.cfg.Retryable(err) {
				break
			}
			select {
			case <-d.ctx.Done():
				return
			case <-time.After(d.cfg.Backoff * time.Duration(attempts)):
			}
		}
		logger.Warn("mirror call failed; local state kept", slog.Int("attempts", attempts), slog.Any("err", err))
		if d.onFailure != nil {
			d.onFailure(MirrorFailure{
				At:       d.cfg.Clock(),
				ActionID: actionID,
				Type:     kind,
				Target:   target,
				Error:    err.Error(),
				Attempts: attempts,
			})
		}
	}()
}
