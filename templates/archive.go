package templates

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/onnwee/live-moderation/telemetry"
)

// ArchivePolicy decides which approved templates are retired automatically.
type ArchivePolicy struct {
	// After: templates unused for longer than this are candidates (0 = disabled)
	After time.Duration
	// MinUses: candidates used fewer times than this are archived
	MinUses int
	// DryRun: when true, report eligible templates without archiving them
	DryRun bool
	// Interval: how often the background job runs
	Interval time.Duration
}

// DefaultArchivePolicy archives templates unused for 90 days with fewer than 5 uses.
func DefaultArchivePolicy() ArchivePolicy {
	return ArchivePolicy{After: 90 * 24 * time.Hour, MinUses: 5, Interval: 24 * time.Hour}
}

// LoadArchivePolicy loads the auto-archive policy from environment variables.
func LoadArchivePolicy() ArchivePolicy {
	policy := DefaultArchivePolicy()

	if s := os.Getenv("TEMPLATE_ARCHIVE_AFTER"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d >= 0 {
			policy.After = d
		}
	}
	if s := os.Getenv("TEMPLATE_ARCHIVE_MIN_USES"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			policy.MinUses = n
		}
	}
	if os.Getenv("TEMPLATE_AUTO_ARCHIVE_DRY_RUN") == "1" {
		policy.DryRun = true
	}
	if s := os.Getenv("TEMPLATE_AUTO_ARCHIVE_INTERVAL"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			policy.Interval = d
		}
	}
	return policy
}

// Eligible reports whether t should be auto-archived at now. Templates that
// were never used are aged from their creation time.
func (p ArchivePolicy) Eligible(t NoteTemplate, now time.Time) bool {
	if p.After <= 0 || t.Status != StatusApproved {
		return false
	}
	last := t.LastUsed
	if last.IsZero() {
		last = t.CreatedAt
	}
	return now.Sub(last) > p.After && t.UseCount < p.MinUses
}

// ArchiveEligible archives every eligible template in one batch and returns
// them. In dry-run mode the templates are returned unchanged.
func (r *Registry) ArchiveEligible(ctx context.Context, p ArchivePolicy, now time.Time) ([]NoteTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var batch []NoteTemplate
	for _, t := range r.items {
		if !p.Eligible(t, now) {
			continue
		}
		t = t.clone()
		if !p.DryRun {
			t.Status = StatusArchived
			t.Archived = true
			t.UpdatedAt = now
		}
		batch = append(batch, t)
	}
	if len(batch) == 0 || p.DryRun {
		return batch, nil
	}
	if err := r.commit(ctx, batch...); err != nil {
		return nil, fmt.Errorf("archive %d templates: %w", len(batch), err)
	}
	for range batch {
		telemetry.IncTemplateTransition(string(StatusArchived))
	}
	return batch, nil
}

// StartAutoArchiveJob periodically archives stale templates until ctx is canceled.
func StartAutoArchiveJob(ctx context.Context, r *Registry, policy ArchivePolicy) {
	if policy.After <= 0 {
		slog.Info("template auto-archive disabled (no threshold configured)")
		return
	}
	if policy.Interval <= 0 {
		policy.Interval = 24 * time.Hour
	}
	slog.Info("template auto-archive job starting",
		slog.Duration("after", policy.After),
		slog.Int("min_uses", policy.MinUses),
		slog.Bool("dry_run", policy.DryRun),
		slog.Duration("interval", policy.Interval))

	run := func() {
		logger := slog.Default().With(slog.String("component", "template_auto_archive"), slog.Bool("dry_run", policy.DryRun))
		archived, err := r.ArchiveEligible(ctx, policy, r.now())
		if err != nil {
			logger.Warn("auto-archive failed", slog.Any("err", err))
			return
		}
		for _, t := range archived {
			logger.Info("template archived", slog.String("template_id", t.ID), slog.String("label", t.Label), slog.Int("use_count", t.UseCount))
		}
		if len(archived) > 0 {
			logger.Info("auto-archive complete", slog.Int("count", len(archived)))
		}
	}

	// Run immediately on start
	run()

	ticker := time.NewTicker(policy.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("template auto-archive job stopped")
			return
		case <-ticker.C:
			run()
		}
	}
}
