package templates

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onnwee/live-moderation/telemetry"
)

// transition moves id from status from to status to. Every lifecycle
// operation has exactly one legal source status.
func (r *Registry) transition(ctx context.Context, id string, from, to Status) (NoteTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.lookup(id)
	if err != nil {
		return NoteTemplate{}, err
	}
	if t.Status != from {
		return NoteTemplate{}, fmt.Errorf("%s -> %s: %w", t.Status, to, ErrInvalidTransition)
	}
	t.Status = to
	t.Archived = to == StatusArchived
	t.UpdatedAt = r.now()
	if err := r.commit(ctx, t); err != nil {
		return NoteTemplate{}, err
	}
	telemetry.IncTemplateTransition(string(to))
	r.logger.Info("template status changed", slog.String("template_id", id), slog.String("from", string(from)), slog.String("to", string(to)))
	return t, nil
}

// Submit sends a draft for review.
func (r *Registry) Submit(ctx context.Context, id string) (NoteTemplate, error) {
	return r.transition(ctx, id, StatusDraft, StatusPending)
}

// Approve makes a pending template available to moderators.
func (r *Registry) Approve(ctx context.Context, id string) (NoteTemplate, error) {
	return r.transition(ctx, id, StatusPending, StatusApproved)
}

// Reject declines a pending template.
func (r *Registry) Reject(ctx context.Context, id string) (NoteTemplate, error) {
	return r.transition(ctx, id, StatusPending, StatusRejected)
}

// Archive retires an approved template.
func (r *Registry) Archive(ctx context.Context, id string) (NoteTemplate, error) {
	return r.transition(ctx, id, StatusApproved, StatusArchived)
}

// Restore returns an archived template to approved.
func (r *Registry) Restore(ctx context.Context, id string) (NoteTemplate, error) {
	return r.transition(ctx, id, StatusArchived, StatusApproved)
}

// Resubmit creates a new draft from a rejected template. The new draft gets
// a fresh id and the next version; the rejected template is kept as is.
func (r *Registry) Resubmit(ctx context.Context, id string) (NoteTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, err := r.lookup(id)
	if err != nil {
		return NoteTemplate{}, err
	}
	if old.Status != StatusRejected {
		return NoteTemplate{}, fmt.Errorf("resubmit %s template: %w", old.Status, ErrInvalidTransition)
	}
	now := r.now()
	t := NoteTemplate{
		ID:         r.newID(),
		Label:      old.Label,
		Text:       old.Text,
		Category:   old.Category,
		OriginalID: old.OriginalID,
		Status:     StatusDraft,
		Version:    old.Version + 1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.commit(ctx, t); err != nil {
		return NoteTemplate{}, err
	}
	telemetry.IncTemplateTransition(string(StatusDraft))
	return t, nil
}
