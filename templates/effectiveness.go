package templates

import (
	"context"
	"fmt"
	"time"
)

// RecordOutcome counts one observed outcome of applying the template and
// appends the resulting rate to its history.
func (r *Registry) RecordOutcome(ctx context.Context, id string, success bool) (NoteTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.lookup(id)
	if err != nil {
		return NoteTemplate{}, err
	}
	t.Effectiveness.TotalCount++
	if success {
		t.Effectiveness.SuccessCount++
	}
	t.History = append(t.History, t.Effectiveness.Rate())
	if len(t.History) > historyLimit {
		t.History = t.History[len(t.History)-historyLimit:]
	}
	if f, ok := forecast(t); ok {
		t.Forecast = &f
	}
	t.UpdatedAt = r.now()
	if err := r.commit(ctx, t); err != nil {
		return NoteTemplate{}, err
	}
	return t, nil
}

// RecordUse counts one application of the template at the given instant.
func (r *Registry) RecordUse(ctx context.Context, id string, at time.Time) (NoteTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recordUseLocked(ctx, id, at)
}

func (r *Registry) recordUseLocked(ctx context.Context, id string, at time.Time) (NoteTemplate, error) {
	t, err := r.lookup(id)
	if err != nil {
		return NoteTemplate{}, err
	}
	t.UseCount++
	t.LastUsed = at
	if err := r.commit(ctx, t); err != nil {
		return NoteTemplate{}, err
	}
	return t, nil
}

// UseForNote renders an approved template for user and records the use.
// Only approved templates may be applied.
func (r *Registry) UseForNote(id, user string, at time.Time) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.lookup(id)
	if err != nil {
		return "", err
	}
	if t.Status != StatusApproved {
		return "", fmt.Errorf("%s is %s: %w", id, t.Status, ErrNotApproved)
	}
	if _, err := r.recordUseLocked(ctx, id, at); err != nil {
		return "", err
	}
	return Render(t.Text, user), nil
}

// Forecast returns the projected effectiveness of the template.
func (r *Registry) Forecast(id string) (Forecast, error) {
	t, err := r.Get(id)
	if err != nil {
		return Forecast{}, err
	}
	f, ok := forecast(t)
	if !ok {
		return Forecast{}, fmt.Errorf("%s has %d points: %w", id, len(t.History), ErrInsufficientHistory)
	}
	return f, nil
}

// forecast extrapolates the mean of the last two history deltas. At least
// three history points are required.
func forecast(t NoteTemplate) (Forecast, bool) {
	h := t.History
	n := len(h)
	if n < 3 {
		return Forecast{}, false
	}
	trend := ((h[n-1] - h[n-2]) + (h[n-2] - h[n-3])) / 2
	return Forecast{
		Trend:         trend,
		Effectiveness: min(max(t.Effectiveness.Rate()+trend, 0), 1),
		Confidence:    min(1, float64(t.UseCount)/100),
	}, true
}
