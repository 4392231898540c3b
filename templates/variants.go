package templates

import (
	"context"
	"fmt"
)

// ForkVariant creates an A/B variant of id: a new draft with the same
// content, fresh counters, and a back-reference to the original.
func (r *Registry) ForkVariant(ctx context.Context, id string) (NoteTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	orig, err := r.lookup(id)
	if err != nil {
		return NoteTemplate{}, err
	}
	now := r.now()
	v := NoteTemplate{
		ID:         r.newID(),
		Label:      orig.Label + " (variant)",
		Text:       orig.Text,
		Category:   orig.Category,
		OriginalID: orig.ID,
		Status:     StatusDraft,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.commit(ctx, v); err != nil {
		return NoteTemplate{}, err
	}
	return v, nil
}

// VariantComparison contrasts a variant with its original.
type VariantComparison struct {
	VariantID     string  `json:"variantId"`
	OriginalID    string  `json:"originalId"`
	VariantRate   float64 `json:"variantRate"`
	OriginalRate  float64 `json:"originalRate"`
	Delta         float64 `json:"delta"`
	VariantTotal  int     `json:"variantTotal"`
	OriginalTotal int     `json:"originalTotal"`
}

// CompareVariant reports the effectiveness of variant id against its original.
func (r *Registry) CompareVariant(id string) (VariantComparison, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, err := r.lookup(id)
	if err != nil {
		return VariantComparison{}, err
	}
	if v.OriginalID == "" {
		return VariantComparison{}, fmt.Errorf("%s: %w", id, ErrNotVariant)
	}
	orig, err := r.lookup(v.OriginalID)
	if err != nil {
		return VariantComparison{}, fmt.Errorf("original of %s: %w", id, err)
	}
	return VariantComparison{
		VariantID:     v.ID,
		OriginalID:    orig.ID,
		VariantRate:   v.Effectiveness.Rate(),
		OriginalRate:  orig.Effectiveness.Rate(),
		Delta:         v.Effectiveness.Rate() - orig.Effectiveness.Rate(),
		VariantTotal:  v.Effectiveness.TotalCount,
		OriginalTotal: orig.Effectiveness.TotalCount,
	}, nil
}
