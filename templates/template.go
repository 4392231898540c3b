// Package templates manages reusable moderator note templates: their review
// lifecycle, effectiveness tracking, variants and bulk import/export.
package templates

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is a template's position in the review lifecycle.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusArchived Status = "archived"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusApproved, StatusRejected, StatusArchived:
		return true
	}
	return false
}

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusDraft, StatusPending, StatusApproved, StatusRejected, StatusArchived}

var (
	ErrTemplateNotFound    = errors.New("template not found")
	ErrInvalidTransition   = errors.New("invalid template status transition")
	ErrNotApproved         = errors.New("template is not approved")
	ErrNotVariant          = errors.New("template is not a variant")
	ErrInsufficientHistory = errors.New("not enough effectiveness history to forecast")
)

// FieldError reports an invalid template field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string { return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason) }

// Effectiveness counts outcomes observed after the template was applied.
type Effectiveness struct {
	SuccessCount int `json:"successCount"`
	TotalCount   int `json:"totalCount"`
}

// Rate is SuccessCount/TotalCount, or 0 before any outcome was recorded.
func (e Effectiveness) Rate() float64 {
	if e.TotalCount == 0 {
		return 0
	}
	return float64(e.SuccessCount) / float64(e.TotalCount)
}

// Forecast projects the next effectiveness rate from recent history.
type Forecast struct {
	Trend         float64 `json:"trend"`
	Effectiveness float64 `json:"effectiveness"`
	Confidence    float64 `json:"confidence"`
}

// NoteTemplate is a versioned note text moderators can apply to users.
type NoteTemplate struct {
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
	LastUsed      time.Time     `json:"lastUsed,omitzero"`
	Forecast      *Forecast     `json:"forecast,omitempty"`
	ID            string        `json:"id"`
	Label         string        `json:"label"`
	Text          string        `json:"text"`
	Category      string        `json:"category"`
	OriginalID    string        `json:"originalId,omitempty"`
	Status        Status        `json:"status"`
	History       []float64     `json:"history,omitempty"`
	Effectiveness Effectiveness `json:"effectiveness"`
	Version       int           `json:"version"`
	UseCount      int           `json:"useCount"`
	Archived      bool          `json:"archived"`
}

// Rate returns the template's effectiveness rate.
func Rate(t NoteTemplate) float64 { return t.Effectiveness.Rate() }

func (t NoteTemplate) clone() NoteTemplate {
	c := t
	if t.History != nil {
		c.History = append([]float64(nil), t.History...)
	}
	if t.Forecast != nil {
		f := *t.Forecast
		c.Forecast = &f
	}
	return c
}

// Render substitutes {user} in text.
func Render(text, user string) string {
	return strings.ReplaceAll(text, "{user}", user)
}

func validateContent(label, text, category string) error {
	switch {
	case strings.TrimSpace(label) == "":
		return &FieldError{Field: "label", Reason: "must not be blank"}
	case strings.TrimSpace(text) == "":
		return &FieldError{Field: "text", Reason: "must not be blank"}
	case strings.TrimSpace(category) == "":
		return &FieldError{Field: "category", Reason: "must not be blank"}
	}
	return nil
}
