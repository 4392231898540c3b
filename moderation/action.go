package moderation

import (
	"fmt"
	"strings"
	"time"
)

// ActionType identifies the kind of moderation action recorded in the journal.
type ActionType int

// Enumeration order is significant: analytics break ties by it.
const (
	ActionWarning ActionType = iota
	ActionBan
	ActionTimeout
	ActionNote
	ActionUnban
)

// ActionTypes lists every action type in enumeration order.
var ActionTypes = []ActionType{ActionWarning, ActionBan, ActionTimeout, ActionNote, ActionUnban}

// String returns the display name used in exports.
func (t ActionType) String() string {
	switch t {
	case ActionWarning:
		return "Warning"
	case ActionBan:
		return "Ban"
	case ActionTimeout:
		return "Timeout"
	case ActionNote:
		return "Note"
	case ActionUnban:
		return "Unban"
	default:
		return "Unknown"
	}
}

// MarshalText encodes the type by its display name.
func (t ActionType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts display names and filter names ("warnings", "bans", ...).
func (t *ActionType) UnmarshalText(b []byte) error {
	v, ok := parseActionType(string(b))
	if !ok {
		return fmt.Errorf("unknown action type %q", string(b))
	}
	*t = v
	return nil
}

func parseActionType(s string) (ActionType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warning", "warnings", "warn":
		return ActionWarning, true
	case "ban", "bans":
		return ActionBan, true
	case "timeout", "timeouts":
		return ActionTimeout, true
	case "note", "notes":
		return ActionNote, true
	case "unban", "unbans":
		return ActionUnban, true
	}
	return 0, false
}

// Payload carries the type-specific detail of an action. Only the fields
// relevant to the action type are set.
type Payload struct {
	WarningCount    int       `json:"warningCount,omitempty"`
	DurationMinutes int       `json:"durationMinutes,omitempty"`
	ExpiresAt       time.Time `json:"expiresAt,omitzero"`
	NoteText        string    `json:"noteText,omitempty"`
	TemplateID      string    `json:"templateId,omitempty"`
}

// Action is one applied moderation event together with the state it overrode.
// Actions are values and are never modified after creation.
type Action struct {
	Timestamp     time.Time  `json:"timestamp"`
	PriorSnapshot Snapshot   `json:"-"`
	Payload       Payload    `json:"payload"`
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	Moderator     string     `json:"moderator,omitempty"`
	BatchID       string     `json:"batchId,omitempty"`
	Type          ActionType `json:"type"`
}

// Details renders the payload as the human readable column used in exports.
func (a Action) Details() string {
	switch a.Type {
	case ActionWarning:
		return fmt.Sprintf("warning #%d", a.Payload.WarningCount)
	case ActionTimeout:
		return fmt.Sprintf("%d minutes", a.Payload.DurationMinutes)
	case ActionNote:
		if a.Payload.TemplateID != "" {
			return fmt.Sprintf("%s (template %s)", a.Payload.NoteText, a.Payload.TemplateID)
		}
		return a.Payload.NoteText
	case ActionBan:
		return "banned"
	case ActionUnban:
		return "unbanned"
	}
	return ""
}

// MaxTimeoutMinutes is the longest timeout accepted (two weeks), matching
// the longest timeout the chat platforms enforce.
const MaxTimeoutMinutes = 14 * 24 * 60

// Intent is a requested mutation that has not been applied yet. Moderator
// names who requested it and is recorded on the resulting Action.
type Intent struct {
	UserID     string
	Moderator  string
	Text       string
	TemplateID string
	Minutes    int
	Type       ActionType
}

// Validate rejects intents that must never reach the store.
func (in Intent) Validate() error {
	if strings.TrimSpace(in.UserID) == "" {
		return &ValidationError{Field: "userId", Reason: "must not be blank"}
	}
	switch in.Type {
	case ActionWarning, ActionBan, ActionUnban:
	case ActionTimeout:
		if in.Minutes <= 0 {
			return &ValidationError{Field: "minutes", Reason: "must be positive"}
		}
		if in.Minutes > MaxTimeoutMinutes {
			return &ValidationError{Field: "minutes", Reason: fmt.Sprintf("must be at most %d (14 days)", MaxTimeoutMinutes)}
		}
	case ActionNote:
	default:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unsupported action type %d", in.Type)}
	}
	return nil
}
