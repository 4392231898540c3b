package moderation

import (
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"
)

// Window bounds the journal to recent actions.
type Window int

const (
	WindowAll Window = iota
	WindowHour
	WindowDay
)

// ParseWindow accepts "hour", "day", "all" and the empty string (all).
func ParseWindow(s string) (Window, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return WindowAll, nil
	case "hour", "1h":
		return WindowHour, nil
	case "day", "24h":
		return WindowDay, nil
	}
	return WindowAll, &ValidationError{Field: "window", Reason: fmt.Sprintf("unknown window %q", s)}
}

// Duration returns the window length; ok is false for WindowAll.
func (w Window) Duration() (time.Duration, bool) {
	switch w {
	case WindowHour:
		return time.Hour, true
	case WindowDay:
		return 24 * time.Hour, true
	}
	return 0, false
}

func (w Window) String() string {
	switch w {
	case WindowHour:
		return "hour"
	case WindowDay:
		return "day"
	}
	return "all"
}

// Filter selects journal entries. All set criteria must match.
type Filter struct {
	// Type restricts to one action type; nil matches every type.
	Type *ActionType
	// UserSubstring is matched case-sensitively against the user id.
	UserSubstring string
	Window        Window
}

// ParseFilter builds a Filter from the query values used by the panel:
// type is "all" or a plural type name such as "warnings".
func ParseFilter(typ, user, window string) (Filter, error) {
	f := Filter{UserSubstring: user}
	if t := strings.TrimSpace(typ); t != "" && !strings.EqualFold(t, "all") {
		at, ok := parseActionType(t)
		if !ok {
			return Filter{}, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown action type %q", typ)}
		}
		f.Type = &at
	}
	w, err := ParseWindow(window)
	if err != nil {
		return Filter{}, err
	}
	f.Window = w
	return f, nil
}

// Match reports whether a satisfies f at instant now.
func (f Filter) Match(a Action, now time.Time) bool {
	if f.Type != nil && a.Type != *f.Type {
		return false
	}
	if f.UserSubstring != "" && !strings.Contains(a.UserID, f.UserSubstring) {
		return false
	}
	if d, ok := f.Window.Duration(); ok {
		if a.Timestamp.Before(now.Add(-d)) || a.Timestamp.After(now) {
			return false
		}
	}
	return true
}

// Apply returns the lazily filtered view of src. The source is never
// mutated and the sequence may be ranged over any number of times.
func (f Filter) Apply(src iter.Seq[Action], now time.Time) iter.Seq[Action] {
	return func(yield func(Action) bool) {
		for a := range src {
			if f.Match(a, now) && !yield(a) {
				return
			}
		}
	}
}

// Collect materializes a filtered sequence.
func Collect(seq iter.Seq[Action]) []Action {
	out := slices.Collect(seq)
	if out == nil {
		return []Action{}
	}
	return out
}
