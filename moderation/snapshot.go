package moderation

import (
	"maps"
	"slices"
	"time"
)

// Snapshot is an independent copy of the moderation state at one instant.
// It shares no maps with the Store it was taken from, so later mutations of
// the store can never leak into history.
type Snapshot struct {
	BannedUsers   map[string]struct{}  `json:"bannedUsers"`
	WarnedUsers   map[string]int       `json:"warnedUsers"`
	TimedOutUsers map[string]time.Time `json:"timedOutUsers"`
	UserNotes     map[string]string    `json:"userNotes"`
	// Version is the store's mutation counter when the snapshot was taken.
	// It is metadata and does not take part in Equal.
	Version uint64 `json:"version"`
}

func emptySnapshot() Snapshot {
	return Snapshot{
		BannedUsers:   map[string]struct{}{},
		WarnedUsers:   map[string]int{},
		TimedOutUsers: map[string]time.Time{},
		UserNotes:     map[string]string{},
	}
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		BannedUsers:   maps.Clone(s.BannedUsers),
		WarnedUsers:   maps.Clone(s.WarnedUsers),
		TimedOutUsers: maps.Clone(s.TimedOutUsers),
		UserNotes:     maps.Clone(s.UserNotes),
		Version:       s.Version,
	}
	// maps.Clone keeps nil as nil
	if out.BannedUsers == nil {
		out.BannedUsers = map[string]struct{}{}
	}
	if out.WarnedUsers == nil {
		out.WarnedUsers = map[string]int{}
	}
	if out.TimedOutUsers == nil {
		out.TimedOutUsers = map[string]time.Time{}
	}
	if out.UserNotes == nil {
		out.UserNotes = map[string]string{}
	}
	return out
}

// Equal reports structural equality of the moderation state.
func (s Snapshot) Equal(o Snapshot) bool {
	if !maps.Equal(s.BannedUsers, o.BannedUsers) || !maps.Equal(s.WarnedUsers, o.WarnedUsers) || !maps.Equal(s.UserNotes, o.UserNotes) {
		return false
	}
	return maps.EqualFunc(s.TimedOutUsers, o.TimedOutUsers, func(a, b time.Time) bool { return a.Equal(b) })
}

// BannedList returns banned user ids in sorted order.
func (s Snapshot) BannedList() []string {
	out := slices.Sorted(maps.Keys(s.BannedUsers))
	if out == nil {
		return []string{}
	}
	return out
}
