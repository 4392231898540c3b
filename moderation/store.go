package moderation

import (
	"time"
)

// Store is the canonical in-memory moderation state of one live session.
//
// Mutators are synchronous and total; callers validate user ids before
// reaching the store. The store has no notion of undo: the CommandStack
// captures snapshots around it. Store is not safe for concurrent use.
type Store struct {
	state Snapshot
	now   func() time.Time
}

// NewStore returns an empty store using clock for timeout expiries.
// A nil clock means time.Now.
func NewStore(clock func() time.Time) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{state: emptySnapshot(), now: clock}
}

func (s *Store) touch() { s.state.Version++ }

// Warn increments the warning count of user and returns the new count.
func (s *Store) Warn(user string) int {
	s.touch()
	s.state.WarnedUsers[user]++
	return s.state.WarnedUsers[user]
}

// Ban adds user to the banned set.
func (s *Store) Ban(user string) {
	s.touch()
	s.state.BannedUsers[user] = struct{}{}
}

// Unban removes user from the banned set.
func (s *Store) Unban(user string) {
	s.touch()
	delete(s.state.BannedUsers, user)
}

// Timeout times user out for minutes from now and returns the expiry.
// A second timeout replaces the first.
func (s *Store) Timeout(user string, minutes int) time.Time {
	s.touch()
	expiry := s.now().Add(time.Duration(minutes) * time.Minute)
	s.state.TimedOutUsers[user] = expiry
	return expiry
}

// SetNote attaches text to user. Empty text clears the note.
func (s *Store) SetNote(user, text string) {
	s.touch()
	if text == "" {
		delete(s.state.UserNotes, user)
		return
	}
	s.state.UserNotes[user] = text
}

// IsBanned reports whether user is banned.
func (s *Store) IsBanned(user string) bool {
	_, ok := s.state.BannedUsers[user]
	return ok
}

// Warnings returns the warning count for user.
func (s *Store) Warnings(user string) int { return s.state.WarnedUsers[user] }

// TimeoutExpiry returns the active timeout expiry for user.
func (s *Store) TimeoutExpiry(user string) (time.Time, bool) {
	t, ok := s.state.TimedOutUsers[user]
	return t, ok
}

// Note returns the note attached to user.
func (s *Store) Note(user string) (string, bool) {
	n, ok := s.state.UserNotes[user]
	return n, ok
}

// Version is the number of mutations applied so far.
func (s *Store) Version() uint64 { return s.state.Version }

// Snapshot captures a deep copy of the current state.
func (s *Store) Snapshot() Snapshot { return s.state.Clone() }

// Restore replaces the state with a copy of snap. The version keeps counting
// forward so restored states remain distinguishable in logs.
func (s *Store) Restore(snap Snapshot) {
	v := s.state.Version + 1
	s.state = snap.Clone()
	s.state.Version = v
}

// ExpireTimeouts removes every timeout whose expiry is at or before now and
// returns the affected users. This is a direct mutation outside of any
// command history.
func (s *Store) ExpireTimeouts(now time.Time) []string {
	var expired []string
	for u, exp := range s.state.TimedOutUsers {
		if !now.Before(exp) {
			expired = append(expired, u)
		}
	}
	if len(expired) == 0 {
		return nil
	}
	s.touch()
	for _, u := range expired {
		delete(s.state.TimedOutUsers, u)
	}
	return expired
}
