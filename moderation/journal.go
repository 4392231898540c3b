package moderation

import (
	"iter"
)

// DefaultJournalCapacity is the number of actions retained for display.
const DefaultJournalCapacity = 100

// Journal is the bounded record of applied actions, newest first.
//
// Eviction only affects what is displayed and exported; the CommandStack
// keeps its own entries. Journal is not safe for concurrent use.
type Journal struct {
	entries  []Action // oldest first
	capacity int
	evicted  int
}

// NewJournal returns a journal holding at most capacity entries.
// Non-positive capacity uses DefaultJournalCapacity.
func NewJournal(capacity int) *Journal {
	if capacity <= 0 {
		capacity = DefaultJournalCapacity
	}
	return &Journal{capacity: capacity, entries: make([]Action, 0, capacity)}
}

// Append records a as the newest entry, evicting the oldest on overflow.
func (j *Journal) Append(a Action) {
	if len(j.entries) == j.capacity {
		copy(j.entries, j.entries[1:])
		j.entries = j.entries[:len(j.entries)-1]
		j.evicted++
	}
	j.entries = append(j.entries, a)
}

// Len returns the number of retained entries.
func (j *Journal) Len() int { return len(j.entries) }

// Capacity returns the retention bound.
func (j *Journal) Capacity() int { return j.capacity }

// Evicted returns how many entries were dropped on overflow.
func (j *Journal) Evicted() int { return j.evicted }

// All yields the retained entries newest first. The sequence reads the
// journal at iteration time and can be ranged over repeatedly.
func (j *Journal) All() iter.Seq[Action] {
	return func(yield func(Action) bool) {
		for i := len(j.entries) - 1; i >= 0; i-- {
			if !yield(j.entries[i]) {
				return
			}
		}
	}
}

// Entries returns a copy of the retained entries newest first.
func (j *Journal) Entries() []Action {
	out := make([]Action, 0, len(j.entries))
	for a := range j.All() {
		out = append(out, a)
	}
	return out
}

// Latest returns the newest entry.
func (j *Journal) Latest() (Action, bool) {
	if len(j.entries) == 0 {
		return Action{}, false
	}
	return j.entries[len(j.entries)-1], true
}
