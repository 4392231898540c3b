package moderation

import (
	"time"

	"github.com/google/uuid"
)

// CommandStack applies intents to a Store and keeps undo and redo history.
//
// Every applied action carries the snapshot taken before it ran. Undo
// restores that snapshot and moves the action to the redo stack with the
// state it replaced, so undo followed by redo is observably a no-op.
// Operations must be strictly sequential; CommandStack is not safe for
// concurrent use.
type CommandStack struct {
	store   *Store
	journal *Journal
	now     func() time.Time
	newID   func() string

	undo []Action
	redo []Action
	// limit caps the undo stack; 0 keeps unbounded history.
	limit int
}

// StackOption configures a CommandStack.
type StackOption func(*CommandStack)

// WithUndoLimit caps the undo history at n entries, dropping the oldest.
func WithUndoLimit(n int) StackOption {
	return func(c *CommandStack) {
		if n > 0 {
			c.limit = n
		}
	}
}

// WithClock sets the clock used for action timestamps.
func WithClock(now func() time.Time) StackOption {
	return func(c *CommandStack) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator overrides action id generation.
func WithIDGenerator(fn func() string) StackOption {
	return func(c *CommandStack) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// NewCommandStack binds a stack to store and journal.
func NewCommandStack(store *Store, journal *Journal, opts ...StackOption) *CommandStack {
	c := &CommandStack{
		store:   store,
		journal: journal,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Apply validates and executes in, records it in the journal and on the undo
// stack, and clears the redo stack.
func (c *CommandStack) Apply(in Intent) (Action, error) {
	return c.apply(in, "")
}

func (c *CommandStack) apply(in Intent, batchID string) (Action, error) {
	if err := in.Validate(); err != nil {
		return Action{}, err
	}
	before := c.store.Snapshot()

	var p Payload
	switch in.Type {
	case ActionWarning:
		p.WarningCount = c.store.Warn(in.UserID)
	case ActionBan:
		c.store.Ban(in.UserID)
	case ActionUnban:
		c.store.Unban(in.UserID)
	case ActionTimeout:
		p.DurationMinutes = in.Minutes
		p.ExpiresAt = c.store.Timeout(in.UserID, in.Minutes)
	case ActionNote:
		c.store.SetNote(in.UserID, in.Text)
		p.NoteText = in.Text
		p.TemplateID = in.TemplateID
	}

	a := Action{
		ID:            c.newID(),
		Type:          in.Type,
		UserID:        in.UserID,
		Moderator:     in.Moderator,
		Timestamp:     c.now(),
		Payload:       p,
		BatchID:       batchID,
		PriorSnapshot: before,
	}
	c.pushUndo(a)
	c.redo = nil
	c.journal.Append(a)
	return a, nil
}

func (c *CommandStack) pushUndo(a Action) {
	c.undo = append(c.undo, a)
	if c.limit > 0 && len(c.undo) > c.limit {
		drop := len(c.undo) - c.limit
		c.undo = append(c.undo[:0:0], c.undo[drop:]...)
	}
}

// Undo reverts the most recent action. It reports false when there is
// nothing to undo.
func (c *CommandStack) Undo() (Action, bool) {
	if len(c.undo) == 0 {
		return Action{}, false
	}
	a := c.undo[len(c.undo)-1]
	c.undo = c.undo[:len(c.undo)-1]

	after := c.store.Snapshot()
	c.store.Restore(a.PriorSnapshot)

	r := a
	r.PriorSnapshot = after
	c.redo = append(c.redo, r)
	return a, true
}

// Redo re-applies the most recently undone action. It reports false when
// there is nothing to redo.
func (c *CommandStack) Redo() (Action, bool) {
	if len(c.redo) == 0 {
		return Action{}, false
	}
	r := c.redo[len(c.redo)-1]
	c.redo = c.redo[:len(c.redo)-1]

	before := c.store.Snapshot()
	c.store.Restore(r.PriorSnapshot)

	a := r
	a.PriorSnapshot = before
	c.pushUndo(a)
	return a, true
}

// UndoBatch undoes the top action and every action directly beneath it that
// belongs to the same batch. Actions outside a batch are undone alone.
func (c *CommandStack) UndoBatch() []Action {
	first, ok := c.Undo()
	if !ok {
		return nil
	}
	out := []Action{first}
	if first.BatchID == "" {
		return out
	}
	for len(c.undo) > 0 && c.undo[len(c.undo)-1].BatchID == first.BatchID {
		a, _ := c.Undo()
		out = append(out, a)
	}
	return out
}

// RedoBatch is the inverse of UndoBatch.
func (c *CommandStack) RedoBatch() []Action {
	first, ok := c.Redo()
	if !ok {
		return nil
	}
	out := []Action{first}
	if first.BatchID == "" {
		return out
	}
	for len(c.redo) > 0 && c.redo[len(c.redo)-1].BatchID == first.BatchID {
		a, _ := c.Redo()
		out = append(out, a)
	}
	return out
}

// UndoDepth returns the number of undoable actions.
func (c *CommandStack) UndoDepth() int { return len(c.undo) }

// RedoDepth returns the number of redoable actions.
func (c *CommandStack) RedoDepth() int { return len(c.redo) }

// Store returns the store the stack mutates.
func (c *CommandStack) Store() *Store { return c.store }

// Journal returns the journal the stack appends to.
func (c *CommandStack) Journal() *Journal { return c.journal }
