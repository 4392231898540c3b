package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/onnwee/live-moderation/telemetry"
)

// maxMirrorFailures bounds the per-session failure list.
const maxMirrorFailures = 100

// SessionOptions identifies the stream a session moderates.
type SessionOptions struct {
	StreamID          string `json:"streamId"`
	TwitchChannel     string `json:"twitchChannel,omitempty"`
	YouTubeLiveChatID string `json:"youtubeLiveChatId,omitempty"`
}

// NoteSource resolves an approved note template to text for userID and
// records the use.
type NoteSource interface {
	UseForNote(templateID, userID string, at time.Time) (string, error)
}

// ChatMessage is a chat line waiting for a moderator decision.
type ChatMessage struct {
	ReceivedAt time.Time `json:"receivedAt"`
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Text       string    `json:"text"`
	Reasons    []string  `json:"reasons,omitempty"`
	Flagged    bool      `json:"flagged"`
}

// MessageQueue holds chat messages awaiting approve or reject.
type MessageQueue interface {
	Pending() []ChatMessage
	Take(id string) (ChatMessage, bool)
	Close() error
}

// State is the read model of a session's moderation state.
type State struct {
	Warnings    map[string]int       `json:"warnings"`
	Timeouts    map[string]time.Time `json:"timeouts"`
	Notes       map[string]string    `json:"notes"`
	Banned      []string             `json:"banned"`
	Version     uint64               `json:"version"`
	UndoDepth   int                  `json:"undoDepth"`
	RedoDepth   int                  `json:"redoDepth"`
	JournalSize int                  `json:"journalSize"`
}

// StackResult reports an undo or redo request. Applied is false when the
// stack was empty, which is not an error.
type StackResult struct {
	Actions []Action `json:"actions"`
	Applied bool     `json:"applied"`
}

// Session owns the moderation state of one live stream. All operations are
// serialized by its mutex; background expiry goes through the same lock.
type Session struct {
	opened time.Time
	now    func() time.Time
	logger *slog.Logger
	notes  NoteSource
	queue  MessageQueue
	cancel context.CancelFunc
	done   chan struct{}

	store      *Store
	journal    *Journal
	stack      *CommandStack
	bulk       *BulkExecutor
	dispatcher *Dispatcher

	failures []MirrorFailure
	opts     SessionOptions
	id       string

	mu     sync.Mutex
	failMu sync.Mutex
	closed bool
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Options returns the options the session was opened with.
func (s *Session) Options() SessionOptions { return s.opts }

// Opened returns when the session was opened.
func (s *Session) Opened() time.Time { return s.opened }

// Apply validates and applies in, then mirrors the action asynchronously.
func (s *Session) Apply(in Intent) (Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Action{}, ErrSessionClosed
	}
	return s.applyLocked(in)
}

func (s *Session) applyLocked(in Intent) (Action, error) {
	evicted := s.journal.Evicted()
	a, err := s.stack.Apply(in)
	if err != nil {
		return Action{}, err
	}
	s.recordApplied(a, evicted)
	return a, nil
}

func (s *Session) recordApplied(a Action, evictedBefore int) {
	telemetry.IncAction(a.Type.String())
	if n := s.journal.Evicted() - evictedBefore; n > 0 && telemetry.JournalEvictions != nil {
		telemetry.JournalEvictions.Add(float64(n))
	}
	s.logger.Info("action applied", slog.String("action_id", a.ID), slog.String("type", a.Type.String()), slog.String("user", a.UserID))
	s.dispatcher.Submit(s.opts.StreamID, a)
}

// Warn issues a warning to user.
func (s *Session) Warn(user string) (Action, error) {
	return s.Apply(Intent{Type: ActionWarning, UserID: user})
}

// Ban bans user.
func (s *Session) Ban(user string) (Action, error) {
	return s.Apply(Intent{Type: ActionBan, UserID: user})
}

// Unban lifts a ban on user.
func (s *Session) Unban(user string) (Action, error) {
	return s.Apply(Intent{Type: ActionUnban, UserID: user})
}

// Timeout times user out for minutes.
func (s *Session) Timeout(user string, minutes int) (Action, error) {
	return s.Apply(Intent{Type: ActionTimeout, UserID: user, Minutes: minutes})
}

// Note sets the note on user; empty text clears it.
func (s *Session) Note(user, text string) (Action, error) {
	return s.Apply(Intent{Type: ActionNote, UserID: user, Text: text})
}

// ApplyTemplate renders the approved note template in.TemplateID for
// in.UserID and applies it as a note. in.Type and in.Text are ignored.
func (s *Session) ApplyTemplate(in Intent) (Action, error) {
	if s.notes == nil {
		return Action{}, ErrNoTemplates
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Action{}, ErrSessionClosed
	}
	in.Type, in.Text = ActionNote, ""
	if err := in.Validate(); err != nil {
		return Action{}, err
	}
	text, err := s.notes.UseForNote(in.TemplateID, in.UserID, s.now())
	if err != nil {
		return Action{}, fmt.Errorf("apply template %s: %w", in.TemplateID, err)
	}
	in.Text = text
	return s.applyLocked(in)
}

// Bulk applies tmpl to every user as independent commands sharing a batch id.
func (s *Session) Bulk(users []string, tmpl Intent) (BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return BulkResult{}, ErrSessionClosed
	}
	evicted := s.journal.Evicted()
	res, err := s.bulk.ApplyToAll(users, tmpl)
	if err != nil {
		return res, err
	}
	for _, a := range res.Applied {
		s.recordApplied(a, evicted)
		evicted = s.journal.Evicted()
	}
	if len(res.Failed) > 0 {
		s.logger.Warn("bulk action partially failed", slog.String("batch_id", res.BatchID), slog.Int("failed", len(res.Failed)), slog.Int("applied", len(res.Applied)))
	}
	return res, nil
}

// Undo reverts the most recent action.
func (s *Session) Undo() (StackResult, error) {
	return s.stackOp("undo", func() []Action {
		if a, ok := s.stack.Undo(); ok {
			return []Action{a}
		}
		return nil
	})
}

// Redo re-applies the most recently undone action.
func (s *Session) Redo() (StackResult, error) {
	return s.stackOp("redo", func() []Action {
		if a, ok := s.stack.Redo(); ok {
			return []Action{a}
		}
		return nil
	})
}

// UndoBatch reverts the most recent action and the rest of its bulk batch.
func (s *Session) UndoBatch() (StackResult, error) {
	return s.stackOp("undo", s.stack.UndoBatch)
}

// RedoBatch re-applies the most recently undone batch.
func (s *Session) RedoBatch() (StackResult, error) {
	return s.stackOp("redo", s.stack.RedoBatch)
}

func (s *Session) stackOp(op string, fn func() []Action) (StackResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return StackResult{}, ErrSessionClosed
	}
	acts := fn()
	telemetry.IncStackOp(op, len(acts) > 0)
	if len(acts) == 0 {
		return StackResult{Actions: []Action{}}, nil
	}
	s.logger.Info(op, slog.Int("actions", len(acts)), slog.String("action_id", acts[0].ID))
	return StackResult{Actions: acts, Applied: true}, nil
}

// State returns a copy of the current moderation state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.store.Snapshot()
	return State{
		Version:     snap.Version,
		Banned:      snap.BannedList(),
		Warnings:    snap.WarnedUsers,
		Timeouts:    snap.TimedOutUsers,
		Notes:       snap.UserNotes,
		UndoDepth:   s.stack.UndoDepth(),
		RedoDepth:   s.stack.RedoDepth(),
		JournalSize: s.journal.Len(),
	}
}

// Journal returns the journal entries matching f, newest first.
func (s *Session) Journal(f Filter) []Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Collect(f.Apply(s.journal.All(), s.now()))
}

// Summary aggregates the journal entries matching f.
func (s *Session) Summary(f Filter) Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summarize(f.Apply(s.journal.All(), s.now()), f.Window)
}

// ExpireTimeouts lifts timeouts expired at now. It is the scheduler's entry
// point and bypasses the command stack.
func (s *Session) ExpireTimeouts(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.store.ExpireTimeouts(now)
}

// MirrorFailures returns the recent mirroring failures, oldest first.
func (s *Session) MirrorFailures() []MirrorFailure {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	return slices.Clone(s.failures)
}

func (s *Session) recordFailure(f MirrorFailure) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.failures = append(s.failures, f)
	if len(s.failures) > maxMirrorFailures {
		s.failures = slices.Delete(s.failures, 0, len(s.failures)-maxMirrorFailures)
	}
}

// PendingMessages returns the chat messages awaiting a decision.
func (s *Session) PendingMessages() []ChatMessage {
	if s.queue == nil {
		return []ChatMessage{}
	}
	return s.queue.Pending()
}

// ApproveMessage releases a queued chat message.
func (s *Session) ApproveMessage(id string) (ChatMessage, error) {
	return s.decide(id, true)
}

// RejectMessage drops a queued chat message.
func (s *Session) RejectMessage(id string) (ChatMessage, error) {
	return s.decide(id, false)
}

func (s *Session) decide(id string, approve bool) (ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ChatMessage{}, ErrSessionClosed
	}
	if s.queue == nil {
		return ChatMessage{}, ErrMessageNotFound
	}
	m, ok := s.queue.Take(id)
	if !ok {
		return ChatMessage{}, ErrMessageNotFound
	}
	s.dispatcher.SubmitMessageDecision(s.opts.StreamID, id, approve)
	return m, nil
}

// WaitMirrors blocks until every mirror call submitted so far has finished.
func (s *Session) WaitMirrors() { s.dispatcher.Wait() }

// Close stops the expiry scheduler and chat ingest and abandons pending
// mirror retries. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	<-s.done
	s.dispatcher.Wait()
	var err error
	if s.queue != nil {
		err = s.queue.Close()
	}
	s.logger.Info("session closed")
	return err
}
