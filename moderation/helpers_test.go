package moderation

import (
	"context"
	"fmt"
	"sync"
	"time"
)

var t0 = time.Date(2025, 3, 14, 18, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(at time.Time) *fakeClock { return &fakeClock{now: at} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(at time.Time) {
	c.mu.Lock()
	c.now = at
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// newTestStack returns a stack with a fixed clock and sequential ids.
func newTestStack(clock *fakeClock, opts ...StackOption) *CommandStack {
	n := 0
	base := []StackOption{
		WithClock(clock.Now),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("a%d", n) }),
	}
	return NewCommandStack(NewStore(clock.Now), NewJournal(DefaultJournalCapacity), append(base, opts...)...)
}

type mirrorCall struct {
	Kind     string
	StreamID string
	Target   string
	Duration time.Duration
}

type recordingMirror struct {
	mu    sync.Mutex
	calls []mirrorCall
	err   func(kind string) error
}

func (m *recordingMirror) record(c mirrorCall) error {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	errFn := m.err
	m.mu.Unlock()
	if errFn != nil {
		return errFn(c.Kind)
	}
	return nil
}

func (m *recordingMirror) Calls() []mirrorCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mirrorCall(nil), m.calls...)
}

func (m *recordingMirror) Warn(_ context.Context, streamID, userID string) error {
	return m.record(mirrorCall{Kind: "warn", StreamID: streamID, Target: userID})
}

func (m *recordingMirror) Ban(_ context.Context, streamID, userID string) error {
	return m.record(mirrorCall{Kind: "ban", StreamID: streamID, Target: userID})
}

func (m *recordingMirror) Timeout(_ context.Context, streamID, userID string, d time.Duration) error {
	return m.record(mirrorCall{Kind: "timeout", StreamID: streamID, Target: userID, Duration: d})
}

func (m *recordingMirror) ModerateMessage(_ context.Context, streamID, messageID string, approve bool) error {
	kind := "reject"
	if approve {
		kind = "approve"
	}
	return m.record(mirrorCall{Kind: kind, StreamID: streamID, Target: messageID})
}

type sliceQueue struct {
	mu     sync.Mutex
	msgs   []ChatMessage
	closed bool
}

func (q *sliceQueue) Pending() []ChatMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]ChatMessage{}, q.msgs...)
}

func (q *sliceQueue) Take(id string) (ChatMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, m := range q.msgs {
		if m.ID == id {
			q.msgs = append(q.msgs[:i], q.msgs[i+1:]...)
			return m, true
		}
	}
	return ChatMessage{}, false
}

func (q *sliceQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}

type staticNotes map[string]string

func (n staticNotes) UseForNote(id, user string, _ time.Time) (string, error) {
	text, ok := n[id]
	if !ok {
		return "", fmt.Errorf("template %s: not found", id)
	}
	return text + " @" + user, nil
}
