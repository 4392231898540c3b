package chat

import (
	"cmp"
	"slices"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/onnwee/live-moderation/moderation"
	"github.com/onnwee/live-moderation/telemetry"
)

// DefaultTTL is how long an undecided message stays queued.
const DefaultTTL = 10 * time.Minute

type entry struct {
	msg   moderation.ChatMessage
	taken atomic.Bool
}

// Queue holds chat messages awaiting approve or reject. It implements
// moderation.MessageQueue and is safe for concurrent use.
type Queue struct {
	items   *cache.Cache
	flagger *Flagger
	now     func() time.Time
	holdAll bool
	closed  atomic.Bool
}

// QueueOptions configures a Queue.
type QueueOptions struct {
	Flagger *Flagger
	Clock   func() time.Time
	TTL     time.Duration
	// HoldAll queues every message, not only flagged ones.
	HoldAll bool
}

var _ moderation.MessageQueue = (*Queue)(nil)

// NewQueue returns an empty queue.
func NewQueue(opts QueueOptions) *Queue {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	q := &Queue{
		items:   cache.New(opts.TTL, opts.TTL/2),
		flagger: opts.Flagger,
		now:     opts.Clock,
		holdAll: opts.HoldAll,
	}
	q.items.OnEvicted(func(_ string, v any) {
		telemetry.AddChatQueueDepth(-1)
		if e, ok := v.(*entry); ok && !e.taken.Load() {
			telemetry.IncChatEvent("expired")
		}
	})
	return q
}

// Add flags m and queues it when it needs a decision. It reports whether
// the message was queued; duplicates and unflagged messages are not.
func (q *Queue) Add(m moderation.ChatMessage) bool {
	if q.closed.Load() || m.ID == "" {
		return false
	}
	telemetry.IncChatEvent("received")
	m.Reasons = q.flagger.Check(m.Text)
	m.Flagged = len(m.Reasons) > 0
	if !m.Flagged && !q.holdAll {
		return false
	}
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = q.now()
	}
	if err := q.items.Add(m.ID, &entry{msg: m}, cache.DefaultExpiration); err != nil {
		return false
	}
	telemetry.AddChatQueueDepth(1)
	telemetry.IncChatEvent("queued")
	return true
}

// Pending returns the queued messages, oldest first.
func (q *Queue) Pending() []moderation.ChatMessage {
	items := q.items.Items()
	out := make([]moderation.ChatMessage, 0, len(items))
	for _, it := range items {
		out = append(out, it.Object.(*entry).msg)
	}
	slices.SortFunc(out, func(a, b moderation.ChatMessage) int {
		return cmp.Or(a.ReceivedAt.Compare(b.ReceivedAt), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// Take removes the message with id for a moderator decision.
func (q *Queue) Take(id string) (moderation.ChatMessage, bool) {
	return q.remove(id, "decided")
}

// Drop removes id without a decision, e.g. when the platform deleted it.
func (q *Queue) Drop(id string) bool {
	_, ok := q.remove(id, "dropped")
	return ok
}

func (q *Queue) remove(id, event string) (moderation.ChatMessage, bool) {
	v, ok := q.items.Get(id)
	if !ok {
		return moderation.ChatMessage{}, false
	}
	e := v.(*entry)
	if e.taken.Swap(true) {
		return moderation.ChatMessage{}, false
	}
	q.items.Delete(id)
	telemetry.IncChatEvent(event)
	return e.msg, true
}

// DropUser removes every queued message from userID.
func (q *Queue) DropUser(userID string) int {
	n := 0
	for _, m := range q.Pending() {
		if m.UserID == userID && q.Drop(m.ID) {
			n++
		}
	}
	return n
}

// Len returns the number of queued messages.
func (q *Queue) Len() int { return q.items.ItemCount() }

// Close empties the queue; later Adds are ignored.
func (q *Queue) Close() error {
	if q.closed.Swap(true) {
		return nil
	}
	telemetry.AddChatQueueDepth(-q.items.ItemCount())
	q.items.Flush()
	return nil
}
