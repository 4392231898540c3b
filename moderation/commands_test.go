package moderation

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUndoRestoresInitialState(t *testing.T) {
	clock := newFakeClock(t0)
	stack := newTestStack(clock)
	initial := stack.Store().Snapshot()

	intents := []Intent{
		{Type: ActionWarning, UserID: "u1"},
		{Type: ActionWarning, UserID: "u1"},
		{Type: ActionBan, UserID: "u2"},
		{Type: ActionTimeout, UserID: "u3", Minutes: 10},
		{Type: ActionNote, UserID: "u1", Text: "spams links"},
		{Type: ActionUnban, UserID: "u2"},
		{Type: ActionNote, UserID: "u1", Text: ""},
	}
	for _, in := range intents {
		_, err := stack.Apply(in)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}
	require.Equal(t, len(intents), stack.UndoDepth())

	for range intents {
		_, ok := stack.Undo()
		require.True(t, ok)
	}
	if diff := cmp.Diff(initial, stack.Store().Snapshot()); diff != "" {
		t.Errorf("state after undoing everything differs (-want +got):\n%s", diff)
	}
	assert.Equal(t, 0, stack.UndoDepth())
	assert.Equal(t, len(intents), stack.RedoDepth())
}

func TestUndoThenRedoIsNoOp(t *testing.T) {
	clock := newFakeClock(t0)
	stack := newTestStack(clock)
	for _, u := range []string{"a", "b", "c"} {
		_, err := stack.Apply(Intent{Type: ActionWarning, UserID: u})
		require.NoError(t, err)
	}
	_, err := stack.Apply(Intent{Type: ActionTimeout, UserID: "b", Minutes: 5})
	require.NoError(t, err)

	before := stack.Store().Snapshot()
	undoDepth, redoDepth := stack.UndoDepth(), stack.RedoDepth()

	_, ok := stack.Undo()
	require.True(t, ok)
	_, ok = stack.Redo()
	require.True(t, ok)

	assert.True(t, before.Equal(stack.Store().Snapshot()), "undo+redo changed state")
	assert.Equal(t, undoDepth, stack.UndoDepth())
	assert.Equal(t, redoDepth, stack.RedoDepth())
}

func TestApplyAfterUndoClearsRedo(t *testing.T) {
	stack := newTestStack(newFakeClock(t0))
	_, err := stack.Apply(Intent{Type: ActionBan, UserID: "x"})
	require.NoError(t, err)
	_, ok := stack.Undo()
	require.True(t, ok)
	require.Equal(t, 1, stack.RedoDepth())

	_, err = stack.Apply(Intent{Type: ActionWarning, UserID: "y"})
	require.NoError(t, err)
	assert.Equal(t, 0, stack.RedoDepth())
	_, ok = stack.Redo()
	assert.False(t, ok)
}

func TestEmptyStacksAreNoOps(t *testing.T) {
	stack := newTestStack(newFakeClock(t0))
	before := stack.Store().Snapshot()

	_, ok := stack.Undo()
	assert.False(t, ok)
	_, ok = stack.Redo()
	assert.False(t, ok)
	assert.Nil(t, stack.UndoBatch())
	assert.Nil(t, stack.RedoBatch())
	assert.True(t, before.Equal(stack.Store().Snapshot()))
}

func TestWarnUndoRedoScenario(t *testing.T) {
	stack := newTestStack(newFakeClock(t0))

	a, err := stack.Apply(Intent{Type: ActionWarning, UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, a.Payload.WarningCount)
	assert.Equal(t, 1, stack.Store().Warnings("u1"))
	require.Equal(t, 1, stack.Journal().Len())

	_, ok := stack.Undo()
	require.True(t, ok)
	assert.Equal(t, 0, stack.Store().Warnings("u1"))
	_, present := stack.Store().Snapshot().WarnedUsers["u1"]
	assert.False(t, present, "undo should restore absence, not a zero count")

	_, ok = stack.Redo()
	require.True(t, ok)
	assert.Equal(t, 1, stack.Store().Warnings("u1"))

	// undo and redo never touch the journal
	assert.Equal(t, 1, stack.Journal().Len())
}

func TestPriorSnapshotMatchesStateBeforeApply(t *testing.T) {
	stack := newTestStack(newFakeClock(t0))
	_, err := stack.Apply(Intent{Type: ActionBan, UserID: "u9"})
	require.NoError(t, err)

	before := stack.Store().Snapshot()
	a, err := stack.Apply(Intent{Type: ActionWarning, UserID: "u9"})
	require.NoError(t, err)
	assert.True(t, before.Equal(a.PriorSnapshot))

	// later mutations must not leak into history
	_, err = stack.Apply(Intent{Type: ActionWarning, UserID: "u9"})
	require.NoError(t, err)
	assert.Zero(t, a.PriorSnapshot.WarnedUsers["u9"])
}

func TestValidationLeavesStateUntouched(t *testing.T) {
	tests := []struct {
		name  string
		in    Intent
		field string
	}{
		{"blank user", Intent{Type: ActionWarning, UserID: "  "}, "userId"},
		{"zero minutes", Intent{Type: ActionTimeout, UserID: "u", Minutes: 0}, "minutes"},
		{"negative minutes", Intent{Type: ActionTimeout, UserID: "u", Minutes: -3}, "minutes"},
		{"timeout past two weeks", Intent{Type: ActionTimeout, UserID: "u", Minutes: MaxTimeoutMinutes + 1}, "minutes"},
		{"timeout overflowing duration", Intent{Type: ActionTimeout, UserID: "u", Minutes: 200_000_000}, "minutes"},
		{"unknown type", Intent{Type: ActionType(42), UserID: "u"}, "type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stack := newTestStack(newFakeClock(t0))
			_, err := stack.Apply(tt.in)
			require.Error(t, err)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.True(t, IsValidation(err))
			assert.Equal(t, 0, stack.UndoDepth())
			assert.Equal(t, 0, stack.Journal().Len())
			assert.Equal(t, uint64(0), stack.Store().Version())
		})
	}
}

func TestUndoLimitDropsOldest(t *testing.T) {
	stack := newTestStack(newFakeClock(t0), WithUndoLimit(2))
	for _, u := range []string{"a", "b", "c"} {
		_, err := stack.Apply(Intent{Type: ActionBan, UserID: u})
		require.NoError(t, err)
	}
	require.Equal(t, 2, stack.UndoDepth())

	stack.Undo()
	stack.Undo()
	_, ok := stack.Undo()
	assert.False(t, ok)
	assert.True(t, stack.Store().IsBanned("a"), "oldest action is no longer undoable")
	assert.False(t, stack.Store().IsBanned("b"))
}

func TestUndoBatchStopsAtBatchBoundary(t *testing.T) {
	stack := newTestStack(newFakeClock(t0))
	_, err := stack.Apply(Intent{Type: ActionNote, UserID: "solo", Text: "first"})
	require.NoError(t, err)

	res, err := NewBulkExecutor(stack).ApplyToAll([]string{"a", "b", "c"}, Intent{Type: ActionWarning})
	require.NoError(t, err)
	require.Len(t, res.Applied, 3)

	undone := stack.UndoBatch()
	require.Len(t, undone, 3)
	for _, a := range undone {
		assert.Equal(t, res.BatchID, a.BatchID)
	}
	assert.Equal(t, 1, stack.UndoDepth())
	_, hasNote := stack.Store().Note("solo")
	assert.True(t, hasNote)

	redone := stack.RedoBatch()
	assert.Len(t, redone, 3)
	for _, u := range []string{"a", "b", "c"} {
		assert.Equal(t, 1, stack.Store().Warnings(u))
	}
}

func TestLongestTimeoutExpiresInFuture(t *testing.T) {
	clock := newFakeClock(t0)
	stack := newTestStack(clock)
	a, err := stack.Apply(Intent{Type: ActionTimeout, UserID: "u", Minutes: MaxTimeoutMinutes, Moderator: "mod-ana"})
	require.NoError(t, err)
	assert.Equal(t, t0.Add(14*24*time.Hour), a.Payload.ExpiresAt)
	assert.Equal(t, "mod-ana", a.Moderator)

	sched := NewExpiryScheduler(stack.Store(), time.Second, clock.Now)
	assert.Empty(t, sched.Tick(t0.Add(time.Second)))
	exp, ok := stack.Store().TimeoutExpiry("u")
	require.True(t, ok)
	assert.True(t, exp.After(t0))
}
