package moderation

import (
	"fmt"

	"github.com/google/uuid"
)

// BulkResult reports the outcome of a bulk action per user.
type BulkResult struct {
	Failed  map[string]error `json:"-"`
	BatchID string           `json:"batchId"`
	Applied []Action         `json:"applied"`
}

// FailedUsers returns failure messages keyed by user id.
func (r BulkResult) FailedUsers() map[string]string {
	out := make(map[string]string, len(r.Failed))
	for u, err := range r.Failed {
		out[u] = err.Error()
	}
	return out
}

// BulkExecutor applies one action type to many users. Each user gets an
// independent command: its own journal entry and its own undo entry. The
// entries share a BatchID so CommandStack.UndoBatch can revert them together.
type BulkExecutor struct {
	stack *CommandStack
}

// NewBulkExecutor returns an executor applying through stack.
func NewBulkExecutor(stack *CommandStack) *BulkExecutor {
	return &BulkExecutor{stack: stack}
}

// bulkAllowed reports the action types accepted by ApplyToAll.
func bulkAllowed(t ActionType) bool {
	return t == ActionWarning || t == ActionTimeout || t == ActionBan
}

// ApplyToAll applies tmpl once per user in input order, skipping duplicate
// ids. A failure for one user does not stop the others.
func (b *BulkExecutor) ApplyToAll(users []string, tmpl Intent) (BulkResult, error) {
	if !bulkAllowed(tmpl.Type) {
		return BulkResult{}, &ValidationError{Field: "action", Reason: fmt.Sprintf("%s is not a bulk action", tmpl.Type)}
	}
	if len(users) == 0 {
		return BulkResult{}, &ValidationError{Field: "userIds", Reason: "must not be empty"}
	}
	res := BulkResult{BatchID: uuid.NewString(), Failed: map[string]error{}}
	seen := make(map[string]struct{}, len(users))
	for _, u := range users {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		in := tmpl
		in.UserID = u
		a, err := b.stack.apply(in, res.BatchID)
		if err != nil {
			res.Failed[u] = err
			continue
		}
		res.Applied = append(res.Applied, a)
	}
	return res, nil
}
