package templates

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(opts ...Option) (*Registry, *clock) {
	c := &clock{now: t0}
	n := 0
	base := []Option{
		WithClock(c.Now),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("t%d", n) }),
	}
	return NewRegistry(append(base, opts...)...), c
}

func approved(t *testing.T, r *Registry, label string) NoteTemplate {
	t.Helper()
	ctx := context.Background()
	tmpl, err := r.Create(ctx, Draft{Label: label, Text: "Hi {user}, " + label, Category: "conduct"})
	require.NoError(t, err)
	_, err = r.Submit(ctx, tmpl.ID)
	require.NoError(t, err)
	tmpl, err = r.Approve(ctx, tmpl.ID)
	require.NoError(t, err)
	return tmpl
}

func TestCreateValidatesContent(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	tmpl, err := r.Create(ctx, Draft{Label: "Spam", Text: "No spam please", Category: "spam"})
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, tmpl.Status)
	assert.Equal(t, 1, tmpl.Version)
	assert.Equal(t, t0, tmpl.CreatedAt)

	_, err = r.Create(ctx, Draft{Label: "x", Text: "y"})
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "category", fe.Field)
	assert.Len(t, r.List(ListOptions{}), 1)
}

func TestLifecycleTransitions(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	tmpl, err := r.Create(ctx, Draft{Label: "a", Text: "b", Category: "c"})
	require.NoError(t, err)
	id := tmpl.ID

	steps := []struct {
		name string
		op   func(context.Context, string) (NoteTemplate, error)
		want Status
		ok   bool
	}{
		{"approve draft", r.Approve, StatusDraft, false},
		{"archive draft", r.Archive, StatusDraft, false},
		{"submit", r.Submit, StatusPending, true},
		{"submit again", r.Submit, StatusPending, false},
		{"approve", r.Approve, StatusApproved, true},
		{"restore approved", r.Restore, StatusApproved, false},
		{"archive", r.Archive, StatusArchived, true},
		{"approve archived", r.Approve, StatusArchived, false},
		{"restore", r.Restore, StatusApproved, true},
	}
	for _, st := range steps {
		_, err := st.op(ctx, id)
		if st.ok {
			require.NoError(t, err, st.name)
		} else {
			require.ErrorIs(t, err, ErrInvalidTransition, st.name)
		}
		got, err := r.Get(id)
		require.NoError(t, err)
		assert.Equal(t, st.want, got.Status, st.name)
		assert.Equal(t, got.Status == StatusArchived, got.Archived, st.name)
	}
}

func TestRejectAndResubmit(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	tmpl, err := r.Create(ctx, Draft{Label: "Caps", Text: "Please avoid caps", Category: "conduct"})
	require.NoError(t, err)
	_, err = r.Update(ctx, tmpl.ID, Patch{Text: ptr("Please avoid ALL CAPS")})
	require.NoError(t, err)
	_, err = r.Submit(ctx, tmpl.ID)
	require.NoError(t, err)

	_, err = r.Resubmit(ctx, tmpl.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition, "only rejected templates can be resubmitted")

	rejected, err := r.Reject(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, rejected.Version)

	fresh, err := r.Resubmit(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.NotEqual(t, tmpl.ID, fresh.ID)
	assert.Equal(t, StatusDraft, fresh.Status)
	assert.Equal(t, 3, fresh.Version)
	assert.Equal(t, "Please avoid ALL CAPS", fresh.Text)
	assert.Equal(t, "conduct", fresh.Category)

	old, err := r.Get(tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, old.Status)
}

func TestUpdateOnlyDrafts(t *testing.T) {
	r, _ := newTestRegistry()
	tmpl := approved(t, r, "greeting")
	_, err := r.Update(context.Background(), tmpl.ID, Patch{Label: ptr("new")})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = r.Update(context.Background(), "nope", Patch{})
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestDelete(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	draft, err := r.Create(ctx, Draft{Label: "a", Text: "b", Category: "c"})
	require.NoError(t, err)
	live := approved(t, r, "live")

	require.NoError(t, r.Delete(ctx, draft.ID))
	_, err = r.Get(draft.ID)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
	assert.ErrorIs(t, r.Delete(ctx, live.ID), ErrInvalidTransition)
}

func TestRateWithNoOutcomesIsZero(t *testing.T) {
	assert.Zero(t, Rate(NoteTemplate{}))
	assert.Zero(t, Effectiveness{SuccessCount: 0, TotalCount: 0}.Rate())
	assert.InDelta(t, 0.25, Effectiveness{SuccessCount: 1, TotalCount: 4}.Rate(), 1e-9)
}

func TestRecordOutcomeAndHistory(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	tmpl := approved(t, r, "x")

	outcomes := []bool{true, false, true, true}
	var got NoteTemplate
	var err error
	for _, ok := range outcomes {
		got, err = r.RecordOutcome(ctx, tmpl.ID, ok)
		require.NoError(t, err)
	}
	assert.Equal(t, Effectiveness{SuccessCount: 3, TotalCount: 4}, got.Effectiveness)
	assert.InDeltaSlice(t, []float64{1, 0.5, 2.0 / 3, 0.75}, got.History, 1e-9)
	require.NotNil(t, got.Forecast)

	for range 60 {
		got, err = r.RecordOutcome(ctx, tmpl.ID, true)
		require.NoError(t, err)
	}
	assert.Len(t, got.History, historyLimit)
}

func TestForecast(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	tmpl := approved(t, r, "x")

	_, err := r.Forecast(tmpl.ID)
	assert.ErrorIs(t, err, ErrInsufficientHistory)

	// history 0, 0.5, 2/3 -> deltas 0.5 and 1/6 -> trend 1/3
	for _, ok := range []bool{false, true, true} {
		_, err = r.RecordOutcome(ctx, tmpl.ID, ok)
		require.NoError(t, err)
	}
	for range 20 {
		_, err = r.UseForNote(tmpl.ID, "u", t0)
		require.NoError(t, err)
	}
	f, err := r.Forecast(tmpl.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3, f.Trend, 1e-9)
	assert.InDelta(t, 1.0, f.Effectiveness, 1e-9, "clamped to 1")
	assert.InDelta(t, 0.2, f.Confidence, 1e-9)
}

func TestForecastClampsAtZero(t *testing.T) {
	f, ok := forecast(NoteTemplate{
		History:       []float64{0.9, 0.5, 0.1},
		Effectiveness: Effectiveness{SuccessCount: 1, TotalCount: 10},
		UseCount:      500,
	})
	require.True(t, ok)
	assert.InDelta(t, -0.4, f.Trend, 1e-9)
	assert.Zero(t, f.Effectiveness)
	assert.Equal(t, 1.0, f.Confidence)
}

func TestUseForNote(t *testing.T) {
	r, c := newTestRegistry()
	tmpl := approved(t, r, "welcome")
	c.Advance(time.Hour)

	text, err := r.UseForNote(tmpl.ID, "viewer42", c.Now())
	require.NoError(t, err)
	assert.Equal(t, "Hi viewer42, welcome", text)

	got, err := r.Get(tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UseCount)
	assert.Equal(t, t0.Add(time.Hour), got.LastUsed)

	draft, err := r.Create(context.Background(), Draft{Label: "d", Text: "d", Category: "d"})
	require.NoError(t, err)
	_, err = r.UseForNote(draft.ID, "u", t0)
	assert.ErrorIs(t, err, ErrNotApproved)
}

func TestListFilters(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	a := approved(t, r, "b-label")
	_ = approved(t, r, "a-label")
	_, err := r.Create(ctx, Draft{Label: "z", Text: "z", Category: "spam"})
	require.NoError(t, err)
	_, err = r.Archive(ctx, a.ID)
	require.NoError(t, err)

	assert.Len(t, r.List(ListOptions{}), 2)
	assert.Len(t, r.List(ListOptions{IncludeArchived: true}), 3)
	assert.Len(t, r.List(ListOptions{Status: StatusArchived}), 1)
	spam := r.List(ListOptions{Category: "SPAM"})
	require.Len(t, spam, 1)
	assert.Equal(t, "z", spam[0].Label)

	conduct := r.List(ListOptions{Category: "conduct", IncludeArchived: true})
	require.Len(t, conduct, 2)
	assert.Equal(t, "a-label", conduct[0].Label)
}

func TestVariants(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	orig := approved(t, r, "orig")
	_, err := r.RecordOutcome(ctx, orig.ID, true)
	require.NoError(t, err)
	_, err = r.RecordOutcome(ctx, orig.ID, false)
	require.NoError(t, err)

	v, err := r.ForkVariant(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, orig.ID, v.OriginalID)
	assert.Equal(t, StatusDraft, v.Status)
	assert.Zero(t, v.Effectiveness.TotalCount)
	assert.Zero(t, v.UseCount)

	_, err = r.RecordOutcome(ctx, v.ID, true)
	require.NoError(t, err)
	cmp, err := r.CompareVariant(v.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, cmp.VariantRate, 1e-9)
	assert.InDelta(t, 0.5, cmp.OriginalRate, 1e-9)
	assert.InDelta(t, 0.5, cmp.Delta, 1e-9)

	_, err = r.CompareVariant(orig.ID)
	assert.ErrorIs(t, err, ErrNotVariant)
}

func TestStats(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	a := approved(t, r, "a")
	b := approved(t, r, "b")
	_, err := r.Create(ctx, Draft{Label: "c", Text: "c", Category: "c"})
	require.NoError(t, err)

	_, err = r.RecordOutcome(ctx, a.ID, true)
	require.NoError(t, err)
	_, err = r.RecordOutcome(ctx, b.ID, false)
	require.NoError(t, err)
	_, err = r.UseForNote(b.ID, "u", t0)
	require.NoError(t, err)

	s := r.Stats()
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.ByStatus[StatusApproved])
	assert.Equal(t, 1, s.ByStatus[StatusDraft])
	assert.Equal(t, 0, s.ByStatus[StatusArchived])
	assert.InDelta(t, 0.5, s.AverageEffectiveness, 1e-9)
	assert.Equal(t, b.ID, s.MostUsed)
	assert.Equal(t, 1, s.TotalUses)
}

type memStore struct {
	mu    sync.Mutex
	items map[string]NoteTemplate
	fail  error
}

func (m *memStore) LoadTemplates(context.Context) ([]NoteTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]NoteTemplate, 0, len(m.items))
	for _, t := range m.items {
		out = append(out, t)
	}
	return out, nil
}

func (m *memStore) SaveTemplates(_ context.Context, ts ...NoteTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	for _, t := range ts {
		m.items[t.ID] = t
	}
	return nil
}

func (m *memStore) DeleteTemplate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

func TestWriteThroughStore(t *testing.T) {
	store := &memStore{items: map[string]NoteTemplate{}}
	r, _ := newTestRegistry(WithStore(store))
	tmpl := approved(t, r, "persisted")
	assert.Equal(t, StatusApproved, store.items[tmpl.ID].Status)

	reloaded := NewRegistry(WithStore(store))
	require.NoError(t, reloaded.Load(context.Background()))
	got, err := reloaded.Get(tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Label)

	store.fail = errors.New("disk full")
	_, err = r.Archive(context.Background(), tmpl.ID)
	require.Error(t, err)
	got, err = r.Get(tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status, "failed write must not change the registry")
}

func ptr[T any](v T) *T { return &v }
