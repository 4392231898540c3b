package templates

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/live-moderation/telemetry"
)

// historyLimit bounds the per-template effectiveness history.
const historyLimit = 50

// Store persists templates. Registry writes through to it after every
// mutation; a failed write leaves the in-memory registry unchanged.
type Store interface {
	LoadTemplates(ctx context.Context) ([]NoteTemplate, error)
	SaveTemplates(ctx context.Context, ts ...NoteTemplate) error
	DeleteTemplate(ctx context.Context, id string) error
}

// Registry is the process-wide template catalogue. It is safe for
// concurrent use.
type Registry struct {
	items  map[string]NoteTemplate
	store  Store
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
	mu     sync.RWMutex
}

// Option configures a Registry.
type Option func(*Registry)

// WithStore enables write-through persistence.
func WithStore(s Store) Option { return func(r *Registry) { r.store = s } }

// WithClock overrides the registry clock.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator overrides template id generation.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		items:  map[string]NoteTemplate{},
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
		logger: slog.Default().With(slog.String("component", "templates")),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Load replaces the registry contents with the store's templates.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	ts, err := r.store.LoadTemplates(ctx)
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.items)
	for _, t := range ts {
		r.items[t.ID] = t.clone()
	}
	r.logger.Info("templates loaded", slog.Int("count", len(ts)))
	return nil
}

// commit persists ts and then applies them to the map. Caller holds r.mu.
func (r *Registry) commit(ctx context.Context, ts ...NoteTemplate) error {
	if r.store != nil {
		if err := r.store.SaveTemplates(ctx, ts...); err != nil {
			return fmt.Errorf("save templates: %w", err)
		}
	}
	for _, t := range ts {
		r.items[t.ID] = t.clone()
	}
	return nil
}

func (r *Registry) lookup(id string) (NoteTemplate, error) {
	t, ok := r.items[id]
	if !ok {
		return NoteTemplate{}, fmt.Errorf("%s: %w", id, ErrTemplateNotFound)
	}
	return t.clone(), nil
}

// Draft holds the content of a new template.
type Draft struct {
	Label    string `json:"label"`
	Text     string `json:"text"`
	Category string `json:"category"`
}

// Create adds a draft template at version 1.
func (r *Registry) Create(ctx context.Context, d Draft) (NoteTemplate, error) {
	if err := validateContent(d.Label, d.Text, d.Category); err != nil {
		return NoteTemplate{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	t := NoteTemplate{
		ID:        r.newID(),
		Label:     strings.TrimSpace(d.Label),
		Text:      d.Text,
		Category:  strings.TrimSpace(d.Category),
		Status:    StatusDraft,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.commit(ctx, t); err != nil {
		return NoteTemplate{}, err
	}
	telemetry.IncTemplateTransition(string(StatusDraft))
	return t, nil
}

// Patch lists optional content changes; nil fields are left alone.
type Patch struct {
	Label    *string `json:"label,omitempty"`
	Text     *string `json:"text,omitempty"`
	Category *string `json:"category,omitempty"`
}

// Update edits a draft and bumps its version.
func (r *Registry) Update(ctx context.Context, id string, p Patch) (NoteTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.lookup(id)
	if err != nil {
		return NoteTemplate{}, err
	}
	if t.Status != StatusDraft {
		return NoteTemplate{}, fmt.Errorf("edit %s template: %w", t.Status, ErrInvalidTransition)
	}
	if p.Label != nil {
		t.Label = strings.TrimSpace(*p.Label)
	}
	if p.Text != nil {
		t.Text = *p.Text
	}
	if p.Category != nil {
		t.Category = strings.TrimSpace(*p.Category)
	}
	if err := validateContent(t.Label, t.Text, t.Category); err != nil {
		return NoteTemplate{}, err
	}
	t.Version++
	t.UpdatedAt = r.now()
	if err := r.commit(ctx, t); err != nil {
		return NoteTemplate{}, err
	}
	return t, nil
}

// Get returns the template with id.
func (r *Registry) Get(id string) (NoteTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookup(id)
}

// ListOptions filters List. Archived templates are only listed when
// IncludeArchived is set or Status asks for them.
type ListOptions struct {
	Status          Status
	Category        string
	IncludeArchived bool
}

// List returns matching templates ordered by category, then label.
func (r *Registry) List(opts ListOptions) []NoteTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NoteTemplate, 0, len(r.items))
	for _, t := range r.items {
		if opts.Status != "" && t.Status != opts.Status {
			continue
		}
		if opts.Status == "" && t.Archived && !opts.IncludeArchived {
			continue
		}
		if opts.Category != "" && !strings.EqualFold(t.Category, opts.Category) {
			continue
		}
		out = append(out, t.clone())
	}
	slices.SortFunc(out, func(a, b NoteTemplate) int {
		return cmp.Or(
			cmp.Compare(a.Category, b.Category),
			cmp.Compare(a.Label, b.Label),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return out
}

// Delete removes a draft or rejected template.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.lookup(id)
	if err != nil {
		return err
	}
	if t.Status != StatusDraft && t.Status != StatusRejected {
		return fmt.Errorf("delete %s template: %w", t.Status, ErrInvalidTransition)
	}
	if r.store != nil {
		if err := r.store.DeleteTemplate(ctx, id); err != nil {
			return fmt.Errorf("delete template %s: %w", id, err)
		}
	}
	delete(r.items, id)
	return nil
}
