package boltstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/live-moderation/templates"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(Options{Path: path})
	require.NoError(t, err)
	return s
}

func TestStore_RoundTripAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "moderation.db")
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	s := openTestStore(t, path)
	tmpl := templates.NoteTemplate{
		ID: "t1", Label: "Spam", Text: "Stop, {user}", Category: "spam",
		Status: templates.StatusApproved, Version: 1, History: []float64{0.5},
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.SaveTemplates(ctx, tmpl, templates.NoteTemplate{ID: "t2", Label: "x", Text: "y", Category: "z", Status: templates.StatusDraft}))
	require.NoError(t, s.Close())

	s = openTestStore(t, path)
	defer s.Close()
	got, err := s.LoadTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, tmpl, got[0])

	require.NoError(t, s.DeleteTemplate(ctx, "t2"))
	require.NoError(t, s.DeleteTemplate(ctx, "missing"))
	got, err = s.LoadTemplates(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestStore_BacksRegistry(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "m.db"))
	defer s.Close()

	reg := templates.NewRegistry(templates.WithStore(s))
	created, err := reg.Create(ctx, templates.Draft{Label: "Caps", Text: "Please lower caps", Category: "tone"})
	require.NoError(t, err)
	_, err = reg.Submit(ctx, created.ID)
	require.NoError(t, err)

	reloaded := templates.NewRegistry(templates.WithStore(s))
	require.NoError(t, reloaded.Load(ctx))
	got, err := reloaded.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, templates.StatusPending, got.Status)
}
