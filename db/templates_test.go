package db

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/live-moderation/templates"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockRepo(t *testing.T) (*TemplateRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewTemplateRepo(db), mock
}

func templateRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "label", "body", "category", "status", "original_id", "version", "use_count",
		"success_count", "total_count", "archived", "history", "forecast", "last_used", "created_at", "updated_at"})
}

func TestTemplateRepo_LoadTemplates(t *testing.T) {
	repo, mock := newMockRepo(t)
	rows := templateRows().
		AddRow("t1", "Spam", "Stop, {user}", "spam", "approved", "", 2, 5, 3, 4, false,
			[]byte(`[0.5,0.75]`), []byte(`{"trend":0.1,"effectiveness":0.8,"confidence":0.05}`), t0, t0, t0).
		AddRow("t2", "Draft", "Hi", "misc", "draft", "t1", 1, 0, 0, 0, false,
			[]byte(`[]`), nil, nil, t0, t0)
	mock.ExpectQuery(regexp.QuoteMeta("FROM note_templates ORDER BY created_at, id")).WillReturnRows(rows)

	got, err := repo.LoadTemplates(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, templates.StatusApproved, got[0].Status)
	assert.Equal(t, "Stop, {user}", got[0].Text)
	assert.Equal(t, []float64{0.5, 0.75}, got[0].History)
	require.NotNil(t, got[0].Forecast)
	assert.InDelta(t, 0.8, got[0].Forecast.Effectiveness, 1e-9)
	assert.True(t, got[0].LastUsed.Equal(t0))
	assert.Equal(t, templates.Effectiveness{SuccessCount: 3, TotalCount: 4}, got[0].Effectiveness)

	assert.Nil(t, got[1].Forecast)
	assert.True(t, got[1].LastUsed.IsZero())
	assert.Equal(t, "t1", got[1].OriginalID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateRepo_LoadTemplatesBadHistory(t *testing.T) {
	repo, mock := newMockRepo(t)
	rows := templateRows().AddRow("t1", "Spam", "x", "spam", "draft", "", 1, 0, 0, 0, false,
		[]byte(`{not json`), nil, nil, t0, t0)
	mock.ExpectQuery("SELECT").WillReturnRows(rows)

	_, err := repo.LoadTemplates(context.Background())
	assert.ErrorContains(t, err, "t1 history")
}

func TestTemplateRepo_SaveTemplatesUpsertsInTx(t *testing.T) {
	repo, mock := newMockRepo(t)
	a := templates.NoteTemplate{ID: "a", Label: "A", Text: "x", Category: "c", Status: templates.StatusDraft, Version: 1, CreatedAt: t0, UpdatedAt: t0}
	b := a
	b.ID = "b"
	b.LastUsed = t0
	b.Forecast = &templates.Forecast{Effectiveness: 0.5}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO note_templates")).
		WithArgs("a", "A", "x", "c", "draft", "", 1, 0, 0, 0, false, []byte(`[]`), sqlmock.AnyArg(), sqlmock.AnyArg(), t0, t0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO UPDATE")).
		WithArgs("b", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), []byte(`{"trend":0,"effectiveness":0.5,"confidence":0}`), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SaveTemplates(context.Background(), a, b))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateRepo_SaveTemplatesRollsBackOnError(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO note_templates").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.SaveTemplates(context.Background(), templates.NoteTemplate{ID: "a", CreatedAt: t0, UpdatedAt: t0})
	assert.ErrorContains(t, err, "upsert template a")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateRepo_SaveNothing(t *testing.T) {
	repo, mock := newMockRepo(t)
	require.NoError(t, repo.SaveTemplates(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateRepo_DeleteTemplate(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM note_templates WHERE id=$1")).
		WithArgs("t9").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.DeleteTemplate(context.Background(), "t9"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
