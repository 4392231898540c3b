package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/onnwee/live-moderation/templates"
)

// TemplateRepo stores note templates in Postgres. It implements
// templates.Store.
type TemplateRepo struct {
	db *sql.DB
}

var _ templates.Store = (*TemplateRepo)(nil)

// NewTemplateRepo returns a repository over db.
func NewTemplateRepo(db *sql.DB) *TemplateRepo { return &TemplateRepo{db: db} }

const templateColumns = `id, label, body, category, status, original_id, version, use_count,
	success_count, total_count, archived, history, forecast, last_used, created_at, updated_at`

// LoadTemplates returns every stored template.
func (r *TemplateRepo) LoadTemplates(ctx context.Context) ([]templates.NoteTemplate, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+templateColumns+` FROM note_templates ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var out []templates.NoteTemplate
	for rows.Next() {
		var (
			t        templates.NoteTemplate
			status   string
			history  []byte
			forecast []byte
			lastUsed sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.Label, &t.Text, &t.Category, &status, &t.OriginalID, &t.Version, &t.UseCount,
			&t.Effectiveness.SuccessCount, &t.Effectiveness.TotalCount, &t.Archived, &history, &forecast, &lastUsed,
			&t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		t.Status = templates.Status(status)
		if len(history) > 0 {
			if err := json.Unmarshal(history, &t.History); err != nil {
				return nil, fmt.Errorf("template %s history: %w", t.ID, err)
			}
		}
		if len(forecast) > 0 && string(forecast) != "null" {
			t.Forecast = &templates.Forecast{}
			if err := json.Unmarshal(forecast, t.Forecast); err != nil {
				return nil, fmt.Errorf("template %s forecast: %w", t.ID, err)
			}
		}
		if lastUsed.Valid {
			t.LastUsed = lastUsed.Time
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveTemplates upserts ts in one transaction.
func (r *TemplateRepo) SaveTemplates(ctx context.Context, ts ...templates.NoteTemplate) error {
	if len(ts) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `INSERT INTO note_templates (` + templateColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (id) DO UPDATE SET
			label=EXCLUDED.label, body=EXCLUDED.body, category=EXCLUDED.category,
			status=EXCLUDED.status, original_id=EXCLUDED.original_id, version=EXCLUDED.version,
			use_count=EXCLUDED.use_count, success_count=EXCLUDED.success_count,
			total_count=EXCLUDED.total_count, archived=EXCLUDED.archived, history=EXCLUDED.history,
			forecast=EXCLUDED.forecast, last_used=EXCLUDED.last_used, updated_at=EXCLUDED.updated_at`
	for _, t := range ts {
		history, err := json.Marshal(historyOrEmpty(t.History))
		if err != nil {
			return err
		}
		var forecast []byte
		if t.Forecast != nil {
			if forecast, err = json.Marshal(t.Forecast); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, q, t.ID, t.Label, t.Text, t.Category, string(t.Status), t.OriginalID,
			t.Version, t.UseCount, t.Effectiveness.SuccessCount, t.Effectiveness.TotalCount, t.Archived,
			history, forecast, nullTime(t.LastUsed), t.CreatedAt, t.UpdatedAt); err != nil {
			return fmt.Errorf("upsert template %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

// DeleteTemplate removes id. Deleting a missing template is not an error.
func (r *TemplateRepo) DeleteTemplate(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM note_templates WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete template %s: %w", id, err)
	}
	return nil
}

func historyOrEmpty(h []float64) []float64 {
	if h == nil {
		return []float64{}
	}
	return h
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
