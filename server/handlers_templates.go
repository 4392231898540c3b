package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/onnwee/live-moderation/telemetry"
	"github.com/onnwee/live-moderation/templates"
)

func (h *Handlers) registerTemplateRoutes(r *mux.Router) {
	r.HandleFunc("", h.HandleListTemplates).Methods(http.MethodGet)
	r.HandleFunc("", h.HandleCreateTemplate).Methods(http.MethodPost)

	// Fixed paths must be registered before /{id}.
	r.HandleFunc("/export", h.HandleExportTemplates).Methods(http.MethodGet)
	r.HandleFunc("/import", h.HandleImportTemplates).Methods(http.MethodPost)
	r.HandleFunc("/stats", h.HandleTemplateStats).Methods(http.MethodGet)
	r.HandleFunc("/auto-archive", h.HandleAutoArchive).Methods(http.MethodPost)

	r.HandleFunc("/{id}", h.HandleGetTemplate).Methods(http.MethodGet)
	r.HandleFunc("/{id}", h.HandleUpdateTemplate).Methods(http.MethodPatch)
	r.HandleFunc("/{id}", h.HandleDeleteTemplate).Methods(http.MethodDelete)

	r.HandleFunc("/{id}/submit", h.transition(h.templates.Submit)).Methods(http.MethodPost)
	r.HandleFunc("/{id}/approve", h.transition(h.templates.Approve)).Methods(http.MethodPost)
	r.HandleFunc("/{id}/reject", h.transition(h.templates.Reject)).Methods(http.MethodPost)
	r.HandleFunc("/{id}/archive", h.transition(h.templates.Archive)).Methods(http.MethodPost)
	r.HandleFunc("/{id}/restore", h.transition(h.templates.Restore)).Methods(http.MethodPost)
	r.HandleFunc("/{id}/resubmit", h.created(h.templates.Resubmit)).Methods(http.MethodPost)
	r.HandleFunc("/{id}/fork", h.created(h.templates.ForkVariant)).Methods(http.MethodPost)
	r.HandleFunc("/{id}/outcome", h.HandleRecordOutcome).Methods(http.MethodPost)
	r.HandleFunc("/{id}/forecast", h.HandleForecast).Methods(http.MethodGet)
	r.HandleFunc("/{id}/compare", h.HandleCompareVariant).Methods(http.MethodGet)
}

// HandleListTemplates lists templates filtered by the status, category and
// includeArchived query parameters.
func (h *Handlers) HandleListTemplates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := templates.ListOptions{
		Status:   templates.Status(q.Get("status")),
		Category: q.Get("category"),
	}
	if opts.Status != "" && !opts.Status.Valid() {
		writeError(w, r, &templates.FieldError{Field: "status", Reason: fmt.Sprintf("unknown status %q", opts.Status)})
		return
	}
	if v := q.Get("includeArchived"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, &templates.FieldError{Field: "includeArchived", Reason: "must be a boolean"})
			return
		}
		opts.IncludeArchived = b
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": h.templates.List(opts)})
}

// HandleCreateTemplate creates a draft template.
func (h *Handlers) HandleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var d templates.Draft
	if err := decodeJSON(r, &d); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := h.templates.Create(r.Context(), d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/templates/"+t.ID)
	writeJSON(w, http.StatusCreated, t)
}

// HandleGetTemplate returns one template.
func (h *Handlers) HandleGetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := h.templates.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// HandleUpdateTemplate edits a draft template.
func (h *Handlers) HandleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var p templates.Patch
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := h.templates.Update(r.Context(), mux.Vars(r)["id"], p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// HandleDeleteTemplate deletes a draft or rejected template.
func (h *Handlers) HandleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.templates.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type templateOp func(ctx context.Context, id string) (templates.NoteTemplate, error)

// transition returns the handler for a lifecycle status change.
func (h *Handlers) transition(op templateOp) http.HandlerFunc {
	return h.respond(op, http.StatusOK)
}

// created returns the handler for operations that derive a new template.
func (h *Handlers) created(op templateOp) http.HandlerFunc {
	return h.respond(op, http.StatusCreated)
}

func (h *Handlers) respond(op templateOp, status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := op(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, status, t)
	}
}

// HandleRecordOutcome records whether a use of the template was effective.
func (h *Handlers) HandleRecordOutcome(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Success *bool `json:"success"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Success == nil {
		writeError(w, r, &templates.FieldError{Field: "success", Reason: "is required"})
		return
	}
	t, err := h.templates.RecordOutcome(r.Context(), mux.Vars(r)["id"], *req.Success)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// HandleForecast predicts the template's effectiveness from its history.
func (h *Handlers) HandleForecast(w http.ResponseWriter, r *http.Request) {
	f, err := h.templates.Forecast(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// HandleCompareVariant compares a variant with its original.
func (h *Handlers) HandleCompareVariant(w http.ResponseWriter, r *http.Request) {
	c, err := h.templates.CompareVariant(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleImportTemplates imports a JSON array of templates. One invalid
// element rejects the whole document.
func (h *Handlers) HandleImportTemplates(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "import document too large"})
			return
		}
		writeError(w, r, &badRequest{err: err})
		return
	}
	ts, err := h.templates.Import(r.Context(), data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("templates imported", slog.Int("count", len(ts)), slog.String("component", "http"))
	writeJSON(w, http.StatusOK, map[string]any{"imported": len(ts), "templates": ts})
}

// HandleExportTemplates downloads the full catalogue.
func (h *Handlers) HandleExportTemplates(w http.ResponseWriter, r *http.Request) {
	doc := h.templates.Export()
	name := fmt.Sprintf("note-templates-%s.json", doc.Metadata.ExportedAt.UTC().Format("20060102-150405"))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	writeJSON(w, http.StatusOK, doc)
}

// HandleTemplateStats returns catalogue statistics.
func (h *Handlers) HandleTemplateStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.templates.Stats())
}

// HandleAutoArchive runs the archive policy once. dryRun=true lists the
// eligible templates without archiving them.
func (h *Handlers) HandleAutoArchive(w http.ResponseWriter, r *http.Request) {
	p := h.archive
	if v := r.URL.Query().Get("dryRun"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, &templates.FieldError{Field: "dryRun", Reason: "must be a boolean"})
			return
		}
		p.DryRun = b
	}
	ts, err := h.templates.ArchiveEligible(r.Context(), p, h.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ts == nil {
		ts = []templates.NoteTemplate{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"archived": ts, "dryRun": p.DryRun})
}
