package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/live-moderation/moderation"
	"github.com/onnwee/live-moderation/telemetry"
	"github.com/onnwee/live-moderation/templates"
)

// maxBodyBytes bounds request bodies; template imports are the largest.
const maxBodyBytes = 4 << 20

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	sessions  *moderation.Manager
	templates *templates.Registry
	now       func() time.Time
	archive   templates.ArchivePolicy
	checks    []Check
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Handlers{
		sessions:  deps.Sessions,
		templates: deps.Templates,
		now:       now,
		archive:   deps.Archive,
		checks:    deps.Checks,
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	Index *int   `json:"index,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("encode response", slog.Any("err", err), slog.String("component", "http"))
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var (
		ve  *moderation.ValidationError
		fe  *templates.FieldError
		ie  *templates.ImportError
		bad *badRequest
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &fe), errors.As(err, &ie), errors.As(err, &bad):
		return http.StatusBadRequest
	case errors.Is(err, moderation.ErrSessionNotFound),
		errors.Is(err, templates.ErrTemplateNotFound),
		errors.Is(err, moderation.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, moderation.ErrSessionExists),
		errors.Is(err, templates.ErrInvalidTransition),
		errors.Is(err, templates.ErrNotApproved),
		errors.Is(err, templates.ErrNotVariant):
		return http.StatusConflict
	case errors.Is(err, moderation.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, templates.ErrInsufficientHistory):
		return http.StatusUnprocessableEntity
	case errors.Is(err, moderation.ErrNoTemplates):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

// writeError renders err with the status statusFor assigns. Server errors
// are logged with the request's correlation id and their text withheld.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}

	var (
		ve *moderation.ValidationError
		fe *templates.FieldError
		ie *templates.ImportError
	)
	switch {
	case errors.As(err, &ve):
		body.Field = ve.Field
	case errors.As(err, &fe):
		body.Field = fe.Field
	case errors.As(err, &ie):
		body.Field = ie.Field
		if ie.Index >= 0 {
			idx := ie.Index
			body.Index = &idx
		}
	}

	logger := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "http"))
	if status >= http.StatusInternalServerError && status != http.StatusNotImplemented {
		logger.Error("request failed", slog.String("path", r.URL.Path), slog.Any("err", err))
		body = errorBody{Error: http.StatusText(status)}
	} else {
		logger.Debug("request rejected", slog.String("path", r.URL.Path), slog.Int("status", status), slog.Any("err", err))
	}
	writeJSON(w, status, body)
}

// badRequest reports a body that could not be decoded.
type badRequest struct{ err error }

func (e *badRequest) Error() string { return "invalid request body: " + e.err.Error() }
func (e *badRequest) Unwrap() error { return e.err }

// decodeJSON decodes a single JSON object from the request body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return &badRequest{err: errors.New("empty body")}
		}
		return &badRequest{err: err}
	}
	if dec.More() {
		return &badRequest{err: fmt.Errorf("unexpected data after JSON object")}
	}
	return nil
}
