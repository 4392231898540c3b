package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/mux"

	"github.com/onnwee/live-moderation/moderation"
	"github.com/onnwee/live-moderation/telemetry"
)

func (h *Handlers) registerSessionRoutes(r *mux.Router) {
	r.HandleFunc("", h.HandleListSessions).Methods(http.MethodGet)
	r.HandleFunc("", h.HandleOpenSession).Methods(http.MethodPost)
	r.HandleFunc("/{id}", h.HandleGetSession).Methods(http.MethodGet)
	r.HandleFunc("/{id}", h.HandleCloseSession).Methods(http.MethodDelete)

	r.HandleFunc("/{id}/warnings", h.action(moderation.ActionWarning)).Methods(http.MethodPost)
	r.HandleFunc("/{id}/bans", h.action(moderation.ActionBan)).Methods(http.MethodPost)
	r.HandleFunc("/{id}/unbans", h.action(moderation.ActionUnban)).Methods(http.MethodPost)
	r.HandleFunc("/{id}/timeouts", h.action(moderation.ActionTimeout)).Methods(http.MethodPost)
	r.HandleFunc("/{id}/notes", h.action(moderation.ActionNote)).Methods(http.MethodPost)
	r.HandleFunc("/{id}/templates/{templateId}/apply", h.HandleApplyTemplate).Methods(http.MethodPost)
	r.HandleFunc("/{id}/bulk", h.HandleBulk).Methods(http.MethodPost)

	r.HandleFunc("/{id}/undo", h.stack((*moderation.Session).Undo)).Methods(http.MethodPost)
	r.HandleFunc("/{id}/redo", h.stack((*moderation.Session).Redo)).Methods(http.MethodPost)
	r.HandleFunc("/{id}/undo-batch", h.stack((*moderation.Session).UndoBatch)).Methods(http.MethodPost)
	r.HandleFunc("/{id}/redo-batch", h.stack((*moderation.Session).RedoBatch)).Methods(http.MethodPost)

	r.HandleFunc("/{id}/state", h.HandleState).Methods(http.MethodGet)
	r.HandleFunc("/{id}/journal", h.HandleJournal).Methods(http.MethodGet)
	r.HandleFunc("/{id}/journal/export", h.HandleJournalExport).Methods(http.MethodGet)
	r.HandleFunc("/{id}/analytics", h.HandleAnalytics).Methods(http.MethodGet)
	r.HandleFunc("/{id}/mirror-failures", h.HandleMirrorFailures).Methods(http.MethodGet)

	r.HandleFunc("/{id}/chat/queue", h.HandleChatQueue).Methods(http.MethodGet)
	r.HandleFunc("/{id}/chat/{messageId}/approve", h.decide(true)).Methods(http.MethodPost)
	r.HandleFunc("/{id}/chat/{messageId}/reject", h.decide(false)).Methods(http.MethodPost)
}

// session resolves the {id} route variable. It writes the error response
// and returns nil when the session is not open.
func (h *Handlers) session(w http.ResponseWriter, r *http.Request) *moderation.Session {
	s, err := h.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return nil
	}
	return s
}

// HandleListSessions lists the open sessions.
func (h *Handlers) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": h.sessions.List()})
}

// HandleOpenSession opens a moderation session for a stream.
func (h *Handlers) HandleOpenSession(w http.ResponseWriter, r *http.Request) {
	var opts moderation.SessionOptions
	if err := decodeJSON(r, &opts); err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.sessions.Open(opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("session opened via api", slog.String("session_id", s.ID()), slog.String("stream_id", s.Options().StreamID), slog.String("component", "http"))
	w.Header().Set("Location", "/sessions/"+s.ID())
	writeJSON(w, http.StatusCreated, sessionInfo(s))
}

func sessionInfo(s *moderation.Session) moderation.SessionInfo {
	return moderation.SessionInfo{ID: s.ID(), SessionOptions: s.Options(), Opened: s.Opened()}
}

// HandleGetSession returns the session and its current state.
func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session": sessionInfo(s),
		"state":   s.State(),
	})
}

// HandleCloseSession closes a session and discards its state.
func (h *Handlers) HandleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Close(mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type actionRequest struct {
	UserID  string `json:"userId"`
	Text    string `json:"text,omitempty"`
	Minutes int    `json:"minutes,omitempty"`
}

// action returns the handler applying one action of type t.
func (h *Handlers) action(t moderation.ActionType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := h.session(w, r)
		if s == nil {
			return
		}
		var req actionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		in := moderation.Intent{Type: t, UserID: req.UserID, Moderator: moderatorFrom(r.Context())}
		switch t {
		case moderation.ActionTimeout:
			in.Minutes = req.Minutes
		case moderation.ActionNote:
			in.Text = req.Text
		}
		a, err := s.Apply(in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, a)
	}
}

// HandleApplyTemplate applies an approved note template to a user.
func (h *Handlers) HandleApplyTemplate(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	var req struct {
		UserID string `json:"userId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	a, err := s.ApplyTemplate(moderation.Intent{
		UserID:     req.UserID,
		TemplateID: mux.Vars(r)["templateId"],
		Moderator:  moderatorFrom(r.Context()),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

type bulkRequest struct {
	UserIDs []string              `json:"userIds"`
	Action  moderation.ActionType `json:"action"`
	Minutes int                   `json:"minutes,omitempty"`
}

type bulkResponse struct {
	Failed  map[string]string   `json:"failed"`
	BatchID string              `json:"batchId"`
	Applied []moderation.Action `json:"applied"`
}

// HandleBulk applies one action to many users. Partial failures are
// reported per user with status 200.
func (h *Handlers) HandleBulk(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	var req bulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.Bulk(req.UserIDs, moderation.Intent{Type: req.Action, Minutes: req.Minutes, Moderator: moderatorFrom(r.Context())})
	if err != nil {
		writeError(w, r, err)
		return
	}
	applied := res.Applied
	if applied == nil {
		applied = []moderation.Action{}
	}
	writeJSON(w, http.StatusOK, bulkResponse{BatchID: res.BatchID, Applied: applied, Failed: res.FailedUsers()})
}

// stack returns the handler for an undo or redo operation. An empty stack
// answers 200 with applied=false.
func (h *Handlers) stack(op func(*moderation.Session) (moderation.StackResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := h.session(w, r)
		if s == nil {
			return
		}
		res, err := op(s)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// HandleState returns the session's moderation state.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	writeJSON(w, http.StatusOK, s.State())
}

func parseFilter(r *http.Request) (moderation.Filter, error) {
	q := r.URL.Query()
	return moderation.ParseFilter(q.Get("type"), q.Get("user"), q.Get("window"))
}

// HandleJournal lists journal entries, newest first, filtered by the
// type, user and window query parameters.
func (h *Handlers) HandleJournal(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": s.Journal(f)})
}

// HandleJournalExport downloads the filtered journal as CSV or JSON.
func (h *Handlers) HandleJournalExport(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "json" {
		writeError(w, r, &moderation.ValidationError{Field: "format", Reason: fmt.Sprintf("unsupported export format %q", format)})
		return
	}

	actions := slices.Values(s.Journal(f))
	name := fmt.Sprintf("moderation-%s-%s.%s", s.Options().StreamID, h.now().UTC().Format("20060102-150405"), format)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if format == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		err = moderation.WriteCSV(w, actions)
	} else {
		w.Header().Set("Content-Type", "application/json")
		err = moderation.WriteJSON(w, actions)
	}
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Warn("journal export interrupted", slog.Any("err", err), slog.String("component", "http"))
	}
}

// HandleAnalytics summarizes the filtered journal.
func (h *Handlers) HandleAnalytics(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Summary(f))
}

// HandleMirrorFailures lists recent mirroring failures, oldest first.
func (h *Handlers) HandleMirrorFailures(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	failures := s.MirrorFailures()
	if failures == nil {
		failures = []moderation.MirrorFailure{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"failures": failures})
}

// HandleChatQueue lists chat messages awaiting a decision.
func (h *Handlers) HandleChatQueue(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": s.PendingMessages()})
}

func (h *Handlers) decide(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := h.session(w, r)
		if s == nil {
			return
		}
		id := mux.Vars(r)["messageId"]
		var (
			m   moderation.ChatMessage
			err error
		)
		if approve {
			m, err = s.ApproveMessage(id)
		} else {
			m, err = s.RejectMessage(id)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}
