package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/aihelper/internal/capture"
	"github.com/local/aihelper/internal/dispatcher"
	"github.com/local/aihelper/internal/metrics"
	"github.com/local/aihelper/internal/session"
	"github.com/local/aihelper/internal/statuscheck"
)

// Web is the loopback API the hotkey and tray shell talks to.
type Web struct {
	d        *dispatcher.Dispatcher
	provider string
	checker  *statuscheck.Checker
}

// New builds the API. checker may be nil.
func New(d *dispatcher.Dispatcher, providerName string, checker *statuscheck.Checker) *Web {
	return &Web{d: d, provider: providerName, checker: checker}
}

func (w *Web) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", w.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /v1/tasks/screenshot", w.handleScreenshot)
	mux.HandleFunc("POST /v1/tasks/clipboard", w.handleClipboard)
	mux.HandleFunc("POST /v1/tasks/drop", w.handleDrop)
	mux.HandleFunc("POST /v1/tasks/chat", w.handleNewChat)
	mux.HandleFunc("GET /v1/tasks/{id}", w.handleTask)

	mux.HandleFunc("GET /v1/sessions/{id}", w.handleSession)
	mux.HandleFunc("POST /v1/sessions/{id}/messages", w.handleFollowUp)
	mux.HandleFunc("DELETE /v1/sessions/{id}", w.handleCloseSession)

	mux.HandleFunc("GET /v1/memory", w.handleGetMemory)
	mux.HandleFunc("PUT /v1/memory", w.handlePutMemory)
}

type taskResp struct {
	TaskID    string `json:"task_id"`
	Trigger   string `json:"trigger,omitempty"`
	Status    string `json:"status"`
	Text      string `json:"text,omitempty"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms,omitempty"`
}

type errorResp struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type turnResp struct {
	Role   string `json:"role"`
	Text   string `json:"text"`
	Images int    `json:"images,omitempty"`
}

func writeJSON(wr http.ResponseWriter, status int, v any) {
	wr.Header().Set("Content-Type", "application/json")
	wr.WriteHeader(status)
	_ = json.NewEncoder(wr).Encode(v)
}

func writeError(wr http.ResponseWriter, err error) {
	writeJSON(wr, statusFor(err), errorResp{Error: err.Error(), Message: dispatcher.Message(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, dispatcher.ErrBusy), errors.Is(err, session.ErrFollowUpInFlight):
		return http.StatusConflict
	case errors.Is(err, dispatcher.ErrEmptyInput), errors.Is(err, session.ErrEmptyQuestion):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrClosed):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func outcomeResp(o dispatcher.Outcome) taskResp {
	resp := taskResp{
		TaskID:    o.TaskID,
		Trigger:   string(o.Trigger),
		Status:    "done",
		Text:      o.Text,
		Message:   o.Message,
		SessionID: o.SessionID,
		ElapsedMS: o.Elapsed.Milliseconds(),
	}
	if o.Err != nil {
		resp.Error = o.Err.Error()
		if o.Cancelled() {
			resp.Status = "cancelled"
		}
	}
	return resp
}

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	if r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}

// accepted answers a new task. With ?wait=1 it blocks until the outcome.
func (w *Web) accepted(wr http.ResponseWriter, r *http.Request, t *dispatcher.Ticket, err error) {
	if err != nil {
		writeError(wr, err)
		return
	}
	if wait := r.URL.Query().Get("wait"); wait == "1" || wait == "true" {
		select {
		case o := <-t.Done():
			writeJSON(wr, http.StatusOK, outcomeResp(o))
		case <-r.Context().Done():
		}
		return
	}
	writeJSON(wr, http.StatusAccepted, taskResp{TaskID: t.ID, Trigger: string(t.Trigger), Status: "pending"})
}

func (w *Web) handleHealth(wr http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok", "provider": w.provider, "busy": w.d.Busy()}
	if w.checker != nil {
		sum := w.checker.Summary(r.Context())
		if !sum.OK() {
			resp["status"] = "degraded"
		}
		resp["checks"] = sum
	}
	writeJSON(wr, http.StatusOK, resp)
}

func (w *Web) handleScreenshot(wr http.ResponseWriter, r *http.Request) {
	var req struct {
		Path      string `json:"path"`
		Cancelled bool   `json:"cancelled"`
		X         int    `json:"x"`
		Y         int    `json:"y"`
		W         int    `json:"w"`
		H         int    `json:"h"`
	}
	if err := decode(r, &req); err != nil {
		http.Error(wr, "invalid json", http.StatusBadRequest)
		return
	}
	var c capture.Capturer = capture.Static(strings.TrimSpace(req.Path))
	switch {
	case req.Cancelled:
		c = capture.Cancelled{}
	case strings.TrimSpace(req.Path) == "":
		writeError(wr, dispatcher.ErrEmptyInput)
		return
	}
	t, err := w.d.Screenshot(r.Context(), c, capture.Rect{X: req.X, Y: req.Y, W: req.W, H: req.H})
	w.accepted(wr, r, t, err)
}

func (w *Web) handleClipboard(wr http.ResponseWriter, r *http.Request) {
	t, err := w.d.Clipboard(r.Context())
	w.accepted(wr, r, t, err)
}

func (w *Web) handleDrop(wr http.ResponseWriter, r *http.Request) {
	var req struct {
		Path   string `json:"path"`
		Prompt string `json:"prompt"`
	}
	if err := decode(r, &req); err != nil {
		http.Error(wr, "invalid json", http.StatusBadRequest)
		return
	}
	t, err := w.d.Drop(r.Context(), req.Path, req.Prompt)
	w.accepted(wr, r, t, err)
}

func (w *Web) handleNewChat(wr http.ResponseWriter, r *http.Request) {
	t, err := w.d.NewChat(r.Context())
	w.accepted(wr, r, t, err)
}

func (w *Web) handleTask(wr http.ResponseWriter, r *http.Request) {
	t, ok := w.d.Task(r.PathValue("id"))
	if !ok {
		http.Error(wr, "unknown task", http.StatusNotFound)
		return
	}
	if o, done := t.Outcome(); done {
		writeJSON(wr, http.StatusOK, outcomeResp(o))
		return
	}
	writeJSON(wr, http.StatusOK, taskResp{TaskID: t.ID, Trigger: string(t.Trigger), Status: "pending",
		ElapsedMS: time.Since(t.StartedAt).Milliseconds()})
}

func (w *Web) handleSession(wr http.ResponseWriter, r *http.Request) {
	s, err := w.d.Session(r.PathValue("id"))
	if err != nil {
		writeError(wr, err)
		return
	}
	turns := s.Turns()
	out := make([]turnResp, 0, len(turns))
	for _, t := range turns {
		out = append(out, turnResp{Role: string(t.Role), Text: t.Text(), Images: len(t.Images())})
	}
	writeJSON(wr, http.StatusOK, map[string]any{"session_id": s.ID, "vendor": s.Vendor, "native": s.Native(), "turns": out})
}

func (w *Web) handleFollowUp(wr http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
	}
	if err := decode(r, &req); err != nil {
		http.Error(wr, "invalid json", http.StatusBadRequest)
		return
	}
	o := w.d.FollowUp(r.Context(), r.PathValue("id"), req.Question)
	if o.Err != nil && statusFor(o.Err) != http.StatusInternalServerError {
		writeError(wr, o.Err)
		return
	}
	// Vendor failures and timeouts are outcomes, not transport errors.
	writeJSON(wr, http.StatusOK, outcomeResp(o))
}

func (w *Web) handleCloseSession(wr http.ResponseWriter, r *http.Request) {
	// Archiving may outlive a shell that closes its window and exits.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 30*time.Second)
	defer cancel()
	if err := w.d.CloseSession(ctx, r.PathValue("id")); err != nil {
		writeError(wr, err)
		return
	}
	wr.WriteHeader(http.StatusNoContent)
}

func (w *Web) handleGetMemory(wr http.ResponseWriter, r *http.Request) {
	writeJSON(wr, http.StatusOK, map[string]string{"content": w.d.Memory().Load()})
}

func (w *Web) handlePutMemory(wr http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := decode(r, &req); err != nil {
		http.Error(wr, "invalid json", http.StatusBadRequest)
		return
	}
	if err := w.d.Memory().Save(req.Content); err != nil {
		log.Error().Err(err).Msg("saving memory failed")
		http.Error(wr, "cannot save memory", http.StatusInternalServerError)
		return
	}
	wr.WriteHeader(http.StatusNoContent)
}
