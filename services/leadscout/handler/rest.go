package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/shubhanshu-sudo/Scrapper/internal/domain"
	"github.com/shubhanshu-sudo/Scrapper/internal/leads"
	"github.com/shubhanshu-sudo/Scrapper/internal/orchestrator"
	"github.com/shubhanshu-sudo/Scrapper/pkg/telemetry"
)

// Tasks is the orchestrator surface the API drives.
type Tasks interface {
	Start(ctx context.Context, req orchestrator.Request) (string, error)
	Get(ctx context.Context, taskID string) (*domain.Task, error)
	Cancel(ctx context.Context, taskID string) error
	List(ctx context.Context, limit int) ([]*domain.Task, error)
}

// Leads is the read and management side of the lead store.
type Leads interface {
	List(ctx context.Context, f leads.Filter) (*leads.Page, error)
	ByTask(ctx context.Context, taskID string, limit int) ([]*domain.Lead, error)
	Delete(ctx context.Context, id string) error
	DeleteMany(ctx context.Context, ids []string) (int, error)
	Stats(ctx context.Context) (*leads.Stats, error)
	Keywords(ctx context.Context) ([]string, error)
	ListTasks(ctx context.Context, limit int) ([]*domain.Task, error)
}

// REST serves the scrape and lead management API.
type REST struct {
	tasks  Tasks
	leads  Leads
	logger *slog.Logger
}

// NewREST creates a new REST handler.
func NewREST(tasks Tasks, leads Leads, logger *slog.Logger) *REST {
	return &REST{tasks: tasks, leads: leads, logger: logger}
}

// Routes mounts every endpoint under r.
func (h *REST) Routes(r chi.Router) {
	r.Post("/scrape", h.Scrape)
	r.Get("/status/{id}", h.Status)
	r.Get("/tasks", h.TaskHistory)
	r.Get("/tasks/live", h.LiveTasks)
	r.Post("/tasks/{id}/cancel", h.Cancel)

	r.Get("/leads", h.ListLeads)
	r.Get("/leads/task/{id}", h.TaskLeads)
	r.Delete("/leads/{id}", h.DeleteLead)
	r.Post("/leads/bulk-delete", h.BulkDelete)

	r.Get("/stats", h.Stats)
	r.Get("/keywords", h.Keywords)
}

// ScrapeRequest is the JSON body for POST /api/v1/scrape.
type ScrapeRequest struct {
	Keywords    []string `json:"keywords"`
	Locations   []string `json:"locations"`
	Parallelism int      `json:"parallel_count"`
	CallbackURL string   `json:"callback_url,omitempty"`
}

// BulkDeleteRequest is the JSON body for POST /api/v1/leads/bulk-delete.
type BulkDeleteRequest struct {
	LeadIDs []string `json:"lead_ids"`
}

// Scrape handles POST /api/v1/scrape.
func (h *REST) Scrape(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.Tracer().Start(r.Context(), "rest.scrape")
	defer span.End()

	var req ScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := h.tasks.Start(ctx, orchestrator.Request{
		Keywords:    req.Keywords,
		Locations:   req.Locations,
		Parallelism: req.Parallelism,
		CallbackURL: req.CallbackURL,
		Source:      "api",
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "start failed")
		h.fail(w, err, "failed to start task")
		return
	}
	span.SetAttributes(attribute.String("task.id", id))

	task, err := h.tasks.Get(ctx, id)
	if err != nil {
		h.fail(w, err, "failed to read task")
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

// Status handles GET /api/v1/status/{id}.
func (h *REST) Status(w http.ResponseWriter, r *http.Request) {
	task, err := h.tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err, "failed to retrieve task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// Cancel handles POST /api/v1/tasks/{id}/cancel.
func (h *REST) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.tasks.Cancel(r.Context(), id); err != nil {
		h.fail(w, err, "failed to cancel task")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id, "message": "Cancellation requested"})
}

// LiveTasks handles GET /api/v1/tasks/live.
func (h *REST) LiveTasks(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit", leads.DefaultLimit)
	if !ok {
		return
	}
	out, err := h.tasks.List(r.Context(), limit)
	if err != nil {
		h.fail(w, err, "failed to list tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": nonNilTasks(out)})
}

// TaskHistory handles GET /api/v1/tasks.
func (h *REST) TaskHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit", leads.DefaultLimit)
	if !ok {
		return
	}
	out, err := h.leads.ListTasks(r.Context(), limit)
	if err != nil {
		h.fail(w, err, "failed to list task history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": nonNilTasks(out)})
}

// ListLeads handles GET /api/v1/leads.
func (h *REST) ListLeads(w http.ResponseWriter, r *http.Request) {
	page, ok := intParam(w, r, "page", 1)
	if !ok {
		return
	}
	limit, ok := intParam(w, r, "limit", leads.DefaultLimit)
	if !ok {
		return
	}
	q := r.URL.Query()
	out, err := h.leads.List(r.Context(), leads.Filter{
		Page:    page,
		Limit:   limit,
		Search:  q.Get("search"),
		Keyword: q.Get("keyword"),
	})
	if err != nil {
		h.fail(w, err, "failed to list leads")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// TaskLeads handles GET /api/v1/leads/task/{id}.
func (h *REST) TaskLeads(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	out, err := h.leads.ByTask(r.Context(), id, leads.TaskLeadsLimit)
	if err != nil {
		h.fail(w, err, "failed to list leads")
		return
	}
	if out == nil {
		out = []*domain.Lead{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": id, "leads": out, "count": len(out)})
}

// DeleteLead handles DELETE /api/v1/leads/{id}.
func (h *REST) DeleteLead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.leads.Delete(r.Context(), id); err != nil {
		h.fail(w, err, "failed to delete lead")
		return
	}
	h.logger.Info("lead deleted", slog.String("lead_id", id))
	writeJSON(w, http.StatusOK, map[string]string{"message": "Lead deleted successfully"})
}

// BulkDelete handles POST /api/v1/leads/bulk-delete.
func (h *REST) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var req BulkDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.LeadIDs) == 0 {
		writeError(w, http.StatusBadRequest, "field 'lead_ids' must not be empty")
		return
	}
	n, err := h.leads.DeleteMany(r.Context(), req.LeadIDs)
	if err != nil {
		h.fail(w, err, "failed to delete leads")
		return
	}
	h.logger.Info("leads deleted", slog.Int("requested", len(req.LeadIDs)), slog.Int("deleted", n))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Successfully deleted %d leads", n),
		"deleted": n,
	})
}

// Stats handles GET /api/v1/stats.
func (h *REST) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.leads.Stats(r.Context())
	if err != nil {
		h.fail(w, err, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Keywords handles GET /api/v1/keywords.
func (h *REST) Keywords(w http.ResponseWriter, r *http.Request) {
	kws, err := h.leads.Keywords(r.Context())
	if err != nil {
		h.fail(w, err, "failed to list keywords")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keywords": kws})
}

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// fail maps domain errors to status codes. Anything unrecognised is a 500
// and is logged.
func (h *REST) fail(w http.ResponseWriter, err error, msg string) {
	var (
		taskNotFound *domain.TaskNotFoundError
		leadNotFound *domain.LeadNotFoundError
		terminal     *domain.TaskTerminalError
		invalid      *domain.InvalidRequestError
	)
	switch {
	case errors.As(err, &taskNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.As(err, &leadNotFound):
		writeError(w, http.StatusNotFound, "lead not found")
	case errors.As(err, &terminal):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error(msg, slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, msg)
	}
}

func intParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("query parameter '%s' must be a positive integer", name))
		return 0, false
	}
	return n, true
}

func nonNilTasks(ts []*domain.Task) []*domain.Task {
	if ts == nil {
		return []*domain.Task{}
	}
	return ts
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
