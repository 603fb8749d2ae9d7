package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/podushkina/taskpool/internal/queue"
	"github.com/podushkina/taskpool/internal/service"
	"github.com/podushkina/taskpool/internal/task"
	"github.com/podushkina/taskpool/internal/worker"
)

type Handler struct {
	service  *service.Service
	pool     *worker.Pool
	validate *validator.Validate
}

func NewHandler(svc *service.Service, pool *worker.Pool) *Handler {
	return &Handler{
		service:  svc,
		pool:     pool,
		validate: validator.New(),
	}
}

type CreateTaskRequest struct {
	Type   string      `json:"type" validate:"required"`
	Params task.Params `json:"params"`
}

type CancelTaskResponse struct {
	Cancelled bool `json:"cancelled"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "type is required")
		return
	}

	id, err := h.service.Submit(r.Context(), req.Type, req.Params)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	snap, err := h.service.Get(id)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, snap)
}

func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	respondJSON(w, http.StatusOK, snap)
}

// ListTasks accepts any number of ?status= filters.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	var statuses []task.Status
	for _, s := range r.URL.Query()["status"] {
		st, err := task.ParseStatus(s)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		statuses = append(statuses, st)
	}

	respondJSON(w, http.StatusOK, h.service.List(statuses...))
}

func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	ok, err := h.service.Cancel(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	respondJSON(w, http.StatusOK, CancelTaskResponse{Cancelled: ok})
}

func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Purge(chi.URLParam(r, "id")); err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListHandlers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.service.Types())
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.pool.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, task.ErrUnknownTaskType):
		return http.StatusBadRequest
	case errors.Is(err, task.ErrTaskNotTerminal):
		return http.StatusConflict
	case errors.Is(err, queue.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}
