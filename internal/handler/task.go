package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/BuzzLyutic/family-hub/internal/model"
	"github.com/BuzzLyutic/family-hub/internal/repo"
	"github.com/BuzzLyutic/family-hub/internal/service"
	"github.com/BuzzLyutic/family-hub/internal/smartlist"
	"github.com/BuzzLyutic/family-hub/pkg/respond"
)

type TaskHandler struct {
	service *service.TaskService
	logger  *zap.Logger
}

func NewTaskHandler(srv *service.TaskService, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		service: srv,
		logger:  logger,
	}
}

// Routes монтирует обработчики под /api/families/{familyID}
func (h *TaskHandler) Routes(r chi.Router) {
	r.Route("/api/families/{familyID}", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", h.Create)
			r.Get("/", h.List)
			r.Post("/batch", h.Batch)
			r.Get("/{id}", h.Get)
			r.Patch("/{id}", h.Update)
			r.Delete("/{id}", h.Delete)
			r.Delete("/{id}/permanent", h.PermanentDelete)
			r.Post("/{id}/complete", h.Complete)
		})
		r.Get("/smart-lists", h.SmartLists)
		r.Get("/smart-lists/{type}", h.SmartList)
		r.Get("/stats", h.Stats)
	})
}

func familyID(r *http.Request) string { return chi.URLParam(r, "familyID") }

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength == 0 {
		respond.Error(w, r, http.StatusBadRequest, "empty request body")
		return
	}

	var req model.NewTask
	if err := respond.Decode(r, &req); err != nil {
		h.logger.Debug("failed to decode json", zap.Error(err))
		respond.Error(w, r, http.StatusBadRequest, fmt.Sprintf("invalid json: %v", err))
		return
	}

	task, err := h.service.Create(r.Context(), familyID(r), req)
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/families/%s/tasks/%s", task.FamilyID, task.ID))
	respond.JSON(w, r, http.StatusCreated, task)
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	task, err := h.service.Get(r.Context(), familyID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, task)
}

func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter, err := parseFilter(q)
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}
	sort, err := parseSort(q)
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}

	limit := 0
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			respond.Error(w, r, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	tasks, err := h.service.List(r.Context(), familyID(r), filter, sort, limit)
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, tasks)
}

func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch model.TaskPatch
	if err := respond.Decode(r, &patch); err != nil {
		respond.Error(w, r, http.StatusBadRequest, "invalid json")
		return
	}
	if patch.Empty() {
		respond.Error(w, r, http.StatusBadRequest, "empty patch")
		return
	}

	task, err := h.service.Update(r.Context(), familyID(r), chi.URLParam(r, "id"), patch)
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, task)
}

func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), familyID(r), chi.URLParam(r, "id")); err != nil {
		h.handleErrors(w, r, err)
		return
	}
	respond.NoContent(w, r)
}

func (h *TaskHandler) PermanentDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.PermanentDelete(r.Context(), familyID(r), chi.URLParam(r, "id")); err != nil {
		h.handleErrors(w, r, err)
		return
	}
	respond.NoContent(w, r)
}

type completeRequest struct {
	ActualDuration *int `json:"actual_duration"`
}

func (h *TaskHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	// тело необязательно
	if r.ContentLength != 0 {
		if err := respond.Decode(r, &req); err != nil {
			respond.Error(w, r, http.StatusBadRequest, "invalid json")
			return
		}
	}

	task, err := h.service.Complete(r.Context(), familyID(r), chi.URLParam(r, "id"), req.ActualDuration)
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, task)
}

type batchRequest struct {
	Items []repo.BatchItem `json:"items"`
}

type batchResult struct {
	ID    string      `json:"id"`
	Task  *model.Task `json:"task,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Batch применяет обновления независимо; ответ 200 даже при частичных ошибках.
func (h *TaskHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, http.StatusBadRequest, "invalid json")
		return
	}

	results, err := h.service.BatchUpdate(r.Context(), familyID(r), req.Items)
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}

	out := make([]batchResult, len(results))
	for i, res := range results {
		out[i] = batchResult{ID: res.ID, Task: res.Task}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
		}
	}
	respond.JSON(w, r, http.StatusOK, map[string]any{"results": out})
}

func (h *TaskHandler) SmartLists(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, r, http.StatusOK, h.service.SmartLists())
}

func (h *TaskHandler) SmartList(w http.ResponseWriter, r *http.Request) {
	t := smartlist.Type(chi.URLParam(r, "type"))
	tasks, err := h.service.SmartList(r.Context(), familyID(r), t, r.URL.Query().Get("user_id"))
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, tasks)
}

func (h *TaskHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetStats(r.Context(), familyID(r))
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}
	respond.JSON(w, r, http.StatusOK, stats)
}

func (h *TaskHandler) handleErrors(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repo.ErrorNotFound):
		respond.Error(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, repo.ErrValidation):
		respond.ErrorDetails(w, r, http.StatusBadRequest, "validation error", err.Error())
	default:
		h.logger.Error("internal error",
			zap.String("family_id", familyID(r)), zap.String("path", r.URL.Path), zap.Error(err))
		respond.Error(w, r, http.StatusInternalServerError, "internal error")
	}
}

// list принимает и повторяющиеся параметры, и значения через запятую
func list(q url.Values, key string) []string {
	var out []string
	for _, v := range q[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func invalidParam(name, value string) error {
	return fmt.Errorf("%w: invalid %s %q", repo.ErrValidation, name, value)
}

func parseFilter(q url.Values) (*model.TaskFilter, error) {
	var f model.TaskFilter

	for _, v := range list(q, "status") {
		s := model.Status(v)
		if !s.Valid() {
			return nil, invalidParam("status", v)
		}
		f.Status = append(f.Status, s)
	}
	for _, v := range list(q, "priority") {
		p := model.Priority(v)
		if !p.Valid() {
			return nil, invalidParam("priority", v)
		}
		f.Priority = append(f.Priority, p)
	}
	f.AssignedTo = list(q, "assigned_to")
	f.Tags = list(q, "tags")
	f.Search = strings.TrimSpace(q.Get("search"))

	var rng model.DateRange
	for key, dst := range map[string]**time.Time{"due_from": &rng.Start, "due_to": &rng.End} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		d, err := model.ParseDate(v)
		if err != nil {
			return nil, invalidParam(key, v)
		}
		*dst = &d
	}
	if rng.Start != nil || rng.End != nil {
		f.DueDate = &rng
	}
	return &f, nil
}

func parseSort(q url.Values) (*model.TaskSort, error) {
	field := q.Get("sort")
	if field == "" {
		return nil, nil
	}
	s := &model.TaskSort{Field: model.SortField(field), Direction: model.Asc}
	if dir := q.Get("dir"); dir != "" {
		s.Direction = model.Direction(strings.ToLower(dir))
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
