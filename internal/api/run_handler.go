package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/trigger"
)

// maxListLimit — верхняя граница limit в списках.
const maxListLimit = 500

// ListRuns возвращает список runs с фильтрацией.
// GET /api/v1/runs?status=...&pipeline=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repo.RunFilter{Pipeline: q.Get("pipeline")}

	if s := q.Get("status"); s != "" {
		status, ok := domain.ParseRunStatus(s)
		if !ok {
			BadRequest(w, "invalid status")
			return
		}
		filter.Status = status
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit"), repo.DefaultListLimit); err != nil || filter.Limit <= 0 {
		BadRequest(w, "invalid limit")
		return
	}
	filter.Limit = min(filter.Limit, maxListLimit)

	if filter.Offset, err = intParam(q.Get("offset"), 0); err != nil || filter.Offset < 0 {
		BadRequest(w, "invalid offset")
		return
	}

	runs, err := h.runs.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// CreateRun запускает pipeline вручную.
// POST /api/v1/runs
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.Ref == "" && req.SHA == "" {
		BadRequest(w, "ref or sha is required")
		return
	}

	runs, err := h.orch.Trigger(r.Context(), req.Ref, req.SHA)
	if err != nil {
		h.orchestratorError(w, err)
		return
	}

	Accepted(w, RunsFromDomain(runs))
}

// GetRun возвращает run по ID вместе с результатами шагов.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromDomain(*run))
}

// ListRunSteps возвращает результаты шагов run.
// GET /api/v1/runs/{id}/steps
func (h *Handler) ListRunSteps(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "run not found") {
		return
	}

	steps := StepsFromDomain(run.Steps)
	List(w, steps, len(steps))
}

// CancelRun отменяет выполняющийся run.
// POST /api/v1/runs/{id}/cancel
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	err := h.orch.Cancel(id)
	if errors.Is(err, orchestrator.ErrRunNotActive) {
		run, getErr := h.runs.GetByID(r.Context(), id)
		if HandleRepoError(w, h.logger, getErr, "run not found") {
			return
		}
		InvalidState(w, "run is "+string(run.Status))
		return
	}
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Accepted(w, map[string]string{"id": id.String(), "status": "cancelling"})
}

// orchestratorError преобразует ошибку оркестратора в HTTP ответ.
func (h *Handler) orchestratorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidEvent):
		BadRequest(w, err.Error())
	case errors.Is(err, trigger.ErrForeignRepository):
		Forbidden(w, err.Error())
	case errors.Is(err, orchestrator.ErrStopped):
		Unavailable(w, "server is shutting down")
	default:
		InternalError(w, h.logger, err)
	}
}

// runID парсит {id} из пути.
func runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return uuid.Nil, false
	}
	return id, true
}

// intParam парсит целый query-параметр; пустая строка — def.
func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
