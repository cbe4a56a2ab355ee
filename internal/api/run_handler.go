package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shaiso/metamigrate/internal/domain"
	"github.com/shaiso/metamigrate/internal/repo"
	"github.com/shaiso/metamigrate/internal/telemetry"
	"github.com/shaiso/metamigrate/internal/trigger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ListRuns возвращает список runs с фильтрацией.
// GET /api/v1/runs?state=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{Limit: defaultListLimit}

	if state := r.URL.Query().Get("state"); state != "" {
		filter.State = domain.RunState(state)
		if !filter.State.IsValid() {
			badRequest(w, "invalid state")
			return
		}
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			badRequest(w, "invalid limit")
			return
		}
		filter.Limit = min(limit, maxListLimit)
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			badRequest(w, "invalid offset")
			return
		}
		filter.Offset = offset
	}

	runs, err := h.runs.List(r.Context(), filter)
	if err != nil {
		respondError(w, r, err)
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	writeList(w, result, len(result))
}

// StartRun запускает workflow и сразу возвращает run, не дожидаясь завершения.
// POST /api/v1/runs
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid request body")
		return
	}

	id, err := h.starter.Start(r.Context(), domain.RunInput{
		Database:    req.Database,
		Source:      trigger.SourceAPI,
		RequestedBy: req.RequestedBy,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	log := telemetry.FromContext(r.Context())
	log.Info("run triggered", "run_id", id, "source", trigger.SourceAPI)

	run, err := h.runs.GetByID(r.Context(), id)
	if err != nil {
		// Run уже запущен, ответ всё равно должен вернуть его ID
		log.Warn("failed to read started run", "run_id", id, "error", err)
		writeData(w, http.StatusAccepted, map[string]uuid.UUID{"id": id})
		return
	}

	writeData(w, http.StatusAccepted, RunFromDomain(*run))
}

// GetRun возвращает run по ID.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		badRequest(w, "invalid run id")
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeData(w, http.StatusOK, RunFromDomain(*run))
}
