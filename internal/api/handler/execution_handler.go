package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/notifyhub/actionqueue/internal/domain"
	"github.com/notifyhub/actionqueue/internal/service"
)

// ExecutionHandler serves the execution journal.
type ExecutionHandler struct {
	svc    *service.JobService
	logger *zap.Logger
}

func NewExecutionHandler(svc *service.JobService, logger *zap.Logger) *ExecutionHandler {
	return &ExecutionHandler{svc: svc, logger: logger}
}

// List handles GET /api/v1/executions
//
// @Summary  List finished executions with filtering and pagination
// @Tags     executions
// @Produce  json
// @Param    outcome  query     string  false  "Filter by outcome"
// @Param    name     query     string  false  "Filter by job name"
// @Param    page     query     int     false  "Page number (default 1)"
// @Param    limit    query     int     false  "Items per page (default 20, max 100)"
// @Success  200      {object}  map[string]any
// @Failure  422      {object}  map[string]string
// @Router   /api/v1/executions [get]
func (h *ExecutionHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := parseListFilter(r)
	executions, total, err := h.svc.Executions(r.Context(), filter)
	if err != nil {
		h.logger.Warn("list executions failed", zap.Error(err))
		mapError(w, err)
		return
	}
	if executions == nil {
		executions = []*domain.Execution{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"data":  executions,
		"total": total,
		"page":  filter.Page,
		"limit": filter.Limit,
	})
}

// GetByID handles GET /api/v1/executions/{id}
//
// @Summary  Get an execution by job ID
// @Tags     executions
// @Produce  json
// @Param    id   path      string  true  "Job UUID"
// @Success  200  {object}  domain.Execution
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/executions/{id} [get]
func (h *ExecutionHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	e, err := h.svc.Execution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, e)
}

func parseListFilter(r *http.Request) domain.ListFilter {
	q := r.URL.Query()
	filter := domain.ListFilter{Page: 1, Limit: 20, Name: q.Get("name")}

	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		filter.Page = p
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 100 {
		filter.Limit = l
	}
	if o := q.Get("outcome"); o != "" {
		oc := domain.Outcome(o)
		filter.Outcome = &oc
	}
	return filter
}
