package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/notifyhub/actionqueue/internal/api/middleware"
	"github.com/notifyhub/actionqueue/internal/domain"
	"github.com/notifyhub/actionqueue/internal/service"
)

// JobHandler handles job submission, cancellation and progress streaming.
type JobHandler struct {
	svc    *service.JobService
	logger *zap.Logger
}

func NewJobHandler(svc *service.JobService, logger *zap.Logger) *JobHandler {
	return &JobHandler{svc: svc, logger: logger}
}

// Submit handles POST /api/v1/jobs
//
// @Summary     Submit a job
// @Tags        jobs
// @Accept      json
// @Produce     json
// @Param       body  body      domain.Job  true  "Job definition"
// @Success     202   {object}  map[string]string
// @Failure     422   {object}  map[string]string
// @Failure     503   {object}  map[string]string
// @Router      /api/v1/jobs [post]
func (h *JobHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var job domain.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id, err := h.svc.Submit(job)
	if err != nil {
		apimw.Logger(r.Context(), h.logger).Warn("submit job failed", zap.Error(err))
		mapError(w, err)
		return
	}
	apimw.Logger(r.Context(), h.logger).Debug("job accepted", zap.String("job_id", id))
	respondJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

// Progress handles GET /api/v1/jobs/{id}/progress
//
// The response is newline-delimited JSON, one domain.Progress per line,
// flushed as reports arrive. It ends when the job finishes or the client
// goes away.
//
// @Summary  Stream job progress
// @Tags     jobs
// @Produce  application/x-ndjson
// @Param    id   path      string  true  "Job UUID"
// @Success  200  {object}  domain.Progress
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/jobs/{id}/progress [get]
func (h *JobHandler) Progress(w http.ResponseWriter, r *http.Request) {
	seq, err := h.svc.Progress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	_ = rc.Flush()

	enc := json.NewEncoder(w)
	for p := range seq {
		if err := enc.Encode(p); err != nil {
			return
		}
		_ = rc.Flush()
	}
}

// Cancel handles DELETE /api/v1/jobs/{id}
//
// @Summary  Cancel a job
// @Tags     jobs
// @Param    id   path      string  true  "Job UUID"
// @Success  204
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/jobs/{id} [delete]
func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Cancel(chi.URLParam(r, "id")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
