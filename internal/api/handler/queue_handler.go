package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/notifyhub/actionqueue/internal/service"
)

// QueueHandler exposes the scheduling state and the start/stop switch.
type QueueHandler struct {
	svc    *service.JobService
	logger *zap.Logger
}

func NewQueueHandler(svc *service.JobService, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{svc: svc, logger: logger}
}

// Get handles GET /api/v1/queue
//
// @Summary  Queue snapshot
// @Tags     queue
// @Produce  json
// @Success  200  {object}  service.QueueSnapshot
// @Router   /api/v1/queue [get]
func (h *QueueHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.Snapshot())
}

// Start handles POST /api/v1/queue/start
func (h *QueueHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Start(); err != nil {
		mapError(w, err)
		return
	}
	h.logger.Info("queue started via api")
	respondJSON(w, http.StatusOK, h.svc.Snapshot())
}

// Stop handles POST /api/v1/queue/stop
func (h *QueueHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.svc.Stop()
	h.logger.Info("queue stopped via api")
	respondJSON(w, http.StatusOK, h.svc.Snapshot())
}
