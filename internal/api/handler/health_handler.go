package handler

import "net/http"

// QueueProbe reports whether the queue is currently started.
type QueueProbe func() bool

// HealthHandler serves the liveness probe endpoint.
type HealthHandler struct {
	started QueueProbe
}

func NewHealthHandler(started QueueProbe) *HealthHandler {
	return &HealthHandler{started: started}
}

// Health handles GET /health
//
// The server is live whether or not the queue is started; the queue field
// only tells operators which of the two it is.
//
// @Summary  Liveness probe
// @Tags     system
// @Produce  json
// @Success  200  {object}  map[string]string
// @Router   /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	queue := "stopped"
	if h.started != nil && h.started() {
		queue = "started"
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "queue": queue})
}
