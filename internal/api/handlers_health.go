package api

import (
	"net/http"

	"github.com/iammorganparry/clive/apps/semantic-memory/internal/memory"
	"github.com/iammorganparry/clive/apps/semantic-memory/internal/models"
)

type HealthHandler struct {
	svc *memory.Service
}

func NewHealthHandler(svc *memory.Service) *HealthHandler {
	return &HealthHandler{svc: svc}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{
		Status: models.StatusOK,
	}

	// Check store
	if err := h.svc.Ping(r.Context()); err != nil {
		resp.Checks.Store = models.ServiceCheck{Status: models.StatusError, Message: err.Error()}
		resp.Status = models.StatusDegraded
	} else {
		resp.Checks.Store = models.ServiceCheck{Status: models.StatusOK}
	}

	// Check embedding provider
	if !h.svc.EmbedderHealthy(r.Context()) {
		resp.Checks.Embedding = models.ServiceCheck{Status: models.StatusError, Message: "embedding provider unreachable"}
		resp.Status = models.StatusDegraded
	} else {
		resp.Checks.Embedding = models.ServiceCheck{Status: models.StatusOK}
	}

	status := http.StatusOK
	if resp.Status != models.StatusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
