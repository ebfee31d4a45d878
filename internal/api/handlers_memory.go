package api

import (
	"log/slog"
	"net/http"

	"github.com/iammorganparry/clive/apps/semantic-memory/internal/memory"
	"github.com/iammorganparry/clive/apps/semantic-memory/internal/models"
)

type MemoryHandler struct {
	svc    *memory.Service
	logger *slog.Logger
}

func NewMemoryHandler(svc *memory.Service, logger *slog.Logger) *MemoryHandler {
	return &MemoryHandler{svc: svc, logger: logger}
}

// Set handles POST /memory/set
func (h *MemoryHandler) Set(w http.ResponseWriter, r *http.Request) {
	var req models.SetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	key, err := h.svc.Set(r.Context(), &req)
	if err != nil {
		h.fail(w, r, "memory set failed", err)
		return
	}
	writeJSON(w, http.StatusOK, models.SetResponse{Status: models.StatusOK, Key: key})
}

// Get handles POST /memory/get
func (h *MemoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	var req models.GetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	mem, err := h.svc.Get(r.Context(), req.Key, req.UserID)
	if err != nil {
		h.fail(w, r, "memory get failed", err)
		return
	}
	if mem == nil {
		writeJSON(w, http.StatusOK, models.GetResponse{Status: models.StatusNotFound})
		return
	}
	item := models.NewMemoryItem(mem)
	writeJSON(w, http.StatusOK, models.GetResponse{Status: models.StatusOK, Memory: &item})
}

// Search handles POST /memory/search
func (h *MemoryHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	results, err := h.svc.Search(r.Context(), &req)
	if err != nil {
		h.fail(w, r, "memory search failed", err)
		return
	}

	items := make([]models.MemoryItem, len(results))
	for i, res := range results {
		items[i] = models.NewScoredItem(res)
	}
	writeJSON(w, http.StatusOK, models.SearchResponse{Status: models.StatusOK, Results: items})
}

// Forget handles POST /memory/forget
func (h *MemoryHandler) Forget(w http.ResponseWriter, r *http.Request) {
	var req models.ForgetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	found, err := h.svc.Forget(r.Context(), req.Key, req.UserID)
	if err != nil {
		h.fail(w, r, "memory forget failed", err)
		return
	}
	status := models.StatusOK
	if !found {
		status = models.StatusNotFound
	}
	writeJSON(w, http.StatusOK, models.ForgetResponse{Status: status, Key: req.Key})
}

// Escalate handles POST /escalate, which is reserved but not implemented.
func Escalate(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotImplemented, "Escalation not yet implemented")
}

func (h *MemoryHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "error", err, "request_id", requestIDFrom(r.Context()))
	}
	writeError(w, status, err.Error())
}
