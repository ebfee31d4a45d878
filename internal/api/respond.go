package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/iammorganparry/clive/apps/semantic-memory/internal/embedding"
	"github.com/iammorganparry/clive/apps/semantic-memory/internal/memory"
	"github.com/iammorganparry/clive/apps/semantic-memory/internal/models"
	"github.com/iammorganparry/clive/apps/semantic-memory/internal/store"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, models.ErrorResponse{Status: models.StatusError, Detail: detail})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("empty body")
		}
		return err
	}
	return nil
}

// errorStatus maps service errors to HTTP status codes: caller mistakes are
// 400, unreachable dependencies are 503 so clients can retry.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, memory.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, embedding.ErrUnavailable), errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
