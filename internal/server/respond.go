package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/tickerbrief/internal/domain"
)

// envelope is the standard response shape: payload under "data", request
// metadata alongside it.
func envelope(data interface{}, meta map[string]interface{}) map[string]interface{} {
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return map[string]interface{}{
		"data":     data,
		"metadata": meta,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps the error taxonomy onto HTTP statuses: missing input is a
// 404 (the read names something that does not exist yet), permanent compute
// failures are a 422, everything else a 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case domain.IsMissingInput(err):
		status = http.StatusNotFound
	case domain.IsPermanent(err):
		status = http.StatusUnprocessableEntity
	}

	writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"kind":  domain.ErrorKind(err),
	})
}
