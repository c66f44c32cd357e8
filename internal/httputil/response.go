package httputil

import (
	"encoding/json"
	"net/http"

	"principales/internal/errors"
	"principales/internal/tracing"
)

// WriteJSON writes v as a JSON body with the given status
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to its HTTP status and writes the API error body
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	WriteJSON(w, errors.HTTPStatusCode(err), errors.ToHTTPResponse(err, tracing.GetRequestID(r.Context())))
}
