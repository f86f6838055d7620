// Package handlers implements the HTTP surface of the assistant server:
// the chat WebSocket, uploads, user accounts, and the operational
// endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lumenlabs/lumen/pkg/gateway/apierror"
	"github.com/lumenlabs/lumen/pkg/gateway/mw"
)

func requestIDFromContext(ctx context.Context) string {
	if id, ok := mw.RequestIDFrom(ctx); ok {
		return id
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, apiErr *apierror.Error) {
	if apiErr.RequestID == "" {
		apiErr.RequestID = requestIDFromContext(r.Context())
	}
	writeJSON(w, status, apierror.Envelope{Error: apiErr})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, &apierror.Error{
		Type:    apierror.ErrInvalidRequest,
		Message: "method not allowed",
		Code:    "method_not_allowed",
	})
}

// decodeJSON reads a request body into dst. The body limit middleware
// has already capped the size.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("request body is not valid JSON")
	}
	return nil
}

// NotFoundHandler answers anything the mux does not route.
type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, apierror.NotFound("not found"))
}
