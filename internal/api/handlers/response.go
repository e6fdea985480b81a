// Package handlers provides the HTTP handlers of the build service.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/narvanalabs/jsbuilder/internal/api/errors"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	apierrors.WriteJSON(w, status, data)
}

// WriteBadRequest writes a 400 Bad Request response.
func WriteBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	apierrors.WriteError(w, apierrors.NewValidationError(message).WithRequestID(middleware.GetReqID(r.Context())))
}

// WriteInternalError writes a 500 Internal Server Error response.
func WriteInternalError(w http.ResponseWriter, r *http.Request, message string) {
	apierrors.WriteError(w, apierrors.NewInternalError(message).WithRequestID(middleware.GetReqID(r.Context())))
}
