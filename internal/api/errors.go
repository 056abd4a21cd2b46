package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/hivelink/internal/directory"
	"github.com/nerrad567/hivelink/internal/frontend"
	"github.com/nerrad567/hivelink/internal/model"
	"github.com/nerrad567/hivelink/internal/rpc"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeForbidden   = "forbidden"
	ErrCodeInternal    = "internal_error"
	ErrCodeValidation  = "validation_error"
	ErrCodeTimeout     = "backend_timeout"
	ErrCodeUnavailable = "backend_unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeServiceError maps a Service error onto an HTTP error response.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("backend request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
			"request_id", requestID(r),
		)
		message = "internal server error"
	}
	var rpcErr *rpc.Error
	if errors.As(err, &rpcErr) && status != http.StatusInternalServerError {
		message = rpcErr.Message
	}
	writeError(w, status, code, message)
}

// errorStatus returns the HTTP status and error code for err.
func errorStatus(err error) (int, string) {
	if errors.Is(err, model.ErrInvalid) || errors.Is(err, directory.ErrInvalid) {
		return http.StatusBadRequest, ErrCodeValidation
	}
	if errors.Is(err, frontend.ErrUnknownSubscription) {
		return http.StatusNotFound, ErrCodeNotFound
	}
	switch rpc.CodeOf(err) {
	case rpc.CodeBadRequest:
		return http.StatusBadRequest, ErrCodeValidation
	case rpc.CodeForbidden:
		return http.StatusForbidden, ErrCodeForbidden
	case rpc.CodeNotFound:
		return http.StatusNotFound, ErrCodeNotFound
	case rpc.CodeTimeout:
		return http.StatusGatewayTimeout, ErrCodeTimeout
	case rpc.CodeUnavailable:
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}
