package errors

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// RespondError writes a standardized error response to the HTTP response writer
func RespondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   code,
		Message: message,
	})
}

// RespondValidationError writes a validation error response with field information
func RespondValidationError(w http.ResponseWriter, code, message, field string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   code,
		Message: message,
		Field:   field,
	})
}

// RespondConflict writes a conflict response, used when a request is well
// formed but the target cannot take it right now
func RespondConflict(w http.ResponseWriter, code, message string) {
	RespondError(w, http.StatusConflict, code, message)
}

// RespondInternalError writes an internal server error response
func RespondInternalError(w http.ResponseWriter, message string) {
	RespondError(w, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// RespondNotFound writes a not found error response
func RespondNotFound(w http.ResponseWriter, code, message string) {
	RespondError(w, http.StatusNotFound, code, message)
}

// RespondBadRequest writes a bad request error response
func RespondBadRequest(w http.ResponseWriter, code, message string) {
	RespondError(w, http.StatusBadRequest, code, message)
}

// RespondServiceUnavailable writes a service unavailable error response
func RespondServiceUnavailable(w http.ResponseWriter, code, message string) {
	RespondError(w, http.StatusServiceUnavailable, code, message)
}

