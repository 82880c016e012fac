// Package httputil holds the JSON response helpers shared by the HTTP
// handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/banshee-data/shootpoints/internal/monitoring"
	"github.com/banshee-data/shootpoints/internal/surveyerr"
)

var logf = monitoring.Component("http")

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string         `json:"error"`
	Code  surveyerr.Code `json:"code,omitempty"`
}

// WriteJSON writes data as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logf("failed to encode json response: %v", err)
	}
}

// WriteJSONOK writes data with 200 OK.
func WriteJSONOK(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, data)
}

// WriteJSONError writes an error body with no taxonomy code.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorBody{Error: msg})
}

// WriteError maps err onto an HTTP status by its survey error code.
func WriteError(w http.ResponseWriter, err error) {
	code := surveyerr.CodeOf(err)
	status := StatusFor(code)
	if status >= 500 {
		logf("request failed: %v", err)
	}
	WriteJSON(w, status, ErrorBody{Error: err.Error(), Code: code})
}

// StatusFor returns the HTTP status used for a survey error code.
func StatusFor(code surveyerr.Code) int {
	switch code {
	case surveyerr.Validation, surveyerr.AmbiguousResection:
		return http.StatusUnprocessableEntity
	case surveyerr.PrerequisiteNotMet:
		return http.StatusPreconditionFailed
	case surveyerr.GeometryCapacity, surveyerr.Conflict, surveyerr.Busy:
		return http.StatusConflict
	case surveyerr.NotFound:
		return http.StatusNotFound
	case surveyerr.Timeout:
		return http.StatusGatewayTimeout
	case surveyerr.Connection, surveyerr.Protocol:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// DecodeJSON reads a JSON request body into v, rejecting unknown fields.
// A malformed body comes back as a validation error.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return surveyerr.NewValidation("request body too large")
		}
		return surveyerr.NewValidation("invalid request body: %v", err)
	}
	return nil
}

// MethodNotAllowed writes a 405 Method Not Allowed response.
func MethodNotAllowed(w http.ResponseWriter) {
	WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// BadRequest writes a 400 Bad Request response with the given message.
func BadRequest(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusBadRequest, msg)
}

// NotFound writes a 404 Not Found response.
func NotFound(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusNotFound, msg)
}
