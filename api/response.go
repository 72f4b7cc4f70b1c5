package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/xraph/bursar"
)

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one failure. Field is set for validation errors.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message, field string) {
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{Code: code, Message: message, Field: field}})
}

// fail maps an engine error to its status code.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve bursar.ValidationError
	switch {
	case errors.Is(err, bursar.ErrMissingScope):
		writeError(w, http.StatusUnauthorized, "missing_scope", "X-School-ID header is required", "")
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, "validation", ve.Message, ve.Field)
	case bursar.IsValidation(err):
		writeError(w, http.StatusBadRequest, "validation", message(err), "")
	case bursar.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", message(err), "")
	case bursar.IsConflict(err):
		writeError(w, http.StatusConflict, "conflict", message(err), "")
	case bursar.IsInvalidState(err):
		writeError(w, http.StatusUnprocessableEntity, "invalid_state", message(err), "")
	default:
		h.logger.Error("api: request failed",
			"request_id", RequestID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error", "")
	}
}

// decode reads a JSON body into dst and runs its validate tags.
func (h *Handler) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return bursar.Invalid("body", "malformed JSON: %v", err)
	}
	if err := h.validate.Struct(dst); err != nil {
		var fields validator.ValidationErrors
		if errors.As(err, &fields) && len(fields) > 0 {
			fe := fields[0]
			return bursar.Invalid(fe.Field(), "failed %q check", fe.Tag())
		}
		return bursar.Invalid("body", "%v", err)
	}
	return nil
}

func message(err error) string {
	return strings.TrimPrefix(err.Error(), "bursar: ")
}

func notFoundID(kind, raw string) error {
	return fmt.Errorf("%w: %s %q", bursar.ErrNotFound, kind, raw)
}
