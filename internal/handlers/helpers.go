package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"perfeval-dashboard/internal/middleware"
	"perfeval-dashboard/internal/models"
	"perfeval-dashboard/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func requestID(r *http.Request) string {
	if id := middleware.GetRequestID(r.Context()); id != "" {
		return id
	}
	return r.Header.Get("X-Request-ID")
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: requestID(r),
		},
	}
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	resp := errorResp(code, message, r)
	resp.Error.Fields = fields
	return resp
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		vErr *services.ValidationError
		sErr *services.InvalidStateError
		tErr *services.TransportError
	)
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", vErr.Fields, r))
	case errors.As(err, &sErr):
		writeJSON(w, http.StatusConflict, errorResp("INVALID_STATE", sErr.Message, r))
	case errors.As(err, &tErr):
		writeJSON(w, http.StatusBadGateway, errorResp("UPSTREAM_ERROR", tErr.Error(), r))
	default:
		log.Printf("[Handlers] Unexpected error on %s %s: %v", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
	}
}

// decodeOptionalJSON decodes the body into v. An empty body leaves v untouched
// and reports false.
func decodeOptionalJSON(r *http.Request, v interface{}) (bool, error) {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
