package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"propledger/internal/middleware"
	"propledger/internal/services"
	"propledger/internal/store"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// errorStatus maps a service error onto an HTTP status and a stable code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, services.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "insufficient_funds"
	case errors.Is(err, services.ErrInvalidStateTransition):
		return http.StatusConflict, "invalid_state_transition"
	case errors.Is(err, services.ErrGatewayUnavailable):
		return http.StatusBadGateway, "gateway_unavailable"
	default:
		return http.StatusInternalServerError, ""
	}
}

// respondServiceError writes err for the client. Unclassified errors are
// logged and replaced by fallback so internals never leak.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError || status == http.StatusBadGateway {
		h.logger.Error(fallback, zap.String("path", r.URL.Path), zap.Error(err))
	}
	if status == http.StatusInternalServerError {
		respondError(w, status, fallback)
		return
	}
	body := map[string]string{"error": code}
	var svcErr *services.Error
	if errors.As(err, &svcErr) && svcErr.Msg != "" {
		body["message"] = svcErr.Msg
	}
	respondJSON(w, status, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
	}
	return userID, ok
}

func parseInt(raw string, fallback int) int {
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func pageFrom(r *http.Request) store.Page {
	query := r.URL.Query()
	return store.NewPage(parseInt(query.Get("page"), 1), parseInt(query.Get("limit"), store.DefaultLimit))
}
