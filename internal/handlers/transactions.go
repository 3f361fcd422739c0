package handlers

import (
	"io"
	"net/http"
	"strings"

	"propledger/internal/gateway"
	"propledger/internal/middleware"
	"propledger/internal/models"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	t, err := h.transactions.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err, "unable to load transaction")
		return
	}
	if t.OwnerID != userID {
		respondError(w, http.StatusNotFound, "not_found")
		return
	}
	respondJSON(w, http.StatusOK, t)
}

func (h *Handler) GetTransactionByReference(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	t, err := h.transactions.FindByReference(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		h.respondServiceError(w, r, err, "unable to load transaction")
		return
	}
	if t.OwnerID != userID {
		respondError(w, http.StatusNotFound, "not_found")
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// GatewayWebhook takes the raw body because the signature covers its exact bytes.
func (h *Handler) GatewayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	result, err := h.webhooks.Handle(r.Context(), body, r.Header.Get(gateway.SignatureHeader))
	if err != nil {
		h.respondServiceError(w, r, err, "webhook_failed")
		return
	}
	if result.Ignored {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": string(result.Transaction.Status)})
}

type finalizeRequest struct {
	Outcome string `json:"outcome"`
	Note    string `json:"note"`
}

func (h *Handler) AdminFinalizeTransaction(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	outcome, err := models.ParseTransactionStatus(strings.ToUpper(strings.TrimSpace(req.Outcome)))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_outcome")
		return
	}
	t, err := h.transactions.Finalize(r.Context(), chi.URLParam(r, "id"), outcome, req.Note)
	if err != nil {
		h.respondServiceError(w, r, err, "finalize_failed")
		return
	}
	adminID, _ := middleware.UserIDFromContext(r.Context())
	h.logger.Info("transaction finalized by admin",
		zap.String("transaction_id", t.ID), zap.String("admin_id", adminID), zap.String("status", string(t.Status)))
	respondJSON(w, http.StatusOK, t)
}

func (h *Handler) AdminListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTransactionFilter(r.URL.Query(), pageFrom(r))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter.OwnerID = strings.TrimSpace(r.URL.Query().Get("owner_id"))
	rows, err := h.transactions.List(r.Context(), filter)
	if err != nil {
		h.respondServiceError(w, r, err, "unable to load transactions")
		return
	}
	respondJSON(w, http.StatusOK, rows)
}
