package handlers

import (
	"net/http"
	"strings"

	"propledger/internal/middleware"
	"propledger/internal/models"
	"propledger/internal/services"
	"propledger/internal/store"

	"github.com/go-chi/chi/v5"
)

type commissionsResponse struct {
	Summary     services.CommissionSummary `json:"summary"`
	Commissions []models.Commission        `json:"commissions"`
}

func (h *Handler) MyCommissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	summary, err := h.commissions.Summary(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, r, err, "unable to load commissions")
		return
	}
	rows, err := h.commissions.ListByRealtor(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, r, err, "unable to load commissions")
		return
	}
	respondJSON(w, http.StatusOK, commissionsResponse{Summary: summary, Commissions: rows})
}

func (h *Handler) MyWithdrawals(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	h.listWithdrawals(w, r, userID)
}

type commissionWithdrawalRequest struct {
	Amount string `json:"amount"`
}

func (h *Handler) SubmitWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req commissionWithdrawalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := parseAmountMinor(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	request, err := h.commissions.SubmitWithdrawalRequest(r.Context(), userID, amount)
	if err != nil {
		h.respondServiceError(w, r, err, "withdrawal_request_failed")
		return
	}
	respondJSON(w, http.StatusCreated, request)
}

func (h *Handler) AdminListWithdrawals(w http.ResponseWriter, r *http.Request) {
	h.listWithdrawals(w, r, strings.TrimSpace(r.URL.Query().Get("realtor_id")))
}

func (h *Handler) listWithdrawals(w http.ResponseWriter, r *http.Request, realtorID string) {
	filter := store.WithdrawalFilter{RealtorID: realtorID, Page: pageFrom(r)}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := models.ParseWithdrawalStatus(strings.ToUpper(raw))
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid status")
			return
		}
		filter.Status = status
	}
	rows, err := h.commissions.ListWithdrawals(r.Context(), filter)
	if err != nil {
		h.respondServiceError(w, r, err, "unable to load withdrawals")
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

type withdrawalDetail struct {
	models.WithdrawalRequest
	Payments []models.CommissionPayment `json:"payments"`
}

func (h *Handler) AdminGetWithdrawal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	request, err := h.commissions.GetWithdrawal(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err, "unable to load withdrawal")
		return
	}
	payments, err := h.commissions.ListPayments(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err, "unable to load withdrawal")
		return
	}
	respondJSON(w, http.StatusOK, withdrawalDetail{WithdrawalRequest: request, Payments: payments})
}

type processWithdrawalRequest struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

func (h *Handler) AdminProcessWithdrawal(w http.ResponseWriter, r *http.Request) {
	adminID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req processWithdrawalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	action, err := models.ParseWithdrawalAction(strings.ToUpper(strings.TrimSpace(req.Action)))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_action")
		return
	}
	request, err := h.commissions.ProcessWithdrawalRequest(r.Context(), chi.URLParam(r, "id"), action, adminID, req.Reason)
	if err != nil {
		h.respondServiceError(w, r, err, "process_failed")
		return
	}
	respondJSON(w, http.StatusOK, request)
}

type markProcessedRequest struct {
	PayoutReference string `json:"payout_reference"`
}

func (h *Handler) AdminMarkWithdrawalProcessed(w http.ResponseWriter, r *http.Request) {
	var req markProcessedRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	request, err := h.commissions.MarkWithdrawalProcessed(r.Context(), chi.URLParam(r, "id"), req.PayoutReference)
	if err != nil {
		h.respondServiceError(w, r, err, "mark_processed_failed")
		return
	}
	respondJSON(w, http.StatusOK, request)
}
