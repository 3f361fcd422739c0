package handlers

import (
	"net/http"
	"strings"

	"propledger/internal/models"
	"propledger/internal/services"
	"propledger/internal/store"

	"github.com/go-chi/chi/v5"
)

type milestoneRequest struct {
	Name   string `json:"name"`
	Amount string `json:"amount"`
}

type createEscrowRequest struct {
	SellerID             string             `json:"seller_id"`
	RealtorID            string             `json:"realtor_id"`
	PaymentPlanID        string             `json:"payment_plan_id"`
	PropertyID           string             `json:"property_id"`
	TotalAmount          string             `json:"total_amount"`
	CommissionPercentage string             `json:"commission_percentage"`
	Milestones           []milestoneRequest `json:"milestones"`
}

// CreateEscrow opens an escrow with the caller as buyer.
func (h *Handler) CreateEscrow(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req createEscrowRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	total, err := parseAmountMinor(req.TotalAmount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_total_amount")
		return
	}
	pct, err := parsePercent(req.CommissionPercentage)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_commission_percentage")
		return
	}
	milestones := make([]services.MilestoneInput, 0, len(req.Milestones))
	for _, m := range req.Milestones {
		amount, err := parseAmountMinor(m.Amount)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_milestone_amount")
			return
		}
		milestones = append(milestones, services.MilestoneInput{Name: m.Name, Amount: amount})
	}
	escrow, err := h.escrows.CreateEscrow(r.Context(), services.CreateEscrowRequest{
		BuyerID:              userID,
		SellerID:             strings.TrimSpace(req.SellerID),
		RealtorID:            strings.TrimSpace(req.RealtorID),
		PaymentPlanID:        strings.TrimSpace(req.PaymentPlanID),
		PropertyID:           strings.TrimSpace(req.PropertyID),
		TotalAmount:          total,
		CommissionPercentage: pct,
		Milestones:           milestones,
	})
	if err != nil {
		h.respondServiceError(w, r, err, "unable to create escrow")
		return
	}
	respondJSON(w, http.StatusCreated, escrow)
}

func (h *Handler) ListMyEscrows(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	h.listEscrows(w, r, userID)
}

func (h *Handler) AdminListEscrows(w http.ResponseWriter, r *http.Request) {
	h.listEscrows(w, r, strings.TrimSpace(r.URL.Query().Get("party_id")))
}

func (h *Handler) listEscrows(w http.ResponseWriter, r *http.Request, partyID string) {
	filter := store.EscrowFilter{PartyID: partyID, Page: pageFrom(r)}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := models.ParseEscrowStatus(strings.ToUpper(raw))
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid status")
			return
		}
		filter.Status = status
	}
	rows, err := h.escrows.List(r.Context(), filter)
	if err != nil {
		h.respondServiceError(w, r, err, "unable to load escrows")
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

// GetEscrow hides escrows the caller is not a party to.
func (h *Handler) GetEscrow(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	escrow, err := h.escrows.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err, "unable to load escrow")
		return
	}
	if !isParty(escrow, userID) {
		respondError(w, http.StatusNotFound, "not_found")
		return
	}
	respondJSON(w, http.StatusOK, escrow)
}

type fundRequest struct {
	Amount string `json:"amount"`
}

// FundMilestone moves the milestone amount from the buyer's wallet into the escrow.
func (h *Handler) FundMilestone(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	index, err := parseIndex(chi.URLParam(r, "index"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_milestone_index")
		return
	}
	var req fundRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := parseAmountMinor(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	escrowID := chi.URLParam(r, "id")
	escrow, err := h.escrows.Get(r.Context(), escrowID)
	if err != nil {
		h.respondServiceError(w, r, err, "unable to load escrow")
		return
	}
	if escrow.BuyerID != userID {
		respondError(w, http.StatusForbidden, "only the buyer can fund milestones")
		return
	}
	escrow, err = h.escrows.FundMilestone(r.Context(), escrowID, index, amount)
	if err != nil {
		h.respondServiceError(w, r, err, "funding_failed")
		return
	}
	respondJSON(w, http.StatusOK, escrow)
}

type releaseRequest struct {
	Recipient string `json:"recipient"`
}

func (h *Handler) AdminReleaseMilestone(w http.ResponseWriter, r *http.Request) {
	index, err := parseIndex(chi.URLParam(r, "index"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_milestone_index")
		return
	}
	var req releaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	recipient := models.RecipientSeller
	if raw := strings.TrimSpace(req.Recipient); raw != "" {
		recipient, err = models.ParseRecipient(strings.ToUpper(raw))
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_recipient")
			return
		}
	}
	result, err := h.escrows.ReleaseMilestone(r.Context(), chi.URLParam(r, "id"), index, recipient)
	if err != nil {
		h.respondServiceError(w, r, err, "release_failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type refundRequest struct {
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

func (h *Handler) AdminRefundEscrow(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := parseAmountMinor(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	escrow, err := h.escrows.RefundToBuyer(r.Context(), chi.URLParam(r, "id"), amount, req.Reason)
	if err != nil {
		h.respondServiceError(w, r, err, "refund_failed")
		return
	}
	respondJSON(w, http.StatusOK, escrow)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) AdminOpenDispute(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	escrow, err := h.escrows.OpenDispute(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.respondServiceError(w, r, err, "dispute_failed")
		return
	}
	respondJSON(w, http.StatusOK, escrow)
}

func (h *Handler) AdminResolveDispute(w http.ResponseWriter, r *http.Request) {
	escrow, err := h.escrows.ResolveDispute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err, "resolve_failed")
		return
	}
	respondJSON(w, http.StatusOK, escrow)
}

func (h *Handler) AdminCancelEscrow(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	escrow, err := h.escrows.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.respondServiceError(w, r, err, "cancel_failed")
		return
	}
	respondJSON(w, http.StatusOK, escrow)
}

func isParty(e models.Escrow, userID string) bool {
	return e.BuyerID == userID || e.SellerID == userID || (e.HasRealtor() && *e.RealtorID == userID)
}
