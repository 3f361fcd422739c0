package handlers

import (
	"net/http"
	"strings"
)

func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	rows, err := h.audit.List(r.Context(), strings.TrimSpace(r.URL.Query().Get("entity_type")), pageFrom(r))
	if err != nil {
		h.respondServiceError(w, r, err, "unable to load audit logs")
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

// Reconcile runs one reconciliation pass inline. A pass already running
// elsewhere yields skipped=true rather than an error.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.Run(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err, "unable to reconcile balances")
		return
	}
	respondJSON(w, http.StatusOK, report)
}
