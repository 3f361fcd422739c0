package handlers

import (
	"net/http"
	"strings"

	"propledger/internal/auth"
	"propledger/internal/middleware"
	"propledger/internal/models"
	"propledger/internal/money"
	"propledger/internal/websocket"

	"github.com/go-chi/chi/v5"
)

type walletResponse struct {
	models.Wallet
	BalanceDisplay string `json:"balance_display"`
	Currency       string `json:"currency"`
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	wallet, err := h.ledger.EnsureWallet(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, r, err, "unable to load wallet")
		return
	}
	respondJSON(w, http.StatusOK, walletResponse{Wallet: wallet, BalanceDisplay: wallet.BalanceMajor(), Currency: h.cfg.Currency})
}

func (h *Handler) ListMyTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	filter, err := parseTransactionFilter(r.URL.Query(), pageFrom(r))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := h.transactions.ListByOwner(r.Context(), userID, filter)
	if err != nil {
		h.respondServiceError(w, r, err, "unable to load transactions")
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

func (h *Handler) MyStatement(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	h.respondStatement(w, r, userID)
}

func (h *Handler) AdminWalletStatement(w http.ResponseWriter, r *http.Request) {
	h.respondStatement(w, r, chi.URLParam(r, "ownerID"))
}

func (h *Handler) respondStatement(w http.ResponseWriter, r *http.Request, ownerID string) {
	statement, err := h.ledger.Statement(r.Context(), ownerID, pageFrom(r))
	if err != nil {
		h.respondServiceError(w, r, err, "unable to load ledger")
		return
	}
	respondJSON(w, http.StatusOK, statement)
}

type depositRequest struct {
	Amount string `json:"amount"`
	Email  string `json:"email"`
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := parseAmountMinor(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	if _, err := h.ledger.EnsureWallet(r.Context(), userID); err != nil {
		h.respondServiceError(w, r, err, "unable to open wallet")
		return
	}
	intent, err := h.payments.InitiateDeposit(r.Context(), userID, amount, req.Email)
	if err != nil {
		h.respondServiceError(w, r, err, "deposit_failed")
		return
	}
	respondJSON(w, http.StatusCreated, intent)
}

type withdrawRequest struct {
	Amount        string `json:"amount"`
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := parseAmountMinor(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount")
		return
	}
	if strings.TrimSpace(req.BankCode) == "" || strings.TrimSpace(req.AccountNumber) == "" {
		respondError(w, http.StatusBadRequest, "bank_code and account_number are required")
		return
	}
	t, err := h.payments.RequestWithdrawal(r.Context(), userID, amount, models.Metadata{
		"bank_code":      req.BankCode,
		"account_number": req.AccountNumber,
		"account_name":   req.AccountName,
	})
	if err != nil {
		h.respondServiceError(w, r, err, "withdrawal_failed")
		return
	}
	respondJSON(w, http.StatusCreated, t)
}

// WSBalances upgrades to a websocket that streams the caller's balance.
// Browsers cannot set headers on upgrade, so the token may come as a query param.
func (h *Handler) WSBalances(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = middleware.BearerToken(r.Header.Get("Authorization"))
	}
	if token == "" {
		respondError(w, http.StatusUnauthorized, "missing token")
		return
	}
	claims, err := auth.ParseToken(h.cfg.JWTSecret, token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	wallet, err := h.ledger.EnsureWallet(r.Context(), claims.UserID)
	if err != nil {
		h.respondServiceError(w, r, err, "unable to load wallet")
		return
	}
	h.hub.Serve(w, r, claims.UserID, &websocket.BalanceUpdate{
		WalletID:     wallet.ID,
		Balance:      money.FormatMinor(wallet.Balance),
		BalanceMinor: wallet.Balance,
		Currency:     h.cfg.Currency,
	})
}
