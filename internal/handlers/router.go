package handlers

import (
	"net/http"
	"strings"

	"propledger/internal/config"
	"propledger/internal/middleware"
	"propledger/internal/store"
	"propledger/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

type Handler struct {
	cfg          config.Config
	logger       *zap.Logger
	ledger       LedgerService
	transactions TransactionService
	payments     PaymentService
	webhooks     WebhookService
	escrows      EscrowService
	commissions  CommissionService
	reconciler   ReconcileService
	admin        AdminStore
	audit        AuditStore
	hub          *websocket.Hub
}

func New(cfg config.Config, logger *zap.Logger, ledger LedgerService, transactions TransactionService, payments PaymentService, webhooks WebhookService, escrows EscrowService, commissions CommissionService, reconciler ReconcileService, admin AdminStore, audit AuditStore, hub *websocket.Hub) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		cfg:          cfg,
		logger:       logger,
		ledger:       ledger,
		transactions: transactions,
		payments:     payments,
		webhooks:     webhooks,
		escrows:      escrows,
		commissions:  commissions,
		reconciler:   reconciler,
		admin:        admin,
		audit:        audit,
		hub:          hub,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.RequestLogger(h.logger))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(h.cfg.AllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authed := middleware.Auth(h.cfg.JWTSecret)
	router.Group(func(r chi.Router) {
		r.Use(authed)
		r.Get("/wallets/me", h.GetWallet)
		r.Get("/wallets/me/transactions", h.ListMyTransactions)
		r.Get("/wallets/me/ledger", h.MyStatement)
		r.Post("/wallets/deposits", h.Deposit)
		r.Post("/wallets/withdrawals", h.Withdraw)
		r.Get("/transactions/{id}", h.GetTransaction)
		r.Get("/transactions/reference/{reference}", h.GetTransactionByReference)

		r.Post("/escrows", h.CreateEscrow)
		r.Get("/escrows", h.ListMyEscrows)
		r.Get("/escrows/{id}", h.GetEscrow)
		r.Post("/escrows/{id}/milestones/{index}/fund", h.FundMilestone)

		r.Get("/commissions/me", h.MyCommissions)
		r.Get("/commissions/withdrawals", h.MyWithdrawals)
		r.Post("/commissions/withdrawals", h.SubmitWithdrawal)
	})
	router.Post("/webhooks/gateway", h.GatewayWebhook)
	router.Get("/ws/balances", h.WSBalances)

	router.Route("/admin", func(r chi.Router) {
		r.Use(authed)
		r.With(middleware.RequireAdmin(h.admin, store.RoleFinalizeTransactions)).Post("/transactions/{id}/finalize", h.AdminFinalizeTransaction)
		r.With(middleware.RequireAdmin(h.admin, store.RoleViewLedger)).Get("/transactions", h.AdminListTransactions)
		r.With(middleware.RequireAdmin(h.admin, store.RoleManageEscrows)).Get("/escrows", h.AdminListEscrows)
		r.With(middleware.RequireAdmin(h.admin, store.RoleManageEscrows)).Post("/escrows/{id}/milestones/{index}/release", h.AdminReleaseMilestone)
		r.With(middleware.RequireAdmin(h.admin, store.RoleManageEscrows)).Post("/escrows/{id}/refund", h.AdminRefundEscrow)
		r.With(middleware.RequireAdmin(h.admin, store.RoleManageEscrows)).Post("/escrows/{id}/dispute", h.AdminOpenDispute)
		r.With(middleware.RequireAdmin(h.admin, store.RoleManageEscrows)).Post("/escrows/{id}/resolve", h.AdminResolveDispute)
		r.With(middleware.RequireAdmin(h.admin, store.RoleManageEscrows)).Post("/escrows/{id}/cancel", h.AdminCancelEscrow)
		r.With(middleware.RequireAdmin(h.admin, store.RoleApproveWithdrawals)).Get("/withdrawals", h.AdminListWithdrawals)
		r.With(middleware.RequireAdmin(h.admin, store.RoleApproveWithdrawals)).Get("/withdrawals/{id}", h.AdminGetWithdrawal)
		r.With(middleware.RequireAdmin(h.admin, store.RoleApproveWithdrawals)).Post("/withdrawals/{id}/process", h.AdminProcessWithdrawal)
		r.With(middleware.RequireAdmin(h.admin, store.RoleApproveWithdrawals)).Post("/withdrawals/{id}/processed", h.AdminMarkWithdrawalProcessed)
		r.With(middleware.RequireAdmin(h.admin, store.RoleViewLedger)).Get("/wallets/{ownerID}/ledger", h.AdminWalletStatement)
		r.With(middleware.RequireAdmin(h.admin, store.RoleViewLedger)).Get("/audit", h.ListAuditLogs)
		r.With(middleware.RequireAdmin(h.admin, store.RoleViewLedger)).Get("/reconcile", h.Reconcile)
	})

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}
