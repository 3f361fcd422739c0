package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"propledger/internal/auth"
	"propledger/internal/config"
	"propledger/internal/models"
	"propledger/internal/services"
	"propledger/internal/store"
	"propledger/internal/websocket"

	"go.uber.org/zap"
)

const testSecret = "secret"

type stubLedger struct {
	ensureFn    func(ctx context.Context, ownerID string) (models.Wallet, error)
	statementFn func(ctx context.Context, ownerID string, page store.Page) (services.Statement, error)
}

func (s stubLedger) EnsureWallet(ctx context.Context, ownerID string) (models.Wallet, error) {
	if s.ensureFn == nil {
		return models.Wallet{ID: "wallet-" + ownerID, OwnerID: ownerID, IsActive: true}, nil
	}
	return s.ensureFn(ctx, ownerID)
}

func (s stubLedger) Statement(ctx context.Context, ownerID string, page store.Page) (services.Statement, error) {
	if s.statementFn == nil {
		return services.Statement{}, nil
	}
	return s.statementFn(ctx, ownerID, page)
}

type stubTransactions struct {
	getByIDFn     func(ctx context.Context, id string) (models.Transaction, error)
	byReferenceFn func(ctx context.Context, reference string) (models.Transaction, error)
	finalizeFn    func(ctx context.Context, id string, outcome models.TransactionStatus, note string) (models.Transaction, error)
	listFn        func(ctx context.Context, filter store.TransactionFilter) ([]models.Transaction, error)
	listByOwnerFn func(ctx context.Context, ownerID string, filter store.TransactionFilter) ([]models.Transaction, error)
}

func (s stubTransactions) GetByID(ctx context.Context, id string) (models.Transaction, error) {
	if s.getByIDFn == nil {
		return models.Transaction{}, nil
	}
	return s.getByIDFn(ctx, id)
}

func (s stubTransactions) FindByReference(ctx context.Context, reference string) (models.Transaction, error) {
	if s.byReferenceFn == nil {
		return models.Transaction{}, nil
	}
	return s.byReferenceFn(ctx, reference)
}

func (s stubTransactions) Finalize(ctx context.Context, id string, outcome models.TransactionStatus, note string) (models.Transaction, error) {
	if s.finalizeFn == nil {
		return models.Transaction{ID: id, Status: outcome}, nil
	}
	return s.finalizeFn(ctx, id, outcome, note)
}

func (s stubTransactions) List(ctx context.Context, filter store.TransactionFilter) ([]models.Transaction, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, filter)
}

func (s stubTransactions) ListByOwner(ctx context.Context, ownerID string, filter store.TransactionFilter) ([]models.Transaction, error) {
	if s.listByOwnerFn == nil {
		return nil, nil
	}
	return s.listByOwnerFn(ctx, ownerID, filter)
}

type stubPayments struct {
	depositFn  func(ctx context.Context, ownerID string, amount int64, email string) (services.DepositIntent, error)
	withdrawFn func(ctx context.Context, ownerID string, amount int64, metadata models.Metadata) (models.Transaction, error)
}

func (s stubPayments) InitiateDeposit(ctx context.Context, ownerID string, amount int64, email string) (services.DepositIntent, error) {
	if s.depositFn == nil {
		return services.DepositIntent{}, nil
	}
	return s.depositFn(ctx, ownerID, amount, email)
}

func (s stubPayments) RequestWithdrawal(ctx context.Context, ownerID string, amount int64, metadata models.Metadata) (models.Transaction, error) {
	if s.withdrawFn == nil {
		return models.Transaction{}, nil
	}
	return s.withdrawFn(ctx, ownerID, amount, metadata)
}

type stubWebhooks struct {
	handleFn func(ctx context.Context, body []byte, signature string) (services.WebhookResult, error)
}

func (s stubWebhooks) Handle(ctx context.Context, body []byte, signature string) (services.WebhookResult, error) {
	if s.handleFn == nil {
		return services.WebhookResult{Ignored: true}, nil
	}
	return s.handleFn(ctx, body, signature)
}

type stubEscrows struct {
	createFn  func(ctx context.Context, req services.CreateEscrowRequest) (models.Escrow, error)
	fundFn    func(ctx context.Context, escrowID string, index int, amount int64) (models.Escrow, error)
	releaseFn func(ctx context.Context, escrowID string, index int, recipient models.Recipient) (services.ReleaseResult, error)
	refundFn  func(ctx context.Context, escrowID string, amount int64, reason string) (models.Escrow, error)
	disputeFn func(ctx context.Context, escrowID, reason string) (models.Escrow, error)
	resolveFn func(ctx context.Context, escrowID string) (models.Escrow, error)
	cancelFn  func(ctx context.Context, escrowID, reason string) (models.Escrow, error)
	getFn     func(ctx context.Context, escrowID string) (models.Escrow, error)
	listFn    func(ctx context.Context, filter store.EscrowFilter) ([]models.Escrow, error)
}

func (s stubEscrows) CreateEscrow(ctx context.Context, req services.CreateEscrowRequest) (models.Escrow, error) {
	if s.createFn == nil {
		return models.Escrow{}, nil
	}
	return s.createFn(ctx, req)
}

func (s stubEscrows) FundMilestone(ctx context.Context, escrowID string, index int, amount int64) (models.Escrow, error) {
	if s.fundFn == nil {
		return models.Escrow{ID: escrowID}, nil
	}
	return s.fundFn(ctx, escrowID, index, amount)
}

func (s stubEscrows) ReleaseMilestone(ctx context.Context, escrowID string, index int, recipient models.Recipient) (services.ReleaseResult, error) {
	if s.releaseFn == nil {
		return services.ReleaseResult{}, nil
	}
	return s.releaseFn(ctx, escrowID, index, recipient)
}

func (s stubEscrows) RefundToBuyer(ctx context.Context, escrowID string, amount int64, reason string) (models.Escrow, error) {
	if s.refundFn == nil {
		return models.Escrow{ID: escrowID}, nil
	}
	return s.refundFn(ctx, escrowID, amount, reason)
}

func (s stubEscrows) OpenDispute(ctx context.Context, escrowID, reason string) (models.Escrow, error) {
	if s.disputeFn == nil {
		return models.Escrow{ID: escrowID}, nil
	}
	return s.disputeFn(ctx, escrowID, reason)
}

func (s stubEscrows) ResolveDispute(ctx context.Context, escrowID string) (models.Escrow, error) {
	if s.resolveFn == nil {
		return models.Escrow{ID: escrowID}, nil
	}
	return s.resolveFn(ctx, escrowID)
}

func (s stubEscrows) Cancel(ctx context.Context, escrowID, reason string) (models.Escrow, error) {
	if s.cancelFn == nil {
		return models.Escrow{ID: escrowID}, nil
	}
	return s.cancelFn(ctx, escrowID, reason)
}

func (s stubEscrows) Get(ctx context.Context, escrowID string) (models.Escrow, error) {
	if s.getFn == nil {
		return models.Escrow{ID: escrowID}, nil
	}
	return s.getFn(ctx, escrowID)
}

func (s stubEscrows) List(ctx context.Context, filter store.EscrowFilter) ([]models.Escrow, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, filter)
}

type stubCommissions struct {
	summaryFn       func(ctx context.Context, realtorID string) (services.CommissionSummary, error)
	listFn          func(ctx context.Context, realtorID string) ([]models.Commission, error)
	submitFn        func(ctx context.Context, realtorID string, amount int64) (models.WithdrawalRequest, error)
	processFn       func(ctx context.Context, requestID string, action models.WithdrawalAction, adminID, reason string) (models.WithdrawalRequest, error)
	markFn          func(ctx context.Context, requestID, payoutReference string) (models.WithdrawalRequest, error)
	listWithdrawFn  func(ctx context.Context, filter store.WithdrawalFilter) ([]models.WithdrawalRequest, error)
	getWithdrawalFn func(ctx context.Context, requestID string) (models.WithdrawalRequest, error)
	paymentsFn      func(ctx context.Context, requestID string) ([]models.CommissionPayment, error)
}

func (s stubCommissions) Summary(ctx context.Context, realtorID string) (services.CommissionSummary, error) {
	if s.summaryFn == nil {
		return services.CommissionSummary{RealtorID: realtorID}, nil
	}
	return s.summaryFn(ctx, realtorID)
}

func (s stubCommissions) ListByRealtor(ctx context.Context, realtorID string) ([]models.Commission, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, realtorID)
}

func (s stubCommissions) SubmitWithdrawalRequest(ctx context.Context, realtorID string, amount int64) (models.WithdrawalRequest, error) {
	if s.submitFn == nil {
		return models.WithdrawalRequest{}, nil
	}
	return s.submitFn(ctx, realtorID, amount)
}

func (s stubCommissions) ProcessWithdrawalRequest(ctx context.Context, requestID string, action models.WithdrawalAction, adminID, reason string) (models.WithdrawalRequest, error) {
	if s.processFn == nil {
		return models.WithdrawalRequest{ID: requestID}, nil
	}
	return s.processFn(ctx, requestID, action, adminID, reason)
}

func (s stubCommissions) MarkWithdrawalProcessed(ctx context.Context, requestID, payoutReference string) (models.WithdrawalRequest, error) {
	if s.markFn == nil {
		return models.WithdrawalRequest{ID: requestID}, nil
	}
	return s.markFn(ctx, requestID, payoutReference)
}

func (s stubCommissions) ListWithdrawals(ctx context.Context, filter store.WithdrawalFilter) ([]models.WithdrawalRequest, error) {
	if s.listWithdrawFn == nil {
		return nil, nil
	}
	return s.listWithdrawFn(ctx, filter)
}

func (s stubCommissions) GetWithdrawal(ctx context.Context, requestID string) (models.WithdrawalRequest, error) {
	if s.getWithdrawalFn == nil {
		return models.WithdrawalRequest{ID: requestID}, nil
	}
	return s.getWithdrawalFn(ctx, requestID)
}

func (s stubCommissions) ListPayments(ctx context.Context, requestID string) ([]models.CommissionPayment, error) {
	if s.paymentsFn == nil {
		return nil, nil
	}
	return s.paymentsFn(ctx, requestID)
}

type stubReconciler struct {
	runFn func(ctx context.Context) (services.ReconcileReport, error)
}

func (s stubReconciler) Run(ctx context.Context) (services.ReconcileReport, error) {
	if s.runFn == nil {
		return services.ReconcileReport{}, nil
	}
	return s.runFn(ctx)
}

// stubAdminStore treats every user in admins as an admin holding the listed roles.
type stubAdminStore struct {
	admins map[string][]string
}

func (s stubAdminStore) Access(_ context.Context, userID string) (store.AdminAccess, error) {
	roles, ok := s.admins[userID]
	return store.AdminAccess{IsAdmin: ok, Roles: roles}, nil
}

type stubAuditStore struct {
	listFn func(ctx context.Context, entityType string, page store.Page) ([]store.AuditEntry, error)
}

func (s stubAuditStore) List(ctx context.Context, entityType string, page store.Page) ([]store.AuditEntry, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, entityType, page)
}

type testDeps struct {
	ledger       stubLedger
	transactions stubTransactions
	payments     stubPayments
	webhooks     stubWebhooks
	escrows      stubEscrows
	commissions  stubCommissions
	reconciler   stubReconciler
	admin        stubAdminStore
	audit        stubAuditStore
}

func newTestHandler(deps testDeps) http.Handler {
	cfg := config.Config{
		AppEnv:         "test",
		JWTSecret:      testSecret,
		AllowedOrigins: "*",
		Currency:       "NGN",
	}
	return New(cfg, zap.NewNop(), deps.ledger, deps.transactions, deps.payments, deps.webhooks, deps.escrows,
		deps.commissions, deps.reconciler, deps.admin, deps.audit, websocket.NewHub("*")).Routes()
}

// serve sends one request through the router. An empty userID sends no token.
func serve(t *testing.T, handler http.Handler, method, path, body, userID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, err := auth.GenerateToken(testSecret, userID, time.Minute)
		if err != nil {
			t.Fatalf("failed to generate token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func stringPtr(value string) *string {
	return &value
}
