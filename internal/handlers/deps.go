package handlers

import (
	"context"

	"propledger/internal/models"
	"propledger/internal/services"
	"propledger/internal/store"
)

type LedgerService interface {
	EnsureWallet(ctx context.Context, ownerID string) (models.Wallet, error)
	Statement(ctx context.Context, ownerID string, page store.Page) (services.Statement, error)
}

type TransactionService interface {
	GetByID(ctx context.Context, id string) (models.Transaction, error)
	FindByReference(ctx context.Context, reference string) (models.Transaction, error)
	Finalize(ctx context.Context, transactionID string, outcome models.TransactionStatus, note string) (models.Transaction, error)
	List(ctx context.Context, filter store.TransactionFilter) ([]models.Transaction, error)
	ListByOwner(ctx context.Context, ownerID string, filter store.TransactionFilter) ([]models.Transaction, error)
}

type PaymentService interface {
	InitiateDeposit(ctx context.Context, ownerID string, amount int64, email string) (services.DepositIntent, error)
	RequestWithdrawal(ctx context.Context, ownerID string, amount int64, metadata models.Metadata) (models.Transaction, error)
}

type WebhookService interface {
	Handle(ctx context.Context, body []byte, signature string) (services.WebhookResult, error)
}

type EscrowService interface {
	CreateEscrow(ctx context.Context, req services.CreateEscrowRequest) (models.Escrow, error)
	FundMilestone(ctx context.Context, escrowID string, index int, amount int64) (models.Escrow, error)
	ReleaseMilestone(ctx context.Context, escrowID string, index int, recipient models.Recipient) (services.ReleaseResult, error)
	RefundToBuyer(ctx context.Context, escrowID string, amount int64, reason string) (models.Escrow, error)
	OpenDispute(ctx context.Context, escrowID, reason string) (models.Escrow, error)
	ResolveDispute(ctx context.Context, escrowID string) (models.Escrow, error)
	Cancel(ctx context.Context, escrowID, reason string) (models.Escrow, error)
	Get(ctx context.Context, escrowID string) (models.Escrow, error)
	List(ctx context.Context, filter store.EscrowFilter) ([]models.Escrow, error)
}

type CommissionService interface {
	Summary(ctx context.Context, realtorID string) (services.CommissionSummary, error)
	ListByRealtor(ctx context.Context, realtorID string) ([]models.Commission, error)
	SubmitWithdrawalRequest(ctx context.Context, realtorID string, amount int64) (models.WithdrawalRequest, error)
	ProcessWithdrawalRequest(ctx context.Context, requestID string, action models.WithdrawalAction, adminID, reason string) (models.WithdrawalRequest, error)
	MarkWithdrawalProcessed(ctx context.Context, requestID, payoutReference string) (models.WithdrawalRequest, error)
	ListWithdrawals(ctx context.Context, filter store.WithdrawalFilter) ([]models.WithdrawalRequest, error)
	GetWithdrawal(ctx context.Context, requestID string) (models.WithdrawalRequest, error)
	ListPayments(ctx context.Context, requestID string) ([]models.CommissionPayment, error)
}

type ReconcileService interface {
	Run(ctx context.Context) (services.ReconcileReport, error)
}

type AdminStore interface {
	Access(ctx context.Context, userID string) (store.AdminAccess, error)
}

type AuditStore interface {
	List(ctx context.Context, entityType string, page store.Page) ([]store.AuditEntry, error)
}
