package services

import (
	"context"
	"time"

	"propledger/internal/models"
	"propledger/internal/store"
	"propledger/internal/websocket"
)

type WalletStore interface {
	Create(ctx context.Context, tx store.Execer, id, ownerID string) (bool, error)
	GetByOwner(ctx context.Context, ownerID string) (models.Wallet, error)
	GetForUpdate(ctx context.Context, tx store.Getter, ownerID string) (models.Wallet, error)
	Save(ctx context.Context, tx store.Execer, wallet models.Wallet) error
	Mismatches(ctx context.Context) ([]store.WalletReconciliation, error)
}

type LedgerStore interface {
	InsertEntries(ctx context.Context, tx store.Execer, entries []store.LedgerEntryInput) error
	Totals(ctx context.Context, walletID string) (store.JournalTotals, error)
	ListByWallet(ctx context.Context, walletID string, page store.Page) ([]store.JournalEntry, error)
}

type TransactionStore interface {
	Insert(ctx context.Context, tx store.Execer, t models.Transaction) (bool, error)
	GetByID(ctx context.Context, id string) (models.Transaction, error)
	GetByReference(ctx context.Context, reference string) (models.Transaction, error)
	GetForUpdate(ctx context.Context, tx store.Getter, id string) (models.Transaction, error)
	GetByReferenceForUpdate(ctx context.Context, tx store.Getter, reference string) (models.Transaction, error)
	Finalize(ctx context.Context, tx store.Execer, t models.Transaction) (bool, error)
	MergeMetadata(ctx context.Context, tx store.Execer, id string, extra models.Metadata) error
	List(ctx context.Context, filter store.TransactionFilter) ([]models.Transaction, error)
	ListStalePending(ctx context.Context, cutoff time.Time, types []models.TransactionType, after store.StaleCursor, limit int) ([]models.Transaction, error)
}

type EscrowStore interface {
	Create(ctx context.Context, tx store.Execer, e models.Escrow) error
	GetByID(ctx context.Context, id string) (models.Escrow, error)
	GetForUpdate(ctx context.Context, tx store.Getter, id string) (models.Escrow, error)
	Save(ctx context.Context, tx store.Execer, e models.Escrow) error
	List(ctx context.Context, filter store.EscrowFilter) ([]models.Escrow, error)
}

type CommissionStore interface {
	Accrue(ctx context.Context, tx store.Getter, in store.AccrualInput) (models.Commission, error)
	ListByRealtor(ctx context.Context, realtorID string) ([]models.Commission, error)
	ListByRealtorForUpdate(ctx context.Context, tx store.Selecter, realtorID string) ([]models.Commission, error)
	AddPaid(ctx context.Context, tx store.Execer, commissionID string, amount int64) (bool, error)
	InsertPayment(ctx context.Context, tx store.Execer, p models.CommissionPayment) error
	ListPayments(ctx context.Context, withdrawalID string) ([]models.CommissionPayment, error)
}

type WithdrawalStore interface {
	Create(ctx context.Context, tx store.Execer, w models.WithdrawalRequest) error
	GetByID(ctx context.Context, id string) (models.WithdrawalRequest, error)
	GetForUpdate(ctx context.Context, tx store.Getter, id string) (models.WithdrawalRequest, error)
	SumReserved(ctx context.Context, tx store.Getter, realtorID string, statuses []models.WithdrawalStatus, excludeID string) (int64, error)
	Reserved(ctx context.Context, realtorID string, statuses []models.WithdrawalStatus) (int64, error)
	Save(ctx context.Context, tx store.Execer, w models.WithdrawalRequest) error
	List(ctx context.Context, filter store.WithdrawalFilter) ([]models.WithdrawalRequest, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID string, data any) error
}

type BalanceHub interface {
	BroadcastBalance(ownerID string, update websocket.BalanceUpdate)
}
