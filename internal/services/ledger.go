package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"propledger/internal/db"
	"propledger/internal/models"
	"propledger/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Ledger owns wallet balances. Balances only move through credit, debit and
// reverse, which run inside a unit of work opened by the TransactionLog.
type Ledger struct {
	txRunner db.TxRunner
	wallets  WalletStore
	journal  LedgerStore
	logger   *zap.Logger
	now      func() time.Time
}

func NewLedger(txRunner db.TxRunner, wallets WalletStore, journal LedgerStore, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		txRunner: txRunner,
		wallets:  wallets,
		journal:  journal,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (l *Ledger) GetBalance(ctx context.Context, ownerID string) (models.Wallet, error) {
	wallet, err := l.wallets.GetByOwner(ctx, ownerID)
	if err != nil {
		return models.Wallet{}, notFound(err, "ledger.GetBalance", "wallet")
	}
	return wallet, nil
}

// EnsureWallet creates the owner's wallet if it does not exist yet.
func (l *Ledger) EnsureWallet(ctx context.Context, ownerID string) (models.Wallet, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return models.Wallet{}, validationf("ledger.EnsureWallet", "owner id is required")
	}
	err := l.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		created, err := l.wallets.Create(ctx, tx, uuid.NewString(), ownerID)
		if err != nil {
			return fmt.Errorf("ledger.EnsureWallet: %w", err)
		}
		if created {
			l.logger.Info("wallet created", zap.String("owner_id", ownerID))
		}
		return nil
	})
	if err != nil {
		return models.Wallet{}, err
	}
	return l.GetBalance(ctx, ownerID)
}

// Statement is a wallet with its journal. Drift is non-zero only when the
// stored balance disagrees with the journal.
type Statement struct {
	Wallet  models.Wallet        `json:"wallet"`
	Totals  store.JournalTotals  `json:"totals"`
	Drift   int64                `json:"drift"`
	Entries []store.JournalEntry `json:"entries"`
}

func (l *Ledger) Statement(ctx context.Context, ownerID string, page store.Page) (Statement, error) {
	wallet, err := l.GetBalance(ctx, ownerID)
	if err != nil {
		return Statement{}, err
	}
	totals, err := l.journal.Totals(ctx, wallet.ID)
	if err != nil {
		return Statement{}, fmt.Errorf("ledger.Statement: totals: %w", err)
	}
	entries, err := l.journal.ListByWallet(ctx, wallet.ID, page)
	if err != nil {
		return Statement{}, fmt.Errorf("ledger.Statement: entries: %w", err)
	}
	statement := Statement{
		Wallet:  wallet,
		Totals:  totals,
		Drift:   wallet.Balance - totals.Net(),
		Entries: entries,
	}
	if statement.Drift != 0 {
		l.logger.Warn("wallet out of balance with journal",
			zap.String("wallet_id", wallet.ID),
			zap.Int64("drift", statement.Drift))
	}
	return statement, nil
}

// Reconcile lists wallets whose stored balance disagrees with the journal.
func (l *Ledger) Reconcile(ctx context.Context) ([]store.WalletReconciliation, error) {
	rows, err := l.wallets.Mismatches(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger.Reconcile: %w", err)
	}
	for _, row := range rows {
		l.logger.Warn("wallet out of balance with journal",
			zap.String("wallet_id", row.WalletID),
			zap.Int64("stored", row.StoredBalance),
			zap.Int64("journal", row.LedgerSum))
	}
	return rows, nil
}

type movement int

const (
	movementCredit movement = iota
	movementDebit
	movementReverse
)

func (m movement) String() string {
	switch m {
	case movementCredit:
		return "credit"
	case movementDebit:
		return "debit"
	case movementReverse:
		return "reverse"
	default:
		panic(fmt.Sprintf("unhandled movement %d", int(m)))
	}
}

func (l *Ledger) credit(ctx context.Context, tx store.Tx, transactionID, ownerID string, amount int64) (models.Wallet, error) {
	return l.apply(ctx, tx, movementCredit, transactionID, ownerID, amount)
}

func (l *Ledger) debit(ctx context.Context, tx store.Tx, transactionID, ownerID string, amount int64) (models.Wallet, error) {
	return l.apply(ctx, tx, movementDebit, transactionID, ownerID, amount)
}

// reverse undoes an earlier debit. It is allowed on inactive wallets so a
// failed withdrawal can always be compensated.
func (l *Ledger) reverse(ctx context.Context, tx store.Tx, transactionID, ownerID string, amount int64) (models.Wallet, error) {
	return l.apply(ctx, tx, movementReverse, transactionID, ownerID, amount)
}

func (l *Ledger) apply(ctx context.Context, tx store.Tx, kind movement, transactionID, ownerID string, amount int64) (models.Wallet, error) {
	op := "ledger." + kind.String()
	if amount <= 0 {
		return models.Wallet{}, validationf(op, "amount must be positive")
	}
	wallet, err := l.wallets.GetForUpdate(ctx, tx, ownerID)
	if err != nil {
		return models.Wallet{}, notFound(err, op, "wallet")
	}
	if !wallet.IsActive && kind != movementReverse {
		return models.Wallet{}, invalidStatef(op, "wallet %s is inactive", wallet.ID)
	}

	var signed int64
	switch kind {
	case movementCredit:
		wallet.Balance += amount
		wallet.TotalDeposited += amount
		signed = amount
	case movementDebit:
		if wallet.Balance < amount {
			return models.Wallet{}, insufficientf(op, "balance %d is below %d", wallet.Balance, amount)
		}
		wallet.Balance -= amount
		wallet.TotalWithdrawn += amount
		signed = -amount
	case movementReverse:
		wallet.Balance += amount
		wallet.TotalWithdrawn -= amount
		signed = amount
	default:
		panic(fmt.Sprintf("unhandled movement %d", int(kind)))
	}
	now := l.now()
	wallet.LastTransactionAt = &now

	if err := l.wallets.Save(ctx, tx, wallet); err != nil {
		return models.Wallet{}, fmt.Errorf("%s: save wallet: %w", op, err)
	}
	entry := store.LedgerEntryInput{
		ID:            uuid.NewString(),
		TransactionID: transactionID,
		WalletID:      wallet.ID,
		Amount:        signed,
		Description:   kind.String(),
	}
	if err := l.journal.InsertEntries(ctx, tx, []store.LedgerEntryInput{entry}); err != nil {
		return models.Wallet{}, fmt.Errorf("%s: journal: %w", op, err)
	}
	return wallet, nil
}
