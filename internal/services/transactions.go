package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"propledger/internal/db"
	"propledger/internal/models"
	"propledger/internal/money"
	"propledger/internal/store"
	"propledger/internal/websocket"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// TransactionLog is the only writer of transaction rows. It applies the wallet
// effect of each transaction type through the Ledger in the same unit of work.
type TransactionLog struct {
	txRunner     db.TxRunner
	transactions TransactionStore
	ledger       *Ledger
	audit        AuditStore
	hub          BalanceHub
	currency     string
	logger       *zap.Logger
	now          func() time.Time
}

func NewTransactionLog(txRunner db.TxRunner, transactions TransactionStore, ledger *Ledger, audit AuditStore, hub BalanceHub, currency string, logger *zap.Logger) *TransactionLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransactionLog{
		txRunner:     txRunner,
		transactions: transactions,
		ledger:       ledger,
		audit:        audit,
		hub:          hub,
		currency:     currency,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

type CreateTransactionRequest struct {
	OwnerID   string
	Type      models.TransactionType
	Amount    int64
	Reference string
	Metadata  models.Metadata
}

// movedWallet is a wallet state to announce once the unit has committed.
type movedWallet struct {
	wallet        models.Wallet
	transactionID string
}

type settlement struct {
	transaction models.Transaction
	changed     bool
	moved       []movedWallet
}

func (l *TransactionLog) CreateTransaction(ctx context.Context, req CreateTransactionRequest) (models.Transaction, error) {
	var out settlement
	err := l.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		out, err = l.create(ctx, tx, req)
		return err
	})
	if err != nil {
		return models.Transaction{}, err
	}
	l.announce(out.moved)
	return out.transaction, nil
}

// Finalize moves a PENDING transaction to its terminal outcome. Finalizing a
// transaction that is already terminal returns it unchanged.
func (l *TransactionLog) Finalize(ctx context.Context, transactionID string, outcome models.TransactionStatus, note string) (models.Transaction, error) {
	return l.finalizeWith(ctx, "transactions.Finalize", func(tx store.Tx) (models.Transaction, error) {
		t, err := l.transactions.GetForUpdate(ctx, tx, transactionID)
		return t, notFound(err, "transactions.Finalize", "transaction")
	}, outcome, noteMetadata(note))
}

func (l *TransactionLog) FinalizeByReference(ctx context.Context, reference string, outcome models.TransactionStatus, note string) (models.Transaction, error) {
	return l.finalizeByReference(ctx, reference, outcome, noteMetadata(note))
}

func (l *TransactionLog) finalizeByReference(ctx context.Context, reference string, outcome models.TransactionStatus, extra models.Metadata) (models.Transaction, error) {
	return l.finalizeWith(ctx, "transactions.FinalizeByReference", func(tx store.Tx) (models.Transaction, error) {
		t, err := l.transactions.GetByReferenceForUpdate(ctx, tx, reference)
		return t, notFound(err, "transactions.FinalizeByReference", "transaction")
	}, outcome, extra)
}

func (l *TransactionLog) finalizeWith(ctx context.Context, op string, load func(store.Tx) (models.Transaction, error), outcome models.TransactionStatus, extra models.Metadata) (models.Transaction, error) {
	if err := validateOutcome(op, outcome); err != nil {
		return models.Transaction{}, err
	}
	var out settlement
	err := l.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		out = settlement{}
		t, err := load(tx)
		if err != nil {
			return err
		}
		out, err = l.finalize(ctx, tx, t, outcome, extra)
		return err
	})
	if err != nil {
		return models.Transaction{}, err
	}
	if out.changed {
		l.logger.Info("transaction finalized",
			zap.String("transaction_id", out.transaction.ID),
			zap.String("reference", out.transaction.Reference),
			zap.String("status", string(out.transaction.Status)))
	}
	l.announce(out.moved)
	return out.transaction, nil
}

func (l *TransactionLog) FindByReference(ctx context.Context, reference string) (models.Transaction, error) {
	t, err := l.transactions.GetByReference(ctx, reference)
	if err != nil {
		return models.Transaction{}, notFound(err, "transactions.FindByReference", "transaction")
	}
	return t, nil
}

func (l *TransactionLog) GetByID(ctx context.Context, id string) (models.Transaction, error) {
	t, err := l.transactions.GetByID(ctx, id)
	if err != nil {
		return models.Transaction{}, notFound(err, "transactions.GetByID", "transaction")
	}
	return t, nil
}

func (l *TransactionLog) List(ctx context.Context, filter store.TransactionFilter) ([]models.Transaction, error) {
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, validationf("transactions.List", "end date is before start date")
	}
	rows, err := l.transactions.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("transactions.List: %w", err)
	}
	return rows, nil
}

func (l *TransactionLog) ListByOwner(ctx context.Context, ownerID string, filter store.TransactionFilter) ([]models.Transaction, error) {
	filter.OwnerID = ownerID
	return l.List(ctx, filter)
}

// ListStalePending returns gateway-backed transactions created before cutoff
// that are still PENDING, ordered after the cursor.
func (l *TransactionLog) ListStalePending(ctx context.Context, cutoff time.Time, after store.StaleCursor, limit int) ([]models.Transaction, error) {
	types := []models.TransactionType{models.TxWalletDeposit, models.TxWalletWithdrawal}
	rows, err := l.transactions.ListStalePending(ctx, cutoff, types, after, limit)
	if err != nil {
		return nil, fmt.Errorf("transactions.ListStalePending: %w", err)
	}
	return rows, nil
}

// MergeAuditMetadata is the one mutation allowed on a transaction outside of
// finalization. It never touches status or amounts.
func (l *TransactionLog) MergeAuditMetadata(ctx context.Context, tx store.Execer, transactionID string, extra models.Metadata) error {
	if len(extra) == 0 {
		return nil
	}
	if err := l.transactions.MergeMetadata(ctx, tx, transactionID, extra); err != nil {
		return fmt.Errorf("transactions.MergeAuditMetadata: %w", err)
	}
	return nil
}

// annotate merges audit metadata in a unit of its own.
func (l *TransactionLog) annotate(ctx context.Context, transactionID string, extra models.Metadata) error {
	return l.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return l.MergeAuditMetadata(ctx, tx, transactionID, extra)
	})
}

func (l *TransactionLog) create(ctx context.Context, tx store.Tx, req CreateTransactionRequest) (settlement, error) {
	const op = "transactions.Create"
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		return settlement{}, validationf(op, "owner id is required")
	}
	if !req.Type.Valid() {
		return settlement{}, validationf(op, "unknown transaction type %q", string(req.Type))
	}
	if req.Amount <= 0 {
		return settlement{}, validationf(op, "amount must be positive")
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		reference = newReference(req.Type, ownerID, l.now())
	}

	t := models.Transaction{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Type:      req.Type,
		Amount:    req.Amount,
		Reference: reference,
		Status:    models.TxPending,
		Metadata:  req.Metadata.Merge(nil),
		CreatedAt: l.now(),
	}
	var out settlement
	switch t.Type.Effect() {
	case models.EffectDebitOnCreate:
		wallet, err := l.ledger.debit(ctx, tx, t.ID, ownerID, t.Amount)
		if err != nil {
			return settlement{}, err
		}
		balance := wallet.Balance
		t.BalanceAfter = &balance
		out.moved = append(out.moved, movedWallet{wallet: wallet, transactionID: t.ID})
	case models.EffectCreditOnSuccess, models.EffectNone:
	}

	inserted, err := l.transactions.Insert(ctx, tx, t)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return settlement{}, conflictf(op, "reference %q already exists", reference)
		}
		return settlement{}, fmt.Errorf("%s: insert: %w", op, err)
	}
	if !inserted {
		return settlement{}, conflictf(op, "reference %q already exists", reference)
	}
	if err := l.audit.Log(ctx, tx, actorFrom(ctx), "transaction.created", "transaction", t.ID, map[string]any{
		"reference": t.Reference,
		"type":      t.Type,
		"amount":    t.Amount,
	}); err != nil {
		return settlement{}, fmt.Errorf("%s: audit: %w", op, err)
	}
	out.transaction = t
	out.changed = true
	return out, nil
}

// createAndSettle creates a transaction and finalizes it in the same unit.
// The engines use it for internal movements that have no external outcome.
func (l *TransactionLog) createAndSettle(ctx context.Context, tx store.Tx, req CreateTransactionRequest, outcome models.TransactionStatus) (settlement, error) {
	created, err := l.create(ctx, tx, req)
	if err != nil {
		return settlement{}, err
	}
	settled, err := l.finalize(ctx, tx, created.transaction, outcome, nil)
	if err != nil {
		return settlement{}, err
	}
	settled.moved = append(created.moved, settled.moved...)
	return settled, nil
}

// finalize expects t to be locked by the caller.
func (l *TransactionLog) finalize(ctx context.Context, tx store.Tx, t models.Transaction, outcome models.TransactionStatus, extra models.Metadata) (settlement, error) {
	const op = "transactions.finalize"
	if err := validateOutcome(op, outcome); err != nil {
		return settlement{}, err
	}
	if t.Status.Terminal() {
		return settlement{transaction: t}, nil
	}

	var out settlement
	switch t.Type.Effect() {
	case models.EffectCreditOnSuccess:
		t.BalanceAfter = nil
		if outcome == models.TxSuccess {
			wallet, err := l.ledger.credit(ctx, tx, t.ID, t.OwnerID, t.Amount)
			if err != nil {
				return settlement{}, err
			}
			balance := wallet.Balance
			t.BalanceAfter = &balance
			out.moved = append(out.moved, movedWallet{wallet: wallet, transactionID: t.ID})
		}
	case models.EffectDebitOnCreate:
		if outcome == models.TxFailed || outcome == models.TxCancelled {
			wallet, err := l.ledger.reverse(ctx, tx, t.ID, t.OwnerID, t.Amount)
			if err != nil {
				return settlement{}, err
			}
			balance := wallet.Balance
			t.BalanceAfter = &balance
			out.moved = append(out.moved, movedWallet{wallet: wallet, transactionID: t.ID})
		}
	case models.EffectNone:
	}

	previous := t.Status
	now := l.now()
	t.Status = outcome
	t.Metadata = t.Metadata.Merge(extra)
	t.FinalizedAt = &now
	updated, err := l.transactions.Finalize(ctx, tx, t)
	if err != nil {
		return settlement{}, fmt.Errorf("%s: update: %w", op, err)
	}
	if !updated {
		return settlement{}, conflictf(op, "transaction %s was finalized concurrently", t.ID)
	}
	if err := l.audit.Log(ctx, tx, actorFrom(ctx), "transaction.finalized", "transaction", t.ID, map[string]any{
		"from": previous,
		"to":   outcome,
	}); err != nil {
		return settlement{}, fmt.Errorf("%s: audit: %w", op, err)
	}
	out.transaction = t
	out.changed = true
	return out, nil
}

func (l *TransactionLog) announce(moved []movedWallet) {
	if l.hub == nil {
		return
	}
	for _, m := range moved {
		l.hub.BroadcastBalance(m.wallet.OwnerID, websocket.BalanceUpdate{
			WalletID:      m.wallet.ID,
			Balance:       money.FormatMinor(m.wallet.Balance),
			BalanceMinor:  m.wallet.Balance,
			Currency:      l.currency,
			TransactionID: m.transactionID,
		})
	}
}

func validateOutcome(op string, outcome models.TransactionStatus) error {
	if !outcome.Valid() || outcome == models.TxPending {
		return validationf(op, "outcome must be SUCCESS, FAILED or CANCELLED, got %q", string(outcome))
	}
	return nil
}

func noteMetadata(note string) models.Metadata {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil
	}
	return models.Metadata{"finalization_note": note}
}

// newReference builds PREFIX_OWNER_MILLIS_RANDOM, e.g. DEP_1A2B3C4D_1700000000000_9F3A1C.
func newReference(t models.TransactionType, ownerID string, now time.Time) string {
	owner := strings.ToUpper(strings.ReplaceAll(ownerID, "-", ""))
	if len(owner) > 8 {
		owner = owner[:8]
	}
	random := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:6]
	return fmt.Sprintf("%s_%s_%d_%s", t.ReferencePrefix(), owner, now.UnixMilli(), random)
}
