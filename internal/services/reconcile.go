package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"propledger/internal/gateway"
	"propledger/internal/lock"
	"propledger/internal/models"
	"propledger/internal/store"

	"go.uber.org/zap"
)

const (
	reconcileLockKey      = "lock:propledger:reconcile"
	defaultReconcileBatch = 100
)

type Locker interface {
	TryLock(ctx context.Context, key string) (lock.Unlock, bool, error)
}

// Reconciler resolves gateway-backed transactions whose webhook never came.
// A nil locker runs without cross-process exclusion.
type Reconciler struct {
	transactions *TransactionLog
	ledger       *Ledger
	gateway      gateway.Gateway
	locker       Locker
	currency     string
	olderThan    time.Duration
	batch        int
	logger       *zap.Logger
}

func NewReconciler(transactions *TransactionLog, ledger *Ledger, gw gateway.Gateway, locker Locker, currency string, olderThan time.Duration, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		transactions: transactions,
		ledger:       ledger,
		gateway:      gw,
		locker:       locker,
		currency:     currency,
		olderThan:    olderThan,
		batch:        defaultReconcileBatch,
		logger:       logger,
	}
}

type ReconcileReport struct {
	Skipped      bool                         `json:"skipped"`
	Checked      int                          `json:"checked"`
	Finalized    int                          `json:"finalized"`
	StillPending int                          `json:"still_pending"`
	Failed       int                          `json:"failed"`
	Mismatches   []store.WalletReconciliation `json:"mismatches"`
}

func (r *Reconciler) Run(ctx context.Context) (ReconcileReport, error) {
	if r.locker != nil {
		unlock, acquired, err := r.locker.TryLock(ctx, reconcileLockKey)
		if err != nil {
			return ReconcileReport{}, fmt.Errorf("reconcile: %w", err)
		}
		if !acquired {
			r.logger.Info("reconcile skipped, another run holds the lock")
			return ReconcileReport{Skipped: true}, nil
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				r.logger.Warn("reconcile unlock failed", zap.Error(err))
			}
		}()
	}

	// Rows a pass cannot settle stay PENDING, so the cursor moves past them
	// instead of re-reading the same oldest window.
	cutoff := r.transactions.now().Add(-r.olderThan)
	var report ReconcileReport
	var cursor store.StaleCursor
	for {
		stale, err := r.transactions.ListStalePending(ctx, cutoff, cursor, r.batch)
		if err != nil {
			return report, err
		}
		for _, t := range stale {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Checked++
			cursor = cursor.After(t)
			result, err := r.resolve(ctx, t)
			switch {
			case err != nil:
				report.Failed++
				r.logger.Error("reconcile transaction", zap.String("reference", t.Reference), zap.Error(err))
			case result == resolvedRejected:
				report.Failed++
			case result == resolvedFinalized:
				report.Finalized++
			default:
				report.StillPending++
			}
		}
		if len(stale) == 0 || len(stale) < r.batch {
			break
		}
	}

	mismatches, err := r.ledger.Reconcile(ctx)
	if err != nil {
		return report, err
	}
	report.Mismatches = mismatches
	r.logger.Info("reconcile finished",
		zap.Int("checked", report.Checked),
		zap.Int("finalized", report.Finalized),
		zap.Int("still_pending", report.StillPending),
		zap.Int("failed", report.Failed),
		zap.Int("wallet_mismatches", len(mismatches)))
	return report, nil
}

type resolution int

const (
	resolvedPending resolution = iota
	resolvedFinalized
	resolvedRejected
)

func (r *Reconciler) resolve(ctx context.Context, t models.Transaction) (resolution, error) {
	v, err := r.gateway.Verify(ctx, t.Reference)
	if errors.Is(err, gateway.ErrNotFound) {
		// The gateway never saw the payment, so the customer abandoned it.
		v = gateway.Verification{Status: "abandoned", Amount: t.Amount, Currency: r.currency, Reference: t.Reference}
	} else if err != nil {
		return resolvedPending, err
	}
	verifiedAt := time.Now().UTC().Format(time.RFC3339)
	outcome, ok := transactionOutcome(gateway.MapStatus(v.Status))
	if !ok {
		return resolvedPending, r.transactions.annotate(ctx, t.ID, models.Metadata{
			"last_verified_at": verifiedAt,
			"gateway_status":   v.Status,
		})
	}
	if outcome == models.TxSuccess && (v.Amount != t.Amount || !strings.EqualFold(v.Currency, r.currency)) {
		return r.rejectMismatch(ctx, t, v, verifiedAt)
	}
	_, err = r.transactions.finalizeByReference(ctx, t.Reference, outcome, models.Metadata{
		"reconciled":     true,
		"gateway_status": v.Status,
	})
	if err != nil {
		return resolvedPending, err
	}
	return resolvedFinalized, nil
}

// rejectMismatch handles a gateway success whose amount or currency disagrees
// with the stored transaction. A deposit is finalized FAILED without a credit.
// A withdrawal already left the wallet, so it stays PENDING and is flagged
// for manual review rather than refunded.
func (r *Reconciler) rejectMismatch(ctx context.Context, t models.Transaction, v gateway.Verification, verifiedAt string) (resolution, error) {
	problem := fmt.Sprintf("gateway reports %d %s for %d %s", v.Amount, v.Currency, t.Amount, r.currency)
	r.logger.Warn("reconcile amount mismatch",
		zap.String("reference", t.Reference),
		zap.String("type", string(t.Type)),
		zap.String("problem", problem))
	if t.Type != models.TxWalletDeposit {
		err := r.transactions.annotate(ctx, t.ID, models.Metadata{
			"last_verified_at": verifiedAt,
			"gateway_status":   v.Status,
			"needs_review":     problem,
		})
		if err != nil {
			return resolvedPending, err
		}
		return resolvedRejected, nil
	}
	_, err := r.transactions.finalizeByReference(ctx, t.Reference, models.TxFailed, models.Metadata{
		"reconciled":      true,
		"gateway_status":  v.Status,
		"reconcile_error": problem,
	})
	if err != nil {
		return resolvedPending, err
	}
	return resolvedRejected, nil
}
