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

// CommissionEngine accrues realtor commissions and pays them out through
// admin-approved withdrawal requests.
type CommissionEngine struct {
	txRunner     db.TxRunner
	commissions  CommissionStore
	withdrawals  WithdrawalStore
	transactions *TransactionLog
	audit        AuditStore
	logger       *zap.Logger
	now          func() time.Time
}

func NewCommissionEngine(txRunner db.TxRunner, commissions CommissionStore, withdrawals WithdrawalStore, transactions *TransactionLog, audit AuditStore, logger *zap.Logger) *CommissionEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommissionEngine{
		txRunner:     txRunner,
		commissions:  commissions,
		withdrawals:  withdrawals,
		transactions: transactions,
		audit:        audit,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

type CommissionSummary struct {
	RealtorID   string `json:"realtor_id"`
	Total       int64  `json:"total"`
	Paid        int64  `json:"paid"`
	Outstanding int64  `json:"outstanding"`
	Reserved    int64  `json:"reserved"`
	Available   int64  `json:"available"`
	Records     int    `json:"records"`
}

// reservedStatuses are the request states that hold back commission.
var reservedStatuses = []models.WithdrawalStatus{models.WithdrawalPending, models.WithdrawalApproved}

// accrue adds amount to the realtor's record for the escrow. It runs inside
// the release unit of the Escrow Engine.
func (c *CommissionEngine) accrue(ctx context.Context, tx store.Tx, escrow models.Escrow, amount int64) (models.Commission, error) {
	const op = "commissions.accrue"
	if !escrow.HasRealtor() {
		return models.Commission{}, validationf(op, "escrow %s has no realtor", escrow.ID)
	}
	if amount <= 0 {
		return models.Commission{}, validationf(op, "commission must be positive")
	}
	commission, err := c.commissions.Accrue(ctx, tx, store.AccrualInput{
		ID:         uuid.NewString(),
		RealtorID:  *escrow.RealtorID,
		EscrowID:   escrow.ID,
		PropertyID: escrow.PropertyID,
		BuyerID:    escrow.BuyerID,
		Amount:     amount,
	})
	if err != nil {
		return models.Commission{}, fmt.Errorf("%s: %w", op, err)
	}
	return commission, nil
}

func (c *CommissionEngine) SubmitWithdrawalRequest(ctx context.Context, realtorID string, amount int64) (models.WithdrawalRequest, error) {
	const op = "commissions.SubmitWithdrawalRequest"
	realtorID = strings.TrimSpace(realtorID)
	if realtorID == "" {
		return models.WithdrawalRequest{}, validationf(op, "realtor id is required")
	}
	if amount <= 0 {
		return models.WithdrawalRequest{}, validationf(op, "amount must be positive")
	}
	var request models.WithdrawalRequest
	err := c.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		rows, err := c.commissions.ListByRealtorForUpdate(ctx, tx, realtorID)
		if err != nil {
			return fmt.Errorf("%s: lock commissions: %w", op, err)
		}
		reserved, err := c.withdrawals.SumReserved(ctx, tx, realtorID, reservedStatuses, "")
		if err != nil {
			return fmt.Errorf("%s: reserved: %w", op, err)
		}
		available := outstanding(rows) - reserved
		if amount > available {
			return insufficientf(op, "requested %d but only %d is available", amount, available)
		}
		request = models.WithdrawalRequest{
			ID:        uuid.NewString(),
			RealtorID: realtorID,
			Amount:    amount,
			Status:    models.WithdrawalPending,
			CreatedAt: c.now(),
		}
		if err := c.withdrawals.Create(ctx, tx, request); err != nil {
			return fmt.Errorf("%s: create: %w", op, err)
		}
		return c.audit.Log(ctx, tx, actorFrom(ctx), "withdrawal.submitted", "commission_withdrawal", request.ID, map[string]any{
			"realtor_id": realtorID,
			"amount":     amount,
		})
	})
	if err != nil {
		return models.WithdrawalRequest{}, err
	}
	return request, nil
}

// ProcessWithdrawalRequest approves or rejects a PENDING request.
func (c *CommissionEngine) ProcessWithdrawalRequest(ctx context.Context, requestID string, action models.WithdrawalAction, adminID, reason string) (models.WithdrawalRequest, error) {
	const op = "commissions.ProcessWithdrawalRequest"
	adminID = strings.TrimSpace(adminID)
	if adminID == "" {
		return models.WithdrawalRequest{}, validationf(op, "admin id is required")
	}
	reason = strings.TrimSpace(reason)
	switch action {
	case models.ActionApprove:
	case models.ActionReject:
		if reason == "" {
			return models.WithdrawalRequest{}, validationf(op, "a rejection reason is required")
		}
	default:
		return models.WithdrawalRequest{}, validationf(op, "unknown action %q", string(action))
	}

	var request models.WithdrawalRequest
	err := c.withLockedRequest(ctx, op, requestID, func(tx *sqlx.Tx, rows []models.Commission, w models.WithdrawalRequest) error {
		if w.Status != models.WithdrawalPending {
			return conflictf(op, "request %s is %s", w.ID, w.Status)
		}
		now := c.now()
		switch action {
		case models.ActionApprove:
			approved, err := c.withdrawals.SumReserved(ctx, tx, w.RealtorID, []models.WithdrawalStatus{models.WithdrawalApproved}, w.ID)
			if err != nil {
				return fmt.Errorf("%s: reserved: %w", op, err)
			}
			if available := outstanding(rows) - approved; w.Amount > available {
				return insufficientf(op, "request %d exceeds %d available", w.Amount, available)
			}
			w.Status = models.WithdrawalApproved
			w.ApprovedBy = &adminID
			w.ApprovedAt = &now
		case models.ActionReject:
			w.Status = models.WithdrawalRejected
			w.RejectionReason = &reason
		}
		if err := c.withdrawals.Save(ctx, tx, w); err != nil {
			return fmt.Errorf("%s: save: %w", op, err)
		}
		request = w
		return c.audit.Log(ctx, tx, adminID, "withdrawal."+strings.ToLower(string(action)), "commission_withdrawal", w.ID, map[string]any{
			"amount": w.Amount,
			"reason": reason,
		})
	})
	if err != nil {
		return models.WithdrawalRequest{}, err
	}
	c.logger.Info("withdrawal request processed",
		zap.String("request_id", request.ID),
		zap.String("status", string(request.Status)))
	return request, nil
}

// MarkWithdrawalProcessed records that an APPROVED request was paid out and
// allocates the payment across the realtor's records, oldest first.
func (c *CommissionEngine) MarkWithdrawalProcessed(ctx context.Context, requestID, payoutReference string) (models.WithdrawalRequest, error) {
	const op = "commissions.MarkWithdrawalProcessed"
	payoutReference = strings.TrimSpace(payoutReference)
	var request models.WithdrawalRequest
	err := c.withLockedRequest(ctx, op, requestID, func(tx *sqlx.Tx, rows []models.Commission, w models.WithdrawalRequest) error {
		switch w.Status {
		case models.WithdrawalApproved:
		case models.WithdrawalPending:
			return invalidStatef(op, "request %s has not been approved", w.ID)
		case models.WithdrawalProcessed, models.WithdrawalRejected:
			return conflictf(op, "request %s is already %s", w.ID, w.Status)
		default:
			panic(fmt.Sprintf("unhandled withdrawal status %q", string(w.Status)))
		}
		if total := outstanding(rows); total < w.Amount {
			return insufficientf(op, "request %d exceeds %d outstanding", w.Amount, total)
		}

		payment, err := c.transactions.createAndSettle(ctx, tx, CreateTransactionRequest{
			OwnerID:   w.RealtorID,
			Type:      models.TxCommissionPayment,
			Amount:    w.Amount,
			Reference: payoutReference,
			Metadata:  models.Metadata{"withdrawal_id": w.ID},
		}, models.TxSuccess)
		if err != nil {
			return err
		}
		transactionID := payment.transaction.ID

		for _, alloc := range allocateOldestFirst(rows, w.Amount) {
			ok, err := c.commissions.AddPaid(ctx, tx, alloc.commissionID, alloc.amount)
			if err != nil {
				return fmt.Errorf("%s: pay commission: %w", op, err)
			}
			if !ok {
				return conflictf(op, "commission %s would be overpaid", alloc.commissionID)
			}
			if err := c.commissions.InsertPayment(ctx, tx, models.CommissionPayment{
				ID:            uuid.NewString(),
				CommissionID:  alloc.commissionID,
				WithdrawalID:  w.ID,
				Amount:        alloc.amount,
				TransactionID: transactionID,
			}); err != nil {
				return fmt.Errorf("%s: payment record: %w", op, err)
			}
		}

		now := c.now()
		w.Status = models.WithdrawalProcessed
		w.TransactionID = &transactionID
		w.ProcessedAt = &now
		if payoutReference != "" {
			w.PayoutReference = &payoutReference
		}
		if err := c.withdrawals.Save(ctx, tx, w); err != nil {
			return fmt.Errorf("%s: save: %w", op, err)
		}
		request = w
		return c.audit.Log(ctx, tx, actorFrom(ctx), "withdrawal.processed", "commission_withdrawal", w.ID, map[string]any{
			"amount":         w.Amount,
			"transaction_id": transactionID,
		})
	})
	if err != nil {
		return models.WithdrawalRequest{}, err
	}
	c.logger.Info("withdrawal paid out",
		zap.String("request_id", request.ID),
		zap.String("realtor_id", request.RealtorID),
		zap.Int64("amount", request.Amount))
	return request, nil
}

// withLockedRequest locks the realtor's commission rows and then the request,
// in that order, and hands both to fn.
func (c *CommissionEngine) withLockedRequest(ctx context.Context, op, requestID string, fn func(tx *sqlx.Tx, rows []models.Commission, w models.WithdrawalRequest) error) error {
	peek, err := c.withdrawals.GetByID(ctx, requestID)
	if err != nil {
		return notFound(err, op, "withdrawal request")
	}
	return c.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		rows, err := c.commissions.ListByRealtorForUpdate(ctx, tx, peek.RealtorID)
		if err != nil {
			return fmt.Errorf("%s: lock commissions: %w", op, err)
		}
		w, err := c.withdrawals.GetForUpdate(ctx, tx, requestID)
		if err != nil {
			return notFound(err, op, "withdrawal request")
		}
		return fn(tx, rows, w)
	})
}

func (c *CommissionEngine) ListByRealtor(ctx context.Context, realtorID string) ([]models.Commission, error) {
	rows, err := c.commissions.ListByRealtor(ctx, realtorID)
	if err != nil {
		return nil, fmt.Errorf("commissions.ListByRealtor: %w", err)
	}
	return rows, nil
}

// Summary is a read-only view and runs outside any unit.
func (c *CommissionEngine) Summary(ctx context.Context, realtorID string) (CommissionSummary, error) {
	const op = "commissions.Summary"
	rows, err := c.commissions.ListByRealtor(ctx, realtorID)
	if err != nil {
		return CommissionSummary{}, fmt.Errorf("%s: %w", op, err)
	}
	reserved, err := c.withdrawals.Reserved(ctx, realtorID, reservedStatuses)
	if err != nil {
		return CommissionSummary{}, fmt.Errorf("%s: reserved: %w", op, err)
	}
	summary := CommissionSummary{RealtorID: realtorID, Records: len(rows), Reserved: reserved}
	for _, row := range rows {
		summary.Total += row.TotalCommission
		summary.Paid += row.PaidCommission
	}
	summary.Outstanding = outstanding(rows)
	summary.Available = summary.Outstanding - reserved
	return summary, nil
}

func (c *CommissionEngine) ListWithdrawals(ctx context.Context, filter store.WithdrawalFilter) ([]models.WithdrawalRequest, error) {
	rows, err := c.withdrawals.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("commissions.ListWithdrawals: %w", err)
	}
	return rows, nil
}

func (c *CommissionEngine) GetWithdrawal(ctx context.Context, requestID string) (models.WithdrawalRequest, error) {
	w, err := c.withdrawals.GetByID(ctx, requestID)
	if err != nil {
		return models.WithdrawalRequest{}, notFound(err, "commissions.GetWithdrawal", "withdrawal request")
	}
	return w, nil
}

func (c *CommissionEngine) ListPayments(ctx context.Context, requestID string) ([]models.CommissionPayment, error) {
	rows, err := c.commissions.ListPayments(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("commissions.ListPayments: %w", err)
	}
	return rows, nil
}

func outstanding(rows []models.Commission) int64 {
	var sum int64
	for _, row := range rows {
		sum += row.Outstanding()
	}
	return sum
}

type allocation struct {
	commissionID string
	amount       int64
}

// allocateOldestFirst spreads amount over rows in order. rows must already be
// sorted oldest first.
func allocateOldestFirst(rows []models.Commission, amount int64) []allocation {
	var out []allocation
	remaining := amount
	for _, row := range rows {
		if remaining == 0 {
			break
		}
		open := row.Outstanding()
		if open == 0 {
			continue
		}
		take := min(remaining, open)
		out = append(out, allocation{commissionID: row.ID, amount: take})
		remaining -= take
	}
	return out
}
