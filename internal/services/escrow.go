package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"propledger/internal/db"
	"propledger/internal/models"
	"propledger/internal/money"
	"propledger/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrHeldMismatch means an escrow's held amount no longer equals the sum of
// its funded milestones. It is never a caller error.
var ErrHeldMismatch = errors.New("escrow held amount does not match funded milestones")

type EscrowEngine struct {
	txRunner     db.TxRunner
	escrows      EscrowStore
	transactions *TransactionLog
	commissions  *CommissionEngine
	audit        AuditStore
	logger       *zap.Logger
	now          func() time.Time
}

func NewEscrowEngine(txRunner db.TxRunner, escrows EscrowStore, transactions *TransactionLog, commissions *CommissionEngine, audit AuditStore, logger *zap.Logger) *EscrowEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EscrowEngine{
		txRunner:     txRunner,
		escrows:      escrows,
		transactions: transactions,
		commissions:  commissions,
		audit:        audit,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

type MilestoneInput struct {
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
}

type CreateEscrowRequest struct {
	BuyerID              string
	SellerID             string
	RealtorID            string
	PaymentPlanID        string
	PropertyID           string
	TotalAmount          int64
	CommissionPercentage decimal.Decimal
	Milestones           []MilestoneInput
}

type ReleaseResult struct {
	Escrow     models.Escrow       `json:"escrow"`
	Payout     *models.Transaction `json:"payout,omitempty"`
	Commission *models.Commission  `json:"commission,omitempty"`
	// CommissionAmount is the share accrued to the realtor by this release.
	CommissionAmount int64 `json:"commission_amount"`
}

func (e *EscrowEngine) CreateEscrow(ctx context.Context, req CreateEscrowRequest) (models.Escrow, error) {
	const op = "escrow.Create"
	if err := validateEscrowRequest(op, req); err != nil {
		return models.Escrow{}, err
	}
	milestones := make(models.Milestones, 0, len(req.Milestones))
	for _, m := range req.Milestones {
		milestones = append(milestones, models.Milestone{
			Name:   strings.TrimSpace(m.Name),
			Amount: m.Amount,
			Status: models.MilestonePending,
		})
	}
	now := e.now()
	escrow := models.Escrow{
		ID:                   uuid.NewString(),
		BuyerID:              req.BuyerID,
		SellerID:             req.SellerID,
		PaymentPlanID:        req.PaymentPlanID,
		PropertyID:           req.PropertyID,
		TotalAmount:          req.TotalAmount,
		CommissionPercentage: req.CommissionPercentage,
		Milestones:           milestones,
		Status:               models.EscrowCreated,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if realtor := strings.TrimSpace(req.RealtorID); realtor != "" {
		escrow.RealtorID = &realtor
	}
	err := e.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := e.escrows.Create(ctx, tx, escrow); err != nil {
			return fmt.Errorf("%s: insert: %w", op, err)
		}
		return e.audit.Log(ctx, tx, actorFrom(ctx), "escrow.created", "escrow", escrow.ID, map[string]any{
			"total_amount": escrow.TotalAmount,
			"milestones":   len(escrow.Milestones),
		})
	})
	if err != nil {
		return models.Escrow{}, err
	}
	return escrow, nil
}

func validateEscrowRequest(op string, req CreateEscrowRequest) error {
	switch {
	case strings.TrimSpace(req.BuyerID) == "" || strings.TrimSpace(req.SellerID) == "":
		return validationf(op, "buyer and seller are required")
	case req.BuyerID == req.SellerID:
		return validationf(op, "buyer and seller must differ")
	case req.RealtorID != "" && req.RealtorID == req.BuyerID:
		return validationf(op, "realtor must differ from buyer")
	case strings.TrimSpace(req.PropertyID) == "":
		return validationf(op, "property id is required")
	case req.TotalAmount <= 0:
		return validationf(op, "total amount must be positive")
	case len(req.Milestones) == 0:
		return validationf(op, "at least one milestone is required")
	}
	if err := money.ValidatePercent(req.CommissionPercentage); err != nil {
		return validationf(op, "commission percentage must be between 0 and 100 with at most two decimals")
	}
	var sum int64
	for i, m := range req.Milestones {
		if strings.TrimSpace(m.Name) == "" {
			return validationf(op, "milestone %d needs a name", i)
		}
		if m.Amount <= 0 {
			return validationf(op, "milestone %d amount must be positive", i)
		}
		sum += m.Amount
	}
	if sum != req.TotalAmount {
		return validationf(op, "milestones sum to %d, total is %d", sum, req.TotalAmount)
	}
	return nil
}

// FundMilestone debits the buyer and holds the milestone amount in escrow.
func (e *EscrowEngine) FundMilestone(ctx context.Context, escrowID string, index int, amount int64) (models.Escrow, error) {
	const op = "escrow.FundMilestone"
	change, err := e.mutate(ctx, op, "escrow.milestone_funded", escrowID, func(tx store.Tx, c *escrowChange) error {
		escrow := &c.escrow
		switch escrow.Status {
		case models.EscrowCreated, models.EscrowActive:
		case models.EscrowCompleted, models.EscrowCancelled, models.EscrowDisputed:
			return invalidStatef(op, "escrow %s is %s", escrow.ID, escrow.Status)
		default:
			panic(fmt.Sprintf("unhandled escrow status %q", string(escrow.Status)))
		}
		ms, err := milestoneAt(op, escrow, index)
		if err != nil {
			return err
		}
		if ms.Status != models.MilestonePending {
			return invalidStatef(op, "milestone %d is %s", index, ms.Status)
		}
		if amount != ms.Amount {
			return validationf(op, "milestone %d requires %d, got %d", index, ms.Amount, amount)
		}

		deposit, err := e.transactions.createAndSettle(ctx, tx, CreateTransactionRequest{
			OwnerID:  escrow.BuyerID,
			Type:     models.TxEscrowDeposit,
			Amount:   amount,
			Metadata: models.Metadata{"escrow_id": escrow.ID, "milestone_index": index},
		}, models.TxSuccess)
		if err != nil {
			return err
		}
		c.moved = append(c.moved, deposit.moved...)

		now := e.now()
		ms.Status = models.MilestoneFunded
		ms.FundedAt = &now
		ms.FundingTransactionID = deposit.transaction.ID
		escrow.AmountHeld += amount
		if escrow.Status == models.EscrowCreated {
			escrow.Status = models.EscrowActive
		}
		c.audit = map[string]any{"milestone_index": index, "amount": amount, "transaction_id": deposit.transaction.ID}
		return nil
	})
	if err != nil {
		return models.Escrow{}, err
	}
	return change.escrow, nil
}

// ReleaseMilestone pays a funded milestone out of escrow. Milestones release
// in index order. A seller release on an escrow with a realtor splits off the
// commission and accrues it.
func (e *EscrowEngine) ReleaseMilestone(ctx context.Context, escrowID string, index int, recipient models.Recipient) (ReleaseResult, error) {
	const op = "escrow.ReleaseMilestone"
	var result ReleaseResult
	change, err := e.mutate(ctx, op, "escrow.milestone_released", escrowID, func(tx store.Tx, c *escrowChange) error {
		result = ReleaseResult{}
		escrow := &c.escrow
		if escrow.Status != models.EscrowActive {
			return invalidStatef(op, "escrow %s is %s", escrow.ID, escrow.Status)
		}
		ms, err := milestoneAt(op, escrow, index)
		if err != nil {
			return err
		}
		if ms.Status != models.MilestoneFunded {
			return invalidStatef(op, "milestone %d is %s", index, ms.Status)
		}
		for i := 0; i < index; i++ {
			if escrow.Milestones[i].Status != models.MilestoneReleased {
				return invalidStatef(op, "milestone %d must be released before %d", i, index)
			}
		}

		var (
			payoutType  models.TransactionType
			payoutOwner string
			payout      int64
			commission  int64
		)
		switch recipient {
		case models.RecipientSeller:
			payoutType, payoutOwner, payout = models.TxEscrowReleaseSeller, escrow.SellerID, ms.Amount
			if escrow.HasRealtor() {
				commission, payout = money.Split(ms.Amount, escrow.CommissionPercentage)
			}
		case models.RecipientRealtor:
			if !escrow.HasRealtor() {
				return validationf(op, "escrow %s has no realtor", escrow.ID)
			}
			payoutType, payoutOwner, payout = models.TxEscrowReleaseRealtor, *escrow.RealtorID, ms.Amount
		default:
			return validationf(op, "unknown recipient %q", string(recipient))
		}

		if commission > 0 {
			accrued, err := e.commissions.accrue(ctx, tx, *escrow, commission)
			if err != nil {
				return err
			}
			result.Commission = &accrued
			result.CommissionAmount = commission
		}
		if payout > 0 {
			paid, err := e.transactions.createAndSettle(ctx, tx, CreateTransactionRequest{
				OwnerID:  payoutOwner,
				Type:     payoutType,
				Amount:   payout,
				Metadata: models.Metadata{"escrow_id": escrow.ID, "milestone_index": index, "commission": commission},
			}, models.TxSuccess)
			if err != nil {
				return err
			}
			c.moved = append(c.moved, paid.moved...)
			result.Payout = &paid.transaction
			ms.ReleaseTransactionID = paid.transaction.ID
		}

		switch recipient {
		case models.RecipientSeller:
			escrow.AmountReleasedToSeller += payout
			escrow.AmountReleasedToRealtor += commission
		case models.RecipientRealtor:
			escrow.AmountReleasedToRealtor += payout
		}
		now := e.now()
		escrow.AmountHeld -= ms.Amount
		ms.Status = models.MilestoneReleased
		ms.ReleasedAt = &now
		ms.Recipient = recipient
		if escrow.Milestones.AllReleased() {
			escrow.Status = models.EscrowCompleted
		}
		c.audit = map[string]any{
			"milestone_index": index,
			"recipient":       recipient,
			"payout":          payout,
			"commission":      commission,
		}
		return nil
	})
	if err != nil {
		return ReleaseResult{}, err
	}
	result.Escrow = change.escrow
	e.logger.Info("milestone released",
		zap.String("escrow_id", escrowID),
		zap.Int("milestone_index", index),
		zap.String("recipient", string(recipient)),
		zap.Int64("commission", result.CommissionAmount))
	return result, nil
}

// RefundToBuyer returns held money to the buyer and cancels the escrow. A
// partial refund leaves the rest held on the cancelled escrow until a further
// refund drains it.
func (e *EscrowEngine) RefundToBuyer(ctx context.Context, escrowID string, amount int64, reason string) (models.Escrow, error) {
	const op = "escrow.RefundToBuyer"
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return models.Escrow{}, validationf(op, "a refund reason is required")
	}
	if amount <= 0 {
		return models.Escrow{}, validationf(op, "amount must be positive")
	}
	change, err := e.mutate(ctx, op, "escrow.refunded", escrowID, func(tx store.Tx, c *escrowChange) error {
		escrow := &c.escrow
		switch escrow.Status {
		case models.EscrowCreated, models.EscrowActive, models.EscrowDisputed:
		case models.EscrowCancelled:
			if escrow.AmountHeld == 0 {
				return invalidStatef(op, "escrow %s is cancelled with nothing held", escrow.ID)
			}
		case models.EscrowCompleted:
			return invalidStatef(op, "escrow %s is completed", escrow.ID)
		default:
			panic(fmt.Sprintf("unhandled escrow status %q", string(escrow.Status)))
		}
		if escrow.AmountHeld < amount {
			return insufficientf(op, "escrow holds %d, refund is %d", escrow.AmountHeld, amount)
		}

		refund, err := e.transactions.createAndSettle(ctx, tx, CreateTransactionRequest{
			OwnerID:  escrow.BuyerID,
			Type:     models.TxEscrowRefund,
			Amount:   amount,
			Metadata: models.Metadata{"escrow_id": escrow.ID, "reason": reason},
		}, models.TxSuccess)
		if err != nil {
			return err
		}
		c.moved = append(c.moved, refund.moved...)

		escrow.AmountHeld -= amount
		escrow.AmountRefundedToBuyer += amount
		for i := range escrow.Milestones {
			if escrow.Milestones[i].Status.CanTransition(models.MilestoneCancelled) {
				escrow.Milestones[i].Status = models.MilestoneCancelled
			}
		}
		escrow.Status = models.EscrowCancelled
		escrow.CancellationReason = &reason
		c.audit = map[string]any{"amount": amount, "reason": reason, "transaction_id": refund.transaction.ID}
		return nil
	})
	if err != nil {
		return models.Escrow{}, err
	}
	return change.escrow, nil
}

func (e *EscrowEngine) OpenDispute(ctx context.Context, escrowID, reason string) (models.Escrow, error) {
	const op = "escrow.OpenDispute"
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return models.Escrow{}, validationf(op, "a dispute reason is required")
	}
	change, err := e.mutate(ctx, op, "escrow.disputed", escrowID, func(_ store.Tx, c *escrowChange) error {
		if c.escrow.Status != models.EscrowActive {
			return invalidStatef(op, "escrow %s is %s", c.escrow.ID, c.escrow.Status)
		}
		c.escrow.Status = models.EscrowDisputed
		c.escrow.DisputeReason = &reason
		c.audit = map[string]any{"reason": reason}
		return nil
	})
	return change.escrow, err
}

func (e *EscrowEngine) ResolveDispute(ctx context.Context, escrowID string) (models.Escrow, error) {
	const op = "escrow.ResolveDispute"
	change, err := e.mutate(ctx, op, "escrow.dispute_resolved", escrowID, func(_ store.Tx, c *escrowChange) error {
		if c.escrow.Status != models.EscrowDisputed || !c.escrow.Status.CanTransition(models.EscrowActive) {
			return invalidStatef(op, "escrow %s is %s", c.escrow.ID, c.escrow.Status)
		}
		c.escrow.Status = models.EscrowActive
		c.escrow.DisputeReason = nil
		return nil
	})
	return change.escrow, err
}

// Cancel abandons an escrow before any milestone was funded.
func (e *EscrowEngine) Cancel(ctx context.Context, escrowID, reason string) (models.Escrow, error) {
	const op = "escrow.Cancel"
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return models.Escrow{}, validationf(op, "a cancellation reason is required")
	}
	change, err := e.mutate(ctx, op, "escrow.cancelled", escrowID, func(_ store.Tx, c *escrowChange) error {
		if c.escrow.Status != models.EscrowCreated {
			return invalidStatef(op, "escrow %s is %s", c.escrow.ID, c.escrow.Status)
		}
		for i := range c.escrow.Milestones {
			c.escrow.Milestones[i].Status = models.MilestoneCancelled
		}
		c.escrow.Status = models.EscrowCancelled
		c.escrow.CancellationReason = &reason
		c.audit = map[string]any{"reason": reason}
		return nil
	})
	return change.escrow, err
}

func (e *EscrowEngine) Get(ctx context.Context, escrowID string) (models.Escrow, error) {
	escrow, err := e.escrows.GetByID(ctx, escrowID)
	if err != nil {
		return models.Escrow{}, notFound(err, "escrow.Get", "escrow")
	}
	return escrow, nil
}

func (e *EscrowEngine) List(ctx context.Context, filter store.EscrowFilter) ([]models.Escrow, error) {
	rows, err := e.escrows.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("escrow.List: %w", err)
	}
	return rows, nil
}

type escrowChange struct {
	escrow models.Escrow
	moved  []movedWallet
	audit  map[string]any
}

// mutate locks the escrow, applies fn, checks the held amount and persists
// the result with an audit row, all in one unit.
func (e *EscrowEngine) mutate(ctx context.Context, op, action, escrowID string, fn func(tx store.Tx, c *escrowChange) error) (escrowChange, error) {
	var change escrowChange
	err := e.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		escrow, err := e.escrows.GetForUpdate(ctx, tx, escrowID)
		if err != nil {
			return notFound(err, op, "escrow")
		}
		change = escrowChange{escrow: escrow}
		if err := fn(tx, &change); err != nil {
			return err
		}
		if err := checkHeld(change.escrow); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		change.escrow.UpdatedAt = e.now()
		if err := e.escrows.Save(ctx, tx, change.escrow); err != nil {
			return fmt.Errorf("%s: save: %w", op, err)
		}
		return e.audit.Log(ctx, tx, actorFrom(ctx), action, "escrow", escrowID, change.audit)
	})
	if err != nil {
		return escrowChange{}, err
	}
	e.transactions.announce(change.moved)
	return change, nil
}

func milestoneAt(op string, escrow *models.Escrow, index int) (*models.Milestone, error) {
	if index < 0 || index >= len(escrow.Milestones) {
		return nil, validationf(op, "milestone index %d out of range", index)
	}
	return &escrow.Milestones[index], nil
}

// checkHeld verifies amountHeld against the funded milestones. A cancelled
// escrow may hold a residual after a partial refund, so it is not checked.
func checkHeld(escrow models.Escrow) error {
	if escrow.Status == models.EscrowCancelled {
		return nil
	}
	if funded := escrow.Milestones.FundedTotal(); funded != escrow.AmountHeld {
		return fmt.Errorf("%w: held %d, funded %d", ErrHeldMismatch, escrow.AmountHeld, funded)
	}
	return nil
}
