package store

import (
	"context"

	"propledger/internal/models"
)

type EscrowStore struct {
	db DB
}

// EscrowFilter lists escrows in which PartyID is buyer, seller or realtor.
type EscrowFilter struct {
	PartyID string
	Status  models.EscrowStatus
	Page    Page
}

const escrowColumns = `id, buyer_id, seller_id, realtor_id, payment_plan_id, property_id, total_amount,
	amount_held, amount_released_to_seller, amount_released_to_realtor, amount_refunded_to_buyer,
	commission_percentage, milestones, status, dispute_reason, cancellation_reason, created_at, updated_at`

func NewEscrowStore(db DB) *EscrowStore {
	return &EscrowStore{db: db}
}

func (s *EscrowStore) Create(ctx context.Context, tx Execer, e models.Escrow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO escrows (id, buyer_id, seller_id, realtor_id, payment_plan_id, property_id,
		                     total_amount, commission_percentage, milestones, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.BuyerID, e.SellerID, e.RealtorID, e.PaymentPlanID, e.PropertyID,
		e.TotalAmount, e.CommissionPercentage, e.Milestones, string(e.Status))
	return err
}

func (s *EscrowStore) GetByID(ctx context.Context, id string) (models.Escrow, error) {
	var row models.Escrow
	err := s.db.GetContext(ctx, &row, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)
	return row, err
}

func (s *EscrowStore) GetForUpdate(ctx context.Context, tx Getter, id string) (models.Escrow, error) {
	var row models.Escrow
	err := tx.GetContext(ctx, &row, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1 FOR UPDATE`, id)
	return row, err
}

// Save persists the mutable part of a locked escrow. Total amount and the
// milestone amounts are never rewritten.
func (s *EscrowStore) Save(ctx context.Context, tx Execer, e models.Escrow) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE escrows
		SET amount_held = $1,
		    amount_released_to_seller = $2,
		    amount_released_to_realtor = $3,
		    amount_refunded_to_buyer = $4,
		    milestones = $5,
		    status = $6,
		    dispute_reason = $7,
		    cancellation_reason = $8,
		    updated_at = NOW()
		WHERE id = $9
	`, e.AmountHeld, e.AmountReleasedToSeller, e.AmountReleasedToRealtor, e.AmountRefundedToBuyer,
		e.Milestones, string(e.Status), e.DisputeReason, e.CancellationReason, e.ID)
	return err
}

func (s *EscrowStore) List(ctx context.Context, filter EscrowFilter) ([]models.Escrow, error) {
	var b filterBuilder
	if filter.PartyID != "" {
		b.add("(buyer_id = ? OR seller_id = ? OR realtor_id = ?)", filter.PartyID)
	}
	if filter.Status != "" {
		b.add("status = ?", string(filter.Status))
	}
	query := `SELECT ` + escrowColumns + ` FROM escrows` + b.where() + ` ORDER BY created_at DESC, id` + b.page(filter.Page)
	rows := []models.Escrow{}
	if err := s.db.SelectContext(ctx, &rows, query, b.args...); err != nil {
		return nil, err
	}
	return rows, nil
}
