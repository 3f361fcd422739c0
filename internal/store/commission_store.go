package store

import (
	"context"

	"propledger/internal/models"
)

type CommissionStore struct {
	db DB
}

type AccrualInput struct {
	ID         string
	RealtorID  string
	EscrowID   string
	PropertyID string
	BuyerID    string
	Amount     int64
}

const commissionColumns = `id, realtor_id, escrow_id, property_id, buyer_id, total_commission, paid_commission, created_at, updated_at`

func NewCommissionStore(db DB) *CommissionStore {
	return &CommissionStore{db: db}
}

// Accrue creates the realtor's record for the escrow or adds to its total.
func (s *CommissionStore) Accrue(ctx context.Context, tx Getter, in AccrualInput) (models.Commission, error) {
	var row models.Commission
	err := tx.GetContext(ctx, &row, `
		INSERT INTO commissions (id, realtor_id, escrow_id, property_id, buyer_id, total_commission)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (realtor_id, escrow_id)
		DO UPDATE SET total_commission = commissions.total_commission + EXCLUDED.total_commission,
		              updated_at = NOW()
		RETURNING `+commissionColumns,
		in.ID, in.RealtorID, in.EscrowID, in.PropertyID, in.BuyerID, in.Amount)
	return row, err
}

func (s *CommissionStore) ListByRealtor(ctx context.Context, realtorID string) ([]models.Commission, error) {
	rows := []models.Commission{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+commissionColumns+`
		FROM commissions
		WHERE realtor_id = $1
		ORDER BY created_at, id
	`, realtorID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListByRealtorForUpdate locks every commission row of the realtor, oldest first.
func (s *CommissionStore) ListByRealtorForUpdate(ctx context.Context, tx Selecter, realtorID string) ([]models.Commission, error) {
	rows := []models.Commission{}
	err := tx.SelectContext(ctx, &rows, `
		SELECT `+commissionColumns+`
		FROM commissions
		WHERE realtor_id = $1
		ORDER BY created_at, id
		FOR UPDATE
	`, realtorID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// AddPaid reports false when the payment would exceed the commission total.
func (s *CommissionStore) AddPaid(ctx context.Context, tx Execer, commissionID string, amount int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE commissions
		SET paid_commission = paid_commission + $1, updated_at = NOW()
		WHERE id = $2 AND paid_commission + $1 <= total_commission
	`, amount, commissionID)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *CommissionStore) InsertPayment(ctx context.Context, tx Execer, p models.CommissionPayment) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO commission_payments (id, commission_id, withdrawal_id, amount, transaction_id)
		VALUES ($1, $2, $3, $4, $5)
	`, p.ID, p.CommissionID, p.WithdrawalID, p.Amount, p.TransactionID)
	return err
}

func (s *CommissionStore) ListPayments(ctx context.Context, withdrawalID string) ([]models.CommissionPayment, error) {
	rows := []models.CommissionPayment{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, commission_id, withdrawal_id, amount, transaction_id, created_at
		FROM commission_payments
		WHERE withdrawal_id = $1
		ORDER BY created_at, id
	`, withdrawalID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
