package store

import (
	"context"

	"propledger/internal/models"

	"github.com/lib/pq"
)

type WithdrawalStore struct {
	db DB
}

type WithdrawalFilter struct {
	RealtorID string
	Status    models.WithdrawalStatus
	Page      Page
}

const withdrawalColumns = `id, realtor_id, amount, status, approved_by, approved_at, rejection_reason,
	transaction_id, payout_reference, processed_at, created_at`

func NewWithdrawalStore(db DB) *WithdrawalStore {
	return &WithdrawalStore{db: db}
}

func (s *WithdrawalStore) Create(ctx context.Context, tx Execer, w models.WithdrawalRequest) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO commission_withdrawals (id, realtor_id, amount, status)
		VALUES ($1, $2, $3, $4)
	`, w.ID, w.RealtorID, w.Amount, string(w.Status))
	return err
}

func (s *WithdrawalStore) GetByID(ctx context.Context, id string) (models.WithdrawalRequest, error) {
	var row models.WithdrawalRequest
	err := s.db.GetContext(ctx, &row, `SELECT `+withdrawalColumns+` FROM commission_withdrawals WHERE id = $1`, id)
	return row, err
}

func (s *WithdrawalStore) GetForUpdate(ctx context.Context, tx Getter, id string) (models.WithdrawalRequest, error) {
	var row models.WithdrawalRequest
	err := tx.GetContext(ctx, &row, `SELECT `+withdrawalColumns+` FROM commission_withdrawals WHERE id = $1 FOR UPDATE`, id)
	return row, err
}

// SumReserved totals the realtor's requests in the given statuses, skipping excludeID.
func (s *WithdrawalStore) SumReserved(ctx context.Context, tx Getter, realtorID string, statuses []models.WithdrawalStatus, excludeID string) (int64, error) {
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, string(st))
	}
	var sum int64
	err := tx.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(amount), 0)
		FROM commission_withdrawals
		WHERE realtor_id = $1 AND status = ANY($2) AND id <> $3
	`, realtorID, pq.Array(names), excludeID)
	return sum, err
}

// Reserved is SumReserved outside any unit. It takes no locks.
func (s *WithdrawalStore) Reserved(ctx context.Context, realtorID string, statuses []models.WithdrawalStatus) (int64, error) {
	return s.SumReserved(ctx, s.db, realtorID, statuses, "")
}

func (s *WithdrawalStore) Save(ctx context.Context, tx Execer, w models.WithdrawalRequest) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE commission_withdrawals
		SET status = $1,
		    approved_by = $2,
		    approved_at = $3,
		    rejection_reason = $4,
		    transaction_id = $5,
		    payout_reference = $6,
		    processed_at = $7
		WHERE id = $8
	`, string(w.Status), w.ApprovedBy, w.ApprovedAt, w.RejectionReason, w.TransactionID, w.PayoutReference, w.ProcessedAt, w.ID)
	return err
}

func (s *WithdrawalStore) List(ctx context.Context, filter WithdrawalFilter) ([]models.WithdrawalRequest, error) {
	var b filterBuilder
	if filter.RealtorID != "" {
		b.add("realtor_id = ?", filter.RealtorID)
	}
	if filter.Status != "" {
		b.add("status = ?", string(filter.Status))
	}
	query := `SELECT ` + withdrawalColumns + ` FROM commission_withdrawals` + b.where() + ` ORDER BY created_at DESC, id` + b.page(filter.Page)
	rows := []models.WithdrawalRequest{}
	if err := s.db.SelectContext(ctx, &rows, query, b.args...); err != nil {
		return nil, err
	}
	return rows, nil
}
