package store

import (
	"context"
	"time"

	"propledger/internal/models"

	"github.com/lib/pq"
)

type TransactionStore struct {
	db DB
}

// TransactionFilter narrows a transaction listing. Zero fields do not filter.
type TransactionFilter struct {
	OwnerID string
	Status  models.TransactionStatus
	Type    models.TransactionType
	From    *time.Time
	To      *time.Time
	Page    Page
}

const transactionColumns = `id, owner_id, type, amount, reference, status, balance_after, metadata, created_at, finalized_at`

func NewTransactionStore(db DB) *TransactionStore {
	return &TransactionStore{db: db}
}

// Insert claims the reference and writes the row in one statement. It reports
// false when the reference is already taken.
func (s *TransactionStore) Insert(ctx context.Context, tx Execer, t models.Transaction) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, owner_id, type, amount, reference, status, balance_after, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (reference) DO NOTHING
	`, t.ID, t.OwnerID, string(t.Type), t.Amount, t.Reference, string(t.Status), t.BalanceAfter, t.Metadata)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *TransactionStore) GetByID(ctx context.Context, id string) (models.Transaction, error) {
	var row models.Transaction
	err := s.db.GetContext(ctx, &row, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	return row, err
}

func (s *TransactionStore) GetByReference(ctx context.Context, reference string) (models.Transaction, error) {
	var row models.Transaction
	err := s.db.GetContext(ctx, &row, `SELECT `+transactionColumns+` FROM transactions WHERE reference = $1`, reference)
	return row, err
}

func (s *TransactionStore) GetForUpdate(ctx context.Context, tx Getter, id string) (models.Transaction, error) {
	var row models.Transaction
	err := tx.GetContext(ctx, &row, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1
		FOR UPDATE
	`, id)
	return row, err
}

func (s *TransactionStore) GetByReferenceForUpdate(ctx context.Context, tx Getter, reference string) (models.Transaction, error) {
	var row models.Transaction
	err := tx.GetContext(ctx, &row, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE reference = $1
		FOR UPDATE
	`, reference)
	return row, err
}

// Finalize moves a PENDING row to its terminal status. The status guard makes
// a second finalize a no-op at the row level too.
func (s *TransactionStore) Finalize(ctx context.Context, tx Execer, t models.Transaction) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1,
		    balance_after = $2,
		    metadata = $3,
		    finalized_at = NOW()
		WHERE id = $4 AND status = 'PENDING'
	`, string(t.Status), t.BalanceAfter, t.Metadata, t.ID)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// MergeMetadata folds audit fields into the stored metadata object.
func (s *TransactionStore) MergeMetadata(ctx context.Context, tx Execer, id string, extra models.Metadata) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET metadata = metadata || $1::jsonb
		WHERE id = $2
	`, extra, id)
	return err
}

func (s *TransactionStore) List(ctx context.Context, filter TransactionFilter) ([]models.Transaction, error) {
	var b filterBuilder
	if filter.OwnerID != "" {
		b.add("owner_id = ?", filter.OwnerID)
	}
	if filter.Status != "" {
		b.add("status = ?", string(filter.Status))
	}
	if filter.Type != "" {
		b.add("type = ?", string(filter.Type))
	}
	if filter.From != nil {
		b.add("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		b.add("created_at < ?", *filter.To)
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions` + b.where() + ` ORDER BY created_at DESC, id`
	query += b.page(filter.Page)
	rows := []models.Transaction{}
	if err := s.db.SelectContext(ctx, &rows, query, b.args...); err != nil {
		return nil, err
	}
	return rows, nil
}

// StaleCursor is the position of the last row a reconcile pass examined. The
// zero value starts from the oldest row.
type StaleCursor struct {
	CreatedAt time.Time
	ID        string
}

// After returns the cursor positioned on t.
func (c StaleCursor) After(t models.Transaction) StaleCursor {
	return StaleCursor{CreatedAt: t.CreatedAt, ID: t.ID}
}

// ListStalePending returns PENDING rows of the given types created before
// cutoff and ordered strictly after the cursor.
func (s *TransactionStore) ListStalePending(ctx context.Context, cutoff time.Time, types []models.TransactionType, after StaleCursor, limit int) ([]models.Transaction, error) {
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, string(t))
	}
	rows := []models.Transaction{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status = 'PENDING' AND created_at < $1 AND type = ANY($2)
		  AND (created_at, id) > ($3, $4)
		ORDER BY created_at, id
		LIMIT $5
	`, cutoff, pq.Array(names), after.CreatedAt, after.ID, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
