package store

import (
	"context"

	"propledger/internal/models"
)

type WalletStore struct {
	db DB
}

type WalletReconciliation struct {
	WalletID      string `db:"wallet_id" json:"wallet_id"`
	OwnerID       string `db:"owner_id" json:"owner_id"`
	StoredBalance int64  `db:"stored_balance" json:"stored_balance"`
	LedgerSum     int64  `db:"ledger_sum" json:"ledger_sum"`
	Difference    int64  `db:"difference" json:"difference"`
}

const walletColumns = `id, owner_id, balance, total_deposited, total_withdrawn, last_transaction_at, is_active, created_at, updated_at`

func NewWalletStore(db DB) *WalletStore {
	return &WalletStore{db: db}
}

// Create inserts a wallet for ownerID unless one already exists.
func (s *WalletStore) Create(ctx context.Context, tx Execer, id, ownerID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (id, owner_id)
		VALUES ($1, $2)
		ON CONFLICT (owner_id) DO NOTHING
	`, id, ownerID)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	return rows > 0, err
}

func (s *WalletStore) GetByOwner(ctx context.Context, ownerID string) (models.Wallet, error) {
	var row models.Wallet
	err := s.db.GetContext(ctx, &row, `SELECT `+walletColumns+` FROM wallets WHERE owner_id = $1`, ownerID)
	if err != nil {
		return models.Wallet{}, err
	}
	return row, nil
}

func (s *WalletStore) GetForUpdate(ctx context.Context, tx Getter, ownerID string) (models.Wallet, error) {
	var row models.Wallet
	err := tx.GetContext(ctx, &row, `
		SELECT `+walletColumns+`
		FROM wallets
		WHERE owner_id = $1
		FOR UPDATE
	`, ownerID)
	if err != nil {
		return models.Wallet{}, err
	}
	return row, nil
}

// Save writes the running totals of a locked wallet and stamps the movement time.
func (s *WalletStore) Save(ctx context.Context, tx Execer, wallet models.Wallet) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET balance = $1,
		    total_deposited = $2,
		    total_withdrawn = $3,
		    last_transaction_at = NOW(),
		    updated_at = NOW()
		WHERE id = $4
	`, wallet.Balance, wallet.TotalDeposited, wallet.TotalWithdrawn, wallet.ID)
	return err
}

// Mismatches lists wallets whose stored balance differs from their journal.
func (s *WalletStore) Mismatches(ctx context.Context) ([]WalletReconciliation, error) {
	var rows []WalletReconciliation
	err := s.db.SelectContext(ctx, &rows, `
		SELECT w.id AS wallet_id,
		       w.owner_id,
		       w.balance AS stored_balance,
		       COALESCE(SUM(l.amount), 0) AS ledger_sum,
		       (w.balance - COALESCE(SUM(l.amount), 0)) AS difference
		FROM wallets w
		LEFT JOIN ledger_entries l ON l.wallet_id = w.id
		GROUP BY w.id, w.owner_id, w.balance
		HAVING w.balance <> COALESCE(SUM(l.amount), 0)
		ORDER BY w.id
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
