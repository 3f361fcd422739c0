package store

import (
	"context"
	"strings"
	"time"
)

// LedgerStore is the append-only journal of signed wallet movements.
type LedgerStore struct {
	db DB
}

type LedgerEntryInput struct {
	ID            string
	TransactionID string
	WalletID      string
	Amount        int64
	Description   string
}

type JournalEntry struct {
	ID            string    `db:"id" json:"id"`
	TransactionID string    `db:"transaction_id" json:"transaction_id"`
	WalletID      string    `db:"wallet_id" json:"wallet_id"`
	Amount        int64     `db:"amount" json:"amount"`
	Description   string    `db:"description" json:"description"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// JournalTotals aggregates a wallet's journal. Debits is a positive sum.
type JournalTotals struct {
	Credits int64 `db:"credits" json:"credits"`
	Debits  int64 `db:"debits" json:"debits"`
	Entries int   `db:"entries" json:"entries"`
}

func (t JournalTotals) Net() int64 {
	return t.Credits - t.Debits
}

func NewLedgerStore(db DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// InsertEntries writes all entries with a single statement.
func (s *LedgerStore) InsertEntries(ctx context.Context, tx Execer, entries []LedgerEntryInput) error {
	if len(entries) == 0 {
		return nil
	}
	var query strings.Builder
	query.WriteString(`INSERT INTO ledger_entries (id, transaction_id, wallet_id, amount, description) VALUES `)
	args := make([]any, 0, len(entries)*5)
	for i, entry := range entries {
		if i > 0 {
			query.WriteString(", ")
		}
		n := len(args)
		query.WriteString("($" + itoa(n+1) + ", $" + itoa(n+2) + ", $" + itoa(n+3) + ", $" + itoa(n+4) + ", $" + itoa(n+5) + ")")
		args = append(args, entry.ID, entry.TransactionID, entry.WalletID, entry.Amount, entry.Description)
	}
	_, err := tx.ExecContext(ctx, query.String(), args...)
	return err
}

func (s *LedgerStore) Totals(ctx context.Context, walletID string) (JournalTotals, error) {
	var totals JournalTotals
	err := s.db.GetContext(ctx, &totals, `
		SELECT COALESCE(SUM(amount) FILTER (WHERE amount > 0), 0) AS credits,
		       COALESCE(-SUM(amount) FILTER (WHERE amount < 0), 0) AS debits,
		       COUNT(1) AS entries
		FROM ledger_entries
		WHERE wallet_id = $1
	`, walletID)
	return totals, err
}

// ListByWallet returns the newest entries first.
func (s *LedgerStore) ListByWallet(ctx context.Context, walletID string, page Page) ([]JournalEntry, error) {
	var b filterBuilder
	b.add("wallet_id = ?", walletID)
	query := `SELECT id, transaction_id, wallet_id, amount, description, created_at FROM ledger_entries` +
		b.where() + ` ORDER BY created_at DESC, id` + b.page(page)
	rows := []JournalEntry{}
	if err := s.db.SelectContext(ctx, &rows, query, b.args...); err != nil {
		return nil, err
	}
	return rows, nil
}
