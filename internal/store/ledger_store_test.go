package store

import (
	"context"
	"database/sql"
	"strings"
	"testing"
)

func TestLedgerStoreInsertEntries(t *testing.T) {
	ctx := context.Background()
	calls := 0
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			calls++
			if !strings.Contains(query, "INSERT INTO ledger_entries") || !strings.Contains(query, "($6, $7, $8, $9, $10)") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 10 {
				t.Fatalf("expected 10 args, got %d", len(args))
			}
			if args[8] != int64(-1000) {
				t.Fatalf("unexpected amount arg: %#v", args[8])
			}
			return stubResult{rows: 2}, nil
		},
	}
	store := NewLedgerStore(stubDB{})
	err := store.InsertEntries(ctx, execer, []LedgerEntryInput{
		{ID: "l-1", TransactionID: "tx-1", WalletID: "w-1", Amount: 5000, Description: "credit"},
		{ID: "l-2", TransactionID: "tx-2", WalletID: "w-1", Amount: -1000, Description: "debit"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single insert, got %d", calls)
	}
}

func TestLedgerStoreInsertNothing(t *testing.T) {
	execer := stubExecer{
		execFn: func(context.Context, string, ...any) (sql.Result, error) {
			t.Fatalf("unexpected exec")
			return nil, nil
		},
	}
	if err := NewLedgerStore(stubDB{}).InsertEntries(context.Background(), execer, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLedgerStoreTotals(t *testing.T) {
	store := NewLedgerStore(stubDB{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "FILTER (WHERE amount > 0)") || args[0] != "w-1" {
				t.Fatalf("unexpected query: %s %#v", query, args)
			}
			*dest.(*JournalTotals) = JournalTotals{Credits: 5000, Debits: 1000, Entries: 2}
			return nil
		},
	})
	totals, err := store.Totals(context.Background(), "w-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if totals.Net() != 4000 {
		t.Fatalf("unexpected net: %d", totals.Net())
	}
}

func TestLedgerStoreListByWallet(t *testing.T) {
	store := NewLedgerStore(stubDB{
		selectFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "WHERE wallet_id = $1") || !strings.Contains(query, "LIMIT $2 OFFSET $3") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 3 || args[1] != 10 || args[2] != 10 {
				t.Fatalf("unexpected args: %#v", args)
			}
			*dest.(*[]JournalEntry) = []JournalEntry{{ID: "l-1", Amount: 5000}}
			return nil
		},
	})
	rows, err := store.ListByWallet(context.Background(), "w-1", NewPage(2, 10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "l-1" {
		t.Fatalf("unexpected rows: %#v", rows)
	}
}
