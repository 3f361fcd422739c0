package services

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"propledger/internal/gateway"
	"propledger/internal/lock"
	"propledger/internal/models"
	"propledger/internal/store"
	"propledger/internal/websocket"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// memDB is an in-memory stand-in for the Postgres schema. Rows are stored by
// value and copied on every read so callers never alias stored state.
type memDB struct {
	mu           sync.Mutex
	seq          int
	wallets      map[string]models.Wallet
	entries      []store.LedgerEntryInput
	transactions map[string]models.Transaction
	escrows      map[string]models.Escrow
	commissions  map[string]models.Commission
	withdrawals  map[string]models.WithdrawalRequest
	payments     []models.CommissionPayment
	audits       []string
}

func newMemDB() *memDB {
	return &memDB{
		wallets:      map[string]models.Wallet{},
		transactions: map[string]models.Transaction{},
		escrows:      map[string]models.Escrow{},
		commissions:  map[string]models.Commission{},
		withdrawals:  map[string]models.WithdrawalRequest{},
	}
}

func (m *memDB) clone() *memDB {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := newMemDB()
	out.seq = m.seq
	for k, v := range m.wallets {
		out.wallets[k] = v
	}
	out.entries = append([]store.LedgerEntryInput(nil), m.entries...)
	for k, v := range m.transactions {
		out.transactions[k] = copyTransaction(v)
	}
	for k, v := range m.escrows {
		out.escrows[k] = copyEscrow(v)
	}
	for k, v := range m.commissions {
		out.commissions[k] = v
	}
	for k, v := range m.withdrawals {
		out.withdrawals[k] = v
	}
	out.payments = append([]models.CommissionPayment(nil), m.payments...)
	out.audits = append([]string(nil), m.audits...)
	return out
}

func (m *memDB) restore(from *memDB) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq = from.seq
	m.wallets = from.wallets
	m.entries = from.entries
	m.transactions = from.transactions
	m.escrows = from.escrows
	m.commissions = from.commissions
	m.withdrawals = from.withdrawals
	m.payments = from.payments
	m.audits = from.audits
}

func (m *memDB) next() time.Time {
	m.seq++
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(m.seq) * time.Second)
}

func copyTransaction(t models.Transaction) models.Transaction {
	t.Metadata = t.Metadata.Merge(nil)
	if t.BalanceAfter != nil {
		v := *t.BalanceAfter
		t.BalanceAfter = &v
	}
	return t
}

func copyEscrow(e models.Escrow) models.Escrow {
	e.Milestones = append(models.Milestones(nil), e.Milestones...)
	return e
}

// fakeTxRunner serializes units and rolls memDB back when fn fails.
type fakeTxRunner struct {
	db        *memDB
	unit      sync.Mutex
	commitErr error
}

func (f *fakeTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	f.unit.Lock()
	defer f.unit.Unlock()
	snapshot := f.db.clone()
	if err := fn(nil); err != nil {
		f.db.restore(snapshot)
		return err
	}
	if f.commitErr != nil {
		f.db.restore(snapshot)
		return f.commitErr
	}
	return nil
}

type memWallets struct{ db *memDB }

func (s memWallets) Create(_ context.Context, _ store.Execer, id, ownerID string) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.wallets[ownerID]; ok {
		return false, nil
	}
	s.db.wallets[ownerID] = models.Wallet{ID: id, OwnerID: ownerID, IsActive: true, CreatedAt: s.db.next()}
	return true, nil
}

func (s memWallets) GetByOwner(_ context.Context, ownerID string) (models.Wallet, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	w, ok := s.db.wallets[ownerID]
	if !ok {
		return models.Wallet{}, sql.ErrNoRows
	}
	return w, nil
}

func (s memWallets) GetForUpdate(ctx context.Context, _ store.Getter, ownerID string) (models.Wallet, error) {
	return s.GetByOwner(ctx, ownerID)
}

func (s memWallets) Save(_ context.Context, _ store.Execer, wallet models.Wallet) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.wallets[wallet.OwnerID] = wallet
	return nil
}

func (s memWallets) Mismatches(context.Context) ([]store.WalletReconciliation, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	sums := map[string]int64{}
	for _, e := range s.db.entries {
		sums[e.WalletID] += e.Amount
	}
	var out []store.WalletReconciliation
	for _, w := range s.db.wallets {
		if sums[w.ID] != w.Balance {
			out = append(out, store.WalletReconciliation{
				WalletID: w.ID, OwnerID: w.OwnerID, StoredBalance: w.Balance,
				LedgerSum: sums[w.ID], Difference: w.Balance - sums[w.ID],
			})
		}
	}
	return out, nil
}

type memJournal struct{ db *memDB }

func (s memJournal) InsertEntries(_ context.Context, _ store.Execer, entries []store.LedgerEntryInput) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.entries = append(s.db.entries, entries...)
	return nil
}

func (s memJournal) Totals(_ context.Context, walletID string) (store.JournalTotals, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var totals store.JournalTotals
	for _, e := range s.db.entries {
		if e.WalletID != walletID {
			continue
		}
		totals.Entries++
		if e.Amount > 0 {
			totals.Credits += e.Amount
		} else {
			totals.Debits -= e.Amount
		}
	}
	return totals, nil
}

func (s memJournal) ListByWallet(_ context.Context, walletID string, page store.Page) ([]store.JournalEntry, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []store.JournalEntry
	for i := len(s.db.entries) - 1; i >= 0; i-- {
		e := s.db.entries[i]
		if e.WalletID != walletID {
			continue
		}
		out = append(out, store.JournalEntry{
			ID: e.ID, TransactionID: e.TransactionID, WalletID: e.WalletID,
			Amount: e.Amount, Description: e.Description,
		})
	}
	if page.Offset >= len(out) {
		return []store.JournalEntry{}, nil
	}
	out = out[page.Offset:]
	if page.Limit > 0 && len(out) > page.Limit {
		out = out[:page.Limit]
	}
	return out, nil
}

type memTransactions struct{ db *memDB }

func (s memTransactions) Insert(_ context.Context, _ store.Execer, t models.Transaction) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, existing := range s.db.transactions {
		if existing.Reference == t.Reference {
			return false, nil
		}
	}
	s.db.transactions[t.ID] = copyTransaction(t)
	return true, nil
}

func (s memTransactions) GetByID(_ context.Context, id string) (models.Transaction, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	t, ok := s.db.transactions[id]
	if !ok {
		return models.Transaction{}, sql.ErrNoRows
	}
	return copyTransaction(t), nil
}

func (s memTransactions) GetByReference(_ context.Context, reference string) (models.Transaction, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, t := range s.db.transactions {
		if t.Reference == reference {
			return copyTransaction(t), nil
		}
	}
	return models.Transaction{}, sql.ErrNoRows
}

func (s memTransactions) GetForUpdate(ctx context.Context, _ store.Getter, id string) (models.Transaction, error) {
	return s.GetByID(ctx, id)
}

func (s memTransactions) GetByReferenceForUpdate(ctx context.Context, _ store.Getter, reference string) (models.Transaction, error) {
	return s.GetByReference(ctx, reference)
}

func (s memTransactions) Finalize(_ context.Context, _ store.Execer, t models.Transaction) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	stored, ok := s.db.transactions[t.ID]
	if !ok || stored.Status != models.TxPending {
		return false, nil
	}
	stored.Status = t.Status
	stored.BalanceAfter = t.BalanceAfter
	stored.Metadata = t.Metadata
	stored.FinalizedAt = t.FinalizedAt
	s.db.transactions[t.ID] = copyTransaction(stored)
	return true, nil
}

func (s memTransactions) MergeMetadata(_ context.Context, _ store.Execer, id string, extra models.Metadata) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	t, ok := s.db.transactions[id]
	if !ok {
		return nil
	}
	t.Metadata = t.Metadata.Merge(extra)
	s.db.transactions[id] = t
	return nil
}

func (s memTransactions) List(_ context.Context, filter store.TransactionFilter) ([]models.Transaction, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := []models.Transaction{}
	for _, t := range s.db.transactions {
		if filter.OwnerID != "" && t.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		out = append(out, copyTransaction(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s memTransactions) ListStalePending(_ context.Context, cutoff time.Time, types []models.TransactionType, after store.StaleCursor, limit int) ([]models.Transaction, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	wanted := map[models.TransactionType]bool{}
	for _, t := range types {
		wanted[t] = true
	}
	out := []models.Transaction{}
	for _, t := range s.db.transactions {
		if t.Status == models.TxPending && wanted[t.Type] && t.CreatedAt.Before(cutoff) && staleAfter(t, after) {
			out = append(out, copyTransaction(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// staleAfter mirrors the (created_at, id) > cursor row comparison.
func staleAfter(t models.Transaction, after store.StaleCursor) bool {
	if !t.CreatedAt.Equal(after.CreatedAt) {
		return t.CreatedAt.After(after.CreatedAt)
	}
	return t.ID > after.ID
}

type memEscrows struct{ db *memDB }

func (s memEscrows) Create(_ context.Context, _ store.Execer, e models.Escrow) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.escrows[e.ID] = copyEscrow(e)
	return nil
}

func (s memEscrows) GetByID(_ context.Context, id string) (models.Escrow, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	e, ok := s.db.escrows[id]
	if !ok {
		return models.Escrow{}, sql.ErrNoRows
	}
	return copyEscrow(e), nil
}

func (s memEscrows) GetForUpdate(ctx context.Context, _ store.Getter, id string) (models.Escrow, error) {
	return s.GetByID(ctx, id)
}

func (s memEscrows) Save(_ context.Context, _ store.Execer, e models.Escrow) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	stored := s.db.escrows[e.ID]
	e.TotalAmount = stored.TotalAmount
	s.db.escrows[e.ID] = copyEscrow(e)
	return nil
}

func (s memEscrows) List(_ context.Context, filter store.EscrowFilter) ([]models.Escrow, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := []models.Escrow{}
	for _, e := range s.db.escrows {
		party := filter.PartyID == "" || e.BuyerID == filter.PartyID || e.SellerID == filter.PartyID ||
			(e.RealtorID != nil && *e.RealtorID == filter.PartyID)
		if party && (filter.Status == "" || e.Status == filter.Status) {
			out = append(out, copyEscrow(e))
		}
	}
	return out, nil
}

type memCommissions struct{ db *memDB }

func (s memCommissions) Accrue(_ context.Context, _ store.Getter, in store.AccrualInput) (models.Commission, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for id, c := range s.db.commissions {
		if c.RealtorID == in.RealtorID && c.EscrowID == in.EscrowID {
			c.TotalCommission += in.Amount
			s.db.commissions[id] = c
			return c, nil
		}
	}
	c := models.Commission{
		ID: in.ID, RealtorID: in.RealtorID, EscrowID: in.EscrowID, PropertyID: in.PropertyID,
		BuyerID: in.BuyerID, TotalCommission: in.Amount, CreatedAt: s.db.next(),
	}
	s.db.commissions[c.ID] = c
	return c, nil
}

func (s memCommissions) ListByRealtor(_ context.Context, realtorID string) ([]models.Commission, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := []models.Commission{}
	for _, c := range s.db.commissions {
		if c.RealtorID == realtorID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s memCommissions) ListByRealtorForUpdate(ctx context.Context, _ store.Selecter, realtorID string) ([]models.Commission, error) {
	return s.ListByRealtor(ctx, realtorID)
}

func (s memCommissions) AddPaid(_ context.Context, _ store.Execer, commissionID string, amount int64) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	c, ok := s.db.commissions[commissionID]
	if !ok || c.PaidCommission+amount > c.TotalCommission {
		return false, nil
	}
	c.PaidCommission += amount
	s.db.commissions[commissionID] = c
	return true, nil
}

func (s memCommissions) InsertPayment(_ context.Context, _ store.Execer, p models.CommissionPayment) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.payments = append(s.db.payments, p)
	return nil
}

func (s memCommissions) ListPayments(_ context.Context, withdrawalID string) ([]models.CommissionPayment, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := []models.CommissionPayment{}
	for _, p := range s.db.payments {
		if p.WithdrawalID == withdrawalID {
			out = append(out, p)
		}
	}
	return out, nil
}

type memWithdrawals struct{ db *memDB }

func (s memWithdrawals) Create(_ context.Context, _ store.Execer, w models.WithdrawalRequest) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	w.CreatedAt = s.db.next()
	s.db.withdrawals[w.ID] = w
	return nil
}

func (s memWithdrawals) GetByID(_ context.Context, id string) (models.WithdrawalRequest, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	w, ok := s.db.withdrawals[id]
	if !ok {
		return models.WithdrawalRequest{}, sql.ErrNoRows
	}
	return w, nil
}

func (s memWithdrawals) GetForUpdate(ctx context.Context, _ store.Getter, id string) (models.WithdrawalRequest, error) {
	return s.GetByID(ctx, id)
}

func (s memWithdrawals) SumReserved(_ context.Context, _ store.Getter, realtorID string, statuses []models.WithdrawalStatus, excludeID string) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var sum int64
	for _, w := range s.db.withdrawals {
		if w.RealtorID != realtorID || w.ID == excludeID {
			continue
		}
		for _, st := range statuses {
			if w.Status == st {
				sum += w.Amount
			}
		}
	}
	return sum, nil
}

func (s memWithdrawals) Reserved(ctx context.Context, realtorID string, statuses []models.WithdrawalStatus) (int64, error) {
	return s.SumReserved(ctx, nil, realtorID, statuses, "")
}

func (s memWithdrawals) Save(_ context.Context, _ store.Execer, w models.WithdrawalRequest) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.withdrawals[w.ID] = w
	return nil
}

func (s memWithdrawals) List(_ context.Context, filter store.WithdrawalFilter) ([]models.WithdrawalRequest, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := []models.WithdrawalRequest{}
	for _, w := range s.db.withdrawals {
		if (filter.RealtorID == "" || w.RealtorID == filter.RealtorID) && (filter.Status == "" || w.Status == filter.Status) {
			out = append(out, w)
		}
	}
	return out, nil
}

type memAudit struct{ db *memDB }

func (s memAudit) Log(_ context.Context, _ store.Execer, _, action, _, _ string, _ any) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.audits = append(s.db.audits, action)
	return nil
}

type recordingHub struct {
	mu    sync.Mutex
	calls []websocket.BalanceUpdate
}

func (h *recordingHub) BroadcastBalance(_ string, update websocket.BalanceUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, update)
}

func (h *recordingHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

type stubGateway struct {
	initializeFn func(ctx context.Context, req gateway.InitializeRequest) (gateway.InitializeResponse, error)
	verifyFn     func(ctx context.Context, reference string) (gateway.Verification, error)
}

func (g stubGateway) Initialize(ctx context.Context, req gateway.InitializeRequest) (gateway.InitializeResponse, error) {
	return g.initializeFn(ctx, req)
}

func (g stubGateway) Verify(ctx context.Context, reference string) (gateway.Verification, error) {
	return g.verifyFn(ctx, reference)
}

type stubLocker struct {
	acquired bool
	unlocked int
}

func (l *stubLocker) TryLock(context.Context, string) (lock.Unlock, bool, error) {
	if !l.acquired {
		return nil, false, nil
	}
	return func(context.Context) error {
		l.unlocked++
		return nil
	}, true, nil
}

type harness struct {
	db          *memDB
	runner      *fakeTxRunner
	hub         *recordingHub
	ledger      *Ledger
	txlog       *TransactionLog
	commissions *CommissionEngine
	escrows     *EscrowEngine
}

const testWebhookSecret = "whsec_test"

func newHarness(t *testing.T) *harness {
	t.Helper()
	mdb := newMemDB()
	runner := &fakeTxRunner{db: mdb}
	hub := &recordingHub{}
	audit := memAudit{db: mdb}
	logger := zap.NewNop()
	ledger := NewLedger(runner, memWallets{db: mdb}, memJournal{db: mdb}, logger)
	txlog := NewTransactionLog(runner, memTransactions{db: mdb}, ledger, audit, hub, "NGN", logger)
	commissions := NewCommissionEngine(runner, memCommissions{db: mdb}, memWithdrawals{db: mdb}, txlog, audit, logger)
	escrows := NewEscrowEngine(runner, memEscrows{db: mdb}, txlog, commissions, audit, logger)
	return &harness{db: mdb, runner: runner, hub: hub, ledger: ledger, txlog: txlog, commissions: commissions, escrows: escrows}
}

// fund gives owner an active wallet holding balance, recorded in the journal.
func (h *harness) fund(t *testing.T, owner string, balance int64) {
	t.Helper()
	wallet, err := h.ledger.EnsureWallet(context.Background(), owner)
	if err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}
	if balance == 0 {
		return
	}
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	wallet.Balance = balance
	wallet.TotalDeposited = balance
	h.db.wallets[owner] = wallet
	h.db.entries = append(h.db.entries, store.LedgerEntryInput{ID: "seed-" + owner, WalletID: wallet.ID, Amount: balance})
}

func (h *harness) balance(t *testing.T, owner string) int64 {
	t.Helper()
	wallet, err := h.ledger.GetBalance(context.Background(), owner)
	if err != nil {
		t.Fatalf("get balance %s: %v", owner, err)
	}
	return wallet.Balance
}

func (h *harness) transactionCount() int {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	return len(h.db.transactions)
}

func (h *harness) seedCommission(realtorID, escrowID string, total, paid int64) models.Commission {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	c := models.Commission{
		ID: "com-" + escrowID, RealtorID: realtorID, EscrowID: escrowID,
		TotalCommission: total, PaidCommission: paid, CreatedAt: h.db.next(),
	}
	h.db.commissions[c.ID] = c
	return c
}

func (h *harness) seedWithdrawal(id, realtorID string, amount int64, status models.WithdrawalStatus) {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	h.db.withdrawals[id] = models.WithdrawalRequest{ID: id, RealtorID: realtorID, Amount: amount, Status: status, CreatedAt: h.db.next()}
}

func pct(raw string) decimal.Decimal {
	return decimal.RequireFromString(raw)
}

func storeFilter() store.TransactionFilter {
	return store.TransactionFilter{Page: store.NewPage(1, 20)}
}

func escrowFilter(party string) store.EscrowFilter {
	return store.EscrowFilter{PartyID: party, Page: store.NewPage(1, 20)}
}
