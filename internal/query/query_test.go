package query

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/klingon-exchange/walletd/internal/storage"
	"github.com/klingon-exchange/walletd/pkg/apperr"
	"github.com/klingon-exchange/walletd/pkg/money"
)

func testStore(t *testing.T) (*storage.Storage, *storage.WalletRepository, *storage.TransactionRepository) {
	t.Helper()
	st, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st, storage.NewWalletRepository(st), storage.NewTransactionRepository(st)
}

func insertTxn(t *testing.T, st *storage.Storage, txns *storage.TransactionRepository, txn *storage.Transaction) {
	t.Helper()
	if err := st.WithTx(context.Background(), func(tx *storage.Tx) error {
		return txns.Insert(context.Background(), tx, txn)
	}); err != nil {
		t.Fatalf("insert transaction error = %v", err)
	}
}

func TestListTransactionsReturnsPageForOwner(t *testing.T) {
	st, wallets, txns := testStore(t)
	svc := NewService(txns, wallets, 5*time.Minute)

	w, err := wallets.GetOrCreate(context.Background(), "alice", "96170000001", "USD")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	insertTxn(t, st, txns, &storage.Transaction{WalletID: w.ID, Amount: money.MustNewFromString("10.00"), Type: storage.TypeDeposit, Reference: "D-1", Status: storage.StatusCompleted})
	insertTxn(t, st, txns, &storage.Transaction{WalletID: w.ID, Amount: money.MustNewFromString("20.00"), Type: storage.TypeDeposit, Reference: "D-2", Status: storage.StatusCompleted})

	page, err := svc.ListTransactions(context.Background(), "alice", Filter{}, 1, 20)
	if err != nil {
		t.Fatalf("ListTransactions() error = %v", err)
	}
	if page.Total != 2 || len(page.Transactions) != 2 {
		t.Errorf("got total=%d len=%d, want 2/2", page.Total, len(page.Transactions))
	}
}

func TestListTransactionsServesFromCacheUntilInvalidated(t *testing.T) {
	st, wallets, txns := testStore(t)
	svc := NewService(txns, wallets, 5*time.Minute)

	w, err := wallets.GetOrCreate(context.Background(), "alice", "96170000001", "USD")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	insertTxn(t, st, txns, &storage.Transaction{WalletID: w.ID, Amount: money.MustNewFromString("10.00"), Type: storage.TypeDeposit, Reference: "D-1", Status: storage.StatusCompleted})

	if _, err := svc.ListTransactions(context.Background(), "alice", Filter{}, 1, 20); err != nil {
		t.Fatalf("ListTransactions() error = %v", err)
	}

	// Insert a second transaction directly, bypassing invalidation, to
	// confirm the first read is cached.
	insertTxn(t, st, txns, &storage.Transaction{WalletID: w.ID, Amount: money.MustNewFromString("20.00"), Type: storage.TypeDeposit, Reference: "D-2", Status: storage.StatusCompleted})

	page, err := svc.ListTransactions(context.Background(), "alice", Filter{}, 1, 20)
	if err != nil {
		t.Fatalf("ListTransactions() error = %v", err)
	}
	if page.Total != 1 {
		t.Errorf("total = %d, want 1 (stale cache hit expected before invalidation)", page.Total)
	}

	svc.Invalidate("alice")

	page, err = svc.ListTransactions(context.Background(), "alice", Filter{}, 1, 20)
	if err != nil {
		t.Fatalf("ListTransactions() after invalidate error = %v", err)
	}
	if page.Total != 2 {
		t.Errorf("total after invalidate = %d, want 2", page.Total)
	}
}

func TestListTransactionsFilteredBypassesCache(t *testing.T) {
	st, wallets, txns := testStore(t)
	svc := NewService(txns, wallets, 5*time.Minute)

	w, err := wallets.GetOrCreate(context.Background(), "alice", "96170000001", "USD")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	insertTxn(t, st, txns, &storage.Transaction{WalletID: w.ID, Amount: money.MustNewFromString("10.00"), Type: storage.TypeDeposit, Reference: "D-1", Status: storage.StatusCompleted})
	insertTxn(t, st, txns, &storage.Transaction{WalletID: w.ID, Amount: money.MustNewFromString("5.00"), Type: storage.TypeWithdrawal, Reference: "W-1", Status: storage.StatusCompleted})

	page, err := svc.ListTransactions(context.Background(), "alice", Filter{Type: storage.TypeWithdrawal}, 1, 20)
	if err != nil {
		t.Fatalf("ListTransactions() error = %v", err)
	}
	if page.Total != 1 || page.Transactions[0].Type != storage.TypeWithdrawal {
		t.Errorf("filtered listing wrong: total=%d", page.Total)
	}
}

func TestGetTransactionAllowsSubjectAndCounterparty(t *testing.T) {
	st, wallets, txns := testStore(t)
	svc := NewService(txns, wallets, 5*time.Minute)

	alice, err := wallets.GetOrCreate(context.Background(), "alice", "96170000001", "USD")
	if err != nil {
		t.Fatalf("GetOrCreate(alice) error = %v", err)
	}
	bob, err := wallets.GetOrCreate(context.Background(), "bob", "96170000002", "USD")
	if err != nil {
		t.Fatalf("GetOrCreate(bob) error = %v", err)
	}

	txn := &storage.Transaction{
		WalletID:        alice.ID,
		RelatedWalletID: sql.NullString{String: bob.ID, Valid: true},
		Amount:          money.MustNewFromString("10.00"),
		Type:            storage.TypeTransferOut,
		Reference:       "REF-1",
		Status:          storage.StatusPending,
	}
	insertTxn(t, st, txns, txn)

	if _, err := svc.GetTransaction(context.Background(), "alice", txn.ID); err != nil {
		t.Errorf("subject GetTransaction() error = %v", err)
	}
	if _, err := svc.GetTransaction(context.Background(), "bob", txn.ID); err != nil {
		t.Errorf("counterparty GetTransaction() error = %v", err)
	}
}

func TestGetTransactionForbidsThirdParty(t *testing.T) {
	st, wallets, txns := testStore(t)
	svc := NewService(txns, wallets, 5*time.Minute)

	alice, err := wallets.GetOrCreate(context.Background(), "alice", "96170000001", "USD")
	if err != nil {
		t.Fatalf("GetOrCreate(alice) error = %v", err)
	}
	if _, err := wallets.GetOrCreate(context.Background(), "mallory", "96170000003", "USD"); err != nil {
		t.Fatalf("GetOrCreate(mallory) error = %v", err)
	}

	txn := &storage.Transaction{
		WalletID:  alice.ID,
		Amount:    money.MustNewFromString("10.00"),
		Type:      storage.TypeDeposit,
		Reference: "REF-2",
		Status:    storage.StatusCompleted,
	}
	insertTxn(t, st, txns, txn)

	_, err = svc.GetTransaction(context.Background(), "mallory", txn.ID)
	if !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("expected Forbidden, got %v", err)
	}
}

func TestGetTransactionNotFound(t *testing.T) {
	_, wallets, txns := testStore(t)
	svc := NewService(txns, wallets, 5*time.Minute)

	if _, err := wallets.GetOrCreate(context.Background(), "alice", "96170000001", "USD"); err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	_, err := svc.GetTransaction(context.Background(), "alice", "does-not-exist")
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
