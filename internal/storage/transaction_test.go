package storage

import (
	"context"
	"testing"
	"time"

	"github.com/klingon-exchange/walletd/pkg/money"
)

func TestTransactionInsertAndGet(t *testing.T) {
	store := newTestStorage(t)
	wallets := NewWalletRepository(store)
	txns := NewTransactionRepository(store)
	ctx := context.Background()

	w, err := wallets.GetOrCreate(ctx, "user-1", "96170000000", "USD")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	var id string
	err = store.WithTx(ctx, func(tx *Tx) error {
		txn := &Transaction{
			WalletID:  w.ID,
			Amount:    money.MustNewFromString("60.00"),
			Type:      TypeDeposit,
			Reference: "Paysend: pay_1",
			Status:    StatusCompleted,
		}
		if err := txns.Insert(ctx, tx, txn); err != nil {
			return err
		}
		id = txn.ID
		return nil
	})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := txns.GetByIDReadOnly(ctx, id)
	if err != nil {
		t.Fatalf("GetByIDReadOnly() error = %v", err)
	}
	if got.Reference != "Paysend: pay_1" {
		t.Errorf("Reference = %s, want Paysend: pay_1", got.Reference)
	}
	if got.Amount.String() != "60.00" {
		t.Errorf("Amount = %s, want 60.00", got.Amount.String())
	}
}

func TestTransactionUpdateStatus(t *testing.T) {
	store := newTestStorage(t)
	wallets := NewWalletRepository(store)
	txns := NewTransactionRepository(store)
	ctx := context.Background()

	w, _ := wallets.GetOrCreate(ctx, "user-1", "96170000000", "USD")

	var id string
	store.WithTx(ctx, func(tx *Tx) error {
		txn := &Transaction{WalletID: w.ID, Amount: money.MustNewFromString("10.00"), Type: TypeWithdrawal, Reference: "BLF-ATM-AAAAAAAA", Status: StatusPending}
		if err := txns.Insert(ctx, tx, txn); err != nil {
			return err
		}
		id = txn.ID
		return nil
	})

	err := store.WithTx(ctx, func(tx *Tx) error {
		return txns.UpdateStatus(ctx, tx, id, StatusCompleted)
	})
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	got, err := txns.GetByIDReadOnly(ctx, id)
	if err != nil {
		t.Fatalf("GetByIDReadOnly() error = %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("Status = %s, want COMPLETED", got.Status)
	}
}

func TestTransactionListExpiredPending(t *testing.T) {
	store := newTestStorage(t)
	wallets := NewWalletRepository(store)
	txns := NewTransactionRepository(store)
	ctx := context.Background()

	w, _ := wallets.GetOrCreate(ctx, "user-1", "96170000000", "USD")

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	store.WithTx(ctx, func(tx *Tx) error {
		expired := &Transaction{
			WalletID: w.ID, Amount: money.MustNewFromString("5.00"), Type: TypeTransferOut,
			Reference: "TRANSFER-aaaa1111", Status: StatusPending,
			ExpiryTime: sqlNullTime(past),
		}
		if err := txns.Insert(ctx, tx, expired); err != nil {
			return err
		}
		notExpired := &Transaction{
			WalletID: w.ID, Amount: money.MustNewFromString("5.00"), Type: TypeTransferOut,
			Reference: "TRANSFER-bbbb2222", Status: StatusPending,
			ExpiryTime: sqlNullTime(future),
		}
		return txns.Insert(ctx, tx, notExpired)
	})

	got, err := txns.ListExpiredPending(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("ListExpiredPending() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ListExpiredPending() returned %d rows, want 1", len(got))
	}
	if got[0].Reference != "TRANSFER-aaaa1111" {
		t.Errorf("Reference = %s, want TRANSFER-aaaa1111", got[0].Reference)
	}
}

func TestTransactionListForUser(t *testing.T) {
	store := newTestStorage(t)
	wallets := NewWalletRepository(store)
	txns := NewTransactionRepository(store)
	ctx := context.Background()

	sender, _ := wallets.GetOrCreate(ctx, "user-1", "96170000000", "USD")
	recipient, _ := wallets.GetOrCreate(ctx, "user-2", "96170000001", "USD")

	store.WithTx(ctx, func(tx *Tx) error {
		out := &Transaction{WalletID: sender.ID, RelatedWalletID: sqlNullString(recipient.ID), Amount: money.MustNewFromString("10.00"), Type: TypeTransferOut, Reference: "TRANSFER-cccc3333", Status: StatusPending}
		if err := txns.Insert(ctx, tx, out); err != nil {
			return err
		}
		in := &Transaction{WalletID: recipient.ID, RelatedWalletID: sqlNullString(sender.ID), Amount: money.MustNewFromString("10.00"), Type: TypeTransferIn, Reference: "TRANSFER-cccc3333", Status: StatusPending}
		return txns.Insert(ctx, tx, in)
	})

	senderTxns, err := txns.ListForUser(ctx, sender.ID, 10, 0)
	if err != nil {
		t.Fatalf("ListForUser(sender) error = %v", err)
	}
	if len(senderTxns) != 2 {
		t.Fatalf("ListForUser(sender) returned %d rows, want 2", len(senderTxns))
	}

	recipientTxns, err := txns.ListForUser(ctx, recipient.ID, 10, 0)
	if err != nil {
		t.Fatalf("ListForUser(recipient) error = %v", err)
	}
	if len(recipientTxns) != 2 {
		t.Fatalf("ListForUser(recipient) returned %d rows, want 2", len(recipientTxns))
	}
}
