package ledger

import (
	"context"
	"testing"

	"github.com/klingon-exchange/walletd/pkg/apperr"
	"github.com/klingon-exchange/walletd/pkg/money"
)

func TestSetWalletActiveGatesTransferAndCashOut(t *testing.T) {
	e := testEngine(t)
	alice := seedWallet(t, e, "alice", "96170000001", "100.00")
	seedWallet(t, e, "bob", "96170000002", "0.00")

	if err := e.SetWalletActive(context.Background(), alice.ID, false); err != nil {
		t.Fatalf("SetWalletActive(false) error = %v", err)
	}

	if _, err := e.Transfer(context.Background(), "alice", "bob", money.MustNewFromString("10.00"), ""); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("Transfer from frozen sender: expected Unauthorized, got %v", err)
	}
	if _, err := e.CashOutRequest(context.Background(), "alice", money.MustNewFromString("10.00")); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("CashOutRequest on frozen wallet: expected Unauthorized, got %v", err)
	}

	if err := e.SetWalletActive(context.Background(), alice.ID, true); err != nil {
		t.Fatalf("SetWalletActive(true) error = %v", err)
	}
	if _, err := e.Transfer(context.Background(), "alice", "bob", money.MustNewFromString("10.00"), ""); err != nil {
		t.Fatalf("Transfer after reactivation should succeed, got %v", err)
	}
}

func TestSetWalletActiveGatesTransferToFrozenRecipient(t *testing.T) {
	e := testEngine(t)
	seedWallet(t, e, "alice", "96170000001", "100.00")
	bob := seedWallet(t, e, "bob", "96170000002", "0.00")

	if err := e.SetWalletActive(context.Background(), bob.ID, false); err != nil {
		t.Fatalf("SetWalletActive(false) error = %v", err)
	}

	if _, err := e.Transfer(context.Background(), "alice", "bob", money.MustNewFromString("10.00"), ""); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("Transfer to frozen recipient: expected Unauthorized, got %v", err)
	}
	if got := balanceOf(t, e, "alice"); got != "100.00" {
		t.Errorf("sender balance = %s, want unchanged 100.00 (hold must not apply on a rolled-back transfer)", got)
	}
}
