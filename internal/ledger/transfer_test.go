package ledger

import (
	"context"
	"testing"

	"github.com/klingon-exchange/walletd/internal/storage"
	"github.com/klingon-exchange/walletd/pkg/apperr"
	"github.com/klingon-exchange/walletd/pkg/money"
)

func TestTransferHoldsSenderFundsImmediately(t *testing.T) {
	e := testEngine(t)
	seedWallet(t, e, "alice", "96170000001", "100.00")
	seedWallet(t, e, "bob", "96170000002", "0.00")

	result, err := e.Transfer(context.Background(), "alice", "bob", money.MustNewFromString("50.00"), "")
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}

	if got := balanceOf(t, e, "alice"); got != "50.00" {
		t.Errorf("sender balance = %s, want 50.00 (held immediately)", got)
	}
	if got := balanceOf(t, e, "bob"); got != "0.00" {
		t.Errorf("recipient balance = %s, want 0.00 (not credited until accept)", got)
	}
	if result.OutLeg.Status != storage.StatusPending || result.InLeg.Status != storage.StatusPending {
		t.Errorf("expected both legs PENDING, got out=%s in=%s", result.OutLeg.Status, result.InLeg.Status)
	}
	if result.OutLeg.Reference != result.InLeg.Reference {
		t.Error("both legs must share one reference (Invariant T1)")
	}
	if result.OutLeg.Type != storage.TypeTransferOut || result.InLeg.Type != storage.TypeTransferIn {
		t.Errorf("unexpected leg types: out=%s in=%s", result.OutLeg.Type, result.InLeg.Type)
	}
}

func TestTransferRejectsSelfTransfer(t *testing.T) {
	e := testEngine(t)
	seedWallet(t, e, "alice", "96170000001", "100.00")

	_, err := e.Transfer(context.Background(), "alice", "alice", money.MustNewFromString("10.00"), "")
	if !apperr.Is(err, apperr.KindSelfTransfer) {
		t.Fatalf("expected SelfTransfer, got %v", err)
	}
}

func TestTransferRejectsInsufficientFunds(t *testing.T) {
	e := testEngine(t)
	seedWallet(t, e, "alice", "96170000001", "10.00")
	seedWallet(t, e, "bob", "96170000002", "0.00")

	_, err := e.Transfer(context.Background(), "alice", "bob", money.MustNewFromString("50.00"), "")
	if !apperr.Is(err, apperr.KindInsufficientFunds) {
		t.Fatalf("expected InsufficientFunds, got %v", err)
	}
	if got := balanceOf(t, e, "alice"); got != "10.00" {
		t.Errorf("balance = %s, want unchanged 10.00", got)
	}
}

func TestTransferAcceptCompletesBothLegs(t *testing.T) {
	e := testEngine(t)
	seedWallet(t, e, "alice", "96170000001", "100.00")
	seedWallet(t, e, "bob", "96170000002", "0.00")

	result, err := e.Transfer(context.Background(), "alice", "bob", money.MustNewFromString("50.00"), "")
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}

	if _, err := e.Accept(context.Background(), "bob", result.Reference); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}

	if got := balanceOf(t, e, "alice"); got != "50.00" {
		t.Errorf("sender balance = %s, want 50.00", got)
	}
	if got := balanceOf(t, e, "bob"); got != "50.00" {
		t.Errorf("recipient balance = %s, want 50.00", got)
	}

	outLeg, err := e.txns.GetByIDReadOnly(context.Background(), result.OutLeg.ID)
	if err != nil {
		t.Fatalf("GetByIDReadOnly(out) error = %v", err)
	}
	inLeg, err := e.txns.GetByIDReadOnly(context.Background(), result.InLeg.ID)
	if err != nil {
		t.Fatalf("GetByIDReadOnly(in) error = %v", err)
	}
	if outLeg.Status != storage.StatusCompleted || inLeg.Status != storage.StatusCompleted {
		t.Errorf("expected both legs COMPLETED, got out=%s in=%s", outLeg.Status, inLeg.Status)
	}
}

func TestTransferAcceptRequiresRecipientOwnership(t *testing.T) {
	e := testEngine(t)
	seedWallet(t, e, "alice", "96170000001", "100.00")
	seedWallet(t, e, "bob", "96170000002", "0.00")
	seedWallet(t, e, "mallory", "96170000003", "0.00")

	result, err := e.Transfer(context.Background(), "alice", "bob", money.MustNewFromString("50.00"), "")
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}

	_, err = e.Accept(context.Background(), "mallory", result.Reference)
	if !apperr.Is(err, apperr.KindNotOwner) {
		t.Fatalf("expected NotOwner, got %v", err)
	}
}

func TestTransferRejectRefundsSender(t *testing.T) {
	e := testEngine(t)
	seedWallet(t, e, "alice", "96170000001", "100.00")
	seedWallet(t, e, "bob", "96170000002", "0.00")

	result, err := e.Transfer(context.Background(), "alice", "bob", money.MustNewFromString("50.00"), "")
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}

	if _, err := e.Reject(context.Background(), "bob", result.Reference); err != nil {
		t.Fatalf("Reject() error = %v", err)
	}

	if got := balanceOf(t, e, "alice"); got != "100.00" {
		t.Errorf("sender balance = %s, want refunded 100.00", got)
	}
	if got := balanceOf(t, e, "bob"); got != "0.00" {
		t.Errorf("recipient balance = %s, want 0.00", got)
	}
}

func TestTransferAcceptTwiceFailsSecondTime(t *testing.T) {
	e := testEngine(t)
	seedWallet(t, e, "alice", "96170000001", "100.00")
	seedWallet(t, e, "bob", "96170000002", "0.00")

	result, err := e.Transfer(context.Background(), "alice", "bob", money.MustNewFromString("50.00"), "")
	if err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	if _, err := e.Accept(context.Background(), "bob", result.Reference); err != nil {
		t.Fatalf("first Accept() error = %v", err)
	}

	if _, err := e.Accept(context.Background(), "bob", result.Reference); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected second Accept() to fail NotFound (not pending), got %v", err)
	}
}
