package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/klingon-exchange/walletd/internal/notify"
	"github.com/klingon-exchange/walletd/internal/storage"
	"github.com/klingon-exchange/walletd/pkg/money"
)

// testEngine builds an Engine over a temp-dir SQLite store with a running
// Notification Sink, matching the teacher's temp-dir-backed test style.
func testEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	sink := notify.New(64)
	ctx, cancel := context.WithCancel(context.Background())
	go sink.Run(ctx)
	t.Cleanup(func() {
		cancel()
		sink.Stop()
	})

	return New(store, sink, Options{
		TransferExpiry: 24 * time.Hour,
		CashOutExpiry:  30 * time.Minute,
	})
}

// seedWallet creates userID's wallet directly through the repository,
// bypassing the engine's public surface since CreateWallet lives on the
// facade, not the engine.
func seedWallet(t *testing.T, e *Engine, userID, phone, balance string) *storage.Wallet {
	t.Helper()
	w, err := e.wallets.GetOrCreate(context.Background(), userID, phone, "USD")
	if err != nil {
		t.Fatalf("GetOrCreate(%s) error = %v", userID, err)
	}
	if balance != "0" && balance != "0.00" {
		err := e.store.WithTx(context.Background(), func(tx *storage.Tx) error {
			locked, err := e.wallets.GetByUserForUpdate(context.Background(), tx, userID)
			if err != nil {
				return err
			}
			return e.wallets.ApplyDelta(context.Background(), tx, locked, money.MustNewFromString(balance))
		})
		if err != nil {
			t.Fatalf("seed balance for %s error = %v", userID, err)
		}
	}
	return w
}

func balanceOf(t *testing.T, e *Engine, userID string) string {
	t.Helper()
	w, err := e.wallets.GetByUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetByUser(%s) error = %v", userID, err)
	}
	return w.Balance.String()
}
