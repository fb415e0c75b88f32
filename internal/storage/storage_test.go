package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	tmpDir := t.TempDir()

	cfg := &Config{DataDir: tmpDir}
	store, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := &Config{DataDir: tmpDir}
	store, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	dbPath := filepath.Join(tmpDir, "walletd.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}

	if store.DB() == nil {
		t.Error("DB() returned nil")
	}
}

func TestNewWithTildeExpansion(t *testing.T) {
	home, _ := os.UserHomeDir()
	expanded := expandPath("~/.test")
	expected := filepath.Join(home, ".test")

	if expanded != expected {
		t.Errorf("expandPath(~/.test) = %s, want %s", expanded, expected)
	}
}

func TestStorageSchema(t *testing.T) {
	store := newTestStorage(t)

	for _, table := range []string{"wallets", "transactions", "idempotency_records"} {
		var name string
		err := store.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("%s table not found: %v", table, err)
		}
	}
}

func TestWithTxCommit(t *testing.T) {
	store := newTestStorage(t)

	err := store.WithTx(context.Background(), func(tx *Tx) error {
		_, err := tx.Raw().Exec(
			"INSERT INTO wallets (id, owner_user_id, phone_number, balance, currency, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
			"w1", "u1", "96170000000", "100.00", "USD", 0, 0,
		)
		return err
	})
	if err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}

	var balance string
	if err := store.DB().QueryRow("SELECT balance FROM wallets WHERE id = ?", "w1").Scan(&balance); err != nil {
		t.Fatalf("expected committed row, query failed: %v", err)
	}
	if balance != "100.00" {
		t.Errorf("balance = %s, want 100.00", balance)
	}
}

func TestWithTxRollback(t *testing.T) {
	store := newTestStorage(t)
	boom := errors.New("boom")

	err := store.WithTx(context.Background(), func(tx *Tx) error {
		if _, err := tx.Raw().Exec(
			"INSERT INTO wallets (id, owner_user_id, phone_number, balance, currency, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
			"w2", "u2", "96170000001", "100.00", "USD", 0, 0,
		); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx() error = %v, want %v", err, boom)
	}

	var count int
	if err := store.DB().QueryRow("SELECT COUNT(*) FROM wallets WHERE id = ?", "w2").Scan(&count); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected rollback to leave no row, found %d", count)
	}
}
