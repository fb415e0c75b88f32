// Package storage provides persistent storage for the wallet engine using
// SQLite.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage provides persistent storage for the wallet engine.
type Storage struct {
	db     *sql.DB
	dbPath string

	// writeMu serializes atomic units. SQLite grants only one writer at a
	// time regardless of locking mode; BEGIN IMMEDIATE upgrades a
	// transaction to a reserved lock as soon as it starts, but a writer
	// already holding one still blocks new BEGIN IMMEDIATEs on SQLITE_BUSY
	// under load. Serializing here turns that contention into orderly
	// queuing instead of busy-retry loops, and gives every atomic unit the
	// equivalent of SELECT ... FOR UPDATE isolation the engine requires.
	writeMu sync.Mutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New creates a new Storage instance, opening (and initializing, if
// necessary) the SQLite database under cfg.DataDir.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "walletd.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{
		db:     db,
		dbPath: dbPath,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection. Exposed for repositories
// that need to run a read-only query outside an atomic unit.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// Tx is an open atomic unit. Repository methods that mutate state take a
// *Tx as their first argument so that callers compose multiple repository
// calls into one commit-or-rollback unit.
type Tx struct {
	tx *sql.Tx
}

// Raw exposes the underlying *sql.Tx for repository implementations.
func (t *Tx) Raw() *sql.Tx {
	return t.tx
}

// WithTx opens one atomic unit, runs fn against it, and commits on success
// or rolls back on error or panic. Atomic units are serialized across the
// whole Storage instance (see writeMu) so that lock ordering between
// wallets is enough to prevent deadlock — SQLite never grants two writers
// a reserved lock at once regardless.
func (s *Storage) WithTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// initSchema creates all database tables.
func (s *Storage) initSchema() error {
	schema := `
	-- Wallets: one row per user, balance always a non-negative magnitude.
	CREATE TABLE IF NOT EXISTS wallets (
		id TEXT PRIMARY KEY,
		owner_user_id TEXT NOT NULL UNIQUE,
		phone_number TEXT NOT NULL UNIQUE,
		balance TEXT NOT NULL DEFAULT '0',
		currency TEXT NOT NULL DEFAULT 'USD',
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_wallets_phone ON wallets(phone_number);

	-- Transactions: each row is one leg of a money movement. Transfers
	-- produce two rows sharing one reference; deposits, withdrawals, and
	-- cash-outs produce one.
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		wallet_id TEXT NOT NULL,
		related_wallet_id TEXT,
		amount TEXT NOT NULL,
		type TEXT NOT NULL,
		funding_source TEXT,
		reference TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		expiry_time INTEGER,

		UNIQUE (reference, type),
		FOREIGN KEY (wallet_id) REFERENCES wallets(id),
		FOREIGN KEY (related_wallet_id) REFERENCES wallets(id)
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_wallet ON transactions(wallet_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_related_wallet ON transactions(related_wallet_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_status_expiry ON transactions(status, expiry_time);
	CREATE INDEX IF NOT EXISTS idx_transactions_type_status ON transactions(type, status);

	-- Idempotency records: a client-supplied key maps to the first stored
	-- response, bounded by a TTL.
	CREATE TABLE IF NOT EXISTS idempotency_records (
		scope TEXT NOT NULL,
		key TEXT NOT NULL,
		response BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		PRIMARY KEY (scope, key)
	);

	CREATE INDEX IF NOT EXISTS idx_idempotency_scope_expires ON idempotency_records(scope, expires_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
