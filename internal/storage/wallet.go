package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/klingon-exchange/walletd/pkg/apperr"
	"github.com/klingon-exchange/walletd/pkg/money"
)

// Wallet is one user's wallet row.
type Wallet struct {
	ID          string
	OwnerUserID string
	PhoneNumber string
	Balance     money.Amount
	Currency    string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// WalletRepository is the Wallet Repository (spec §4.1).
type WalletRepository struct {
	store *Storage
}

// NewWalletRepository builds a WalletRepository over store.
func NewWalletRepository(store *Storage) *WalletRepository {
	return &WalletRepository{store: store}
}

// GetOrCreate returns the wallet owned by userID, creating one bound to
// phoneNumber if none exists. Idempotent. Fails with apperr.KindDuplicatePhone
// if phoneNumber is already bound to a different user's wallet.
func (r *WalletRepository) GetOrCreate(ctx context.Context, userID, phoneNumber, currency string) (*Wallet, error) {
	var result *Wallet
	err := r.store.WithTx(ctx, func(tx *Tx) error {
		w, err := r.getByUser(tx, userID)
		if err == nil {
			result = w
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		if owner, err := r.ownerOfPhone(tx, phoneNumber); err == nil && owner != userID {
			return apperr.New(apperr.KindDuplicatePhone, "phone number is already bound to another wallet")
		} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		now := time.Now()
		w = &Wallet{
			ID:          uuid.New().String(),
			OwnerUserID: userID,
			PhoneNumber: phoneNumber,
			Balance:     money.Zero,
			Currency:    currency,
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		_, err = tx.Raw().ExecContext(ctx,
			`INSERT INTO wallets (id, owner_user_id, phone_number, balance, currency, is_active, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			w.ID, w.OwnerUserID, w.PhoneNumber, w.Balance.Raw(), w.Currency, boolToInt(w.IsActive), w.CreatedAt.Unix(), w.UpdatedAt.Unix(),
		)
		if err != nil {
			return err
		}
		result = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetByUserForUpdate loads userID's wallet, locking its row for the
// duration of tx. Must be called inside an open atomic unit.
func (r *WalletRepository) GetByUserForUpdate(ctx context.Context, tx *Tx, userID string) (*Wallet, error) {
	row := tx.Raw().QueryRowContext(ctx,
		`SELECT id, owner_user_id, phone_number, balance, currency, is_active, created_at, updated_at
		 FROM wallets WHERE owner_user_id = ?`, userID)
	return scanWallet(row)
}

// GetByIDForUpdate loads the wallet with the given id, locking its row for
// the duration of tx. Must be called inside an open atomic unit.
func (r *WalletRepository) GetByIDForUpdate(ctx context.Context, tx *Tx, id string) (*Wallet, error) {
	row := tx.Raw().QueryRowContext(ctx,
		`SELECT id, owner_user_id, phone_number, balance, currency, is_active, created_at, updated_at
		 FROM wallets WHERE id = ?`, id)
	return scanWallet(row)
}

// GetByPhoneForUpdate loads the wallet bound to phoneNumber, locking its
// row for the duration of tx. Must be called inside an open atomic unit.
func (r *WalletRepository) GetByPhoneForUpdate(ctx context.Context, tx *Tx, phoneNumber string) (*Wallet, error) {
	row := tx.Raw().QueryRowContext(ctx,
		`SELECT id, owner_user_id, phone_number, balance, currency, is_active, created_at, updated_at
		 FROM wallets WHERE phone_number = ?`, phoneNumber)
	return scanWallet(row)
}

// GetByUser loads userID's wallet without taking a lock, for read paths
// outside an atomic unit.
func (r *WalletRepository) GetByUser(ctx context.Context, userID string) (*Wallet, error) {
	row := r.store.db.QueryRowContext(ctx,
		`SELECT id, owner_user_id, phone_number, balance, currency, is_active, created_at, updated_at
		 FROM wallets WHERE owner_user_id = ?`, userID)
	return scanWallet(row)
}

// GetByPhone loads the wallet bound to phoneNumber without taking a lock,
// for read paths outside an atomic unit (e.g. resolving a webhook's
// recipient phone number to a user id before invoking Deposit).
func (r *WalletRepository) GetByPhone(ctx context.Context, phoneNumber string) (*Wallet, error) {
	row := r.store.db.QueryRowContext(ctx,
		`SELECT id, owner_user_id, phone_number, balance, currency, is_active, created_at, updated_at
		 FROM wallets WHERE phone_number = ?`, phoneNumber)
	return scanWallet(row)
}

// GetByID loads the wallet with the given id without taking a lock, for
// read paths outside an atomic unit (e.g. resolving a notification
// recipient's contact details after a commit).
func (r *WalletRepository) GetByID(ctx context.Context, id string) (*Wallet, error) {
	row := r.store.db.QueryRowContext(ctx,
		`SELECT id, owner_user_id, phone_number, balance, currency, is_active, created_at, updated_at
		 FROM wallets WHERE id = ?`, id)
	return scanWallet(row)
}

// OwnerUserID returns the owning user id for walletID, without taking a
// lock. Used by callers that only need to know which user's cached
// listings to invalidate, not the wallet's current balance.
func (r *WalletRepository) OwnerUserID(ctx context.Context, walletID string) (string, error) {
	var owner string
	err := r.store.db.QueryRowContext(ctx, `SELECT owner_user_id FROM wallets WHERE id = ?`, walletID).Scan(&owner)
	return owner, err
}

func (r *WalletRepository) getByUser(tx *Tx, userID string) (*Wallet, error) {
	row := tx.Raw().QueryRow(
		`SELECT id, owner_user_id, phone_number, balance, currency, is_active, created_at, updated_at
		 FROM wallets WHERE owner_user_id = ?`, userID)
	return scanWallet(row)
}

func (r *WalletRepository) ownerOfPhone(tx *Tx, phoneNumber string) (string, error) {
	var owner string
	err := tx.Raw().QueryRow(`SELECT owner_user_id FROM wallets WHERE phone_number = ?`, phoneNumber).Scan(&owner)
	return owner, err
}

// ApplyDelta adds signedAmount (which may be negative) to w's balance and
// persists the result. w must have been loaded for update inside tx.
// Fails with apperr.KindInsufficientFunds if the resulting balance would be
// negative (Invariant W1).
func (r *WalletRepository) ApplyDelta(ctx context.Context, tx *Tx, w *Wallet, signedAmount money.Amount) error {
	newBalance := w.Balance.Add(signedAmount)
	if newBalance.IsNegative() {
		return apperr.New(apperr.KindInsufficientFunds, "balance cannot go negative")
	}

	now := time.Now()
	res, err := tx.Raw().ExecContext(ctx,
		`UPDATE wallets SET balance = ?, updated_at = ? WHERE id = ?`,
		newBalance.Raw(), now.Unix(), w.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return apperr.New(apperr.KindNotFound, "wallet not found")
	}

	w.Balance = newBalance
	w.UpdatedAt = now
	return nil
}

// SetActive flips a wallet's is_active flag inside tx. w must have been
// loaded for update inside tx. Used by the admin-style wallet freeze
// operation (spec.md §9 SUPPLEMENTED FEATURES item #3).
func (r *WalletRepository) SetActive(ctx context.Context, tx *Tx, w *Wallet, active bool) error {
	now := time.Now()
	res, err := tx.Raw().ExecContext(ctx,
		`UPDATE wallets SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), now.Unix(), w.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return apperr.New(apperr.KindNotFound, "wallet not found")
	}

	w.IsActive = active
	w.UpdatedAt = now
	return nil
}

func scanWallet(row *sql.Row) (*Wallet, error) {
	var (
		w             Wallet
		balance       string
		isActive      int
		createdAt     int64
		updatedAt     int64
	)
	if err := row.Scan(&w.ID, &w.OwnerUserID, &w.PhoneNumber, &balance, &w.Currency, &isActive, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	amount, err := money.NewFromString(balance)
	if err != nil {
		return nil, err
	}
	w.Balance = amount
	w.IsActive = isActive != 0
	w.CreatedAt = time.Unix(createdAt, 0)
	w.UpdatedAt = time.Unix(updatedAt, 0)
	return &w, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
